// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo"
	"gopkg.in/yaml.v3"
)

const (
	layerName           = "vault-kv"
	layerFilename       = "layer.yaml"
	envUnitStateDB      = "UNIT_STATE_DB"
	envLoggingConfig    = "JUJU_LOGGING_CONFIG"
	defaultLoggingLevel = "WARNING"
)

type globalOptions struct {
	dbPath        string
	backendFormat string
	layerYAML     string
	logLevel      string
	metricsFile   string
	timeout       time.Duration
	lockTimeout   time.Duration
	attempts      int
	retryDelay    time.Duration
}

func parseGlobalOptions(args []string, stderr io.Writer) (globalOptions, []string, error) {
	var opts globalOptions
	fs := gnuflag.NewFlagSet("vault-kv", gnuflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { printUsage(stderr) }
	fs.StringVar(&opts.dbPath, "db", os.Getenv(envUnitStateDB), "path of the unit data database (default $CHARM_DIR/.unit-state.db)")
	fs.StringVar(&opts.backendFormat, "backend-format", "", "secrets backend name format, overriding the layer option")
	fs.StringVar(&opts.layerYAML, "layer-yaml", "", "path of the charm's layer.yaml (default $CHARM_DIR/layer.yaml)")
	fs.StringVar(&opts.logLevel, "log-level", os.Getenv(envLoggingConfig), "logging level or loggo specification")
	fs.StringVar(&opts.metricsFile, "metrics-file", "", "write Vault request metrics to this file in the Prometheus text format")
	fs.DurationVar(&opts.timeout, "timeout", time.Minute, "timeout of each Vault request")
	fs.DurationVar(&opts.lockTimeout, "lock-timeout", time.Minute, "how long to wait for other vault-kv commands of this machine")
	fs.IntVar(&opts.attempts, "attempts", 3, "number of times to try connecting to an unavailable Vault")
	fs.DurationVar(&opts.retryDelay, "retry-delay", 2*time.Second, "delay between connection attempts")
	if err := fs.Parse(false, args); err != nil {
		return globalOptions{}, nil, err
	}
	if opts.attempts < 1 {
		return globalOptions{}, nil, errors.NotValidf("attempts %d", opts.attempts)
	}
	if opts.retryDelay <= 0 {
		return globalOptions{}, nil, errors.NotValidf("retry delay %v", opts.retryDelay)
	}
	return opts, fs.Args(), nil
}

// loggingSpec turns a bare level into a loggo specification for the
// root logger.
func loggingSpec(level string) string {
	if level == "" {
		return "<root>=" + defaultLoggingLevel
	}
	if strings.Contains(level, "=") {
		return level
	}
	return "<root>=" + strings.ToUpper(level)
}

func setupLogging(level string, w io.Writer) error {
	if _, err := loggo.ReplaceDefaultWriter(loggo.NewSimpleWriter(w, loggo.DefaultFormatter)); err != nil {
		return errors.Trace(err)
	}
	if err := loggo.ConfigureLoggers(loggingSpec(level)); err != nil {
		return errors.Annotate(err, "configuring logging")
	}
	return nil
}

// layerOptions are the vault-kv options of a charm's layer.yaml.
type layerOptions struct {
	BackendFormat string `yaml:"backend_format"`
}

type layerFile struct {
	Options map[string]yaml.Node `yaml:"options"`
}

// readLayerOptions reads the vault-kv options from the layer.yaml at
// path. A missing file or section gives the default options.
func readLayerOptions(path string) (layerOptions, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Debugf("no layer options at %q", path)
		return layerOptions{}, nil
	}
	if err != nil {
		return layerOptions{}, errors.Trace(err)
	}
	return parseLayerOptions(data)
}

func parseLayerOptions(data []byte) (layerOptions, error) {
	var file layerFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return layerOptions{}, errors.NewNotValid(err, "parsing layer.yaml")
	}
	node, ok := file.Options[layerName]
	if !ok {
		return layerOptions{}, nil
	}
	var opts layerOptions
	if err := node.Decode(&opts); err != nil {
		return layerOptions{}, errors.NewNotValid(err, "parsing "+layerName+" layer options")
	}
	return opts, nil
}
