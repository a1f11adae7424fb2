// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/mutex/v2"
	"github.com/juju/retry"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/juju/vault-kv/internal/hookenv"
	"github.com/juju/vault-kv/internal/reactive"
	"github.com/juju/vault-kv/internal/unitdata"
	"github.com/juju/vault-kv/internal/vault"
	"github.com/juju/vault-kv/vaultkv"
)

const (
	lockName  = "vault-kv-unitdata"
	lockDelay = 250 * time.Millisecond
)

// deps are the outside world the commands act on.
type deps struct {
	environ     func() (*hookenv.Environment, error)
	runner      hookenv.Runner
	exchanger   vaultkv.TokenExchanger
	opener      vaultkv.SessionOpener
	clock       clock.Clock
	acquireLock func(mutex.Spec) (func(), error)
	handler     func(ctx context.Context, name string, args ...string) error
}

func defaultDeps() deps {
	return deps{
		environ:     hookenv.EnvironmentFromOS,
		runner:      hookenv.ExecRunner{},
		clock:       clock.WallClock,
		acquireLock: acquireMutex,
		handler:     runHandler,
	}
}

// runHandler runs a hook handler attached to our standard streams.
func runHandler(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return errors.Trace(cmd.Run())
}

func acquireMutex(spec mutex.Spec) (func(), error) {
	releaser, err := mutex.Acquire(spec)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return releaser.Release, nil
}

// app holds the components a command runs with.
type app struct {
	opts   globalOptions
	clock  clock.Clock
	stdout io.Writer

	env      *hookenv.Environment
	tools    *hookenv.Tools
	storage  *unitdata.Storage
	config   *vaultkv.ConfigProvider
	registry *vaultkv.Registry
	driver   *reactive.Driver
	metrics  *vault.Collector
	release  func()
}

func newApp(ctx context.Context, opts globalOptions, d deps, stdout io.Writer) (_ *app, err error) {
	env, err := d.environ()
	if err != nil {
		return nil, errors.Annotate(err, "reading hook environment")
	}

	backendFormat := opts.backendFormat
	if backendFormat == "" {
		layerPath := opts.layerYAML
		if layerPath == "" {
			layerPath = filepath.Join(env.CharmDir(), layerFilename)
		}
		layerOpts, err := readLayerOptions(layerPath)
		if err != nil {
			return nil, errors.WithType(errors.Annotatef(err, "reading %q", layerPath), vaultkv.Misconfiguration)
		}
		backendFormat = layerOpts.BackendFormat
	}

	clk := d.clock
	if clk == nil {
		clk = clock.WallClock
	}
	release, err := d.acquireLock(mutex.Spec{
		Name:    lockName,
		Clock:   clk,
		Delay:   lockDelay,
		Timeout: opts.lockTimeout,
		Cancel:  ctx.Done(),
	})
	if err != nil {
		return nil, errors.Annotate(err, "acquiring unit data lock")
	}
	defer func() {
		if err != nil {
			release()
		}
	}()

	dbPath := opts.dbPath
	if dbPath == "" {
		dbPath = filepath.Join(env.CharmDir(), unitdata.DefaultFilename)
	}
	storage, err := unitdata.Open(dbPath)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer func() {
		if err != nil {
			_ = storage.Close()
		}
	}()

	metrics := vault.NewMetricsCollector()
	vaultOpts := []vault.Option{
		vault.WithMetrics(metrics),
		vault.WithTimeout(opts.timeout),
	}
	exchanger := d.exchanger
	if exchanger == nil {
		exchanger = vault.NewExchanger(vaultOpts...)
	}
	opener := d.opener
	if opener == nil {
		opener = vault.NewOpener(vaultOpts...)
	}

	tools := hookenv.NewTools(d.runner)
	endpoint := hookenv.NewVaultEndpoint(tools, env)
	config, err := vaultkv.NewConfigProvider(vaultkv.ConfigProviderParams{
		Endpoint:      endpoint,
		Identity:      env,
		SecretIDs:     vaultkv.NewSecretIDResolver(storage, exchanger),
		BackendFormat: backendFormat,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	registry, err := vaultkv.NewRegistry(vaultkv.RegistryParams{
		Config:   config,
		Opener:   opener,
		Identity: env,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	a := &app{
		opts:     opts,
		clock:    clk,
		stdout:   stdout,
		env:      env,
		tools:    tools,
		storage:  storage,
		config:   config,
		registry: registry,
		metrics:  metrics,
		release:  release,
	}
	a.driver, err = reactive.NewDriver(reactive.Config{
		Endpoint:   endpoint,
		Config:     config,
		AppKV:      retryingSource{a: a},
		Leadership: tools,
		State:      storage,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return a, nil
}

// Close discards unflushed unit data and releases the lock.
func (a *app) Close() error {
	err := a.storage.Close()
	a.release()
	return errors.Trace(err)
}

// retry calls f until it succeeds or fails with anything other than an
// unavailable Vault.
func (a *app) retry(ctx context.Context, what string, f func() error) error {
	err := retry.Call(retry.CallArgs{
		Func: f,
		IsFatalError: func(err error) bool {
			return !errors.Is(err, vaultkv.BackendUnavailable)
		},
		NotifyFunc: func(err error, attempt int) {
			logger.Debugf("%s, attempt %d: %v", what, attempt, err)
		},
		Attempts: a.opts.attempts,
		Delay:    a.opts.retryDelay,
		Clock:    a.clock,
		Stop:     ctx.Done(),
	})
	if err != nil {
		return errors.Trace(retry.LastError(err))
	}
	return nil
}

func (a *app) unitStore(ctx context.Context) (*vaultkv.Store, error) {
	var store *vaultkv.Store
	err := a.retry(ctx, "loading unit store", func() error {
		var err error
		store, err = a.registry.UnitStore(ctx)
		return err
	})
	return store, errors.Trace(err)
}

func (a *app) appStore(ctx context.Context) (*vaultkv.AppStore, error) {
	var store *vaultkv.AppStore
	err := a.retry(ctx, "loading app store", func() error {
		var err error
		store, err = a.registry.AppStore(ctx)
		return err
	})
	return store, errors.Trace(err)
}

type retryingSource struct {
	a *app
}

// AppKV implements reactive.AppKVSource.
func (s retryingSource) AppKV(ctx context.Context) (reactive.AppKV, error) {
	store, err := s.a.appStore(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return store, nil
}

// writeMetrics writes the Vault request metrics to the metrics file, if
// one was given.
func (a *app) writeMetrics() error {
	if a.opts.metricsFile == "" {
		return nil
	}
	registry := prometheus.NewRegistry()
	if err := registry.Register(a.metrics); err != nil {
		return errors.Trace(err)
	}
	if err := prometheus.WriteToTextfile(a.opts.metricsFile, registry); err != nil {
		return errors.Annotatef(err, "writing metrics to %q", a.opts.metricsFile)
	}
	return nil
}
