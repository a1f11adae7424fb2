// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"gopkg.in/yaml.v3"

	"github.com/juju/vault-kv/vaultkv"
)

const errUsage = errors.ConstError("usage error")

func usageErrorf(format string, args ...interface{}) error {
	return errors.WithType(errors.Errorf(format, args...), errUsage)
}

type command struct {
	name    string
	args    string
	purpose string
	// waitOK commands succeed while Vault is not ready.
	waitOK bool
	run    func(ctx context.Context, a *app, args []string) error
	// exec, if set, replaces the single runCommand call.
	exec func(ctx context.Context, opts globalOptions, args []string, stdout io.Writer, d deps) error
}

var commands = []command{{
	name:    "hook",
	args:    "[-- <handler> [<arg>...]]",
	purpose: "run a whole hook, committing only if handler succeeds",
	waitOK:  true,
	exec:    execHook,
}, {
	name:    "start",
	purpose: "run the vault-kv handlers and set the app-kv flags",
	waitOK:  true,
	run:     runStart,
}, {
	name:    "exit",
	args:    "[--failed]",
	purpose: "notify peers and commit app-kv changes after a successful hook",
	waitOK:  true,
	run:     runExit,
}, {
	name:    "get",
	args:    "[--app] [<key>]",
	purpose: "print the JSON value of key, or every value",
	run:     runGet,
}, {
	name:    "set",
	args:    "[--app] <key>=<json-value>",
	purpose: "store a JSON value in Vault",
	run:     runSet,
}, {
	name:    "changed",
	args:    "[<key>]",
	purpose: "report application data changed since the last hook",
	run:     runChanged,
}, {
	name:    "config",
	purpose: "print the Vault access config",
	run:     runConfig,
}}

func findCommand(name string) (command, bool) {
	for _, cmd := range commands {
		if cmd.name == name {
			return cmd, true
		}
	}
	return command{}, false
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "usage: vault-kv [options] <command> [args]\n\ncommands:\n")
	for _, cmd := range commands {
		fmt.Fprintf(w, "    %-8s %s\n", cmd.name, cmd.purpose)
	}
}

// runCommand runs cmd with a fresh app. Unit data is flushed only when
// the command succeeds or is waiting for Vault.
func runCommand(ctx context.Context, cmd command, opts globalOptions, args []string, stdout io.Writer, d deps) (err error) {
	a, err := newApp(ctx, opts, d, stdout)
	if err != nil {
		return errors.Trace(err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil && err == nil {
			err = errors.Trace(closeErr)
		}
	}()

	err = cmd.run(ctx, a, args)
	if metricsErr := a.writeMetrics(); metricsErr != nil {
		logger.Warningf("%v", metricsErr)
	}
	if err != nil && !(cmd.waitOK && errors.Is(err, vaultkv.NotReady)) {
		return errors.Trace(err)
	}
	if flushErr := a.storage.Flush(); flushErr != nil {
		return errors.Annotate(flushErr, "saving unit data")
	}
	return errors.Trace(err)
}

func newFlagSet(name string) *gnuflag.FlagSet {
	fs := gnuflag.NewFlagSet(name, gnuflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseArgs(fs *gnuflag.FlagSet, args []string) error {
	if err := fs.Parse(true, args); err != nil {
		if errors.Is(err, gnuflag.ErrHelp) {
			return err
		}
		return usageErrorf("%v", err)
	}
	return nil
}

func (cmd command) invoke(ctx context.Context, opts globalOptions, args []string, stdout io.Writer, d deps) error {
	if cmd.exec != nil {
		return cmd.exec(ctx, opts, args, stdout, d)
	}
	return runCommand(ctx, cmd, opts, args, stdout, d)
}

// execHook runs a whole hook. Without a handler the cycle has no work of
// its own and is committed straight away. With a handler, the handler
// runs between the start and exit phases with the unit data saved and
// unlocked, so that it can read the flags and run vault-kv itself; the
// cycle is committed only if the handler succeeds.
func execHook(ctx context.Context, opts globalOptions, args []string, stdout io.Writer, d deps) error {
	if len(args) == 0 {
		return runCommand(ctx, command{name: "hook", waitOK: true, run: runHook}, opts, nil, stdout, d)
	}
	if args[0] != "--" || len(args) == 1 {
		return usageErrorf("unrecognized args: %q", args)
	}
	handler := args[1:]

	startErr := runCommand(ctx, command{name: "start", waitOK: true, run: runStart}, opts, nil, stdout, d)
	if startErr != nil && !errors.Is(startErr, vaultkv.NotReady) {
		return errors.Annotate(startErr, "starting hook")
	}

	handlerErr := d.handler(ctx, handler[0], handler[1:]...)
	if handlerErr != nil {
		handlerErr = errors.Annotatef(handlerErr, "running %s", handler[0])
	}

	exit := func(ctx context.Context, a *app, _ []string) error {
		return errors.Trace(a.driver.Exit(ctx, handlerErr == nil))
	}
	exitErr := runCommand(ctx, command{name: "exit", waitOK: true, run: exit}, opts, nil, stdout, d)
	if handlerErr != nil {
		if exitErr != nil {
			logger.Errorf("finishing failed hook: %v", exitErr)
		}
		return handlerErr
	}
	if exitErr != nil {
		return errors.Annotate(exitErr, "finishing hook")
	}
	return startErr
}

func runHook(ctx context.Context, a *app, args []string) error {
	if err := a.driver.Reconcile(ctx); err != nil {
		return errors.Trace(err)
	}
	return a.driver.RunCycle(ctx, func(context.Context) error { return nil })
}

func runStart(ctx context.Context, a *app, args []string) error {
	if len(args) > 0 {
		return usageErrorf("unrecognized args: %q", args)
	}
	if err := a.driver.Reconcile(ctx); err != nil {
		return errors.Trace(err)
	}
	return errors.Annotate(a.driver.Start(ctx), "starting hook")
}

func runExit(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("exit")
	failed := fs.Bool("failed", false, "the hook failed, commit nothing")
	if err := parseArgs(fs, args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return usageErrorf("unrecognized args: %q", fs.Args())
	}
	return errors.Annotate(a.driver.Exit(ctx, !*failed), "finishing hook")
}

type kvStore interface {
	Get(key string) (interface{}, bool)
	Set(ctx context.Context, key string, value interface{}) error
	Items() map[string]interface{}
}

func (a *app) store(ctx context.Context, app bool) (kvStore, error) {
	if app {
		store, err := a.appStore(ctx)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return store, nil
	}
	store, err := a.unitStore(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return store, nil
}

func runGet(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("get")
	appScope := fs.Bool("app", false, "read the application store")
	if err := parseArgs(fs, args); err != nil {
		return err
	}
	if fs.NArg() > 1 {
		return usageErrorf("unrecognized args: %q", fs.Args()[1:])
	}
	store, err := a.store(ctx, *appScope)
	if err != nil {
		return errors.Trace(err)
	}
	var value interface{}
	if fs.NArg() == 0 {
		value = store.Items()
	} else {
		key := fs.Arg(0)
		var ok bool
		if value, ok = store.Get(key); !ok {
			return errors.NotFoundf("key %q", key)
		}
	}
	return writeJSON(a.stdout, value)
}

func runSet(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("set")
	appScope := fs.Bool("app", false, "write to the application store")
	if err := parseArgs(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageErrorf("expected exactly one <key>=<json-value>")
	}
	key, raw, ok := strings.Cut(fs.Arg(0), "=")
	if !ok || key == "" {
		return usageErrorf("expected <key>=<json-value>, got %q", fs.Arg(0))
	}
	value, err := decodeJSON(raw)
	if err != nil {
		return usageErrorf("value of %q is not valid JSON: %v", key, err)
	}
	if *appScope {
		leader, err := a.tools.IsLeader(ctx)
		if err != nil {
			return errors.Trace(err)
		}
		if !leader {
			logger.Warningf("setting %q on a non-leader unit will not wake the other units", key)
		}
	}
	store, err := a.store(ctx, *appScope)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(store.Set(ctx, key, value))
}

func runChanged(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("changed")
	if err := parseArgs(fs, args); err != nil {
		return err
	}
	if fs.NArg() > 1 {
		return usageErrorf("unrecognized args: %q", fs.Args()[1:])
	}
	store, err := a.appStore(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if fs.NArg() == 1 {
		_, err := fmt.Fprintln(a.stdout, store.IsChanged(fs.Arg(0)))
		return errors.Trace(err)
	}
	for _, key := range store.ChangedKeys() {
		if _, err := fmt.Fprintln(a.stdout, key); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func runConfig(ctx context.Context, a *app, args []string) error {
	if len(args) > 0 {
		return usageErrorf("unrecognized args: %q", args)
	}
	cfg, err := a.config.Config(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Trace(err)
	}
	_, err = a.stdout.Write(data)
	return errors.Trace(err)
}

func decodeJSON(raw string) (interface{}, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var value interface{}
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data")
	}
	return value, nil
}

func writeJSON(w io.Writer, value interface{}) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(value); err != nil {
		return errors.Trace(err)
	}
	_, err := w.Write(buf.Bytes())
	return errors.Trace(err)
}
