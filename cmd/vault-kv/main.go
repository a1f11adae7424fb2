// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo"

	"github.com/juju/vault-kv/vaultkv"
)

var logger = loggo.GetLogger("juju.cmd.vaultkv")

const (
	// exitError is returned when a command fails.
	exitError = 1
	// exitUsage is returned when vault-kv is run in an invalid way.
	exitUsage = 2
	// exitNotReady is returned by data commands run before Vault is
	// ready.
	exitNotReady = 3
	// exitPanic is returned when we exit due to an unhandled panic.
	exitPanic = 4
)

func main() {
	os.Exit(Main(os.Args))
}

// Main is not redundant with main(), because it provides an entry point
// for testing with arbitrary command line arguments.
func Main(args []string) int {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			buf = buf[:runtime.Stack(buf, false)]
			logger.Criticalf("Unhandled panic: \n%v\n%s", r, buf)
			os.Exit(exitPanic)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return run(ctx, args[1:], os.Stdout, os.Stderr, defaultDeps())
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, d deps) int {
	opts, rest, err := parseGlobalOptions(args, stderr)
	if errors.Is(err, gnuflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR %v\n", err)
		return exitUsage
	}
	if err := setupLogging(opts.logLevel, stderr); err != nil {
		fmt.Fprintf(stderr, "ERROR %v\n", err)
		return exitUsage
	}
	if len(rest) == 0 {
		fmt.Fprintf(stderr, "ERROR no command specified\n")
		printUsage(stderr)
		return exitUsage
	}
	cmd, ok := findCommand(rest[0])
	if !ok {
		fmt.Fprintf(stderr, "ERROR unrecognized command: vault-kv %s\n", rest[0])
		return exitUsage
	}

	err = cmd.invoke(ctx, opts, rest[1:], stdout, d)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, gnuflag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprintf(stderr, "ERROR %v\n", err)
		fmt.Fprintf(stderr, "usage: vault-kv %s %s\n", cmd.name, cmd.args)
		return exitUsage
	case errors.Is(err, vaultkv.NotReady):
		if cmd.waitOK {
			fmt.Fprintf(stderr, "waiting for vault: %v\n", err)
			return 0
		}
		fmt.Fprintf(stderr, "ERROR vault not ready: %v\n", err)
		return exitNotReady
	default:
		logger.Debugf("%s failed: %s", cmd.name, errors.ErrorStack(err))
		fmt.Fprintf(stderr, "ERROR %v\n", err)
		return exitError
	}
}
