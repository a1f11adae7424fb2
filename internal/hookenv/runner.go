// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package hookenv

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/juju/errors"
)

// Runner runs a hook tool and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs hook tools as child processes. The tools are found on
// the PATH the unit agent sets up for hooks.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	logger.Tracef("running %s %s", name, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, errors.Annotatef(err, "running %s: %s", name, msg)
		}
		return nil, errors.Annotatef(err, "running %s", name)
	}
	return out, nil
}
