// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package hookenv

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/juju/errors"
)

const formatJSON = "--format=json"

// Tools runs the Juju hook tools used by vault-kv.
type Tools struct {
	runner Runner
}

// NewTools returns Tools running hook tools with runner.
func NewTools(runner Runner) *Tools {
	return &Tools{runner: runner}
}

func (t *Tools) runJSON(ctx context.Context, out interface{}, name string, args ...string) error {
	data, err := t.runner.Run(ctx, name, append([]string{formatJSON}, args...)...)
	if err != nil {
		return errors.Trace(err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Annotatef(err, "parsing %s output", name)
	}
	return nil
}

// IsLeader reports whether the local unit is the application leader.
func (t *Tools) IsLeader(ctx context.Context) (bool, error) {
	var leader bool
	if err := t.runJSON(ctx, &leader, "is-leader"); err != nil {
		return false, errors.Trace(err)
	}
	return leader, nil
}

// LeaderSet publishes settings to every unit of the application. Only the
// leader may call it.
func (t *Tools) LeaderSet(ctx context.Context, settings map[string]string) error {
	if len(settings) == 0 {
		return nil
	}
	_, err := t.runner.Run(ctx, "leader-set", keyValues(settings)...)
	return errors.Trace(err)
}

// RelationIDs returns the ids of the relations established on endpoint.
func (t *Tools) RelationIDs(ctx context.Context, endpoint string) ([]string, error) {
	var ids []string
	if err := t.runJSON(ctx, &ids, "relation-ids", endpoint); err != nil {
		return nil, errors.Trace(err)
	}
	return ids, nil
}

// RelationList returns the remote units that have joined relationID.
func (t *Tools) RelationList(ctx context.Context, relationID string) ([]string, error) {
	var units []string
	if err := t.runJSON(ctx, &units, "relation-list", "-r", relationID); err != nil {
		return nil, errors.Trace(err)
	}
	return units, nil
}

// RelationGet returns the settings unit published on relationID.
func (t *Tools) RelationGet(ctx context.Context, relationID, unit string) (map[string]string, error) {
	var settings map[string]string
	if err := t.runJSON(ctx, &settings, "relation-get", "-r", relationID, "-", unit); err != nil {
		return nil, errors.Trace(err)
	}
	if settings == nil {
		settings = map[string]string{}
	}
	return settings, nil
}

// RelationSet publishes the local unit's settings on relationID.
func (t *Tools) RelationSet(ctx context.Context, relationID string, settings map[string]string) error {
	if len(settings) == 0 {
		return nil
	}
	args := append([]string{"-r", relationID}, keyValues(settings)...)
	_, err := t.runner.Run(ctx, "relation-set", args...)
	return errors.Trace(err)
}

// IngressAddress returns the address other applications should use to
// reach the local unit over endpoint.
func (t *Tools) IngressAddress(ctx context.Context, endpoint string) (string, error) {
	var address string
	if err := t.runJSON(ctx, &address, "network-get", endpoint, "--ingress-address"); err != nil {
		return "", errors.Trace(err)
	}
	return address, nil
}

func keyValues(settings map[string]string) []string {
	args := make([]string, 0, len(settings))
	for _, k := range sortedKeys(settings) {
		args = append(args, fmt.Sprintf("%s=%s", k, settings[k]))
	}
	return args
}
