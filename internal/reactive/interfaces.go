// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package reactive

import (
	"context"

	"github.com/juju/collections/set"

	"github.com/juju/vault-kv/vaultkv"
)

// Endpoint is the part of the vault-kv relation the driver acts on.
type Endpoint interface {
	Joined(ctx context.Context) (bool, error)
	RequestSecretBackend(ctx context.Context, name string, isolated bool) error
}

// ConfigProvider resolves the Vault access config and names the secrets
// backend to request.
type ConfigProvider interface {
	vaultkv.ConfigSource
	BackendName() (string, error)
}

// Leadership gives access to the application leadership.
type Leadership interface {
	IsLeader(ctx context.Context) (bool, error)
	LeaderSet(ctx context.Context, settings map[string]string) error
}

// State holds the unit's flags and change records between hooks.
type State interface {
	SetFlag(name string) error
	ClearFlag(name string) error
	IsFlagSet(name string) (bool, error)
	Flags() (set.Strings, error)
	DataChanged(key string, value interface{}) (bool, error)
}

// AppKV is the change-tracking application store.
type AppKV interface {
	Keys() []string
	Get(key string) (interface{}, bool)
	IsChanged(key string) bool
	ChangedKeys() []string
	AnyChanged() bool
	Commit(ctx context.Context) error
}

// AppKVSource returns the application store, connecting on first use.
type AppKVSource interface {
	AppKV(ctx context.Context) (AppKV, error)
}
