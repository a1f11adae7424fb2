// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package vaultkv

import (
	"context"
)

// Backend is an authenticated session against the secrets backend.
type Backend interface {
	// Read returns the key/value pairs stored at path. An absent path
	// yields an empty map and no error.
	Read(ctx context.Context, path string) (map[string]interface{}, error)

	// Write merges data into the key/value pairs stored at path. Keys
	// not present in data are left untouched.
	Write(ctx context.Context, path string, data map[string]interface{}) error

	// Replace overwrites everything stored at path with data.
	Replace(ctx context.Context, path string, data map[string]interface{}) error
}

// SessionOpener opens authenticated backend sessions.
type SessionOpener interface {
	OpenSession(ctx context.Context, cfg Config) (Backend, error)
}

// TokenExchanger exchanges a one-time token for a durable secret id.
type TokenExchanger interface {
	ExchangeToken(ctx context.Context, endpoint, token string) (string, error)
}

// RelationInfo holds what the vault-kv relation provides to this unit.
type RelationInfo struct {
	// VaultURL is the address of the Vault API.
	VaultURL string
	// RoleID is the AppRole role id issued to this unit.
	RoleID string
	// Token is the one-time token that unwraps to the secret id.
	Token string
}

// Endpoint is the charm side of the vault-kv relation.
type Endpoint interface {
	// Joined reports whether a Vault application is related.
	Joined(ctx context.Context) (bool, error)

	// Info returns the data published by Vault for this unit. It
	// returns an error satisfying errors.Is(err, NotReady) while the
	// data is incomplete.
	Info(ctx context.Context) (RelationInfo, error)

	// RequestSecretBackend asks Vault to create the named secrets
	// backend for this application.
	RequestSecretBackend(ctx context.Context, name string, isolated bool) error
}

// Identity describes the unit the process is running as.
type Identity interface {
	ApplicationName() string
	UnitOrdinal() string
	ModelUUID() string
}

// MarkerStore is durable, process-local storage that survives between
// hook invocations. Get returns an error satisfying
// errors.Is(err, errors.NotFound) for unknown keys. Set may be buffered
// until Flush is called.
type MarkerStore interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Flush() error
}
