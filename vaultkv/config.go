// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package vaultkv

import (
	"context"

	"github.com/juju/errors"
)

// Config holds what is needed to open a session with Vault.
type Config struct {
	VaultURL      string `json:"vault_url" yaml:"vault_url"`
	SecretBackend string `json:"secret_backend" yaml:"secret_backend"`
	RoleID        string `json:"role_id" yaml:"role_id"`
	SecretID      string `json:"secret_id" yaml:"secret_id"`
}

// ConfigSource provides the Vault config.
type ConfigSource interface {
	Config(ctx context.Context) (Config, error)
}

// ConfigProviderParams holds the dependencies of a ConfigProvider.
type ConfigProviderParams struct {
	Endpoint  Endpoint
	Identity  Identity
	SecretIDs SecretIDSource

	// BackendFormat is expanded with BackendName to name the secrets
	// backend. Empty means DefaultBackendFormat.
	BackendFormat string
}

// Validate checks that the params are usable.
func (p ConfigProviderParams) Validate() error {
	if p.Endpoint == nil {
		return errors.NotValidf("nil Endpoint")
	}
	if p.Identity == nil {
		return errors.NotValidf("nil Identity")
	}
	if p.SecretIDs == nil {
		return errors.NotValidf("nil SecretIDs")
	}
	return nil
}

// ConfigProvider assembles the Vault config from the vault-kv relation.
type ConfigProvider struct {
	params ConfigProviderParams
}

// NewConfigProvider returns a ConfigProvider for the given params.
func NewConfigProvider(params ConfigProviderParams) (*ConfigProvider, error) {
	if err := params.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &ConfigProvider{params: params}, nil
}

// BackendName returns the name of this application's secrets backend.
func (p *ConfigProvider) BackendName() (string, error) {
	return BackendName(p.params.BackendFormat, p.params.Identity)
}

// Config returns the config needed to talk to Vault. It returns an error
// satisfying errors.Is(err, NotReady) until the relation is complete.
func (p *ConfigProvider) Config(ctx context.Context) (Config, error) {
	info, err := p.params.Endpoint.Info(ctx)
	if err != nil {
		return Config{}, errors.Trace(err)
	}
	backend, err := p.BackendName()
	if err != nil {
		return Config{}, errors.Trace(err)
	}
	secretID, err := p.params.SecretIDs.SecretID(ctx, info.VaultURL, info.Token)
	if err != nil {
		return Config{}, errors.Trace(err)
	}
	return Config{
		VaultURL:      info.VaultURL,
		SecretBackend: backend,
		RoleID:        info.RoleID,
		SecretID:      secretID,
	}, nil
}
