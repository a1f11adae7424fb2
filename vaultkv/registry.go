// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package vaultkv

import (
	"context"
	"sync"

	"github.com/juju/errors"
)

// RegistryParams holds the dependencies of a Registry.
type RegistryParams struct {
	Config   ConfigSource
	Opener   SessionOpener
	Identity Identity
}

// Validate checks that the params are usable.
func (p RegistryParams) Validate() error {
	if p.Config == nil {
		return errors.NotValidf("nil Config")
	}
	if p.Opener == nil {
		return errors.NotValidf("nil Opener")
	}
	if p.Identity == nil {
		return errors.NotValidf("nil Identity")
	}
	return nil
}

// Registry owns the Vault session and the stores of a process. The
// session is opened, and each store loaded, the first time it is asked
// for; later calls return the same instances without touching Vault.
type Registry struct {
	params RegistryParams

	mu      sync.Mutex
	session Backend
	unit    *Store
	app     *AppStore
}

// NewRegistry returns an empty Registry.
func NewRegistry(params RegistryParams) (*Registry, error) {
	if err := params.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Registry{params: params}, nil
}

// UnitStore returns the store private to the local unit.
func (r *Registry) UnitStore(ctx context.Context) (*Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unit != nil {
		return r.unit, nil
	}
	backend, cfg, err := r.connect(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	path, err := UnitPath(cfg.SecretBackend, r.params.Identity.UnitOrdinal())
	if err != nil {
		return nil, errors.Trace(err)
	}
	store, err := newStore(ctx, backend, path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	r.unit = store
	return store, nil
}

// AppStore returns the store shared by every unit of the application.
func (r *Registry) AppStore(ctx context.Context) (*AppStore, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.app != nil {
		return r.app, nil
	}
	backend, cfg, err := r.connect(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	path, err := AppPath(cfg.SecretBackend)
	if err != nil {
		return nil, errors.Trace(err)
	}
	ledgerPath, err := AppHashesPath(cfg.SecretBackend, r.params.Identity.UnitOrdinal())
	if err != nil {
		return nil, errors.Trace(err)
	}
	store, err := newAppStore(ctx, backend, path, ledgerPath)
	if err != nil {
		return nil, errors.Trace(err)
	}
	r.app = store
	return store, nil
}

func (r *Registry) connect(ctx context.Context) (Backend, Config, error) {
	cfg, err := r.params.Config.Config(ctx)
	if err != nil {
		return nil, Config{}, errors.Trace(err)
	}
	if r.session == nil {
		session, err := r.params.Opener.OpenSession(ctx, cfg)
		if err != nil {
			return nil, Config{}, errors.Annotatef(err, "opening session with %s", cfg.VaultURL)
		}
		logger.Debugf("opened session with %s", cfg.VaultURL)
		r.session = session
	}
	return r.session, cfg, nil
}
