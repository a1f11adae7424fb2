// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package reactive drives the vault-kv flags through a hook: it requests
// the secrets backend, tracks readiness and config changes, and at the
// end of a successful hook notifies the other units of application data
// changes.
package reactive

import (
	"context"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/utils/v4"

	"github.com/juju/vault-kv/vaultkv"
)

var logger = loggo.GetLogger("juju.vaultkv.reactive")

// Flags managed by the driver.
const (
	FlagRequested     = "layer.vault-kv.requested"
	FlagReady         = "layer.vault-kv.ready"
	FlagConfigChanged = "layer.vault-kv.config.changed"
	FlagAppKVChanged  = "layer.vault-kv.app-kv.changed"

	appKVChangedPrefix = FlagAppKVChanged + "."
	appKVSetPrefix     = "layer.vault-kv.app-kv.set."
)

const (
	// NonceKey is the leader setting changed to wake the other units
	// when application data changes.
	NonceKey = "vault-kv-nonce"

	nonceLength   = 8
	configDataKey = "layer.vault-kv.config"
)

// AppKVChangedFlag returns the flag set when key's value changed.
func AppKVChangedFlag(key string) string {
	return appKVChangedPrefix + key
}

// AppKVSetFlag returns the flag set while key has a value.
func AppKVSetFlag(key string) string {
	return appKVSetPrefix + key
}

// Config holds the collaborators of a Driver.
type Config struct {
	Endpoint   Endpoint
	Config     ConfigProvider
	AppKV      AppKVSource
	Leadership Leadership
	State      State

	// Nonce returns the value published under NonceKey. It defaults to
	// a random alphanumeric string.
	Nonce func() string
}

// Validate returns an error if the config cannot be used to create a
// Driver.
func (c Config) Validate() error {
	if c.Endpoint == nil {
		return errors.NotValidf("nil Endpoint")
	}
	if c.Config == nil {
		return errors.NotValidf("nil Config")
	}
	if c.AppKV == nil {
		return errors.NotValidf("nil AppKV")
	}
	if c.Leadership == nil {
		return errors.NotValidf("nil Leadership")
	}
	if c.State == nil {
		return errors.NotValidf("nil State")
	}
	return nil
}

// Driver applies the vault-kv handlers to the unit's state.
type Driver struct {
	config Config
}

// NewDriver returns a Driver for config.
func NewDriver(config Config) (*Driver, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if config.Nonce == nil {
		config.Nonce = randomNonce
	}
	return &Driver{config: config}, nil
}

func randomNonce() string {
	validRunes := append([]rune{}, utils.LowerAlpha...)
	validRunes = append(validRunes, utils.UpperAlpha...)
	validRunes = append(validRunes, utils.Digits...)
	return utils.RandomString(nonceLength, validRunes)
}

// Reconcile runs the relation handlers in order: RequestAccess, SetReady
// and CheckConfigChanged.
func (d *Driver) Reconcile(ctx context.Context) error {
	if err := d.RequestAccess(ctx); err != nil {
		return errors.Annotate(err, "requesting vault access")
	}
	if err := d.SetReady(ctx); err != nil {
		return errors.Annotate(err, "checking vault readiness")
	}
	if err := d.CheckConfigChanged(ctx); err != nil {
		return errors.Annotate(err, "checking vault config")
	}
	return nil
}

// RequestAccess asks Vault for the secrets backend once the relation has
// joined. The backend is never isolated, so that every unit of the
// application shares the application data. When the relation is gone
// the ready and requested flags are cleared.
func (d *Driver) RequestAccess(ctx context.Context) error {
	joined, err := d.config.Endpoint.Joined(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if !joined {
		if err := d.config.State.ClearFlag(FlagReady); err != nil {
			return errors.Trace(err)
		}
		return errors.Trace(d.config.State.ClearFlag(FlagRequested))
	}
	requested, err := d.config.State.IsFlagSet(FlagRequested)
	if err != nil {
		return errors.Trace(err)
	}
	if requested {
		return nil
	}
	name, err := d.config.Config.BackendName()
	if err != nil {
		return errors.Trace(err)
	}
	if err := d.config.Endpoint.RequestSecretBackend(ctx, name, false); err != nil {
		if errors.Is(err, vaultkv.NotReady) {
			logger.Debugf("not requesting secret backend: %v", err)
			return nil
		}
		return errors.Trace(err)
	}
	logger.Infof("requested secret backend %q", name)
	return errors.Trace(d.config.State.SetFlag(FlagRequested))
}

// SetReady sets the ready flag if the Vault config can be resolved and
// clears it if Vault is not ready yet.
func (d *Driver) SetReady(ctx context.Context) error {
	_, err := d.config.Config.Config(ctx)
	if errors.Is(err, vaultkv.NotReady) {
		logger.Debugf("vault not ready: %v", err)
		return errors.Trace(d.config.State.ClearFlag(FlagReady))
	}
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(d.config.State.SetFlag(FlagReady))
}

// CheckConfigChanged sets the config changed flag when the ready Vault
// config differs from the one last seen.
func (d *Driver) CheckConfigChanged(ctx context.Context) error {
	ready, err := d.config.State.IsFlagSet(FlagReady)
	if err != nil {
		return errors.Trace(err)
	}
	if !ready {
		return nil
	}
	cfg, err := d.config.Config.Config(ctx)
	if errors.Is(err, vaultkv.NotReady) {
		return nil
	}
	if err != nil {
		return errors.Trace(err)
	}
	changed, err := d.config.State.DataChanged(configDataKey, cfg)
	if err != nil {
		return errors.Trace(err)
	}
	if !changed {
		return nil
	}
	logger.Infof("vault config changed")
	return errors.Trace(d.config.State.SetFlag(FlagConfigChanged))
}

// Start sets the application data flags at the start of a hook. If Vault
// is not ready every application data flag is cleared.
func (d *Driver) Start(ctx context.Context) error {
	kv, err := d.config.AppKV.AppKV(ctx)
	if errors.Is(err, vaultkv.NotReady) {
		logger.Debugf("clearing app-kv flags: %v", err)
		return errors.Trace(d.clearAppKVFlags())
	}
	if err != nil {
		return errors.Trace(err)
	}
	keys := kv.Keys()
	for _, key := range kv.ChangedKeys() {
		if _, ok := kv.Get(key); !ok {
			keys = append(keys, key)
		}
	}
	for _, key := range keys {
		if err := d.manageFlags(kv, key); err != nil {
			return errors.Annotatef(err, "updating flags of %q", key)
		}
	}
	return nil
}

func (d *Driver) manageFlags(kv AppKV, key string) error {
	state := d.config.State
	if kv.IsChanged(key) {
		// Clear before set so the flags are seen as newly set.
		for _, flag := range []string{FlagAppKVChanged, AppKVChangedFlag(key)} {
			if err := state.ClearFlag(flag); err != nil {
				return errors.Trace(err)
			}
			if err := state.SetFlag(flag); err != nil {
				return errors.Trace(err)
			}
		}
	}
	if value, ok := kv.Get(key); ok && value != nil {
		return errors.Trace(state.SetFlag(AppKVSetFlag(key)))
	}
	return errors.Trace(state.ClearFlag(AppKVSetFlag(key)))
}

func (d *Driver) clearAppKVFlags() error {
	flags, err := d.config.State.Flags()
	if err != nil {
		return errors.Trace(err)
	}
	for _, flag := range flags.SortedValues() {
		if flag != FlagAppKVChanged &&
			!strings.HasPrefix(flag, appKVChangedPrefix) &&
			!strings.HasPrefix(flag, appKVSetPrefix) {
			continue
		}
		if err := d.config.State.ClearFlag(flag); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Exit finishes a hook. After a successful hook with changed application
// data the leader publishes a new nonce, waking the other units, and the
// hashes are committed so the data is no longer reported as changed. An
// unsuccessful hook commits nothing.
func (d *Driver) Exit(ctx context.Context, success bool) error {
	if !success {
		logger.Debugf("hook failed, not committing app-kv hashes")
		return nil
	}
	kv, err := d.config.AppKV.AppKV(ctx)
	if errors.Is(err, vaultkv.NotReady) {
		return nil
	}
	if err != nil {
		return errors.Trace(err)
	}
	if !kv.AnyChanged() {
		return nil
	}
	leader, err := d.config.Leadership.IsLeader(ctx)
	if err != nil {
		return errors.Annotate(err, "checking leadership")
	}
	if leader {
		if err := d.config.Leadership.LeaderSet(ctx, map[string]string{NonceKey: d.config.Nonce()}); err != nil {
			return errors.Annotate(err, "publishing nonce")
		}
	}
	return errors.Trace(kv.Commit(ctx))
}

// RunCycle runs fn between Start and Exit. Exit is told the hook
// succeeded only if fn returns nil. fn's error takes precedence over an
// error from Exit.
func (d *Driver) RunCycle(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := d.Start(ctx); err != nil {
		return errors.Annotate(err, "starting hook")
	}
	fnErr := fn(ctx)
	if err := d.Exit(ctx, fnErr == nil); err != nil {
		if fnErr != nil {
			logger.Errorf("finishing failed hook: %v", err)
			return errors.Trace(fnErr)
		}
		return errors.Annotate(err, "finishing hook")
	}
	return errors.Trace(fnErr)
}
