// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package vault

import (
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/juju/vault-kv/vaultkv"
)

var logger = loggo.GetLogger("juju.vaultkv.vault")

type options struct {
	metrics *Collector
	timeout time.Duration
}

// Option configures the Vault clients created by this package.
type Option func(*options)

// WithMetrics records every request made to Vault in c.
func WithMetrics(c *Collector) Option {
	return func(o *options) {
		o.metrics = c
	}
}

// WithTimeout sets the timeout of each request made to Vault.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

func newOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// newClient returns an unauthenticated client for the Vault API at addr.
// TLS settings are taken from the usual VAULT_* environment variables.
// The client never retries: failures surface to the caller straight away.
func newClient(addr string, o options) (*api.Client, error) {
	cfg := api.DefaultConfig()
	if cfg.Error != nil {
		return nil, errors.WithType(errors.Annotate(cfg.Error, "reading vault client config"), vaultkv.Misconfiguration)
	}
	cfg.Address = addr
	cfg.MaxRetries = 0
	if o.timeout > 0 {
		cfg.Timeout = o.timeout
	}
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, errors.WithType(errors.Annotatef(err, "creating vault client for %q", addr), vaultkv.Misconfiguration)
	}
	// Never pick up VAULT_TOKEN from the environment.
	client.ClearToken()
	return client, nil
}
