// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package vault

import (
	"context"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/juju/errors"

	"github.com/juju/vault-kv/vaultkv"
)

const approleLoginPath = "auth/approle/login"

// Session is a Vault client logged in with an AppRole. It implements
// vaultkv.Backend on top of a KV version 1 secrets engine.
type Session struct {
	client  *api.Client
	metrics *Collector
}

// Open logs in to the Vault at cfg.VaultURL with cfg's role and secret
// ids.
func Open(ctx context.Context, cfg vaultkv.Config, opts ...Option) (*Session, error) {
	o := newOptions(opts)
	client, err := newClient(cfg.VaultURL, o)
	if err != nil {
		return nil, errors.Trace(err)
	}

	start := time.Now()
	secret, err := client.Logical().WriteWithContext(ctx, approleLoginPath, map[string]interface{}{
		"role_id":   cfg.RoleID,
		"secret_id": cfg.SecretID,
	})
	o.metrics.observe(opLogin, start, err)
	if err != nil {
		return nil, errors.WithType(errors.Annotate(classify(err), "approle login"), vaultkv.AuthenticationFailure)
	}
	if secret == nil || secret.Auth == nil || secret.Auth.ClientToken == "" {
		return nil, errors.WithType(errors.New("approle login returned no client token"), vaultkv.AuthenticationFailure)
	}
	client.SetToken(secret.Auth.ClientToken)
	logger.Debugf("logged in to %s with approle", cfg.VaultURL)
	return &Session{
		client:  client,
		metrics: o.metrics,
	}, nil
}

// Read implements vaultkv.Backend.
func (s *Session) Read(ctx context.Context, path string) (map[string]interface{}, error) {
	start := time.Now()
	secret, err := s.client.Logical().ReadWithContext(ctx, path)
	s.metrics.observe(opRead, start, err)
	if isNotFound(err) {
		return map[string]interface{}{}, nil
	}
	if err != nil {
		return nil, errors.Annotatef(classify(err), "reading %q", path)
	}
	if secret == nil || secret.Data == nil {
		return map[string]interface{}{}, nil
	}
	return secret.Data, nil
}

// Write implements vaultkv.Backend. The KV version 1 engine replaces the
// whole secret on every write, so the current data is read first and
// data is merged into it.
func (s *Session) Write(ctx context.Context, path string, data map[string]interface{}) error {
	current, err := s.Read(ctx, path)
	if err != nil {
		return errors.Trace(err)
	}
	merged := make(map[string]interface{}, len(current)+len(data))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range data {
		merged[k] = v
	}
	return errors.Trace(s.write(ctx, opWrite, path, merged))
}

// Replace implements vaultkv.Backend. Replacing with no data deletes the
// path, which reads back as empty.
func (s *Session) Replace(ctx context.Context, path string, data map[string]interface{}) error {
	if len(data) == 0 {
		start := time.Now()
		_, err := s.client.Logical().DeleteWithContext(ctx, path)
		s.metrics.observe(opDelete, start, err)
		if err != nil && !isNotFound(err) {
			return errors.Annotatef(classify(err), "deleting %q", path)
		}
		return nil
	}
	return errors.Trace(s.write(ctx, opReplace, path, data))
}

func (s *Session) write(ctx context.Context, op, path string, data map[string]interface{}) error {
	start := time.Now()
	_, err := s.client.Logical().WriteWithContext(ctx, path, data)
	s.metrics.observe(op, start, err)
	if err != nil {
		return errors.Annotatef(classify(err), "writing %q", path)
	}
	return nil
}

// Opener opens Sessions. It implements vaultkv.SessionOpener.
type Opener struct {
	opts []Option
}

// NewOpener returns an Opener whose sessions are configured with opts.
func NewOpener(opts ...Option) *Opener {
	return &Opener{opts: opts}
}

// OpenSession implements vaultkv.SessionOpener.
func (o *Opener) OpenSession(ctx context.Context, cfg vaultkv.Config) (vaultkv.Backend, error) {
	session, err := Open(ctx, cfg, o.opts...)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return session, nil
}
