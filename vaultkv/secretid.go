// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package vaultkv

import (
	"context"

	"github.com/juju/errors"
)

const (
	// tokenMarkerKey is where charms.reactive data_changed records the
	// hash of the token, so a database written by the Python layer
	// remembers which token it consumed.
	tokenMarkerKey = "reactive.data_changed.layer.vault-kv.token"
	secretIDKey    = "layer.vault-kv.secret_id"
)

// SecretIDSource provides the secret id to log in with.
type SecretIDSource interface {
	SecretID(ctx context.Context, endpoint, token string) (string, error)
}

// SecretIDResolver turns the one-time token handed out over the vault-kv
// relation into a secret id. A token can only be unwrapped once, so the
// resolver remembers which token it last consumed, and the secret id it
// yielded, in the marker store.
type SecretIDResolver struct {
	markers   MarkerStore
	exchanger TokenExchanger
}

// NewSecretIDResolver returns a resolver that keeps its state in markers
// and unwraps tokens with exchanger.
func NewSecretIDResolver(markers MarkerStore, exchanger TokenExchanger) *SecretIDResolver {
	return &SecretIDResolver{
		markers:   markers,
		exchanger: exchanger,
	}
}

// SecretID returns the secret id for token. If token was already consumed
// the cached secret id is returned without contacting Vault. Otherwise the
// token is exchanged and the result is flushed to the marker store before
// SecretID returns.
//
// A failed exchange leaves the marker store untouched, so the same token
// is tried again next time, and returns an error satisfying
// errors.Is(err, NotReady).
func (r *SecretIDResolver) SecretID(ctx context.Context, endpoint, token string) (string, error) {
	if token == "" {
		return "", notReady("no one-time token provided")
	}
	tokenHash, err := HashValue(token)
	if err != nil {
		return "", errors.Trace(err)
	}
	seen, err := r.markers.Get(tokenMarkerKey)
	if err != nil && !errors.Is(err, errors.NotFound) {
		return "", errors.Annotate(err, "reading token marker")
	}
	if err == nil && seen == tokenHash {
		secretID, err := r.markers.Get(secretIDKey)
		if err == nil {
			return secretID, nil
		}
		if !errors.Is(err, errors.NotFound) {
			return "", errors.Annotate(err, "reading cached secret id")
		}
		logger.Warningf("token already consumed but no secret id cached")
	}

	logger.Debugf("exchanging one-time token with %s", endpoint)
	secretID, err := r.exchanger.ExchangeToken(ctx, endpoint, token)
	if err != nil {
		return "", errors.WithType(errors.Annotate(err, "exchanging one-time token"), NotReady)
	}
	if err := r.markers.Set(secretIDKey, secretID); err != nil {
		return "", errors.Annotate(err, "caching secret id")
	}
	if err := r.markers.Set(tokenMarkerKey, tokenHash); err != nil {
		return "", errors.Annotate(err, "recording token marker")
	}
	if err := r.markers.Flush(); err != nil {
		return "", errors.Annotate(err, "flushing secret id")
	}
	return secretID, nil
}
