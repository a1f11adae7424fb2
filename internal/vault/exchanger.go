// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package vault

import (
	"context"
	"time"

	"github.com/juju/errors"

	"github.com/juju/vault-kv/vaultkv"
)

const secretIDField = "secret_id"

// Exchanger unwraps the response-wrapped one-time tokens handed out over
// the vault-kv relation. It implements vaultkv.TokenExchanger.
type Exchanger struct {
	opts []Option
}

// NewExchanger returns an Exchanger whose clients are configured with
// opts.
func NewExchanger(opts ...Option) *Exchanger {
	return &Exchanger{opts: opts}
}

// ExchangeToken unwraps token with the Vault at endpoint and returns the
// secret id it wrapped. The token is spent whether or not the secret id
// can be extracted.
func (e *Exchanger) ExchangeToken(ctx context.Context, endpoint, token string) (string, error) {
	o := newOptions(e.opts)
	client, err := newClient(endpoint, o)
	if err != nil {
		return "", errors.Trace(err)
	}
	client.SetToken(token)

	start := time.Now()
	secret, err := client.Logical().UnwrapWithContext(ctx, "")
	o.metrics.observe(opUnwrap, start, err)
	if err != nil {
		if isClientError(err) {
			// Spent, expired or unknown token.
			return "", errors.WithType(errors.Annotate(err, "unwrapping token"), vaultkv.AuthenticationFailure)
		}
		return "", errors.Annotate(classify(err), "unwrapping token")
	}
	if secret == nil {
		return "", errors.WithType(errors.New("unwrapping token: no data"), vaultkv.AuthenticationFailure)
	}
	secretID, _ := secret.Data[secretIDField].(string)
	if secretID == "" {
		return "", errors.WithType(errors.Errorf("unwrapping token: no %s in response", secretIDField), vaultkv.AuthenticationFailure)
	}
	return secretID, nil
}
