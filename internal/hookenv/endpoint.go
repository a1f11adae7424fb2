// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package hookenv

import (
	"context"
	"encoding/json"
	"net/url"
	"sort"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/schema"
	"gopkg.in/juju/environschema.v1"

	"github.com/juju/vault-kv/vaultkv"
)

// VaultKVEndpoint is the name of the endpoint the vault-kv interface is
// required on.
const VaultKVEndpoint = "vault-kv"

const (
	vaultURLKey = "vault_url"
	roleIDKey   = "role_id"
	tokenKey    = "token"

	secretBackendKey = "secret_backend"
	isolatedKey      = "isolated"
	accessAddressKey = "access_address"
	unitNameKey      = "unit_name"
)

var relationSchema = environschema.Fields{
	vaultURLKey: {
		Description: "The URL of the Vault API.",
		Type:        environschema.Tstring,
		Mandatory:   true,
	},
	roleIDKey: {
		Description: "The AppRole role id issued to the unit.",
		Type:        environschema.Tstring,
		Mandatory:   true,
	},
	tokenKey: {
		Description: "The one-time token wrapping the unit's secret id.",
		Type:        environschema.Tstring,
		Mandatory:   true,
		Secret:      true,
	},
}

type relationConfig struct {
	validAttrs map[string]interface{}
}

func (c *relationConfig) vaultURL() string {
	v, _ := c.validAttrs[vaultURLKey].(string)
	return v
}

func (c *relationConfig) roleID() string {
	v, _ := c.validAttrs[roleIDKey].(string)
	return v
}

func (c *relationConfig) token() string {
	v, _ := c.validAttrs[tokenKey].(string)
	return v
}

func newRelationConfig(attrs map[string]interface{}) (*relationConfig, error) {
	fields, defaults, err := relationSchema.ValidationSchema()
	if err != nil {
		return nil, errors.Trace(err)
	}
	coerced, err := schema.FieldMap(fields, defaults).Coerce(attrs, nil)
	if err != nil {
		return nil, errors.Trace(err)
	}
	cfg := &relationConfig{validAttrs: coerced.(map[string]interface{})}
	u, err := url.Parse(cfg.vaultURL())
	if err != nil {
		return nil, errors.Trace(err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.NotValidf("vault url %q", cfg.vaultURL())
	}
	return cfg, nil
}

// VaultEndpoint is the requiring side of the vault-kv relation. It
// implements vaultkv.Endpoint.
type VaultEndpoint struct {
	tools    *Tools
	env      *Environment
	endpoint string
}

// NewVaultEndpoint returns the vault-kv endpoint of the unit described by
// env.
func NewVaultEndpoint(tools *Tools, env *Environment) *VaultEndpoint {
	return &VaultEndpoint{
		tools:    tools,
		env:      env,
		endpoint: VaultKVEndpoint,
	}
}

type joinedRelation struct {
	id    string
	units []string
}

func (e *VaultEndpoint) relations(ctx context.Context) ([]joinedRelation, error) {
	ids, err := e.tools.RelationIDs(ctx, e.endpoint)
	if err != nil {
		return nil, errors.Annotatef(err, "listing %s relations", e.endpoint)
	}
	relations := make([]joinedRelation, 0, len(ids))
	for _, id := range ids {
		units, err := e.tools.RelationList(ctx, id)
		if err != nil {
			return nil, errors.Annotatef(err, "listing units of %s", id)
		}
		relations = append(relations, joinedRelation{id: id, units: units})
	}
	return relations, nil
}

// Joined implements vaultkv.Endpoint.
func (e *VaultEndpoint) Joined(ctx context.Context) (bool, error) {
	relations, err := e.relations(ctx)
	if err != nil {
		return false, errors.Trace(err)
	}
	for _, r := range relations {
		if len(r.units) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// Info implements vaultkv.Endpoint. Vault publishes the unit's
// credentials under keys prefixed with the unit name, with "/" replaced
// by "_".
func (e *VaultEndpoint) Info(ctx context.Context) (vaultkv.RelationInfo, error) {
	relations, err := e.relations(ctx)
	if err != nil {
		return vaultkv.RelationInfo{}, errors.Trace(err)
	}
	unitPrefix := strings.ReplaceAll(e.env.LocalUnit(), "/", "_") + "_"
	remoteKeys := map[string]string{
		vaultURLKey:            vaultURLKey,
		unitPrefix + roleIDKey: roleIDKey,
		unitPrefix + tokenKey:  tokenKey,
	}
	received := make(map[string]interface{})
	for _, r := range relations {
		for _, unit := range r.units {
			settings, err := e.tools.RelationGet(ctx, r.id, unit)
			if err != nil {
				return vaultkv.RelationInfo{}, errors.Annotatef(err, "reading settings of %s on %s", unit, r.id)
			}
			for remoteKey, key := range remoteKeys {
				if _, ok := received[key]; ok {
					continue
				}
				if v := decodeSetting(settings[remoteKey]); v != nil {
					received[key] = v
				}
			}
		}
	}
	for _, key := range []string{vaultURLKey, roleIDKey, tokenKey} {
		if _, ok := received[key]; !ok {
			return vaultkv.RelationInfo{}, errors.WithType(
				errors.Errorf("%s not yet published on %s", key, e.endpoint), vaultkv.NotReady)
		}
	}
	cfg, err := newRelationConfig(received)
	if err != nil {
		return vaultkv.RelationInfo{}, errors.WithType(
			errors.Annotatef(err, "invalid %s relation data", e.endpoint), vaultkv.Misconfiguration)
	}
	return vaultkv.RelationInfo{
		VaultURL: cfg.vaultURL(),
		RoleID:   cfg.roleID(),
		Token:    cfg.token(),
	}, nil
}

// decodeSetting returns the JSON decoded value of raw, or raw itself if
// it is not JSON. Empty and null values are nil.
func decodeSetting(raw string) interface{} {
	if raw == "" {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	if s, ok := v.(string); ok && s == "" {
		return nil
	}
	return v
}

// RequestSecretBackend implements vaultkv.Endpoint. The request is
// published on every vault-kv relation.
func (e *VaultEndpoint) RequestSecretBackend(ctx context.Context, name string, isolated bool) error {
	relations, err := e.relations(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if len(relations) == 0 {
		return errors.WithType(errors.Errorf("no %s relation", e.endpoint), vaultkv.NotReady)
	}
	address, err := e.tools.IngressAddress(ctx, e.endpoint)
	if err != nil {
		return errors.Annotate(err, "getting ingress address")
	}
	request := map[string]interface{}{
		secretBackendKey: name,
		isolatedKey:      isolated,
		accessAddressKey: address,
		unitNameKey:      e.env.LocalUnit(),
	}
	settings := make(map[string]string, len(request))
	for k, v := range request {
		data, err := json.Marshal(v)
		if err != nil {
			return errors.Trace(err)
		}
		settings[k] = string(data)
	}
	for _, r := range relations {
		if err := e.tools.RelationSet(ctx, r.id, settings); err != nil {
			return errors.Annotatef(err, "requesting secret backend on %s", r.id)
		}
		logger.Debugf("requested secret backend %q on %s", name, r.id)
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
