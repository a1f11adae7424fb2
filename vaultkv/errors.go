// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package vaultkv

import (
	"github.com/juju/errors"
)

const (
	// NotReady is returned when the vault-kv relation has not yet
	// provided everything needed to talk to Vault. It is the expected
	// state until the integration is established and callers should
	// treat it as "not yet" rather than as a failure.
	NotReady = errors.ConstError("vault not ready")

	// AuthenticationFailure is returned when a secret id cannot be
	// obtained or a Vault session cannot be opened.
	AuthenticationFailure = errors.ConstError("vault authentication failure")

	// BackendUnavailable is returned when reading from or writing to
	// Vault fails.
	BackendUnavailable = errors.ConstError("vault backend unavailable")

	// Misconfiguration is returned when the local configuration cannot
	// produce a usable backend path.
	Misconfiguration = errors.ConstError("vault-kv misconfiguration")
)

func misconfigured(format string, args ...interface{}) error {
	return errors.WithType(errors.Errorf(format, args...), Misconfiguration)
}

func notReady(format string, args ...interface{}) error {
	return errors.WithType(errors.Errorf(format, args...), NotReady)
}
