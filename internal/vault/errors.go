// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package vault

import (
	"net/http"
	"strings"

	"github.com/hashicorp/vault/api"
	"github.com/juju/errors"

	"github.com/juju/vault-kv/vaultkv"
)

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *api.ResponseError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusNotFound
	}
	// Sadly we can just get a string from the api.
	return strings.Contains(err.Error(), "no secret found")
}

func isMountNotFound(err error) bool {
	var apiErr *api.ResponseError
	if errors.As(err, &apiErr) {
		errMessage := strings.Join(apiErr.Errors, ",")
		return apiErr.StatusCode == http.StatusBadRequest && strings.Contains(errMessage, "no matching mount")
	}
	return false
}

func isPermissionDenied(err error) bool {
	var apiErr *api.ResponseError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusForbidden || apiErr.StatusCode == http.StatusUnauthorized
	}
	return false
}

func isClientError(err error) bool {
	var apiErr *api.ResponseError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusBadRequest && apiErr.StatusCode < http.StatusInternalServerError
	}
	return false
}

// classify tags err with the vaultkv error type matching the failure.
// A missing mount means the secrets backend has not been created yet,
// which is the same as the relation not being ready.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case isPermissionDenied(err):
		return errors.WithType(err, vaultkv.AuthenticationFailure)
	case isMountNotFound(err):
		return errors.WithType(err, vaultkv.NotReady)
	default:
		return errors.WithType(err, vaultkv.BackendUnavailable)
	}
}
