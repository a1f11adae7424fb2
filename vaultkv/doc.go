// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package vaultkv provides a cached, change-detecting key/value store
// backed by a Vault secrets backend, for use by charms.
//
// Two scopes are supported. The unit scope is private to the local unit,
// the application scope is shared by every unit of the application. Both
// are write-through and memory cached: values are read once, when a store
// is first constructed, and every Set is written to Vault before the cache
// is updated.
//
// The application scope additionally keeps a ledger of content hashes per
// unit, so that a short-lived hook process can tell whether a value has
// changed since the last cycle this unit committed.
//
// Stores are obtained from a Registry, which owns the single authenticated
// Vault session and at most one store per scope.
package vaultkv
