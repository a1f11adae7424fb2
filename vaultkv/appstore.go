// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package vaultkv

import (
	"context"
	"sync"

	"github.com/juju/errors"
)

// AppStore is the application scope store. Alongside the values it keeps
// two sets of content hashes: the ones this unit last committed to its
// ledger in the backend, and the ones of the values as they are now.
// Comparing the two tells whether a key changed since the last committed
// cycle, including keys that have been removed.
type AppStore struct {
	store      *Store
	ledgerPath string

	hashMu    sync.Mutex
	committed map[string]string
	pending   map[string]string
}

func newAppStore(ctx context.Context, backend Backend, path, ledgerPath string) (*AppStore, error) {
	store, err := newStore(ctx, backend, path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	ledger, err := backend.Read(ctx, ledgerPath)
	if err != nil {
		return nil, errors.Annotatef(err, "reading hash ledger %q", ledgerPath)
	}
	committed := make(map[string]string, len(ledger))
	for k, v := range ledger {
		hash, ok := v.(string)
		if !ok {
			logger.Warningf("ignoring hash of unexpected type %T for %q in %q", v, k, ledgerPath)
			continue
		}
		committed[k] = hash
	}
	pending := make(map[string]string, len(store.entries))
	for k, v := range store.entries {
		hash, err := HashValue(v)
		if err != nil {
			return nil, errors.Annotatef(err, "hashing %q", k)
		}
		pending[k] = hash
	}
	return &AppStore{
		store:      store,
		ledgerPath: ledgerPath,
		committed:  committed,
		pending:    pending,
	}, nil
}

// Path returns the backend path the store mirrors.
func (s *AppStore) Path() string {
	return s.store.Path()
}

// LedgerPath returns the backend path of this unit's hash ledger.
func (s *AppStore) LedgerPath() string {
	return s.ledgerPath
}

// Get returns a copy of the value stored under key.
func (s *AppStore) Get(key string) (interface{}, bool) {
	return s.store.Get(key)
}

// Keys returns the stored keys in sorted order.
func (s *AppStore) Keys() []string {
	return s.store.Keys()
}

// Items returns a snapshot of every stored key/value pair.
func (s *AppStore) Items() map[string]interface{} {
	return s.store.Items()
}

// Len returns the number of stored keys.
func (s *AppStore) Len() int {
	return s.store.Len()
}

// Set writes value under key, as Store.Set does, and records its new
// content hash.
func (s *AppStore) Set(ctx context.Context, key string, value interface{}) error {
	if key == "" {
		return errors.NotValidf("empty key")
	}
	hash, err := HashValue(value)
	if err != nil {
		return errors.Annotatef(err, "hashing %q", key)
	}
	s.hashMu.Lock()
	defer s.hashMu.Unlock()

	s.store.mu.Lock()
	err = s.store.setLocked(ctx, key, value)
	s.store.mu.Unlock()
	if err != nil {
		return errors.Trace(err)
	}
	s.pending[key] = hash
	return nil
}

// IsChanged reports whether the value of key differs from the one last
// committed. A key seen for the first time, or one that has disappeared,
// counts as changed.
func (s *AppStore) IsChanged(key string) bool {
	s.hashMu.Lock()
	defer s.hashMu.Unlock()
	return s.isChangedLocked(key)
}

func (s *AppStore) isChangedLocked(key string) bool {
	pending, havePending := s.pending[key]
	committed, haveCommitted := s.committed[key]
	return havePending != haveCommitted || pending != committed
}

// ChangedKeys returns, in sorted order, every key that is either stored
// now or was stored at the last commit and whose value has changed.
func (s *AppStore) ChangedKeys() []string {
	s.hashMu.Lock()
	defer s.hashMu.Unlock()
	var changed []string
	for _, key := range s.allKeysLocked() {
		if s.isChangedLocked(key) {
			changed = append(changed, key)
		}
	}
	return changed
}

// AnyChanged reports whether any key has changed since the last commit.
func (s *AppStore) AnyChanged() bool {
	s.hashMu.Lock()
	defer s.hashMu.Unlock()
	for _, key := range s.allKeysLocked() {
		if s.isChangedLocked(key) {
			return true
		}
	}
	return false
}

func (s *AppStore) allKeysLocked() []string {
	union := make(map[string]struct{}, len(s.pending)+len(s.committed))
	for k := range s.pending {
		union[k] = struct{}{}
	}
	for k := range s.committed {
		union[k] = struct{}{}
	}
	return sortedKeys(union)
}

// Commit replaces this unit's hash ledger with the current hashes, so that
// every key reads as unchanged until it is next modified. Callers commit
// once per cycle, after all of the cycle's work has succeeded.
func (s *AppStore) Commit(ctx context.Context) error {
	s.hashMu.Lock()
	defer s.hashMu.Unlock()

	data := make(map[string]interface{}, len(s.pending))
	for k, hash := range s.pending {
		data[k] = hash
	}
	if err := s.store.backend.Replace(ctx, s.ledgerPath, data); err != nil {
		return errors.Annotatef(err, "writing hash ledger %q", s.ledgerPath)
	}
	committed := make(map[string]string, len(s.pending))
	for k, hash := range s.pending {
		committed[k] = hash
	}
	s.committed = committed
	logger.Debugf("committed %d hash(es) to %q", len(committed), s.ledgerPath)
	return nil
}
