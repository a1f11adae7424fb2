// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package vaultkv

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/mohae/deepcopy"
)

var logger = loggo.GetLogger("juju.vaultkv")

// Store is a write-through, memory cached view of the key/value pairs
// stored at a single backend path. Keys are strings, values may be
// anything that can be serialized to JSON.
//
// Stores are obtained from a Registry; there is at most one per scope.
type Store struct {
	backend Backend
	path    string

	mu      sync.Mutex
	entries map[string]interface{}
}

func newStore(ctx context.Context, backend Backend, path string) (*Store, error) {
	data, err := backend.Read(ctx, path)
	if err != nil {
		return nil, errors.Annotatef(err, "reading %q", path)
	}
	entries := make(map[string]interface{}, len(data))
	for k, v := range data {
		entries[k] = v
	}
	logger.Debugf("loaded %d key(s) from %q", len(entries), path)
	return &Store{
		backend: backend,
		path:    path,
		entries: entries,
	}, nil
}

// Path returns the backend path the store mirrors.
func (s *Store) Path() string {
	return s.path
}

// Get returns a copy of the value stored under key. It never contacts the
// backend.
func (s *Store) Get(key string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	return deepcopy.Copy(v), true
}

// Set writes value under key to the backend and, once the write has
// succeeded, to the cache. If the write fails the cache is unchanged.
func (s *Store) Set(ctx context.Context, key string, value interface{}) error {
	if err := validateEntry(key, value); err != nil {
		return errors.Trace(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLocked(ctx, key, value)
}

func (s *Store) setLocked(ctx context.Context, key string, value interface{}) error {
	if err := s.backend.Write(ctx, s.path, map[string]interface{}{key: value}); err != nil {
		return errors.Annotatef(err, "writing %q to %q", key, s.path)
	}
	s.entries[key] = deepcopy.Copy(value)
	return nil
}

// Keys returns the stored keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.entries)
}

// Items returns a snapshot of every stored key/value pair.
func (s *Store) Items() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make(map[string]interface{}, len(s.entries))
	for k, v := range s.entries {
		items[k] = deepcopy.Copy(v)
	}
	return items
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func validateEntry(key string, value interface{}) error {
	if key == "" {
		return errors.NotValidf("empty key")
	}
	if _, err := json.Marshal(value); err != nil {
		return errors.NewNotValid(err, fmt.Sprintf("value for %q is not JSON serializable", key))
	}
	return nil
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
