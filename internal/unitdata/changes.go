// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package unitdata

import (
	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"github.com/juju/vault-kv/vaultkv"
)

const (
	dataChangedPrefix = "reactive.data_changed."
	flagPrefix        = "reactive.states."
)

// IsDataChanged reports whether value differs from the value last
// recorded for key by DataChanged. Nothing is recorded.
func (s *Storage) IsDataChanged(key string, value interface{}) (bool, error) {
	changed, _, err := s.compareHash(key, value)
	return changed, errors.Trace(err)
}

// DataChanged reports whether value differs from the value last recorded
// for key, and records value's hash. A key seen for the first time is
// changed.
func (s *Storage) DataChanged(key string, value interface{}) (bool, error) {
	changed, hash, err := s.compareHash(key, value)
	if err != nil {
		return false, errors.Trace(err)
	}
	if !changed {
		return false, nil
	}
	if err := s.Set(dataChangedPrefix+key, hash); err != nil {
		return false, errors.Trace(err)
	}
	return true, nil
}

func (s *Storage) compareHash(key string, value interface{}) (bool, string, error) {
	hash, err := vaultkv.HashValue(value)
	if err != nil {
		return false, "", errors.Trace(err)
	}
	old, err := s.Get(dataChangedPrefix + key)
	if errors.Is(err, errors.NotFound) {
		return true, hash, nil
	}
	if err != nil {
		return false, "", errors.Trace(err)
	}
	return old != hash, hash, nil
}

// SetFlag sets the named flag.
func (s *Storage) SetFlag(name string) error {
	if name == "" {
		return errors.NotValidf("empty flag name")
	}
	return errors.Annotatef(s.SetValue(flagPrefix+name, nil), "setting flag %q", name)
}

// ClearFlag clears the named flag.
func (s *Storage) ClearFlag(name string) error {
	return errors.Annotatef(s.Unset(flagPrefix+name), "clearing flag %q", name)
}

// IsFlagSet reports whether the named flag is set.
func (s *Storage) IsFlagSet(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.getRaw(flagPrefix + name)
	if errors.Is(err, errors.NotFound) {
		return false, nil
	}
	if err != nil {
		return false, errors.Trace(err)
	}
	return true, nil
}

// Flags returns the names of every set flag.
func (s *Storage) Flags() (set.Strings, error) {
	keys, err := s.Keys(flagPrefix)
	if err != nil {
		return nil, errors.Trace(err)
	}
	flags := set.NewStrings()
	for _, key := range keys {
		flags.Add(key[len(flagPrefix):])
	}
	return flags, nil
}
