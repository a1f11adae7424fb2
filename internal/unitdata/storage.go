// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package unitdata provides the unit's durable local key/value store. It
// uses the same SQLite layout as the charm-helpers unitdata module, so the
// database can be shared with reactive charm code running in the same
// unit.
package unitdata

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/mattn/go-sqlite3"
)

var logger = loggo.GetLogger("juju.vaultkv.unitdata")

// DefaultFilename is the database file name used by charm-helpers,
// relative to the charm directory.
const DefaultFilename = ".unit-state.db"

const (
	driverName = "sqlite3"
	busyMillis = 5000

	createTable = `
CREATE TABLE IF NOT EXISTS kv (
    key  TEXT,
    data TEXT,
    PRIMARY KEY (key)
)`
)

// Storage is a key/value store backed by a SQLite database. Values are
// stored JSON encoded. Changes are made in a transaction which is started
// by the first change and only persisted by Flush.
type Storage struct {
	mu   sync.Mutex
	path string
	db   *sql.DB
	tx   *sql.Tx
}

// Open opens, creating if necessary, the database at path.
func Open(path string) (*Storage, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d", path, busyMillis)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, errors.Annotatef(err, "opening %q", path)
	}
	// A single connection keeps reads inside the pending transaction.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(createTable); err != nil {
		_ = db.Close()
		return nil, errors.Annotatef(annotateBusy(err), "creating schema in %q", path)
	}
	logger.Tracef("opened unit data %q", path)
	return &Storage{path: path, db: db}, nil
}

// Path returns the location of the database.
func (s *Storage) Path() string {
	return s.path
}

type querier interface {
	QueryRow(query string, args ...interface{}) *sql.Row
	Query(query string, args ...interface{}) (*sql.Rows, error)
}

func (s *Storage) querier() querier {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

func (s *Storage) begin() (*sql.Tx, error) {
	if s.tx != nil {
		return s.tx, nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return nil, errors.Annotate(annotateBusy(err), "starting transaction")
	}
	s.tx = tx
	return tx, nil
}

// GetValue decodes the value stored for key into out. It returns an error
// satisfying errors.Is(err, errors.NotFound) if key is not set.
func (s *Storage) GetValue(key string, out interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.getRaw(key)
	if err != nil {
		return errors.Trace(err)
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return errors.NewNotValid(err, fmt.Sprintf("decoding value of %q", key))
	}
	return nil
}

func (s *Storage) getRaw(key string) (string, error) {
	var data string
	err := s.querier().QueryRow("SELECT data FROM kv WHERE key = ?", key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errors.NotFoundf("key %q", key)
	}
	if err != nil {
		return "", errors.Annotatef(annotateBusy(err), "reading %q", key)
	}
	return data, nil
}

// SetValue stores the JSON encoding of value for key. The change is not
// persisted until Flush is called.
func (s *Storage) SetValue(key string, value interface{}) error {
	if key == "" {
		return errors.NotValidf("empty key")
	}
	data, err := json.Marshal(value)
	if err != nil {
		return errors.NewNotValid(err, fmt.Sprintf("value for %q is not JSON serializable", key))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.begin()
	if err != nil {
		return errors.Trace(err)
	}
	if _, err := tx.Exec("REPLACE INTO kv (key, data) VALUES (?, ?)", key, string(data)); err != nil {
		return errors.Annotatef(annotateBusy(err), "writing %q", key)
	}
	return nil
}

// Get returns the string stored for key. It returns an error satisfying
// errors.Is(err, errors.NotFound) if key is not set and errors.NotValid
// if the stored value is not a string.
func (s *Storage) Get(key string) (string, error) {
	var value string
	if err := s.GetValue(key, &value); err != nil {
		return "", errors.Trace(err)
	}
	return value, nil
}

// Set stores the string value for key.
func (s *Storage) Set(key, value string) error {
	return errors.Trace(s.SetValue(key, value))
}

// Unset removes key. Removing a key which is not set is not an error.
func (s *Storage) Unset(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.begin()
	if err != nil {
		return errors.Trace(err)
	}
	if _, err := tx.Exec("DELETE FROM kv WHERE key = ?", key); err != nil {
		return errors.Annotatef(annotateBusy(err), "removing %q", key)
	}
	return nil
}

// Keys returns the sorted keys starting with prefix.
func (s *Storage) Keys(prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.querier().Query(`SELECT key FROM kv WHERE key LIKE ? ESCAPE '\'`, likePrefix(prefix))
	if err != nil {
		return nil, errors.Annotatef(annotateBusy(err), "listing keys with prefix %q", prefix)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errors.Trace(err)
		}
		// LIKE is case insensitive for ASCII.
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Flush persists every change made since the last Flush.
func (s *Storage) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Commit(); err != nil {
		return errors.Annotatef(annotateBusy(err), "flushing %q", s.path)
	}
	return nil
}

// Close discards unflushed changes and closes the database.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		logger.Debugf("discarding unflushed changes to %q", s.path)
		_ = s.tx.Rollback()
		s.tx = nil
	}
	return errors.Trace(s.db.Close())
}

func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}

func annotateBusy(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && (sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked) {
		return errors.Annotate(err, "unit data is locked by another process")
	}
	return err
}
