// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package verdictcache provides an embedded TTL cache for evaluation
// verdicts, backed by BadgerDB.
//
// Re-evaluating the same subject is wasteful when nothing about it has
// changed: detector waves may call out to a language model, and the
// deterministic parts of the pipeline always produce the same verdict
// for the same evidence. The cache stores each verdict as JSON under a
// content-derived key with a bounded lifetime, so repeated lookups
// within the TTL window skip the pipeline entirely.
//
// Entries expire via Badger's native per-entry TTL; no sweeper
// goroutine is needed. Use InMemoryConfig for tests, which avoids all
// disk I/O.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package verdictcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config holds configuration for a verdict cache.
type Config struct {
	// Path is the directory for cache files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	// A lost cache entry only costs a re-evaluation, so this
	// defaults to false.
	SyncWrites bool

	// TTL is how long a cached verdict stays valid.
	// Must be at least one second: BadgerDB records entry expiry at
	// Unix-second granularity, so a sub-second TTL reads back as
	// already expired.
	TTL time.Duration

	// Logger receives BadgerDB's internal log output.
	// If nil, BadgerDB logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults with a 10-minute TTL
// rooted at the given path.
func DefaultConfig(path string) Config {
	return Config{
		Path: path,
		TTL:  10 * time.Minute,
	}
}

// InMemoryConfig returns configuration optimized for testing.
func InMemoryConfig() Config {
	return Config{
		InMemory: true,
		TTL:      10 * time.Minute,
	}
}

// Validate checks the configuration for correctness.
func (c Config) Validate() error {
	if !c.InMemory && c.Path == "" {
		return errors.New("path is required for a persistent cache")
	}
	if c.TTL < time.Second {
		return errors.New("ttl must be at least one second")
	}
	return nil
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Cache is a TTL-bounded JSON store for verdicts.
//
// Thread Safety: Safe for concurrent use. All synchronization is
// delegated to the underlying *badger.DB.
type Cache struct {
	db  *badger.DB
	ttl time.Duration
}

// New opens a verdict cache with the given configuration.
//
// Description:
//
//	Opens a BadgerDB at the configured path, or in memory if InMemory
//	is true. Creates the directory if it doesn't exist.
//
// Inputs:
//
//	cfg - Cache configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*Cache - The opened cache. Caller must call Close() when done.
//	error - Non-nil if the configuration is invalid or the database
//	cannot be opened.
func New(cfg Config) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache config: %w", err)
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open verdict cache: %w", err)
	}

	return &Cache{db: db, ttl: cfg.TTL}, nil
}

// Key derives a stable cache key from the parts that identify a
// subject. Parts are hashed in order, so callers must pass them in a
// fixed order.
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0}) // separator so ("ab","c") != ("a","bc")
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get looks up a cached verdict and unmarshals it into out.
//
// Description:
//
//	Reads the entry for key and JSON-decodes it into out. Expired and
//	missing entries both report a miss; only decode or storage
//	failures return an error.
//
// Inputs:
//
//	key - Cache key, typically produced by Key().
//	out - Pointer to the value to decode into.
//
// Outputs:
//
//	bool - True if a live entry was found and decoded.
//	error - Non-nil on storage or decode failure.
//
// Thread Safety: Safe for concurrent use.
func (c *Cache) Get(key string, out any) (bool, error) {
	var raw []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read cache entry: %w", err)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode cache entry: %w", err)
	}
	return true, nil
}

// Put stores a verdict under key with the configured TTL.
//
// Description:
//
//	JSON-encodes v and writes it with Badger's per-entry TTL, after
//	which the entry silently expires.
//
// Inputs:
//
//	key - Cache key, typically produced by Key().
//	v - Value to encode. Must be JSON-serializable.
//
// Outputs:
//
//	error - Non-nil on encode or storage failure.
//
// Thread Safety: Safe for concurrent use.
func (c *Cache) Put(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), raw).WithTTL(c.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

// Delete removes a cached verdict. Deleting a missing key is not an
// error.
func (c *Cache) Delete(key string) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// Close closes the underlying database. The cache must not be used
// after Close.
func (c *Cache) Close() error {
	return c.db.Close()
}
