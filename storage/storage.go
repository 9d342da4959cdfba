// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package storage provides the key/value backends the token cache is built
// on: a volatile in-process map, a session-scoped store, a durable
// file-backed store, and a small-capacity TTL-bounded store for short
// security-sensitive flags.
package storage

import (
	"errors"
	"fmt"
)

// Location identifies a storage tier.
type Location string

const (
	// MemoryLocation is the volatile in-process tier. Nothing survives the
	// process.
	MemoryLocation Location = "memory"

	// SessionLocation is the session-scoped tier: volatile, but namespaced
	// to one client session so that clearing a session cannot disturb
	// another.
	SessionLocation Location = "session"

	// DurableLocation is the durable file-backed tier. Records written here
	// survive process restarts and are the only records the cache encrypts.
	DurableLocation Location = "durable"
)

var (
	ErrInvalidParameter   = errors.New("invalid parameter")
	ErrUnsupportedBackend = errors.New("unsupported storage backend")
	ErrValueTooLarge      = errors.New("value exceeds capacity limit")
	ErrUnavailable        = errors.New("storage backend unavailable")
)

// Store is the uniform contract implemented by every backend.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool)

	// Set stores the value under key, replacing any existing value.
	Set(key, value string) error

	// Remove deletes key. Removing an absent key is a no-op.
	Remove(key string)

	// Keys enumerates all keys currently present.
	Keys() []string

	// Contains reports whether key is present.
	Contains(key string) bool
}

// New creates a Store for the requested location. It does not apply any
// fallback policy; see NewWithFallback for the degradation behavior used at
// client startup.
func New(location Location, opt ...Option) (Store, error) {
	const op = "storage.New"
	opts := getOpts(opt...)
	switch location {
	case MemoryLocation:
		return NewMemory(), nil
	case SessionLocation:
		return NewSession(), nil
	case DurableLocation:
		return NewDurable(opts.withDir, opts.withNamespace)
	default:
		return nil, fmt.Errorf("%s: %q: %w", op, location, ErrUnsupportedBackend)
	}
}

// NewWithFallback creates a Store for the requested location, falling back
// to the volatile Memory backend when the requested backend cannot be
// constructed (an unwritable directory, a sandboxed environment). The
// fallback is logged and reported through the returned Location; it is
// irreversible for the session. Client startup never fails solely because
// durable storage is unavailable.
func NewWithFallback(location Location, opt ...Option) (Store, Location) {
	opts := getOpts(opt...)
	s, err := New(location, opt...)
	if err != nil {
		opts.withLogger.Warn("storage backend unavailable, falling back to memory",
			"requested", string(location), "error", err)
		return NewMemory(), MemoryLocation
	}
	return s, location
}
