// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package cache

import (
	"encoding/json"
	"fmt"

	"github.com/spakit/spakit/internal/strutils"
)

// The cache keeps two key indices (accounts and tokens) persisted as JSON
// arrays under fixed keys, so enumeration never scans the whole backend.
// Index mutations are read-modify-write against the full current array and
// must be sequenced by the manager lock; firing two partial updates in the
// same tick would lose one of them.

// readIndex must be called with m.mu held.
func (m *Manager) readIndex(indexKey string) []string {
	raw, ok := m.durable.Get(indexKey)
	if !ok || raw == "" {
		return nil
	}
	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		m.logger.Warn("cache index unparsable, rebuilding empty", "index", indexKey)
		return nil
	}
	return keys
}

// writeIndex must be called with m.mu held. The index is written to durable
// storage synchronously: an index entry pointing at a not-yet-written record
// is self-healed on lookup, but a written record missing from its index
// would be unreachable forever.
func (m *Manager) writeIndex(indexKey string, keys []string) error {
	const op = "cache.(Manager).writeIndex"
	raw, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("%s: unable to marshal index: %w", op, err)
	}
	if err := m.durable.Set(indexKey, string(raw)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// addToIndex must be called with m.mu held.
func (m *Manager) addToIndex(indexKey, key string) error {
	keys := m.readIndex(indexKey)
	if strutils.StrListContains(keys, key) {
		return nil
	}
	return m.writeIndex(indexKey, append(keys, key))
}

// removeFromIndex must be called with m.mu held.
func (m *Manager) removeFromIndex(indexKey, key string) error {
	keys := m.readIndex(indexKey)
	filtered := keys[:0]
	for _, k := range keys {
		if k != key {
			filtered = append(filtered, k)
		}
	}
	if len(filtered) == len(keys) {
		return nil
	}
	return m.writeIndex(indexKey, filtered)
}
