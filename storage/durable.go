// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Durable is the durable file-backed backend. All entries live in a single
// JSON document that is atomically replaced on every mutation (write to a
// temp file, then rename), so a crash mid-write leaves either the old or the
// new document, never a torn one.
type Durable struct {
	mu   sync.RWMutex
	path string
	data map[string]string
}

var _ Store = (*Durable)(nil)

// NewDurable creates (or reopens) a durable store backed by
// dir/<namespace>.json. Construction fails if the directory cannot be
// created or the existing document cannot be read; callers that must not
// fail at startup should use NewWithFallback.
func NewDurable(dir, namespace string) (*Durable, error) {
	const op = "storage.NewDurable"
	if dir == "" {
		return nil, fmt.Errorf("%s: directory is empty: %w", op, ErrInvalidParameter)
	}
	if namespace == "" {
		namespace = "spakit"
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	d := &Durable{
		path: filepath.Join(dir, namespace+".json"),
		data: map[string]string{},
	}
	if err := d.load(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return d, nil
}

func (d *Durable) load() error {
	raw, err := os.ReadFile(d.path)
	switch {
	case os.IsNotExist(err):
		return nil
	case err != nil:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &d.data); err != nil {
		// An unparsable document is untrusted; start empty rather than
		// failing startup. The encrypted-record import will regenerate its
		// encryption context anyway.
		d.data = map[string]string{}
	}
	return nil
}

// persist must be called with d.mu held.
func (d *Durable) persist() error {
	raw, err := json.Marshal(d.data)
	if err != nil {
		return fmt.Errorf("unable to marshal store: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(d.path), ".spakit-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := os.Rename(tmpName, d.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (d *Durable) Get(key string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.data[key]
	return v, ok
}

func (d *Durable) Set(key, value string) error {
	const op = "storage.(Durable).Set"
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data[key] = value
	if err := d.persist(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (d *Durable) Remove(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.data[key]; !ok {
		return
	}
	delete(d.data, key)
	// best effort: the in-memory view stays authoritative for this session
	_ = d.persist()
}

func (d *Durable) Keys() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	keys := make([]string, 0, len(d.data))
	for k := range d.data {
		keys = append(keys, k)
	}
	return keys
}

func (d *Durable) Contains(key string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.data[key]
	return ok
}
