// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package cache

import (
	"encoding/json"
	"fmt"

	"github.com/spakit/spakit/cryptor"
)

// encryptionContext is the per-profile secret the durable tier is encrypted
// under. It is persisted only in the cookie tier, never in the encrypted
// store itself, which would be circular. The key material is base64url.
type encryptionContext struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// envelope is the persisted shape of one encrypted durable record. ID names
// the encryption context the record was sealed under; a record carrying a
// different context id than the live one is from a stale session and is
// dropped on import.
type envelope struct {
	ID    string `json:"id"`
	Nonce string `json:"nonce"`
	Data  string `json:"data"`
}

// loadOrCreateContext reads the encryption context from the cookie tier.
// When the context is absent or unparsable the existing durable records are
// unreadable and therefore untrusted: they are wiped, and a fresh context is
// generated and persisted. "Can't decrypt" is treated the same as "don't
// trust" — there is deliberately no plaintext fallback.
func (m *Manager) loadOrCreateContext() (*encryptionContext, bool, error) {
	const op = "cache.(Manager).loadOrCreateContext"

	if raw, ok := m.cookie.Get(encryptionContextKey); ok {
		var ec encryptionContext
		if err := json.Unmarshal([]byte(raw), &ec); err == nil && ec.ID != "" && ec.Key != "" {
			if _, err := cryptor.Base64URLDecode(ec.Key); err == nil {
				return &ec, false, nil
			}
		}
		m.logger.Warn("encryption context unparsable, regenerating")
	}

	id, err := m.cryptor.RandomGUID()
	if err != nil {
		return nil, false, fmt.Errorf("%s: unable to generate context id: %w", op, err)
	}
	material, err := m.cryptor.RandomGUID()
	if err != nil {
		return nil, false, fmt.Errorf("%s: unable to generate key material: %w", op, err)
	}
	ec := &encryptionContext{
		ID:  id,
		Key: cryptor.Base64URLEncode([]byte(material)),
	}
	raw, err := json.Marshal(ec)
	if err != nil {
		return nil, false, fmt.Errorf("%s: unable to marshal context: %w", op, err)
	}
	if err := m.cookie.Set(encryptionContextKey, string(raw)); err != nil {
		return nil, false, fmt.Errorf("%s: unable to persist context: %w", op, err)
	}
	return ec, true, nil
}

// deriveKey turns the context's key material into the symmetric cache key.
func (m *Manager) deriveKey(ec *encryptionContext) ([]byte, error) {
	const op = "cache.(Manager).deriveKey"
	material, err := cryptor.Base64URLDecode(ec.Key)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid key material: %w", op, err)
	}
	key, err := m.cryptor.DeriveCacheKey(material, []byte(ec.ID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return key, nil
}

// bindingContext returns the encryption binding for a record: app-specific
// records bind to the client id, shared records to the shared context.
func (m *Manager) bindingContext(appSpecific bool) string {
	if appSpecific {
		return m.clientID
	}
	return sharedContext
}
