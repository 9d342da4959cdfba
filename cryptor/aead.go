// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package cryptor

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const derivedKeyLen = 32 // AES-256

// Envelope is the result of an authenticated encryption: the ciphertext
// (which includes the GCM tag) and the random nonce used to seal it.
type Envelope struct {
	Nonce []byte
	Data  []byte
}

// DeriveCacheKey derives a 32-byte symmetric key from durable secret
// material using HKDF-SHA256. The derivation is one way: the secret material
// cannot be recovered from the derived key, so the derived key never needs
// to be persisted.
func (p *Provider) DeriveCacheKey(secret, salt []byte) ([]byte, error) {
	const op = "cryptor.(Provider).DeriveCacheKey"
	if len(secret) == 0 {
		return nil, fmt.Errorf("%s: secret material is empty: %w", op, ErrInvalidParameter)
	}
	r := hkdf.New(sha256.New, secret, salt, nil)
	key := make([]byte, derivedKeyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("%s: unable to derive key: %w", op, err)
	}
	return key, nil
}

// Encrypt seals plaintext under key with AES-256-GCM. The binding context is
// mixed in as additional authenticated data, so a ciphertext sealed for one
// context cannot be opened under another even with the same key.
func (p *Provider) Encrypt(key, plaintext []byte, context string) (*Envelope, error) {
	const op = "cryptor.(Provider).Encrypt"
	aead, err := newAEAD(key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	nonce, err := randomBytes(aead.NonceSize())
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate nonce: %w", op, err)
	}
	return &Envelope{
		Nonce: nonce,
		Data:  aead.Seal(nil, nonce, plaintext, []byte(context)),
	}, nil
}

// Decrypt opens a ciphertext sealed by Encrypt. Any tampering, a wrong key,
// or a different binding context fails closed with ErrDecryptionFailed.
func (p *Provider) Decrypt(key, nonce []byte, context string, ciphertext []byte) ([]byte, error) {
	const op = "cryptor.(Provider).Decrypt"
	aead, err := newAEAD(key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%s: nonce length %d: %w", op, len(nonce), ErrInvalidParameter)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(context))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrDecryptionFailed)
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != derivedKeyLen {
		return nil, fmt.Errorf("key length %d is not %d: %w", len(key), derivedKeyLen, ErrInvalidParameter)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("unable to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("unable to create GCM: %w", err)
	}
	return aead, nil
}
