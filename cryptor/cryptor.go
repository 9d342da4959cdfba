// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package cryptor

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-uuid"
)

// Provider wraps the platform crypto primitives needed for token
// acquisition and cache encryption: random identifiers, SHA-256 digests,
// base64url codecs, an in-process signing-key store and authenticated
// symmetric encryption. A Provider is safe for concurrent use.
type Provider struct {
	logger hclog.Logger

	mu          sync.RWMutex
	signingKeys map[string]*signingKeyPair
}

// New creates a Provider. The platform entropy source is exercised once up
// front: a Provider that cannot generate randomness cannot be used for
// anything, so that failure is fatal at construction rather than deferred to
// the first per-operation error.
func New(opt ...Option) (*Provider, error) {
	const op = "cryptor.New"
	opts := getOpts(opt...)

	probe := make([]byte, 1)
	if _, err := rand.Read(probe); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrEntropyUnavailable, err)
	}

	return &Provider{
		logger:      opts.withLogger,
		signingKeys: map[string]*signingKeyPair{},
	}, nil
}

// RandomGUID generates a cryptographically random identifier, suitable for
// request state, nonces, and encryption-context ids.
func (p *Provider) RandomGUID() (string, error) {
	const op = "cryptor.(Provider).RandomGUID"
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate id: %w", op, err)
	}
	return id, nil
}

// SHA256 returns the SHA-256 digest of text.
func (p *Provider) SHA256(text string) []byte {
	sum := sha256.Sum256([]byte(text))
	return sum[:]
}

// Base64URLEncode encodes data as unpadded base64url.
func Base64URLEncode(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// Base64URLDecode decodes an unpadded base64url string.
func Base64URLDecode(s string) ([]byte, error) {
	const op = "cryptor.Base64URLDecode"
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrInvalidParameter, err)
	}
	return data, nil
}

func randomBytes(n int) ([]byte, error) {
	const op = "cryptor.randomBytes"
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrEntropyUnavailable, err)
	}
	return b, nil
}
