// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package cryptor

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"fmt"

	jose "gopkg.in/square/go-jose.v2"
)

const signingKeyBits = 2048

type signingKeyPair struct {
	private    *rsa.PrivateKey
	thumbprint string
}

// GenerateSigningKeyPair generates an RSA key pair for proof-of-possession
// token signing, stores it in the Provider's in-process key store, and
// returns the base64url-encoded RFC 7638 JWK SHA-256 thumbprint of the
// public key. The thumbprint is the handle used to retrieve or remove the
// pair later in the same session.
func (p *Provider) GenerateSigningKeyPair() (string, error) {
	const op = "cryptor.(Provider).GenerateSigningKeyPair"
	priv, err := rsa.GenerateKey(rand.Reader, signingKeyBits)
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate key pair: %w", op, err)
	}

	jwk := jose.JSONWebKey{Key: priv.Public()}
	tp, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("%s: unable to compute thumbprint: %w", op, err)
	}
	thumbprint := Base64URLEncode(tp)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.signingKeys[thumbprint] = &signingKeyPair{
		private:    priv,
		thumbprint: thumbprint,
	}
	return thumbprint, nil
}

// SigningKey returns the private key for a thumbprint previously returned by
// GenerateSigningKeyPair. A thumbprint that was never generated in this
// session fails with ErrKeyNotFound; signing with a missing key must never
// be silently skipped, since it would produce tokens bound to nothing.
func (p *Provider) SigningKey(thumbprint string) (*rsa.PrivateKey, error) {
	const op = "cryptor.(Provider).SigningKey"
	p.mu.RLock()
	defer p.mu.RUnlock()
	pair, ok := p.signingKeys[thumbprint]
	if !ok {
		return nil, fmt.Errorf("%s: %q: %w", op, thumbprint, ErrKeyNotFound)
	}
	return pair.private, nil
}

// RemoveSigningKey deletes the key pair for the thumbprint. Removing an
// unknown thumbprint is a no-op.
func (p *Provider) RemoveSigningKey(thumbprint string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.signingKeys, thumbprint)
}
