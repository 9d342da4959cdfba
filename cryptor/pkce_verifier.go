// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package cryptor

import (
	"fmt"
)

// ChallengeMethod represents a PKCE code challenge method (see RFC 7636).
type ChallengeMethod string

const (
	// S256 is the only supported PKCE challenge method: the challenge is the
	// unpadded base64url encoding of the SHA-256 digest of the verifier.
	S256 ChallengeMethod = "S256"

	// min/max verifier lengths per RFC 7636 section 4.1
	minVerifierLen = 43
	maxVerifierLen = 128

	// 32 bytes of entropy encode to exactly 43 base64url characters.
	verifierEntropyBytes = 32
)

// CodeVerifier represents an OAuth PKCE code verifier (see RFC 7636) along
// with its derived S256 challenge.
type CodeVerifier struct {
	verifier  string
	method    ChallengeMethod
	challenge string
}

// NewCodeVerifier creates a CodeVerifier with 256 bits of entropy and an
// S256-derived challenge.
func NewCodeVerifier() (*CodeVerifier, error) {
	const op = "cryptor.NewCodeVerifier"
	data, err := randomBytes(verifierEntropyBytes)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create verifier data: %w", op, err)
	}
	v := &CodeVerifier{
		verifier: Base64URLEncode(data),
		method:   S256,
	}
	challenge, err := CreateCodeChallenge(v)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create code challenge: %w", op, err)
	}
	v.challenge = challenge
	return v, nil
}

// NewCodeVerifierFromString restores a CodeVerifier from a previously
// generated verifier string, recomputing its challenge. It's used when
// correlation state is re-read from the request cache.
func NewCodeVerifierFromString(verifier string) (*CodeVerifier, error) {
	const op = "cryptor.NewCodeVerifierFromString"
	if n := len(verifier); n < minVerifierLen || n > maxVerifierLen {
		return nil, fmt.Errorf("%s: verifier length %d outside of [%d, %d]: %w", op, n, minVerifierLen, maxVerifierLen, ErrInvalidParameter)
	}
	v := &CodeVerifier{
		verifier: verifier,
		method:   S256,
	}
	challenge, err := CreateCodeChallenge(v)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create code challenge: %w", op, err)
	}
	v.challenge = challenge
	return v, nil
}

func (v *CodeVerifier) Verifier() string        { return v.verifier }
func (v *CodeVerifier) Challenge() string       { return v.challenge }
func (v *CodeVerifier) Method() ChallengeMethod { return v.method }

// Copy returns a copy of the verifier.
func (v *CodeVerifier) Copy() *CodeVerifier {
	return &CodeVerifier{
		verifier:  v.verifier,
		method:    v.method,
		challenge: v.challenge,
	}
}

// CreateCodeChallenge derives the S256 code challenge for the verifier.
func CreateCodeChallenge(v *CodeVerifier) (string, error) {
	const op = "cryptor.CreateCodeChallenge"
	if v == nil {
		return "", fmt.Errorf("%s: code verifier is nil: %w", op, ErrNilParameter)
	}
	if v.method != S256 {
		return "", fmt.Errorf("%s: %q: %w", op, v.method, ErrUnsupportedChallengeMethod)
	}
	var p Provider
	return Base64URLEncode(p.SHA256(v.verifier)), nil
}
