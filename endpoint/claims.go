// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package endpoint

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// IDTokenClaims is the subset of ID-token claims the cache and account
// model care about.
type IDTokenClaims struct {
	Subject           string
	ObjectID          string // oid
	TenantID          string // tid
	PreferredUsername string
	Name              string
	Nonce             string
	Raw               map[string]interface{}
}

// HomeAccountID derives the stable cross-tenant account identifier from
// the claims: "<oid>.<tid>" when both are present, otherwise the subject.
func (c *IDTokenClaims) HomeAccountID() string {
	if c.ObjectID != "" && c.TenantID != "" {
		return c.ObjectID + "." + c.TenantID
	}
	return c.Subject
}

// LocalAccountID is the identity's id within its realm.
func (c *IDTokenClaims) LocalAccountID() string {
	if c.ObjectID != "" {
		return c.ObjectID
	}
	return c.Subject
}

// ClaimsExtractor is the claims-extraction collaborator: a pure function
// over an ID-token compact serialization, no I/O.
type ClaimsExtractor interface {
	ExtractClaims(idToken string) (*IDTokenClaims, error)
}

// JWTExtractor extracts claims without verifying the signature. Signature
// and nonce verification happen in the flow against the resolved
// authority; extraction is only concerned with the payload shape.
type JWTExtractor struct{}

var _ ClaimsExtractor = (*JWTExtractor)(nil)

// ExtractClaims parses the ID token's payload.
func (JWTExtractor) ExtractClaims(idToken string) (*IDTokenClaims, error) {
	const op = "endpoint.(JWTExtractor).ExtractClaims"
	if idToken == "" {
		return nil, fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrMalformedIDToken, err)
	}

	str := func(name string) string {
		if v, ok := claims[name].(string); ok {
			return v
		}
		return ""
	}
	return &IDTokenClaims{
		Subject:           str("sub"),
		ObjectID:          str("oid"),
		TenantID:          str("tid"),
		PreferredUsername: str("preferred_username"),
		Name:              str("name"),
		Nonce:             str("nonce"),
		Raw:               claims,
	}, nil
}
