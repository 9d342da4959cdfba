// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package endpoint holds the narrow interfaces this library consumes from
// its wire-level collaborators — the token endpoint, the authority
// resolver, and the ID-token claims extractor — along with default
// implementations.
package endpoint

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/oauth2"
)

// TokenResult is the shape returned by every token-endpoint grant.
type TokenResult struct {
	AccessToken   string
	IDToken       string
	RefreshToken  string
	TokenType     string
	Expiry        time.Time
	GrantedScopes []string
}

// TokenExchanger is the token-endpoint collaborator: it trades an
// authorization code (with its PKCE verifier) or a refresh token for a
// token set.
type TokenExchanger interface {
	ExchangeCode(ctx context.Context, code, verifier, redirectURI string, scopes []string) (*TokenResult, error)
	ExchangeRefreshToken(ctx context.Context, refreshToken string, scopes []string) (*TokenResult, error)
}

// HTTPExchanger is the default TokenExchanger for a public client: no
// client secret, PKCE on every code exchange.
type HTTPExchanger struct {
	clientID string
	client   *http.Client
}

var _ TokenExchanger = (*HTTPExchanger)(nil)

// NewHTTPExchanger creates an exchanger for a client id. The optional CA
// PEM is used in place of the system chain when provided.
func NewHTTPExchanger(clientID string, caPEM string) (*HTTPExchanger, error) {
	const op = "endpoint.NewHTTPExchanger"
	if clientID == "" {
		return nil, fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	}
	client, err := newHTTPClient(caPEM)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &HTTPExchanger{
		clientID: clientID,
		client:   client,
	}, nil
}

// tokenEndpointFromContext carries the resolved token endpoint for a
// request. The endpoint differs per resolved authority, so it travels with
// the call rather than living on the exchanger.
type tokenEndpointKey struct{}

// WithTokenEndpoint returns a ctx carrying the token endpoint the next
// exchange should use.
func WithTokenEndpoint(ctx context.Context, tokenURL string) context.Context {
	return context.WithValue(ctx, tokenEndpointKey{}, tokenURL)
}

func tokenEndpointFromContext(ctx context.Context) (string, error) {
	v, ok := ctx.Value(tokenEndpointKey{}).(string)
	if !ok || v == "" {
		return "", fmt.Errorf("no token endpoint on context: %w", ErrInvalidParameter)
	}
	return v, nil
}

// ExchangeCode trades an authorization code and its PKCE verifier for
// tokens. A server response of invalid_grant is classified as
// ErrInvalidGrant so callers can apply their (narrow) retry policy.
func (e *HTTPExchanger) ExchangeCode(ctx context.Context, code, verifier, redirectURI string, scopes []string) (*TokenResult, error) {
	const op = "endpoint.(HTTPExchanger).ExchangeCode"
	if code == "" {
		return nil, fmt.Errorf("%s: authorization code is empty: %w", op, ErrInvalidParameter)
	}
	tokenURL, err := tokenEndpointFromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cfg := oauth2.Config{
		ClientID:    e.clientID,
		RedirectURL: redirectURI,
		Endpoint:    oauth2.Endpoint{TokenURL: tokenURL},
		Scopes:      scopes,
	}
	httpCtx := context.WithValue(ctx, oauth2.HTTPClient, e.client)
	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.SetAuthURLParam("code_verifier", verifier))
	}
	tok, err := cfg.Exchange(httpCtx, code, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to exchange auth code: %w", op, classifyOAuthErr(err))
	}
	result := resultFromToken(tok)
	if result.IDToken == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingIDToken)
	}
	return result, nil
}

// ExchangeRefreshToken trades a refresh token for a fresh token set.
func (e *HTTPExchanger) ExchangeRefreshToken(ctx context.Context, refreshToken string, scopes []string) (*TokenResult, error) {
	const op = "endpoint.(HTTPExchanger).ExchangeRefreshToken"
	if refreshToken == "" {
		return nil, fmt.Errorf("%s: refresh token is empty: %w", op, ErrInvalidParameter)
	}
	tokenURL, err := tokenEndpointFromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cfg := oauth2.Config{
		ClientID: e.clientID,
		Endpoint: oauth2.Endpoint{TokenURL: tokenURL},
		Scopes:   scopes,
	}
	httpCtx := context.WithValue(ctx, oauth2.HTTPClient, e.client)
	tok, err := cfg.TokenSource(httpCtx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, classifyOAuthErr(err))
	}
	return resultFromToken(tok), nil
}

func classifyOAuthErr(err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) && rErr.ErrorCode == "invalid_grant" {
		return fmt.Errorf("%s: %w", rErr.ErrorDescription, ErrInvalidGrant)
	}
	return err
}

func resultFromToken(tok *oauth2.Token) *TokenResult {
	r := &TokenResult{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
	if id, ok := tok.Extra("id_token").(string); ok {
		r.IDToken = id
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		r.GrantedScopes = strings.Fields(scope)
	}
	return r
}

// newHTTPClient builds a pooled client, optionally trusting only the
// provided CA PEM.
func newHTTPClient(caPEM string) (*http.Client, error) {
	tr := cleanhttp.DefaultPooledTransport()
	if caPEM != "" {
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM([]byte(caPEM)); !ok {
			return nil, ErrInvalidCACert
		}
		tr.TLSClientConfig = &tls.Config{RootCAs: pool}
	}
	return &http.Client{Transport: tr}, nil
}
