// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package flows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spakit/spakit/cache"
	"github.com/spakit/spakit/endpoint"
)

// SilentCache serves an acquisition from the cache alone: an unexpired
// access token for the account whose scope set covers the request (and
// whose claims hash matches). No network round trip is made; a miss is
// ErrNoCachedToken.
func (f *Flow) SilentCache(account *cache.Account, scopes []string, opt ...Option) (*Result, error) {
	const op = "flows.(Flow).SilentCache"
	if account == nil {
		return nil, fmt.Errorf("%s: account is nil: %w", op, ErrNilParameter)
	}
	opts := f.requestOpts(opt...)

	at, err := f.cache.FindCredential(cache.CredentialMatch{
		Type:          cache.AccessTokenType,
		HomeAccountID: account.HomeAccountID,
		Realm:         account.Realm,
		Scopes:        scopes,
		ClaimsHash:    opts.withClaimsHash,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNoCachedToken)
	}
	if at.IsExpired(cache.DefaultExpiryOffset, opts.withNow) {
		return nil, fmt.Errorf("%s: cached token is expired: %w", op, ErrNoCachedToken)
	}

	result := &Result{
		Account:     account,
		AccessToken: string(at.Secret),
		TokenType:   at.TokenType,
		Scopes:      at.Scopes,
		ExpiresOn:   time.Unix(at.ExpiresOn, 0),
		FromCache:   true,
	}
	// the ID token is informational on a cache hit; its absence is not a
	// miss
	if id, err := f.cache.FindCredential(cache.CredentialMatch{
		Type:          cache.IDTokenType,
		HomeAccountID: account.HomeAccountID,
		Realm:         account.Realm,
	}); err == nil {
		result.IDToken = string(id.Secret)
	}
	return result, nil
}

// SilentRefresh renews the account's tokens with its cached refresh
// token. ErrNoRefreshToken when none is cached; an invalid_grant from the
// authority (revoked or expired refresh token) propagates as
// endpoint.ErrInvalidGrant for the caller to escalate to interaction.
func (f *Flow) SilentRefresh(ctx context.Context, authorityURL string, account *cache.Account, scopes []string, opt ...Option) (*Result, error) {
	const op = "flows.(Flow).SilentRefresh"
	if account == nil {
		return nil, fmt.Errorf("%s: account is nil: %w", op, ErrNilParameter)
	}
	opts := f.requestOpts(opt...)

	rt, err := f.cache.FindCredential(cache.CredentialMatch{
		Type:          cache.RefreshTokenType,
		HomeAccountID: account.HomeAccountID,
	})
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrNoRefreshToken)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	authority, err := f.resolver.Resolve(ctx, authorityURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !authority.IsAliasOf(account.Environment) {
		return nil, fmt.Errorf("%s: account environment %q: %w", op, account.Environment, ErrAuthorityMismatch)
	}

	ctx = endpoint.WithTokenEndpoint(ctx, authority.TokenEndpoint)
	tr, err := f.exchanger.ExchangeRefreshToken(ctx, string(rt.Secret), withOpenIDScopes(scopes))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// a refresh response may or may not carry a new ID token; without one
	// the existing account record stands
	if tr.IDToken != "" {
		claims, err := f.claims.ExtractClaims(tr.IDToken)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		account = accountFromClaims(claims, authority)
	}
	result, err := f.persistResult(tr, account, scopes, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// SilentAuthCode redeems an authorization code the application obtained
// out of band (hybrid flows where a server-rendered page delivers a code
// alongside the document). No correlation state exists for such a code,
// so there is no PKCE verifier and no nonce to check.
func (f *Flow) SilentAuthCode(ctx context.Context, authorityURL, code string, scopes []string, opt ...Option) (*Result, error) {
	const op = "flows.(Flow).SilentAuthCode"
	if code == "" {
		return nil, fmt.Errorf("%s: authorization code is empty: %w", op, ErrInvalidParameter)
	}
	opts := f.requestOpts(opt...)

	authority, err := f.resolver.Resolve(ctx, authorityURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ctx = endpoint.WithTokenEndpoint(ctx, authority.TokenEndpoint)
	tr, err := f.exchanger.ExchangeCode(ctx, code, "", f.redirectURI, withOpenIDScopes(scopes))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	claims, err := f.claims.ExtractClaims(tr.IDToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	result, err := f.persistResult(tr, accountFromClaims(claims, authority), scopes, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
