// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package flows implements the interaction clients: redirect, popup, and
// the silent acquisition paths (cache, hidden frame, refresh token,
// caller-provided code, native broker). Every web-bound flow is the same
// authorization-code+PKCE exchange; the modes differ only in how the
// authorize response is detected.
package flows

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/spakit/spakit/cache"
	"github.com/spakit/spakit/cryptor"
	"github.com/spakit/spakit/endpoint"
	"github.com/spakit/spakit/events"
)

// Config carries the collaborators a Flow needs. All fields are required.
type Config struct {
	ClientID    string
	RedirectURI string
	Crypto      *cryptor.Provider
	Cache       *cache.Manager
	Agent       UserAgent
	Exchanger   endpoint.TokenExchanger
	Resolver    endpoint.Resolver
	Claims      endpoint.ClaimsExtractor
}

func (c *Config) validate() error {
	const op = "flows.(Config).validate"
	switch {
	case c == nil:
		return fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	case c.ClientID == "":
		return fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	case c.RedirectURI == "":
		return fmt.Errorf("%s: redirect uri is empty: %w", op, ErrInvalidParameter)
	case c.Crypto == nil:
		return fmt.Errorf("%s: crypto provider is nil: %w", op, ErrNilParameter)
	case c.Cache == nil:
		return fmt.Errorf("%s: cache manager is nil: %w", op, ErrNilParameter)
	case c.Agent == nil:
		return fmt.Errorf("%s: user agent is nil: %w", op, ErrNilParameter)
	case c.Exchanger == nil:
		return fmt.Errorf("%s: token exchanger is nil: %w", op, ErrNilParameter)
	case c.Resolver == nil:
		return fmt.Errorf("%s: authority resolver is nil: %w", op, ErrNilParameter)
	case c.Claims == nil:
		return fmt.Errorf("%s: claims extractor is nil: %w", op, ErrNilParameter)
	}
	return nil
}

// Flow is the shared engine behind every interaction client.
type Flow struct {
	clientID    string
	redirectURI string
	crypto      *cryptor.Provider
	cache       *cache.Manager
	agent       UserAgent
	exchanger   endpoint.TokenExchanger
	resolver    endpoint.Resolver
	claims      endpoint.ClaimsExtractor
	bus         *events.Bus
	broker      BrokerTransport
	logger      hclog.Logger
	defaults    options
}

// New creates a Flow. Supported options: WithLogger, WithBus, WithBroker,
// WithPollInterval, WithPopupTimeout, WithIframeTimeout, WithNow; the
// per-request options can also be given here as defaults.
func New(cfg *Config, opt ...Option) (*Flow, error) {
	const op = "flows.New"
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := getOpts(opt...)
	logger := opts.withLogger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Flow{
		clientID:    cfg.ClientID,
		redirectURI: cfg.RedirectURI,
		crypto:      cfg.Crypto,
		cache:       cfg.Cache,
		agent:       cfg.Agent,
		exchanger:   cfg.Exchanger,
		resolver:    cfg.Resolver,
		claims:      cfg.Claims,
		bus:         opts.withBus,
		broker:      opts.withBroker,
		logger:      logger,
		defaults:    opts,
	}, nil
}

// requestOpts layers per-call options over the Flow's defaults.
func (f *Flow) requestOpts(opt ...Option) options {
	opts := f.defaults
	ApplyOpts(&opts, opt...)
	return opts
}

func (f *Flow) emit(t events.Type, kind InteractionType, payload interface{}, err error) {
	if f.bus == nil {
		return
	}
	f.bus.Emit(events.Event{
		Type:            t,
		InteractionKind: string(kind),
		Payload:         payload,
		Error:           err,
	})
}

// Result is the outcome of a successful acquisition.
type Result struct {
	Account     *cache.Account
	IDToken     string
	AccessToken string
	TokenType   string
	Scopes      []string
	ExpiresOn   time.Time

	// State carries the opaque caller metadata round-tripped through the
	// request's state value, when any was provided.
	StateMeta string

	// FromCache reports that the result was served without a network
	// round trip.
	FromCache bool
}

// initRequest resolves the authority, mints the request's correlation
// material, and persists it keyed by the request's state value. Redirect
// flows persist to the cookie tier as well, since the in-process tier
// does not survive the coming top-level navigation.
func (f *Flow) initRequest(ctx context.Context, interaction InteractionType, authorityURL string, scopes []string, persistToCookie bool, opts options) (*Request, error) {
	const op = "flows.(Flow).initRequest"
	authority, err := f.resolver.Resolve(ctx, authorityURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req, err := newRequest(f.crypto, interaction, authority, f.clientID, f.redirectURI, scopes, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	err = f.cache.SetCorrelation(req.state, &cache.Correlation{
		Nonce:     req.nonce,
		Verifier:  req.verifier.Verifier(),
		Authority: authority.Issuer,
	}, persistToCookie)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return req, nil
}

// redeemCode trades the authorization code for tokens using the
// correlation state stored for the response's state value, verifies the
// returned ID token's nonce, and persists the account and credentials.
func (f *Flow) redeemCode(ctx context.Context, state, code string, scopes []string, opts options) (*Result, error) {
	const op = "flows.(Flow).redeemCode"
	corr, err := f.cache.Correlation(state)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	authority, err := f.resolver.Resolve(ctx, corr.Authority)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ctx = endpoint.WithTokenEndpoint(ctx, authority.TokenEndpoint)
	tr, err := f.exchanger.ExchangeCode(ctx, code, corr.Verifier, f.redirectURI, withOpenIDScopes(scopes))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	claims, err := f.claims.ExtractClaims(tr.IDToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if claims.Nonce != corr.Nonce {
		return nil, fmt.Errorf("%s: %w", op, ErrNonceMismatch)
	}

	account := accountFromClaims(claims, authority)
	result, err := f.persistResult(tr, account, scopes, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if sc, err := DecodeState(state); err == nil {
		result.StateMeta = sc.Meta
	}
	return result, nil
}

func accountFromClaims(claims *endpoint.IDTokenClaims, authority *endpoint.Authority) *cache.Account {
	return &cache.Account{
		HomeAccountID:       claims.HomeAccountID(),
		Environment:         authority.Host(),
		Realm:               claims.TenantID,
		LocalAccountID:      claims.LocalAccountID(),
		Username:            claims.PreferredUsername,
		TenantProfileClaims: claims.Raw,
	}
}

// persistResult writes the account and its ID/access/refresh credentials
// to the cache and shapes the caller-facing result.
func (f *Flow) persistResult(tr *endpoint.TokenResult, account *cache.Account, requestedScopes []string, opts options) (*Result, error) {
	const op = "flows.(Flow).persistResult"
	if err := f.cache.SetAccount(account); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := opts.withNow()
	grantedScopes := tr.GrantedScopes
	if len(grantedScopes) == 0 {
		grantedScopes = withOpenIDScopes(requestedScopes)
	}
	creds := []*cache.Credential{{
		Type:          cache.AccessTokenType,
		HomeAccountID: account.HomeAccountID,
		Environment:   account.Environment,
		ClientID:      f.clientID,
		Realm:         account.Realm,
		Secret:        cache.Secret(tr.AccessToken),
		Scopes:        grantedScopes,
		IssuedAt:      now.Unix(),
		ExpiresOn:     tr.Expiry.Unix(),
		TokenType:     tr.TokenType,
		ClaimsHash:    opts.withClaimsHash,
	}}
	if tr.IDToken != "" {
		creds = append(creds, &cache.Credential{
			Type:          cache.IDTokenType,
			HomeAccountID: account.HomeAccountID,
			Environment:   account.Environment,
			ClientID:      f.clientID,
			Realm:         account.Realm,
			Secret:        cache.Secret(tr.IDToken),
		})
	}
	if tr.RefreshToken != "" {
		creds = append(creds, &cache.Credential{
			Type:          cache.RefreshTokenType,
			HomeAccountID: account.HomeAccountID,
			Environment:   account.Environment,
			ClientID:      f.clientID,
			Realm:         account.Realm,
			Secret:        cache.Secret(tr.RefreshToken),
		})
	}
	for _, cred := range creds {
		if err := f.cache.SetCredential(cred); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	return &Result{
		Account:     account,
		IDToken:     tr.IDToken,
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
		Scopes:      grantedScopes,
		ExpiresOn:   tr.Expiry,
	}, nil
}
