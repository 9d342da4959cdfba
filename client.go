// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package spakit

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/spakit/spakit/cache"
	"github.com/spakit/spakit/cryptor"
	"github.com/spakit/spakit/endpoint"
	"github.com/spakit/spakit/events"
	"github.com/spakit/spakit/flows"
)

// AuthResult is the outcome of a successful token acquisition.
type AuthResult = flows.Result

// Config is the required configuration for a PublicClient.
type Config struct {
	// ClientID is the application's registered (public) client id.
	ClientID string

	// Authority is the default authority tokens are acquired from.
	// Individual requests may override it.
	Authority string

	// RedirectURI is the application URI the authority redirects back
	// to. It must be registered with the authority.
	RedirectURI string

	// KnownAuthorities optionally restricts which authority hosts may be
	// resolved at all. Empty trusts any https authority.
	KnownAuthorities []string

	// Agent performs navigation on the client's behalf: a browser
	// bridge, a webview, or a test double.
	Agent flows.UserAgent
}

func (c *Config) validate() error {
	const op = "spakit.(Config).validate"
	switch {
	case c == nil:
		return fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	case c.ClientID == "":
		return fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	case c.Authority == "":
		return fmt.Errorf("%s: authority is empty: %w", op, ErrInvalidParameter)
	case c.RedirectURI == "":
		return fmt.Errorf("%s: redirect uri is empty: %w", op, ErrInvalidParameter)
	case c.Agent == nil:
		return fmt.Errorf("%s: user agent is nil: %w", op, ErrNilParameter)
	}
	return nil
}

// PublicClient acquires tokens for a public (no client secret)
// application and maintains the encrypted token cache behind it.
type PublicClient struct {
	cfg      Config
	crypto   *cryptor.Provider
	cache    *cache.Manager
	flow     *flows.Flow
	resolver endpoint.Resolver
	bus      *events.Bus
	logger   hclog.Logger
}

// New creates a PublicClient. Collaborator defaults are OIDC discovery
// for authority resolution, an HTTP token-endpoint client, and an
// unverified-parse claims extractor; all are replaceable through
// options. Supported options: WithLogger, WithTokenExchanger,
// WithResolver, WithClaimsExtractor, WithBroker, WithDurableCacheDir,
// WithCookieStore, WithCAPEM, WithFlowOptions.
func New(cfg *Config, opt ...Option) (*PublicClient, error) {
	const op = "spakit.New"
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := getOpts(opt...)
	logger := opts.withLogger

	crypto, err := cryptor.New(cryptor.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cacheOpts := []cache.Option{cache.WithLogger(logger)}
	if opts.withCacheDir != "" {
		cacheOpts = append(cacheOpts, cache.WithDurableDir(opts.withCacheDir))
	}
	if opts.withCookieStore != nil {
		cacheOpts = append(cacheOpts, cache.WithCookieStore(opts.withCookieStore))
	}
	mgr, err := cache.NewManager(cfg.ClientID, crypto, cacheOpts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	exchanger := opts.withExchanger
	if exchanger == nil {
		exchanger, err = endpoint.NewHTTPExchanger(cfg.ClientID, opts.withCAPEM)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	resolver := opts.withResolver
	if resolver == nil {
		knownHosts := make([]string, 0, len(cfg.KnownAuthorities))
		for _, h := range cfg.KnownAuthorities {
			knownHosts = append(knownHosts, strings.ToLower(h))
		}
		resolver = endpoint.NewDiscoveryResolver(opts.withCAPEM, knownHosts)
	}
	claims := opts.withClaims
	if claims == nil {
		claims = endpoint.JWTExtractor{}
	}

	bus := events.New(logger)
	flowOpts := append([]flows.Option{
		flows.WithLogger(logger),
		flows.WithBus(bus),
	}, opts.withFlowOpts...)
	if opts.withBroker != nil {
		flowOpts = append(flowOpts, flows.WithBroker(opts.withBroker))
	}
	flow, err := flows.New(&flows.Config{
		ClientID:    cfg.ClientID,
		RedirectURI: cfg.RedirectURI,
		Crypto:      crypto,
		Cache:       mgr,
		Agent:       cfg.Agent,
		Exchanger:   exchanger,
		Resolver:    resolver,
		Claims:      claims,
	}, flowOpts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &PublicClient{
		cfg:      *cfg,
		crypto:   crypto,
		cache:    mgr,
		flow:     flow,
		resolver: resolver,
		bus:      bus,
		logger:   logger,
	}, nil
}

// Events is the client's lifecycle event bus.
func (c *PublicClient) Events() *events.Bus { return c.bus }

// Flush blocks until every queued durable cache write has been applied.
func (c *PublicClient) Flush() { c.cache.Flush() }

// Request describes an interactive acquisition.
type Request struct {
	// Scopes the access token must cover.
	Scopes []string

	// Authority overrides the client's default authority.
	Authority string

	// LoginHint pre-fills the authority's username field.
	LoginHint string

	// Prompt sets the authorize prompt parameter (login, consent,
	// select_account).
	Prompt string

	// Claims is a raw claims-request payload. Tokens acquired with a
	// claims payload are cached under its hash, separately from
	// claims-free tokens for the same scopes.
	Claims string

	// StateMeta is opaque caller metadata round-tripped through the
	// request's state value and returned on the result.
	StateMeta string
}

func (c *PublicClient) authorityFor(override string) string {
	if override != "" {
		return override
	}
	return c.cfg.Authority
}

func (c *PublicClient) flowOptions(r *Request) []flows.Option {
	var opt []flows.Option
	if r.LoginHint != "" {
		opt = append(opt, flows.WithLoginHint(r.LoginHint))
	}
	if r.Prompt != "" {
		opt = append(opt, flows.WithPrompt(r.Prompt))
	}
	if r.Claims != "" {
		opt = append(opt, flows.WithClaimsHash(c.hashClaims(r.Claims)))
	}
	if r.StateMeta != "" {
		opt = append(opt, flows.WithStateMeta(r.StateMeta))
	}
	return opt
}

// hashClaims derives the cache-partitioning hash for a claims payload.
func (c *PublicClient) hashClaims(claims string) string {
	return cryptor.Base64URLEncode(c.crypto.SHA256(claims))
}

// AcquireTokenPopup acquires tokens through a new visible window.
func (c *PublicClient) AcquireTokenPopup(ctx context.Context, r *Request) (*AuthResult, error) {
	const op = "spakit.(PublicClient).AcquireTokenPopup"
	if r == nil {
		return nil, fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	result, err := c.flow.Popup(ctx, c.authorityFor(r.Authority), r.Scopes, c.flowOptions(r)...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// AcquireTokenRedirect starts a redirect acquisition by navigating the
// top-level document. The flow resolves on a later HandleRedirect call.
func (c *PublicClient) AcquireTokenRedirect(ctx context.Context, r *Request) error {
	const op = "spakit.(PublicClient).AcquireTokenRedirect"
	if r == nil {
		return fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	if err := c.flow.Redirect(ctx, c.authorityFor(r.Authority), r.Scopes, c.flowOptions(r)...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// HandleRedirect consumes a pending redirect flow's response from the
// current document URL. It returns (nil, nil) when no redirect flow is
// pending, so applications can call it on every load.
func (c *PublicClient) HandleRedirect(ctx context.Context, currentURL string) (*AuthResult, error) {
	const op = "spakit.(PublicClient).HandleRedirect"
	result, err := c.flow.HandleRedirect(ctx, currentURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// SilentPolicy restricts which sources AcquireTokenSilent may use.
type SilentPolicy uint8

const (
	SilentCacheLookup SilentPolicy = 1 << iota
	SilentIframeLookup
	SilentRefreshLookup

	// SilentDefaultPolicy tries cache, then a hidden frame, then the
	// refresh token, in that order.
	SilentDefaultPolicy = SilentCacheLookup | SilentIframeLookup | SilentRefreshLookup
)

// SilentRequest describes a silent acquisition for a signed-in account.
type SilentRequest struct {
	Scopes  []string
	Account *cache.Account

	// Authority overrides the client's default authority.
	Authority string

	// Claims is a raw claims-request payload; see Request.Claims.
	Claims string

	// Policy restricts the sources tried. Zero means
	// SilentDefaultPolicy.
	Policy SilentPolicy

	// ForceRefresh skips the cache lookup even when the policy allows
	// it.
	ForceRefresh bool
}

// AcquireTokenSilent acquires tokens without user interaction, trying
// the cache, a hidden frame, and the refresh token in that order, as the
// request's policy permits. When every permitted source fails the error
// wraps ErrSilentFailed together with each source's failure.
func (c *PublicClient) AcquireTokenSilent(ctx context.Context, r *SilentRequest) (*AuthResult, error) {
	const op = "spakit.(PublicClient).AcquireTokenSilent"
	if r == nil {
		return nil, fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	if r.Account == nil {
		return nil, fmt.Errorf("%s: account is nil: %w", op, ErrNilParameter)
	}
	policy := r.Policy
	if policy == 0 {
		policy = SilentDefaultPolicy
	}
	var opt []flows.Option
	if r.Claims != "" {
		opt = append(opt, flows.WithClaimsHash(c.hashClaims(r.Claims)))
	}
	authority := c.authorityFor(r.Authority)

	var errs *multierror.Error
	if policy&SilentCacheLookup != 0 && !r.ForceRefresh {
		result, err := c.flow.SilentCache(r.Account, r.Scopes, opt...)
		if err == nil {
			return result, nil
		}
		errs = multierror.Append(errs, err)
	}
	if policy&SilentIframeLookup != 0 {
		result, err := c.flow.SilentIframe(ctx, authority, r.Account, r.Scopes, opt...)
		if err == nil {
			return result, nil
		}
		errs = multierror.Append(errs, err)
	}
	if policy&SilentRefreshLookup != 0 {
		result, err := c.flow.SilentRefresh(ctx, authority, r.Account, r.Scopes, opt...)
		if err == nil {
			return result, nil
		}
		errs = multierror.Append(errs, err)
	}
	return nil, fmt.Errorf("%s: %w: %v", op, ErrSilentFailed, errs.ErrorOrNil())
}

// AcquireTokenByAuthCode redeems an authorization code the application
// obtained out of band (hybrid flows where a server-rendered page
// delivers a code alongside the document).
func (c *PublicClient) AcquireTokenByAuthCode(ctx context.Context, code string, r *Request) (*AuthResult, error) {
	const op = "spakit.(PublicClient).AcquireTokenByAuthCode"
	if r == nil {
		return nil, fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	result, err := c.flow.SilentAuthCode(ctx, c.authorityFor(r.Authority), code, r.Scopes, c.flowOptions(r)...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// Accounts returns every cached account.
func (c *PublicClient) Accounts() ([]*cache.Account, error) {
	const op = "spakit.(PublicClient).Accounts"
	accounts, err := c.cache.Accounts()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return accounts, nil
}

// AccountByHomeID returns the cached account with the given home account
// id, or ErrNoAccount.
func (c *PublicClient) AccountByHomeID(homeAccountID string) (*cache.Account, error) {
	const op = "spakit.(PublicClient).AccountByHomeID"
	return c.findAccount(op, func(a *cache.Account) bool {
		return strings.EqualFold(a.HomeAccountID, homeAccountID)
	})
}

// AccountByUsername returns the cached account with the given username,
// or ErrNoAccount.
func (c *PublicClient) AccountByUsername(username string) (*cache.Account, error) {
	const op = "spakit.(PublicClient).AccountByUsername"
	return c.findAccount(op, func(a *cache.Account) bool {
		return strings.EqualFold(a.Username, username)
	})
}

func (c *PublicClient) findAccount(op string, match func(*cache.Account) bool) (*cache.Account, error) {
	accounts, err := c.cache.Accounts()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	for _, a := range accounts {
		if match(a) {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", op, ErrNoAccount)
}

// LogoutRequest narrows a Logout call.
type LogoutRequest struct {
	// Account limits the sign-out to one account. Nil clears the whole
	// cache for this client.
	Account *cache.Account

	// Authority overrides the client's default authority for the
	// end-session navigation.
	Authority string

	// SkipEndSession suppresses the best-effort navigation to the
	// authority's end-session endpoint.
	SkipEndSession bool
}

// Logout removes the named account and its credentials from the cache,
// or the whole cache when no account is given, then navigates to the
// authority's end-session endpoint when one is known. Cache removal is
// idempotent; signing out an unknown account is not an error.
func (c *PublicClient) Logout(ctx context.Context, r *LogoutRequest) error {
	const op = "spakit.(PublicClient).Logout"
	if r == nil {
		r = &LogoutRequest{}
	}
	if r.Account != nil {
		if err := c.cache.RemoveAccount(r.Account.Key()); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	} else {
		if err := c.cache.Clear(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	c.bus.Emit(events.Event{Type: events.Logout, Payload: r.Account})

	if !r.SkipEndSession {
		c.endSession(ctx, c.authorityFor(r.Authority))
	}
	return nil
}

// endSession is best effort: sign-out must succeed locally even when the
// authority is unreachable.
func (c *PublicClient) endSession(ctx context.Context, authorityURL string) {
	authority, err := c.resolver.Resolve(ctx, authorityURL)
	if err != nil || authority.EndSessionEndpoint == "" {
		if err != nil {
			c.logger.Debug("unable to resolve authority for end-session navigation", "error", err)
		}
		return
	}
	if err := c.cfg.Agent.Navigate(ctx, authority.EndSessionEndpoint); err != nil {
		c.logger.Debug("end-session navigation failed", "error", err)
	}
}
