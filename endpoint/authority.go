// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package endpoint

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/spakit/spakit/internal/strutils"
)

// Authority is the resolved view of an issuer: its endpoints plus the set
// of host aliases a cached account's environment may legitimately carry.
type Authority struct {
	Issuer             string
	AuthorizeEndpoint  string
	TokenEndpoint      string
	EndSessionEndpoint string
	Aliases            []string
}

// IsAliasOf reports whether environment names this authority (used to
// validate that a cached account's environment matches a newly resolved
// authority).
func (a *Authority) IsAliasOf(environment string) bool {
	if a == nil {
		return false
	}
	lowered := make([]string, 0, len(a.Aliases))
	for _, alias := range a.Aliases {
		lowered = append(lowered, strings.ToLower(alias))
	}
	return strutils.StrListContains(lowered, strings.ToLower(environment))
}

// Host returns the authority's issuer host.
func (a *Authority) Host() string {
	u, err := url.Parse(a.Issuer)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// Resolver is the authority-resolution collaborator.
type Resolver interface {
	Resolve(ctx context.Context, authorityURL string) (*Authority, error)
}

// DiscoveryResolver resolves authorities through OIDC discovery and caches
// the result per issuer for the life of the process.
type DiscoveryResolver struct {
	client     *oidcClientHolder
	knownHosts []string
	mu         sync.Mutex
	resolved   map[string]*Authority
}

var _ Resolver = (*DiscoveryResolver)(nil)

type oidcClientHolder struct {
	caPEM string
}

// NewDiscoveryResolver creates a resolver. knownHosts optionally restricts
// which authority hosts may be resolved at all; an empty list trusts any
// https authority.
func NewDiscoveryResolver(caPEM string, knownHosts []string) *DiscoveryResolver {
	return &DiscoveryResolver{
		client:     &oidcClientHolder{caPEM: caPEM},
		knownHosts: knownHosts,
		resolved:   map[string]*Authority{},
	}
}

// Resolve performs OIDC discovery against the authority (or returns the
// cached resolution), returning its endpoints and aliases.
func (r *DiscoveryResolver) Resolve(ctx context.Context, authorityURL string) (*Authority, error) {
	const op = "endpoint.(DiscoveryResolver).Resolve"
	issuer := strings.TrimSuffix(authorityURL, "/")
	if issuer == "" {
		return nil, fmt.Errorf("%s: authority url is empty: %w", op, ErrInvalidParameter)
	}
	u, err := url.Parse(issuer)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%s: authority url %q is invalid: %w", op, authorityURL, ErrInvalidParameter)
	}
	if len(r.knownHosts) > 0 && !strutils.StrListContains(r.knownHosts, strings.ToLower(u.Host)) {
		return nil, fmt.Errorf("%s: host %q: %w", op, u.Host, ErrUntrustedAuthority)
	}

	r.mu.Lock()
	if a, ok := r.resolved[issuer]; ok {
		r.mu.Unlock()
		return a, nil
	}
	r.mu.Unlock()

	httpClient, err := newHTTPClient(r.client.caPEM)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, httpClient), issuer)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrUnreachableAuthority, err)
	}

	var extra struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	// end_session_endpoint is optional metadata; a provider without one is
	// still usable for token acquisition.
	_ = provider.Claims(&extra)

	a := &Authority{
		Issuer:             issuer,
		AuthorizeEndpoint:  provider.Endpoint().AuthURL,
		TokenEndpoint:      provider.Endpoint().TokenURL,
		EndSessionEndpoint: extra.EndSessionEndpoint,
		Aliases:            []string{strings.ToLower(u.Host)},
	}

	r.mu.Lock()
	r.resolved[issuer] = a
	r.mu.Unlock()
	return a, nil
}
