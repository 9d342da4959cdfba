// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package spakit

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/spakit/spakit/flows"
)

// TestAuthServer is a local authority for testing: it serves OIDC
// discovery, an authorize endpoint that verifies PKCE parameters and
// redirects back with a code, and a token endpoint that redeems the
// code against its PKCE challenge.
type TestAuthServer struct {
	t          *testing.T
	server     *httptest.Server
	signingKey []byte

	mu                sync.Mutex
	nextID            int
	codes             map[string]testGrant
	refreshTokens     map[string]bool
	authorizeRequests []url.Values
	loginRequired     bool
	expiresIn         int64
}

type testGrant struct {
	nonce       string
	challenge   string
	redirectURI string
	scope       string
}

// StartTestAuthServer starts a TestAuthServer. It is stopped
// automatically when the test ends.
func StartTestAuthServer(t *testing.T) *TestAuthServer {
	t.Helper()
	s := &TestAuthServer{
		t:             t,
		signingKey:    []byte("test-signing-key"),
		codes:         map[string]testGrant{},
		refreshTokens: map[string]bool{},
		expiresIn:     3600,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", s.discovery)
	mux.HandleFunc("/authorize", s.authorize)
	mux.HandleFunc("/token", s.token)
	mux.HandleFunc("/logout", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	s.server = httptest.NewServer(mux)
	t.Cleanup(s.server.Close)
	return s
}

// URL is the server's issuer URL; use it as the client's Authority.
func (s *TestAuthServer) URL() string { return s.server.URL }

// SetLoginRequired makes authorize requests with prompt=none fail with
// login_required, simulating an authority session that has expired.
func (s *TestAuthServer) SetLoginRequired(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginRequired = v
}

// SetExpiresIn overrides the expires_in the token endpoint reports.
func (s *TestAuthServer) SetExpiresIn(seconds int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiresIn = seconds
}

// AuthorizeRequests returns the query parameters of every authorize
// request received so far.
func (s *TestAuthServer) AuthorizeRequests() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]url.Values, len(s.authorizeRequests))
	copy(out, s.authorizeRequests)
	return out
}

func (s *TestAuthServer) discovery(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"issuer":                                s.server.URL,
		"authorization_endpoint":                s.server.URL + "/authorize",
		"token_endpoint":                        s.server.URL + "/token",
		"end_session_endpoint":                  s.server.URL + "/logout",
		"jwks_uri":                              s.server.URL + "/keys",
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (s *TestAuthServer) authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.mu.Lock()
	s.authorizeRequests = append(s.authorizeRequests, q)
	loginRequired := s.loginRequired
	s.mu.Unlock()

	redirectURI := q.Get("redirect_uri")
	state := q.Get("state")
	fail := func(code string) {
		http.Redirect(w, r, redirectURI+"#error="+code+"&state="+url.QueryEscape(state), http.StatusFound)
	}
	switch {
	case q.Get("client_id") == "" || redirectURI == "" || state == "":
		fail("invalid_request")
		return
	case q.Get("code_challenge") == "" || q.Get("code_challenge_method") != "S256":
		fail("invalid_request")
		return
	case q.Get("prompt") == "none" && loginRequired:
		fail("login_required")
		return
	}

	s.mu.Lock()
	s.nextID++
	code := fmt.Sprintf("test-code-%d", s.nextID)
	s.codes[code] = testGrant{
		nonce:       q.Get("nonce"),
		challenge:   q.Get("code_challenge"),
		redirectURI: redirectURI,
		scope:       q.Get("scope"),
	}
	s.mu.Unlock()

	http.Redirect(w, r, redirectURI+"#code="+code+"&state="+url.QueryEscape(state), http.StatusFound)
}

func (s *TestAuthServer) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.tokenError(w, "invalid_request", err.Error())
		return
	}
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		code := r.PostForm.Get("code")
		s.mu.Lock()
		grant, ok := s.codes[code]
		delete(s.codes, code)
		s.mu.Unlock()
		if !ok {
			s.tokenError(w, "invalid_grant", "unknown or already redeemed code")
			return
		}
		if challenge := pkceChallenge(r.PostForm.Get("code_verifier")); challenge != grant.challenge {
			s.tokenError(w, "invalid_grant", "code_verifier does not match the challenge")
			return
		}
		s.issueTokens(w, grant.nonce, grant.scope)
	case "refresh_token":
		rt := r.PostForm.Get("refresh_token")
		s.mu.Lock()
		ok := s.refreshTokens[rt]
		s.mu.Unlock()
		if !ok {
			s.tokenError(w, "invalid_grant", "unknown refresh token")
			return
		}
		s.issueTokens(w, "", r.PostForm.Get("scope"))
	default:
		s.tokenError(w, "unsupported_grant_type", "")
	}
}

func (s *TestAuthServer) issueTokens(w http.ResponseWriter, nonce, scope string) {
	s.mu.Lock()
	s.nextID++
	n := s.nextID
	expiresIn := s.expiresIn
	refreshToken := fmt.Sprintf("test-rt-%d", n)
	s.refreshTokens[refreshToken] = true
	s.mu.Unlock()

	claims := jwt.MapClaims{
		"iss":                s.server.URL,
		"sub":                "subject-1",
		"oid":                "uid",
		"tid":                "utid",
		"preferred_username": "bob@example.net",
		"name":               "Bob",
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}
	idToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		s.tokenError(w, "server_error", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token":  fmt.Sprintf("test-at-%d", n),
		"refresh_token": refreshToken,
		"id_token":      idToken,
		"token_type":    "Bearer",
		"expires_in":    expiresIn,
		"scope":         scope,
	})
}

func (s *TestAuthServer) tokenError(w http.ResponseWriter, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}

// SeedRefreshToken registers a refresh token the token endpoint will
// accept, so tests can exercise the refresh grant without a preceding
// interactive flow.
func (s *TestAuthServer) SeedRefreshToken(rt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens[rt] = true
}

func pkceChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// TestUserAgent drives navigation against a TestAuthServer: opening a
// window performs the authorize request over HTTP and exposes the
// redirect target as the window's location.
type TestUserAgent struct {
	mu          sync.Mutex
	client      *http.Client
	navigations []string
}

// NewTestUserAgent creates a TestUserAgent.
func NewTestUserAgent() *TestUserAgent {
	return &TestUserAgent{
		client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Navigations returns every top-level navigation issued so far.
func (a *TestUserAgent) Navigations() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.navigations))
	copy(out, a.navigations)
	return out
}

// Navigate records the top-level navigation without following it.
func (a *TestUserAgent) Navigate(_ context.Context, u string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.navigations = append(a.navigations, u)
	return nil
}

// OpenWindow loads the authorize URL and captures the redirect back.
func (a *TestUserAgent) OpenWindow(ctx context.Context, u string) (flows.WindowHandle, error) {
	return a.open(ctx, u)
}

// OpenFrame behaves identically to OpenWindow for testing purposes.
func (a *TestUserAgent) OpenFrame(ctx context.Context, u string) (flows.WindowHandle, error) {
	return a.open(ctx, u)
}

func (a *TestUserAgent) open(ctx context.Context, u string) (flows.WindowHandle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	location := resp.Header.Get("Location")
	if location == "" {
		return nil, fmt.Errorf("authorize endpoint did not redirect (status %d)", resp.StatusCode)
	}
	return &testWindow{location: location}, nil
}

// testWindow is immediately same-origin: the redirect target was already
// captured when the window opened.
type testWindow struct {
	mu       sync.Mutex
	location string
	closed   bool
}

func (w *testWindow) Location() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if strings.HasPrefix(w.location, "http") {
		return w.location, nil
	}
	return "", fmt.Errorf("no location")
}

func (w *testWindow) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *testWindow) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
}
