// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package flows

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spakit/spakit/cache"
	"github.com/spakit/spakit/cryptor"
	"github.com/spakit/spakit/endpoint"
)

const (
	testClientID     = "test-client-id"
	testRedirectURI  = "https://app.example.net/redirect"
	testAuthorityURL = "https://login.example.net"
)

func mintIDToken(nonce string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":                "subject-1",
		"oid":                "uid",
		"tid":                "utid",
		"preferred_username": "bob@example.net",
		"nonce":              nonce,
	}).SignedString([]byte("test-signing-key"))
}

// fakeHandle is a window that becomes same-origin once the fake authority
// delivers a response URL into it.
type fakeHandle struct {
	mu       sync.Mutex
	location string
	closed   bool
}

func (h *fakeHandle) Location() (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.location == "" {
		return "", ErrCrossOrigin
	}
	return h.location, nil
}

func (h *fakeHandle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *fakeHandle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
}

func (h *fakeHandle) deliver(loc string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.location = loc
}

type codeGrant struct {
	nonce  string
	scopes []string
}

// fakeAuthority plays the authority end to end: it is the user agent (it
// "redirects" opened windows back with a code), the resolver, and the
// token endpoint.
type fakeAuthority struct {
	mu          sync.Mutex
	codes       map[string]codeGrant
	nextCode    int
	opened      []string
	navigations []string

	// behavior knobs
	closeOnOpen   bool
	neverRespond  bool
	stripResponse bool
	failExchanges int
	exchangeCalls int
}

func newFakeAuthority() *fakeAuthority {
	return &fakeAuthority{codes: map[string]codeGrant{}}
}

var _ UserAgent = (*fakeAuthority)(nil)
var _ endpoint.Resolver = (*fakeAuthority)(nil)
var _ endpoint.TokenExchanger = (*fakeAuthority)(nil)

func (a *fakeAuthority) Resolve(_ context.Context, authorityURL string) (*endpoint.Authority, error) {
	return &endpoint.Authority{
		Issuer:             testAuthorityURL,
		AuthorizeEndpoint:  testAuthorityURL + "/authorize",
		TokenEndpoint:      testAuthorityURL + "/token",
		EndSessionEndpoint: testAuthorityURL + "/logout",
		Aliases:            []string{"login.example.net"},
	}, nil
}

func (a *fakeAuthority) Navigate(_ context.Context, u string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.navigations = append(a.navigations, u)
	return nil
}

func (a *fakeAuthority) OpenWindow(ctx context.Context, u string) (WindowHandle, error) {
	return a.open(ctx, u)
}

func (a *fakeAuthority) OpenFrame(ctx context.Context, u string) (WindowHandle, error) {
	return a.open(ctx, u)
}

func (a *fakeAuthority) open(_ context.Context, authorizeURL string) (WindowHandle, error) {
	a.mu.Lock()
	a.opened = append(a.opened, authorizeURL)
	a.mu.Unlock()

	h := &fakeHandle{closed: a.closeOnOpen}
	if a.closeOnOpen || a.neverRespond {
		return h, nil
	}
	parsed, err := url.Parse(authorizeURL)
	if err != nil {
		return nil, err
	}
	q := parsed.Query()
	if a.stripResponse {
		h.deliver(testRedirectURI)
		return h, nil
	}
	code := a.mintCode(q.Get("nonce"), q["scope"])
	h.deliver(testRedirectURI + "#code=" + code + "&state=" + url.QueryEscape(q.Get("state")))
	return h, nil
}

func (a *fakeAuthority) mintCode(nonce string, scopes []string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextCode++
	code := fmt.Sprintf("code-%d", a.nextCode)
	a.codes[code] = codeGrant{nonce: nonce, scopes: scopes}
	return code
}

func (a *fakeAuthority) ExchangeCode(_ context.Context, code, _, _ string, scopes []string) (*endpoint.TokenResult, error) {
	a.mu.Lock()
	a.exchangeCalls++
	fail := a.exchangeCalls <= a.failExchanges
	grant, ok := a.codes[code]
	a.mu.Unlock()

	if fail || !ok {
		return nil, fmt.Errorf("code was already redeemed: %w", endpoint.ErrInvalidGrant)
	}
	idToken, err := mintIDToken(grant.nonce)
	if err != nil {
		return nil, err
	}
	return &endpoint.TokenResult{
		AccessToken:   "at-" + code,
		IDToken:       idToken,
		RefreshToken:  "rt-" + code,
		TokenType:     "Bearer",
		Expiry:        time.Now().Add(time.Hour),
		GrantedScopes: scopes,
	}, nil
}

func (a *fakeAuthority) ExchangeRefreshToken(_ context.Context, refreshToken string, scopes []string) (*endpoint.TokenResult, error) {
	if refreshToken == "revoked-rt" {
		return nil, fmt.Errorf("refresh token is revoked: %w", endpoint.ErrInvalidGrant)
	}
	idToken, err := mintIDToken("")
	if err != nil {
		return nil, err
	}
	return &endpoint.TokenResult{
		AccessToken:   "at-refreshed",
		IDToken:       idToken,
		RefreshToken:  "rt-rotated",
		TokenType:     "Bearer",
		Expiry:        time.Now().Add(time.Hour),
		GrantedScopes: scopes,
	}, nil
}

func (a *fakeAuthority) openedStates(t *testing.T) []string {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	states := make([]string, 0, len(a.opened))
	for _, raw := range a.opened {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		states = append(states, u.Query().Get("state"))
	}
	return states
}

func testFlow(t *testing.T, fa *fakeAuthority, opt ...Option) (*Flow, *cache.Manager) {
	t.Helper()
	p, err := cryptor.New()
	require.NoError(t, err)
	mgr, err := cache.NewManager(testClientID, p)
	require.NoError(t, err)

	f, err := New(&Config{
		ClientID:    testClientID,
		RedirectURI: testRedirectURI,
		Crypto:      p,
		Cache:       mgr,
		Agent:       fa,
		Exchanger:   fa,
		Resolver:    fa,
		Claims:      endpoint.JWTExtractor{},
	}, append([]Option{WithPollInterval(time.Millisecond)}, opt...)...)
	require.NoError(t, err)
	return f, mgr
}

func TestFlow_Popup(t *testing.T) {
	t.Parallel()
	t.Run("success", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		fa := newFakeAuthority()
		f, mgr := testFlow(t, fa)

		got, err := f.Popup(context.Background(), testAuthorityURL, []string{"User.Read"}, nil)
		require.NoError(err)
		require.NotNil(got.Account)
		assert.Equal("uid.utid", got.Account.HomeAccountID)
		assert.Equal("at-code-1", got.AccessToken)
		assert.NotEmpty(got.IDToken)

		// the account and its credentials landed in the cache
		accounts, err := mgr.Accounts()
		require.NoError(err)
		require.Len(accounts, 1)

		// correlation state and the interaction flag are gone
		states := fa.openedStates(t)
		require.Len(states, 1)
		_, err = mgr.Correlation(states[0])
		assert.True(errors.Is(err, cache.ErrNotFound))
		_, held := mgr.InteractionInProgress()
		assert.False(held)
	})
	t.Run("concurrent-popups-use-distinct-states", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		fa := newFakeAuthority()
		f, _ := testFlow(t, fa)

		// the first popup holds the interaction flag; a second may not
		// start until it resolves
		_, err := f.Popup(context.Background(), testAuthorityURL, []string{"User.Read"})
		require.NoError(err)
		_, err = f.Popup(context.Background(), testAuthorityURL, []string{"Mail.Read"})
		require.NoError(err)

		states := fa.openedStates(t)
		require.Len(states, 2)
		assert.NotEqual(states[0], states[1])
	})
	t.Run("second-popup-blocked-while-first-in-progress", func(t *testing.T) {
		assert := assert.New(t)
		fa := newFakeAuthority()
		f, mgr := testFlow(t, fa)

		require.NoError(t, mgr.SetInteractionInProgress())
		_, err := f.Popup(context.Background(), testAuthorityURL, nil)
		assert.True(errors.Is(err, cache.ErrInteractionInProgress))
	})
	t.Run("closed-window-is-cancellation", func(t *testing.T) {
		assert := assert.New(t)
		fa := newFakeAuthority()
		fa.closeOnOpen = true
		f, mgr := testFlow(t, fa)

		_, err := f.Popup(context.Background(), testAuthorityURL, nil)
		assert.True(errors.Is(err, ErrUserCancelled))
		_, held := mgr.InteractionInProgress()
		assert.False(held, "cancellation must release the interaction flag")
	})
	t.Run("timeout", func(t *testing.T) {
		assert := assert.New(t)
		fa := newFakeAuthority()
		fa.neverRespond = true
		f, mgr := testFlow(t, fa, WithPopupTimeout(50*time.Millisecond))

		_, err := f.Popup(context.Background(), testAuthorityURL, nil)
		assert.True(errors.Is(err, ErrTimeout))
		_, held := mgr.InteractionInProgress()
		assert.False(held)
	})
	t.Run("stripped-response", func(t *testing.T) {
		assert := assert.New(t)
		fa := newFakeAuthority()
		fa.stripResponse = true
		f, _ := testFlow(t, fa)

		_, err := f.Popup(context.Background(), testAuthorityURL, nil)
		assert.True(errors.Is(err, ErrEmptyResponse))
	})
}

func TestFlow_SilentIframe(t *testing.T) {
	t.Parallel()
	t.Run("concurrent-silent-requests-are-isolated", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		fa := newFakeAuthority()
		f, mgr := testFlow(t, fa)
		acct := &cache.Account{
			HomeAccountID: "uid.utid",
			Environment:   "login.example.net",
			Realm:         "utid",
			Username:      "bob@example.net",
		}

		var wg sync.WaitGroup
		results := make([]*Result, 2)
		errs := make([]error, 2)
		for i, scope := range []string{"User.Read", "Mail.Read"} {
			wg.Add(1)
			go func(i int, scope string) {
				defer wg.Done()
				results[i], errs[i] = f.SilentIframe(context.Background(), testAuthorityURL, acct, []string{scope})
			}(i, scope)
		}
		wg.Wait()

		require.NoError(errs[0])
		require.NoError(errs[1])
		assert.NotEqual(results[0].AccessToken, results[1].AccessToken)

		// each request carried its own correlation state, and both are
		// cleaned up
		states := fa.openedStates(t)
		require.Len(states, 2)
		assert.NotEqual(states[0], states[1])
		for _, s := range states {
			_, err := mgr.Correlation(s)
			assert.True(errors.Is(err, cache.ErrNotFound))
		}
	})
	t.Run("invalid-grant-retried-once-with-fresh-state", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		fa := newFakeAuthority()
		fa.failExchanges = 1
		f, _ := testFlow(t, fa)
		acct := &cache.Account{HomeAccountID: "uid.utid", Environment: "login.example.net", Realm: "utid"}

		got, err := f.SilentIframe(context.Background(), testAuthorityURL, acct, []string{"User.Read"})
		require.NoError(err)
		assert.Equal("at-code-2", got.AccessToken)

		states := fa.openedStates(t)
		require.Len(states, 2)
		assert.NotEqual(states[0], states[1], "retry must mint fresh correlation state")
	})
	t.Run("invalid-grant-not-retried-twice", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		fa := newFakeAuthority()
		fa.failExchanges = 2
		f, _ := testFlow(t, fa)
		acct := &cache.Account{HomeAccountID: "uid.utid", Environment: "login.example.net", Realm: "utid"}

		_, err := f.SilentIframe(context.Background(), testAuthorityURL, acct, []string{"User.Read"})
		assert.True(errors.Is(err, endpoint.ErrInvalidGrant))
		require.Len(fa.openedStates(t), 2)
	})
	t.Run("silent-does-not-take-the-interaction-flag", func(t *testing.T) {
		require := require.New(t)
		fa := newFakeAuthority()
		f, mgr := testFlow(t, fa)
		acct := &cache.Account{HomeAccountID: "uid.utid", Environment: "login.example.net", Realm: "utid"}

		require.NoError(mgr.SetInteractionInProgress())
		_, err := f.SilentIframe(context.Background(), testAuthorityURL, acct, []string{"User.Read"})
		require.NoError(err)
	})
	t.Run("authority-mismatch", func(t *testing.T) {
		assert := assert.New(t)
		fa := newFakeAuthority()
		f, _ := testFlow(t, fa)
		acct := &cache.Account{HomeAccountID: "uid.utid", Environment: "sts.other.net", Realm: "utid"}

		_, err := f.SilentIframe(context.Background(), testAuthorityURL, acct, nil)
		assert.True(errors.Is(err, ErrAuthorityMismatch))
	})
}

func TestFlow_Redirect(t *testing.T) {
	t.Parallel()
	t.Run("round-trip", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		fa := newFakeAuthority()
		f, mgr := testFlow(t, fa)

		require.NoError(f.Redirect(context.Background(), testAuthorityURL, []string{"User.Read"}))
		_, held := mgr.InteractionInProgress()
		assert.True(held, "redirect holds the flag until the response is consumed")
		require.Len(fa.navigations, 1)

		// simulate the authority redirecting back
		u, err := url.Parse(fa.navigations[0])
		require.NoError(err)
		q := u.Query()
		code := fa.mintCode(q.Get("nonce"), q["scope"])
		currentURL := testRedirectURI + "#code=" + code + "&state=" + url.QueryEscape(q.Get("state"))

		got, err := f.HandleRedirect(context.Background(), currentURL)
		require.NoError(err)
		require.NotNil(got)
		assert.Equal("uid.utid", got.Account.HomeAccountID)

		_, held = mgr.InteractionInProgress()
		assert.False(held)
		_, err = mgr.Correlation(q.Get("state"))
		assert.True(errors.Is(err, cache.ErrNotFound))
	})
	t.Run("no-pending-flow", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		fa := newFakeAuthority()
		f, _ := testFlow(t, fa)

		got, err := f.HandleRedirect(context.Background(), testRedirectURI)
		require.NoError(err)
		assert.Nil(got)
	})
	t.Run("pending-flow-but-no-response-yet", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		fa := newFakeAuthority()
		f, mgr := testFlow(t, fa)

		require.NoError(f.Redirect(context.Background(), testAuthorityURL, nil))
		got, err := f.HandleRedirect(context.Background(), testRedirectURI)
		require.NoError(err)
		assert.Nil(got)
		_, held := mgr.InteractionInProgress()
		assert.True(held, "an unrelated page load must not abort the pending flow")
	})
	t.Run("stale-state-rejected", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		fa := newFakeAuthority()
		f, mgr := testFlow(t, fa)

		require.NoError(f.Redirect(context.Background(), testAuthorityURL, nil))
		stale, err := encodeState(stateClaims{ID: "other", Type: InteractionRedirect})
		require.NoError(err)

		_, err = f.HandleRedirect(context.Background(), testRedirectURI+"#code=x&state="+url.QueryEscape(stale))
		assert.True(errors.Is(err, ErrStateMismatch))
		_, held := mgr.InteractionInProgress()
		assert.False(held, "a consumed failure must release the flag")
	})
}

func TestFlow_SilentCacheAndRefresh(t *testing.T) {
	t.Parallel()
	acct := func() *cache.Account {
		return &cache.Account{
			HomeAccountID:  "uid.utid",
			Environment:    "login.example.net",
			Realm:          "utid",
			LocalAccountID: "uid",
			Username:       "bob@example.net",
		}
	}
	freshToken := func(scopes []string, expiresIn time.Duration) *cache.Credential {
		now := time.Now().Unix()
		return &cache.Credential{
			Type:          cache.AccessTokenType,
			HomeAccountID: "uid.utid",
			Environment:   "login.example.net",
			ClientID:      testClientID,
			Realm:         "utid",
			Secret:        "cached-access-token",
			Scopes:        scopes,
			IssuedAt:      now,
			ExpiresOn:     now + int64(expiresIn.Seconds()),
			TokenType:     "Bearer",
		}
	}

	t.Run("cache-hit", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		fa := newFakeAuthority()
		f, mgr := testFlow(t, fa)
		a := acct()
		require.NoError(mgr.SetAccount(a))
		require.NoError(mgr.SetCredential(freshToken([]string{"User.Read"}, time.Hour)))

		got, err := f.SilentCache(a, []string{"User.Read"})
		require.NoError(err)
		assert.True(got.FromCache)
		assert.Equal("cached-access-token", got.AccessToken)
	})
	t.Run("expired-token-is-a-miss", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		fa := newFakeAuthority()
		f, mgr := testFlow(t, fa)
		a := acct()
		require.NoError(mgr.SetAccount(a))
		require.NoError(mgr.SetCredential(freshToken([]string{"User.Read"}, time.Minute)))

		_, err := f.SilentCache(a, []string{"User.Read"})
		assert.True(errors.Is(err, ErrNoCachedToken), "a token inside the expiry offset must not be served")
	})
	t.Run("refresh-replaces-the-access-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		fa := newFakeAuthority()
		f, mgr := testFlow(t, fa)
		a := acct()
		require.NoError(mgr.SetAccount(a))
		require.NoError(mgr.SetCredential(&cache.Credential{
			Type:          cache.RefreshTokenType,
			HomeAccountID: "uid.utid",
			Environment:   "login.example.net",
			ClientID:      testClientID,
			Realm:         "utid",
			Secret:        "a-refresh-token",
		}))

		got, err := f.SilentRefresh(context.Background(), testAuthorityURL, a, []string{"User.Read"})
		require.NoError(err)
		assert.Equal("at-refreshed", got.AccessToken)

		cached, err := mgr.FindCredential(cache.CredentialMatch{
			Type:          cache.AccessTokenType,
			HomeAccountID: "uid.utid",
			Scopes:        []string{"User.Read"},
		})
		require.NoError(err)
		assert.Equal("at-refreshed", string(cached.Secret))
	})
	t.Run("no-refresh-token", func(t *testing.T) {
		assert := assert.New(t)
		fa := newFakeAuthority()
		f, _ := testFlow(t, fa)

		_, err := f.SilentRefresh(context.Background(), testAuthorityURL, acct(), nil)
		assert.True(errors.Is(err, ErrNoRefreshToken))
	})
}

func TestParseAuthorizeResponse(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		url     string
		wantErr error
		want    *authorizeResponse
	}{
		{
			name: "fragment",
			url:  testRedirectURI + "#code=c1&state=s1",
			want: &authorizeResponse{Code: "c1", State: "s1"},
		},
		{
			name: "query",
			url:  testRedirectURI + "?code=c1&state=s1",
			want: &authorizeResponse{Code: "c1", State: "s1"},
		},
		{
			name: "server-error",
			url:  testRedirectURI + "#error=access_denied&error_description=nope&state=s1",
			want: &authorizeResponse{Error: "access_denied", ErrorDescription: "nope", State: "s1"},
		},
		{
			name:    "empty",
			url:     testRedirectURI,
			wantErr: ErrEmptyResponse,
		},
		{
			name:    "unrecognized",
			url:     testRedirectURI + "#foo=bar",
			wantErr: ErrUnrecognizedResponse,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := parseAuthorizeResponse(tt.url)
			if tt.wantErr != nil {
				assert.True(errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(err)
			assert.Equal(tt.want, got)
		})
	}
}

func TestAuthorizeResponse_Validate(t *testing.T) {
	t.Parallel()
	popupState, err := encodeState(stateClaims{ID: "id-1", Type: InteractionPopup})
	require.NoError(t, err)

	t.Run("accepts-matching-state", func(t *testing.T) {
		assert := assert.New(t)
		resp := &authorizeResponse{Code: "c1", State: popupState}
		assert.NoError(resp.validate(popupState, InteractionPopup))
	})
	t.Run("rejects-foreign-state", func(t *testing.T) {
		assert := assert.New(t)
		other, err := encodeState(stateClaims{ID: "id-2", Type: InteractionPopup})
		require.NoError(t, err)
		resp := &authorizeResponse{Code: "c1", State: other}
		assert.True(errors.Is(resp.validate(popupState, InteractionPopup), ErrStateMismatch))
	})
	t.Run("rejects-wrong-interaction-type", func(t *testing.T) {
		assert := assert.New(t)
		resp := &authorizeResponse{Code: "c1", State: popupState}
		assert.True(errors.Is(resp.validate(popupState, InteractionSilent), ErrStateTypeMismatch),
			"a popup response must not be consumed by a silent request")
	})
	t.Run("surfaces-server-error", func(t *testing.T) {
		assert := assert.New(t)
		resp := &authorizeResponse{Error: "access_denied", State: popupState}
		assert.True(errors.Is(resp.validate(popupState, InteractionPopup), ErrAuthorizeFailed))
	})
	t.Run("requires-a-code", func(t *testing.T) {
		assert := assert.New(t)
		resp := &authorizeResponse{State: popupState}
		assert.True(errors.Is(resp.validate(popupState, InteractionPopup), ErrNoAuthCode))
	})
}

func TestFlow_Broker(t *testing.T) {
	t.Parallel()
	t.Run("success-skips-the-web-flow", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		fa := newFakeAuthority()
		idToken, err := mintIDToken("")
		require.NoError(err)
		broker := &fakeBroker{respond: func(req *BrokerRequest) (*BrokerResponse, error) {
			return &BrokerResponse{
				RequestID:     req.RequestID,
				Status:        BrokerStatusSuccess,
				AccessToken:   "broker-access-token",
				IDToken:       idToken,
				TokenType:     "Bearer",
				ExpiresIn:     3600,
				GrantedScopes: req.Scopes,
			}, nil
		}}
		f, _ := testFlow(t, fa, WithBroker(broker))

		got, err := f.Popup(context.Background(), testAuthorityURL, []string{"User.Read"})
		require.NoError(err)
		assert.Equal("broker-access-token", got.AccessToken)
		assert.Empty(fa.opened, "broker success must not open a window")
	})
	t.Run("fatal-response-never-falls-back", func(t *testing.T) {
		assert := assert.New(t)
		fa := newFakeAuthority()
		broker := &fakeBroker{respond: func(req *BrokerRequest) (*BrokerResponse, error) {
			return &BrokerResponse{RequestID: req.RequestID, Status: BrokerStatusDisabled}, nil
		}}
		f, _ := testFlow(t, fa, WithBroker(broker))

		_, err := f.Popup(context.Background(), testAuthorityURL, nil)
		assert.True(errors.Is(err, ErrBrokerFatal))
		assert.Empty(fa.opened, "a fatal broker response must not be retried on the web")
	})
	t.Run("transient-failure-falls-back-to-the-web-flow", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		fa := newFakeAuthority()
		broker := &fakeBroker{respond: func(req *BrokerRequest) (*BrokerResponse, error) {
			return &BrokerResponse{RequestID: req.RequestID, Status: BrokerStatusTransientError}, nil
		}}
		f, _ := testFlow(t, fa, WithBroker(broker))

		got, err := f.Popup(context.Background(), testAuthorityURL, []string{"User.Read"})
		require.NoError(err)
		assert.Equal("at-code-1", got.AccessToken)
		require.Len(fa.opened, 1)
	})
	t.Run("mismatched-correlation-id-falls-back", func(t *testing.T) {
		require := require.New(t)
		fa := newFakeAuthority()
		broker := &fakeBroker{respond: func(*BrokerRequest) (*BrokerResponse, error) {
			return &BrokerResponse{RequestID: "someone-else", Status: BrokerStatusSuccess}, nil
		}}
		f, _ := testFlow(t, fa, WithBroker(broker))

		_, err := f.Popup(context.Background(), testAuthorityURL, nil)
		require.NoError(err)
		require.Len(fa.opened, 1)
	})
}

type fakeBroker struct {
	respond func(*BrokerRequest) (*BrokerResponse, error)
}

func (b *fakeBroker) SendRequest(_ context.Context, req *BrokerRequest) (*BrokerResponse, error) {
	return b.respond(req)
}

func TestAwaitResponse(t *testing.T) {
	t.Parallel()
	t.Run("context-cancellation", func(t *testing.T) {
		assert := assert.New(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := awaitResponse(ctx, &fakeHandle{}, time.Millisecond, time.Second)
		assert.True(errors.Is(err, context.Canceled))
	})
	t.Run("nil-handle", func(t *testing.T) {
		assert := assert.New(t)
		_, err := awaitResponse(context.Background(), nil, time.Millisecond, time.Second)
		assert.True(errors.Is(err, ErrNilParameter))
	})
	t.Run("delivers-once-same-origin", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		h := &fakeHandle{}
		go func() {
			time.Sleep(10 * time.Millisecond)
			h.deliver(testRedirectURI + "#code=c1")
		}()
		got, err := awaitResponse(context.Background(), h, time.Millisecond, time.Second)
		require.NoError(err)
		assert.Contains(got, "code=c1")
	})
}
