// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package endpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIDToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte("test-signing-key"))
	require.NoError(t, err)
	return signed
}

func TestJWTExtractor_ExtractClaims(t *testing.T) {
	t.Parallel()
	t.Run("basics", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		idToken := testIDToken(t, jwt.MapClaims{
			"sub":                "subject-1",
			"oid":                "uid",
			"tid":                "utid",
			"preferred_username": "bob@example.net",
			"name":               "Bob",
			"nonce":              "n-1",
		})

		got, err := JWTExtractor{}.ExtractClaims(idToken)
		require.NoError(err)
		assert.Equal("subject-1", got.Subject)
		assert.Equal("uid.utid", got.HomeAccountID())
		assert.Equal("uid", got.LocalAccountID())
		assert.Equal("bob@example.net", got.PreferredUsername)
		assert.Equal("n-1", got.Nonce)
	})
	t.Run("falls-back-to-subject", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		idToken := testIDToken(t, jwt.MapClaims{"sub": "subject-2"})
		got, err := JWTExtractor{}.ExtractClaims(idToken)
		require.NoError(err)
		assert.Equal("subject-2", got.HomeAccountID())
		assert.Equal("subject-2", got.LocalAccountID())
	})
	t.Run("malformed", func(t *testing.T) {
		assert := assert.New(t)
		_, err := JWTExtractor{}.ExtractClaims("not.a.jwt")
		assert.True(errors.Is(err, ErrMalformedIDToken))
	})
	t.Run("empty", func(t *testing.T) {
		assert := assert.New(t)
		_, err := JWTExtractor{}.ExtractClaims("")
		assert.True(errors.Is(err, ErrInvalidParameter))
	})
}

func testTokenServer(t *testing.T, idToken string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")

		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			if r.PostForm.Get("code") != "valid-code" {
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":             "invalid_grant",
					"error_description": "code expired",
				})
				return
			}
			if r.PostForm.Get("code_verifier") == "" {
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_request"})
				return
			}
		case "refresh_token":
			if r.PostForm.Get("refresh_token") != "valid-rt" {
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
				return
			}
		default:
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "unsupported_grant_type"})
			return
		}

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "an-access-token",
			"refresh_token": "a-refresh-token",
			"id_token":      idToken,
			"token_type":    "Bearer",
			"expires_in":    3600,
			"scope":         "openid User.Read",
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPExchanger_ExchangeCode(t *testing.T) {
	t.Parallel()
	idToken := testIDToken(t, jwt.MapClaims{"sub": "subject-1"})
	srv := testTokenServer(t, idToken)

	e, err := NewHTTPExchanger("test-client-id", "")
	require.NoError(t, err)
	ctx := WithTokenEndpoint(context.Background(), srv.URL)

	t.Run("success", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		got, err := e.ExchangeCode(ctx, "valid-code", "a-verifier", "https://app.example.net/redirect", []string{"User.Read"})
		require.NoError(err)
		assert.Equal("an-access-token", got.AccessToken)
		assert.Equal("a-refresh-token", got.RefreshToken)
		assert.Equal(idToken, got.IDToken)
		assert.Equal([]string{"openid", "User.Read"}, got.GrantedScopes)
		assert.WithinDuration(time.Now().Add(time.Hour), got.Expiry, 30*time.Second)
	})
	t.Run("invalid-grant", func(t *testing.T) {
		assert := assert.New(t)
		_, err := e.ExchangeCode(ctx, "expired-code", "a-verifier", "https://app.example.net/redirect", nil)
		assert.True(errors.Is(err, ErrInvalidGrant), "got %v", err)
	})
	t.Run("missing-token-endpoint", func(t *testing.T) {
		assert := assert.New(t)
		_, err := e.ExchangeCode(context.Background(), "valid-code", "a-verifier", "https://app.example.net/redirect", nil)
		assert.True(errors.Is(err, ErrInvalidParameter))
	})
	t.Run("empty-code", func(t *testing.T) {
		assert := assert.New(t)
		_, err := e.ExchangeCode(ctx, "", "a-verifier", "https://app.example.net/redirect", nil)
		assert.True(errors.Is(err, ErrInvalidParameter))
	})
}

func TestHTTPExchanger_ExchangeRefreshToken(t *testing.T) {
	t.Parallel()
	idToken := testIDToken(t, jwt.MapClaims{"sub": "subject-1"})
	srv := testTokenServer(t, idToken)

	e, err := NewHTTPExchanger("test-client-id", "")
	require.NoError(t, err)
	ctx := WithTokenEndpoint(context.Background(), srv.URL)

	t.Run("success", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		got, err := e.ExchangeRefreshToken(ctx, "valid-rt", []string{"User.Read"})
		require.NoError(err)
		assert.Equal("an-access-token", got.AccessToken)
	})
	t.Run("invalid-grant", func(t *testing.T) {
		assert := assert.New(t)
		_, err := e.ExchangeRefreshToken(ctx, "revoked-rt", nil)
		assert.True(errors.Is(err, ErrInvalidGrant), "got %v", err)
	})
}

func testDiscoveryServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"issuer": %q,
			"authorization_endpoint": %q,
			"token_endpoint": %q,
			"end_session_endpoint": %q,
			"jwks_uri": %q,
			"response_types_supported": ["code"],
			"subject_types_supported": ["public"],
			"id_token_signing_alg_values_supported": ["RS256"]
		}`, srv.URL, srv.URL+"/authorize", srv.URL+"/token", srv.URL+"/logout", srv.URL+"/keys")
	})
	return srv
}

func TestDiscoveryResolver_Resolve(t *testing.T) {
	t.Parallel()
	t.Run("basics", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		srv := testDiscoveryServer(t)
		r := NewDiscoveryResolver("", nil)

		got, err := r.Resolve(context.Background(), srv.URL)
		require.NoError(err)
		assert.Equal(srv.URL+"/authorize", got.AuthorizeEndpoint)
		assert.Equal(srv.URL+"/token", got.TokenEndpoint)
		assert.Equal(srv.URL+"/logout", got.EndSessionEndpoint)
		assert.True(got.IsAliasOf(got.Host()))
		assert.False(got.IsAliasOf("evil.example.net"))

		// second resolution is served from the cache
		again, err := r.Resolve(context.Background(), srv.URL)
		require.NoError(err)
		assert.Same(got, again)
	})
	t.Run("untrusted-host", func(t *testing.T) {
		assert := assert.New(t)
		srv := testDiscoveryServer(t)
		r := NewDiscoveryResolver("", []string{"login.example.net"})
		_, err := r.Resolve(context.Background(), srv.URL)
		assert.True(errors.Is(err, ErrUntrustedAuthority))
	})
	t.Run("unreachable", func(t *testing.T) {
		assert := assert.New(t)
		r := NewDiscoveryResolver("", nil)
		_, err := r.Resolve(context.Background(), "http://127.0.0.1:1")
		assert.True(errors.Is(err, ErrUnreachableAuthority))
	})
	t.Run("empty", func(t *testing.T) {
		assert := assert.New(t)
		r := NewDiscoveryResolver("", nil)
		_, err := r.Resolve(context.Background(), "")
		assert.True(errors.Is(err, ErrInvalidParameter))
	})
}
