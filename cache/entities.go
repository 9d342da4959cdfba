// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package cache

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spakit/spakit/internal/strutils"
)

// CredentialType discriminates the three kinds of cached credentials.
type CredentialType string

const (
	IDTokenType      CredentialType = "IdToken"
	AccessTokenType  CredentialType = "AccessToken"
	RefreshTokenType CredentialType = "RefreshToken"
)

// DefaultExpiryOffset is subtracted from an access token's lifetime when
// deciding whether it can still be served from the cache, so a token is
// never handed out moments before the resource would reject it.
const DefaultExpiryOffset = 5 * time.Minute

// Account represents a signed-in identity. Accounts are created on the
// first successful token acquisition, updated whenever a later acquisition
// yields new ID-token claims, and deleted only by an explicit sign-out.
type Account struct {
	// HomeAccountID is the stable cross-tenant identifier for the identity.
	HomeAccountID string `json:"homeAccountId"`

	// Environment is the issuer host the account was obtained from.
	Environment string `json:"environment"`

	// Realm is the tenant the account belongs to.
	Realm string `json:"realm"`

	// LocalAccountID is the identity's id within the realm.
	LocalAccountID string `json:"localAccountId"`

	Username string `json:"username"`

	// TenantProfileClaims carries the latest ID-token claims for the realm.
	TenantProfileClaims map[string]interface{} `json:"tenantProfile,omitempty"`
}

// Key returns the deterministic cache key for the account:
// home-account-id, environment and realm, lower-cased and joined.
func (a *Account) Key() string {
	return strings.ToLower(strings.Join([]string{a.HomeAccountID, a.Environment, a.Realm}, "-"))
}

// Validate verifies the fields the key is built from.
func (a *Account) Validate() error {
	const op = "cache.(Account).Validate"
	if a == nil {
		return fmt.Errorf("%s: account is nil: %w", op, ErrNilParameter)
	}
	if a.HomeAccountID == "" {
		return fmt.Errorf("%s: home account id is empty: %w", op, ErrInvalidParameter)
	}
	if a.Environment == "" {
		return fmt.Errorf("%s: environment is empty: %w", op, ErrInvalidParameter)
	}
	return nil
}

// Secret is a credential's secret value. It is redacted from String() and
// JSON output except through marshalRaw, which the cache uses for its own
// persistence.
type Secret string

// RedactedSecret is the redacted string or json for a credential secret.
const RedactedSecret = "[REDACTED: secret]"

// String will redact the secret.
func (s Secret) String() string { return RedactedSecret }

// MarshalJSON will redact the secret.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedSecret)
}

// Credential is a cached ID, access, or refresh token plus the metadata its
// key is derived from. Access and refresh tokens are replaced, not mutated,
// on renewal.
type Credential struct {
	Type          CredentialType `json:"credentialType"`
	HomeAccountID string         `json:"homeAccountId"`
	Environment   string         `json:"environment"`
	ClientID      string         `json:"clientId"`
	Realm         string         `json:"realm"`
	Secret        Secret         `json:"-"`

	// Scopes is set for access tokens only.
	Scopes []string `json:"target,omitempty"`

	// seconds since epoch
	IssuedAt          int64 `json:"cachedAt,omitempty"`
	ExpiresOn         int64 `json:"expiresOn,omitempty"`
	ExtendedExpiresOn int64 `json:"extendedExpiresOn,omitempty"`

	TokenType string `json:"tokenType,omitempty"`

	// ClaimsHash distinguishes access tokens requested with different
	// claims payloads. Empty for claims-free tokens.
	ClaimsHash string `json:"requestedClaimsHash,omitempty"`
}

// credentialJSON is the persisted shape of a Credential; it exists so the
// cache can round-trip the secret while Credential itself redacts it.
type credentialJSON struct {
	Credential
	Secret string `json:"secret"`
}

func (c *Credential) marshalRaw() ([]byte, error) {
	return json.Marshal(credentialJSON{Credential: *c, Secret: string(c.Secret)})
}

func unmarshalCredential(raw []byte) (*Credential, error) {
	var cj credentialJSON
	if err := json.Unmarshal(raw, &cj); err != nil {
		return nil, err
	}
	cred := cj.Credential
	cred.Secret = Secret(cj.Secret)
	return &cred, nil
}

// Key returns the deterministic cache key for the credential: credential
// type, owning account, client, realm and (for access tokens) the sorted
// scope set, with the claims hash appended when present.
func (c *Credential) Key() string {
	parts := []string{
		c.HomeAccountID,
		c.Environment,
		string(c.Type),
		c.ClientID,
		c.Realm,
		scopeKey(c.Scopes),
	}
	key := strings.ToLower(strings.Join(parts, "-"))
	if c.ClaimsHash != "" {
		key += "-" + c.ClaimsHash
	}
	return key
}

// AccountKey returns the key of the credential's owning account.
func (c *Credential) AccountKey() string {
	return strings.ToLower(strings.Join([]string{c.HomeAccountID, c.Environment, c.Realm}, "-"))
}

// Validate verifies the fields the key is built from.
func (c *Credential) Validate() error {
	const op = "cache.(Credential).Validate"
	if c == nil {
		return fmt.Errorf("%s: credential is nil: %w", op, ErrNilParameter)
	}
	switch c.Type {
	case IDTokenType, AccessTokenType, RefreshTokenType:
	default:
		return fmt.Errorf("%s: credential type %q: %w", op, c.Type, ErrInvalidParameter)
	}
	if c.Secret == "" {
		return fmt.Errorf("%s: secret is empty: %w", op, ErrInvalidParameter)
	}
	if c.HomeAccountID == "" {
		return fmt.Errorf("%s: home account id is empty: %w", op, ErrInvalidParameter)
	}
	if c.ClientID == "" {
		return fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	}
	return nil
}

// IsExpired reports whether the credential's expiry (less the offset) has
// passed. Credentials without an expiry never expire.
func (c *Credential) IsExpired(offset time.Duration, now func() time.Time) bool {
	if c.ExpiresOn == 0 {
		return false
	}
	if now == nil {
		now = time.Now
	}
	return time.Unix(c.ExpiresOn, 0).Add(-offset).Before(now())
}

// MatchesScopes reports whether the credential's scope set contains every
// requested scope (case-insensitive).
func (c *Credential) MatchesScopes(requested []string) bool {
	lowered := make([]string, 0, len(c.Scopes))
	for _, s := range c.Scopes {
		lowered = append(lowered, strings.ToLower(s))
	}
	for _, want := range requested {
		if !strutils.StrListContains(lowered, strings.ToLower(want)) {
			return false
		}
	}
	return true
}

// AppMetadata records per-client metadata (family id for refresh-token
// sharing) keyed by client and environment.
type AppMetadata struct {
	ClientID    string `json:"clientId"`
	Environment string `json:"environment"`
	FamilyID    string `json:"familyId,omitempty"`
}

// Key returns the deterministic cache key for the app metadata.
func (m *AppMetadata) Key() string {
	return strings.ToLower(strings.Join([]string{"appmetadata", m.Environment, m.ClientID}, "-"))
}

func scopeKey(scopes []string) string {
	if len(scopes) == 0 {
		return ""
	}
	lowered := make([]string, 0, len(scopes))
	for _, s := range scopes {
		lowered = append(lowered, strings.ToLower(s))
	}
	sort.Strings(lowered)
	return strings.Join(lowered, " ")
}
