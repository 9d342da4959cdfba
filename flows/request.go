// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package flows

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/spakit/spakit/cryptor"
	"github.com/spakit/spakit/endpoint"
)

// InteractionType tags a request's state value with the mode that created
// it, so a response can only be consumed by the mode that issued it.
type InteractionType string

const (
	InteractionRedirect InteractionType = "redirect"
	InteractionPopup    InteractionType = "popup"
	InteractionSilent   InteractionType = "silent"
	InteractionNone     InteractionType = "none"
)

// stateClaims is the JSON shape encoded into the outbound state value: a
// random id for uniqueness, the interaction type, and optional opaque
// caller metadata round-tripped through the authority.
type stateClaims struct {
	ID   string          `json:"id"`
	Type InteractionType `json:"interactionType"`
	Meta string          `json:"meta,omitempty"`
}

func encodeState(c stateClaims) (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return cryptor.Base64URLEncode(raw), nil
}

// DecodeState recovers the claims encoded into a state value.
func DecodeState(state string) (*stateClaims, error) {
	const op = "flows.DecodeState"
	raw, err := cryptor.Base64URLDecode(state)
	if err != nil {
		return nil, fmt.Errorf("%s: state is not base64url: %w", op, ErrInvalidParameter)
	}
	var c stateClaims
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%s: state is not valid JSON: %w", op, ErrInvalidParameter)
	}
	if c.ID == "" || c.Type == "" {
		return nil, fmt.Errorf("%s: state is missing its id or interaction type: %w", op, ErrInvalidParameter)
	}
	return &c, nil
}

// Request carries the correlation material for one authorize round trip:
// the state and nonce bound into the outbound URL, the PKCE pair, and the
// resolved authority the URL was built against.
type Request struct {
	state       string
	nonce       string
	verifier    *cryptor.CodeVerifier
	authority   *endpoint.Authority
	interaction InteractionType
	scopes      []string
	redirectURI string
	clientID    string
	loginHint   string
	prompt      string
	claimsHash  string
}

func newRequest(c *cryptor.Provider, interaction InteractionType, authority *endpoint.Authority, clientID, redirectURI string, scopes []string, opts options) (*Request, error) {
	const op = "flows.newRequest"
	if c == nil {
		return nil, fmt.Errorf("%s: crypto provider is nil: %w", op, ErrNilParameter)
	}
	if authority == nil {
		return nil, fmt.Errorf("%s: authority is nil: %w", op, ErrNilParameter)
	}
	id, err := c.RandomGUID()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	state, err := encodeState(stateClaims{ID: id, Type: interaction, Meta: opts.withStateMeta})
	if err != nil {
		return nil, fmt.Errorf("%s: unable to encode state: %w", op, err)
	}
	nonce, err := c.RandomGUID()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	verifier, err := cryptor.NewCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Request{
		state:       state,
		nonce:       nonce,
		verifier:    verifier,
		authority:   authority,
		interaction: interaction,
		scopes:      scopes,
		redirectURI: redirectURI,
		clientID:    clientID,
		loginHint:   opts.withLoginHint,
		prompt:      opts.withPrompt,
		claimsHash:  opts.withClaimsHash,
	}, nil
}

func (r *Request) State() string { return r.state }
func (r *Request) Nonce() string { return r.nonce }

// AuthorizeURL builds the authorize-endpoint URL for the request: code
// response type, PKCE challenge, state, nonce, and any prompt or login
// hint.
func (r *Request) AuthorizeURL() (string, error) {
	const op = "flows.(Request).AuthorizeURL"
	challenge, err := cryptor.CreateCodeChallenge(r.verifier)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	v := url.Values{}
	v.Set("client_id", r.clientID)
	v.Set("response_type", "code")
	v.Set("response_mode", "fragment")
	v.Set("redirect_uri", r.redirectURI)
	v.Set("scope", strings.Join(withOpenIDScopes(r.scopes), " "))
	v.Set("state", r.state)
	v.Set("nonce", r.nonce)
	v.Set("code_challenge", challenge)
	v.Set("code_challenge_method", string(r.verifier.Method()))
	if r.prompt != "" {
		v.Set("prompt", r.prompt)
	}
	if r.loginHint != "" {
		v.Set("login_hint", r.loginHint)
	}
	return r.authority.AuthorizeEndpoint + "?" + v.Encode(), nil
}

// withOpenIDScopes guarantees the openid and profile scopes are requested,
// since every flow needs an ID token back.
func withOpenIDScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes)+2)
	seen := map[string]bool{}
	for _, s := range append([]string{"openid", "profile"}, scopes...) {
		k := strings.ToLower(s)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
	}
	return out
}
