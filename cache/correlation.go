// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package cache

import (
	"encoding/json"
	"fmt"
)

// Correlation is the ephemeral state binding one outbound authorize request
// to its eventual response: the nonce for ID-token replay protection, the
// PKCE verifier, and the authority the request was built against. It is
// stored under keys namespaced by the request's state value and deleted
// when the response is consumed or the flow is abandoned.
type Correlation struct {
	Nonce     string `json:"nonce"`
	Verifier  string `json:"verifier"`
	Authority string `json:"authority"`
}

// SetCorrelation persists the correlation state for a request. The state
// value must be unique per request; it is the sole key binding a response
// back to this entry. With persistToCookie the entries are mirrored to the
// cookie tier so a redirect flow can survive a full top-level navigation.
func (m *Manager) SetCorrelation(state string, c *Correlation, persistToCookie bool) error {
	const op = "cache.(Manager).SetCorrelation"
	if state == "" {
		return fmt.Errorf("%s: state is empty: %w", op, ErrInvalidParameter)
	}
	if c == nil {
		return fmt.Errorf("%s: correlation is nil: %w", op, ErrNilParameter)
	}
	entries := map[string]string{
		stateKey(m.clientID, requestNonceName, state):     c.Nonce,
		stateKey(m.clientID, requestVerifierName, state):  c.Verifier,
		stateKey(m.clientID, requestAuthorityName, state): c.Authority,
	}
	for k, v := range entries {
		if err := m.temp.Set(k, v); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if persistToCookie {
			if err := m.cookie.Set(k, v); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
		}
	}
	return nil
}

// Correlation returns the correlation state stored for the request state
// value, checking the in-process tier first and falling back to the cookie
// tier (the in-process tier does not survive a top-level navigation).
func (m *Manager) Correlation(state string) (*Correlation, error) {
	const op = "cache.(Manager).Correlation"
	get := func(logicalName string) (string, bool) {
		k := stateKey(m.clientID, logicalName, state)
		if v, ok := m.temp.Get(k); ok {
			return v, true
		}
		return m.cookie.Get(k)
	}
	nonce, ok := get(requestNonceName)
	if !ok {
		return nil, fmt.Errorf("%s: no correlation state for request: %w", op, ErrNotFound)
	}
	verifier, _ := get(requestVerifierName)
	authority, _ := get(requestAuthorityName)
	return &Correlation{
		Nonce:     nonce,
		Verifier:  verifier,
		Authority: authority,
	}, nil
}

// SetRequestParams stores the per-flow temporary request parameters (the
// serialized request a redirect flow resumes from).
func (m *Manager) SetRequestParams(params interface{}) error {
	const op = "cache.(Manager).SetRequestParams"
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("%s: unable to marshal params: %w", op, err)
	}
	if err := m.temp.Set(clientKey(m.clientID, requestParamsName), string(raw)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := m.cookie.Set(clientKey(m.clientID, requestParamsName), string(raw)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RequestParams loads the per-flow temporary request parameters.
func (m *Manager) RequestParams(params interface{}) error {
	const op = "cache.(Manager).RequestParams"
	raw, ok := m.temp.Get(clientKey(m.clientID, requestParamsName))
	if !ok {
		raw, ok = m.cookie.Get(clientKey(m.clientID, requestParamsName))
	}
	if !ok {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err := json.Unmarshal([]byte(raw), params); err != nil {
		return fmt.Errorf("%s: unable to unmarshal params: %w", op, err)
	}
	return nil
}

// ResetRequestCache deletes exactly the correlation entries namespaced to
// state plus the fixed per-flow temporaries, and always clears the
// interaction-in-progress flag as its last step: a crash between the
// individual deletions must still leave the flag cleared, or the
// application would be permanently stuck believing a flow is active.
func (m *Manager) ResetRequestCache(state string) {
	if state != "" {
		for _, logicalName := range []string{requestNonceName, requestVerifierName, requestAuthorityName} {
			k := stateKey(m.clientID, logicalName, state)
			m.temp.Remove(k)
			m.cookie.Remove(k)
		}
	}
	for _, logicalName := range []string{requestParamsName, requestOriginName} {
		k := clientKey(m.clientID, logicalName)
		m.temp.Remove(k)
		m.cookie.Remove(k)
	}
	m.ClearInteractionInProgress()
}

// SetInteractionInProgress takes the cooperative cross-tab interaction
// mutex. It fails with ErrInteractionInProgress if any client already holds
// the flag. This is a check-then-set, not an atomic lock; callers re-check
// at the single point where a new top-level navigation or popup is actually
// opened, which keeps the race window acceptably small.
func (m *Manager) SetInteractionInProgress() error {
	const op = "cache.(Manager).SetInteractionInProgress"
	if holder, ok := m.cookie.Get(interactionStatusKey); ok {
		return fmt.Errorf("%s: held by client %q: %w", op, holder, ErrInteractionInProgress)
	}
	if err := m.cookie.Set(interactionStatusKey, m.clientID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// InteractionInProgress reports the client id holding the interaction flag,
// if any.
func (m *Manager) InteractionInProgress() (string, bool) {
	return m.cookie.Get(interactionStatusKey)
}

// ClearInteractionInProgress releases the interaction flag unconditionally.
func (m *Manager) ClearInteractionInProgress() {
	m.cookie.Remove(interactionStatusKey)
}
