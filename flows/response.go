// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package flows

import (
	"fmt"
	"net/url"
)

// authorizeResponse is the parameter map captured from a same-origin
// response URL.
type authorizeResponse struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// parseAuthorizeResponse extracts the authorize response from a captured
// URL, preferring the fragment and falling back to the query. An empty
// URL is distinguished from one carrying unrelated parameters so callers
// can tell "the redirect URI strips the response" from "this is not an
// authorize response at all".
func parseAuthorizeResponse(rawURL string) (*authorizeResponse, error) {
	const op = "flows.parseAuthorizeResponse"
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%s: response url is unparsable: %w", op, ErrInvalidParameter)
	}

	var params url.Values
	switch {
	case u.Fragment != "":
		params, err = url.ParseQuery(u.Fragment)
		if err != nil {
			return nil, fmt.Errorf("%s: response fragment is unparsable: %w", op, ErrUnrecognizedResponse)
		}
	case u.RawQuery != "":
		params = u.Query()
	default:
		return nil, fmt.Errorf("%s: no fragment or query on the response url: %w", op, ErrEmptyResponse)
	}

	resp := &authorizeResponse{
		Code:             params.Get("code"),
		State:            params.Get("state"),
		Error:            params.Get("error"),
		ErrorDescription: params.Get("error_description"),
	}
	if resp.Code == "" && resp.State == "" && resp.Error == "" {
		return nil, fmt.Errorf("%s: no code, state or error parameter: %w", op, ErrUnrecognizedResponse)
	}
	return resp, nil
}

// validate checks the response against the request that is consuming it:
// the state must match byte for byte and must have been minted by the
// same interaction type, a server error is surfaced, and a code must be
// present. A state produced by a different mode is rejected so a stale
// redirect response can never be consumed by an unrelated silent request.
func (r *authorizeResponse) validate(expectedState string, interaction InteractionType) error {
	const op = "flows.(authorizeResponse).validate"
	if r.State != expectedState {
		return fmt.Errorf("%s: %w", op, ErrStateMismatch)
	}
	claims, err := DecodeState(r.State)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if claims.Type != interaction {
		return fmt.Errorf("%s: state was minted for %q: %w", op, claims.Type, ErrStateTypeMismatch)
	}
	if r.Error != "" {
		return fmt.Errorf("%s: %s (%s): %w", op, r.Error, r.ErrorDescription, ErrAuthorizeFailed)
	}
	if r.Code == "" {
		return fmt.Errorf("%s: %w", op, ErrNoAuthCode)
	}
	return nil
}
