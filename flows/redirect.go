// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package flows

import (
	"context"
	"errors"
	"fmt"

	"github.com/spakit/spakit/cache"
	"github.com/spakit/spakit/events"
)

// redirectParams is the serialized request a redirect flow resumes from
// after the top-level navigation returns.
type redirectParams struct {
	State      string   `json:"state"`
	Authority  string   `json:"authority"`
	Scopes     []string `json:"scopes"`
	ClaimsHash string   `json:"claimsHash,omitempty"`
}

// Redirect starts a redirect acquisition: it persists the correlation
// state and the request itself to storage that survives navigation, then
// replaces the top-level document with the authorize URL. The flow
// resolves on a later HandleRedirect call. Redirect takes the cooperative
// cross-tab interaction flag; HandleRedirect releases it.
func (f *Flow) Redirect(ctx context.Context, authorityURL string, scopes []string, opt ...Option) error {
	const op = "flows.(Flow).Redirect"
	opts := f.requestOpts(opt...)
	f.emit(events.LoginStart, InteractionRedirect, nil, nil)

	if f.broker != nil {
		if result, handled, err := f.tryBroker(ctx, InteractionRedirect, authorityURL, scopes, opts); handled {
			if err != nil {
				f.emit(events.LoginFailure, InteractionRedirect, nil, err)
				return err
			}
			f.emit(events.LoginSuccess, InteractionRedirect, result, nil)
			return nil
		}
	}

	if err := f.redirect(ctx, authorityURL, scopes, opts); err != nil {
		err = fmt.Errorf("%s: %w", op, err)
		f.emit(events.LoginFailure, InteractionRedirect, nil, err)
		return err
	}
	return nil
}

func (f *Flow) redirect(ctx context.Context, authorityURL string, scopes []string, opts options) error {
	if err := f.cache.SetInteractionInProgress(); err != nil {
		return err
	}
	req, err := f.initRequest(ctx, InteractionRedirect, authorityURL, scopes, true, opts)
	if err != nil {
		f.cache.ResetRequestCache("")
		return err
	}
	err = f.cache.SetRequestParams(redirectParams{
		State:      req.state,
		Authority:  req.authority.Issuer,
		Scopes:     scopes,
		ClaimsHash: opts.withClaimsHash,
	})
	if err != nil {
		f.cache.ResetRequestCache(req.state)
		return err
	}
	authorizeURL, err := req.AuthorizeURL()
	if err != nil {
		f.cache.ResetRequestCache(req.state)
		return err
	}
	if err := f.agent.Navigate(ctx, authorizeURL); err != nil {
		f.cache.ResetRequestCache(req.state)
		return err
	}
	return nil
}

// HandleRedirect consumes the response of a previously started redirect
// flow from the current document URL. It returns (nil, nil) when no
// redirect flow is pending, so applications can call it unconditionally
// on every page load. On any consumed outcome, success or failure, the
// flow's correlation state is cleared and the interaction flag released.
func (f *Flow) HandleRedirect(ctx context.Context, currentURL string) (*Result, error) {
	const op = "flows.(Flow).HandleRedirect"
	opts := f.defaults

	var params redirectParams
	if err := f.cache.RequestParams(&params); err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	resp, err := parseAuthorizeResponse(currentURL)
	if err != nil {
		if errors.Is(err, ErrEmptyResponse) {
			// Not a redirect return; the pending flow may still resolve
			// on a later load.
			return nil, nil
		}
		f.cache.ResetRequestCache(params.State)
		err = fmt.Errorf("%s: %w", op, err)
		f.emit(events.LoginFailure, InteractionRedirect, nil, err)
		return nil, err
	}

	defer f.cache.ResetRequestCache(params.State)

	opts.withClaimsHash = params.ClaimsHash
	result, err := f.handleRedirect(ctx, &params, resp, opts)
	if err != nil {
		err = fmt.Errorf("%s: %w", op, err)
		f.emit(events.LoginFailure, InteractionRedirect, nil, err)
		return nil, err
	}
	f.emit(events.LoginSuccess, InteractionRedirect, result, nil)
	return result, nil
}

func (f *Flow) handleRedirect(ctx context.Context, params *redirectParams, resp *authorizeResponse, opts options) (*Result, error) {
	if err := resp.validate(params.State, InteractionRedirect); err != nil {
		return nil, err
	}
	return f.redeemCode(ctx, params.State, resp.Code, params.Scopes, opts)
}
