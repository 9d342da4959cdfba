// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package flows

import (
	"context"
	"fmt"

	"github.com/spakit/spakit/events"
)

// Popup acquires tokens through a new visible window: the user
// authenticates there, the authority redirects the window back to the
// application's origin, and the poller captures the response. Popup takes
// the cooperative cross-tab interaction flag for its duration.
func (f *Flow) Popup(ctx context.Context, authorityURL string, scopes []string, opt ...Option) (*Result, error) {
	const op = "flows.(Flow).Popup"
	opts := f.requestOpts(opt...)
	f.emit(events.AcquireTokenStart, InteractionPopup, nil, nil)

	if f.broker != nil {
		if result, handled, err := f.tryBroker(ctx, InteractionPopup, authorityURL, scopes, opts); handled {
			f.emitOutcome(InteractionPopup, result, err)
			return result, err
		}
	}

	result, err := f.popup(ctx, authorityURL, scopes, opts)
	if err != nil {
		err = fmt.Errorf("%s: %w", op, err)
	}
	f.emitOutcome(InteractionPopup, result, err)
	return result, err
}

func (f *Flow) popup(ctx context.Context, authorityURL string, scopes []string, opts options) (*Result, error) {
	if err := f.cache.SetInteractionInProgress(); err != nil {
		return nil, err
	}
	state := ""
	// ResetRequestCache also releases the interaction flag, as its last
	// step, so an error on any path below cannot leave the flag stuck.
	defer func() { f.cache.ResetRequestCache(state) }()

	req, err := f.initRequest(ctx, InteractionPopup, authorityURL, scopes, false, opts)
	if err != nil {
		return nil, err
	}
	state = req.state

	authorizeURL, err := req.AuthorizeURL()
	if err != nil {
		return nil, err
	}
	handle, err := f.agent.OpenWindow(ctx, authorizeURL)
	if err != nil {
		return nil, err
	}
	defer handle.Close()

	responseURL, err := awaitResponse(ctx, handle, opts.withPollInterval, opts.withPopupTimeout)
	if err != nil {
		return nil, err
	}
	resp, err := parseAuthorizeResponse(responseURL)
	if err != nil {
		return nil, err
	}
	if err := resp.validate(req.state, InteractionPopup); err != nil {
		return nil, err
	}
	return f.redeemCode(ctx, req.state, resp.Code, scopes, opts)
}

func (f *Flow) emitOutcome(kind InteractionType, result *Result, err error) {
	if err != nil {
		f.emit(events.AcquireTokenFailure, kind, nil, err)
		return
	}
	f.emit(events.AcquireTokenSuccess, kind, result, nil)
}
