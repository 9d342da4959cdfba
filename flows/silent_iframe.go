// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package flows

import (
	"context"
	"errors"
	"fmt"

	"github.com/spakit/spakit/cache"
	"github.com/spakit/spakit/endpoint"
	"github.com/spakit/spakit/events"
)

// SilentIframe acquires tokens without user interaction by loading the
// authorize URL with prompt=none in a hidden frame, relying on the
// authority's existing session. Silent flows do not take the interaction
// flag and may run concurrently with each other and with an interactive
// flow. An invalid_grant from the code exchange is retried exactly once
// with freshly generated correlation state; no other failure is retried.
func (f *Flow) SilentIframe(ctx context.Context, authorityURL string, account *cache.Account, scopes []string, opt ...Option) (*Result, error) {
	const op = "flows.(Flow).SilentIframe"
	if account == nil {
		return nil, fmt.Errorf("%s: account is nil: %w", op, ErrNilParameter)
	}
	opts := f.requestOpts(opt...)
	f.emit(events.AcquireTokenStart, InteractionSilent, nil, nil)

	if f.broker != nil {
		if result, handled, err := f.tryBroker(ctx, InteractionSilent, authorityURL, scopes, opts); handled {
			f.emitOutcome(InteractionSilent, result, err)
			return result, err
		}
	}

	result, err := f.silentIframeAttempt(ctx, authorityURL, account, scopes, opts)
	if err != nil && errors.Is(err, endpoint.ErrInvalidGrant) {
		f.logger.Debug("silent frame exchange returned invalid_grant, retrying once with fresh state")
		result, err = f.silentIframeAttempt(ctx, authorityURL, account, scopes, opts)
	}
	if err != nil {
		err = fmt.Errorf("%s: %w", op, err)
	}
	f.emitOutcome(InteractionSilent, result, err)
	return result, err
}

func (f *Flow) silentIframeAttempt(ctx context.Context, authorityURL string, account *cache.Account, scopes []string, opts options) (*Result, error) {
	opts.withPrompt = "none"
	if opts.withLoginHint == "" {
		opts.withLoginHint = account.Username
	}

	state := ""
	defer func() { f.cache.ResetRequestCache(state) }()

	req, err := f.initRequest(ctx, InteractionSilent, authorityURL, scopes, false, opts)
	if err != nil {
		return nil, err
	}
	state = req.state
	if !req.authority.IsAliasOf(account.Environment) {
		return nil, fmt.Errorf("account environment %q: %w", account.Environment, ErrAuthorityMismatch)
	}

	authorizeURL, err := req.AuthorizeURL()
	if err != nil {
		return nil, err
	}
	handle, err := f.agent.OpenFrame(ctx, authorizeURL)
	if err != nil {
		return nil, err
	}
	defer handle.Close()

	responseURL, err := awaitResponse(ctx, handle, opts.withPollInterval, iframeTimeout(f.logger, opts.withIframeTimeout))
	if err != nil {
		return nil, err
	}
	resp, err := parseAuthorizeResponse(responseURL)
	if err != nil {
		return nil, err
	}
	if err := resp.validate(req.state, InteractionSilent); err != nil {
		return nil, err
	}
	return f.redeemCode(ctx, req.state, resp.Code, scopes, opts)
}
