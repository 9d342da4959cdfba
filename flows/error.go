// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package flows

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")

	// ErrCrossOrigin is returned by a WindowHandle whose location is not
	// yet readable because the window is still on the authority's origin.
	ErrCrossOrigin = errors.New("window location is not same-origin")

	// ErrUserCancelled reports that the user abandoned the interaction
	// (closed the popup, dismissed the prompt). Terminal, never retried.
	ErrUserCancelled = errors.New("user cancelled the interaction")

	// ErrTimeout reports that the poll loop exceeded its configured bound
	// without observing a same-origin response. Distinguished from
	// ErrUserCancelled so callers can tell abandonment from an
	// unresponsive network or server.
	ErrTimeout = errors.New("timed out awaiting the authorize response")

	// ErrEmptyResponse reports a response URL that carried neither a
	// fragment nor a query, typically because the redirect URI strips
	// them.
	ErrEmptyResponse = errors.New("authorize response is empty")

	// ErrUnrecognizedResponse reports a response that carried parameters
	// but none of the expected ones.
	ErrUnrecognizedResponse = errors.New("authorize response has an unrecognized shape")

	ErrStateMismatch     = errors.New("response state does not match the request")
	ErrStateTypeMismatch = errors.New("response state was produced by a different interaction type")
	ErrNonceMismatch     = errors.New("id_token nonce does not match the request")
	ErrNoAuthCode        = errors.New("authorize response contains no authorization code")

	// ErrAuthorizeFailed wraps an error returned by the authorize
	// endpoint itself (as error/error_description response parameters).
	ErrAuthorizeFailed = errors.New("authorize endpoint returned an error")

	// ErrNoCachedToken reports a silent cache lookup that found no
	// unexpired access token for the request.
	ErrNoCachedToken = errors.New("no cached token satisfies the request")

	// ErrNoRefreshToken reports that the account has no refresh token to
	// renew with.
	ErrNoRefreshToken = errors.New("no refresh token is cached for the account")

	// ErrAuthorityMismatch reports that a cached account's environment is
	// not an alias of the authority the request resolved.
	ErrAuthorityMismatch = errors.New("account environment does not match the resolved authority")

	// ErrBrokerFatal reports a native-broker response class that must not
	// be retried through the web flow.
	ErrBrokerFatal = errors.New("broker returned a fatal response")

	ErrBrokerUnavailable = errors.New("broker transport is unavailable")
)
