// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package spakit

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")

	// ErrNoAccount reports that no cached account matches the query.
	ErrNoAccount = errors.New("no account matches")

	// ErrSilentFailed reports that every permitted silent source (cache,
	// hidden frame, refresh token) was tried and none produced a token;
	// the caller should fall back to an interactive acquisition.
	ErrSilentFailed = errors.New("silent acquisition failed; interaction is required")
)
