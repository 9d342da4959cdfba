// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package endpoint

import "errors"

var (
	ErrInvalidParameter     = errors.New("invalid parameter")
	ErrNilParameter         = errors.New("nil parameter")
	ErrInvalidGrant         = errors.New("invalid grant")
	ErrMissingIDToken       = errors.New("id_token is missing from token response")
	ErrUnreachableAuthority = errors.New("authority is unreachable")
	ErrUntrustedAuthority   = errors.New("authority is not trusted")
	ErrMalformedIDToken     = errors.New("id_token is malformed")
	ErrInvalidCACert        = errors.New("invalid CA certificate")
)
