// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package cryptor

import "errors"

var (
	ErrInvalidParameter           = errors.New("invalid parameter")
	ErrNilParameter               = errors.New("nil parameter")
	ErrEntropyUnavailable         = errors.New("platform entropy source unavailable")
	ErrKeyNotFound                = errors.New("signing key not found")
	ErrUnsupportedChallengeMethod = errors.New("unsupported challenge method")
	ErrDecryptionFailed           = errors.New("authenticated decryption failed")
)
