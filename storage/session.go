// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package storage

// Session is the session-scoped backend. It has the same semantics as
// Memory but is owned by exactly one client session: the cache manager uses
// it as the decrypted mirror of durable records, and ending the session
// clears it without touching any other session's mirror.
type Session struct {
	*Memory
}

var _ Store = (*Session)(nil)

// NewSession creates an empty session-scoped store.
func NewSession() *Session {
	return &Session{Memory: NewMemory()}
}
