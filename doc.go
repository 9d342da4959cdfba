// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// spakit is a client library for acquiring OAuth2/OIDC tokens in
// single-page-application style: authorization-code+PKCE interaction
// flows (redirect, popup, hidden frame) in front of an encrypted,
// indexed token cache.
//
// A PublicClient is the entry point. It owns the cache and drives the
// interaction clients in the flows package; navigation itself is
// delegated to a caller-supplied UserAgent, so the library runs equally
// against a real browser bridge, a webview, or a test double.
//
// Primary types and packages in this module include:
//
//   - PublicClient: acquire tokens interactively or silently, enumerate
//     cached accounts, sign out.
//
//   - flows: the interaction state machine shared by every mode, plus
//     the native-broker transport.
//
//   - cache: the encrypted, indexed token cache (accounts, credentials,
//     correlation state, the cross-tab interaction flag).
//
//   - cryptor: PKCE material, cache key derivation, and the
//     authenticated encryption of cache records.
//
//   - storage: the key-value tiers the cache is layered over (memory,
//     session, durable, cookie).
//
//   - endpoint: the narrow interfaces to the authority (token exchange,
//     OIDC discovery, ID-token claims extraction) with default
//     implementations.
package spakit
