// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package cache

import "strings"

// Persisted keys are namespaced "<prefix>.<clientId>.<logicalName>"; the
// indices, the encryption context and the interaction flag live under fixed
// well-known keys shared by every client on the same origin.
const (
	keyPrefix = "spakit"

	// fixed well-known keys
	accountIndexKey      = keyPrefix + ".account.keys"
	tokenIndexKey        = keyPrefix + ".token.keys"
	encryptionContextKey = keyPrefix + ".cache.encryption.context"
	interactionStatusKey = keyPrefix + ".interaction.status"

	// per-request logical names, always suffixed with the request state
	requestNonceName     = "request.nonce"
	requestVerifierName  = "request.verifier"
	requestAuthorityName = "request.authority"

	// per-flow temporaries cleared on every request reset
	requestParamsName = "request.params"
	requestOriginName = "request.origin"

	// encryption binding context for records that are not app-specific
	sharedContext = "shared"
)

// clientKey builds "<prefix>.<clientId>.<logicalName>".
func clientKey(clientID, logicalName string) string {
	return strings.Join([]string{keyPrefix, clientID, logicalName}, ".")
}

// stateKey builds a correlation key namespaced by the request's state value,
// so two concurrent interactive requests cannot clobber each other's
// entries.
func stateKey(clientID, logicalName, state string) string {
	return clientKey(clientID, logicalName) + "." + state
}
