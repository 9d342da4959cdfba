// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package flows

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-uuid"

	"github.com/spakit/spakit/endpoint"
)

// BrokerStatus classifies a native-broker response.
type BrokerStatus string

const (
	BrokerStatusSuccess BrokerStatus = "success"

	// Fatal classes. A fatal response must not be retried through the
	// web flow.
	BrokerStatusPersistentError BrokerStatus = "persistent_error"
	BrokerStatusDisabled        BrokerStatus = "disabled"
	BrokerStatusUnknownMethod   BrokerStatus = "unknown_method"

	// Non-fatal classes fall back to the corresponding web flow.
	BrokerStatusTransientError BrokerStatus = "transient_error"
	BrokerStatusUserCancel     BrokerStatus = "user_cancel"
)

// BrokerRequest is the structured message posted to a native broker in
// place of web navigation.
type BrokerRequest struct {
	RequestID   string   `json:"requestId"`
	ClientID    string   `json:"clientId"`
	Authority   string   `json:"authority"`
	RedirectURI string   `json:"redirectUri"`
	Scopes      []string `json:"scopes"`
	LoginHint   string   `json:"loginHint,omitempty"`
	Prompt      string   `json:"prompt,omitempty"`
	Interaction string   `json:"interaction"`
}

// BrokerResponse is the single correlated response to a BrokerRequest.
type BrokerResponse struct {
	RequestID        string       `json:"requestId"`
	Status           BrokerStatus `json:"status"`
	AccessToken      string       `json:"accessToken,omitempty"`
	IDToken          string       `json:"idToken,omitempty"`
	TokenType        string       `json:"tokenType,omitempty"`
	ExpiresIn        int64        `json:"expiresIn,omitempty"`
	GrantedScopes    []string     `json:"grantedScopes,omitempty"`
	ErrorDescription string       `json:"errorDescription,omitempty"`
}

// BrokerTransport posts a request message to a platform broker and blocks
// for its single response. Implementations own the underlying channel
// (extension messaging, native bridge) and its per-message framing.
type BrokerTransport interface {
	SendRequest(ctx context.Context, req *BrokerRequest) (*BrokerResponse, error)
}

// tryBroker attempts the acquisition through the native broker. The
// second return reports whether the broker handled the request: fatal
// response classes and successes are handled (the web flow must not run);
// transport failures and non-fatal classes are not, and the caller falls
// back to its web flow.
func (f *Flow) tryBroker(ctx context.Context, interaction InteractionType, authorityURL string, scopes []string, opts options) (*Result, bool, error) {
	const op = "flows.(Flow).tryBroker"
	requestID, err := uuid.GenerateUUID()
	if err != nil {
		return nil, false, nil
	}
	resp, err := f.broker.SendRequest(ctx, &BrokerRequest{
		RequestID:   requestID,
		ClientID:    f.clientID,
		Authority:   authorityURL,
		RedirectURI: f.redirectURI,
		Scopes:      withOpenIDScopes(scopes),
		LoginHint:   opts.withLoginHint,
		Prompt:      opts.withPrompt,
		Interaction: string(interaction),
	})
	if err != nil {
		f.logger.Debug("broker transport failed, falling back to web flow", "error", err)
		return nil, false, nil
	}
	if resp.RequestID != requestID {
		f.logger.Warn("broker response correlation id does not match the request, falling back to web flow",
			"want", requestID, "got", resp.RequestID)
		return nil, false, nil
	}

	switch resp.Status {
	case BrokerStatusSuccess:
		result, err := f.brokerResult(ctx, resp, authorityURL, scopes, opts)
		if err != nil {
			return nil, true, fmt.Errorf("%s: %w", op, err)
		}
		return result, true, nil
	case BrokerStatusPersistentError, BrokerStatusDisabled, BrokerStatusUnknownMethod:
		return nil, true, fmt.Errorf("%s: %s (%s): %w", op, resp.Status, resp.ErrorDescription, ErrBrokerFatal)
	case BrokerStatusUserCancel:
		return nil, true, fmt.Errorf("%s: %w", op, ErrUserCancelled)
	default:
		f.logger.Debug("broker returned a non-fatal failure, falling back to web flow",
			"status", string(resp.Status), "description", resp.ErrorDescription)
		return nil, false, nil
	}
}

func (f *Flow) brokerResult(ctx context.Context, resp *BrokerResponse, authorityURL string, scopes []string, opts options) (*Result, error) {
	authority, err := f.resolver.Resolve(ctx, authorityURL)
	if err != nil {
		return nil, err
	}
	claims, err := f.claims.ExtractClaims(resp.IDToken)
	if err != nil {
		return nil, err
	}
	tr := &endpoint.TokenResult{
		AccessToken:   resp.AccessToken,
		IDToken:       resp.IDToken,
		TokenType:     resp.TokenType,
		Expiry:        opts.withNow().Add(time.Duration(resp.ExpiresIn) * time.Second),
		GrantedScopes: resp.GrantedScopes,
	}
	return f.persistResult(tr, accountFromClaims(claims, authority), scopes, opts)
}
