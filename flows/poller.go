// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package flows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
)

const (
	// DefaultPollInterval is how often an open window's location is
	// probed for a same-origin response.
	DefaultPollInterval = 30 * time.Millisecond

	// DefaultPopupTimeout bounds how long a popup flow waits for the
	// user to finish authenticating.
	DefaultPopupTimeout = 60 * time.Second

	// DefaultIframeTimeout bounds a silent frame. Silent flows must fail
	// fast rather than stall the caller, so the default is much lower
	// than the popup's.
	DefaultIframeTimeout = 10 * time.Second

	// MinIframeTimeout is the floor below which a configured iframe
	// timeout triggers a warning.
	MinIframeTimeout = 1 * time.Second
)

// awaitResponse polls the handle until its location becomes same-origin,
// returning the response URL. A closed handle is user cancellation; an
// exceeded timeout is ErrTimeout. Every exit path stops the ticker and
// timer so an abandoned flow leaves nothing running.
func awaitResponse(ctx context.Context, h WindowHandle, interval, timeout time.Duration) (string, error) {
	const op = "flows.awaitResponse"
	if h == nil {
		return "", fmt.Errorf("%s: window handle is nil: %w", op, ErrNilParameter)
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%s: %w", op, ctx.Err())
		case <-deadline.C:
			return "", fmt.Errorf("%s: no response within %s: %w", op, timeout, ErrTimeout)
		case <-ticker.C:
			if h.Closed() {
				return "", fmt.Errorf("%s: window closed: %w", op, ErrUserCancelled)
			}
			loc, err := h.Location()
			switch {
			case err == nil:
				return loc, nil
			case errors.Is(err, ErrCrossOrigin):
				// still on the authority's origin
			default:
				return "", fmt.Errorf("%s: %w", op, err)
			}
		}
	}
}

// iframeTimeout applies the silent-frame default and floor warning.
func iframeTimeout(logger hclog.Logger, configured time.Duration) time.Duration {
	if configured <= 0 {
		return DefaultIframeTimeout
	}
	if configured < MinIframeTimeout {
		logger.Warn("configured iframe timeout is below the supported floor",
			"configured", configured.String(), "floor", MinIframeTimeout.String())
	}
	return configured
}
