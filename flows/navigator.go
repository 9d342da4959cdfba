// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package flows

import "context"

// WindowHandle is a live top-level window or hidden frame opened for an
// authorize round trip. Implementations are provided by the embedding
// application (a real browser window, a webview, a test double).
type WindowHandle interface {
	// Location returns the window's current URL once it has navigated
	// back to the application's origin. Until then it returns
	// ErrCrossOrigin; the poller treats that as "keep waiting".
	Location() (string, error)

	// Closed reports whether the window has been closed out from under
	// the flow, which is treated as user cancellation.
	Closed() bool

	// Close releases the window. Safe to call more than once.
	Close()
}

// UserAgent is how flows drive navigation. Redirect mode navigates the
// top-level document and never returns a handle; popup and silent modes
// return a handle the poller watches for the response.
type UserAgent interface {
	// Navigate replaces the top-level document with the authorize URL.
	// The process does not observe the response; it arrives on a later
	// HandleRedirect call.
	Navigate(ctx context.Context, url string) error

	// OpenWindow opens a new visible window at the authorize URL.
	OpenWindow(ctx context.Context, url string) (WindowHandle, error)

	// OpenFrame loads the authorize URL in a hidden sandboxed frame.
	OpenFrame(ctx context.Context, url string) (WindowHandle, error)
}
