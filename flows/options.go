// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package flows

import (
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/spakit/spakit/events"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default
// options and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil {
			continue
		}
		o(opts)
	}
}

type options struct {
	withLogger        hclog.Logger
	withBus           *events.Bus
	withBroker        BrokerTransport
	withPollInterval  time.Duration
	withPopupTimeout  time.Duration
	withIframeTimeout time.Duration
	withLoginHint     string
	withPrompt        string
	withClaimsHash    string
	withStateMeta     string
	withNow           func() time.Time
}

func defaults() options {
	return options{
		withPollInterval:  DefaultPollInterval,
		withPopupTimeout:  DefaultPopupTimeout,
		withIframeTimeout: DefaultIframeTimeout,
		withNow:           time.Now,
	}
}

func getOpts(opt ...Option) options {
	opts := defaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withLogger = l
		}
	}
}

// WithBus provides an optional lifecycle event bus.
func WithBus(b *events.Bus) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withBus = b
		}
	}
}

// WithBroker provides an optional native-broker transport. When present
// and permitted, acquisition is attempted through the broker before the
// web flow.
func WithBroker(t BrokerTransport) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withBroker = t
		}
	}
}

// WithPollInterval overrides how often an open window is probed for a
// response.
func WithPollInterval(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withPollInterval = d
		}
	}
}

// WithPopupTimeout overrides how long a popup flow waits for the user.
func WithPopupTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withPopupTimeout = d
		}
	}
}

// WithIframeTimeout overrides how long a silent frame is given. Values
// below MinIframeTimeout log a warning.
func WithIframeTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withIframeTimeout = d
		}
	}
}

// WithLoginHint pre-fills the authority's username field.
func WithLoginHint(hint string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withLoginHint = hint
		}
	}
}

// WithPrompt sets the authorize prompt parameter (login, consent,
// select_account).
func WithPrompt(prompt string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withPrompt = prompt
		}
	}
}

// WithClaimsHash tags the acquisition with the hash of a caller-supplied
// claims payload, so the resulting access token is cached separately from
// claims-free tokens for the same scopes.
func WithClaimsHash(hash string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withClaimsHash = hash
		}
	}
}

// WithStateMeta round-trips opaque caller metadata through the state
// value.
func WithStateMeta(meta string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withStateMeta = meta
		}
	}
}

// WithNow overrides the time source. Used in tests.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			if now != nil {
				o.withNow = now
			}
		}
	}
}
