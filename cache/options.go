// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package cache

import (
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/spakit/spakit/storage"
)

// Option defines a common functional options type.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil {
			continue
		}
		o(opts)
	}
}

type options struct {
	withLogger      hclog.Logger
	withDir         string
	withLocation    storage.Location
	withCookieStore storage.Store
	withCookieTTL   time.Duration
}

func defaults() options {
	return options{
		withLogger:   hclog.NewNullLogger(),
		withLocation: storage.MemoryLocation,
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
		if v, ok := o.(*options); ok && l != nil {
			v.withLogger = l
		}
	}
}

// WithDurableDir selects the durable tier backed by files under dir. Without
// this option the cache is volatile: nothing survives the process.
func WithDurableDir(dir string) Option {
	return func(o interface{}) {
		if v, ok := o.(*options); ok && dir != "" {
			v.withDir = dir
			v.withLocation = storage.DurableLocation
		}
	}
}

// WithCookieStore overrides the cookie-tier store. The default is a
// process-local TTL store; applications that need the encryption context to
// survive a restart supply a store with cookie-jar semantics here.
func WithCookieStore(s storage.Store) Option {
	return func(o interface{}) {
		if v, ok := o.(*options); ok && s != nil {
			v.withCookieStore = s
		}
	}
}

// WithCookieTTL overrides the default lifetime of cookie-tier entries.
func WithCookieTTL(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*options); ok && d > 0 {
			v.withCookieTTL = d
		}
	}
}
