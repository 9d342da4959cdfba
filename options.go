// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package spakit

import (
	"github.com/hashicorp/go-hclog"

	"github.com/spakit/spakit/endpoint"
	"github.com/spakit/spakit/flows"
	"github.com/spakit/spakit/storage"
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
	withLogger      hclog.Logger
	withExchanger   endpoint.TokenExchanger
	withResolver    endpoint.Resolver
	withClaims      endpoint.ClaimsExtractor
	withBroker      flows.BrokerTransport
	withCookieStore storage.Store
	withCacheDir    string
	withCAPEM       string
	withFlowOpts    []flows.Option
}

func defaults() options {
	return options{
		withLogger: hclog.NewNullLogger(),
	}
}

func getOpts(opt ...Option) options {
	opts := defaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger for the client, the cache, and
// the flows.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if v, ok := o.(*options); ok && l != nil {
			v.withLogger = l
		}
	}
}

// WithTokenExchanger overrides the default token-endpoint client.
func WithTokenExchanger(e endpoint.TokenExchanger) Option {
	return func(o interface{}) {
		if v, ok := o.(*options); ok && e != nil {
			v.withExchanger = e
		}
	}
}

// WithResolver overrides the default OIDC-discovery authority resolver.
func WithResolver(r endpoint.Resolver) Option {
	return func(o interface{}) {
		if v, ok := o.(*options); ok && r != nil {
			v.withResolver = r
		}
	}
}

// WithClaimsExtractor overrides the default ID-token claims extractor.
func WithClaimsExtractor(c endpoint.ClaimsExtractor) Option {
	return func(o interface{}) {
		if v, ok := o.(*options); ok && c != nil {
			v.withClaims = c
		}
	}
}

// WithBroker provides a native-broker transport; when present,
// acquisition is attempted through it before any web navigation.
func WithBroker(t flows.BrokerTransport) Option {
	return func(o interface{}) {
		if v, ok := o.(*options); ok && t != nil {
			v.withBroker = t
		}
	}
}

// WithDurableCacheDir stores the encrypted token cache under dir so it
// survives the process. Without it the cache is in-memory only.
func WithDurableCacheDir(dir string) Option {
	return func(o interface{}) {
		if v, ok := o.(*options); ok {
			v.withCacheDir = dir
		}
	}
}

// WithCookieStore overrides the cookie-tier store backing the encryption
// context and the cross-tab interaction flag.
func WithCookieStore(s storage.Store) Option {
	return func(o interface{}) {
		if v, ok := o.(*options); ok && s != nil {
			v.withCookieStore = s
		}
	}
}

// WithCAPEM trusts only the given CA chain for authority and token
// endpoint connections.
func WithCAPEM(pem string) Option {
	return func(o interface{}) {
		if v, ok := o.(*options); ok {
			v.withCAPEM = pem
		}
	}
}

// WithFlowOptions passes additional defaults through to the underlying
// flows (poll interval, timeouts).
func WithFlowOptions(opt ...flows.Option) Option {
	return func(o interface{}) {
		if v, ok := o.(*options); ok {
			v.withFlowOpts = append(v.withFlowOpts, opt...)
		}
	}
}
