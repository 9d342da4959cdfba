// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"time"

	"github.com/hashicorp/go-hclog"
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
	withLogger    hclog.Logger
	withDir       string
	withNamespace string
	withTTL       time.Duration
}

func defaults() options {
	return options{
		withLogger: hclog.NewNullLogger(),
		withTTL:    DefaultCookieTTL,
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

// WithDir provides the directory for the durable backend's data file.
func WithDir(dir string) Option {
	return func(o interface{}) {
		if v, ok := o.(*options); ok {
			v.withDir = dir
		}
	}
}

// WithNamespace provides the namespace used to name the durable backend's
// data file, keeping multiple clients in the same directory apart.
func WithNamespace(ns string) Option {
	return func(o interface{}) {
		if v, ok := o.(*options); ok {
			v.withNamespace = ns
		}
	}
}

// WithTTL overrides the default entry lifetime for the cookie backend.
func WithTTL(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*options); ok && d > 0 {
			v.withTTL = d
		}
	}
}
