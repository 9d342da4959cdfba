// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	// DefaultCookieTTL bounds how long a cookie-tier entry lives. The tier
	// holds only short security flags (interaction-in-progress marker,
	// correlation state echo, encryption context), all of which must expire
	// on their own if a flow is abandoned.
	DefaultCookieTTL = 24 * time.Hour

	// MaxCookieValueLen mirrors the 4KB capacity limit of the browser
	// cookie jar this tier stands in for.
	MaxCookieValueLen = 4096
)

// Cookie is the small-capacity, TTL-bounded backend used only for short,
// security-sensitive flags that must survive a full top-level navigation
// when no script-addressable storage is guaranteed to.
type Cookie struct {
	ttl   time.Duration
	cache *gocache.Cache
}

var _ Store = (*Cookie)(nil)

// NewCookie creates a cookie-tier store. Entries expire after the
// configured TTL (see WithTTL) and oversized values are rejected rather
// than truncated.
func NewCookie(opt ...Option) *Cookie {
	opts := getOpts(opt...)
	return &Cookie{
		ttl:   opts.withTTL,
		cache: gocache.New(opts.withTTL, opts.withTTL/2),
	}
}

func (c *Cookie) Get(key string) (string, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (c *Cookie) Set(key, value string) error {
	const op = "storage.(Cookie).Set"
	if len(value) > MaxCookieValueLen {
		return fmt.Errorf("%s: %d bytes: %w", op, len(value), ErrValueTooLarge)
	}
	c.cache.Set(key, value, c.ttl)
	return nil
}

func (c *Cookie) Remove(key string) {
	c.cache.Delete(key)
}

func (c *Cookie) Keys() []string {
	items := c.cache.Items()
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	return keys
}

func (c *Cookie) Contains(key string) bool {
	_, ok := c.cache.Get(key)
	return ok
}
