// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreContract(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		new  func(t *testing.T) Store
	}{
		{"memory", func(t *testing.T) Store { return NewMemory() }},
		{"session", func(t *testing.T) Store { return NewSession() }},
		{"cookie", func(t *testing.T) Store { return NewCookie() }},
		{"durable", func(t *testing.T) Store {
			s, err := NewDurable(t.TempDir(), "test")
			require.NoError(t, err)
			return s
		}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			s := tt.new(t)

			_, ok := s.Get("missing")
			assert.False(ok)
			assert.False(s.Contains("missing"))

			require.NoError(s.Set("alpha", "1"))
			require.NoError(s.Set("beta", "2"))
			require.NoError(s.Set("alpha", "3")) // replace

			v, ok := s.Get("alpha")
			require.True(ok)
			assert.Equal("3", v)
			assert.True(s.Contains("beta"))
			assert.ElementsMatch([]string{"alpha", "beta"}, s.Keys())

			s.Remove("alpha")
			assert.False(s.Contains("alpha"))
			s.Remove("alpha") // no-op
			assert.ElementsMatch([]string{"beta"}, s.Keys())
		})
	}
}

func TestDurable_SurvivesReopen(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	dir := t.TempDir()

	s, err := NewDurable(dir, "acct")
	require.NoError(err)
	require.NoError(s.Set("k1", "v1"))
	require.NoError(s.Set("k2", "v2"))
	s.Remove("k2")

	reopened, err := NewDurable(dir, "acct")
	require.NoError(err)
	v, ok := reopened.Get("k1")
	require.True(ok)
	assert.Equal("v1", v)
	assert.False(reopened.Contains("k2"))
}

func TestDurable_CorruptDocumentStartsEmpty(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	dir := t.TempDir()
	require.NoError(os.WriteFile(filepath.Join(dir, "acct.json"), []byte("{not json"), 0o600))

	s, err := NewDurable(dir, "acct")
	require.NoError(err)
	assert.Empty(s.Keys())
}

func TestCookie_CapacityAndTTL(t *testing.T) {
	t.Parallel()
	t.Run("oversized-value", func(t *testing.T) {
		assert := assert.New(t)
		c := NewCookie()
		err := c.Set("big", strings.Repeat("x", MaxCookieValueLen+1))
		assert.True(errors.Is(err, ErrValueTooLarge))
		assert.False(c.Contains("big"))
	})
	t.Run("expiry", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c := NewCookie(WithTTL(25 * time.Millisecond))
		require.NoError(c.Set("flag", "on"))
		assert.True(c.Contains("flag"))
		time.Sleep(60 * time.Millisecond)
		assert.False(c.Contains("flag"))
	})
}

func TestNewWithFallback(t *testing.T) {
	t.Parallel()
	t.Run("durable-ok", func(t *testing.T) {
		assert := assert.New(t)
		s, loc := NewWithFallback(DurableLocation, WithDir(t.TempDir()))
		assert.Equal(DurableLocation, loc)
		assert.IsType(&Durable{}, s)
	})
	t.Run("durable-unavailable-falls-back", func(t *testing.T) {
		assert := assert.New(t)
		// empty dir is a construction error for the durable backend
		s, loc := NewWithFallback(DurableLocation)
		assert.Equal(MemoryLocation, loc)
		assert.IsType(&Memory{}, s)
	})
}

func TestNew_UnsupportedBackend(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	_, err := New(Location("indexeddb"))
	assert.True(errors.Is(err, ErrUnsupportedBackend))
}
