// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus(t *testing.T) {
	t.Parallel()
	t.Run("subscribe-emit-unsubscribe", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		b := New(nil)

		var got []Event
		id, err := b.Subscribe(func(e Event) { got = append(got, e) })
		require.NoError(err)

		b.Emit(Event{Type: LoginStart, InteractionKind: "popup"})
		require.Len(got, 1)
		assert.Equal(LoginStart, got[0].Type)
		assert.Equal("popup", got[0].InteractionKind)

		b.Unsubscribe(id)
		b.Emit(Event{Type: LoginSuccess})
		assert.Len(got, 1)
	})
	t.Run("nil-callback", func(t *testing.T) {
		assert := assert.New(t)
		b := New(nil)
		_, err := b.Subscribe(nil)
		assert.Error(err)
	})
	t.Run("panicking-subscriber-does-not-abort", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		b := New(nil)
		_, err := b.Subscribe(func(Event) { panic("boom") })
		require.NoError(err)
		delivered := false
		_, err = b.Subscribe(func(Event) { delivered = true })
		require.NoError(err)

		b.Emit(Event{Type: AcquireTokenStart})
		assert.True(delivered)
	})
}
