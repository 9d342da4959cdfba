// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package events provides the in-process pub/sub bus used to observe
// interaction lifecycle transitions.
package events

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-uuid"
)

// Type identifies an interaction lifecycle transition.
type Type string

const (
	LoginStart          Type = "login.start"
	LoginSuccess        Type = "login.success"
	LoginFailure        Type = "login.failure"
	AcquireTokenStart   Type = "acquireToken.start"
	AcquireTokenSuccess Type = "acquireToken.success"
	AcquireTokenFailure Type = "acquireToken.failure"
	Logout              Type = "logout"
	CacheDowngraded     Type = "cache.downgraded"
)

// Event is delivered to every subscriber on each lifecycle transition.
type Event struct {
	Type Type

	// InteractionKind names the interaction mode that produced the event
	// (redirect, popup, silent), when one applies.
	InteractionKind string

	// Payload carries event-specific data: an auth result, an error, a
	// downgraded storage location.
	Payload interface{}

	Error error
}

// Callback receives events. Callbacks run synchronously on the emitting
// goroutine and must not block.
type Callback func(Event)

// Bus is an in-process pub/sub bus. The zero value is not usable; see New.
type Bus struct {
	logger hclog.Logger

	mu          sync.RWMutex
	subscribers map[string]Callback
}

// New creates a Bus.
func New(logger hclog.Logger) *Bus {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Bus{
		logger:      logger,
		subscribers: map[string]Callback{},
	}
}

// Subscribe registers a callback and returns its subscription id.
func (b *Bus) Subscribe(cb Callback) (string, error) {
	const op = "events.(Bus).Subscribe"
	if cb == nil {
		return "", fmt.Errorf("%s: callback is nil", op)
	}
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate subscription id: %w", op, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[id] = cb
	return id, nil
}

// Unsubscribe removes a subscription. Unknown ids are a no-op.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Emit delivers the event to every subscriber. A panicking subscriber is
// recovered and logged so it cannot abort the flow that emitted.
func (b *Bus) Emit(e Event) {
	b.mu.RLock()
	callbacks := make([]Callback, 0, len(b.subscribers))
	for _, cb := range b.subscribers {
		callbacks = append(callbacks, cb)
	}
	b.mu.RUnlock()

	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event subscriber panicked", "event", string(e.Type), "panic", r)
				}
			}()
			cb(e)
		}()
	}
}
