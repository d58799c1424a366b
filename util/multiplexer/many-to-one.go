// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package multiplexer

import (
	"errors"
	"sync"
)

var ErrClosed = errors.New("multiplexer has been closed")

// A many to one multiplexer
// Any number of goroutines send, one consumer drains everything queued so far in one go
// Unlike a channel, sending never blocks and sending after Close is an error instead of a panic
type ManyToOne[T any] struct {
	mu     sync.Mutex
	queue  []T
	closed bool
}

// NewManyToOne creates a new, empty ManyToOne multiplexer
func NewManyToOne[T any]() *ManyToOne[T] {
	return &ManyToOne[T]{}
}

// Send a message to this many to one plexer
// If closed, the message won't get sent
func (m *ManyToOne[T]) Send(msg T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.queue = append(m.queue, msg)
	return nil
}

// Drain removes and returns everything queued, oldest first
// Returns nil if nothing is queued
func (m *ManyToOne[T]) Drain() []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.queue
	m.queue = nil
	return out
}

// Len returns how many messages are waiting
func (m *ManyToOne[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Marks the plexer as closed
// Messages queued before closing can still be drained
func (m *ManyToOne[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}
