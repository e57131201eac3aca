// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package latest provides a single-slot, overwrite-on-publish cell shared
// by one producer loop and one or more readers.
package latest

import (
	"sync/atomic"
	"time"
)

// Value is a committed cell value with its publish time.
type Value[T any] struct {
	V  T
	At time.Time
}

// Cell holds the most recently committed value. Store never blocks and
// Load never waits for a writer: readers always get the last whole value.
type Cell[T any] struct {
	p         atomic.Pointer[Value[T]]
	stores    atomic.Uint64
	overwrote atomic.Uint64
	lastRead  atomic.Uint64
}

// Store commits v as the latest value.
func (c *Cell[T]) Store(v T, at time.Time) {
	n := c.stores.Add(1)
	if n-1 > c.lastRead.Load() {
		// previous value was never read
		c.overwrote.Add(1)
	}
	c.p.Store(&Value[T]{V: v, At: at})
}

// Load returns the latest value and whether one has ever been stored.
func (c *Cell[T]) Load() (Value[T], bool) {
	v := c.p.Load()
	if v == nil {
		return Value[T]{}, false
	}
	c.lastRead.Store(c.stores.Load())
	return *v, true
}

// Fresh returns the latest value when it is no older than maxAge.
func (c *Cell[T]) Fresh(now time.Time, maxAge time.Duration) (T, bool) {
	v, ok := c.Load()
	if !ok || now.Sub(v.At) > maxAge {
		var zero T
		return zero, false
	}
	return v.V, true
}

// Clear drops the current value.
func (c *Cell[T]) Clear() {
	c.p.Store(nil)
}

// Stats returns how many values were stored and how many were replaced
// before any reader saw them.
func (c *Cell[T]) Stats() (stores, unread uint64) {
	return c.stores.Load(), c.overwrote.Load()
}
