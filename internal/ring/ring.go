// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ring implements a fixed-capacity, single-producer circular
// buffer with a lossy overflow policy: when the producer catches up with
// the unread data, the oldest unread values are overwritten and the
// buffer is flagged as overflowed until cleared.
package ring // import "github.com/go-lpc/hsdaq/internal/ring"

import "sync"

// Store is the backing storage of a ring buffer.
type Store[T any] interface {
	Len() int
	At(i int) T
	Set(i int, v T)
}

// Slice is an in-memory Store.
type Slice[T any] []T

func (s Slice[T]) Len() int       { return len(s) }
func (s Slice[T]) At(i int) T     { return s[i] }
func (s Slice[T]) Set(i int, v T) { s[i] = v }

// Status is a snapshot of the ring buffer counters.
type Status struct {
	Cap      int    // capacity
	Avail    int    // number of unread values
	Overflow bool   // sticky overflow flag
	Dropped  uint64 // values overwritten before being read
	Written  uint64 // values written since last clear
	Read     uint64 // values read since last clear
}

// Ring is a circular buffer.
// Write and Read may be called concurrently from one producer and one
// consumer.
type Ring[T any] struct {
	mu    sync.Mutex
	store Store[T]
	n     uint64

	w, r uint64 // absolute write/read cursors
	ovfl bool
	drop uint64
}

// New returns a ring buffer backed by store.
func New[T any](store Store[T]) *Ring[T] {
	return &Ring[T]{
		store: store,
		n:     uint64(store.Len()),
	}
}

// Cap returns the capacity of the ring buffer.
func (rb *Ring[T]) Cap() int { return int(rb.n) }

// Write appends vs to the buffer.
// Write reports the number of unread values it overwrote and whether this
// call moved the buffer into the overflowed state.
func (rb *Ring[T]) Write(vs ...T) (dropped int, overflowed bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.n == 0 {
		return 0, false
	}

	for _, v := range vs {
		rb.store.Set(int(rb.w%rb.n), v)
		rb.w++
	}

	if rb.w-rb.r > rb.n {
		lost := rb.w - rb.n - rb.r
		rb.r += lost
		rb.drop += lost
		dropped = int(lost)
		if !rb.ovfl {
			rb.ovfl = true
			overflowed = true
		}
	}
	return dropped, overflowed
}

// Read copies up to len(dst) unread values into dst, oldest first.
// Read returns the number of values copied and the absolute index of the
// first one.
func (rb *Ring[T]) Read(dst []T) (n int, seq uint64) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	seq = rb.r
	avail := rb.w - rb.r
	if uint64(len(dst)) < avail {
		avail = uint64(len(dst))
	}
	for i := uint64(0); i < avail; i++ {
		dst[i] = rb.store.At(int((rb.r + i) % rb.n))
	}
	rb.r += avail
	return int(avail), seq
}

// Discard drops up to n unread values and returns how many were dropped.
func (rb *Ring[T]) Discard(n int) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	avail := rb.w - rb.r
	if uint64(n) < avail {
		avail = uint64(n)
	}
	rb.r += avail
	return int(avail)
}

// Status returns a snapshot of the buffer counters.
func (rb *Ring[T]) Status() Status {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	return Status{
		Cap:      int(rb.n),
		Avail:    int(rb.w - rb.r),
		Overflow: rb.ovfl,
		Dropped:  rb.drop,
		Written:  rb.w,
		Read:     rb.r,
	}
}

// Clear resets both cursors and the overflow flag.
func (rb *Ring[T]) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.w = 0
	rb.r = 0
	rb.ovfl = false
	rb.drop = 0
}
