// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"fmt"
	"sync"

	"github.com/go-lpc/hsdaq/frame"
	"github.com/go-lpc/hsdaq/internal/ring"
)

// SyncOption is a bit set of synchronous-input options.
type SyncOption uint32

const (
	// SyncDropIncomplete drops a tick whose user fields are not all
	// available when the tick is acquired.
	// Without it, incomplete ticks wait for their user fields.
	SyncDropIncomplete SyncOption = 1 << iota

	// SyncTimeDay stamps frame headers with the day/hour/minute/sec/msec
	// layout instead of the minute/sec/msec/usec one.
	SyncTimeDay
)

const (
	// MaxPendingTicks is the number of incomplete ticks waiting for their
	// user fields. The oldest pending tick is dropped beyond that.
	MaxPendingTicks = 16

	maxUserQueue = 4096
)

// SyncInConfig configures the synchronous-input frame assembler.
// An empty channel layout selects the scalar acquisition path.
type SyncInConfig struct {
	Header   uint32       `json:"header"`   // marker word of frame headers
	Channels frame.Layout `json:"channels"` // frame layout
	Options  SyncOption   `json:"options"`
}

func (cfg SyncInConfig) enabled() bool { return len(cfg.Channels) > 0 }

func (cfg SyncInConfig) validate(m Model, nch int) (Code, error) {
	if !cfg.enabled() {
		return ErrSuccess, nil
	}
	if cfg.Options&^(SyncDropIncomplete|SyncTimeDay) != 0 {
		return ErrInvalidParameter, fmt.Errorf("invalid sync-in options 0x%x", uint32(cfg.Options))
	}
	if err := cfg.Channels.Validate(); err != nil {
		return ErrInvalidParameter, err
	}
	users := make(map[int]bool)
	for _, ch := range cfg.Channels {
		var n int
		switch ch.Type {
		case frame.AI, frame.AIHex:
			n = nch
		case frame.DIBits:
			n = (m.DIChannels + 31) / 32
		case frame.DOBits:
			n = (m.DOChannels + 31) / 32
		case frame.DICount16, frame.DICount32:
			n = m.DICounters
		case frame.Count16, frame.Count32:
			n = m.Counters
		default:
			if users[ch.Index] {
				return ErrIOChannel, fmt.Errorf("duplicate user field %d", ch.Index)
			}
			users[ch.Index] = true
			continue
		}
		if n == 0 {
			return ErrFunctionNotSupport, fmt.Errorf("no %v channel on %s", ch.Type, m.Name)
		}
		if ch.Index >= n {
			return ErrIOChannelOutOfRange, fmt.Errorf("channel %v not in [0, %d)", ch, n)
		}
	}
	return ErrSuccess, nil
}

// FrameStatus describes the frame ring buffer of a session.
type FrameStatus struct {
	State     BufferState `json:"state"`
	Available int         `json:"available"` // frames ready to be read
	Capacity  int         `json:"capacity"`
	Dropped   uint64      `json:"dropped"` // frames overwritten before being read
	Lost      uint64      `json:"lost"`    // ticks dropped by the assembler
	Pending   int         `json:"pending"` // ticks waiting for user fields
}

// assembler packs acquisition ticks into frames.
type assembler struct {
	lay    frame.Layout
	opts   SyncOption
	users  map[int]int // user field index to layout slot
	out    *ring.Ring[frame.Frame]
	notify func(dropped int, overflowed bool)
	loss   func(n uint64)

	wmu sync.Mutex // serializes writes of completed frames

	mu      sync.Mutex
	queues  map[int][]uint32
	pending []frame.Frame
	seq     uint32
	lost    uint64
}

func newAssembler(cfg SyncInConfig, out *ring.Ring[frame.Frame], notify func(int, bool), loss func(uint64)) *assembler {
	a := &assembler{
		lay:    cfg.Channels,
		opts:   cfg.Options,
		users:  make(map[int]int),
		out:    out,
		notify: notify,
		loss:   loss,
		queues: make(map[int][]uint32),
	}
	for i, ch := range cfg.Channels {
		if ch.Type.IsUser() {
			a.users[ch.Index] = i
		}
	}
	return a
}

// push hands a snapshot of an admitted tick to the assembler.
func (a *assembler) push(f frame.Frame) {
	a.mu.Lock()
	f.Header.Seq = a.seq
	a.seq++
	if len(a.users) == 0 {
		a.flush([]frame.Frame{f})
		return
	}

	a.pending = append(a.pending, f)
	ready := a.drain()
	var lost uint64
	switch {
	case len(a.pending) == 0:
		// ok.
	case a.opts&SyncDropIncomplete != 0:
		lost = uint64(len(a.pending))
		a.pending = a.pending[:0]
	case len(a.pending) > MaxPendingTicks:
		n := len(a.pending) - MaxPendingTicks
		lost = uint64(n)
		a.pending = append(a.pending[:0], a.pending[n:]...)
	}
	a.lost += lost
	a.flush(ready)
	if lost > 0 && a.loss != nil {
		a.loss(lost)
	}
}

// drain completes pending ticks, oldest first, while all their user
// fields are available.
func (a *assembler) drain() []frame.Frame {
	var ready []frame.Frame
	for len(a.pending) > 0 {
		for idx := range a.users {
			if len(a.queues[idx]) == 0 {
				return ready
			}
		}
		f := a.pending[0]
		for idx, slot := range a.users {
			q := a.queues[idx]
			f.Values[slot] = q[0] & a.lay[slot].Type.Mask()
			a.queues[idx] = q[1:]
		}
		ready = append(ready, f)
		a.pending = a.pending[1:]
	}
	return ready
}

// flush writes completed frames to the frame ring, in completion order.
// flush must be called with a.mu held and releases it.
func (a *assembler) flush(fs []frame.Frame) {
	if len(fs) == 0 {
		a.mu.Unlock()
		return
	}
	a.wmu.Lock()
	a.mu.Unlock()
	dropped, ovfl := a.out.Write(fs...)
	a.wmu.Unlock()
	if a.notify != nil {
		a.notify(dropped, ovfl)
	}
}

// setUser queues the value of a user field for the next frame.
func (a *assembler) setUser(idx int, v uint32) (Code, error) {
	a.mu.Lock()
	if _, ok := a.users[idx]; !ok {
		a.mu.Unlock()
		return ErrIOChannel, fmt.Errorf("no user field %d in frame layout", idx)
	}
	if len(a.queues[idx]) >= maxUserQueue {
		a.mu.Unlock()
		return ErrDeviceInternalBufferOverflow, fmt.Errorf("user field %d queue full", idx)
	}
	a.queues[idx] = append(a.queues[idx], v)
	a.flush(a.drain())
	return ErrSuccess, nil
}

func (a *assembler) status() (lost uint64, pending int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lost, len(a.pending)
}

func (a *assembler) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queues = make(map[int][]uint32)
	a.pending = nil
	a.seq = 0
	a.lost = 0
}
