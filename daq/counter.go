// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"fmt"
	"math"
	"sync"
)

// CounterKind selects a counter bank.
type CounterKind uint8

const (
	DICounter CounterKind = iota // counters attached to digital inputs
	Counter                      // general purpose counters
)

func (k CounterKind) String() string {
	switch k {
	case DICounter:
		return "di-counter"
	case Counter:
		return "counter"
	}
	return fmt.Sprintf("CounterKind(%d)", uint8(k))
}

// CounterMode is the operating mode of a counter channel.
type CounterMode uint8

const (
	CounterDisabled CounterMode = iota // counter ignores its input and reads 0
	CounterEnabled                     // counter reads its live value
	CounterSynced                      // counter reads the value latched at the last acquisition tick
)

func (m CounterMode) String() string {
	switch m {
	case CounterDisabled:
		return "disabled"
	case CounterEnabled:
		return "enabled"
	case CounterSynced:
		return "synced"
	}
	return fmt.Sprintf("CounterMode(%d)", uint8(m))
}

// CounterState is the state of a counter channel.
type CounterState struct {
	Mode     CounterMode `json:"mode"`
	Value    uint32      `json:"value"`
	Overflow bool        `json:"overflow"`
}

type counter struct {
	mode    CounterMode
	preset  uint32
	live    uint32
	latched uint32
	ovfl    bool
}

func (c *counter) add(delta uint32) {
	if c.mode == CounterDisabled {
		return
	}
	if uint64(c.live)+uint64(delta) > math.MaxUint32 {
		c.ovfl = true
	}
	c.live += delta
}

func (c *counter) value() uint32 {
	switch c.mode {
	case CounterEnabled:
		return c.live
	case CounterSynced:
		return c.latched
	}
	return 0
}

func (c *counter) clear() {
	c.live = c.preset
	c.latched = c.preset
	c.ovfl = false
}

// counters holds the counter and encoder banks of a session.
type counters struct {
	mu   sync.Mutex
	bank [2][]counter
	enc  []encoder
}

func newCounters(m Model) *counters {
	return &counters{
		bank: [2][]counter{
			DICounter: make([]counter, m.DICounters),
			Counter:   make([]counter, m.Counters),
		},
		enc: make([]encoder, m.Encoders),
	}
}

func (cs *counters) channel(kind CounterKind, ch int) (*counter, Code, error) {
	if kind > Counter {
		return nil, ErrInvalidParameter, fmt.Errorf("invalid counter kind %v", kind)
	}
	bank := cs.bank[kind]
	if len(bank) == 0 {
		return nil, ErrFunctionNotSupport, fmt.Errorf("no %v channel", kind)
	}
	if ch < 0 || ch >= len(bank) {
		return nil, ErrIOChannelOutOfRange, fmt.Errorf("%v channel %d not in [0, %d)", kind, ch, len(bank))
	}
	return &bank[ch], ErrSuccess, nil
}

func (cs *counters) configure(kind CounterKind, ch int, mode CounterMode, preset uint32) (Code, error) {
	if mode > CounterSynced {
		return ErrIOOperationMode, fmt.Errorf("invalid counter mode %v", mode)
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	c, code, err := cs.channel(kind, ch)
	if err != nil {
		return code, err
	}
	c.mode = mode
	c.preset = preset
	c.clear()
	return ErrSuccess, nil
}

func (cs *counters) add(kind CounterKind, ch int, delta uint32) (Code, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	c, code, err := cs.channel(kind, ch)
	if err != nil {
		return code, err
	}
	c.add(delta)
	return ErrSuccess, nil
}

func (cs *counters) state(kind CounterKind, ch int) (CounterState, Code, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	c, code, err := cs.channel(kind, ch)
	if err != nil {
		return CounterState{}, code, err
	}
	return CounterState{Mode: c.mode, Value: c.value(), Overflow: c.ovfl}, ErrSuccess, nil
}

func (cs *counters) config(kind CounterKind, ch int) (CounterMode, uint32, Code, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	c, code, err := cs.channel(kind, ch)
	if err != nil {
		return 0, 0, code, err
	}
	return c.mode, c.preset, ErrSuccess, nil
}

func (cs *counters) clear(kind CounterKind, ch int) (Code, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	c, code, err := cs.channel(kind, ch)
	if err != nil {
		return code, err
	}
	c.clear()
	return ErrSuccess, nil
}

func (cs *counters) clearAll(kind CounterKind) (Code, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if _, code, err := cs.channel(kind, 0); err != nil {
		return code, err
	}
	for i := range cs.bank[kind] {
		cs.bank[kind][i].clear()
	}
	return ErrSuccess, nil
}

func (cs *counters) states(kind CounterKind) ([]CounterState, Code, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if _, code, err := cs.channel(kind, 0); err != nil {
		return nil, code, err
	}
	out := make([]CounterState, len(cs.bank[kind]))
	for i, c := range cs.bank[kind] {
		out[i] = CounterState{Mode: c.mode, Value: c.value(), Overflow: c.ovfl}
	}
	return out, ErrSuccess, nil
}

// latch samples synced counters at an acquisition tick.
func (cs *counters) latch() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for i := range cs.bank {
		for j := range cs.bank[i] {
			c := &cs.bank[i][j]
			if c.mode == CounterSynced {
				c.latched = c.live
			}
		}
	}
}

// value returns the frame value of a counter channel, 0 if the channel
// does not exist.
func (cs *counters) value(kind CounterKind, ch int) uint32 {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if int(kind) >= len(cs.bank) || ch < 0 || ch >= len(cs.bank[kind]) {
		return 0
	}
	return cs.bank[kind][ch].value()
}
