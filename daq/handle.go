// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"fmt"
	"sort"
	"sync"
)

// Handle identifies an open session.
// A handle embeds a slot generation so a released handle is never
// confused with a later session reusing the same slot.
type Handle uint32

const maxSlots = 0xffff

func (h Handle) slot() int   { return int(h&0xffff) - 1 }
func (h Handle) gen() uint16 { return uint16(h >> 16) }

func (h Handle) String() string {
	return fmt.Sprintf("hs-%d.%d", h.slot(), h.gen())
}

func mkHandle(slot int, gen uint16) Handle {
	return Handle(uint32(gen)<<16 | uint32(slot+1))
}

type entry struct {
	gen  uint16
	sess *Session
}

// Table is a registry of open sessions.
type Table struct {
	mu    sync.Mutex
	slots []entry
	free  []int
}

// NewTable returns a new empty session registry.
func NewTable() *Table {
	return &Table{}
}

// Open creates a new session for the named device and registers it.
func (tbl *Table) Open(name string, opts ...Option) (Handle, error) {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()

	var slot int
	switch {
	case len(tbl.free) > 0:
		slot = tbl.free[len(tbl.free)-1]
		tbl.free = tbl.free[:len(tbl.free)-1]
	case len(tbl.slots) < maxSlots:
		slot = len(tbl.slots)
		tbl.slots = append(tbl.slots, entry{})
	default:
		SetLastError(ErrMemoryAllocated)
		return 0, &Error{Op: "open", Code: ErrMemoryAllocated}
	}

	ent := &tbl.slots[slot]
	ent.gen++
	if ent.gen == 0 {
		ent.gen = 1
	}
	hdl := mkHandle(slot, ent.gen)

	sess, err := newSession(name, hdl, opts...)
	if err != nil {
		ent.sess = nil
		tbl.free = append(tbl.free, slot)
		return 0, err
	}
	ent.sess = sess
	return hdl, nil
}

// Session returns the session associated with the handle.
func (tbl *Table) Session(h Handle) (*Session, error) {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()

	ent, err := tbl.lookup(h)
	if err != nil {
		return nil, err
	}
	return ent.sess, nil
}

// Release closes the session associated with the handle and invalidates
// the handle.
func (tbl *Table) Release(h Handle) error {
	tbl.mu.Lock()
	ent, err := tbl.lookup(h)
	if err != nil {
		tbl.mu.Unlock()
		return err
	}
	sess := ent.sess
	ent.sess = nil
	tbl.free = append(tbl.free, h.slot())
	tbl.mu.Unlock()

	return sess.Close()
}

// Handles returns the handles of all open sessions.
func (tbl *Table) Handles() []Handle {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()

	var hdls []Handle
	for i, ent := range tbl.slots {
		if ent.sess == nil {
			continue
		}
		hdls = append(hdls, mkHandle(i, ent.gen))
	}
	sort.Slice(hdls, func(i, j int) bool { return hdls[i] < hdls[j] })
	return hdls
}

func (tbl *Table) lookup(h Handle) (*entry, error) {
	slot := h.slot()
	if slot < 0 || slot >= len(tbl.slots) {
		SetLastError(ErrInvalidHandle)
		return nil, &Error{Op: "handle", Code: ErrInvalidHandle, Err: fmt.Errorf("no slot for %v", h)}
	}
	ent := &tbl.slots[slot]
	if ent.sess == nil || ent.gen != h.gen() {
		SetLastError(ErrInvalidHandle)
		return nil, &Error{Op: "handle", Code: ErrInvalidHandle, Err: fmt.Errorf("stale handle %v", h)}
	}
	return ent, nil
}

var sessions = NewTable()

// Open opens a session in the process-wide registry.
func Open(name string, opts ...Option) (Handle, error) {
	return sessions.Open(name, opts...)
}

// Get returns the session of the process-wide registry associated with h.
func Get(h Handle) (*Session, error) {
	return sessions.Session(h)
}

// Release releases a session of the process-wide registry.
func Release(h Handle) error {
	return sessions.Release(h)
}

// Handles returns the handles of all the sessions of the process-wide
// registry.
func Handles() []Handle {
	return sessions.Handles()
}
