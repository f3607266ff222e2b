// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-lpc/hsdaq/internal/mmap"
	"github.com/go-lpc/hsdaq/internal/ring"
)

// BufferState is the fill state of a ring buffer.
type BufferState uint8

const (
	BufferEmpty      BufferState = iota // no unread data
	BufferFilling                       // some unread data
	BufferFull                          // unread data fills the whole capacity
	BufferOverflowed                    // unread data was overwritten, sticky until cleared
)

func (st BufferState) String() string {
	switch st {
	case BufferEmpty:
		return "empty"
	case BufferFilling:
		return "filling"
	case BufferFull:
		return "full"
	case BufferOverflowed:
		return "overflowed"
	}
	return fmt.Sprintf("BufferState(%d)", uint8(st))
}

func (st BufferState) MarshalText() ([]byte, error) {
	return []byte(st.String()), nil
}

func (st *BufferState) UnmarshalText(p []byte) error {
	for v := BufferEmpty; v <= BufferOverflowed; v++ {
		if v.String() == string(p) {
			*st = v
			return nil
		}
	}
	return fmt.Errorf("daq: unknown buffer state %q", p)
}

func stateOf(st ring.Status) BufferState {
	switch {
	case st.Overflow:
		return BufferOverflowed
	case st.Avail == 0:
		return BufferEmpty
	case st.Avail >= st.Cap:
		return BufferFull
	}
	return BufferFilling
}

// BufferStatus describes the sample ring buffer of a session.
type BufferStatus struct {
	State     BufferState `json:"state"`
	Available int         `json:"available"` // samples ready to be read
	Capacity  int         `json:"capacity"`
	Dropped   uint64      `json:"dropped"` // samples overwritten before being read
}

// SamplingStatus describes the progress of the current scan.
type SamplingStatus struct {
	State         State  `json:"state"`
	Running       bool   `json:"running"`
	TotalRead     uint64 `json:"total_read"`     // samples or frames drained since start
	TotalAcquired uint64 `json:"total_acquired"` // samples received since start
	TotalAdmitted uint64 `json:"total_admitted"` // samples retained by the trigger engine since start
}

// Legacy status word bits.
const (
	StatusDataReady uint16 = 0x01
	StatusOverflow  uint16 = 0x02
	StatusStopped   uint16 = 0x04
	StatusError     uint16 = 0x08
)

// shmStore is a sample store living in a shared-memory file.
type shmStore struct {
	h *mmap.Handle
}

func newSHMStore(dir, name string, n int) (*shmStore, error) {
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return nil, fmt.Errorf("daq: could not create shm directory %q: %w", dir, err)
	}
	fname := filepath.Join(dir, "hsdaq-"+name+".shm")
	h, err := mmap.Create(fname, 4*n)
	if err != nil {
		return nil, fmt.Errorf("daq: could not create shm store: %w", err)
	}
	return &shmStore{h: h}, nil
}

func (st *shmStore) Len() int            { return st.h.Len() / 4 }
func (st *shmStore) At(i int) uint32     { return st.h.Uint32(i) }
func (st *shmStore) Set(i int, v uint32) { st.h.PutUint32(i, v) }
func (st *shmStore) Close() error        { return st.h.Close() }
