// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"fmt"

	"github.com/go-lpc/hsdaq/frame"
)

// ReadBufferHex drains up to len(dst) raw samples, oldest first.
func (s *Session) ReadBufferHex(dst []uint32) (int, error) {
	rb := s.samples.Load()
	if rb == nil {
		return 0, s.fail("read-buffer-hex", ErrInvalidParameter, fmt.Errorf("no scan configuration"))
	}
	n, _ := rb.Read(dst)
	s.read.Add(uint64(n))
	return n, nil
}

// ReadBuffer drains up to len(dst) calibrated samples, oldest first.
func (s *Session) ReadBuffer(dst []float32) (int, error) {
	n, _, err := s.ReadBufferSeq(dst)
	return n, err
}

// ReadBufferSeq drains up to len(dst) calibrated samples, oldest first,
// and returns the index of the first one since the start of the scan.
func (s *Session) ReadBufferSeq(dst []float32) (int, uint64, error) {
	sc := s.scan.Load()
	rb := s.samples.Load()
	if sc == nil || rb == nil {
		return 0, 0, s.fail("read-buffer", ErrInvalidParameter, fmt.Errorf("no scan configuration"))
	}
	raw := make([]uint32, len(dst))
	n, seq := rb.Read(raw)
	nch := uint64(sc.ChannelCount)
	for i, v := range raw[:n] {
		ch := int((seq + uint64(i)) % nch)
		dst[i], _ = s.cal.Float(ch, sc.Gain, v)
	}
	s.read.Add(uint64(n))
	return n, seq, nil
}

// BufferStatus returns the status of the sample ring buffer.
func (s *Session) BufferStatus() BufferStatus {
	rb := s.samples.Load()
	if rb == nil {
		return BufferStatus{State: BufferEmpty}
	}
	st := rb.Status()
	return BufferStatus{
		State:     stateOf(st),
		Available: st.Avail,
		Capacity:  st.Cap,
		Dropped:   st.Dropped,
	}
}

// FrameStatus returns the status of the frame ring buffer.
func (s *Session) FrameStatus() FrameStatus {
	st := s.frames.Status()
	fs := FrameStatus{
		State:     stateOf(st),
		Available: st.Avail,
		Capacity:  st.Cap,
		Dropped:   st.Dropped,
	}
	if asm := s.asm.Load(); asm != nil {
		fs.Lost, fs.Pending = asm.status()
	}
	return fs
}

// SamplingStatus returns the progress of the current scan.
func (s *Session) SamplingStatus() SamplingStatus {
	st := s.State()
	return SamplingStatus{
		State:         st,
		Running:       st.running(),
		TotalRead:     s.read.Load(),
		TotalAcquired: s.acquired.Load(),
		TotalAdmitted: s.admitted.Load(),
	}
}

// TriggerStatus returns the status of the trigger engine.
func (s *Session) TriggerStatus() TriggerStatus {
	st := s.trig.get()
	st.State = s.State()
	return st
}

// StatusWord returns the legacy status word of the session.
func (s *Session) StatusWord() uint16 {
	var (
		w  uint16
		bs = s.BufferStatus()
	)
	if s.asm.Load() != nil {
		fs := s.FrameStatus()
		bs.State, bs.Available = fs.State, fs.Available
	}
	if bs.Available > 0 {
		w |= StatusDataReady
	}
	if bs.State == BufferOverflowed {
		w |= StatusOverflow
	}
	if s.State() == Stopped {
		w |= StatusStopped
	}
	if s.errored.Load() {
		w |= StatusError
	}
	return w
}

// SyncInLayout returns the frame layout of the synchronous input.
func (s *Session) SyncInLayout() frame.Layout {
	if asm := s.asm.Load(); asm != nil {
		return asm.lay
	}
	return nil
}

// ReadFrames drains up to len(dst) frames, oldest first.
func (s *Session) ReadFrames(dst []frame.Frame) (int, error) {
	if s.asm.Load() == nil {
		return 0, s.fail("read-frames", ErrInvalidParameter, fmt.Errorf("sync-in not configured"))
	}
	n, _ := s.frames.Read(dst)
	s.read.Add(uint64(n))
	return n, nil
}

func (s *Session) readFrames(n int) (frame.Layout, []frame.Frame, error) {
	asm := s.asm.Load()
	if asm == nil {
		return nil, nil, s.fail("read-frames", ErrInvalidParameter, fmt.Errorf("sync-in not configured"))
	}
	if n < 0 {
		n = 0
	}
	fs := make([]frame.Frame, n)
	n, _ = s.frames.Read(fs)
	s.read.Add(uint64(n))
	return asm.lay, fs[:n], nil
}

// ReadFramesTyped drains up to n frames in their typed projection.
func (s *Session) ReadFramesTyped(n int) ([]frame.Typed, error) {
	lay, fs, err := s.readFrames(n)
	if err != nil {
		return nil, err
	}
	out := make([]frame.Typed, len(fs))
	for i, f := range fs {
		out[i] = lay.Typed(f)
	}
	return out, nil
}

// ReadFramesWords drains up to n frames in their 32-bit words projection.
func (s *Session) ReadFramesWords(n int) ([]frame.Words, error) {
	lay, fs, err := s.readFrames(n)
	if err != nil {
		return nil, err
	}
	out := make([]frame.Words, len(fs))
	for i, f := range fs {
		out[i] = lay.Words(f)
	}
	return out, nil
}

// ReadFramesFlat drains up to n frames in their flat arrays projection.
func (s *Session) ReadFramesFlat(n int) (frame.Flat, error) {
	lay, fs, err := s.readFrames(n)
	if err != nil {
		return frame.Flat{}, err
	}
	return lay.Flat(fs), nil
}

// SetUserField queues the value of a user field for the next frame
// waiting for it.
// Frames completed by this call are pushed from the caller's goroutine.
func (s *Session) SetUserField(idx int, v uint32) error {
	const op = "set-user-field"
	asm := s.asm.Load()
	if asm == nil {
		return s.fail(op, ErrInvalidParameter, fmt.Errorf("sync-in not configured"))
	}
	if code, err := asm.setUser(idx, v); err != nil {
		return s.fail(op, code, err)
	}
	return nil
}
