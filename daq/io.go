// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-lpc/hsdaq/calib"
)

func lineMask(n int) uint32 {
	if n >= 32 {
		return math.MaxUint32
	}
	return 1<<uint(n) - 1
}

// ReadDI returns the last digital input snapshot.
func (s *Session) ReadDI() (uint32, error) {
	m := s.cfg.model
	if m.DIChannels == 0 {
		return 0, s.fail("read-di", ErrFunctionNotSupport, fmt.Errorf("no digital input on %s", m.Name))
	}
	return s.di.Load() & lineMask(m.DIChannels), nil
}

// ReadDO returns the digital output latch.
func (s *Session) ReadDO() (uint32, error) {
	m := s.cfg.model
	if m.DOChannels == 0 {
		return 0, s.fail("read-do", ErrFunctionNotSupport, fmt.Errorf("no digital output on %s", m.Name))
	}
	return s.do.Load(), nil
}

// WriteDO sets the digital output latch.
func (s *Session) WriteDO(v uint32) error {
	const op = "write-do"
	m := s.cfg.model
	if m.DOChannels == 0 {
		return s.fail(op, ErrFunctionNotSupport, fmt.Errorf("no digital output on %s", m.Name))
	}
	if v&^lineMask(m.DOChannels) != 0 {
		return s.fail(op, ErrIOValueOutOfRange, fmt.Errorf("value 0x%x exceeds %d output lines", v, m.DOChannels))
	}
	s.do.Store(v)
	return nil
}

// WriteDOBit sets one line of the digital output latch.
func (s *Session) WriteDOBit(line int, on bool) error {
	const op = "write-do-bit"
	m := s.cfg.model
	if m.DOChannels == 0 {
		return s.fail(op, ErrFunctionNotSupport, fmt.Errorf("no digital output on %s", m.Name))
	}
	if line < 0 || line >= m.DOChannels {
		return s.fail(op, ErrIOChannelOutOfRange, fmt.Errorf("output line %d not in [0, %d)", line, m.DOChannels))
	}
	for {
		old := s.do.Load()
		v := old &^ (1 << uint(line))
		if on {
			v |= 1 << uint(line)
		}
		if s.do.CompareAndSwap(old, v) {
			return nil
		}
	}
}

func (s *Session) lastScan(op string, ch int) (uint32, error) {
	s.last.Lock()
	defer s.last.Unlock()
	if len(s.last.scan) == 0 {
		return 0, s.fail(op, ErrDeviceInvalidValue, fmt.Errorf("no scan acquired"))
	}
	if ch < 0 || ch >= len(s.last.scan) {
		return 0, s.fail(op, ErrIOChannelOutOfRange, fmt.Errorf("channel %d not in [0, %d)", ch, len(s.last.scan)))
	}
	return s.last.scan[ch], nil
}

// ReadAIHex returns the last raw value acquired on a channel.
func (s *Session) ReadAIHex(ch int) (uint32, error) {
	return s.lastScan("read-ai-hex", ch)
}

// ReadAI returns the last calibrated value acquired on a channel.
func (s *Session) ReadAI(ch int) (float32, error) {
	const op = "read-ai"
	raw, err := s.lastScan(op, ch)
	if err != nil {
		return 0, err
	}
	sc := s.scan.Load()
	v, err := s.cal.Float(ch, sc.Gain, raw)
	if err != nil {
		return 0, s.fail(op, ErrIOChannel, err)
	}
	return v, nil
}

// Calibration returns a copy of the calibration table of the session.
func (s *Session) Calibration() *calib.Table { return s.cal.Clone() }

// GainOffset returns the calibration entry of a (channel, gain) pair.
func (s *Session) GainOffset(ch, gain int) (calib.Entry, error) {
	e, err := s.cal.Lookup(ch, gain)
	if err != nil {
		return calib.Entry{}, s.fail("gain-offset", calibCode(err), err)
	}
	return e, nil
}

// Float converts a raw sample into a physical value.
func (s *Session) Float(ch, gain int, raw uint32) (float32, error) {
	v, err := s.cal.Float(ch, gain, raw)
	if err != nil {
		return 0, s.fail("float", calibCode(err), err)
	}
	return v, nil
}

// Hex converts a physical value into a raw sample.
func (s *Session) Hex(ch, gain int, v float32) (uint32, error) {
	raw, err := s.cal.Hex(ch, gain, v)
	if err != nil {
		return 0, s.fail("hex", calibCode(err), err)
	}
	return raw, nil
}

func calibCode(err error) Code {
	switch {
	case errors.Is(err, calib.ErrChannel):
		return ErrIOChannelOutOfRange
	case errors.Is(err, calib.ErrGain):
		return ErrIOGain
	case errors.Is(err, calib.ErrRange):
		return ErrIOValueOutOfRange
	}
	return ErrInvalidParameter
}

// SetUserFloat queues the value of a float user field.
func (s *Session) SetUserFloat(idx int, v float32) error {
	return s.SetUserField(idx, math.Float32bits(v))
}

// SetCounterConfig configures a counter channel and reloads it with preset.
func (s *Session) SetCounterConfig(kind CounterKind, ch int, mode CounterMode, preset uint32) error {
	if code, err := s.cnt.configure(kind, ch, mode, preset); err != nil {
		return s.fail("set-counter-config", code, err)
	}
	return nil
}

// CounterConfig returns the mode and preset of a counter channel.
func (s *Session) CounterConfig(kind CounterKind, ch int) (CounterMode, uint32, error) {
	mode, preset, code, err := s.cnt.config(kind, ch)
	if err != nil {
		return 0, 0, s.fail("counter-config", code, err)
	}
	return mode, preset, nil
}

// AddCounts feeds delta input pulses to a counter channel.
func (s *Session) AddCounts(kind CounterKind, ch int, delta uint32) error {
	if code, err := s.cnt.add(kind, ch, delta); err != nil {
		return s.fail("add-counts", code, err)
	}
	return nil
}

// ReadCounter returns the state of a counter channel.
func (s *Session) ReadCounter(kind CounterKind, ch int) (CounterState, error) {
	st, code, err := s.cnt.state(kind, ch)
	if err != nil {
		return st, s.fail("read-counter", code, err)
	}
	return st, nil
}

// ReadCounters returns the states of all the channels of a counter bank.
func (s *Session) ReadCounters(kind CounterKind) ([]CounterState, error) {
	sts, code, err := s.cnt.states(kind)
	if err != nil {
		return nil, s.fail("read-counters", code, err)
	}
	return sts, nil
}

// ClearCounter reloads a counter channel with its preset value.
func (s *Session) ClearCounter(kind CounterKind, ch int) error {
	if code, err := s.cnt.clear(kind, ch); err != nil {
		return s.fail("clear-counter", code, err)
	}
	return nil
}

// ClearCounters reloads all the channels of a counter bank.
func (s *Session) ClearCounters(kind CounterKind) error {
	if code, err := s.cnt.clearAll(kind); err != nil {
		return s.fail("clear-counters", code, err)
	}
	return nil
}

// SetEncoderConfig configures an encoder channel and resets its count.
func (s *Session) SetEncoderConfig(ch int, cfg EncoderConfig) error {
	if code, err := s.cnt.setEncoder(ch, cfg); err != nil {
		return s.fail("set-encoder-config", code, err)
	}
	return nil
}

// EncoderConfig returns the configuration of an encoder channel.
func (s *Session) EncoderConfig(ch int) (EncoderConfig, error) {
	cfg, code, err := s.cnt.encoderConfig(ch)
	if err != nil {
		return cfg, s.fail("encoder-config", code, err)
	}
	return cfg, nil
}

// EncoderInput feeds a sample of the A and B inputs of an encoder channel.
func (s *Session) EncoderInput(ch int, a, b bool) error {
	if code, err := s.cnt.encoderInput(ch, a, b); err != nil {
		return s.fail("encoder-input", code, err)
	}
	return nil
}

// ReadEncoder returns the count of an encoder channel.
func (s *Session) ReadEncoder(ch int) (int32, error) {
	v, code, err := s.cnt.readEncoder(ch)
	if err != nil {
		return 0, s.fail("read-encoder", code, err)
	}
	return v, nil
}

// ClearEncoder resets the count of an encoder channel.
func (s *Session) ClearEncoder(ch int) error {
	if code, err := s.cnt.clearEncoder(ch); err != nil {
		return s.fail("clear-encoder", code, err)
	}
	return nil
}

// SetEventHandler registers the handler of an event kind, replacing the
// previous one. uctx is passed back unchanged to the handler.
//
// param is the fill threshold for EventNSampleReach, the timeout in
// milliseconds for EventDataSamplingTimeout and the period in admitted
// samples for EventLogNSampleReach. It is ignored otherwise.
func (s *Session) SetEventHandler(kind EventKind, param uint32, h Handler, uctx interface{}) error {
	if code, err := s.evt.set(kind, param, h, uctx); err != nil {
		return s.fail("set-event-handler", code, err)
	}
	return nil
}

// RemoveEventHandler removes the handler of an event kind, if any.
func (s *Session) RemoveEventHandler(kind EventKind) error {
	if code, err := s.evt.remove(kind); err != nil {
		return s.fail("remove-event-handler", code, err)
	}
	return nil
}
