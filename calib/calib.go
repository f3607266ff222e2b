// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package calib holds the per-channel, per-gain calibration tables used to
// convert raw ADC codes into physical values.
//
// A raw code is converted as:
//
//	value = (code - offset) * scale
//
// where code is the sign-extended ADC code and (offset, scale) come from
// the table entry of the (channel, gain) pair.
package calib // import "github.com/go-lpc/hsdaq/calib"

import (
	"errors"
	"fmt"
	"math"
)

// GainUnity is the device gain register value for a unit correction.
const GainUnity = 0x8000

var (
	ErrChannel = errors.New("calib: invalid channel")
	ErrGain    = errors.New("calib: invalid gain")
	ErrRange   = errors.New("calib: value out of ADC range")
)

// Entry is one calibration pair.
type Entry struct {
	Offset int32   `json:"offset"`
	Scale  float64 `json:"scale"`
}

// Table is a calibration table for a device with nchans analog channels,
// one entry per (channel, gain).
type Table struct {
	bits   int
	nchans int
	ranges []float64 // full scale, in volts, per gain.
	ents   []Entry
}

// New returns an ideal calibration table: zero offsets and a scale mapping
// the full ADC code range onto the input range of each gain.
func New(nchans int, ranges []float64, bits int) (*Table, error) {
	switch {
	case nchans <= 0:
		return nil, fmt.Errorf("calib: invalid number of channels (%d)", nchans)
	case len(ranges) == 0:
		return nil, fmt.Errorf("calib: no input range")
	case bits < 2 || bits > 32:
		return nil, fmt.Errorf("calib: invalid ADC resolution (%d bits)", bits)
	}

	tbl := &Table{
		bits:   bits,
		nchans: nchans,
		ranges: append([]float64(nil), ranges...),
		ents:   make([]Entry, nchans*len(ranges)),
	}
	for ch := 0; ch < nchans; ch++ {
		for g := range ranges {
			tbl.ents[tbl.idx(ch, g)] = Entry{Scale: tbl.ideal(g)}
		}
	}
	return tbl, nil
}

func (tbl *Table) idx(ch, gain int) int { return ch*len(tbl.ranges) + gain }

func (tbl *Table) ideal(gain int) float64 {
	return tbl.ranges[gain] / float64(int64(1)<<(tbl.bits-1))
}

func (tbl *Table) check(ch, gain int) error {
	if ch < 0 || ch >= tbl.nchans {
		return fmt.Errorf("%w %d", ErrChannel, ch)
	}
	if gain < 0 || gain >= len(tbl.ranges) {
		return fmt.Errorf("%w %d", ErrGain, gain)
	}
	return nil
}

// NumChannels returns the number of analog channels of the table.
func (tbl *Table) NumChannels() int { return tbl.nchans }

// NumGains returns the number of gain settings of the table.
func (tbl *Table) NumGains() int { return len(tbl.ranges) }

// Bits returns the ADC resolution.
func (tbl *Table) Bits() int { return tbl.bits }

// Range returns the full scale input range for the given gain.
func (tbl *Table) Range(gain int) float64 { return tbl.ranges[gain] }

// Lookup returns the calibration entry of a (channel, gain) pair.
func (tbl *Table) Lookup(ch, gain int) (Entry, error) {
	if err := tbl.check(ch, gain); err != nil {
		return Entry{}, err
	}
	return tbl.ents[tbl.idx(ch, gain)], nil
}

// Set replaces the calibration entry of a (channel, gain) pair.
func (tbl *Table) Set(ch, gain int, e Entry) error {
	if err := tbl.check(ch, gain); err != nil {
		return err
	}
	if !(e.Scale > 0) || math.IsInf(e.Scale, 0) {
		return fmt.Errorf("calib: invalid scale %v for ch=%d gain=%d", e.Scale, ch, gain)
	}
	tbl.ents[tbl.idx(ch, gain)] = e
	return nil
}

// SetRegisters sets the entry of a (channel, gain) pair from the raw device
// gain and offset registers, GainUnity being a unit gain correction.
func (tbl *Table) SetRegisters(ch, gain int, greg uint16, oreg int16) error {
	if err := tbl.check(ch, gain); err != nil {
		return err
	}
	return tbl.Set(ch, gain, Entry{
		Offset: int32(oreg),
		Scale:  tbl.ideal(gain) * float64(greg) / GainUnity,
	})
}

// Code sign-extends a raw ADC word into a code.
func (tbl *Table) Code(raw uint32) int32 {
	shift := 32 - uint(tbl.bits)
	return int32(raw<<shift) >> shift
}

func (tbl *Table) word(code int64) (uint32, error) {
	lim := int64(1) << (tbl.bits - 1)
	if code < -lim || code >= lim {
		return 0, fmt.Errorf("%w (code=%d)", ErrRange, code)
	}
	mask := uint32(1<<uint(tbl.bits) - 1)
	return uint32(code) & mask, nil
}

// Float converts a raw ADC word into a physical value.
// Identical inputs always yield the identical value.
func (tbl *Table) Float(ch, gain int, raw uint32) (float32, error) {
	e, err := tbl.Lookup(ch, gain)
	if err != nil {
		return 0, err
	}
	return e.float(tbl.Code(raw)), nil
}

func (e Entry) float(code int32) float32 {
	return float32(float64(int64(code)-int64(e.Offset)) * e.Scale)
}

// Hex converts a physical value back into a raw ADC word.
func (tbl *Table) Hex(ch, gain int, v float32) (uint32, error) {
	e, err := tbl.Lookup(ch, gain)
	if err != nil {
		return 0, err
	}
	code := math.Round(float64(v)/e.Scale) + float64(e.Offset)
	if math.IsNaN(code) || math.IsInf(code, 0) {
		return 0, fmt.Errorf("%w (v=%v)", ErrRange, v)
	}
	return tbl.word(int64(code))
}

// CalibratedHex applies the calibration of a (channel, gain) pair to a raw
// ADC word and returns the corrected word on the ideal scale.
// Corrected codes beyond the ADC range saturate.
func (tbl *Table) CalibratedHex(ch, gain int, raw uint32) (uint32, error) {
	e, err := tbl.Lookup(ch, gain)
	if err != nil {
		return 0, err
	}
	code := int64(math.Round(float64(int64(tbl.Code(raw))-int64(e.Offset)) * e.Scale / tbl.ideal(gain)))
	lim := int64(1) << (tbl.bits - 1)
	switch {
	case code >= lim:
		code = lim - 1
	case code < -lim:
		code = -lim
	}
	return tbl.word(code)
}

// Clone returns a deep copy of the table.
func (tbl *Table) Clone() *Table {
	return &Table{
		bits:   tbl.bits,
		nchans: tbl.nchans,
		ranges: append([]float64(nil), tbl.ranges...),
		ents:   append([]Entry(nil), tbl.ents...),
	}
}
