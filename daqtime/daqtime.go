// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package daqtime implements the two 32-bit packed timestamp encodings
// carried by DAQ devices.
//
// Fields are packed least-significant first:
//
//	Time1: day[0:5] hour[5:10] minute[10:16] sec[16:22] msec[22:32]
//	Time2: minute[0:6] sec[6:12] msec[12:22] usec[22:32]
//
// On the wire, packed values are stored little-endian.
package daqtime // import "github.com/go-lpc/hsdaq/daqtime"

import (
	"encoding/binary"
	"fmt"
	"time"
)

type field struct {
	name  string
	shift uint
	width uint
}

func (f field) mask() uint32 { return 1<<f.width - 1 }

func (f field) put(dst *uint32, v uint32) error {
	if v > f.mask() {
		return fmt.Errorf("daqtime: %s=%d overflows %d-bit field", f.name, v, f.width)
	}
	*dst |= v << f.shift
	return nil
}

func (f field) get(v uint32) uint32 { return (v >> f.shift) & f.mask() }

var (
	t1Day    = field{"day", 0, 5}
	t1Hour   = field{"hour", 5, 5}
	t1Minute = field{"minute", 10, 6}
	t1Sec    = field{"sec", 16, 6}
	t1Msec   = field{"msec", 22, 10}

	t2Minute = field{"minute", 0, 6}
	t2Sec    = field{"sec", 6, 6}
	t2Msec   = field{"msec", 12, 10}
	t2Usec   = field{"usec", 22, 10}
)

// Time1 is the {day, hour, minute, sec, msec} timestamp layout.
type Time1 struct {
	Day    uint32
	Hour   uint32
	Minute uint32
	Sec    uint32
	Msec   uint32
}

// Pack packs t into a 32-bit word.
// Pack rejects values that do not fit in their bit-field.
func (t Time1) Pack() (uint32, error) {
	var v uint32
	for _, x := range []struct {
		f field
		v uint32
	}{
		{t1Day, t.Day},
		{t1Hour, t.Hour},
		{t1Minute, t.Minute},
		{t1Sec, t.Sec},
		{t1Msec, t.Msec},
	} {
		err := x.f.put(&v, x.v)
		if err != nil {
			return 0, err
		}
	}
	return v, nil
}

// UnpackTime1 decodes a packed Time1 word.
func UnpackTime1(v uint32) Time1 {
	return Time1{
		Day:    t1Day.get(v),
		Hour:   t1Hour.get(v),
		Minute: t1Minute.get(v),
		Sec:    t1Sec.get(v),
		Msec:   t1Msec.get(v),
	}
}

func (t Time1) String() string {
	return fmt.Sprintf("d%02d %02d:%02d:%02d.%03d", t.Day, t.Hour, t.Minute, t.Sec, t.Msec)
}

// Time2 is the {minute, sec, msec, usec} timestamp layout.
type Time2 struct {
	Minute uint32
	Sec    uint32
	Msec   uint32
	Usec   uint32
}

// Pack packs t into a 32-bit word.
// Pack rejects values that do not fit in their bit-field.
func (t Time2) Pack() (uint32, error) {
	var v uint32
	for _, x := range []struct {
		f field
		v uint32
	}{
		{t2Minute, t.Minute},
		{t2Sec, t.Sec},
		{t2Msec, t.Msec},
		{t2Usec, t.Usec},
	} {
		err := x.f.put(&v, x.v)
		if err != nil {
			return 0, err
		}
	}
	return v, nil
}

// UnpackTime2 decodes a packed Time2 word.
func UnpackTime2(v uint32) Time2 {
	return Time2{
		Minute: t2Minute.get(v),
		Sec:    t2Sec.get(v),
		Msec:   t2Msec.get(v),
		Usec:   t2Usec.get(v),
	}
}

func (t Time2) String() string {
	return fmt.Sprintf("%02d:%02d.%03d%03d", t.Minute, t.Sec, t.Msec, t.Usec)
}

// FromTime1 returns the Time1 representation of t.
func FromTime1(t time.Time) Time1 {
	return Time1{
		Day:    uint32(t.Day()),
		Hour:   uint32(t.Hour()),
		Minute: uint32(t.Minute()),
		Sec:    uint32(t.Second()),
		Msec:   uint32(t.Nanosecond() / 1e6),
	}
}

// FromTime2 returns the Time2 representation of t.
func FromTime2(t time.Time) Time2 {
	ns := t.Nanosecond()
	return Time2{
		Minute: uint32(t.Minute()),
		Sec:    uint32(t.Second()),
		Msec:   uint32(ns / 1e6),
		Usec:   uint32(ns/1e3) % 1000,
	}
}

// Put stores the packed word v into b, little-endian.
func Put(b []byte, v uint32) {
	binary.LittleEndian.PutUint32(b, v)
}

// Get loads a packed word from b, little-endian.
func Get(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

// Time1Word returns the packed Time1 word of t.
func Time1Word(t time.Time) uint32 {
	v, _ := FromTime1(t).Pack()
	return v
}

// Time2Word returns the packed Time2 word of t.
func Time2Word(t time.Time) uint32 {
	v, _ := FromTime2(t).Pack()
	return v
}
