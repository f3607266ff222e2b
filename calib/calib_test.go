// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package calib

import (
	"errors"
	"math"
	"path/filepath"
	"reflect"
	"testing"
)

func newTable(t *testing.T) *Table {
	t.Helper()
	tbl, err := New(4, []float64{10, 5, 2.5, 1.25}, 24)
	if err != nil {
		t.Fatalf("could not create table: %+v", err)
	}
	return tbl
}

func TestNew(t *testing.T) {
	for _, tc := range []struct {
		name   string
		nchans int
		ranges []float64
		bits   int
	}{
		{"no-chans", 0, []float64{10}, 16},
		{"no-range", 4, nil, 16},
		{"bits-low", 4, []float64{10}, 1},
		{"bits-high", 4, []float64{10}, 33},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.nchans, tc.ranges, tc.bits)
			if err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}

func TestCode(t *testing.T) {
	tbl := newTable(t)
	for _, tc := range []struct {
		raw  uint32
		want int32
	}{
		{0x000000, 0},
		{0x000001, 1},
		{0x7fffff, 8388607},
		{0x800000, -8388608},
		{0xffffff, -1},
		{0xff000001, 1}, // upper byte ignored.
	} {
		if got, want := tbl.Code(tc.raw), tc.want; got != want {
			t.Fatalf("invalid code for 0x%x: got=%d, want=%d", tc.raw, got, want)
		}
	}
}

func TestFloat(t *testing.T) {
	tbl := newTable(t)
	err := tbl.Set(1, 0, Entry{Offset: 100, Scale: 1e-3})
	if err != nil {
		t.Fatalf("could not set entry: %+v", err)
	}

	for _, tc := range []struct {
		name string
		ch   int
		gain int
		raw  uint32
		want float32
		err  error
	}{
		{"ideal-zero", 0, 0, 0, 0, nil},
		{"ideal-half", 0, 0, 0x400000, 5, nil},
		{"ideal-neg", 0, 1, 0xc00000, -2.5, nil},
		{"offset", 1, 0, 1100, 1, nil},
		{"offset-neg", 1, 0, 0xffffff, float32(-101e-3), nil},
		{"bad-chan", 4, 0, 0, 0, ErrChannel},
		{"bad-gain", 0, 4, 0, 0, ErrGain},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tbl.Float(tc.ch, tc.gain, tc.raw)
			if !errors.Is(err, tc.err) {
				t.Fatalf("invalid error: got=%v, want=%v", err, tc.err)
			}
			if got != tc.want {
				t.Fatalf("invalid value: got=%v, want=%v", got, tc.want)
			}

			again, _ := tbl.Float(tc.ch, tc.gain, tc.raw)
			if math.Float32bits(again) != math.Float32bits(got) {
				t.Fatalf("non-reproducible value: %v != %v", again, got)
			}
		})
	}
}

func TestHexRoundTrip(t *testing.T) {
	tbl := newTable(t)
	err := tbl.SetRegisters(2, 1, 0x8123, -42)
	if err != nil {
		t.Fatalf("could not set registers: %+v", err)
	}

	for ch := 0; ch < tbl.NumChannels(); ch++ {
		for g := 0; g < tbl.NumGains(); g++ {
			e, err := tbl.Lookup(ch, g)
			if err != nil {
				t.Fatalf("could not lookup (%d,%d): %+v", ch, g, err)
			}
			for _, v := range []float32{0, 0.125, -0.3, 1.0, -1.2, 0.999} {
				raw, err := tbl.Hex(ch, g, v)
				if err != nil {
					t.Fatalf("could not convert %v (%d,%d): %+v", v, ch, g, err)
				}
				got, err := tbl.Float(ch, g, raw)
				if err != nil {
					t.Fatalf("could not convert 0x%x back: %+v", raw, err)
				}
				tol := 0.5*e.Scale + 1e-6*math.Abs(float64(v))
				if diff := math.Abs(float64(got) - float64(v)); diff > tol {
					t.Fatalf("invalid round-trip (%d,%d): v=%v got=%v diff=%g tol=%g",
						ch, g, v, got, diff, tol,
					)
				}
			}
		}
	}

	_, err = tbl.Hex(0, 3, 2)
	if !errors.Is(err, ErrRange) {
		t.Fatalf("invalid out-of-range error: %+v", err)
	}
}

func TestRegisters(t *testing.T) {
	tbl := newTable(t)
	err := tbl.SetRegisters(0, 0, GainUnity, 12)
	if err != nil {
		t.Fatalf("could not set registers: %+v", err)
	}
	e, err := tbl.Lookup(0, 0)
	if err != nil {
		t.Fatalf("could not lookup: %+v", err)
	}
	if got, want := e, (Entry{Offset: 12, Scale: 10.0 / (1 << 23)}); got != want {
		t.Fatalf("invalid entry: got=%+v, want=%+v", got, want)
	}

	err = tbl.SetRegisters(0, 0, 0, 0)
	if err == nil {
		t.Fatalf("expected an error for a null gain register")
	}
}

func TestCalibratedHex(t *testing.T) {
	tbl := newTable(t)
	err := tbl.SetRegisters(0, 0, 0xc000, 10) // x1.5
	if err != nil {
		t.Fatalf("could not set registers: %+v", err)
	}

	for _, tc := range []struct {
		raw  uint32
		want uint32
	}{
		{10, 0},
		{20, 15},
		{0xfffff6, 0xffffe2}, // (-10-10)*1.5 = -30
		{0x7ffff0, 0x7fffff}, // saturates.
	} {
		got, err := tbl.CalibratedHex(0, 0, tc.raw)
		if err != nil {
			t.Fatalf("could not calibrate 0x%x: %+v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("invalid calibrated hex for 0x%x: got=0x%x, want=0x%x", tc.raw, got, tc.want)
		}
	}
}

func TestStore(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "calib.db")
	st, err := OpenStore(fname)
	if err != nil {
		t.Fatalf("could not open store: %+v", err)
	}
	defer st.Close()

	tbl := newTable(t)
	err = tbl.SetRegisters(3, 2, 0x7ff0, -7)
	if err != nil {
		t.Fatalf("could not set registers: %+v", err)
	}

	for _, serial := range []string{"et7h24-0002", "et7h24-0001"} {
		err = st.Save(serial, tbl)
		if err != nil {
			t.Fatalf("could not save %q: %+v", serial, err)
		}
	}

	keys, err := st.List()
	if err != nil {
		t.Fatalf("could not list: %+v", err)
	}
	if got, want := keys, []string{"et7h24-0001", "et7h24-0002"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid keys: got=%q, want=%q", got, want)
	}

	got, err := st.Load("et7h24-0001")
	if err != nil {
		t.Fatalf("could not load: %+v", err)
	}
	if !reflect.DeepEqual(got, tbl) {
		t.Fatalf("invalid round-trip:\ngot= %+v\nwant=%+v", got, tbl)
	}

	_, err = st.Load("missing")
	if err == nil {
		t.Fatalf("expected an error loading a missing table")
	}
}
