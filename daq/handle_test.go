// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/hsdaq/calib"
)

func TestTable(t *testing.T) {
	tbl := NewTable()
	msg := WithLogger(log.NewMsgStream("test", log.LvlError, io.Discard))

	h1, err := tbl.Open("dev-1", msg)
	if err != nil {
		t.Fatalf("could not open session: %+v", err)
	}
	h2, err := tbl.Open("dev-2", msg, WithModel(PET7H16M))
	if err != nil {
		t.Fatalf("could not open session: %+v", err)
	}
	if h1 == h2 {
		t.Fatalf("duplicate handles: %v", h1)
	}

	s2, err := tbl.Session(h2)
	if err != nil {
		t.Fatalf("could not get session: %+v", err)
	}
	if got, want := s2.Name(), "dev-2"; got != want {
		t.Fatalf("invalid name: got=%q, want=%q", got, want)
	}
	if got, want := s2.Model().Name, "PET-7H16M"; got != want {
		t.Fatalf("invalid model: got=%q, want=%q", got, want)
	}
	if got, want := s2.Handle(), h2; got != want {
		t.Fatalf("invalid handle: got=%v, want=%v", got, want)
	}

	err = tbl.Release(h1)
	if err != nil {
		t.Fatalf("could not release session: %+v", err)
	}
	if _, err := tbl.Session(h1); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("invalid error: got=%v, want=%v", err, ErrInvalidHandle)
	}
	if err := tbl.Release(h1); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("invalid error: got=%v, want=%v", err, ErrInvalidHandle)
	}

	h3, err := tbl.Open("dev-3", msg)
	if err != nil {
		t.Fatalf("could not open session: %+v", err)
	}
	if got, want := h3.slot(), h1.slot(); got != want {
		t.Fatalf("slot not reused: got=%d, want=%d", got, want)
	}
	if h3 == h1 {
		t.Fatalf("released handle reused: %v", h3)
	}
	if _, err := tbl.Session(h1); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("stale handle accepted: %v", err)
	}
	if got, want := len(tbl.Handles()), 2; got != want {
		t.Fatalf("invalid number of sessions: got=%d, want=%d", got, want)
	}
	if _, err := tbl.Session(Handle(0)); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("invalid error: got=%v, want=%v", err, ErrInvalidHandle)
	}
}

func TestOpenErrors(t *testing.T) {
	tbl := NewTable()
	_, err := tbl.Open("dev", WithModel(Model{Name: "none"}))
	if !errors.Is(err, ErrInvalidModel) {
		t.Fatalf("invalid error: got=%v, want=%v", err, ErrInvalidModel)
	}

	cal, err := calib.New(2, []float64{10}, 24)
	if err != nil {
		t.Fatalf("could not create calibration table: %+v", err)
	}
	_, err = tbl.Open("dev", WithCalibration(cal))
	if !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("invalid error: got=%v, want=%v", err, ErrInvalidParameter)
	}
	if got, want := len(tbl.Handles()), 0; got != want {
		t.Fatalf("invalid number of sessions: got=%d, want=%d", got, want)
	}
}

func TestGlobalTable(t *testing.T) {
	h, err := Open("dev", WithLogger(log.NewMsgStream("test", log.LvlError, io.Discard)))
	if err != nil {
		t.Fatalf("could not open session: %+v", err)
	}
	sess, err := Get(h)
	if err != nil {
		t.Fatalf("could not get session: %+v", err)
	}
	if got, want := sess.State(), Idle; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
	err = Release(h)
	if err != nil {
		t.Fatalf("could not release session: %+v", err)
	}
	if _, err := Get(h); err == nil {
		t.Fatalf("expected an error")
	}
}

func TestLookupModel(t *testing.T) {
	m, err := LookupModel("PET-7H24M")
	if err != nil {
		t.Fatalf("could not lookup model: %+v", err)
	}
	if got, want := m.ADCBits, 24; got != want {
		t.Fatalf("invalid ADC bits: got=%d, want=%d", got, want)
	}
	if _, err := LookupModel("PET-0000"); err == nil {
		t.Fatalf("expected an error")
	}
}

func TestCalibrationNotShared(t *testing.T) {
	m := PET7H24M
	cal, err := calib.New(m.AIChannels, m.Ranges, m.ADCBits)
	if err != nil {
		t.Fatalf("could not create calibration table: %+v", err)
	}
	orig, err := cal.Lookup(0, 0)
	if err != nil {
		t.Fatalf("could not lookup entry: %+v", err)
	}

	sess := newTestSession(t, WithCalibration(cal))
	err = cal.Set(0, 0, calib.Entry{Offset: 42, Scale: 2})
	if err != nil {
		t.Fatalf("could not modify table: %+v", err)
	}
	got, err := sess.GainOffset(0, 0)
	if err != nil {
		t.Fatalf("could not get gain/offset: %+v", err)
	}
	if got != orig {
		t.Fatalf("session sees caller modification: got=%+v, want=%+v", got, orig)
	}

	err = sess.Calibration().Set(0, 0, calib.Entry{Offset: 7, Scale: 3})
	if err != nil {
		t.Fatalf("could not modify table: %+v", err)
	}
	got, err = sess.GainOffset(0, 0)
	if err != nil {
		t.Fatalf("could not get gain/offset: %+v", err)
	}
	if got != orig {
		t.Fatalf("session sees modification of its copy: got=%+v, want=%+v", got, orig)
	}
}

func TestIOTimeout(t *testing.T) {
	for _, tc := range []struct {
		d    time.Duration
		want time.Duration
	}{
		{d: 10 * time.Millisecond, want: 10 * time.Millisecond},
		{d: 0, want: defaultIOTimeout},
		{d: -time.Second, want: defaultIOTimeout},
	} {
		t.Run(tc.d.String(), func(t *testing.T) {
			sess := newTestSession(t, WithIOTimeout(tc.d))
			if got, want := sess.cfg.timeout, tc.want; got != want {
				t.Fatalf("invalid timeout: got=%v, want=%v", got, want)
			}
		})
	}
}
