// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) add(d time.Duration) { c.t = c.t.Add(d) }

func TestEventNSampleReach(t *testing.T) {
	sess := newTestSession(t)
	err := sess.SetScanConfig(ScanConfig{ChannelCount: 2, SampleRate: 100})
	if err != nil {
		t.Fatalf("could not configure scan: %+v", err)
	}

	type ctx struct{ name string }
	var (
		uctx = &ctx{"user"}
		evts []Event
	)
	err = sess.SetEventHandler(EventNSampleReach, 6, func(evt Event, v interface{}) {
		if v != uctx {
			t.Errorf("invalid user context: got=%v, want=%v", v, uctx)
		}
		evts = append(evts, evt)
	}, uctx)
	if err != nil {
		t.Fatalf("could not set handler: %+v", err)
	}
	err = sess.Start()
	if err != nil {
		t.Fatalf("could not start scan: %+v", err)
	}

	feed := func(n int) {
		t.Helper()
		err := sess.Feed(Block{Samples: scans(0, n, 2)})
		if err != nil {
			t.Fatalf("could not feed: %+v", err)
		}
	}

	feed(2) // 4 samples
	if len(evts) != 0 {
		t.Fatalf("event fired below threshold")
	}
	feed(1) // 6 samples
	if got, want := len(evts), 1; got != want {
		t.Fatalf("invalid number of events: got=%d, want=%d", got, want)
	}
	if got, want := evts[0].Count, uint64(6); got != want {
		t.Fatalf("invalid event count: got=%d, want=%d", got, want)
	}
	if got, want := evts[0].Kind, EventNSampleReach; got != want {
		t.Fatalf("invalid event kind: got=%v, want=%v", got, want)
	}
	if got, want := evts[0].Session, sess.Handle(); got != want {
		t.Fatalf("invalid event session: got=%v, want=%v", got, want)
	}

	feed(2) // 10 samples, still above threshold
	if got, want := len(evts), 1; got != want {
		t.Fatalf("event not edge-triggered: got=%d, want=%d", got, want)
	}

	_, _ = sess.ReadBufferHex(make([]uint32, 8))
	feed(1) // 4 samples
	if got, want := len(evts), 1; got != want {
		t.Fatalf("invalid number of events: got=%d, want=%d", got, want)
	}
	feed(1) // 6 samples
	if got, want := len(evts), 2; got != want {
		t.Fatalf("event not re-armed: got=%d, want=%d", got, want)
	}

	err = sess.RemoveEventHandler(EventNSampleReach)
	if err != nil {
		t.Fatalf("could not remove handler: %+v", err)
	}
	err = sess.RemoveEventHandler(EventNSampleReach)
	if err != nil {
		t.Fatalf("removing a missing handler failed: %+v", err)
	}
	_, _ = sess.ReadBufferHex(make([]uint32, 100))
	feed(4)
	if got, want := len(evts), 2; got != want {
		t.Fatalf("removed handler called: got=%d, want=%d", got, want)
	}
}

func TestEventLogNSampleReach(t *testing.T) {
	sess := newTestSession(t)
	err := sess.SetScanConfig(ScanConfig{ChannelCount: 1, SampleRate: 100})
	if err != nil {
		t.Fatalf("could not configure scan: %+v", err)
	}
	var counts []uint64
	err = sess.SetEventHandler(EventLogNSampleReach, 10, func(evt Event, _ interface{}) {
		counts = append(counts, evt.Count)
	}, nil)
	if err != nil {
		t.Fatalf("could not set handler: %+v", err)
	}
	err = sess.Start()
	if err != nil {
		t.Fatalf("could not start scan: %+v", err)
	}
	for _, n := range []int{4, 4, 4, 25, 1, 2} {
		err = sess.Feed(Block{Samples: make([]uint32, n)})
		if err != nil {
			t.Fatalf("could not feed: %+v", err)
		}
	}
	want := []uint64{12, 37, 40}
	if len(counts) != len(want) {
		t.Fatalf("invalid events: got=%v, want=%v", counts, want)
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Fatalf("invalid events: got=%v, want=%v", counts, want)
		}
	}
}

func TestEventDataSamplingTimeout(t *testing.T) {
	clock := &fakeClock{t: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
	sess := newTestSession(t, WithClock(clock.now))
	err := sess.SetScanConfig(ScanConfig{ChannelCount: 1, SampleRate: 100})
	if err != nil {
		t.Fatalf("could not configure scan: %+v", err)
	}
	var evts []Event
	err = sess.SetEventHandler(EventDataSamplingTimeout, 500, func(evt Event, _ interface{}) {
		evts = append(evts, evt)
	}, nil)
	if err != nil {
		t.Fatalf("could not set handler: %+v", err)
	}
	err = sess.Start()
	if err != nil {
		t.Fatalf("could not start scan: %+v", err)
	}

	poll := func(d time.Duration, samples []uint32) {
		t.Helper()
		clock.add(d)
		err := sess.Feed(Block{Samples: samples})
		if err != nil {
			t.Fatalf("could not feed: %+v", err)
		}
	}

	poll(200*time.Millisecond, nil)
	poll(200*time.Millisecond, nil)
	if len(evts) != 0 {
		t.Fatalf("timeout fired too early")
	}
	poll(200*time.Millisecond, nil)
	if got, want := len(evts), 1; got != want {
		t.Fatalf("invalid number of events: got=%d, want=%d", got, want)
	}
	if got, want := evts[0].Count, uint64(600); got != want {
		t.Fatalf("invalid elapsed time: got=%d, want=%d", got, want)
	}
	poll(time.Second, nil)
	if got, want := len(evts), 1; got != want {
		t.Fatalf("timeout fired twice: got=%d, want=%d", got, want)
	}

	poll(time.Second, []uint32{1})
	poll(400*time.Millisecond, nil)
	if got, want := len(evts), 1; got != want {
		t.Fatalf("invalid number of events: got=%d, want=%d", got, want)
	}
	poll(100*time.Millisecond, nil)
	if got, want := len(evts), 2; got != want {
		t.Fatalf("timeout not re-armed: got=%d, want=%d", got, want)
	}
}

func TestEventHandlerErrors(t *testing.T) {
	sess := newTestSession(t)
	h := func(Event, interface{}) {}
	for _, tc := range []struct {
		name  string
		kind  EventKind
		param uint32
		h     Handler
	}{
		{"kind", 0x20, 1, h},
		{"kinds", EventError | EventBufferOverflow, 1, h},
		{"nil", EventError, 0, nil},
		{"n-sample-param", EventNSampleReach, 0, h},
		{"timeout-param", EventDataSamplingTimeout, 0, h},
		{"log-param", EventLogNSampleReach, 0, h},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := sess.SetEventHandler(tc.kind, tc.param, tc.h, nil)
			if got, want := CodeOf(err), ErrInvalidParameter; got != want {
				t.Fatalf("invalid code: got=%v, want=%v", got, want)
			}
		})
	}
	if err := sess.RemoveEventHandler(0x40); err == nil {
		t.Fatalf("expected an error")
	}
}
