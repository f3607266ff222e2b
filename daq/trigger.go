// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"sync"
	"sync/atomic"
)

// TriggerStatus describes the trigger engine of a session.
type TriggerStatus struct {
	State     State  `json:"state"`
	Triggered bool   `json:"triggered"` // a trigger event occurred during the current capture
	Tick      uint64 `json:"tick"`      // scan index of the last trigger event
	PreCount  int    `json:"pre_count"` // pre-trigger scans retained for the last event
	Degraded  bool   `json:"degraded"`  // fewer pre-trigger scans than requested
	Captures  uint64 `json:"captures"`  // completed captures since start
}

// engine gates the admission of acquisition ticks.
//
// The engine is driven by the producer only. Its state word is shared with
// the session so Stop may move it to Stopped at any time: every transition
// made by the engine is a compare-and-swap and a failed swap means the
// scan was stopped under its feet.
type engine[T any] struct {
	st      *atomic.Uint32
	mode    TriggerMode
	autoRun bool
	nch     int
	target  uint64 // samples to retain per capture, 0 for unbounded
	left    int    // pre-trigger window, in scans
	right   int    // post-trigger window, in scans
	delay   int
	analog  *analogTrigger
	clone   func(T) T

	tick     uint64 // current tick index
	hist     []T    // pre-trigger history, circular
	hbeg     int
	hlen     int
	count    int // pending delay countdown
	retained uint64
	remain   int // post-trigger scans still to retain

	stat *triggerStat
}

// triggerStat is the trigger status shared between the producer and the
// status queries.
type triggerStat struct {
	mu sync.Mutex
	st TriggerStatus
}

func (ts *triggerStat) update(f func(st *TriggerStatus)) {
	ts.mu.Lock()
	f(&ts.st)
	ts.mu.Unlock()
}

func (ts *triggerStat) get() TriggerStatus {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.st
}

func newEngine[T any](st *atomic.Uint32, stat *triggerStat, sc ScanConfig, at *AnalogTriggerConfig, dt DelayTriggerConfig, conv func(ch int, raw uint32) float32, clone func(T) T) *engine[T] {
	e := &engine[T]{
		st:      st,
		stat:    stat,
		mode:    sc.TriggerMode,
		autoRun: sc.AutoRun,
		nch:     sc.ChannelCount,
		target:  uint64(sc.TargetCount),
		delay:   dt.Ticks,
		clone:   clone,
	}
	if e.mode.window() {
		e.left, e.right = windows(sc, at)
		e.hist = make([]T, e.left)
	}
	if at != nil {
		e.analog = newAnalogTrigger(*at, conv)
	}
	return e
}

// initial returns the state of the engine right after start.
func (e *engine[T]) initial() State {
	if e.mode == TrigSoftware {
		return Capturing
	}
	return Armed
}

func (e *engine[T]) to(from, to State) bool {
	return e.st.CompareAndSwap(uint32(from), uint32(to))
}

// step processes one acquisition tick.
// scan holds the raw samples of the tick, item the value retained for it.
// ext reports an external trigger edge during the tick.
func (e *engine[T]) step(scan []uint32, item T, ext bool, emit func(T)) {
	e.tick++
	event := ext
	if e.analog != nil && e.analog.crossed(scan) {
		event = true
	}

	st := State(e.st.Load())
	if st == Paused {
		st = e.rearm()
	}
	switch st {
	case Armed:
		e.armed(item, event, emit)
	case Capturing:
		e.capture(item, emit)
	}
}

func (e *engine[T]) rearm() State {
	e.hbeg, e.hlen = 0, 0
	e.count = 0
	e.retained = 0
	e.remain = 0
	e.stat.update(func(st *TriggerStatus) { st.Triggered = false })

	next := e.initial()
	if !e.to(Paused, next) {
		return State(e.st.Load())
	}
	return next
}

func (e *engine[T]) armed(item T, event bool, emit func(T)) {
	switch {
	case e.mode.window():
		if !event {
			e.push(item)
			return
		}
		e.fire(e.hlen)
		for i := 0; i < e.hlen; i++ {
			emit(e.hist[(e.hbeg+i)%len(e.hist)])
		}
		e.hbeg, e.hlen = 0, 0
		if e.right == 0 {
			e.complete()
			return
		}
		if !e.to(Armed, Capturing) {
			return
		}
		e.remain = e.right
		e.capture(item, emit)

	case e.mode == TrigDelay:
		switch {
		case e.count > 0:
			e.count--
			if e.count > 0 {
				return
			}
		case event:
			e.fire(0)
			if e.delay > 0 {
				e.count = e.delay
				return
			}
		default:
			return
		}
		if !e.to(Armed, Capturing) {
			return
		}
		e.capture(item, emit)

	default:
		if !event {
			return
		}
		e.fire(0)
		if !e.to(Armed, Capturing) {
			return
		}
		e.capture(item, emit)
	}
}

func (e *engine[T]) capture(item T, emit func(T)) {
	emit(item)
	if e.mode.window() {
		e.remain--
		if e.remain <= 0 {
			e.complete()
		}
		return
	}
	e.retained += uint64(e.nch)
	if e.target > 0 && e.retained >= e.target {
		e.complete()
	}
}

func (e *engine[T]) push(item T) {
	if len(e.hist) == 0 {
		return
	}
	item = e.clone(item)
	if e.hlen < len(e.hist) {
		e.hist[(e.hbeg+e.hlen)%len(e.hist)] = item
		e.hlen++
		return
	}
	e.hist[e.hbeg] = item
	e.hbeg = (e.hbeg + 1) % len(e.hist)
}

func (e *engine[T]) fire(pre int) {
	e.stat.update(func(st *TriggerStatus) {
		st.Triggered = true
		st.Tick = e.tick - 1
		st.PreCount = pre
		st.Degraded = pre < e.left
	})
}

func (e *engine[T]) complete() {
	e.stat.update(func(st *TriggerStatus) { st.Captures++ })

	next := Stopped
	if e.autoRun {
		next = Paused
	}
	for {
		cur := State(e.st.Load())
		if cur == Stopped || cur == Idle {
			return
		}
		if e.to(cur, next) {
			return
		}
	}
}

// analogTrigger detects level crossings on calibrated values.
type analogTrigger struct {
	mode  AnalogMode
	chans []int
	high  []float32
	low   []float32
	prev  []float32
	valid bool
	conv  func(ch int, raw uint32) float32
}

func newAnalogTrigger(cfg AnalogTriggerConfig, conv func(ch int, raw uint32) float32) *analogTrigger {
	return &analogTrigger{
		mode:  cfg.Mode,
		chans: append([]int(nil), cfg.Channels...),
		high:  append([]float32(nil), cfg.High...),
		low:   append([]float32(nil), cfg.Low...),
		prev:  make([]float32, len(cfg.Channels)),
		conv:  conv,
	}
}

// crossed reports whether any enabled channel crossed its thresholds
// between the previous scan and this one.
func (at *analogTrigger) crossed(scan []uint32) bool {
	hit := false
	for i, ch := range at.chans {
		cur := at.conv(ch, scan[ch])
		if at.valid {
			prev := at.prev[i]
			rise := prev < at.high[i] && cur >= at.high[i]
			fall := prev > at.low[i] && cur <= at.low[i]
			switch at.mode {
			case AnalogRising:
				hit = hit || rise
			case AnalogFalling:
				hit = hit || fall
			case AnalogEither:
				hit = hit || rise || fall
			}
		}
		at.prev[i] = cur
	}
	at.valid = true
	return hit
}
