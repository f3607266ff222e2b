// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"fmt"
	"math/bits"
	"sync"
	"time"
)

// EventKind is the kind of a session event.
type EventKind uint16

const (
	EventError               EventKind = 0x01 // transport failure
	EventNSampleReach        EventKind = 0x02 // buffer filled up to a threshold
	EventDataSamplingTimeout EventKind = 0x04 // no sample within a timeout
	EventBufferOverflow      EventKind = 0x08 // buffer overflowed
	EventLogNSampleReach     EventKind = 0x10 // every N admitted samples
	nEvents                            = 5
)

func (k EventKind) String() string {
	switch k {
	case EventError:
		return "error"
	case EventNSampleReach:
		return "n-sample-reach"
	case EventDataSamplingTimeout:
		return "data-sampling-timeout"
	case EventBufferOverflow:
		return "buffer-overflow"
	case EventLogNSampleReach:
		return "log-n-sample-reach"
	}
	return fmt.Sprintf("EventKind(0x%x)", uint16(k))
}

func (k EventKind) index() (int, bool) {
	if bits.OnesCount16(uint16(k)) != 1 {
		return 0, false
	}
	i := bits.TrailingZeros16(uint16(k))
	return i, i < nEvents
}

// Event describes a condition detected by the acquisition producer.
type Event struct {
	Kind    EventKind
	Session Handle
	Time    time.Time
	Count   uint64 // available count, admitted total, dropped samples or elapsed milliseconds
	Err     error  // transport error, for EventError
}

// Handler handles session events.
// Handlers are invoked synchronously from the producer: they must return
// promptly and must not call Session.Start nor feed the session.
type Handler func(evt Event, uctx interface{})

type subscription struct {
	param uint32
	fn    Handler
	uctx  interface{}

	armed bool   // n-sample-reach may fire
	next  uint64 // next log-n-sample-reach threshold
	fired bool   // sampling timeout already reported
}

type dispatcher struct {
	mu   sync.Mutex
	subs [nEvents]*subscription
}

func (d *dispatcher) set(kind EventKind, param uint32, fn Handler, uctx interface{}) (Code, error) {
	i, ok := kind.index()
	if !ok {
		return ErrInvalidParameter, fmt.Errorf("invalid event kind %v", kind)
	}
	if fn == nil {
		return ErrInvalidParameter, fmt.Errorf("nil handler for %v", kind)
	}
	switch kind {
	case EventNSampleReach, EventDataSamplingTimeout, EventLogNSampleReach:
		if param == 0 {
			return ErrInvalidParameter, fmt.Errorf("zero parameter for %v", kind)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs[i] = &subscription{
		param: param,
		fn:    fn,
		uctx:  uctx,
		armed: true,
		next:  uint64(param),
	}
	return ErrSuccess, nil
}

func (d *dispatcher) remove(kind EventKind) (Code, error) {
	i, ok := kind.index()
	if !ok {
		return ErrInvalidParameter, fmt.Errorf("invalid event kind %v", kind)
	}
	d.mu.Lock()
	d.subs[i] = nil
	d.mu.Unlock()
	return ErrSuccess, nil
}

// reset re-arms all subscriptions for a new scan.
func (d *dispatcher) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, sub := range d.subs {
		if sub == nil {
			continue
		}
		sub.armed = true
		sub.next = uint64(sub.param)
		sub.fired = false
	}
}

func (d *dispatcher) sub(kind EventKind) *subscription {
	i, _ := kind.index()
	return d.subs[i]
}

func (d *dispatcher) fire(kind EventKind, evt Event) {
	d.mu.Lock()
	sub := d.sub(kind)
	d.mu.Unlock()
	if sub == nil {
		return
	}
	evt.Kind = kind
	sub.fn(evt, sub.uctx)
}

// fill handles the n-sample-reach condition for the given fill level.
func (d *dispatcher) fill(avail uint64, evt Event) {
	d.mu.Lock()
	sub := d.sub(EventNSampleReach)
	if sub == nil {
		d.mu.Unlock()
		return
	}
	fire := false
	switch {
	case avail < uint64(sub.param):
		sub.armed = true
	case sub.armed:
		sub.armed = false
		fire = true
	}
	d.mu.Unlock()

	if fire {
		evt.Kind = EventNSampleReach
		evt.Count = avail
		sub.fn(evt, sub.uctx)
	}
}

// admitted handles the log-n-sample-reach condition for the given total
// number of admitted samples.
func (d *dispatcher) admitted(total uint64, evt Event) {
	d.mu.Lock()
	sub := d.sub(EventLogNSampleReach)
	if sub == nil || total < sub.next {
		d.mu.Unlock()
		return
	}
	for sub.next <= total {
		sub.next += uint64(sub.param)
	}
	d.mu.Unlock()

	evt.Kind = EventLogNSampleReach
	evt.Count = total
	sub.fn(evt, sub.uctx)
}

// idle handles the data-sampling-timeout condition, given the time elapsed
// since the last sample.
func (d *dispatcher) idle(elapsed time.Duration, evt Event) {
	d.mu.Lock()
	sub := d.sub(EventDataSamplingTimeout)
	if sub == nil || sub.fired || elapsed < time.Duration(sub.param)*time.Millisecond {
		d.mu.Unlock()
		return
	}
	sub.fired = true
	d.mu.Unlock()

	evt.Kind = EventDataSamplingTimeout
	evt.Count = uint64(elapsed / time.Millisecond)
	sub.fn(evt, sub.uctx)
}

// sampled re-arms the data-sampling-timeout condition.
func (d *dispatcher) sampled() {
	d.mu.Lock()
	if sub := d.sub(EventDataSamplingTimeout); sub != nil {
		sub.fired = false
	}
	d.mu.Unlock()
}
