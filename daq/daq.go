// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package daq implements the acquisition engine of high-speed
// multi-channel DAQ devices.
//
// A Session owns, for one open device, the scan configuration, the trigger
// engine, the acquisition ring buffer, the synchronous-input frame
// assembler, the counter/encoder states, the event dispatcher and the
// calibration table.
//
// Raw samples are handed to the session by a single producer (Session.Feed
// or Session.Run); they are gated by the trigger engine and the admitted
// ones are stored in the sample ring buffer or, when a synchronous-input
// layout is configured, assembled into frames.
// Consumers poll the buffer status and drain data concurrently with the
// producer.
// Both ring buffers are lossy under overflow: when the consumer does not
// drain fast enough, the oldest unread data is overwritten, acquisition
// keeps running and the buffer is flagged as overflowed until cleared.
//
// Failing calls return an *Error carrying a Code.
// The code is also recorded as the session last error and as the
// process-wide last error. The process-wide slot is shared by all
// goroutines and protected by a mutex: it is a convenience for callers
// mirroring the legacy C API, the returned error is authoritative.
package daq // import "github.com/go-lpc/hsdaq/daq"

import "fmt"

// Model describes the capabilities of a device model.
type Model struct {
	Name       string
	AIChannels int       // number of analog input channels
	ADCBits    int       // ADC resolution
	Ranges     []float64 // full scale input range per gain, in volts
	MaxRate    int       // max aggregated sample rate, in samples/s
	DIChannels int       // number of digital input lines
	DOChannels int       // number of digital output lines
	DICounters int       // number of digital-input counters
	Counters   int       // number of general purpose counters
	Encoders   int       // number of encoder channels
}

var (
	// PET7H24M is a 4-channel, 24-bit, 128 kS/s simultaneous sampling
	// module without counters nor encoders.
	PET7H24M = Model{
		Name:       "PET-7H24M",
		AIChannels: 4,
		ADCBits:    24,
		Ranges:     []float64{10, 5, 2.5, 1.25},
		MaxRate:    512000,
		DIChannels: 2,
		DOChannels: 2,
	}

	// PET7H16M is an 8-channel, 16-bit, 200 kS/s module with digital I/O,
	// counters and encoders.
	PET7H16M = Model{
		Name:       "PET-7H16M",
		AIChannels: 8,
		ADCBits:    16,
		Ranges:     []float64{10, 5, 2.5, 1.25},
		MaxRate:    200000,
		DIChannels: 8,
		DOChannels: 8,
		DICounters: 4,
		Counters:   2,
		Encoders:   2,
	}
)

// Models lists the known device models.
var Models = []Model{PET7H24M, PET7H16M}

// LookupModel returns the model with the given name.
func LookupModel(name string) (Model, error) {
	for _, m := range Models {
		if m.Name == name {
			return m, nil
		}
	}
	return Model{}, fmt.Errorf("daq: unknown model %q", name)
}

// State is the acquisition state of a session.
type State uint32

const (
	Idle      State = iota // no scan started yet
	Armed                  // waiting for a trigger event
	Capturing              // admitting samples
	Paused                 // capture window completed, waiting for re-arm
	Stopped                // scan stopped, buffered data still available
)

func (st State) String() string {
	switch st {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Capturing:
		return "capturing"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", uint32(st))
}

func (st State) MarshalText() ([]byte, error) {
	return []byte(st.String()), nil
}

func (st *State) UnmarshalText(p []byte) error {
	for v := Idle; v <= Stopped; v++ {
		if v.String() == string(p) {
			*st = v
			return nil
		}
	}
	return fmt.Errorf("daq: unknown state %q", p)
}

func (st State) running() bool {
	switch st {
	case Armed, Capturing, Paused:
		return true
	}
	return false
}
