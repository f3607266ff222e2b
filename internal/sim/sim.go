// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sim provides a simulated acquisition source producing
// deterministic waveforms.
package sim // import "github.com/go-lpc/hsdaq/internal/sim"

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/go-lpc/hsdaq/calib"
	"github.com/go-lpc/hsdaq/daq"
	"golang.org/x/time/rate"
)

// Source is a daq.Source generating one sine wave per channel.
// Channel ch oscillates at (ch+1) times the base frequency.
type Source struct {
	mu sync.Mutex

	cal  *calib.Table
	gain int
	nch  int
	rate float64 // scans per second

	block int     // scans per block
	amp   float64 // fraction of the full scale
	freq  float64 // base frequency, in Hz
	pace  bool
	lim   *rate.Limiter
	trig  map[uint64]bool
	di    func(tick uint64) uint32

	tick uint64
}

// Option configures a simulated source.
type Option func(*Source)

// WithBlockSize sets the number of scans delivered by each Read.
func WithBlockSize(n int) Option {
	return func(src *Source) {
		src.block = n
	}
}

// WithAmplitude sets the amplitude of the waveforms, as a fraction of the
// full scale of the configured gain.
func WithAmplitude(v float64) Option {
	return func(src *Source) {
		src.amp = v
	}
}

// WithFrequency sets the base frequency of the waveforms.
func WithFrequency(hz float64) Option {
	return func(src *Source) {
		src.freq = hz
	}
}

// WithTriggers flags external trigger edges at the given scan indices.
func WithTriggers(ticks ...uint64) Option {
	return func(src *Source) {
		for _, tick := range ticks {
			src.trig[tick] = true
		}
	}
}

// WithDI sets the digital input pattern as a function of the scan index.
func WithDI(f func(tick uint64) uint32) Option {
	return func(src *Source) {
		src.di = f
	}
}

// WithPacing enables or disables real-time pacing of the source at the
// configured sample rate.
func WithPacing(v bool) Option {
	return func(src *Source) {
		src.pace = v
	}
}

// NewSource returns a simulated source for the given scan configuration.
func NewSource(cal *calib.Table, sc daq.ScanConfig, opts ...Option) (*Source, error) {
	switch {
	case cal == nil:
		return nil, fmt.Errorf("sim: nil calibration table")
	case sc.ChannelCount <= 0 || sc.ChannelCount > cal.NumChannels():
		return nil, fmt.Errorf("sim: invalid channel count %d", sc.ChannelCount)
	case sc.Gain < 0 || sc.Gain >= cal.NumGains():
		return nil, fmt.Errorf("sim: invalid gain %d", sc.Gain)
	case sc.SampleRate <= 0:
		return nil, fmt.Errorf("sim: invalid sample rate %d", sc.SampleRate)
	}

	src := &Source{
		cal:   cal,
		gain:  sc.Gain,
		nch:   sc.ChannelCount,
		rate:  float64(sc.SampleRate),
		block: 64,
		amp:   0.5,
		freq:  float64(sc.SampleRate) / 64,
		pace:  true,
		trig:  make(map[uint64]bool),
	}
	for _, opt := range opts {
		opt(src)
	}

	switch {
	case src.block <= 0:
		return nil, fmt.Errorf("sim: invalid block size %d", src.block)
	case src.amp < 0 || src.amp >= 1:
		return nil, fmt.Errorf("sim: invalid amplitude %v", src.amp)
	}
	if src.pace {
		src.lim = rate.NewLimiter(rate.Limit(src.rate), src.block)
	}
	return src, nil
}

// Value returns the physical value of channel ch at scan tick.
func (src *Source) Value(ch int, tick uint64) float64 {
	t := float64(tick) / src.rate
	f := src.freq * float64(ch+1)
	return src.amp * src.cal.Range(src.gain) * math.Sin(2*math.Pi*f*t)
}

// Read fills blk with the next block of scans.
func (src *Source) Read(ctx context.Context, blk *daq.Block) error {
	if src.lim != nil {
		err := src.lim.WaitN(ctx, src.block)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("sim: could not read block: %w", ctx.Err())
			}
			return fmt.Errorf("sim: could not read block: %v: %w", err, context.DeadlineExceeded)
		}
	}

	src.mu.Lock()
	defer src.mu.Unlock()

	blk.Samples = blk.Samples[:0]
	blk.Triggers = blk.Triggers[:0]
	blk.HasDI = src.di != nil
	for i := 0; i < src.block; i++ {
		tick := src.tick + uint64(i)
		for ch := 0; ch < src.nch; ch++ {
			raw, err := src.cal.Hex(ch, src.gain, float32(src.Value(ch, tick)))
			if err != nil {
				return fmt.Errorf("sim: could not encode ch=%d tick=%d: %w", ch, tick, err)
			}
			blk.Samples = append(blk.Samples, raw)
		}
		if src.trig[tick] {
			blk.Triggers = append(blk.Triggers, i)
		}
		if src.di != nil {
			blk.DI = src.di(tick)
		}
	}
	src.tick += uint64(src.block)
	return nil
}

// Tick returns the index of the next scan to be generated.
func (src *Source) Tick() uint64 {
	src.mu.Lock()
	defer src.mu.Unlock()
	return src.tick
}

var _ daq.Source = (*Source)(nil)
