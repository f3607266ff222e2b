// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"os"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/hsdaq/calib"
)

const (
	defaultBufferSize = 262144 // samples
	defaultFrameSize  = 4096   // frames
	defaultIOTimeout  = 2 * time.Second
)

type config struct {
	model   Model
	msg     log.MsgStream
	cal     *calib.Table
	bufsz   int    // sample ring capacity, 0 means derived from the scan target
	frames  int    // frame ring capacity
	shm     string // directory holding shared-memory sample stores
	clock   func() time.Time
	timeout time.Duration // device I/O timeout
}

func newConfig(name string) config {
	return config{
		model:   PET7H24M,
		msg:     log.NewMsgStream(name, log.LvlInfo, os.Stdout),
		frames:  defaultFrameSize,
		clock:   time.Now,
		timeout: defaultIOTimeout,
	}
}

// Option configures a session.
type Option func(*config)

// WithModel sets the device model of the session.
func WithModel(m Model) Option {
	return func(cfg *config) {
		cfg.model = m
	}
}

// WithLogger sets the message stream of the session.
func WithLogger(msg log.MsgStream) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithCalibration sets the calibration table of the session.
// The default table holds the ideal transfer function of the model.
func WithCalibration(tbl *calib.Table) Option {
	return func(cfg *config) {
		cfg.cal = tbl
	}
}

// WithBufferSize sets the capacity, in samples, of the sample ring buffer.
// The capacity is rounded up to a whole number of scans.
func WithBufferSize(n int) Option {
	return func(cfg *config) {
		cfg.bufsz = n
	}
}

// WithFrameBufferSize sets the capacity, in frames, of the sync-in frame
// ring buffer.
func WithFrameBufferSize(n int) Option {
	return func(cfg *config) {
		cfg.frames = n
	}
}

// WithSHM stores the sample ring buffer in a shared-memory file under dir,
// so other processes may map the acquired samples.
func WithSHM(dir string) Option {
	return func(cfg *config) {
		cfg.shm = dir
	}
}

// WithClock sets the time source of the session.
func WithClock(now func() time.Time) Option {
	return func(cfg *config) {
		cfg.clock = now
	}
}

// WithIOTimeout sets the timeout of device transport calls.
// Non-positive durations keep the default timeout.
func WithIOTimeout(d time.Duration) Option {
	return func(cfg *config) {
		if d <= 0 {
			d = defaultIOTimeout
		}
		cfg.timeout = d
	}
}
