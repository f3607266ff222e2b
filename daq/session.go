// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/hsdaq/calib"
	"github.com/go-lpc/hsdaq/daqtime"
	"github.com/go-lpc/hsdaq/frame"
	"github.com/go-lpc/hsdaq/internal/ring"
	"github.com/google/uuid"
)

// Session is an open acquisition device.
//
// Configuration and lifecycle calls are serialized by the session.
// A single producer feeds samples (Feed or Run) while any number of
// goroutines query status. Drains from several goroutines must be
// serialized by the caller.
type Session struct {
	name string
	hdl  Handle
	cfg  config
	msg  log.MsgStream
	cal  *calib.Table
	cnt  *counters
	evt  dispatcher
	trig triggerStat

	mu     sync.Mutex // guards configuration and lifecycle
	id     uuid.UUID
	analog *AnalogTriggerConfig
	delay  DelayTriggerConfig
	syncin SyncInConfig
	shm    *shmStore

	state   atomic.Uint32
	scan    atomic.Pointer[ScanConfig]
	samples atomic.Pointer[ring.Ring[uint32]]
	asm     atomic.Pointer[assembler]
	frames  *ring.Ring[frame.Frame]

	feed sync.Mutex // serializes producers
	run  *run       // guarded by feed

	ext  atomic.Bool // pending external trigger edge
	di   atomic.Uint32
	do   atomic.Uint32
	last struct {
		sync.Mutex
		scan []uint32
	}

	read     atomic.Uint64
	acquired atomic.Uint64
	admitted atomic.Uint64
	errored  atomic.Bool
	lastErr  atomic.Uint32
}

// run is the producer state of a scan.
type run struct {
	sc      ScanConfig
	step    func(scan []uint32, ext bool)
	start   time.Time
	tick    uint64
	partial []uint32
	last    time.Time // arrival time of the last samples
}

func newSession(name string, hdl Handle, opts ...Option) (*Session, error) {
	cfg := newConfig(name)
	for _, opt := range opts {
		opt(&cfg)
	}

	m := cfg.model
	if m.AIChannels <= 0 || len(m.Ranges) == 0 || m.ADCBits <= 0 || m.ADCBits > 32 {
		SetLastError(ErrInvalidModel)
		return nil, &Error{Op: "open", Code: ErrInvalidModel, Err: fmt.Errorf("invalid model %q", m.Name)}
	}

	cal := cfg.cal
	switch cal {
	case nil:
		var err error
		cal, err = calib.New(m.AIChannels, m.Ranges, m.ADCBits)
		if err != nil {
			SetLastError(ErrInvalidModel)
			return nil, &Error{Op: "open", Code: ErrInvalidModel, Err: err}
		}
	default:
		cal = cal.Clone()
	}
	if cal.NumChannels() < m.AIChannels || cal.NumGains() != len(m.Ranges) || cal.Bits() != m.ADCBits {
		SetLastError(ErrInvalidParameter)
		return nil, &Error{
			Op:   "open",
			Code: ErrInvalidParameter,
			Err:  fmt.Errorf("calibration table does not match model %q", m.Name),
		}
	}
	if cfg.frames <= 0 {
		cfg.frames = defaultFrameSize
	}

	sess := &Session{
		name:   name,
		hdl:    hdl,
		cfg:    cfg,
		msg:    cfg.msg,
		cal:    cal,
		cnt:    newCounters(m),
		id:     uuid.New(),
		frames: ring.New[frame.Frame](make(ring.Slice[frame.Frame], cfg.frames)),
	}
	sess.state.Store(uint32(Idle))
	return sess, nil
}

// Name returns the device name of the session.
func (s *Session) Name() string { return s.name }

// Handle returns the handle of the session.
func (s *Session) Handle() Handle { return s.hdl }

// Model returns the device model of the session.
func (s *Session) Model() Model { return s.cfg.model }

// RunID returns the identifier of the last started scan.
func (s *Session) RunID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// State returns the acquisition state of the session.
func (s *Session) State() State { return State(s.state.Load()) }

// LastError returns the code of the last failing call on the session.
func (s *Session) LastError() Code { return Code(s.lastErr.Load()) }

// ClearLastError resets the last error of the session.
func (s *Session) ClearLastError() { s.lastErr.Store(uint32(ErrSuccess)) }

func (s *Session) fail(op string, code Code, err error) error {
	s.lastErr.Store(uint32(code))
	SetLastError(code)
	return &Error{Op: op, Code: code, Err: err}
}

func (s *Session) event(now time.Time) Event {
	return Event{Session: s.hdl, Time: now}
}

func (s *Session) busy(op string) error {
	if st := s.State(); st.running() {
		return s.fail(op, ErrBusy, fmt.Errorf("scan is %v", st))
	}
	return nil
}

// SetScanConfig configures the next scan.
// The sample ring buffer is reallocated and its content discarded.
func (s *Session) SetScanConfig(cfg ScanConfig) error {
	const op = "set-scan-config"
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.busy(op); err != nil {
		return err
	}
	if code, err := cfg.validate(s.cfg.model, s.cal.NumGains()); err != nil {
		return s.fail(op, code, err)
	}

	// auto-run and unbounded scans keep producing after the first
	// capture: size the buffer for the run.
	n := s.cfg.bufsz
	switch {
	case n > 0:
	case cfg.TargetCount > 0 && !cfg.AutoRun:
		n = cfg.TargetCount
	default:
		n = defaultBufferSize
		if cfg.TargetCount > n {
			n = cfg.TargetCount
		}
	}
	if r := n % cfg.ChannelCount; r != 0 {
		n += cfg.ChannelCount - r
	}

	var store ring.Store[uint32] = make(ring.Slice[uint32], n)
	if s.cfg.shm != "" {
		shm, err := newSHMStore(s.cfg.shm, s.name, n)
		if err != nil {
			return s.fail(op, ErrMemoryAllocated, err)
		}
		if s.shm != nil {
			_ = s.shm.Close()
		}
		s.shm = shm
		store = shm
	}

	s.samples.Store(ring.New[uint32](store))
	s.scan.Store(&cfg)
	s.state.Store(uint32(Idle))
	s.msg.Debugf("scan config: nch=%d gain=%d mode=%v rate=%d target=%d buffer=%d",
		cfg.ChannelCount, cfg.Gain, cfg.TriggerMode, cfg.SampleRate, cfg.TargetCount, n,
	)
	return nil
}

// ScanConfig returns the current scan configuration.
func (s *Session) ScanConfig() (ScanConfig, error) {
	sc := s.scan.Load()
	if sc == nil {
		return ScanConfig{}, s.fail("scan-config", ErrInvalidParameter, fmt.Errorf("no scan configuration"))
	}
	return *sc, nil
}

// SetAnalogTrigger configures the analog trigger.
func (s *Session) SetAnalogTrigger(cfg AnalogTriggerConfig) error {
	const op = "set-analog-trigger"
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.busy(op); err != nil {
		return err
	}
	if code, err := cfg.validate(s.cfg.model); err != nil {
		return s.fail(op, code, err)
	}
	cfg.Channels = append([]int(nil), cfg.Channels...)
	cfg.High = append([]float32(nil), cfg.High...)
	cfg.Low = append([]float32(nil), cfg.Low...)
	s.analog = &cfg
	return nil
}

// AnalogTrigger returns the analog trigger configuration.
func (s *Session) AnalogTrigger() (AnalogTriggerConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.analog == nil {
		return AnalogTriggerConfig{}, s.fail("analog-trigger", ErrInvalidParameter, fmt.Errorf("no analog trigger configuration"))
	}
	return *s.analog, nil
}

// ClearAnalogTrigger removes the analog trigger configuration.
func (s *Session) ClearAnalogTrigger() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.busy("clear-analog-trigger"); err != nil {
		return err
	}
	s.analog = nil
	return nil
}

// SetDelayTrigger configures the delay trigger.
func (s *Session) SetDelayTrigger(cfg DelayTriggerConfig) error {
	const op = "set-delay-trigger"
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.busy(op); err != nil {
		return err
	}
	if code, err := cfg.validate(); err != nil {
		return s.fail(op, code, err)
	}
	s.delay = cfg
	return nil
}

// DelayTrigger returns the delay trigger configuration.
func (s *Session) DelayTrigger() DelayTriggerConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delay
}

// SetSyncIn configures the synchronous-input frame assembler.
// A configuration without channel selects the scalar acquisition path.
// The frame ring buffer content is discarded.
func (s *Session) SetSyncIn(cfg SyncInConfig) error {
	const op = "set-sync-in"
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.busy(op); err != nil {
		return err
	}
	nch := s.cfg.model.AIChannels
	if sc := s.scan.Load(); sc != nil {
		nch = sc.ChannelCount
	}
	if code, err := cfg.validate(s.cfg.model, nch); err != nil {
		return s.fail(op, code, err)
	}

	cfg.Channels = append(frame.Layout(nil), cfg.Channels...)
	s.syncin = cfg
	s.frames.Clear()
	if !cfg.enabled() {
		s.asm.Store(nil)
		return nil
	}
	s.asm.Store(newAssembler(cfg, s.frames, s.framesWritten, s.framesLost))
	s.msg.Debugf("sync-in layout: %v", cfg.Channels)
	return nil
}

// SyncIn returns the synchronous-input configuration.
func (s *Session) SyncIn() SyncInConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncin
}

// Start starts a scan with the current configuration.
// Both ring buffers are cleared.
func (s *Session) Start() error {
	const op = "start"
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.busy(op); err != nil {
		return err
	}
	psc := s.scan.Load()
	if psc == nil {
		return s.fail(op, ErrInvalidParameter, fmt.Errorf("no scan configuration"))
	}
	sc := *psc

	if sc.TriggerMode == TrigAI && s.analog == nil {
		return s.fail(op, ErrIOAnalogCount, fmt.Errorf("analog trigger mode without analog trigger configuration"))
	}
	if sc.TriggerMode.window() {
		if left, right := windows(sc, s.analog); left+right == 0 {
			return s.fail(op, ErrInvalidParameter, fmt.Errorf("empty capture window for trigger mode %v", sc.TriggerMode))
		}
	}
	if s.analog != nil {
		for _, ch := range s.analog.Channels {
			if ch >= sc.ChannelCount {
				return s.fail(op, ErrIOChannelOutOfRange, fmt.Errorf("trigger channel %d not scanned", ch))
			}
		}
	}
	if code, err := s.syncin.validate(s.cfg.model, sc.ChannelCount); err != nil {
		return s.fail(op, code, err)
	}

	s.feed.Lock()
	defer s.feed.Unlock()

	now := s.cfg.clock()
	r := &run{
		sc:    sc,
		start: now,
		last:  now,
	}
	conv := func(ch int, raw uint32) float32 {
		v, _ := s.cal.Float(ch, sc.Gain, raw)
		return v
	}

	var initial State
	switch asm := s.asm.Load(); asm {
	case nil:
		eng := newEngine(&s.state, &s.trig, sc, s.analog, s.delay, conv, cloneScan)
		r.step = func(scan []uint32, ext bool) {
			eng.step(scan, scan, ext, s.admit)
		}
		initial = eng.initial()
	default:
		asm.reset()
		tfmt := daqtime.Time2Word
		if s.syncin.Options&SyncTimeDay != 0 {
			tfmt = daqtime.Time1Word
		}
		hdr := frame.Header{Marker: s.syncin.Header, Session: uint32(s.hdl)}
		eng := newEngine(&s.state, &s.trig, sc, s.analog, s.delay, conv, func(f frame.Frame) frame.Frame { return f })
		push := func(f frame.Frame) {
			s.admitted.Add(uint64(sc.ChannelCount))
			asm.push(f)
		}
		r.step = func(scan []uint32, ext bool) {
			f := s.snapshot(asm.lay, hdr, sc.Gain, scan)
			f.Header.Time = tfmt(r.start.Add(tickTime(r.tick-1, sc.SampleRate)))
			eng.step(scan, f, ext, push)
		}
		initial = eng.initial()
	}

	if rb := s.samples.Load(); rb != nil {
		rb.Clear()
	}
	s.frames.Clear()
	s.read.Store(0)
	s.acquired.Store(0)
	s.admitted.Store(0)
	s.errored.Store(false)
	s.ext.Store(false)
	s.evt.reset()
	s.trig.update(func(st *TriggerStatus) { *st = TriggerStatus{} })
	s.id = uuid.New()
	s.run = r
	s.state.Store(uint32(initial))

	s.msg.Infof("start scan (run=%v, mode=%v, nch=%d, rate=%d, target=%d)",
		s.id, sc.TriggerMode, sc.ChannelCount, sc.SampleRate, sc.TargetCount,
	)
	return nil
}

// Stop stops the current scan.
// Samples fed afterwards are discarded; buffered data stays available.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		cur := s.state.Load()
		if !State(cur).running() {
			return nil
		}
		if s.state.CompareAndSwap(cur, uint32(Stopped)) {
			break
		}
	}
	s.msg.Infof("stop scan (run=%v, acquired=%d, admitted=%d)",
		s.id, s.acquired.Load(), s.admitted.Load(),
	)
	return nil
}

// ClearBuffer discards the content of the sample ring buffer and resets
// its overflow state.
func (s *Session) ClearBuffer() error {
	rb := s.samples.Load()
	if rb == nil {
		return s.fail("clear-buffer", ErrInvalidParameter, fmt.Errorf("no scan configuration"))
	}
	rb.Clear()
	return nil
}

// ClearFrameBuffer discards the content of the frame ring buffer and resets
// its overflow state.
func (s *Session) ClearFrameBuffer() {
	s.frames.Clear()
}

// Close stops the session and releases its resources.
func (s *Session) Close() error {
	_ = s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shm == nil {
		return nil
	}
	err := s.shm.Close()
	s.shm = nil
	if err != nil {
		return fmt.Errorf("daq: could not close shm store: %w", err)
	}
	return nil
}

// ExternalTrigger signals an external trigger edge, consumed by the next
// acquisition tick.
func (s *Session) ExternalTrigger() { s.ext.Store(true) }

func cloneScan(scan []uint32) []uint32 {
	return append([]uint32(nil), scan...)
}

func tickTime(tick uint64, rate int) time.Duration {
	return time.Duration(tick * uint64(time.Second) / uint64(rate))
}

// admit stores an admitted scan into the sample ring buffer.
func (s *Session) admit(scan []uint32) {
	s.admitted.Add(uint64(len(scan)))
	dropped, ovfl := s.samples.Load().Write(scan...)
	s.overflow(dropped, ovfl)
}

func (s *Session) framesWritten(dropped int, ovfl bool) {
	s.overflow(dropped, ovfl)
}

func (s *Session) framesLost(n uint64) {
	s.msg.Warnf("sync-in: dropped %d incomplete tick(s)", n)
	s.lastErr.Store(uint32(ErrFrameAssemblyLoss))
	SetLastError(ErrFrameAssemblyLoss)
}

func (s *Session) overflow(dropped int, ovfl bool) {
	if !ovfl {
		return
	}
	s.msg.Warnf("buffer overflow (dropped=%d)", dropped)
	s.lastErr.Store(uint32(ErrDeviceInternalBufferOverflow))
	SetLastError(ErrDeviceInternalBufferOverflow)
	evt := s.event(s.cfg.clock())
	evt.Count = uint64(dropped)
	s.evt.fire(EventBufferOverflow, evt)
}

// snapshot gathers the always-ready values of a frame at an acquisition
// tick. User fields are filled by the assembler.
func (s *Session) snapshot(lay frame.Layout, hdr frame.Header, gain int, scan []uint32) frame.Frame {
	vs := make([]uint32, len(lay))
	for i, ch := range lay {
		var v uint32
		switch ch.Type {
		case frame.AI:
			f, _ := s.cal.Float(ch.Index, gain, scan[ch.Index])
			v = math.Float32bits(f)
		case frame.AIHex:
			v = scan[ch.Index]
		case frame.DIBits:
			v = s.di.Load()
		case frame.DOBits:
			v = s.do.Load()
		case frame.DICount16, frame.DICount32:
			v = s.cnt.value(DICounter, ch.Index)
		case frame.Count16, frame.Count32:
			v = s.cnt.value(Counter, ch.Index)
		}
		vs[i] = v & ch.Type.Mask()
	}
	return frame.Frame{Header: hdr, Values: vs}
}
