// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
)

// Block is a chunk of acquisition data delivered by the transport.
type Block struct {
	Samples  []uint32 // raw interleaved analog input words
	Triggers []int    // scans of the block carrying an external trigger edge
	DI       uint32   // digital input snapshot
	HasDI    bool     // whether DI holds a fresh snapshot
}

// Source is the transport layer delivering acquisition data.
type Source interface {
	// Read fills blk with the data received since the last call.
	// Read returns an empty block when no data is pending and an error
	// wrapping context.DeadlineExceeded when the device did not answer
	// before ctx expired.
	Read(ctx context.Context, blk *Block) error
}

// Feed hands a block of raw samples to the session.
//
// Samples are grouped into scans of ChannelCount samples; a partial scan
// is kept until the next block completes it.
// Scan indices in blk.Triggers count the scans completed by this block,
// the one completed by carried over samples being the first.
// Feed must be called from a single producer.
func (s *Session) Feed(blk Block) error {
	s.feed.Lock()
	defer s.feed.Unlock()

	if blk.HasDI {
		s.di.Store(blk.DI)
	}
	r := s.run
	if r == nil {
		return s.fail("feed", ErrBusy, fmt.Errorf("scan not started"))
	}
	switch State(s.state.Load()) {
	case Idle:
		// scan reconfigured since the last run.
		return s.fail("feed", ErrBusy, fmt.Errorf("scan not started"))
	case Stopped:
		return nil
	}

	now := s.cfg.clock()
	if len(blk.Samples) == 0 {
		s.evt.idle(now.Sub(r.last), s.event(now))
		return nil
	}
	r.last = now
	s.evt.sampled()
	s.acquired.Add(uint64(len(blk.Samples)))

	nch := r.sc.ChannelCount
	buf := append(r.partial, blk.Samples...)
	n := len(buf) / nch
	for i := 0; i < n; i++ {
		if State(s.state.Load()) == Stopped {
			break
		}
		ext := s.ext.Swap(false) || hasTrigger(blk.Triggers, i)
		s.tick(r, buf[i*nch:(i+1)*nch], ext)
	}
	r.partial = append(r.partial[:0], buf[n*nch:]...)

	s.checkFill(now)
	return nil
}

func hasTrigger(idx []int, i int) bool {
	for _, v := range idx {
		if v == i {
			return true
		}
	}
	return false
}

// tick processes one acquisition tick.
func (s *Session) tick(r *run, scan []uint32, ext bool) {
	r.tick++
	s.cnt.latch()

	s.last.Lock()
	s.last.scan = append(s.last.scan[:0], scan...)
	s.last.Unlock()

	r.step(scan, ext)
}

func (s *Session) checkFill(now time.Time) {
	var avail int
	switch asm := s.asm.Load(); asm {
	case nil:
		if rb := s.samples.Load(); rb != nil {
			avail = rb.Status().Avail
		}
	default:
		avail = s.frames.Status().Avail
	}
	evt := s.event(now)
	s.evt.fill(uint64(avail), evt)
	s.evt.admitted(s.admitted.Load(), evt)
}

// Run drives the session from a transport source until the scan stops or
// ctx is canceled.
// Transport failures are reported through the Error event and returned;
// they are not retried.
func (s *Session) Run(ctx context.Context, src Source) error {
	const op = "run"
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		switch s.State() {
		case Idle:
			return s.fail(op, ErrBusy, fmt.Errorf("scan not started"))
		case Stopped:
			return nil
		}

		var blk Block
		rctx, cancel := context.WithTimeout(ctx, s.cfg.timeout)
		err := src.Read(rctx, &blk)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			code := ErrDeviceResponse
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
				code = ErrDeviceReadTimeout
			}
			s.errored.Store(true)
			s.msg.Errorf("could not read from device: %+v", err)
			err = s.fail(op, code, err)
			evt := s.event(s.cfg.clock())
			evt.Err = err
			s.evt.fire(EventError, evt)
			return err
		}

		err = s.Feed(blk)
		if err != nil {
			return err
		}
	}
}

// Sink consumes calibrated samples drained from a session.
// first is the index of the first sample since the start of the scan.
type Sink func(first uint64, vs []float32) error

// Acquire runs the producer loop and a consumer draining calibrated
// samples into sink every poll period, until the scan stops and the buffer
// is drained, or ctx is canceled.
func (s *Session) Acquire(ctx context.Context, src Source, poll time.Duration, sink Sink) error {
	sc, err := s.ScanConfig()
	if err != nil {
		return err
	}

	grp, ctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	grp.Go(func() error {
		defer close(done)
		return s.Run(ctx, src)
	})
	grp.Go(func() error {
		buf := make([]float32, 1024*sc.ChannelCount)
		drain := func() error {
			for {
				n, seq, err := s.ReadBufferSeq(buf)
				if err != nil {
					return err
				}
				if n == 0 {
					return nil
				}
				err = sink(seq, buf[:n])
				if err != nil {
					return fmt.Errorf("daq: could not consume samples: %w", err)
				}
			}
		}

		tck := time.NewTicker(poll)
		defer tck.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-done:
				return drain()
			case <-tck.C:
				err := drain()
				if err != nil {
					return err
				}
			}
		}
	})
	return grp.Wait()
}
