// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqlup

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/go-daq/tdaq/log"
	"github.com/google/uuid"
)

// Uploader batches the samples of a run and uploads them to a table.
//
// Write is meant to be used as the sink of daq.Session.Acquire; Run
// uploads batches in the background.
// Pending rows beyond the configured limit are dropped, oldest first, so a
// slow database never blocks acquisition.
type Uploader struct {
	db    *DB
	msg   log.MsgStream
	table string
	nch   int
	run   uuid.UUID
	start time.Time
	rate  int

	batch    int
	interval time.Duration
	limit    int
	retry    time.Duration

	mu      sync.Mutex
	partial []float32
	next    uint64 // index of the next expected sample
	pending []Row
	dropped uint64
	sent    uint64

	kick chan struct{}
}

type config struct {
	msg      log.MsgStream
	batch    int
	interval time.Duration
	limit    int
	retry    time.Duration
}

// Option configures an Uploader.
type Option func(*config)

// WithLogger sets the message stream of the uploader.
func WithLogger(msg log.MsgStream) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithBatch sets the number of rows triggering an upload.
func WithBatch(n int) Option {
	return func(cfg *config) {
		cfg.batch = n
	}
}

// WithInterval sets the maximum time rows wait before being uploaded.
func WithInterval(d time.Duration) Option {
	return func(cfg *config) {
		cfg.interval = d
	}
}

// WithLimit sets the maximum number of rows waiting for upload.
func WithLimit(n int) Option {
	return func(cfg *config) {
		cfg.limit = n
	}
}

// WithRetry sets the maximum time spent retrying a failing upload.
func WithRetry(d time.Duration) Option {
	return func(cfg *config) {
		cfg.retry = d
	}
}

// NewUploader returns an uploader of nch-channel scans acquired at rate
// scans per second into table, creating the table if needed.
func NewUploader(ctx context.Context, db *DB, table string, nch, rate int, run uuid.UUID, start time.Time, opts ...Option) (*Uploader, error) {
	cfg := config{
		msg:      log.NewMsgStream("sqlup", log.LvlInfo, os.Stdout),
		batch:    1000,
		interval: 5 * time.Second,
		limit:    50000,
		retry:    10 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	switch {
	case rate <= 0:
		return nil, fmt.Errorf("sqlup: invalid scan rate (%d)", rate)
	case cfg.batch <= 0:
		return nil, fmt.Errorf("sqlup: invalid batch size (%d)", cfg.batch)
	case cfg.limit < cfg.batch:
		return nil, fmt.Errorf("sqlup: pending limit (%d) smaller than batch size (%d)", cfg.limit, cfg.batch)
	case cfg.interval <= 0:
		return nil, fmt.Errorf("sqlup: invalid upload interval (%v)", cfg.interval)
	}

	err := db.CreateTable(ctx, table, nch)
	if err != nil {
		return nil, err
	}

	return &Uploader{
		db:       db,
		msg:      cfg.msg,
		table:    table,
		nch:      nch,
		run:      run,
		start:    start,
		rate:     rate,
		batch:    cfg.batch,
		interval: cfg.interval,
		limit:    cfg.limit,
		retry:    cfg.retry,
		kick:     make(chan struct{}, 1),
	}, nil
}

// Write queues the samples vs, first being the index of vs[0] since the
// start of the run. Samples are grouped into scans; a gap in the sample
// indices discards the incomplete scan preceding it.
func (up *Uploader) Write(first uint64, vs []float32) error {
	up.mu.Lock()
	defer up.mu.Unlock()

	if first != up.next {
		up.partial = up.partial[:0]
		if skip := int(first % uint64(up.nch)); skip != 0 {
			drop := up.nch - skip
			if drop >= len(vs) {
				up.next = first + uint64(len(vs))
				return nil
			}
			vs = vs[drop:]
			first += uint64(drop)
		}
	}
	up.next = first + uint64(len(vs))

	buf := append(up.partial, vs...)
	seq := (first - uint64(len(up.partial))) / uint64(up.nch)
	n := len(buf) / up.nch
	for i := 0; i < n; i++ {
		up.pending = append(up.pending, Row{
			Run:    up.run,
			Seq:    seq + uint64(i),
			Time:   up.start.Add(time.Duration(seq+uint64(i)) * time.Second / time.Duration(up.rate)),
			Values: append([]float32(nil), buf[i*up.nch:(i+1)*up.nch]...),
		})
	}
	up.partial = append(up.partial[:0], buf[n*up.nch:]...)

	if over := len(up.pending) - up.limit; over > 0 {
		up.dropped += uint64(over)
		up.pending = append(up.pending[:0], up.pending[over:]...)
	}
	if len(up.pending) >= up.batch {
		select {
		case up.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// Run uploads batches until ctx is canceled, then flushes the remaining
// rows.
func (up *Uploader) Run(ctx context.Context) error {
	tck := time.NewTicker(up.interval)
	defer tck.Stop()

	for {
		select {
		case <-ctx.Done():
			ctx, cancel := context.WithTimeout(context.Background(), up.retry+5*time.Second)
			defer cancel()
			return up.Flush(ctx)
		case <-tck.C:
		case <-up.kick:
		}
		err := up.Flush(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			up.msg.Errorf("could not upload batch: %+v", err)
		}
	}
}

// Flush uploads all pending rows, batch by batch.
// Rows of a batch that could not be uploaded are put back in the queue.
func (up *Uploader) Flush(ctx context.Context) error {
	for {
		up.mu.Lock()
		n := len(up.pending)
		if n > up.batch {
			n = up.batch
		}
		rows := append([]Row(nil), up.pending[:n]...)
		up.mu.Unlock()

		if len(rows) == 0 {
			return nil
		}

		err := up.insert(ctx, rows)
		if err != nil {
			return fmt.Errorf("sqlup: could not flush rows: %w", err)
		}

		up.mu.Lock()
		// rows may have been dropped by Write while uploading.
		i := 0
		for i < len(up.pending) && up.pending[i].Seq <= rows[len(rows)-1].Seq {
			i++
		}
		up.pending = append(up.pending[:0], up.pending[i:]...)
		up.sent += uint64(len(rows))
		up.mu.Unlock()
	}
}

func (up *Uploader) insert(ctx context.Context, rows []Row) error {
	bo := backoff.WithContext(&backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.5,
		Multiplier:          2,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      up.retry,
		Clock:               backoff.SystemClock,
	}, ctx)

	return backoff.RetryNotify(func() error {
		return up.db.Insert(ctx, up.table, rows)
	}, bo, func(err error, d time.Duration) {
		up.msg.Warnf("upload of %d rows failed, retrying in %v: %+v", len(rows), d, err)
	})
}

// Stats returns the number of uploaded, pending and dropped rows.
func (up *Uploader) Stats() (sent, pending, dropped uint64) {
	up.mu.Lock()
	defer up.mu.Unlock()
	return up.sent, uint64(len(up.pending)), up.dropped
}
