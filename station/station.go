// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package station runs an acquisition station: a session driven by a
// transport source, whose samples are histogrammed, uploaded to a database
// and published to a run-control system, and whose frames are written to
// disk.
package station // import "github.com/go-lpc/hsdaq/station"

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/hsdaq/alert"
	"github.com/go-lpc/hsdaq/calib"
	"github.com/go-lpc/hsdaq/config"
	"github.com/go-lpc/hsdaq/daq"
	"github.com/go-lpc/hsdaq/frame"
	"github.com/go-lpc/hsdaq/httpapi"
	"github.com/go-lpc/hsdaq/internal/sim"
	"github.com/go-lpc/hsdaq/quicklook"
	"github.com/go-lpc/hsdaq/sqlup"
	"golang.org/x/sync/errgroup"
)

// Server is an acquisition station.
type Server struct {
	cfg config.Config
	msg log.MsgStream

	hdl  daq.Handle
	sess *daq.Session
	api  *httpapi.Server
	mail *alert.Mailer
	db   *sqlup.DB

	newSource func(sc daq.ScanConfig) (daq.Source, error)

	mu   sync.Mutex
	ql   *quicklook.Monitor
	runs int // completed acquisitions

	out chan []byte // encoded samples for the run-control output
}

type options struct {
	access  io.Writer
	source  func(cal *calib.Table, sc daq.ScanConfig) (daq.Source, error)
	mailopt []alert.Option
}

// Option configures a Server.
type Option func(*options)

// WithAccessLog sets the writer of the HTTP access log.
func WithAccessLog(w io.Writer) Option {
	return func(o *options) {
		o.access = w
	}
}

// WithSource sets the factory of the transport source used for each scan.
func WithSource(f func(cal *calib.Table, sc daq.ScanConfig) (daq.Source, error)) Option {
	return func(o *options) {
		o.source = f
	}
}

// WithMailOptions sets the options of the alert mailer.
func WithMailOptions(opts ...alert.Option) Option {
	return func(o *options) {
		o.mailopt = append(o.mailopt, opts...)
	}
}

// New creates a station from its configuration.
func New(cfg config.Config, msg log.MsgStream, opts ...Option) (*Server, error) {
	o := options{
		source: func(cal *calib.Table, sc daq.ScanConfig) (daq.Source, error) {
			return sim.NewSource(cal, sc)
		},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.Device.Addr != "sim" {
		return nil, fmt.Errorf("station: unsupported transport address %q", cfg.Device.Addr)
	}

	dopts, err := cfg.Options()
	if err != nil {
		return nil, fmt.Errorf("station: could not build session options: %w", err)
	}
	dopts = append(dopts, daq.WithLogger(msg))

	if cfg.Calib.DB != "" {
		tbl, err := loadCalib(cfg.Calib.DB, cfg.Calib.Serial)
		if err != nil {
			return nil, err
		}
		dopts = append(dopts, daq.WithCalibration(tbl))
	}

	hdl, err := daq.Open(cfg.Device.Name, dopts...)
	if err != nil {
		return nil, fmt.Errorf("station: could not open session: %w", err)
	}
	sess, err := daq.Get(hdl)
	if err != nil {
		return nil, fmt.Errorf("station: could not retrieve session: %w", err)
	}

	srv := &Server{
		cfg:  cfg,
		msg:  msg,
		hdl:  hdl,
		sess: sess,
		api:  httpapi.NewServer(sess, msg, o.access),
		out:  make(chan []byte, 1024),
	}
	srv.newSource = func(sc daq.ScanConfig) (daq.Source, error) {
		return o.source(sess.Calibration(), sc)
	}

	defer func() {
		if err != nil {
			_ = srv.Close()
		}
	}()

	err = srv.configure(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Mail.Enabled {
		srv.mail, err = alert.New(cfg.Mail.Server, append([]alert.Option{alert.WithLogger(msg)}, o.mailopt...)...)
		if err != nil {
			return nil, fmt.Errorf("station: could not create mailer: %w", err)
		}
		err = srv.mail.Register(sess, cfg.Acquire.Timeout)
		if err != nil {
			return nil, fmt.Errorf("station: could not register mailer: %w", err)
		}
	}

	if cfg.SQL.Enabled {
		srv.db, err = sqlup.Open(cfg.SQL.Server.DSN())
		if err != nil {
			return nil, fmt.Errorf("station: could not open database: %w", err)
		}
	}

	return srv, nil
}

func loadCalib(fname, serial string) (*calib.Table, error) {
	st, err := calib.OpenStore(fname)
	if err != nil {
		return nil, fmt.Errorf("station: could not open calibration store: %w", err)
	}
	defer st.Close()

	tbl, err := st.Load(serial)
	if err != nil {
		return nil, fmt.Errorf("station: could not load calibration of %q: %w", serial, err)
	}
	return tbl, nil
}

// configure applies the scan, trigger and sync-in configuration to the
// session.
func (srv *Server) configure(cfg config.Config) error {
	sc, err := cfg.ScanConfig()
	if err != nil {
		return fmt.Errorf("station: %w", err)
	}
	err = srv.sess.SetScanConfig(sc)
	if err != nil {
		return fmt.Errorf("station: could not set scan configuration: %w", err)
	}

	ac, ok, err := cfg.AnalogConfig()
	if err != nil {
		return fmt.Errorf("station: %w", err)
	}
	switch {
	case ok:
		err = srv.sess.SetAnalogTrigger(ac)
	default:
		err = srv.sess.ClearAnalogTrigger()
	}
	if err != nil {
		return fmt.Errorf("station: could not set analog trigger: %w", err)
	}

	err = srv.sess.SetDelayTrigger(cfg.DelayConfig())
	if err != nil {
		return fmt.Errorf("station: could not set delay trigger: %w", err)
	}

	si, err := cfg.SyncInConfig()
	if err != nil {
		return fmt.Errorf("station: %w", err)
	}
	err = srv.sess.SetSyncIn(si)
	if err != nil {
		return fmt.Errorf("station: could not set sync-in: %w", err)
	}

	return srv.resetMonitor(sc)
}

func (srv *Server) resetMonitor(sc daq.ScanConfig) error {
	rng := srv.sess.Calibration().Range(sc.Gain)
	ql, err := quicklook.New(sc.ChannelCount, srv.cfg.QuickLook.Bins, -rng, rng)
	if err != nil {
		return fmt.Errorf("station: could not create quicklook monitor: %w", err)
	}
	srv.mu.Lock()
	srv.ql = ql
	srv.mu.Unlock()
	return nil
}

// Session returns the session of the station.
func (srv *Server) Session() *daq.Session { return srv.sess }

// Handler returns the HTTP API of the station.
func (srv *Server) Handler() http.Handler { return srv.api }

// Monitor returns the quicklook monitor of the current scan.
func (srv *Server) Monitor() *quicklook.Monitor {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.ql
}

// Runs returns the number of completed acquisitions.
func (srv *Server) Runs() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.runs
}

// Close releases the session and the database.
func (srv *Server) Close() error {
	var err error
	if srv.db != nil {
		if e := srv.db.Close(); e != nil {
			err = fmt.Errorf("station: could not close database: %w", e)
		}
		srv.db = nil
	}
	if srv.sess != nil {
		if e := daq.Release(srv.hdl); e != nil && err == nil {
			err = fmt.Errorf("station: could not release session: %w", e)
		}
		srv.sess = nil
	}
	return err
}

// acquire runs the current scan until it stops or ctx is canceled.
func (srv *Server) acquire(ctx context.Context) error {
	sc, err := srv.sess.ScanConfig()
	if err != nil {
		return err
	}
	src, err := srv.newSource(sc)
	if err != nil {
		return fmt.Errorf("station: could not create source: %w", err)
	}
	err = srv.resetMonitor(sc)
	if err != nil {
		return err
	}
	ql := srv.Monitor()

	defer func() {
		srv.mu.Lock()
		srv.runs++
		srv.mu.Unlock()
	}()

	if lay := srv.sess.SyncInLayout(); lay != nil {
		return srv.acquireFrames(ctx, src, lay)
	}

	sinks := []daq.Sink{ql.Fill, srv.publish}
	if srv.db != nil {
		up, err := sqlup.NewUploader(ctx, srv.db, srv.cfg.SQL.Table, sc.ChannelCount, sc.SampleRate,
			srv.sess.RunID(), time.Now(),
			sqlup.WithLogger(srv.msg),
			sqlup.WithBatch(srv.cfg.SQL.Batch),
			sqlup.WithInterval(srv.cfg.SQL.Interval),
			sqlup.WithLimit(50*srv.cfg.SQL.Batch),
		)
		if err != nil {
			return fmt.Errorf("station: could not create uploader: %w", err)
		}
		sinks = append(sinks, up.Write)

		upctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			err := up.Run(upctx)
			if err != nil {
				srv.msg.Errorf("could not upload samples: %+v", err)
			}
		}()
		defer func() {
			cancel()
			<-done
			sent, pending, dropped := up.Stats()
			srv.msg.Infof("uploaded %d rows (pending=%d, dropped=%d)", sent, pending, dropped)
		}()
	}

	return srv.sess.Acquire(ctx, src, srv.cfg.Acquire.Poll, fanout(sinks...))
}

func fanout(sinks ...daq.Sink) daq.Sink {
	return func(first uint64, vs []float32) error {
		for _, sink := range sinks {
			err := sink(first, vs)
			if err != nil {
				return err
			}
		}
		return nil
	}
}

// acquireFrames runs a sync-in scan, draining its frames to the frame file
// of the run.
func (srv *Server) acquireFrames(ctx context.Context, src daq.Source, lay frame.Layout) error {
	var enc *frame.Encoder
	if dir := srv.cfg.Acquire.Dir; dir != "" {
		fname := filepath.Join(dir, fmt.Sprintf("hsdaq_%03d.frames", srv.Runs()))
		f, err := os.Create(fname)
		if err != nil {
			return fmt.Errorf("station: could not create frame file: %w", err)
		}
		defer f.Close()
		enc = frame.NewEncoder(f)
		srv.msg.Infof("writing frames to %q", fname)
	}
	ql := srv.Monitor()

	grp, ctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	grp.Go(func() error {
		defer close(done)
		return srv.sess.Run(ctx, src)
	})
	grp.Go(func() error {
		buf := make([]frame.Frame, 256)
		drain := func() error {
			for {
				n, err := srv.sess.ReadFrames(buf)
				if err != nil {
					return err
				}
				if n == 0 {
					return nil
				}
				for _, f := range buf[:n] {
					if enc != nil {
						err = enc.Encode(lay, f)
						if err != nil {
							return fmt.Errorf("station: could not write frame: %w", err)
						}
					}
					for i, ch := range lay {
						if ch.Type != frame.AI {
							continue
						}
						_ = ql.FillChannel(ch.Index, math.Float32frombits(f.Values[i]))
					}
				}
			}
		}

		tck := time.NewTicker(srv.cfg.Acquire.Poll)
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
