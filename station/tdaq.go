// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package station

import (
	"bytes"
	"fmt"

	"github.com/go-daq/tdaq"
	"github.com/go-lpc/hsdaq/config"
)

// OnConfig applies the station configuration to the session.
// A non-empty request body names a configuration file to load instead.
func (srv *Server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")
	cfg := srv.cfg
	if len(req.Body) > 0 {
		dec := tdaq.NewDecoder(bytes.NewReader(req.Body))
		fname := dec.ReadStr()
		if err := dec.Err(); err != nil {
			return fmt.Errorf("could not decode /config request: %w", err)
		}
		var err error
		cfg, err = config.Load(fname)
		if err != nil {
			ctx.Msg.Errorf("could not load configuration %q: %+v", fname, err)
			return fmt.Errorf("could not load configuration %q: %w", fname, err)
		}
	}

	err := srv.configure(cfg)
	if err != nil {
		ctx.Msg.Errorf("could not configure session: %+v", err)
		return fmt.Errorf("could not configure session: %w", err)
	}
	srv.cfg = cfg
	return nil
}

func (srv *Server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	srv.sess.ClearLastError()
	return nil
}

// OnReset stops the scan and discards buffered data and alerts.
func (srv *Server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	err := srv.sess.Stop()
	if err != nil {
		return fmt.Errorf("could not stop scan: %w", err)
	}
	_ = srv.sess.ClearBuffer()
	srv.sess.ClearFrameBuffer()
	srv.sess.ClearLastError()
	if srv.mail != nil {
		srv.mail.Reset()
	}
	for {
		select {
		case <-srv.out:
		default:
			return nil
		}
	}
}

func (srv *Server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	err := srv.sess.Start()
	if err != nil {
		ctx.Msg.Errorf("could not start scan: %+v", err)
		return fmt.Errorf("could not start scan: %w", err)
	}
	return nil
}

func (srv *Server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	st := srv.sess.SamplingStatus()
	ctx.Msg.Debugf("received /stop command... -> acquired=%d, read=%d", st.TotalAcquired, st.TotalRead)
	return srv.sess.Stop()
}

func (srv *Server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	return srv.sess.Stop()
}

// Samples publishes the drained samples on a run-control output.
func (srv *Server) Samples(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case data := <-srv.out:
		dst.Body = data
	}
	return nil
}

// RunLoop acquires the current scan until the run is stopped.
func (srv *Server) RunLoop(ctx tdaq.Context) error {
	err := srv.acquire(ctx.Ctx)
	if err != nil {
		ctx.Msg.Errorf("could not acquire samples: %+v", err)
		return err
	}
	return nil
}

// publish queues drained samples for the run-control output.
// Samples are dropped when no consumer keeps up.
func (srv *Server) publish(first uint64, vs []float32) error {
	buf := new(bytes.Buffer)
	enc := tdaq.NewEncoder(buf)
	enc.WriteU64(first)
	enc.WriteU32(uint32(len(vs)))
	for _, v := range vs {
		enc.WriteF32(v)
	}
	if err := enc.Err(); err != nil {
		return fmt.Errorf("station: could not encode samples: %w", err)
	}
	select {
	case srv.out <- buf.Bytes():
	default:
	}
	return nil
}

// DecodeSamples decodes the body of a frame published by Samples.
func DecodeSamples(body []byte) (first uint64, vs []float32, err error) {
	dec := tdaq.NewDecoder(bytes.NewReader(body))
	first = dec.ReadU64()
	n := int(dec.ReadU32())
	if err := dec.Err(); err != nil {
		return 0, nil, fmt.Errorf("station: could not decode samples header: %w", err)
	}
	if n > len(body)/4 {
		return 0, nil, fmt.Errorf("station: invalid number of samples (%d)", n)
	}
	vs = make([]float32, 0, n)
	for i := 0; i < n; i++ {
		vs = append(vs, dec.ReadF32())
	}
	if err := dec.Err(); err != nil {
		return 0, nil, fmt.Errorf("station: could not decode samples: %w", err)
	}
	return first, vs, nil
}
