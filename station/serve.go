// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package station

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-lpc/hsdaq/daq"
	"golang.org/x/sync/errgroup"
)

// Serve runs the station without run-control: the HTTP API is served on l
// and each scan started through it is acquired, until ctx is canceled.
func (srv *Server) Serve(ctx context.Context, l net.Listener) error {
	grp, ctx := errgroup.WithContext(ctx)

	hsrv := &http.Server{
		Handler:           srv.api,
		ReadHeaderTimeout: 5 * time.Second,
	}
	grp.Go(func() error {
		err := hsrv.Serve(l)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("station: could not serve HTTP API: %w", err)
		}
		return nil
	})
	grp.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.sess.Stop()
		return hsrv.Shutdown(sctx)
	})

	if srv.mail != nil {
		grp.Go(func() error {
			return srv.mail.Run(ctx)
		})
	}

	grp.Go(func() error {
		return srv.loop(ctx)
	})

	return grp.Wait()
}

// loop waits for scans to be started and acquires them.
func (srv *Server) loop(ctx context.Context) error {
	poll := srv.cfg.Acquire.Poll
	tck := time.NewTicker(poll)
	defer tck.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tck.C:
		}
		switch srv.sess.State() {
		case daq.Armed, daq.Capturing, daq.Paused:
		default:
			continue
		}

		srv.msg.Infof("acquiring run %v...", srv.sess.RunID())
		err := srv.acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// the error was reported to the session and its handlers.
			srv.msg.Errorf("could not acquire run %v: %+v", srv.sess.RunID(), err)
			_ = srv.sess.Stop()
			continue
		}
		srv.msg.Infof("acquiring run %v... [done]", srv.sess.RunID())
	}
}
