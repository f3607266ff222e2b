// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command hsdaq-rc starts a TDAQ server driving an acquisition station.
//
// The station configuration file is the first argument.
// The HTTP API of the station is served on the configured http.addr, for
// monitoring.
//
// ex:
//
//	$> hsdaq-rc -id hsdaq-01 -rc-addr :44000 ./hsdaq.yaml
package main // import "github.com/go-lpc/hsdaq/cmd/hsdaq-rc"

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	tlog "github.com/go-daq/tdaq/log"
	"github.com/go-lpc/hsdaq/config"
	"github.com/go-lpc/hsdaq/station"
)

func main() {
	cmd := flags.New()

	fname := "hsdaq.yaml"
	if len(cmd.Args) > 0 {
		fname = cmd.Args[0]
	}

	cfg, err := config.LoadOrDefault(fname)
	if err != nil {
		log.Panicf("could not load configuration: %+v", err)
	}

	msg := tlog.NewMsgStream(cfg.Device.Name, tlog.LvlInfo, os.Stdout)
	dev, err := station.New(cfg, msg)
	if err != nil {
		log.Panicf("could not create station: %+v", err)
	}
	defer dev.Close()

	web := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           dev.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		err := web.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			msg.Errorf("could not serve HTTP API: %+v", err)
		}
	}()
	defer web.Close()

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/samples", dev.Samples)

	srv.RunHandle(dev.RunLoop)

	err = srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}
