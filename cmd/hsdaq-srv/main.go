// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command hsdaq-srv runs a standalone acquisition station, controlled
// through its HTTP API.
//
// Usage: hsdaq-srv [OPTIONS]
//
// ex:
//
//	$> hsdaq-srv -cfg ./hsdaq.yaml
//	$> HSDAQ_SCAN_RATE=2000 hsdaq-srv -addr :8080 -access
package main // import "github.com/go-lpc/hsdaq/cmd/hsdaq-srv"

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"

	tlog "github.com/go-daq/tdaq/log"
	"github.com/go-lpc/hsdaq/config"
	"github.com/go-lpc/hsdaq/station"
)

func main() {
	log.SetPrefix("hsdaq-srv: ")
	log.SetFlags(0)

	var (
		fname  = flag.String("cfg", "hsdaq.yaml", "path to the station configuration file")
		addr   = flag.String("addr", "", "[ip]:port to listen on (overrides http.addr)")
		access = flag.Bool("access", false, "enable HTTP access log")
		lvl    = flag.String("lvl", "INFO", "message level (DEBUG|INFO|WARN|ERROR)")
	)

	flag.Parse()

	err := run(*fname, *addr, *access, *lvl)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(fname, addr string, access bool, lvl string) error {
	cfg, err := config.LoadOrDefault(fname)
	if err != nil {
		return fmt.Errorf("could not load configuration: %w", err)
	}
	if addr != "" {
		cfg.HTTP.Addr = addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	l, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("could not listen on %q: %w", cfg.HTTP.Addr, err)
	}
	defer l.Close()

	return serve(ctx, cfg, l, access, lvl, os.Stdout)
}

func serve(ctx context.Context, cfg config.Config, l net.Listener, access bool, lvl string, w io.Writer) error {
	msg := tlog.NewMsgStream(cfg.Device.Name, levelFrom(lvl), w)

	var opts []station.Option
	if access {
		opts = append(opts, station.WithAccessLog(w))
	}

	srv, err := station.New(cfg, msg, opts...)
	if err != nil {
		return fmt.Errorf("could not create station: %w", err)
	}
	defer srv.Close()

	msg.Infof("serving %s on %q...", cfg.Device.Name, l.Addr().String())
	err = srv.Serve(ctx, l)
	if err != nil {
		return fmt.Errorf("could not serve station: %w", err)
	}

	return srv.Close()
}

func levelFrom(s string) tlog.Level {
	switch s {
	case "DEBUG", "debug":
		return tlog.LvlDebug
	case "WARN", "warn", "WARNING", "warning":
		return tlog.LvlWarning
	case "ERROR", "error":
		return tlog.LvlError
	default:
		return tlog.LvlInfo
	}
}
