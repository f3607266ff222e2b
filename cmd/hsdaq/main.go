// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command hsdaq controls an acquisition station through its HTTP API.
//
// ex:
//
//	$> hsdaq --addr daq-01:8080 status
//	$> hsdaq scan --channels 4 --rate 1000 --target 4000 --trigger post
//	$> hsdaq start --wait
//	$> hsdaq data -n 400
//	$> hsdaq errmsg 0x18001
package main // import "github.com/go-lpc/hsdaq/cmd/hsdaq"

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/go-lpc/hsdaq/httpapi"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

func main() {
	log.SetPrefix("hsdaq: ")
	log.SetFlags(0)

	err := newRootCommand(os.Stdout).ExecuteContext(context.Background())
	if err != nil {
		os.Exit(1)
	}
}

type options struct {
	addr    string
	timeout time.Duration
}

func (o *options) client() *httpapi.Client {
	return httpapi.NewClient(o.addr, o.timeout)
}

func newRootCommand(out io.Writer) *cobra.Command {
	o := &options{}
	cmd := &cobra.Command{
		Use:           "hsdaq",
		Short:         "Tool to control HSDAQ acquisition stations",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.SetOut(out)
	cmd.PersistentFlags().StringVar(&o.addr, "addr", envOr("HSDAQ_ADDR", "localhost:8080"), "[ip]:port of the station HTTP API")
	cmd.PersistentFlags().DurationVar(&o.timeout, "timeout", 5*time.Second, "timeout of HTTP requests")

	cmd.AddCommand(
		newStatusCommand(o),
		newScanCommand(o),
		newStartCommand(o),
		newStopCommand(o),
		newClearCommand(o),
		newDataCommand(o),
		newCounterCommand(o),
		newErrMsgCommand(o),
		newConfigCommand(),
		newCalibCommand(),
		newVersionCommand(),
	)
	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// printYAML prints v, encoded through its JSON form.
func printYAML(w io.Writer, v interface{}) error {
	raw, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("could not encode reply: %w", err)
	}
	_, err = w.Write(raw)
	return err
}
