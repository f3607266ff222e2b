// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-lpc/hsdaq"
	"github.com/go-lpc/hsdaq/calib"
	"github.com/go-lpc/hsdaq/config"
	"github.com/go-lpc/hsdaq/daq"
	"github.com/spf13/cobra"
	"github.com/theckman/yacspin"
	"gopkg.in/yaml.v3"
)

func newStatusCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the status of the station",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := o.client().Status(cmd.Context())
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), st)
		},
	}
}

func newScanCommand(o *options) *cobra.Command {
	var (
		nch      int
		gain     int
		rate     int
		target   int
		trigger  string
		transfer string
		autorun  bool
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Print or modify the scan configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				ctx = cmd.Context()
				cli = o.client()
			)
			flags := cmd.Flags()
			set := false
			for _, name := range []string{"channels", "gain", "rate", "target", "trigger", "transfer", "autorun"} {
				set = set || flags.Changed(name)
			}
			if !set {
				sc, err := cli.Scan(ctx)
				if err != nil {
					return err
				}
				return printYAML(cmd.OutOrStdout(), sc)
			}

			sc, err := cli.Scan(ctx)
			if err != nil && daq.CodeOf(err) != daq.ErrInvalidParameter {
				return err
			}
			if flags.Changed("channels") {
				sc.ChannelCount = nch
			}
			if flags.Changed("gain") {
				sc.Gain = gain
			}
			if flags.Changed("rate") {
				sc.SampleRate = rate
			}
			if flags.Changed("target") {
				sc.TargetCount = target
			}
			if flags.Changed("trigger") {
				sc.TriggerMode, err = daq.ParseTriggerMode(trigger)
				if err != nil {
					return err
				}
			}
			if flags.Changed("transfer") {
				switch strings.ToLower(transfer) {
				case "stream":
					sc.TransferMethod = daq.TransferStream
				case "block":
					sc.TransferMethod = daq.TransferBlock
				default:
					return fmt.Errorf("unknown transfer method %q", transfer)
				}
			}
			if flags.Changed("autorun") {
				sc.AutoRun = autorun
			}

			err = cli.SetScan(ctx, sc)
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), sc)
		},
	}
	cmd.Flags().IntVar(&nch, "channels", 0, "number of scanned channels")
	cmd.Flags().IntVar(&gain, "gain", 0, "gain index")
	cmd.Flags().IntVar(&rate, "rate", 0, "scan rate, in scans per second")
	cmd.Flags().IntVar(&target, "target", 0, "number of samples to acquire, 0 for continuous modes")
	cmd.Flags().StringVar(&trigger, "trigger", "", "trigger mode (software, external, post, pre, mid, delay, ai, continuous-post)")
	cmd.Flags().StringVar(&transfer, "transfer", "", "transfer method (stream, block)")
	cmd.Flags().BoolVar(&autorun, "autorun", false, "restart the capture after each window")
	return cmd
}

func newStartCommand(o *options) *cobra.Command {
	var (
		wait bool
		poll time.Duration
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a scan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				ctx = cmd.Context()
				cli = o.client()
			)
			st, err := cli.Start(ctx)
			if err != nil {
				return err
			}
			if !wait {
				fmt.Fprintf(cmd.OutOrStdout(), "run %v: %v\n", st.Run, st.State)
				return nil
			}

			spin, err := yacspin.New(yacspin.Config{
				Frequency:         100 * time.Millisecond,
				Writer:            cmd.OutOrStdout(),
				CharSet:           yacspin.CharSets[11],
				Suffix:            " acquiring",
				SuffixAutoColon:   true,
				StopCharacter:     "✓",
				StopColors:        []string{"fgGreen"},
				StopFailCharacter: "✗",
				StopFailColors:    []string{"fgRed"},
			})
			if err != nil {
				return fmt.Errorf("could not create spinner: %w", err)
			}
			return waitRun(ctx, o, spin, poll)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the scan to complete")
	cmd.Flags().DurationVar(&poll, "poll", 250*time.Millisecond, "status polling period")
	return cmd
}

// spinner displays the progress of a run.
type spinner interface {
	Start() error
	Message(msg string)
	StopMessage(msg string)
	Stop() error
	StopFailMessage(msg string)
	StopFail() error
}

func waitRun(ctx context.Context, o *options, spin spinner, poll time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cli := o.client()
	err := spin.Start()
	if err != nil {
		return fmt.Errorf("could not start spinner: %w", err)
	}

	tck := time.NewTicker(poll)
	defer tck.Stop()
	for {
		st, err := cli.Status(ctx)
		if err != nil {
			spin.StopFailMessage(err.Error())
			_ = spin.StopFail()
			return err
		}
		spin.Message(fmt.Sprintf("%v, %d samples read", st.State, st.Sampling.TotalRead))
		if st.State == daq.Stopped {
			spin.StopMessage(fmt.Sprintf("run %v: %d samples acquired", st.Run, st.Sampling.TotalAdmitted))
			return spin.Stop()
		}
		if st.LastError != "" && st.LastError != daq.ErrSuccess.String() {
			spin.StopFailMessage(st.LastError)
			_ = spin.StopFail()
			return fmt.Errorf("run %v failed: %s", st.Run, st.LastError)
		}
		select {
		case <-ctx.Done():
			_ = spin.StopFail()
			return ctx.Err()
		case <-tck.C:
		}
	}
}

func newStopCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the current scan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := o.client().Stop(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %v: %v\n", st.Run, st.State)
			return nil
		},
	}
}

func newClearCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Discard the buffered samples",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := o.client().Clear(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "buffer: %v (%d/%d)\n", st.Buffer.State, st.Buffer.Available, st.Buffer.Capacity)
			return nil
		},
	}
}

func newDataCommand(o *options) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "data",
		Short: "Drain calibrated samples, one scan per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				ctx = cmd.Context()
				cli = o.client()
			)
			sc, err := cli.Scan(ctx)
			if err != nil {
				return err
			}
			data, err := cli.Data(ctx, n)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			nch := sc.ChannelCount
			for i := 0; i+nch <= len(data.Values); i += nch {
				fmt.Fprintf(w, "%d", (data.First+uint64(i))/uint64(nch))
				for _, v := range data.Values[i : i+nch] {
					fmt.Fprintf(w, " %g", v)
				}
				fmt.Fprintln(w)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", 1024, "maximum number of samples to drain")
	return cmd
}

func newCounterCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "counter di|cnt CHANNEL",
		Short: "Read a counter channel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var kind daq.CounterKind
			switch args[0] {
			case "di":
				kind = daq.DICounter
			case "cnt":
				kind = daq.Counter
			default:
				return fmt.Errorf("unknown counter kind %q", args[0])
			}
			ch, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid counter channel %q: %w", args[1], err)
			}
			st, err := o.client().Counter(cmd.Context(), kind, ch)
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), st)
		},
	}
}

func newErrMsgCommand(o *options) *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:   "errmsg CODE",
		Short: "Print the message of an error code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.ParseUint(args[0], 0, 32)
			if err != nil {
				return fmt.Errorf("invalid error code %q: %w", args[0], err)
			}
			code := daq.Code(v)
			msg := daq.ErrorMessage(code)
			if !local {
				msg, err = o.client().ErrorMessage(cmd.Context(), code)
				if err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "0x%05x: %s\n", uint32(code), msg)
			return nil
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "do not query the station")
	return cmd
}

func newConfigCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "config [FILE]",
		Short: "Print the station configuration, or write it to a file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if len(args) == 1 {
				var err error
				cfg, err = config.Load(args[0])
				if err != nil {
					return err
				}
			}
			if out != "" {
				return config.Persist(out, cfg)
			}
			raw, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("could not encode configuration: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(raw)
			return err
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "write the configuration to this file")
	return cmd
}

func newCalibCommand() *cobra.Command {
	var db string
	cmd := &cobra.Command{
		Use:   "calib [SERIAL]",
		Short: "List the calibrated devices, or print the calibration of a device",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := calib.OpenStore(db)
			if err != nil {
				return err
			}
			defer st.Close()

			w := cmd.OutOrStdout()
			if len(args) == 0 {
				serials, err := st.List()
				if err != nil {
					return err
				}
				for _, s := range serials {
					fmt.Fprintln(w, s)
				}
				return nil
			}

			tbl, err := st.Load(args[0])
			if err != nil {
				return err
			}
			for ch := 0; ch < tbl.NumChannels(); ch++ {
				for g := 0; g < tbl.NumGains(); g++ {
					e, err := tbl.Lookup(ch, g)
					if err != nil {
						return err
					}
					fmt.Fprintf(w, "ch=%d gain=%d range=±%gV entry=%+v\n", ch, g, tbl.Range(g), e)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&db, "db", envOr("HSDAQ_CALIB_DB", "hsdaq-calib.db"), "path to the calibration store")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of hsdaq",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			version, sum := hsdaq.Version()
			if version == "" {
				version = "(devel)"
			}
			if sum != "" {
				version += " " + sum
			}
			fmt.Fprintf(cmd.OutOrStdout(), "hsdaq %s\n", version)
		},
	}
}

var _ spinner = (*yacspin.Spinner)(nil)
