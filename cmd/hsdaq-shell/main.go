// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command hsdaq-shell is an interactive shell to an acquisition station.
//
// ex:
//
//	$> hsdaq-shell -addr daq-01:8080
//	hsdaq> status
//	hsdaq> start
//	hsdaq> data 16
//	hsdaq> quit
package main // import "github.com/go-lpc/hsdaq/cmd/hsdaq-shell"

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-lpc/hsdaq/daq"
	"github.com/go-lpc/hsdaq/httpapi"
	"github.com/peterh/liner"
	"sigs.k8s.io/yaml"
)

func main() {
	log.SetPrefix("hsdaq-shell: ")
	log.SetFlags(0)

	var (
		addr    = flag.String("addr", "localhost:8080", "[ip]:port of the station HTTP API")
		timeout = flag.Duration("timeout", 5*time.Second, "timeout of HTTP requests")
		hist    = flag.String("history", histFile(), "path to the history file")
	)
	flag.Parse()

	err := run(*addr, *timeout, *hist)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func histFile() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, ".hsdaq_history")
}

func run(addr string, timeout time.Duration, hist string) error {
	sh := newShell(httpapi.NewClient(addr, timeout), os.Stdout)

	term := liner.NewLiner()
	defer term.Close()

	term.SetCtrlCAborts(true)
	term.SetCompleter(sh.complete)

	if hist != "" {
		if f, err := os.Open(hist); err == nil {
			_, _ = term.ReadHistory(f)
			f.Close()
		}
		defer func() {
			f, err := os.Create(hist)
			if err != nil {
				log.Printf("could not save history: %+v", err)
				return
			}
			defer f.Close()
			_, _ = term.WriteHistory(f)
		}()
	}

	ctx := context.Background()
	for {
		line, err := term.Prompt("hsdaq> ")
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, liner.ErrPromptAborted):
			return nil
		default:
			return fmt.Errorf("could not read command: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		err = sh.exec(ctx, line)
		switch {
		case errors.Is(err, errQuit):
			return nil
		case err != nil:
			fmt.Fprintf(sh.out, "error: %+v\n", err)
		}
	}
}

var errQuit = errors.New("quit")

type command struct {
	help string
	run  func(ctx context.Context, sh *shell, args []string) error
}

type shell struct {
	cli  *httpapi.Client
	out  io.Writer
	cmds map[string]command
}

func newShell(cli *httpapi.Client, out io.Writer) *shell {
	sh := &shell{cli: cli, out: out}
	sh.cmds = map[string]command{
		"status":  {"print the station status", cmdStatus},
		"scan":    {"print the scan configuration, or set it with key=value pairs", cmdScan},
		"start":   {"start a scan", cmdStart},
		"stop":    {"stop the current scan", cmdStop},
		"clear":   {"discard the buffered samples", cmdClear},
		"data":    {"drain at most N samples (default 64)", cmdData},
		"counter": {"read a counter: counter di|cnt CHANNEL", cmdCounter},
		"errmsg":  {"print the message of an error code", cmdErrMsg},
		"help":    {"print this help", cmdHelp},
		"quit":    {"leave the shell", cmdQuit},
	}
	return sh
}

func (sh *shell) names() []string {
	names := make([]string, 0, len(sh.cmds))
	for k := range sh.cmds {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (sh *shell) complete(line string) []string {
	var out []string
	for _, name := range sh.names() {
		if strings.HasPrefix(name, line) {
			out = append(out, name)
		}
	}
	return out
}

func (sh *shell) exec(ctx context.Context, line string) error {
	toks := strings.Fields(line)
	if len(toks) == 0 {
		return nil
	}
	cmd, ok := sh.cmds[toks[0]]
	if !ok {
		return fmt.Errorf("unknown command %q (try help)", toks[0])
	}
	return cmd.run(ctx, sh, toks[1:])
}

func (sh *shell) print(v interface{}) error {
	raw, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("could not encode reply: %w", err)
	}
	_, err = sh.out.Write(raw)
	return err
}

func cmdStatus(ctx context.Context, sh *shell, args []string) error {
	st, err := sh.cli.Status(ctx)
	if err != nil {
		return err
	}
	return sh.print(st)
}

func cmdScan(ctx context.Context, sh *shell, args []string) error {
	sc, err := sh.cli.Scan(ctx)
	if len(args) == 0 {
		if err != nil {
			return err
		}
		return sh.print(sc)
	}
	if err != nil && !errors.Is(err, daq.ErrInvalidParameter) {
		return err
	}

	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("invalid scan parameter %q (want key=value)", arg)
		}
		var err error
		switch k {
		case "channels":
			sc.ChannelCount, err = strconv.Atoi(v)
		case "gain":
			sc.Gain, err = strconv.Atoi(v)
		case "rate":
			sc.SampleRate, err = strconv.Atoi(v)
		case "target":
			sc.TargetCount, err = strconv.Atoi(v)
		case "trigger":
			sc.TriggerMode, err = daq.ParseTriggerMode(v)
		case "autorun":
			sc.AutoRun, err = strconv.ParseBool(v)
		case "transfer":
			switch v {
			case "stream":
				sc.TransferMethod = daq.TransferStream
			case "block":
				sc.TransferMethod = daq.TransferBlock
			default:
				err = fmt.Errorf("unknown transfer method %q", v)
			}
		default:
			err = fmt.Errorf("unknown scan parameter %q", k)
		}
		if err != nil {
			return fmt.Errorf("invalid scan parameter %q: %w", arg, err)
		}
	}

	err = sh.cli.SetScan(ctx, sc)
	if err != nil {
		return err
	}
	return sh.print(sc)
}

func cmdStart(ctx context.Context, sh *shell, args []string) error {
	st, err := sh.cli.Start(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "run %v: %v\n", st.Run, st.State)
	return nil
}

func cmdStop(ctx context.Context, sh *shell, args []string) error {
	st, err := sh.cli.Stop(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "run %v: %v (%d samples read)\n", st.Run, st.State, st.Sampling.TotalRead)
	return nil
}

func cmdClear(ctx context.Context, sh *shell, args []string) error {
	st, err := sh.cli.Clear(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "buffer: %v\n", st.Buffer.State)
	return nil
}

func cmdData(ctx context.Context, sh *shell, args []string) error {
	n := 64
	if len(args) > 0 {
		var err error
		n, err = strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid number of samples %q: %w", args[0], err)
		}
	}
	data, err := sh.cli.Data(ctx, n)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "first=%d n=%d\n", data.First, len(data.Values))
	for i, v := range data.Values {
		fmt.Fprintf(sh.out, "%8d %g\n", data.First+uint64(i), v)
	}
	return nil
}

func cmdCounter(ctx context.Context, sh *shell, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: counter di|cnt CHANNEL")
	}
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
	st, err := sh.cli.Counter(ctx, kind, ch)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "%v[%d]: value=%d overflow=%v mode=%v\n", kind, ch, st.Value, st.Overflow, st.Mode)
	return nil
}

func cmdErrMsg(ctx context.Context, sh *shell, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: errmsg CODE")
	}
	v, err := strconv.ParseUint(args[0], 0, 32)
	if err != nil {
		return fmt.Errorf("invalid error code %q: %w", args[0], err)
	}
	msg, err := sh.cli.ErrorMessage(ctx, daq.Code(v))
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "0x%05x: %s\n", v, msg)
	return nil
}

func cmdHelp(ctx context.Context, sh *shell, args []string) error {
	for _, name := range sh.names() {
		fmt.Fprintf(sh.out, "  %-8s %s\n", name, sh.cmds[name].help)
	}
	return nil
}

func cmdQuit(ctx context.Context, sh *shell, args []string) error {
	return errQuit
}
