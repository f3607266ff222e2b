// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/hsdaq/calib"
	"github.com/go-lpc/hsdaq/daq"
	"github.com/go-lpc/hsdaq/httpapi"
)

func newTestStation(t *testing.T) (*daq.Session, string) {
	t.Helper()
	msg := log.NewMsgStream("hsdaq", log.LvlError, io.Discard)

	tbl := daq.NewTable()
	hdl, err := tbl.Open("pet-1", daq.WithLogger(msg), daq.WithModel(daq.PET7H16M))
	if err != nil {
		t.Fatalf("could not open session: %+v", err)
	}
	t.Cleanup(func() { _ = tbl.Release(hdl) })
	sess, err := tbl.Session(hdl)
	if err != nil {
		t.Fatalf("could not get session: %+v", err)
	}

	ts := httptest.NewServer(httpapi.NewServer(sess, msg, nil))
	t.Cleanup(ts.Close)
	return sess, ts.URL
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := new(bytes.Buffer)
	cmd := newRootCommand(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestScan(t *testing.T) {
	_, addr := newTestStation(t)

	out, err := execute(t, "--addr", addr,
		"scan", "--channels=2", "--rate=500", "--target=100", "--trigger=post",
	)
	if err != nil {
		t.Fatalf("could not set scan: %+v", err)
	}
	for _, want := range []string{
		"channel_count: 2",
		"sample_rate: 500",
		"target_count: 100",
		"trigger_mode: post",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output:\n%s", want, out)
		}
	}

	out, err = execute(t, "--addr", addr, "scan", "--gain=1")
	if err != nil {
		t.Fatalf("could not update scan: %+v", err)
	}
	if !strings.Contains(out, "gain: 1") || !strings.Contains(out, "channel_count: 2") {
		t.Fatalf("invalid scan update:\n%s", out)
	}

	out, err = execute(t, "--addr", addr, "scan")
	if err != nil {
		t.Fatalf("could not get scan: %+v", err)
	}
	if !strings.Contains(out, "gain: 1") {
		t.Fatalf("invalid scan:\n%s", out)
	}

	_, err = execute(t, "--addr", addr, "scan", "--channels=9")
	if !errors.Is(err, daq.ErrIOChannelOutOfRange) {
		t.Fatalf("invalid error: got=%v, want=%v", err, daq.ErrIOChannelOutOfRange)
	}

	_, err = execute(t, "--addr", addr, "scan", "--transfer=carrier-pigeon")
	if err == nil {
		t.Fatalf("expected an error")
	}
}

func TestAcquisition(t *testing.T) {
	sess, addr := newTestStation(t)

	_, err := execute(t, "--addr", addr, "scan", "--channels=2", "--rate=1000", "--trigger=software")
	if err != nil {
		t.Fatalf("could not set scan: %+v", err)
	}

	out, err := execute(t, "--addr", addr, "start")
	if err != nil {
		t.Fatalf("could not start: %+v", err)
	}
	if got, want := out, "run "+sess.RunID().String()+": capturing\n"; got != want {
		t.Fatalf("invalid start output: got=%q, want=%q", got, want)
	}

	err = sess.Feed(daq.Block{Samples: make([]uint32, 6)})
	if err != nil {
		t.Fatalf("could not feed session: %+v", err)
	}

	out, err = execute(t, "--addr", addr, "status")
	if err != nil {
		t.Fatalf("could not get status: %+v", err)
	}
	if !strings.Contains(out, "device: pet-1") || !strings.Contains(out, "available: 6") {
		t.Fatalf("invalid status:\n%s", out)
	}

	out, err = execute(t, "--addr", addr, "data", "-n", "4")
	if err != nil {
		t.Fatalf("could not read data: %+v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if got, want := len(lines), 2; got != want {
		t.Fatalf("invalid number of scans: got=%d, want=%d\n%s", got, want, out)
	}
	if !strings.HasPrefix(lines[1], "1 ") {
		t.Fatalf("invalid scan index: %q", lines[1])
	}

	out, err = execute(t, "--addr", addr, "stop")
	if err != nil {
		t.Fatalf("could not stop: %+v", err)
	}
	if !strings.HasSuffix(out, ": stopped\n") {
		t.Fatalf("invalid stop output: %q", out)
	}

	out, err = execute(t, "--addr", addr, "clear")
	if err != nil {
		t.Fatalf("could not clear: %+v", err)
	}
	if !strings.HasPrefix(out, "buffer: empty") {
		t.Fatalf("invalid clear output: %q", out)
	}
}

type fakeSpinner struct {
	msgs []string
	stop string
	fail string
}

func (sp *fakeSpinner) Start() error               { return nil }
func (sp *fakeSpinner) Message(msg string)         { sp.msgs = append(sp.msgs, msg) }
func (sp *fakeSpinner) StopMessage(msg string)     { sp.stop = msg }
func (sp *fakeSpinner) Stop() error                { return nil }
func (sp *fakeSpinner) StopFailMessage(msg string) { sp.fail = msg }
func (sp *fakeSpinner) StopFail() error            { return nil }

func TestWaitRun(t *testing.T) {
	sess, addr := newTestStation(t)
	err := sess.SetScanConfig(daq.ScanConfig{
		ChannelCount: 1,
		TriggerMode:  daq.TrigSoftware,
		SampleRate:   1000,
	})
	if err != nil {
		t.Fatalf("could not set scan: %+v", err)
	}
	err = sess.Start()
	if err != nil {
		t.Fatalf("could not start: %+v", err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = sess.Stop()
	}()

	var (
		o    = &options{addr: addr, timeout: 5 * time.Second}
		spin = new(fakeSpinner)
	)
	err = waitRun(context.Background(), o, spin, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("could not wait for run: %+v", err)
	}
	if len(spin.msgs) == 0 {
		t.Fatalf("no progress message")
	}
	if !strings.HasSuffix(spin.stop, "0 samples acquired") {
		t.Fatalf("invalid stop message: %q", spin.stop)
	}
	if spin.fail != "" {
		t.Fatalf("unexpected failure: %q", spin.fail)
	}
}

func TestCounter(t *testing.T) {
	sess, addr := newTestStation(t)
	err := sess.SetCounterConfig(daq.DICounter, 0, daq.CounterEnabled, 0)
	if err != nil {
		t.Fatalf("could not configure counter: %+v", err)
	}
	err = sess.AddCounts(daq.DICounter, 0, 3)
	if err != nil {
		t.Fatalf("could not add counts: %+v", err)
	}

	for _, tc := range []struct {
		args []string
		want string
		err  error
	}{
		{args: []string{"di", "0"}, want: "value: 3"},
		{args: []string{"cnt", "0"}, want: "value: 0"},
		{args: []string{"di", "42"}, err: daq.ErrIOChannelOutOfRange},
	} {
		t.Run(strings.Join(tc.args, "-"), func(t *testing.T) {
			out, err := execute(t, append([]string{"--addr", addr, "counter"}, tc.args...)...)
			switch {
			case tc.err != nil:
				if !errors.Is(err, tc.err) {
					t.Fatalf("invalid error: got=%v, want=%v", err, tc.err)
				}
				return
			case err != nil:
				t.Fatalf("could not read counter: %+v", err)
			}
			if !strings.Contains(out, tc.want) {
				t.Fatalf("missing %q in output:\n%s", tc.want, out)
			}
		})
	}

	_, err = execute(t, "--addr", addr, "counter", "xx", "0")
	if err == nil {
		t.Fatalf("expected an error")
	}
}

func TestErrMsg(t *testing.T) {
	_, addr := newTestStation(t)

	for _, args := range [][]string{
		{"--addr", addr, "errmsg", "0x1300c"},
		{"errmsg", "--local", "77836"},
	} {
		out, err := execute(t, args...)
		if err != nil {
			t.Fatalf("could not get error message: %+v", err)
		}
		if got, want := out, "0x1300c: invalid parameter\n"; got != want {
			t.Fatalf("invalid message: got=%q, want=%q", got, want)
		}
	}

	_, err := execute(t, "errmsg", "--local", "0xzz")
	if err == nil {
		t.Fatalf("expected an error")
	}
}

func TestConfig(t *testing.T) {
	out, err := execute(t, "config")
	if err != nil {
		t.Fatalf("could not print config: %+v", err)
	}
	if !strings.Contains(out, "pet-7h24m") {
		t.Fatalf("invalid default config:\n%s", out)
	}

	fname := filepath.Join(t.TempDir(), "hsdaq.yaml")
	_, err = execute(t, "config", "-o", fname)
	if err != nil {
		t.Fatalf("could not write config: %+v", err)
	}
	out2, err := execute(t, "config", fname)
	if err != nil {
		t.Fatalf("could not load config: %+v", err)
	}
	if out2 != out {
		t.Fatalf("invalid round trip:\ngot:\n%s\nwant:\n%s", out2, out)
	}
}

func TestCalib(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "calib.db")
	st, err := calib.OpenStore(fname)
	if err != nil {
		t.Fatalf("could not open store: %+v", err)
	}
	tbl, err := calib.New(2, []float64{10, 5}, 24)
	if err != nil {
		t.Fatalf("could not create table: %+v", err)
	}
	err = st.Save("SN-001", tbl)
	if err != nil {
		t.Fatalf("could not save table: %+v", err)
	}
	err = st.Close()
	if err != nil {
		t.Fatalf("could not close store: %+v", err)
	}

	out, err := execute(t, "calib", "--db", fname)
	if err != nil {
		t.Fatalf("could not list store: %+v", err)
	}
	if got, want := out, "SN-001\n"; got != want {
		t.Fatalf("invalid list: got=%q, want=%q", got, want)
	}

	out, err = execute(t, "calib", "--db", fname, "SN-001")
	if err != nil {
		t.Fatalf("could not show table: %+v", err)
	}
	if got, want := strings.Count(out, "\n"), 4; got != want {
		t.Fatalf("invalid number of entries: got=%d, want=%d\n%s", got, want, out)
	}
	if !strings.Contains(out, "ch=1 gain=1 range=±5V") {
		t.Fatalf("invalid table:\n%s", out)
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("could not run version: %+v", err)
	}
	if !strings.HasPrefix(out, "hsdaq ") {
		t.Fatalf("invalid version: %q", out)
	}
}
