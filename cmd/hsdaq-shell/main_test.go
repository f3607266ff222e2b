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
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/hsdaq/daq"
	"github.com/go-lpc/hsdaq/httpapi"
)

func newTestShell(t *testing.T) (*daq.Session, *shell, *bytes.Buffer) {
	t.Helper()
	msg := log.NewMsgStream("hsdaq-shell", log.LvlError, io.Discard)

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

	out := new(bytes.Buffer)
	return sess, newShell(httpapi.NewClient(ts.URL, 5*time.Second), out), out
}

func TestShell(t *testing.T) {
	sess, sh, out := newTestShell(t)
	ctx := context.Background()

	for _, tc := range []struct {
		line string
		want string
		err  error
	}{
		{line: "scan", err: daq.ErrInvalidParameter},
		{line: "scan channels=2 rate=1000 trigger=software", want: "channel_count: 2"},
		{line: "scan gain=1", want: "gain: 1"},
		{line: "scan channels=12", err: daq.ErrIOChannelOutOfRange},
		{line: "start", want: ": capturing\n"},
		{line: "status", want: "state: capturing"},
		{line: "data 2", want: "first=0 n=2\n"},
		{line: "data 100", want: "first=2 n=2\n"},
		{line: "stop", want: "stopped (4 samples read)"},
		{line: "clear", want: "buffer: empty"},
		{line: "counter di 1", want: "di-counter[1]: value=0"},
		{line: "counter cnt 9", err: daq.ErrIOChannelOutOfRange},
		{line: "errmsg 0x1300c", want: "0x1300c: invalid parameter"},
		{line: "help", want: "  quit     leave the shell"},
		{line: "quit", err: errQuit},
	} {
		t.Run(tc.line, func(t *testing.T) {
			out.Reset()
			if tc.line == "data 2" {
				err := sess.Feed(daq.Block{Samples: make([]uint32, 4)})
				if err != nil {
					t.Fatalf("could not feed session: %+v", err)
				}
			}
			err := sh.exec(ctx, tc.line)
			switch {
			case tc.err != nil:
				if !errors.Is(err, tc.err) {
					t.Fatalf("invalid error: got=%v, want=%v", err, tc.err)
				}
				return
			case err != nil:
				t.Fatalf("could not run %q: %+v", tc.line, err)
			}
			if !strings.Contains(out.String(), tc.want) {
				t.Fatalf("missing %q in output:\n%s", tc.want, out.String())
			}
		})
	}
}

func TestShellErrors(t *testing.T) {
	_, sh, _ := newTestShell(t)
	ctx := context.Background()

	for _, line := range []string{
		"launch",
		"scan channels",
		"scan colour=blue",
		"scan rate=fast",
		"data many",
		"counter",
		"counter xx 1",
		"counter di x",
		"errmsg",
		"errmsg 0xzz",
	} {
		t.Run(line, func(t *testing.T) {
			err := sh.exec(ctx, line)
			if err == nil {
				t.Fatalf("expected an error")
			}
		})
	}

	if err := sh.exec(ctx, "   "); err != nil {
		t.Fatalf("blank line: %+v", err)
	}
}

func TestComplete(t *testing.T) {
	_, sh, _ := newTestShell(t)
	for _, tc := range []struct {
		line string
		want []string
	}{
		{"st", []string{"start", "status", "stop"}},
		{"c", []string{"clear", "counter"}},
		{"q", []string{"quit"}},
		{"x", nil},
	} {
		t.Run(tc.line, func(t *testing.T) {
			got := sh.complete(tc.line)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("invalid completion: got=%q, want=%q", got, tc.want)
			}
		})
	}
}
