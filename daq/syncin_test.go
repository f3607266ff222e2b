// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/go-lpc/hsdaq/frame"
)

func startSync(t *testing.T, sess *Session, nch int, cfg SyncInConfig) {
	t.Helper()
	err := sess.SetScanConfig(ScanConfig{
		ChannelCount: nch,
		TriggerMode:  TrigSoftware,
		SampleRate:   1000,
	})
	if err != nil {
		t.Fatalf("could not configure scan: %+v", err)
	}
	err = sess.SetSyncIn(cfg)
	if err != nil {
		t.Fatalf("could not configure sync-in: %+v", err)
	}
	err = sess.Start()
	if err != nil {
		t.Fatalf("could not start scan: %+v", err)
	}
}

func readFrames(t *testing.T, sess *Session) []frame.Frame {
	t.Helper()
	fs := make([]frame.Frame, 64)
	n, err := sess.ReadFrames(fs)
	if err != nil {
		t.Fatalf("could not read frames: %+v", err)
	}
	return fs[:n]
}

func seqs(fs []frame.Frame) []uint32 {
	o := make([]uint32, len(fs))
	for i, f := range fs {
		o[i] = f.Header.Seq
	}
	return o
}

func TestSyncInSequence(t *testing.T) {
	sess := newTestSession(t)
	lay := frame.Layout{{Type: frame.AIHex, Index: 1}, {Type: frame.AIHex, Index: 0}}
	startSync(t, sess, 2, SyncInConfig{Header: 0xcafe, Channels: lay})

	err := sess.Feed(Block{Samples: scans(0, 10, 2)})
	if err != nil {
		t.Fatalf("could not feed: %+v", err)
	}
	if got, want := sess.BufferStatus().Available, 0; got != want {
		t.Fatalf("samples leaked into the scalar buffer: got=%d, want=%d", got, want)
	}
	if got, want := sess.FrameStatus().Available, 10; got != want {
		t.Fatalf("invalid available frames: got=%d, want=%d", got, want)
	}

	fs := readFrames(t, sess)
	if got, want := len(fs), 10; got != want {
		t.Fatalf("invalid number of frames: got=%d, want=%d", got, want)
	}
	for i, f := range fs {
		if got, want := f.Header.Seq, uint32(i); got != want {
			t.Fatalf("frame %d: invalid seq: got=%d, want=%d", i, got, want)
		}
		if got, want := f.Header.Marker, uint32(0xcafe); got != want {
			t.Fatalf("frame %d: invalid marker: got=0x%x, want=0x%x", i, got, want)
		}
		if got, want := f.Header.Session, uint32(sess.Handle()); got != want {
			t.Fatalf("frame %d: invalid session: got=%d, want=%d", i, got, want)
		}
		if got, want := len(f.Values), len(lay); got != want {
			t.Fatalf("frame %d: invalid number of values: got=%d, want=%d", i, got, want)
		}
		if got, want := f.Values, []uint32{uint32(2*i + 1), uint32(2 * i)}; !equalU32(got, want) {
			t.Fatalf("frame %d: invalid values: got=%v, want=%v", i, got, want)
		}
	}
	if got, want := sess.SamplingStatus().TotalRead, uint64(10); got != want {
		t.Fatalf("invalid total read: got=%d, want=%d", got, want)
	}
}

func TestSyncInDropIncomplete(t *testing.T) {
	sess := newTestSession(t)
	lay := frame.Layout{{Type: frame.AIHex, Index: 0}, {Type: frame.UserDWord, Index: 3}}
	startSync(t, sess, 1, SyncInConfig{Channels: lay, Options: SyncDropIncomplete})

	for _, v := range []uint32{10, 11, 12} {
		err := sess.SetUserField(3, v)
		if err != nil {
			t.Fatalf("could not set user field: %+v", err)
		}
	}
	err := sess.Feed(Block{Samples: scans(0, 5, 1)})
	if err != nil {
		t.Fatalf("could not feed: %+v", err)
	}
	if got, want := sess.LastError(), ErrFrameAssemblyLoss; got != want {
		t.Fatalf("invalid last error: got=%v, want=%v", got, want)
	}
	err = sess.SetUserField(3, 13)
	if err != nil {
		t.Fatalf("could not set user field: %+v", err)
	}
	err = sess.Feed(Block{Samples: scans(5, 1, 1)})
	if err != nil {
		t.Fatalf("could not feed: %+v", err)
	}

	st := sess.FrameStatus()
	if got, want := st.Lost, uint64(2); got != want {
		t.Fatalf("invalid frame loss: got=%d, want=%d", got, want)
	}
	fs := readFrames(t, sess)
	if got, want := seqs(fs), []uint32{0, 1, 2, 5}; !equalU32(got, want) {
		t.Fatalf("invalid sequence numbers: got=%v, want=%v", got, want)
	}
	var gaps uint64
	for i := 1; i < len(fs); i++ {
		gaps += uint64(fs[i].Header.Seq - fs[i-1].Header.Seq - 1)
	}
	if got, want := gaps, st.Lost; got != want {
		t.Fatalf("sequence gaps do not match loss counter: got=%d, want=%d", got, want)
	}
	for i, want := range [][]uint32{{0, 10}, {1, 11}, {2, 12}, {5, 13}} {
		if got := fs[i].Values; !equalU32(got, want) {
			t.Fatalf("frame %d: invalid values: got=%v, want=%v", i, got, want)
		}
	}
}

func TestSyncInWaitUserFields(t *testing.T) {
	sess := newTestSession(t)
	lay := frame.Layout{
		{Type: frame.UserByte, Index: 0},
		{Type: frame.AIHex, Index: 0},
		{Type: frame.UserFloat, Index: 1},
	}
	startSync(t, sess, 1, SyncInConfig{Channels: lay})

	err := sess.Feed(Block{Samples: scans(0, 3, 1)})
	if err != nil {
		t.Fatalf("could not feed: %+v", err)
	}
	if got, want := sess.FrameStatus().Pending, 3; got != want {
		t.Fatalf("invalid pending ticks: got=%d, want=%d", got, want)
	}
	for i := 0; i < 3; i++ {
		err := sess.SetUserField(0, uint32(0x100+i))
		if err != nil {
			t.Fatalf("could not set user field: %+v", err)
		}
	}
	if got, want := sess.FrameStatus().Available, 0; got != want {
		t.Fatalf("incomplete frames emitted: got=%d, want=%d", got, want)
	}
	for i := 0; i < 3; i++ {
		err := sess.SetUserFloat(1, float32(i)+0.5)
		if err != nil {
			t.Fatalf("could not set user float: %+v", err)
		}
	}

	fs := readFrames(t, sess)
	if got, want := len(fs), 3; got != want {
		t.Fatalf("invalid number of frames: got=%d, want=%d", got, want)
	}
	for i, f := range fs {
		want := []uint32{uint32(i), uint32(i), math.Float32bits(float32(i) + 0.5)}
		if got := f.Values; !equalU32(got, want) {
			t.Fatalf("frame %d: invalid values: got=%v, want=%v", i, got, want)
		}
	}

	err = sess.Feed(Block{Samples: scans(3, 20, 1)})
	if err != nil {
		t.Fatalf("could not feed: %+v", err)
	}
	st := sess.FrameStatus()
	if got, want := st.Pending, MaxPendingTicks; got != want {
		t.Fatalf("invalid pending ticks: got=%d, want=%d", got, want)
	}
	if got, want := st.Lost, uint64(4); got != want {
		t.Fatalf("invalid frame loss: got=%d, want=%d", got, want)
	}

	if err := sess.SetUserField(2, 1); !errors.Is(err, ErrIOChannel) {
		t.Fatalf("invalid error: got=%v, want=%v", err, ErrIOChannel)
	}
}

func TestSyncInProjections(t *testing.T) {
	sess := newTestSession(t, WithModel(PET7H16M))
	lay := frame.Layout{
		{Type: frame.AI, Index: 1},
		{Type: frame.AIHex, Index: 0},
		{Type: frame.DIBits, Index: 0},
		{Type: frame.DOBits, Index: 0},
		{Type: frame.Count32, Index: 1},
		{Type: frame.DICount16, Index: 2},
		{Type: frame.UserWord, Index: 0},
		{Type: frame.UserFloat, Index: 1},
	}
	err := sess.SetCounterConfig(Counter, 1, CounterSynced, 0)
	if err != nil {
		t.Fatalf("could not configure counter: %+v", err)
	}
	err = sess.SetCounterConfig(DICounter, 2, CounterEnabled, 0xfffe)
	if err != nil {
		t.Fatalf("could not configure di-counter: %+v", err)
	}
	err = sess.WriteDO(0x81)
	if err != nil {
		t.Fatalf("could not write DO: %+v", err)
	}
	startSync(t, sess, 2, SyncInConfig{Channels: lay, Options: SyncTimeDay})

	const nframes = 4
	for k := 0; k < nframes; k++ {
		_ = sess.SetUserField(0, uint32(0x10000+k))
		_ = sess.SetUserFloat(1, -float32(k))
		err = sess.AddCounts(Counter, 1, 10)
		if err != nil {
			t.Fatalf("could not count: %+v", err)
		}
		err = sess.AddCounts(DICounter, 2, 1)
		if err != nil {
			t.Fatalf("could not count: %+v", err)
		}
		err = sess.Feed(Block{
			Samples: []uint32{uint32(0x100 + k), 0xfffff0},
			DI:      uint32(k),
			HasDI:   true,
		})
		if err != nil {
			t.Fatalf("could not feed: %+v", err)
		}
		// counts after the tick only show up in the next synced frame.
		err = sess.AddCounts(Counter, 1, 1000)
		if err != nil {
			t.Fatalf("could not count: %+v", err)
		}
	}

	fs := make([]frame.Frame, nframes)
	n, err := sess.ReadFrames(fs)
	if err != nil {
		t.Fatalf("could not read frames: %+v", err)
	}
	if n != nframes {
		t.Fatalf("invalid number of frames: got=%d, want=%d", n, nframes)
	}

	ai, _ := sess.Float(1, 0, 0xfffff0)
	for k, f := range fs {
		want := []uint32{
			math.Float32bits(ai),
			uint32(0x100 + k),
			uint32(k),
			0x81,
			uint32(10*(k+1) + 1000*k),
			(0xfffe + uint32(k+1)) & 0xffff,
			uint32(k),
			math.Float32bits(-float32(k)),
		}
		if got := f.Values; !equalU32(got, want) {
			t.Fatalf("frame %d: invalid values:\ngot= %#x\nwant=%#x", k, got, want)
		}

		typ := lay.Typed(f)
		if got, want := typ.AI, []float32{ai}; !reflect.DeepEqual(got, want) {
			t.Fatalf("frame %d: invalid typed AI: got=%v, want=%v", k, got, want)
		}
		wrd := lay.Words(f)
		if got, want := wrd.AI, []uint32{want[0], want[1]}; !equalU32(got, want) {
			t.Fatalf("frame %d: invalid words AI: got=%v, want=%v", k, got, want)
		}
	}

	typed := make([]frame.Typed, nframes)
	words := make([]frame.Words, nframes)
	for i, f := range fs {
		typed[i] = lay.Typed(f)
		words[i] = lay.Words(f)
	}
	flat := lay.Flat(fs)
	if got, want := flat.N, nframes; got != want {
		t.Fatalf("invalid flat frames: got=%d, want=%d", got, want)
	}
	for i := range fs {
		if got, want := flat.AI[2*i:2*i+2], words[i].AI; !equalU32(got, want) {
			t.Fatalf("frame %d: flat/words AI mismatch: got=%v, want=%v", i, got, want)
		}
		if got, want := flat.Count[i], typed[i].Count[0]; got != want {
			t.Fatalf("frame %d: flat/typed count mismatch: got=%d, want=%d", i, got, want)
		}
		if got, want := flat.User2[i], math.Float32bits(typed[i].UserF[0]); got != want {
			t.Fatalf("frame %d: flat/typed user float mismatch: got=%d, want=%d", i, got, want)
		}
		if got, want := flat.DI[4*i], byte(typed[i].DI[0]); got != want {
			t.Fatalf("frame %d: flat/typed DI mismatch: got=%d, want=%d", i, got, want)
		}
	}
}

func TestSyncInReaders(t *testing.T) {
	sess := newTestSession(t)
	lay := frame.Layout{{Type: frame.AI, Index: 0}, {Type: frame.AIHex, Index: 0}}
	startSync(t, sess, 1, SyncInConfig{Channels: lay})

	err := sess.Feed(Block{Samples: []uint32{1, 2, 3, 4, 5, 6}})
	if err != nil {
		t.Fatalf("could not feed: %+v", err)
	}

	typed, err := sess.ReadFramesTyped(2)
	if err != nil {
		t.Fatalf("could not read typed frames: %+v", err)
	}
	words, err := sess.ReadFramesWords(2)
	if err != nil {
		t.Fatalf("could not read words frames: %+v", err)
	}
	flat, err := sess.ReadFramesFlat(10)
	if err != nil {
		t.Fatalf("could not read flat frames: %+v", err)
	}

	if got, want := len(typed), 2; got != want {
		t.Fatalf("invalid typed frames: got=%d, want=%d", got, want)
	}
	if got, want := typed[1].AIHex, []uint32{2}; !equalU32(got, want) {
		t.Fatalf("invalid typed ai-hex: got=%v, want=%v", got, want)
	}
	if got, want := words[0].AI[1], uint32(3); got != want {
		t.Fatalf("invalid words ai-hex: got=%v, want=%v", got, want)
	}
	if got, want := words[0].Header[2], uint32(2); got != want {
		t.Fatalf("invalid words seq: got=%v, want=%v", got, want)
	}
	if got, want := flat.N, 2; got != want {
		t.Fatalf("invalid flat frames: got=%d, want=%d", got, want)
	}
	if got, want := flat.AI[3], uint32(6); got != want {
		t.Fatalf("invalid flat ai-hex: got=%v, want=%v", got, want)
	}
	if got, want := sess.SyncInLayout(), lay; !got.Equal(want) {
		t.Fatalf("invalid layout: got=%v, want=%v", got, want)
	}
}

func TestSyncInConfig(t *testing.T) {
	for _, tc := range []struct {
		name  string
		model Model
		cfg   SyncInConfig
		code  Code
	}{
		{
			name:  "empty",
			model: PET7H24M,
			code:  ErrSuccess,
		},
		{
			name:  "ai-index",
			model: PET7H24M,
			cfg:   SyncInConfig{Channels: frame.Layout{{Type: frame.AI, Index: 2}}},
			code:  ErrIOChannelOutOfRange,
		},
		{
			name:  "no-counter",
			model: PET7H24M,
			cfg:   SyncInConfig{Channels: frame.Layout{{Type: frame.Count16, Index: 0}}},
			code:  ErrFunctionNotSupport,
		},
		{
			name:  "counter-index",
			model: PET7H16M,
			cfg:   SyncInConfig{Channels: frame.Layout{{Type: frame.Count16, Index: 2}}},
			code:  ErrIOChannelOutOfRange,
		},
		{
			name:  "duplicate-user",
			model: PET7H16M,
			cfg: SyncInConfig{Channels: frame.Layout{
				{Type: frame.UserByte, Index: 2},
				{Type: frame.UserWord, Index: 2},
			}},
			code: ErrIOChannel,
		},
		{
			name:  "options",
			model: PET7H16M,
			cfg:   SyncInConfig{Channels: frame.Layout{{Type: frame.AI, Index: 0}}, Options: 0x4},
			code:  ErrInvalidParameter,
		},
		{
			name:  "invalid-type",
			model: PET7H16M,
			cfg:   SyncInConfig{Channels: frame.Layout{{Type: 0xff, Index: 0}}},
			code:  ErrInvalidParameter,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			sess := newTestSession(t, WithModel(tc.model))
			err := sess.SetScanConfig(ScanConfig{ChannelCount: 2, SampleRate: 10})
			if err != nil {
				t.Fatalf("could not configure scan: %+v", err)
			}
			err = sess.SetSyncIn(tc.cfg)
			if got, want := CodeOf(err), tc.code; got != want {
				t.Fatalf("invalid code: got=%v, want=%v (err=%v)", got, want, err)
			}
		})
	}
}
