// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"reflect"
	"testing"
)

var testLayout = Layout{
	{AI, 0},
	{DIBits, 0},
	{AIHex, 1},
	{Count16, 0},
	{UserFloat, 0},
	{DICount32, 1},
	{UserByte, 2},
	{DOBits, 0},
	{AI, 1},
	{UserDWord, 0},
}

func testFrames(n int) []Frame {
	fs := make([]Frame, n)
	for i := range fs {
		k := uint32(i)
		fs[i] = Frame{
			Header: Header{Marker: 0xcafe, Session: 1, Seq: k, Time: 0x1000 + k},
			Values: []uint32{
				math.Float32bits(1.5 + float32(i)),
				0x5 ^ k,
				0x7ffff0 + k,
				0xffff & (0xfff0 + k),
				math.Float32bits(-0.25 * float32(i)),
				0xdeadbeef + k,
				0xff & (0xfe + k),
				0x3,
				math.Float32bits(-2),
				k << 20,
			},
		}
	}
	return fs
}

func TestChannelType(t *testing.T) {
	for i := ChannelType(0); i < nTypes; i++ {
		got, err := ParseChannelType(i.String())
		if err != nil {
			t.Fatalf("could not parse %q: %+v", i.String(), err)
		}
		if got != i {
			t.Fatalf("invalid round-trip: got=%v, want=%v", got, i)
		}
	}
	if _, err := ParseChannelType("adc"); err == nil {
		t.Fatalf("expected an error")
	}
	if got, want := nTypes.String(), "ChannelType(12)"; got != want {
		t.Fatalf("invalid string: got=%q, want=%q", got, want)
	}
	if got, want := UserWord.Mask(), uint32(0xffff); got != want {
		t.Fatalf("invalid mask: got=0x%x, want=0x%x", got, want)
	}
}

func TestLayoutValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		lay  Layout
		ok   bool
	}{
		{"ok", testLayout, true},
		{"empty", nil, false},
		{"bad-type", Layout{{nTypes, 0}}, false},
		{"bad-index", Layout{{AI, 256}}, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.lay.Validate()
			if (err == nil) != tc.ok {
				t.Fatalf("invalid validation: err=%v", err)
			}
		})
	}
}

// slotValue extracts the value of slot i through each projection.
func slotValues(t *testing.T, lay Layout, fs []Frame, k, i int) (typed, word, flat uint32) {
	t.Helper()

	// rank of slot i within its family.
	family := func(ct ChannelType) int {
		switch ct {
		case AI, AIHex:
			return 0
		case DIBits:
			return 1
		case DOBits:
			return 2
		case DICount16, DICount32:
			return 3
		case Count16, Count32:
			return 4
		case UserByte, UserWord, UserDWord:
			return 5
		default:
			return 6
		}
	}
	rank := func(match func(ChannelType) bool) (r, n int) {
		for j, ch := range lay {
			if !match(ch.Type) {
				continue
			}
			if j < i {
				r++
			}
			n++
		}
		return r, n
	}

	ct := lay[i].Type
	tr, _ := rank(func(o ChannelType) bool { return o == ct || (ct.IsCounter() && family(o) == family(ct)) || (family(ct) == 5 && family(o) == 5) })
	ty := lay.Typed(fs[k])
	switch ct {
	case AI:
		typed = math.Float32bits(ty.AI[tr])
	case AIHex:
		typed = ty.AIHex[tr]
	case DIBits:
		typed = ty.DI[tr]
	case DOBits:
		typed = ty.DO[tr]
	case DICount16, DICount32:
		typed = ty.DICount[tr]
	case Count16, Count32:
		typed = ty.Count[tr]
	case UserByte, UserWord, UserDWord:
		typed = ty.User[tr]
	case UserFloat:
		typed = math.Float32bits(ty.UserF[tr])
	}

	wr, wn := rank(func(o ChannelType) bool { return family(o) == family(ct) })
	ws := lay.Words(fs[k])
	fl := lay.Flat(fs)
	var (
		wf []uint32
		ff []uint32
	)
	switch family(ct) {
	case 0:
		wf, ff = ws.AI, fl.AI
	case 1:
		wf = ws.DI
		return typed, wf[wr], binary.LittleEndian.Uint32(fl.DI[4*(k*wn+wr):])
	case 2:
		wf = ws.DO
		return typed, wf[wr], binary.LittleEndian.Uint32(fl.DO[4*(k*wn+wr):])
	case 3:
		wf, ff = ws.DICount, fl.DICount
	case 4:
		wf, ff = ws.Count, fl.Count
	case 5:
		wf, ff = ws.User1, fl.User1
	case 6:
		wf, ff = ws.User2, fl.User2
	}
	return typed, wf[wr], ff[k*wn+wr]
}

func TestProjections(t *testing.T) {
	fs := testFrames(5)
	for k := range fs {
		for i := range testLayout {
			typed, word, flat := slotValues(t, testLayout, fs, k, i)
			want := fs[k].Values[i]
			if typed != want || word != want || flat != want {
				t.Fatalf("frame %d slot %d (%v): typed=0x%x word=0x%x flat=0x%x, want=0x%x",
					k, i, testLayout[i], typed, word, flat, want,
				)
			}
		}
	}

	fl := testLayout.Flat(fs)
	if got, want := fl.N, len(fs); got != want {
		t.Fatalf("invalid number of frames: got=%d, want=%d", got, want)
	}
	if got, want := len(fl.Headers), HeaderWords*len(fs); got != want {
		t.Fatalf("invalid number of header words: got=%d, want=%d", got, want)
	}
	if got, want := fl.Headers[HeaderWords*3+2], uint32(3); got != want {
		t.Fatalf("invalid flat seq: got=%d, want=%d", got, want)
	}
	ws := testLayout.Words(fs[2])
	if got, want := ws.Header, fs[2].Header.Words(); got != want {
		t.Fatalf("invalid word header: got=%v, want=%v", got, want)
	}
}

func TestCodec(t *testing.T) {
	fs := testFrames(3)
	buf := new(bytes.Buffer)
	enc := NewEncoder(buf)
	for _, f := range fs {
		err := enc.Encode(testLayout, f)
		if err != nil {
			t.Fatalf("could not encode frame: %+v", err)
		}
	}

	dec := NewDecoder(bytes.NewReader(buf.Bytes()))
	for i := range fs {
		var (
			lay Layout
			f   Frame
		)
		err := dec.Decode(&lay, &f)
		if err != nil {
			t.Fatalf("could not decode frame %d: %+v", i, err)
		}
		if !lay.Equal(testLayout) {
			t.Fatalf("invalid layout:\ngot= %v\nwant=%v", lay, testLayout)
		}
		if !reflect.DeepEqual(f, fs[i]) {
			t.Fatalf("invalid frame %d:\ngot= %+v\nwant=%+v", i, f, fs[i])
		}
	}

	var (
		lay Layout
		f   Frame
	)
	err := dec.Decode(&lay, &f)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("invalid end-of-stream error: %+v", err)
	}
}

func TestDecoderErrors(t *testing.T) {
	buf := new(bytes.Buffer)
	err := NewEncoder(buf).Encode(testLayout, testFrames(1)[0])
	if err != nil {
		t.Fatalf("could not encode frame: %+v", err)
	}
	raw := buf.Bytes()

	for _, tc := range []struct {
		name string
		raw  func() []byte
	}{
		{
			name: "bad-header",
			raw: func() []byte {
				o := append([]byte(nil), raw...)
				o[0] = 0xb0
				return o
			},
		},
		{
			name: "truncated",
			raw:  func() []byte { return raw[:len(raw)-5] },
		},
		{
			name: "bad-crc",
			raw: func() []byte {
				o := append([]byte(nil), raw...)
				o[len(o)-1] ^= 0xff
				return o
			},
		},
		{
			name: "bad-trailer",
			raw: func() []byte {
				o := append([]byte(nil), raw...)
				o[len(o)-3] = 0
				return o
			},
		},
		{
			name: "bad-value",
			raw: func() []byte {
				o := append([]byte(nil), raw...)
				o[30] ^= 0x1
				return o
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var (
				lay Layout
				f   Frame
			)
			err := NewDecoder(bytes.NewReader(tc.raw())).Decode(&lay, &f)
			if err == nil || errors.Is(err, io.EOF) {
				t.Fatalf("expected a decoding error, got %v", err)
			}
		})
	}

	err = NewEncoder(new(bytes.Buffer)).Encode(testLayout, Frame{Values: []uint32{1}})
	if err == nil {
		t.Fatalf("expected a size mismatch error")
	}
}

func TestPacket(t *testing.T) {
	if got, want := LayerType.String(), "SyncInFrame"; got != want {
		t.Fatalf("invalid layer type: got=%q, want=%q", got, want)
	}

	fs := testFrames(4)
	raw, err := Serialize(testLayout, fs...)
	if err != nil {
		t.Fatalf("could not serialize: %+v", err)
	}

	ls, err := DecodePacket(raw)
	if err != nil {
		t.Fatalf("could not decode packet: %+v", err)
	}
	if got, want := len(ls), len(fs); got != want {
		t.Fatalf("invalid number of frames: got=%d, want=%d", got, want)
	}
	for i, l := range ls {
		if !reflect.DeepEqual(l.Frame, fs[i]) {
			t.Fatalf("invalid frame %d:\ngot= %+v\nwant=%+v", i, l.Frame, fs[i])
		}
	}

	_, err = DecodePacket(raw[:len(raw)-1])
	if err == nil {
		t.Fatalf("expected an error decoding a truncated packet")
	}
}
