// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package frame

import (
	"encoding/binary"
	"math"
)

// Typed is the typed projection of one frame: one slice per channel type
// family, each in declared order.
type Typed struct {
	Header  Header
	AI      []float32
	AIHex   []uint32
	DI      []uint32
	DO      []uint32
	DICount []uint32
	Count   []uint32
	User    []uint32 // byte, word and dword user fields
	UserF   []float32
}

// Typed returns the typed projection of f.
func (lay Layout) Typed(f Frame) Typed {
	o := Typed{Header: f.Header}
	for i, ch := range lay {
		v := f.Values[i]
		switch ch.Type {
		case AI:
			o.AI = append(o.AI, math.Float32frombits(v))
		case AIHex:
			o.AIHex = append(o.AIHex, v)
		case DIBits:
			o.DI = append(o.DI, v)
		case DOBits:
			o.DO = append(o.DO, v)
		case DICount16, DICount32:
			o.DICount = append(o.DICount, v)
		case Count16, Count32:
			o.Count = append(o.Count, v)
		case UserByte, UserWord, UserDWord:
			o.User = append(o.User, v)
		case UserFloat:
			o.UserF = append(o.UserF, math.Float32frombits(v))
		}
	}
	return o
}

// Words is the 32-bit word projection of one frame.
type Words struct {
	Header  [HeaderWords]uint32
	AI      []uint32 // float bits for AI, codes for AIHex
	DI      []uint32
	DO      []uint32
	DICount []uint32
	Count   []uint32
	User1   []uint32 // byte, word and dword user fields
	User2   []uint32 // float user fields
}

// Words returns the 32-bit word projection of f.
func (lay Layout) Words(f Frame) Words {
	o := Words{Header: f.Header.Words()}
	for i, ch := range lay {
		lay.appendWord(&o.AI, &o.DI, &o.DO, &o.DICount, &o.Count, &o.User1, &o.User2, ch.Type, f.Values[i])
	}
	return o
}

func (Layout) appendWord(ai, di, do, dicnt, cnt, ud1, ud2 *[]uint32, t ChannelType, v uint32) {
	switch t {
	case AI, AIHex:
		*ai = append(*ai, v)
	case DIBits:
		*di = append(*di, v)
	case DOBits:
		*do = append(*do, v)
	case DICount16, DICount32:
		*dicnt = append(*dicnt, v)
	case Count16, Count32:
		*cnt = append(*cnt, v)
	case UserByte, UserWord, UserDWord:
		*ud1 = append(*ud1, v)
	case UserFloat:
		*ud2 = append(*ud2, v)
	}
}

// Flat is the flat-array projection of a run of frames: one contiguous
// array per family with frames concatenated, as expected by graphical
// environments that cannot handle nested arrays.
// Digital ports are stored as 4 little-endian bytes each.
type Flat struct {
	N       int // number of frames
	Headers []uint32
	AI      []uint32
	DI      []byte
	DO      []byte
	DICount []uint32
	Count   []uint32
	User1   []uint32
	User2   []uint32
}

// Flat returns the flat-array projection of fs.
func (lay Layout) Flat(fs []Frame) Flat {
	o := Flat{N: len(fs)}
	var di, do []uint32
	for _, f := range fs {
		hdr := f.Header.Words()
		o.Headers = append(o.Headers, hdr[:]...)
		for i, ch := range lay {
			lay.appendWord(&o.AI, &di, &do, &o.DICount, &o.Count, &o.User1, &o.User2, ch.Type, f.Values[i])
		}
	}
	o.DI = portBytes(di)
	o.DO = portBytes(do)
	return o
}

func portBytes(ws []uint32) []byte {
	if len(ws) == 0 {
		return nil
	}
	o := make([]byte, 4*len(ws))
	for i, w := range ws {
		binary.LittleEndian.PutUint32(o[4*i:], w)
	}
	return o
}
