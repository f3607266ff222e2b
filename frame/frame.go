// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package frame holds the synchronous-input frame model: the channel types
// a frame may carry, the canonical frame representation, the projections
// of frames into typed, word and flat layouts, and the frame wire codec.
package frame // import "github.com/go-lpc/hsdaq/frame"

import (
	"fmt"
	"strings"
)

// ChannelType is the kind of value carried by a frame slot.
type ChannelType uint8

const (
	AI        ChannelType = iota // calibrated analog input (float32)
	AIHex                        // raw analog input code
	DICount16                    // 16-bit digital-input counter
	Count16                      // 16-bit counter
	DICount32                    // 32-bit digital-input counter
	Count32                      // 32-bit counter
	DIBits                       // digital input port, one bit per line
	DOBits                       // digital output port, one bit per line
	UserByte                     // user supplied 8-bit field
	UserWord                     // user supplied 16-bit field
	UserDWord                    // user supplied 32-bit field
	UserFloat                    // user supplied float32 field

	nTypes
)

var typeNames = [nTypes]string{
	AI:        "ai",
	AIHex:     "ai-hex",
	DICount16: "di-count16",
	Count16:   "count16",
	DICount32: "di-count32",
	Count32:   "count32",
	DIBits:    "di",
	DOBits:    "do",
	UserByte:  "user-byte",
	UserWord:  "user-word",
	UserDWord: "user-dword",
	UserFloat: "user-float",
}

var typeSizes = [nTypes]int{
	AI:        4,
	AIHex:     4,
	DICount16: 2,
	Count16:   2,
	DICount32: 4,
	Count32:   4,
	DIBits:    4,
	DOBits:    4,
	UserByte:  1,
	UserWord:  2,
	UserDWord: 4,
	UserFloat: 4,
}

// Valid reports whether t is a known channel type.
func (t ChannelType) Valid() bool { return t < nTypes }

// Size returns the number of bytes a value of type t occupies on the wire.
func (t ChannelType) Size() int { return typeSizes[t] }

// Mask returns the mask of the significant bits of a value of type t.
func (t ChannelType) Mask() uint32 {
	switch t.Size() {
	case 1:
		return 0xff
	case 2:
		return 0xffff
	default:
		return 0xffffffff
	}
}

func (t ChannelType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("ChannelType(%d)", uint8(t))
	}
	return typeNames[t]
}

// ParseChannelType parses the name of a channel type.
func ParseChannelType(s string) (ChannelType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range typeNames {
		if name == s {
			return ChannelType(i), nil
		}
	}
	return 0, fmt.Errorf("frame: unknown channel type %q", s)
}

// IsCounter reports whether t is read from the counter subsystem.
func (t ChannelType) IsCounter() bool {
	switch t {
	case DICount16, Count16, DICount32, Count32:
		return true
	}
	return false
}

// IsUser reports whether t is an externally supplied user field.
func (t ChannelType) IsUser() bool {
	switch t {
	case UserByte, UserWord, UserDWord, UserFloat:
		return true
	}
	return false
}

// Channel is one slot of a frame layout.
type Channel struct {
	Type  ChannelType
	Index int
}

func (ch Channel) String() string { return fmt.Sprintf("%v[%d]", ch.Type, ch.Index) }

// Layout is the ordered list of channels making up a frame.
type Layout []Channel

// Validate checks the layout is not empty and only holds known types.
func (lay Layout) Validate() error {
	if len(lay) == 0 {
		return fmt.Errorf("frame: empty layout")
	}
	if len(lay) > 0xffff {
		return fmt.Errorf("frame: too many channels (%d)", len(lay))
	}
	for i, ch := range lay {
		if !ch.Type.Valid() {
			return fmt.Errorf("frame: slot %d has invalid type %v", i, ch.Type)
		}
		if ch.Index < 0 || ch.Index > 0xff {
			return fmt.Errorf("frame: slot %d has invalid index %d", i, ch.Index)
		}
	}
	return nil
}

// Equal reports whether both layouts are identical.
func (lay Layout) Equal(o Layout) bool {
	if len(lay) != len(o) {
		return false
	}
	for i := range lay {
		if lay[i] != o[i] {
			return false
		}
	}
	return true
}

// HeaderWords is the number of 32-bit words of a frame header.
const HeaderWords = 4

// Header is the packet header shared by all the values of a frame.
type Header struct {
	Marker  uint32 // configured sync-in header word
	Session uint32
	Seq     uint32
	Time    uint32 // packed daqtime word
}

// Words returns the header as 32-bit words.
func (hdr Header) Words() [HeaderWords]uint32 {
	return [HeaderWords]uint32{hdr.Marker, hdr.Session, hdr.Seq, hdr.Time}
}

// Frame is one synchronized snapshot across a layout.
// Values holds one canonical 32-bit word per layout slot, in declared
// order; float values are stored as their IEEE-754 bits.
type Frame struct {
	Header Header
	Values []uint32
}
