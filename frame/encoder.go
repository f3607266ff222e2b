// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package frame

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-lpc/hsdaq/internal/crc16"
)

const (
	frHeader  = 0xb5 // frame header marker
	frTrailer = 0xa5 // frame trailer marker
)

// Encoder writes frames to an output stream.
// Encoder computes the CRC-16 checksum of each frame on the fly and
// appends it after the frame trailer.
//
// A frame is laid out (big-endian) as:
//
//	u8 header marker, 4×u32 header words, u16 n,
//	n×(u8 type, u8 index), n values of type-dependent size,
//	u8 trailer marker, u16 crc.
type Encoder struct {
	w   io.Writer
	buf []byte
	err error
	crc crc16.Hash16
}

// NewEncoder returns a new Encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		w:   w,
		buf: make([]byte, 4),
		crc: crc16.New(nil),
	}
}

// Encode writes the frame with the given layout to the stream.
func (enc *Encoder) Encode(lay Layout, f Frame) error {
	if len(f.Values) != len(lay) {
		return fmt.Errorf("frame: layout/values size mismatch (%d != %d)", len(lay), len(f.Values))
	}
	if err := lay.Validate(); err != nil {
		return err
	}

	enc.crc.Reset()

	enc.writeU8(frHeader)
	if enc.err != nil {
		return fmt.Errorf("frame: could not write header marker: %w", enc.err)
	}

	for _, w := range f.Header.Words() {
		enc.writeU32(w)
	}
	enc.writeU16(uint16(len(lay)))
	for _, ch := range lay {
		enc.writeU8(uint8(ch.Type))
		enc.writeU8(uint8(ch.Index))
	}
	for i, ch := range lay {
		v := f.Values[i]
		switch ch.Type.Size() {
		case 1:
			enc.writeU8(uint8(v))
		case 2:
			enc.writeU16(uint16(v))
		default:
			enc.writeU32(v)
		}
	}
	enc.writeU8(frTrailer)

	crc := enc.crc.Sum16()
	enc.writeU16(crc)

	if enc.err != nil {
		return fmt.Errorf("frame: could not encode frame seq=%d: %w", f.Header.Seq, enc.err)
	}
	return nil
}

func (enc *Encoder) write(p []byte) {
	if enc.err != nil {
		return
	}
	_, enc.err = enc.w.Write(p)
	_, _ = enc.crc.Write(p) // can not fail.
}

func (enc *Encoder) writeU8(v uint8) {
	enc.buf[0] = v
	enc.write(enc.buf[:1])
}

func (enc *Encoder) writeU16(v uint16) {
	binary.BigEndian.PutUint16(enc.buf[:2], v)
	enc.write(enc.buf[:2])
}

func (enc *Encoder) writeU32(v uint32) {
	binary.BigEndian.PutUint32(enc.buf[:4], v)
	enc.write(enc.buf[:4])
}
