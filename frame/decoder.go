// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-lpc/hsdaq/internal/crc16"
)

// Decoder reads (and validates) frames from an underlying data source.
type Decoder struct {
	r io.Reader

	n   int // bytes consumed by the last Decode
	buf []byte
	err error
	crc crc16.Hash16
}

// NewDecoder creates a decoder that reads and validates data from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:   r,
		buf: make([]byte, 4),
		crc: crc16.New(nil),
	}
}

// Decode reads the next frame and its layout from the stream.
// Decode returns io.EOF when the stream holds no more frames.
func (dec *Decoder) Decode(lay *Layout, f *Frame) error {
	dec.crc.Reset()
	dec.n = 0

	v := dec.readU8()
	if dec.err != nil {
		if errors.Is(dec.err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("frame: could not read header marker: %w", dec.err)
	}
	if v != frHeader {
		return fmt.Errorf("frame: invalid header marker (got=0x%x, want=0x%x)", v, frHeader)
	}

	f.Header.Marker = dec.readU32()
	f.Header.Session = dec.readU32()
	f.Header.Seq = dec.readU32()
	f.Header.Time = dec.readU32()
	n := int(dec.readU16())
	if dec.err != nil {
		return fmt.Errorf("frame: could not read frame header: %w", dec.unexpected())
	}

	*lay = (*lay)[:0]
	for i := 0; i < n; i++ {
		t := ChannelType(dec.readU8())
		idx := int(dec.readU8())
		if dec.err == nil && !t.Valid() {
			return fmt.Errorf("frame: slot %d has invalid type %d", i, t)
		}
		*lay = append(*lay, Channel{Type: t, Index: idx})
	}
	if dec.err != nil {
		return fmt.Errorf("frame: could not read frame layout: %w", dec.unexpected())
	}

	f.Values = f.Values[:0]
	for _, ch := range *lay {
		var v uint32
		switch ch.Type.Size() {
		case 1:
			v = uint32(dec.readU8())
		case 2:
			v = uint32(dec.readU16())
		default:
			v = dec.readU32()
		}
		f.Values = append(f.Values, v)
	}

	v = dec.readU8()
	if dec.err != nil {
		return fmt.Errorf("frame: could not read frame values: %w", dec.unexpected())
	}
	if v != frTrailer {
		return fmt.Errorf("frame: invalid trailer marker (got=0x%x, want=0x%x)", v, frTrailer)
	}

	var (
		comp = dec.crc.Sum16()
		recv = dec.readU16()
	)
	if dec.err != nil {
		return fmt.Errorf("frame: could not read CRC-16: %w", dec.unexpected())
	}
	if comp != recv {
		return fmt.Errorf("frame: inconsistent CRC: recv=0x%04x comp=0x%04x", recv, comp)
	}
	return nil
}

func (dec *Decoder) unexpected() error {
	if errors.Is(dec.err, io.EOF) {
		dec.err = io.ErrUnexpectedEOF
	}
	return dec.err
}

func (dec *Decoder) read(p []byte) {
	if dec.err != nil {
		return
	}
	var n int
	n, dec.err = io.ReadFull(dec.r, p)
	dec.n += n
	_, _ = dec.crc.Write(p[:n])
}

func (dec *Decoder) readU8() uint8 {
	dec.read(dec.buf[:1])
	return dec.buf[0]
}

func (dec *Decoder) readU16() uint16 {
	dec.read(dec.buf[:2])
	return binary.BigEndian.Uint16(dec.buf[:2])
}

func (dec *Decoder) readU32() uint32 {
	dec.read(dec.buf[:4])
	return binary.BigEndian.Uint32(dec.buf[:4])
}
