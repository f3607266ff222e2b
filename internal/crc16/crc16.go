// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package crc16 implements the 16-bit cyclic redundancy check used to
// protect serialized synchronous-input frames.
package crc16 // import "github.com/go-lpc/hsdaq/internal/crc16"

import (
	"hash"

	"github.com/snksoft/crc"
)

// Size of a CRC-16 checksum in bytes.
const Size = 2

// CCITT is the CRC-16/CCITT-FALSE table (poly 0x1021, init 0xffff).
var CCITT = crc.NewTable(crc.CCITT)

// Hash16 is the common interface implemented by all 16-bit hash functions.
type Hash16 interface {
	hash.Hash
	Sum16() uint16
}

type digest struct {
	tbl *crc.Table
	crc uint64
}

// New creates a new Hash16 computing the CRC-16 checksum using the
// polynomial represented by the table.
// A nil table selects the CCITT table.
func New(tbl *crc.Table) Hash16 {
	if tbl == nil {
		tbl = CCITT
	}
	return &digest{tbl: tbl, crc: tbl.InitCrc()}
}

// Checksum returns the CRC-16 checksum of data using the CCITT table.
func Checksum(data []byte) uint16 {
	return CCITT.CRC16(CCITT.UpdateCrc(CCITT.InitCrc(), data))
}

func (d *digest) Size() int      { return Size }
func (d *digest) BlockSize() int { return 1 }
func (d *digest) Reset()         { d.crc = d.tbl.InitCrc() }

func (d *digest) Write(p []byte) (int, error) {
	d.crc = d.tbl.UpdateCrc(d.crc, p)
	return len(p), nil
}

func (d *digest) Sum16() uint16 { return d.tbl.CRC16(d.crc) }

func (d *digest) Sum(in []byte) []byte {
	s := d.Sum16()
	return append(in, byte(s>>8), byte(s))
}
