// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xcnv provides tools to convert sync-in frame streams to/from LCIO.
//
// Each frame is stored as an LCIO event holding a single generic object
// under the FrameCollection name. Its integer data is laid out as:
//
//	marker, session, seq, time, n, n×(type<<8 | index), n×value
//
// and its float data holds the float-typed values (AI and user floats),
// in layout order.
package xcnv // import "github.com/go-lpc/hsdaq/internal/xcnv"

import (
	"errors"
	"fmt"
	"io"
	"log"
	"math"

	"github.com/go-lpc/hsdaq/frame"
	"go-hep.org/x/hep/lcio"
)

const (
	// FrameCollection is the name of the LCIO collection holding a frame.
	FrameCollection = "HSDAQ_FRAME"

	detector = "HSDAQ"
)

// Frames2LCIO converts the frames read from dec into LCIO events.
func Frames2LCIO(w *lcio.Writer, dec *frame.Decoder, run int32, msg *log.Logger) error {
	var (
		lay frame.Layout
		fr  frame.Frame
		raw = &lcio.GenericObject{
			Data: []lcio.GenericObjectData{{}},
		}
	)

loop:
	for i := 0; ; i++ {
		if i%1000 == 0 {
			msg.Printf("processing frame %d...", i)
		}
		err := dec.Decode(&lay, &fr)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break loop
			}
			return fmt.Errorf("could not decode frame %d: %w", i, err)
		}

		if i == 0 {
			err = w.WriteRunHeader(&lcio.RunHeader{
				RunNumber: run,
				Detector:  detector,
				Params: lcio.Params{
					Ints: map[string][]int32{
						"Session": {int32(fr.Header.Session)},
						"Marker":  {int32(fr.Header.Marker)},
					},
					Strings: map[string][]string{
						"Layout": layoutNames(lay),
					},
				},
			})
			if err != nil {
				return fmt.Errorf("could not write run header: %w", err)
			}
		}

		evt := lcio.Event{
			RunNumber:   run,
			EventNumber: int32(fr.Header.Seq),
			TimeStamp:   int64(fr.Header.Time),
			Detector:    detector,
		}
		raw.Data[0].I32s = i32sFrom(raw.Data[0].I32s[:0], lay, fr)
		raw.Data[0].F32s = f32sFrom(raw.Data[0].F32s[:0], lay, fr)
		evt.Add(FrameCollection, raw)

		err = w.WriteEvent(&evt)
		if err != nil {
			return fmt.Errorf("could not write frame %d: %w", i, err)
		}
	}

	return nil
}

// LCIO2Frames converts the LCIO events read from r back into frames.
func LCIO2Frames(w io.Writer, r *lcio.Reader, freq int, msg *log.Logger) error {
	var (
		enc = frame.NewEncoder(w)
		lay frame.Layout
		fr  frame.Frame
		i   = 0
	)

	for r.Next() {
		if i%freq == 0 {
			msg.Printf("processing evt %d...", i)
		}
		evt := r.Event()
		obj, ok := evt.Get(FrameCollection).(*lcio.GenericObject)
		if !ok || len(obj.Data) == 0 {
			return fmt.Errorf("event %d has no %s collection", evt.EventNumber, FrameCollection)
		}
		err := fromI32s(&lay, &fr, obj.Data[0].I32s)
		if err != nil {
			return fmt.Errorf("could not decode event %d: %w", evt.EventNumber, err)
		}
		err = enc.Encode(lay, fr)
		if err != nil {
			return fmt.Errorf("could not re-encode frame: %w", err)
		}
		i++
	}

	err := r.Err()
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("could not read LCIO events: %w", err)
	}
	return nil
}

func i32sFrom(dst []int32, lay frame.Layout, fr frame.Frame) []int32 {
	for _, v := range fr.Header.Words() {
		dst = append(dst, int32(v))
	}
	dst = append(dst, int32(len(lay)))
	for _, ch := range lay {
		dst = append(dst, int32(ch.Type)<<8|int32(ch.Index))
	}
	for _, v := range fr.Values {
		dst = append(dst, int32(v))
	}
	return dst
}

func f32sFrom(dst []float32, lay frame.Layout, fr frame.Frame) []float32 {
	for i, ch := range lay {
		switch ch.Type {
		case frame.AI, frame.UserFloat:
			dst = append(dst, math.Float32frombits(fr.Values[i]))
		}
	}
	return dst
}

func fromI32s(lay *frame.Layout, fr *frame.Frame, raw []int32) error {
	const hdr = frame.HeaderWords + 1
	if len(raw) < hdr {
		return fmt.Errorf("short frame data (%d words)", len(raw))
	}
	n := int(raw[frame.HeaderWords])
	if len(raw) != hdr+2*n {
		return fmt.Errorf("invalid frame data size (got=%d, want=%d)", len(raw), hdr+2*n)
	}

	fr.Header = frame.Header{
		Marker:  uint32(raw[0]),
		Session: uint32(raw[1]),
		Seq:     uint32(raw[2]),
		Time:    uint32(raw[3]),
	}
	*lay = (*lay)[:0]
	for _, v := range raw[hdr : hdr+n] {
		*lay = append(*lay, frame.Channel{
			Type:  frame.ChannelType(v >> 8),
			Index: int(v & 0xff),
		})
	}
	fr.Values = fr.Values[:0]
	for _, v := range raw[hdr+n:] {
		fr.Values = append(fr.Values, uint32(v))
	}
	return nil
}

func layoutNames(lay frame.Layout) []string {
	o := make([]string, len(lay))
	for i, ch := range lay {
		o[i] = ch.String()
	}
	return o
}
