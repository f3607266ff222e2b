// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command hsdaq-lcio converts a sync-in frame file to an LCIO one, and back.
package main // import "github.com/go-lpc/hsdaq/cmd/hsdaq-lcio"

import (
	"compress/flate"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-lpc/hsdaq/frame"
	"github.com/go-lpc/hsdaq/internal/xcnv"
	"go-hep.org/x/hep/lcio"
)

var (
	msg = log.New(os.Stdout, "hsdaq-lcio: ", 0)
)

func main() {
	var (
		oname = flag.String("o", "", "path to output file")
		compr = flag.Int("lvl", flate.DefaultCompression, "compression level for output LCIO file")
	)

	flag.Usage = func() {
		fmt.Printf(`Usage: hsdaq-lcio [OPTIONS] file

hsdaq-lcio converts a frame file (hsdaq_<run>.frames) to LCIO,
or an LCIO file (*.lcio) back to frames.

ex:
 $> hsdaq-lcio -o out.lcio -lvl=9 ./hsdaq_042.frames
 $> hsdaq-lcio -o out.frames ./hsdaq_042.lcio

options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		msg.Fatalf("missing input file")
	}

	err := process(*oname, *compr, flag.Arg(0))
	if err != nil {
		msg.Fatalf("could not convert %q: %+v", flag.Arg(0), err)
	}
}

func process(oname string, lvl int, fname string) error {
	if strings.HasSuffix(fname, ".lcio") {
		if oname == "" {
			oname = strings.TrimSuffix(fname, ".lcio") + ".frames"
		}
		return toFrames(oname, fname)
	}
	if oname == "" {
		oname = strings.TrimSuffix(fname, filepath.Ext(fname)) + ".lcio"
	}
	return toLCIO(oname, lvl, fname)
}

func toLCIO(oname string, lvl int, fname string) error {
	f, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open frame file: %w", err)
	}
	defer f.Close()

	run, err := runNbrFrom(fname)
	if err != nil {
		return fmt.Errorf("could not infer run from %q: %w", fname, err)
	}

	w, err := lcio.Create(oname)
	if err != nil {
		return fmt.Errorf("could not create output LCIO file: %w", err)
	}
	defer w.Close()

	w.SetCompressionLevel(lvl)

	err = xcnv.Frames2LCIO(w, frame.NewDecoder(f), run, msg)
	if err != nil {
		return fmt.Errorf("could not convert frames to LCIO: %w", err)
	}

	err = w.Close()
	if err != nil {
		return fmt.Errorf("could not close output LCIO file: %w", err)
	}

	return nil
}

func toFrames(oname, fname string) error {
	n, err := numEvents(fname)
	if err != nil {
		return fmt.Errorf("could not assess number of events: %w", err)
	}
	msg.Printf("input:  %s", fname)
	msg.Printf("events: %d", n)

	r, err := lcio.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open LCIO file: %w", err)
	}
	defer r.Close()

	f, err := os.Create(oname)
	if err != nil {
		return fmt.Errorf("could not create output frame file: %w", err)
	}
	defer f.Close()

	freq := int(n / 10)
	if freq <= 0 {
		freq = 1
	}
	err = xcnv.LCIO2Frames(f, r, freq, msg)
	if err != nil {
		return fmt.Errorf("could not convert LCIO to frames: %w", err)
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("could not close output frame file: %w", err)
	}
	return nil
}

func numEvents(fname string) (int64, error) {
	r, err := lcio.Open(fname)
	if err != nil {
		return 0, fmt.Errorf("could not open %q: %w", fname, err)
	}
	defer r.Close()

	var n int64
	for r.Next() {
		n++
	}

	err = r.Err()
	if err != nil && err != io.EOF {
		return 0, fmt.Errorf("could not assess number of events in %q: %w", fname, err)
	}

	return n, nil
}

func runNbrFrom(fname string) (int32, error) {
	var (
		name = filepath.Base(fname)
		run  int32
	)
	_, err := fmt.Sscanf(name, "hsdaq_%d.frames", &run)
	return run, err
}
