// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package quicklook fills per-channel histograms of acquired samples for
// online monitoring.
package quicklook // import "github.com/go-lpc/hsdaq/quicklook"

import (
	"bytes"
	"fmt"
	"sync"

	"go-hep.org/x/hep/hbook"
)

// Monitor histograms the samples of an nch-channel scan.
type Monitor struct {
	mu   sync.Mutex
	nch  int
	bins int
	lo   float64
	hi   float64
	hs   []*hbook.H1D
}

// New returns a monitor with one histogram of bins bins over [lo, hi) per
// channel.
func New(nch, bins int, lo, hi float64) (*Monitor, error) {
	switch {
	case nch <= 0:
		return nil, fmt.Errorf("quicklook: invalid number of channels (%d)", nch)
	case bins <= 0:
		return nil, fmt.Errorf("quicklook: invalid number of bins (%d)", bins)
	case hi <= lo:
		return nil, fmt.Errorf("quicklook: invalid range [%g, %g)", lo, hi)
	}
	m := &Monitor{nch: nch, bins: bins, lo: lo, hi: hi}
	m.reset()
	return m, nil
}

func (m *Monitor) reset() {
	m.hs = make([]*hbook.H1D, m.nch)
	for i := range m.hs {
		h := hbook.NewH1D(m.bins, m.lo, m.hi)
		h.Annotation()["name"] = fmt.Sprintf("ch%02d", i)
		h.Annotation()["title"] = fmt.Sprintf("AI channel %d [V]", i)
		m.hs[i] = h
	}
}

// Fill histograms the samples vs, first being the index of vs[0] since the
// start of the scan. Fill can be used as a daq.Sink.
func (m *Monitor) Fill(first uint64, vs []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := int(first % uint64(m.nch))
	for _, v := range vs {
		m.hs[ch].Fill(float64(v), 1)
		ch++
		if ch == m.nch {
			ch = 0
		}
	}
	return nil
}

// FillChannel histograms the samples vs of channel ch.
func (m *Monitor) FillChannel(ch int, vs ...float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ch < 0 || ch >= m.nch {
		return fmt.Errorf("quicklook: invalid channel %d", ch)
	}
	for _, v := range vs {
		m.hs[ch].Fill(float64(v), 1)
	}
	return nil
}

// Reset clears all histograms.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
}

// Stats summarizes the samples of a channel.
type Stats struct {
	Channel int     `json:"channel"`
	Entries int64   `json:"entries"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"stddev"`
}

// Summary returns the statistics of all channels.
// Mean and StdDev are zero for channels with less than two entries.
func (m *Monitor) Summary() []Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	o := make([]Stats, len(m.hs))
	for i, h := range m.hs {
		o[i] = Stats{Channel: i, Entries: h.Entries()}
		if o[i].Entries > 1 {
			o[i].Mean = h.XMean()
			o[i].StdDev = h.XStdDev()
		}
	}
	return o
}

// MarshalYODA encodes all histograms in the YODA format.
func (m *Monitor) MarshalYODA() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var buf bytes.Buffer
	for i, h := range m.hs {
		raw, err := h.MarshalYODA()
		if err != nil {
			return nil, fmt.Errorf("quicklook: could not marshal channel %d: %w", i, err)
		}
		buf.Write(raw)
	}
	return buf.Bytes(), nil
}
