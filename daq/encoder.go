// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import "fmt"

// EncoderMode selects how encoder inputs are decoded.
type EncoderMode uint8

const (
	EncoderDisabled   EncoderMode = iota
	EncoderCWCCW                  // A counts up, B counts down
	EncoderPulseDir               // A is the pulse, B the direction
	EncoderQuadrature             // A and B in quadrature
	nEncoderModes
)

func (m EncoderMode) String() string {
	switch m {
	case EncoderDisabled:
		return "disabled"
	case EncoderCWCCW:
		return "cw-ccw"
	case EncoderPulseDir:
		return "pulse-dir"
	case EncoderQuadrature:
		return "quadrature"
	}
	return fmt.Sprintf("EncoderMode(%d)", uint8(m))
}

// MaxLowPass is the largest encoder low-pass filter setting.
const MaxLowPass = 7

// EncoderConfig configures an encoder channel.
type EncoderConfig struct {
	Mode    EncoderMode `json:"mode"`
	LowPass uint8       `json:"low_pass"` // number of samples an input level must be stable
	Xor     uint8       `json:"xor"`      // input polarity inversion
}

// Validate checks the configuration.
func (cfg EncoderConfig) Validate() error {
	switch {
	case cfg.Mode >= nEncoderModes:
		return fmt.Errorf("invalid encoder mode %v", cfg.Mode)
	case cfg.LowPass > MaxLowPass:
		return fmt.Errorf("invalid encoder low-pass filter %d", cfg.LowPass)
	case cfg.Xor > 1:
		return fmt.Errorf("invalid encoder xor polarity %d", cfg.Xor)
	case cfg.Mode == EncoderDisabled && cfg.LowPass != 0:
		return fmt.Errorf("low-pass filter %d set on disabled encoder", cfg.LowPass)
	}
	return nil
}

// line is a debounced encoder input.
type line struct {
	level bool
	cand  bool
	n     int
}

func (l *line) update(v bool, lpf int) bool {
	if v == l.level {
		l.n = 0
		return false
	}
	if v != l.cand || l.n == 0 {
		l.cand = v
		l.n = 0
	}
	l.n++
	if l.n < lpf {
		return false
	}
	l.level = v
	l.n = 0
	return true
}

type encoder struct {
	cfg   EncoderConfig
	a, b  line
	init  bool
	value int32
}

// quadrature position of the (a,b) states, A leading B when counting up.
var quadPos = [4]int{0b00: 0, 0b10: 1, 0b11: 2, 0b01: 3}

func (enc *encoder) input(a, b bool) {
	if enc.cfg.Mode == EncoderDisabled {
		return
	}
	if enc.cfg.Xor == 1 {
		a, b = !a, !b
	}
	if !enc.init {
		enc.a = line{level: a}
		enc.b = line{level: b}
		enc.init = true
		return
	}

	lpf := int(enc.cfg.LowPass)
	oa, ob := enc.a.level, enc.b.level
	ca := enc.a.update(a, lpf)
	cb := enc.b.update(b, lpf)
	if !ca && !cb {
		return
	}
	na, nb := enc.a.level, enc.b.level

	switch enc.cfg.Mode {
	case EncoderCWCCW:
		if ca && na {
			enc.value++
		}
		if cb && nb {
			enc.value--
		}
	case EncoderPulseDir:
		if ca && na {
			if nb {
				enc.value--
			} else {
				enc.value++
			}
		}
	case EncoderQuadrature:
		from := quadPos[b2i(oa)<<1|b2i(ob)]
		to := quadPos[b2i(na)<<1|b2i(nb)]
		switch (to - from + 4) % 4 {
		case 1:
			enc.value++
		case 3:
			enc.value--
		}
	}
}

func b2i(v bool) int {
	if v {
		return 1
	}
	return 0
}

func (cs *counters) encoder(ch int) (*encoder, Code, error) {
	if len(cs.enc) == 0 {
		return nil, ErrFunctionNotSupport, fmt.Errorf("no encoder channel")
	}
	if ch < 0 || ch >= len(cs.enc) {
		return nil, ErrIOChannelOutOfRange, fmt.Errorf("encoder channel %d not in [0, %d)", ch, len(cs.enc))
	}
	return &cs.enc[ch], ErrSuccess, nil
}

func (cs *counters) setEncoder(ch int, cfg EncoderConfig) (Code, error) {
	if err := cfg.Validate(); err != nil {
		return ErrIOOperationMode, err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	enc, code, err := cs.encoder(ch)
	if err != nil {
		return code, err
	}
	*enc = encoder{cfg: cfg}
	return ErrSuccess, nil
}

func (cs *counters) encoderConfig(ch int) (EncoderConfig, Code, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	enc, code, err := cs.encoder(ch)
	if err != nil {
		return EncoderConfig{}, code, err
	}
	return enc.cfg, ErrSuccess, nil
}

func (cs *counters) encoderInput(ch int, a, b bool) (Code, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	enc, code, err := cs.encoder(ch)
	if err != nil {
		return code, err
	}
	enc.input(a, b)
	return ErrSuccess, nil
}

func (cs *counters) readEncoder(ch int) (int32, Code, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	enc, code, err := cs.encoder(ch)
	if err != nil {
		return 0, code, err
	}
	return enc.value, ErrSuccess, nil
}

func (cs *counters) clearEncoder(ch int) (Code, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	enc, code, err := cs.encoder(ch)
	if err != nil {
		return code, err
	}
	enc.value = 0
	return ErrSuccess, nil
}
