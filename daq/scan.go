// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"fmt"
	"strings"
)

// TriggerMode selects when samples are admitted into the buffer.
type TriggerMode uint8

const (
	TrigSoftware       TriggerMode = iota // capture starts immediately
	TrigExternal                          // capture starts on an external trigger edge
	TrigPost                              // samples at and after the trigger event
	TrigPre                               // samples before the trigger event
	TrigMid                               // samples around the trigger event
	TrigDelay                             // samples after a delay following the trigger event
	TrigAI                                // window around an analog threshold crossing
	TrigContinuousPost                    // post-trigger capture without target
	nTrigModes
)

var trigNames = [...]string{
	TrigSoftware:       "software",
	TrigExternal:       "external",
	TrigPost:           "post",
	TrigPre:            "pre",
	TrigMid:            "mid",
	TrigDelay:          "delay",
	TrigAI:             "ai",
	TrigContinuousPost: "continuous-post",
}

func (m TriggerMode) String() string {
	if m < nTrigModes {
		return trigNames[m]
	}
	return fmt.Sprintf("TriggerMode(%d)", uint8(m))
}

// ParseTriggerMode returns the trigger mode with the given name.
func ParseTriggerMode(name string) (TriggerMode, error) {
	for i, v := range trigNames {
		if strings.EqualFold(v, name) {
			return TriggerMode(i), nil
		}
	}
	return 0, fmt.Errorf("daq: unknown trigger mode %q", name)
}

func (m TriggerMode) MarshalText() ([]byte, error) {
	if m >= nTrigModes {
		return nil, fmt.Errorf("daq: invalid trigger mode %d", uint8(m))
	}
	return []byte(m.String()), nil
}

func (m *TriggerMode) UnmarshalText(p []byte) error {
	v, err := ParseTriggerMode(string(p))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Continuous reports whether a scan in this mode may run without target.
func (m TriggerMode) Continuous() bool {
	switch m {
	case TrigSoftware, TrigExternal, TrigContinuousPost:
		return true
	}
	return false
}

func (m TriggerMode) window() bool {
	switch m {
	case TrigPre, TrigMid, TrigAI:
		return true
	}
	return false
}

// TransferMethod selects how the device transport ships samples.
type TransferMethod uint8

const (
	TransferStream TransferMethod = iota // samples streamed as acquired
	TransferBlock                        // samples shipped by blocks
)

// ScanConfig describes a scan.
//
// TargetCount is expressed in samples and must be a whole number of scans.
// A zero TargetCount selects an unbounded scan, only valid for continuous
// trigger modes, or a capture sized by the analog trigger windows.
type ScanConfig struct {
	ChannelCount   int            `json:"channel_count"`
	Gain           int            `json:"gain"`
	TriggerMode    TriggerMode    `json:"trigger_mode"`
	SampleRate     int            `json:"sample_rate"` // scans per second
	TargetCount    int            `json:"target_count"`
	TransferMethod TransferMethod `json:"transfer_method"`
	AutoRun        bool           `json:"auto_run"`
}

func (cfg ScanConfig) validate(m Model, ngains int) (Code, error) {
	switch {
	case cfg.ChannelCount < 1 || cfg.ChannelCount > m.AIChannels:
		return ErrIOChannelOutOfRange, fmt.Errorf("channel count %d not in [1, %d]", cfg.ChannelCount, m.AIChannels)
	case cfg.Gain < 0 || cfg.Gain >= ngains:
		return ErrIOGain, fmt.Errorf("gain %d not in [0, %d)", cfg.Gain, ngains)
	case cfg.TriggerMode >= nTrigModes:
		return ErrIOOperationMode, fmt.Errorf("invalid trigger mode %v", cfg.TriggerMode)
	case cfg.SampleRate <= 0 || cfg.SampleRate*cfg.ChannelCount > m.MaxRate:
		return ErrIOValueOutOfRange, fmt.Errorf("sample rate %d not supported with %d channels", cfg.SampleRate, cfg.ChannelCount)
	case cfg.TargetCount < 0:
		return ErrInvalidParameter, fmt.Errorf("negative target count %d", cfg.TargetCount)
	case cfg.TargetCount == 0 && !cfg.TriggerMode.Continuous() && !cfg.TriggerMode.window():
		return ErrInvalidParameter, fmt.Errorf("trigger mode %v requires a target count", cfg.TriggerMode)
	case cfg.TargetCount%cfg.ChannelCount != 0:
		return ErrInvalidParameter, fmt.Errorf("target count %d not a multiple of %d channels", cfg.TargetCount, cfg.ChannelCount)
	case cfg.TransferMethod > TransferBlock:
		return ErrInvalidParameter, fmt.Errorf("invalid transfer method %d", cfg.TransferMethod)
	}
	return ErrSuccess, nil
}

// AnalogMode selects the crossing direction of an analog trigger.
type AnalogMode uint8

const (
	AnalogRising  AnalogMode = iota // value crosses the high threshold upwards
	AnalogFalling                   // value crosses the low threshold downwards
	AnalogEither                    // any of the two
)

func (m AnalogMode) String() string {
	switch m {
	case AnalogRising:
		return "rising"
	case AnalogFalling:
		return "falling"
	case AnalogEither:
		return "either"
	}
	return fmt.Sprintf("AnalogMode(%d)", uint8(m))
}

// AnalogTriggerConfig configures the analog threshold trigger.
// Left and Right are the pre- and post-trigger windows, in scans.
type AnalogTriggerConfig struct {
	Mode     AnalogMode `json:"mode"`
	Channels []int      `json:"channels"`
	High     []float32  `json:"high"`
	Low      []float32  `json:"low"`
	Left     int        `json:"left"`
	Right    int        `json:"right"`
}

func (cfg AnalogTriggerConfig) validate(m Model) (Code, error) {
	switch {
	case cfg.Mode > AnalogEither:
		return ErrIOAnalogMode, fmt.Errorf("invalid analog mode %v", cfg.Mode)
	case len(cfg.Channels) == 0 || len(cfg.Channels) > m.AIChannels:
		return ErrIOAnalogCount, fmt.Errorf("invalid number of trigger channels %d", len(cfg.Channels))
	case len(cfg.High) != len(cfg.Channels) || len(cfg.Low) != len(cfg.Channels):
		return ErrIOAnalogCount, fmt.Errorf("thresholds do not match %d trigger channels", len(cfg.Channels))
	case cfg.Left < 0 || cfg.Right < 0:
		return ErrInvalidParameter, fmt.Errorf("negative trigger window (left=%d, right=%d)", cfg.Left, cfg.Right)
	}
	seen := make(map[int]bool, len(cfg.Channels))
	for i, ch := range cfg.Channels {
		if ch < 0 || ch >= m.AIChannels {
			return ErrIOChannelOutOfRange, fmt.Errorf("trigger channel %d out of range", ch)
		}
		if seen[ch] {
			return ErrIOChannel, fmt.Errorf("duplicate trigger channel %d", ch)
		}
		seen[ch] = true
		if cfg.Low[i] > cfg.High[i] {
			return ErrIOAnalogRange, fmt.Errorf("channel %d: low threshold %g above high threshold %g", ch, cfg.Low[i], cfg.High[i])
		}
	}
	return ErrSuccess, nil
}

// DelayTriggerConfig configures the delay trigger.
type DelayTriggerConfig struct {
	Ticks int `json:"ticks"` // delay between the trigger event and the capture, in scans
}

func (cfg DelayTriggerConfig) validate() (Code, error) {
	if cfg.Ticks < 0 {
		return ErrIODelayTime, fmt.Errorf("negative delay %d", cfg.Ticks)
	}
	return ErrSuccess, nil
}

// windows returns the pre- and post-trigger windows, in scans, of a window
// trigger mode.
func windows(sc ScanConfig, at *AnalogTriggerConfig) (left, right int) {
	n := sc.TargetCount / sc.ChannelCount
	if at != nil && (at.Left > 0 || at.Right > 0) {
		left, right = at.Left, at.Right
		if sc.TriggerMode == TrigPre {
			right = 0
		}
		return left, right
	}
	switch sc.TriggerMode {
	case TrigPre:
		return n, 0
	case TrigMid:
		return n / 2, n - n/2
	case TrigAI:
		return 0, n
	}
	return 0, 0
}
