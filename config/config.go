// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config holds the deployment configuration of an acquisition
// station.
//
// A configuration is built from the defaults, overridden by an optional
// YAML file, overridden by HSDAQ_ environment variables:
// HSDAQ_SCAN_RATE=1000 sets scan.rate.
package config // import "github.com/go-lpc/hsdaq/config"

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-lpc/hsdaq/alert"
	"github.com/go-lpc/hsdaq/daq"
	"github.com/go-lpc/hsdaq/frame"
	"github.com/go-lpc/hsdaq/sqlup"
	"github.com/knadh/koanf"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of the environment variables overriding the
// configuration.
const EnvPrefix = "HSDAQ_"

// Config is the configuration of an acquisition station.
type Config struct {
	Device  Device  `koanf:"device" yaml:"device"`
	Scan    Scan    `koanf:"scan" yaml:"scan"`
	Analog  Analog  `koanf:"analog" yaml:"analog"`
	Delay   int     `koanf:"delay" yaml:"delay"` // delay trigger, in scans
	SyncIn  SyncIn  `koanf:"syncin" yaml:"syncin"`
	Acquire Acquire `koanf:"acquire" yaml:"acquire"`
	HTTP    HTTP    `koanf:"http" yaml:"http"`
	SQL     SQL     `koanf:"sql" yaml:"sql"`
	Mail    Mail    `koanf:"mail" yaml:"mail"`
	Calib   Calib   `koanf:"calib" yaml:"calib"`

	QuickLook QuickLook `koanf:"quicklook" yaml:"quicklook"`
}

// Device describes the acquisition device.
type Device struct {
	Name    string        `koanf:"name" yaml:"name"`
	Model   string        `koanf:"model" yaml:"model"`
	Addr    string        `koanf:"addr" yaml:"addr"`       // transport address, "sim" for the simulator
	Buffer  int           `koanf:"buffer" yaml:"buffer"`   // sample buffer capacity, 0 for the default
	Frames  int           `koanf:"frames" yaml:"frames"`   // frame buffer capacity, 0 for the default
	SHM     string        `koanf:"shm" yaml:"shm"`         // directory of the shared-memory sample buffer
	Timeout time.Duration `koanf:"timeout" yaml:"timeout"` // device I/O timeout
}

// Scan is the scan configuration.
type Scan struct {
	Channels int    `koanf:"channels" yaml:"channels"`
	Gain     int    `koanf:"gain" yaml:"gain"`
	Trigger  string `koanf:"trigger" yaml:"trigger"`
	Rate     int    `koanf:"rate" yaml:"rate"`     // scans per second
	Target   int    `koanf:"target" yaml:"target"` // samples, 0 for continuous modes
	Transfer string `koanf:"transfer" yaml:"transfer"`
	AutoRun  bool   `koanf:"autorun" yaml:"autorun"`
}

// Analog is the analog trigger configuration.
// No analog trigger is configured when Channels is empty.
type Analog struct {
	Mode     string    `koanf:"mode" yaml:"mode"`
	Channels []int     `koanf:"channels" yaml:"channels"`
	High     []float32 `koanf:"high" yaml:"high"`
	Low      []float32 `koanf:"low" yaml:"low"`
	Left     int       `koanf:"left" yaml:"left"`
	Right    int       `koanf:"right" yaml:"right"`
}

// SyncIn is the synchronous input configuration.
// Channels are written as "type:index", e.g. "ai:0" or "user-word:1".
type SyncIn struct {
	Header      uint32   `koanf:"header" yaml:"header"`
	Channels    []string `koanf:"channels" yaml:"channels"`
	DropPartial bool     `koanf:"droppartial" yaml:"droppartial"`
	TimeDay     bool     `koanf:"timeday" yaml:"timeday"`
}

// Acquire configures the acquisition loop.
type Acquire struct {
	Poll    time.Duration `koanf:"poll" yaml:"poll"`       // drain period
	Timeout uint32        `koanf:"timeout" yaml:"timeout"` // sampling timeout alert, in ms
	Dir     string        `koanf:"dir" yaml:"dir"`         // directory of the frame files, empty to disable them
}

// HTTP configures the HTTP API.
type HTTP struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

// SQL configures the sample upload.
type SQL struct {
	Enabled  bool          `koanf:"enabled" yaml:"enabled"`
	Server   sqlup.Config  `koanf:"server" yaml:"server"`
	Table    string        `koanf:"table" yaml:"table"`
	Batch    int           `koanf:"batch" yaml:"batch"`
	Interval time.Duration `koanf:"interval" yaml:"interval"`
}

// Mail configures mail alerts.
type Mail struct {
	Enabled bool         `koanf:"enabled" yaml:"enabled"`
	Server  alert.Config `koanf:"server" yaml:"server"`
}

// Calib configures the calibration store.
type Calib struct {
	DB     string `koanf:"db" yaml:"db"`         // bbolt file, empty for ideal calibration
	Serial string `koanf:"serial" yaml:"serial"` // device serial number in the store
}

// QuickLook configures the online histograms.
type QuickLook struct {
	Bins int `koanf:"bins" yaml:"bins"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Device: Device{
			Name:    "pet-7h24m",
			Model:   daq.PET7H24M.Name,
			Addr:    "sim",
			Timeout: 2 * time.Second,
		},
		Scan: Scan{
			Channels: 4,
			Gain:     0,
			Trigger:  daq.TrigSoftware.String(),
			Rate:     1000,
			Transfer: "stream",
		},
		Analog: Analog{
			Mode: daq.AnalogRising.String(),
		},
		Acquire: Acquire{
			Poll: 100 * time.Millisecond,
		},
		HTTP: HTTP{
			Addr: ":8080",
		},
		SQL: SQL{
			Server: sqlup.Config{
				Host:     "localhost",
				Port:     3306,
				User:     "root",
				Database: "pet7h24m",
			},
			Table:    "samples",
			Batch:    1000,
			Interval: 60 * time.Second,
		},
		QuickLook: QuickLook{
			Bins: 100,
		},
	}
}

// Load loads the configuration from the defaults, the YAML file fname, if
// any, and the environment.
func Load(fname string) (Config, error) {
	k := koanf.New(".")
	err := k.Load(structs.Provider(Default(), "koanf"), nil)
	if err != nil {
		return Config{}, fmt.Errorf("config: could not load defaults: %w", err)
	}

	if fname != "" {
		err = k.Load(file.Provider(fname), kyaml.Parser())
		if err != nil {
			return Config{}, fmt.Errorf("config: could not load %q: %w", fname, err)
		}
	}

	err = k.Load(env.Provider(EnvPrefix, ".", envKey), nil)
	if err != nil {
		return Config{}, fmt.Errorf("config: could not load environment: %w", err)
	}

	var cfg Config
	err = k.Unmarshal("", &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config: could not decode configuration: %w", err)
	}
	return cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".")
}

// LoadOrDefault loads the configuration from fname, falling back to the
// defaults and the environment when the file does not exist.
func LoadOrDefault(fname string) (Config, error) {
	_, err := os.Stat(fname)
	if errors.Is(err, fs.ErrNotExist) {
		fname = ""
	}
	return Load(fname)
}

// Persist writes the configuration to the YAML file fname.
func Persist(fname string, cfg Config) error {
	f, err := os.Create(fname)
	if err != nil {
		return fmt.Errorf("config: could not create %q: %w", fname, err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	err = enc.Encode(cfg)
	if err != nil {
		return fmt.Errorf("config: could not encode configuration: %w", err)
	}
	err = enc.Close()
	if err != nil {
		return fmt.Errorf("config: could not flush configuration: %w", err)
	}
	return f.Close()
}

// Options returns the session options of the device configuration.
func (cfg Config) Options() ([]daq.Option, error) {
	m, err := daq.LookupModel(cfg.Device.Model)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	opts := []daq.Option{daq.WithModel(m)}
	if cfg.Device.Buffer > 0 {
		opts = append(opts, daq.WithBufferSize(cfg.Device.Buffer))
	}
	if cfg.Device.Frames > 0 {
		opts = append(opts, daq.WithFrameBufferSize(cfg.Device.Frames))
	}
	if cfg.Device.SHM != "" {
		opts = append(opts, daq.WithSHM(cfg.Device.SHM))
	}
	if cfg.Device.Timeout > 0 {
		opts = append(opts, daq.WithIOTimeout(cfg.Device.Timeout))
	}
	return opts, nil
}

// ScanConfig returns the scan configuration.
func (cfg Config) ScanConfig() (daq.ScanConfig, error) {
	mode, err := daq.ParseTriggerMode(cfg.Scan.Trigger)
	if err != nil {
		return daq.ScanConfig{}, fmt.Errorf("config: %w", err)
	}
	var transfer daq.TransferMethod
	switch strings.ToLower(cfg.Scan.Transfer) {
	case "", "stream":
		transfer = daq.TransferStream
	case "block":
		transfer = daq.TransferBlock
	default:
		return daq.ScanConfig{}, fmt.Errorf("config: unknown transfer method %q", cfg.Scan.Transfer)
	}
	return daq.ScanConfig{
		ChannelCount:   cfg.Scan.Channels,
		Gain:           cfg.Scan.Gain,
		TriggerMode:    mode,
		SampleRate:     cfg.Scan.Rate,
		TargetCount:    cfg.Scan.Target,
		TransferMethod: transfer,
		AutoRun:        cfg.Scan.AutoRun,
	}, nil
}

// AnalogConfig returns the analog trigger configuration, if any.
func (cfg Config) AnalogConfig() (daq.AnalogTriggerConfig, bool, error) {
	if len(cfg.Analog.Channels) == 0 {
		return daq.AnalogTriggerConfig{}, false, nil
	}
	var mode daq.AnalogMode
	switch strings.ToLower(cfg.Analog.Mode) {
	case "", daq.AnalogRising.String():
		mode = daq.AnalogRising
	case daq.AnalogFalling.String():
		mode = daq.AnalogFalling
	case daq.AnalogEither.String():
		mode = daq.AnalogEither
	default:
		return daq.AnalogTriggerConfig{}, false, fmt.Errorf("config: unknown analog trigger mode %q", cfg.Analog.Mode)
	}
	return daq.AnalogTriggerConfig{
		Mode:     mode,
		Channels: append([]int(nil), cfg.Analog.Channels...),
		High:     append([]float32(nil), cfg.Analog.High...),
		Low:      append([]float32(nil), cfg.Analog.Low...),
		Left:     cfg.Analog.Left,
		Right:    cfg.Analog.Right,
	}, true, nil
}

// DelayConfig returns the delay trigger configuration.
func (cfg Config) DelayConfig() daq.DelayTriggerConfig {
	return daq.DelayTriggerConfig{Ticks: cfg.Delay}
}

// SyncInConfig returns the synchronous input configuration.
func (cfg Config) SyncInConfig() (daq.SyncInConfig, error) {
	var o daq.SyncInConfig
	o.Header = cfg.SyncIn.Header
	if cfg.SyncIn.DropPartial {
		o.Options |= daq.SyncDropIncomplete
	}
	if cfg.SyncIn.TimeDay {
		o.Options |= daq.SyncTimeDay
	}
	for _, v := range cfg.SyncIn.Channels {
		ch, err := parseChannel(v)
		if err != nil {
			return daq.SyncInConfig{}, err
		}
		o.Channels = append(o.Channels, ch)
	}
	return o, nil
}

func parseChannel(s string) (frame.Channel, error) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return frame.Channel{}, fmt.Errorf("config: invalid sync-in channel %q", s)
	}
	typ, err := frame.ParseChannelType(s[:i])
	if err != nil {
		return frame.Channel{}, fmt.Errorf("config: invalid sync-in channel %q: %w", s, err)
	}
	var idx int
	_, err = fmt.Sscanf(s[i+1:], "%d", &idx)
	if err != nil || idx < 0 {
		return frame.Channel{}, fmt.Errorf("config: invalid sync-in channel index %q", s)
	}
	return frame.Channel{Type: typ, Index: idx}, nil
}
