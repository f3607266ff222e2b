// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hsdaq holds code for the acquisition engine of high-speed
// multi-channel DAQ devices.
//
// The acquisition engine itself lives in package daq.
// Supporting packages handle calibration (calib), timestamps (daqtime),
// synchronous-input frames (frame), configuration (config), sample upload
// (sqlup), alerting (alert), the HTTP control surface (httpapi) and
// quick-look monitoring (quicklook).
// Package station assembles them into an acquisition station.
package hsdaq // import "github.com/go-lpc/hsdaq"

import (
	"fmt"
	"runtime/debug"
)

// Version returns the version of hsdaq and its checksum.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}

	const root = "github.com/go-lpc/hsdaq"
	if b.Main.Path == root {
		return b.Main.Version, b.Main.Sum
	}

	for _, m := range b.Deps {
		if m.Path != root {
			continue
		}
		if m.Replace != nil {
			switch {
			case m.Replace.Version != "" && m.Replace.Path != "":
				return fmt.Sprintf("%s %s", m.Replace.Path, m.Replace.Version), m.Replace.Sum
			case m.Replace.Version != "":
				return m.Replace.Version, m.Replace.Sum
			case m.Replace.Path != "":
				return m.Replace.Path, m.Replace.Sum
			default:
				return m.Version + "*", ""
			}
		}
		return m.Version, m.Sum
	}
	return "", ""
}
