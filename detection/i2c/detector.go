// cngw
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of cngw.
//
// cngw is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// cngw is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with cngw; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.
// Package i2c finds the ATECC508A coprocessor. Importing it registers the
// detector.
package i2c

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"runtime"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/cencepower/cngw/coprocessor"
	"github.com/cencepower/cngw/detection"
	i2ctransport "github.com/cencepower/cngw/transport/i2c"
)

// Every ATECC508A serial number starts with these two bytes.
var serialPrefix = [2]byte{0x01, 0x23}

// Bus is an opened coprocessor bus.
type Bus interface {
	coprocessor.Bus
	io.Closer
}

// openBus is replaced in tests.
var openBus = func(name string) (Bus, error) {
	return i2ctransport.New(name)
}

// listBuses is replaced in tests.
var listBuses = enumerateBuses

type detector struct{}

// New creates a new I2C detector
func New() detection.Detector {
	return &detector{}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return "i2c"
}

// Detect looks for the coprocessor on every I2C bus. Safe mode wakes the
// chip, Full mode reads its serial number.
func (*detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	if runtime.GOOS != "linux" {
		return nil, detection.ErrUnsupportedPlatform
	}
	return detectBuses(ctx, listBuses(), opts)
}

func detectBuses(ctx context.Context, buses []string, opts *detection.Options) ([]detection.DeviceInfo, error) {
	var devices []detection.DeviceInfo
	for _, name := range buses {
		select {
		case <-ctx.Done():
			return devices, detection.ErrDetectionTimeout
		default:
		}

		path := fmt.Sprintf("%s:0x%02X", name, i2ctransport.CoprocessorAddr)
		if detection.IsPathIgnored(path, opts.IgnorePaths) || detection.IsPathIgnored(name, opts.IgnorePaths) {
			continue
		}

		device := detection.DeviceInfo{
			Transport:  "i2c",
			Path:       path,
			Name:       fmt.Sprintf("ATECC508A on %s", name),
			Role:       detection.RoleCoprocessor,
			Confidence: detection.Low,
			Metadata:   map[string]string{"bus": name},
		}
		if probe(ctx, name, &device, opts.Mode) {
			devices = append(devices, device)
		}
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

// probe makes a single attempt. A bus with nothing at the address fails the
// wake and is dropped outside Passive mode.
func probe(ctx context.Context, name string, device *detection.DeviceInfo, mode detection.Mode) bool {
	if mode == detection.Passive {
		return true
	}

	bus, err := openBus(name)
	if err != nil {
		return false
	}
	defer func() { _ = bus.Close() }()

	if mode != detection.Full {
		if err := bus.Wake(); err != nil {
			return false
		}
		device.Confidence = detection.Medium
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, detection.ProbeTimeout)
	defer cancel()
	client := coprocessor.New(bus, nil)
	serial, err := client.Serial(ctx)
	if err != nil {
		return false
	}
	device.Metadata["serial"] = hex.EncodeToString(serial[:])
	if serial[0] == serialPrefix[0] && serial[1] == serialPrefix[1] {
		device.Confidence = detection.High
	} else {
		device.Confidence = detection.Medium
	}
	return true
}

// enumerateBuses merges periph's registry with the /dev nodes.
func enumerateBuses() []string {
	seen := make(map[string]bool)
	var buses []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			buses = append(buses, name)
		}
	}

	if _, err := host.Init(); err == nil {
		for _, ref := range i2creg.All() {
			add(ref.Name)
		}
	}
	if matches, err := filepath.Glob("/dev/i2c-*"); err == nil {
		for _, m := range matches {
			add(m)
		}
	}
	return buses
}
