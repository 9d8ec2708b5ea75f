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
// Package uart finds USB serial adapters wired to a mainboard's bench
// header. Importing it registers the detector.
package uart

import (
	"context"
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/detection"
	"github.com/cencepower/cngw/transport/uart"
)

// Adapters shipped with bench kits.
var benchAdapters = map[string]string{
	"0403:6001": "FTDI FT232R",
	"0403:6015": "FTDI FT231X",
	"10C4:EA60": "Silicon Labs CP210x",
	"1A86:7523": "QinHeng CH340",
}

// listPorts and openLink are replaced in tests.
var (
	listPorts = enumeratePorts
	openLink  = func(path string) (cngw.Link, error) { return uart.New(path) }
)

type serialPort struct {
	Path         string
	VIDPID       string
	Product      string
	SerialNumber string
	IsUSB        bool
}

type detector struct{}

// New creates a new UART detector
func New() detection.Detector {
	return &detector{}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return "uart"
}

// Detect lists USB serial ports. Passive mode keeps known bench adapters,
// Safe mode opens every USB port, Full mode clocks an idle transfer and
// keeps only ports where a mainboard answers.
func (*detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	ports, err := listPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	var devices []detection.DeviceInfo
	for i := range ports {
		select {
		case <-ctx.Done():
			return devices, detection.ErrDetectionTimeout
		default:
		}

		port := &ports[i]
		if !port.IsUSB {
			continue
		}
		if port.VIDPID != "" && detection.IsBlocked(port.VIDPID, opts.Blocklist) {
			continue
		}
		if detection.IsPathIgnored(port.Path, opts.IgnorePaths) {
			continue
		}
		if device, ok := processPort(ctx, port, opts.Mode); ok {
			devices = append(devices, device)
		}
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

func processPort(ctx context.Context, port *serialPort, mode detection.Mode) (detection.DeviceInfo, bool) {
	device := createDeviceInfo(port)
	known := isBenchAdapter(port)
	if known {
		device.Confidence = detection.Medium
	}

	switch mode {
	case detection.Passive:
		return device, known
	case detection.Safe:
		link, err := openLink(port.Path)
		if err != nil {
			return detection.DeviceInfo{}, false
		}
		_ = link.Close()
		return device, true
	case detection.Full:
		link, err := openLink(port.Path)
		if err != nil {
			return detection.DeviceInfo{}, false
		}
		defer func() { _ = link.Close() }()
		answered, err := detection.ProbeMainboard(ctx, link)
		if err != nil || !answered {
			return detection.DeviceInfo{}, false
		}
		device.Confidence = detection.High
		return device, true
	default:
		return detection.DeviceInfo{}, false
	}
}

func createDeviceInfo(port *serialPort) detection.DeviceInfo {
	device := detection.DeviceInfo{
		Transport:  "uart",
		Path:       port.Path,
		Name:       port.Product,
		Role:       detection.RoleBench,
		Confidence: detection.Low,
		Metadata:   make(map[string]string),
	}
	if name, ok := benchAdapters[port.VIDPID]; ok && device.Name == "" {
		device.Name = name
	}
	if device.Name == "" {
		device.Name = "USB serial " + port.Path
	}
	if port.VIDPID != "" {
		device.Metadata["vidpid"] = port.VIDPID
	}
	if port.SerialNumber != "" {
		device.Metadata["serial"] = port.SerialNumber
	}
	return device
}

func isBenchAdapter(port *serialPort) bool {
	_, ok := benchAdapters[port.VIDPID]
	return ok
}

func enumeratePorts() ([]serialPort, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	ports := make([]serialPort, 0, len(details))
	for _, d := range details {
		ports = append(ports, fromDetails(d))
	}
	return ports, nil
}

func fromDetails(d *enumerator.PortDetails) serialPort {
	p := serialPort{
		Path:         d.Name,
		Product:      d.Product,
		SerialNumber: d.SerialNumber,
		IsUSB:        d.IsUSB,
	}
	if d.IsUSB && d.VID != "" && d.PID != "" {
		p.VIDPID = strings.ToUpper(d.VID + ":" + d.PID)
	}
	return p
}
