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
// Package spi finds the mainboard SPI port. Importing it registers the
// detector.
package spi

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/detection"
	"github.com/cencepower/cngw/transport/spi"
)

// Environment overrides
const (
	EnvDevice   = "CNGW_SPI_DEVICE"
	EnvReadyPin = "CNGW_SPI_READY_PIN"
)

// Config represents SPI device configuration
type Config struct {
	// Additional metadata
	Metadata map[string]string `json:"metadata,omitempty"`
	// Device path or periph port name (e.g., "/dev/spidev0.0", "SPI0.0")
	Device string `json:"device"`
	// Human-readable name
	Name string `json:"name,omitempty"`
	// GPIO the mainboard pulls low when its buffer is loaded
	ReadyPin string `json:"ready_pin,omitempty"`
}

// openLink is replaced in tests.
var openLink = func(c Config) (cngw.Link, error) {
	var opts []spi.Option
	if c.ReadyPin != "" {
		opts = append(opts, spi.WithReadyPin(c.ReadyPin))
	}
	return spi.New(c.Device, opts...)
}

// gather is replaced in tests.
var gather = gatherConfigs

type detector struct{}

// New creates a new SPI detector
func New() detection.Detector {
	return &detector{}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return "spi"
}

// Detect lists candidate SPI ports. Safe mode keeps the ones that open,
// Full mode also clocks an idle transfer and raises confidence when the
// mainboard answers with a frame.
func (*detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	configs := gather()
	if len(configs) == 0 {
		return nil, detection.ErrNoDevicesFound
	}

	var devices []detection.DeviceInfo
	for _, config := range configs {
		select {
		case <-ctx.Done():
			return devices, detection.ErrDetectionTimeout
		default:
		}

		if detection.IsPathIgnored(config.Device, opts.IgnorePaths) {
			continue
		}

		device := createDeviceInfo(config)
		if probe(ctx, config, &device, opts.Mode) {
			devices = append(devices, device)
		}
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

func probe(ctx context.Context, config Config, device *detection.DeviceInfo, mode detection.Mode) bool {
	if mode == detection.Passive {
		return true
	}

	link, err := openLink(config)
	if err != nil {
		return false
	}
	defer func() { _ = link.Close() }()
	device.Confidence = detection.Medium

	if mode != detection.Full {
		return true
	}
	answered, err := detection.ProbeMainboard(ctx, link)
	if err != nil {
		return false
	}
	if answered {
		device.Confidence = detection.High
	}
	return true
}

func createDeviceInfo(config Config) detection.DeviceInfo {
	device := detection.DeviceInfo{
		Transport:  "spi",
		Path:       config.Device,
		Name:       config.Name,
		Role:       detection.RoleMainboard,
		Confidence: detection.Low,
		Metadata:   make(map[string]string),
	}
	for k, v := range config.Metadata {
		device.Metadata[k] = v
	}
	if config.ReadyPin != "" {
		device.Metadata["ready_pin"] = config.ReadyPin
	}
	if device.Name == "" {
		device.Name = fmt.Sprintf("SPI port %s", config.Device)
	}
	return device
}

// gatherConfigs collects candidates from the config file, the environment,
// the periph port registry and /dev in that order, first occurrence wins.
func gatherConfigs() []Config {
	var configs []Config
	configs = append(configs, loadConfigFile()...)
	if c := loadEnvConfig(); c != nil {
		configs = append(configs, *c)
	}
	configs = append(configs, registeredPorts()...)
	if runtime.GOOS == "linux" {
		configs = append(configs, detectLinuxSPIDevices()...)
	}
	return deduplicateConfigs(configs)
}

func configPaths() []string {
	paths := []string{"cngw-spi.json"}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "cngw", "spi.json"))
	}
	return append(paths, "/etc/cngw/spi.json")
}

// loadConfigFile accepts either a single object or a list.
func loadConfigFile() []Config {
	for _, path := range configPaths() {
		data, err := os.ReadFile(path) //nolint:gosec // fixed locations
		if err != nil {
			continue
		}
		if configs, ok := parseConfigs(data); ok {
			return configs
		}
	}
	return nil
}

func parseConfigs(data []byte) ([]Config, bool) {
	var configs []Config
	if err := json.Unmarshal(data, &configs); err == nil {
		return configs, true
	}
	var config Config
	if err := json.Unmarshal(data, &config); err == nil && config.Device != "" {
		return []Config{config}, true
	}
	return nil, false
}

func loadEnvConfig() *Config {
	device := os.Getenv(EnvDevice)
	if device == "" {
		return nil
	}
	return &Config{
		Device:   device,
		Name:     "SPI port from environment",
		ReadyPin: os.Getenv(EnvReadyPin),
	}
}

// registeredPorts lists what periph's host drivers registered.
func registeredPorts() []Config {
	if _, err := host.Init(); err != nil {
		return nil
	}
	var configs []Config
	for _, ref := range spireg.All() {
		configs = append(configs, Config{
			Device: ref.Name,
			Name:   fmt.Sprintf("SPI port %s", ref.Name),
		})
	}
	return configs
}

func detectLinuxSPIDevices() []Config {
	matches, err := filepath.Glob("/dev/spidev*")
	if err != nil {
		return nil
	}
	var configs []Config
	for _, path := range matches {
		configs = append(configs, Config{
			Device: path,
			Name:   fmt.Sprintf("SPI port %s", filepath.Base(path)),
		})
	}
	return configs
}

func deduplicateConfigs(configs []Config) []Config {
	seen := make(map[string]bool)
	var unique []Config
	for _, config := range configs {
		if config.Device == "" || seen[config.Device] {
			continue
		}
		seen[config.Device] = true
		unique = append(unique, config)
	}
	return unique
}
