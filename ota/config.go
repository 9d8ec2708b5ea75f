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

package ota

import (
	"time"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/wire"
)

// Flash geometry and transfer framing
const (
	SectorSize = 4096
	// ImageTrailer is the number of bytes past the image end that the
	// mainboard bootloaders expect to receive. Config images carry none.
	ImageTrailer = 150
)

// Config holds the OTA timing and policy settings.
type Config struct {
	// Progress is called during a mainboard transfer. Optional.
	Progress ProgressCallback

	// RestartDelay is how long each mainboard class needs to reboot into a
	// new image. The value is reported with the success publish.
	RestartDelay map[wire.BinaryType]time.Duration

	// Partitions is the staging layout. Exactly two slots are expected.
	Partitions []Partition
	// Booted names the partition holding the running image.
	Booted string

	// DistRelease is announced in the FileHeaderInfo frame.
	DistRelease cngw.FirmwareVersion

	// SessionTimeout discards a session that has seen no upstream frame
	// for this long.
	SessionTimeout time.Duration
	// AckTimeout bounds the wait for each mainboard Ack. On expiry the
	// transfer starts over from FileHeaderInfo.
	AckTimeout time.Duration
	// ConfigAckTimeout replaces AckTimeout for config images, whose first
	// frame makes the mainboard erase its configuration flash.
	ConfigAckTimeout time.Duration
	// TransferTimeout bounds a whole mainboard transfer, restarts included.
	TransferTimeout time.Duration
	// FinalStatusTimeout bounds the wait for Success after the last chunk.
	FinalStatusTimeout time.Duration
	// BundleDelay spaces chunks sent ahead of their Ack.
	BundleDelay time.Duration

	// AllowSameVersion accepts an image whose version equals the running one.
	AllowSameVersion bool
	// AlwaysBundle forces bundled chunks regardless of mainboard firmware.
	AlwaysBundle bool
}

// DefaultConfig returns the production settings.
func DefaultConfig() *Config {
	return &Config{
		RestartDelay: map[wire.BinaryType]time.Duration{
			wire.BinaryCN: 30 * time.Second,
			wire.BinarySW: 12 * time.Second,
			wire.BinaryDR: 24 * time.Second,
		},
		Partitions:         DefaultPartitions(),
		Booted:             PartitionOTA0,
		DistRelease:        cngw.NewFirmwareVersion(2, 5, 19, 0),
		SessionTimeout:     30 * time.Second,
		AckTimeout:         2 * time.Second,
		ConfigAckTimeout:   20 * time.Second,
		TransferTimeout:    170 * time.Second,
		FinalStatusTimeout: 500 * time.Millisecond,
		BundleDelay:        12 * time.Millisecond,
	}
}

func (c *Config) restartDelay(t wire.BinaryType) time.Duration {
	if d, ok := c.RestartDelay[t]; ok {
		return d
	}
	return 24 * time.Second
}

func (c *Config) ackTimeout(t wire.BinaryType) time.Duration {
	if t == wire.BinaryConfig {
		return c.ConfigAckTimeout
	}
	return c.AckTimeout
}
