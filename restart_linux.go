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

//go:build linux

package cngw

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// SystemRestarter reboots the host. The gateway has no finer-grained
// recovery for a mainboard that will not authenticate.
type SystemRestarter struct {
	// Delay is waited before rebooting so logs and publishes can flush.
	Delay time.Duration
	// ExitOnly exits the process instead of rebooting, leaving the restart
	// to the service supervisor.
	ExitOnly bool
}

// Restart syncs filesystems and reboots. It does not return on success.
func (r SystemRestarter) Restart(reason string) {
	l := Logger("restart")
	l.Warn().Str("reason", reason).Dur("delay", r.Delay).Msg("restarting gateway")
	time.Sleep(r.Delay)

	if r.ExitOnly {
		os.Exit(1)
	}

	unix.Sync()
	if err := unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART); err != nil {
		l.Error().Err(err).Msg("reboot failed, exiting instead")
		os.Exit(1)
	}
}
