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

//go:build !linux

package cngw

import (
	"os"
	"time"
)

// SystemRestarter exits the process so the service supervisor restarts it.
type SystemRestarter struct {
	Delay    time.Duration
	ExitOnly bool
}

// Restart exits the process after Delay.
func (r SystemRestarter) Restart(reason string) {
	l := Logger("restart")
	l.Warn().Str("reason", reason).Dur("delay", r.Delay).Msg("restarting gateway")
	time.Sleep(r.Delay)
	os.Exit(1)
}
