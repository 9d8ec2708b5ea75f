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

package polling

import "time"

// Config holds configuration poller options
type Config struct {
	// Tick is how often the poller wakes to check for progress.
	Tick time.Duration
	// ResendInterval is how long a request may go unanswered before it is
	// sent again. Requests are idempotent on the mainboard side.
	ResendInterval time.Duration
	// SessionTimeout bounds a whole walk.
	SessionTimeout time.Duration
	// VerboseTimeout replaces SessionTimeout when Verbose is set. Logging
	// every record slows the mainboard side considerably.
	VerboseTimeout time.Duration
	// RestartDelay is the pause before a mainboard-requested restart.
	RestartDelay time.Duration
	// Verbose logs every copied record at debug level.
	Verbose bool
}

// DefaultConfig returns the default poller configuration
func DefaultConfig() *Config {
	return &Config{
		Tick:           10 * time.Millisecond,
		ResendInterval: time.Second,
		SessionTimeout: 18 * time.Second,
		VerboseTimeout: 78 * time.Second,
		RestartDelay:   2 * time.Second,
	}
}

func (c *Config) timeout() time.Duration {
	if c.Verbose {
		return c.VerboseTimeout
	}
	return c.SessionTimeout
}
