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

package cngw

import "time"

// Coprocessor bus timing. The chip needs a fixed execution window after each
// command before its response can be read back.
const (
	// CoprocessorBusTimeout is the wait between response read attempts.
	CoprocessorBusTimeout = 10 * time.Millisecond
	// CoprocessorReceiveRetries is the number of response reads before Timeout.
	CoprocessorReceiveRetries = 20
	// CoprocessorExecDelay is the generic command execution delay.
	CoprocessorExecDelay = 50 * time.Millisecond
	// CoprocessorHMACDelay is the HMAC command execution delay.
	CoprocessorHMACDelay = 50 * time.Millisecond
	// CoprocessorGenKeyDelay is the GenKey command execution delay.
	CoprocessorGenKeyDelay = 150 * time.Millisecond
	// CoprocessorWakeDelay is the wake pulse to first read delay.
	CoprocessorWakeDelay = 2 * time.Millisecond
)

// Handshake ceilings.
const (
	// MaxHMACFailures is the number of failed HMAC validations tolerated before
	// the gateway forces a restart.
	MaxHMACFailures = 10
	// MaxMissedHandshakeWindows is the number of availability windows without
	// an established handshake tolerated before a forced restart.
	MaxMissedHandshakeWindows = 5
	// AvailabilityCheckPeriod is the availability watchdog period.
	AvailabilityCheckPeriod = 5 * time.Second
	// ErrorRestartDelay is the pause between signalling an error and restarting.
	ErrorRestartDelay = 6 * time.Second
)

// Upstream reconnect policy.
const (
	UpstreamReconnectAttempts = 8
	UpstreamInitialBackoff    = 500 * time.Millisecond
	UpstreamMaxBackoff        = 30 * time.Second
)
