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

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// The coprocessor must be polled for at least as long as its slowest
// command takes to execute.
func TestRetryConstants_CoprocessorWindow(t *testing.T) {
	t.Parallel()

	window := time.Duration(CoprocessorReceiveRetries) * CoprocessorBusTimeout
	assert.Equal(t, 200*time.Millisecond, window)
	assert.Greater(t, window, CoprocessorGenKeyDelay)
	assert.Greater(t, window, CoprocessorHMACDelay)
	assert.Less(t, CoprocessorWakeDelay, CoprocessorBusTimeout)

	config := CoprocessorReceiveRetryConfig()
	assert.Equal(t, CoprocessorReceiveRetries, config.MaxAttempts)
	assert.True(t, config.RetryAll)
	assert.InDelta(t, 1.0, config.BackoffMultiplier, 0)
}

func TestRetryConstants_Handshake(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 10, MaxHMACFailures)
	assert.Equal(t, 5, MaxMissedHandshakeWindows)
	assert.Equal(t, 5*time.Second, AvailabilityCheckPeriod)
	assert.Equal(t, 6*time.Second, ErrorRestartDelay)
}

func TestRetryConstants_Upstream(t *testing.T) {
	t.Parallel()

	config := UpstreamReconnectRetryConfig()
	assert.Equal(t, UpstreamReconnectAttempts, config.MaxAttempts)
	assert.Greater(t, UpstreamMaxBackoff, UpstreamInitialBackoff)
	assert.False(t, config.RetryAll, "authentication failures must not be retried")

	// Worst case the client keeps trying for a few minutes, not forever.
	var total, backoff time.Duration = 0, config.InitialBackoff
	for range config.MaxAttempts - 1 {
		total += backoff
		backoff = calculateNextBackoff(backoff, config)
	}
	assert.Less(t, total, 5*time.Minute)
}
