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

package engine

import (
	"time"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/handshake"
	"github.com/cencepower/cngw/ota"
	"github.com/cencepower/cngw/polling"
)

// RecoveryConfig controls what the transport loop does after a permanent
// link failure.
type RecoveryConfig struct {
	// Reopen builds a fresh link. Without it the loop only probes the
	// existing one.
	Reopen ReopenFunc
	// MaxAttempts is the number of recovery attempts before the loop gives
	// up and the engine stops. Default: 3
	MaxAttempts int
	// Backoff is the delay between recovery attempts.
	Backoff time.Duration
}

// DefaultRecoveryConfig returns the default recovery policy.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		MaxAttempts: 3,
		Backoff:     500 * time.Millisecond,
	}
}

// Config holds engine options and the options of every state machine it
// owns. Nil sub-configurations take their package defaults.
type Config struct {
	Handshake *handshake.Config
	OTA       *ota.Config
	Polling   *polling.Config
	// ResetLine is pulsed by the availability watchdog. May be nil.
	ResetLine handshake.ResetLine
	// Queries receives GetAllChannelInfo requests. Nil logs them.
	Queries  QueryResponder
	Recovery RecoveryConfig
	// QueueLength bounds the inbound and outbound frame queues.
	QueueLength int
	// TransferSize is the size of one duplex exchange.
	TransferSize int
	// ExchangeInterval paces the transport loop when the link returns
	// immediately. SPI slaves block in Transceive until the master clocks.
	ExchangeInterval time.Duration
	// Verbose logs every frame header.
	Verbose bool
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() *Config {
	return &Config{
		Handshake:        handshake.DefaultConfig(),
		OTA:              ota.DefaultConfig(),
		Polling:          polling.DefaultConfig(),
		Recovery:         DefaultRecoveryConfig(),
		QueueLength:      cngw.QueueLength,
		TransferSize:     cngw.TransferSize,
		ExchangeInterval: time.Millisecond,
	}
}

func (c *Config) normalize() *Config {
	if c == nil {
		return DefaultConfig()
	}
	out := *c
	if out.Handshake == nil {
		out.Handshake = handshake.DefaultConfig()
	}
	if out.OTA == nil {
		out.OTA = ota.DefaultConfig()
	}
	if out.Polling == nil {
		out.Polling = polling.DefaultConfig()
	}
	if out.QueueLength <= 0 {
		out.QueueLength = cngw.QueueLength
	}
	if out.TransferSize <= 0 {
		out.TransferSize = cngw.TransferSize
	}
	if out.Recovery.MaxAttempts <= 0 {
		out.Recovery.MaxAttempts = DefaultRecoveryConfig().MaxAttempts
	}
	return &out
}
