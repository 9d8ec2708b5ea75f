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

package testing

import (
	"context"
	"math/rand/v2"
	"time"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/internal/syncutil"
)

// JitterConfig configures the behavior of JitteryLink.
type JitterConfig struct {
	MaxLatency time.Duration
	// ErrorEvery fails every Nth exchange with a transient error.
	ErrorEvery int
	// CorruptEvery flips one received byte on every Nth exchange.
	CorruptEvery int
	// ShiftEvery prepends noise bytes to every Nth received buffer, moving
	// frames off their natural alignment.
	ShiftEvery int
	ShiftBytes int
	Seed       uint64
}

// DefaultJitterConfig returns a sensible default configuration for testing.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{
		MaxLatency:   2 * time.Millisecond,
		CorruptEvery: 7,
		ShiftEvery:   5,
		ShiftBytes:   3,
	}
}

// JitteryLink wraps a cngw.Link to simulate a noisy mainboard bus: latency,
// transient exchange failures, flipped bytes and misaligned buffers. Used to
// check that the frame walker resynchronizes instead of wedging.
type JitteryLink struct {
	backend   cngw.Link
	rng       *rand.Rand
	config    JitterConfig
	exchanges int
	mu        syncutil.Mutex
}

// NewJitteryLink wraps backend with jitter simulation.
func NewJitteryLink(backend cngw.Link, config JitterConfig) *JitteryLink {
	var rng *rand.Rand
	if config.Seed != 0 {
		rng = rand.New(rand.NewPCG(config.Seed, config.Seed^0xDEADBEEF)) //nolint:gosec // Test code, not crypto
	} else {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // Test code, not crypto
	}
	return &JitteryLink{backend: backend, config: config, rng: rng}
}

// Transceive performs the backend exchange and then damages the result as
// configured. A failed exchange never reaches the backend, so nothing queued
// there is lost.
func (j *JitteryLink) Transceive(ctx context.Context, tx, rx []byte) error {
	j.mu.Lock()
	j.exchanges++
	n := j.exchanges
	var delay time.Duration
	if j.config.MaxLatency > 0 {
		delay = time.Duration(j.rng.Int64N(int64(j.config.MaxLatency) + 1))
	}
	j.mu.Unlock()

	if delay > 0 {
		if err := cngw.SleepCtx(ctx, delay); err != nil {
			return err //nolint:wrapcheck // Pass-through wrapper
		}
	}

	if every(n, j.config.ErrorEvery) {
		return cngw.NewTransportError("Transceive", j.Port(), cngw.ErrTransportRead, cngw.ErrorTypeTransient)
	}

	if err := j.backend.Transceive(ctx, tx, rx); err != nil {
		return err //nolint:wrapcheck // Pass-through wrapper
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if every(n, j.config.ShiftEvery) && j.config.ShiftBytes > 0 && j.config.ShiftBytes < len(rx) {
		shift := j.config.ShiftBytes
		copy(rx[shift:], rx[:len(rx)-shift])
		for i := range shift {
			rx[i] = byte(j.rng.UintN(256))
		}
	}
	if every(n, j.config.CorruptEvery) && len(rx) > 0 {
		rx[j.rng.IntN(len(rx))] ^= 0xFF
	}
	return nil
}

func every(n, period int) bool {
	return period > 0 && n%period == 0
}

// Exchanges returns the number of attempted exchanges.
func (j *JitteryLink) Exchanges() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.exchanges
}

// Close closes the backend link.
func (j *JitteryLink) Close() error {
	return j.backend.Close() //nolint:wrapcheck // Pass-through wrapper
}

// Type returns the backend link type.
func (j *JitteryLink) Type() cngw.LinkType {
	return j.backend.Type()
}

// Port returns the backend port.
func (j *JitteryLink) Port() string {
	return j.backend.Port()
}
