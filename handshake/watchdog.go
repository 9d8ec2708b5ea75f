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

package handshake

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	cngw "github.com/cencepower/cngw"
)

// ResetLine asks the mainboard to start pairing over, on hardware a pulse
// of the gateway-online pin.
type ResetLine interface {
	Pulse(ctx context.Context, d time.Duration) error
}

// HandshakeState reports whether pairing has completed.
type HandshakeState interface {
	HandshakeComplete() bool
}

// Watchdog checks on a fixed period that pairing has completed. While it has
// not, every period pulses the reset line; once the mainboard has sent at
// least one CN1, periods are counted and passing the ceiling forces a
// restart.
type Watchdog struct {
	state     HandshakeState
	line      ResetLine
	config    *Config
	collab    cngw.Collaborators
	log       zerolog.Logger
	stopChan  chan struct{}
	wg        sync.WaitGroup
	running   int64
	attempted int64
	missed    int64
}

// NewWatchdog creates a stopped watchdog. line may be nil.
func NewWatchdog(state HandshakeState, line ResetLine, config *Config, collab cngw.Collaborators) *Watchdog {
	if config == nil {
		config    = DefaultConfig()
	}
	return &Watchdog{
		state:    state,
		line:     line,
		config:   config,
		collab:   collab.Normalize(),
		log:      cngw.Logger("availability"),
		stopChan: make(chan struct{}, 1),
	}
}

// Start starts the watchdog unless it is already running. Starting resets
// the attempt flag and the missed-window count.
func (w *Watchdog) Start(ctx context.Context) {
	if !atomic.CompareAndSwapInt64(&w.running, 0, 1) {
		return
	}
	atomic.StoreInt64(&w.attempted, 0)
	atomic.StoreInt64(&w.missed, 0)
	select {
	case <-w.stopChan:
	default:
	}

	w.log.Info().Dur("period", w.config.AvailabilityPeriod).Msg("availability check started")
	w.collab.Notifier.Notify(cngw.LEDConnPending, cngw.LEDTargetCN)

	w.wg.Add(1)
	go w.loop(ctx)
}

// MarkAttempt records that the mainboard has started a pairing.
func (w *Watchdog) MarkAttempt() {
	atomic.StoreInt64(&w.attempted, 1)
}

// Running reports whether the watchdog goroutine is active.
func (w *Watchdog) Running() bool {
	return atomic.LoadInt64(&w.running) == 1
}

// Missed returns the number of windows counted since the first attempt.
func (w *Watchdog) Missed() int {
	return int(atomic.LoadInt64(&w.missed))
}

// Stop stops the watchdog and waits for its goroutine to exit.
func (w *Watchdog) Stop() {
	if !w.Running() {
		return
	}
	select {
	case w.stopChan <- struct{}{}:
	default:
	}
	w.wg.Wait()
}

func (w *Watchdog) loop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.config.AvailabilityPeriod)
	defer func() {
		ticker.Stop()
		atomic.StoreInt64(&w.running, 0)
	}()

	for {
		select {
		case <-ticker.C:
			if w.check(ctx) {
				return
			}
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// check runs one window. Reports true when the gateway is being restarted.
func (w *Watchdog) check(ctx context.Context) bool {
	if w.state.HandshakeComplete() {
		return false
	}

	w.log.Info().Msg("no handshake yet, resetting the gateway-online line")
	if w.line != nil {
		if err := w.line.Pulse(ctx, w.config.ResetPulse); err != nil {
			w.log.Warn().Err(err).Msg("reset line pulse failed")
		}
	}

	if atomic.LoadInt64(&w.attempted) == 0 {
		return false
	}
	missed := atomic.AddInt64(&w.missed, 1)
	if missed <= int64(w.config.MaxMissedWindows) {
		return false
	}

	atomic.StoreInt64(&w.missed, 0)
	w.collab.Publisher.Publish(cngw.PublishCritical, 0, cngw.MsgHandshakeFailed)
	ForceRestart(ctx, w.collab, w.config.RestartDelay, "handshake not completed")
	return true
}
