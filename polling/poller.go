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

// Package polling copies the mainboard's configuration into the board-info
// store. The walk is strictly sequential: one (command, slot) request is
// outstanding at a time and only the matching ConfigMessage advances it.
package polling

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/boardinfo"
	"github.com/cencepower/cngw/internal/syncutil"
	"github.com/cencepower/cngw/wire"
)

// Sender queues a message for the mainboard.
type Sender interface {
	Send(m wire.Message) error
}

// Metrics counts poller activity across walks.
type Metrics struct {
	Walks    int64 // walks started
	Requests int64 // request frames queued, resends included
	Resends  int64 // requests repeated after ResendInterval
	Records  int64 // records stored
	Ignored  int64 // records that did not match the outstanding request
	LastWalk time.Duration
}

// Poller walks the configuration categories. Deliver is called from the
// dispatcher task, which is the only writer of the board-info store; the
// poller's own goroutine only sends requests and watches the clock.
type Poller struct {
	sender   Sender
	board    *boardinfo.Store
	config   *Config
	collab   cngw.Collaborators
	log      zerolog.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup

	// walk position, guarded by mu
	step        Step
	resend      bool
	finished    bool
	lastRequest time.Time
	outcome     Outcome
	mu          syncutil.Mutex

	walks    int64
	requests int64
	resends  int64
	records  int64
	ignored  int64
	lastWalk int64
	running  int64
}

// NewPoller creates a stopped poller.
func NewPoller(sender Sender, board *boardinfo.Store, config *Config, collab cngw.Collaborators) *Poller {
	if config == nil {
		config = DefaultConfig()
	}
	return &Poller{
		sender:   sender,
		board:    board,
		config:   config,
		collab:   collab.Normalize(),
		log:      cngw.Logger("config-poller"),
		stopChan: make(chan struct{}, 1),
	}
}

// Start begins a walk from GeneralInfo slot 0. A second Start while a walk
// runs is reported upstream and returns ErrAlreadyRunning.
func (p *Poller) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt64(&p.running, 0, 1) {
		p.log.Error().Msg(cngw.MsgTaskRunning)
		p.collab.Publisher.Publish(cngw.PublishError, 0, cngw.MsgTaskRunning)
		return ErrAlreadyRunning
	}
	select {
	case <-p.stopChan:
	default:
	}

	p.mu.Lock()
	p.step = FirstStep()
	p.resend = true
	p.finished = false
	p.outcome = OutcomeNone
	p.mu.Unlock()

	atomic.AddInt64(&p.walks, 1)
	p.log.Info().Int("steps", TotalSteps()).Dur("timeout", p.config.timeout()).Msg("configuration walk started")
	p.collab.Notifier.Notify(cngw.LEDBusy, cngw.LEDTargetCN)

	p.wg.Add(1)
	go p.loop(ctx)
	return nil
}

// Stop abandons the current walk and waits for the goroutine to exit.
func (p *Poller) Stop() {
	if !p.Running() {
		return
	}
	select {
	case p.stopChan <- struct{}{}:
	default:
	}
	p.wg.Wait()
}

// Running reports whether a walk is in progress.
func (p *Poller) Running() bool {
	return atomic.LoadInt64(&p.running) == 1
}

// Position returns the outstanding request.
func (p *Poller) Position() Step {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.step
}

// Outcome returns how the most recent walk ended.
func (p *Poller) Outcome() Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outcome
}

// Metrics returns a copy of the counters.
func (p *Poller) Metrics() Metrics {
	return Metrics{
		Walks:    atomic.LoadInt64(&p.walks),
		Requests: atomic.LoadInt64(&p.requests),
		Resends:  atomic.LoadInt64(&p.resends),
		Records:  atomic.LoadInt64(&p.records),
		Ignored:  atomic.LoadInt64(&p.ignored),
		LastWalk: time.Duration(atomic.LoadInt64(&p.lastWalk)),
	}
}

// Deliver files a ConfigMessage from the mainboard. Records arriving while no
// walk runs are dropped. A record for anything but the outstanding request
// is stored but does not move the walk. Reports whether the walk advanced.
func (p *Poller) Deliver(msg *wire.ConfigMessage) bool {
	if !p.Running() {
		p.log.Debug().Stringer("command", msg.Command).Uint8("slot", msg.Slot).
			Msg("configuration record outside a walk, dropped")
		return false
	}

	if err := p.board.StoreConfig(msg.Command, msg.Slot, boardinfo.Record(msg.Body)); err != nil {
		p.log.Warn().Err(err).Msg("configuration record rejected")
		atomic.AddInt64(&p.ignored, 1)
		return false
	}
	atomic.AddInt64(&p.records, 1)
	if p.config.Verbose {
		p.log.Debug().Stringer("command", msg.Command).Uint8("slot", msg.Slot).
			Hex("body", msg.Body[:]).Msg("configuration record")
	}

	got := Step{Command: msg.Command, Slot: msg.Slot}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished || got != p.step {
		atomic.AddInt64(&p.ignored, 1)
		p.log.Debug().Stringer("got", got).Stringer("want", p.step).Msg("stale configuration record")
		return false
	}
	next, ok := Next(got)
	if !ok {
		p.finished = true
		return true
	}
	p.step = next
	p.resend = true
	return true
}

// HandleStatus acts on a ChannelStatus frame from the mainboard. Done starts
// a walk, ConfigChange is answered with GetNextMsg and Restart restarts the
// gateway after RestartDelay.
func (p *Poller) HandleStatus(ctx context.Context, status wire.ConfigStatus) error {
	p.log.Info().Stringer("status", status).Msg("configuration channel status")
	switch status {
	case wire.ConfigStatusDone:
		return p.Start(ctx)
	case wire.ConfigStatusChange:
		reply := &wire.ChannelStatus{Command: wire.ConfigChannelStatus, Status: wire.ConfigStatusGetNextMsg}
		if err := p.sender.Send(reply); err != nil {
			return fmt.Errorf("answer configuration change: %w", err)
		}
		return nil
	case wire.ConfigStatusRestart:
		if err := cngw.SleepCtx(ctx, p.config.RestartDelay); err != nil {
			return err
		}
		p.collab.Restarter.Restart("mainboard requested restart")
		return nil
	default:
		return nil
	}
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.config.Tick)
	started := time.Now()
	defer func() {
		ticker.Stop()
		atomic.StoreInt64(&p.lastWalk, int64(time.Since(started)))
		atomic.StoreInt64(&p.running, 0)
	}()

	p.tick(started)
	for {
		select {
		case <-ticker.C:
			if p.tick(started) {
				return
			}
		case <-p.stopChan:
			p.finish(OutcomeStopped)
			return
		case <-ctx.Done():
			p.finish(OutcomeStopped)
			return
		}
	}
}

// tick runs one poller cycle. Reports true when the walk is over.
func (p *Poller) tick(started time.Time) bool {
	now := time.Now()

	p.mu.Lock()
	finished := p.finished
	due := p.resend || now.Sub(p.lastRequest) >= p.config.ResendInterval
	repeat := !p.resend
	step := p.step
	p.mu.Unlock()

	if finished {
		p.finish(OutcomeComplete)
		return true
	}
	if now.Sub(started) > p.config.timeout() {
		p.finish(OutcomeTimeout)
		return true
	}
	if !due {
		return false
	}

	if repeat {
		atomic.AddInt64(&p.resends, 1)
		p.log.Warn().Stringer("step", step).Msg("resending configuration request")
	}
	if err := p.sender.Send(&wire.ConfigRequest{Command: step.Command, Slot: step.Slot}); err != nil {
		p.log.Warn().Err(err).Stringer("step", step).Msg("configuration request not queued")
	} else {
		atomic.AddInt64(&p.requests, 1)
	}

	p.mu.Lock()
	// Deliver may already have moved on while the request was queued.
	if p.step == step {
		p.resend = false
	}
	p.lastRequest = now
	p.mu.Unlock()
	return false
}

func (p *Poller) finish(o Outcome) {
	p.mu.Lock()
	p.outcome = o
	p.finished = true
	p.mu.Unlock()

	switch o {
	case OutcomeComplete:
		p.log.Info().Msg(cngw.MsgConfigCopied)
		p.collab.Publisher.Publish(cngw.PublishInfo, 0, cngw.MsgConfigCopied)
		p.collab.Notifier.Notify(cngw.LEDIdle, cngw.LEDTargetCN)
	case OutcomeTimeout:
		p.log.Error().Stringer("step", p.Position()).Msg(cngw.MsgConfigTimeout)
		p.collab.Publisher.Publish(cngw.PublishError, 0, cngw.MsgConfigTimeout)
		p.collab.Notifier.Notify(cngw.LEDIdle, cngw.LEDTargetCN)
		p.collab.Notifier.Notify(cngw.LEDError, cngw.LEDTargetCN)
	default:
		p.collab.Notifier.Notify(cngw.LEDIdle, cngw.LEDTargetCN)
	}
}
