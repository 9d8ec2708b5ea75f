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

// Package engine runs the gateway side of the mainboard link. A transport
// loop owns the duplex exchange, a process loop walks received buffers
// through the Dispatcher, and the handshake, OTA and configuration state
// machines hang off the dispatcher. The loops talk only through bounded
// queues.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/boardinfo"
	"github.com/cencepower/cngw/handshake"
	"github.com/cencepower/cngw/internal/syncutil"
	"github.com/cencepower/cngw/ota"
	"github.com/cencepower/cngw/polling"
	"github.com/cencepower/cngw/wire"
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("engine already started")

// Metrics counts transport activity.
type Metrics struct {
	Exchanges    int64 // completed duplex exchanges
	Received     int64 // buffers queued for the dispatcher
	Echoes       int64 // buffers dropped as a copy of what was sent
	Dropped      int64 // buffers lost to a full inbound queue
	LinkFailures int64 // failed exchanges
	Recoveries   int64 // successful link recoveries
}

// Engine owns the link and every protocol state machine.
type Engine struct {
	config     *Config
	collab     cngw.Collaborators
	log        zerolog.Logger
	board      *boardinfo.Store
	outbound   *Queue
	inbound    *Queue
	recoverer  *LinkRecoverer
	watchdog   *handshake.Watchdog
	session    *handshake.Session
	transfer   *ota.Transfer
	updater    *ota.Updater
	poller     *polling.Poller
	dispatcher *Dispatcher
	responder  QueryResponder
	queries    chan struct{}
	done       chan struct{}
	cancel     context.CancelFunc
	err        error
	wg         sync.WaitGroup
	mu         syncutil.Mutex

	queueError   atomic.Bool
	running      int64
	exchanges    int64
	received     int64
	echoes       int64
	dropped      int64
	linkFailures int64
	recoveries   int64
}

// New wires an engine over link. auth is the coprocessor used for the
// handshake and flash the staging area for OTA images.
func New(link cngw.Link, auth handshake.Authenticator, flash ota.Flash, config *Config,
	collab cngw.Collaborators,
) *Engine {
	config = config.normalize()
	collab = collab.Normalize()

	e := &Engine{
		config:    config,
		collab:    collab,
		log:       cngw.Logger("engine"),
		board:     boardinfo.NewStore(),
		outbound:  NewQueue(config.QueueLength),
		inbound:   NewQueue(config.QueueLength),
		recoverer: NewLinkRecoverer(link, config.Recovery),
		responder: config.Queries,
		queries:   make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	if e.responder == nil {
		e.responder = newLogResponder()
	}

	e.watchdog = handshake.NewWatchdog(e.board, config.ResetLine, config.Handshake, collab)
	e.session = handshake.NewSession(auth, e, e.board, e.watchdog, config.Handshake, collab)
	e.transfer = ota.NewTransfer(e, e, config.OTA)
	e.updater = ota.NewUpdater(flash, e.board, e.transfer, config.OTA, collab)
	e.poller = polling.NewPoller(e, e.board, config.Polling, collab)
	e.dispatcher = NewDispatcher(Handlers{
		Board:     e.board,
		Handshake: e.session,
		OTA:       e.updater,
		Config:    e.poller,
		Flush:     e.outbound.Reset,
		Query:     e.requestQuery,
	}, collab, config.Verbose)
	return e
}

// Board returns the board-info store. Callers outside the engine only read
// it through Snapshot.
func (e *Engine) Board() *boardinfo.Store { return e.board }

// Updater returns the OTA session owner, fed by the upstream command reader.
func (e *Engine) Updater() *ota.Updater { return e.updater }

// Poller returns the configuration poller.
func (e *Engine) Poller() *polling.Poller { return e.poller }

// Session returns the handshake session.
func (e *Engine) Session() *handshake.Session { return e.session }

// Dispatcher returns the frame dispatcher.
func (e *Engine) Dispatcher() *Dispatcher { return e.dispatcher }

// Start launches the loops and the availability watchdog.
func (e *Engine) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt64(&e.running, 0, 1) {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	link := e.recoverer.Link()
	e.log.Info().Str("port", link.Port()).Str("link", string(link.Type())).
		Int("transfer_size", e.config.TransferSize).Msg("engine starting")

	e.wg.Add(3)
	go e.transportLoop(ctx)
	go e.processLoop(ctx)
	go e.queryLoop(ctx)
	e.watchdog.Start(ctx)

	go func() {
		e.wg.Wait()
		close(e.done)
	}()
	return nil
}

// Stop cancels the loops and waits for them to exit. The link stays open;
// closing it is the caller's business.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	e.poller.Stop()
	e.watchdog.Stop()
	e.wg.Wait()
}

// Done is closed once every loop has exited, after Stop or a link failure
// that could not be recovered.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Err returns the error that stopped the transport loop, if any.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Send encodes m and queues it for the mainboard.
func (e *Engine) Send(m wire.Message) error {
	f, err := wire.Encode(m)
	if err != nil {
		return err
	}
	return e.SendFrame(f)
}

// SendFrame queues a complete frame. One frame travels per exchange.
func (e *Engine) SendFrame(f []byte) error {
	if len(f) > e.config.TransferSize {
		return fmt.Errorf("%w: %d byte frame, exchange is %d", cngw.ErrDataTooLarge, len(f), e.config.TransferSize)
	}
	if err := e.outbound.Push(f); err != nil {
		e.log.Error().Err(err).Msg("outbound frame dropped")
		return err
	}
	return nil
}

// QueueError reports whether the last received buffer was lost to a full
// inbound queue. The OTA sender backs off while it is set.
func (e *Engine) QueueError() bool {
	return e.queueError.Load()
}

// Metrics returns a copy of the transport counters.
func (e *Engine) Metrics() Metrics {
	return Metrics{
		Exchanges:    atomic.LoadInt64(&e.exchanges),
		Received:     atomic.LoadInt64(&e.received),
		Echoes:       atomic.LoadInt64(&e.echoes),
		Dropped:      atomic.LoadInt64(&e.dropped),
		LinkFailures: atomic.LoadInt64(&e.linkFailures),
		Recoveries:   atomic.LoadInt64(&e.recoveries),
	}
}

func (e *Engine) transportLoop(ctx context.Context) {
	defer e.wg.Done()
	size := e.config.TransferSize
	tx := make([]byte, size)
	rx := make([]byte, size)
	var pending []byte

	for ctx.Err() == nil {
		if pending == nil {
			pending, _ = e.outbound.Pop()
		}
		clear(tx)
		copy(tx, pending)

		err := e.recoverer.Link().Transceive(ctx, tx, rx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !e.linkFailed(ctx, err, rx) {
				return
			}
		} else {
			// A failed exchange keeps its frame for the next one.
			pending = nil
		}
		atomic.AddInt64(&e.exchanges, 1)
		e.receive(tx, rx)

		if err := cngw.SleepCtx(ctx, e.config.ExchangeInterval); err != nil {
			return
		}
	}
}

// linkFailed handles a failed exchange. Reports false when the loop must
// stop.
func (e *Engine) linkFailed(ctx context.Context, err error, rx []byte) bool {
	atomic.AddInt64(&e.linkFailures, 1)
	if !cngw.IsFatal(err) {
		e.log.Warn().Err(err).Msg("exchange failed")
		clear(rx)
		return true
	}

	e.log.Error().Err(err).Msg("link lost, recovering")
	if rerr := e.recoverer.AttemptRecovery(ctx, rx); rerr != nil {
		e.mu.Lock()
		e.err = rerr
		cancel := e.cancel
		e.mu.Unlock()
		e.log.Error().Err(rerr).Msg("engine stopping")
		if cancel != nil {
			cancel()
		}
		return false
	}
	atomic.AddInt64(&e.recoveries, 1)
	e.log.Info().Str("port", e.recoverer.Link().Port()).Msg("link recovered")
	return true
}

// receive queues rx for the dispatcher unless it is idle or an echo of tx.
func (e *Engine) receive(tx, rx []byte) {
	if allZero(rx) {
		return
	}
	if bytes.Equal(rx, tx) {
		atomic.AddInt64(&e.echoes, 1)
		return
	}
	if err := e.inbound.Push(rx); err != nil {
		atomic.AddInt64(&e.dropped, 1)
		e.queueError.Store(true)
		e.log.Error().Err(err).Msg("inbound queue full, buffer dropped")
		return
	}
	e.queueError.Store(false)
	atomic.AddInt64(&e.received, 1)
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func (e *Engine) processLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case buf := <-e.inbound.C():
			e.dispatcher.Process(ctx, buf)
		}
	}
}

func (e *Engine) requestQuery() {
	select {
	case e.queries <- struct{}{}:
	default:
	}
}

// queryLoop answers channel info queries off the process loop, so a slow
// upstream never holds up the dispatcher.
func (e *Engine) queryLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.queries:
			e.responder.RespondQuery(e.board.Snapshot())
		}
	}
}

// WaitEstablished blocks until the mainboard has announced its CN MCU or
// ctx ends.
func (e *Engine) WaitEstablished(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for !e.board.HandshakeComplete() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
