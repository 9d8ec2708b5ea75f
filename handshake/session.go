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

// Package handshake implements the authenticated pairing with the mainboard:
// CN1 is answered with GW1, CN2 with GW2, each side proving knowledge of the
// shared key through coprocessor HMACs. A watchdog restarts the gateway when
// the mainboard starts pairing but never finishes.
package handshake

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/boardinfo"
	"github.com/cencepower/cngw/internal/syncutil"
	"github.com/cencepower/cngw/wire"
)

// Authenticator is the slice of the coprocessor client the handshake needs.
type Authenticator interface {
	ValidateHMAC(ctx context.Context, msg []byte, slot uint8, expected []byte) (bool, error)
	ChallengeMAC(ctx context.Context, challenge [32]byte, slot uint8) ([32]byte, error)
	HMAC(ctx context.Context, msg []byte, slot uint8) ([32]byte, error)
}

// Sender queues a message for the mainboard.
type Sender interface {
	Send(m wire.Message) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(m wire.Message) error

// Send calls f.
func (f SenderFunc) Send(m wire.Message) error { return f(m) }

// Phase is the pairing progress with the mainboard.
type Phase int

// Handshake phases
const (
	PhaseIdle Phase = iota
	PhaseCN1Received
	PhaseGW1Sent
	PhaseCN2Received
	PhaseEstablished
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCN1Received:
		return "cn1-received"
	case PhaseGW1Sent:
		return "gw1-sent"
	case PhaseCN2Received:
		return "cn2-received"
	case PhaseEstablished:
		return "established"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Session tracks one mainboard's pairing. It is driven from the dispatcher
// goroutine; the accessors are safe to call from anywhere.
type Session struct {
	auth          Authenticator
	sender        Sender
	board         *boardinfo.Store
	watchdog      *Watchdog
	config        *Config
	collab        cngw.Collaborators
	log           zerolog.Logger
	phase         Phase
	attempts      int
	lastChallenge [wire.ChallengeLength]byte
	mu            syncutil.Mutex
}

// NewSession creates a session. watchdog may be nil.
func NewSession(auth Authenticator, sender Sender, board *boardinfo.Store, watchdog *Watchdog,
	config *Config, collab cngw.Collaborators,
) *Session {
	if config == nil {
		config = DefaultConfig()
	}
	return &Session{
		auth:     auth,
		sender:   sender,
		board:    board,
		watchdog: watchdog,
		config:   config,
		collab:   collab.Normalize(),
		log:      cngw.Logger("handshake"),
	}
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Attempts returns the number of failed validations since the last success.
func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// LastChallenge returns the challenge of the most recent CN1.
func (s *Session) LastChallenge() [wire.ChallengeLength]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastChallenge
}

// MarkEstablished records that the mainboard reported its CN MCU after a
// completed pairing and stops the availability watchdog.
func (s *Session) MarkEstablished() {
	s.mu.Lock()
	s.phase = PhaseEstablished
	s.mu.Unlock()
	if s.watchdog != nil {
		s.watchdog.Stop()
	}
}

// Reset returns the session to Idle and clears the failure count.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseIdle
	s.attempts = 0
}

// HandleCN1 answers a CN1 with GW1. On a bad HMAC the GW1 carries only the
// failed status and its own HMAC, no identity. Returns an ErrAuthFailure
// error when the mainboard failed validation.
func (s *Session) HandleCN1(ctx context.Context, cn1 *wire.CN1) error {
	s.collab.Notifier.Notify(cngw.LEDConnStage01, cngw.LEDTargetCN)
	if err := s.checkCeiling(ctx); err != nil {
		return err
	}

	s.board.SetCabinet(cn1.Cabinet)
	s.mu.Lock()
	s.phase = PhaseCN1Received
	s.lastChallenge = cn1.Challenge
	s.mu.Unlock()

	body, err := wire.Body(cn1)
	if err != nil {
		return err
	}

	gw1 := &wire.GW1{Command: wire.HandshakeGW1, Status: wire.HandshakeFailed}
	authErr := s.validate(ctx, "cn1", body[:wire.CN1SignedLength], cn1.HMAC[:])
	if authErr == nil {
		response, macErr := s.auth.ChallengeMAC(ctx, cn1.Challenge, s.config.KeySlot)
		if macErr != nil {
			authErr = s.fail("cn1 challenge", macErr)
		} else {
			id := s.config.Identity
			gw1.Status = wire.HandshakeSuccess
			gw1.Serial = id.Serial
			gw1.Model = id.Model
			gw1.Firmware = id.Firmware
			gw1.Bootloader = id.Bootloader
			gw1.ChallengeResponse = response
		}
	}

	if err := s.sign(ctx, gw1, wire.GW1SignedLength, func(mac [32]byte) { gw1.HMAC = mac }); err != nil {
		return err
	}

	s.mu.Lock()
	if authErr == nil {
		s.phase = PhaseGW1Sent
	} else {
		s.phase = PhaseIdle
	}
	s.mu.Unlock()

	s.board.ResetHandshake()
	if s.watchdog != nil {
		s.watchdog.Start(ctx)
		s.watchdog.MarkAttempt()
	}
	return authErr
}

// HandleCN2 answers a CN2 with GW2. A valid CN2 clears the failure count and
// establishes the session.
func (s *Session) HandleCN2(ctx context.Context, cn2 *wire.CN2) error {
	s.collab.Notifier.Notify(cngw.LEDConnStage02, cngw.LEDTargetCN)
	if err := s.checkCeiling(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.phase = PhaseCN2Received
	s.mu.Unlock()

	body, err := wire.Body(cn2)
	if err != nil {
		return err
	}

	// The mainboard only learns of a bad CN2 through the failure ceiling;
	// GW2 reports success either way.
	gw2 := &wire.GW2{Command: wire.HandshakeGW2, Status: wire.HandshakeSuccess}
	authErr := s.validate(ctx, "cn2", body[:wire.HandshakeAckSignedLength], cn2.HMAC[:])

	s.mu.Lock()
	if authErr == nil {
		s.attempts = 0
		s.phase = PhaseEstablished
	} else {
		s.phase = PhaseIdle
	}
	s.mu.Unlock()

	if err := s.sign(ctx, gw2, wire.HandshakeAckSignedLength, func(mac [32]byte) { gw2.HMAC = mac }); err != nil {
		return err
	}
	return authErr
}

// validate checks a mainboard HMAC and counts failures. Coprocessor errors
// count as failures too.
func (s *Session) validate(ctx context.Context, step string, msg, expected []byte) error {
	ok, err := s.auth.ValidateHMAC(ctx, msg, s.config.KeySlot, expected)
	if err != nil {
		return s.fail(step, err)
	}
	if !ok {
		return s.fail(step, cngw.ErrAuthFailure)
	}
	return nil
}

func (s *Session) fail(step string, err error) error {
	s.mu.Lock()
	s.attempts++
	attempts := s.attempts
	s.mu.Unlock()
	s.log.Error().Err(err).Str("step", step).Int("attempts", attempts).Msg("hmac validation failed")
	return fmt.Errorf("%w: %s: %w", cngw.ErrAuthFailure, step, err)
}

// sign packs m, computes the HMAC over its first n bytes and sends it. If
// the HMAC cannot be computed nothing is sent.
func (s *Session) sign(ctx context.Context, m wire.Message, n int, set func([32]byte)) error {
	body, err := wire.Body(m)
	if err != nil {
		return err
	}
	mac, err := s.auth.HMAC(ctx, body[:n], s.config.KeySlot)
	if err != nil {
		return fmt.Errorf("sign %T: %w", m, err)
	}
	set(mac)
	if err := s.sender.Send(m); err != nil {
		return fmt.Errorf("send %T: %w", m, err)
	}
	return nil
}

// checkCeiling escalates to a restart once the failure ceiling is passed.
func (s *Session) checkCeiling(ctx context.Context) error {
	s.mu.Lock()
	attempts := s.attempts
	s.mu.Unlock()
	if attempts <= s.config.MaxFailures {
		return nil
	}
	ForceRestart(ctx, s.collab, s.config.RestartDelay, "too many unsuccessful handshake attempts")
	return fmt.Errorf("%w: %d failed attempts", cngw.ErrAuthFailure, attempts)
}

// ForceRestart signals the error on the general LED, waits delay and asks
// the restarter to restart the gateway.
func ForceRestart(ctx context.Context, collab cngw.Collaborators, delay time.Duration, reason string) {
	collab = collab.Normalize()
	l := cngw.Logger("handshake")
	l.Error().Str("reason", reason).Dur("delay", delay).Msg("gateway forced to restart")
	collab.Notifier.Notify(cngw.LEDError, cngw.LEDTargetGen)
	if err := cngw.SleepCtx(ctx, delay); err != nil {
		return
	}
	collab.Restarter.Restart(reason)
}
