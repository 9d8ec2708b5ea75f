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

// Package ota receives firmware images from upstream and forwards them to
// the mainboard.
//
// An upstream update is a Begin, a run of sequenced Data packets and an End.
// Begin checks the image against the running version and erases the
// staging partition; each Data packet is written to flash and read back;
// End checks the packet and byte counts, then hands the staged image to a
// Transfer, which streams it to the mainboard on its own goroutine.
package ota

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/boardinfo"
	"github.com/cencepower/cngw/internal/frame"
	"github.com/cencepower/cngw/internal/syncutil"
	"github.com/cencepower/cngw/wire"
)

// State is the upstream session state.
type State int

// Session states
const (
	StateIdle State = iota
	StateAwaitingData
	StateTransferring
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingData:
		return "awaiting-data"
	case StateTransferring:
		return "transferring"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SessionInfo is a snapshot of the upstream session.
type SessionInfo struct {
	Target        Target
	Partition     Partition
	Failure       error
	State         State
	TotalExpected uint32
	TotalReceived uint32
	NextSeq       uint32
	Overall       bool
	DataExpected  bool
}

type session struct {
	lastActivity  time.Time
	failure       error
	target        Target
	partition     Partition
	totalExpected uint32
	totalReceived uint32
	nextSeq       uint32
	overall       bool
	dataExpected  bool
}

// Updater owns the upstream OTA session. At most one session exists at a
// time and nothing but End can finish it.
type Updater struct {
	flash        Flash
	board        *boardinfo.Store
	transfer     *Transfer
	config       *Config
	collab       cngw.Collaborators
	log          zerolog.Logger
	now          func() time.Time
	session      *session
	transferring atomic.Bool
	mu           syncutil.Mutex
}

// NewUpdater creates an updater staging images in flash and forwarding them
// through transfer.
func NewUpdater(flash Flash, board *boardinfo.Store, transfer *Transfer,
	config *Config, collab cngw.Collaborators,
) *Updater {
	if config == nil {
		config = DefaultConfig()
	}
	return &Updater{
		flash:    flash,
		board:    board,
		transfer: transfer,
		config:   config,
		collab:   collab.Normalize(),
		log:      cngw.Logger("ota"),
		now:      time.Now,
	}
}

// Transferring reports whether an image is being sent to the mainboard.
// The dispatcher ignores handshake frames while it is. It never waits on
// the session lock, which Data holds across flash writes.
func (u *Updater) Transferring() bool {
	return u.transferring.Load() || u.transfer.Running()
}

// Status forwards an OTA status frame from the mainboard.
func (u *Updater) Status(s wire.OTAStatusCode) {
	u.transfer.Deliver(s)
}

// Info returns a snapshot of the session.
func (u *Updater) Info() SessionInfo {
	u.mu.Lock()
	defer u.mu.Unlock()

	info := SessionInfo{State: StateIdle}
	if u.transferring.Load() {
		info.State = StateTransferring
	}
	s := u.session
	if s == nil {
		return info
	}
	if s.dataExpected {
		info.State = StateAwaitingData
	}
	info.Target = s.target
	info.Partition = s.partition
	info.Failure = s.failure
	info.TotalExpected = s.totalExpected
	info.TotalReceived = s.totalReceived
	info.NextSeq = s.nextSeq
	info.Overall = s.overall
	info.DataExpected = s.dataExpected
	return info
}

// Begin opens a session for the image named name of size bytes. It fails
// without touching an open session, when the mainboard has not completed
// its handshake, or when the version policy refuses the image.
func (u *Updater) Begin(name string, size uint32) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.transferring.Load() || u.transfer.Running() {
		return fmt.Errorf("%w: mainboard transfer running", cngw.ErrOTAInProgress)
	}
	u.expireIdle()
	if u.session != nil {
		return fmt.Errorf("%w: session for %s open", cngw.ErrOTAInProgress, u.session.target)
	}
	if !u.board.HandshakeComplete() {
		return cngw.ErrNotHandshaked
	}
	u.collab.Publisher.Publish(cngw.PublishInfo, 0, cngw.MsgBeginOTA)

	target, err := ParseTarget(name)
	if err != nil {
		return err
	}
	if mcu, ok := target.comparedMCU(); ok {
		info := u.board.Snapshot()
		current, _ := info.Firmware(mcu)
		if err := CheckVersion(target.Version, current, u.config.AllowSameVersion); err != nil {
			u.log.Error().Err(err).Stringer("mcu", mcu).Msg("firmware version refused")
			return err
		}
	}

	part, err := SelectPartition(u.config.Partitions, u.config.Booted)
	if err != nil {
		return err
	}
	if size == 0 || size > part.Size {
		return fmt.Errorf("%w: image of %d bytes for %s partition of %d",
			cngw.ErrInvalidParameter, size, part.Name, part.Size)
	}
	if err := EraseSectors(u.flash, part.Offset, size); err != nil {
		u.log.Error().Err(err).Str("partition", part.Name).Msg("erase failed")
		return err
	}

	u.session = &session{
		target:        target,
		partition:     part,
		totalExpected: size,
		overall:       true,
		dataExpected:  true,
		lastActivity:  u.now(),
	}
	u.collab.Notifier.Notify(cngw.LEDFWUpdate, cngw.LEDTargetCN)
	u.log.Info().
		Stringer("target", target).
		Uint32("size", size).
		Str("partition", part.Name).
		Msg("ota session opened")
	return nil
}

// Data stages one upstream data packet. Out-of-order packets fail the
// session but are still consumed, so the error only surfaces at End. A
// flash failure aborts the session at once.
func (u *Updater) Data(raw []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.transferring.Load() || u.transfer.Running() {
		return fmt.Errorf("%w: mainboard transfer running", cngw.ErrOTAInProgress)
	}
	u.expireIdle()
	s := u.session
	if s == nil || !s.dataExpected {
		return cngw.ErrNoOTASession
	}
	pkt, err := wire.UnpackOTAPacket(raw)
	if err != nil {
		return err
	}
	s.lastActivity = u.now()

	if !s.overall {
		return nil
	}
	if pkt.Seq != uint8(s.nextSeq) { //nolint:gosec // the wire sequence wraps at 256
		s.overall = false
		s.failure = fmt.Errorf("%w: expected %d, got %d", cngw.ErrSequence, uint8(s.nextSeq), pkt.Seq) //nolint:gosec // as above
		u.log.Error().Err(s.failure).Msg("ota data out of sequence")
		return nil
	}
	if uint64(s.totalReceived)+uint64(len(pkt.Data)) > uint64(s.partition.Size) {
		s.overall = false
		s.failure = fmt.Errorf("%w: %d bytes overflow partition %s",
			cngw.ErrSizeMismatch, s.totalReceived+uint32(len(pkt.Data)), s.partition.Name) //nolint:gosec // bounded above
		u.log.Error().Err(s.failure).Msg("ota data overflow")
		return nil
	}

	addr := s.partition.Offset + s.totalReceived
	if err := WriteVerify(u.flash, pkt.Data, addr); err != nil {
		u.log.Error().Err(err).Uint32("seq", s.nextSeq).Msg("ota flash write failed, aborting session")
		u.session = nil
		u.collab.Notifier.Notify(cngw.LEDError, cngw.LEDTargetCN)
		return err
	}
	s.totalReceived += uint32(len(pkt.Data)) //nolint:gosec // bounded by partition size
	s.nextSeq++
	return nil
}

// End closes the session and, if every packet arrived in order and the
// byte count matches, sends the image to the mainboard. It blocks until
// the transfer finishes.
func (u *Updater) End(ctx context.Context, count uint32) error {
	done, err := u.EndAsync(ctx, count)
	if err != nil {
		return err
	}
	return <-done
}

// EndAsync is End without the wait: the transfer result arrives on the
// returned channel.
func (u *Updater) EndAsync(ctx context.Context, count uint32) (<-chan error, error) {
	u.mu.Lock()
	if u.transferring.Load() || u.transfer.Running() {
		u.mu.Unlock()
		return nil, fmt.Errorf("%w: mainboard transfer running", cngw.ErrOTAInProgress)
	}
	s := u.session
	u.session = nil
	if s == nil {
		u.mu.Unlock()
		return nil, cngw.ErrNoOTASession
	}
	s.dataExpected = false

	if err := checkComplete(s, count); err != nil {
		u.mu.Unlock()
		u.log.Error().Err(err).Stringer("target", s.target).Msg("ota session incomplete")
		u.fail()
		return nil, err
	}
	img, err := u.stage(s)
	if err != nil {
		u.mu.Unlock()
		u.fail()
		return nil, err
	}
	u.transferring.Store(true)
	u.mu.Unlock()

	u.collab.Notifier.Notify(cngw.LEDIdle, cngw.LEDTargetComm)
	u.collab.Notifier.Notify(cngw.LEDFWUpdate, cngw.LEDTargetCN)
	u.log.Info().
		Stringer("target", s.target).
		Uint32("crc", img.CRC).
		Bool("bundle", img.Bundle).
		Msg("sending image to mainboard")

	done := make(chan error, 1)
	go func() {
		err := u.transfer.Run(ctx, img)

		u.transferring.Store(false)

		if err != nil {
			u.log.Error().Err(err).Stringer("target", s.target).Msg("mainboard transfer failed")
			u.fail()
		} else {
			delay := u.config.restartDelay(s.target.Type)
			u.collab.Notifier.Notify(cngw.LEDIdle, cngw.LEDTargetCN)
			u.collab.Publisher.Publish(cngw.PublishInfo, int(delay.Milliseconds()), cngw.MsgOTASuccess)
			u.log.Info().Stringer("target", s.target).Dur("restart_delay", delay).Msg("mainboard accepted image")
		}
		done <- err
	}()
	return done, nil
}

func checkComplete(s *session, count uint32) error {
	switch {
	case !s.overall:
		return s.failure
	case s.nextSeq != count:
		return fmt.Errorf("%w: %d packets received, %d announced", cngw.ErrSequence, s.nextSeq, count)
	case s.totalReceived != s.totalExpected:
		return fmt.Errorf("%w: %d bytes received, %d announced", cngw.ErrSizeMismatch, s.totalReceived, s.totalExpected)
	default:
		return nil
	}
}

// stage reads the image back from flash with its trailer and computes the
// image CRC. The sw bootloader treats a non-zero CRC as a request to
// decrypt, so its images go out with zero.
func (u *Updater) stage(s *session) (*Image, error) {
	n := s.totalExpected
	if s.target.Type != wire.BinaryConfig {
		n = min(n+ImageTrailer, s.partition.Size)
	}
	data := make([]byte, n)
	if err := u.flash.ReadAt(data, s.partition.Offset); err != nil {
		return nil, cngw.NewFlashError("stage", s.partition.Offset, err)
	}

	img := &Image{Target: s.target, Size: s.totalExpected, Data: data}
	if s.target.Type != wire.BinarySW {
		img.CRC = frame.CRC32Image(frame.CRC32ImageInit, data[:s.totalExpected])
	}

	info := u.board.Snapshot()
	cn := info.CN.Application
	img.Bundle = u.config.AlwaysBundle || (info.CN.Present && cn.Major == 2 && cn.Minor < 5)
	return img, nil
}

func (u *Updater) fail() {
	u.collab.Notifier.Notify(cngw.LEDIdle, cngw.LEDTargetCN)
	u.collab.Notifier.Notify(cngw.LEDError, cngw.LEDTargetCN)
	u.collab.Publisher.Publish(cngw.PublishError, 0, cngw.MsgOTAFailed)
}

// expireIdle drops a session that has gone quiet. Caller holds mu.
func (u *Updater) expireIdle() {
	s := u.session
	if s == nil || !s.dataExpected || u.config.SessionTimeout <= 0 {
		return
	}
	if idle := u.now().Sub(s.lastActivity); idle > u.config.SessionTimeout {
		u.log.Warn().Dur("idle", idle).Stringer("target", s.target).Msg("ota session timed out")
		u.session = nil
		u.collab.Notifier.Notify(cngw.LEDIdle, cngw.LEDTargetCN)
	}
}
