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

package upstream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	cngw "github.com/cencepower/cngw"
)

// ErrUnsupported is returned for a message type the gateway does not accept.
var ErrUnsupported = errors.New("unsupported upstream command")

// OTAController is the OTA session owner.
type OTAController interface {
	Begin(name string, size uint32) error
	Data(raw []byte) error
	EndAsync(ctx context.Context, count uint32) (<-chan error, error)
}

// ConfigStarter starts a configuration walk.
type ConfigStarter interface {
	Start(ctx context.Context) error
}

// CommandHandler routes cloud commands to the engine's state machines.
// Rejected commands are reported back through the publisher.
type CommandHandler struct {
	ota       OTAController
	config    ConfigStarter
	publisher cngw.Publisher
	log       zerolog.Logger
	wg        sync.WaitGroup
}

// NewCommandHandler creates a handler. config may be nil.
func NewCommandHandler(ota OTAController, config ConfigStarter, publisher cngw.Publisher) *CommandHandler {
	if publisher == nil {
		publisher = cngw.Collaborators{}.Normalize().Publisher
	}
	return &CommandHandler{
		ota:       ota,
		config:    config,
		publisher: publisher,
		log:       cngw.Logger("commands"),
	}
}

// Handle runs one command. OTA End returns as soon as the mainboard
// transfer has started; the result is published by the OTA session owner.
func (h *CommandHandler) Handle(ctx context.Context, env Envelope) error {
	var err error
	switch env.Type {
	case MsgOTABegin:
		var m OTABegin
		if err = DecodePayload(env, &m); err == nil {
			err = h.ota.Begin(m.Name, m.Size)
		}
	case MsgOTAData:
		var m OTAData
		if err = DecodePayload(env, &m); err == nil {
			err = h.ota.Data(m.Packet)
		}
	case MsgOTAEnd:
		var m OTAEnd
		if err = DecodePayload(env, &m); err == nil {
			err = h.end(ctx, m.Count)
		}
	case MsgConfigReload:
		if h.config == nil {
			return fmt.Errorf("%w: %s", ErrUnsupported, env.Type)
		}
		// The poller publishes its own refusal.
		return h.config.Start(context.WithoutCancel(ctx))
	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, env.Type)
	}
	if err != nil {
		h.publisher.Publish(cngw.PublishError, 0, err.Error())
	}
	return err
}

// end starts the transfer detached from ctx: once the image is going to
// the mainboard there is no way to abort it.
func (h *CommandHandler) end(ctx context.Context, count uint32) error {
	done, err := h.ota.EndAsync(context.WithoutCancel(ctx), count)
	if err != nil {
		return err
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := <-done; err != nil {
			h.log.Warn().Err(err).Msg("ota transfer finished with error")
			return
		}
		h.log.Info().Msg("ota transfer finished")
	}()
	return nil
}

// Wait blocks until every transfer started by End has finished.
func (h *CommandHandler) Wait() {
	h.wg.Wait()
}
