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
	"github.com/rs/zerolog"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/boardinfo"
)

// QueryResponder answers a mainboard GetAllChannelInfo query with a
// snapshot of the board-info store.
type QueryResponder interface {
	RespondQuery(info boardinfo.BoardInfo)
}

// QueryResponderFunc adapts a function to QueryResponder.
type QueryResponderFunc func(info boardinfo.BoardInfo)

// RespondQuery calls f.
func (f QueryResponderFunc) RespondQuery(info boardinfo.BoardInfo) { f(info) }

type logResponder struct {
	log zerolog.Logger
}

func newLogResponder() logResponder {
	return logResponder{log: cngw.Logger("query")}
}

func (r logResponder) RespondQuery(info boardinfo.BoardInfo) {
	status, attrs := 0, 0
	for i := range info.ChannelStatus {
		if info.ChannelStatus[i].Valid {
			status++
		}
		if info.ChannelAttribute[i].Valid {
			attrs++
		}
	}
	r.log.Info().Int("channel_status", status).Int("channel_attributes", attrs).
		Uint16("cabinet", info.Cabinet).Msg("channel info snapshot")
}
