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
	"github.com/rs/zerolog"

	cngw "github.com/cencepower/cngw"
)

// LogPublisher writes every report to the log. It is the publisher used
// when no upstream is configured, and alongside one for a local trail.
type LogPublisher struct {
	log zerolog.Logger
}

// NewLogPublisher returns a publisher logging under the "upstream" component.
func NewLogPublisher() *LogPublisher {
	return &LogPublisher{log: cngw.Logger("upstream")}
}

// Publish logs the report at a level matching its code.
func (p *LogPublisher) Publish(code cngw.PublishCode, value int, text string) {
	var ev *zerolog.Event
	switch code {
	case cngw.PublishCritical:
		ev = p.log.Error()
	case cngw.PublishError:
		ev = p.log.Warn()
	default:
		ev = p.log.Info()
	}
	ev.Int("code", int(code)).Int("value", value).Msg(text)
}

// Multi fans a report out to several publishers in order.
type Multi []cngw.Publisher

// Publish calls every publisher.
func (m Multi) Publish(code cngw.PublishCode, value int, text string) {
	for _, p := range m {
		p.Publish(code, value, text)
	}
}
