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
package detection

import (
	"context"
	"fmt"
	"time"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/internal/frame"
)

// ProbeTimeout bounds a single device probe.
const ProbeTimeout = 2 * time.Second

// ProbeMainboard clocks one idle transfer over link and reports whether the
// mainboard answered with a well formed frame. An idle mainboard clocks out
// zeros, which is not evidence either way, so a quiet link returns false
// with a nil error.
//
// Probes make a single attempt; detection must not hammer a bus that turns
// out to belong to something else.
func ProbeMainboard(ctx context.Context, link cngw.Link) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	tx := make([]byte, frame.TransferSize)
	rx := make([]byte, frame.TransferSize)
	if err := link.Transceive(ctx, tx, rx); err != nil {
		return false, fmt.Errorf("probe %s: %w", link.Port(), err)
	}
	return looksLikeFrame(rx), nil
}

func looksLikeFrame(rx []byte) bool {
	start := -1
	for i, b := range rx {
		if b != 0 {
			start = i
			break
		}
	}
	if start < 0 {
		return false
	}
	h, err := frame.DecodeHeader(rx[start:])
	if err != nil {
		return false
	}
	return h.Type.Valid() && int(h.DataSize) <= frame.LogFrameSize
}
