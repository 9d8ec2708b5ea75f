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
	"context"
	"fmt"
	"time"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/internal/syncutil"
)

// ReopenFunc opens a fresh link to the mainboard.
type ReopenFunc func(ctx context.Context) (cngw.Link, error)

// LinkRecoverer brings a failed link back. Each attempt first probes the
// existing link with an empty exchange, which is enough after a glitch on
// a USB serial adapter, then closes it and reopens when a ReopenFunc is set.
type LinkRecoverer struct {
	link        cngw.Link
	reopen      ReopenFunc
	backoff     time.Duration
	maxAttempts int
	mu          syncutil.Mutex
}

// NewLinkRecoverer creates a recoverer for link.
func NewLinkRecoverer(link cngw.Link, config RecoveryConfig) *LinkRecoverer {
	maxAttempts := config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoff := config.Backoff
	if backoff < 0 {
		backoff = 0
	}
	return &LinkRecoverer{
		link:        link,
		reopen:      config.Reopen,
		backoff:     backoff,
		maxAttempts: maxAttempts,
	}
}

// AttemptRecovery tries to restore the link. A successful probe leaves what
// the mainboard clocked out in rx, so nothing it sent is lost.
func (r *LinkRecoverer) AttemptRecovery(ctx context.Context, rx []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	for attempt := range r.maxAttempts {
		if attempt > 0 {
			if err := cngw.SleepCtx(ctx, r.backoff); err != nil {
				return err
			}
		}

		clear(rx)
		err := r.link.Transceive(ctx, make([]byte, len(rx)), rx)
		if err == nil {
			return nil
		}
		lastErr = err

		if r.reopen != nil {
			_ = r.link.Close()
			link, reopenErr := r.reopen(ctx)
			if reopenErr == nil {
				r.link = link
				clear(rx)
				return nil
			}
			lastErr = reopenErr
		}
	}
	return fmt.Errorf("link recovery failed after %d attempts: %w", r.maxAttempts, lastErr)
}

// Link returns the current link, which changes after a reopen.
func (r *LinkRecoverer) Link() cngw.Link {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.link
}
