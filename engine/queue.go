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
	"fmt"

	cngw "github.com/cencepower/cngw"
)

// Queue is a bounded FIFO of frame buffers. Push never blocks: a full queue
// drops the buffer and reports ErrQueueFull.
type Queue struct {
	ch chan []byte
}

// NewQueue returns a queue holding at most n buffers.
func NewQueue(n int) *Queue {
	return &Queue{ch: make(chan []byte, n)}
}

// Push appends a copy of buf.
func (q *Queue) Push(buf []byte) error {
	select {
	case q.ch <- append([]byte(nil), buf...):
		return nil
	default:
		return fmt.Errorf("%w: %d buffers waiting", cngw.ErrQueueFull, len(q.ch))
	}
}

// Pop removes the oldest buffer without waiting.
func (q *Queue) Pop() ([]byte, bool) {
	select {
	case b := <-q.ch:
		return b, true
	default:
		return nil, false
	}
}

// C exposes the queue for select loops.
func (q *Queue) C() <-chan []byte {
	return q.ch
}

// Reset drops everything queued and returns how many buffers were dropped.
func (q *Queue) Reset() int {
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}

// Len returns the number of queued buffers.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue bound.
func (q *Queue) Cap() int {
	return cap(q.ch)
}
