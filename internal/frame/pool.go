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

package frame

import "sync"

// BufferPool recycles transfer-sized buffers. The transport loop allocates a
// receive buffer per exchange and the process loop releases it once every
// frame in it has been dispatched.
type BufferPool struct {
	// Small buffers for coprocessor responses (up to 35 bytes)
	smallPool sync.Pool
	// Transfer buffers for one duplex exchange
	transferPool sync.Pool
	// Span buffers for the largest mainboard frame
	spanPool sync.Pool
}

// Pool bucket sizes
const (
	SmallBufferSize = 64
	SpanBufferSize  = LogFrameSize
)

var defaultPool = NewBufferPool()

func newPool(size int) sync.Pool {
	return sync.Pool{
		New: func() any {
			buf := make([]byte, size)
			return &buf
		},
	}
}

// NewBufferPool creates a new buffer pool.
func NewBufferPool() *BufferPool {
	return &BufferPool{
		smallPool:    newPool(SmallBufferSize),
		transferPool: newPool(TransferSize),
		spanPool:     newPool(SpanBufferSize),
	}
}

// GetBuffer returns a buffer of exactly size bytes, pooled when a bucket fits.
func (p *BufferPool) GetBuffer(size int) []byte {
	var pool *sync.Pool
	switch {
	case size <= SmallBufferSize:
		pool = &p.smallPool
	case size <= TransferSize:
		pool = &p.transferPool
	case size <= SpanBufferSize:
		pool = &p.spanPool
	default:
		// Oversized requests bypass the pool
		return make([]byte, size)
	}
	bufPtr, ok := pool.Get().(*[]byte)
	if !ok {
		return make([]byte, size)
	}
	return (*bufPtr)[:size]
}

// PutBuffer zeroes buf and returns it to the bucket matching its capacity.
func (p *BufferPool) PutBuffer(buf []byte) {
	if buf == nil {
		return
	}
	full := buf[:cap(buf)]
	clear(full)

	switch cap(buf) {
	case SmallBufferSize:
		p.smallPool.Put(&full)
	case TransferSize:
		p.transferPool.Put(&full)
	case SpanBufferSize:
		p.spanPool.Put(&full)
	default:
		// Not from the pool, let GC handle it
	}
}

// GetTransferBuffer returns a zeroed buffer sized for one duplex exchange.
func (p *BufferPool) GetTransferBuffer() []byte {
	return p.GetBuffer(TransferSize)
}

// GetBuffer gets a buffer from the default pool.
func GetBuffer(size int) []byte {
	return defaultPool.GetBuffer(size)
}

// PutBuffer returns a buffer to the default pool.
func PutBuffer(buf []byte) {
	defaultPool.PutBuffer(buf)
}

// GetTransferBuffer gets a transfer buffer from the default pool.
func GetTransferBuffer() []byte {
	return defaultPool.GetTransferBuffer()
}
