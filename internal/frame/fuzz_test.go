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

import (
	"testing"
)

// =============================================================================
// Fuzz Tests for Frame Primitives
// =============================================================================
// Raw receive buffers come straight off the SPI bus, where noise and partial
// transfers are routine. None of the decoders may panic on arbitrary input.
//
// Run with: go test -fuzz=FuzzDecodeHeader -fuzztime=30s ./internal/frame/
// Run all: go test -fuzz=Fuzz -fuzztime=10s ./internal/frame/

// FuzzDecodeHeader checks that decoding never panics and that every header
// accepted re-encodes to the same bytes.
func FuzzDecodeHeader(f *testing.F) {
	f.Add([]byte{0x02, 0x00, 0x02, 0xD8})
	f.Add([]byte{0x06, 0x00, 0x4C, 0x9E})
	f.Add([]byte{})
	f.Add([]byte{0x00})
	f.Add([]byte{0xFF, 0xFF, 0xFF, 0xFF})

	f.Fuzz(func(t *testing.T, buf []byte) {
		h, err := DecodeHeader(buf)
		if err != nil {
			return
		}
		enc := EncodeHeader(h.Type, int(h.DataSize))
		if string(enc[:]) != string(buf[:HeaderSize]) {
			t.Errorf("re-encoded header %X differs from input %X", enc, buf[:HeaderSize])
		}
	})
}

// FuzzValidateBody checks that a sealed body always validates.
func FuzzValidateBody(f *testing.F) {
	f.Add([]byte{0x03, 0x00})
	f.Add([]byte{0x00})
	f.Add([]byte{0x05, 0x01, 0x00})

	f.Fuzz(func(t *testing.T, body []byte) {
		_ = ValidateBody(body)
		if len(body) == 0 {
			return
		}
		sealed := append([]byte(nil), body...)
		SealBody(sealed)
		if !ValidateBody(sealed) {
			t.Errorf("sealed body %X does not validate", sealed)
		}
	})
}

// FuzzCRC32ImageSplit checks that accumulating over word-aligned blocks
// matches a single pass.
func FuzzCRC32ImageSplit(f *testing.F) {
	f.Add([]byte("12345678"), 1)
	f.Add(make([]byte, 64), 3)

	f.Fuzz(func(t *testing.T, data []byte, words int) {
		words %= 1024
		if words < 0 {
			words = -words
		}
		split := (words * 4) % (len(data) + 1)
		split -= split % 4
		whole := CRC32Image(CRC32ImageInit, data)
		parts := CRC32Image(CRC32Image(CRC32ImageInit, data[:split]), data[split:])
		if whole != parts {
			t.Errorf("split at %d: 0x%08X != 0x%08X", split, parts, whole)
		}
	})
}

// FuzzBufferPool tests the buffer pool with arbitrary sizes.
func FuzzBufferPool(f *testing.F) {
	f.Add(1)
	f.Add(SmallBufferSize)
	f.Add(TransferSize)
	f.Add(SpanBufferSize)
	f.Add(0)
	f.Add(10000)

	f.Fuzz(func(t *testing.T, size int) {
		if size < 0 || size > 1_000_000 {
			return
		}
		buf := GetBuffer(size)
		if len(buf) != size {
			t.Errorf("GetBuffer(%d) returned buffer of length %d", size, len(buf))
		}
		for i := range buf {
			buf[i] = byte(i)
		}
		PutBuffer(buf)
	})
}
