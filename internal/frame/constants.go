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

// Package frame holds the byte-level primitives of the mainboard link: the
// three checksums, the message header codec and pooled transfer buffers.
package frame

// Header layout
const (
	// HeaderSize is the size of the message header prologue.
	HeaderSize = 4
	// headerCRCOffset is the offset of the header CRC8, which covers every
	// byte before it.
	headerCRCOffset = 3
)

// Buffer sizes used by the link.
const (
	TransferSize = 134 // One duplex SPI exchange
	LogFrameSize = 144 // Largest frame the mainboard emits
)

// MessageCRCSeed is the CRC8 seed for both header and message checksums.
const MessageCRCSeed = 0x00
