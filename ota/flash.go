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

package ota

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/internal/syncutil"
)

// Partition names
const (
	PartitionOTA0 = "ota_0"
	PartitionOTA1 = "ota_1"
)

// Partition is one staging slot in flash.
type Partition struct {
	Name   string
	Offset uint32
	Size   uint32
}

// DefaultPartitions is the two-slot layout of the gateway's 4MB part.
func DefaultPartitions() []Partition {
	return []Partition{
		{Name: PartitionOTA0, Offset: 0x010000, Size: 0x180000},
		{Name: PartitionOTA1, Offset: 0x190000, Size: 0x180000},
	}
}

// SelectPartition returns the slot that is not booted, so a failed transfer
// never touches the running image.
func SelectPartition(parts []Partition, booted string) (Partition, error) {
	if len(parts) != 2 {
		return Partition{}, fmt.Errorf("%w: %d staging partitions", cngw.ErrInvalidParameter, len(parts))
	}
	if parts[0].Name == booted {
		return parts[1], nil
	}
	return parts[0], nil
}

// Flash is NOR-style storage: erased bytes read 0xFF and writes only land
// on erased sectors.
type Flash interface {
	// Erase clears size bytes at addr. Both must be sector aligned.
	Erase(addr, size uint32) error
	// WriteAt programs p at addr.
	WriteAt(p []byte, addr uint32) error
	// ReadAt fills p from addr.
	ReadAt(p []byte, addr uint32) error
	// Size is the device capacity in bytes.
	Size() uint32
}

// EraseSectors erases enough whole sectors from addr to hold n bytes.
func EraseSectors(f Flash, addr, n uint32) error {
	sectors := (n + SectorSize - 1) / SectorSize
	if err := f.Erase(addr, sectors*SectorSize); err != nil {
		return cngw.NewFlashError("erase", addr, err)
	}
	return nil
}

// WriteVerify programs p and reads it back.
func WriteVerify(f Flash, p []byte, addr uint32) error {
	if err := f.WriteAt(p, addr); err != nil {
		return cngw.NewFlashError("write", addr, err)
	}
	back := make([]byte, len(p))
	if err := f.ReadAt(back, addr); err != nil {
		return cngw.NewFlashError("read back", addr, err)
	}
	if !bytes.Equal(back, p) {
		return cngw.NewFlashError("verify", addr, errVerify)
	}
	return nil
}

var (
	errVerify     = errors.New("read back differs from written data")
	errAlignment  = errors.New("erase range not sector aligned")
	errOutOfRange = errors.New("access beyond flash end")
)

func checkRange(addr uint32, n int, size uint32) error {
	if uint64(addr)+uint64(n) > uint64(size) {
		return fmt.Errorf("%w: 0x%08X+%d of 0x%08X", errOutOfRange, addr, n, size)
	}
	return nil
}

func checkErase(addr, n, size uint32) error {
	if addr%SectorSize != 0 || n%SectorSize != 0 {
		return fmt.Errorf("%w: 0x%08X+%d", errAlignment, addr, n)
	}
	return checkRange(addr, int(n), size)
}

// MemoryFlash is a RAM-backed Flash.
type MemoryFlash struct {
	data []byte
	mu   syncutil.Mutex
}

// NewMemoryFlash returns an erased device of size bytes.
func NewMemoryFlash(size uint32) *MemoryFlash {
	data := make([]byte, size)
	for i := range data {
		data[i] = 0xFF
	}
	return &MemoryFlash{data: data}
}

// Erase implements Flash.
func (m *MemoryFlash) Erase(addr, size uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkErase(addr, size, uint32(len(m.data))); err != nil {
		return err
	}
	for i := addr; i < addr+size; i++ {
		m.data[i] = 0xFF
	}
	return nil
}

// WriteAt implements Flash. Programming can only clear bits, as on the
// real part.
func (m *MemoryFlash) WriteAt(p []byte, addr uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkRange(addr, len(p), uint32(len(m.data))); err != nil {
		return err
	}
	for i, b := range p {
		m.data[int(addr)+i] &= b
	}
	return nil
}

// ReadAt implements Flash.
func (m *MemoryFlash) ReadAt(p []byte, addr uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkRange(addr, len(p), uint32(len(m.data))); err != nil {
		return err
	}
	copy(p, m.data[addr:])
	return nil
}

// Size implements Flash.
func (m *MemoryFlash) Size() uint32 {
	return uint32(len(m.data))
}

// FileFlash keeps the flash image in a regular file, for bench gateways
// without a raw flash device.
type FileFlash struct {
	file *os.File
	size uint32
	mu   syncutil.Mutex
}

// OpenFileFlash opens or creates path as a flash image of size bytes. A new
// or short file is extended with erased bytes.
func OpenFileFlash(path string, size uint32) (*FileFlash, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("open flash image: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat flash image: %w", err)
	}
	if cur := info.Size(); cur < int64(size) {
		fill := bytes.Repeat([]byte{0xFF}, int(int64(size)-cur))
		if _, err := f.WriteAt(fill, cur); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("extend flash image: %w", err)
		}
	}
	return &FileFlash{file: f, size: size}, nil
}

// Erase implements Flash.
func (f *FileFlash) Erase(addr, size uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := checkErase(addr, size, f.size); err != nil {
		return err
	}
	if _, err := f.file.WriteAt(bytes.Repeat([]byte{0xFF}, int(size)), int64(addr)); err != nil {
		return fmt.Errorf("erase: %w", err)
	}
	return nil
}

// WriteAt implements Flash.
func (f *FileFlash) WriteAt(p []byte, addr uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := checkRange(addr, len(p), f.size); err != nil {
		return err
	}
	cur := make([]byte, len(p))
	if _, err := f.file.ReadAt(cur, int64(addr)); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("write: %w", err)
	}
	for i := range cur {
		cur[i] &= p[i]
	}
	if _, err := f.file.WriteAt(cur, int64(addr)); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// ReadAt implements Flash.
func (f *FileFlash) ReadAt(p []byte, addr uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := checkRange(addr, len(p), f.size); err != nil {
		return err
	}
	if _, err := f.file.ReadAt(p, int64(addr)); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	return nil
}

// Size implements Flash.
func (f *FileFlash) Size() uint32 {
	return f.size
}

// Close closes the backing file.
func (f *FileFlash) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.file.Close(); err != nil {
		return fmt.Errorf("close flash image: %w", err)
	}
	return nil
}
