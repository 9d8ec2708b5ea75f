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
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cencepower/cngw/internal/frame"
)

func newCRCCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crc <file>...",
		Short: "Print the image CRC32 the mainboard bootloaders check",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				sum, size, err := imageCRC(path)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%08X  %8d  %s\n", sum, size, path)
			}
			return nil
		},
	}
}

// imageCRC streams path through the image CRC in word-aligned blocks.
func imageCRC(path string) (uint32, int64, error) {
	f, err := os.Open(path) //nolint:gosec // operator supplied path
	if err != nil {
		return 0, 0, fmt.Errorf("open image: %w", err)
	}
	defer func() { _ = f.Close() }()

	acc := frame.CRC32ImageInit
	buf := make([]byte, 32*1024)
	var size int64
	for {
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			acc = frame.CRC32Image(acc, buf[:n])
			size += int64(n)
		}
		switch err {
		case nil:
		case io.EOF, io.ErrUnexpectedEOF:
			return acc, size, nil
		default:
			return 0, 0, fmt.Errorf("read image: %w", err)
		}
	}
}
