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
	"runtime"

	"github.com/spf13/cobra"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/ota"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build and protocol identity",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "cngw %s (%s, %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			_, _ = fmt.Fprintf(out, "gateway application %s\n", cngw.GatewayAppVersion)
			_, _ = fmt.Fprintf(out, "gateway hardware    %s\n", cngw.GatewayHardwareVersion)
			_, _ = fmt.Fprintf(out, "handshake firmware  %s\n", cngw.GatewayFirmware)
			_, _ = fmt.Fprintf(out, "dist release        %s\n", ota.DefaultConfig().DistRelease)
		},
	}
}
