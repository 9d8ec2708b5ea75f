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
	"os"

	"github.com/spf13/cobra"

	cngw "github.com/cencepower/cngw"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type globalOptions struct {
	logDir string
	debug  bool
}

func newRootCmd() *cobra.Command {
	var g globalOptions

	root := &cobra.Command{
		Use:   "cngw",
		Short: "Cence gateway protocol engine",
		Long: `cngw talks to a Cence mainboard over SPI (or a serial bench link),
authenticates it with the ATECC508A coprocessor, keeps a copy of its
configuration and relays firmware updates from the cloud.

Upstream authentication reads the password from CNGW_PASSWORD, or prompts
for it when stdin is a terminal.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if g.debug {
				cngw.SetDebugEnabled(true)
			}
			if g.logDir == "" {
				return nil
			}
			path, err := cngw.InitSessionLog(g.logDir)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Session log: %s\n", path)
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if err := cngw.CloseSessionLog(); err != nil {
				_, _ = fmt.Fprintln(os.Stderr, err)
			}
		},
	}

	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&g.logDir, "log-dir", "", "Write a session log file into this directory")

	root.AddCommand(
		newRunCmd(),
		newOTACmd(),
		newCRCCmd(),
		newDetectCmd(),
		newVersionCmd(),
	)
	return root
}
