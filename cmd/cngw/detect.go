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
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cencepower/cngw/detection"
)

func newDetectCmd() *cobra.Command {
	var (
		mode       string
		transports []string
		ignore     []string
	)
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "List mainboard, coprocessor and bench devices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := detection.DefaultOptions()
			m, err := parseMode(mode)
			if err != nil {
				return err
			}
			opts.Mode = m
			opts.Transports = transports
			opts.IgnorePaths = ignore
			opts.EnableCache = false

			devices, err := detection.DetectAll(cmd.Context(), &opts)
			if err != nil {
				return err
			}
			sort.SliceStable(devices, func(i, j int) bool {
				if devices[i].Role != devices[j].Role {
					return devices[i].Role < devices[j].Role
				}
				return devices[i].Confidence > devices[j].Confidence
			})
			for _, d := range devices {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%-11s %-4s %-22s %-6s %s%s\n",
					d.Role, d.Transport, d.Path, d.Confidence, d.Name, formatMetadata(d.Metadata))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "safe", "Probe mode: passive, safe or full")
	cmd.Flags().StringSliceVar(&transports, "transport", nil, "Limit to these transports (spi, i2c, uart)")
	cmd.Flags().StringSliceVar(&ignore, "ignore", nil, "Device paths or glob patterns to skip")
	return cmd
}

func parseMode(s string) (detection.Mode, error) {
	for _, m := range []detection.Mode{detection.Passive, detection.Safe, detection.Full} {
		if strings.EqualFold(s, m.String()) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown detection mode %q", s)
}

func formatMetadata(md map[string]string) string {
	if len(md) == 0 {
		return ""
	}
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+md[k])
	}
	return " [" + strings.Join(parts, " ") + "]"
}
