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
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/engine"
	"github.com/cencepower/cngw/ota"
	"github.com/cencepower/cngw/upstream"
	"github.com/cencepower/cngw/wire"
)

const defaultPacketSize = 1024

type otaOptions struct {
	hw         hardwareOptions
	file       string
	name       string
	packetSize int
	wait       time.Duration
	sameVer    bool
}

func newOTACmd() *cobra.Command {
	var o otaOptions
	cmd := &cobra.Command{
		Use:   "ota",
		Short: "Push a local firmware image to the mainboard",
		Long: `Open the mainboard link, wait for it to pair, then stream the image
through the same Begin/Data/End session the cloud uses.

The name selects the target and carries the version, for example
cense_cn_mcu-v2.6.0.0. or cense_config-v1.0.0.0. It defaults to the file name.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runOTA(ctx, cmd.OutOrStdout(), &o)
		},
	}
	o.hw.register(cmd.Flags())
	cmd.Flags().StringVarP(&o.file, "file", "f", "", "Image file")
	cmd.Flags().StringVar(&o.name, "name", "", "Image name with version (defaults to the file name)")
	cmd.Flags().IntVar(&o.packetSize, "packet-size", defaultPacketSize, "Bytes per data packet")
	cmd.Flags().DurationVar(&o.wait, "wait", 2*time.Minute, "How long to wait for the mainboard handshake")
	cmd.Flags().BoolVar(&o.sameVer, "allow-same-version", false, "Accept an image matching the running version")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runOTA(ctx context.Context, out io.Writer, o *otaOptions) error {
	data, err := os.ReadFile(o.file)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	name := o.name
	if name == "" {
		name = filepath.Base(o.file)
	}
	if _, err := ota.ParseTarget(name); err != nil {
		return err
	}

	g, err := openGateway(ctx, &o.hw)
	if err != nil {
		return err
	}
	defer func() { _ = g.Close() }()

	config := engineConfig(&o.hw, g)
	config.OTA.AllowSameVersion = o.sameVer
	config.OTA.Progress = progressPrinter(out)

	eng := engine.New(g.link, g.chip, g.flash, config, cngw.Collaborators{
		Publisher: upstream.NewLogPublisher(),
		Notifier:  g.notifier,
		Restarter: cngw.SystemRestarter{ExitOnly: true},
	})
	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer eng.Stop()

	_, _ = fmt.Fprintln(out, "Waiting for the mainboard to pair...")
	if err := waitHandshake(ctx, eng, o.wait); err != nil {
		return err
	}
	if err := pushImage(ctx, eng.Updater(), name, data, o.packetSize); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, cngw.MsgOTASuccess)
	return nil
}

// pushImage runs one complete upstream session against ctrl and waits for
// the mainboard transfer.
func pushImage(ctx context.Context, ctrl upstream.OTAController, name string, data []byte, packetSize int) error {
	if packetSize <= 0 || packetSize > 0xFFFF {
		return fmt.Errorf("%w: packet size %d", cngw.ErrInvalidParameter, packetSize)
	}
	if err := ctrl.Begin(name, uint32(len(data))); err != nil { //nolint:gosec // bounded by partition size in Begin
		return fmt.Errorf("begin: %w", err)
	}

	var count uint32
	for off := 0; off < len(data); off += packetSize {
		chunk := data[off:min(off+packetSize, len(data))]
		raw, err := wire.PackOTAPacket(uint8(count), chunk) //nolint:gosec // sequence wraps at 256
		if err != nil {
			return err
		}
		if err := ctrl.Data(raw); err != nil {
			return fmt.Errorf("data packet %d: %w", count, err)
		}
		count++
	}

	done, err := ctrl.EndAsync(ctx, count)
	if err != nil {
		return fmt.Errorf("end: %w", err)
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func progressPrinter(out io.Writer) ota.ProgressCallback {
	last := ""
	return func(p ota.Progress) {
		if p.Phase == last && p.Chunk%16 != 0 {
			return
		}
		last = p.Phase
		_, _ = fmt.Fprintf(out, "%-10s %3.0f%% chunk %d/%d restarts %d\n",
			p.Phase, p.Percentage, p.Chunk, p.TotalChunks, p.Restarts)
	}
}
