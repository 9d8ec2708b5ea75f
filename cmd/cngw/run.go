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
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/engine"
	"github.com/cencepower/cngw/upstream"
)

type runOptions struct {
	hw           hardwareOptions
	upstreamURL  string
	username     string
	restartDelay time.Duration
	insecure     bool
	exitOnly     bool
}

func newRunCmd() *cobra.Command {
	var o runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the gateway engine until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runGateway(ctx, cmd, &o)
		},
	}
	o.hw.register(cmd.Flags())
	cmd.Flags().StringVar(&o.upstreamURL, "upstream", "", "Cloud websocket URL (ws:// or wss://); publish to the log only when empty")
	cmd.Flags().StringVar(&o.username, "username", "", "Username for HTTP Basic auth")
	cmd.Flags().BoolVar(&o.insecure, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
	cmd.Flags().BoolVar(&o.exitOnly, "exit-on-restart", false, "Exit instead of rebooting when a restart is required")
	cmd.Flags().DurationVar(&o.restartDelay, "restart-delay", time.Second, "Pause before a required restart")
	return cmd
}

func runGateway(ctx context.Context, cmd *cobra.Command, o *runOptions) error {
	log := cngw.Logger("cli")

	g, err := openGateway(ctx, &o.hw)
	if err != nil {
		return err
	}
	defer func() { _ = g.Close() }()

	publishers := upstream.Multi{upstream.NewLogPublisher()}
	config := engineConfig(&o.hw, g)

	var client *upstream.Client
	if o.upstreamURL != "" {
		client, err = dialUpstream(ctx, cmd, o)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		publishers = append(publishers, client)
		config.Queries = client
	}

	eng := engine.New(g.link, g.chip, g.flash, config, cngw.Collaborators{
		Publisher: publishers,
		Notifier:  g.notifier,
		Restarter: cngw.SystemRestarter{Delay: o.restartDelay, ExitOnly: o.exitOnly},
	})
	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer eng.Stop()
	log.Info().Str("port", g.link.Port()).Str("link", string(g.link.Type())).Msg("gateway engine running")

	if client != nil {
		handler := upstream.NewCommandHandler(eng.Updater(), eng.Poller(), publishers)
		go func() {
			err := client.ReadLoop(ctx, handler)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("upstream command reader stopped")
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		return nil
	case <-eng.Done():
		return fmt.Errorf("engine stopped: %w", eng.Err())
	}
}

func dialUpstream(ctx context.Context, cmd *cobra.Command, o *runOptions) (*upstream.Client, error) {
	uc := upstream.DefaultConfig()
	uc.URL = o.upstreamURL
	uc.SkipTLSVerify = o.insecure
	if o.username != "" {
		pw, err := readPassword(os.Stdin, cmd.ErrOrStderr())
		if err != nil {
			return nil, err
		}
		uc.Username = o.username
		uc.Password = pw
	}
	return upstream.Dial(ctx, uc)
}
