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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/coprocessor"
	"github.com/cencepower/cngw/detection"
	_ "github.com/cencepower/cngw/detection/i2c"
	_ "github.com/cencepower/cngw/detection/spi"
	_ "github.com/cencepower/cngw/detection/uart"
	"github.com/cencepower/cngw/engine"
	"github.com/cencepower/cngw/handshake"
	"github.com/cencepower/cngw/ota"
	"github.com/cencepower/cngw/status"
	"github.com/cencepower/cngw/transport/i2c"
	"github.com/cencepower/cngw/transport/spi"
	"github.com/cencepower/cngw/transport/uart"
)

const passwordEnv = "CNGW_PASSWORD"

// hardwareOptions select the buses and pins of one gateway.
type hardwareOptions struct {
	spiPort   string
	readyPin  string
	serial    string
	i2cBus    string
	flashPath string
	booted    string
	resetPin  string
	ledGen    string
	ledCN     string
	ledComm   string
}

func (h *hardwareOptions) register(fs *pflag.FlagSet) {
	fs.StringVar(&h.spiPort, "spi", "", "Mainboard SPI port (e.g. SPI0.0); auto-detected when neither --spi nor --serial is set")
	fs.StringVar(&h.readyPin, "ready-pin", "", "GPIO the mainboard pulls low when its buffer is loaded")
	fs.StringVar(&h.serial, "serial", "", "Serial bench link instead of SPI (e.g. /dev/ttyUSB0)")
	fs.StringVar(&h.i2cBus, "i2c", "", "Coprocessor I2C bus (e.g. /dev/i2c-1); auto-detected when empty")
	fs.StringVar(&h.flashPath, "flash", "", "OTA staging image file; staging stays in memory when empty")
	fs.StringVar(&h.booted, "booted", ota.PartitionOTA0, "Partition holding the running gateway image")
	fs.StringVar(&h.resetPin, "reset-pin", "", "GPIO pulsed to ask the mainboard to pair again")
	fs.StringVar(&h.ledGen, "led-gen", "", "General status LED pin")
	fs.StringVar(&h.ledCN, "led-cn", "", "Mainboard status LED pin")
	fs.StringVar(&h.ledComm, "led-comm", "", "Communication status LED pin")
}

// gateway is the opened hardware, closed in reverse order.
type gateway struct {
	link     cngw.Link
	chip     *coprocessor.Client
	flash    ota.Flash
	notifier cngw.Notifier
	reset    handshake.ResetLine
	closers  []io.Closer
}

func (g *gateway) Close() error {
	var errs []error
	for i := len(g.closers) - 1; i >= 0; i-- {
		if err := g.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}

func openGateway(ctx context.Context, h *hardwareOptions) (*gateway, error) {
	g := &gateway{}
	fail := func(err error) (*gateway, error) {
		_ = g.Close()
		return nil, err
	}

	link, err := openMainboard(ctx, h)
	if err != nil {
		return fail(err)
	}
	g.link = link
	g.closers = append(g.closers, link)

	busName, err := resolveCoprocessor(ctx, h.i2cBus)
	if err != nil {
		return fail(err)
	}
	bus, err := i2c.New(busName)
	if err != nil {
		return fail(err)
	}
	g.closers = append(g.closers, bus)
	g.chip = coprocessor.New(bus, nil)

	flash, err := openFlash(h.flashPath)
	if err != nil {
		return fail(err)
	}
	g.flash = flash
	if c, ok := flash.(io.Closer); ok {
		g.closers = append(g.closers, c)
	}

	g.notifier = status.NewLogNotifier()
	if pins := ledPins(h); len(pins) > 0 {
		leds, err := status.OpenGPIONotifier(pins)
		if err != nil {
			return fail(err)
		}
		g.notifier = leds
		g.closers = append(g.closers, closerFunc(leds.Close))
	}

	if h.resetPin != "" {
		pin, err := status.OpenPin(h.resetPin)
		if err != nil {
			return fail(err)
		}
		g.reset = status.NewResetLine(pin)
	}
	return g, nil
}

var detectMainboard = func(ctx context.Context) ([]detection.DeviceInfo, error) {
	opts := detection.DefaultOptions()
	return detection.DetectRole(ctx, &opts, detection.RoleMainboard)
}

func openMainboard(ctx context.Context, h *hardwareOptions) (cngw.Link, error) {
	switch {
	case h.serial != "":
		link, err := uart.New(h.serial)
		if err != nil {
			return nil, err
		}
		// USB serial adapters drop the odd exchange; retry before the
		// engine's recovery sees it.
		return cngw.NewLinkWithRetry(link, cngw.DefaultRetryConfig()), nil
	case h.spiPort != "":
		return openSPI(h.spiPort, h.readyPin)
	}

	devices, err := detectMainboard(ctx)
	if err != nil {
		return nil, fmt.Errorf("no --spi or --serial given and detection failed: %w", err)
	}
	d := devices[0]
	l := cngw.Logger("cli")
	l.Info().Str("port", d.Path).Stringer("confidence", d.Confidence).Msg("using detected mainboard port")
	return openSPI(d.Path, d.Metadata["ready_pin"])
}

func openSPI(port, readyPin string) (cngw.Link, error) {
	var opts []spi.Option
	if readyPin != "" {
		opts = append(opts, spi.WithReadyPin(readyPin))
	}
	return spi.New(port, opts...)
}

func resolveCoprocessor(ctx context.Context, bus string) (string, error) {
	if bus != "" {
		return bus, nil
	}
	opts := detection.DefaultOptions()
	devices, err := detection.DetectRole(ctx, &opts, detection.RoleCoprocessor)
	if err != nil {
		return "", fmt.Errorf("no --i2c given and detection failed: %w", err)
	}
	return devices[0].Metadata["bus"], nil
}

// flashSize covers every default staging partition.
func flashSize() uint32 {
	var end uint32
	for _, p := range ota.DefaultPartitions() {
		end = max(end, p.Offset+p.Size)
	}
	return end
}

func openFlash(path string) (ota.Flash, error) {
	if path == "" {
		return ota.NewMemoryFlash(flashSize()), nil
	}
	return ota.OpenFileFlash(path, flashSize())
}

func ledPins(h *hardwareOptions) map[cngw.LEDTarget]string {
	pins := make(map[cngw.LEDTarget]string)
	for target, name := range map[cngw.LEDTarget]string{
		cngw.LEDTargetGen:  h.ledGen,
		cngw.LEDTargetCN:   h.ledCN,
		cngw.LEDTargetComm: h.ledComm,
	} {
		if name != "" {
			pins[target] = name
		}
	}
	return pins
}

func engineConfig(h *hardwareOptions, g *gateway) *engine.Config {
	config := engine.DefaultConfig()
	config.ResetLine = g.reset
	config.OTA.Booted = h.booted
	config.Verbose = cngw.DebugEnabled()
	return config
}

// waitHandshake blocks until the mainboard has paired with the gateway.
func waitHandshake(ctx context.Context, eng *engine.Engine, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for !eng.Board().HandshakeComplete() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: waiting for the mainboard handshake", cngw.ErrNotHandshaked)
		case <-eng.Done():
			return fmt.Errorf("engine stopped: %w", eng.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// readPassword follows CNGW_PASSWORD, then a terminal prompt.
func readPassword(in *os.File, out io.Writer) (string, error) {
	if pw := os.Getenv(passwordEnv); pw != "" {
		return pw, nil
	}
	_, _ = fmt.Fprint(out, "Password: ")
	defer func() { _, _ = fmt.Fprintln(out) }()

	if term.IsTerminal(int(in.Fd())) { //nolint:gosec // fd fits in int
		pw, err := term.ReadPassword(int(in.Fd())) //nolint:gosec // as above
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(pw), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(line), nil
}
