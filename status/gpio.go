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

package status

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	cngw "github.com/cencepower/cngw"
	"github.com/cencepower/cngw/internal/syncutil"
)

// OpenPin initialises the host drivers and looks up a GPIO by name, e.g.
// "GPIO17".
func OpenPin(name string) (gpio.PinIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("%w: gpio %q not found", cngw.ErrInvalidParameter, name)
	}
	return pin, nil
}

type blinker struct {
	stop chan struct{}
	done chan struct{}
}

// GPIONotifier drives one LED per target. Blinking patterns run on a
// goroutine per LED; a new task for a target replaces the running one.
type GPIONotifier struct {
	pins     map[cngw.LEDTarget]gpio.PinOut
	blinkers map[cngw.LEDTarget]*blinker
	log      zerolog.Logger
	mu       syncutil.Mutex
}

// NewGPIONotifier drives the given pins. Targets without a pin are ignored.
func NewGPIONotifier(pins map[cngw.LEDTarget]gpio.PinOut) *GPIONotifier {
	n := &GPIONotifier{
		pins:     make(map[cngw.LEDTarget]gpio.PinOut, len(pins)),
		blinkers: make(map[cngw.LEDTarget]*blinker),
		log:      cngw.Logger("led"),
	}
	for target, pin := range pins {
		if pin != nil {
			n.pins[target] = pin
		}
	}
	return n
}

// OpenGPIONotifier resolves pin names and returns a notifier over them.
func OpenGPIONotifier(names map[cngw.LEDTarget]string) (*GPIONotifier, error) {
	pins := make(map[cngw.LEDTarget]gpio.PinOut, len(names))
	for target, name := range names {
		pin, err := OpenPin(name)
		if err != nil {
			return nil, fmt.Errorf("led %s: %w", target, err)
		}
		pins[target] = pin
	}
	return NewGPIONotifier(pins), nil
}

// Notify applies task to target. It returns at once.
func (n *GPIONotifier) Notify(task cngw.LEDTask, target cngw.LEDTarget) {
	if task == cngw.LEDNoAction || target == cngw.LEDTargetNone {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	for _, t := range n.targets(task, target) {
		n.apply(task, t)
	}
}

// targets expands All. AllOff always applies to every LED.
func (n *GPIONotifier) targets(task cngw.LEDTask, target cngw.LEDTarget) []cngw.LEDTarget {
	if target != cngw.LEDTargetAll && task != cngw.LEDAllOff {
		if _, ok := n.pins[target]; !ok {
			return nil
		}
		return []cngw.LEDTarget{target}
	}
	out := make([]cngw.LEDTarget, 0, len(n.pins))
	for t := range n.pins {
		out = append(out, t)
	}
	return out
}

// apply runs with mu held.
func (n *GPIONotifier) apply(task cngw.LEDTask, target cngw.LEDTarget) {
	n.stopBlinker(target)
	pin := n.pins[target]

	pattern, ok := Patterns[task]
	if !ok || task == cngw.LEDAllOff {
		n.out(pin, gpio.Low)
		return
	}
	if !pattern.Blinks() {
		n.out(pin, gpio.High)
		return
	}

	b := &blinker{stop: make(chan struct{}), done: make(chan struct{})}
	n.blinkers[target] = b
	go n.blink(pin, pattern, b)
}

func (n *GPIONotifier) stopBlinker(target cngw.LEDTarget) {
	b, ok := n.blinkers[target]
	if !ok {
		return
	}
	delete(n.blinkers, target)
	close(b.stop)
	<-b.done
}

func (n *GPIONotifier) blink(pin gpio.PinOut, p Pattern, b *blinker) {
	defer close(b.done)
	level := gpio.High
	n.out(pin, level)
	timer := time.NewTimer(p.On)
	defer timer.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-timer.C:
		}
		level = !level
		n.out(pin, level)
		if level == gpio.High {
			timer.Reset(p.On)
		} else {
			timer.Reset(p.Off)
		}
	}
}

func (n *GPIONotifier) out(pin gpio.PinOut, l gpio.Level) {
	if err := pin.Out(l); err != nil {
		n.log.Warn().Err(err).Str("pin", pin.Name()).Msg("led write failed")
	}
}

// Close stops every blinking LED and switches all LEDs off.
func (n *GPIONotifier) Close() {
	n.Notify(cngw.LEDAllOff, cngw.LEDTargetAll)
}

// ResetLine is the gateway-online output. Pulsing it high tells the
// mainboard to start pairing over.
type ResetLine struct {
	pin gpio.PinOut
	mu  syncutil.Mutex
}

// NewResetLine drives pin, which idles low.
func NewResetLine(pin gpio.PinOut) *ResetLine {
	return &ResetLine{pin: pin}
}

// Pulse holds the line high for d. The line always returns low, even when
// ctx ends first.
func (r *ResetLine) Pulse(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.pin.Out(gpio.High); err != nil {
		return fmt.Errorf("reset line high: %w", err)
	}
	sleepErr := cngw.SleepCtx(ctx, d)
	if err := r.pin.Out(gpio.Low); err != nil {
		return fmt.Errorf("reset line low: %w", err)
	}
	return sleepErr
}
