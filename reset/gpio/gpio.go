// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package gpio resets the target by pulsing a GPIO line wired to its RESET
// pin, for boards without a DTR auto-reset circuit. Pins are looked up by
// their periph.io name, e.g. "GPIO17" on a Raspberry Pi.
package gpio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-megaload"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// ErrPinNotFound is returned when no GPIO pin has the requested name.
var ErrPinNotFound = errors.New("gpio pin not found")

// Line is the part of a periph.io pin the reset drives.
type Line interface {
	Out(l gpio.Level) error
}

// Option represents a functional option for the GPIO reset
type Option func(*config) error

type config struct {
	pulse      time.Duration
	settle     time.Duration
	activeHigh bool
}

// WithPulse sets how long the line is held active.
func WithPulse(d time.Duration) Option {
	return func(c *config) error {
		if d <= 0 {
			return fmt.Errorf("%w: pulse must be positive", megaload.ErrInvalidParameter)
		}
		c.pulse = d
		return nil
	}
}

// WithSettle sets the pause after releasing the line. Zero disables it.
func WithSettle(d time.Duration) Option {
	return func(c *config) error {
		if d < 0 {
			return fmt.Errorf("%w: settle must not be negative", megaload.ErrInvalidParameter)
		}
		c.settle = d
		return nil
	}
}

// WithActiveHigh drives the line high to reset, for circuits that invert
// it through a transistor. The default is active low, matching the AVR
// RESET pin.
func WithActiveHigh() Option {
	return func(c *config) error {
		c.activeHigh = true
		return nil
	}
}

func applyOptions(opts []Option) (*config, error) {
	c := &config{
		pulse:  megaload.DefaultResetPulse,
		settle: megaload.DefaultResetSettle,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply gpio reset option: %w", err)
		}
	}
	return c, nil
}

// Reset pulses a GPIO line. It implements megaload.Resetter.
type Reset struct {
	line   Line
	name   string
	config *config
}

// New initializes the periph.io host drivers and resets through the named pin.
//
// Example usage:
//
//	r, err := gpio.New("GPIO17")
//	...
//	res, err := megaload.Program(ctx, port, img, megaload.WithResetter(r))
func New(pinName string, opts ...Option) (*Reset, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return nil, fmt.Errorf("%w: %s", ErrPinNotFound, pinName)
	}
	return NewWithLine(pin, pinName, opts...)
}

// NewWithLine resets through an already opened line.
func NewWithLine(line Line, name string, opts ...Option) (*Reset, error) {
	c, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	r := &Reset{line: line, name: name, config: c}

	// park the line released so the target keeps running until Reset
	if err := line.Out(r.level(false)); err != nil {
		return nil, fmt.Errorf("gpio %s: %w", name, err)
	}
	return r, nil
}

func (r *Reset) level(active bool) gpio.Level {
	return gpio.Level(active == r.config.activeHigh)
}

// Reset holds the line active for the pulse time, releases it and waits
// for the target to start. The transport is not used. On cancellation the
// line is released before returning.
func (r *Reset) Reset(ctx context.Context, _ megaload.Transport) error {
	megaload.Logger().Debug().
		Str("pin", r.name).
		Dur("pulse", r.config.pulse).
		Msg("pulsing gpio reset")

	if err := r.line.Out(r.level(true)); err != nil {
		return fmt.Errorf("gpio %s: %w", r.name, err)
	}
	if err := sleepCtx(ctx, r.config.pulse); err != nil {
		_ = r.line.Out(r.level(false))
		return err
	}
	if err := r.line.Out(r.level(false)); err != nil {
		return fmt.Errorf("gpio %s: %w", r.name, err)
	}
	return sleepCtx(ctx, r.config.settle)
}

// Name returns the pin name.
func (r *Reset) Name() string {
	return r.name
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("reset interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

var _ megaload.Resetter = (*Reset)(nil)
