// go-megaload
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-megaload.
//
// go-megaload is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-megaload is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-megaload; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

// Package tty implements megaload.Transport directly on a Linux terminal
// device through termios: raw mode, 8 data bits, two stop bits, no flow
// control, with reads driven by poll(2). On other platforms New fails with
// ErrUnsupportedPlatform; use the uart transport there.
package tty

import (
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-megaload"
	"github.com/ZaparooProject/go-megaload/internal/syncutil"
)

// ErrUnsupportedPlatform is returned by New outside Linux.
var ErrUnsupportedPlatform = errors.New("tty transport is only supported on linux")

// ErrUnsupportedBaudRate is returned for rates termios has no constant for.
var ErrUnsupportedBaudRate = errors.New("unsupported baud rate")

// Transport is a terminal device opened in raw mode.
type Transport struct {
	path   string
	fd     int
	mu     syncutil.Mutex
	closed bool
}

// Option represents a functional option for New
type Option func(*config) error

type config struct {
	baudRate int
}

// WithBaudRate sets the line speed.
func WithBaudRate(baud int) Option {
	return func(c *config) error {
		if baud <= 0 {
			return fmt.Errorf("%w: baud rate must be positive, got %d", megaload.ErrInvalidParameter, baud)
		}
		c.baudRate = baud
		return nil
	}
}

func applyOptions(opts []Option) (*config, error) {
	c := &config{baudRate: megaload.DefaultBaudRate}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply tty option: %w", err)
		}
	}
	return c, nil
}

// Type returns the transport type
func (*Transport) Type() megaload.TransportType {
	return megaload.TransportTTY
}

// Port returns the device path.
func (t *Transport) Port() string {
	return t.path
}

var (
	_ megaload.Transport    = (*Transport)(nil)
	_ megaload.ModemControl = (*Transport)(nil)
	_ megaload.PortNamer    = (*Transport)(nil)
)
