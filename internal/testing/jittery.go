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

package testing

import (
	"io"
	"math/rand/v2"
	"time"
)

// JitterConfig configures the behavior of JitteryConnection.
type JitterConfig struct {
	MaxLatency      time.Duration // upper bound of the random delay before each read
	StallAfterBytes int           // stall once after this many bytes were delivered
	StallDuration   time.Duration
	Seed            uint64
}

// DefaultJitterConfig returns a sensible default configuration for testing.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{
		MaxLatency: 2 * time.Millisecond,
	}
}

// JitteryConnection wraps an io.ReadWriter to simulate a USB-UART bridge
// (FTDI, CH340) that delivers bytes late and occasionally stalls.
type JitteryConnection struct {
	backend      io.ReadWriter
	rng          *rand.Rand
	config       JitterConfig
	delivered    int
	stallPending bool
}

// NewJitteryConnection wraps a backend io.ReadWriter with jitter simulation.
func NewJitteryConnection(backend io.ReadWriter, config JitterConfig) *JitteryConnection {
	var rng *rand.Rand
	if config.Seed != 0 {
		rng = rand.New(rand.NewPCG(config.Seed, config.Seed^0xDEADBEEF)) //nolint:gosec // Test code, not crypto
	} else {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // Test code, not crypto
	}

	return &JitteryConnection{
		backend:      backend,
		config:       config,
		rng:          rng,
		stallPending: config.StallAfterBytes > 0,
	}
}

// Write passes writes through to the backend without modification.
func (j *JitteryConnection) Write(data []byte) (int, error) {
	return j.backend.Write(data) //nolint:wrapcheck // Pass-through wrapper
}

// Read reads from the backend after a random delay, and stalls once when
// the configured byte count has been delivered.
func (j *JitteryConnection) Read(buf []byte) (int, error) {
	if j.config.MaxLatency > 0 {
		if delay := time.Duration(j.rng.Int64N(int64(j.config.MaxLatency) + 1)); delay > 0 {
			time.Sleep(delay)
		}
	}

	if j.stallPending && j.delivered >= j.config.StallAfterBytes {
		j.stallPending = false
		time.Sleep(j.config.StallDuration)
	}

	n, err := j.backend.Read(buf)
	j.delivered += n
	return n, err //nolint:wrapcheck // Pass-through wrapper
}

// Delivered returns the number of bytes read through the connection.
func (j *JitteryConnection) Delivered() int {
	return j.delivered
}
