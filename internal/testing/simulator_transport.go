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
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ZaparooProject/go-megaload/internal/syncutil"
)

// TransportType mirrors megaload.TransportType to avoid import cycle
type TransportType string

const (
	// TransportMock represents a mock transport for testing
	TransportMock TransportType = "mock"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("simulator transport closed")

// SimulatorTransport wraps VirtualBootloader in the byte-oriented shape of
// megaload.Transport. Tests in the megaload package adapt Type() to their
// own TransportType.
type SimulatorTransport struct {
	sim    *VirtualBootloader
	link   io.ReadWriter
	Sent   [][]byte
	mu     syncutil.Mutex
	closed bool
}

// NewSimulatorTransport creates a new transport backed by VirtualBootloader
func NewSimulatorTransport(sim *VirtualBootloader) *SimulatorTransport {
	return &SimulatorTransport{sim: sim, link: sim}
}

// NewJitterySimulatorTransport creates a transport whose reads from the
// simulator pass through a JitteryConnection.
func NewJitterySimulatorTransport(sim *VirtualBootloader, config JitterConfig) *SimulatorTransport {
	return &SimulatorTransport{sim: sim, link: NewJitteryConnection(sim, config)}
}

// Write passes data to the simulated bootloader.
func (t *SimulatorTransport) Write(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	t.Sent = append(t.Sent, append([]byte(nil), data...))
	if _, err := t.link.Write(data); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	return nil
}

// ReadByte returns the next byte the bootloader sent. The simulator only
// answers writes, so with nothing pending the wait runs its full length.
func (t *SimulatorTransport) ReadByte(timeout time.Duration) (byte, bool, error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return 0, false, ErrClosed
	}

	var buf [1]byte
	n, err := t.link.Read(buf[:])
	if err != nil {
		return 0, false, err
	}
	if n == 0 {
		time.Sleep(timeout)
		return 0, false, nil
	}
	return buf[0], true, nil
}

// Close closes the transport
func (t *SimulatorTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Type returns the transport type
func (*SimulatorTransport) Type() TransportType {
	return TransportMock
}

// GetSimulator returns the underlying VirtualBootloader for test setup
func (t *SimulatorTransport) GetSimulator() *VirtualBootloader {
	return t.sim
}

// SentBytes returns every byte written, concatenated.
func (t *SimulatorTransport) SentBytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []byte
	for _, s := range t.Sent {
		out = append(out, s...)
	}
	return out
}
