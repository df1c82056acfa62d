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

package megaload

import (
	"errors"
	"time"

	"github.com/ZaparooProject/go-megaload/internal/syncutil"
)

// Transport is the byte channel to a MegaLoad bootloader. Implementations
// must keep bytes in order and must never block longer than the timeout
// given to ReadByte.
type Transport interface {
	// Write sends data in one piece.
	Write(data []byte) error

	// ReadByte waits up to timeout for one byte. ok is false with a nil
	// error when nothing arrived in time.
	ReadByte(timeout time.Duration) (b byte, ok bool, err error)

	// Close releases the underlying device.
	Close() error

	// Type returns the transport type
	Type() TransportType
}

// TransportType represents the type of transport
type TransportType string

const (
	// TransportUART uses go.bug.st/serial
	TransportUART TransportType = "uart"
	// TransportTTY drives a Linux tty directly through termios
	TransportTTY TransportType = "tty"
	// TransportDump writes page frames to a text dump instead of a device
	TransportDump TransportType = "dump"
	// TransportMock is for testing
	TransportMock TransportType = "mock"
)

// ModemControl is implemented by transports that can drive the RS-232
// modem control lines. Many boards wire DTR or RTS to the MCU reset pin.
type ModemControl interface {
	SetDTR(active bool) error
	SetRTS(active bool) error
}

// PortNamer is implemented by transports bound to a named device.
type PortNamer interface {
	Port() string
}

// portName returns the device name of t, or "" if it has none.
func portName(t Transport) string {
	if pn, ok := t.(PortNamer); ok {
		return pn.Port()
	}
	return ""
}

// MockTransport is a scripted Transport for tests. Bytes queued with
// QueueRead are handed out by ReadByte in order; an optional responder
// queues a reply for every Write.
type MockTransport struct {
	writeErr  error
	readErr   error
	responder func(written []byte) []byte
	incoming  []byte
	writes    [][]byte
	dtr       []bool
	rts       []bool
	mu        syncutil.Mutex
	closed    bool
}

// NewMockTransport creates a mock transport with nothing queued.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// QueueRead appends bytes for ReadByte to return.
func (m *MockTransport) QueueRead(data ...byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incoming = append(m.incoming, data...)
}

// SetResponder installs a function whose result is queued after every Write.
func (m *MockTransport) SetResponder(fn func(written []byte) []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responder = fn
}

// SetWriteError makes every Write fail with err.
func (m *MockTransport) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// SetReadError makes every ReadByte fail with err.
func (m *MockTransport) SetReadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// Write records data and runs the responder.
func (m *MockTransport) Write(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrTransportClosed
	}
	if m.writeErr != nil {
		return m.writeErr
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	m.writes = append(m.writes, buf)

	if m.responder != nil {
		m.incoming = append(m.incoming, m.responder(buf)...)
	}
	return nil
}

// ReadByte returns the next queued byte. With nothing queued it waits the
// full timeout and reports no data, as a silent device would.
func (m *MockTransport) ReadByte(timeout time.Duration) (byte, bool, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, false, ErrTransportClosed
	}
	if m.readErr != nil {
		err := m.readErr
		m.mu.Unlock()
		return 0, false, err
	}
	if len(m.incoming) > 0 {
		b := m.incoming[0]
		m.incoming = m.incoming[1:]
		m.mu.Unlock()
		return b, true, nil
	}
	m.mu.Unlock()

	time.Sleep(timeout)
	return 0, false, nil
}

// Close marks the transport closed. Closing twice is an error.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("mock transport already closed")
	}
	m.closed = true
	return nil
}

// Type returns TransportMock.
func (*MockTransport) Type() TransportType {
	return TransportMock
}

// SetDTR records the requested DTR level.
func (m *MockTransport) SetDTR(active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dtr = append(m.dtr, active)
	return nil
}

// SetRTS records the requested RTS level.
func (m *MockTransport) SetRTS(active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rts = append(m.rts, active)
	return nil
}

// Writes returns a copy of every Write call's data, in order.
func (m *MockTransport) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}

// Written returns all written bytes concatenated.
func (m *MockTransport) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []byte
	for _, w := range m.writes {
		out = append(out, w...)
	}
	return out
}

// Pending returns the number of queued bytes not yet read.
func (m *MockTransport) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.incoming)
}

// DTRHistory returns every DTR level set, in order.
func (m *MockTransport) DTRHistory() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bool(nil), m.dtr...)
}

// IsClosed reports whether Close was called.
func (m *MockTransport) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

var (
	_ Transport    = (*MockTransport)(nil)
	_ ModemControl = (*MockTransport)(nil)
)
