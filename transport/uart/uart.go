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

// Package uart implements megaload.Transport over a serial port using
// go.bug.st/serial. It works on every platform that library supports.
package uart

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/ZaparooProject/go-megaload"
	"github.com/ZaparooProject/go-megaload/internal/syncutil"
	"go.bug.st/serial"
)

// Transport implements megaload.Transport for a serial port.
type Transport struct {
	port        serial.Port
	portName    string
	readTimeout time.Duration // last value passed to SetReadTimeout
	mu          syncutil.Mutex
	closed      bool
}

// Option represents a functional option for New
type Option func(*config) error

// config holds port settings
type config struct {
	openRetry *megaload.RetryConfig
	baudRate  int
}

// WithBaudRate sets the line speed. MegaLoad autobauds on 'U', so any rate
// the bootloader was built for works.
func WithBaudRate(baud int) Option {
	return func(c *config) error {
		if baud <= 0 {
			return fmt.Errorf("%w: baud rate must be positive, got %d", megaload.ErrInvalidParameter, baud)
		}
		c.baudRate = baud
		return nil
	}
}

// WithOpenRetry sets how opening a busy port is retried. nil disables
// retrying.
func WithOpenRetry(retry *megaload.RetryConfig) Option {
	return func(c *config) error {
		if retry == nil {
			retry = &megaload.RetryConfig{}
		}
		c.openRetry = retry
		return nil
	}
}

func applyOptions(opts []Option) (*config, error) {
	c := &config{
		baudRate:  megaload.DefaultBaudRate,
		openRetry: megaload.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply uart option: %w", err)
		}
	}
	return c, nil
}

// New opens portName as 8 data bits, no parity, two stop bits at the
// configured baud rate and discards anything already received.
func New(portName string, opts ...Option) (*Transport, error) {
	c, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: c.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.TwoStopBits,
	}

	var port serial.Port
	err = megaload.RetryWithConfig(context.Background(), c.openRetry, func() error {
		p, openErr := serial.Open(portName, mode)
		if openErr != nil {
			return classifyOpenError(portName, openErr)
		}
		port = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open UART port %s: %w", portName, err)
	}

	if err := port.ResetInputBuffer(); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to flush UART input: %w", err)
	}

	megaload.Logger().Debug().Str("port", portName).Int("baud", c.baudRate).Msg("uart opened")
	return newTransport(port, portName), nil
}

func newTransport(port serial.Port, portName string) *Transport {
	return &Transport{
		port:     port,
		portName: portName,
	}
}

// classifyOpenError marks a busy port as worth retrying and a missing one
// as permanent.
func classifyOpenError(portName string, err error) error {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		//nolint:exhaustive // only the codes that change the outcome
		switch portErr.Code() {
		case serial.PortNotFound, serial.InvalidSerialPort:
			return megaload.NewTransportError("open", portName,
				fmt.Errorf("%w: %w", megaload.ErrDeviceNotFound, err), megaload.ErrorTypePermanent)
		case serial.PortBusy:
			return megaload.NewTransportError("open", portName, err, megaload.ErrorTypeTransient)
		}
		return megaload.NewTransportError("open", portName, err, megaload.ErrorTypePermanent)
	}
	if errors.Is(err, fs.ErrNotExist) {
		return megaload.NewTransportError("open", portName,
			fmt.Errorf("%w: %w", megaload.ErrDeviceNotFound, err), megaload.ErrorTypePermanent)
	}
	return megaload.NewTransportError("open", portName, err, megaload.ErrorTypePermanent)
}

// Write sends data and waits until it has left the UART.
func (t *Transport) Write(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return megaload.ErrTransportClosed
	}

	for written := 0; written < len(data); {
		n, err := t.port.Write(data[written:])
		if err != nil {
			if isInterruptedSystemCall(err) {
				continue
			}
			return megaload.NewTransportWriteError("write", t.portName, err)
		}
		written += n
	}

	return t.drainWithRetry()
}

// ReadByte waits up to timeout for one byte.
func (t *Transport) ReadByte(timeout time.Duration) (byte, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, false, megaload.ErrTransportClosed
	}

	if timeout != t.readTimeout {
		if err := t.port.SetReadTimeout(timeout); err != nil {
			return 0, false, fmt.Errorf("UART set timeout failed: %w", err)
		}
		t.readTimeout = timeout
	}

	var buf [1]byte
	for {
		n, err := t.port.Read(buf[:])
		if err != nil {
			if isInterruptedSystemCall(err) {
				continue
			}
			return 0, false, megaload.NewTransportReadError("read", t.portName, err)
		}
		if n == 0 {
			return 0, false, nil
		}
		return buf[0], true, nil
	}
}

// Close closes the transport connection
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	if t.port != nil {
		if err := t.port.Close(); err != nil {
			return fmt.Errorf("UART close failed: %w", err)
		}
	}
	return nil
}

// Type returns the transport type
func (*Transport) Type() megaload.TransportType {
	return megaload.TransportUART
}

// Port returns the device name.
func (t *Transport) Port() string {
	return t.portName
}

// SetDTR drives the DTR line.
func (t *Transport) SetDTR(active bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.port.SetDTR(active); err != nil {
		return fmt.Errorf("UART set DTR failed: %w", err)
	}
	return nil
}

// SetRTS drives the RTS line.
func (t *Transport) SetRTS(active bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.port.SetRTS(active); err != nil {
		return fmt.Errorf("UART set RTS failed: %w", err)
	}
	return nil
}

// isInterruptedSystemCall checks if an error is caused by an interrupted system call
func isInterruptedSystemCall(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "interrupted system call") ||
		strings.Contains(errStr, "eintr")
}

// drainWithRetry waits for the output buffer to empty, retrying interrupted
// system calls
func (t *Transport) drainWithRetry() error {
	const maxRetries = 3
	baseDelay := 2 * time.Millisecond

	for attempt := range maxRetries {
		err := t.port.Drain()
		if err == nil {
			return nil
		}

		if isInterruptedSystemCall(err) && attempt < maxRetries-1 {
			time.Sleep(baseDelay * time.Duration(1<<attempt)) // 2ms, 4ms
			continue
		}

		return megaload.NewTransportWriteError("drain", t.portName, err)
	}

	return fmt.Errorf("UART drain failed after %d retries", maxRetries)
}

var (
	_ megaload.Transport    = (*Transport)(nil)
	_ megaload.ModemControl = (*Transport)(nil)
	_ megaload.PortNamer    = (*Transport)(nil)
)
