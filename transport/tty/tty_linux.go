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

//go:build linux

package tty

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ZaparooProject/go-megaload"
	"golang.org/x/sys/unix"
)

var baudRates = map[int]uint32{
	1200:    unix.B1200,
	2400:    unix.B2400,
	4800:    unix.B4800,
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	500000:  unix.B500000,
	576000:  unix.B576000,
	921600:  unix.B921600,
	1000000: unix.B1000000,
}

// New opens path, switches it to raw 8N2 at the configured rate and
// discards pending input.
func New(path string, opts ...Option) (*Transport, error) {
	c, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	speed, ok := baudRates[c.baudRate]
	if !ok {
		return nil, fmt.Errorf("%w: %w: %d", megaload.ErrInvalidParameter, ErrUnsupportedBaudRate, c.baudRate)
	}

	// O_NONBLOCK keeps open from waiting for carrier; reads go through poll
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		errType := megaload.ErrorTypePermanent
		if errors.Is(err, unix.EBUSY) {
			errType = megaload.ErrorTypeTransient
		}
		if errors.Is(err, os.ErrNotExist) {
			err = fmt.Errorf("%w: %w", megaload.ErrDeviceNotFound, err)
		}
		return nil, megaload.NewTransportError("open", path, err, errType)
	}

	if err := configure(fd, speed); err != nil {
		_ = unix.Close(fd)
		return nil, megaload.NewTransportError("configure", path, err, megaload.ErrorTypePermanent)
	}

	megaload.Logger().Debug().Str("port", path).Int("baud", c.baudRate).Msg("tty opened")
	return &Transport{path: path, fd: fd}, nil
}

// configure puts fd in raw mode. TCSETSF applies the settings after
// flushing input, so stale bytes from the application are dropped.
func configure(fd int, speed uint32) error {
	tio, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("get termios: %w", err)
	}

	*tio = unix.Termios{
		Iflag:  unix.IGNBRK,
		Cflag:  unix.CSTOPB | unix.CS8 | unix.CREAD | unix.CLOCAL | speed,
		Ispeed: speed,
		Ospeed: speed,
	}
	tio.Cc[unix.VMIN] = 1
	tio.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETSF, tio); err != nil {
		return fmt.Errorf("set termios: %w", err)
	}
	return nil
}

// Write sends all of data.
func (t *Transport) Write(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return megaload.ErrTransportClosed
	}

	for written := 0; written < len(data); {
		n, err := unix.Write(t.fd, data[written:])
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			if err := t.wait(unix.POLLOUT, time.Second); err != nil {
				return megaload.NewTransportWriteError("write", t.path, err)
			}
			continue
		case err != nil:
			return megaload.NewTransportWriteError("write", t.path, err)
		}
		written += n
	}
	return nil
}

// ReadByte polls for input for up to timeout and reads one byte.
func (t *Transport) ReadByte(timeout time.Duration) (byte, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, false, megaload.ErrTransportClosed
	}

	if err := t.wait(unix.POLLIN|unix.POLLPRI, timeout); err != nil {
		if errors.Is(err, megaload.ErrTransportTimeout) {
			return 0, false, nil
		}
		return 0, false, megaload.NewTransportReadError("poll", t.path, err)
	}

	var buf [1]byte
	for {
		n, err := unix.Read(t.fd, buf[:])
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, false, nil
		case err != nil:
			return 0, false, megaload.NewTransportReadError("read", t.path, err)
		case n == 0:
			// hangup
			return 0, false, megaload.NewTransportError("read", t.path, unix.EIO, megaload.ErrorTypePermanent)
		}
		return buf[0], true, nil
	}
}

// wait polls fd for events, restarting after signals with the time left.
func (t *Transport) wait(events int16, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	fds := []unix.PollFd{{Fd: int32(t.fd), Events: events}} //nolint:gosec // fd fits in int32
	for {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		n, err := unix.Poll(fds, int(remaining.Milliseconds()))
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}
		if n == 0 {
			return megaload.ErrTransportTimeout
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
			return unix.EIO
		}
		return nil
	}
}

// Close closes the device. Closing twice is a no-op.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	if err := unix.Close(t.fd); err != nil {
		return fmt.Errorf("tty close failed: %w", err)
	}
	return nil
}

// SetDTR drives the DTR line.
func (t *Transport) SetDTR(active bool) error {
	return t.setModemBit(unix.TIOCM_DTR, active)
}

// SetRTS drives the RTS line.
func (t *Transport) SetRTS(active bool) error {
	return t.setModemBit(unix.TIOCM_RTS, active)
}

func (t *Transport) setModemBit(bit int, active bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return megaload.ErrTransportClosed
	}
	req := uint(unix.TIOCMBIC)
	if active {
		req = unix.TIOCMBIS
	}
	if err := unix.IoctlSetPointerInt(t.fd, req, bit); err != nil {
		return fmt.Errorf("tty modem control: %w", err)
	}
	return nil
}
