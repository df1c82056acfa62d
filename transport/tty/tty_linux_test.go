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
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ZaparooProject/go-megaload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// openPTY returns the master side of a new pseudo terminal and the path of
// its slave.
func openPTY(t *testing.T) (master int, slave string) {
	t.Helper()

	fd, err := unix.Open("/dev/ptmx", unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		t.Skipf("pseudo terminals unavailable: %v", err)
	}
	t.Cleanup(func() { _ = unix.Close(fd) })

	require.NoError(t, unix.IoctlSetPointerInt(fd, unix.TIOCSPTLCK, 0))
	n, err := unix.IoctlGetInt(fd, unix.TIOCGPTN)
	require.NoError(t, err)
	return fd, fmt.Sprintf("/dev/pts/%d", n)
}

func readMaster(t *testing.T, fd, n int) []byte {
	t.Helper()

	out := make([]byte, 0, n)
	deadline := time.Now().Add(time.Second)
	buf := make([]byte, n)
	for len(out) < n && time.Now().Before(deadline) {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}} //nolint:gosec // test fd
		ready, err := unix.Poll(fds, 50)
		require.NoError(t, err)
		if ready == 0 {
			continue
		}
		got, err := unix.Read(fd, buf[:n-len(out)])
		require.NoError(t, err)
		out = append(out, buf[:got]...)
	}
	return out
}

func TestTTY_RawRoundTrip(t *testing.T) {
	t.Parallel()

	master, slave := openPTY(t)
	transport, err := New(slave)
	require.NoError(t, err)
	t.Cleanup(func() { _ = transport.Close() })

	assert.Equal(t, megaload.TransportTTY, transport.Type())
	assert.Equal(t, slave, transport.Port())

	tio, err := unix.IoctlGetTermios(transport.fd, unix.TCGETS)
	require.NoError(t, err)
	assert.Equal(t, uint32(unix.IGNBRK), tio.Iflag)
	assert.Zero(t, tio.Lflag&unix.ICANON, "raw mode")
	assert.NotZero(t, tio.Cflag&unix.CSTOPB)
	assert.Equal(t, uint8(1), tio.Cc[unix.VMIN])

	// bytes a cooked terminal would translate pass through untouched
	payload := []byte{0x0D, 0x0A, 0x03, 0x55, 0xFF}
	require.NoError(t, transport.Write(payload))
	assert.Equal(t, payload, readMaster(t, master, len(payload)))

	_, err = unix.Write(master, []byte{0x0D, 0x21})
	require.NoError(t, err)
	for _, want := range []byte{0x0D, 0x21} {
		b, ok, err := transport.ReadByte(time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, b)
	}
}

func TestTTY_ReadTimeout(t *testing.T) {
	t.Parallel()

	_, slave := openPTY(t)
	transport, err := New(slave)
	require.NoError(t, err)
	t.Cleanup(func() { _ = transport.Close() })

	start := time.Now()
	_, ok, err := transport.ReadByte(30 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestTTY_Negotiate(t *testing.T) {
	t.Parallel()

	master, slave := openPTY(t)
	transport, err := New(slave, WithBaudRate(115200))
	require.NoError(t, err)
	t.Cleanup(func() { _ = transport.Close() })

	_, err = unix.Write(master, []byte{0x55, 0x45, 0x6E, 0x62, 0x52, 0x30, 0x21})
	require.NoError(t, err)

	profile, err := megaload.Negotiate(context.Background(), transport,
		megaload.WithConnectTimeout(2*time.Second), megaload.WithPollInterval(50*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, megaload.DeviceATmega32, profile.Device)
	assert.Equal(t, 64, profile.PageSize)
	assert.Equal(t, []byte{0x55}, readMaster(t, master, 1))
}

func TestTTY_Closed(t *testing.T) {
	t.Parallel()

	_, slave := openPTY(t)
	transport, err := New(slave)
	require.NoError(t, err)

	require.NoError(t, transport.Close())
	require.NoError(t, transport.Close())
	require.ErrorIs(t, transport.Write([]byte{1}), megaload.ErrTransportClosed)
	_, _, err = transport.ReadByte(time.Millisecond)
	require.ErrorIs(t, err, megaload.ErrTransportClosed)
	require.ErrorIs(t, transport.SetDTR(true), megaload.ErrTransportClosed)
}

func TestTTY_ReadHangupIsFatal(t *testing.T) {
	t.Parallel()

	master, err := unix.Open("/dev/ptmx", unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		t.Skipf("pseudo terminals unavailable: %v", err)
	}
	require.NoError(t, unix.IoctlSetPointerInt(master, unix.TIOCSPTLCK, 0))
	n, err := unix.IoctlGetInt(master, unix.TIOCGPTN)
	require.NoError(t, err)

	transport, err := New(fmt.Sprintf("/dev/pts/%d", n))
	if err != nil {
		_ = unix.Close(master)
		require.NoError(t, err)
	}
	t.Cleanup(func() { _ = transport.Close() })

	// the slave sees a hangup once the only master descriptor is gone
	require.NoError(t, unix.Close(master))

	_, ok, err := transport.ReadByte(time.Second)
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, megaload.IsFatal(err))
	assert.False(t, megaload.IsRetryable(err))
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	_, err := New("/dev/megaload-does-not-exist")
	require.ErrorIs(t, err, megaload.ErrDeviceNotFound)
	assert.True(t, megaload.IsFatal(err))

	_, err = New("/dev/null", WithBaudRate(12345))
	require.ErrorIs(t, err, ErrUnsupportedBaudRate)
	require.ErrorIs(t, err, megaload.ErrInvalidParameter)

	_, err = New("/dev/null", WithBaudRate(-1))
	require.ErrorIs(t, err, megaload.ErrInvalidParameter)

	// not a terminal
	_, err = New("/dev/null")
	require.Error(t, err)
	assert.NotErrorIs(t, err, megaload.ErrDeviceNotFound)
}
