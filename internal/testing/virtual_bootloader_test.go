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
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/ZaparooProject/go-megaload/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, r io.Reader) []byte {
	t.Helper()
	var out []byte
	buf := make([]byte, 64)
	for {
		n, err := r.Read(buf)
		require.NoError(t, err)
		if n == 0 {
			return out
		}
		out = append(out, buf[:n]...)
	}
}

func newATmega32(dialect Dialect) *VirtualBootloader {
	return NewVirtualBootloader(dialect, ATmega32Geometry, 32768, 128)
}

func TestVirtualBootloader_Handshake(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		announce  []byte
		replies   [][]byte // host replies, one per round
		responses [][]byte // bootloader output after each reply
		dialect   Dialect
	}{
		{
			name:      "v3",
			dialect:   DialectV3,
			announce:  []byte{'>'},
			replies:   [][]byte{{'<'}},
			responses: [][]byte{{0x45, 0x6E, 0x63, 0x53, 0x32, '!'}},
		},
		{
			name:      "v4",
			dialect:   DialectV4,
			announce:  []byte{'U'},
			replies:   [][]byte{{'U'}},
			responses: [][]byte{{0x45, 0x6E, 0x63, 0x53, 0x32, '>', '!'}},
		},
		{
			name:      "v5",
			dialect:   DialectV5,
			announce:  []byte{'U'},
			replies:   [][]byte{{'U'}, {'<'}},
			responses: [][]byte{{'U', '>'}, {0x45, 0x6E, 0x63, 0x53, 0x32, '!'}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sim := newATmega32(tt.dialect)
			assert.Empty(t, drain(t, sim), "silent before reset")

			sim.Start()
			assert.Equal(t, tt.announce, drain(t, sim))

			for i, reply := range tt.replies {
				_, err := sim.Write(reply)
				require.NoError(t, err)
				assert.Equal(t, tt.responses[i], drain(t, sim))
			}
			assert.Equal(t, PhaseFlash, sim.Phase())
		})
	}
}

func TestVirtualBootloader_WrongSyncReply(t *testing.T) {
	t.Parallel()

	sim := newATmega32(DialectV3)
	sim.Start()
	_ = drain(t, sim)

	_, err := sim.Write([]byte{'U'})
	require.Error(t, err)
}

func TestVirtualBootloader_NoiseAndCorruption(t *testing.T) {
	t.Parallel()

	sim := newATmega32(DialectV3)
	sim.SetNoise('h', 'i')
	sim.CorruptGeometry(1, 0x99)
	sim.Start()
	assert.Equal(t, []byte{'h', 'i', '>'}, drain(t, sim))

	_, err := sim.Write([]byte{'<'})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x45, 0x99, 0x63, 0x53, 0x32, '!'}, drain(t, sim))
}

func flashReady(t *testing.T) *VirtualBootloader {
	t.Helper()
	sim := newATmega32(DialectV3)
	sim.Start()
	_ = drain(t, sim)
	_, err := sim.Write([]byte{'<'})
	require.NoError(t, err)
	_ = drain(t, sim)
	return sim
}

func TestVirtualBootloader_PageWrite(t *testing.T) {
	t.Parallel()

	sim := flashReady(t)
	page := bytes.Repeat([]byte{0xA5}, 128)

	// frame split across writes is reassembled
	frm := frame.BuildPageFrame(3, page)
	_, err := sim.Write(frm[:10])
	require.NoError(t, err)
	assert.False(t, sim.HasPendingResponse())
	_, err = sim.Write(frm[10:])
	require.NoError(t, err)
	assert.Equal(t, []byte{'!'}, drain(t, sim))

	flash := sim.Flash()
	assert.Equal(t, page, flash[3*128:4*128])
	assert.Equal(t, byte(0xFF), flash[2*128])
	assert.Equal(t, []uint16{3}, sim.PageLog())

	_, err = sim.Write(SentinelBytes())
	require.NoError(t, err)
	assert.True(t, sim.SentinelReceived())
	assert.Equal(t, PhaseDone, sim.Phase())
}

func TestVirtualBootloader_BadChecksumRejected(t *testing.T) {
	t.Parallel()

	sim := flashReady(t)
	frm := frame.BuildPageFrame(0, bytes.Repeat([]byte{0x01}, 128))
	frm[len(frm)-1] ^= 0xFF

	_, err := sim.Write(frm)
	require.NoError(t, err)
	assert.Equal(t, []byte{'@'}, drain(t, sim))
	assert.Equal(t, byte(0xFF), sim.Flash()[0])
}

func TestVirtualBootloader_Faults(t *testing.T) {
	t.Parallel()

	sim := flashReady(t)
	sim.RejectPage(0, 2)
	sim.SilencePage(1)
	sim.GarblePage(2, 0x7A)

	send := func(page uint16) []byte {
		_, err := sim.Write(frame.BuildPageFrame(page, bytes.Repeat([]byte{0x11}, 128)))
		require.NoError(t, err)
		return drain(t, sim)
	}

	assert.Equal(t, []byte{'@'}, send(0))
	assert.Equal(t, []byte{'@'}, send(0))
	assert.Equal(t, []byte{'!'}, send(0))
	assert.Empty(t, send(1))
	assert.Equal(t, []byte{0x7A}, send(2))
	assert.Equal(t, []uint16{0, 0, 0, 1, 2}, sim.PageLog())
}

func TestPageAddress(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint32(0), PageAddress(0, 128))
	assert.Equal(t, uint32(0x0380), PageAddress(7, 128))
	assert.Equal(t, uint32(0x0400), PageAddress(2, 512))
	assert.Equal(t, []byte{0xFF, 0xFF}, SentinelBytes())
}

func TestSimulatorTransport_ReadByte(t *testing.T) {
	t.Parallel()

	sim := newATmega32(DialectV4)
	tr := NewSimulatorTransport(sim)

	start := time.Now()
	_, ok, err := tr.ReadByte(20 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	sim.Start()
	b, ok, err := tr.ReadByte(time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, byte('U'), b)

	require.NoError(t, tr.Write([]byte{'U'}))
	assert.Equal(t, []byte{'U'}, tr.SentBytes())
	assert.Same(t, sim, tr.GetSimulator())
	assert.Equal(t, TransportMock, tr.Type())

	require.NoError(t, tr.Close())
	require.ErrorIs(t, tr.Write([]byte{0}), ErrClosed)
	_, _, err = tr.ReadByte(time.Millisecond)
	require.ErrorIs(t, err, ErrClosed)
}

func TestJitteryConnection_DeliversEverything(t *testing.T) {
	t.Parallel()

	sim := newATmega32(DialectV4)
	sim.SetNoise(1, 2, 3, 4)
	sim.Start()

	conn := NewJitteryConnection(sim, JitterConfig{
		MaxLatency:      time.Millisecond,
		StallAfterBytes: 2,
		StallDuration:   15 * time.Millisecond,
		Seed:            42,
	})

	start := time.Now()
	got := drain(t, conn)
	assert.Equal(t, []byte{1, 2, 3, 4, 'U'}, got)
	assert.Equal(t, 5, conn.Delivered())
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)

	_, err := conn.Write([]byte{'U'})
	require.NoError(t, err)
	assert.Equal(t, PhaseFlash, sim.Phase())
}

func TestDefaultJitterConfig(t *testing.T) {
	t.Parallel()

	config := DefaultJitterConfig()
	assert.Positive(t, config.MaxLatency)
	assert.Zero(t, config.StallAfterBytes)
}
