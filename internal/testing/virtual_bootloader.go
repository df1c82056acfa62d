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

// Package testing provides test utilities including a byte-level MegaLoad
// bootloader simulator.
//
// VirtualBootloader implements io.ReadWriter and behaves like the resident
// bootloader of an AVR: it announces itself in the v3, v4 or v5 dialect,
// reports the device geometry, accepts page frames into a simulated flash
// and stops at the 0xFFFF sentinel. Faults can be injected per page.
package testing

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/ZaparooProject/go-megaload/internal/frame"
	"github.com/ZaparooProject/go-megaload/internal/syncutil"
)

// Dialect selects how the simulator announces itself.
type Dialect int

const (
	DialectV3 Dialect = 3
	DialectV4 Dialect = 4
	DialectV5 Dialect = 5
)

// Geometry holds the size codes the simulator reports, as sent on the wire.
type Geometry struct {
	Device byte
	Flash  byte
	Boot   byte
	Page   byte
	EEPROM byte
}

// ATmega32Geometry is an ATmega32 with a 512 word boot section and 128 byte
// pages.
var ATmega32Geometry = Geometry{Device: 0x45, Flash: 0x6E, Boot: 0x63, Page: 0x53, EEPROM: 0x32}

// Phase is the simulator's position in the protocol.
type Phase int

const (
	PhaseIdle      Phase = iota // not started
	PhaseSync                   // announced, waiting for the host reply
	PhaseCalibrate              // v5 only: waiting for the reply to '>'
	PhaseFlash                  // receiving page frames
	PhaseDone                   // sentinel received
)

// pageFault is an injected misbehaviour for one page.
type pageFault struct {
	rejects  int  // answer '@' this many more times
	silent   bool // never answer
	response byte // answer with this byte instead, if non-zero
}

// VirtualBootloader simulates a MegaLoad bootloader at the byte level.
type VirtualBootloader struct {
	faults     map[uint16]*pageFault
	flash      []byte
	pageLog    []uint16
	rxBuffer   bytes.Buffer
	txBuffer   bytes.Buffer
	noise      []byte
	geometry   Geometry
	dialect    Dialect
	phase      Phase
	mu         syncutil.Mutex
	pageSize   int
	corruptAt  int
	corruptVal byte
	sentinel   bool
}

// NewVirtualBootloader creates a simulator for the given dialect and
// geometry. pageSize and flashSize are the byte sizes the codes in g stand
// for; they size the simulated flash.
func NewVirtualBootloader(dialect Dialect, g Geometry, flashSize, pageSize int) *VirtualBootloader {
	flash := make([]byte, flashSize)
	for i := range flash {
		flash[i] = frame.ErasedFill
	}
	return &VirtualBootloader{
		faults:    make(map[uint16]*pageFault),
		flash:     flash,
		geometry:  g,
		dialect:   dialect,
		pageSize:  pageSize,
		corruptAt: -1,
	}
}

// Start makes the bootloader announce itself, as it does after a reset.
func (v *VirtualBootloader) Start() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.phase != PhaseIdle {
		return
	}
	v.txBuffer.Write(v.noise)
	switch v.dialect {
	case DialectV3:
		v.txBuffer.WriteByte(frame.SyncPrompt)
	case DialectV4, DialectV5:
		v.txBuffer.WriteByte(frame.SyncAutobaud)
	}
	v.phase = PhaseSync
}

// SetNoise sets bytes sent ahead of the announcement, such as output of
// the application that was running before the reset.
func (v *VirtualBootloader) SetNoise(noise ...byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.noise = append([]byte(nil), noise...)
}

// CorruptGeometry replaces the byte at index (0 device, 1 flash, 2 boot,
// 3 page, 4 eeprom, 5 ready marker) of the geometry report with value.
func (v *VirtualBootloader) CorruptGeometry(index int, value byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.corruptAt = index
	v.corruptVal = value
}

// RejectPage makes the bootloader answer '@' to the next count
// transmissions of page.
func (v *VirtualBootloader) RejectPage(page uint16, count int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.fault(page).rejects = count
}

// SilencePage makes the bootloader never answer page.
func (v *VirtualBootloader) SilencePage(page uint16) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.fault(page).silent = true
}

// GarblePage makes the bootloader answer page with an arbitrary byte.
func (v *VirtualBootloader) GarblePage(page uint16, response byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.fault(page).response = response
}

func (v *VirtualBootloader) fault(page uint16) *pageFault {
	f, ok := v.faults[page]
	if !ok {
		f = &pageFault{}
		v.faults[page] = f
	}
	return f
}

// Write implements io.Writer - receives data from the host.
func (v *VirtualBootloader) Write(data []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.rxBuffer.Write(data)
	if err := v.processReceivedData(); err != nil {
		return len(data), err
	}
	return len(data), nil
}

// Read implements io.Reader - returns bytes the bootloader has sent.
func (v *VirtualBootloader) Read(buf []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.txBuffer.Len() == 0 {
		return 0, nil
	}
	n, err := v.txBuffer.Read(buf)
	if err != nil {
		return n, fmt.Errorf("read from tx buffer: %w", err)
	}
	return n, nil
}

// HasPendingResponse reports whether bytes are waiting to be read.
func (v *VirtualBootloader) HasPendingResponse() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.txBuffer.Len() > 0
}

// Phase returns the protocol phase.
func (v *VirtualBootloader) Phase() Phase {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.phase
}

// Flash returns a copy of the simulated flash.
func (v *VirtualBootloader) Flash() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]byte(nil), v.flash...)
}

// PageLog returns the page number of every frame received, retries
// included, in order.
func (v *VirtualBootloader) PageLog() []uint16 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]uint16(nil), v.pageLog...)
}

// SentinelReceived reports whether the flash phase was ended by the host.
func (v *VirtualBootloader) SentinelReceived() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sentinel
}

// processReceivedData consumes complete host messages from rxBuffer.
func (v *VirtualBootloader) processReceivedData() error {
	for v.rxBuffer.Len() > 0 {
		switch v.phase {
		case PhaseIdle, PhaseDone:
			// not listening
			v.rxBuffer.Reset()
			return nil
		case PhaseSync:
			if err := v.handleSync(); err != nil {
				return err
			}
		case PhaseCalibrate:
			if err := v.handleCalibrate(); err != nil {
				return err
			}
		case PhaseFlash:
			if !v.handleFrame() {
				return nil
			}
		}
	}
	return nil
}

func (v *VirtualBootloader) handleSync() error {
	b, _ := v.rxBuffer.ReadByte()
	want := byte(frame.SyncAutobaud)
	if v.dialect == DialectV3 {
		want = frame.SyncReply
	}
	if b != want {
		return fmt.Errorf("sync: got 0x%02X, want 0x%02X", b, want)
	}

	if v.dialect == DialectV5 {
		// auto-calibration repeats 'U' before asking for '<'
		v.txBuffer.WriteByte(frame.SyncAutobaud)
		v.txBuffer.WriteByte(frame.SyncPrompt)
		v.phase = PhaseCalibrate
		return nil
	}
	v.sendGeometry()
	return nil
}

func (v *VirtualBootloader) handleCalibrate() error {
	b, _ := v.rxBuffer.ReadByte()
	if b != frame.SyncReply {
		return fmt.Errorf("calibrate: got 0x%02X, want 0x%02X", b, frame.SyncReply)
	}
	v.sendGeometry()
	return nil
}

func (v *VirtualBootloader) sendGeometry() {
	report := []byte{v.geometry.Device, v.geometry.Flash, v.geometry.Boot, v.geometry.Page, v.geometry.EEPROM}
	if v.dialect == DialectV4 {
		report = append(report, frame.SyncPrompt)
	}
	report = append(report, frame.RespOK)
	if v.corruptAt >= 0 && v.corruptAt < len(report) {
		report[v.corruptAt] = v.corruptVal
	}
	v.txBuffer.Write(report)
	v.phase = PhaseFlash
}

// handleFrame consumes one page frame or the sentinel. It returns false
// when rxBuffer holds only part of a frame.
func (v *VirtualBootloader) handleFrame() bool {
	data := v.rxBuffer.Bytes()
	pageNum, ok := frame.PageNumber(data)
	if !ok {
		return false
	}
	if pageNum == frame.SentinelPage {
		v.rxBuffer.Next(frame.HeaderLength)
		v.sentinel = true
		v.phase = PhaseDone
		return true
	}

	pf, err := frame.ParsePageFrame(data, v.pageSize)
	if err != nil {
		return false
	}
	v.rxBuffer.Next(frame.HeaderLength + v.pageSize + frame.TrailerSize)
	v.pageLog = append(v.pageLog, pageNum)

	if f, ok := v.faults[pageNum]; ok {
		switch {
		case f.silent:
			return true
		case f.response != 0:
			v.txBuffer.WriteByte(f.response)
			return true
		case f.rejects > 0:
			f.rejects--
			v.txBuffer.WriteByte(frame.RespFailed)
			return true
		}
	}

	start := int(PageAddress(pageNum, v.pageSize))
	if !pf.Valid() || start+v.pageSize > len(v.flash) {
		v.txBuffer.WriteByte(frame.RespFailed)
		return true
	}
	copy(v.flash[start:], pf.Data)
	v.txBuffer.WriteByte(frame.RespOK)
	return true
}

// PageAddress returns the byte address the bootloader derives from a page
// number: the number shifted left by log2 of the page size.
func PageAddress(pageNum uint16, pageSize int) uint32 {
	shift := 0
	for 1<<shift < pageSize {
		shift++
	}
	return uint32(pageNum) << shift
}

// SentinelBytes returns the big-endian encoding of the sentinel page number.
func SentinelBytes() []byte {
	return binary.BigEndian.AppendUint16(nil, frame.SentinelPage)
}
