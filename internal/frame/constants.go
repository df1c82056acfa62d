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

// Package frame holds the MegaLoad wire constants and the page frame codec
// shared by the transfer engine, the dump transport and the simulator.
package frame

// Synchronisation bytes exchanged during negotiation
const (
	SyncAutobaud = 0x55 // 'U' sent by v4/v5 loaders, echoed back by the host
	SyncPrompt   = 0x3E // '>' sent by v3 loaders and by v5 before the device ID
	SyncReply    = 0x3C // '<' host reply to SyncPrompt
)

// Bootloader responses
const (
	RespOK     = 0x21 // '!' flash ready / page written
	RespFailed = 0x40 // '@' checksum or write failure
)

// Phase markers sent after the flash phase. Only documented, the client
// stops at the sentinel.
const (
	MarkerEEPROM = 0x29 // ')' EEPROM phase begins
	MarkerLock   = 0x25 // '%' lock bit phase begins
)

// Page transfer constants
const (
	ErasedFill   = 0xFF   // content of unprogrammed flash
	SentinelPage = 0xFFFF // page number that ends the flash phase
	HeaderLength = 2      // page number bytes
	TrailerSize  = 1      // checksum byte
)

// SentinelFrame is written once after the last page.
var SentinelFrame = []byte{0xFF, 0xFF}
