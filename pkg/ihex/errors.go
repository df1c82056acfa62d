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

package ihex

import (
	"errors"
	"fmt"
)

// Format errors. Each is fatal and wrapped in a *FormatError carrying the
// offending line number.
var (
	ErrFormat               = errors.New("ihex: malformed record")
	ErrMissingStartCode     = errors.New("ihex: line does not begin with ':'")
	ErrLineTooShort         = errors.New("ihex: line too short")
	ErrLineTooLong          = errors.New("ihex: line too long")
	ErrLengthMismatch       = errors.New("ihex: line length does not match byte count")
	ErrInvalidHex           = errors.New("ihex: invalid hex digit")
	ErrUnexpectedRecordType = errors.New("ihex: unexpected record type")
	ErrAddressRange         = errors.New("ihex: extent does not fit in 16-bit address space")
)

// ErrRecordChecksum is the sentinel behind RecordChecksumError.
var ErrRecordChecksum = errors.New("ihex: record checksum error")

// FormatError reports a malformed line. It is always fatal.
type FormatError struct {
	Err  error
	Line int
	Type byte // record type, only meaningful with ErrUnexpectedRecordType
}

func (e *FormatError) Error() string {
	if errors.Is(e.Err, ErrUnexpectedRecordType) {
		return fmt.Sprintf("line %d: %v %d", e.Line, e.Err, e.Type)
	}
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

// Unwrap exposes both the specific reason and ErrFormat to errors.Is.
func (e *FormatError) Unwrap() []error {
	return []error{e.Err, ErrFormat}
}

// RecordChecksumError reports a record whose bytes do not sum to zero.
// Under ChecksumWarn it is collected in Image.Warnings and decoding continues.
type RecordChecksumError struct {
	Line   int
	Sum    byte // residual of the record sum, never zero
	Stored byte // checksum byte found on the line
}

// Want returns the checksum byte that would have made the record valid.
func (e *RecordChecksumError) Want() byte {
	return e.Stored - e.Sum
}

func (e *RecordChecksumError) Error() string {
	return fmt.Sprintf("line %d: record checksum %02X, expected %02X", e.Line, e.Stored, e.Want())
}

func (e *RecordChecksumError) Unwrap() error {
	return ErrRecordChecksum
}
