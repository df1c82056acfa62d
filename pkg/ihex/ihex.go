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

// Package ihex decodes the Intel HEX subset understood by MegaLoad
// bootloaders: 16-bit data records (type 00) terminated by an end record
// (type 01). Any other record type is rejected.
//
// Decoding is a pure step. The result is an Image whose extents are sorted by
// address and can be handed to the flash transfer engine unchanged.
package ihex

import (
	"bufio"
	"cmp"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/ZaparooProject/go-megaload/internal/frame"
)

// Record types
const (
	RecordData byte = 0x00
	RecordEOF  byte = 0x01
)

const (
	startCode = ':'
	// minLineLength is ':' plus count, address, type and checksum fields
	minLineLength = 11
	// MaxRecordData is the largest payload one record can carry
	MaxRecordData = 255
	maxLineLength = minLineLength + 2*MaxRecordData
)

// ChecksumPolicy selects what happens when a record checksum does not match.
type ChecksumPolicy int

const (
	// ChecksumWarn records the mismatch in Image.Warnings and keeps decoding.
	// This is the behaviour MegaLoad host tools have always had.
	ChecksumWarn ChecksumPolicy = iota
	// ChecksumStrict aborts decoding with a *RecordChecksumError.
	ChecksumStrict
)

// String returns the flag spelling of the policy.
func (p ChecksumPolicy) String() string {
	switch p {
	case ChecksumWarn:
		return "warn"
	case ChecksumStrict:
		return "strict"
	default:
		return fmt.Sprintf("ChecksumPolicy(%d)", int(p))
	}
}

// Extent is a run of consecutive bytes starting at Address.
type Extent struct {
	Data    []byte
	Address uint32
}

// End returns the address one past the last byte of the extent.
func (e Extent) End() uint32 {
	return e.Address + uint32(len(e.Data))
}

// Image is a decoded memory image. Extents are sorted ascending by address
// and none is empty. An Image is not modified after Decode returns it.
type Image struct {
	Extents  []Extent
	Warnings []*RecordChecksumError
}

// Empty reports whether the image holds no data.
func (img *Image) Empty() bool {
	return img == nil || len(img.Extents) == 0
}

// End returns the logical end of the image: address plus length of the final
// extent. It is zero for an empty image.
func (img *Image) End() uint32 {
	if img.Empty() {
		return 0
	}
	return img.Extents[len(img.Extents)-1].End()
}

// Size returns the number of data bytes in the image.
func (img *Image) Size() int {
	if img == nil {
		return 0
	}
	n := 0
	for _, e := range img.Extents {
		n += len(e.Data)
	}
	return n
}

type decodeConfig struct {
	policy ChecksumPolicy
}

// Option configures Decode.
type Option func(*decodeConfig)

// WithChecksumPolicy sets how record checksum mismatches are treated.
func WithChecksumPolicy(policy ChecksumPolicy) Option {
	return func(c *decodeConfig) {
		c.policy = policy
	}
}

// DecodeFile opens path and decodes it.
func DecodeFile(path string, opts ...Option) (*Image, error) {
	f, err := os.Open(path) //nolint:gosec // path is the image the user asked to program
	if err != nil {
		return nil, fmt.Errorf("ihex: open: %w", err)
	}
	defer func() { _ = f.Close() }()

	img, err := Decode(f, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// Decode reads records from r until an end record or end of input.
// An input without data records yields an empty Image and no error.
func Decode(r io.Reader, opts ...Option) (*Image, error) {
	cfg := decodeConfig{policy: ChecksumWarn}
	for _, opt := range opts {
		opt(&cfg)
	}

	img := &Image{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 128), maxLineLength+64)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		rec, err := parseLine(line, lineNum)
		if err != nil {
			return nil, err
		}
		if rec.recType == RecordEOF {
			break
		}

		if sum := frame.CalculateChecksum(rec.raw); sum != 0 {
			ckErr := &RecordChecksumError{
				Line:   lineNum,
				Sum:    sum,
				Stored: rec.checksum,
			}
			if cfg.policy == ChecksumStrict {
				return nil, ckErr
			}
			img.Warnings = append(img.Warnings, ckErr)
		}

		if len(rec.data) == 0 {
			continue
		}
		img.Extents = append(img.Extents, Extent{Address: uint32(rec.address), Data: rec.data})
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, &FormatError{Line: lineNum + 1, Err: ErrLineTooLong}
		}
		return nil, fmt.Errorf("ihex: read: %w", err)
	}

	slices.SortStableFunc(img.Extents, func(a, b Extent) int {
		return cmp.Compare(a.Address, b.Address)
	})
	return img, nil
}

type record struct {
	raw      []byte // every decoded byte of the line, checksum included
	data     []byte
	address  uint16
	recType  byte
	checksum byte
}

// parseLine validates the shape of one line. The record checksum is left to
// the caller so the policy can decide what a mismatch means.
func parseLine(line string, lineNum int) (record, error) {
	if line[0] != startCode {
		return record{}, &FormatError{Line: lineNum, Err: ErrMissingStartCode}
	}
	if len(line) < minLineLength {
		return record{}, &FormatError{Line: lineNum, Err: ErrLineTooShort}
	}

	var count [1]byte
	if _, err := hex.Decode(count[:], []byte(line[1:3])); err != nil {
		return record{}, &FormatError{Line: lineNum, Err: ErrInvalidHex}
	}
	if len(line) != minLineLength+2*int(count[0]) {
		return record{}, &FormatError{Line: lineNum, Err: ErrLengthMismatch}
	}

	raw, err := hex.DecodeString(line[1:])
	if err != nil {
		return record{}, &FormatError{Line: lineNum, Err: ErrInvalidHex}
	}

	rec := record{
		raw:      raw,
		address:  uint16(raw[1])<<8 | uint16(raw[2]),
		recType:  raw[3],
		checksum: raw[len(raw)-1],
	}
	switch rec.recType {
	case RecordEOF:
		return rec, nil
	case RecordData:
		rec.data = raw[4 : len(raw)-1]
		return rec, nil
	default:
		return record{}, &FormatError{Line: lineNum, Err: ErrUnexpectedRecordType, Type: rec.recType}
	}
}
