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
	"bufio"
	"fmt"
	"io"
)

const endRecord = ":00000001FF\n"

// Encode renders img as data records of at most recordSize bytes followed by
// an end record. Extents must lie within the 16-bit address space.
func Encode(w io.Writer, img *Image, recordSize int) error {
	if recordSize <= 0 || recordSize > MaxRecordData {
		return fmt.Errorf("ihex: record size %d out of range 1-%d", recordSize, MaxRecordData)
	}

	bw := bufio.NewWriter(w)
	if img != nil {
		for _, ext := range img.Extents {
			if ext.End() > 0x10000 {
				return fmt.Errorf("%w: extent at %#x ends at %#x", ErrAddressRange, ext.Address, ext.End())
			}
			for off := 0; off < len(ext.Data); off += recordSize {
				chunk := ext.Data[off:min(off+recordSize, len(ext.Data))]
				if err := writeDataRecord(bw, uint16(ext.Address)+uint16(off), chunk); err != nil {
					return err
				}
			}
		}
	}

	if _, err := bw.WriteString(endRecord); err != nil {
		return fmt.Errorf("ihex: write: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("ihex: write: %w", err)
	}
	return nil
}

func writeDataRecord(w *bufio.Writer, addr uint16, data []byte) error {
	sum := byte(len(data)) + byte(addr>>8) + byte(addr) + RecordData
	for _, b := range data {
		sum += b
	}
	if _, err := fmt.Fprintf(w, ":%02X%04X%02X%X%02X\n", len(data), addr, RecordData, data, -sum); err != nil {
		return fmt.Errorf("ihex: write: %w", err)
	}
	return nil
}
