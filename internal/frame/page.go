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

package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortFrame is returned when a buffer is too small to hold a page frame.
var ErrShortFrame = errors.New("page frame too short")

// NewErasedPage returns a page buffer filled with ErasedFill.
func NewErasedPage(size int) []byte {
	page := make([]byte, size)
	for i := range page {
		page[i] = ErasedFill
	}
	return page
}

// IsErased reports whether every byte of page equals ErasedFill.
func IsErased(page []byte) bool {
	for _, b := range page {
		if b != ErasedFill {
			return false
		}
	}
	return true
}

// BuildPageFrame assembles the bytes for one page write: the page number MSB
// first, the page content in the order given, and the checksum of the content.
func BuildPageFrame(pageNum uint16, page []byte) []byte {
	frm := make([]byte, HeaderLength+len(page)+TrailerSize)
	binary.BigEndian.PutUint16(frm, pageNum)
	copy(frm[HeaderLength:], page)
	frm[len(frm)-1] = CalculateChecksum(page)
	return frm
}

// PageFrame is a decoded page write.
type PageFrame struct {
	Data     []byte
	Page     uint16
	Checksum byte
}

// Valid reports whether the carried checksum matches the data.
func (f PageFrame) Valid() bool {
	return CalculateChecksum(f.Data) == f.Checksum
}

// ParsePageFrame decodes a frame built by BuildPageFrame for the given page size.
func ParsePageFrame(buf []byte, pageSize int) (PageFrame, error) {
	want := HeaderLength + pageSize + TrailerSize
	if len(buf) < want {
		return PageFrame{}, fmt.Errorf("%w: have %d bytes, need %d", ErrShortFrame, len(buf), want)
	}
	data := make([]byte, pageSize)
	copy(data, buf[HeaderLength:HeaderLength+pageSize])
	return PageFrame{
		Page:     binary.BigEndian.Uint16(buf),
		Data:     data,
		Checksum: buf[want-1],
	}, nil
}

// PageNumber decodes the two byte page number at the head of buf.
func PageNumber(buf []byte) (uint16, bool) {
	if len(buf) < HeaderLength {
		return 0, false
	}
	return binary.BigEndian.Uint16(buf), true
}
