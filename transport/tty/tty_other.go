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

//go:build !linux

package tty

import "time"

// New always fails outside Linux.
func New(_ string, opts ...Option) (*Transport, error) {
	if _, err := applyOptions(opts); err != nil {
		return nil, err
	}
	return nil, ErrUnsupportedPlatform
}

func (*Transport) Write([]byte) error { return ErrUnsupportedPlatform }

func (*Transport) ReadByte(time.Duration) (byte, bool, error) { return 0, false, ErrUnsupportedPlatform }

func (*Transport) Close() error { return nil }

func (*Transport) SetDTR(bool) error { return ErrUnsupportedPlatform }

func (*Transport) SetRTS(bool) error { return ErrUnsupportedPlatform }
