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

// Package dump implements a dry-run megaload.Transport. Page frames written
// to it are decoded and printed in a readable form instead of being sent to
// a device, and every complete frame is acknowledged.
package dump

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ZaparooProject/go-megaload"
	"github.com/ZaparooProject/go-megaload/internal/frame"
	"github.com/ZaparooProject/go-megaload/internal/syncutil"
)

const bytesPerRow = 16

// Transport writes a text dump of the pages it receives.
type Transport struct {
	out      io.Writer
	closer   io.Closer
	path     string
	rx       bytes.Buffer
	pending  []byte
	pages    []uint16
	pageSize int
	mu       syncutil.Mutex
	sentinel bool
	closed   bool
}

// New dumps frames for pages of pageSize bytes to w.
func New(w io.Writer, pageSize int) *Transport {
	return &Transport{out: w, pageSize: pageSize}
}

// Create creates or truncates the file at path and dumps to it. Close
// closes the file.
func Create(path string, pageSize int) (*Transport, error) {
	f, err := os.Create(path) //nolint:gosec // path is chosen by the user
	if err != nil {
		return nil, fmt.Errorf("failed to create dump file: %w", err)
	}
	t := New(f, pageSize)
	t.closer = f
	t.path = path
	return t, nil
}

// Write consumes page frames and the end-of-flash sentinel. A frame may
// arrive in several writes.
func (t *Transport) Write(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return megaload.ErrTransportClosed
	}
	t.rx.Write(data)

	for {
		pageNum, ok := frame.PageNumber(t.rx.Bytes())
		if !ok {
			return nil
		}
		if pageNum == frame.SentinelPage {
			t.rx.Next(frame.HeaderLength)
			t.sentinel = true
			if _, err := fmt.Fprintln(t.out, "End of flash"); err != nil {
				return fmt.Errorf("dump write failed: %w", err)
			}
			continue
		}

		pf, err := frame.ParsePageFrame(t.rx.Bytes(), t.pageSize)
		if err != nil {
			// wait for the rest of the frame
			return nil
		}
		t.rx.Next(frame.HeaderLength + t.pageSize + frame.TrailerSize)

		if err := t.writePage(pf); err != nil {
			return err
		}
		t.pages = append(t.pages, pf.Page)
		if pf.Valid() {
			t.pending = append(t.pending, frame.RespOK)
		} else {
			t.pending = append(t.pending, frame.RespFailed)
		}
	}
}

// writePage prints a frame as its page number, the data sixteen bytes to a
// row and the checksum.
func (t *Transport) writePage(pf frame.PageFrame) error {
	var b bytes.Buffer
	fmt.Fprintf(&b, "Page: %d\n", pf.Page)
	for i, v := range pf.Data {
		fmt.Fprintf(&b, "%02X ", v)
		if i%bytesPerRow == bytesPerRow-1 {
			b.WriteByte('\n')
		}
	}
	if len(pf.Data)%bytesPerRow != 0 {
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "Checksum: 0x%x\n", pf.Checksum)

	if _, err := t.out.Write(b.Bytes()); err != nil {
		return fmt.Errorf("dump write failed: %w", err)
	}
	return nil
}

// ReadByte returns the acknowledgement of the oldest unanswered frame. With
// none pending it waits out the timeout, like a silent device.
func (t *Transport) ReadByte(timeout time.Duration) (byte, bool, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, false, megaload.ErrTransportClosed
	}
	if len(t.pending) > 0 {
		b := t.pending[0]
		t.pending = t.pending[1:]
		t.mu.Unlock()
		return b, true, nil
	}
	t.mu.Unlock()

	time.Sleep(timeout)
	return 0, false, nil
}

// Close closes the dump file if the transport created it.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	if t.closer != nil {
		if err := t.closer.Close(); err != nil {
			return fmt.Errorf("failed to close dump file: %w", err)
		}
	}
	return nil
}

// Type returns the transport type
func (*Transport) Type() megaload.TransportType {
	return megaload.TransportDump
}

// Port returns the dump file path, or "" when writing to a plain writer.
func (t *Transport) Port() string {
	return t.path
}

// Pages returns the page numbers dumped so far, in order.
func (t *Transport) Pages() []uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]uint16(nil), t.pages...)
}

// SentinelReceived reports whether the end-of-flash sentinel was written.
func (t *Transport) SentinelReceived() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sentinel
}

var (
	_ megaload.Transport = (*Transport)(nil)
	_ megaload.PortNamer = (*Transport)(nil)
)
