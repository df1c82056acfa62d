// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package megaload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-megaload/internal/frame"
	"github.com/ZaparooProject/go-megaload/pkg/ihex"
)

// Progress is reported after every page, sent or skipped.
type Progress struct {
	Page    int  // index of the page just handled
	Pages   int  // writable pages in total
	Written int  // pages acknowledged so far
	Skipped int  // erased pages not sent so far
	Retries int  // rejected transmissions so far
	Sent    bool // whether this page was transmitted
}

// TransferStats summarises a completed flash write.
type TransferStats struct {
	Pages   int // writable pages walked
	Written int // pages sent and acknowledged
	Skipped int // pages left out because they were fully erased
	Retries int // page transmissions repeated after a rejection
}

// TransferOption represents a functional option for WriteFlash
type TransferOption func(*transferConfig) error

// transferConfig holds page transfer settings
type transferConfig struct {
	progress        func(Progress)
	responseTimeout time.Duration
}

// WithResponseTimeout sets how long to wait for the bootloader to answer one
// page.
func WithResponseTimeout(timeout time.Duration) TransferOption {
	return func(c *transferConfig) error {
		if timeout <= 0 {
			return fmt.Errorf("%w: response timeout must be positive, got %v", ErrInvalidParameter, timeout)
		}
		c.responseTimeout = timeout
		return nil
	}
}

// WithProgress sets a callback invoked after every page.
func WithProgress(fn func(Progress)) TransferOption {
	return func(c *transferConfig) error {
		c.progress = fn
		return nil
	}
}

func applyTransferOptions(opts []TransferOption) (*transferConfig, error) {
	config := &transferConfig{
		responseTimeout: DefaultResponseTimeout,
	}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, fmt.Errorf("failed to apply transfer option: %w", err)
		}
	}

	return config, nil
}

// ValidateGeometry checks that profile describes addressable pages and that
// img fits below the bootloader section. Each violation is a *GeometryError.
func ValidateGeometry(profile *DeviceProfile, img *ihex.Image) error {
	if profile == nil {
		return &GeometryError{Err: ErrInvalidGeometry, Detail: "no device profile"}
	}
	if profile.FlashSize <= 0 || profile.BootSize <= 0 || profile.PageSize <= 0 {
		return &GeometryError{Err: ErrInvalidGeometry, Detail: fmt.Sprintf(
			"flash %d, boot %d, page %d must all be positive", profile.FlashSize, profile.BootSize, profile.PageSize)}
	}
	if app := max(profile.ApplicationSize(), 0); img.End() > uint32(app) { //nolint:gosec // app is non-negative
		return &GeometryError{Err: ErrImageOverlapsBootloader, Detail: fmt.Sprintf(
			"image ends at 0x%X, bootloader starts at 0x%X", img.End(), app)}
	}
	if profile.BootSize >= profile.FlashSize {
		return &GeometryError{Err: ErrInvalidGeometry, Detail: fmt.Sprintf(
			"boot section %d leaves no room in flash %d", profile.BootSize, profile.FlashSize)}
	}
	if profile.FlashSize%profile.PageSize != 0 {
		return &GeometryError{Err: ErrFlashNotPageMultiple, Detail: fmt.Sprintf(
			"flash %d, page %d", profile.FlashSize, profile.PageSize)}
	}
	if profile.ApplicationSize()%profile.PageSize != 0 {
		return &GeometryError{Err: ErrBootNotPageMultiple, Detail: fmt.Sprintf(
			"application area %d, page %d", profile.ApplicationSize(), profile.PageSize)}
	}
	return nil
}

// pageCursor is the position in the image of the next byte to place.
type pageCursor struct {
	extent int // index into Image.Extents
	offset int // byte offset within that extent
}

// fill copies the image bytes falling in [base, base+len(buf)) into buf and
// advances the cursor past them. Bytes below base, which only overlapping
// extents can leave behind, are dropped.
func (c pageCursor) fill(buf []byte, base uint32, extents []ihex.Extent) pageCursor {
	end := base + uint32(len(buf))
	for c.extent < len(extents) {
		ext := extents[c.extent]
		addr := ext.Address + uint32(c.offset)
		if addr >= end {
			break
		}
		if addr < base {
			c.offset += int(min(base-addr, uint32(len(ext.Data)-c.offset)))
		} else {
			c.offset += copy(buf[addr-base:], ext.Data[c.offset:])
		}
		if c.offset >= len(ext.Data) {
			c.extent++
			c.offset = 0
		}
	}
	return c
}

// pageWriter sends pages over one transport.
type pageWriter struct {
	transport Transport
	trace     *TraceBuffer
	stats     *TransferStats
	timeout   time.Duration
}

// WriteFlash writes img to the application area of a negotiated bootloader
// and then ends the flash phase with the 0xFFFF sentinel. Fully erased pages
// are not sent. A rejected page is sent again, up to MaxPageAttempts times
// in all; a missing or unexpected response aborts at once.
//
// WriteFlash cannot be cancelled. Every wait is bounded by the response
// timeout.
func WriteFlash(t Transport, profile *DeviceProfile, img *ihex.Image, opts ...TransferOption) (*TransferStats, error) {
	config, err := applyTransferOptions(opts)
	if err != nil {
		return nil, err
	}
	if err := ValidateGeometry(profile, img); err != nil {
		return nil, err
	}

	pages := profile.WritablePages()
	stats := &TransferStats{Pages: pages}
	w := &pageWriter{
		transport: t,
		trace:     NewTraceBuffer(string(t.Type()), portName(t), 16),
		stats:     stats,
		timeout:   config.responseTimeout,
	}

	var extents []ihex.Extent
	if img != nil {
		extents = img.Extents
	}

	var cur pageCursor
	for page := range pages {
		buf := frame.NewErasedPage(profile.PageSize)
		cur = cur.fill(buf, uint32(page*profile.PageSize), extents)

		sent := !frame.IsErased(buf)
		if sent {
			if err := w.writePage(page, buf); err != nil {
				return nil, err
			}
			stats.Written++
		} else {
			stats.Skipped++
		}

		if config.progress != nil {
			config.progress(Progress{
				Page:    page,
				Pages:   pages,
				Written: stats.Written,
				Skipped: stats.Skipped,
				Retries: stats.Retries,
				Sent:    sent,
			})
		}
	}

	w.trace.RecordTX(frame.SentinelFrame, "end of flash")
	if err := t.Write(frame.SentinelFrame); err != nil {
		return nil, w.trace.WrapError(fmt.Errorf("sentinel: %w", err))
	}

	logger.Debug().
		Int("pages", stats.Pages).
		Int("written", stats.Written).
		Int("skipped", stats.Skipped).
		Int("retries", stats.Retries).
		Msg("flash written")
	return stats, nil
}

// writePage sends one page until it is acknowledged or the attempts run out.
func (w *pageWriter) writePage(page int, buf []byte) error {
	frm := frame.BuildPageFrame(uint16(page), buf)

	retry := PageRetryConfig()
	retry.OnRetry = func(attempt int, err error) {
		w.stats.Retries++
		logger.Debug().Int("page", page).Int("attempt", attempt).Err(err).Msg("resending page")
	}

	attempts := 0
	err := RetryWithConfig(context.Background(), retry, func() error {
		attempts++
		return w.sendPage(page, frm)
	})
	if err == nil {
		return nil
	}

	var pe *ProtocolError
	if errors.As(err, &pe) {
		return w.trace.WrapError(err)
	}
	return &PageWriteError{Page: page, Attempts: attempts, Err: w.trace.WrapError(err)}
}

// sendPage transmits a page frame and waits for the single response byte.
func (w *pageWriter) sendPage(page int, frm []byte) error {
	w.trace.RecordTX(frm, fmt.Sprintf("page %d", page))
	if err := w.transport.Write(frm); err != nil {
		return fmt.Errorf("page %d: %w", page, err)
	}

	resp, ok, err := w.transport.ReadByte(w.timeout)
	if err != nil {
		return fmt.Errorf("page %d response: %w", page, err)
	}
	if !ok {
		w.trace.RecordTimeout(fmt.Sprintf("page %d response", page))
		return NewTimeoutError("page response", portName(w.transport))
	}
	w.trace.RecordRX([]byte{resp}, "")

	switch resp {
	case frame.RespOK:
		return nil
	case frame.RespFailed:
		logger.Debug().Int("page", page).Msg("bootloader rejected page")
		return ErrPageRejected
	default:
		return &ProtocolError{Phase: PhaseTransfer, Page: page, Byte: resp}
	}
}
