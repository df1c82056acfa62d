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
	"io"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/ZaparooProject/go-megaload/pkg/ihex"
)

// Error categories for classification and retry logic
var (
	// Transport errors
	ErrTransportTimeout = errors.New("transport timeout")
	ErrTransportWrite   = errors.New("transport write failed")
	ErrTransportRead    = errors.New("transport read failed")
	ErrTransportClosed  = errors.New("transport is closed")
	ErrNoModemControl   = errors.New("transport has no modem control lines")

	// Negotiation errors
	ErrConnectTimeout    = errors.New("timed out waiting for bootloader")
	ErrProtocolViolation = errors.New("protocol violation")

	// Geometry errors, all wrapped by *GeometryError
	ErrInvalidGeometry         = errors.New("invalid device geometry")
	ErrImageOverlapsBootloader = errors.New("image overlaps bootloader section")
	ErrFlashNotPageMultiple    = errors.New("flash size is not a multiple of page size")
	ErrBootNotPageMultiple     = errors.New("boot size is not a multiple of page size")

	// Page transfer errors
	ErrPageRejected    = errors.New("bootloader rejected page")
	ErrPageWriteFailed = errors.New("page write failed")

	// Input errors
	ErrEmptyImage       = errors.New("image contains no data")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrDeviceNotFound   = errors.New("device not found")
)

// ErrorType represents the category of error for retry logic
type ErrorType int

const (
	// ErrorTypeTransient indicates a potentially retryable error
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent indicates a non-retryable error
	ErrorTypePermanent
	// ErrorTypeTimeout indicates a timeout error
	ErrorTypeTimeout
)

// TransportError wraps transport-level errors with additional context
type TransportError struct {
	Err       error     // Underlying error
	Op        string    // Operation that failed
	Port      string    // Port or device identifier
	Type      ErrorType // Error category
	Retryable bool      // Whether the error is retryable
}

func (e *TransportError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Phase names the part of a session an error occurred in.
type Phase int

const (
	PhaseNegotiation Phase = iota
	PhaseTransfer
)

func (p Phase) String() string {
	switch p {
	case PhaseNegotiation:
		return "negotiation"
	case PhaseTransfer:
		return "transfer"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// ProtocolError reports a byte from the bootloader that is not valid in the
// current protocol state. It is never retried.
type ProtocolError struct {
	State string // negotiation state, empty during transfer
	Page  int    // page being written, -1 during negotiation
	Phase Phase
	Byte  byte
}

func (e *ProtocolError) Error() string {
	if e.Phase == PhaseTransfer {
		return fmt.Sprintf("%v: unexpected byte 0x%02X in response to page %d", ErrProtocolViolation, e.Byte, e.Page)
	}
	return fmt.Sprintf("%v: unexpected byte 0x%02X in state %s", ErrProtocolViolation, e.Byte, e.State)
}

func (e *ProtocolError) Unwrap() error {
	return ErrProtocolViolation
}

// GeometryError reports a device profile that cannot hold or address the image.
// Err is one of the geometry sentinels.
type GeometryError struct {
	Err    error
	Detail string
}

func (e *GeometryError) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Detail)
}

// Unwrap exposes the specific reason and the ErrInvalidGeometry family.
func (e *GeometryError) Unwrap() []error {
	if errors.Is(e.Err, ErrInvalidGeometry) {
		return []error{e.Err}
	}
	return []error{e.Err, ErrInvalidGeometry}
}

// PageWriteError reports a page that could not be written. When the
// bootloader rejected every attempt it matches ErrPageWriteFailed; a response
// timeout is carried in Err and matches ErrTransportTimeout instead.
type PageWriteError struct {
	Err      error
	Page     int
	Attempts int
}

func (e *PageWriteError) Error() string {
	return fmt.Sprintf("page %d: write failed after %d attempt(s): %v", e.Page, e.Attempts, e.Err)
}

func (e *PageWriteError) Unwrap() []error {
	if errors.Is(e.Err, ErrPageRejected) {
		return []error{ErrPageWriteFailed, e.Err}
	}
	return []error{e.Err}
}

// IsRetryable returns true if the error is potentially retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}

	switch {
	case errors.Is(err, ErrPageRejected),
		errors.Is(err, ErrTransportTimeout),
		errors.Is(err, ErrTransportRead),
		errors.Is(err, ErrTransportWrite):
		return true
	default:
		return false
	}
}

// IsFatal returns true if the error indicates the device or connection is
// gone. This is distinct from IsRetryable which indicates whether a single
// operation can be retried.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	if isDeviceGoneError(err) {
		return true
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Type == ErrorTypePermanent
	}

	switch {
	case errors.Is(err, ErrTransportClosed),
		errors.Is(err, ErrDeviceNotFound),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe):
		return true
	default:
		return false
	}
}

// Windows error codes for device disconnection detection.
// These are defined here because they're not available on non-Windows platforms.
const (
	errAccessDenied syscall.Errno = 5   // ERROR_ACCESS_DENIED
	errGenFailure   syscall.Errno = 31  // ERROR_GEN_FAILURE
	errNoSuchDevice syscall.Errno = 433 // ERROR_NO_SUCH_DEVICE
)

// isDeviceGoneError checks for OS-level errors indicating that a USB serial
// adapter was unplugged during I/O.
func isDeviceGoneError(err error) bool {
	if err == nil {
		return false
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		//nolint:exhaustive // Only checking specific device-gone errors, not all errno values
		switch errno {
		case syscall.EIO, syscall.ENXIO, syscall.ENODEV:
			return true
		}

		if runtime.GOOS == "windows" {
			//nolint:exhaustive // Only checking specific device-gone errors, not all errno values
			switch errno {
			case errAccessDenied, errGenFailure, errNoSuchDevice:
				return true
			}
		}
	}

	return false
}

// ErrorCategory groups errors by the exit status a command line tool reports.
type ErrorCategory int

const (
	CategoryNone ErrorCategory = iota
	CategoryGeneric
	CategoryUsage
	CategoryFormat
	CategoryConnectTimeout
	CategoryProtocol
	CategoryGeometry
	CategoryPageWrite
	CategoryTransport
)

// ExitCode returns the process exit status for the category.
func (c ErrorCategory) ExitCode() int {
	return int(c)
}

func (c ErrorCategory) String() string {
	switch c {
	case CategoryNone:
		return "none"
	case CategoryGeneric:
		return "generic"
	case CategoryUsage:
		return "usage"
	case CategoryFormat:
		return "image format"
	case CategoryConnectTimeout:
		return "connect timeout"
	case CategoryProtocol:
		return "protocol violation"
	case CategoryGeometry:
		return "geometry"
	case CategoryPageWrite:
		return "page write"
	case CategoryTransport:
		return "transport"
	default:
		return fmt.Sprintf("ErrorCategory(%d)", int(c))
	}
}

// Classify maps an error returned by this package, or by pkg/ihex, to its
// category. More specific conditions win: a protocol violation seen during a
// page write is CategoryProtocol, not CategoryPageWrite.
func Classify(err error) ErrorCategory {
	if err == nil {
		return CategoryNone
	}

	var pe *ProtocolError
	switch {
	case errors.Is(err, ihex.ErrFormat),
		errors.Is(err, ihex.ErrRecordChecksum),
		errors.Is(err, ErrEmptyImage):
		return CategoryFormat
	case errors.Is(err, ErrConnectTimeout):
		return CategoryConnectTimeout
	case errors.As(err, &pe):
		return CategoryProtocol
	case errors.Is(err, ErrInvalidGeometry):
		return CategoryGeometry
	case errors.Is(err, ErrPageWriteFailed):
		return CategoryPageWrite
	case errors.Is(err, ErrInvalidParameter):
		return CategoryUsage
	case errors.Is(err, context.Canceled):
		return CategoryGeneric
	}

	var te *TransportError
	if errors.As(err, &te) || errors.Is(err, ErrTransportTimeout) || IsFatal(err) {
		return CategoryTransport
	}
	return CategoryGeneric
}

// NewTransportError creates a standard transport error with consistent formatting
func NewTransportError(op, port string, err error, errType ErrorType) *TransportError {
	return &TransportError{
		Op:        op,
		Port:      port,
		Err:       err,
		Type:      errType,
		Retryable: errType == ErrorTypeTransient || errType == ErrorTypeTimeout,
	}
}

// NewTimeoutError creates a timeout error for transport operations
func NewTimeoutError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportTimeout, ErrorTypeTimeout)
}

// NewTransportWriteError creates a write error. It is transient unless err
// reports that the device is gone.
func NewTransportWriteError(op, port string, err error) *TransportError {
	return NewTransportError(op, port, fmt.Errorf("%w: %w", ErrTransportWrite, err), ioErrorType(err))
}

// NewTransportReadError creates a read error. It is transient unless err
// reports that the device is gone.
func NewTransportReadError(op, port string, err error) *TransportError {
	return NewTransportError(op, port, fmt.Errorf("%w: %w", ErrTransportRead, err), ioErrorType(err))
}

func ioErrorType(err error) ErrorType {
	if isDeviceGoneError(err) {
		return ErrorTypePermanent
	}
	return ErrorTypeTransient
}

// =============================================================================
// Wire Trace Logging
// =============================================================================
// TraceableError embeds wire-level trace data in errors, so a failed session
// can show the bytes that led up to it.

// TraceDirection indicates the direction of wire data
type TraceDirection string

const (
	// TraceTX indicates data sent to the bootloader
	TraceTX TraceDirection = "TX"
	// TraceRX indicates data received from the bootloader
	TraceRX TraceDirection = "RX"
)

// TraceEntry represents a single wire-level operation
type TraceEntry struct {
	Timestamp time.Time
	Direction TraceDirection
	Note      string
	Data      []byte
}

// String formats a trace entry for display
func (e TraceEntry) String() string {
	hexData := formatHexBytes(e.Data)
	if e.Note != "" {
		return fmt.Sprintf("[%s] %s: %s (%s)", e.Timestamp.Format("15:04:05.000"), e.Direction, hexData, e.Note)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Timestamp.Format("15:04:05.000"), e.Direction, hexData)
}

// TraceableError wraps an error with wire-level trace data for debugging.
// Callers can use errors.As() to extract trace information:
//
//	var te *megaload.TraceableError
//	if errors.As(err, &te) {
//	    log.Printf("Wire trace:\n%s", te.FormatTrace())
//	}
type TraceableError struct {
	Err       error
	Transport string
	Port      string
	Trace     []TraceEntry
}

// Error implements the error interface
func (e *TraceableError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/As compatibility
func (e *TraceableError) Unwrap() error {
	return e.Err
}

// FormatTrace returns a human-readable formatted trace log
func (e *TraceableError) FormatTrace() string {
	if len(e.Trace) == 0 {
		return fmt.Sprintf("[%s:%s] (no trace data)", e.Transport, e.Port)
	}

	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "[%s:%s] Wire trace (%d entries):\n", e.Transport, e.Port, len(e.Trace))

	for _, entry := range e.Trace {
		direction := ">"
		if entry.Direction == TraceRX {
			direction = "<"
		}
		hexData := formatHexBytes(entry.Data)
		if entry.Note != "" {
			_, _ = fmt.Fprintf(&sb, "  %s %s (%s)\n", direction, hexData, entry.Note)
		} else {
			_, _ = fmt.Fprintf(&sb, "  %s %s\n", direction, hexData)
		}
	}

	return sb.String()
}

// formatHexBytes formats a byte slice as space-separated hex values
func formatHexBytes(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}
	if len(data) > 32 {
		parts := make([]string, 32)
		for i := range 32 {
			parts[i] = fmt.Sprintf("%02X", data[i])
		}
		return strings.Join(parts, " ") + fmt.Sprintf(" ... (%d bytes total)", len(data))
	}
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, " ")
}

// TraceBuffer keeps the most recent wire operations of a session.
// It uses a fixed-size circular buffer to limit memory usage.
type TraceBuffer struct {
	transport string
	port      string
	entries   []TraceEntry
	maxSize   int
}

// NewTraceBuffer creates a new trace buffer with the specified capacity
func NewTraceBuffer(transport, port string, maxSize int) *TraceBuffer {
	if maxSize <= 0 {
		maxSize = 16
	}
	return &TraceBuffer{
		entries:   make([]TraceEntry, 0, maxSize),
		maxSize:   maxSize,
		transport: transport,
		port:      port,
	}
}

// RecordTX records a transmission to the bootloader
func (tb *TraceBuffer) RecordTX(data []byte, note string) {
	tb.record(TraceTX, data, note)
}

// RecordRX records data received from the bootloader
func (tb *TraceBuffer) RecordRX(data []byte, note string) {
	tb.record(TraceRX, data, note)
}

// RecordTimeout records a timeout event
func (tb *TraceBuffer) RecordTimeout(note string) {
	tb.record(TraceRX, nil, "TIMEOUT: "+note)
}

// Len returns the number of entries held.
func (tb *TraceBuffer) Len() int {
	return len(tb.entries)
}

// record adds an entry to the buffer, evicting oldest if full
func (tb *TraceBuffer) record(dir TraceDirection, data []byte, note string) {
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	entry := TraceEntry{
		Direction: dir,
		Data:      dataCopy,
		Timestamp: time.Now(),
		Note:      note,
	}

	if len(tb.entries) >= tb.maxSize {
		copy(tb.entries, tb.entries[1:])
		tb.entries[len(tb.entries)-1] = entry
	} else {
		tb.entries = append(tb.entries, entry)
	}
}

// WrapError wraps an error with the collected trace data.
// Returns nil if err is nil.
func (tb *TraceBuffer) WrapError(err error) error {
	if err == nil {
		return nil
	}

	entriesCopy := make([]TraceEntry, len(tb.entries))
	copy(entriesCopy, tb.entries)

	return &TraceableError{
		Err:       err,
		Trace:     entriesCopy,
		Transport: tb.transport,
		Port:      tb.port,
	}
}

// Clear resets the trace buffer
func (tb *TraceBuffer) Clear() {
	tb.entries = tb.entries[:0]
}

// HasTrace checks if an error contains trace data
func HasTrace(err error) bool {
	var te *TraceableError
	return errors.As(err, &te)
}

// GetTrace extracts trace data from an error, returning nil if not present
func GetTrace(err error) *TraceableError {
	var te *TraceableError
	if errors.As(err, &te) {
		return te
	}
	return nil
}
