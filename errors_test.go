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
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/ZaparooProject/go-megaload/pkg/ihex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "nil error", err: nil, want: false},
		{name: "transport timeout retryable", err: ErrTransportTimeout, want: true},
		{name: "transport read retryable", err: ErrTransportRead, want: true},
		{name: "transport write retryable", err: ErrTransportWrite, want: true},
		{name: "page rejected retryable", err: ErrPageRejected, want: true},
		{name: "wrapped page rejected retryable", err: fmt.Errorf("page 3: %w", ErrPageRejected), want: true},
		{name: "protocol violation not retryable", err: &ProtocolError{Phase: PhaseTransfer, Byte: 0x7A}, want: false},
		{name: "connect timeout not retryable", err: ErrConnectTimeout, want: false},
		{name: "device not found not retryable", err: ErrDeviceNotFound, want: false},
		{name: "invalid parameter not retryable", err: ErrInvalidParameter, want: false},
		{
			name: "text-only wrapping not retryable",
			err:  errors.New("outer: " + ErrTransportTimeout.Error()),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := IsRetryable(tt.err)
			if got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsRetryable_TransportError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		transport *TransportError
		name      string
		want      bool
	}{
		{
			name: "transport error retryable=true",
			transport: &TransportError{
				Err:       errors.New("test error"),
				Op:        "read",
				Port:      "/dev/ttyUSB0",
				Type:      ErrorTypeTransient,
				Retryable: true,
			},
			want: true,
		},
		{
			name: "transport error with retryable underlying error but retryable=false",
			transport: &TransportError{
				Err:       ErrTransportTimeout,
				Op:        "read",
				Port:      "/dev/ttyUSB0",
				Type:      ErrorTypeTimeout,
				Retryable: false,
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := IsRetryable(tt.transport)
			if got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "nil error", err: nil, want: false},
		{name: "transport closed is fatal", err: ErrTransportClosed, want: true},
		{name: "device not found is fatal", err: ErrDeviceNotFound, want: true},
		{name: "EOF is fatal", err: io.EOF, want: true},
		{name: "closed pipe is fatal", err: fmt.Errorf("read: %w", io.ErrClosedPipe), want: true},
		{name: "transport timeout is not fatal", err: ErrTransportTimeout, want: false},
		{name: "page rejected is not fatal", err: ErrPageRejected, want: false},
		{name: "EIO is fatal", err: syscall.EIO, want: true},
		{name: "wrapped ENXIO is fatal", err: fmt.Errorf("write: %w", syscall.ENXIO), want: true},
		{name: "ENODEV is fatal", err: syscall.ENODEV, want: true},
		{name: "EAGAIN is not fatal", err: syscall.EAGAIN, want: false},
		{name: "EINTR is not fatal", err: syscall.EINTR, want: false},
		{
			name: "permanent transport error is fatal",
			err:  NewTransportError("open", "/dev/ttyUSB0", errors.New("gone"), ErrorTypePermanent),
			want: true,
		},
		{
			name: "timeout transport error is not fatal",
			err:  NewTimeoutError("read", "/dev/ttyUSB0"),
			want: false,
		},
		{name: "random error is not fatal", err: errors.New("random error"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := IsFatal(tt.err)
			if got != tt.want {
				t.Errorf("IsFatal(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestNewTransportErrorConstructors(t *testing.T) {
	t.Parallel()

	te := NewTimeoutError("page response", "/dev/ttyUSB0")
	assert.Equal(t, "page response", te.Op)
	assert.Equal(t, ErrorTypeTimeout, te.Type)
	assert.True(t, te.Retryable)
	require.ErrorIs(t, te, ErrTransportTimeout)

	cause := errors.New("broken pipe")
	we := NewTransportWriteError("write", "/dev/ttyS0", cause)
	require.ErrorIs(t, we, ErrTransportWrite)
	require.ErrorIs(t, we, cause)
	assert.Equal(t, ErrorTypeTransient, we.Type)

	re := NewTransportReadError("read", "/dev/ttyS0", cause)
	require.ErrorIs(t, re, ErrTransportRead)
	require.ErrorIs(t, re, cause)

	for _, substr := range []string{"write", "/dev/ttyS0", "broken pipe"} {
		assert.Contains(t, we.Error(), substr)
	}
}

func TestNewTransportErrorConstructors_DeviceGone(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  *TransportError
		name string
	}{
		{name: "read ENXIO", err: NewTransportReadError("read", "/dev/ttyUSB0", syscall.ENXIO)},
		{name: "read ENODEV", err: NewTransportReadError("read", "/dev/ttyUSB0", syscall.ENODEV)},
		{name: "write EIO", err: NewTransportWriteError("write", "/dev/ttyUSB0", syscall.EIO)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, ErrorTypePermanent, tt.err.Type)
			assert.True(t, IsFatal(tt.err))
			assert.False(t, IsRetryable(tt.err))
			assert.True(t, IsFatal(fmt.Errorf("sync: %w", tt.err)))
		})
	}
}

func TestIsFatal_DeviceGoneInsideTransientError(t *testing.T) {
	t.Parallel()

	err := NewTransportError("read", "/dev/ttyUSB0", fmt.Errorf("poll: %w", syscall.EIO), ErrorTypeTransient)
	assert.True(t, IsFatal(err))
}

func TestProtocolError(t *testing.T) {
	t.Parallel()

	negotiation := &ProtocolError{Phase: PhaseNegotiation, State: "GOT_DEVICE", Byte: 0x99, Page: -1}
	assert.Contains(t, negotiation.Error(), "0x99")
	assert.Contains(t, negotiation.Error(), "GOT_DEVICE")
	require.ErrorIs(t, negotiation, ErrProtocolViolation)

	transfer := &ProtocolError{Phase: PhaseTransfer, Byte: 0x7A, Page: 12}
	assert.Contains(t, transfer.Error(), "page 12")
	assert.Contains(t, transfer.Error(), "0x7A")
}

func TestGeometryError_Unwrap(t *testing.T) {
	t.Parallel()

	for _, sentinel := range []error{
		ErrInvalidGeometry,
		ErrImageOverlapsBootloader,
		ErrFlashNotPageMultiple,
		ErrBootNotPageMultiple,
	} {
		err := &GeometryError{Err: sentinel, Detail: "detail"}
		require.ErrorIs(t, err, sentinel)
		require.ErrorIs(t, err, ErrInvalidGeometry)
		assert.Equal(t, sentinel.Error()+": detail", err.Error())
	}
}

func TestPageWriteError_Unwrap(t *testing.T) {
	t.Parallel()

	rejected := &PageWriteError{Page: 4, Attempts: 3, Err: ErrPageRejected}
	require.ErrorIs(t, rejected, ErrPageWriteFailed)
	require.ErrorIs(t, rejected, ErrPageRejected)
	assert.Contains(t, rejected.Error(), "page 4")
	assert.Contains(t, rejected.Error(), "3 attempt")

	timedOut := &PageWriteError{Page: 4, Attempts: 1, Err: NewTimeoutError("page response", "")}
	require.ErrorIs(t, timedOut, ErrTransportTimeout)
	assert.NotErrorIs(t, timedOut, ErrPageWriteFailed)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		name string
		want ErrorCategory
		code int
	}{
		{name: "nil", err: nil, want: CategoryNone, code: 0},
		{name: "generic", err: errors.New("boom"), want: CategoryGeneric, code: 1},
		{
			name: "usage",
			err:  fmt.Errorf("failed to apply negotiate option: %w", ErrInvalidParameter),
			want: CategoryUsage,
			code: 2,
		},
		{
			name: "hex format",
			err:  &ihex.FormatError{Err: ihex.ErrInvalidHex, Line: 3},
			want: CategoryFormat,
			code: 3,
		},
		{
			name: "record checksum",
			err:  &ihex.RecordChecksumError{Line: 2, Sum: 0x10, Stored: 0xF0},
			want: CategoryFormat,
			code: 3,
		},
		{name: "empty image", err: ErrEmptyImage, want: CategoryFormat, code: 3},
		{
			name: "connect timeout",
			err:  NewTraceBuffer("mock", "", 4).WrapError(fmt.Errorf("%w after 10s", ErrConnectTimeout)),
			want: CategoryConnectTimeout,
			code: 4,
		},
		{
			name: "protocol during negotiation",
			err:  &ProtocolError{Phase: PhaseNegotiation, State: "SYNCED45", Byte: 0x00, Page: -1},
			want: CategoryProtocol,
			code: 5,
		},
		{
			name: "protocol during transfer",
			err:  &ProtocolError{Phase: PhaseTransfer, Page: 1, Byte: 0x7A},
			want: CategoryProtocol,
			code: 5,
		},
		{
			name: "geometry",
			err:  &GeometryError{Err: ErrImageOverlapsBootloader},
			want: CategoryGeometry,
			code: 6,
		},
		{
			name: "page write",
			err:  &PageWriteError{Page: 2, Attempts: 3, Err: ErrPageRejected},
			want: CategoryPageWrite,
			code: 7,
		},
		{
			name: "page response timeout",
			err:  &PageWriteError{Page: 2, Attempts: 1, Err: NewTimeoutError("page response", "")},
			want: CategoryTransport,
			code: 8,
		},
		{name: "device gone", err: fmt.Errorf("read: %w", syscall.EIO), want: CategoryTransport, code: 8},
		{name: "cancelled", err: fmt.Errorf("negotiation cancelled: %w", context.Canceled), want: CategoryGeneric, code: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Classify(tt.err)
			assert.Equal(t, tt.want, got, "got %s", got)
			assert.Equal(t, tt.code, got.ExitCode())
		})
	}
}

func TestErrorCategory_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "connect timeout", CategoryConnectTimeout.String())
	assert.Equal(t, "page write", CategoryPageWrite.String())
	assert.Equal(t, "ErrorCategory(42)", ErrorCategory(42).String())
}

func TestTraceBuffer_BasicOperations(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("uart", "/dev/ttyUSB0", 10)

	tb.RecordRX([]byte{0x55}, "CONNECT")
	tb.RecordTX([]byte{0x55}, "sync reply")
	tb.RecordRX([]byte{0x45, 0x6E}, "device")

	wrappedErr := tb.WrapError(errors.New("test error"))

	var te *TraceableError
	if !errors.As(wrappedErr, &te) {
		t.Fatal("WrapError should return a TraceableError")
	}
	if len(te.Trace) != 3 {
		t.Errorf("Expected 3 trace entries, got %d", len(te.Trace))
	}
	if te.Trace[1].Direction != TraceTX {
		t.Errorf("Second entry should be TX, got %v", te.Trace[1].Direction)
	}
	if te.Transport != "uart" {
		t.Errorf("Transport = %q, want %q", te.Transport, "uart")
	}
	if te.Port != "/dev/ttyUSB0" {
		t.Errorf("Port = %q, want %q", te.Port, "/dev/ttyUSB0")
	}
	assert.Equal(t, 3, tb.Len())
}

func TestTraceableError_Unwrap(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("tty", "/dev/ttyS0", 10)
	tb.RecordTX([]byte{0x01, 0x02}, "test")
	wrappedErr := tb.WrapError(ErrConnectTimeout)

	if !errors.Is(wrappedErr, ErrConnectTimeout) {
		t.Error("errors.Is should match underlying error through TraceableError")
	}
	if wrappedErr.Error() != ErrConnectTimeout.Error() {
		t.Errorf("Error() = %q, want %q", wrappedErr.Error(), ErrConnectTimeout.Error())
	}
}

func TestTraceableError_FormatTrace(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("uart", "/dev/ttyUSB0", 10)
	tb.RecordTX([]byte{0x00, 0x03, 0xAA}, "page 3")
	tb.RecordRX([]byte{0x40}, "")
	tb.RecordTimeout("page 3 response")

	te := GetTrace(tb.WrapError(errors.New("timeout")))
	require.NotNil(t, te)

	formatted := te.FormatTrace()
	for _, want := range []string{"uart", "/dev/ttyUSB0", "> 00 03 AA (page 3)", "< 40", "TIMEOUT: page 3 response"} {
		if !strings.Contains(formatted, want) {
			t.Errorf("FormatTrace should contain %q, got:\n%s", want, formatted)
		}
	}
}

func TestTraceableError_FormatTrace_Empty(t *testing.T) {
	t.Parallel()

	te := GetTrace(NewTraceBuffer("uart", "/dev/ttyUSB0", 10).WrapError(errors.New("test")))
	require.NotNil(t, te)
	assert.Contains(t, te.FormatTrace(), "no trace data")
}

func TestTraceBuffer_CircularBuffer(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("uart", "test", 3)
	tb.RecordTX([]byte{0x01}, "first")
	tb.RecordTX([]byte{0x02}, "second")
	tb.RecordTX([]byte{0x03}, "third")
	tb.RecordTX([]byte{0x04}, "fourth")

	te := GetTrace(tb.WrapError(errors.New("test")))
	require.NotNil(t, te)
	require.Len(t, te.Trace, 3)
	assert.Equal(t, "second", te.Trace[0].Note)
	assert.Equal(t, "fourth", te.Trace[2].Note)
}

func TestTraceBuffer_WrapNilAndClear(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("uart", "test", 0)
	tb.RecordTX([]byte{0x01}, "first")
	require.NoError(t, tb.WrapError(nil))

	tb.Clear()
	assert.Zero(t, tb.Len())

	te := GetTrace(tb.WrapError(errors.New("test")))
	require.NotNil(t, te)
	assert.Empty(t, te.Trace)
}

func TestHasTrace(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("uart", "test", 10)
	withTrace := fmt.Errorf("outer: %w", tb.WrapError(errors.New("test")))

	assert.True(t, HasTrace(withTrace))
	assert.False(t, HasTrace(errors.New("plain error")))
	assert.False(t, HasTrace(nil))
	assert.Nil(t, GetTrace(nil))
}

func TestTraceEntry_String(t *testing.T) {
	t.Parallel()

	entry := TraceEntry{
		Direction: TraceRX,
		Data:      []byte{0x21},
		Timestamp: time.Now(),
		Note:      "ready",
	}

	str := entry.String()
	assert.Contains(t, str, "RX")
	assert.Contains(t, str, "21")
	assert.Contains(t, str, "ready")
}

func TestFormatHexBytes(t *testing.T) {
	t.Parallel()

	longData := make([]byte, 131)
	for i := range longData {
		longData[i] = byte(i)
	}

	formatted := formatHexBytes(longData)
	assert.Contains(t, formatted, "...")
	assert.Contains(t, formatted, "131 bytes total")
	assert.Equal(t, "(empty)", formatHexBytes(nil))
	assert.Equal(t, "00 FF", formatHexBytes([]byte{0x00, 0xFF}))
}
