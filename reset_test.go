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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResetSequence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  []byte
	}{
		{name: "plain", input: "boot", want: []byte("boot")},
		{name: "empty", input: "", want: []byte{}},
		{name: "newline and carriage return", input: `reset\r\n`, want: []byte("reset\r\n")},
		{name: "hex escape", input: `\x55\xAA`, want: []byte{0x55, 0xAA}},
		{name: "bare nul", input: `a\0b`, want: []byte{'a', 0x00, 'b'}},
		{name: "trailing nul", input: `\0`, want: []byte{0x00}},
		{name: "octal", input: `\033[0m`, want: []byte{0x1B, '[', '0', 'm'}},
		{name: "tab and backslash", input: `\t\\`, want: []byte{'\t', '\\'}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseResetSequence(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseResetSequence_Invalid(t *testing.T) {
	t.Parallel()

	for _, input := range []string{`\q`, `\x5`, `trailing\`} {
		_, err := ParseResetSequence(input)
		require.ErrorIs(t, err, ErrInvalidParameter, input)
		assert.Equal(t, CategoryUsage, Classify(err))
	}
}

func TestSequenceReset(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	require.NoError(t, SequenceReset("reboot\n").Reset(context.Background(), mock))
	assert.Equal(t, []byte("reboot\n"), mock.Written())

	empty := NewMockTransport()
	require.NoError(t, SequenceReset(nil).Reset(context.Background(), empty))
	assert.Empty(t, empty.Writes())

	failing := NewMockTransport()
	failing.SetWriteError(ErrTransportClosed)
	require.ErrorIs(t, SequenceReset("x").Reset(context.Background(), failing), ErrTransportClosed)
}

func TestDTRReset(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	start := time.Now()
	err := DTRReset{Pulse: 5 * time.Millisecond, Settle: 5 * time.Millisecond}.Reset(context.Background(), mock)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, mock.DTRHistory())
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	assert.Empty(t, mock.Writes())
}

func TestDTRReset_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mock := NewMockTransport()
	err := DTRReset{Pulse: time.Second}.Reset(ctx, mock)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []bool{true, false}, mock.DTRHistory(), "DTR is released on cancel")
}

func TestDTRReset_NoModemControl(t *testing.T) {
	t.Parallel()

	err := DTRReset{}.Reset(context.Background(), &trickleTransport{})
	require.ErrorIs(t, err, ErrNoModemControl)
	assert.Contains(t, err.Error(), "mock")
}

func TestMultiReset(t *testing.T) {
	t.Parallel()

	var order []string
	step := func(name string, err error) Resetter {
		return ResetFunc(func(context.Context, Transport) error {
			order = append(order, name)
			return err
		})
	}

	require.NoError(t, MultiReset{step("a", nil), step("b", nil)}.Reset(context.Background(), NewMockTransport()))
	assert.Equal(t, []string{"a", "b"}, order)

	order = nil
	boom := errors.New("boom")
	err := MultiReset{step("a", boom), step("b", nil)}.Reset(context.Background(), NewMockTransport())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a"}, order)
}
