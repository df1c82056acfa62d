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

package gpio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"

	"github.com/ZaparooProject/go-megaload"
)

type fakeLine struct {
	err    error
	failAt int
	levels []gpio.Level
	times  []time.Time
}

func (f *fakeLine) Out(l gpio.Level) error {
	if f.err != nil && len(f.levels) == f.failAt {
		return f.err
	}
	f.levels = append(f.levels, l)
	f.times = append(f.times, time.Now())
	return nil
}

func TestReset_PulseLevels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts []Option
		want []gpio.Level
	}{
		{
			name: "active low",
			want: []gpio.Level{gpio.High, gpio.Low, gpio.High},
		},
		{
			name: "active high",
			opts: []Option{WithActiveHigh()},
			want: []gpio.Level{gpio.Low, gpio.High, gpio.Low},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			line := &fakeLine{}
			opts := append([]Option{WithPulse(time.Millisecond), WithSettle(0)}, tt.opts...)
			r, err := NewWithLine(line, "GPIO17", opts...)
			require.NoError(t, err)

			require.NoError(t, r.Reset(context.Background(), nil))
			assert.Equal(t, tt.want, line.levels)
			assert.Equal(t, "GPIO17", r.Name())
		})
	}
}

func TestReset_Timing(t *testing.T) {
	t.Parallel()

	line := &fakeLine{}
	r, err := NewWithLine(line, "GPIO4", WithPulse(20*time.Millisecond), WithSettle(10*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, r.Reset(context.Background(), megaload.NewMockTransport()))

	require.Len(t, line.times, 3)
	assert.GreaterOrEqual(t, line.times[2].Sub(line.times[1]), 20*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestReset_CancelReleasesLine(t *testing.T) {
	t.Parallel()

	line := &fakeLine{}
	r, err := NewWithLine(line, "GPIO4", WithPulse(time.Second))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err = r.Reset(ctx, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []gpio.Level{gpio.High, gpio.Low, gpio.High}, line.levels)
}

func TestReset_LineErrors(t *testing.T) {
	t.Parallel()

	errLine := errors.New("pin busy")

	tests := []struct {
		name   string
		failAt int
		atNew  bool
	}{
		{name: "park", failAt: 0, atNew: true},
		{name: "assert", failAt: 1},
		{name: "release", failAt: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			line := &fakeLine{err: errLine, failAt: tt.failAt}
			r, err := NewWithLine(line, "GPIO4", WithPulse(time.Millisecond), WithSettle(0))
			if tt.atNew {
				require.ErrorIs(t, err, errLine)
				return
			}
			require.NoError(t, err)

			err = r.Reset(context.Background(), nil)
			require.ErrorIs(t, err, errLine)
			assert.Contains(t, err.Error(), "gpio GPIO4")
		})
	}
}

func TestOptions_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opt  Option
	}{
		{name: "zero pulse", opt: WithPulse(0)},
		{name: "negative settle", opt: WithSettle(-time.Millisecond)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewWithLine(&fakeLine{}, "GPIO4", tt.opt)
			require.ErrorIs(t, err, megaload.ErrInvalidParameter)
		})
	}
}

func TestOptions_Defaults(t *testing.T) {
	t.Parallel()

	c, err := applyOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, megaload.DefaultResetPulse, c.pulse)
	assert.Equal(t, megaload.DefaultResetSettle, c.settle)
	assert.False(t, c.activeHigh)
}

func TestNew_UnknownPin(t *testing.T) {
	t.Parallel()

	_, err := New("NO_SUCH_PIN_42")
	require.Error(t, err)
}
