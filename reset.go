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
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Resetter restarts the target so its bootloader runs. A reset is a one-way
// side effect: success means the request was issued, not that the target
// restarted.
type Resetter interface {
	Reset(ctx context.Context, t Transport) error
}

// ResetFunc adapts a function to Resetter.
type ResetFunc func(ctx context.Context, t Transport) error

// Reset calls f.
func (f ResetFunc) Reset(ctx context.Context, t Transport) error {
	return f(ctx, t)
}

// SequenceReset writes raw bytes to the transport, typically a command the
// running application understands as "reboot into the bootloader".
type SequenceReset []byte

// Reset writes the sequence.
func (s SequenceReset) Reset(_ context.Context, t Transport) error {
	if len(s) == 0 {
		return nil
	}
	logger.Debug().Int("bytes", len(s)).Msg("sending reset sequence")
	if err := t.Write(s); err != nil {
		return fmt.Errorf("reset sequence: %w", err)
	}
	return nil
}

// DTRReset pulses the DTR line, the way auto-reset circuits on USB serial
// boards expect.
type DTRReset struct {
	Pulse  time.Duration // time DTR is held active, DefaultResetPulse if zero
	Settle time.Duration // pause after release, DefaultResetSettle if zero
}

// Reset pulses DTR. The transport must implement ModemControl.
func (r DTRReset) Reset(ctx context.Context, t Transport) error {
	mc, ok := t.(ModemControl)
	if !ok {
		return fmt.Errorf("dtr reset on %s transport: %w", t.Type(), ErrNoModemControl)
	}

	pulse := r.Pulse
	if pulse <= 0 {
		pulse = DefaultResetPulse
	}
	settle := r.Settle
	if settle <= 0 {
		settle = DefaultResetSettle
	}

	logger.Debug().Dur("pulse", pulse).Msg("pulsing DTR")
	if err := mc.SetDTR(true); err != nil {
		return fmt.Errorf("dtr reset: %w", err)
	}
	if err := sleepCtx(ctx, pulse); err != nil {
		_ = mc.SetDTR(false)
		return err
	}
	if err := mc.SetDTR(false); err != nil {
		return fmt.Errorf("dtr reset: %w", err)
	}
	return sleepCtx(ctx, settle)
}

// MultiReset runs resetters in order and stops at the first error.
type MultiReset []Resetter

// Reset runs every resetter.
func (m MultiReset) Reset(ctx context.Context, t Transport) error {
	for _, r := range m {
		if err := r.Reset(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// ParseResetSequence decodes a string with C-style escapes (\n, \r, \t,
// \xHH, \0, octal) into raw bytes.
func ParseResetSequence(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	rest := s
	for rest != "" {
		if strings.HasPrefix(rest, `\0`) && (len(rest) == 2 || !isOctalDigit(rest[2])) {
			out = append(out, 0)
			rest = rest[2:]
			continue
		}
		r, multibyte, tail, err := strconv.UnquoteChar(rest, 0)
		if err != nil {
			return nil, fmt.Errorf("%w: reset sequence %q: %w", ErrInvalidParameter, s, err)
		}
		if multibyte {
			out = utf8.AppendRune(out, r)
		} else {
			out = append(out, byte(r))
		}
		rest = tail
	}
	return out, nil
}

func isOctalDigit(c byte) bool {
	return c >= '0' && c <= '7'
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("reset interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
