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
)

// state is a negotiation state.
type state int

const (
	stateConnect state = iota
	stateSynced3
	stateSynced45
	stateGotDevice
	stateGotFlash
	stateGotBoot
	stateGotPage
	stateGotEEPROM
	stateReady
)

func (s state) String() string {
	switch s {
	case stateConnect:
		return "CONNECT"
	case stateSynced3:
		return "SYNCED3"
	case stateSynced45:
		return "SYNCED45"
	case stateGotDevice:
		return "GOT_DEVICE"
	case stateGotFlash:
		return "GOT_FLASH"
	case stateGotBoot:
		return "GOT_BOOT"
	case stateGotPage:
		return "GOT_PAGE"
	case stateGotEEPROM:
		return "GOT_EEPROM"
	case stateReady:
		return "READY"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// action is the side effect of one transition. The byte that caused the
// transition carries the value for the record actions.
type action int

const (
	actIgnore action = iota
	actSyncV3
	actSyncV4
	actSyncV5
	actDevice
	actFlash
	actBoot
	actPage
	actEEPROM
	actComplete
)

func (a action) String() string {
	switch a {
	case actIgnore:
		return "ignore"
	case actSyncV3:
		return "sync v3"
	case actSyncV4:
		return "sync v4"
	case actSyncV5:
		return "sync v5"
	case actDevice:
		return "device"
	case actFlash:
		return "flash size"
	case actBoot:
		return "boot size"
	case actPage:
		return "page size"
	case actEEPROM:
		return "eeprom size"
	case actComplete:
		return "complete"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// transition is the negotiation table. It has no side effects.
//
//nolint:gocyclo // one case per table row
func transition(s state, c byte) (state, action, error) {
	switch s {
	case stateConnect:
		switch c {
		case frame.SyncAutobaud:
			return stateSynced45, actSyncV4, nil
		case frame.SyncPrompt:
			return stateSynced3, actSyncV3, nil
		default:
			return stateConnect, actIgnore, nil
		}

	case stateSynced3:
		if _, ok := ParseDeviceID(c); ok {
			return stateGotDevice, actDevice, nil
		}
		// line noise before the device ID: start over
		return stateConnect, actIgnore, nil

	case stateSynced45:
		if _, ok := ParseDeviceID(c); ok {
			return stateGotDevice, actDevice, nil
		}
		switch c {
		case frame.SyncAutobaud:
			return stateSynced45, actIgnore, nil
		case frame.SyncPrompt:
			return stateSynced45, actSyncV5, nil
		}

	case stateGotDevice:
		if _, ok := ParseFlashCode(c); ok {
			return stateGotFlash, actFlash, nil
		}

	case stateGotFlash:
		if _, ok := ParseBootCode(c); ok {
			return stateGotBoot, actBoot, nil
		}

	case stateGotBoot:
		if _, ok := ParsePageCode(c); ok {
			return stateGotPage, actPage, nil
		}

	case stateGotPage:
		if _, ok := ParseEEPROMCode(c); ok {
			return stateGotEEPROM, actEEPROM, nil
		}

	case stateGotEEPROM:
		switch c {
		case frame.RespOK:
			return stateReady, actComplete, nil
		case frame.SyncPrompt:
			return stateGotEEPROM, actIgnore, nil
		}

	case stateReady:
	}

	return s, actIgnore, &ProtocolError{Phase: PhaseNegotiation, State: s.String(), Byte: c, Page: -1}
}

// NegotiateOption represents a functional option for Negotiate
type NegotiateOption func(*negotiateConfig) error

// negotiateConfig holds negotiation timing
type negotiateConfig struct {
	idleHook       func()
	connectTimeout time.Duration
	pollInterval   time.Duration
}

// WithConnectTimeout bounds the whole negotiation. Bytes received do not
// extend it.
func WithConnectTimeout(timeout time.Duration) NegotiateOption {
	return func(c *negotiateConfig) error {
		if timeout <= 0 {
			return fmt.Errorf("%w: connect timeout must be positive, got %v", ErrInvalidParameter, timeout)
		}
		c.connectTimeout = timeout
		return nil
	}
}

// WithPollInterval sets the longest single wait for a byte.
func WithPollInterval(interval time.Duration) NegotiateOption {
	return func(c *negotiateConfig) error {
		if interval <= 0 {
			return fmt.Errorf("%w: poll interval must be positive, got %v", ErrInvalidParameter, interval)
		}
		c.pollInterval = interval
		return nil
	}
}

// WithIdleHook sets a function called every time a poll ends without data.
func WithIdleHook(hook func()) NegotiateOption {
	return func(c *negotiateConfig) error {
		c.idleHook = hook
		return nil
	}
}

func applyNegotiateOptions(opts []NegotiateOption) (*negotiateConfig, error) {
	config := &negotiateConfig{
		connectTimeout: DefaultConnectTimeout,
		pollInterval:   DefaultPollInterval,
	}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, fmt.Errorf("failed to apply negotiate option: %w", err)
		}
	}

	return config, nil
}

// negotiator applies transitions to a transport.
type negotiator struct {
	transport Transport
	trace     *TraceBuffer
	profile   *DeviceProfile
	state     state
}

// Negotiate waits for a MegaLoad bootloader on t, answers its sync bytes and
// collects the device profile. The bootloader has to be started (usually by
// resetting the target) before or while Negotiate runs.
//
// It fails with ErrConnectTimeout when the profile is not complete within
// the connect timeout, with a *ProtocolError on an unexpected byte, and with
// the context error when ctx is cancelled.
func Negotiate(ctx context.Context, t Transport, opts ...NegotiateOption) (*DeviceProfile, error) {
	config, err := applyNegotiateOptions(opts)
	if err != nil {
		return nil, err
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, config.connectTimeout)
	defer cancel()

	n := &negotiator{
		transport: t,
		trace:     NewTraceBuffer(string(t.Type()), portName(t), 32),
		profile:   &DeviceProfile{},
		state:     stateConnect,
	}

	for n.state != stateReady {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("negotiation cancelled: %w", err)
		}
		deadline, _ := deadlineCtx.Deadline()
		remaining := time.Until(deadline)
		if deadlineCtx.Err() != nil || remaining <= 0 {
			n.trace.RecordTimeout("connect deadline in " + n.state.String())
			return nil, n.trace.WrapError(fmt.Errorf("%w after %v (state %s)", ErrConnectTimeout, config.connectTimeout, n.state))
		}

		c, ok, err := t.ReadByte(min(config.pollInterval, remaining))
		if err != nil {
			return nil, n.trace.WrapError(fmt.Errorf("negotiation read: %w", err))
		}
		if !ok {
			if config.idleHook != nil {
				config.idleHook()
			}
			continue
		}

		if err := n.step(c); err != nil {
			return nil, n.trace.WrapError(err)
		}
	}

	logger.Debug().
		Stringer("loader", n.profile.LoaderVersion).
		Stringer("device", n.profile.Device).
		Int("flash", n.profile.FlashSize).
		Int("boot", n.profile.BootSize).
		Int("page", n.profile.PageSize).
		Int("eeprom", n.profile.EEPROMSize).
		Msg("bootloader ready")
	return n.profile, nil
}

// step feeds one received byte through the table.
func (n *negotiator) step(c byte) error {
	n.trace.RecordRX([]byte{c}, n.state.String())

	next, act, err := transition(n.state, c)
	if err != nil {
		logger.Debug().Stringer("state", n.state).Str("byte", fmt.Sprintf("0x%02X", c)).Msg("protocol violation")
		return err
	}

	if err := n.apply(act, c); err != nil {
		return err
	}

	if next != n.state || act != actIgnore {
		logger.Debug().
			Stringer("state", n.state).
			Stringer("next", next).
			Stringer("action", act).
			Str("byte", fmt.Sprintf("0x%02X", c)).
			Msg("negotiation")
	}
	n.state = next
	return nil
}

func (n *negotiator) apply(act action, c byte) error {
	switch act {
	case actIgnore, actComplete:
		return nil
	case actSyncV3:
		n.profile.LoaderVersion = LoaderV3
		return n.reply(frame.SyncReply)
	case actSyncV4:
		n.profile.LoaderVersion = LoaderV4
		return n.reply(frame.SyncAutobaud)
	case actSyncV5:
		n.profile.LoaderVersion = LoaderV5
		return n.reply(frame.SyncReply)
	case actDevice:
		n.profile.Device = DeviceID(c)
	case actFlash:
		code, _ := ParseFlashCode(c)
		n.profile.FlashSize = code.Bytes()
	case actBoot:
		code, _ := ParseBootCode(c)
		n.profile.BootSize = code.Bytes()
	case actPage:
		code, _ := ParsePageCode(c)
		n.profile.PageSize = code.Bytes()
	case actEEPROM:
		code, _ := ParseEEPROMCode(c)
		n.profile.EEPROMSize = code.Bytes()
	default:
		return errors.New("unknown negotiation action")
	}
	return nil
}

func (n *negotiator) reply(b byte) error {
	n.trace.RecordTX([]byte{b}, "sync reply")
	if err := n.transport.Write([]byte{b}); err != nil {
		return fmt.Errorf("negotiation reply: %w", err)
	}
	return nil
}
