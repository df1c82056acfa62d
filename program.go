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

package megaload

import (
	"context"
	"fmt"

	"github.com/ZaparooProject/go-megaload/pkg/ihex"
)

// Result describes a completed programming run.
type Result struct {
	Profile *DeviceProfile
	Stats   *TransferStats
}

// ProgramOption represents a functional option for Program
type ProgramOption func(*programConfig) error

// programConfig holds the settings of one programming run
type programConfig struct {
	resetter     Resetter
	profile      *DeviceProfile
	profileHook  func(*DeviceProfile)
	negotiateOps []NegotiateOption
	transferOps  []TransferOption
}

// WithResetter sets how the target is restarted before negotiation.
func WithResetter(r Resetter) ProgramOption {
	return func(c *programConfig) error {
		c.resetter = r
		return nil
	}
}

// WithProfile skips negotiation and writes pages for the given profile.
// Used for dry runs against the dump transport.
func WithProfile(p *DeviceProfile) ProgramOption {
	return func(c *programConfig) error {
		if p == nil {
			return fmt.Errorf("%w: nil profile", ErrInvalidParameter)
		}
		c.profile = p
		return nil
	}
}

// WithProfileHook sets a function called once the profile is known, before
// any page is sent.
func WithProfileHook(fn func(*DeviceProfile)) ProgramOption {
	return func(c *programConfig) error {
		c.profileHook = fn
		return nil
	}
}

// WithNegotiateOptions passes options through to Negotiate.
func WithNegotiateOptions(opts ...NegotiateOption) ProgramOption {
	return func(c *programConfig) error {
		c.negotiateOps = append(c.negotiateOps, opts...)
		return nil
	}
}

// WithTransferOptions passes options through to WriteFlash.
func WithTransferOptions(opts ...TransferOption) ProgramOption {
	return func(c *programConfig) error {
		c.transferOps = append(c.transferOps, opts...)
		return nil
	}
}

func applyProgramOptions(opts []ProgramOption) (*programConfig, error) {
	config := &programConfig{}
	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, fmt.Errorf("failed to apply program option: %w", err)
		}
	}
	return config, nil
}

// Program runs a whole session on t: reset, negotiation, then the flash
// write. An empty image is rejected before any byte is sent. ctx bounds the
// reset and negotiation; the flash write runs to completion or failure.
//
// Example usage:
//
//	img, err := ihex.DecodeFile("blink.hex")
//	...
//	res, err := megaload.Program(ctx, port, img,
//		megaload.WithResetter(megaload.DTRReset{}),
//		megaload.WithNegotiateOptions(megaload.WithConnectTimeout(10*time.Second)))
func Program(ctx context.Context, t Transport, img *ihex.Image, opts ...ProgramOption) (*Result, error) {
	config, err := applyProgramOptions(opts)
	if err != nil {
		return nil, err
	}
	if img.Empty() {
		return nil, ErrEmptyImage
	}
	for _, w := range img.Warnings {
		logger.Warn().Int("line", w.Line).Msg(w.Error())
	}

	if config.resetter != nil {
		if err := config.resetter.Reset(ctx, t); err != nil {
			return nil, fmt.Errorf("failed to reset target: %w", err)
		}
	}

	profile := config.profile
	if profile == nil {
		profile, err = Negotiate(ctx, t, config.negotiateOps...)
		if err != nil {
			return nil, err
		}
	}
	if config.profileHook != nil {
		config.profileHook(profile)
	}

	stats, err := WriteFlash(t, profile, img, config.transferOps...)
	if err != nil {
		return nil, err
	}
	return &Result{Profile: profile, Stats: stats}, nil
}
