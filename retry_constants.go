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

import "time"

const (
	// DefaultConnectionRetries is the number of attempts to open a serial device.
	DefaultConnectionRetries = 3
	// ConnectionInitialBackoff is the initial delay between connection attempts.
	ConnectionInitialBackoff = 100 * time.Millisecond
	// ConnectionMaxBackoff is the maximum delay between connection attempts.
	ConnectionMaxBackoff = 500 * time.Millisecond
	// ConnectionBackoffMultiplier is the exponential backoff multiplier.
	ConnectionBackoffMultiplier = 2.0
	// ConnectionJitter is the random jitter factor (0.0-1.0).
	ConnectionJitter = 0.1
	// ConnectionRetryTimeout is the overall timeout for all connection attempts.
	ConnectionRetryTimeout = 10 * time.Second
)

const (
	// DefaultConnectTimeout bounds the whole negotiation.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultPollInterval is the longest single wait for a negotiation byte.
	DefaultPollInterval = time.Second
)

const (
	// MaxPageAttempts is the number of transmissions of one page before the
	// transfer is abandoned.
	MaxPageAttempts = 3
	// DefaultResponseTimeout is how long the bootloader may take to erase,
	// write and acknowledge one page.
	DefaultResponseTimeout = 3 * time.Second
)

const (
	// DefaultResetPulse is how long a reset line is held active.
	DefaultResetPulse = 100 * time.Millisecond
	// DefaultResetSettle is the pause after a reset before negotiation starts.
	DefaultResetSettle = 50 * time.Millisecond
)

const (
	// DefaultBaudRate is the MegaLoad default line speed.
	DefaultBaudRate = 38400
	// DefaultPort is the serial device used when none is given.
	DefaultPort = "/dev/ttyUSB0"
)
