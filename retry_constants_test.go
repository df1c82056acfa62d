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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestRetryConstants_ConnectionValues verifies serial open retry constants
// are within reasonable bounds.
func TestRetryConstants_ConnectionValues(t *testing.T) {
	t.Parallel()

	assert.GreaterOrEqual(t, DefaultConnectionRetries, 1)
	assert.LessOrEqual(t, DefaultConnectionRetries, 10)

	assert.GreaterOrEqual(t, ConnectionInitialBackoff, 50*time.Millisecond)
	assert.LessOrEqual(t, ConnectionInitialBackoff, 500*time.Millisecond)
	assert.Greater(t, ConnectionMaxBackoff, ConnectionInitialBackoff)

	assert.GreaterOrEqual(t, ConnectionBackoffMultiplier, 1.5)
	assert.LessOrEqual(t, ConnectionBackoffMultiplier, 3.0)

	assert.GreaterOrEqual(t, ConnectionJitter, 0.0)
	assert.LessOrEqual(t, ConnectionJitter, 0.5)

	minExpectedTimeout := time.Duration(DefaultConnectionRetries) * ConnectionInitialBackoff
	assert.Greater(t, ConnectionRetryTimeout, minExpectedTimeout)
}

// TestRetryConstants_Protocol pins the values MegaLoad host tools have always
// used. Bootloaders in the field depend on them.
func TestRetryConstants_Protocol(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 3, MaxPageAttempts)
	assert.Equal(t, 3*time.Second, DefaultResponseTimeout)
	assert.Equal(t, 10*time.Second, DefaultConnectTimeout)
	assert.Equal(t, time.Second, DefaultPollInterval)
	assert.LessOrEqual(t, DefaultPollInterval, DefaultConnectTimeout)
	assert.Equal(t, 38400, DefaultBaudRate)
	assert.Equal(t, "/dev/ttyUSB0", DefaultPort)
}
