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

package detection

import (
	"time"

	"github.com/ZaparooProject/go-megaload/internal/syncutil"
)

// portCache holds the last enumeration.
type portCache struct {
	timestamp time.Time
	ports     []PortInfo
	mu        syncutil.RWMutex
	valid     bool
}

// global cache instance.
var cache = &portCache{}

// getCached returns the cached ports if caching is enabled and the entry
// has not expired
func getCached(opts Options) ([]PortInfo, bool) {
	if !opts.EnableCache {
		return nil, false
	}

	cache.mu.RLock()
	defer cache.mu.RUnlock()

	if !cache.valid || time.Since(cache.timestamp) > opts.CacheTTL {
		return nil, false
	}

	// Return a copy to prevent modification
	ports := make([]PortInfo, len(cache.ports))
	copy(ports, cache.ports)
	return ports, true
}

// setCached stores an enumeration
func setCached(ports []PortInfo) {
	cache.mu.Lock()
	defer cache.mu.Unlock()

	cache.ports = make([]PortInfo, len(ports))
	copy(cache.ports, ports)
	cache.timestamp = time.Now()
	cache.valid = true
}

// clearCache drops the cached enumeration
func clearCache() {
	cache.mu.Lock()
	defer cache.mu.Unlock()

	cache.ports = nil
	cache.valid = false
}
