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

// Package detection lists the serial ports a MegaLoad target may be attached
// to. It ranks USB serial bridges commonly found on AVR boards first, and
// honours a VID:PID blocklist and a list of ignored paths.
package detection

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.bug.st/serial/enumerator"
)

// Confidence represents how likely a port leads to a MegaLoad target
type Confidence int

const (
	// Low confidence - not a USB port (built-in UART, Bluetooth, pty)
	Low Confidence = iota
	// Medium confidence - an unrecognised USB serial device
	Medium
	// High confidence - a USB serial bridge known from AVR boards
	High
)

func (c Confidence) String() string {
	switch c {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return "unknown"
	}
}

// PortInfo describes a serial port
type PortInfo struct {
	// Device path (e.g., "/dev/ttyUSB0", "COM3")
	Path string
	// USB VID:PID in upper case hexadecimal, empty for non-USB ports
	VIDPID string
	// USB product string, if reported
	Product string
	// USB serial number, if reported
	SerialNumber string
	// Whether the port is a USB device
	IsUSB bool
	// How likely the port leads to a target
	Confidence Confidence
}

// String returns a human-readable representation of the port
func (p PortInfo) String() string {
	var b strings.Builder
	b.WriteString(p.Path)
	if p.VIDPID != "" {
		fmt.Fprintf(&b, " [%s]", p.VIDPID)
	}
	if p.Product != "" {
		fmt.Fprintf(&b, " %s", p.Product)
	}
	if p.SerialNumber != "" {
		fmt.Fprintf(&b, " (serial %s)", p.SerialNumber)
	}
	return b.String()
}

// Options configures port listing
type Options struct {
	// USB VID:PID pairs to skip (e.g., ["1234:5678", "ABCD:EF01"])
	Blocklist []string
	// Device paths to explicitly ignore (e.g., ["/dev/ttyUSB0", "COM2"])
	IgnorePaths []string
	// Cache TTL duration
	CacheTTL time.Duration
	// List non-USB ports too
	IncludeNonUSB bool
	// Enable result caching
	EnableCache bool
}

// DefaultOptions returns sensible default listing options: USB ports only,
// the default blocklist, and a short cache.
func DefaultOptions() Options {
	return Options{
		Blocklist:   DefaultBlocklist(),
		EnableCache: true,
		CacheTTL:    5 * time.Second,
	}
}

// ErrNoPortsFound indicates no serial port passed the filters
var ErrNoPortsFound = errors.New("no serial ports found")

// Lister enumerates serial ports. enumerator.GetDetailedPortsList is the
// system lister.
type Lister func() ([]*enumerator.PortDetails, error)

// ListPorts lists the serial ports of this system, most likely targets first.
func ListPorts(opts Options) ([]PortInfo, error) {
	return ListPortsWith(enumerator.GetDetailedPortsList, opts)
}

// ListPortsWith lists the ports reported by lister.
func ListPortsWith(lister Lister, opts Options) ([]PortInfo, error) {
	ports, ok := getCached(opts)
	if !ok {
		details, err := lister()
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
		}
		ports = make([]PortInfo, 0, len(details))
		for _, d := range details {
			if d == nil || d.Name == "" {
				continue
			}
			ports = append(ports, newPortInfo(d))
		}
		if opts.EnableCache {
			setCached(ports)
		}
	}

	filtered := filterPorts(ports, &opts)
	if len(filtered) == 0 {
		return nil, ErrNoPortsFound
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Confidence != filtered[j].Confidence {
			return filtered[i].Confidence > filtered[j].Confidence
		}
		return filtered[i].Path < filtered[j].Path
	})
	return filtered, nil
}

func newPortInfo(d *enumerator.PortDetails) PortInfo {
	port := PortInfo{
		Path:         d.Name,
		Product:      d.Product,
		SerialNumber: d.SerialNumber,
		IsUSB:        d.IsUSB,
	}
	if d.IsUSB && d.VID != "" && d.PID != "" {
		port.VIDPID = strings.ToUpper(d.VID + ":" + d.PID)
	}

	switch {
	case !d.IsUSB:
		port.Confidence = Low
	case isKnownBridge(port.VIDPID):
		port.Confidence = High
	default:
		port.Confidence = Medium
	}
	return port
}

// filterPorts applies the USB, IgnorePaths and Blocklist filters.
func filterPorts(ports []PortInfo, opts *Options) []PortInfo {
	var filtered []PortInfo
	for _, port := range ports {
		if !port.IsUSB && !opts.IncludeNonUSB {
			continue
		}
		if IsPathIgnored(port.Path, opts.IgnorePaths) {
			continue
		}
		if port.VIDPID != "" && IsBlocked(port.VIDPID, opts.Blocklist) {
			continue
		}
		filtered = append(filtered, port)
	}
	return filtered
}

// knownBridges are USB serial bridges fitted to AVR development boards and
// programming cables.
var knownBridges = []string{
	"0403:6001", // FTDI FT232R
	"0403:6015", // FTDI FT231X
	"067B:2303", // Prolific PL2303
	"10C4:EA60", // Silicon Labs CP210x
	"1A86:7523", // QinHeng CH340
	"1A86:55D4", // QinHeng CH9102
	"2341:0043", // Arduino Uno (16U2)
	"2341:0001", // Arduino Uno (8U2)
}

func isKnownBridge(vidpid string) bool {
	for _, known := range knownBridges {
		if vidpid == known {
			return true
		}
	}
	return false
}

// ClearCache removes the cached port list
func ClearCache() {
	clearCache()
}
