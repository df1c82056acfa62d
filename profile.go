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
	"fmt"
	"strconv"
)

// LoaderVersion is the MegaLoad protocol dialect discovered during
// negotiation.
type LoaderVersion int

const (
	LoaderUnknown LoaderVersion = 0
	LoaderV3      LoaderVersion = 3
	LoaderV4      LoaderVersion = 4
	LoaderV5      LoaderVersion = 5
)

func (v LoaderVersion) String() string {
	if v == LoaderUnknown {
		return "unknown"
	}
	return fmt.Sprintf("MegaLoad v%d", int(v))
}

// DeviceID identifies the target microcontroller.
type DeviceID byte

// Device IDs reported by the bootloader
const (
	DeviceATmega8    DeviceID = 0x41
	DeviceATmega16   DeviceID = 0x42
	DeviceATmega64   DeviceID = 0x43
	DeviceATmega128  DeviceID = 0x44
	DeviceATmega32   DeviceID = 0x45
	DeviceATmega162  DeviceID = 0x46
	DeviceATmega169  DeviceID = 0x47
	DeviceATmega8515 DeviceID = 0x48
	DeviceATmega8535 DeviceID = 0x49
	DeviceATmega163  DeviceID = 0x4A
	DeviceATmega323  DeviceID = 0x4B
	DeviceATmega48   DeviceID = 0x4C
	DeviceATmega88   DeviceID = 0x4D
	DeviceATmega168  DeviceID = 0x4E
	DeviceATtiny2313 DeviceID = 0x4F
	DeviceATtiny13   DeviceID = 0x50
	DeviceATmega165  DeviceID = 0x80
	DeviceATmega3250 DeviceID = 0x81
	DeviceATmega6450 DeviceID = 0x82
	DeviceATmega3290 DeviceID = 0x83
	DeviceATmega6490 DeviceID = 0x84
	DeviceATmega406  DeviceID = 0x85
	DeviceATmega640  DeviceID = 0x86
	DeviceATmega1280 DeviceID = 0x87
	DeviceATmega2560 DeviceID = 0x88
)

var deviceNames = map[DeviceID]string{
	DeviceATmega8:    "ATmega8",
	DeviceATmega16:   "ATmega16",
	DeviceATmega64:   "ATmega64",
	DeviceATmega128:  "ATmega128",
	DeviceATmega32:   "ATmega32",
	DeviceATmega162:  "ATmega162",
	DeviceATmega169:  "ATmega169",
	DeviceATmega8515: "ATmega8515",
	DeviceATmega8535: "ATmega8535",
	DeviceATmega163:  "ATmega163",
	DeviceATmega323:  "ATmega323",
	DeviceATmega48:   "ATmega48",
	DeviceATmega88:   "ATmega88",
	DeviceATmega168:  "ATmega168",
	DeviceATtiny2313: "ATtiny2313",
	DeviceATtiny13:   "ATtiny13",
	DeviceATmega165:  "ATmega165",
	DeviceATmega3250: "ATmega3250",
	DeviceATmega6450: "ATmega6450",
	DeviceATmega3290: "ATmega3290",
	DeviceATmega6490: "ATmega6490",
	DeviceATmega406:  "ATmega406",
	DeviceATmega640:  "ATmega640",
	DeviceATmega1280: "ATmega1280",
	DeviceATmega2560: "ATmega2560",
}

// ParseDeviceID decodes a device ID byte.
func ParseDeviceID(b byte) (DeviceID, bool) {
	_, ok := deviceNames[DeviceID(b)]
	return DeviceID(b), ok
}

// Code returns the wire byte.
func (d DeviceID) Code() byte { return byte(d) }

func (d DeviceID) String() string {
	if name, ok := deviceNames[d]; ok {
		return name
	}
	return fmt.Sprintf("DeviceID(0x%02X)", byte(d))
}

// FlashCode encodes the total flash size.
type FlashCode byte

const (
	Flash1K   FlashCode = 0x67
	Flash2K   FlashCode = 0x68
	Flash4K   FlashCode = 0x69
	Flash8K   FlashCode = 0x6C
	Flash16K  FlashCode = 0x6D
	Flash32K  FlashCode = 0x6E
	Flash64K  FlashCode = 0x6F
	Flash128K FlashCode = 0x70
	Flash256K FlashCode = 0x71
	Flash40K  FlashCode = 0x72
)

var flashSizes = map[FlashCode]int{
	Flash1K:   1 << 10,
	Flash2K:   2 << 10,
	Flash4K:   4 << 10,
	Flash8K:   8 << 10,
	Flash16K:  16 << 10,
	Flash32K:  32 << 10,
	Flash64K:  64 << 10,
	Flash128K: 128 << 10,
	Flash256K: 256 << 10,
	Flash40K:  40 << 10,
}

// ParseFlashCode decodes a flash size byte.
func ParseFlashCode(b byte) (FlashCode, bool) {
	_, ok := flashSizes[FlashCode(b)]
	return FlashCode(b), ok
}

// Code returns the wire byte.
func (c FlashCode) Code() byte { return byte(c) }

// Bytes returns the flash size in bytes, or 0 for an unknown code.
func (c FlashCode) Bytes() int { return flashSizes[c] }

func (c FlashCode) String() string { return sizeString("FlashCode", byte(c), c.Bytes()) }

// BootCode encodes the bootloader section size. The bootloader reports it
// in 16-bit words.
type BootCode byte

const (
	Boot128W  BootCode = 0x61
	Boot256W  BootCode = 0x62
	Boot512W  BootCode = 0x63
	Boot1024W BootCode = 0x64
	Boot2048W BootCode = 0x65
	Boot4096W BootCode = 0x66
)

var bootWords = map[BootCode]int{
	Boot128W:  128,
	Boot256W:  256,
	Boot512W:  512,
	Boot1024W: 1024,
	Boot2048W: 2048,
	Boot4096W: 4096,
}

// ParseBootCode decodes a boot size byte.
func ParseBootCode(b byte) (BootCode, bool) {
	_, ok := bootWords[BootCode(b)]
	return BootCode(b), ok
}

// Code returns the wire byte.
func (c BootCode) Code() byte { return byte(c) }

// Words returns the boot section size in words.
func (c BootCode) Words() int { return bootWords[c] }

// Bytes returns the boot section size in bytes.
func (c BootCode) Bytes() int { return 2 * bootWords[c] }

func (c BootCode) String() string { return sizeString("BootCode", byte(c), c.Bytes()) }

// PageCode encodes the flash page size.
type PageCode byte

const (
	Page32  PageCode = 0x51
	Page64  PageCode = 0x52
	Page128 PageCode = 0x53
	Page256 PageCode = 0x54
	Page512 PageCode = 0x56

	// page512Legacy is how MegaLoad v3 reports 512 byte pages
	page512Legacy byte = 0x55
)

var pageSizes = map[PageCode]int{
	Page32:  32,
	Page64:  64,
	Page128: 128,
	Page256: 256,
	Page512: 512,
}

// ParsePageCode decodes a page size byte. The legacy code 0x55 decodes to
// Page512.
func ParsePageCode(b byte) (PageCode, bool) {
	if b == page512Legacy {
		return Page512, true
	}
	_, ok := pageSizes[PageCode(b)]
	return PageCode(b), ok
}

// Code returns the wire byte.
func (c PageCode) Code() byte { return byte(c) }

// Bytes returns the page size in bytes.
func (c PageCode) Bytes() int { return pageSizes[c] }

func (c PageCode) String() string { return sizeString("PageCode", byte(c), c.Bytes()) }

// EEPROMCode encodes the EEPROM size.
type EEPROMCode byte

const (
	EEPROM64  EEPROMCode = 0x2E
	EEPROM128 EEPROMCode = 0x2F
	EEPROM256 EEPROMCode = 0x30
	EEPROM512 EEPROMCode = 0x31
	EEPROM1K  EEPROMCode = 0x32
	EEPROM2K  EEPROMCode = 0x33
	EEPROM4K  EEPROMCode = 0x34
)

var eepromSizes = map[EEPROMCode]int{
	EEPROM64:  64,
	EEPROM128: 128,
	EEPROM256: 256,
	EEPROM512: 512,
	EEPROM1K:  1 << 10,
	EEPROM2K:  2 << 10,
	EEPROM4K:  4 << 10,
}

// ParseEEPROMCode decodes an EEPROM size byte.
func ParseEEPROMCode(b byte) (EEPROMCode, bool) {
	_, ok := eepromSizes[EEPROMCode(b)]
	return EEPROMCode(b), ok
}

// Code returns the wire byte.
func (c EEPROMCode) Code() byte { return byte(c) }

// Bytes returns the EEPROM size in bytes.
func (c EEPROMCode) Bytes() int { return eepromSizes[c] }

func (c EEPROMCode) String() string { return sizeString("EEPROMCode", byte(c), c.Bytes()) }

func sizeString(kind string, code byte, size int) string {
	if size == 0 {
		return fmt.Sprintf("%s(0x%02X)", kind, code)
	}
	if size >= 1<<10 && size%(1<<10) == 0 {
		return fmt.Sprintf("%dK", size>>10)
	}
	return strconv.Itoa(size)
}

// DeviceProfile is the target geometry learned from the bootloader.
// Sizes are in bytes.
type DeviceProfile struct {
	LoaderVersion LoaderVersion
	Device        DeviceID
	FlashSize     int
	BootSize      int
	PageSize      int
	EEPROMSize    int
}

// WritablePages returns the number of pages below the bootloader section.
func (p *DeviceProfile) WritablePages() int {
	if p.PageSize <= 0 {
		return 0
	}
	return (p.FlashSize - p.BootSize) / p.PageSize
}

// ApplicationSize returns the number of flash bytes available to the image.
func (p *DeviceProfile) ApplicationSize() int {
	return p.FlashSize - p.BootSize
}

func (p *DeviceProfile) String() string {
	return fmt.Sprintf("%s on %s: flash %d, boot %d, page %d, eeprom %d",
		p.LoaderVersion, p.Device, p.FlashSize, p.BootSize, p.PageSize, p.EEPROMSize)
}

// DryRunProfile is used when no device is attached: an ATmega32 with a
// 1024 byte boot section.
func DryRunProfile() *DeviceProfile {
	return &DeviceProfile{
		LoaderVersion: LoaderUnknown,
		Device:        DeviceATmega32,
		FlashSize:     32768,
		BootSize:      1024,
		PageSize:      128,
		EEPROMSize:    1024,
	}
}
