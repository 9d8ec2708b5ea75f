// cngw
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of cngw.
//
// cngw is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// cngw is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with cngw; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package detection

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// EnvBlocklist extends the default blocklist with comma-separated VID:PID
// entries. A PID of "*" blocks every product of that vendor.
const EnvBlocklist = "CNGW_DETECT_BLOCKLIST"

// DefaultBlocklist returns USB devices that must never be opened during
// detection, followed by any entries from EnvBlocklist.
func DefaultBlocklist() []string {
	list := []string{
		"1366:0105", // SEGGER J-Link CDC, resets the target when its port opens
		"0483:374B", // ST-LINK V2-1 virtual COM port on the mainboard debug header
	}
	for _, entry := range strings.Split(os.Getenv(EnvBlocklist), ",") {
		entry = strings.ToUpper(strings.TrimSpace(entry))
		if vid, ok := strings.CutSuffix(entry, ":*"); ok && hexID(vid) != "" {
			list = append(list, hexID(vid)+":*")
			continue
		}
		if id := ParseVIDPID(entry); id != "" {
			list = append(list, id)
		}
	}
	return list
}

// IsBlocked reports whether vidpid matches a blocklist entry.
func IsBlocked(vidpid string, blocklist []string) bool {
	vid, pid, ok := strings.Cut(strings.ToUpper(strings.TrimSpace(vidpid)), ":")
	if !ok {
		return false
	}
	for _, entry := range blocklist {
		bvid, bpid, ok := strings.Cut(strings.ToUpper(strings.TrimSpace(entry)), ":")
		if ok && bvid == vid && (bpid == "*" || bpid == pid) {
			return true
		}
	}
	return false
}

// descriptorKeys are the vendor/product key pairs found in USB descriptors
// printed by udev, lsusb, Windows hardware IDs and vendor tools.
var descriptorKeys = [...][2]string{
	{"VID_", "PID_"},
	{"VID:", "PID:"},
	{"VID=", "PID="},
	{"VENDOR=", "PRODUCT="},
	{"ID_VENDOR_ID=", "ID_MODEL_ID="},
}

// ParseVIDPID extracts a normalized "VVVV:PPPP" from a USB descriptor, or
// returns "" when the descriptor carries no usable ids.
func ParseVIDPID(descriptor string) string {
	descriptor = strings.ToUpper(strings.TrimSpace(descriptor))

	for _, keys := range descriptorKeys {
		vi := strings.Index(descriptor, keys[0])
		pi := strings.Index(descriptor, keys[1])
		if vi < 0 || pi < 0 {
			continue
		}
		vid := hexID(leadingHex(descriptor[vi+len(keys[0]):]))
		pid := hexID(leadingHex(descriptor[pi+len(keys[1]):]))
		if vid != "" && pid != "" {
			return vid + ":" + pid
		}
	}

	if vid, pid, ok := strings.Cut(descriptor, ":"); ok {
		if v, p := hexID(vid), hexID(pid); v != "" && p != "" {
			return v + ":" + p
		}
	}
	return ""
}

func leadingHex(s string) string {
	end := strings.IndexFunc(s, func(r rune) bool {
		return (r < '0' || r > '9') && (r < 'A' || r > 'F')
	})
	if end < 0 {
		return s
	}
	return s[:end]
}

// hexID validates a 16-bit USB id and renders it as four upper-case digits.
func hexID(s string) string {
	if s == "" || len(s) > 4 {
		return ""
	}
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%04X", v)
}

// IsPathIgnored reports whether devicePath matches an ignore entry. Entries
// are compared after cleaning and case folding and may be glob patterns
// such as "/dev/ttyUSB*".
func IsPathIgnored(devicePath string, ignorePaths []string) bool {
	if devicePath == "" {
		return false
	}
	device := normalizedPath(devicePath)

	for _, ignore := range ignorePaths {
		if ignore == "" {
			continue
		}
		pattern := normalizedPath(ignore)
		if device == pattern {
			return true
		}
		if matched, err := filepath.Match(pattern, device); err == nil && matched {
			return true
		}
	}
	return false
}

func normalizedPath(path string) string {
	return strings.ToLower(filepath.Clean(path))
}
