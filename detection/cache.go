// cngw
// Copyright (c) 2025 The Zaparoo Project Contributors.
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
	"maps"
	"time"

	"github.com/cencepower/cngw/internal/syncutil"
)

// cacheKey separates results by how hard the detector looked. A passive
// listing must never answer for a probe that talked to the device.
type cacheKey struct {
	transport string
	mode      Mode
}

type cacheEntry struct {
	stored  time.Time
	devices []DeviceInfo
}

type detectionCache struct {
	entries map[cacheKey]cacheEntry
	now     func() time.Time
	mu      syncutil.RWMutex
}

var cache = &detectionCache{
	entries: make(map[cacheKey]cacheEntry),
	now:     time.Now,
}

// getCached returns a fresh copy of the results for transport found at mode
// or any deeper mode.
func getCached(transport string, mode Mode, ttl time.Duration) ([]DeviceInfo, bool) {
	cache.mu.RLock()
	defer cache.mu.RUnlock()

	now := cache.now()
	for m := mode; m <= Full; m++ {
		entry, ok := cache.entries[cacheKey{transport: transport, mode: m}]
		if !ok || now.Sub(entry.stored) > ttl {
			continue
		}
		return cloneDevices(entry.devices), true
	}
	return nil, false
}

func setCached(transport string, mode Mode, devices []DeviceInfo) {
	cache.mu.Lock()
	defer cache.mu.Unlock()

	cache.entries[cacheKey{transport: transport, mode: mode}] = cacheEntry{
		devices: cloneDevices(devices),
		stored:  cache.now(),
	}
}

func clearCache() {
	cache.mu.Lock()
	defer cache.mu.Unlock()

	cache.entries = make(map[cacheKey]cacheEntry)
}

// clearCacheForTransport drops every mode's entry for transport.
func clearCacheForTransport(transport string) {
	cache.mu.Lock()
	defer cache.mu.Unlock()

	for key := range cache.entries {
		if key.transport == transport {
			delete(cache.entries, key)
		}
	}
}

// cloneDevices copies metadata maps too; callers annotate them freely.
func cloneDevices(devices []DeviceInfo) []DeviceInfo {
	out := make([]DeviceInfo, len(devices))
	for i, d := range devices {
		d.Metadata = maps.Clone(d.Metadata)
		out[i] = d
	}
	return out
}
