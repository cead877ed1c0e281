/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package gossipengine

import "sync"

// dedupCache is a bounded FIFO set of message fingerprints. Exact
// uniqueness of (sender, ts) pairs is not required; the cache only needs
// to stop re-flood storms, so eviction on overflow is acceptable.
type dedupCache struct {
	mu       sync.Mutex
	set      map[string]struct{}
	order    []string
	capacity int
}

func newDedupCache(capacity int) *dedupCache {
	return &dedupCache{
		set:      make(map[string]struct{}, capacity),
		order:    make([]string, 0, capacity),
		capacity: capacity,
	}
}

// seenOrAdd reports whether key was already present. If not, it is added
// and, if the cache is now over capacity, the oldest entry is evicted.
func (d *dedupCache) seenOrAdd(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.set[key]; ok {
		return true
	}
	if len(d.order) >= d.capacity {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.set, oldest)
	}
	d.set[key] = struct{}{}
	d.order = append(d.order, key)
	return false
}
