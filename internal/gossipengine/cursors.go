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

import (
	"encoding/json"
	"os"
	"sync"

	"tacticalmesh/internal/errs"
	"tacticalmesh/internal/vectorclock"
)

// cursorStore persists the last seq acknowledged by each peer on pull, so
// anti-entropy resumes from where it left off across restarts rather than
// replaying the whole log. Deleting the file is safe: it just forces a
// full re-replay.
type cursorStore struct {
	mu      sync.Mutex
	path    string
	cursors map[vectorclock.NodeId]uint64
}

func loadCursorStore(path string) (*cursorStore, error) {
	c := &cursorStore{path: path, cursors: make(map[vectorclock.NodeId]uint64)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, errs.WALCorrupted(err.Error()).WithCause(err).WithDetail("cursor file " + path)
	}
	if len(data) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(data, &c.cursors); err != nil {
		return nil, errs.WALCorrupted(err.Error()).WithCause(err).WithDetail("cursor file " + path)
	}
	return c, nil
}

func (c *cursorStore) Get(id vectorclock.NodeId) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursors[id]
}

func (c *cursorStore) Set(id vectorclock.NodeId, seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursors[id] = seq
}

func (c *cursorStore) Delete(id vectorclock.NodeId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cursors, id)
}

// Persist writes the cursor map atomically: write-temp-then-rename, so a
// crash mid-write never leaves a half-written cursor file behind.
func (c *cursorStore) Persist() error {
	c.mu.Lock()
	data, err := json.Marshal(c.cursors)
	c.mu.Unlock()
	if err != nil {
		return errs.WALCorrupted(err.Error()).WithCause(err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.WALCorrupted(err.Error()).WithCause(err).WithDetail("cursor file " + tmp)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return errs.WALCorrupted(err.Error()).WithCause(err).WithDetail("rename cursor file")
	}
	return nil
}
