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

package trust

import (
	"encoding/json"
	"os"
	"sync"

	"tacticalmesh/internal/errs"
	"tacticalmesh/internal/vectorclock"
)

// Registry is the in-memory whitelist mapping NodeId to public identity
// key. It is loaded once from the trust file at boot and mutated only by
// revocation — never rewritten back to disk.
type Registry struct {
	mu      sync.RWMutex
	entries map[vectorclock.NodeId]PublicKey
}

// LoadRegistry reads a trust file: a JSON object mapping NodeId to the
// base64 text form of that node's public key.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.MalformedTrustFile(path, err)
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errs.MalformedTrustFile(path, err)
	}

	entries := make(map[vectorclock.NodeId]PublicKey, len(raw))
	for id, encoded := range raw {
		key, err := ParsePublicKey(encoded)
		if err != nil {
			return nil, errs.MalformedTrustFile(path, err).WithDetail("entry " + id)
		}
		entries[vectorclock.NodeId(id)] = key
	}

	return &Registry{entries: entries}, nil
}

// NewRegistry builds a registry directly from a set of entries, useful
// in tests.
func NewRegistry(entries map[vectorclock.NodeId]PublicKey) *Registry {
	cp := make(map[vectorclock.NodeId]PublicKey, len(entries))
	for k, v := range entries {
		cp[k] = v
	}
	return &Registry{entries: cp}
}

// Lookup reports whether pub is currently present as a value in the
// registry, and if so which NodeId it belongs to. This is the exact
// check the AuthHandler contract requires: membership by key value, not
// by claimed identity.
func (r *Registry) Lookup(pub PublicKey) (vectorclock.NodeId, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, key := range r.entries {
		if key == pub {
			return id, true
		}
	}
	return "", false
}

// KeyFor returns the known public key for id, if any.
func (r *Registry) KeyFor(id vectorclock.NodeId) (PublicKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.entries[id]
	return key, ok
}

// Peers returns a snapshot of every known NodeId, excluding self.
func (r *Registry) Peers(self vectorclock.NodeId) []vectorclock.NodeId {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]vectorclock.NodeId, 0, len(r.entries))
	for id := range r.entries {
		if id != self {
			ids = append(ids, id)
		}
	}
	return ids
}

// Revoke removes id from the registry. Future handshakes from id will
// fail; this is irreversible for the lifetime of the process.
func (r *Registry) Revoke(id vectorclock.NodeId) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

// IsRevoked reports whether id is absent from the registry. Useful for
// distinguishing "never trusted" from "revoked" at the call site, though
// both currently behave identically: no future handshake succeeds.
func (r *Registry) IsRevoked(id vectorclock.NodeId) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return !ok
}
