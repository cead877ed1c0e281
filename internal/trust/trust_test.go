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
	"net"
	"path/filepath"
	"testing"

	"tacticalmesh/internal/errs"
	"tacticalmesh/internal/vectorclock"
)

func mustGenerate(t *testing.T, nodeID vectorclock.NodeId) *Identity {
	t.Helper()
	id, err := GenerateIdentity(nodeID)
	if err != nil {
		t.Fatalf("GenerateIdentity(%s) failed: %v", nodeID, err)
	}
	return id
}

func TestIdentitySaveLoadRoundTrip(t *testing.T) {
	alpha := mustGenerate(t, "Alpha")
	path := filepath.Join(t.TempDir(), "alpha.secret")
	if err := alpha.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadIdentity(path)
	if err != nil {
		t.Fatalf("LoadIdentity failed: %v", err)
	}
	if loaded.NodeID != alpha.NodeID {
		t.Errorf("NodeID = %q, want %q", loaded.NodeID, alpha.NodeID)
	}
	if loaded.PublicKey != alpha.PublicKey {
		t.Errorf("PublicKey mismatch after round trip")
	}
	if loaded.privateKey != alpha.privateKey {
		t.Errorf("privateKey mismatch after round trip")
	}
}

func TestRegistryLookupAndRevoke(t *testing.T) {
	alpha := mustGenerate(t, "Alpha")
	bravo := mustGenerate(t, "Bravo")

	reg := NewRegistry(map[vectorclock.NodeId]PublicKey{
		alpha.NodeID: alpha.PublicKey,
		bravo.NodeID: bravo.PublicKey,
	})

	if id, ok := reg.Lookup(alpha.PublicKey); !ok || id != alpha.NodeID {
		t.Fatalf("Lookup(alpha) = (%q, %v), want (%q, true)", id, ok, alpha.NodeID)
	}

	if !reg.Revoke(alpha.NodeID) {
		t.Fatal("Revoke(alpha) = false, want true")
	}
	if _, ok := reg.Lookup(alpha.PublicKey); ok {
		t.Fatal("Lookup(alpha) succeeded after revocation")
	}
	if reg.Revoke(alpha.NodeID) {
		t.Fatal("second Revoke(alpha) = true, want false (already gone)")
	}
}

func TestHandshakeAcceptsTrustedPeer(t *testing.T) {
	alpha := mustGenerate(t, "Alpha")
	bravo := mustGenerate(t, "Bravo")

	reg := NewRegistry(map[vectorclock.NodeId]PublicKey{
		bravo.NodeID: bravo.PublicKey,
	})

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	resultCh := make(chan error, 1)
	go func() {
		resultCh <- ClientHandshake(clientConn, bravo, alpha.PublicKey)
	}()

	nodeID, err := ServerHandshake(serverConn, alpha, reg)
	if err != nil {
		t.Fatalf("ServerHandshake failed: %v", err)
	}
	if nodeID != bravo.NodeID {
		t.Errorf("ServerHandshake resolved NodeId %q, want %q", nodeID, bravo.NodeID)
	}
	if err := <-resultCh; err != nil {
		t.Fatalf("ClientHandshake failed: %v", err)
	}
}

func TestHandshakeRejectsUntrustedPeer(t *testing.T) {
	alpha := mustGenerate(t, "Alpha")
	stranger := mustGenerate(t, "Stranger")

	reg := NewRegistry(map[vectorclock.NodeId]PublicKey{})

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	resultCh := make(chan error, 1)
	go func() {
		resultCh <- ClientHandshake(clientConn, stranger, alpha.PublicKey)
	}()

	_, err := ServerHandshake(serverConn, alpha, reg)
	if err == nil {
		t.Fatal("ServerHandshake succeeded for an untrusted key, want AuthDenied")
	}
	if !errs.IsAuthDenied(err) {
		t.Errorf("ServerHandshake error = %v, want AuthDenied category", err)
	}
	<-resultCh
}

func TestHandshakeRejectsRevokedPeer(t *testing.T) {
	alpha := mustGenerate(t, "Alpha")
	bravo := mustGenerate(t, "Bravo")

	reg := NewRegistry(map[vectorclock.NodeId]PublicKey{
		bravo.NodeID: bravo.PublicKey,
	})
	reg.Revoke(bravo.NodeID)

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	resultCh := make(chan error, 1)
	go func() {
		resultCh <- ClientHandshake(clientConn, bravo, alpha.PublicKey)
	}()

	_, err := ServerHandshake(serverConn, alpha, reg)
	if err == nil || !errs.IsAuthDenied(err) {
		t.Fatalf("ServerHandshake error = %v, want AuthDenied", err)
	}
	<-resultCh
}
