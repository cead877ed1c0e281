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

/*
Package trust manages node identity keypairs, the shared trust registry,
and the mutual-authentication handshake that gates every lane connection.

Every node carries a long-term Curve25519 keypair (box.GenerateKey) and
authenticates peers against a whitelist of known public keys — the same
role ZeroMQ's CURVE mechanism plays in the original prototype, reimplemented
here over plain TCP since no ZeroMQ binding exists in this module's
dependency set.
*/
package trust

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"

	"golang.org/x/crypto/nacl/box"

	"tacticalmesh/internal/errs"
	"tacticalmesh/internal/vectorclock"
)

// PublicKey is a node's long-term Curve25519 public key.
type PublicKey [32]byte

// String renders the key in the same base64 text form used in the
// identity and trust files on disk.
func (k PublicKey) String() string {
	return base64.StdEncoding.EncodeToString(k[:])
}

// ParsePublicKey decodes a base64 key as written by meshkeygen.
func ParsePublicKey(s string) (PublicKey, error) {
	var key PublicKey
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return key, err
	}
	if len(raw) != 32 {
		return key, errs.MalformedTrustFile("public key", nil).WithDetail("expected 32 bytes")
	}
	copy(key[:], raw)
	return key, nil
}

// identityFile is the on-disk shape of a node's private identity file:
// {node_id, public, private}, matching the original prototype's
// provisioning tool.
type identityFile struct {
	NodeID  string `json:"node_id"`
	Public  string `json:"public"`
	Private string `json:"private"`
}

// Identity is a node's own keypair plus its NodeId.
type Identity struct {
	NodeID     vectorclock.NodeId
	PublicKey  PublicKey
	privateKey [32]byte
}

// GenerateIdentity creates a fresh Curve25519 keypair for nodeID.
func GenerateIdentity(nodeID vectorclock.NodeId) (*Identity, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Identity{NodeID: nodeID, PublicKey: PublicKey(*pub), privateKey: *priv}, nil
}

// LoadIdentity reads a node's private identity file.
func LoadIdentity(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.MissingIdentityKey(path).WithCause(err)
	}

	var f identityFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errs.MalformedTrustFile(path, err)
	}

	pub, err := ParsePublicKey(f.Public)
	if err != nil {
		return nil, errs.MalformedTrustFile(path, err).WithDetail("invalid public key encoding")
	}
	privRaw, err := base64.StdEncoding.DecodeString(f.Private)
	if err != nil || len(privRaw) != 32 {
		return nil, errs.MalformedTrustFile(path, err).WithDetail("invalid private key encoding")
	}

	id := &Identity{NodeID: vectorclock.NodeId(f.NodeID), PublicKey: pub}
	copy(id.privateKey[:], privRaw)
	return id, nil
}

// Save writes the identity's private file. Private key material is
// written with owner-only permissions; nothing here is world-readable.
func (id *Identity) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f := identityFile{
		NodeID:  string(id.NodeID),
		Public:  id.PublicKey.String(),
		Private: base64.StdEncoding.EncodeToString(id.privateKey[:]),
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
