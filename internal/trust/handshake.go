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
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"io"

	"golang.org/x/crypto/nacl/box"

	"tacticalmesh/internal/errs"
	"tacticalmesh/internal/vectorclock"
)

func base64Encode(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func base64Decode(s string) ([]byte, error) { return base64.StdEncoding.DecodeString(s) }

// domain is the single shared identity-domain string literal used by the
// whole mesh, mirroring the original's ZAP domain "Global".
const domain = "Global"

type handshakeChallenge struct {
	Domain       string `json:"domain"`
	ServerPublic string `json:"server_public"`
	Nonce        string `json:"nonce"`
}

type handshakeResponse struct {
	ClientPublic string `json:"client_public"`
	Proof        string `json:"proof"`
}

type handshakeResult struct {
	OK     bool   `json:"ok"`
	NodeID string `json:"node_id,omitempty"`
}

func writeFrame(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func readFrame(r io.Reader, v any) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return err
	}
	size := binary.BigEndian.Uint32(lenBuf[:])
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// ServerHandshake runs the inbound side of the mutual-auth handshake
// over conn. On success it returns the peer's authenticated NodeId. A
// client key that is unparseable, fails the proof, or is absent from the
// registry yields an AuthDenied MeshError and a refusal frame; I/O and
// framing failures yield TransportTerminated or DecodeError MeshErrors.
// In every failure case no payload reaches the caller's GossipEngine.
func ServerHandshake(conn io.ReadWriter, self *Identity, registry *Registry) (vectorclock.NodeId, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", errs.ContextTornDown().WithCause(err)
	}

	challenge := handshakeChallenge{
		Domain:       domain,
		ServerPublic: self.PublicKey.String(),
		Nonce:        base64Encode(nonce[:]),
	}
	if err := writeFrame(conn, challenge); err != nil {
		return "", errs.ContextTornDown().WithCause(err)
	}

	var resp handshakeResponse
	if err := readFrame(conn, &resp); err != nil {
		return "", errs.MalformedEnvelope(err)
	}

	clientPub, err := ParsePublicKey(resp.ClientPublic)
	if err != nil {
		writeFrame(conn, handshakeResult{OK: false})
		return "", errs.UnknownKey()
	}

	proof, err := base64Decode(resp.Proof)
	if err != nil {
		writeFrame(conn, handshakeResult{OK: false})
		return "", errs.MalformedEnvelope(err)
	}

	opened, ok := box.Open(nil, proof, &nonce, (*[32]byte)(&clientPub), &self.privateKey)
	if !ok || !bytes.Equal(opened, nonce[:]) {
		writeFrame(conn, handshakeResult{OK: false})
		return "", errs.UnknownKey()
	}

	nodeID, known := registry.Lookup(clientPub)
	if !known {
		writeFrame(conn, handshakeResult{OK: false})
		return "", errs.UnknownKey()
	}

	if err := writeFrame(conn, handshakeResult{OK: true, NodeID: string(nodeID)}); err != nil {
		return "", errs.ContextTornDown().WithCause(err)
	}
	return nodeID, nil
}

// ClientHandshake runs the outbound side of the mutual-auth handshake
// over conn, proving possession of self's private key and verifying
// that serverPublic is in fact the identity expected for this peer.
func ClientHandshake(conn io.ReadWriter, self *Identity, expectedServerPublic PublicKey) error {
	var challenge handshakeChallenge
	if err := readFrame(conn, &challenge); err != nil {
		return errs.MalformedEnvelope(err)
	}
	if challenge.Domain != domain {
		return errs.UnknownKey()
	}

	serverPub, err := ParsePublicKey(challenge.ServerPublic)
	if err != nil {
		return errs.MalformedEnvelope(err)
	}
	if serverPub != expectedServerPublic {
		return errs.UnknownKey()
	}

	nonceRaw, err := base64Decode(challenge.Nonce)
	if err != nil || len(nonceRaw) != 24 {
		return errs.MalformedEnvelope(err)
	}
	var nonce [24]byte
	copy(nonce[:], nonceRaw)

	proof := box.Seal(nil, nonce[:], &nonce, (*[32]byte)(&serverPub), &self.privateKey)
	resp := handshakeResponse{
		ClientPublic: self.PublicKey.String(),
		Proof:        base64Encode(proof),
	}
	if err := writeFrame(conn, resp); err != nil {
		return errs.ContextTornDown().WithCause(err)
	}

	var result handshakeResult
	if err := readFrame(conn, &result); err != nil {
		return errs.MalformedEnvelope(err)
	}
	if !result.OK {
		return errs.RevokedKey()
	}
	return nil
}
