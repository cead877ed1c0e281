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

// Package gossipenvelope defines the wire envelope exchanged between
// mesh nodes and the length-prefixed JSON framing used to send it,
// following the same binary.BigEndian length-prefix convention the
// teacher's cluster membership gossip uses.
package gossipenvelope

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"

	"tacticalmesh/internal/errs"
	"tacticalmesh/internal/vectorclock"
)

// Kind identifies the envelope's message type.
type Kind string

const (
	KindTriple Kind = "triple"
	KindRevoke Kind = "REVOKE"
	KindSync   Kind = "SYNC"
	KindAck    Kind = "ACK"
)

// Envelope is the self-describing structured record exchanged on every
// lane: t (type), p (payload, shape depends on t), s (sender), ts
// (sender wall clock at creation), id (optional explicit dedup key).
type Envelope struct {
	T  Kind            `json:"t"`
	P  json.RawMessage `json:"p"`
	S  vectorclock.NodeId `json:"s"`
	TS int64           `json:"ts"`
	ID string          `json:"id,omitempty"`
}

// Fingerprint returns the dedup key for this envelope: the explicit id
// if present, otherwise the (sender, ts) pair.
func (e Envelope) Fingerprint() string {
	if e.ID != "" {
		return e.ID
	}
	return fmt.Sprintf("%s|%d", e.S, e.TS)
}

// TriplePayload is the payload shape for a KindTriple envelope.
type TriplePayload struct {
	S  string              `json:"s"`
	P  string              `json:"p"`
	O  string              `json:"o"`
	VC vectorclock.VectorClock `json:"vc"`
}

// RevokePayload is the payload shape for a KindRevoke envelope.
type RevokePayload struct {
	Target vectorclock.NodeId `json:"target"`
}

// SyncPayload is the payload shape for a KindSync envelope: a pull
// request naming the last sequence number the requester already has.
type SyncPayload struct {
	Seq uint64 `json:"seq"`
}

// AckEntry is one log entry returned in an AckPayload.
type AckEntry struct {
	Seq     uint64                  `json:"seq"`
	S       string                  `json:"s"`
	P       string                  `json:"p"`
	O       string                  `json:"o"`
	Clock   vectorclock.VectorClock `json:"clock"`
	Writer  vectorclock.NodeId      `json:"writer"`
}

// AckPayload is the payload shape for a KindAck envelope: a batch of log
// entries newer than the requested cursor, plus the new head sequence.
type AckPayload struct {
	U []AckEntry `json:"u"`
	H uint64     `json:"h"`
}

// New builds an envelope with payload p marshaled to JSON.
func New(kind Kind, sender vectorclock.NodeId, ts int64, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, errs.MalformedPayload(string(kind), err)
	}
	return Envelope{T: kind, P: raw, S: sender, TS: ts}, nil
}

// DecodeTriple unmarshals the envelope's payload as a TriplePayload.
func (e Envelope) DecodeTriple() (TriplePayload, error) {
	var p TriplePayload
	if err := json.Unmarshal(e.P, &p); err != nil {
		return p, errs.MalformedPayload(string(KindTriple), err)
	}
	return p, nil
}

// DecodeRevoke unmarshals the envelope's payload as a RevokePayload.
func (e Envelope) DecodeRevoke() (RevokePayload, error) {
	var p RevokePayload
	if err := json.Unmarshal(e.P, &p); err != nil {
		return p, errs.MalformedPayload(string(KindRevoke), err)
	}
	return p, nil
}

// DecodeSync unmarshals the envelope's payload as a SyncPayload.
func (e Envelope) DecodeSync() (SyncPayload, error) {
	var p SyncPayload
	if err := json.Unmarshal(e.P, &p); err != nil {
		return p, errs.MalformedPayload(string(KindSync), err)
	}
	return p, nil
}

// DecodeAck unmarshals the envelope's payload as an AckPayload.
func (e Envelope) DecodeAck() (AckPayload, error) {
	var p AckPayload
	if err := json.Unmarshal(e.P, &p); err != nil {
		return p, errs.MalformedPayload(string(KindAck), err)
	}
	return p, nil
}

// bulkCompressThreshold is the payload size above which BULK-lane
// frames are LZ4-compressed before they hit the wire. LZ4 is a
// moderate-ratio, fast codec — a good fit for the replay batches that
// dominate BULK traffic.
const bulkCompressThreshold = 512

// WriteFrame writes env to w as a length-prefixed JSON frame. Every
// frame starts with a flag byte (1 = compressed, 0 = plain) followed by
// the 4-byte body length. When compress is true and the marshaled
// envelope exceeds bulkCompressThreshold, the body is LZ4-compressed and
// the 4-byte uncompressed length is written between the body length and
// the body.
func WriteFrame(w io.Writer, env Envelope, compress bool) error {
	data, err := json.Marshal(env)
	if err != nil {
		return errs.MalformedEnvelope(err)
	}

	flag := byte(0)
	body := data
	if compress && len(data) > bulkCompressThreshold {
		compressed := make([]byte, lz4.CompressBlockBound(len(data)))
		var c lz4.Compressor
		n, err := c.CompressBlock(data, compressed)
		if err == nil && n > 0 && n < len(data) {
			flag = 1
			body = compressed[:n]
		}
	}

	if _, err := w.Write([]byte{flag}); err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if flag == 1 {
		var origLenBuf [4]byte
		binary.BigEndian.PutUint32(origLenBuf[:], uint32(len(data)))
		if _, err := w.Write(origLenBuf[:]); err != nil {
			return err
		}
	}
	_, err = w.Write(body)
	return err
}

// ReadFrame reads one frame written by WriteFrame and decodes it into
// an Envelope.
func ReadFrame(r io.Reader) (Envelope, error) {
	var flagBuf [1]byte
	if _, err := io.ReadFull(r, flagBuf[:]); err != nil {
		return Envelope{}, err
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Envelope{}, err
	}
	bodyLen := binary.BigEndian.Uint32(lenBuf[:])

	var data []byte
	if flagBuf[0] == 1 {
		var origLenBuf [4]byte
		if _, err := io.ReadFull(r, origLenBuf[:]); err != nil {
			return Envelope{}, err
		}
		origLen := binary.BigEndian.Uint32(origLenBuf[:])

		compressed := make([]byte, bodyLen)
		if _, err := io.ReadFull(r, compressed); err != nil {
			return Envelope{}, err
		}
		data = make([]byte, origLen)
		n, err := lz4.UncompressBlock(compressed, data)
		if err != nil {
			return Envelope{}, errs.MalformedEnvelope(err)
		}
		data = data[:n]
	} else {
		data = make([]byte, bodyLen)
		if _, err := io.ReadFull(r, data); err != nil {
			return Envelope{}, err
		}
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, errs.MalformedEnvelope(err)
	}
	return env, nil
}
