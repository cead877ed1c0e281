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

// Package transport implements the three-lane (FLASH/ROUTINE/BULK) secure
// gossip transport. Each lane is an independent TCP listener plus, per
// known peer, an independent outbound connection; the sender identity of
// every inbound connection is established once, at handshake time, by
// internal/trust rather than carried per-frame the way a ZeroMQ ROUTER
// socket would carry it. Send is non-blocking: a full per-peer lane queue
// drops the frame rather than stalling the caller.
package transport

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"tacticalmesh/internal/errs"
	"tacticalmesh/internal/gossipenvelope"
	"tacticalmesh/internal/logging"
	"tacticalmesh/internal/trust"
	"tacticalmesh/internal/vectorclock"
)

// Lane identifies one of the three independent priority channels.
type Lane int

const (
	LaneFlash Lane = iota
	LaneRoutine
	LaneBulk
)

func (l Lane) String() string {
	switch l {
	case LaneFlash:
		return "FLASH"
	case LaneRoutine:
		return "ROUTINE"
	case LaneBulk:
		return "BULK"
	default:
		return "UNKNOWN"
	}
}

// portOffset returns this lane's fixed offset from the node's base port.
func (l Lane) portOffset() int {
	return int(l)
}

var allLanes = [3]Lane{LaneFlash, LaneRoutine, LaneBulk}

// outboundQueueSize bounds each per-peer-per-lane send queue. A send that
// would block past this bound is dropped rather than backing up the
// caller, per the non-blocking send contract.
const outboundQueueSize = 256

// inboundQueueSize bounds each lane's shared inbound channel, read by the
// GossipEngine's single triage worker.
const inboundQueueSize = 1024

// Frame is one envelope delivered to or accepted from a specific peer on
// a specific lane.
type Frame struct {
	Peer vectorclock.NodeId
	Lane Lane
	Env  gossipenvelope.Envelope
}

// outboundConn owns one TCP connection to one peer on one lane: a
// buffered send queue drained by a dedicated writer goroutine.
type outboundConn struct {
	peer   vectorclock.NodeId
	lane   Lane
	conn   net.Conn
	sendCh chan gossipenvelope.Envelope
	done   chan struct{}
}

// LaneTransport binds the three server lanes and maintains one outbound
// connection per (known peer, lane).
type LaneTransport struct {
	selfID   vectorclock.NodeId
	identity *trust.Identity
	registry *trust.Registry
	basePort int
	log      *logging.Logger

	listeners [3]net.Listener
	inbound   [3]chan Frame

	mu    sync.RWMutex
	peers map[vectorclock.NodeId]*peerEndpoints

	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

// peerEndpoints holds the known address and three lane connections for
// one remote node.
type peerEndpoints struct {
	host  string
	conns [3]*outboundConn
}

// New builds a LaneTransport. Call Start to bind listeners and dial peers.
func New(selfID vectorclock.NodeId, identity *trust.Identity, registry *trust.Registry, basePort int) *LaneTransport {
	t := &LaneTransport{
		selfID:   selfID,
		identity: identity,
		registry: registry,
		basePort: basePort,
		log:      logging.NewLogger("transport").With("node", string(selfID)),
		peers:    make(map[vectorclock.NodeId]*peerEndpoints),
		stopCh:   make(chan struct{}),
	}
	for _, lane := range allLanes {
		t.inbound[lane] = make(chan Frame, inboundQueueSize)
	}
	return t
}

// Start binds all three lane listeners and, for every (NodeId -> host)
// entry in peerAddrs, dials all three outbound lane connections.
func (t *LaneTransport) Start(peerAddrs map[vectorclock.NodeId]string) error {
	for _, lane := range allLanes {
		addr := fmt.Sprintf(":%d", t.basePort+lane.portOffset())
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return errs.LaneBindFailed(lane.String(), addr, err)
		}
		t.listeners[lane] = ln

		t.wg.Add(1)
		go t.acceptLoop(lane, ln)
	}
	t.started = true

	for id, host := range peerAddrs {
		if id == t.selfID {
			continue
		}
		if err := t.AddPeer(id, host); err != nil {
			t.log.Warn("failed to dial peer at startup", "peer", string(id), "error", err.Error())
		}
	}
	return nil
}

// acceptLoop mirrors the teacher's deadline-poll-then-accept idiom so the
// loop can observe stopCh without blocking forever in Accept.
func (t *LaneTransport) acceptLoop(lane Lane, ln net.Listener) {
	defer t.wg.Done()
	tcpLn, isTCP := ln.(*net.TCPListener)

	for {
		select {
		case <-t.stopCh:
			return
		default:
		}

		if isTCP {
			tcpLn.SetDeadline(time.Now().Add(1 * time.Second))
		}
		conn, err := ln.Accept()
		if err != nil {
			continue
		}
		t.wg.Add(1)
		go t.handleInbound(lane, conn)
	}
}

// handleInbound authenticates an accepted connection and then reads
// envelopes from it until it closes or the transport stops.
func (t *LaneTransport) handleInbound(lane Lane, conn net.Conn) {
	defer t.wg.Done()
	defer conn.Close()

	peerID, err := trust.ServerHandshake(conn, t.identity, t.registry)
	if err != nil {
		t.log.Warn("rejected inbound handshake", "lane", lane.String(), "error", err.Error())
		return
	}

	for {
		env, err := gossipenvelope.ReadFrame(conn)
		if err != nil {
			return
		}
		select {
		case t.inbound[lane] <- Frame{Peer: peerID, Lane: lane, Env: env}:
		case <-t.stopCh:
			return
		}
	}
}

// AddPeer dials all three outbound lane connections to a newly trusted
// peer. Safe to call concurrently with Send/RemovePeer.
func (t *LaneTransport) AddPeer(id vectorclock.NodeId, host string) error {
	pubKey, known := t.registry.KeyFor(id)
	if !known {
		return errs.UnknownKey()
	}

	ep := &peerEndpoints{host: host}
	for _, lane := range allLanes {
		oc, err := t.dialLane(id, host, lane, pubKey)
		if err != nil {
			for _, prior := range ep.conns {
				if prior != nil {
					prior.close()
				}
			}
			return err
		}
		ep.conns[lane] = oc
	}

	t.mu.Lock()
	t.peers[id] = ep
	t.mu.Unlock()
	return nil
}

func (t *LaneTransport) dialLane(id vectorclock.NodeId, host string, lane Lane, expectedServerPublic trust.PublicKey) (*outboundConn, error) {
	addr := fmt.Sprintf("%s:%d", host, t.basePort+lane.portOffset())
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, errs.ContextTornDown().WithCause(err).WithDetail("dial " + addr)
	}

	if err := trust.ClientHandshake(conn, t.identity, expectedServerPublic); err != nil {
		conn.Close()
		return nil, err
	}

	oc := &outboundConn{
		peer:   id,
		lane:   lane,
		conn:   conn,
		sendCh: make(chan gossipenvelope.Envelope, outboundQueueSize),
		done:   make(chan struct{}),
	}
	t.wg.Add(1)
	go t.writerLoop(oc)
	return oc, nil
}

func (t *LaneTransport) writerLoop(oc *outboundConn) {
	defer t.wg.Done()
	defer oc.conn.Close()

	for {
		select {
		case env := <-oc.sendCh:
			compress := oc.lane == LaneBulk
			if err := gossipenvelope.WriteFrame(oc.conn, env, compress); err != nil {
				return
			}
		case <-oc.done:
			return
		case <-t.stopCh:
			return
		}
	}
}

func (oc *outboundConn) close() {
	select {
	case <-oc.done:
	default:
		close(oc.done)
	}
}

// Send enqueues env for delivery to peer on lane. It never blocks: if the
// peer's lane queue is full, the frame is dropped and a BackpressureDrop
// error is returned so the caller can apply the FLASH-critical /
// ROUTINE-BULK-silent logging split the spec requires.
func (t *LaneTransport) Send(peer vectorclock.NodeId, lane Lane, env gossipenvelope.Envelope) error {
	t.mu.RLock()
	ep, ok := t.peers[peer]
	t.mu.RUnlock()
	if !ok {
		return errs.UnknownKey()
	}
	oc := ep.conns[lane]
	if oc == nil {
		return errs.UnknownKey()
	}

	select {
	case oc.sendCh <- env:
		return nil
	default:
		return errs.LaneFull(lane.String(), string(peer))
	}
}

// Broadcast calls Send for every currently known peer, ignoring
// individual peer errors (the caller typically logs or tallies those).
func (t *LaneTransport) Broadcast(lane Lane, env gossipenvelope.Envelope) map[vectorclock.NodeId]error {
	t.mu.RLock()
	ids := make([]vectorclock.NodeId, 0, len(t.peers))
	for id := range t.peers {
		ids = append(ids, id)
	}
	t.mu.RUnlock()

	results := make(map[vectorclock.NodeId]error, len(ids))
	for _, id := range ids {
		results[id] = t.Send(id, lane, env)
	}
	return results
}

// Recv returns the shared inbound channel for lane. The GossipEngine's
// triage worker is the sole reader.
func (t *LaneTransport) Recv(lane Lane) <-chan Frame {
	return t.inbound[lane]
}

// Peers returns a snapshot of every peer with an active outbound
// connection, in random order (used by the anti-entropy shuffle-and-
// iterate peer selection).
func (t *LaneTransport) Peers() []vectorclock.NodeId {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]vectorclock.NodeId, 0, len(t.peers))
	for id := range t.peers {
		ids = append(ids, id)
	}
	rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	return ids
}

// RemovePeer closes every outbound connection to id and forgets it. Used
// by the revocation pathway; idempotent.
func (t *LaneTransport) RemovePeer(id vectorclock.NodeId) {
	t.mu.Lock()
	ep, ok := t.peers[id]
	if ok {
		delete(t.peers, id)
	}
	t.mu.Unlock()

	if !ok {
		return
	}
	for _, oc := range ep.conns {
		if oc != nil {
			oc.close()
		}
	}
}

// Stop tears down the transport: stop accepting, close every outbound
// peer connection, close every listener, then wait for every worker
// goroutine to exit.
func (t *LaneTransport) Stop() error {
	close(t.stopCh)

	t.mu.Lock()
	for _, ep := range t.peers {
		for _, oc := range ep.conns {
			if oc != nil {
				oc.close()
			}
		}
	}
	t.peers = make(map[vectorclock.NodeId]*peerEndpoints)
	t.mu.Unlock()

	for _, lane := range allLanes {
		if t.listeners[lane] != nil {
			t.listeners[lane].Close()
		}
	}

	t.wg.Wait()
	return nil
}
