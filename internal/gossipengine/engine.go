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

// Package gossipengine ties the TripleStore, LaneTransport and trust
// Registry together: a receive-triage worker that enforces strict
// FLASH > ROUTINE > BULK priority, and an anti-entropy worker that pulls
// replication catch-up from peers with exponential backoff on failure.
package gossipengine

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"tacticalmesh/internal/errs"
	"tacticalmesh/internal/gossipenvelope"
	"tacticalmesh/internal/logging"
	"tacticalmesh/internal/transport"
	"tacticalmesh/internal/triplestore"
	"tacticalmesh/internal/trust"
	"tacticalmesh/internal/vectorclock"
)

const dedupCapacity = 1000
const syncBatchLimit = 1000

// Stats reports point-in-time counters for observability, alongside
// TripleStore.Stats and LaneTransport's own connection state.
type Stats struct {
	TriplesReceived int64
	RevokesReceived int64
	SyncsReceived   int64
	AcksReceived    int64
	DedupDrops      int64
	Refloods        int64
	FlashDrops      int64
	OtherDrops      int64
}

// Engine is the convergence core: it decodes inbound frames, applies
// them to the TripleStore, re-floods priority traffic, and drives
// anti-entropy pulls against every known peer.
type Engine struct {
	selfID    vectorclock.NodeId
	store     *triplestore.TripleStore
	transport *transport.LaneTransport
	registry  *trust.Registry
	log       *logging.Logger

	dedup          *dedupCache
	cursors        *cursorStore
	gossipInterval time.Duration
	syncTimeout    time.Duration

	peerMu      sync.Mutex
	failures    map[vectorclock.NodeId]int
	backoff     map[vectorclock.NodeId]time.Time
	pendingSync map[vectorclock.NodeId]time.Time

	triplesReceived atomic.Int64
	revokesReceived atomic.Int64
	syncsReceived   atomic.Int64
	acksReceived    atomic.Int64
	dedupDrops      atomic.Int64
	refloods        atomic.Int64
	flashDrops      atomic.Int64
	otherDrops      atomic.Int64

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New builds an Engine. cursorPath names the file used to persist
// per-peer replication cursors across restarts.
func New(selfID vectorclock.NodeId, store *triplestore.TripleStore, tr *transport.LaneTransport, registry *trust.Registry, cursorPath string, gossipInterval, syncTimeout time.Duration) (*Engine, error) {
	cursors, err := loadCursorStore(cursorPath)
	if err != nil {
		return nil, err
	}
	return &Engine{
		selfID:         selfID,
		store:          store,
		transport:      tr,
		registry:       registry,
		log:            logging.NewLogger("gossipengine").With("node", string(selfID)),
		dedup:          newDedupCache(dedupCapacity),
		cursors:        cursors,
		gossipInterval: gossipInterval,
		syncTimeout:    syncTimeout,
		failures:       make(map[vectorclock.NodeId]int),
		backoff:        make(map[vectorclock.NodeId]time.Time),
		pendingSync:    make(map[vectorclock.NodeId]time.Time),
	}, nil
}

// Start spawns the receive-triage and anti-entropy workers. It returns
// once both are running; call Stop to tear them down.
func (e *Engine) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.triageLoop(gctx) })
	g.Go(func() error { return e.antiEntropyLoop(gctx) })
	e.group = g
	return nil
}

// Stop cancels both workers and joins them with a bounded timeout,
// mirroring the design's ≤200ms-per-worker join budget.
func (e *Engine) Stop() error {
	if e.cancel != nil {
		e.cancel()
	}
	if e.group == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- e.group.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(400 * time.Millisecond):
		return nil
	}
}

// Stats returns a snapshot of the engine's counters.
func (e *Engine) Stats() Stats {
	return Stats{
		TriplesReceived: e.triplesReceived.Load(),
		RevokesReceived: e.revokesReceived.Load(),
		SyncsReceived:   e.syncsReceived.Load(),
		AcksReceived:    e.acksReceived.Load(),
		DedupDrops:      e.dedupDrops.Load(),
		Refloods:        e.refloods.Load(),
		FlashDrops:      e.flashDrops.Load(),
		OtherDrops:      e.otherDrops.Load(),
	}
}

// triageLoop enforces strict FLASH > ROUTINE > BULK priority: it always
// checks FLASH first and, if FLASH produced anything, restarts the poll
// immediately without looking at ROUTINE or BULK that turn.
func (e *Engine) triageLoop(ctx context.Context) error {
	flashCh := e.transport.Recv(transport.LaneFlash)
	routineCh := e.transport.Recv(transport.LaneRoutine)
	bulkCh := e.transport.Recv(transport.LaneBulk)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		select {
		case f := <-flashCh:
			e.handleFrame(f)
			e.drainLane(flashCh)
			continue
		default:
		}

		select {
		case f := <-routineCh:
			e.handleFrame(f)
			e.drainLane(routineCh)
			continue
		default:
		}

		select {
		case f := <-bulkCh:
			e.handleFrame(f)
			e.drainLane(bulkCh)
			continue
		default:
		}

		select {
		case f := <-flashCh:
			e.handleFrame(f)
			e.drainLane(flashCh)
		case f := <-routineCh:
			e.handleFrame(f)
			e.drainLane(routineCh)
		case f := <-bulkCh:
			e.handleFrame(f)
			e.drainLane(bulkCh)
		case <-time.After(1 * time.Second):
		case <-ctx.Done():
			return nil
		}
	}
}

// drainLane reads every frame currently queued on ch without blocking.
func (e *Engine) drainLane(ch <-chan transport.Frame) {
	for {
		select {
		case f := <-ch:
			e.handleFrame(f)
		default:
			return
		}
	}
}

func (e *Engine) handleFrame(f transport.Frame) {
	fingerprint := f.Env.Fingerprint()
	if e.dedup.seenOrAdd(fingerprint) {
		e.dedupDrops.Add(1)
		return
	}

	switch f.Env.T {
	case gossipenvelope.KindTriple:
		e.handleTriple(f)
	case gossipenvelope.KindRevoke:
		e.handleRevoke(f)
	case gossipenvelope.KindSync:
		e.handleSync(f)
	case gossipenvelope.KindAck:
		e.handleAck(f)
	default:
		e.log.Warn("dropped frame with unknown kind", "kind", string(f.Env.T), "peer", string(f.Peer))
	}
}

func (e *Engine) handleTriple(f transport.Frame) {
	e.triplesReceived.Add(1)
	payload, err := f.Env.DecodeTriple()
	if err != nil {
		e.log.Warn("malformed triple payload", "peer", string(f.Peer), "error", err.Error())
		return
	}
	if _, err := e.store.WriteTriple(payload.S, payload.P, payload.O, payload.VC, f.Peer); err != nil {
		e.log.Error("write_triple failed", "peer", string(f.Peer), "error", err.Error())
	}
	if f.Lane == transport.LaneFlash {
		e.reflood(transport.LaneFlash, f.Env, f.Peer)
	}
}

func (e *Engine) handleRevoke(f transport.Frame) {
	e.revokesReceived.Add(1)
	payload, err := f.Env.DecodeRevoke()
	if err != nil {
		e.log.Warn("malformed revoke payload", "peer", string(f.Peer), "error", err.Error())
		return
	}
	e.RevokePeer(payload.Target)
	e.reflood(transport.LaneFlash, f.Env, f.Peer)
}

func (e *Engine) handleSync(f transport.Frame) {
	e.syncsReceived.Add(1)
	payload, err := f.Env.DecodeSync()
	if err != nil {
		e.log.Warn("malformed sync payload", "peer", string(f.Peer), "error", err.Error())
		return
	}

	entries, head := e.store.LogsSince(payload.Seq, syncBatchLimit)
	ackEntries := make([]gossipenvelope.AckEntry, len(entries))
	for i, entry := range entries {
		ackEntries[i] = gossipenvelope.AckEntry{
			Seq: entry.Seq, S: entry.S, P: entry.P, O: entry.O,
			Clock: entry.Clock, Writer: entry.Writer,
		}
	}

	ackEnv, err := gossipenvelope.New(gossipenvelope.KindAck, e.selfID, nowMillis(), gossipenvelope.AckPayload{U: ackEntries, H: head})
	if err != nil {
		e.log.Error("failed to build ACK", "peer", string(f.Peer), "error", err.Error())
		return
	}
	if err := e.transport.Send(f.Peer, f.Lane, ackEnv); err != nil {
		e.log.Warn("failed to send ACK", "peer", string(f.Peer), "error", err.Error())
	}
}

func (e *Engine) handleAck(f transport.Frame) {
	e.acksReceived.Add(1)
	payload, err := f.Env.DecodeAck()
	if err != nil {
		e.log.Warn("malformed ack payload", "peer", string(f.Peer), "error", err.Error())
		return
	}

	for _, u := range payload.U {
		if _, err := e.store.WriteTriple(u.S, u.P, u.O, u.Clock, u.Writer); err != nil {
			e.log.Error("write_triple from ACK failed", "peer", string(f.Peer), "error", err.Error())
		}
	}

	e.peerMu.Lock()
	delete(e.pendingSync, f.Peer)
	delete(e.failures, f.Peer)
	e.peerMu.Unlock()

	e.cursors.Set(f.Peer, payload.H)
	if err := e.cursors.Persist(); err != nil {
		e.log.Warn("failed to persist cursor", "peer", string(f.Peer), "error", err.Error())
	}
}

// reflood sends env to every currently connected peer on lane except
// exclude (typically the sender the frame arrived from, to avoid a
// pointless echo before dedup would catch it).
func (e *Engine) reflood(lane transport.Lane, env gossipenvelope.Envelope, exclude vectorclock.NodeId) {
	for _, id := range e.transport.Peers() {
		if exclude != "" && id == exclude {
			continue
		}
		e.refloods.Add(1)
		if err := e.transport.Send(id, lane, env); err != nil {
			if lane == transport.LaneFlash {
				e.flashDrops.Add(1)
				e.log.Error("FLASH lane send dropped", "peer", string(id), "error", err.Error())
			} else {
				e.otherDrops.Add(1)
			}
		}
	}
}

// antiEntropyLoop periodically selects peers (shuffle-and-iterate, via
// LaneTransport.Peers) and pulls replication catch-up from each.
func (e *Engine) antiEntropyLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.gossipInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.antiEntropyRound()
		}
	}
}

func (e *Engine) antiEntropyRound() {
	now := time.Now()
	for _, id := range e.transport.Peers() {
		e.peerMu.Lock()
		if until, ok := e.backoff[id]; ok {
			if now.Before(until) {
				e.peerMu.Unlock()
				continue
			}
			delete(e.backoff, id)
		}
		if sentAt, pending := e.pendingSync[id]; pending {
			if now.Sub(sentAt) <= e.syncTimeout {
				e.peerMu.Unlock()
				continue
			}
			delete(e.pendingSync, id)
			e.peerMu.Unlock()
			e.recordFailure(id, errs.AntiEntropyTimeout(string(id)))
			continue
		}
		e.peerMu.Unlock()

		cursor := e.cursors.Get(id)
		env, err := gossipenvelope.New(gossipenvelope.KindSync, e.selfID, nowMillis(), gossipenvelope.SyncPayload{Seq: cursor})
		if err != nil {
			continue
		}
		if err := e.transport.Send(id, transport.LaneRoutine, env); err != nil {
			e.recordFailure(id, err)
			continue
		}

		e.peerMu.Lock()
		e.pendingSync[id] = now
		e.peerMu.Unlock()
	}
}

// recordFailure applies the configured backoff formula:
// min(2s, 0.1s * 2^(failures-1)) * jitter in [0.9, 1.1].
func (e *Engine) recordFailure(id vectorclock.NodeId, cause error) {
	e.peerMu.Lock()
	e.failures[id]++
	fails := e.failures[id]
	base := 0.1 * math.Pow(2, float64(fails-1))
	if base > 2.0 {
		base = 2.0
	}
	jitter := 0.9 + rand.Float64()*0.2
	cooldown := time.Duration(base * jitter * float64(time.Second))
	e.backoff[id] = time.Now().Add(cooldown)
	e.peerMu.Unlock()

	causeMsg := ""
	if cause != nil {
		causeMsg = cause.Error()
	}
	e.log.Warn("anti-entropy peer failure", "peer", string(id), "failures", fails, "cooldown", cooldown.String(), "cause", causeMsg)
}

// RevokePeer removes id from the trust registry, severs its outbound
// connections, and discards any backoff/cursor/failure state for it.
func (e *Engine) RevokePeer(id vectorclock.NodeId) {
	e.registry.Revoke(id)
	e.transport.RemovePeer(id)

	e.peerMu.Lock()
	delete(e.backoff, id)
	delete(e.failures, id)
	delete(e.pendingSync, id)
	e.peerMu.Unlock()

	e.cursors.Delete(id)
	if err := e.cursors.Persist(); err != nil {
		e.log.Warn("failed to persist cursors after revocation", "peer", string(id), "error", err.Error())
	}
}

// BroadcastRevocation floods a REVOKE for id to every current peer on
// FLASH, then applies the revocation locally.
func (e *Engine) BroadcastRevocation(id vectorclock.NodeId) error {
	env, err := gossipenvelope.New(gossipenvelope.KindRevoke, e.selfID, nowMillis(), gossipenvelope.RevokePayload{Target: id})
	if err != nil {
		return err
	}
	e.reflood(transport.LaneFlash, env, "")
	e.RevokePeer(id)
	return nil
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
