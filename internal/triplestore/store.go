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

// Package triplestore is the durable, crash-safe keyed store of (subject,
// predicate) -> object triples with a replay log and deterministic
// last-writer-wins-under-conflict convergence, following the same
// Open/Stats/Close shape as the teacher's StorageEngine but backed
// by an append-only segmented WAL instead of a page buffer pool.
package triplestore

import (
	"fmt"
	"sort"
	"sync"

	"tacticalmesh/internal/errs"
	"tacticalmesh/internal/vectorclock"
)

// Triple is one converged (subject, predicate, object) fact together with
// the VectorClock under which it was accepted and the node that wrote it.
type Triple struct {
	S      string                  `json:"s"`
	P      string                  `json:"p"`
	O      string                  `json:"o"`
	Clock  vectorclock.VectorClock `json:"clock"`
	Writer vectorclock.NodeId      `json:"writer"`
}

// StoreKey is the lookup key for a Triple: the (subject, predicate) pair.
func StoreKey(s, p string) string {
	return s + "|" + p
}

// LogEntry is one entry in the replication log: the sequence number at
// which a Triple was accepted, plus the Triple itself.
type LogEntry struct {
	Seq uint64 `json:"seq"`
	Triple
}

// WriteResult reports the outcome of WriteTriple.
type WriteResult int

const (
	// Accepted means the write became the new value for its key and a
	// LogEntry was appended.
	Accepted WriteResult = iota
	// RejectedStale means the write was causally before the existing
	// value, or lost a concurrent tiebreak, and was discarded.
	RejectedStale
	// DuplicateMerged means the write was causally equal to the existing
	// value (a retransmit); only the own clock was merged, no seq bump.
	DuplicateMerged
)

func (r WriteResult) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case RejectedStale:
		return "rejected_stale"
	case DuplicateMerged:
		return "duplicate_merged"
	default:
		return "unknown"
	}
}

// Stats mirrors the teacher's EngineStats shape, scoped to what a
// replicated triple store actually tracks.
type Stats struct {
	KeyCount   int64
	LogLength  int64
	HeadSeq    uint64
	Writes     int64
	Conflicts  int64
	Rejections int64
	WALBytes   int64
}

// TripleStore is the durable keyed store of converged triples plus the
// append-only replication log used for anti-entropy catch-up.
type TripleStore struct {
	mu sync.Mutex

	selfID vectorclock.NodeId
	clock  vectorclock.VectorClock
	latest map[string]Triple
	log    []LogEntry // ascending by Seq; index 0 corresponds to seq 1
	headSeq uint64

	wal *wal

	writes, conflicts, rejections int64
}

// Open creates or recovers a TripleStore rooted at dir. If dir already
// contains a WAL, every recorded entry is replayed in order to rebuild
// latest, clock and headSeq before the store is returned ready for use.
func Open(selfID vectorclock.NodeId, dir string) (*TripleStore, error) {
	w, err := openWAL(dir)
	if err != nil {
		return nil, err
	}

	st := &TripleStore{
		selfID: selfID,
		clock:  vectorclock.New(),
		latest: make(map[string]Triple),
		wal:    w,
	}

	entries, err := w.replay()
	if err != nil {
		w.Close()
		return nil, err
	}
	for _, e := range entries {
		st.applyReplayed(e)
	}

	return st, nil
}

func (s *TripleStore) applyReplayed(e LogEntry) {
	s.latest[StoreKey(e.S, e.P)] = e.Triple
	s.clock = s.clock.Merge(e.Clock)
	s.log = append(s.log, e)
	if e.Seq > s.headSeq {
		s.headSeq = e.Seq
	}
}

// WriteTriple applies the convergence rule from the design: when
// remoteClock is nil this is a local write (the store's own clock is
// incremented); otherwise it is a remote write arriving with the sender's
// clock and writer identity already known from the envelope.
func (s *TripleStore) WriteTriple(subj, pred, obj string, remoteClock vectorclock.VectorClock, writer vectorclock.NodeId) (WriteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevClock := s.clock
	var writeClock vectorclock.VectorClock
	var w vectorclock.NodeId
	if remoteClock == nil {
		s.clock = s.clock.Inc(s.selfID)
		writeClock = s.clock.Copy()
		w = s.selfID
	} else {
		writeClock = remoteClock.Copy()
		w = writer
	}

	key := StoreKey(subj, pred)
	existing, hasExisting := s.latest[key]

	if hasExisting {
		rel := vectorclock.Compare(writeClock, existing.Clock)
		switch rel {
		case vectorclock.Before:
			s.rejections++
			s.clock = s.clock.Merge(writeClock)
			return RejectedStale, nil
		case vectorclock.Equal:
			s.clock = s.clock.Merge(writeClock)
			return DuplicateMerged, nil
		case vectorclock.Concurrent:
			s.conflicts++
			if obj <= existing.O {
				s.rejections++
				s.clock = s.clock.Merge(writeClock)
				return RejectedStale, nil
			}
			// obj wins the tiebreak: fall through to accept.
		case vectorclock.After:
			// fall through to accept.
		}
	}

	s.clock = s.clock.Merge(writeClock)
	s.headSeq++
	triple := Triple{S: subj, P: pred, O: obj, Clock: writeClock, Writer: w}
	entry := LogEntry{Seq: s.headSeq, Triple: triple}

	if err := s.wal.append(entry, s.clock); err != nil {
		// The batch did not commit: roll back the in-memory seq and clock
		// advance so head_seq stays aligned with what is physically durable.
		s.headSeq--
		s.clock = prevClock
		return RejectedStale, errs.WALCorrupted(err.Error()).WithCause(err)
	}

	s.latest[key] = triple
	s.log = append(s.log, entry)
	s.writes++
	return Accepted, nil
}

// GetTriple is a point lookup. A missing key is not an error.
func (s *TripleStore) GetTriple(subj, pred string) (Triple, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.latest[StoreKey(subj, pred)]
	return t, ok
}

// LogsSince returns up to limit consecutive LogEntries with seq strictly
// greater than cursor, in ascending order, plus the seq of the last entry
// returned (or cursor unchanged if none matched).
func (s *TripleStore) LogsSince(cursor uint64, limit int) ([]LogEntry, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := sort.Search(len(s.log), func(i int) bool { return s.log[i].Seq > cursor })
	if start >= len(s.log) {
		return nil, cursor
	}
	end := start + limit
	if end > len(s.log) || limit <= 0 {
		end = len(s.log)
	}
	out := make([]LogEntry, end-start)
	copy(out, s.log[start:end])

	newHead := cursor
	if len(out) > 0 {
		newHead = out[len(out)-1].Seq
	}
	return out, newHead
}

// OwnClock returns a snapshot of the store's own VectorClock.
func (s *TripleStore) OwnClock() vectorclock.VectorClock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.Copy()
}

// HeadSeq returns the highest sequence number physically durable.
func (s *TripleStore) HeadSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headSeq
}

// Stats reports point-in-time counters for observability.
func (s *TripleStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		KeyCount:   int64(len(s.latest)),
		LogLength:  int64(len(s.log)),
		HeadSeq:    s.headSeq,
		Writes:     s.writes,
		Conflicts:  s.conflicts,
		Rejections: s.rejections,
		WALBytes:   s.wal.activeBytes(),
	}
}

// Close flushes and releases the underlying WAL segments.
func (s *TripleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wal.Close()
}

func (s Stats) String() string {
	return fmt.Sprintf(
		"keys=%d log=%d head_seq=%d writes=%d conflicts=%d rejections=%d wal_bytes=%d",
		s.KeyCount, s.LogLength, s.HeadSeq, s.Writes, s.Conflicts, s.Rejections, s.WALBytes,
	)
}
