/* SPDX-License-Identifier: MIT */

// Package pairstore holds pending and verified pairing records, keyed by
// peer NodeId (spec.md §4.9). It is a single read-write mutex guarding a
// map — writes are rare (pairing happens once per bond), so the teacher's
// heavier per-resource lock layering (device.go's ordered lock groups)
// would be overkill here.
package pairstore

import (
	"sync"

	"github.com/SaemsCodes/offline-radio-sub000/types"
)

// Record mirrors spec.md §3's PairingRecord.
type Record struct {
	PeerNodeID       types.NodeId
	TheirPublicKey   [32]byte
	SharedSecret     [32]byte
	Verified         bool
	CreatedMonotonicMs uint64
}

// UnverifiedTTLMs is how long a pending (unverified) record survives
// before GC reclaims it (spec.md §3).
const UnverifiedTTLMs = 5 * 60 * 1000

// Store is the thread-safe pending/verified PairingRecord table.
type Store struct {
	mu      sync.RWMutex
	records map[types.NodeId]*Record
	onChange func(Record)
}

func New() *Store {
	return &Store{records: make(map[types.NodeId]*Record)}
}

// OnChange registers the callback used to emit PairingStateChanged events
// (spec.md §6). Only one subscriber is needed: the engine's event broker
// fans it out further.
func (s *Store) OnChange(fn func(Record)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *Store) notify(r Record) {
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()
	if fn != nil {
		fn(r)
	}
}

// Put inserts or replaces a record (used after ingesting a pairing blob).
func (s *Store) Put(r *Record) {
	s.mu.Lock()
	cp := *r
	s.records[r.PeerNodeID] = &cp
	s.mu.Unlock()
	s.notify(cp)
}

// Get returns a copy of the record for peer, if any.
func (s *Store) Get(peer types.NodeId) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[peer]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// MarkVerified flips the verified bit in place, returning the updated copy.
func (s *Store) MarkVerified(peer types.NodeId) (Record, bool) {
	s.mu.Lock()
	r, ok := s.records[peer]
	if !ok {
		s.mu.Unlock()
		return Record{}, false
	}
	r.Verified = true
	cp := *r
	s.mu.Unlock()
	s.notify(cp)
	return cp, true
}

// List returns verified records only — the UI-facing view (spec.md §4.9).
func (s *Store) List() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		if r.Verified {
			out = append(out, *r)
		}
	}
	return out
}

// Remove is an explicit administrative action, never automatic.
func (s *Store) Remove(peer types.NodeId) {
	s.mu.Lock()
	delete(s.records, peer)
	s.mu.Unlock()
}

// Clear drops every record — used by rotate_keys, which forces every peer
// to re-bond against the new identity key.
func (s *Store) Clear() {
	s.mu.Lock()
	s.records = make(map[types.NodeId]*Record)
	s.mu.Unlock()
}

// GC evicts unverified records older than UnverifiedTTLMs. Verified
// entries persist until rotate_keys or explicit removal.
func (s *Store) GC(nowMs uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for peer, r := range s.records {
		if !r.Verified && nowMs-r.CreatedMonotonicMs > UnverifiedTTLMs {
			delete(s.records, peer)
		}
	}
}
