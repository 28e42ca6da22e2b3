/* SPDX-License-Identifier: MIT
 *
 * Dedup cache for the Pipeline's ingress stage (spec.md §4.7): an LRU of
 * DedupCapacity packet_ids, each living for DEDUP_WINDOW. Because every
 * entry's TTL is identical, insertion order and expiry order coincide, so
 * one google/btree index ordered by expiry time serves both jobs: sweep
 * expired entries and evict the oldest when over capacity. This reuses
 * the same library the Connection Pool already wires for its own
 * LRU-by-last-used index (pool/pool.go), rather than hand-rolling a
 * second linked-list LRU for what is structurally the same problem.
 */
package pipeline

import (
	"bytes"
	"sync"

	"github.com/google/btree"

	"github.com/SaemsCodes/offline-radio-sub000/types"
)

type dedupEntry struct {
	id          types.PacketID
	expiresAtMs uint64
}

func (a dedupEntry) Less(than btree.Item) bool {
	b := than.(dedupEntry)
	if a.expiresAtMs != b.expiresAtMs {
		return a.expiresAtMs < b.expiresAtMs
	}
	return bytes.Compare(a.id[:], b.id[:]) < 0
}

type dedupCache struct {
	mu       sync.Mutex
	index    map[types.PacketID]dedupEntry
	tree     *btree.BTree
	capacity int
	windowMs uint64
}

func newDedupCache(capacity int, windowMs uint64) *dedupCache {
	return &dedupCache{
		index:    make(map[types.PacketID]dedupEntry),
		tree:     btree.New(32),
		capacity: capacity,
		windowMs: windowMs,
	}
}

// seenAndMark reports whether id is already present (and thus a
// duplicate to be dropped silently); otherwise it inserts id with a
// fresh expiry and returns false.
func (d *dedupCache) seenAndMark(id types.PacketID, nowMs uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.index[id]; ok && existing.expiresAtMs > nowMs {
		return true
	}

	entry := dedupEntry{id: id, expiresAtMs: nowMs + d.windowMs}
	if old, ok := d.index[id]; ok {
		d.tree.Delete(old)
	}
	d.index[id] = entry
	d.tree.ReplaceOrInsert(entry)

	for len(d.index) > d.capacity {
		oldest := d.tree.Min()
		if oldest == nil {
			break
		}
		e := oldest.(dedupEntry)
		d.tree.Delete(e)
		delete(d.index, e.id)
	}
	return false
}

// expire drops every entry whose TTL has elapsed; called periodically so
// the cache does not grow unbounded between bursts of traffic.
func (d *dedupCache) expire(nowMs uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for {
		min := d.tree.Min()
		if min == nil {
			return
		}
		e := min.(dedupEntry)
		if e.expiresAtMs > nowMs {
			return
		}
		d.tree.Delete(e)
		delete(d.index, e.id)
	}
}
