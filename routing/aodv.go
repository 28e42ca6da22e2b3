/* SPDX-License-Identifier: MIT
 *
 * On-demand route discovery, spec.md §4.6: RREQ flooded with loop
 * suppression via a seen-id cache (the same dedup-by-id idea as the
 * Pipeline's packet cache, kept as a private instance here rather than a
 * shared one to avoid a routing<->pipeline import cycle — RREQ/RREP ids
 * are a disjoint id space from data packet_ids). RREP installs a forward
 * route at every hop it crosses, only overwriting an existing duplicate
 * when its score is strictly higher.
 */
package routing

import (
	"fmt"
	"sync"
	"time"

	"github.com/SaemsCodes/offline-radio-sub000/types"
)

const discoveryTimeout = 3 * time.Second

// rreqPayload: rreq_id:16 | source:16 | destination:16 | hop_count:1
type rreqPayload struct {
	RreqID      types.PacketID
	Source      types.NodeId
	Destination types.NodeId
	HopCount    uint8
}

func encodeRREQ(p rreqPayload) []byte {
	b := make([]byte, 49)
	copy(b[0:16], p.RreqID[:])
	copy(b[16:32], p.Source[:])
	copy(b[32:48], p.Destination[:])
	b[48] = p.HopCount
	return b
}

func decodeRREQ(b []byte) (rreqPayload, error) {
	if len(b) != 49 {
		return rreqPayload{}, fmt.Errorf("routing: malformed rreq payload (%d bytes)", len(b))
	}
	var p rreqPayload
	copy(p.RreqID[:], b[0:16])
	copy(p.Source[:], b[16:32])
	copy(p.Destination[:], b[32:48])
	p.HopCount = b[48]
	return p, nil
}

// rrepPayload: rreq_id:16 | destination:16 | hop_count:1
type rrepPayload struct {
	RreqID      types.PacketID
	Destination types.NodeId
	HopCount    uint8
}

func encodeRREP(p rrepPayload) []byte {
	b := make([]byte, 33)
	copy(b[0:16], p.RreqID[:])
	copy(b[16:32], p.Destination[:])
	b[32] = p.HopCount
	return b
}

func decodeRREP(b []byte) (rrepPayload, error) {
	if len(b) != 33 {
		return rrepPayload{}, fmt.Errorf("routing: malformed rrep payload (%d bytes)", len(b))
	}
	var p rrepPayload
	copy(p.RreqID[:], b[0:16])
	copy(p.Destination[:], b[16:32])
	p.HopCount = b[32]
	return p, nil
}

// reverseRoute is installed on a node relaying a not-yet-seen RREQ: the
// path back toward the RREQ's originator, via whichever peer it arrived
// from.
type reverseRoute struct {
	source  types.NodeId
	nextHop types.NodeId
}

type pendingRREQ struct {
	seenAtMs uint64
}

// discoveryState tracks in-flight RREQs, reverse routes installed while
// relaying them, and waiters blocked in ResolveRoute until a matching
// route appears or the 3s discovery budget expires.
type discoveryState struct {
	mu       sync.Mutex
	seen     map[types.PacketID]pendingRREQ
	reverse  map[types.PacketID]reverseRoute
	waiters  map[types.NodeId][]chan struct{}
}

func newDiscoveryState() *discoveryState {
	return &discoveryState{
		seen:    make(map[types.PacketID]pendingRREQ),
		reverse: make(map[types.PacketID]reverseRoute),
		waiters: make(map[types.NodeId][]chan struct{}),
	}
}

func (d *discoveryState) markSeen(id types.PacketID, nowMs uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		return false
	}
	d.seen[id] = pendingRREQ{seenAtMs: nowMs}
	return true
}

func (d *discoveryState) installReverse(id types.PacketID, r reverseRoute) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reverse[id] = r
}

func (d *discoveryState) getReverse(id types.PacketID) (reverseRoute, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.reverse[id]
	return r, ok
}

func (d *discoveryState) expire(nowMs, windowMs uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, p := range d.seen {
		if nowMs-p.seenAtMs > windowMs {
			delete(d.seen, id)
			delete(d.reverse, id)
		}
	}
}

// waitFor registers a waiter for dest and returns a channel closed by
// notify once a route is installed (or the caller's own timeout fires).
func (d *discoveryState) waitFor(dest types.NodeId) chan struct{} {
	ch := make(chan struct{})
	d.mu.Lock()
	d.waiters[dest] = append(d.waiters[dest], ch)
	d.mu.Unlock()
	return ch
}

func (d *discoveryState) notify(dest types.NodeId) {
	d.mu.Lock()
	waiters := d.waiters[dest]
	delete(d.waiters, dest)
	d.mu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}

func newPacketID(rng interface{ Read([]byte) (int, error) }) (types.PacketID, error) {
	var id types.PacketID
	if _, err := rng.Read(id[:]); err != nil {
		return types.PacketID{}, err
	}
	return id, nil
}
