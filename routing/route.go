/* SPDX-License-Identifier: MIT
 *
 * Package routing implements spec.md §4.6: the per-destination route
 * table, score-based selection, AODV-style on-demand discovery, and
 * congestion detection. The table itself follows the same shape as the
 * teacher's device.peers directory (device/device.go) — one RWMutex
 * guarding a map keyed by stable ID — generalized from "one peer, one
 * entry" to "one destination, up to three scored candidate routes".
 */
package routing

import (
	"sort"
	"sync"

	"github.com/SaemsCodes/offline-radio-sub000/types"
)

// Route is spec.md §3's Route value.
type Route struct {
	DestinationID     types.NodeId
	NextHopID         types.NodeId
	HopCount          uint8
	EwmaLatencyMs     float64
	Reliability       float64 // 0..100
	LastUpdatedMs     uint64
	TransportKind     types.TransportKind
	BandwidthEstimate int
}

func (r Route) clone() Route { return r }

// table holds, per destination, up to MaxRoutesPerDestination candidates
// sorted best-score-first.
type table struct {
	mu     sync.RWMutex
	routes map[types.NodeId][]*Route
}

func newTable() *table {
	return &table{routes: make(map[types.NodeId][]*Route)}
}

// upsert installs or refreshes a route to dest via nextHop/transport. If
// an entry for the same (destination, next_hop, transport) exists it is
// refreshed in place; otherwise it is added, and the list is re-sorted
// and trimmed to MaxRoutesPerDestination, dropping the lowest scorer.
func (t *table) upsert(nowMs uint64, r Route) {
	t.mu.Lock()
	defer t.mu.Unlock()

	list := t.routes[r.DestinationID]
	for i, existing := range list {
		if existing.NextHopID == r.NextHopID && existing.TransportKind == r.TransportKind {
			list[i] = &r
			t.resortLocked(r.DestinationID, nowMs)
			return
		}
	}

	list = append(list, &r)
	t.routes[r.DestinationID] = list
	t.resortLocked(r.DestinationID, nowMs)
}

func (t *table) resortLocked(dest types.NodeId, nowMs uint64) {
	list := t.routes[dest]
	sort.Slice(list, func(i, j int) bool {
		return score(list[i], nowMs) > score(list[j], nowMs)
	})
	if len(list) > types.MaxRoutesPerDestination {
		list = list[:types.MaxRoutesPerDestination]
	}
	t.routes[dest] = list
}

// candidates returns a snapshot of every route known to dest, best first.
func (t *table) candidates(dest types.NodeId, nowMs uint64) []Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	list := t.routes[dest]
	out := make([]Route, len(list))
	for i, r := range list {
		out[i] = r.clone()
	}
	return out
}

// expire drops routes untouched for longer than routeStaleMs.
func (t *table) expire(nowMs, routeStaleMs uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for dest, list := range t.routes {
		kept := list[:0]
		for _, r := range list {
			if nowMs-r.LastUpdatedMs <= routeStaleMs {
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 {
			delete(t.routes, dest)
		} else {
			t.routes[dest] = kept
		}
	}
}

func (t *table) destinations() []types.NodeId {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]types.NodeId, 0, len(t.routes))
	for d := range t.routes {
		out = append(out, d)
	}
	return out
}
