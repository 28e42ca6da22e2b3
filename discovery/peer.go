/* SPDX-License-Identifier: MIT
 *
 * Package discovery implements spec.md §4.4: periodic self-announce on
 * every available transport, ingestion of received announcements into a
 * Peer directory, and a stale-peer sweep. Modeled on the teacher's own
 * device.peers map (device/device.go) — one RWMutex-guarded map indexed
 * by stable ID, refreshed on every inbound touch, with a background
 * ticker doing the eviction sweep the way the teacher's timers.go drives
 * expiry via its own Timer wrapper around time.AfterFunc.
 */
package discovery

import (
	"github.com/SaemsCodes/offline-radio-sub000/types"
)

// Peer is the directory entry from spec.md §3.
type Peer struct {
	NodeID             types.NodeId
	DisplayName        string
	Capabilities       types.Capabilities
	BatteryPercent     uint8
	LastSeenMonotonic  uint64
	SignalStrength     uint8
	BestTransport      types.TransportKind
	IsReachable        bool
}

func (p Peer) clone() Peer { return p }

// Announcement is the payload broadcast every ANNOUNCE_INTERVAL and
// carried in an inbound raw announce frame.
type Announcement struct {
	NodeID       types.NodeId
	Capabilities types.Capabilities
	Battery      uint8
	MonotonicMs  uint64
}
