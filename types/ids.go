// Package types holds the identifiers and small value types shared across
// every mesh component: NodeId, packet/capability tags, and wire constants.
// Splitting these out of any one component avoids import cycles between
// wire, crypto, routing, and pipeline, all of which need them.
package types

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// NodeIdSize is the width of an opaque node identifier, per spec.md §3.
const NodeIdSize = 16

// NodeId is generated once per process and persisted by the host across
// restarts. Lexicographic byte comparison defines tie-breaking order.
type NodeId [NodeIdSize]byte

// BroadcastID is the all-zero destination meaning "every subscriber".
var BroadcastID = NodeId{}

// NewNodeId draws a fresh random identifier from a crypto-grade source.
func NewNodeId() (NodeId, error) {
	var id NodeId
	if _, err := rand.Read(id[:]); err != nil {
		return NodeId{}, fmt.Errorf("types: generate node id: %w", err)
	}
	return id, nil
}

func (id NodeId) IsBroadcast() bool { return id == BroadcastID }

// Less implements the lexicographic tie-break ordering used by routing and
// RREQ/RREP dedup.
func (id NodeId) Less(other NodeId) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

func (id NodeId) String() string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// ParseNodeId parses the String() representation back into a NodeId, for
// CLI/config surfaces that accept a node id as text.
func ParseNodeId(s string) (NodeId, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return NodeId{}, fmt.Errorf("types: parse node id: %w", err)
	}
	if len(raw) != NodeIdSize {
		return NodeId{}, fmt.Errorf("types: parse node id: expected %d bytes, got %d", NodeIdSize, len(raw))
	}
	var id NodeId
	copy(id[:], raw)
	return id, nil
}

// PacketID is a 128-bit identifier, wide enough to dedup collision-free
// over the bounded DEDUP_WINDOW (spec.md §3, invariant 3).
type PacketID [16]byte

func NewPacketID() (PacketID, error) {
	var id PacketID
	if _, err := rand.Read(id[:]); err != nil {
		return PacketID{}, fmt.Errorf("types: generate packet id: %w", err)
	}
	return id, nil
}

func (id PacketID) String() string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// Capability is a bit in a Peer's capability set.
type Capability uint8

const (
	CapVoice Capability = 1 << iota
	CapText
	CapEmergency
	CapRelay
)

type Capabilities uint8

func (c Capabilities) Has(cap Capability) bool { return c&Capabilities(cap) != 0 }
func (c Capabilities) With(cap Capability) Capabilities {
	return c | Capabilities(cap)
}

// PacketType tags the payload kind carried by a wire packet. A tagged sum
// type stands in for the source's string-typed messages (spec.md §9).
type PacketType uint8

const (
	PacketVoice PacketType = iota
	PacketText
	PacketEmergency
	PacketHeartbeat
	PacketRREQ
	PacketRREP
	PacketAck
)

func (t PacketType) String() string {
	switch t {
	case PacketVoice:
		return "voice"
	case PacketText:
		return "text"
	case PacketEmergency:
		return "emergency"
	case PacketHeartbeat:
		return "heartbeat"
	case PacketRREQ:
		return "rreq"
	case PacketRREP:
		return "rrep"
	case PacketAck:
		return "ack"
	default:
		return "unknown"
	}
}

// TransportKind names one of the polymorphic transport implementations
// (spec.md §4.3).
type TransportKind uint8

const (
	TransportDirectLan TransportKind = iota
	TransportRelayServer
	TransportShortRange
	TransportLocalBus
)

func (k TransportKind) String() string {
	switch k {
	case TransportDirectLan:
		return "direct_lan"
	case TransportRelayServer:
		return "relay_server"
	case TransportShortRange:
		return "short_range"
	case TransportLocalBus:
		return "local_bus"
	default:
		return "unknown"
	}
}

// BandwidthEstimateKbps are the route-scorer hints from spec.md §4.3.
func (k TransportKind) BandwidthEstimateKbps() int {
	switch k {
	case TransportDirectLan:
		return 2000
	case TransportRelayServer:
		return 1000
	case TransportShortRange:
		return 100
	case TransportLocalBus:
		return 10000
	default:
		return 0
	}
}

// Priority levels used by the packet pipeline's priority queues.
type Priority uint8

const (
	PriorityLowest Priority = 0
	PriorityNormal Priority = 5
	PriorityEmergency Priority = 10
)

// Default protocol parameters (spec.md §6); all are overridable via Config.
const (
	DefaultAnnounceIntervalMs = 30_000
	DefaultStalePeerMs        = 120_000
	DefaultRouteStaleMs       = 300_000
	DefaultMaxHops            = 5
	MinMaxHops                = 1
	MaxMaxHops                = 10
	DefaultMaxPayloadBytes    = 65_536
	DefaultDedupWindowMs      = 300_000
	DefaultDedupCapacity      = 4096
	DefaultMaxConnections     = 64
	DefaultParkedCapacity     = 512
	MaxRoutesPerDestination   = 3
	ConnectionsPerPeer        = 2
)
