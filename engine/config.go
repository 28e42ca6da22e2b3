/* SPDX-License-Identifier: MIT
 *
 * Config is the host-supplied start-up configuration of spec.md §6. It is
 * a single struct passed to engine.New, optionally populated from an INI
 * file via github.com/go-ini/ini (the teacher has no config file of its
 * own — WireGuard is driven entirely by its UAPI text protocol — but
 * facebook/time's daemons load go-ini INI files, the convention
 * cmd/meshd follows for a handheld device's on-disk settings).
 */
package engine

import (
	"github.com/SaemsCodes/offline-radio-sub000/types"
)

// TransportName identifies one of the four concrete transports by its
// config-file/CLI string, decoupled from types.TransportKind so Config
// stays serializable without importing the enum's String() quirks.
type TransportName string

const (
	TransportNameDirectLan    TransportName = "DirectLan"
	TransportNameRelayServer  TransportName = "RelayServer"
	TransportNameShortRange   TransportName = "ShortRange"
	TransportNameLocalBus     TransportName = "LocalBus"
)

// Config bundles every recognized start-up option from spec.md §6.
// Zero-valued fields fall back to the listed defaults in Normalize.
type Config struct {
	NodeID types.NodeId // generated if zero-valued and persisted by Host.Store

	DisplayName string
	Capabilities types.Capabilities
	InitialChannel uint8

	AnnounceIntervalMs uint64
	StalePeerMs        uint64
	RouteStaleMs       uint64
	MaxHops            uint8
	MaxPayloadBytes    uint32
	DedupWindowMs      uint64
	DedupCapacity      int
	MaxConnections     int
	ParkedCapacity     int

	TransportsEnabled []TransportName

	// DirectLanPort is the UDP port DirectLan binds, when enabled.
	DirectLanPort uint16
	// RelayAddr is the rendezvous server address, when RelayServer is enabled.
	RelayAddr string
	// ShortRangeDevice is the serial device path, when ShortRange is enabled.
	ShortRangeDevice string
	// LocalBusRendezvousDir is the shared directory LocalBus peers meet in.
	LocalBusRendezvousDir string
}

// Normalize fills unset fields with spec.md §6's documented defaults and
// clamps max_hops to [1, 10].
func (c *Config) Normalize() {
	if c.AnnounceIntervalMs == 0 {
		c.AnnounceIntervalMs = types.DefaultAnnounceIntervalMs
	}
	if c.StalePeerMs == 0 {
		c.StalePeerMs = types.DefaultStalePeerMs
	}
	if c.RouteStaleMs == 0 {
		c.RouteStaleMs = types.DefaultRouteStaleMs
	}
	if c.MaxHops == 0 {
		c.MaxHops = types.DefaultMaxHops
	}
	if c.MaxHops < types.MinMaxHops {
		c.MaxHops = types.MinMaxHops
	}
	if c.MaxHops > types.MaxMaxHops {
		c.MaxHops = types.MaxMaxHops
	}
	if c.MaxPayloadBytes == 0 {
		c.MaxPayloadBytes = types.DefaultMaxPayloadBytes
	}
	if c.DedupWindowMs == 0 {
		c.DedupWindowMs = types.DefaultDedupWindowMs
	}
	if c.DedupCapacity == 0 {
		c.DedupCapacity = types.DefaultDedupCapacity
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = types.DefaultMaxConnections
	}
	if c.ParkedCapacity == 0 {
		c.ParkedCapacity = types.DefaultParkedCapacity
	}
	if c.InitialChannel == 0 {
		c.InitialChannel = 1
	}
	if len(c.TransportsEnabled) == 0 {
		c.TransportsEnabled = []TransportName{
			TransportNameDirectLan, TransportNameRelayServer,
			TransportNameShortRange, TransportNameLocalBus,
		}
	}
	if c.DirectLanPort == 0 {
		c.DirectLanPort = 7777
	}
	if c.LocalBusRendezvousDir == "" {
		c.LocalBusRendezvousDir = "/tmp/offline-radio-sub000-localbus"
	}
}

func (c Config) wants(name TransportName) bool {
	for _, t := range c.TransportsEnabled {
		if t == name {
			return true
		}
	}
	return false
}
