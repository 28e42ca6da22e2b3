/* SPDX-License-Identifier: MIT
 *
 * INI config loading (spec.md §6), grounded in facebook/time's calnex/config
 * use of github.com/go-ini/ini: a single [mesh] section with keys matching
 * engine.Config's fields, defaults filled by Config.Normalize when unset.
 */
package cmd

import (
	"strings"

	"github.com/go-ini/ini"

	"github.com/SaemsCodes/offline-radio-sub000/engine"
	"github.com/SaemsCodes/offline-radio-sub000/types"
)

func loadConfig(path string) (engine.Config, error) {
	var cfg engine.Config
	if path == "" {
		cfg.Normalize()
		return cfg, nil
	}

	f, err := ini.Load(path)
	if err != nil {
		return cfg, err
	}
	s := f.Section("mesh")

	cfg.DisplayName = s.Key("display_name").String()
	cfg.InitialChannel = uint8(s.Key("initial_channel").MustUint(1))

	cfg.AnnounceIntervalMs = s.Key("announce_interval_ms").MustUint64(uint64(types.DefaultAnnounceIntervalMs))
	cfg.StalePeerMs = s.Key("stale_peer_ms").MustUint64(uint64(types.DefaultStalePeerMs))
	cfg.RouteStaleMs = s.Key("route_stale_ms").MustUint64(uint64(types.DefaultRouteStaleMs))
	cfg.MaxHops = uint8(s.Key("max_hops").MustUint(uint(types.DefaultMaxHops)))
	cfg.MaxPayloadBytes = uint32(s.Key("max_payload_bytes").MustUint(uint(types.DefaultMaxPayloadBytes)))
	cfg.DedupWindowMs = s.Key("dedup_window_ms").MustUint64(uint64(types.DefaultDedupWindowMs))
	cfg.DedupCapacity = s.Key("dedup_capacity").MustInt(types.DefaultDedupCapacity)
	cfg.MaxConnections = s.Key("max_connections").MustInt(types.DefaultMaxConnections)
	cfg.ParkedCapacity = s.Key("parked_capacity").MustInt(types.DefaultParkedCapacity)

	cfg.DirectLanPort = uint16(s.Key("direct_lan_port").MustUint(7777))
	cfg.RelayAddr = s.Key("relay_addr").String()
	cfg.ShortRangeDevice = s.Key("short_range_device").String()
	cfg.LocalBusRendezvousDir = s.Key("local_bus_rendezvous_dir").String()

	if raw := s.Key("transports").String(); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			cfg.TransportsEnabled = append(cfg.TransportsEnabled, engine.TransportName(strings.TrimSpace(name)))
		}
	}

	var caps types.Capabilities
	for _, name := range strings.Split(s.Key("capabilities").String(), ",") {
		switch strings.TrimSpace(strings.ToLower(name)) {
		case "voice":
			caps = caps.With(types.CapVoice)
		case "text":
			caps = caps.With(types.CapText)
		case "emergency":
			caps = caps.With(types.CapEmergency)
		case "relay":
			caps = caps.With(types.CapRelay)
		}
	}
	cfg.Capabilities = caps

	cfg.Normalize()
	return cfg, nil
}
