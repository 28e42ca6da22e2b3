/* SPDX-License-Identifier: MIT
 *
 * Package status implements spec.md §4.10: a rolling snapshot of battery,
 * connectivity, signal quality, peer counts and routing health, recomputed
 * at most once per 5s from the Directory/Router/host state and fanned
 * out through the shared events.Broker the same way channel.Layer fans out
 * Transmissions — subscribers get the current snapshot immediately on
 * subscribe and again on every change, mirroring the teacher's own
 * "push current state, then push deltas" shape for peer/config observers.
 */
package status

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/SaemsCodes/offline-radio-sub000/events"
	"github.com/SaemsCodes/offline-radio-sub000/host"
)

// metrics mirrors the Snapshot fields as Prometheus gauges, registered
// against a private registry (not the global DefaultRegisterer) so a
// process embedding multiple Engines never collides on metric names.
type metrics struct {
	battery     prometheus.Gauge
	online      prometheus.Gauge
	peerCount   prometheus.Gauge
	activePeers prometheus.Gauge
	avgLatency  prometheus.Gauge
	reliability prometheus.Gauge
}

func newMetrics() *metrics {
	m := &metrics{
		battery:     prometheus.NewGauge(prometheus.GaugeOpts{Name: "mesh_battery_percent", Help: "Host battery percentage."}),
		online:      prometheus.NewGauge(prometheus.GaugeOpts{Name: "mesh_online", Help: "1 if the host network interface is up."}),
		peerCount:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "mesh_peer_count", Help: "Peers known to the directory."}),
		activePeers: prometheus.NewGauge(prometheus.GaugeOpts{Name: "mesh_active_peer_count", Help: "Peers with an installed route."}),
		avgLatency:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "mesh_avg_latency_ms", Help: "Average best-route latency in milliseconds."}),
		reliability: prometheus.NewGauge(prometheus.GaugeOpts{Name: "mesh_route_reliability", Help: "Average best-route reliability score."}),
	}
	return m
}

// Registry exposes the private prometheus.Registry so cmd/meshd can serve
// it over /metrics without touching the global DefaultRegisterer.
func (m *Monitor) Registry() *prometheus.Registry { return m.registry }

func (m *metrics) set(s Snapshot) {
	m.battery.Set(float64(s.Battery))
	if s.Online {
		m.online.Set(1)
	} else {
		m.online.Set(0)
	}
	m.peerCount.Set(float64(s.PeerCount))
	m.activePeers.Set(float64(s.ActivePeerCount))
	m.avgLatency.Set(s.AvgLatencyMs)
	m.reliability.Set(s.Reliability)
}

// RecomputeInterval is the spec.md §4.10 throttle: "recomputed at most
// once per 5s".
const RecomputeInterval = 5 * time.Second

// Quality is the bucketed signal-quality rating of spec.md §4.10's table.
type Quality uint8

const (
	QualityNone Quality = iota
	QualityPoor
	QualityGood
	QualityExcellent
)

func (q Quality) String() string {
	switch q {
	case QualityPoor:
		return "poor"
	case QualityGood:
		return "good"
	case QualityExcellent:
		return "excellent"
	default:
		return "none"
	}
}

// bucket implements the table from spec.md §4.10.
func bucket(activePeers int, reliability float64) Quality {
	switch {
	case activePeers >= 3 && reliability >= 90:
		return QualityExcellent
	case activePeers >= 2 && reliability >= 75:
		return QualityGood
	case activePeers >= 1 && reliability >= 50:
		return QualityPoor
	default:
		return QualityNone
	}
}

// Snapshot is the public status value of spec.md §4.10.
type Snapshot struct {
	Battery             uint8
	Online              bool
	SignalQuality       Quality
	PeerCount           int
	ActivePeerCount     int
	AvgLatencyMs        float64
	Reliability         float64
	TransportsAvailable []string
}

// PeerSource is the narrow slice of discovery.Directory Status needs.
type PeerSource interface {
	Count() int
}

// RouteSource is the narrow slice of routing.Router Status needs; it
// mirrors routing.Aggregate's fields rather than importing routing
// directly, avoiding a routing<->status import cycle.
type RouteSource interface {
	Snapshot() (routeCount int, avgLatencyMs, avgReliability float64)
}

// equal compares two Snapshots field by field since TransportsAvailable's
// slice type makes Snapshot itself incomparable with ==.
func (s Snapshot) equal(o Snapshot) bool {
	if s.Battery != o.Battery || s.Online != o.Online || s.SignalQuality != o.SignalQuality ||
		s.PeerCount != o.PeerCount || s.ActivePeerCount != o.ActivePeerCount ||
		s.AvgLatencyMs != o.AvgLatencyMs || s.Reliability != o.Reliability {
		return false
	}
	if len(s.TransportsAvailable) != len(o.TransportsAvailable) {
		return false
	}
	for i, t := range s.TransportsAvailable {
		if t != o.TransportsAvailable[i] {
			return false
		}
	}
	return true
}

// Monitor recomputes and publishes Status snapshots (spec.md §4.10).
type Monitor struct {
	clock  host.Clock
	broker *events.Broker
	log    logrus.FieldLogger

	peers   PeerSource
	routes  RouteSource
	devices host.StatusProvider

	mu       sync.Mutex
	last     Snapshot
	lastMs   uint64
	hasLast  bool
	cancel   func()

	registry *prometheus.Registry
	metrics  *metrics
}

func New(clock host.Clock, broker *events.Broker, log logrus.FieldLogger, peers PeerSource, routes RouteSource, devices host.StatusProvider) *Monitor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	m := newMetrics()
	registry := prometheus.NewRegistry()
	registry.MustRegister(m.battery, m.online, m.peerCount, m.activePeers, m.avgLatency, m.reliability)
	return &Monitor{clock: clock, broker: broker, log: log, peers: peers, routes: routes, devices: devices, registry: registry, metrics: m}
}

// Current recomputes the snapshot if RecomputeInterval has elapsed since
// the last computation, otherwise returns the cached value. Callers that
// only need an up-to-date read (not a subscription) use this directly.
func (m *Monitor) Current() Snapshot {
	now := m.clock.NowMs()

	m.mu.Lock()
	if m.hasLast && now-m.lastMs < uint64(RecomputeInterval.Milliseconds()) {
		snap := m.last
		m.mu.Unlock()
		return snap
	}
	snap := m.computeLocked()
	changed := !m.hasLast || !snap.equal(m.last)
	m.last = snap
	m.lastMs = now
	m.hasLast = true
	m.metrics.set(snap)
	m.mu.Unlock()

	// Published after m.mu is released so subscriber callbacks never run
	// under the monitor's lock.
	if changed && m.broker != nil {
		m.broker.Publish("status_changed", snap)
	}
	return snap
}

func (m *Monitor) computeLocked() Snapshot {
	dev := m.devices.DeviceStatus()

	peerCount := 0
	if m.peers != nil {
		peerCount = m.peers.Count()
	}

	var routeCount int
	var avgLatency, avgReliability float64
	if m.routes != nil {
		routeCount, avgLatency, avgReliability = m.routes.Snapshot()
	}

	return Snapshot{
		Battery:             dev.BatteryPercent,
		Online:              dev.Online,
		SignalQuality:       bucket(routeCount, avgReliability),
		PeerCount:           peerCount,
		ActivePeerCount:     routeCount,
		AvgLatencyMs:        avgLatency,
		Reliability:         avgReliability,
		TransportsAvailable: dev.TransportsAvailable,
	}
}

// Start launches a ticker that recomputes on RecomputeInterval so
// subscribers see updates even with no other trigger; StatusChanged
// events from peer/route activity (published via Refresh) arrive sooner.
func (m *Monitor) Start(done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(RecomputeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.Current()
			}
		}
	}()
}

// Refresh forces an immediate recompute, used by the Engine after events
// likely to move the snapshot (peer discovered/lost, route installed).
func (m *Monitor) Refresh() Snapshot {
	m.mu.Lock()
	m.hasLast = false
	m.mu.Unlock()
	return m.Current()
}

// Subscribe registers fn against every future snapshot and immediately
// invokes it once with the current snapshot (spec.md §4.10: "Subscribers
// receive snapshots immediately on subscribe and on change").
func (m *Monitor) Subscribe(fn func(Snapshot)) events.Token {
	// Read the snapshot before subscribing: a first-ever Current publishes
	// status_changed, which would otherwise reach fn a second time.
	snap := m.Current()
	token := m.broker.Subscribe("status_changed", func(payload any) {
		fn(payload.(Snapshot))
	})
	fn(snap)
	return token
}

func (m *Monitor) Unsubscribe(token events.Token) {
	m.broker.Unsubscribe(token)
}
