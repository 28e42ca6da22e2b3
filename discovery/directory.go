/* SPDX-License-Identifier: MIT */
package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SaemsCodes/offline-radio-sub000/events"
	"github.com/SaemsCodes/offline-radio-sub000/host"
	"github.com/SaemsCodes/offline-radio-sub000/types"
)

// RouteInstaller is the narrow slice of Routing that Discovery drives:
// every inbound announcement installs or refreshes a 1-hop Route (spec.md
// §4.4). Kept as an interface rather than importing routing directly to
// avoid a routing<->discovery import cycle (routing reads the Peer
// directory for route-destination existence checks, per invariant 1).
type RouteInstaller interface {
	InstallDirectRoute(peer types.NodeId, transport types.TransportKind, signalStrength uint8, nowMs uint64)
}

// Announcer is the narrow slice of the Transport/Pool layer Discovery
// needs to emit announcements: one Broadcast call per available
// transport, the way the teacher's device loops over every configured
// conn.Bind to send to all peers.
type Announcer interface {
	Kind() types.TransportKind
	Available() bool
	Broadcast(ctx context.Context, b []byte) error
}

// Encoder turns an Announcement into wire bytes and the reverse; the
// engine wires it to announceCodec, a fixed-size raw frame that does not
// go through wire.Encode/Decode, so this package stays free of the wire
// package's packet-specific framing concerns.
type Encoder interface {
	EncodeAnnouncement(a Announcement) ([]byte, error)
	DecodeAnnouncement(b []byte) (Announcement, error)
}

// Directory is the Peer directory: created on first announcement,
// refreshed on every received announcement or packet, evicted after
// StalePeerMs without activity.
type Directory struct {
	self types.NodeId

	clock    host.Clock
	broker   *events.Broker
	log      logrus.FieldLogger
	routes   RouteInstaller
	stalePeerMs uint64
	announceIntervalMs uint64

	mu    sync.RWMutex
	peers map[types.NodeId]*Peer

	transports []Announcer
	encoder    Encoder

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func New(self types.NodeId, clock host.Clock, broker *events.Broker, routes RouteInstaller, log logrus.FieldLogger, stalePeerMs, announceIntervalMs uint64) *Directory {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Directory{
		self:               self,
		clock:              clock,
		broker:             broker,
		log:                log,
		routes:             routes,
		stalePeerMs:        stalePeerMs,
		announceIntervalMs: announceIntervalMs,
		peers:              make(map[types.NodeId]*Peer),
	}
}

// Configure wires the transports to announce on and the codec used to
// serialize Announcement payloads. Called once, before Start.
func (d *Directory) Configure(transports []Announcer, encoder Encoder) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transports = transports
	d.encoder = encoder
}

// Start launches the periodic self-announce and stale-sweep loops; both
// stop when ctx is cancelled or Stop is called.
func (d *Directory) Start(ctx context.Context, selfStatus func() (caps types.Capabilities, battery uint8)) {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.wg.Add(2)
	go d.announceLoop(ctx, selfStatus)
	go d.sweepLoop(ctx)
}

func (d *Directory) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *Directory) announceLoop(ctx context.Context, selfStatus func() (types.Capabilities, uint8)) {
	defer d.wg.Done()
	ticker := time.NewTicker(time.Duration(d.announceIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	d.announceOnce(ctx, selfStatus)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.announceOnce(ctx, selfStatus)
		}
	}
}

func (d *Directory) announceOnce(ctx context.Context, selfStatus func() (types.Capabilities, uint8)) {
	d.mu.RLock()
	transports := d.transports
	encoder := d.encoder
	d.mu.RUnlock()
	if encoder == nil {
		return
	}

	caps, battery := selfStatus()
	ann := Announcement{
		NodeID:       d.self,
		Capabilities: caps,
		Battery:      battery,
		MonotonicMs:  d.clock.NowMs(),
	}
	b, err := encoder.EncodeAnnouncement(ann)
	if err != nil {
		d.log.WithError(err).Warn("discovery: encode announcement")
		return
	}

	for _, t := range transports {
		if !t.Available() {
			continue
		}
		if err := t.Broadcast(ctx, b); err != nil {
			d.log.WithFields(logrus.Fields{"transport": t.Kind().String()}).WithError(err).Debug("discovery: announce broadcast failed")
		}
	}
}

func (d *Directory) sweepLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweep()
		}
	}
}

func (d *Directory) sweep() {
	now := d.clock.NowMs()
	var lost []types.NodeId

	d.mu.Lock()
	for id, p := range d.peers {
		if now-p.LastSeenMonotonic > d.stalePeerMs {
			delete(d.peers, id)
			lost = append(lost, id)
		}
	}
	d.mu.Unlock()

	for _, id := range lost {
		if d.broker != nil {
			d.broker.Publish("peer_lost", id)
		}
	}
}

// Ingest processes a received announcement: insert-or-refresh the Peer
// entry, install/refresh the 1-hop Route, and emit peer_discovered or
// peer_updated.
func (d *Directory) Ingest(ann Announcement, inboundTransport types.TransportKind, signalStrength uint8) {
	if ann.NodeID == d.self {
		return
	}
	now := d.clock.NowMs()

	d.mu.Lock()
	existing, wasKnown := d.peers[ann.NodeID]
	p := &Peer{
		NodeID:            ann.NodeID,
		Capabilities:      ann.Capabilities,
		BatteryPercent:    ann.Battery,
		LastSeenMonotonic: now,
		SignalStrength:    signalStrength,
		BestTransport:     inboundTransport,
		IsReachable:       true,
	}
	if wasKnown {
		p.DisplayName = existing.DisplayName
	}
	d.peers[ann.NodeID] = p
	d.mu.Unlock()

	if d.routes != nil {
		d.routes.InstallDirectRoute(ann.NodeID, inboundTransport, signalStrength, now)
	}

	if d.broker != nil {
		if wasKnown {
			d.broker.Publish("peer_updated", p.clone())
		} else {
			d.broker.Publish("peer_discovered", p.clone())
		}
	}
}

// Touch refreshes LastSeenMonotonic for a peer seen via any non-announce
// packet (spec.md §3: "refreshed on every received announcement or
// packet"), without altering its other fields.
func (d *Directory) Touch(id types.NodeId) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.peers[id]; ok {
		p.LastSeenMonotonic = d.clock.NowMs()
	}
}

func (d *Directory) Get(id types.NodeId) (Peer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.peers[id]
	if !ok {
		return Peer{}, false
	}
	return p.clone(), true
}

// List returns a snapshot of every known peer.
func (d *Directory) List() []Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Peer, 0, len(d.peers))
	for _, p := range d.peers {
		out = append(out, p.clone())
	}
	return out
}

func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.peers)
}
