/* SPDX-License-Identifier: MIT
 *
 * Router is the public façade of the routing package: selection (spec.md
 * §4.6 steps 1-4), on-demand RREQ/RREP discovery, congestion tracking and
 * route measurement. It is constructed once per Engine and wired to the
 * Pipeline for emitting RREQ/RREP control packets (data packets queued
 * pending discovery are retried by the Pipeline itself) the same way the teacher
 * wires one *Device to many *Peer — a single owner, narrow interfaces
 * outward.
 */
package routing

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SaemsCodes/offline-radio-sub000/host"
	"github.com/SaemsCodes/offline-radio-sub000/ratelimiter"
	"github.com/SaemsCodes/offline-radio-sub000/types"
)

// PacketEmitter is the narrow slice of the Pipeline that Routing drives:
// injecting freshly built RREQ/RREP control packets as if they were
// locally originated egress traffic.
type PacketEmitter interface {
	EmitControlPacket(p *types.Packet) error
}

type Router struct {
	self   types.NodeId
	clock  host.Clock
	rng    host.Random
	log    logrus.FieldLogger
	emit   PacketEmitter
	maxHops uint8
	routeStaleMs uint64
	dedupWindowMs uint64

	table       *table
	congestion  *congestionTracker
	discovery   *discoveryState

	// rreqLimiter bounds how often any single inboundPeer may trigger
	// this node to process/forward RREQ floods, independent of the
	// per-rreq_id dedup in discoveryState (which only stops the *same*
	// request being handled twice, not a peer minting new ones rapidly).
	rreqLimiter *ratelimiter.Ratelimiter

	cancel context.CancelFunc
}

func New(self types.NodeId, clock host.Clock, rng host.Random, log logrus.FieldLogger, maxHops uint8, routeStaleMs, dedupWindowMs uint64) *Router {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Router{
		self:          self,
		clock:         clock,
		rng:           rng,
		log:           log,
		maxHops:       maxHops,
		routeStaleMs:  routeStaleMs,
		dedupWindowMs: dedupWindowMs,
		table:         newTable(),
		congestion:    newCongestionTracker(),
		discovery:     newDiscoveryState(),
	}
}

// Configure wires the Pipeline emitter; separated from New so Engine can
// build Router and Pipeline independently and tie them together once
// both exist.
func (r *Router) Configure(emit PacketEmitter) { r.emit = emit }

// SetRREQLimiter installs a flood guard on inbound RREQ processing, keyed
// by the peer the RREQ physically arrived from. Optional: a nil or
// unset limiter means every RREQ is processed (still deduped by id).
func (r *Router) SetRREQLimiter(l *ratelimiter.Ratelimiter) { r.rreqLimiter = l }

// Start launches the background route/reverse-route expiry and
// congestion-decay tickers.
func (r *Router) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	go r.expiryLoop(ctx)
	go r.decayLoop(ctx)
}

func (r *Router) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Router) expiryLoop(ctx context.Context) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := r.clock.NowMs()
			r.table.expire(now, r.routeStaleMs)
			r.discovery.expire(now, r.dedupWindowMs)
		}
	}
}

func (r *Router) decayLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.congestion.decay()
		}
	}
}

// InstallDirectRoute implements discovery.RouteInstaller: a 1-hop route
// straight from a received announcement.
func (r *Router) InstallDirectRoute(peer types.NodeId, transport types.TransportKind, signalStrength uint8, nowMs uint64) {
	r.table.upsert(nowMs, Route{
		DestinationID:     peer,
		NextHopID:         peer,
		HopCount:          1,
		EwmaLatencyMs:     0,
		Reliability:       float64(signalStrength),
		LastUpdatedMs:     nowMs,
		TransportKind:     transport,
		BandwidthEstimate: transport.BandwidthEstimateKbps(),
	})
	r.discovery.notify(peer)
}

// PreferredTransports implements pool.RouteSource: the transport kinds of
// every candidate route to peer, best first.
func (r *Router) PreferredTransports(peer types.NodeId) []types.TransportKind {
	now := r.clock.NowMs()
	cands := r.table.candidates(peer, now)
	out := make([]types.TransportKind, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.TransportKind)
	}
	return out
}

// Select implements spec.md §4.6's selection algorithm for one packet.
// It does not itself trigger discovery; callers needing that fall back
// to ResolveRoute.
func (r *Router) Select(dest types.NodeId, qos types.QoS) (Route, bool) {
	now := r.clock.NowMs()
	cands := r.table.candidates(dest, now)
	if len(cands) == 0 {
		return Route{}, false
	}

	filtered := make([]Route, 0, len(cands))
	for _, c := range cands {
		if c.EwmaLatencyMs <= float64(qos.MaxLatencyMs) && c.BandwidthEstimate >= qos.MinBandwidthKbps {
			filtered = append(filtered, c)
		}
	}

	if len(filtered) == 0 {
		if qos.Priority == types.PriorityEmergency {
			return mostReliable(cands), true
		}
		return Route{}, false
	}

	best := filtered[0]
	bestWeight := score(&best, now) / (1 + r.congestion.level(best.NextHopID))
	for _, c := range filtered[1:] {
		w := score(&c, now) / (1 + r.congestion.level(c.NextHopID))
		if w > bestWeight {
			best, bestWeight = c, w
		}
	}
	return best, true
}

func mostReliable(cands []Route) Route {
	best := cands[0]
	for _, c := range cands[1:] {
		if c.Reliability > best.Reliability {
			best = c
		}
	}
	return best
}

// ResolveRoute selects a route, triggering on-demand RREQ discovery and
// blocking up to 3s (spec.md §4.6) if none is immediately available.
func (r *Router) ResolveRoute(ctx context.Context, dest types.NodeId, qos types.QoS) (Route, error) {
	if route, ok := r.Select(dest, qos); ok {
		return route, nil
	}

	waitCh := r.discovery.waitFor(dest)
	if err := r.broadcastRREQ(dest); err != nil {
		r.log.WithError(err).Debug("routing: rreq broadcast failed")
	}

	timeout := time.NewTimer(discoveryTimeout)
	defer timeout.Stop()

	select {
	case <-waitCh:
		if route, ok := r.Select(dest, qos); ok {
			return route, nil
		}
		return Route{}, types.ErrNoRoute
	case <-timeout.C:
		return Route{}, types.ErrNoRoute
	case <-ctx.Done():
		return Route{}, ctx.Err()
	}
}

func (r *Router) broadcastRREQ(dest types.NodeId) error {
	if r.emit == nil {
		return fmt.Errorf("routing: no packet emitter configured")
	}
	rreqID, err := newPacketID(r.rng)
	if err != nil {
		return fmt.Errorf("routing: generate rreq id: %w", err)
	}
	payload := encodeRREQ(rreqPayload{RreqID: rreqID, Source: r.self, Destination: dest, HopCount: 0})

	pid, err := types.NewPacketID()
	if err != nil {
		return err
	}
	p := &types.Packet{
		PacketID:      pid,
		SourceID:      r.self,
		DestinationID: types.BroadcastID,
		Type:          types.PacketRREQ,
		Priority:      types.PriorityNormal,
		TTL:           r.maxHops,
		RouteTrace:    []types.NodeId{r.self},
		TimestampMs:   r.clock.NowMs(),
		Payload:       payload,
	}
	return r.emit.EmitControlPacket(p)
}

// HandleInboundControl processes a received RREQ or RREP control packet,
// per spec.md §4.6. inboundPeer is the node this packet physically
// arrived from (for reverse-route installation); inboundTransport/signal
// feed the new route's quality fields.
func (r *Router) HandleInboundControl(p *types.Packet, inboundPeer types.NodeId, inboundTransport types.TransportKind, signal uint8) error {
	switch p.Type {
	case types.PacketRREQ:
		return r.handleRREQ(p, inboundPeer, inboundTransport, signal)
	case types.PacketRREP:
		return r.handleRREP(p, inboundPeer, inboundTransport, signal)
	default:
		return fmt.Errorf("routing: not a control packet type: %s", p.Type.String())
	}
}

func (r *Router) handleRREQ(p *types.Packet, inboundPeer types.NodeId, inboundTransport types.TransportKind, signal uint8) error {
	if r.rreqLimiter != nil && !r.rreqLimiter.Allow(inboundPeer) {
		return nil // flood guard: this peer is minting RREQs faster than the budget allows
	}

	req, err := decodeRREQ(p.Payload)
	if err != nil {
		return err
	}
	now := r.clock.NowMs()

	if !r.discovery.markSeen(req.RreqID, now) {
		return nil // already processed, drop
	}
	r.discovery.installReverse(req.RreqID, reverseRoute{source: req.Source, nextHop: inboundPeer})

	// The hop we heard this RREQ from is, transitively, a usable route
	// back toward its originator: install/refresh it the same way a
	// direct announcement would.
	r.table.upsert(now, Route{
		DestinationID:     req.Source,
		NextHopID:         inboundPeer,
		HopCount:          req.HopCount + 1,
		Reliability:       float64(signal),
		LastUpdatedMs:     now,
		TransportKind:     inboundTransport,
		BandwidthEstimate: inboundTransport.BandwidthEstimateKbps(),
	})

	if req.Destination == r.self {
		return r.sendRREP(req)
	}

	if req.HopCount+1 >= r.maxHops {
		return nil // would exceed MAX_HOPS, do not forward
	}
	if r.emit == nil {
		return fmt.Errorf("routing: no packet emitter configured")
	}
	fwd := encodeRREQ(rreqPayload{RreqID: req.RreqID, Source: req.Source, Destination: req.Destination, HopCount: req.HopCount + 1})
	out := p.Clone()
	out.Payload = fwd
	out.TTL--
	return r.emit.EmitControlPacket(out)
}

func (r *Router) sendRREP(req rreqPayload) error {
	if r.emit == nil {
		return fmt.Errorf("routing: no packet emitter configured")
	}
	rev, ok := r.discovery.getReverse(req.RreqID)
	if !ok {
		return fmt.Errorf("routing: no reverse route for rreq %s", req.RreqID.String())
	}

	payload := encodeRREP(rrepPayload{RreqID: req.RreqID, Destination: req.Destination, HopCount: 0})
	pid, err := types.NewPacketID()
	if err != nil {
		return err
	}
	p := &types.Packet{
		PacketID:      pid,
		SourceID:      r.self,
		DestinationID: rev.source,
		Type:          types.PacketRREP,
		Priority:      types.PriorityNormal,
		TTL:           r.maxHops,
		RouteTrace:    []types.NodeId{r.self},
		TimestampMs:   r.clock.NowMs(),
		Payload:       payload,
	}
	return r.emit.EmitControlPacket(p)
}

func (r *Router) handleRREP(p *types.Packet, inboundPeer types.NodeId, inboundTransport types.TransportKind, signal uint8) error {
	rep, err := decodeRREP(p.Payload)
	if err != nil {
		return err
	}
	now := r.clock.NowMs()

	candidate := Route{
		DestinationID:     rep.Destination,
		NextHopID:         inboundPeer,
		HopCount:          rep.HopCount + 1,
		Reliability:       float64(signal),
		LastUpdatedMs:     now,
		TransportKind:     inboundTransport,
		BandwidthEstimate: inboundTransport.BandwidthEstimateKbps(),
	}

	existing := r.table.candidates(rep.Destination, now)
	for _, e := range existing {
		if e.NextHopID == candidate.NextHopID && e.TransportKind == candidate.TransportKind {
			if score(&candidate, now) <= score(&e, now) {
				r.discovery.notify(rep.Destination)
				return nil // duplicate RREP does not beat existing score
			}
		}
	}

	r.table.upsert(now, candidate)
	r.discovery.notify(rep.Destination)

	if rep.Destination == r.self {
		return nil // the RREP describes a route to this node itself; nothing to relay
	}
	if p.DestinationID == r.self {
		return nil // this RREP's reverse path terminates here
	}
	if r.emit == nil {
		return fmt.Errorf("routing: no packet emitter configured")
	}
	fwd := encodeRREP(rrepPayload{RreqID: rep.RreqID, Destination: rep.Destination, HopCount: rep.HopCount + 1})
	out := p.Clone()
	out.Payload = fwd
	out.TTL--
	return r.emit.EmitControlPacket(out)
}

// RecordMeasurement updates the EWMA latency (α=0.3) of the route to
// nextHop used for dest, and feeds the congestion tracker, per spec.md
// §4.6's "any ACK received updates the corresponding route's EWMA
// latency".
func (r *Router) RecordMeasurement(dest, nextHop types.NodeId, latencyMs float64) {
	now := r.clock.NowMs()
	cands := r.table.candidates(dest, now)
	for _, c := range cands {
		if c.NextHopID != nextHop {
			continue
		}
		const alpha = 0.3
		updated := c
		if updated.EwmaLatencyMs == 0 {
			updated.EwmaLatencyMs = latencyMs
		} else {
			updated.EwmaLatencyMs = alpha*latencyMs + (1-alpha)*updated.EwmaLatencyMs
		}
		updated.LastUpdatedMs = now
		r.table.upsert(now, updated)
		r.congestion.observe(nextHop, latencyMs)
		return
	}
}

// Aggregate summarizes the route table for the Status & Metrics component
// (spec.md §4.10): mean latency and reliability across every destination's
// best candidate, and how many destinations currently have a route at all.
type Aggregate struct {
	RouteCount      int
	AvgLatencyMs    float64
	AvgReliability  float64
}

// Snapshot computes the current Aggregate. Cheap enough to call on every
// status recompute (at most once per 5s per spec.md §4.10) since it only
// touches each destination's best-scored candidate.
func (r *Router) Snapshot() Aggregate {
	now := r.clock.NowMs()
	dests := r.table.destinations()

	var agg Aggregate
	var latencySum, reliabilitySum float64
	for _, d := range dests {
		cands := r.table.candidates(d, now)
		if len(cands) == 0 {
			continue
		}
		best := cands[0]
		latencySum += best.EwmaLatencyMs
		reliabilitySum += best.Reliability
		agg.RouteCount++
	}
	if agg.RouteCount > 0 {
		agg.AvgLatencyMs = latencySum / float64(agg.RouteCount)
		agg.AvgReliability = reliabilitySum / float64(agg.RouteCount)
	}
	return agg
}

// NeedsProbe reports destinations whose best route has been silent for
// at least 60s (spec.md §4.6), candidates for an explicit route probe.
func (r *Router) NeedsProbe(nowMs uint64) []types.NodeId {
	var out []types.NodeId
	for _, dest := range r.table.destinations() {
		cands := r.table.candidates(dest, nowMs)
		if len(cands) == 0 {
			continue
		}
		if nowMs-cands[0].LastUpdatedMs >= 60_000 {
			out = append(out, dest)
		}
	}
	return out
}
