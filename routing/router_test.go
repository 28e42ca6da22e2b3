/* SPDX-License-Identifier: MIT */
package routing

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/SaemsCodes/offline-radio-sub000/types"
)

type fakeClock struct{ ms uint64 }

func (c *fakeClock) NowMs() uint64 { return c.ms }

type realRandom struct{}

func (realRandom) Read(p []byte) (int, error) { return rand.Read(p) }

func newID(b byte) types.NodeId {
	var id types.NodeId
	id[0] = b
	return id
}

func TestScoreMonotonicity(t *testing.T) {
	base := &Route{EwmaLatencyMs: 100, Reliability: 50, HopCount: 2, LastUpdatedMs: 1000}
	now := uint64(1000)
	baseScore := score(base, now)

	lowerLatency := &Route{EwmaLatencyMs: 50, Reliability: 50, HopCount: 2, LastUpdatedMs: 1000}
	if score(lowerLatency, now) < baseScore {
		t.Fatalf("decreasing latency must never decrease score")
	}

	fewerHops := &Route{EwmaLatencyMs: 100, Reliability: 50, HopCount: 1, LastUpdatedMs: 1000}
	if score(fewerHops, now) < baseScore {
		t.Fatalf("decreasing hop count must never decrease score")
	}

	moreReliable := &Route{EwmaLatencyMs: 100, Reliability: 80, HopCount: 2, LastUpdatedMs: 1000}
	if score(moreReliable, now) < baseScore {
		t.Fatalf("increasing reliability must never decrease score")
	}

	fresher := &Route{EwmaLatencyMs: 100, Reliability: 50, HopCount: 2, LastUpdatedMs: 1000}
	if score(fresher, now+1) > score(fresher, now) {
		t.Fatalf("increasing age must never increase score")
	}
}

func TestSelectFiltersByQoSAndFallsBackForEmergency(t *testing.T) {
	r := New(newID(0), &fakeClock{ms: 10_000}, realRandom{}, nil, types.DefaultMaxHops, types.DefaultRouteStaleMs, types.DefaultDedupWindowMs)
	dest := newID(1)
	r.table.upsert(10_000, Route{DestinationID: dest, NextHopID: dest, HopCount: 1, EwmaLatencyMs: 500, Reliability: 90, LastUpdatedMs: 10_000, TransportKind: types.TransportDirectLan, BandwidthEstimate: 2000})

	_, ok := r.Select(dest, types.QoS{Priority: types.PriorityNormal, MaxLatencyMs: 100, MinBandwidthKbps: 2000})
	if ok {
		t.Fatalf("expected no candidate to satisfy a max-latency filter of 100ms given a 500ms route")
	}

	route, ok := r.Select(dest, types.QoS{Priority: types.PriorityEmergency, MaxLatencyMs: 100, MinBandwidthKbps: 2000})
	if !ok {
		t.Fatalf("expected emergency fallback to bypass qos filters")
	}
	if route.DestinationID != dest {
		t.Fatalf("expected fallback route to destination")
	}
}

func TestRREQRoundtripInstallsRoutes(t *testing.T) {
	clock := &fakeClock{ms: 0}
	a := New(newID(0), clock, realRandom{}, nil, types.DefaultMaxHops, types.DefaultRouteStaleMs, types.DefaultDedupWindowMs)

	var forwarded []*types.Packet
	a.Configure(emitterFunc(func(p *types.Packet) error {
		forwarded = append(forwarded, p)
		return nil
	}))

	dest := newID(2)
	if err := a.broadcastRREQ(dest); err != nil {
		t.Fatalf("broadcastRREQ: %v", err)
	}
	if len(forwarded) != 1 {
		t.Fatalf("expected 1 emitted rreq, got %d", len(forwarded))
	}
	rreqPkt := forwarded[0]

	// Simulate node B relaying the RREQ on to C (=dest), which replies.
	b := New(newID(1), clock, realRandom{}, nil, types.DefaultMaxHops, types.DefaultRouteStaleMs, types.DefaultDedupWindowMs)
	var bForwarded []*types.Packet
	b.Configure(emitterFunc(func(p *types.Packet) error {
		bForwarded = append(bForwarded, p)
		return nil
	}))
	if err := b.HandleInboundControl(rreqPkt, newID(0), types.TransportDirectLan, 80); err != nil {
		t.Fatalf("b handle rreq: %v", err)
	}

	c := New(dest, clock, realRandom{}, nil, types.DefaultMaxHops, types.DefaultRouteStaleMs, types.DefaultDedupWindowMs)
	var cForwarded []*types.Packet
	c.Configure(emitterFunc(func(p *types.Packet) error {
		cForwarded = append(cForwarded, p)
		return nil
	}))
	if len(bForwarded) != 1 {
		t.Fatalf("expected b to forward rreq once, got %d", len(bForwarded))
	}
	if err := c.HandleInboundControl(bForwarded[0], newID(1), types.TransportDirectLan, 70); err != nil {
		t.Fatalf("c handle rreq: %v", err)
	}
	if len(cForwarded) != 1 || cForwarded[0].Type != types.PacketRREP {
		t.Fatalf("expected c to emit an rrep")
	}

	if err := b.HandleInboundControl(cForwarded[0], dest, types.TransportDirectLan, 75); err != nil {
		t.Fatalf("b handle rrep: %v", err)
	}

	route, ok := b.Select(dest, types.QoS{Priority: types.PriorityNormal})
	if !ok {
		t.Fatalf("expected b to have installed a forward route to c")
	}
	if route.NextHopID != dest {
		t.Fatalf("expected b's route to c to go directly to c, got next hop %s", route.NextHopID.String())
	}
}

type emitterFunc func(p *types.Packet) error

func (f emitterFunc) EmitControlPacket(p *types.Packet) error { return f(p) }

func TestCongestionDetectionSetsLevelOnSpike(t *testing.T) {
	c := newCongestionTracker()
	next := newID(9)
	for i := 0; i < 7; i++ {
		c.observe(next, 50)
	}
	if c.level(next) != 0 {
		t.Fatalf("expected no congestion from a flat latency series")
	}
	c.observe(next, 200)
	c.observe(next, 200)
	c.observe(next, 200)
	if c.level(next) <= 0 {
		t.Fatalf("expected congestion level set after a latency spike")
	}
}

func TestResolveRouteTimesOutWithoutReply(t *testing.T) {
	r := New(newID(0), &fakeClock{ms: 0}, realRandom{}, nil, types.DefaultMaxHops, types.DefaultRouteStaleMs, types.DefaultDedupWindowMs)
	r.Configure(emitterFunc(func(p *types.Packet) error { return nil }))

	start := time.Now()
	_, err := r.ResolveRoute(context.Background(), newID(5), types.QoS{Priority: types.PriorityNormal})
	if err != types.ErrNoRoute {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}
	if time.Since(start) < discoveryTimeout {
		t.Fatalf("expected ResolveRoute to honor the discovery timeout")
	}
}
