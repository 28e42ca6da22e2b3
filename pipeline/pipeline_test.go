/* SPDX-License-Identifier: MIT */
package pipeline

import (
	"context"
	"testing"

	"github.com/SaemsCodes/offline-radio-sub000/pool"
	"github.com/SaemsCodes/offline-radio-sub000/ratelimiter"
	"github.com/SaemsCodes/offline-radio-sub000/routing"
	"github.com/SaemsCodes/offline-radio-sub000/types"
	"github.com/SaemsCodes/offline-radio-sub000/wire"
)

type fakeClock struct{ ms uint64 }

func (c *fakeClock) NowMs() uint64 { return c.ms }

type fakeRouter struct {
	route   routing.Route
	has     bool
	handled []*types.Packet
}

func (r *fakeRouter) Select(dest types.NodeId, qos types.QoS) (routing.Route, bool) {
	return r.route, r.has
}
func (r *fakeRouter) ResolveRoute(ctx context.Context, dest types.NodeId, qos types.QoS) (routing.Route, error) {
	if r.has {
		return r.route, nil
	}
	return routing.Route{}, types.ErrNoRoute
}
func (r *fakeRouter) HandleInboundControl(p *types.Packet, inboundPeer types.NodeId, inboundTransport types.TransportKind, signal uint8) error {
	r.handled = append(r.handled, p)
	return nil
}
func (r *fakeRouter) RecordMeasurement(dest, nextHop types.NodeId, latencyMs float64) {}

type fakePool struct {
	acquireErr error
	sends      int
}

func (p *fakePool) Acquire(ctx context.Context, peer types.NodeId) (*pool.Handle, error) {
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	p.sends++
	return nil, errAcquireStub
}
func (p *fakePool) Release(h *pool.Handle)            {}
func (p *fakePool) MarkRecvError(h *pool.Handle) bool { return true }

// errAcquireStub forces sendVia/broadcast to fail fast (after the send
// counter is incremented, when acquireErr is unset), since a real
// *pool.Handle can't be constructed outside package pool; these tests
// assert what the Pipeline parks, drops or hands to the router, not the
// wire-level outcome.
var errAcquireStub = poolAcquireStub{}

type poolAcquireStub struct{}

func (poolAcquireStub) Error() string { return "stub: no real handle in tests" }

func newID(b byte) types.NodeId {
	var id types.NodeId
	id[0] = b
	return id
}

func samplePacket(dest types.NodeId, ttl uint8) *types.Packet {
	pid, _ := types.NewPacketID()
	return &types.Packet{
		PacketID:      pid,
		SourceID:      newID(9),
		DestinationID: dest,
		Type:          types.PacketText,
		Priority:      types.PriorityNormal,
		TTL:           ttl,
		RouteTrace:    []types.NodeId{newID(9)},
		Payload:       []byte("hi"),
	}
}

func newTestPipeline(router Router) (*Pipeline, *fakeClock) {
	clock := &fakeClock{ms: 1000}
	limiter := ratelimiter.New(1000, 1000, 0)
	pl := New(newID(1), clock, nil, router, &fakePool{acquireErr: errAcquireStub}, nil, limiter, wire.Limits{MaxHops: types.DefaultMaxHops, MaxPayload: types.DefaultMaxPayloadBytes}, 64, 300_000, 16)
	return pl, clock
}

func TestIngressDropsDuplicatePackets(t *testing.T) {
	pl, clock := newTestPipeline(&fakeRouter{})
	var delivered []*types.Packet
	pl.Configure(nil, func(p *types.Packet, _ uint8) { delivered = append(delivered, p) })

	p := samplePacket(newID(1), 5)
	buf, err := wire.Encode(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if err := pl.Ingress(buf, newID(2), types.TransportDirectLan, 80); err != nil {
		t.Fatalf("first ingress: %v", err)
	}
	if err := pl.Ingress(buf, newID(2), types.TransportDirectLan, 80); err != nil {
		t.Fatalf("second ingress: %v", err)
	}
	if len(delivered) != 1 {
		t.Fatalf("expected duplicate packet to be delivered exactly once, got %d", len(delivered))
	}
	_ = clock
}

func TestIngressDropsZeroTTL(t *testing.T) {
	pl, _ := newTestPipeline(&fakeRouter{})
	var delivered []*types.Packet
	pl.Configure(nil, func(p *types.Packet, _ uint8) { delivered = append(delivered, p) })

	p := samplePacket(newID(1), 0)
	buf, err := wire.Encode(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := pl.Ingress(buf, newID(2), types.TransportDirectLan, 80); err != nil {
		t.Fatalf("ingress: %v", err)
	}
	if len(delivered) != 0 {
		t.Fatalf("expected ttl-expired packet to be dropped, not delivered")
	}
}

func TestIngressSuppressesLoop(t *testing.T) {
	pl, _ := newTestPipeline(&fakeRouter{})
	var delivered []*types.Packet
	pl.Configure(nil, func(p *types.Packet, _ uint8) { delivered = append(delivered, p) })

	p := samplePacket(newID(1), 5) // dest == self, so this would normally be delivered
	p.RouteTrace = append(p.RouteTrace, newID(1))
	buf, err := wire.Encode(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := pl.Ingress(buf, newID(2), types.TransportDirectLan, 80); err != nil {
		t.Fatalf("ingress: %v", err)
	}
	if len(delivered) != 0 {
		t.Fatalf("a packet already bearing self in its route trace must not be re-processed")
	}
}

func TestIngressRoutesControlPacketsToRouter(t *testing.T) {
	router := &fakeRouter{}
	pl, _ := newTestPipeline(router)

	pid, _ := types.NewPacketID()
	rreq := &types.Packet{
		PacketID:      pid,
		SourceID:      newID(2),
		DestinationID: types.BroadcastID,
		Type:          types.PacketRREQ,
		TTL:           5,
		RouteTrace:    []types.NodeId{newID(2)},
		Payload:       make([]byte, 34),
	}
	buf, err := wire.Encode(rreq)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := pl.Ingress(buf, newID(2), types.TransportDirectLan, 80); err != nil {
		t.Fatalf("ingress: %v", err)
	}
	if len(router.handled) != 1 {
		t.Fatalf("expected control packet to reach the router, got %d", len(router.handled))
	}
}

func TestUnreachableDestinationParksPacket(t *testing.T) {
	pl, clock := newTestPipeline(&fakeRouter{has: false})
	pl.Configure(nil, func(p *types.Packet, _ uint8) {})

	if _, err := pl.Transmit(newID(4), types.PacketText, types.PriorityNormal, 5, []byte("hello"), false, false); err != nil {
		t.Fatalf("transmit: %v", err)
	}
	pl.sendOne(context.Background(), mustPop(t, pl))
	if pl.parked.len() != 1 {
		t.Fatalf("expected the packet to be parked when no route exists, got %d parked", pl.parked.len())
	}
	_ = clock
}

func mustPop(t *testing.T, pl *Pipeline) item {
	t.Helper()
	it, ok := pl.egress.pop()
	if !ok {
		t.Fatalf("expected an item on the egress queue")
	}
	return it
}
