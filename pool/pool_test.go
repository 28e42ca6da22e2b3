/* SPDX-License-Identifier: MIT */
package pool

import (
	"context"
	"testing"

	"github.com/SaemsCodes/offline-radio-sub000/transport"
	"github.com/SaemsCodes/offline-radio-sub000/types"
)

type fakeClock struct{ ms uint64 }

func (c *fakeClock) NowMs() uint64 { return c.ms }

type fakeConn struct {
	remote types.NodeId
	kind   types.TransportKind
	closed bool
}

func (c *fakeConn) Send(ctx context.Context, b []byte) error    { return nil }
func (c *fakeConn) Recv(ctx context.Context) ([]byte, error)    { return nil, nil }
func (c *fakeConn) Close() error                                { c.closed = true; return nil }
func (c *fakeConn) RemoteNode() types.NodeId                    { return c.remote }
func (c *fakeConn) Kind() types.TransportKind                   { return c.kind }

type fakeTransport struct {
	kind      types.TransportKind
	available bool
	dials     int
	failDial  bool
}

func (f *fakeTransport) Kind() types.TransportKind { return f.kind }
func (f *fakeTransport) Available() bool           { return f.available }
func (f *fakeTransport) Start(ctx context.Context) error { return nil }
func (f *fakeTransport) Stop() error                     { return nil }
func (f *fakeTransport) Broadcast(ctx context.Context, b []byte) error { return nil }
func (f *fakeTransport) Dial(ctx context.Context, d transport.Descriptor) (transport.Conn, error) {
	f.dials++
	if f.failDial {
		return nil, transport.ErrUnavailable
	}
	return &fakeConn{remote: d.NodeID, kind: f.kind}, nil
}
func (f *fakeTransport) Accept() <-chan transport.Conn { return nil }

type fakeRouteSource struct {
	preferred []types.TransportKind
}

func (f *fakeRouteSource) PreferredTransports(peer types.NodeId) []types.TransportKind {
	return f.preferred
}

func newPeer(b byte) types.NodeId {
	var id types.NodeId
	id[0] = b
	return id
}

func TestAcquireDialsThenReuses(t *testing.T) {
	clock := &fakeClock{ms: 1}
	tr := &fakeTransport{kind: types.TransportDirectLan, available: true}
	routes := &fakeRouteSource{preferred: []types.TransportKind{types.TransportDirectLan}}
	p := New(newPeer(0), clock, routes, nil, types.DefaultMaxConnections, types.ConnectionsPerPeer)
	p.RegisterTransport(tr)

	peer := newPeer(1)
	h1, err := p.Acquire(context.Background(), peer)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if tr.dials != 1 {
		t.Fatalf("expected 1 dial, got %d", tr.dials)
	}

	h2, err := p.Acquire(context.Background(), peer)
	if err != nil {
		t.Fatalf("acquire reuse: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected reuse of existing open handle")
	}
	if tr.dials != 1 {
		t.Fatalf("expected no additional dial on reuse, got %d dials", tr.dials)
	}
}

func TestAcquireFallsBackToNextTransport(t *testing.T) {
	clock := &fakeClock{ms: 1}
	failing := &fakeTransport{kind: types.TransportDirectLan, available: true, failDial: true}
	working := &fakeTransport{kind: types.TransportLocalBus, available: true}
	routes := &fakeRouteSource{preferred: []types.TransportKind{types.TransportDirectLan, types.TransportLocalBus}}
	p := New(newPeer(0), clock, routes, nil, types.DefaultMaxConnections, types.ConnectionsPerPeer)
	p.RegisterTransport(failing)
	p.RegisterTransport(working)

	h, err := p.Acquire(context.Background(), newPeer(1))
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if h.Transport != types.TransportLocalBus {
		t.Fatalf("expected fallback to local bus, got %s", h.Transport.String())
	}
}

func TestMarkRecvErrorDegradesState(t *testing.T) {
	h := &Handle{state: StateOpen}
	if ok := func() bool {
		p := &Pool{}
		return p.MarkRecvError(h)
	}(); !ok {
		t.Fatalf("expected first recv error to report penalty")
	}
	if h.State() != StateDraining {
		t.Fatalf("expected draining after first error")
	}
	p := &Pool{}
	p.MarkRecvError(h)
	if h.State() != StateClosed {
		t.Fatalf("expected closed after second error")
	}
}

func TestEvictionRespectsMaxConnections(t *testing.T) {
	clock := &fakeClock{ms: 1}
	tr := &fakeTransport{kind: types.TransportDirectLan, available: true}
	routes := &fakeRouteSource{preferred: []types.TransportKind{types.TransportDirectLan}}
	p := New(newPeer(0), clock, routes, nil, 2, 1)
	p.RegisterTransport(tr)

	for i := byte(1); i <= 3; i++ {
		clock.ms = uint64(i)
		h, err := p.Acquire(context.Background(), newPeer(i))
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		p.Release(h)
	}

	if p.Count() > 2 {
		t.Fatalf("expected pool to stay within max connections, got %d", p.Count())
	}
}
