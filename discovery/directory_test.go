/* SPDX-License-Identifier: MIT */
package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/SaemsCodes/offline-radio-sub000/events"
	"github.com/SaemsCodes/offline-radio-sub000/types"
)

type fakeClock struct{ ms uint64 }

func (c *fakeClock) NowMs() uint64 { return c.ms }

type fakeRoutes struct {
	installed []types.NodeId
}

func (f *fakeRoutes) InstallDirectRoute(peer types.NodeId, transport types.TransportKind, signal uint8, now uint64) {
	f.installed = append(f.installed, peer)
}

func newPeerID(t *testing.T, b byte) types.NodeId {
	t.Helper()
	var id types.NodeId
	id[0] = b
	return id
}

func TestIngestCreatesAndRefreshesPeer(t *testing.T) {
	clock := &fakeClock{ms: 1000}
	broker := events.NewBroker()
	routes := &fakeRoutes{}
	dir := New(newPeerID(t, 0), clock, broker, routes, nil, types.DefaultStalePeerMs, types.DefaultAnnounceIntervalMs)

	var discovered int
	broker.Subscribe("peer_discovered", func(any) { discovered++ })
	var updated int
	broker.Subscribe("peer_updated", func(any) { updated++ })

	peerID := newPeerID(t, 1)
	dir.Ingest(Announcement{NodeID: peerID, Battery: 80, MonotonicMs: 1000}, types.TransportDirectLan, 90)
	if discovered != 1 {
		t.Fatalf("expected 1 peer_discovered event, got %d", discovered)
	}
	if len(routes.installed) != 1 || routes.installed[0] != peerID {
		t.Fatalf("expected route installed for peer")
	}

	clock.ms = 2000
	dir.Ingest(Announcement{NodeID: peerID, Battery: 75, MonotonicMs: 2000}, types.TransportDirectLan, 85)
	if updated != 1 {
		t.Fatalf("expected 1 peer_updated event, got %d", updated)
	}

	p, ok := dir.Get(peerID)
	if !ok {
		t.Fatalf("expected peer present")
	}
	if p.BatteryPercent != 75 {
		t.Fatalf("expected refreshed battery 75, got %d", p.BatteryPercent)
	}
	if p.LastSeenMonotonic != 2000 {
		t.Fatalf("expected last-seen refreshed to 2000, got %d", p.LastSeenMonotonic)
	}
}

func TestIngestIgnoresSelf(t *testing.T) {
	self := newPeerID(t, 0)
	clock := &fakeClock{ms: 0}
	dir := New(self, clock, events.NewBroker(), &fakeRoutes{}, nil, types.DefaultStalePeerMs, types.DefaultAnnounceIntervalMs)
	dir.Ingest(Announcement{NodeID: self}, types.TransportDirectLan, 100)
	if dir.Count() != 0 {
		t.Fatalf("expected self-announcement to be ignored")
	}
}

func TestSweepEvictsStalePeers(t *testing.T) {
	clock := &fakeClock{ms: 0}
	broker := events.NewBroker()
	var lost int
	broker.Subscribe("peer_lost", func(any) { lost++ })

	dir := New(newPeerID(t, 0), clock, broker, &fakeRoutes{}, nil, 1000, types.DefaultAnnounceIntervalMs)
	peerID := newPeerID(t, 1)
	dir.Ingest(Announcement{NodeID: peerID, MonotonicMs: 0}, types.TransportDirectLan, 50)

	clock.ms = 5000
	dir.sweep()

	if dir.Count() != 0 {
		t.Fatalf("expected stale peer evicted")
	}
	if lost != 1 {
		t.Fatalf("expected 1 peer_lost event, got %d", lost)
	}
}

type fakeAnnouncer struct {
	kind      types.TransportKind
	available bool
	sent      int
}

func (f *fakeAnnouncer) Kind() types.TransportKind { return f.kind }
func (f *fakeAnnouncer) Available() bool           { return f.available }
func (f *fakeAnnouncer) Broadcast(ctx context.Context, b []byte) error {
	f.sent++
	return nil
}

type fakeEncoder struct{}

func (fakeEncoder) EncodeAnnouncement(a Announcement) ([]byte, error) { return []byte{1}, nil }
func (fakeEncoder) DecodeAnnouncement(b []byte) (Announcement, error) { return Announcement{}, nil }

func TestAnnounceLoopBroadcastsOnAvailableTransports(t *testing.T) {
	clock := &fakeClock{ms: 0}
	dir := New(newPeerID(t, 0), clock, events.NewBroker(), &fakeRoutes{}, nil, types.DefaultStalePeerMs, 10)
	avail := &fakeAnnouncer{kind: types.TransportDirectLan, available: true}
	unavail := &fakeAnnouncer{kind: types.TransportShortRange, available: false}
	dir.Configure([]Announcer{avail, unavail}, fakeEncoder{})

	ctx, cancel := context.WithCancel(context.Background())
	dir.Start(ctx, func() (types.Capabilities, uint8) { return 0, 100 })
	time.Sleep(30 * time.Millisecond)
	cancel()
	dir.Stop()

	if avail.sent == 0 {
		t.Fatalf("expected at least one broadcast on available transport")
	}
	if unavail.sent != 0 {
		t.Fatalf("expected no broadcast on unavailable transport")
	}
}
