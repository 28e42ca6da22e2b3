package status

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/SaemsCodes/offline-radio-sub000/events"
	"github.com/SaemsCodes/offline-radio-sub000/host"
)

type fakeClock struct{ ms uint64 }

func (c *fakeClock) NowMs() uint64 { return c.ms }

type fakePeers struct{ n int }

func (p fakePeers) Count() int { return p.n }

type fakeRoutes struct {
	count       int
	avgLatency  float64
	reliability float64
}

func (r fakeRoutes) Snapshot() (int, float64, float64) {
	return r.count, r.avgLatency, r.reliability
}

type fakeDevices struct{ status host.DeviceStatus }

func (d fakeDevices) DeviceStatus() host.DeviceStatus { return d.status }

func newTestMonitor(peers PeerSource, routes RouteSource, dev host.DeviceStatus) (*Monitor, *fakeClock) {
	clock := &fakeClock{ms: 1_000_000}
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	broker := events.NewBroker()
	return New(clock, broker, log, peers, routes, fakeDevices{status: dev}), clock
}

func TestSignalQualityBuckets(t *testing.T) {
	cases := []struct {
		activePeers int
		reliability float64
		want        Quality
	}{
		{0, 0, QualityNone},
		{1, 60, QualityPoor},
		{1, 40, QualityNone},
		{2, 80, QualityGood},
		{2, 60, QualityPoor},
		{3, 95, QualityExcellent},
		{3, 80, QualityGood},
	}
	for _, c := range cases {
		require.Equal(t, c.want, bucket(c.activePeers, c.reliability), "activePeers=%d reliability=%v", c.activePeers, c.reliability)
	}
}

func TestCurrentThrottlesRecompute(t *testing.T) {
	routes := &fakeRoutes{count: 1, avgLatency: 10, reliability: 80}
	mon, clock := newTestMonitor(fakePeers{n: 1}, routes, host.DeviceStatus{BatteryPercent: 90, Online: true})

	first := mon.Current()
	require.Equal(t, 1, first.ActivePeerCount)

	routes.count = 5
	clock.ms += 1000 // still within the 5s recompute throttle
	second := mon.Current()
	require.Equal(t, 1, second.ActivePeerCount, "recompute before the throttle elapses must return the cached snapshot")

	clock.ms += uint64(RecomputeInterval.Milliseconds())
	third := mon.Current()
	require.Equal(t, 5, third.ActivePeerCount)
}

func TestSubscribeInvokesImmediatelyAndOnChange(t *testing.T) {
	routes := &fakeRoutes{count: 1, avgLatency: 10, reliability: 80}
	mon, clock := newTestMonitor(fakePeers{n: 1}, routes, host.DeviceStatus{BatteryPercent: 90, Online: true})

	var received []Snapshot
	mon.Subscribe(func(s Snapshot) { received = append(received, s) })
	require.Len(t, received, 1, "subscribe must push the current snapshot immediately")

	routes.count = 2
	clock.ms += uint64(RecomputeInterval.Milliseconds())
	mon.Refresh()
	require.Len(t, received, 2, "a changed snapshot must be pushed to subscribers")
}

func TestRefreshForcesImmediateRecompute(t *testing.T) {
	routes := &fakeRoutes{count: 1, avgLatency: 10, reliability: 80}
	mon, _ := newTestMonitor(fakePeers{n: 1}, routes, host.DeviceStatus{BatteryPercent: 90, Online: true})

	mon.Current()
	routes.count = 9
	snap := mon.Refresh()
	require.Equal(t, 9, snap.ActivePeerCount, "Refresh must bypass the recompute throttle")
}
