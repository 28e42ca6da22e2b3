/* SPDX-License-Identifier: MIT
 *
 * Package engine assembles every subsystem of spec.md §4 into one object
 * whose lifetime equals power_on/power_off (spec.md §9: "Ambient global
 * services... should be replaced by explicit construction of an Engine
 * object that owns all subsystems"). It plays the role the teacher's
 * *device.Device plays for a WireGuard tunnel: one struct, one owner,
 * constructed once, with a supervised goroutine group
 * (golang.org/x/sync/errgroup) standing in for the teacher's own
 * per-peer sync.WaitGroup bookkeeping at this one outermost layer.
 */
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/SaemsCodes/offline-radio-sub000/channel"
	"github.com/SaemsCodes/offline-radio-sub000/crypto"
	"github.com/SaemsCodes/offline-radio-sub000/discovery"
	"github.com/SaemsCodes/offline-radio-sub000/events"
	"github.com/SaemsCodes/offline-radio-sub000/host"
	"github.com/SaemsCodes/offline-radio-sub000/pairstore"
	"github.com/SaemsCodes/offline-radio-sub000/pipeline"
	"github.com/SaemsCodes/offline-radio-sub000/pool"
	"github.com/SaemsCodes/offline-radio-sub000/ratelimiter"
	"github.com/SaemsCodes/offline-radio-sub000/routing"
	"github.com/SaemsCodes/offline-radio-sub000/status"
	"github.com/SaemsCodes/offline-radio-sub000/transport"
	"github.com/SaemsCodes/offline-radio-sub000/types"
	"github.com/SaemsCodes/offline-radio-sub000/wire"
)

// powerState tags the engine's lifecycle, guarded by an atomic so
// transmit_*/status calls from arbitrary caller goroutines can cheaply
// check "are we on" without taking any component lock (spec.md §5).
type powerState int32

const (
	statePoweredOff powerState = iota
	statePoweredOn
)

const drainTimeout = 2 * time.Second

// Engine owns every mesh subsystem named in spec.md §4 and exposes the
// public API façade of §4.11. Construct once with New; Run power_on/off
// many times across the same instance's lifetime.
type Engine struct {
	cfg Config
	svc host.Services
	log logrus.FieldLogger

	self types.NodeId

	broker    *events.Broker
	pairStore *pairstore.Store
	cryptoMgr *crypto.Manager
	directory *discovery.Directory
	router    *routing.Router
	connPool  *pool.Pool
	pipe      *pipeline.Pipeline
	channels  *channel.Layer
	statusMon *status.Monitor

	transports []transport.Transport

	rreqLimiter      *ratelimiter.Ratelimiter
	pairingIngestRate *rate.Limiter

	state  atomic.Int32
	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

// New constructs an Engine against cfg and the host-provided services. It
// does not start any network I/O; call PowerOn for that.
func New(cfg Config, svc host.Services, log logrus.FieldLogger) (*Engine, error) {
	cfg.Normalize()
	if log == nil {
		log = logrus.StandardLogger()
	}
	if svc.Clock == nil || svc.Random == nil || svc.Status == nil {
		return nil, fmt.Errorf("engine: Clock, Random and Status host services are required")
	}

	self, err := resolveNodeID(cfg, svc)
	if err != nil {
		return nil, fmt.Errorf("engine: resolve node id: %w", err)
	}

	broker := events.NewBroker()
	pairStore := pairstore.New()

	cryptoMgr, err := crypto.NewManager(self, svc.Clock, svc.Random, pairStore, log.WithField("component", "crypto"))
	if err != nil {
		return nil, fmt.Errorf("engine: init crypto manager: %w", err)
	}
	pairStore.OnChange(func(r pairstore.Record) {
		broker.Publish("pairing_state_changed", r)
	})

	rtr := routing.New(self, svc.Clock, svc.Random, log.WithField("component", "routing"), cfg.MaxHops, cfg.RouteStaleMs, cfg.DedupWindowMs)
	dir := discovery.New(self, svc.Clock, broker, rtr, log.WithField("component", "discovery"), cfg.StalePeerMs, cfg.AnnounceIntervalMs)

	connPool := pool.New(self, svc.Clock, rtr, log.WithField("component", "pool"), cfg.MaxConnections, types.ConnectionsPerPeer)

	rreqLimiter := ratelimiter.New(5, 10, 10*time.Second)
	rtr.SetRREQLimiter(rreqLimiter)
	ingressLimiter := ratelimiter.New(50, 200, time.Minute)
	// Pairing blobs arrive unsolicited (QR/NFC/text out of band) and each
	// ingestion does an ECDH + HKDF derivation, so aggregate pacing here
	// (unlike the per-NodeId ratelimiter package used elsewhere) guards
	// against a flood of bogus blobs before any peer identity is even
	// parsed out of them.
	pairingIngestRate := rate.NewLimiter(rate.Every(200*time.Millisecond), 5)

	limits := wire.Limits{MaxHops: cfg.MaxHops, MaxPayload: cfg.MaxPayloadBytes}
	pipe := pipeline.New(self, svc.Clock, log.WithField("component", "pipeline"), rtr, connPool, cryptoMgr, ingressLimiter, limits, cfg.DedupCapacity, cfg.DedupWindowMs, cfg.ParkedCapacity)

	rtr.Configure(pipe)

	statusMon := status.New(svc.Clock, broker, log.WithField("component", "status"), dir, routerSnapshotAdapter{rtr}, svc.Status)

	e := &Engine{
		cfg:            cfg,
		svc:            svc,
		log:            log,
		self:           self,
		broker:         broker,
		pairStore:      pairStore,
		cryptoMgr:      cryptoMgr,
		directory:      dir,
		router:         rtr,
		connPool:          connPool,
		pipe:              pipe,
		statusMon:         statusMon,
		rreqLimiter:       rreqLimiter,
		pairingIngestRate: pairingIngestRate,
	}
	e.channels = channel.New(e.pipe, broker, cfg.InitialChannel)
	e.pipe.Configure(peerListerAdapter{dir}, e.onDeliver)

	e.transports, err = buildTransports(cfg, self)
	if err != nil {
		return nil, err
	}
	for _, t := range e.transports {
		connPool.RegisterTransport(t)
	}

	var announcers []discovery.Announcer
	for _, t := range e.transports {
		announcers = append(announcers, t)
	}
	dir.Configure(announcers, announceCodec{})

	// Route/peer activity likely moves the status snapshot and may
	// unblock parked packets; wire both side-effects through the broker
	// rather than threading extra callbacks through Directory/Router.
	broker.Subscribe("peer_discovered", func(any) { e.pipe.NotifyRouteChange(); e.statusMon.Refresh() })
	broker.Subscribe("peer_updated", func(any) { e.pipe.NotifyRouteChange(); e.statusMon.Refresh() })
	broker.Subscribe("peer_lost", func(any) { e.statusMon.Refresh() })

	e.state.Store(int32(statePoweredOff))
	return e, nil
}

func resolveNodeID(cfg Config, svc host.Services) (types.NodeId, error) {
	if cfg.NodeID != (types.NodeId{}) {
		return cfg.NodeID, nil
	}
	if svc.Store != nil {
		if raw, ok, err := svc.Store.Get("node_id"); err == nil && ok && len(raw) == types.NodeIdSize {
			var id types.NodeId
			copy(id[:], raw)
			return id, nil
		}
	}
	id, err := types.NewNodeId()
	if err != nil {
		return types.NodeId{}, err
	}
	if svc.Store != nil {
		_ = svc.Store.Put("node_id", id[:])
	}
	return id, nil
}

func buildTransports(cfg Config, self types.NodeId) ([]transport.Transport, error) {
	var out []transport.Transport
	if cfg.wants(TransportNameDirectLan) {
		out = append(out, transport.NewDirectLan(self, cfg.DirectLanPort))
	}
	if cfg.wants(TransportNameRelayServer) && cfg.RelayAddr != "" {
		out = append(out, transport.NewRelayServer(self, cfg.RelayAddr))
	}
	if cfg.wants(TransportNameShortRange) && cfg.ShortRangeDevice != "" {
		sr, err := transport.NewShortRange(self, cfg.ShortRangeDevice)
		if err != nil {
			return nil, fmt.Errorf("engine: init short-range transport: %w", err)
		}
		out = append(out, sr)
	}
	if cfg.wants(TransportNameLocalBus) {
		out = append(out, transport.NewLocalBus(self, cfg.LocalBusRendezvousDir))
	}
	return out, nil
}

// SelfID returns the node's own identifier, stable across restarts when
// the host persists it (spec.md §3).
func (e *Engine) SelfID() types.NodeId { return e.self }

func (e *Engine) poweredOn() bool {
	return powerState(e.state.Load()) == statePoweredOn
}

// PowerOn starts every transport, the discovery announce/sweep loops,
// the routing worker and the pipeline. Idempotent (spec.md §4.11).
func (e *Engine) PowerOn(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.poweredOn() {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(runCtx)
	e.cancel = cancel
	e.group = group

	for _, t := range e.transports {
		t := t
		if err := t.Start(gctx); err != nil {
			e.log.WithError(err).WithField("transport", t.Kind().String()).Warn("engine: transport unavailable at startup, omitting from pool")
			continue
		}
		group.Go(func() error {
			e.acceptLoop(gctx, t)
			return nil
		})
	}

	e.router.Start(gctx)
	e.pipe.Start(gctx)
	e.directory.Start(gctx, e.selfAnnounceFields)
	e.statusMon.Start(gctx.Done())

	e.state.Store(int32(statePoweredOn))
	return nil
}

// PowerOff cancels every in-flight operation and drains for up to 2s
// before forcibly closing handles (spec.md §5). Parked packets are
// dropped, never persisted across process exit. Idempotent.
func (e *Engine) PowerOff() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.poweredOn() {
		return nil
	}
	e.state.Store(int32(statePoweredOff))

	if e.cancel != nil {
		e.cancel()
	}

	done := make(chan struct{})
	go func() {
		if e.group != nil {
			_ = e.group.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		e.log.Warn("engine: drain timeout exceeded, forcing shutdown")
	}

	e.router.Stop()
	e.pipe.Stop()
	e.connPool.CloseAll()
	for _, t := range e.transports {
		_ = t.Stop()
	}
	return nil
}

func (e *Engine) selfAnnounceFields() (types.Capabilities, uint8) {
	return e.cfg.Capabilities, e.svc.Status.DeviceStatus().BatteryPercent
}

// acceptLoop drains inbound connections for one transport, handing each
// received frame to the Pipeline's ingress stage; dies when ctx is
// cancelled (or if Accept's channel is ever closed; no transport in this
// repo closes it).
func (e *Engine) acceptLoop(ctx context.Context, t transport.Transport) {
	for {
		select {
		case <-ctx.Done():
			return
		case conn, ok := <-t.Accept():
			if !ok {
				return
			}
			go e.connRecvLoop(ctx, conn)
		}
	}
}

func (e *Engine) connRecvLoop(ctx context.Context, conn transport.Conn) {
	for {
		buf, err := conn.Recv(ctx)
		if err != nil {
			return
		}
		peer := conn.RemoteNode()
		e.directory.Touch(peer)
		signal := e.signalFor(peer)
		if ingestErr := e.pipe.Ingress(buf, peer, conn.Kind(), signal); ingestErr != nil {
			e.log.WithError(ingestErr).WithField("peer", peer.String()).Debug("engine: dropping undecodable frame")
		}
	}
}

func (e *Engine) signalFor(peer types.NodeId) uint8 {
	if p, ok := e.directory.Get(peer); ok {
		return p.SignalStrength
	}
	return 70
}

// onDeliver is wired as the Pipeline's local-delivery callback: it routes
// a decrypted, locally-destined packet to the Channel Layer and surfaces
// the TransmissionReceived/EmergencyReceived events (spec.md §6). signal
// is the inbound transport's observed signal strength, threaded into the
// delivered Transmission per spec.md §3.
func (e *Engine) onDeliver(p *types.Packet, signal uint8) {
	e.channels.Deliver(p, signal)
	if p.Emergency {
		e.broker.Publish("emergency_received", p.Clone())
	}
}

// routerSnapshotAdapter adapts routing.Router.Snapshot's Aggregate return
// to status.RouteSource's plain-value shape, keeping status free of a
// routing import.
type routerSnapshotAdapter struct{ r *routing.Router }

func (a routerSnapshotAdapter) Snapshot() (int, float64, float64) {
	agg := a.r.Snapshot()
	return agg.RouteCount, agg.AvgLatencyMs, agg.AvgReliability
}

// peerListerAdapter adapts discovery.Directory.List's []discovery.Peer to
// pipeline.PeerLister's []types.NodeId, keeping pipeline free of a
// discovery import (it only needs destinations to broadcast to).
type peerListerAdapter struct{ d *discovery.Directory }

func (a peerListerAdapter) List() []types.NodeId {
	peers := a.d.List()
	out := make([]types.NodeId, len(peers))
	for i, p := range peers {
		out[i] = p.NodeID
	}
	return out
}

