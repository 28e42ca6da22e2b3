/* SPDX-License-Identifier: MIT
 *
 * Pipeline is the Ingress -> Dispatch -> Egress stage of spec.md §4.7,
 * wired the way the teacher's device/send.go and device/receive.go split
 * one conceptual packet path into named, independently concurrent stages
 * (TUN queue -> routing -> nonce assignment -> encryption -> transmission
 * there; decode -> dedup -> route-trace -> TTL -> queue -> encode -> send
 * here). Encryption/decryption is folded into this stage rather than
 * split out as its own worker pool, since AEAD here is inherently
 * pairwise and cheap enough per-packet not to need the teacher's
 * parallel encryption workers.
 */
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SaemsCodes/offline-radio-sub000/crypto"
	"github.com/SaemsCodes/offline-radio-sub000/host"
	"github.com/SaemsCodes/offline-radio-sub000/pool"
	"github.com/SaemsCodes/offline-radio-sub000/ratelimiter"
	"github.com/SaemsCodes/offline-radio-sub000/routing"
	"github.com/SaemsCodes/offline-radio-sub000/types"
	"github.com/SaemsCodes/offline-radio-sub000/wire"
)

const egressQueueCapacity = 1024
const scanInterval = 2 * time.Second

// discoveryBudget bounds how long an async on-demand route resolution
// runs before giving up, matching the routing package's own 3s timeout
// (spec.md §4.6); kept as a ceiling here too so a pipeline-side context
// can never outlive the router's internal one by more than noise.
const discoveryBudget = 3 * time.Second

// Router is the narrow slice of routing.Router the Pipeline drives.
type Router interface {
	Select(dest types.NodeId, qos types.QoS) (routing.Route, bool)
	// ResolveRoute triggers on-demand RREQ discovery for dest and blocks
	// up to the routing package's own discovery budget (spec.md §4.6).
	// The Pipeline only calls it from a background goroutine so the
	// egress worker itself never blocks on discovery.
	ResolveRoute(ctx context.Context, dest types.NodeId, qos types.QoS) (routing.Route, error)
	HandleInboundControl(p *types.Packet, inboundPeer types.NodeId, inboundTransport types.TransportKind, signal uint8) error
	RecordMeasurement(dest, nextHop types.NodeId, latencyMs float64)
}

// Pool is the narrow slice of pool.Pool the Pipeline drives.
type Pool interface {
	Acquire(ctx context.Context, peer types.NodeId) (*pool.Handle, error)
	Release(h *pool.Handle)
	MarkRecvError(h *pool.Handle) bool
}

// Crypto is the narrow slice of crypto.Manager the Pipeline drives.
type Crypto interface {
	Encrypt(peer types.NodeId, plaintext []byte) (ciphertext, nonce []byte, err error)
	Decrypt(peer types.NodeId, ciphertext, nonce []byte) ([]byte, error)
}

// PeerLister supplies the known-peer set for broadcast fan-out; the
// Engine adapts discovery.Directory.List() to this shape so Pipeline
// never needs to import discovery directly.
type PeerLister interface {
	List() []types.NodeId
}

// Pipeline wires priority queues, the dedup cache, the parked out-queue
// and crypto together around one Router and one Pool. It implements
// routing.PacketEmitter so the Router can inject RREQ/RREP control
// packets as ordinary egress traffic.
type Pipeline struct {
	self  types.NodeId
	clock host.Clock
	log   logrus.FieldLogger

	router  Router
	pool    Pool
	crypto  Crypto
	limiter *ratelimiter.Ratelimiter
	limits  wire.Limits

	lister    PeerLister
	onDeliver func(*types.Packet, uint8)

	dedup  *dedupCache
	parked *parkedQueue
	egress *priorityQueue
	scan   *scanner

	discovering *inflightDiscovery

	cancel context.CancelFunc
}

func New(self types.NodeId, clock host.Clock, log logrus.FieldLogger, router Router, p Pool, cryptoMgr Crypto, limiter *ratelimiter.Ratelimiter, limits wire.Limits, dedupCapacity int, dedupWindowMs uint64, parkedCapacity int) *Pipeline {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pipeline{
		self:    self,
		clock:   clock,
		log:     log,
		router:  router,
		pool:    p,
		crypto:  cryptoMgr,
		limiter: limiter,
		limits:  limits,
		dedup:       newDedupCache(dedupCapacity, dedupWindowMs),
		parked:      newParkedQueue(parkedCapacity),
		egress:      newPriorityQueue(egressQueueCapacity),
		scan:        newScanner(),
		discovering: newInflightDiscovery(),
	}
}

// Configure wires the peer lister (for broadcast fan-out) and the
// local-delivery callback; separated from New because both depend on
// components the Engine assembles after the Pipeline itself.
func (pl *Pipeline) Configure(lister PeerLister, onDeliver func(*types.Packet, uint8)) {
	pl.lister = lister
	pl.onDeliver = onDeliver
}

// Start launches the egress worker and the parked-queue scanner. It
// reopens the egress queue a previous Stop closed, so the Pipeline can be
// started again after a power cycle.
func (pl *Pipeline) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	pl.cancel = cancel
	pl.egress.mu.Lock()
	pl.egress.closed = false
	pl.egress.mu.Unlock()
	go pl.egressLoop(ctx)
	go pl.scan.run(ctx.Done(), scanInterval, func() { pl.retryParked(ctx) })
	go pl.expireLoop(ctx)
}

func (pl *Pipeline) Stop() {
	if pl.cancel != nil {
		pl.cancel()
	}
	pl.egress.close()
}

func (pl *Pipeline) expireLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := pl.clock.NowMs()
			pl.dedup.expire(now)
			pl.parked.expire(now)
		}
	}
}

// NotifyRouteChange wakes the parked-queue scanner; the Engine calls this
// on the Directory's peer_discovered/peer_updated events so a packet
// parked for lack of a route is retried as soon as one appears, rather
// than waiting for the next poll.
func (pl *Pipeline) NotifyRouteChange() {
	pl.scan.wake()
}

// Ingress implements spec.md §4.7 stage 1: decode, drop duplicates,
// extend the route trace, decrement TTL, then either deliver locally,
// forward, or both (for BROADCAST-destination traffic).
func (pl *Pipeline) Ingress(raw []byte, inboundPeer types.NodeId, inboundTransport types.TransportKind, signal uint8) error {
	if pl.limiter != nil && !pl.limiter.Allow(inboundPeer) {
		return nil // silently drop: flood guard, not a protocol error
	}

	p, err := wire.Decode(raw, pl.limits)
	if err != nil {
		return err
	}

	if p.Type == types.PacketRREQ || p.Type == types.PacketRREP {
		return pl.router.HandleInboundControl(p, inboundPeer, inboundTransport, signal)
	}

	now := pl.clock.NowMs()
	if pl.dedup.seenAndMark(p.PacketID, now) {
		return nil // duplicate, already delivered/forwarded once
	}

	if p.HasVisited(pl.self) {
		return nil // loop: we've already relayed this packet
	}
	p.RouteTrace = append(p.RouteTrace, pl.self)

	if p.TTL == 0 {
		return nil
	}
	p.TTL--

	deliverLocally := p.DestinationID == pl.self || p.DestinationID.IsBroadcast()
	forward := p.DestinationID != pl.self

	if deliverLocally {
		pl.deliver(p, signal)
	}
	if forward && p.TTL > 0 {
		return pl.enqueueEgress(p, inboundPeer)
	}
	return nil
}

func (pl *Pipeline) deliver(p *types.Packet, signal uint8) {
	out := p
	if p.Encrypted {
		plain, ok := pl.decryptInbound(p)
		if !ok {
			return
		}
		out = p.Clone()
		out.Payload = plain
	}
	if pl.onDeliver != nil {
		pl.onDeliver(out, signal)
	}
}

func (pl *Pipeline) decryptInbound(p *types.Packet) ([]byte, bool) {
	if len(p.Payload) < crypto.NonceSize {
		return nil, false
	}
	nonce := p.Payload[:crypto.NonceSize]
	ciphertext := p.Payload[crypto.NonceSize:]
	plain, err := pl.crypto.Decrypt(p.SourceID, ciphertext, nonce)
	if err != nil {
		pl.log.WithError(err).WithField("peer", p.SourceID.String()).Debug("pipeline: dropping undecryptable packet")
		return nil, false
	}
	return plain, true
}

// Transmit builds and queues a locally originated packet. If encrypt is
// true, dest must be a specific paired peer: AEAD here is pairwise, so an
// encrypted transmission is addressed directly to its one intended
// recipient rather than riding the BROADCAST destination a channel's
// plaintext traffic uses.
func (pl *Pipeline) Transmit(dest types.NodeId, kind types.PacketType, priority types.Priority, ttl uint8, payload []byte, encrypt, emergency bool) (types.PacketID, error) {
	pid, err := types.NewPacketID()
	if err != nil {
		return types.PacketID{}, err
	}

	body := payload
	encrypted := false
	if encrypt {
		if dest.IsBroadcast() {
			return types.PacketID{}, fmt.Errorf("pipeline: encrypted transmission requires a specific recipient, not broadcast")
		}
		ciphertext, nonce, err := pl.crypto.Encrypt(dest, payload)
		if err != nil {
			return types.PacketID{}, err
		}
		body = append(append([]byte(nil), nonce...), ciphertext...)
		encrypted = true
	}

	p := &types.Packet{
		PacketID:      pid,
		SourceID:      pl.self,
		DestinationID: dest,
		Type:          kind,
		Priority:      priority,
		TTL:           ttl,
		RouteTrace:    []types.NodeId{pl.self},
		TimestampMs:   pl.clock.NowMs(),
		Encrypted:     encrypted,
		Emergency:     emergency,
		Payload:       body,
	}
	return pid, pl.enqueueEgress(p, types.NodeId{})
}

// EmitControlPacket implements routing.PacketEmitter.
func (pl *Pipeline) EmitControlPacket(p *types.Packet) error {
	return pl.enqueueEgress(p, types.NodeId{})
}

func (pl *Pipeline) enqueueEgress(p *types.Packet, excludeInbound types.NodeId) error {
	return pl.egress.push(item{packet: p, excludeInbound: excludeInbound})
}

func (pl *Pipeline) egressLoop(ctx context.Context) {
	for {
		it, ok := pl.egress.pop()
		if !ok {
			return
		}
		pl.sendOne(ctx, it)
	}
}

func (pl *Pipeline) sendOne(ctx context.Context, it item) {
	p := it.packet
	if p.DestinationID.IsBroadcast() {
		pl.broadcast(ctx, p, it.excludeInbound)
		return
	}

	route, ok := pl.router.Select(p.DestinationID, types.QoS{Priority: p.Priority})
	if !ok {
		if err := pl.parked.park(p, pl.clock.NowMs()); err != nil {
			pl.log.WithField("dest", p.DestinationID.String()).Debug("pipeline: parked queue full, dropping")
			return
		}
		pl.triggerDiscovery(p.DestinationID, p.Priority)
		return
	}
	pl.sendVia(ctx, p, route.NextHopID)
}

// triggerDiscovery kicks off at most one concurrent on-demand route
// resolution (spec.md §4.6) per destination, run on its own goroutine so
// the egress worker never blocks on the 3s discovery budget. A resolved
// route wakes the parked-queue scanner; an unresolved one simply leaves
// the packet parked for the next route-install event or scanner sweep.
func (pl *Pipeline) triggerDiscovery(dest types.NodeId, priority types.Priority) {
	if !pl.discovering.start(dest) {
		return
	}
	go func() {
		defer pl.discovering.clear(dest)
		ctx, cancel := context.WithTimeout(context.Background(), discoveryBudget)
		defer cancel()
		if _, err := pl.router.ResolveRoute(ctx, dest, types.QoS{Priority: priority}); err != nil {
			pl.log.WithField("dest", dest.String()).Debug("pipeline: on-demand discovery found no route")
			return
		}
		pl.scan.wake()
	}()
}

func (pl *Pipeline) sendVia(ctx context.Context, p *types.Packet, nextHop types.NodeId) {
	buf, err := wire.Encode(p)
	if err != nil {
		pl.log.WithError(err).Warn("pipeline: encode failed, dropping")
		return
	}

	h, err := pl.pool.Acquire(ctx, nextHop)
	if err != nil {
		if parkErr := pl.parked.park(p, pl.clock.NowMs()); parkErr != nil {
			pl.log.WithField("dest", p.DestinationID.String()).Debug("pipeline: parked queue full, dropping")
			return
		}
		pl.triggerDiscovery(p.DestinationID, p.Priority)
		return
	}
	defer pl.pool.Release(h)

	start := time.Now()
	if err := h.Send(ctx, buf); err != nil {
		pl.pool.MarkRecvError(h)
		return
	}
	pl.router.RecordMeasurement(p.DestinationID, nextHop, float64(time.Since(start).Milliseconds()))
}

func (pl *Pipeline) broadcast(ctx context.Context, p *types.Packet, excludeInbound types.NodeId) {
	if pl.lister == nil {
		return
	}
	buf, err := wire.Encode(p)
	if err != nil {
		pl.log.WithError(err).Warn("pipeline: encode failed, dropping broadcast")
		return
	}
	for _, peer := range pl.lister.List() {
		if peer == excludeInbound || peer == pl.self {
			continue
		}
		h, err := pl.pool.Acquire(ctx, peer)
		if err != nil {
			continue
		}
		if err := h.Send(ctx, buf); err != nil {
			pl.pool.MarkRecvError(h)
		}
		pl.pool.Release(h)
	}
}

// inflightDiscovery de-duplicates concurrent on-demand resolutions so a
// burst of packets parked for the same destination triggers one RREQ
// flood, not one per packet.
type inflightDiscovery struct {
	mu    sync.Mutex
	active map[types.NodeId]struct{}
}

func newInflightDiscovery() *inflightDiscovery {
	return &inflightDiscovery{active: make(map[types.NodeId]struct{})}
}

func (d *inflightDiscovery) start(dest types.NodeId) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.active[dest]; ok {
		return false
	}
	d.active[dest] = struct{}{}
	return true
}

func (d *inflightDiscovery) clear(dest types.NodeId) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.active, dest)
}

func (pl *Pipeline) retryParked(ctx context.Context) {
	for _, p := range pl.parked.snapshot() {
		if _, ok := pl.router.Select(p.DestinationID, types.QoS{Priority: p.Priority}); !ok {
			continue
		}
		pl.parked.remove(p.PacketID)
		if err := pl.enqueueEgress(p, types.NodeId{}); err != nil {
			pl.log.WithError(err).Debug("pipeline: re-queue of parked packet backpressured")
		}
	}
}
