/* SPDX-License-Identifier: MIT
 *
 * Package pool implements the Connection Pool of spec.md §4.5: at most
 * K_PER_PEER handles open per peer, a global MAX_CONNECTIONS cap with LRU
 * eviction, and reference-counted handles that degrade open -> draining
 * -> closed on recv error. Structurally this mirrors the teacher's own
 * device.peers map (one RWMutex-guarded directory keyed by stable ID)
 * plus its conn.Bind abstraction for the actual dial/send; the LRU
 * eviction index reuses google/btree (already wired for the pipeline's
 * dedup expiry index) ordered by last-used timestamp instead of
 * reinventing a linked-list LRU.
 */
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/SaemsCodes/offline-radio-sub000/host"
	"github.com/SaemsCodes/offline-radio-sub000/transport"
	"github.com/SaemsCodes/offline-radio-sub000/types"
)

// dialRateLimit bounds how often this node will attempt fresh dials in
// aggregate, across every peer/transport, so a burst of Acquire calls
// against unreachable peers (e.g. a flood of RREQ-triggered route
// resolutions) cannot pin the host spinning up sockets.
const dialRateLimit = 20 // dials/sec
const dialBurst = 40

// State is a ConnectionHandle's lifecycle stage (spec.md §3).
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateDraining
	StateClosed
)

const dialTimeout = 10 * time.Second

// Handle is spec.md's ConnectionHandle: owned by the Pool, shared by
// reference with Routing/Pipeline, reference-counted so no component
// holds a connection across a suspension point without the Pool knowing.
type Handle struct {
	PeerID    types.NodeId
	Transport types.TransportKind

	mu       sync.Mutex
	state    State
	conn     transport.Conn
	lastUsed uint64
	refs     int
}

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handle) Send(ctx context.Context, b []byte) error {
	h.mu.Lock()
	conn := h.conn
	state := h.state
	h.mu.Unlock()
	if state != StateOpen {
		return transport.ErrClosed
	}
	return conn.Send(ctx, b)
}

func (h *Handle) Recv(ctx context.Context) ([]byte, error) {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	return conn.Recv(ctx)
}

// Close is idempotent: repeated calls after the first are no-ops.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.state == StateClosed {
		h.mu.Unlock()
		return nil
	}
	h.state = StateClosed
	conn := h.conn
	h.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (h *Handle) addRef() {
	h.mu.Lock()
	h.refs++
	h.mu.Unlock()
}

func (h *Handle) release() {
	h.mu.Lock()
	if h.refs > 0 {
		h.refs--
	}
	h.mu.Unlock()
}

// lruItem orders handles by last-used time for btree-based LRU eviction.
// Ties are broken by pointer identity so two handles touched in the same
// millisecond never collide in the tree.
type lruItem struct {
	lastUsed uint64
	handle   *Handle
}

func (a lruItem) Less(than btree.Item) bool {
	b := than.(lruItem)
	if a.lastUsed != b.lastUsed {
		return a.lastUsed < b.lastUsed
	}
	return fmt.Sprintf("%p", a.handle) < fmt.Sprintf("%p", b.handle)
}

// RouteSource supplies the best-known route for a peer so the Pool can
// choose which transport to dial, without the Pool importing routing
// directly (kept as an interface to avoid a routing<->pool import cycle:
// routing consults pool-owned handles for send, pool consults routing for
// transport preference).
type RouteSource interface {
	PreferredTransports(peer types.NodeId) []types.TransportKind
}

// Pool owns every open ConnectionHandle.
type Pool struct {
	self types.NodeId
	log  logrus.FieldLogger
	clock host.Clock
	routes RouteSource

	transports map[types.TransportKind]transport.Transport

	maxConnections int
	perPeer        int

	mu      sync.Mutex
	byPeer  map[types.NodeId][]*Handle
	lru     *btree.BTree
	total   int

	dialLimiter *rate.Limiter
}

func New(self types.NodeId, clock host.Clock, routes RouteSource, log logrus.FieldLogger, maxConnections, perPeer int) *Pool {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pool{
		self:           self,
		log:            log,
		clock:          clock,
		routes:         routes,
		transports:     make(map[types.TransportKind]transport.Transport),
		maxConnections: maxConnections,
		perPeer:        perPeer,
		byPeer:         make(map[types.NodeId][]*Handle),
		lru:            btree.New(32),
		dialLimiter:    rate.NewLimiter(rate.Limit(dialRateLimit), dialBurst),
	}
}

func (p *Pool) RegisterTransport(t transport.Transport) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transports[t.Kind()] = t
}

// Acquire implements spec.md §4.5's acquire policy: reuse an open handle,
// else dial via the best known route's transport and fall back through
// the remaining preferred transports on failure.
func (p *Pool) Acquire(ctx context.Context, peer types.NodeId) (*Handle, error) {
	if h := p.reuseOpen(peer); h != nil {
		return h, nil
	}

	var kinds []types.TransportKind
	if p.routes != nil {
		kinds = p.routes.PreferredTransports(peer)
	}
	if len(kinds) == 0 {
		p.mu.Lock()
		for k := range p.transports {
			kinds = append(kinds, k)
		}
		p.mu.Unlock()
	}

	var lastErr error
	for _, kind := range kinds {
		h, err := p.dial(ctx, peer, kind)
		if err == nil {
			return h, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = transport.ErrUnavailable
	}
	return nil, lastErr
}

func (p *Pool) reuseOpen(peer types.NodeId) *Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, h := range p.byPeer[peer] {
		if h.State() == StateOpen {
			p.touchLocked(h)
			h.addRef()
			return h
		}
	}
	return nil
}

func (p *Pool) dial(ctx context.Context, peer types.NodeId, kind types.TransportKind) (*Handle, error) {
	p.mu.Lock()
	t, ok := p.transports[kind]
	existing := len(p.byPeer[peer])
	p.mu.Unlock()
	if !ok || !t.Available() {
		return nil, transport.ErrUnavailable
	}
	if existing >= p.perPeer {
		return nil, fmt.Errorf("pool: peer already has %d connections", existing)
	}
	if err := p.dialLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("pool: dial rate limit: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, err := t.Dial(dialCtx, transport.Descriptor{NodeID: peer})
	if err != nil {
		return nil, fmt.Errorf("pool: dial %s: %w", kind.String(), err)
	}

	h := &Handle{
		PeerID:    peer,
		Transport: kind,
		state:     StateOpen,
		conn:      conn,
		lastUsed:  p.clock.NowMs(),
		refs:      1,
	}

	p.mu.Lock()
	p.byPeer[peer] = append(p.byPeer[peer], h)
	p.lru.ReplaceOrInsert(lruItem{lastUsed: h.lastUsed, handle: h})
	p.total++
	p.mu.Unlock()

	p.evictIfOverBudget()
	return h, nil
}

func (p *Pool) touchLocked(h *Handle) {
	h.mu.Lock()
	old := h.lastUsed
	h.lastUsed = p.clock.NowMs()
	h.mu.Unlock()
	p.lru.Delete(lruItem{lastUsed: old, handle: h})
	p.lru.ReplaceOrInsert(lruItem{lastUsed: h.lastUsed, handle: h})
}

// evictIfOverBudget closes the LRU idle (zero-refcount) handle until the
// pool is back under MAX_CONNECTIONS.
func (p *Pool) evictIfOverBudget() {
	for {
		p.mu.Lock()
		if p.total <= p.maxConnections {
			p.mu.Unlock()
			return
		}
		var victim *Handle
		var victimItem lruItem
		p.lru.Ascend(func(item btree.Item) bool {
			it := item.(lruItem)
			it.handle.mu.Lock()
			idle := it.handle.refs == 0
			it.handle.mu.Unlock()
			if idle {
				victim = it.handle
				victimItem = it
				return false
			}
			return true
		})
		if victim == nil {
			p.mu.Unlock()
			return
		}
		p.lru.Delete(victimItem)
		p.removeFromPeerLocked(victim)
		p.total--
		p.mu.Unlock()

		victim.Close()
		p.log.WithField("peer", victim.PeerID.String()).Debug("pool: evicted idle connection over budget")
	}
}

func (p *Pool) removeFromPeerLocked(h *Handle) {
	list := p.byPeer[h.PeerID]
	for i, e := range list {
		if e == h {
			p.byPeer[h.PeerID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(p.byPeer[h.PeerID]) == 0 {
		delete(p.byPeer, h.PeerID)
	}
}

// Release drops the caller's reference to h, making it eligible for LRU
// eviction once no other component still holds it.
func (p *Pool) Release(h *Handle) {
	h.release()
}

// MarkRecvError transitions a handle open -> draining -> closed on a recv
// failure, per spec.md §4.5, and reports whether the caller should
// decrement the owning route's reliability by 10.
func (p *Pool) MarkRecvError(h *Handle) (shouldPenalizeRoute bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.state {
	case StateOpen:
		h.state = StateDraining
		return true
	case StateDraining:
		h.state = StateClosed
		return true
	default:
		return false
	}
}

// CloseAll closes every handle, used by power_off's drain-then-close
// sequence (spec.md §5).
func (p *Pool) CloseAll() {
	p.mu.Lock()
	var all []*Handle
	for _, list := range p.byPeer {
		all = append(all, list...)
	}
	p.byPeer = make(map[types.NodeId][]*Handle)
	p.lru = btree.New(32)
	p.total = 0
	p.mu.Unlock()

	for _, h := range all {
		h.Close()
	}
}

func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}
