/* SPDX-License-Identifier: MIT
 *
 * RelayServer: bounces traffic through a rendezvous server over TCP when
 * peers cannot reach each other directly (spec.md §4.3). Frames are
 * length-prefixed and tagged with the destination NodeId so a single TCP
 * connection to the relay can multiplex many peer conversations, the way
 * the teacher multiplexes many peers over one UDP bind in conn.Bind.
 */
package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/SaemsCodes/offline-radio-sub000/types"
)

const relayDialTimeout = 10 * time.Second

// relay wire frame: dest_id:16 | len:4 | payload:len
const relayFrameHeaderSize = types.NodeIdSize + 4

type RelayServer struct {
	self        types.NodeId
	relayAddr   string

	mu        sync.Mutex
	tcp       net.Conn
	available bool
	inbound   chan Conn
	conns     map[types.NodeId]*relayConn
}

func NewRelayServer(self types.NodeId, relayAddr string) *RelayServer {
	return &RelayServer{
		self:      self,
		relayAddr: relayAddr,
		inbound:   make(chan Conn, 32),
		conns:     make(map[types.NodeId]*relayConn),
	}
}

func (r *RelayServer) Kind() types.TransportKind { return types.TransportRelayServer }
func (r *RelayServer) Available() bool           { return r.available }

func (r *RelayServer) Start(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, relayDialTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", r.relayAddr)
	if err != nil {
		r.available = false
		return fmt.Errorf("relayserver: dial %s: %w", r.relayAddr, err)
	}

	// Register our NodeId with the relay so it knows where to route
	// frames addressed to us.
	if _, err := conn.Write(r.self[:]); err != nil {
		conn.Close()
		return fmt.Errorf("relayserver: register: %w", err)
	}

	r.mu.Lock()
	r.tcp = conn
	r.available = true
	r.mu.Unlock()

	go r.readLoop()
	return nil
}

func (r *RelayServer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.available = false
	if r.tcp != nil {
		err := r.tcp.Close()
		r.tcp = nil
		return err
	}
	return nil
}

func (r *RelayServer) readLoop() {
	header := make([]byte, relayFrameHeaderSize)
	for {
		r.mu.Lock()
		conn := r.tcp
		r.mu.Unlock()
		if conn == nil {
			return
		}

		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		var sender types.NodeId
		copy(sender[:], header[:types.NodeIdSize])
		n := binary.BigEndian.Uint32(header[types.NodeIdSize:])

		payload := make([]byte, n)
		if _, err := io.ReadFull(conn, payload); err != nil {
			return
		}

		r.mu.Lock()
		c, ok := r.conns[sender]
		if !ok {
			c = newRelayConn(r, sender)
			r.conns[sender] = c
			r.mu.Unlock()
			select {
			case r.inbound <- c:
			default:
			}
		} else {
			r.mu.Unlock()
		}
		c.deliver(payload)
	}
}

// Broadcast addresses a frame to the all-zero NodeId; the relay server is
// expected to understand that as "fan out to every registered peer".
func (r *RelayServer) Broadcast(ctx context.Context, b []byte) error {
	return r.writeFrame(types.BroadcastID, b)
}

func (r *RelayServer) writeFrame(dest types.NodeId, b []byte) error {
	r.mu.Lock()
	conn := r.tcp
	r.mu.Unlock()
	if conn == nil {
		return ErrUnavailable
	}

	header := make([]byte, relayFrameHeaderSize)
	copy(header, dest[:])
	binary.BigEndian.PutUint32(header[types.NodeIdSize:], uint32(len(b)))

	if _, err := conn.Write(header); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	if _, err := conn.Write(b); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

func (r *RelayServer) Dial(ctx context.Context, d Descriptor) (Conn, error) {
	r.mu.Lock()
	if r.tcp == nil {
		r.mu.Unlock()
		return nil, ErrUnavailable
	}
	c, ok := r.conns[d.NodeID]
	if !ok {
		c = newRelayConn(r, d.NodeID)
		r.conns[d.NodeID] = c
	}
	r.mu.Unlock()
	return c, nil
}

func (r *RelayServer) Accept() <-chan Conn { return r.inbound }

type relayConn struct {
	r      *RelayServer
	remote types.NodeId
	rx     chan []byte
	closed chan struct{}
}

func newRelayConn(r *RelayServer, remote types.NodeId) *relayConn {
	return &relayConn{r: r, remote: remote, rx: make(chan []byte, 64), closed: make(chan struct{})}
}

func (c *relayConn) deliver(b []byte) {
	select {
	case c.rx <- b:
	case <-c.closed:
	default:
	}
}

func (c *relayConn) Send(ctx context.Context, b []byte) error {
	return c.r.writeFrame(c.remote, b)
}

func (c *relayConn) Recv(ctx context.Context) ([]byte, error) {
	select {
	case b := <-c.rx:
		return b, nil
	case <-c.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *relayConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

func (c *relayConn) RemoteNode() types.NodeId  { return c.remote }
func (c *relayConn) Kind() types.TransportKind { return types.TransportRelayServer }
