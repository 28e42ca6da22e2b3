/* SPDX-License-Identifier: MIT
 *
 * DirectLan: a peer-to-peer session over a session-oriented UDP socket,
 * mirroring the teacher's conn.StdNetBind (conn/bind_std.go) which binds
 * one *net.UDPConn per address family and demuxes incoming datagrams by
 * source address. DirectLan demuxes the same way, one Conn per remote
 * UDP address; a Conn created for an unknown sender carries a zero
 * RemoteNode until a Dial names the peer.
 */
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/SaemsCodes/offline-radio-sub000/types"
)

const directLanMaxDatagram = 65_535 + 64

// DirectLan binds one UDP socket and demultiplexes datagrams into
// per-peer Conns by the sender's address, falling back to broadcast on
// the subnet for Broadcast/Announce.
type DirectLan struct {
	self    types.NodeId
	bindPort uint16
	mu       sync.Mutex
	sock     *net.UDPConn
	peers    map[types.NodeId]*net.UDPAddr
	inbound  chan Conn
	conns    map[string]*directLanConn // keyed by remote addr string
	available bool
}

func NewDirectLan(self types.NodeId, bindPort uint16) *DirectLan {
	return &DirectLan{
		self:     self,
		bindPort: bindPort,
		peers:    make(map[types.NodeId]*net.UDPAddr),
		conns:    make(map[string]*directLanConn),
		inbound:  make(chan Conn, 32),
	}
}

func (d *DirectLan) Kind() types.TransportKind { return types.TransportDirectLan }
func (d *DirectLan) Available() bool           { return d.available }

func (d *DirectLan) Start(ctx context.Context) error {
	sock, err := net.ListenUDP("udp4", &net.UDPAddr{Port: int(d.bindPort)})
	if err != nil {
		d.available = false
		return fmt.Errorf("directlan: listen: %w", err)
	}
	d.mu.Lock()
	d.sock = sock
	d.available = true
	d.mu.Unlock()

	go d.readLoop(ctx)
	return nil
}

func (d *DirectLan) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.available = false
	if d.sock != nil {
		err := d.sock.Close()
		d.sock = nil
		return err
	}
	return nil
}

func (d *DirectLan) readLoop(ctx context.Context) {
	buf := make([]byte, directLanMaxDatagram)
	for {
		d.mu.Lock()
		sock := d.sock
		d.mu.Unlock()
		if sock == nil {
			return
		}

		n, addr, err := sock.ReadFromUDP(buf)
		if err != nil {
			return
		}
		payload := append([]byte(nil), buf[:n]...)

		d.mu.Lock()
		c, ok := d.conns[addr.String()]
		if !ok {
			c = newDirectLanConn(d, addr, types.NodeId{})
			d.conns[addr.String()] = c
			d.mu.Unlock()
			select {
			case d.inbound <- c:
			default:
			}
		} else {
			d.mu.Unlock()
		}
		c.deliver(payload)
	}
}

func (d *DirectLan) Broadcast(ctx context.Context, b []byte) error {
	d.mu.Lock()
	sock := d.sock
	d.mu.Unlock()
	if sock == nil {
		return ErrUnavailable
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return err
	}
	var lastErr error
	sent := false
	for _, ifc := range ifaces {
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok || ipnet.IP.To4() == nil {
				continue
			}
			bcast := broadcastAddr(ipnet)
			if bcast == nil {
				continue
			}
			dst := &net.UDPAddr{IP: bcast, Port: int(d.bindPort)}
			if _, err := sock.WriteToUDP(b, dst); err != nil {
				lastErr = err
				continue
			}
			sent = true
		}
	}
	if !sent && lastErr != nil {
		return lastErr
	}
	return nil
}

func broadcastAddr(ipnet *net.IPNet) net.IP {
	ip4 := ipnet.IP.To4()
	if ip4 == nil {
		return nil
	}
	mask := ipnet.Mask
	out := make(net.IP, len(ip4))
	for i := range ip4 {
		out[i] = ip4[i] | ^mask[i]
	}
	return out
}

func (d *DirectLan) Dial(ctx context.Context, dsc Descriptor) (Conn, error) {
	d.mu.Lock()
	sock := d.sock
	d.mu.Unlock()
	if sock == nil {
		return nil, ErrUnavailable
	}

	addr, err := net.ResolveUDPAddr("udp4", dsc.Address)
	if err != nil {
		return nil, fmt.Errorf("directlan: resolve %q: %w", dsc.Address, err)
	}

	d.mu.Lock()
	c, ok := d.conns[addr.String()]
	if !ok {
		c = newDirectLanConn(d, addr, dsc.NodeID)
		d.conns[addr.String()] = c
	}
	d.mu.Unlock()

	// DirectLan is connectionless: there is nothing to block on here, the
	// 10s dial budget (spec.md §5) only matters for transports that
	// actually negotiate a session before Dial returns.
	return c, nil
}

func (d *DirectLan) Accept() <-chan Conn { return d.inbound }

type directLanConn struct {
	d      *DirectLan
	addr   *net.UDPAddr
	remote types.NodeId
	rx     chan []byte
	closed chan struct{}
}

func newDirectLanConn(d *DirectLan, addr *net.UDPAddr, remote types.NodeId) *directLanConn {
	return &directLanConn{d: d, addr: addr, remote: remote, rx: make(chan []byte, 64), closed: make(chan struct{})}
}

func (c *directLanConn) deliver(b []byte) {
	select {
	case c.rx <- b:
	case <-c.closed:
	default:
		// backpressure from a slow reader drops the oldest-style: we drop
		// the newest datagram rather than block the shared read loop.
	}
}

func (c *directLanConn) Send(ctx context.Context, b []byte) error {
	if len(b) > directLanMaxDatagram {
		return ErrSendFailed
	}
	c.d.mu.Lock()
	sock := c.d.sock
	c.d.mu.Unlock()
	if sock == nil {
		return ErrClosed
	}
	_, err := sock.WriteToUDP(b, c.addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

func (c *directLanConn) Recv(ctx context.Context) ([]byte, error) {
	select {
	case b := <-c.rx:
		return b, nil
	case <-c.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *directLanConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

func (c *directLanConn) RemoteNode() types.NodeId  { return c.remote }
func (c *directLanConn) Kind() types.TransportKind { return types.TransportDirectLan }
