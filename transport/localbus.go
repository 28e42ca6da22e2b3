/* SPDX-License-Identifier: MIT
 *
 * LocalBus: intra-host discovery between co-located instances, spec.md
 * §4.3. Modeled as a Unix datagram socket per process under a shared
 * rendezvous directory (e.g. for running several nodes on one test
 * machine); Broadcast fans out to every socket file currently present in
 * that directory, playing the role DirectLan's subnet broadcast plays on
 * a real LAN.
 */
package transport

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/SaemsCodes/offline-radio-sub000/types"
)

type LocalBus struct {
	self types.NodeId
	dir  string

	mu        sync.Mutex
	sock      *net.UnixConn
	sockPath  string
	inbound   chan Conn
	conns     map[string]*localBusConn
	available bool
}

func NewLocalBus(self types.NodeId, rendezvousDir string) *LocalBus {
	return &LocalBus{
		self:    self,
		dir:     rendezvousDir,
		inbound: make(chan Conn, 32),
		conns:   make(map[string]*localBusConn),
	}
}

func (l *LocalBus) Kind() types.TransportKind { return types.TransportLocalBus }
func (l *LocalBus) Available() bool           { return l.available }

func (l *LocalBus) Start(ctx context.Context) error {
	if err := os.MkdirAll(l.dir, 0o700); err != nil {
		return fmt.Errorf("localbus: rendezvous dir: %w", err)
	}
	path := filepath.Join(l.dir, l.self.String()+".sock")
	_ = os.Remove(path)

	sock, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		l.available = false
		return fmt.Errorf("localbus: listen: %w", err)
	}

	l.mu.Lock()
	l.sock = sock
	l.sockPath = path
	l.available = true
	l.mu.Unlock()

	go l.readLoop()
	return nil
}

func (l *LocalBus) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.available = false
	if l.sock != nil {
		err := l.sock.Close()
		l.sock = nil
		_ = os.Remove(l.sockPath)
		return err
	}
	return nil
}

func (l *LocalBus) readLoop() {
	buf := make([]byte, 65_600)
	for {
		l.mu.Lock()
		sock := l.sock
		l.mu.Unlock()
		if sock == nil {
			return
		}
		n, addr, err := sock.ReadFromUnix(buf)
		if err != nil {
			return
		}
		payload := append([]byte(nil), buf[:n]...)

		key := addr.String()
		l.mu.Lock()
		c, ok := l.conns[key]
		if !ok {
			c = newLocalBusConn(l, key)
			l.conns[key] = c
			l.mu.Unlock()
			select {
			case l.inbound <- c:
			default:
			}
		} else {
			l.mu.Unlock()
		}
		c.deliver(payload)
	}
}

// Broadcast writes b to every rendezvous socket file other than our own.
func (l *LocalBus) Broadcast(ctx context.Context, b []byte) error {
	l.mu.Lock()
	sock := l.sock
	l.mu.Unlock()
	if sock == nil {
		return ErrUnavailable
	}

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("localbus: scan rendezvous dir: %w", err)
	}

	ownName := l.self.String() + ".sock"
	var lastErr error
	for _, e := range entries {
		if e.IsDir() || e.Name() == ownName {
			continue
		}
		dst := &net.UnixAddr{Name: filepath.Join(l.dir, e.Name()), Net: "unixgram"}
		if _, err := sock.WriteToUnix(b, dst); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (l *LocalBus) Dial(ctx context.Context, d Descriptor) (Conn, error) {
	l.mu.Lock()
	sock := l.sock
	l.mu.Unlock()
	if sock == nil {
		return nil, ErrUnavailable
	}

	path := d.Address
	if path == "" {
		path = filepath.Join(l.dir, d.NodeID.String()+".sock")
	}

	l.mu.Lock()
	c, ok := l.conns[path]
	if !ok {
		c = newLocalBusConn(l, path)
		c.remote = d.NodeID
		l.conns[path] = c
	}
	l.mu.Unlock()
	return c, nil
}

func (l *LocalBus) Accept() <-chan Conn { return l.inbound }

type localBusConn struct {
	l      *LocalBus
	path   string
	remote types.NodeId
	rx     chan []byte
	closed chan struct{}
}

func newLocalBusConn(l *LocalBus, path string) *localBusConn {
	return &localBusConn{l: l, path: path, rx: make(chan []byte, 64), closed: make(chan struct{})}
}

func (c *localBusConn) deliver(b []byte) {
	select {
	case c.rx <- b:
	case <-c.closed:
	default:
	}
}

func (c *localBusConn) Send(ctx context.Context, b []byte) error {
	c.l.mu.Lock()
	sock := c.l.sock
	c.l.mu.Unlock()
	if sock == nil {
		return ErrClosed
	}
	_, err := sock.WriteToUnix(b, &net.UnixAddr{Name: c.path, Net: "unixgram"})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

func (c *localBusConn) Recv(ctx context.Context) ([]byte, error) {
	select {
	case b := <-c.rx:
		return b, nil
	case <-c.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *localBusConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

func (c *localBusConn) RemoteNode() types.NodeId  { return c.remote }
func (c *localBusConn) Kind() types.TransportKind { return types.TransportLocalBus }
