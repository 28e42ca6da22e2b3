/* SPDX-License-Identifier: MIT
 *
 * ShortRange: a directly-attached radio reachable over a serial port
 * (spec.md §4.3), modeled the way facebook-time's sa53fw/mac.Mac opens
 * and frames a serial device with go.bug.st/serial. Unlike DirectLan or
 * LocalBus, this link is slow and lossy enough that every frame is
 * protected with transport/fec before it goes over the wire, and a
 * length-prefixed framing layer recovers shard boundaries from the
 * serial byte stream.
 */
package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"

	"github.com/SaemsCodes/offline-radio-sub000/transport/fec"
	"github.com/SaemsCodes/offline-radio-sub000/types"
)

const (
	shortRangeBaudRate  = 57600
	shortRangeShardSize = 200
	// data shards carry the frame, this many parity shards tolerate
	// dropped/garbled shards on a noisy radio link.
	shortRangeDataShards   = 4
	shortRangeParityShards = 2
)

// ShortRange wraps a single serial port as a point-to-point transport: it
// has exactly one remote peer (whatever is on the other end of the
// radio), so Broadcast and Dial both resolve to that same connection.
type ShortRange struct {
	self     types.NodeId
	device   string
	protect  fec.Protector

	mu        sync.Mutex
	port      serial.Port
	available bool
	inbound   chan Conn
	conn      *shortRangeConn
}

func NewShortRange(self types.NodeId, device string) (*ShortRange, error) {
	protect, err := fec.NewReedSolomon(shortRangeDataShards, shortRangeParityShards)
	if err != nil {
		return nil, fmt.Errorf("shortrange: fec setup: %w", err)
	}
	return &ShortRange{
		self:    self,
		device:  device,
		protect: protect,
		inbound: make(chan Conn, 1),
	}, nil
}

func (s *ShortRange) Kind() types.TransportKind { return types.TransportShortRange }
func (s *ShortRange) Available() bool           { return s.available }

func (s *ShortRange) Start(ctx context.Context) error {
	port, err := serial.Open(s.device, &serial.Mode{BaudRate: shortRangeBaudRate})
	if err != nil {
		s.available = false
		return fmt.Errorf("shortrange: open %s: %w", s.device, err)
	}

	s.mu.Lock()
	s.port = port
	s.available = true
	s.conn = newShortRangeConn(s)
	s.mu.Unlock()

	select {
	case s.inbound <- s.conn:
	default:
	}

	go s.readLoop()
	return nil
}

func (s *ShortRange) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available = false
	if s.port != nil {
		err := s.port.Close()
		s.port = nil
		return err
	}
	return nil
}

// readLoop reads one FEC-protected frame at a time: a 4-byte original
// length, a 2-byte shard count, then that many length-prefixed shards
// (nil-length marks an erasure the radio link failed to deliver intact).
func (s *ShortRange) readLoop() {
	for {
		s.mu.Lock()
		port := s.port
		s.mu.Unlock()
		if port == nil {
			return
		}

		frame, err := s.readFrame(port)
		if err != nil {
			return
		}

		s.mu.Lock()
		c := s.conn
		s.mu.Unlock()
		if c != nil {
			c.deliver(frame)
		}
	}
}

func (s *ShortRange) readFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 6)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	originalLen := int(binary.BigEndian.Uint32(header[:4]))
	shardCount := int(binary.BigEndian.Uint16(header[4:]))

	shards := make([]fec.Shard, shardCount)
	for i := 0; i < shardCount; i++ {
		lenBuf := make([]byte, 2)
		if _, err := io.ReadFull(r, lenBuf); err != nil {
			return nil, err
		}
		n := binary.BigEndian.Uint16(lenBuf)
		if n == 0 {
			continue // erasure
		}
		shard := make([]byte, n)
		if _, err := io.ReadFull(r, shard); err != nil {
			return nil, err
		}
		shards[i] = fec.Shard(shard)
	}

	return fec.DecodeFrame(s.protect, shards, originalLen)
}

func (s *ShortRange) writeFrame(w io.Writer, b []byte) error {
	shards, err := fec.EncodeFrame(s.protect, b)
	if err != nil {
		return fmt.Errorf("shortrange: fec encode: %w", err)
	}

	header := make([]byte, 6)
	binary.BigEndian.PutUint32(header[:4], uint32(len(b)))
	binary.BigEndian.PutUint16(header[4:], uint16(len(shards)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	for _, shard := range shards {
		lenBuf := make([]byte, 2)
		binary.BigEndian.PutUint16(lenBuf, uint16(len(shard)))
		if _, err := w.Write(lenBuf); err != nil {
			return fmt.Errorf("%w: %v", ErrSendFailed, err)
		}
		if _, err := w.Write(shard); err != nil {
			return fmt.Errorf("%w: %v", ErrSendFailed, err)
		}
	}
	return nil
}

// Broadcast and Dial both resolve to the single conn on the other end of
// the wire: a serial radio link has no concept of addressing multiple
// peers on one port.
func (s *ShortRange) Broadcast(ctx context.Context, b []byte) error {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return ErrUnavailable
	}
	return s.writeFrame(port, b)
}

func (s *ShortRange) Dial(ctx context.Context, d Descriptor) (Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil, ErrUnavailable
	}
	s.conn.remote = d.NodeID
	return s.conn, nil
}

func (s *ShortRange) Accept() <-chan Conn { return s.inbound }

type shortRangeConn struct {
	s      *ShortRange
	remote types.NodeId
	rx     chan []byte
	closed chan struct{}
}

func newShortRangeConn(s *ShortRange) *shortRangeConn {
	return &shortRangeConn{s: s, rx: make(chan []byte, 32), closed: make(chan struct{})}
}

func (c *shortRangeConn) deliver(b []byte) {
	select {
	case c.rx <- b:
	case <-c.closed:
	default:
	}
}

func (c *shortRangeConn) Send(ctx context.Context, b []byte) error {
	c.s.mu.Lock()
	port := c.s.port
	c.s.mu.Unlock()
	if port == nil {
		return ErrClosed
	}
	return c.s.writeFrame(port, b)
}

func (c *shortRangeConn) Recv(ctx context.Context) ([]byte, error) {
	select {
	case b := <-c.rx:
		return b, nil
	case <-c.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *shortRangeConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

func (c *shortRangeConn) RemoteNode() types.NodeId  { return c.remote }
func (c *shortRangeConn) Kind() types.TransportKind { return types.TransportShortRange }
