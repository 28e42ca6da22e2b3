/* SPDX-License-Identifier: MIT
 *
 * Package transport defines the uniform capability set every concrete
 * transport implements (spec.md §4.3), the way the teacher's conn.Bind
 * interface (golang.zx2c4.com/wireguard/conn/conn.go) gives WireGuard one
 * shape for "a socket" regardless of platform. Here the polymorphism is
 * over transport *kind* (DirectLan / RelayServer / ShortRange / LocalBus)
 * rather than platform, and connections are explicit handles instead of
 * an opaque Endpoint, because the Connection Pool (spec.md §4.5) needs to
 * reference-count and evict them independently of any one transport.
 */
package transport

import (
	"context"
	"errors"

	"github.com/SaemsCodes/offline-radio-sub000/types"
)

var (
	ErrUnavailable   = errors.New("transport: unavailable on this host")
	ErrDialTimeout   = errors.New("transport: dial timed out")
	ErrClosed        = errors.New("transport: connection closed")
	ErrSendFailed    = errors.New("transport: send failed")
)

// Descriptor identifies a node reachable over one transport kind.
// Address is transport-specific: "host:port" for DirectLan/RelayServer,
// a serial device path for ShortRange, a local socket path for LocalBus.
type Descriptor struct {
	NodeID  types.NodeId
	Address string
}

// Conn is a single, single-writer, ordered byte-stream or datagram
// connection to one peer over one transport. The Pipeline serializes
// writes to a Conn via a per-handle queue (spec.md §5); Conn itself does
// not need to be safe for concurrent Send calls from multiple goroutines,
// only safe for one writer concurrent with one reader plus Close.
type Conn interface {
	// Send transmits one framed packet. Suspends the caller for the
	// duration of the underlying I/O (spec.md §5).
	Send(ctx context.Context, b []byte) error

	// Recv blocks for the next framed packet or until ctx is done.
	Recv(ctx context.Context) ([]byte, error)

	Close() error

	RemoteNode() types.NodeId
	Kind() types.TransportKind
}

// Transport is the capability set of spec.md §4.3: start, announce,
// dial, accept, send/recv (folded into Conn), close.
type Transport interface {
	Kind() types.TransportKind

	// Available reports whether this transport's medium was detected at
	// startup (spec.md: "unavailable transports are omitted from the
	// pool").
	Available() bool

	Start(ctx context.Context) error
	Stop() error

	// Broadcast ships one connectionless frame to every reachable peer on
	// this transport's medium — used for Announce and for forwarding
	// BROADCAST-destination packets. Discovery drives the periodic cadence
	// (ANNOUNCE_INTERVAL); Broadcast itself just sends once.
	Broadcast(ctx context.Context, b []byte) error

	// Dial establishes a Conn to d, or returns ErrUnavailable when the
	// transport is not started (or a transport-specific error). The pool
	// tries the next transport on failure.
	Dial(ctx context.Context, d Descriptor) (Conn, error)

	// Accept streams inbound connections/datagram-origin Conns as peers
	// reach this node. Stop does not close the channel.
	Accept() <-chan Conn
}

// BandwidthEstimateKbps mirrors types.TransportKind.BandwidthEstimateKbps
// for callers that only hold a Transport.
func BandwidthEstimateKbps(t Transport) int {
	return t.Kind().BandwidthEstimateKbps()
}
