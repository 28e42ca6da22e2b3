/* SPDX-License-Identifier: MIT
 *
 * announceCodec implements discovery.Encoder: the wire shape of an
 * Announce payload (spec.md §4.4), sent raw over each transport's
 * Broadcast rather than through the Packet Pipeline/Framing codec, since
 * announcements are connectionless and have no destination, dedup, or
 * routing concerns of their own.
 */
package engine

import (
	"encoding/binary"
	"fmt"

	"github.com/SaemsCodes/offline-radio-sub000/discovery"
	"github.com/SaemsCodes/offline-radio-sub000/types"
)

const announceWireSize = types.NodeIdSize + 1 + 1 + 8

type announceCodec struct{}

var _ discovery.Encoder = announceCodec{}

func (announceCodec) EncodeAnnouncement(a discovery.Announcement) ([]byte, error) {
	buf := make([]byte, announceWireSize)
	off := 0
	copy(buf[off:], a.NodeID[:])
	off += types.NodeIdSize
	buf[off] = byte(a.Capabilities)
	off++
	buf[off] = a.Battery
	off++
	binary.LittleEndian.PutUint64(buf[off:], a.MonotonicMs)
	return buf, nil
}

func (announceCodec) DecodeAnnouncement(b []byte) (discovery.Announcement, error) {
	if len(b) != announceWireSize {
		return discovery.Announcement{}, fmt.Errorf("engine: malformed announcement (%d bytes)", len(b))
	}
	var a discovery.Announcement
	off := 0
	copy(a.NodeID[:], b[off:off+types.NodeIdSize])
	off += types.NodeIdSize
	a.Capabilities = types.Capabilities(b[off])
	off++
	a.Battery = b[off]
	off++
	a.MonotonicMs = binary.LittleEndian.Uint64(b[off:])
	return a, nil
}
