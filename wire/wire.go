/* SPDX-License-Identifier: MIT
 *
 * Canonical binary wire format for mesh packets, spec.md §4.1 and §6.
 */

// Package wire implements the stable, versioned binary framing used on
// every transport: Encode turns a types.Packet into bytes, Decode turns
// bytes back into a types.Packet, rejecting anything structurally invalid
// without ever panicking.
package wire

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/SaemsCodes/offline-radio-sub000/types"
)

// Magic identifies this protocol on the wire; Version allows the format to
// evolve. Decoders silently drop packets whose version they don't
// recognize (spec.md §6).
var Magic = [4]byte{'M', 'S', 'H', '1'}

const Version uint8 = 1

const (
	flagEncrypted = 1 << 0
	flagEmergency = 1 << 1
)

// fixedHeaderSize is every fixed-width field, i.e. everything except trace,
// payload and the trailing crc32: 4+1+1+1+1 + 16+16+16 + 8 + 1 + 1(trace_len) + 2(payload_len)
const fixedHeaderSize = 4 + 1 + 1 + 1 + 1 + types.NodeIdSize*3 + 8 + 1 + 1 + 2
const crcSize = 4

// Limits bounds decoding against the locally configured policy; the wire
// format itself has no hard cap beyond the byte widths of trace_len (u8)
// and payload_len (u16).
type Limits struct {
	MaxHops    uint8
	MaxPayload uint32 // compared against the wire's 16-bit payload_len field
}

// Encode serializes p into the canonical little-endian frame. It never
// fails on a structurally valid Packet (trace/payload length are
// caller-checked against Limits before this is called on the send path).
func Encode(p *types.Packet) ([]byte, error) {
	traceLen := len(p.RouteTrace)
	if traceLen > 255 {
		return nil, types.ErrTraceTooLong
	}
	if len(p.Payload) > 0xFFFF {
		return nil, types.ErrPayloadOversize
	}

	size := fixedHeaderSize + traceLen*types.NodeIdSize + len(p.Payload) + crcSize
	buf := make([]byte, size)

	off := 0
	copy(buf[off:], Magic[:])
	off += 4
	buf[off] = Version
	off++
	buf[off] = byte(p.Type)
	off++
	buf[off] = byte(p.Priority)
	off++
	buf[off] = p.TTL
	off++

	copy(buf[off:], p.PacketID[:])
	off += 16
	copy(buf[off:], p.SourceID[:])
	off += 16
	copy(buf[off:], p.DestinationID[:])
	off += 16

	binary.LittleEndian.PutUint64(buf[off:], p.TimestampMs)
	off += 8

	var flags uint8
	if p.Encrypted {
		flags |= flagEncrypted
	}
	if p.Emergency {
		flags |= flagEmergency
	}
	buf[off] = flags
	off++

	buf[off] = byte(traceLen)
	off++
	for _, hop := range p.RouteTrace {
		copy(buf[off:], hop[:])
		off += types.NodeIdSize
	}

	binary.LittleEndian.PutUint16(buf[off:], uint16(len(p.Payload)))
	off += 2
	copy(buf[off:], p.Payload)
	off += len(p.Payload)

	sum := crc32.ChecksumIEEE(buf[:off])
	binary.LittleEndian.PutUint32(buf[off:], sum)

	return buf, nil
}

// Decode parses a frame, enforcing limits and rejecting unknown magic,
// version mismatch, oversize trace/payload, and CRC failure. It returns a
// tagged error kind and never panics on malformed input.
func Decode(buf []byte, limits Limits) (*types.Packet, error) {
	if len(buf) < fixedHeaderSize+crcSize {
		return nil, types.ErrTruncated
	}

	off := 0
	if string(buf[off:off+4]) != string(Magic[:]) {
		return nil, types.ErrUnknownMagic
	}
	off += 4

	version := buf[off]
	off++
	if version != Version {
		return nil, types.ErrVersionMismatch
	}

	p := &types.Packet{
		Type:     types.PacketType(buf[off]),
		Priority: types.Priority(buf[off+1]),
		TTL:      buf[off+2],
	}
	off += 3

	copy(p.PacketID[:], buf[off:off+16])
	off += 16
	copy(p.SourceID[:], buf[off:off+16])
	off += 16
	copy(p.DestinationID[:], buf[off:off+16])
	off += 16

	p.TimestampMs = binary.LittleEndian.Uint64(buf[off:])
	off += 8

	flags := buf[off]
	off++
	p.Encrypted = flags&flagEncrypted != 0
	p.Emergency = flags&flagEmergency != 0

	if off >= len(buf) {
		return nil, types.ErrTruncated
	}
	traceLen := int(buf[off])
	off++

	maxHops := int(limits.MaxHops)
	if maxHops == 0 {
		maxHops = types.MaxMaxHops
	}
	if traceLen > maxHops {
		return nil, types.ErrTraceTooLong
	}
	need := traceLen * types.NodeIdSize
	if off+need+2 > len(buf) {
		return nil, types.ErrTruncated
	}
	p.RouteTrace = make([]types.NodeId, traceLen)
	for i := 0; i < traceLen; i++ {
		copy(p.RouteTrace[i][:], buf[off:])
		off += types.NodeIdSize
	}

	payloadLen := binary.LittleEndian.Uint16(buf[off:])
	off += 2

	maxPayload := limits.MaxPayload
	if maxPayload == 0 {
		maxPayload = types.DefaultMaxPayloadBytes
	}
	if uint32(payloadLen) > maxPayload {
		return nil, types.ErrPayloadOversize
	}
	if off+int(payloadLen)+crcSize > len(buf) {
		return nil, types.ErrTruncated
	}
	p.Payload = append([]byte(nil), buf[off:off+int(payloadLen)]...)
	off += int(payloadLen)

	want := binary.LittleEndian.Uint32(buf[off:])
	got := crc32.ChecksumIEEE(buf[:off])
	if want != got {
		return nil, types.ErrBadCRC
	}

	return p, nil
}
