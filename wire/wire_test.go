package wire

import (
	"bytes"
	"testing"

	"github.com/SaemsCodes/offline-radio-sub000/types"
)

func samplePacket() *types.Packet {
	var pid types.PacketID
	var src, dst, hop types.NodeId
	for i := range pid {
		pid[i] = byte(i)
	}
	for i := range src {
		src[i] = byte(i + 1)
	}
	for i := range hop {
		hop[i] = byte(i + 2)
	}
	return &types.Packet{
		PacketID:      pid,
		SourceID:      src,
		DestinationID: dst, // broadcast
		Type:          types.PacketText,
		Priority:      types.PriorityNormal,
		TTL:           4,
		RouteTrace:    []types.NodeId{src, hop},
		TimestampMs:   1700000000000,
		Encrypted:     true,
		Emergency:     false,
		Payload:       []byte("HELLO"),
	}
}

func TestRoundtrip(t *testing.T) {
	p := samplePacket()
	buf, err := Encode(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := Decode(buf, Limits{MaxHops: 10, MaxPayload: 65536})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got.PacketID != p.PacketID {
		t.Error("packet_id mismatch")
	}
	if got.SourceID != p.SourceID || got.DestinationID != p.DestinationID {
		t.Error("source/destination mismatch")
	}
	if got.Type != p.Type || got.Priority != p.Priority || got.TTL != p.TTL {
		t.Error("type/priority/ttl mismatch")
	}
	if got.TimestampMs != p.TimestampMs {
		t.Error("timestamp mismatch")
	}
	if got.Encrypted != p.Encrypted || got.Emergency != p.Emergency {
		t.Error("flags mismatch")
	}
	if len(got.RouteTrace) != len(p.RouteTrace) {
		t.Fatalf("trace length mismatch: got %d want %d", len(got.RouteTrace), len(p.RouteTrace))
	}
	for i := range p.RouteTrace {
		if got.RouteTrace[i] != p.RouteTrace[i] {
			t.Errorf("trace[%d] mismatch", i)
		}
	}
	if !bytes.Equal(got.Payload, p.Payload) {
		t.Error("payload mismatch")
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	p := samplePacket()
	buf, _ := Encode(p)
	buf[0] ^= 0xFF
	if _, err := Decode(buf, Limits{MaxHops: 10, MaxPayload: 65536}); err != types.ErrUnknownMagic {
		t.Fatalf("expected ErrUnknownMagic, got %v", err)
	}
}

func TestDecodeRejectsVersionMismatch(t *testing.T) {
	p := samplePacket()
	buf, _ := Encode(p)
	buf[4] = 0xFF
	if _, err := Decode(buf, Limits{MaxHops: 10, MaxPayload: 65536}); err != types.ErrVersionMismatch {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
}

func TestDecodeRejectsBadCRC(t *testing.T) {
	p := samplePacket()
	buf, _ := Encode(p)
	buf[len(buf)-1] ^= 0xFF
	if _, err := Decode(buf, Limits{MaxHops: 10, MaxPayload: 65536}); err != types.ErrBadCRC {
		t.Fatalf("expected ErrBadCRC, got %v", err)
	}
}

func TestDecodeRejectsOversizeTrace(t *testing.T) {
	p := samplePacket()
	p.RouteTrace = make([]types.NodeId, 20)
	buf, err := Encode(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := Decode(buf, Limits{MaxHops: 5, MaxPayload: 65536}); err != types.ErrTraceTooLong {
		t.Fatalf("expected ErrTraceTooLong, got %v", err)
	}
}

func TestDecodeRejectsOversizePayload(t *testing.T) {
	p := samplePacket()
	p.Payload = bytes.Repeat([]byte{0x41}, 2000)
	buf, err := Encode(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := Decode(buf, Limits{MaxHops: 10, MaxPayload: 1024}); err != types.ErrPayloadOversize {
		t.Fatalf("expected ErrPayloadOversize, got %v", err)
	}
}

func TestDecodeRejectsTruncated(t *testing.T) {
	p := samplePacket()
	buf, _ := Encode(p)
	if _, err := Decode(buf[:10], Limits{MaxHops: 10, MaxPayload: 65536}); err != types.ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}
