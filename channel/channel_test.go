/* SPDX-License-Identifier: MIT */
package channel

import (
	"testing"

	"github.com/SaemsCodes/offline-radio-sub000/events"
	"github.com/SaemsCodes/offline-radio-sub000/types"
)

type fakeTransmitter struct {
	dest      types.NodeId
	kind      types.PacketType
	priority  types.Priority
	ttl       uint8
	payload   []byte
	encrypt   bool
	emergency bool
	calls     int
}

func (f *fakeTransmitter) Transmit(dest types.NodeId, kind types.PacketType, priority types.Priority, ttl uint8, payload []byte, encrypt, emergency bool) (types.PacketID, error) {
	f.dest = dest
	f.kind = kind
	f.priority = priority
	f.ttl = ttl
	f.payload = payload
	f.encrypt = encrypt
	f.emergency = emergency
	f.calls++
	return types.NewPacketID()
}

func newID(b byte) types.NodeId {
	var id types.NodeId
	id[0] = b
	return id
}

func TestTransmitTextBroadcastsPlaintext(t *testing.T) {
	tx := &fakeTransmitter{}
	l := New(tx, events.NewBroker(), 7)

	if _, err := l.TransmitText("HELLO", false, types.NodeId{}); err != nil {
		t.Fatalf("transmit: %v", err)
	}
	if tx.dest != types.BroadcastID {
		t.Fatalf("plaintext channel transmission must ride BROADCAST, got %v", tx.dest)
	}
	if tx.encrypt {
		t.Fatalf("encrypt flag must not be set when the caller asked for plaintext")
	}

	env, ok := decodeEnvelope(tx.payload)
	if !ok {
		t.Fatalf("expected a decodable envelope")
	}
	if env.channel != 7 || string(env.content) != "HELLO" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestTransmitTextEncryptedRequiresPeer(t *testing.T) {
	tx := &fakeTransmitter{}
	l := New(tx, events.NewBroker(), 1)

	_, err := l.TransmitText("secret", true, types.NodeId{})
	if err != types.ErrNotPaired {
		t.Fatalf("expected ErrNotPaired when encrypting with no peer, got %v", err)
	}
	if tx.calls != 0 {
		t.Fatalf("Transmitter must not be called when the peer is missing")
	}
}

func TestTransmitVoiceEncryptedTargetsPeer(t *testing.T) {
	tx := &fakeTransmitter{}
	l := New(tx, events.NewBroker(), 3)
	peer := newID(0xAA)

	if _, err := l.TransmitVoice([]byte{0xDE, 0xAD}, true, peer); err != nil {
		t.Fatalf("transmit: %v", err)
	}
	if tx.dest != peer {
		t.Fatalf("encrypted channel transmission must ride directly to the paired peer, got %v", tx.dest)
	}
	if !tx.encrypt {
		t.Fatalf("encrypt flag must be set when the caller asked for encryption")
	}
}

func TestTransmitEmergencyAlwaysPlaintextBroadcast(t *testing.T) {
	tx := &fakeTransmitter{}
	l := New(tx, events.NewBroker(), 1)

	if _, err := l.TransmitEmergency([]byte("help")); err != nil {
		t.Fatalf("transmit: %v", err)
	}
	if tx.dest != types.BroadcastID || tx.encrypt {
		t.Fatalf("emergency beacons must be plaintext BROADCAST regardless of pairing state")
	}
	if tx.priority != priorityEmergency || tx.ttl != ttlEmergency {
		t.Fatalf("expected emergency priority/ttl, got priority=%v ttl=%v", tx.priority, tx.ttl)
	}
}

func TestDeliverFiltersOtherChannels(t *testing.T) {
	broker := events.NewBroker()
	l := New(&fakeTransmitter{}, broker, 5)

	var got []Transmission
	l.Subscribe(func(tr Transmission) { got = append(got, tr) })

	p := &types.Packet{
		PacketID: mustPacketID(t),
		SourceID: newID(2),
		Payload:  encodeEnvelope(9, types.PacketText, []byte("not for you")),
	}
	l.Deliver(p, 50)
	if len(got) != 0 {
		t.Fatalf("expected a transmission on a different channel to be dropped, got %d", len(got))
	}
}

func TestDeliverPublishesTransmission(t *testing.T) {
	broker := events.NewBroker()
	l := New(&fakeTransmitter{}, broker, 5)

	var got []Transmission
	l.Subscribe(func(tr Transmission) { got = append(got, tr) })

	pid := mustPacketID(t)
	p := &types.Packet{
		PacketID:    pid,
		SourceID:    newID(3),
		Payload:     encodeEnvelope(5, types.PacketVoice, []byte{0xDE, 0xAD, 0xBE, 0xEF}),
		Encrypted:   true,
		Emergency:   false,
		TimestampMs: 123456,
	}
	l.Deliver(p, 88)

	if len(got) != 1 {
		t.Fatalf("expected exactly one delivered transmission, got %d", len(got))
	}
	tr := got[0]
	if tr.TransmissionID != pid {
		t.Fatalf("transmission_id must equal packet_id")
	}
	if tr.Channel != 5 || tr.Kind != types.PacketVoice {
		t.Fatalf("unexpected channel/kind: %+v", tr)
	}
	if string(tr.Content) != string([]byte{0xDE, 0xAD, 0xBE, 0xEF}) {
		t.Fatalf("unexpected content: %v", tr.Content)
	}
	if tr.FromPeer != newID(3) {
		t.Fatalf("unexpected sender: %v", tr.FromPeer)
	}
	if !tr.Encrypted {
		t.Fatalf("expected encrypted flag to be threaded through from the packet")
	}
	if tr.TimestampMs != 123456 {
		t.Fatalf("expected the original sender timestamp, got %d", tr.TimestampMs)
	}
	if tr.SignalStrength != 88 {
		t.Fatalf("expected the receiver-observed signal strength, got %d", tr.SignalStrength)
	}
}

func mustPacketID(t *testing.T) types.PacketID {
	t.Helper()
	pid, err := types.NewPacketID()
	if err != nil {
		t.Fatalf("new packet id: %v", err)
	}
	return pid
}
