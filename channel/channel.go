/* SPDX-License-Identifier: MIT
 *
 * Package channel implements the Channel Layer of spec.md §4.8: the
 * broadcast-bucket abstraction sitting directly on top of the Pipeline.
 * It frames outgoing text/voice as {channel, kind, bytes}, addresses the
 * frame to BROADCAST, and on the way back in filters delivered packets by
 * the locally subscribed channel before fanning a Transmission out to
 * subscribers via the shared events.Broker, the same publish/subscribe
 * shape the teacher's own bus would use if WireGuard had one upward-facing
 * notification surface instead of its single tun/conn boundary.
 */
package channel

import (
	"strconv"
	"sync/atomic"

	"github.com/SaemsCodes/offline-radio-sub000/events"
	"github.com/SaemsCodes/offline-radio-sub000/types"
)

const (
	MinChannel = 1
	MaxChannel = 99

	priorityDefault   = types.Priority(5)
	priorityEmergency = types.Priority(10)
	ttlDefault        = uint8(5)
	ttlEmergency      = uint8(10)
)

// Transmission is what subscribers receive: the decoded envelope plus
// enough provenance to render a sender in the UI (spec.md §3's
// Transmission: transmission_id = packet_id, encrypted?, timestamp_ms,
// signal_strength observed at the receiver).
type Transmission struct {
	TransmissionID types.PacketID
	Channel        uint8
	Kind           types.PacketType
	Content        []byte
	FromPeer       types.NodeId
	Encrypted      bool
	Emergency      bool
	TimestampMs    uint64
	SignalStrength uint8
}

// Transmitter is the narrow slice of pipeline.Pipeline the Channel Layer
// drives: building and queuing one locally originated packet.
type Transmitter interface {
	Transmit(dest types.NodeId, kind types.PacketType, priority types.Priority, ttl uint8, payload []byte, encrypt, emergency bool) (types.PacketID, error)
}

// Layer owns the locally subscribed channel and the envelope codec; it
// is driven on egress by TransmitText/TransmitVoice and on ingress by
// Deliver, which the Engine wires as the Pipeline's onDeliver callback.
type Layer struct {
	current uint32 // atomic, always in [MinChannel, MaxChannel]
	tx      Transmitter
	broker  *events.Broker
}

func New(tx Transmitter, broker *events.Broker, initial uint8) *Layer {
	if initial < MinChannel || initial > MaxChannel {
		initial = MinChannel
	}
	return &Layer{current: uint32(initial), tx: tx, broker: broker}
}

func (l *Layer) SetChannel(c uint8) error {
	if c < MinChannel || c > MaxChannel {
		return errInvalidChannel(c)
	}
	atomic.StoreUint32(&l.current, uint32(c))
	return nil
}

func (l *Layer) CurrentChannel() uint8 {
	return uint8(atomic.LoadUint32(&l.current))
}

// TransmitText encodes s onto the current channel as text and queues it.
// When encrypt is true, peer must be a verified pairing partner: AEAD
// here is pairwise (package crypto has no group key), so an encrypted
// channel transmission rides directly to that one peer rather than
// BROADCAST. peer is ignored when encrypt is false.
func (l *Layer) TransmitText(s string, encrypt bool, peer types.NodeId) (types.PacketID, error) {
	return l.transmit(types.PacketText, []byte(s), encrypt, false, peer)
}

// TransmitVoice encodes a voice frame onto the current channel and
// queues it. See TransmitText for the encrypt/peer contract.
func (l *Layer) TransmitVoice(b []byte, encrypt bool, peer types.NodeId) (types.PacketID, error) {
	return l.transmit(types.PacketVoice, b, encrypt, false, peer)
}

// TransmitEmergency sends a priority-10, TTL-10 beacon on the current
// channel regardless of its declared kind (spec.md §4.11
// send_emergency_beacon). Emergency beacons always ride plaintext
// BROADCAST so every nearby node can surface them, paired or not.
func (l *Layer) TransmitEmergency(message []byte) (types.PacketID, error) {
	return l.transmit(types.PacketEmergency, message, false, true, types.NodeId{})
}

func (l *Layer) transmit(kind types.PacketType, content []byte, encrypt, emergency bool, peer types.NodeId) (types.PacketID, error) {
	envelope := encodeEnvelope(l.CurrentChannel(), kind, content)

	priority := priorityDefault
	ttl := ttlDefault
	if emergency {
		priority = priorityEmergency
		ttl = ttlEmergency
	}

	dest := types.BroadcastID
	if encrypt {
		if peer.IsBroadcast() {
			return types.PacketID{}, types.ErrNotPaired
		}
		dest = peer
	}
	return l.tx.Transmit(dest, kind, priority, ttl, envelope, encrypt, emergency)
}

// Deliver parses an inbound packet's payload as a channel envelope,
// drops it silently if addressed to a channel this node isn't subscribed
// to, and otherwise publishes a Transmission to "channel_transmission"
// subscribers. signal is the inbound transport's observed signal
// strength for this packet (spec.md §3's "observed at receiver").
func (l *Layer) Deliver(p *types.Packet, signal uint8) {
	env, ok := decodeEnvelope(p.Payload)
	if !ok {
		return
	}
	if env.channel != l.CurrentChannel() {
		return
	}
	l.broker.Publish("channel_transmission", Transmission{
		TransmissionID: p.PacketID,
		Channel:        env.channel,
		Kind:           env.kind,
		Content:        env.content,
		FromPeer:       p.SourceID,
		Encrypted:      p.Encrypted,
		Emergency:      p.Emergency,
		TimestampMs:    p.TimestampMs,
		SignalStrength: signal,
	})
}

// Subscribe registers fn against every delivered Transmission, returning
// an unsubscribe token.
func (l *Layer) Subscribe(fn func(Transmission)) events.Token {
	return l.broker.Subscribe("channel_transmission", func(payload any) {
		fn(payload.(Transmission))
	})
}

func (l *Layer) Unsubscribe(token events.Token) {
	l.broker.Unsubscribe(token)
}

type envelope struct {
	channel uint8
	kind    types.PacketType
	content []byte
}

// encodeEnvelope serializes {channel, kind, bytes} (spec.md §4.8); this
// is the plaintext the Pipeline encrypts when a transmission opts in, so
// the wire layout stays deliberately minimal: 1 byte channel, 1 byte
// kind, the remaining bytes are content verbatim.
func encodeEnvelope(chnl uint8, kind types.PacketType, content []byte) []byte {
	buf := make([]byte, 2+len(content))
	buf[0] = chnl
	buf[1] = byte(kind)
	copy(buf[2:], content)
	return buf
}

func decodeEnvelope(buf []byte) (envelope, bool) {
	if len(buf) < 2 {
		return envelope{}, false
	}
	return envelope{
		channel: buf[0],
		kind:    types.PacketType(buf[1]),
		content: append([]byte(nil), buf[2:]...),
	}, true
}

type errInvalidChannel uint8

func (e errInvalidChannel) Error() string {
	return "channel: value " + strconv.Itoa(int(e)) + " outside 1..99"
}
