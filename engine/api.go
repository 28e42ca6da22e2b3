/* SPDX-License-Identifier: MIT
 *
 * Public API façade of spec.md §4.11: the surface a UI or audio layer
 * consumes. Every method here is a thin wrapper over a subsystem method
 * already described elsewhere. Only the transmit methods (TransmitText,
 * TransmitVoice, SendEmergencyBeacon) are gated on power state; channel,
 * pairing, status and subscription calls work while powered off. This
 * file's only job is to enforce that guard and translate subsystem errors
 * into the documented SendError kinds (spec.md §7).
 */
package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/SaemsCodes/offline-radio-sub000/channel"
	"github.com/SaemsCodes/offline-radio-sub000/events"
	"github.com/SaemsCodes/offline-radio-sub000/pairstore"
	"github.com/SaemsCodes/offline-radio-sub000/status"
	"github.com/SaemsCodes/offline-radio-sub000/types"
)

// SetChannel updates the locally subscribed broadcast bucket (1..99).
func (e *Engine) SetChannel(c uint8) error {
	return e.channels.SetChannel(c)
}

// CurrentChannel returns the locally subscribed channel.
func (e *Engine) CurrentChannel() uint8 {
	return e.channels.CurrentChannel()
}

// TransmitText queues s for broadcast on the current channel. When
// encrypt is true, peer must be a verified pairing partner and the
// packet rides directly to them instead of BROADCAST (spec.md §4.2:
// AEAD here is pairwise); peer is ignored otherwise.
func (e *Engine) TransmitText(s string, encrypt bool, peer types.NodeId) (types.PacketID, error) {
	if !e.poweredOn() {
		return types.PacketID{}, types.ErrPoweredOff
	}
	return e.channels.TransmitText(s, encrypt, peer)
}

// TransmitVoice queues a voice frame for broadcast on the current
// channel. See TransmitText for the encrypt/peer contract.
func (e *Engine) TransmitVoice(b []byte, encrypt bool, peer types.NodeId) (types.PacketID, error) {
	if !e.poweredOn() {
		return types.PacketID{}, types.ErrPoweredOff
	}
	return e.channels.TransmitVoice(b, encrypt, peer)
}

// SendEmergencyBeacon queues a priority-10, TTL-10 beacon on the current
// channel (spec.md §4.11 send_emergency_beacon). location, if non-empty,
// is appended to message as free-form bytes; the wire layer has no
// dedicated location field, matching spec.md's "optional location".
func (e *Engine) SendEmergencyBeacon(message []byte, location []byte) (types.PacketID, error) {
	if !e.poweredOn() {
		return types.PacketID{}, types.ErrPoweredOff
	}
	body := message
	if len(location) > 0 {
		body = append(append([]byte(nil), message...), location...)
	}
	return e.channels.TransmitEmergency(body)
}

// SubscribeChannel registers fn against every delivered channel
// Transmission, returning an unsubscribe token (spec.md §4.11).
func (e *Engine) SubscribeChannel(fn func(channel.Transmission)) events.Token {
	return e.channels.Subscribe(fn)
}

// SubscribeStatus registers fn against every recomputed status Snapshot,
// invoking it once immediately with the current snapshot.
func (e *Engine) SubscribeStatus(fn func(status.Snapshot)) events.Token {
	return e.statusMon.Subscribe(fn)
}

// Unsubscribe cancels either a channel or status subscription token;
// both ride the same underlying events.Broker.
func (e *Engine) Unsubscribe(token events.Token) {
	e.broker.Unsubscribe(token)
}

// CurrentStatus returns the latest status snapshot without subscribing.
func (e *Engine) CurrentStatus() status.Snapshot {
	return e.statusMon.Current()
}

// Metrics exposes the status Monitor's Prometheus registry, for callers
// (cmd/meshd) that want to serve it over /metrics.
func (e *Engine) Metrics() *prometheus.Registry {
	return e.statusMon.Registry()
}

// TransportCount returns how many transports were successfully
// constructed at startup (some may have been omitted as unavailable).
func (e *Engine) TransportCount() int {
	return len(e.transports)
}

// GeneratePairingCode serializes this node's identity and public key for
// out-of-band exchange (QR code, NFC, text).
func (e *Engine) GeneratePairingCode() (string, error) {
	return e.cryptoMgr.GeneratePairingBlob()
}

// IngestPairingCode parses a peer's pairing blob, paced by
// pairingIngestRate since blobs arrive unsolicited and each ingestion
// costs an ECDH + HKDF derivation.
func (e *Engine) IngestPairingCode(blob string) (types.NodeId, error) {
	if !e.pairingIngestRate.Allow() {
		return types.NodeId{}, types.ErrBackpressure
	}
	record, err := e.cryptoMgr.IngestPairingBlob(blob)
	if err != nil {
		return types.NodeId{}, err
	}
	return record.PeerNodeID, nil
}

// VerifyPairing checks the out-of-band confirmation code for peer,
// marking the PairingRecord verified on success.
func (e *Engine) VerifyPairing(peer types.NodeId, code string) (bool, error) {
	return e.cryptoMgr.Verify(peer, code)
}

// RemovePairing is an explicit administrative unbonding, never automatic.
func (e *Engine) RemovePairing(peer types.NodeId) {
	e.pairStore.Remove(peer)
}

// RotateKeys regenerates this node's identity key pair and discards every
// PairingRecord; every peer must re-bond (spec.md §4.2).
func (e *Engine) RotateKeys() error {
	return e.cryptoMgr.RotateKeys()
}

// ListPairings returns every verified PairingRecord, the UI-facing view
// of who this node is currently bonded to.
func (e *Engine) ListPairings() []pairstore.Record {
	return e.pairStore.List()
}
