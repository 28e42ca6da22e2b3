/* SPDX-License-Identifier: MIT
 *
 * Pairing blob format, spec.md §6:
 *   u8 version=1 | 16 bytes device_id | 2 bytes len | len bytes public_key_raw | 8 bytes monotonic_ms
 * base64 (unpadded, URL alphabet to stay transport-safe over text channels).
 */
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/SaemsCodes/offline-radio-sub000/pairstore"
	"github.com/SaemsCodes/offline-radio-sub000/types"
	"golang.org/x/crypto/hkdf"
)

// PairingBlobExpiryMs bounds how stale a blob may be before ingestion
// rejects it (spec.md §6).
const PairingBlobExpiryMs = 5 * 60 * 1000

const pairingBlobVersion byte = 1

// GeneratePairingBlob serializes {device_id, our_public_key_raw,
// monotonic_ms} for out-of-band exchange (QR code, NFC, text).
func (m *Manager) GeneratePairingBlob() (string, error) {
	pub := m.PublicKey()
	now := m.clock.NowMs()

	m.mu.Lock()
	m.lastBlobMs = now
	m.mu.Unlock()

	buf := make([]byte, 1+types.NodeIdSize+2+KeySize+8)
	off := 0
	buf[off] = pairingBlobVersion
	off++
	copy(buf[off:], m.selfID[:])
	off += types.NodeIdSize
	binary.LittleEndian.PutUint16(buf[off:], KeySize)
	off += 2
	copy(buf[off:], pub[:])
	off += KeySize
	binary.LittleEndian.PutUint64(buf[off:], now)

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// IngestPairingBlob parses a peer's blob, rejects it if expired, derives
// the ECDH shared secret, and stores an unverified PairingRecord.
func (m *Manager) IngestPairingBlob(blob string) (*pairstore.Record, error) {
	raw, err := base64.RawURLEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode pairing blob: %w", err)
	}
	if len(raw) < 1+types.NodeIdSize+2 {
		return nil, fmt.Errorf("crypto: pairing blob truncated")
	}

	off := 0
	version := raw[off]
	off++
	if version != pairingBlobVersion {
		return nil, fmt.Errorf("crypto: unsupported pairing blob version %d", version)
	}

	var peerID types.NodeId
	copy(peerID[:], raw[off:off+types.NodeIdSize])
	off += types.NodeIdSize

	keyLen := binary.LittleEndian.Uint16(raw[off:])
	off += 2
	if keyLen != KeySize || off+int(keyLen)+8 > len(raw) {
		return nil, fmt.Errorf("crypto: pairing blob malformed public key field")
	}

	var theirPublic PublicKey
	copy(theirPublic[:], raw[off:off+int(keyLen)])
	off += int(keyLen)

	createdMs := binary.LittleEndian.Uint64(raw[off:])

	nowMs := m.clock.NowMs()
	if nowMs > createdMs && nowMs-createdMs > PairingBlobExpiryMs {
		return nil, fmt.Errorf("crypto: pairing blob expired")
	}

	m.mu.RLock()
	ourPrivate := m.private
	m.mu.RUnlock()

	rawSecret, err := sharedSecret(ourPrivate, theirPublic)
	if err != nil {
		return nil, fmt.Errorf("crypto: ecdh failed: %w", err)
	}

	sessionKey, err := deriveSessionKey(rawSecret, m.selfID, peerID)
	if err != nil {
		return nil, err
	}

	record := &pairstore.Record{
		PeerNodeID:         peerID,
		TheirPublicKey:     theirPublic,
		SharedSecret:       sessionKey,
		Verified:           false,
		CreatedMonotonicMs: createdMs,
	}
	m.store.Put(record)
	return record, nil
}

// deriveSessionKey runs HKDF-SHA256 over the raw ECDH output to a
// 32-byte session key, salted by both peers' node IDs so the derived key
// is bound to this specific pair (spec.md §4.2).
func deriveSessionKey(rawECDH []byte, a, b types.NodeId) ([32]byte, error) {
	// Order the salt canonically so both sides of a pairing — whoever
	// generated the blob and whoever ingested it — derive the identical
	// session key regardless of which NodeId is "self" locally.
	if b.Less(a) {
		a, b = b, a
	}
	salt := append(append([]byte{}, a[:]...), b[:]...)
	reader := hkdf.New(sha256.New, rawECDH, salt, []byte("offline-radio-sub000 session v1"))

	var key [32]byte
	if _, err := io.ReadFull(reader, key[:]); err != nil {
		return [32]byte{}, fmt.Errorf("crypto: hkdf derive: %w", err)
	}
	return key, nil
}

// ComputeVerificationCode returns the 6-character out-of-band code used
// by both sides to confirm no MITM (spec.md §4.2).
//
// The MAC input must be byte-identical on both ends of the pairing, so
// neither operand may be "whichever side happens to be computing": the
// node ids are written in sorted order (same trick as deriveSessionKey's
// salt), and the timestamp is canonicalized to the blob embedded by the
// lower-sorting NodeId. The higher-sorting side already has that exact
// value sitting in record.CreatedMonotonicMs (it's the peer's blob it
// ingested); the lower-sorting side has it in lastBlobMs (its own blob,
// which it must have generated to hand out before pairing can proceed).
func (m *Manager) ComputeVerificationCode(peer types.NodeId) (string, error) {
	record, ok := m.store.Get(peer)
	if !ok {
		return "", types.ErrNotPaired
	}

	sharedMs := record.CreatedMonotonicMs
	m.mu.RLock()
	ourBlobMs := m.lastBlobMs
	m.mu.RUnlock()
	if m.selfID.Less(peer) && ourBlobMs != 0 {
		sharedMs = ourBlobMs
	}

	a, b := m.selfID, peer
	if b.Less(a) {
		a, b = b, a
	}

	var createdBuf [8]byte
	binary.LittleEndian.PutUint64(createdBuf[:], sharedMs)

	mac := hmac.New(sha256.New, record.SharedSecret[:])
	mac.Write(a[:])
	mac.Write(b[:])
	mac.Write(createdBuf[:])
	sum := mac.Sum(nil)

	code := base64.RawURLEncoding.EncodeToString(sum)
	if len(code) > 6 {
		code = code[:6]
	}
	return code, nil
}

// Verify constant-time compares the supplied code against the expected
// one and, on success, flips the record to verified (spec.md §4.2).
func (m *Manager) Verify(peer types.NodeId, code string) (bool, error) {
	expected, err := m.ComputeVerificationCode(peer)
	if err != nil {
		return false, err
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) != 1 {
		return false, nil
	}
	_, ok := m.store.MarkVerified(peer)
	return ok, nil
}
