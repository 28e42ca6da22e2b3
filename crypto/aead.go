/* SPDX-License-Identifier: MIT */
package crypto

import (
	"fmt"

	"github.com/SaemsCodes/offline-radio-sub000/types"
	"golang.org/x/crypto/chacha20poly1305"
)

// NonceSize is the width of the random per-message nonce (spec.md §4.2:
// "96-bit random nonce per message").
const NonceSize = chacha20poly1305.NonceSize

// Encrypt requires a verified pairing with peer; it fails with
// ErrNotPaired otherwise (spec.md §4.2).
func (m *Manager) Encrypt(peer types.NodeId, plaintext []byte) (ciphertext, nonce []byte, err error) {
	record, ok := m.store.Get(peer)
	if !ok || !record.Verified {
		return nil, nil, types.ErrNotPaired
	}

	aead, err := chacha20poly1305.New(record.SharedSecret[:])
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: init aead: %w", err)
	}

	nonce = make([]byte, NonceSize)
	if _, err := m.rng.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}

	ciphertext = aead.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Decrypt requires a verified pairing; AEAD authentication failures are
// reported as ErrAuthFailed and must be dropped by the caller, never
// escalated (spec.md invariant 4).
func (m *Manager) Decrypt(peer types.NodeId, ciphertext, nonce []byte) ([]byte, error) {
	record, ok := m.store.Get(peer)
	if !ok || !record.Verified {
		return nil, types.ErrNotPaired
	}
	if len(nonce) != NonceSize {
		return nil, types.ErrAuthFailed
	}

	aead, err := chacha20poly1305.New(record.SharedSecret[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: init aead: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		if m.log != nil {
			m.log.WithField("peer", peer.String()).Warn("crypto: AEAD authentication failed")
		}
		return nil, types.ErrAuthFailed
	}
	return plaintext, nil
}
