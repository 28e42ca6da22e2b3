/* SPDX-License-Identifier: MIT */
package crypto

import (
	"sync"

	"github.com/SaemsCodes/offline-radio-sub000/host"
	"github.com/SaemsCodes/offline-radio-sub000/pairstore"
	"github.com/SaemsCodes/offline-radio-sub000/types"
	"github.com/sirupsen/logrus"
)

// Manager is the engine's Crypto component: it owns the node's identity
// key pair and drives pairing/encryption against a shared Pair Store
// (spec.md §4.2 and §4.9 are separate components that share this one
// table).
type Manager struct {
	selfID types.NodeId
	clock  host.Clock
	rng    host.Random
	store  *pairstore.Store
	log    logrus.FieldLogger

	mu         sync.RWMutex
	private    PrivateKey
	public     PublicKey
	lastBlobMs uint64
}

func NewManager(selfID types.NodeId, clock host.Clock, rng host.Random, store *pairstore.Store, log logrus.FieldLogger) (*Manager, error) {
	m := &Manager{selfID: selfID, clock: clock, rng: rng, store: store, log: log}
	if err := m.generateIdentity(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) generateIdentity() error {
	sk, pk, err := newKeypair(m.rng)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.private = sk
	m.public = pk
	m.mu.Unlock()
	return nil
}

// PublicKey returns the current identity public key.
func (m *Manager) PublicKey() PublicKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.public
}

// RotateKeys regenerates the identity key pair and discards every
// PairingRecord: every peer must re-bond (spec.md §4.2).
func (m *Manager) RotateKeys() error {
	if err := m.generateIdentity(); err != nil {
		return err
	}
	m.store.Clear()
	if m.log != nil {
		m.log.Info("crypto: identity rotated, all pairings cleared")
	}
	return nil
}
