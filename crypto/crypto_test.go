package crypto

import (
	"crypto/rand"
	"testing"

	"github.com/SaemsCodes/offline-radio-sub000/pairstore"
	"github.com/SaemsCodes/offline-radio-sub000/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ ms uint64 }

func (c *fakeClock) NowMs() uint64 { return c.ms }

type systemRandom struct{}

func (systemRandom) Read(p []byte) (int, error) { return rand.Read(p) }

func newTestManager(t *testing.T, selfID types.NodeId, ms uint64) *Manager {
	t.Helper()
	store := pairstore.New()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	m, err := NewManager(selfID, &fakeClock{ms: ms}, systemRandom{}, store, log)
	require.NoError(t, err)
	return m
}

// TestPairingSharedSecretMatches is spec.md §8 property 5: if A and B
// complete verify with the same code, A.shared_secret == B.shared_secret.
// A and B run on independent monotonic clocks (different ms values, as
// two real devices would have, but close enough that each blob is still
// inside the 5-minute pairing-blob expiry) so this also exercises that the
// verification code does not depend on whichever NodeId/timestamp
// happens to be "the argument" on one side only.
func TestPairingSharedSecretMatches(t *testing.T) {
	var aID, bID types.NodeId
	aID[0] = 0xAA
	bID[0] = 0xBB

	a := newTestManager(t, aID, 1_000_000)
	b := newTestManager(t, bID, 1_200_000)

	blobFromA, err := a.GeneratePairingBlob()
	require.NoError(t, err)
	blobFromB, err := b.GeneratePairingBlob()
	require.NoError(t, err)

	recB, err := b.IngestPairingBlob(blobFromA)
	require.NoError(t, err)
	recA, err := a.IngestPairingBlob(blobFromB)
	require.NoError(t, err)

	require.Equal(t, recA.SharedSecret, recB.SharedSecret, "derived session keys must match on both sides")

	codeA, err := a.ComputeVerificationCode(bID)
	require.NoError(t, err)
	codeB, err := b.ComputeVerificationCode(aID)
	require.NoError(t, err)
	require.Equal(t, codeA, codeB, "verification codes must match on both sides")

	okA, err := a.Verify(bID, codeB)
	require.NoError(t, err)
	require.True(t, okA)

	okB, err := b.Verify(aID, codeA)
	require.NoError(t, err)
	require.True(t, okB)
}

// TestEncryptDecryptRoundtrip is spec.md §8 property 5's second half:
// decrypt_B(encrypt_A(m)) == m.
func TestEncryptDecryptRoundtrip(t *testing.T) {
	var aID, bID types.NodeId
	aID[0] = 0x01
	bID[0] = 0x02

	a := newTestManager(t, aID, 1_000_000)
	b := newTestManager(t, bID, 1_000_000)

	blobFromA, _ := a.GeneratePairingBlob()
	blobFromB, _ := b.GeneratePairingBlob()
	_, err := b.IngestPairingBlob(blobFromA)
	require.NoError(t, err)
	_, err = a.IngestPairingBlob(blobFromB)
	require.NoError(t, err)

	codeA, _ := a.ComputeVerificationCode(bID)
	_, err = a.Verify(bID, codeA)
	require.NoError(t, err)
	_, err = b.Verify(aID, codeA)
	require.NoError(t, err)

	msg := []byte("HELLO MESH")
	ciphertext, nonce, err := a.Encrypt(bID, msg)
	require.NoError(t, err)

	plaintext, err := b.Decrypt(aID, ciphertext, nonce)
	require.NoError(t, err)
	require.Equal(t, msg, plaintext)
}

func TestEncryptRequiresVerified(t *testing.T) {
	var aID, bID types.NodeId
	aID[0] = 0x03
	bID[0] = 0x04
	a := newTestManager(t, aID, 1_000_000)

	_, _, err := a.Encrypt(bID, []byte("x"))
	require.ErrorIs(t, err, types.ErrNotPaired)
}

func TestDecryptAuthFailureIsDropped(t *testing.T) {
	var aID, bID types.NodeId
	aID[0] = 0x05
	bID[0] = 0x06
	a := newTestManager(t, aID, 1_000_000)
	b := newTestManager(t, bID, 1_000_000)

	blobFromA, _ := a.GeneratePairingBlob()
	blobFromB, _ := b.GeneratePairingBlob()
	_, _ = b.IngestPairingBlob(blobFromA)
	_, _ = a.IngestPairingBlob(blobFromB)
	codeA, _ := a.ComputeVerificationCode(bID)
	_, _ = a.Verify(bID, codeA)
	_, _ = b.Verify(aID, codeA)

	ciphertext, nonce, err := a.Encrypt(bID, []byte("secret"))
	require.NoError(t, err)
	ciphertext[0] ^= 0xFF

	_, err = b.Decrypt(aID, ciphertext, nonce)
	require.ErrorIs(t, err, types.ErrAuthFailed)
}

func TestRotateKeysClearsPairings(t *testing.T) {
	var aID, bID types.NodeId
	aID[0] = 0x07
	bID[0] = 0x08
	a := newTestManager(t, aID, 1_000_000)
	b := newTestManager(t, bID, 1_000_000)

	blobFromB, _ := b.GeneratePairingBlob()
	_, err := a.IngestPairingBlob(blobFromB)
	require.NoError(t, err)

	require.NoError(t, a.RotateKeys())

	_, _, err = a.Encrypt(bID, []byte("x"))
	require.ErrorIs(t, err, types.ErrNotPaired)
}
