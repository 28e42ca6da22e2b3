/* SPDX-License-Identifier: MIT
 *
 * Key pair, ECDH session derivation, AEAD encrypt/decrypt and pairing
 * codes — spec.md §4.2. Grounded on the teacher's own noise key-agreement
 * (golang.zx2c4.com/wireguard/device/noise-types.go, src/noise_helpers.go)
 * but using the primitives spec.md names explicitly: X25519 instead of
 * the teacher's raw curve25519 clamping helper, HKDF-SHA256 instead of
 * the teacher's BLAKE2s-HMAC KDF ladder, and chacha20poly1305's IETF
 * (96-bit nonce, random per message) variant instead of the teacher's
 * counter nonce.
 */
package crypto

import (
	"github.com/SaemsCodes/offline-radio-sub000/host"
	"golang.org/x/crypto/curve25519"
)

// KeySize is the width of an X25519 key, public or private.
const KeySize = 32

type PrivateKey [KeySize]byte
type PublicKey [KeySize]byte

// newKeypair produces a fresh X25519 identity key pair. The private key
// is never serialized or returned to a caller outside this package —
// the closest a Go value gets to the teacher's "non-extractable" key.
func newKeypair(rng host.Random) (PrivateKey, PublicKey, error) {
	var sk PrivateKey
	if _, err := rng.Read(sk[:]); err != nil {
		return PrivateKey{}, PublicKey{}, err
	}
	clamp(&sk)

	pk, err := publicFromPrivate(sk)
	if err != nil {
		return PrivateKey{}, PublicKey{}, err
	}
	return sk, pk, nil
}

// clamp applies the standard X25519 private-scalar clamp
// (https://cr.yp.to/ecdh.html), exactly as the teacher's newPrivateKey
// does for its own curve25519 keys.
func clamp(sk *PrivateKey) {
	sk[0] &= 248
	sk[31] &= 127
	sk[31] |= 64
}

func publicFromPrivate(sk PrivateKey) (PublicKey, error) {
	var pk PublicKey
	out, err := curve25519.X25519(sk[:], curve25519.Basepoint)
	if err != nil {
		return PublicKey{}, err
	}
	copy(pk[:], out)
	return pk, nil
}

// sharedSecret runs ECDH between our private key and their public key,
// returning the raw (not yet HKDF'd) shared point bytes.
func sharedSecret(ourPrivate PrivateKey, theirPublic PublicKey) ([]byte, error) {
	return curve25519.X25519(ourPrivate[:], theirPublic[:])
}
