// Copyright 2025 Certen Protocol
//
// Ed25519 signature keys for bakers and accounts
// Thin wrappers over CometBFT's ed25519 so key material has one type at the
// consensus boundary.

package crypto

import (
	"errors"

	"github.com/cometbft/cometbft/crypto/ed25519"
)

// SignKeySize is the byte length of a public signing key.
const SignKeySize = ed25519.PubKeySize

// SignatureSize is the byte length of an ed25519 signature.
const SignatureSize = ed25519.SignatureSize

// ErrBadKeyLength is returned for key material of the wrong size.
var ErrBadKeyLength = errors.New("bad signing key length")

// SignKey is a private signing key.
type SignKey struct {
	priv ed25519.PrivKey
}

// GenerateSignKey draws a fresh signing key.
func GenerateSignKey() *SignKey {
	return &SignKey{priv: ed25519.GenPrivKey()}
}

// SignKeyFromSeed derives a deterministic signing key from a secret. Tests
// and genesis tooling use this so committees are reproducible.
func SignKeyFromSeed(seed []byte) *SignKey {
	return &SignKey{priv: ed25519.GenPrivKeyFromSecret(seed)}
}

// Public returns the verification key bytes.
func (k *SignKey) Public() []byte {
	return k.priv.PubKey().Bytes()
}

// Sign signs a message.
func (k *SignKey) Sign(msg []byte) []byte {
	sig, err := k.priv.Sign(msg)
	if err != nil {
		// ed25519 signing cannot fail on valid key material.
		panic("crypto: ed25519 sign: " + err.Error())
	}
	return sig
}

// VerifySignature checks sig over msg under the given public key bytes.
func VerifySignature(pubKey, msg, sig []byte) bool {
	if len(pubKey) != SignKeySize {
		return false
	}
	return ed25519.PubKey(pubKey).VerifySignature(msg, sig)
}
