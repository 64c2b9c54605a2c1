// Copyright 2025 Certen Protocol
//
// BLS12-381 aggregate signatures for finalization witnesses (pure Go)
//
// A finalization record carries a single aggregate signature produced by the
// signing quorum of the finalization committee over the record's canonical
// message. This package provides key generation, signing, verification and
// aggregation on BLS12-381 using gnark-crypto.

package bls

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

var (
	initOnce sync.Once

	g1Gen bls12381.G1Affine
	g2Gen bls12381.G2Affine
)

// DomainFinalization separates finalization-witness signatures from any other
// use of the committee keys.
const DomainFinalization = "FINALIZATION_WITNESS_V1"

const (
	PrivateKeySize = 32 // Fr scalar
	PublicKeySize  = 96 // compressed G2 point
	SignatureSize  = 48 // compressed G1 point
)

func initialize() {
	initOnce.Do(func() {
		_, _, g1, g2 := bls12381.Generators()
		g1Gen = g1
		g2Gen = g2
	})
}

// PrivateKey is a committee member's secret scalar.
type PrivateKey struct {
	scalar fr.Element
}

// PublicKey is a committee member's G2 point.
type PublicKey struct {
	point bls12381.G2Affine
}

// Signature is a (possibly aggregated) G1 point.
type Signature struct {
	point bls12381.G1Affine
}

// GenerateKeyPair draws a fresh key pair from the system random source.
func GenerateKeyPair() (*PrivateKey, *PublicKey, error) {
	initialize()
	var sk fr.Element
	if _, err := sk.SetRandom(); err != nil {
		return nil, nil, fmt.Errorf("generate random scalar: %w", err)
	}
	priv := &PrivateKey{scalar: sk}
	return priv, priv.PublicKey(), nil
}

// KeyPairFromSeed derives a deterministic key pair. Used by tests and by
// committee bootstrapping from genesis material.
func KeyPairFromSeed(seed []byte) (*PrivateKey, *PublicKey, error) {
	initialize()
	if len(seed) < 32 {
		return nil, nil, errors.New("seed must be at least 32 bytes")
	}
	hash := sha256.Sum256(seed)
	var sk fr.Element
	sk.SetBytes(hash[:])
	priv := &PrivateKey{scalar: sk}
	return priv, priv.PublicKey(), nil
}

// PublicKeyFromBytes deserializes a compressed G2 point. The point is
// checked to be on curve, non-identity and in the correct subgroup, which
// guards against rogue-key material entering the committee table.
func PublicKeyFromBytes(data []byte) (*PublicKey, error) {
	initialize()
	if len(data) != PublicKeySize {
		return nil, fmt.Errorf("invalid public key size: got %d, want %d", len(data), PublicKeySize)
	}
	var pk bls12381.G2Affine
	if _, err := pk.SetBytes(data); err != nil {
		return nil, fmt.Errorf("deserialize public key: %w", err)
	}
	if pk.IsInfinity() || !pk.IsOnCurve() || !pk.IsInSubGroup() {
		return nil, errors.New("public key not a valid G2 subgroup point")
	}
	return &PublicKey{point: pk}, nil
}

// SignatureFromBytes deserializes a compressed G1 point.
func SignatureFromBytes(data []byte) (*Signature, error) {
	initialize()
	if len(data) != SignatureSize {
		return nil, fmt.Errorf("invalid signature size: got %d, want %d", len(data), SignatureSize)
	}
	var sig bls12381.G1Affine
	if _, err := sig.SetBytes(data); err != nil {
		return nil, fmt.Errorf("deserialize signature: %w", err)
	}
	if sig.IsInfinity() || !sig.IsOnCurve() || !sig.IsInSubGroup() {
		return nil, errors.New("signature not a valid G1 subgroup point")
	}
	return &Signature{point: sig}, nil
}

// Bytes returns the serialized private key.
func (sk *PrivateKey) Bytes() []byte {
	b := sk.scalar.Bytes()
	return b[:]
}

// PublicKey derives pk = sk * G2.
func (sk *PrivateKey) PublicKey() *PublicKey {
	var pk bls12381.G2Affine
	var skBig big.Int
	sk.scalar.BigInt(&skBig)
	pk.ScalarMultiplication(&g2Gen, &skBig)
	return &PublicKey{point: pk}
}

// Sign produces sig = sk * H(domain || message).
func (sk *PrivateKey) Sign(message []byte, domain string) *Signature {
	h := hashToG1(domainMessage(domain, message))
	var sig bls12381.G1Affine
	var skBig big.Int
	sk.scalar.BigInt(&skBig)
	sig.ScalarMultiplication(&h, &skBig)
	return &Signature{point: sig}
}

// Bytes returns the serialized public key.
func (pk *PublicKey) Bytes() []byte {
	b := pk.point.Bytes()
	return b[:]
}

// Equal reports point equality.
func (pk *PublicKey) Equal(other *PublicKey) bool {
	return pk.point.Equal(&other.point)
}

// Bytes returns the serialized signature.
func (sig *Signature) Bytes() []byte {
	b := sig.point.Bytes()
	return b[:]
}

// Verify checks e(sig, G2) == e(H(domain || msg), pk).
func (pk *PublicKey) Verify(sig *Signature, message []byte, domain string) bool {
	initialize()
	h := hashToG1(domainMessage(domain, message))
	var negPk bls12381.G2Affine
	negPk.Neg(&pk.point)
	ok, err := bls12381.PairingCheck(
		[]bls12381.G1Affine{sig.point, h},
		[]bls12381.G2Affine{g2Gen, negPk},
	)
	return err == nil && ok
}

// Aggregate sums signatures by G1 point addition.
func Aggregate(signatures []*Signature) (*Signature, error) {
	initialize()
	if len(signatures) == 0 {
		return nil, errors.New("no signatures to aggregate")
	}
	var agg bls12381.G1Jac
	agg.FromAffine(&signatures[0].point)
	for i := 1; i < len(signatures); i++ {
		var jac bls12381.G1Jac
		jac.FromAffine(&signatures[i].point)
		agg.AddAssign(&jac)
	}
	var result bls12381.G1Affine
	result.FromJacobian(&agg)
	return &Signature{point: result}, nil
}

// AggregatePublicKeys sums public keys by G2 point addition.
func AggregatePublicKeys(publicKeys []*PublicKey) (*PublicKey, error) {
	initialize()
	if len(publicKeys) == 0 {
		return nil, errors.New("no public keys to aggregate")
	}
	var agg bls12381.G2Jac
	agg.FromAffine(&publicKeys[0].point)
	for i := 1; i < len(publicKeys); i++ {
		var jac bls12381.G2Jac
		jac.FromAffine(&publicKeys[i].point)
		agg.AddAssign(&jac)
	}
	var result bls12381.G2Affine
	result.FromJacobian(&agg)
	return &PublicKey{point: result}, nil
}

// VerifyAggregate checks an aggregate signature where every signer signed the
// same message. This is the finalization-record case: the quorum signs one
// canonical record.
func VerifyAggregate(aggSig *Signature, publicKeys []*PublicKey, message []byte, domain string) bool {
	if len(publicKeys) == 0 {
		return false
	}
	aggPk, err := AggregatePublicKeys(publicKeys)
	if err != nil {
		return false
	}
	return aggPk.Verify(aggSig, message, domain)
}

// hashToG1 maps a message onto G1 by hashing to a scalar and multiplying the
// generator. Deterministic across implementations of this node.
func hashToG1(message []byte) bls12381.G1Affine {
	h := sha256.New()
	h.Write([]byte("BLS_SIG_BLS12381G1_XMD:SHA-256_SSWU_RO_"))
	h.Write(message)

	var counter uint64
	for {
		h2 := sha256.New()
		h2.Write(h.Sum(nil))
		binary.Write(h2, binary.BigEndian, counter)
		hash := h2.Sum(nil)

		var scalar fr.Element
		scalar.SetBytes(hash)
		var scalarBig big.Int
		scalar.BigInt(&scalarBig)

		var result bls12381.G1Affine
		result.ScalarMultiplication(&g1Gen, &scalarBig)
		if !result.IsInfinity() {
			return result
		}
		counter++
	}
}

func domainMessage(domain string, message []byte) []byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write(message)
	return h.Sum(nil)
}
