// Copyright 2025 Certen Protocol
//
// Verifiable block nonces and leadership-election proofs
//
// The construction is sign-then-hash over ed25519: the proof is the baker's
// signature over the election message, the output is the SHA-256 of the
// proof. Anyone holding the election key can verify the proof and recompute
// the output; the baker cannot grind outputs without producing a different
// (invalid) signature.

package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
)

const (
	domainBlockNonce = "BLOCKNONCE"
	domainLeadership = "LEADERELECT"
)

func electionMessage(domain string, seedNonce []byte, slot uint64) []byte {
	msg := make([]byte, 0, len(domain)+len(seedNonce)+8)
	msg = append(msg, domain...)
	msg = append(msg, seedNonce...)
	msg = binary.BigEndian.AppendUint64(msg, slot)
	return msg
}

// MakeBlockNonce produces the VRF proof a baker embeds in a block for the
// given slot under the given leadership-election nonce.
func MakeBlockNonce(key *SignKey, seedNonce []byte, slot uint64) []byte {
	return key.Sign(electionMessage(domainBlockNonce, seedNonce, slot))
}

// VerifyBlockNonce checks a block nonce proof against the baker's election
// key.
func VerifyBlockNonce(electionKey, seedNonce []byte, slot uint64, proof []byte) bool {
	return VerifySignature(electionKey, electionMessage(domainBlockNonce, seedNonce, slot), proof)
}

// BlockNonceOutput derives the 32-byte output that feeds the seed-state
// update.
func BlockNonceOutput(proof []byte) [32]byte {
	return sha256.Sum256(proof)
}

// MakeLeadershipProof produces the proof that the baker is slot leader.
func MakeLeadershipProof(key *SignKey, seedNonce []byte, slot uint64) []byte {
	return key.Sign(electionMessage(domainLeadership, seedNonce, slot))
}

// VerifyLeadershipProof checks the proof and the election inequality: the
// proof's hash, read as a fraction of 2^64, must fall below the election
// difficulty scaled by the baker's stake share.
func VerifyLeadershipProof(electionKey, seedNonce []byte, slot uint64, proof []byte, difficulty float64, stakeShare float64) bool {
	if !VerifySignature(electionKey, electionMessage(domainLeadership, seedNonce, slot), proof) {
		return false
	}
	return LeadershipWins(proof, difficulty, stakeShare)
}

// LeadershipWins evaluates the election inequality alone. Exposed so block
// construction can test eligibility with a proof it just produced.
func LeadershipWins(proof []byte, difficulty float64, stakeShare float64) bool {
	h := sha256.Sum256(proof)
	v := binary.BigEndian.Uint64(h[:8])
	frac := float64(v) / math.MaxUint64
	threshold := difficulty * stakeShare
	return frac < threshold
}
