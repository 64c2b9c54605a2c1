// Copyright 2025 Certen Protocol
//
// Seed state: the leadership-election beacon
//
// Within an epoch, block nonces from the first two thirds of the epoch are
// folded into the updated nonce. Crossing an epoch boundary commits the
// updated nonce as the next epoch's leadership-election nonce. Regenesis
// re-keys the whole seed from the prior era's updated nonce.

package blockstate

import (
	"crypto/sha256"

	"github.com/certen/permissioned-node/pkg/types"
)

// SeedState is the per-state election beacon.
type SeedState struct {
	Epoch                   types.Epoch
	EpochLength             uint64
	LeadershipElectionNonce [32]byte
	UpdatedNonce            [32]byte
}

// InitialSeedState derives the era-initial seed from genesis material.
func InitialSeedState(genesisSeed [32]byte, epochLength uint64) SeedState {
	return SeedState{
		Epoch:                   0,
		EpochLength:             epochLength,
		LeadershipElectionNonce: genesisSeed,
		UpdatedNonce:            genesisSeed,
	}
}

// epochOf maps a slot onto this seed's epoch numbering.
func (s SeedState) epochOf(slot types.Slot) types.Epoch {
	if s.EpochLength == 0 {
		return 0
	}
	return types.Epoch(uint64(slot) / s.EpochLength)
}

// UpdateWith advances the seed for a block baked in the given slot with the
// given block-nonce output.
func (s SeedState) UpdateWith(slot types.Slot, nonceOutput [32]byte) SeedState {
	out := s
	target := s.epochOf(slot)
	for out.Epoch < target {
		out.LeadershipElectionNonce = hashConcat(out.UpdatedNonce[:], types.EncodeUint64(uint64(out.Epoch)+1))
		out.UpdatedNonce = out.LeadershipElectionNonce
		out.Epoch++
	}
	// Only nonces from the first two thirds of the epoch feed the beacon;
	// later blocks cannot grind the next epoch's election.
	if s.EpochLength == 0 || uint64(slot)%s.EpochLength < (2*s.EpochLength)/3 {
		out.UpdatedNonce = hashConcat(out.UpdatedNonce[:], nonceOutput[:])
	}
	return out
}

// PredictableNonceAt reports whether the leadership-election nonce for the
// given slot is already determined by this seed state, given that the
// pending block's parent sits at parentSlot. That holds exactly when no
// epoch boundary can intervene: both slots fall in this seed's epoch.
func (s SeedState) PredictableNonceAt(slot, parentSlot types.Slot) ([32]byte, bool) {
	if s.epochOf(slot) != s.Epoch || s.epochOf(parentSlot) != s.Epoch {
		return [32]byte{}, false
	}
	return s.LeadershipElectionNonce, true
}

// RegenesisSeed re-keys the seed for a new era:
// leadershipElectionNonce = SHA256("Regenesis" || prior.updatedNonce).
func (s SeedState) RegenesisSeed() SeedState {
	nonce := hashConcat([]byte("Regenesis"), s.UpdatedNonce[:])
	return SeedState{
		Epoch:                   0,
		EpochLength:             s.EpochLength,
		LeadershipElectionNonce: nonce,
		UpdatedNonce:            nonce,
	}
}

// HashLeaf returns the seed's contribution to the state hash.
func (s SeedState) HashLeaf() [32]byte {
	return types.HashOf([]interface{}{uint64(s.Epoch), s.EpochLength, s.LeadershipElectionNonce[:], s.UpdatedNonce[:]})
}

func hashConcat(parts ...[]byte) [32]byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
