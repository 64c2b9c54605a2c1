// Copyright 2025 Certen Protocol
//
// Chain parameters, reward accounts and the identity tables

package blockstate

import (
	"math"

	"github.com/certen/permissioned-node/pkg/types"
)

// ChainParameters are the updatable consensus parameters. Election
// difficulty is stored in parts per hundred thousand so the canonical
// encoding stays integral.
type ChainParameters struct {
	ElectionDifficultyPPHT  uint32 // parts per 100000
	EuroPerEnergy           uint64
	MicroGTUPerEuro         uint64
	BakerCooldownEpochs     uint64
	DelegatorCooldownEpochs uint64
	MinimumBakerStake       types.Amount
	RewardPeriodLength      uint64 // epochs per payday
	MintRatePerPayday       uint32 // parts per 100000
	FoundationAccount       types.AccountAddress
}

// ElectionDifficulty returns the difficulty as a fraction in [0,1].
func (p *ChainParameters) ElectionDifficulty() float64 {
	d := float64(p.ElectionDifficultyPPHT) / 100000
	return math.Min(d, 1)
}

// HashLeaf returns the parameter table's contribution to the state hash.
func (p *ChainParameters) HashLeaf() [32]byte {
	return types.HashOf(p)
}

// RewardAccounts are the special balances outside any account.
type RewardAccounts struct {
	BakingReward       types.Amount
	FinalizationReward types.Amount
	GASAccount         types.Amount
}

// HashLeaf returns the reward table's contribution to the state hash.
func (r *RewardAccounts) HashLeaf() [32]byte {
	return types.HashOf(r)
}

// IdentityProvider is one registered identity provider.
type IdentityProvider struct {
	ID        uint32
	Name      string
	VerifyKey []byte
}

// AnonymityRevoker is one registered anonymity revoker.
type AnonymityRevoker struct {
	ID        uint32
	Name      string
	PublicKey []byte
}

// CryptographicParameters are the era-wide commitment keys. Opaque to the
// core; carried for the credential verifier.
type CryptographicParameters struct {
	GenesisString        string
	BulletproofGens      []byte
	OnChainCommitmentKey []byte
}

// UpdateKeyCollection holds the governance keys authorized to sign chain
// updates, by level.
type UpdateKeyCollection struct {
	RootKeys   [][]byte
	Level1Keys [][]byte
	Level2Keys [][]byte

	// Threshold of level-2 signatures required on a parameter update.
	Level2Threshold uint32
}

// AuthorizedUpdateKey reports whether the key may sign the given update
// type. Root and level-1 keys sign key updates; level-2 keys sign parameter
// updates.
func (u *UpdateKeyCollection) AuthorizedUpdateKey(ut types.UpdateType, pubKey []byte) bool {
	keys := u.Level2Keys
	switch ut {
	case types.UpdateRootKeys:
		keys = u.RootKeys
	case types.UpdateLevel1Keys, types.UpdateLevel2Keys:
		keys = u.Level1Keys
	}
	for _, k := range keys {
		if string(k) == string(pubKey) {
			return true
		}
	}
	return false
}
