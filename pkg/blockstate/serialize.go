// Copyright 2025 Certen Protocol
//
// Durable snapshot form of a block state
// Snapshots are what the block-state segment files carry. The JSON layout
// is versioned by the protocol version recorded inside; loading a snapshot
// rebuilds a frozen state whose structural hash must round-trip.

package blockstate

import (
	"encoding/json"
	"fmt"

	"github.com/certen/permissioned-node/pkg/types"
)

// Snapshot is the portable form of a frozen state.
type Snapshot struct {
	ProtocolVersion types.ProtocolVersion `json:"protocolVersion"`
	Core            types.GenesisCore     `json:"core"`
	Hash            types.StateHash       `json:"hash"`

	Accounts          []*Account                 `json:"accounts"` // in index order
	Instances         []*Instance                `json:"instances"`
	NextInstanceIndex uint64                     `json:"nextInstanceIndex"`
	Modules           []*Module                  `json:"modules"`
	Rewards           RewardAccounts             `json:"rewards"`
	TotalEncrypted    types.Amount               `json:"totalEncrypted"`
	TotalGTU          types.Amount               `json:"totalGTU"`
	Seed              SeedState                  `json:"seed"`
	Params            ChainParameters            `json:"params"`
	Updates           *UpdateState               `json:"updates"`
	IdentityProviders []IdentityProvider         `json:"identityProviders"`
	AnonymityRevokers []AnonymityRevoker         `json:"anonymityRevokers"`
	CryptoParams      CryptographicParameters    `json:"cryptoParams"`
	HistoricRegIDs    []types.CredentialRegID    `json:"historicRegIDs"`
}

// Snapshot captures a frozen state. The state must be frozen so the hash is
// fixed.
func (s *State) Snapshot() (*Snapshot, error) {
	hash, err := s.Hash()
	if err != nil {
		return nil, fmt.Errorf("snapshot of unfrozen state: %w", err)
	}
	snap := &Snapshot{
		ProtocolVersion:   s.protocolVersion,
		Core:              s.core,
		Hash:              hash,
		NextInstanceIndex: s.nextInstanceIndex,
		Rewards:           s.rewards,
		TotalEncrypted:    s.totalEncrypted,
		TotalGTU:          s.totalGTU,
		Seed:              s.seed,
		Params:            s.params,
		Updates:           s.updates.Clone(),
	}
	for _, addr := range s.accountOrder {
		snap.Accounts = append(snap.Accounts, s.accounts[addr])
	}
	for _, inst := range s.instances {
		snap.Instances = append(snap.Instances, inst)
	}
	for _, m := range s.modules {
		snap.Modules = append(snap.Modules, m)
	}
	for _, ip := range s.idProviders {
		snap.IdentityProviders = append(snap.IdentityProviders, ip)
	}
	for _, ar := range s.revokers {
		snap.AnonymityRevokers = append(snap.AnonymityRevokers, ar)
	}
	snap.CryptoParams = s.cryptoParams
	for regID := range s.regIDs {
		// Credentials already on accounts are rebuilt from there; only the
		// historical ones (from dead branches and prior eras) need saving.
		if _, onAccount := s.accountsByCred[regID]; !onAccount {
			snap.HistoricRegIDs = append(snap.HistoricRegIDs, regID)
		}
	}
	return snap, nil
}

// FromSnapshot rebuilds a frozen state. The recomputed structural hash must
// match the recorded one; a mismatch means the segment is corrupt.
func FromSnapshot(snap *Snapshot) (*State, error) {
	if !snap.ProtocolVersion.Supported() {
		return nil, fmt.Errorf("%w: version %d", ErrVersionMismatch, snap.ProtocolVersion)
	}
	s := NewState(snap.ProtocolVersion, snap.Core, snap.Seed.LeadershipElectionNonce, snap.Updates.Keys)
	s.nextInstanceIndex = snap.NextInstanceIndex
	s.rewards = snap.Rewards
	s.totalEncrypted = snap.TotalEncrypted
	s.totalGTU = snap.TotalGTU
	s.seed = snap.Seed
	s.params = snap.Params
	s.updates = snap.Updates.Clone()
	for _, a := range snap.Accounts {
		s.accounts[a.Address] = a
		s.accountOrder = append(s.accountOrder, a.Address)
		for _, cred := range a.Credentials {
			s.accountsByCred[cred.RegID] = a.Address
			s.regIDs[cred.RegID] = a.Address
		}
		s.reindexBaker(a)
	}
	for _, inst := range snap.Instances {
		s.instances[inst.Address] = inst
	}
	for _, m := range snap.Modules {
		s.modules[m.Ref] = m
	}
	for _, ip := range snap.IdentityProviders {
		s.idProviders[ip.ID] = ip
	}
	for _, ar := range snap.AnonymityRevokers {
		s.revokers[ar.ID] = ar
	}
	s.cryptoParams = snap.CryptoParams
	for _, regID := range snap.HistoricRegIDs {
		s.regIDs[regID] = types.AccountAddress{}
	}
	if got := s.Freeze(); got != snap.Hash {
		return nil, fmt.Errorf("%w: snapshot hash %s, recomputed %s", ErrStorageError, snap.Hash, got)
	}
	return s, nil
}

// MarshalSnapshot serializes a snapshot for the segment file.
func MarshalSnapshot(snap *Snapshot) ([]byte, error) {
	b, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal state snapshot: %w", err)
	}
	return b, nil
}

// UnmarshalSnapshot parses a segment record.
func UnmarshalSnapshot(b []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal state snapshot: %w", err)
	}
	return &snap, nil
}
