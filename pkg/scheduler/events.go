// Copyright 2025 Certen Protocol
//
// Transaction outcomes and events
// Every executed item leaves an outcome; the block's outcomes hash binds
// them into the block. In protocol versions with Merkle outcomes, the hash
// is a tree root so membership proofs stay short.

package scheduler

import (
	"github.com/certen/permissioned-node/pkg/merkle"
	"github.com/certen/permissioned-node/pkg/types"
)

// EventKind tags the events an outcome can carry.
type EventKind uint8

const (
	EventTransferred        EventKind = 0
	EventUpdated            EventKind = 1
	EventModuleDeployed     EventKind = 2
	EventContractInitialized EventKind = 3
	EventAccountCreated     EventKind = 4
	EventBakerAdded         EventKind = 5
	EventBakerRemoved       EventKind = 6
	EventStakeChanged       EventKind = 7
	EventDelegationChanged  EventKind = 8
	EventUpdateEnqueued     EventKind = 9
)

// AddressKind discriminates event endpoints.
type AddressKind uint8

const (
	AddressAccount  AddressKind = 0
	AddressContract AddressKind = 1
)

// EventAddress is either an account or a contract endpoint.
type EventAddress struct {
	Kind     AddressKind
	Account  types.AccountAddress
	Contract types.ContractAddress
}

// AccountEventAddress wraps an account endpoint.
func AccountEventAddress(a types.AccountAddress) EventAddress {
	return EventAddress{Kind: AddressAccount, Account: a}
}

// ContractEventAddress wraps a contract endpoint.
func ContractEventAddress(c types.ContractAddress) EventAddress {
	return EventAddress{Kind: AddressContract, Contract: c}
}

// Event is one effect of an executed item.
type Event struct {
	Kind   EventKind
	From   EventAddress
	To     EventAddress
	Amount types.Amount
	Module types.ModuleRef
}

// Outcome is the result of executing one block item.
type Outcome struct {
	Hash       types.TransactionHash
	Index      uint32
	Sender     types.AccountAddress
	Success    bool
	Reject     types.UpdateResult // failure code when !Success
	EnergyUsed types.Energy
	Cost       types.Amount
	Events     []Event
}

// HashLeaf returns the outcome's canonical content hash.
func (o *Outcome) HashLeaf() [32]byte {
	return types.HashOf([]interface{}{
		o.Hash, o.Index, o.Sender, o.Success, uint32(o.Reject), o.EnergyUsed, o.Cost, o.Events,
	})
}

// OutcomesHash binds a block's outcome list. Protocol version 1 chains the
// leaves; later versions build a Merkle tree so membership proofs are
// short.
func OutcomesHash(pv types.ProtocolVersion, outcomes []*Outcome) [32]byte {
	leaves := make([][32]byte, len(outcomes))
	for i, o := range outcomes {
		leaves[i] = o.HashLeaf()
	}
	if pv <= types.ProtocolVersion1 {
		var flat []byte
		for _, l := range leaves {
			flat = append(flat, l[:]...)
		}
		return types.HashBytes(flat)
	}
	return merkle.RootOfHashes(leaves)
}

// ProveOutcome builds a membership receipt for one outcome under the
// block's outcomes root. Only available from protocol version 2 on.
func ProveOutcome(pv types.ProtocolVersion, outcomes []*Outcome, index int) (*merkle.Receipt, bool) {
	if pv <= types.ProtocolVersion1 || index < 0 || index >= len(outcomes) {
		return nil, false
	}
	leaves := make([][32]byte, len(outcomes))
	for i, o := range outcomes {
		leaves[i] = o.HashLeaf()
	}
	receipt, err := merkle.BuildTree(leaves).Prove(index)
	if err != nil {
		return nil, false
	}
	return receipt, true
}
