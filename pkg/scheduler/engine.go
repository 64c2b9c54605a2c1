// Copyright 2025 Certen Protocol
//
// Execution-engine contract
// The smart-contract engine is an external collaborator: invoked per
// init/receive, it returns a deterministic state delta, events and energy
// use. The scheduler applies the delta; it never interprets module code
// itself.

package scheduler

import (
	"errors"

	"github.com/certen/permissioned-node/pkg/blockstate"
	"github.com/certen/permissioned-node/pkg/types"
)

// ErrEngineReject is returned by engines for a contract-level rejection;
// the scheduler turns it into a reject outcome rather than a block failure.
var ErrEngineReject = errors.New("contract rejected invocation")

// OutgoingTransfer is a contract-initiated payment to an account.
type OutgoingTransfer struct {
	To     types.AccountAddress
	Amount types.Amount
}

// InitResult is the engine's answer to an init invocation.
type InitResult struct {
	State      []byte
	Events     []Event
	EnergyUsed types.Energy
}

// ReceiveResult is the engine's answer to a receive invocation.
type ReceiveResult struct {
	NewState   []byte
	Events     []Event
	Transfers  []OutgoingTransfer
	EnergyUsed types.Energy
}

// Engine executes module entrypoints. Implementations must be
// deterministic: same module, state and parameters give the same result on
// every node.
type Engine interface {
	Init(module *blockstate.Module, initName string, param []byte, amount types.Amount, initiator types.AccountAddress) (*InitResult, error)
	Receive(module *blockstate.Module, instance *blockstate.Instance, receiveName string, param []byte, amount types.Amount, initiator types.AccountAddress) (*ReceiveResult, error)
}
