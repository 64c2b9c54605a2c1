// Copyright 2025 Certen Protocol
//
// Transaction payloads
// The payload of a normal transaction is a tagged canonical encoding; the
// scheduler decodes and dispatches it. Contract init/receive payloads cross
// into the execution engine, everything else is handled natively.

package scheduler

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/certen/permissioned-node/pkg/types"
)

// PayloadKind tags the payload union.
type PayloadKind uint8

const (
	PayloadTransfer       PayloadKind = 0
	PayloadDeployModule   PayloadKind = 1
	PayloadInitContract   PayloadKind = 2
	PayloadUpdateContract PayloadKind = 3
	PayloadAddBaker       PayloadKind = 4
	PayloadRemoveBaker    PayloadKind = 5
	PayloadUpdateStake    PayloadKind = 6
	PayloadDelegate       PayloadKind = 7
	PayloadUndelegate     PayloadKind = 8
	PayloadTransferWithSchedule PayloadKind = 9
)

// Transfer moves an amount to another account.
type Transfer struct {
	To     types.AccountAddress
	Amount types.Amount
}

// TransferWithSchedule moves amounts released over time.
type TransferWithSchedule struct {
	To       types.AccountAddress
	Releases []ScheduledRelease
}

// ScheduledRelease is one step of a scheduled transfer.
type ScheduledRelease struct {
	At     types.Timestamp
	Amount types.Amount
}

// DeployModule installs a new module artifact.
type DeployModule struct {
	Source      []byte
	Entrypoints []string
}

// InitContract creates an instance from a deployed module.
type InitContract struct {
	Amount   types.Amount
	Module   types.ModuleRef
	InitName string
	Param    []byte
}

// UpdateContract invokes a receive entrypoint on an instance.
type UpdateContract struct {
	Amount      types.Amount
	Address     types.ContractAddress
	ReceiveName string
	Param       []byte
}

// AddBaker registers the sender as a baker.
type AddBaker struct {
	ID              types.BakerID
	SignKey         []byte
	ElectionKey     []byte
	AggregationKey  []byte
	Stake           types.Amount
	RestakeEarnings bool
}

// RemoveBaker starts the sender's baker cooldown.
type RemoveBaker struct{}

// UpdateStake changes the sender's baker stake.
type UpdateStake struct {
	Stake types.Amount
}

// Delegate stakes the sender's funds behind a baker (or the passive pool).
type Delegate struct {
	Target  types.BakerID
	Passive bool
	Stake   types.Amount
}

// Undelegate removes the sender's delegation.
type Undelegate struct{}

// wirePayload is the canonical form: tag plus the body's own encoding.
type wirePayload struct {
	Kind PayloadKind
	Body []byte
}

// EncodePayload serializes a payload value for embedding in a transaction.
func EncodePayload(kind PayloadKind, v interface{}) ([]byte, error) {
	body, err := rlp.EncodeToBytes(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload body: %w", err)
	}
	return rlp.EncodeToBytes(&wirePayload{Kind: kind, Body: body})
}

// MustEncodePayload is EncodePayload for payloads built from typed values;
// those cannot fail to encode.
func MustEncodePayload(kind PayloadKind, v interface{}) []byte {
	b, err := EncodePayload(kind, v)
	if err != nil {
		panic("scheduler: " + err.Error())
	}
	return b
}

// DecodePayload parses a payload union.
func DecodePayload(data []byte) (PayloadKind, interface{}, error) {
	var wire wirePayload
	if err := rlp.DecodeBytes(data, &wire); err != nil {
		return 0, nil, fmt.Errorf("decode payload: %w", err)
	}
	var v interface{}
	switch wire.Kind {
	case PayloadTransfer:
		v = new(Transfer)
	case PayloadTransferWithSchedule:
		v = new(TransferWithSchedule)
	case PayloadDeployModule:
		v = new(DeployModule)
	case PayloadInitContract:
		v = new(InitContract)
	case PayloadUpdateContract:
		v = new(UpdateContract)
	case PayloadAddBaker:
		v = new(AddBaker)
	case PayloadRemoveBaker:
		v = new(RemoveBaker)
	case PayloadUpdateStake:
		v = new(UpdateStake)
	case PayloadDelegate:
		v = new(Delegate)
	case PayloadUndelegate:
		v = new(Undelegate)
	default:
		return 0, nil, fmt.Errorf("unknown payload kind %d", wire.Kind)
	}
	if err := rlp.DecodeBytes(wire.Body, v); err != nil {
		return 0, nil, fmt.Errorf("decode payload body: %w", err)
	}
	return wire.Kind, v, nil
}
