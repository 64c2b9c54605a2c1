// Copyright 2025 Certen Protocol
//
// Energy tariff

package scheduler

import (
	"github.com/certen/permissioned-node/pkg/types"
)

// Base energy cost per item kind, before size and engine charges.
const (
	CostHeader          types.Energy = 300 // every normal transaction
	CostTransfer        types.Energy = 300
	CostScheduledPerRel types.Energy = 100
	CostDeployPerByte   types.Energy = 1
	CostInitBase        types.Energy = 500
	CostReceiveBase     types.Energy = 500
	CostBakerChange     types.Energy = 300
	CostDelegation      types.Energy = 200
	CostCredential      types.Energy = 45000
	CostChainUpdate     types.Energy = 500
)

// baseCost is the statically known part of an item's energy use.
func baseCost(kind PayloadKind, payloadLen int) types.Energy {
	size := types.Energy(payloadLen)
	switch kind {
	case PayloadTransfer:
		return CostHeader + CostTransfer
	case PayloadTransferWithSchedule:
		return CostHeader + CostTransfer
	case PayloadDeployModule:
		return CostHeader + size*CostDeployPerByte
	case PayloadInitContract:
		return CostHeader + CostInitBase
	case PayloadUpdateContract:
		return CostHeader + CostReceiveBase
	case PayloadAddBaker, PayloadRemoveBaker, PayloadUpdateStake:
		return CostHeader + CostBakerChange
	case PayloadDelegate, PayloadUndelegate:
		return CostHeader + CostDelegation
	}
	return CostHeader
}

// energyToCost converts charged energy into the fee amount. One energy
// costs EuroPerEnergy * MicroGTUPerEuro micro-GTU.
func energyToCost(energy types.Energy, euroPerEnergy, microGTUPerEuro uint64) types.Amount {
	if euroPerEnergy == 0 {
		euroPerEnergy = 1
	}
	if microGTUPerEuro == 0 {
		microGTUPerEuro = 1
	}
	return types.Amount(uint64(energy) * euroPerEnergy * microGTUPerEuro)
}
