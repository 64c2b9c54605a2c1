// Copyright 2025 Certen Protocol
//
// Protocol-version state migration for regenesis
//
// MigrateForRegenesis takes the terminal block's frozen state and produces
// the frozen initial state of the next era: re-keyed seed, cleared update
// queues, per-version account and stake migrations applied. Two nodes at
// the same terminal block must produce byte-identical results.

package blockstate

import (
	"fmt"

	"github.com/certen/permissioned-node/pkg/types"
)

// MigrationParameters carries the per-version knobs a regenesis applies.
type MigrationParameters struct {
	TargetVersion types.ProtocolVersion

	// AddedCooldownEpochs extends baker cooldowns when migrating to
	// versions that lengthen the cooldown window.
	AddedCooldownEpochs uint64
}

// MigrateForRegenesis builds the next era's initial state from the terminal
// state. The terminal state must be frozen; the result is frozen.
func MigrateForRegenesis(terminal *State, genesisTime types.Timestamp, params MigrationParameters) (*State, error) {
	if !terminal.Frozen() {
		return nil, fmt.Errorf("terminal state must be frozen")
	}
	if !params.TargetVersion.Supported() {
		return nil, fmt.Errorf("%w: target version %d", ErrVersionMismatch, params.TargetVersion)
	}

	// The thaw-before-archive ordering matters: regenesis runs before the
	// terminal state is archived.
	next, err := terminal.Thaw()
	if err != nil {
		return nil, fmt.Errorf("thaw terminal state: %w", err)
	}

	next.protocolVersion = params.TargetVersion
	next.core.GenesisTime = genesisTime

	// Re-key the election beacon and restart the epoch clock.
	next.seed = terminal.seed.RegenesisSeed()

	// The update queue does not survive an era boundary; the pending
	// protocol update it carried is what produced this regenesis.
	next.updates = NewUpdateState(terminal.updates.Keys)
	for i := range next.updates.NextSequence {
		next.updates.NextSequence[i] = terminal.updates.NextSequence[i]
	}

	// Per-version migrations.
	if err := migrateAccounts(next, params); err != nil {
		return nil, err
	}

	next.Freeze()
	return next, nil
}

// migrateAccounts applies version-specific account and stake rewrites.
func migrateAccounts(s *State, params MigrationParameters) error {
	if params.AddedCooldownEpochs == 0 {
		return nil
	}
	shift := types.Timestamp(params.AddedCooldownEpochs * s.core.EpochLength * uint64(s.core.SlotDuration))
	var addrs []types.AccountAddress
	s.EachAccount(func(a *Account) bool {
		if a.Baker != nil && a.Baker.PendingChange != StakeNoChange {
			addrs = append(addrs, a.Address)
		}
		return true
	})
	for _, addr := range addrs {
		if err := s.ModifyAccount(addr, func(a *Account) error {
			a.Baker.PendingChangeAt += shift
			return nil
		}); err != nil {
			return fmt.Errorf("migrate account %s: %w", addr, err)
		}
	}
	return nil
}
