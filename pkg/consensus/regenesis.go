// Copyright 2025 Certen Protocol
//
// Protocol update and regenesis
//
// An enacted protocol update shuts reception down while finalization keeps
// running. The first finalized block whose slot time passes the update's
// effective time is the terminal block; its state migrates into the next
// era's initial state and a regenesis record is staged for the host.

package consensus

import (
	"encoding/binary"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/certen/permissioned-node/pkg/blockstate"
	"github.com/certen/permissioned-node/pkg/store"
	"github.com/certen/permissioned-node/pkg/tree"
	"github.com/certen/permissioned-node/pkg/types"
)

// ProtocolUpdatePayload is the decoded payload of an UpdateProtocol chain
// update: the target version plus migration knobs.
type ProtocolUpdatePayload struct {
	TargetVersion       types.ProtocolVersion
	AddedCooldownEpochs uint64
}

// EncodeProtocolUpdatePayload builds the canonical payload bytes.
func EncodeProtocolUpdatePayload(p ProtocolUpdatePayload) []byte {
	out := make([]byte, 12)
	binary.BigEndian.PutUint32(out[:4], uint32(p.TargetVersion))
	binary.BigEndian.PutUint64(out[4:], p.AddedCooldownEpochs)
	return out
}

// DecodeProtocolUpdatePayload parses the payload bytes.
func DecodeProtocolUpdatePayload(b []byte) (ProtocolUpdatePayload, error) {
	if len(b) < 12 {
		return ProtocolUpdatePayload{}, fmt.Errorf("protocol update payload too short")
	}
	return ProtocolUpdatePayload{
		TargetVersion:       types.ProtocolVersion(binary.BigEndian.Uint32(b[:4])),
		AddedCooldownEpochs: binary.BigEndian.Uint64(b[4:12]),
	}, nil
}

// checkProtocolUpdate runs after every finalization advance: it latches
// shut-down once the new last-finalized block's slot time reaches a pending
// update's effective time and performs the regenesis when the terminal block
// finalizes. Caller holds the lock.
func (c *Consensus) checkProtocolUpdate(newLFB *tree.BlockPointer) {
	pu := newLFB.State.Updates().PendingProtocolUpdate
	if pu == nil {
		return
	}
	// Shut-down triggers when the update crosses its effective time: the
	// first finalized block past it is the terminal block.
	slotTime := c.tree.GenesisData().Core.SlotTime(newLFB.Slot())
	if slotTime < pu.EffectiveTime {
		return
	}
	if !c.shutdown {
		c.shutdown = true
		c.logger.Printf("protocol update effective %d crossed; consensus shutting down", pu.EffectiveTime)
	}
	if c.nextGenesis != nil {
		return
	}
	if err := c.performRegenesis(newLFB, pu); err != nil {
		c.logger.Printf("FATAL: regenesis from terminal block %s failed: %v", newLFB.Hash, err)
	}
}

// performRegenesis derives the next era from the terminal block.
func (c *Consensus) performRegenesis(terminal *tree.BlockPointer, pu *blockstate.QueuedUpdate) error {
	payload, err := DecodeProtocolUpdatePayload(pu.Payload)
	if err != nil {
		return err
	}

	gd := c.tree.GenesisData()
	genesisTime := gd.Core.SlotTime(terminal.Slot())

	migrated, err := blockstate.MigrateForRegenesis(terminal.State, genesisTime, blockstate.MigrationParameters{
		TargetVersion:       payload.TargetVersion,
		AddedCooldownEpochs: payload.AddedCooldownEpochs,
	})
	if err != nil {
		return err
	}
	migratedHash, err := migrated.Hash()
	if err != nil {
		return err
	}

	// Genesis identifiers: the first-genesis pointer survives every era,
	// the previous-genesis pointer links one step back.
	firstGenesis := gd.Hash()
	if gd.IsRegenesis() {
		firstGenesis = gd.FirstGenesis
	}

	core := gd.Core
	core.GenesisTime = genesisTime

	next := &types.GenesisData{
		Core:            core,
		ProtocolVersion: payload.TargetVersion,
		StateHash:       migratedHash,
		FirstGenesis:    firstGenesis,
		PreviousGenesis: gd.Hash(),
		TerminalBlock:   terminal.Hash,
		StartingHeight:  terminal.Height + 1,
	}

	c.tree.NextEraState = migrated
	c.nextGenesis = next
	c.logger.Printf("regenesis staged: era %d -> %d, genesis %s", c.tree.GenesisIndex(), c.tree.GenesisIndex()+1, next.Hash())

	if c.hooks.OnRegenesis != nil {
		c.hooks.OnRegenesis(next.Hash())
	}
	return nil
}

// StartNextEra builds the coordinator for the staged era. The host opens
// the new era's store segment and hands it in.
func (c *Consensus) StartNextEra(st *store.Store, reg prometheus.Registerer) (*Consensus, error) {
	gd, state, ok := c.NextEra()
	if !ok {
		return nil, fmt.Errorf("no regenesis staged")
	}
	return New(c.tree.GenesisIndex()+1, gd, state, st, c.engine, c.oracle, c.hooks, c.opts, reg)
}
