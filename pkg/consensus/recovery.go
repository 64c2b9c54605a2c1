// Copyright 2025 Certen Protocol
//
// Crash recovery
//
// Recover rebuilds an era's tree from the persisted finalization list, the
// height index and the block-state segment. The store has already truncated
// itself to its latest consistent point; everything the walk yields is
// trusted. Non-finalized blocks are not recovered; peers re-send them
// through catch-up.

package consensus

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/certen/permissioned-node/pkg/blockstate"
	"github.com/certen/permissioned-node/pkg/scheduler"
	"github.com/certen/permissioned-node/pkg/store"
	"github.com/certen/permissioned-node/pkg/tree"
	"github.com/certen/permissioned-node/pkg/types"
)

// Recover reopens an era from its store.
func Recover(gi types.GenesisIndex, st *store.Store, engine scheduler.Engine, oracle RecordVerifier,
	hooks Callbacks, opts Options, reg prometheus.Registerer) (*Consensus, error) {

	recovered, err := st.Recover()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFatalState, err)
	}
	if len(recovered.Records) == 0 {
		return nil, fmt.Errorf("no persisted era to recover")
	}

	// Entry 0 is the era genesis.
	gdBytes, err := st.GetBlock(recovered.Records[0].BlockHash)
	if err != nil || gdBytes == nil {
		return nil, fmt.Errorf("%w: genesis record present but genesis data missing", ErrFatalState)
	}
	var gd types.GenesisData
	if err := unmarshalGenesis(gdBytes, &gd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFatalState, err)
	}
	genesisState, err := loadState(st, gd.StateHash)
	if err != nil {
		return nil, fmt.Errorf("%w: genesis state: %v", ErrFatalState, err)
	}

	c, err := New(gi, &gd, genesisState, st, engine, oracle, hooks, opts, reg)
	if err != nil {
		return nil, err
	}

	parent := c.tree.Genesis()
	for i := 1; i < len(recovered.Records); i++ {
		rec := recovered.Records[i]
		block, err := types.DeserializeBakedBlock(recovered.Blocks[i])
		if err != nil {
			return nil, fmt.Errorf("%w: finalized block %s undecodable: %v", ErrFatalState, rec.BlockHash, err)
		}
		state, err := loadState(st, block.StateHash)
		if err != nil {
			return nil, fmt.Errorf("%w: state of finalized block %s: %v", ErrFatalState, rec.BlockHash, err)
		}
		bp := &tree.BlockPointer{
			Hash:              rec.BlockHash,
			Block:             block,
			Height:            parent.Height + 1,
			Parent:            parent,
			State:             state,
			LastFinalizedHash: block.LastFinalized,
		}
		c.tree.RestoreFinalized(rec, bp)

		// Finalized transaction lookups come from the store's outcome
		// index; the in-memory table restarts empty and its nonce indices
		// reseed from the recovered last-finalized state.

		// All but the newest recovered state stay archived.
		parent.State.Archive()
		parent = bp
	}

	c.checkProtocolUpdate(c.tree.LastFinalized())
	c.logger.Printf("recovered era %d at height %d (%d finalization records)",
		gi, c.tree.LastFinalized().Height, len(recovered.Records))
	return c, nil
}

func loadState(st *store.Store, hash types.StateHash) (*blockstate.State, error) {
	data, err := st.ReadStateSnapshot(hash)
	if err != nil {
		return nil, err
	}
	snap, err := blockstate.UnmarshalSnapshot(data)
	if err != nil {
		return nil, err
	}
	return blockstate.FromSnapshot(snap)
}

func unmarshalGenesis(b []byte, gd *types.GenesisData) error {
	parsed, err := types.DeserializeGenesisData(b)
	if err != nil {
		return err
	}
	*gd = *parsed
	return nil
}
