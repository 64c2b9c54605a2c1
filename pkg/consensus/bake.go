// Copyright 2025 Certen Protocol
//
// Block construction
//
// ConstructBlock assembles a candidate block on top of the focus block from
// the pending-transaction table, under the construction timeout and the
// configured size bound. The baker loop that decides when to bake and with
// which keys is a host concern; the core only builds and signs.

package consensus

import (
	"fmt"
	"time"

	"github.com/certen/permissioned-node/pkg/crypto"
	"github.com/certen/permissioned-node/pkg/scheduler"
	"github.com/certen/permissioned-node/pkg/types"
)

// BakerIdentity is the key material a baking host holds.
type BakerIdentity struct {
	ID          types.BakerID
	SignKey     *crypto.SignKey
	ElectionKey *crypto.SignKey
}

// ConstructBlock builds, executes and signs a block for the slot on top of
// the focus block. Returns nil with no error when the baker does not win
// the slot.
func (c *Consensus) ConstructBlock(slot types.Slot, baker *BakerIdentity, timeout time.Duration) (*types.BakedBlock, error) {
	deadline := c.now().Add(timeout)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shutdown {
		return nil, ErrShutDown
	}
	focus := c.tree.Focus()
	if slot <= focus.Slot() {
		return nil, fmt.Errorf("slot %d not after focus slot %d", slot, focus.Slot())
	}

	seed := focus.State.SeedState()
	committee := focus.State.GetSlotBakers(slot)
	member, ok := committee.Lookup(baker.ID)
	if !ok {
		return nil, fmt.Errorf("baker %d not in committee", baker.ID)
	}

	proof := crypto.MakeLeadershipProof(baker.ElectionKey, seed.LeadershipElectionNonce[:], uint64(slot))
	difficulty := focus.State.GetElectionDifficultyAt(c.tree.GenesisData().Core.SlotTime(slot))
	if !crypto.LeadershipWins(proof, difficulty, committee.StakeShare(baker.ID)) {
		return nil, nil
	}
	blockNonce := crypto.MakeBlockNonce(baker.ElectionKey, seed.LeadershipElectionNonce[:], uint64(slot))

	// Gather admissible items from the pending table in nonce order until
	// the budget runs out.
	var items []*types.BlockItem
	size := 0
	c.tree.PendingTransactions.EachAccount(func(sender types.AccountAddress, next, high types.Nonce) bool {
		if c.now().After(deadline) {
			return false
		}
		for n := next; n <= high; n++ {
			groups := c.tree.Transactions.GetAccountNonFinalized(sender, n)
			if len(groups) == 0 || len(groups[0]) == 0 {
				return true // gap: later nonces are unusable
			}
			entry := c.tree.Transactions.Lookup(groups[0][0])
			if entry == nil || entry.Item.Normal == nil || entry.Item.Normal.Nonce != n {
				return true // gap: later nonces are unusable
			}
			enc, err := entry.Item.Serialize()
			if err != nil {
				return true
			}
			if c.opts.MaxBlockSize > 0 && size+len(enc) > c.opts.MaxBlockSize {
				return false
			}
			size += len(enc)
			items = append(items, entry.Item)
		}
		return true
	})

	// Execute against a thawed focus state to derive the claimed hashes.
	state, err := focus.State.Thaw()
	if err != nil {
		return nil, fmt.Errorf("thaw focus state: %w", err)
	}
	state.SetSeedState(seed.UpdateWith(slot, crypto.BlockNonceOutput(blockNonce)))
	execRes, err := scheduler.ExecuteItems(&scheduler.BlockContext{
		State:          state,
		SlotTime:       c.tree.GenesisData().Core.SlotTime(slot),
		MaxBlockEnergy: c.tree.GenesisData().Core.MaxBlockEnergy,
		Caches:         c.caches,
		Engine:         c.engine,
	}, items)
	if err != nil {
		return nil, fmt.Errorf("construct: execution failed: %w", err)
	}
	stateHash := state.Freeze()

	block := &types.BakedBlock{
		Slot:          slot,
		Parent:        focus.Hash,
		Baker:         baker.ID,
		BakerKey:      member.SignKey,
		Proof:         proof,
		BlockNonce:    blockNonce,
		LastFinalized: c.tree.LastFinalized().Hash,
		Items:         items,
		StateHash:     stateHash,
		OutcomesHash:  execRes.OutcomesHash,
	}
	block.Signature = baker.SignKey.Sign(block.SigningBytes())
	return block, nil
}
