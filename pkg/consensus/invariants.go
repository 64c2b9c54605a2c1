// Copyright 2025 Certen Protocol
//
// Tree-state invariant checker
//
// CheckTreeInvariants verifies the structural invariants every reachable
// tree state must satisfy. It only inspects the in-memory tree and the
// last-finalized state; it does not touch the store. Tests and debug
// assertions call it after every interesting transition.

package consensus

import (
	"fmt"
	"strings"

	"github.com/certen/permissioned-node/pkg/tree"
	"github.com/certen/permissioned-node/pkg/txtable"
	"github.com/certen/permissioned-node/pkg/types"
)

// CheckTreeInvariants returns an error listing every violated invariant,
// or nil when all hold.
func (c *Consensus) CheckTreeInvariants() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var violations []string
	add := func(format string, args ...interface{}) {
		violations = append(violations, fmt.Sprintf(format, args...))
	}

	t := c.tree
	lfb := t.LastFinalized()

	// -----------------------
	// Finalization monotonicity
	// -----------------------
	list := t.FinalizationList()
	for i := 1; i < len(list); i++ {
		prev, cur := list[i-1], list[i]
		if prev.Record != nil && cur.Record != nil && cur.Record.Index <= prev.Record.Index {
			add("finalization indices not strictly increasing at position %d", i)
		}
		if !tree.IsAncestorOf(prev.Block, cur.Block) {
			add("finalized block %s is not a descendant of its predecessor", cur.Block.Hash)
		}
	}
	if list[len(list)-1].Block != lfb {
		add("last finalized block disagrees with the finalization list")
	}

	// -----------------------
	// Branch coherence
	// -----------------------
	for layer, blocks := range t.Branches() {
		wantHeight := lfb.Height + 1 + types.BlockHeight(layer)
		for _, bp := range blocks {
			if t.Status(bp.Hash) != tree.StatusAlive {
				add("branch block %s at layer %d is %s, not alive", bp.Hash, layer, t.Status(bp.Hash))
			}
			if bp.Height != wantHeight {
				add("branch block %s at layer %d has height %d, want %d", bp.Hash, layer, bp.Height, wantHeight)
			}
			if bp.Parent == nil {
				add("branch block %s has no parent pointer", bp.Hash)
				continue
			}
			parentStatus := t.Status(bp.Parent.Hash)
			if parentStatus != tree.StatusAlive && parentStatus != tree.StatusFinalized {
				add("branch block %s has %s parent", bp.Hash, parentStatus)
			}
			if layer == 0 && bp.Parent != lfb {
				add("layer-0 block %s does not descend from the LFB", bp.Hash)
			}
			if !tree.IsAncestorOf(lfb, bp) {
				add("LFB is not an ancestor of alive block %s", bp.Hash)
			}
		}
	}
	if len(t.Branches()) > 0 && len(t.BranchLayer(len(t.Branches())-1)) == 0 {
		add("branches end in an empty layer")
	}

	// -----------------------
	// Transaction accounting on the last finalized state
	// -----------------------
	if lfb.State != nil {
		if got, want := lfb.State.TotalBalances(), lfb.State.TotalGTU(); got != want {
			add("finalized state balance sum %d differs from recorded supply %d", got, want)
		}

		// Active baker closure.
		for _, id := range lfb.State.ActiveBakerIDs() {
			committee := lfb.State.GetSlotBakers(0)
			member, ok := committee.Lookup(id)
			if !ok {
				add("active baker %d missing from committee", id)
				continue
			}
			if !lfb.State.HasAggregationKey(member.AggregationKey) {
				add("active baker %d aggregation key missing from active set", id)
			}
		}
	}

	// -----------------------
	// Non-finalized nonce contiguity
	// -----------------------
	seen := make(map[string]bool)
	for _, layer := range t.Branches() {
		for _, bp := range layer {
			for _, item := range bp.Items() {
				if item.Kind != types.KindNormalTransaction {
					continue
				}
				sender := item.Normal.Sender
				key := string(sender[:])
				if seen[key] {
					continue
				}
				seen[key] = true
				next, nonces := t.Transactions.NonFinalizedNonces(sender)
				for i, n := range nonces {
					if n != next+types.Nonce(i) {
						add("nonce keys for %s not contiguous from %d: %v", sender, next, nonces)
						break
					}
				}
			}
		}
	}

	// -----------------------
	// Committed transactions have table entries
	// -----------------------
	for _, layer := range t.Branches() {
		for _, bp := range layer {
			for _, item := range bp.Items() {
				entry := t.Transactions.Lookup(item.Hash())
				if entry == nil {
					add("alive block %s carries unknown transaction %s", bp.Hash, item.Hash())
					continue
				}
				if entry.Status != txtable.StatusCommitted && entry.Status != txtable.StatusFinalized {
					add("transaction %s in alive block has status %s", item.Hash(), entry.Status)
				}
			}
		}
	}

	if len(violations) > 0 {
		return fmt.Errorf("tree invariants violated:\n  - %s", strings.Join(violations, "\n  - "))
	}
	return nil
}
