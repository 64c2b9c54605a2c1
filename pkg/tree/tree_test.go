// Copyright 2025 Certen Protocol
//
// Tree structure tests

package tree

import (
	"testing"

	"github.com/certen/permissioned-node/pkg/blockstate"
	"github.com/certen/permissioned-node/pkg/types"
)

func testTree(t *testing.T) *Tree {
	t.Helper()
	core := types.GenesisCore{GenesisTime: 0, SlotDuration: 1000, EpochLength: 100, MaxBlockEnergy: 1000}
	state := blockstate.NewState(types.ProtocolVersion1, core, [32]byte{1}, blockstate.UpdateKeyCollection{})
	stateHash := state.Freeze()
	gd := &types.GenesisData{Core: core, ProtocolVersion: types.ProtocolVersion1, StateHash: stateHash}
	return NewTree(0, gd, state, &types.FinalizationRecord{Index: 0, BlockHash: gd.Hash()})
}

func addBlock(t *testing.T, tr *Tree, hash byte, parent *BlockPointer, slot types.Slot) *BlockPointer {
	t.Helper()
	bp := &BlockPointer{
		Hash:   types.BlockHash{hash},
		Block:  &types.BakedBlock{Slot: slot, Parent: parent.Hash},
		Height: parent.Height + 1,
		Parent: parent,
		State:  parent.State,
	}
	tr.AddAlive(bp)
	return bp
}

func TestAddAlive_LayersAndOrder(t *testing.T) {
	tr := testTree(t)
	g := tr.Genesis()

	// Insert the higher-slot sibling first: ordering must come out by
	// (slot, hash), not arrival.
	b := addBlock(t, tr, 2, g, 5)
	a := addBlock(t, tr, 1, g, 3)

	layer := tr.BranchLayer(0)
	if len(layer) != 2 || layer[0] != a || layer[1] != b {
		t.Fatalf("layer order wrong: %v", layer)
	}
	if tr.Status(a.Hash) != StatusAlive {
		t.Error("inserted block not alive")
	}
	if tr.AliveCount() != 2 {
		t.Errorf("alive count = %d", tr.AliveCount())
	}
}

func TestIsAncestorOf(t *testing.T) {
	tr := testTree(t)
	g := tr.Genesis()
	a := addBlock(t, tr, 1, g, 1)
	b := addBlock(t, tr, 2, a, 2)
	c := addBlock(t, tr, 3, g, 3)

	if !IsAncestorOf(g, b) || !IsAncestorOf(a, b) || !IsAncestorOf(b, b) {
		t.Error("ancestor relation broken on a straight chain")
	}
	if IsAncestorOf(b, a) || IsAncestorOf(a, c) {
		t.Error("non-ancestors classified as ancestors")
	}
}

func TestApplyFinalization_PruneAndKill(t *testing.T) {
	tr := testTree(t)
	g := tr.Genesis()
	p := addBlock(t, tr, 1, g, 1)
	x := addBlock(t, tr, 2, p, 2)
	y := addBlock(t, tr, 3, p, 3)
	x2 := addBlock(t, tr, 4, x, 4)
	y2 := addBlock(t, tr, 5, y, 5)

	rec := &types.FinalizationRecord{Index: 1, BlockHash: x2.Hash}
	finalized, removed := tr.ApplyFinalization(rec, x2)

	if len(finalized) != 3 || finalized[0] != p || finalized[1] != x || finalized[2] != x2 {
		t.Fatalf("finalized chain wrong: %v", finalized)
	}
	// y and y2 die; y2 must be killed before y (decreasing height).
	if len(removed) != 2 || removed[0] != y2 || removed[1] != y {
		t.Fatalf("removed = %v, want [y2 y]", removed)
	}
	for _, bp := range removed {
		if tr.Status(bp.Hash) != StatusDead {
			t.Errorf("removed block %s not dead", bp.Hash)
		}
	}
	if tr.LastFinalized() != x2 {
		t.Error("LFB not advanced")
	}
	if tr.NextFinalizationIndex() != 2 {
		t.Errorf("next finalization index = %d, want 2", tr.NextFinalizationIndex())
	}
	if len(tr.Branches()) != 0 {
		t.Errorf("branches not trimmed: %d layers", len(tr.Branches()))
	}
	if tr.FinalizedAtHeight(2) != x {
		t.Error("height index not updated")
	}
}

func TestApplyFinalization_KeepsDescendantsOfNewLFB(t *testing.T) {
	tr := testTree(t)
	g := tr.Genesis()
	p := addBlock(t, tr, 1, g, 1)
	q := addBlock(t, tr, 2, p, 2)
	r := addBlock(t, tr, 3, q, 3)

	rec := &types.FinalizationRecord{Index: 1, BlockHash: p.Hash}
	finalized, removed := tr.ApplyFinalization(rec, p)
	if len(finalized) != 1 || finalized[0] != p {
		t.Fatalf("finalized = %v", finalized)
	}
	if len(removed) != 0 {
		t.Fatalf("removed = %v, want none", removed)
	}
	if tr.Status(q.Hash) != StatusAlive || tr.Status(r.Hash) != StatusAlive {
		t.Error("descendants of the new LFB must stay alive")
	}
	if len(tr.Branches()) != 2 {
		t.Errorf("branches = %d layers, want 2", len(tr.Branches()))
	}
}

func TestSetFocus_ReplaysPendingDelta(t *testing.T) {
	tr := testTree(t)
	g := tr.Genesis()
	sender := types.AccountAddress{7}
	item := types.NewNormal(&types.NormalTransaction{Sender: sender, Nonce: 3})

	a := &BlockPointer{
		Hash:   types.BlockHash{1},
		Block:  &types.BakedBlock{Slot: 1, Parent: g.Hash, Items: []*types.BlockItem{item}},
		Height: g.Height + 1,
		Parent: g,
		State:  g.State,
	}
	tr.AddAlive(a)
	b := addBlock(t, tr, 2, g, 2)

	tr.PendingTransactions.AddTransaction(sender, 3, 3)

	// Focus onto the branch holding the transaction: it leaves pending.
	tr.SetFocus(a)
	if _, _, ok := tr.PendingTransactions.PendingWindow(sender); ok {
		t.Fatal("transaction still pending after focus covers it")
	}

	// Focus across to the sibling: the delta rewinds.
	tr.SetFocus(b)
	next, high, ok := tr.PendingTransactions.PendingWindow(sender)
	if !ok || next != 3 || high != 3 {
		t.Fatalf("after refocus: next=%d high=%d ok=%v", next, high, ok)
	}
	if tr.Focus() != b {
		t.Error("focus pointer not updated")
	}
}
