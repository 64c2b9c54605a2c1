// Copyright 2025 Certen Protocol
//
// Transaction table tests

package txtable

import (
	"testing"
	"time"

	"github.com/certen/permissioned-node/pkg/types"
)

var okVerifier = VerifierFunc(func(*types.BlockItem) VerificationResult {
	return VerificationResult{Outcome: types.ResultSuccess}
})

func normalItem(sender byte, nonce types.Nonce, payload byte) *types.BlockItem {
	return types.NewNormal(&types.NormalTransaction{
		Sender:  types.AccountAddress{sender},
		Nonce:   nonce,
		Energy:  100,
		Expiry:  99999999,
		Payload: []byte{payload},
	})
}

func TestAddCommit_AddedThenDuplicate(t *testing.T) {
	tbl := NewTable()
	item := normalItem(1, 1, 0)

	res := tbl.AddCommit(item, okVerifier, time.Now(), 0, 1, 1)
	if res.Outcome != Added {
		t.Fatalf("first add: got %v, want Added", res.Outcome)
	}
	res = tbl.AddCommit(item, okVerifier, time.Now(), 0, 1, 1)
	if res.Outcome != Duplicate {
		t.Fatalf("second add: got %v, want Duplicate", res.Outcome)
	}
	if !res.Verification.Ok() {
		t.Error("duplicate did not return the cached verification result")
	}
}

func TestAddCommit_ObsoleteNonce(t *testing.T) {
	tbl := NewTable()
	first := normalItem(1, 1, 0)
	tbl.AddCommit(first, okVerifier, time.Now(), 0, 1, 1)
	tbl.Finalize(types.BlockHash{9}, 5, first.Hash())

	res := tbl.AddCommit(normalItem(1, 1, 7), okVerifier, time.Now(), 0, 1, 1)
	if res.Outcome != ObsoleteNonce {
		t.Errorf("got %v, want ObsoleteNonce", res.Outcome)
	}
}

func TestAddCommit_DefiniteFailureNotStored(t *testing.T) {
	tbl := NewTable()
	badVerifier := VerifierFunc(func(*types.BlockItem) VerificationResult {
		return VerificationResult{Outcome: types.ResultVerificationFailed}
	})
	item := normalItem(1, 1, 0)
	res := tbl.AddCommit(item, badVerifier, time.Now(), 0, 1, 1)
	if res.Outcome != NotAdded {
		t.Fatalf("got %v, want NotAdded", res.Outcome)
	}
	if tbl.Lookup(item.Hash()) != nil {
		t.Error("definite failure was stored")
	}
}

func TestFinalize_EvictsCompetingNonce(t *testing.T) {
	// Scenario: two transactions from the same sender at nonce 7; the
	// first is finalized, the second must be dropped and the nonce index
	// advanced.
	tbl := NewTable()
	first := normalItem(1, 7, 0)
	second := normalItem(1, 7, 1)
	tbl.AddCommit(first, okVerifier, time.Now(), 0, 7, 1)
	tbl.AddCommit(second, okVerifier, time.Now(), 0, 7, 1)

	block := types.BlockHash{1}
	tbl.CommitInBlock(10, block, first.Hash(), 0)

	evicted := tbl.Finalize(block, 10, first.Hash())
	if len(evicted) != 1 || evicted[0] != second.Hash() {
		t.Fatalf("evicted = %v, want [%v]", evicted, second.Hash())
	}
	if tbl.Lookup(second.Hash()) != nil {
		t.Error("competing transaction still present")
	}
	if got := tbl.Lookup(first.Hash()); got == nil || got.Status != StatusFinalized {
		t.Error("finalized transaction not marked finalized")
	}
	if next := tbl.NextAccountNonce(types.AccountAddress{1}, 7); next != 8 {
		t.Errorf("next nonce = %d, want 8", next)
	}
}

func TestNonceContiguity(t *testing.T) {
	tbl := NewTable()
	for n := types.Nonce(1); n <= 4; n++ {
		res := tbl.AddCommit(normalItem(2, n, 0), okVerifier, time.Now(), 0, 1, 1)
		if res.Outcome != Added {
			t.Fatalf("add nonce %d: %v", n, res.Outcome)
		}
	}
	next, nonces := tbl.NonFinalizedNonces(types.AccountAddress{2})
	if next != 1 {
		t.Fatalf("next = %d, want 1", next)
	}
	for i, n := range nonces {
		if n != next+types.Nonce(i) {
			t.Fatalf("nonce keys not contiguous: %v", nonces)
		}
	}
}

func TestMarkDeadInBlock_RevertsToReceived(t *testing.T) {
	tbl := NewTable()
	item := normalItem(3, 1, 0)
	tbl.AddCommit(item, okVerifier, time.Now(), 0, 1, 1)
	block := types.BlockHash{4}
	tbl.CommitInBlock(3, block, item.Hash(), 0)

	tbl.MarkDeadInBlock(block, item.Hash())
	entry := tbl.Lookup(item.Hash())
	if entry.Status != StatusReceived {
		t.Errorf("status = %v, want received", entry.Status)
	}
	if len(entry.Blocks) != 0 {
		t.Error("block association not dropped")
	}
}

func TestPurge_DropsOnlyStaleUncommitted(t *testing.T) {
	tbl := NewTable()
	now := time.Now()

	stale := normalItem(5, 1, 0)
	tbl.AddCommit(stale, okVerifier, now.Add(-time.Hour), 3, 1, 1)

	fresh := normalItem(5, 2, 0)
	tbl.AddCommit(fresh, okVerifier, now, 3, 1, 1)

	committed := normalItem(5, 3, 0)
	tbl.AddCommit(committed, okVerifier, now.Add(-time.Hour), 3, 1, 1)
	tbl.CommitInBlock(20, types.BlockHash{8}, committed.Hash(), 0)

	dropped := tbl.Purge(now, 10, 10*time.Minute)
	if len(dropped) != 1 || dropped[0] != stale.Hash() {
		t.Fatalf("dropped = %v, want only the stale item", dropped)
	}
	if tbl.Lookup(fresh.Hash()) == nil {
		t.Error("fresh item purged")
	}
	if tbl.Lookup(committed.Hash()) == nil {
		t.Error("committed item purged")
	}
	if tbl.InsertionsSincePurge() != 0 {
		t.Error("purge did not reset the insertion counter")
	}
}

func TestGetAccountNonFinalized_OrderedFromNonce(t *testing.T) {
	tbl := NewTable()
	for n := types.Nonce(1); n <= 3; n++ {
		tbl.AddCommit(normalItem(6, n, 0), okVerifier, time.Now(), 0, 1, 1)
	}
	groups := tbl.GetAccountNonFinalized(types.AccountAddress{6}, 2)
	if len(groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(groups))
	}
}

func TestPendingTable_ForwardRewind(t *testing.T) {
	p := NewPendingTable()
	sender := types.AccountAddress{7}
	p.AddTransaction(sender, 3, 3)
	p.AddTransaction(sender, 4, 3)

	items := []*types.BlockItem{normalItem(7, 3, 0)}
	p.ForwardBlock(items)
	next, high, ok := p.PendingWindow(sender)
	if !ok || next != 4 || high != 4 {
		t.Fatalf("after forward: next=%d high=%d ok=%v", next, high, ok)
	}

	p.RewindBlock(items)
	next, high, ok = p.PendingWindow(sender)
	if !ok || next != 3 || high != 4 {
		t.Fatalf("after rewind: next=%d high=%d ok=%v", next, high, ok)
	}

	p.ForwardBlock([]*types.BlockItem{normalItem(7, 3, 0), normalItem(7, 4, 0)})
	if _, _, ok := p.PendingWindow(sender); ok {
		t.Error("window should be empty after committing everything")
	}
}
