// Copyright 2025 Certen Protocol
//
// Protocol update / regenesis tests

package consensus

import (
	"crypto/sha256"
	"testing"
	"time"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/certen/permissioned-node/pkg/store"
	"github.com/certen/permissioned-node/pkg/types"
)

// protocolUpdateItem builds a governance-signed protocol update effective at the
// given slot's time.
func (h *harness) protocolUpdateItem(seq types.UpdateSequenceNumber, effectiveSlot types.Slot) *types.BlockItem {
	genesisCore := testGenesisCore()
	u := &types.ChainUpdate{
		UpdateType:     types.UpdateProtocol,
		SequenceNumber: seq,
		EffectiveTime:  genesisCore.SlotTime(effectiveSlot),
		Timeout:        genesisCore.SlotTime(effectiveSlot) - 1,
		Payload:        EncodeProtocolUpdatePayload(ProtocolUpdatePayload{TargetVersion: types.ProtocolVersion3}),
	}
	u.Signatures = []types.AccountSignature{{KeyIndex: 0, Signature: h.govKey.Sign(u.SigningBytes())}}
	return types.NewUpdate(u)
}

// S5: the protocol update finalizes, the terminal block crosses the
// effective time, consensus shuts down and a deterministic regenesis is
// staged.
func TestProtocolUpdateRegenesis(t *testing.T) {
	h := newHarness(t)
	h.advanceClock(time.Second)
	gd := h.c.Tree().GenesisData()

	b1 := h.makeBlock(h.c.Tree().Genesis(), 1, []*types.BlockItem{h.protocolUpdateItem(1, 30)})
	if res := h.receive(b1); res != types.ResultSuccess {
		t.Fatalf("b1: %v", res)
	}
	if res := h.finalizeBlock(1, b1.Hash()); res != types.ResultSuccess {
		t.Fatalf("finalize b1: %v", res)
	}
	// Effective time not crossed yet: reception still open.
	if h.c.IsShutDown() {
		t.Fatal("shut down before the effective time")
	}

	b2 := h.makeBlock(h.c.Tree().Pointer(b1.Hash()), 30, nil)
	if res := h.receive(b2); res != types.ResultSuccess {
		t.Fatalf("b2: %v", res)
	}
	terminalUpdatedNonce := h.c.Tree().Pointer(b2.Hash()).State.SeedState().UpdatedNonce
	if res := h.finalizeBlock(2, b2.Hash()); res != types.ResultSuccess {
		t.Fatalf("finalize b2: %v", res)
	}

	if !h.c.IsShutDown() {
		t.Fatal("not shut down after terminal block finalized")
	}
	// Receives are refused during shut-down.
	b3 := h.makeBlock(h.c.Tree().Pointer(b2.Hash()), 31, nil)
	if res := h.receive(b3); res != types.ResultConsensusShutDown {
		t.Errorf("receive during shutdown = %v, want ConsensusShutDown", res)
	}
	data, _ := h.transferItem(1, 1).Serialize()
	if res := h.c.ReceiveTransaction(data); res != types.ResultConsensusShutDown {
		t.Errorf("transaction during shutdown = %v, want ConsensusShutDown", res)
	}

	next, nextState, ok := h.c.NextEra()
	if !ok {
		t.Fatal("no regenesis staged")
	}
	if len(h.regenesis) != 1 || h.regenesis[0] != next.Hash() {
		t.Errorf("regenesis callback fired %d times", len(h.regenesis))
	}

	// Genesis identifiers per the regenesis rules.
	if next.FirstGenesis != gd.Hash() {
		t.Errorf("firstGenesis = %s, want initial genesis %s", next.FirstGenesis, gd.Hash())
	}
	if next.PreviousGenesis != gd.Hash() {
		t.Errorf("previousGenesis = %s, want %s", next.PreviousGenesis, gd.Hash())
	}
	if next.TerminalBlock != b2.Hash() {
		t.Errorf("terminalBlock = %s, want %s", next.TerminalBlock, b2.Hash())
	}
	if next.StartingHeight != h.c.Tree().LastFinalized().Height+1 {
		t.Errorf("startingHeight = %d", next.StartingHeight)
	}
	if next.ProtocolVersion != types.ProtocolVersion3 {
		t.Errorf("protocol version = %d, want 3", next.ProtocolVersion)
	}
	genesisCore := testGenesisCore()
	if next.Core.GenesisTime != genesisCore.SlotTime(30) {
		t.Errorf("new genesis time = %d, want terminal slot time", next.Core.GenesisTime)
	}
	// Carried-forward core parameters.
	if next.Core.SlotDuration != gd.Core.SlotDuration || next.Core.EpochLength != gd.Core.EpochLength ||
		next.Core.MaxBlockEnergy != gd.Core.MaxBlockEnergy {
		t.Error("core parameters not carried forward")
	}

	// Seed re-keying: SHA256("Regenesis" || prior updatedNonce).
	wantSeed := sha256.Sum256(append([]byte("Regenesis"), terminalUpdatedNonce[:]...))
	seed := nextState.SeedState()
	if seed.LeadershipElectionNonce != wantSeed || seed.UpdatedNonce != wantSeed {
		t.Error("seed not re-keyed per the regenesis rule")
	}
	if seed.Epoch != 0 {
		t.Errorf("new era epoch = %d, want 0", seed.Epoch)
	}

	// Update queue cleared, baker set carried over.
	if nextState.Updates().PendingProtocolUpdate != nil {
		t.Error("pending protocol update survived regenesis")
	}
	terminalState := h.c.Tree().Pointer(b2.Hash()).State
	if len(nextState.GetSlotBakers(0).Bakers) != len(terminalState.GetSlotBakers(0).Bakers) {
		t.Error("baker set changed across regenesis")
	}

	// The staged era boots a working coordinator.
	st2, err := store.NewWithDB(t.TempDir(), 1, dbm.NewMemDB())
	if err != nil {
		t.Fatalf("era-1 store: %v", err)
	}
	defer st2.Close()
	era1, err := h.c.StartNextEra(st2, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("start next era: %v", err)
	}
	if era1.Tree().GenesisIndex() != 1 {
		t.Errorf("era index = %d, want 1", era1.Tree().GenesisIndex())
	}
	if era1.Tree().Genesis().Height != next.StartingHeight {
		t.Errorf("era-1 genesis height = %d, want %d", era1.Tree().Genesis().Height, next.StartingHeight)
	}
}

// Regenesis determinism: two nodes at the same terminal block stage
// byte-identical genesis records.
func TestRegenesisDeterminism(t *testing.T) {
	run := func() types.BlockHash {
		h := newHarness(t)
		h.advanceClock(time.Second)
		b1 := h.makeBlock(h.c.Tree().Genesis(), 1, []*types.BlockItem{h.protocolUpdateItem(1, 30)})
		if res := h.receive(b1); res != types.ResultSuccess {
			t.Fatalf("b1: %v", res)
		}
		if res := h.finalizeBlock(1, b1.Hash()); res != types.ResultSuccess {
			t.Fatalf("finalize b1: %v", res)
		}
		b2 := h.makeBlock(h.c.Tree().Pointer(b1.Hash()), 30, nil)
		if res := h.receive(b2); res != types.ResultSuccess {
			t.Fatalf("b2: %v", res)
		}
		if res := h.finalizeBlock(2, b2.Hash()); res != types.ResultSuccess {
			t.Fatalf("finalize b2: %v", res)
		}
		next, _, ok := h.c.NextEra()
		if !ok {
			t.Fatal("no regenesis staged")
		}
		return next.Hash()
	}
	if run() != run() {
		t.Error("regenesis is not deterministic across nodes")
	}
}
