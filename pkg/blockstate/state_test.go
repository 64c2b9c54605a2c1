// Copyright 2025 Certen Protocol
//
// Block state tests

package blockstate

import (
	"testing"

	"github.com/certen/permissioned-node/pkg/types"
)

func testCore() types.GenesisCore {
	return types.GenesisCore{
		GenesisTime:    1000000,
		SlotDuration:   1000,
		EpochLength:    30,
		MaxBlockEnergy: 3000000,
	}
}

func testState(t *testing.T) (*State, types.AccountAddress) {
	t.Helper()
	s := NewState(types.ProtocolVersion1, testCore(), [32]byte{1}, UpdateKeyCollection{})
	cred := Credential{RegID: types.CredentialRegID{1, 2, 3}}
	a, err := s.CreateAccount(cred, []byte("verify-key-material-32-bytes!!!!"), 0)
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if err := s.Mint(a.Address, 1000); err != nil {
		t.Fatalf("mint: %v", err)
	}
	return s, a.Address
}

func TestCreateAccount_DuplicateRegID(t *testing.T) {
	s, _ := testState(t)
	_, err := s.CreateAccount(Credential{RegID: types.CredentialRegID{1, 2, 3}}, []byte("k"), 0)
	if err != ErrDuplicateRegID {
		t.Errorf("expected ErrDuplicateRegID, got %v", err)
	}
}

func TestFreezeThaw_HashStableWithoutMutation(t *testing.T) {
	s, _ := testState(t)
	h1 := s.Freeze()

	child, err := s.Thaw()
	if err != nil {
		t.Fatalf("thaw: %v", err)
	}
	h2 := child.Freeze()
	if h1 != h2 {
		t.Errorf("freeze(thaw(S)) hash changed: %x vs %x", h1, h2)
	}
}

func TestThaw_CopyOnWriteIsolation(t *testing.T) {
	s, addr := testState(t)
	s.Freeze()

	child, err := s.Thaw()
	if err != nil {
		t.Fatalf("thaw: %v", err)
	}
	if err := child.ModifyAccount(addr, func(a *Account) error {
		a.Balance += 500
		return nil
	}); err != nil {
		t.Fatalf("modify: %v", err)
	}

	parent, _ := s.GetAccount(addr)
	if parent.Balance != 1000 {
		t.Errorf("parent mutated through child: balance %d", parent.Balance)
	}
	mutated, _ := child.GetAccount(addr)
	if mutated.Balance != 1500 {
		t.Errorf("child mutation lost: balance %d", mutated.Balance)
	}

	h1 := s.Freeze()
	h2 := child.Freeze()
	if h1 == h2 {
		t.Error("distinct states hash equally")
	}
}

func TestMutationAfterFreezeRejected(t *testing.T) {
	s, addr := testState(t)
	s.Freeze()
	err := s.ModifyAccount(addr, func(a *Account) error { a.Balance = 0; return nil })
	if err != ErrFrozen {
		t.Errorf("expected ErrFrozen, got %v", err)
	}
}

func TestTotalBalances_MatchesRecordedSupply(t *testing.T) {
	s, addr := testState(t)
	if err := s.ModifyRewards(func(r *RewardAccounts) { r.GASAccount = 30 }); err != nil {
		t.Fatalf("rewards: %v", err)
	}
	s.totalGTU += 30
	if err := s.ModifyAccount(addr, func(a *Account) error {
		a.Balance -= 100
		return nil
	}); err != nil {
		t.Fatalf("modify: %v", err)
	}
	s.PutModule(&Module{Ref: types.ModuleRef{9}, Artifact: []byte{0}, Size: 1})
	inst, err := s.CreateInstance(addr, types.ModuleRef{9}, "init_c", nil, 100)
	if err != nil {
		t.Fatalf("instance: %v", err)
	}
	if inst.Address.Index != 0 {
		t.Errorf("first instance index = %d", inst.Address.Index)
	}
	if got, want := s.TotalBalances(), s.TotalGTU(); got != want {
		t.Errorf("total balances %d != recorded supply %d", got, want)
	}
}

func TestSeedState_EpochRotation(t *testing.T) {
	seed := InitialSeedState([32]byte{7}, 10)
	in := seed.UpdateWith(3, [32]byte{1})
	if in.Epoch != 0 {
		t.Errorf("unexpected rotation at slot 3: epoch %d", in.Epoch)
	}
	if in.UpdatedNonce == seed.UpdatedNonce {
		t.Error("early-epoch nonce not folded in")
	}

	// Last third of the epoch must not feed the beacon.
	late := seed.UpdateWith(8, [32]byte{2})
	if late.UpdatedNonce != seed.UpdatedNonce {
		t.Error("late-epoch nonce fed the beacon")
	}

	crossed := in.UpdateWith(25, [32]byte{3})
	if crossed.Epoch != 2 {
		t.Errorf("epoch after slot 25 = %d, want 2", crossed.Epoch)
	}
	if crossed.LeadershipElectionNonce == in.LeadershipElectionNonce {
		t.Error("leadership nonce did not rotate")
	}
}

func TestSeedState_PredictableNonce(t *testing.T) {
	seed := InitialSeedState([32]byte{7}, 10)
	if _, ok := seed.PredictableNonceAt(5, 2); !ok {
		t.Error("same-epoch nonce should be predictable")
	}
	if _, ok := seed.PredictableNonceAt(15, 2); ok {
		t.Error("cross-epoch nonce should not be predictable")
	}
}

func TestGetDefiniteSlotBakers_IndefiniteUnderPendingUpdate(t *testing.T) {
	s, _ := testState(t)
	if _, ok := s.GetDefiniteSlotBakers(5); !ok {
		t.Fatal("expected definite answer with empty queues")
	}
	core := testCore()
	s.Updates().Enqueue(types.UpdateProtocol, QueuedUpdate{
		SequenceNumber: 1,
		EffectiveTime:  core.SlotTime(3),
	})
	if _, ok := s.GetDefiniteSlotBakers(5); ok {
		t.Error("expected indefinite answer with queued protocol update")
	}
}

func TestRegenesisMigration_Deterministic(t *testing.T) {
	build := func() types.StateHash {
		s, addr := testState(t)
		if err := s.ModifyAccount(addr, func(a *Account) error {
			a.Baker = &BakerInfo{ID: 1, Stake: 400, SignKey: []byte("sk"), ElectionKey: []byte("ek"), AggregationKey: []byte("ak")}
			return nil
		}); err != nil {
			t.Fatalf("register baker: %v", err)
		}
		s.Freeze()
		next, err := MigrateForRegenesis(s, 2000000, MigrationParameters{TargetVersion: types.ProtocolVersion2})
		if err != nil {
			t.Fatalf("migrate: %v", err)
		}
		h, err := next.Hash()
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
		return h
	}
	if build() != build() {
		t.Error("regenesis migration is not deterministic")
	}
}

func TestRegenesisMigration_ReKeysSeedAndClearsQueue(t *testing.T) {
	s, _ := testState(t)
	s.Updates().Enqueue(types.UpdateElectionDifficulty, QueuedUpdate{SequenceNumber: 1, EffectiveTime: 99999999})
	prior := s.SeedState()
	s.Freeze()

	next, err := MigrateForRegenesis(s, 2000000, MigrationParameters{TargetVersion: types.ProtocolVersion2})
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	want := prior.RegenesisSeed()
	got := next.SeedState()
	if got.LeadershipElectionNonce != want.LeadershipElectionNonce {
		t.Error("seed not re-keyed per regenesis rule")
	}
	if got.Epoch != 0 {
		t.Errorf("epoch not reset: %d", got.Epoch)
	}
	if len(next.Updates().Queues[types.UpdateElectionDifficulty]) != 0 {
		t.Error("update queue survived regenesis")
	}
	if next.Updates().PendingProtocolUpdate != nil {
		t.Error("pending protocol update survived regenesis")
	}
	// Bakers of the terminal epoch serve the new era's initial epoch.
	if len(next.GetSlotBakers(0).Bakers) != len(s.GetSlotBakers(0).Bakers) {
		t.Error("baker set changed across regenesis")
	}
}

func TestArchive_DropsArtifactKeepsHash(t *testing.T) {
	s, _ := testState(t)
	s.PutModule(&Module{Ref: types.ModuleRef{5}, Artifact: []byte("wasm-bytes"), Size: 10})
	h := s.Freeze()
	s.Archive()
	if got, _ := s.Hash(); got != h {
		t.Error("archive changed the state hash")
	}
	m, err := s.GetModule(types.ModuleRef{5})
	if err != nil {
		t.Fatalf("module lookup after archive: %v", err)
	}
	if len(m.Artifact) != 0 {
		t.Error("artifact not dropped on archive")
	}
	if _, err := s.Thaw(); err != ErrArchived {
		t.Errorf("expected ErrArchived from thaw, got %v", err)
	}
}
