// Copyright 2025 Certen Protocol
//
// Consensus coordinator tests
//
// The harness runs a full single-baker chain against an in-memory store:
// blocks are built the way the baker builds them, signed with real keys,
// and finalization records carry real BLS aggregates, so the pipeline under
// test is the production path end to end.

package consensus

import (
	"crypto/sha256"
	"testing"
	"time"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/certen/permissioned-node/pkg/blockstate"
	"github.com/certen/permissioned-node/pkg/crypto"
	"github.com/certen/permissioned-node/pkg/crypto/bls"
	"github.com/certen/permissioned-node/pkg/scheduler"
	"github.com/certen/permissioned-node/pkg/store"
	"github.com/certen/permissioned-node/pkg/tree"
	"github.com/certen/permissioned-node/pkg/txtable"
	"github.com/certen/permissioned-node/pkg/types"
)

// bounceEngine mirrors the scheduler test engine: received amounts bounce
// back to the invoker.
type bounceEngine struct{}

func (bounceEngine) Init(_ *blockstate.Module, _ string, _ []byte, _ types.Amount, _ types.AccountAddress) (*scheduler.InitResult, error) {
	return &scheduler.InitResult{State: []byte("init"), EnergyUsed: 10}, nil
}

func (bounceEngine) Receive(_ *blockstate.Module, _ *blockstate.Instance, _ string, _ []byte, amount types.Amount, invoker types.AccountAddress) (*scheduler.ReceiveResult, error) {
	return &scheduler.ReceiveResult{
		NewState:   []byte("updated"),
		Transfers:  []scheduler.OutgoingTransfer{{To: invoker, Amount: amount}},
		EnergyUsed: 20,
	}, nil
}

type harness struct {
	t *testing.T
	c *Consensus

	accountKey  *crypto.SignKey
	account     types.AccountAddress
	signKey     *crypto.SignKey
	electionKey *crypto.SignKey
	blsKey      *bls.PrivateKey

	govKey *crypto.SignKey

	clock time.Time

	pendingLive []types.BlockHash
	finalized   []types.BlockHash
	regenesis   []types.BlockHash
}

const (
	testGenesisTime  = types.Timestamp(1_700_000_000_000)
	testSlotDuration = types.Duration(1000)
	testEpochLength  = uint64(1000)
)

func testGenesisCore() types.GenesisCore {
	return types.GenesisCore{
		GenesisTime:               testGenesisTime,
		SlotDuration:              testSlotDuration,
		EpochLength:               testEpochLength,
		MaxBlockEnergy:            3_000_000,
		FinalizationCommitteeSize: 1,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:           t,
		accountKey:  crypto.SignKeyFromSeed([]byte("harness:account")),
		signKey:     crypto.SignKeyFromSeed([]byte("harness:baker-sign")),
		electionKey: crypto.SignKeyFromSeed([]byte("harness:baker-elect")),
		govKey:      crypto.SignKeyFromSeed([]byte("harness:governance")),
		clock:       testGenesisTime.Time(),
	}
	blsPriv, _, err := bls.KeyPairFromSeed([]byte("harness:bls-aggregation-key-seed"))
	if err != nil {
		t.Fatalf("bls keys: %v", err)
	}
	h.blsKey = blsPriv

	core := testGenesisCore()
	state := blockstate.NewState(types.ProtocolVersion2, core, sha256.Sum256([]byte("genesis-seed")),
		blockstate.UpdateKeyCollection{Level2Keys: [][]byte{h.govKey.Public()}, Level2Threshold: 1})
	state.SetParameters(blockstate.ChainParameters{
		ElectionDifficultyPPHT: 100000, // difficulty 1: the single baker always leads
		MinimumBakerStake:      1,
	})

	account, err := state.CreateAccount(blockstate.Credential{RegID: types.CredentialRegID{0x01}}, h.accountKey.Public(), 0)
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	h.account = account.Address
	if err := state.Mint(account.Address, 1_000_000_000); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := state.ModifyAccount(account.Address, func(a *blockstate.Account) error {
		a.Baker = &blockstate.BakerInfo{
			ID:             0,
			SignKey:        h.signKey.Public(),
			ElectionKey:    h.electionKey.Public(),
			AggregationKey: h.blsKey.PublicKey().Bytes(),
			Stake:          400_000_000,
		}
		return nil
	}); err != nil {
		t.Fatalf("register baker: %v", err)
	}
	stateHash := state.Freeze()

	gd := &types.GenesisData{Core: core, ProtocolVersion: types.ProtocolVersion2, StateHash: stateHash}

	st, err := store.NewWithDB(t.TempDir(), 0, dbm.NewMemDB())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	hooks := Callbacks{
		OnPendingLive: func(hash types.BlockHash) { h.pendingLive = append(h.pendingLive, hash) },
		OnFinalized:   func(_ *types.FinalizationRecord, lfb types.BlockHash) { h.finalized = append(h.finalized, lfb) },
		OnRegenesis:   func(g types.BlockHash) { h.regenesis = append(h.regenesis, g) },
	}
	c, err := New(0, gd, state, st, bounceEngine{}, BLSOracle{}, hooks, Options{
		MaxBlockSize:          4 * 1024 * 1024,
		EarlyBlockThreshold:   24 * time.Hour,
		InsertionsBeforePurge: 1000,
		KeepAlive:             time.Hour,
	}, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("new consensus: %v", err)
	}
	c.SetClock(func() time.Time { return h.clock })
	h.c = c
	return h
}

// makeBlock builds a correctly signed block on an explicit parent, running
// the same execution the receiver will replay to derive the claimed hashes.
func (h *harness) makeBlock(parent *tree.BlockPointer, slot types.Slot, items []*types.BlockItem) *types.BakedBlock {
	h.t.Helper()
	seed := parent.State.SeedState()
	proof := crypto.MakeLeadershipProof(h.electionKey, seed.LeadershipElectionNonce[:], uint64(slot))
	blockNonce := crypto.MakeBlockNonce(h.electionKey, seed.LeadershipElectionNonce[:], uint64(slot))

	state, err := parent.State.Thaw()
	if err != nil {
		h.t.Fatalf("thaw: %v", err)
	}
	state.SetSeedState(seed.UpdateWith(slot, crypto.BlockNonceOutput(blockNonce)))
	genesisCore := testGenesisCore()
	execRes, err := scheduler.ExecuteItems(&scheduler.BlockContext{
		State:          state,
		SlotTime:       genesisCore.SlotTime(slot),
		MaxBlockEnergy: genesisCore.MaxBlockEnergy,
		Engine:         bounceEngine{},
	}, items)
	if err != nil {
		h.t.Fatalf("bake execution: %v", err)
	}

	block := &types.BakedBlock{
		Slot:          slot,
		Parent:        parent.Hash,
		Baker:         0,
		BakerKey:      h.signKey.Public(),
		Proof:         proof,
		BlockNonce:    blockNonce,
		LastFinalized: h.c.Tree().LastFinalized().Hash,
		Items:         items,
		StateHash:     state.Freeze(),
		OutcomesHash:  execRes.OutcomesHash,
	}
	block.Signature = h.signKey.Sign(block.SigningBytes())
	return block
}

// receive sends a serialized block through the two-phase pipeline.
func (h *harness) receive(block *types.BakedBlock) types.UpdateResult {
	data, err := block.Serialize()
	if err != nil {
		h.t.Fatalf("serialize block: %v", err)
	}
	res, cont := h.c.ReceiveBlock(0, data)
	if cont != nil {
		return h.c.ExecuteBlock(cont)
	}
	return res
}

// record builds a valid finalization record for the block.
func (h *harness) record(index types.FinalizationIndex, hash types.BlockHash) *types.FinalizationRecord {
	rec := &types.FinalizationRecord{Index: index, BlockHash: hash}
	sig := h.blsKey.Sign(rec.SigningBytes(), bls.DomainFinalization)
	rec.Proof = types.FinalizationProof{SignerIndices: []uint32{0}, AggregateSignature: sig.Bytes()}
	return rec
}

func (h *harness) finalizeBlock(index types.FinalizationIndex, hash types.BlockHash) types.UpdateResult {
	rec := h.record(index, hash)
	data, err := rec.Serialize()
	if err != nil {
		h.t.Fatalf("serialize record: %v", err)
	}
	return h.c.ReceiveFinalizationRecord(0, data)
}

// transferItem builds a signed self-transfer from the funded account.
func (h *harness) transferItem(nonce types.Nonce, amount types.Amount) *types.BlockItem {
	tx := &types.NormalTransaction{
		Sender:  h.account,
		Nonce:   nonce,
		Energy:  100_000,
		Expiry:  testGenesisTime.AddDuration(types.Duration(time.Hour / time.Millisecond)),
		Payload: scheduler.MustEncodePayload(scheduler.PayloadTransfer, &scheduler.Transfer{To: h.account, Amount: amount}),
	}
	tx.Signatures = []types.AccountSignature{{KeyIndex: 0, Signature: h.accountKey.Sign(tx.SigningBytes())}}
	return types.NewNormal(tx)
}

func (h *harness) assertInvariants() {
	h.t.Helper()
	if err := h.c.CheckTreeInvariants(); err != nil {
		h.t.Fatalf("%v", err)
	}
}

func (h *harness) advanceClock(d time.Duration) { h.clock = h.clock.Add(d) }

// ====== Tests ======

func TestReceiveBlock_LifecycleAndDuplicate(t *testing.T) {
	h := newHarness(t)
	h.advanceClock(2 * time.Second)

	block := h.makeBlock(h.c.Tree().Genesis(), 1, []*types.BlockItem{h.transferItem(1, 100)})
	if res := h.receive(block); res != types.ResultSuccess {
		t.Fatalf("receive = %v, want Success", res)
	}
	if got := h.c.Tree().Status(block.Hash()); got != tree.StatusAlive {
		t.Fatalf("status = %v, want alive", got)
	}
	h.assertInvariants()

	if res := h.receive(block); res != types.ResultDuplicate {
		t.Errorf("second receive = %v, want Duplicate", res)
	}
	entry := h.c.Tree().Transactions.Lookup(block.Items[0].Hash())
	if entry == nil || entry.Status != txtable.StatusCommitted {
		t.Error("block transaction not committed in table")
	}
}

func TestReceiveBlock_InvalidGenesisIndexAndEarly(t *testing.T) {
	h := newHarness(t)
	h.advanceClock(2 * time.Second)
	block := h.makeBlock(h.c.Tree().Genesis(), 1, nil)
	data, _ := block.Serialize()

	if res, _ := h.c.ReceiveBlock(7, data); res != types.ResultInvalidGenesisIndex {
		t.Errorf("wrong era = %v, want InvalidGenesisIndex", res)
	}

	// A block whose slot time is beyond now + threshold is early, and is
	// not marked dead: it can come back.
	early := h.makeBlock(h.c.Tree().Genesis(), types.Slot(24*3600*2), nil)
	if res := h.receive(early); res != types.ResultEarlyBlock {
		t.Errorf("early block = %v, want EarlyBlock", res)
	}
	if got := h.c.Tree().Status(early.Hash()); got != tree.StatusUnknown {
		t.Errorf("early block status = %v, want unknown", got)
	}
}

func TestReceiveBlock_BadSignatureInvalid(t *testing.T) {
	h := newHarness(t)
	h.advanceClock(2 * time.Second)
	block := h.makeBlock(h.c.Tree().Genesis(), 1, nil)
	block.Signature = h.accountKey.Sign(block.SigningBytes()) // wrong key
	if res := h.receive(block); res != types.ResultInvalid {
		t.Fatalf("receive = %v, want Invalid", res)
	}
	if got := h.c.Tree().Status(block.Hash()); got != tree.StatusDead {
		t.Errorf("status = %v, want dead", got)
	}
}

func TestReceiveBlock_ClaimedHashMismatchInvalid(t *testing.T) {
	h := newHarness(t)
	h.advanceClock(2 * time.Second)
	block := h.makeBlock(h.c.Tree().Genesis(), 1, []*types.BlockItem{h.transferItem(1, 5)})
	block.StateHash = types.StateHash{0xde, 0xad}
	block.Signature = h.signKey.Sign(block.SigningBytes())
	if res := h.receive(block); res != types.ResultInvalid {
		t.Fatalf("receive = %v, want Invalid", res)
	}
	if got := h.c.Tree().Status(block.Hash()); got != tree.StatusDead {
		t.Errorf("status = %v, want dead", got)
	}
}

// S4: a block received before its parent queues as pending and promotes
// through the full live-parent path when the parent arrives.
func TestPendingBlockResolution(t *testing.T) {
	h := newHarness(t)
	h.advanceClock(5 * time.Second)

	// Bake parent and child up front on one chain, then replay them out of
	// order into a fresh instance.
	parent := h.makeBlock(h.c.Tree().Genesis(), 1, nil)
	if res := h.receive(parent); res != types.ResultSuccess {
		t.Fatalf("parent pre-bake failed: %v", res)
	}
	child := h.makeBlock(h.c.Tree().Pointer(parent.Hash()), 2, nil)

	// Fresh harness to replay out of order.
	h2 := newHarness(t)
	h2.advanceClock(5 * time.Second)

	if res := h2.receive(child); res != types.ResultPendingBlock {
		t.Fatalf("child = %v, want PendingBlock", res)
	}
	if got := h2.c.Tree().Status(child.Hash()); got != tree.StatusPending {
		t.Fatalf("child status = %v, want pending", got)
	}

	if res := h2.receive(parent); res != types.ResultSuccess {
		t.Fatalf("parent = %v, want Success", res)
	}
	if got := h2.c.Tree().Status(child.Hash()); got != tree.StatusAlive {
		t.Errorf("child status = %v, want alive after promotion", got)
	}
	if len(h2.pendingLive) != 1 || h2.pendingLive[0] != child.Hash() {
		t.Errorf("onPendingLive fired %d times (%v), want exactly once for the child", len(h2.pendingLive), h2.pendingLive)
	}
	h2.assertInvariants()
}

// S3: two alive siblings; finalizing one sibling's descendant kills the
// other branch and empties the pruned layers.
func TestForkThenPrune(t *testing.T) {
	h := newHarness(t)
	h.advanceClock(10 * time.Second)

	g := h.c.Tree().Genesis()
	p := h.makeBlock(g, 1, nil)
	if res := h.receive(p); res != types.ResultSuccess {
		t.Fatalf("p: %v", res)
	}
	pPtr := h.c.Tree().Pointer(p.Hash())

	x := h.makeBlock(pPtr, 2, nil)
	y := h.makeBlock(pPtr, 3, []*types.BlockItem{h.transferItem(1, 42)})
	if res := h.receive(x); res != types.ResultSuccess {
		t.Fatalf("x: %v", res)
	}
	if res := h.receive(y); res != types.ResultSuccess {
		t.Fatalf("y: %v", res)
	}
	x2 := h.makeBlock(h.c.Tree().Pointer(x.Hash()), 4, nil)
	if res := h.receive(x2); res != types.ResultSuccess {
		t.Fatalf("x2: %v", res)
	}
	h.assertInvariants()

	if res := h.finalizeBlock(1, x2.Hash()); res != types.ResultSuccess {
		t.Fatalf("finalize = %v, want Success", res)
	}

	wantFinalized := []types.BlockHash{p.Hash(), x.Hash(), x2.Hash()}
	for _, hash := range wantFinalized {
		if got := h.c.Tree().Status(hash); got != tree.StatusFinalized {
			t.Errorf("status(%s) = %v, want finalized", hash, got)
		}
	}
	if got := h.c.Tree().Status(y.Hash()); got != tree.StatusDead {
		t.Errorf("fork loser status = %v, want dead", got)
	}
	if n := h.c.Tree().AliveCount(); n != 0 {
		t.Errorf("alive blocks after prune = %d, want 0", n)
	}
	if lfb := h.c.Tree().LastFinalized(); lfb.Hash != x2.Hash() {
		t.Errorf("LFB = %s, want %s", lfb.Hash, x2.Hash())
	}
	h.assertInvariants()
}

// S6: the same record twice: first succeeds, second is a duplicate and
// leaves the tree untouched.
func TestDuplicateFinalizationRecord(t *testing.T) {
	h := newHarness(t)
	h.advanceClock(5 * time.Second)

	b := h.makeBlock(h.c.Tree().Genesis(), 1, nil)
	if res := h.receive(b); res != types.ResultSuccess {
		t.Fatalf("receive: %v", res)
	}
	if res := h.finalizeBlock(1, b.Hash()); res != types.ResultSuccess {
		t.Fatalf("first finalize = %v, want Success", res)
	}
	heightBefore := h.c.Tree().LastFinalized().Height
	listBefore := len(h.c.Tree().FinalizationList())

	if res := h.finalizeBlock(1, b.Hash()); res != types.ResultDuplicate {
		t.Fatalf("second finalize = %v, want Duplicate", res)
	}
	if h.c.Tree().LastFinalized().Height != heightBefore || len(h.c.Tree().FinalizationList()) != listBefore {
		t.Error("duplicate record changed the tree")
	}
	h.assertInvariants()
}

// S2: two transactions race on one nonce; finalizing the block holding the
// first drops the second and advances the nonce index.
func TestNonceRace(t *testing.T) {
	h := newHarness(t)
	h.advanceClock(5 * time.Second)

	first := h.transferItem(1, 10)
	second := h.transferItem(1, 20)

	firstData, _ := first.Serialize()
	secondData, _ := second.Serialize()
	if res := h.c.ReceiveTransaction(firstData); res != types.ResultSuccess {
		t.Fatalf("first tx: %v", res)
	}
	if res := h.c.ReceiveTransaction(secondData); res != types.ResultSuccess {
		t.Fatalf("competing tx: %v", res)
	}

	block := h.makeBlock(h.c.Tree().Genesis(), 1, []*types.BlockItem{first})
	if res := h.receive(block); res != types.ResultSuccess {
		t.Fatalf("receive: %v", res)
	}
	if res := h.finalizeBlock(1, block.Hash()); res != types.ResultSuccess {
		t.Fatalf("finalize: %v", res)
	}

	if entry := h.c.Tree().Transactions.Lookup(second.Hash()); entry != nil {
		t.Error("losing transaction still in table after finalization")
	}
	won := h.c.Tree().Transactions.Lookup(first.Hash())
	if won == nil || won.Status != txtable.StatusFinalized {
		t.Fatal("winning transaction not finalized")
	}
	lfbState := h.c.Tree().LastFinalized().State
	if next := h.c.Tree().Transactions.NextAccountNonce(h.account, 2); next != 2 {
		t.Errorf("next nonce = %d, want 2", next)
	}
	if acct, _ := lfbState.GetAccount(h.account); acct.NextNonce != 2 {
		t.Errorf("state nonce = %d, want 2", acct.NextNonce)
	}
	h.assertInvariants()
}

func TestReceiveTransaction_NonceGapTooLarge(t *testing.T) {
	h := newHarness(t)
	h.advanceClock(time.Second)
	gap := h.transferItem(5, 1)
	data, _ := gap.Serialize()
	if res := h.c.ReceiveTransaction(data); res != types.ResultNonceTooLarge {
		t.Errorf("gap nonce = %v, want NonceTooLarge", res)
	}
}

func TestPendingFinalizationRecordDrains(t *testing.T) {
	h := newHarness(t)
	h.advanceClock(10 * time.Second)

	b1 := h.makeBlock(h.c.Tree().Genesis(), 1, nil)
	if res := h.receive(b1); res != types.ResultSuccess {
		t.Fatalf("b1: %v", res)
	}
	b2 := h.makeBlock(h.c.Tree().Pointer(b1.Hash()), 2, nil)
	if res := h.receive(b2); res != types.ResultSuccess {
		t.Fatalf("b2: %v", res)
	}

	// Record for index 2 arrives before index 1: staged, then drained.
	if res := h.finalizeBlock(2, b2.Hash()); res != types.ResultPendingFinalization {
		t.Fatalf("future record = %v, want PendingFinalization", res)
	}
	if res := h.finalizeBlock(1, b1.Hash()); res != types.ResultSuccess {
		t.Fatalf("in-order record = %v, want Success", res)
	}
	if lfb := h.c.Tree().LastFinalized(); lfb.Hash != b2.Hash() {
		t.Errorf("LFB = %s, want %s after drain", lfb.Hash, b2.Hash())
	}
	h.assertInvariants()
}

func TestCatchUpStatus(t *testing.T) {
	h := newHarness(t)
	h.advanceClock(5 * time.Second)
	b := h.makeBlock(h.c.Tree().Genesis(), 1, nil)
	if res := h.receive(b); res != types.ResultSuccess {
		t.Fatalf("receive: %v", res)
	}
	if res := h.finalizeBlock(1, b.Hash()); res != types.ResultSuccess {
		t.Fatalf("finalize: %v", res)
	}

	// A peer at genesis requests catch-up: it gets our finalized block and
	// record as direct messages.
	peer := h.c.OurCatchUpStatus(true)
	peer.LastFinalizedHeight = 0
	peer.BestBlocks = nil
	body, _ := peer.Serialize()

	var sent [][]byte
	res := h.c.ReceiveCatchUpStatus(body, func(data []byte) { sent = append(sent, data) })
	if res != types.ResultSuccess {
		t.Fatalf("catch-up = %v, want Success", res)
	}
	if len(sent) < 2 {
		t.Fatalf("sent %d messages, want block + record", len(sent))
	}

	// A status showing the peer ahead of us asks to continue.
	aheadStatus := h.c.OurCatchUpStatus(false)
	aheadStatus.LastFinalizedHeight = 99
	body, _ = aheadStatus.Serialize()
	if res := h.c.ReceiveCatchUpStatus(body, nil); res != types.ResultContinueCatchUp {
		t.Errorf("behind peer = %v, want ContinueCatchUp", res)
	}
}
