// Copyright 2025 Certen Protocol
//
// Receive / execute pipeline
//
// Reception is two-phase. ReceiveBlock validates as far as the parent's
// availability allows and either queues the block as pending or returns an
// execution continuation; ExecuteBlock runs the transactions and makes the
// block live. A continuation dropped without execution marks its block
// dead, so no block is left in limbo.

package consensus

import (
	"bytes"
	"time"

	"github.com/certen/permissioned-node/pkg/blockstate"
	"github.com/certen/permissioned-node/pkg/catchup"
	"github.com/certen/permissioned-node/pkg/crypto"
	"github.com/certen/permissioned-node/pkg/pending"
	"github.com/certen/permissioned-node/pkg/scheduler"
	"github.com/certen/permissioned-node/pkg/tree"
	"github.com/certen/permissioned-node/pkg/txtable"
	"github.com/certen/permissioned-node/pkg/types"
)

// ExecuteCont is the handle between the receive and execute phases. Pass it
// to ExecuteBlock or Drop it; dropping marks the block dead.
type ExecuteCont struct {
	c        *Consensus
	hash     types.BlockHash
	block    *types.BakedBlock
	recvTime time.Time
	consumed bool
}

// Drop abandons the continuation, marking the block dead if it was never
// executed.
func (ec *ExecuteCont) Drop() {
	if ec == nil || ec.consumed {
		return
	}
	ec.consumed = true
	ec.c.mu.Lock()
	defer ec.c.mu.Unlock()
	ec.c.markDeadLocked(ec.hash)
}

// HandleMessage dispatches a raw wire message.
func (c *Consensus) HandleMessage(raw []byte) types.UpdateResult {
	env, err := types.ParseEnvelope(raw)
	if err != nil {
		return types.ResultSerializationFail
	}
	switch env.Type {
	case types.MessageBlock:
		res, cont := c.ReceiveBlock(env.GenesisIndex, env.Body)
		if cont != nil {
			return c.ExecuteBlock(cont)
		}
		return res
	case types.MessageFinalization:
		return c.ReceiveFinalizationMessage(env.GenesisIndex, env.Body)
	case types.MessageFinalizationRecord:
		return c.ReceiveFinalizationRecord(env.GenesisIndex, env.Body)
	case types.MessageCatchUpStatus:
		return c.ReceiveCatchUpStatus(env.Body, nil)
	}
	return types.ResultSerializationFail
}

// ReceiveBlock runs the reception phase over a serialized block.
func (c *Consensus) ReceiveBlock(gi types.GenesisIndex, data []byte) (types.UpdateResult, *ExecuteCont) {
	recvTime := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shutdown {
		return types.ResultConsensusShutDown, nil
	}
	if gi != c.tree.GenesisIndex() {
		return types.ResultInvalidGenesisIndex, nil
	}
	if c.opts.MaxBlockSize > 0 && len(data) > c.opts.MaxBlockSize {
		return types.ResultSerializationFail, nil
	}
	block, err := types.DeserializeBakedBlock(data)
	if err != nil {
		return types.ResultSerializationFail, nil
	}
	c.metrics.BlocksReceived.Inc()

	// Blocks from too far in the future are neither accepted nor damned;
	// the peer may simply be ahead of our clock.
	if c.slotTimeOf(block.Slot).After(recvTime.Add(c.opts.EarlyBlockThreshold)) {
		return types.ResultEarlyBlock, nil
	}

	hash := block.Hash()
	if c.tree.Status(hash) != tree.StatusUnknown {
		return types.ResultDuplicate, nil
	}
	lfb := c.tree.LastFinalized()
	if block.Slot <= lfb.Slot() {
		c.markDeadLocked(hash)
		return types.ResultStale, nil
	}

	switch c.tree.Status(block.Parent) {
	case tree.StatusUnknown, tree.StatusPending:
		if !c.preflightPending(block, recvTime) {
			c.markDeadLocked(hash)
			return types.ResultInvalid, nil
		}
		c.pendingBlocks.AddPending(&pending.Block{Hash: hash, Block: block, Received: recvTime})
		c.tree.MarkPending(hash)
		c.metrics.BlocksPending.Set(float64(c.pendingBlocks.Size()))
		return types.ResultPendingBlock, nil

	case tree.StatusDead:
		return types.ResultStale, nil

	case tree.StatusAlive, tree.StatusFinalized:
		parent := c.tree.Pointer(block.Parent)
		if !c.liveParentChecks(parent, block) {
			c.markDeadLocked(hash)
			return types.ResultInvalid, nil
		}
		if !crypto.VerifySignature(block.BakerKey, block.SigningBytes(), block.Signature) {
			c.markDeadLocked(hash)
			return types.ResultInvalid, nil
		}
		return types.ResultSuccess, &ExecuteCont{c: c, hash: hash, block: block, recvTime: recvTime}
	}
	return types.ResultInvalid, nil
}

// preflightPending is the best-effort validation run when the parent is not
// live: transactions verify against the last-finalized state, the baker and
// leadership proof check when the committee and election nonce are
// predictable, and the signature must verify under the claimed key.
func (c *Consensus) preflightPending(block *types.BakedBlock, recvTime time.Time) bool {
	lfb := c.tree.LastFinalized()
	lfbState := lfb.State
	now := types.TimestampFromTime(recvTime)
	maxEnergy := c.tree.GenesisData().Core.MaxBlockEnergy

	for _, item := range block.Items {
		if c.tree.Transactions.Lookup(item.Hash()) != nil {
			continue
		}
		res := c.tree.Transactions.AddCommit(item, txtable.VerifierFunc(func(it *types.BlockItem) txtable.VerificationResult {
			return scheduler.VerifyItem(lfbState, it, now, maxEnergy)
		}), recvTime, block.Slot, c.stateNextNonce(lfbState, item), c.stateNextSeq(lfbState, item))
		if res.Outcome == txtable.NotAdded {
			return false
		}
	}

	if committee, definite := lfbState.GetDefiniteSlotBakers(block.Slot); definite {
		baker, ok := committee.Lookup(block.Baker)
		if !ok || !bytes.Equal(baker.SignKey, block.BakerKey) {
			return false
		}
		if nonce, predictable := lfbState.SeedState().PredictableNonceAt(block.Slot, lfb.Slot()); predictable {
			if !crypto.VerifyBlockNonce(baker.ElectionKey, nonce[:], uint64(block.Slot), block.BlockNonce) {
				return false
			}
			difficulty := lfbState.GetElectionDifficultyAt(c.tree.GenesisData().Core.SlotTime(block.Slot))
			if !crypto.VerifyLeadershipProof(baker.ElectionKey, nonce[:], uint64(block.Slot), block.Proof,
				difficulty, committee.StakeShare(block.Baker)) {
				return false
			}
		}
	}

	return crypto.VerifySignature(block.BakerKey, block.SigningBytes(), block.Signature)
}

// liveParentChecks validates a block against its live parent's state.
func (c *Consensus) liveParentChecks(parent *tree.BlockPointer, block *types.BakedBlock) bool {
	if parent == nil || parent.Slot() >= block.Slot {
		return false
	}
	committee := parent.State.GetSlotBakers(block.Slot)
	baker, ok := committee.Lookup(block.Baker)
	if !ok || !bytes.Equal(baker.SignKey, block.BakerKey) {
		return false
	}
	seed := parent.State.SeedState()
	if !crypto.VerifyBlockNonce(baker.ElectionKey, seed.LeadershipElectionNonce[:], uint64(block.Slot), block.BlockNonce) {
		return false
	}
	difficulty := parent.State.GetElectionDifficultyAt(c.tree.GenesisData().Core.SlotTime(block.Slot))
	return crypto.VerifyLeadershipProof(baker.ElectionKey, seed.LeadershipElectionNonce[:], uint64(block.Slot),
		block.Proof, difficulty, committee.StakeShare(block.Baker))
}

func (c *Consensus) stateNextNonce(s *blockstate.State, item *types.BlockItem) types.Nonce {
	if item.Kind != types.KindNormalTransaction {
		return types.MinNonce
	}
	if a, err := s.GetAccount(item.Normal.Sender); err == nil {
		return a.NextNonce
	}
	return types.MinNonce
}

func (c *Consensus) stateNextSeq(s *blockstate.State, item *types.BlockItem) types.UpdateSequenceNumber {
	if item.Kind != types.KindChainUpdate {
		return 1
	}
	return s.NextUpdateSequenceNumber(item.Update.UpdateType)
}

// markDeadLocked moves a block to the dead status.
func (c *Consensus) markDeadLocked(hash types.BlockHash) {
	c.tree.MarkDead(hash)
	c.metrics.BlocksDead.Inc()
}

// ExecuteBlock runs the execution phase on a continuation.
func (c *Consensus) ExecuteBlock(cont *ExecuteCont) types.UpdateResult {
	if cont.consumed {
		return types.ResultInvalid
	}
	cont.consumed = true

	c.mu.Lock()
	defer c.mu.Unlock()
	res := c.executeBlockLocked(cont.hash, cont.block, cont.recvTime, false)

	// A successful arrival may resolve pending children; promote them
	// through the same live-parent path, breadth-first.
	if res == types.ResultSuccess {
		c.promotePendingChildren(cont.hash)
	}
	return res
}

// promotePendingChildren drains the pending table under an arrived block
// and executes every child that now validates.
func (c *Consensus) promotePendingChildren(parentHash types.BlockHash) {
	queue := []types.BlockHash{parentHash}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]
		for _, child := range c.pendingBlocks.TakeChildrenOf(parent) {
			parentPtr := c.tree.Pointer(parent)
			if parentPtr == nil ||
				!c.liveParentChecks(parentPtr, child.Block) ||
				!crypto.VerifySignature(child.Block.BakerKey, child.Block.SigningBytes(), child.Block.Signature) {
				c.markDeadLocked(child.Hash)
				continue
			}
			if c.executeBlockLocked(child.Hash, child.Block, child.Received, true) == types.ResultSuccess {
				queue = append(queue, child.Hash)
			}
		}
	}
	c.metrics.BlocksPending.Set(float64(c.pendingBlocks.Size()))
}

// executeBlockLocked is the full execution path. The caller holds the lock.
func (c *Consensus) executeBlockLocked(hash types.BlockHash, block *types.BakedBlock, recvTime time.Time, wasPending bool) types.UpdateResult {
	start := c.now()

	// The parent must still be usable at execute time.
	parentStatus := c.tree.Status(block.Parent)
	if parentStatus != tree.StatusAlive && parentStatus != tree.StatusFinalized {
		c.markDeadLocked(hash)
		return types.ResultInvalid
	}
	parent := c.tree.Pointer(block.Parent)

	// The block's declared last-finalized pointer must name a block we
	// finalized at or before the parent's view.
	if c.tree.Status(block.LastFinalized) != tree.StatusFinalized {
		c.markDeadLocked(hash)
		return types.ResultInvalid
	}

	// Embedded finalization data is handed to the oracle first; it must be
	// consumable or a duplicate, and must extend the parent's chain.
	if block.Finalization != nil {
		if res := c.applyEmbeddedFinalization(parent, block.Finalization); res != types.ResultSuccess && res != types.ResultDuplicate {
			c.markDeadLocked(hash)
			return types.ResultInvalid
		}
	}

	state, err := parent.State.Thaw()
	if err != nil {
		c.markDeadLocked(hash)
		return types.ResultInvalid
	}
	newSeed := parent.State.SeedState().UpdateWith(block.Slot, crypto.BlockNonceOutput(block.BlockNonce))
	state.SetSeedState(newSeed)

	// Cached verification results are only revisited when the signing keys
	// changed between admission and execution.
	for _, item := range block.Items {
		entry := c.tree.Transactions.Lookup(item.Hash())
		if entry != nil && entry.Verification.Ok() &&
			entry.Verification.KeysHash == scheduler.KeysHashFor(parent.State, item) {
			continue
		}
		now := types.TimestampFromTime(recvTime)
		verRes := scheduler.VerifyItem(parent.State, item, now, c.tree.GenesisData().Core.MaxBlockEnergy)
		if !verRes.Ok() {
			c.markDeadLocked(hash)
			return types.ResultInvalid
		}
	}

	execRes, err := scheduler.ExecuteItems(&scheduler.BlockContext{
		State:          state,
		SlotTime:       c.tree.GenesisData().Core.SlotTime(block.Slot),
		MaxBlockEnergy: c.tree.GenesisData().Core.MaxBlockEnergy,
		Caches:         c.caches,
		Engine:         c.engine,
	}, block.Items)
	if err != nil {
		c.logger.Printf("block %s failed execution: %v", hash, err)
		c.markDeadLocked(hash)
		return types.ResultInvalid
	}

	stateHash := state.Freeze()
	if stateHash != block.StateHash || execRes.OutcomesHash != block.OutcomesHash {
		c.logger.Printf("block %s hash mismatch: state %s/%s outcomes %x/%x",
			hash, stateHash, block.StateHash, execRes.OutcomesHash, block.OutcomesHash)
		c.markDeadLocked(hash)
		return types.ResultInvalid
	}

	arriveTime := c.now()
	bp := &tree.BlockPointer{
		Hash:              hash,
		Block:             block,
		Height:            parent.Height + 1,
		Parent:            parent,
		State:             state,
		LastFinalizedHash: block.LastFinalized,
		ReceiveTime:       recvTime,
		ArriveTime:        arriveTime,
		TransactionEnergy: execRes.TotalEnergy,
	}
	c.tree.AddAlive(bp)

	lfbState := c.tree.LastFinalized().State
	for i, item := range block.Items {
		if c.tree.Transactions.Lookup(item.Hash()) == nil {
			now, maxEnergy := types.TimestampFromTime(recvTime), c.tree.GenesisData().Core.MaxBlockEnergy
			c.tree.Transactions.AddCommit(item, txtable.VerifierFunc(func(it *types.BlockItem) txtable.VerificationResult {
				return scheduler.VerifyItem(parent.State, it, now, maxEnergy)
			}), recvTime, block.Slot, c.stateNextNonce(lfbState, item), c.stateNextSeq(lfbState, item))
		}
		c.tree.Transactions.CommitInBlock(block.Slot, hash, item.Hash(), uint32(i))
	}

	c.metrics.BlocksExecuted.Inc()
	c.metrics.ObserveArrival(recvTime, arriveTime)
	c.metrics.ExecuteSeconds.Observe(arriveTime.Sub(start).Seconds())

	if wasPending && c.hooks.OnPendingLive != nil {
		c.hooks.OnPendingLive(hash)
	}
	if c.hooks.OnBlockArrived != nil {
		c.hooks.OnBlockArrived(hash, bp.Height)
	}
	return types.ResultSuccess
}

// applyEmbeddedFinalization validates and applies finalization data carried
// inside a block.
func (c *Consensus) applyEmbeddedFinalization(parent *tree.BlockPointer, rec *types.FinalizationRecord) types.UpdateResult {
	next := c.tree.NextFinalizationIndex()
	if rec.Index < next {
		// Single finalized ancestor rule: a stale record must agree with
		// what the chain already finalized at that index.
		existing := c.tree.FinalizationList()
		for _, entry := range existing {
			if entry.Record != nil && entry.Record.Index == rec.Index {
				if entry.Block.Hash == rec.BlockHash {
					return types.ResultDuplicate
				}
				return types.ResultInvalid
			}
		}
		return types.ResultDuplicate
	}
	if rec.Index > next {
		return types.ResultInvalid
	}
	if _, ok := c.oracle.Verify(rec, c.tree.LastFinalized().State); !ok {
		return types.ResultInvalid
	}
	return c.doTrustedFinalizeLocked(rec)
}

// ReceiveTransaction admits one individually submitted block item.
func (c *Consensus) ReceiveTransaction(data []byte) types.UpdateResult {
	recvTime := c.now()

	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return types.ResultConsensusShutDown
	}
	item, err := types.DeserializeBlockItem(data)
	if err != nil {
		c.mu.Unlock()
		return types.ResultSerializationFail
	}
	lfbState := c.tree.LastFinalized().State
	lfbSlot := c.tree.LastFinalized().Slot()
	maxEnergy := c.tree.GenesisData().Core.MaxBlockEnergy
	c.mu.Unlock()

	// Verification runs outside the lock; the result is cached.
	verRes := scheduler.VerifyItem(lfbState, item, types.TimestampFromTime(recvTime), maxEnergy)

	c.mu.Lock()
	defer c.mu.Unlock()

	// Nonce discipline against the table's non-finalized view: gaps and
	// replays are rejected before insertion.
	if item.Kind == types.KindNormalTransaction {
		next := c.tree.Transactions.NextAccountNonce(item.Normal.Sender, c.stateNextNonce(lfbState, item))
		if item.Normal.Nonce > next {
			return types.ResultNonceTooLarge
		}
		stateNext := c.stateNextNonce(lfbState, item)
		if item.Normal.Nonce < stateNext {
			return types.ResultDuplicateNonce
		}
	}

	res := c.tree.Transactions.AddCommit(item, txtable.VerifierFunc(func(*types.BlockItem) txtable.VerificationResult {
		return verRes
	}), recvTime, lfbSlot, c.stateNextNonce(lfbState, item), c.stateNextSeq(lfbState, item))

	switch res.Outcome {
	case txtable.Duplicate:
		return types.ResultDuplicate
	case txtable.ObsoleteNonce:
		return types.ResultDuplicateNonce
	case txtable.NotAdded:
		if verRes.Outcome != types.ResultSuccess {
			return verRes.Outcome
		}
		return types.ResultVerificationFailed
	}

	c.metrics.TransactionsAdded.Inc()
	switch item.Kind {
	case types.KindNormalTransaction:
		focusNext := c.focusNextNonce(item.Normal.Sender)
		c.tree.PendingTransactions.AddTransaction(item.Normal.Sender, item.Normal.Nonce, focusNext)
	case types.KindChainUpdate:
		c.tree.PendingTransactions.AddUpdate(item.Update.UpdateType, item.Update.SequenceNumber,
			c.tree.Focus().State.NextUpdateSequenceNumber(item.Update.UpdateType))
	}

	if c.tree.Transactions.InsertionsSincePurge() >= c.opts.InsertionsBeforePurge {
		c.purgeTransactionsLocked()
	}
	return types.ResultSuccess
}

func (c *Consensus) focusNextNonce(sender types.AccountAddress) types.Nonce {
	if a, err := c.tree.Focus().State.GetAccount(sender); err == nil {
		return a.NextNonce
	}
	return types.MinNonce
}

// ReceiveFinalizationMessage forwards a finalization-protocol message. The
// BFT algebra itself is external; the core only checks the session frame.
func (c *Consensus) ReceiveFinalizationMessage(gi types.GenesisIndex, body []byte) types.UpdateResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown {
		return types.ResultConsensusShutDown
	}
	if gi != c.tree.GenesisIndex() {
		return types.ResultIncorrectFinalizationSession
	}
	if len(body) == 0 {
		return types.ResultSerializationFail
	}
	// Handed to the finalization component out of band; relaying is its
	// decision, the core reports asynchronous consumption.
	return types.ResultAsync
}

// ReceiveCatchUpStatus answers a peer's catch-up status. Responses flow
// through the caller-supplied sender as a bounded burst of direct messages.
func (c *Consensus) ReceiveCatchUpStatus(body []byte, send catchup.Sender) types.UpdateResult {
	status, err := catchup.DeserializeStatus(body)
	if err != nil {
		return types.ResultSerializationFail
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	lfb := c.tree.LastFinalized()
	if status.IsRequest && send != nil {
		sent := 0
		// Finalized suffix the peer is missing, records included.
		for _, entry := range c.tree.FinalizationList() {
			if entry.Block.Height <= status.LastFinalizedHeight || entry.Block.Block == nil {
				continue
			}
			if sent >= catchup.MaxResponseMessages {
				break
			}
			data, err := entry.Block.Block.Serialize()
			if err != nil {
				continue
			}
			send(types.EncodeEnvelope(types.MessageBlock, c.tree.GenesisIndex(), data))
			sent++
			if entry.Record != nil && sent < catchup.MaxResponseMessages {
				if recData, err := entry.Record.Serialize(); err == nil {
					send(types.EncodeEnvelope(types.MessageFinalizationRecord, c.tree.GenesisIndex(), recData))
					sent++
				}
			}
		}
		// Alive blocks the peer has not seen.
		known := make(map[types.BlockHash]bool, len(status.BestBlocks))
		for _, h := range status.BestBlocks {
			known[h] = true
		}
		for _, layer := range c.tree.Branches() {
			for _, bp := range layer {
				if sent >= catchup.MaxResponseMessages {
					break
				}
				if known[bp.Hash] || bp.Block == nil {
					continue
				}
				if data, err := bp.Block.Serialize(); err == nil {
					send(types.EncodeEnvelope(types.MessageBlock, c.tree.GenesisIndex(), data))
					sent++
				}
			}
		}
	}

	if status.LastFinalizedHeight > lfb.Height {
		// The peer is ahead; the host should keep the catch-up going.
		return types.ResultContinueCatchUp
	}
	return types.ResultSuccess
}

// OurCatchUpStatus summarizes this node's tree for a catch-up exchange.
func (c *Consensus) OurCatchUpStatus(isRequest bool) *catchup.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	lfb := c.tree.LastFinalized()
	status := &catchup.Status{
		IsRequest:           isRequest,
		LastFinalizedBlock:  lfb.Hash,
		LastFinalizedHeight: lfb.Height,
	}
	for _, layer := range c.tree.Branches() {
		for _, bp := range layer {
			status.BestBlocks = append(status.BestBlocks, bp.Hash)
		}
	}
	return status
}
