// Copyright 2025 Certen Protocol
//
// Finalization processor
//
// A validated record advances the last-finalized pointer: the trunk is
// pruned, the finalized chain's transactions finalize, ancestor states
// archive, stale pending blocks drop, and the whole advance commits as one
// store batch. Records from the future wait in a staging map until their
// index comes up.

package consensus

import (
	"sort"

	"github.com/certen/permissioned-node/pkg/blockstate"
	"github.com/certen/permissioned-node/pkg/crypto/bls"
	"github.com/certen/permissioned-node/pkg/tree"
	"github.com/certen/permissioned-node/pkg/types"
)

// ReceiveFinalizationRecord handles a record from the network. Unlike block
// reception, records are still processed during shut-down: the terminal
// block must be able to finalize.
func (c *Consensus) ReceiveFinalizationRecord(gi types.GenesisIndex, body []byte) types.UpdateResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gi != c.tree.GenesisIndex() {
		return types.ResultInvalidGenesisIndex
	}
	rec, err := types.DeserializeFinalizationRecord(body)
	if err != nil {
		return types.ResultSerializationFail
	}

	next := c.tree.NextFinalizationIndex()
	switch {
	case rec.Index < next:
		return types.ResultDuplicate
	case rec.Index > next:
		if _, staged := c.pendingRecords[rec.Index]; staged {
			return types.ResultDuplicate
		}
		c.pendingRecords[rec.Index] = rec
		return types.ResultPendingFinalization
	}

	if _, ok := c.oracle.Verify(rec, c.tree.LastFinalized().State); !ok {
		return types.ResultUnverifiable
	}
	res := c.doTrustedFinalizeLocked(rec)
	if res == types.ResultSuccess {
		c.drainPendingRecords()
	}
	return res
}

// DoTrustedFinalize applies a record the finalization component already
// validated.
func (c *Consensus) DoTrustedFinalize(rec *types.FinalizationRecord) types.UpdateResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	res := c.doTrustedFinalizeLocked(rec)
	if res == types.ResultSuccess {
		c.drainPendingRecords()
	}
	return res
}

// drainPendingRecords applies staged records whose index has come up.
func (c *Consensus) drainPendingRecords() {
	for {
		next := c.tree.NextFinalizationIndex()
		rec, ok := c.pendingRecords[next]
		if !ok {
			return
		}
		delete(c.pendingRecords, next)
		if _, valid := c.oracle.Verify(rec, c.tree.LastFinalized().State); !valid {
			continue
		}
		if c.doTrustedFinalizeLocked(rec) != types.ResultSuccess {
			return
		}
	}
}

func (c *Consensus) doTrustedFinalizeLocked(rec *types.FinalizationRecord) types.UpdateResult {
	// 1. Index discipline: records are gap-free.
	if rec.Index != c.tree.NextFinalizationIndex() {
		if rec.Index < c.tree.NextFinalizationIndex() {
			return types.ResultDuplicate
		}
		return types.ResultInvalid
	}

	// 2. The finalized block must be alive here.
	switch c.tree.Status(rec.BlockHash) {
	case tree.StatusAlive:
	case tree.StatusUnknown, tree.StatusPending:
		return types.ResultUnverifiable
	default:
		return types.ResultInvalid
	}
	newLFB := c.tree.Pointer(rec.BlockHash)
	oldLFB := c.tree.LastFinalized()

	// 3. Keep the focus block inside the surviving subtree.
	if !tree.IsAncestorOf(newLFB, c.tree.Focus()) {
		c.tree.SetFocus(newLFB)
	}

	// 4-8. Restructure the tree; persist the whole advance as one batch.
	finalizedChain, removed := c.tree.ApplyFinalization(rec, newLFB)

	commit := c.store.NewCommit()
	abort := func() types.UpdateResult {
		commit.Discard()
		c.logger.Printf("FATAL: finalization advance for index %d failed to persist", rec.Index)
		return types.ResultInvalid
	}
	if err := commit.PutFinalizationRecord(rec); err != nil {
		return abort()
	}
	for _, bp := range finalizedChain {
		data, err := bp.Block.Serialize()
		if err != nil {
			return abort()
		}
		if err := commit.PutBlock(bp.Hash, bp.Height, data); err != nil {
			return abort()
		}
		// 5. Finalize the block's transactions; competing same-nonce
		// entries evaporate and the nonce indices advance.
		for i, item := range bp.Block.Items {
			c.tree.Transactions.Finalize(bp.Hash, bp.Slot(), item.Hash())
			if item.Kind == types.KindNormalTransaction {
				c.tree.PendingTransactions.FinalizeNonce(item.Normal.Sender, item.Normal.Nonce)
			}
			if err := commit.PutTransactionOutcome(item.Hash(), bp.Hash, uint32(i)); err != nil {
				return abort()
			}
		}
	}
	// Drop dead blocks' table associations.
	for _, dead := range removed {
		for _, item := range dead.Items() {
			c.tree.Transactions.MarkDeadInBlock(dead.Hash, item.Hash())
		}
	}

	// 6. Archive ancestors strictly below the new LFB, persisting their
	// snapshots first.
	for _, bp := range ancestorsToArchive(finalizedChain, oldLFB) {
		if snap, err := bp.State.Snapshot(); err == nil {
			if data, err := blockstate.MarshalSnapshot(snap); err == nil && !c.store.HasStateSnapshot(snap.Hash) {
				if err := commit.PutStateSnapshot(snap.Hash, data); err != nil {
					return abort()
				}
			}
		}
		bp.State.Archive()
	}
	// The new LFB's own snapshot is persisted without archiving it.
	if snap, err := newLFB.State.Snapshot(); err == nil {
		if data, err := blockstate.MarshalSnapshot(snap); err == nil && !c.store.HasStateSnapshot(snap.Hash) {
			if err := commit.PutStateSnapshot(snap.Hash, data); err != nil {
				return abort()
			}
		}
	}

	if err := commit.Write(); err != nil {
		c.logger.Printf("FATAL: %v", err)
		return types.ResultInvalid
	}

	// 9. Pending blocks whose slot can no longer enter the tree drop out.
	c.purgePendingBlocks(newLFB.Slot())

	c.metrics.FinalizationCount.Inc()
	c.metrics.FinalizedHeight.Set(float64(newLFB.Height))
	c.logger.Printf("finalized block %s at height %d (index %d, %d pruned)",
		newLFB.Hash, newLFB.Height, rec.Index, len(removed))

	// 10. Announcements, then the protocol-update check.
	if c.hooks.OnFinalized != nil {
		c.hooks.OnFinalized(rec, newLFB.Hash)
	}
	c.checkProtocolUpdate(newLFB)
	return types.ResultSuccess
}

// ancestorsToArchive returns the finalized blocks strictly below the new
// LFB plus the previous LFB, oldest first.
func ancestorsToArchive(finalizedChain []*tree.BlockPointer, oldLFB *tree.BlockPointer) []*tree.BlockPointer {
	var out []*tree.BlockPointer
	if oldLFB.State != nil && !oldLFB.State.Archived() {
		out = append(out, oldLFB)
	}
	for _, bp := range finalizedChain[:len(finalizedChain)-1] {
		out = append(out, bp)
	}
	return out
}

// purgePendingBlocks drops pending blocks at or below the new LFB slot.
func (c *Consensus) purgePendingBlocks(slotCap types.Slot) {
	for {
		b := c.pendingBlocks.TakeNextUntil(slotCap)
		if b == nil {
			break
		}
		c.markDeadLocked(b.Hash)
	}
	c.metrics.BlocksPending.Set(float64(c.pendingBlocks.Size()))
}

// ====== Default finalization oracle ======

// BLSOracle verifies records against the committee of a state: the signers
// named by index must aggregate-sign the record's canonical message, and
// their stake must exceed two thirds of the committee total.
type BLSOracle struct{}

// Verify implements RecordVerifier.
func (BLSOracle) Verify(rec *types.FinalizationRecord, s *blockstate.State) (FinalizerInfo, bool) {
	committee := s.GetSlotBakers(0)
	if len(committee.Bakers) == 0 || len(rec.Proof.SignerIndices) == 0 {
		return FinalizerInfo{}, false
	}

	seen := make(map[uint32]bool, len(rec.Proof.SignerIndices))
	var keys []*bls.PublicKey
	var signerStake types.Amount
	for _, idx := range rec.Proof.SignerIndices {
		if int(idx) >= len(committee.Bakers) || seen[idx] {
			return FinalizerInfo{}, false
		}
		seen[idx] = true
		member := committee.Bakers[idx]
		pk, err := bls.PublicKeyFromBytes(member.AggregationKey)
		if err != nil {
			return FinalizerInfo{}, false
		}
		keys = append(keys, pk)
		signerStake += member.Stake
	}
	if 3*signerStake <= 2*committee.TotalStake {
		return FinalizerInfo{}, false
	}

	sig, err := bls.SignatureFromBytes(rec.Proof.AggregateSignature)
	if err != nil {
		return FinalizerInfo{}, false
	}
	if !bls.VerifyAggregate(sig, keys, rec.SigningBytes(), bls.DomainFinalization) {
		return FinalizerInfo{}, false
	}

	info := FinalizerInfo{Signers: append([]uint32(nil), rec.Proof.SignerIndices...)}
	for _, b := range committee.Bakers {
		info.Committee = append(info.Committee, b.ID)
	}
	sort.Slice(info.Signers, func(i, j int) bool { return info.Signers[i] < info.Signers[j] })
	return info, true
}
