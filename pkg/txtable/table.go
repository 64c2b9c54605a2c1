// Copyright 2025 Certen Protocol
//
// Transaction table
//
// All known block items indexed by hash, with per-sender nonce indices and
// per-update-type sequence indices over the not-yet-finalized ones. The
// non-finalized index keys always form a contiguous interval starting at
// the sender's next nonce; competing items at the same nonce coexist until
// one of them is finalized.

package txtable

import (
	"sort"
	"time"

	"github.com/certen/permissioned-node/pkg/types"
)

// Status is a table entry's lifecycle position.
type Status uint8

const (
	StatusReceived  Status = 0
	StatusCommitted Status = 1
	StatusFinalized Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusReceived:
		return "received"
	case StatusCommitted:
		return "committed"
	case StatusFinalized:
		return "finalized"
	}
	return "unknown"
}

// Entry is one known block item with its verification cache and block
// associations.
type Entry struct {
	Item       *types.BlockItem
	Status     Status
	ReceivedAt time.Time
	// Slot is the latest slot the entry was observed against: the
	// received-as-of slot, raised by each commit.
	Slot         types.Slot
	Verification VerificationResult

	// Blocks maps each live block containing the item to the item's index
	// in that block.
	Blocks map[types.BlockHash]uint32

	// FinalizedIn is set once Status is StatusFinalized.
	FinalizedIn types.BlockHash
}

// AddOutcome discriminates the results of AddCommit.
type AddOutcome uint8

const (
	Added         AddOutcome = 0
	Duplicate     AddOutcome = 1
	ObsoleteNonce AddOutcome = 2
	NotAdded      AddOutcome = 3
)

// AddResult is the full result of an AddCommit call.
type AddResult struct {
	Outcome      AddOutcome
	Entry        *Entry
	Verification VerificationResult
}

// accountIndex is the non-finalized view of one sender.
type accountIndex struct {
	nextNonce types.Nonce
	byNonce   map[types.Nonce]map[types.TransactionHash]struct{}
}

// seqIndex is the analogous view of one update type.
type seqIndex struct {
	nextSeq types.UpdateSequenceNumber
	bySeq   map[types.UpdateSequenceNumber]map[types.TransactionHash]struct{}
}

// Table is the transaction table. Single-writer: mutated only by the
// consensus coordinator.
type Table struct {
	entries   map[types.TransactionHash]*Entry
	byAccount map[types.AccountAddress]*accountIndex
	byUpdate  [types.NumUpdateTypes]*seqIndex

	insertionsSincePurge int
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		entries:   make(map[types.TransactionHash]*Entry),
		byAccount: make(map[types.AccountAddress]*accountIndex),
	}
}

// Lookup returns the entry for a hash, or nil.
func (t *Table) Lookup(hash types.TransactionHash) *Entry {
	return t.entries[hash]
}

// Size returns the number of known items.
func (t *Table) Size() int { return len(t.entries) }

// InsertionsSincePurge returns the purge-cadence counter.
func (t *Table) InsertionsSincePurge() int { return t.insertionsSincePurge }

func (t *Table) accountIdx(addr types.AccountAddress, stateNext types.Nonce) *accountIndex {
	idx, ok := t.byAccount[addr]
	if !ok {
		idx = &accountIndex{nextNonce: stateNext, byNonce: make(map[types.Nonce]map[types.TransactionHash]struct{})}
		t.byAccount[addr] = idx
	}
	return idx
}

func (t *Table) updateIdx(ut types.UpdateType, stateNext types.UpdateSequenceNumber) *seqIndex {
	idx := t.byUpdate[ut]
	if idx == nil {
		idx = &seqIndex{nextSeq: stateNext, bySeq: make(map[types.UpdateSequenceNumber]map[types.TransactionHash]struct{})}
		t.byUpdate[ut] = idx
	}
	return idx
}

// NextAccountNonce returns the next admissible nonce for a sender given the
// last-finalized state's view. Competing items raise the answer past every
// contiguous pending nonce.
func (t *Table) NextAccountNonce(addr types.AccountAddress, stateNext types.Nonce) types.Nonce {
	idx, ok := t.byAccount[addr]
	if !ok {
		return stateNext
	}
	n := idx.nextNonce
	for {
		if _, occupied := idx.byNonce[n]; !occupied {
			return n
		}
		n++
	}
}

// AddCommit admits an item. verify runs only when the item is unseen;
// definite verification failures are not stored. stateNextNonce /
// stateNextSeq come from the last-finalized state and seed fresh indices.
func (t *Table) AddCommit(item *types.BlockItem, verify Verifier, recvTime time.Time, receivedAsOfSlot types.Slot,
	stateNextNonce types.Nonce, stateNextSeq types.UpdateSequenceNumber) AddResult {

	hash := item.Hash()
	if existing, ok := t.entries[hash]; ok {
		return AddResult{Outcome: Duplicate, Entry: existing, Verification: existing.Verification}
	}

	// Obsolete-by-index checks precede verification: no point verifying an
	// item that can never be admitted.
	switch item.Kind {
	case types.KindNormalTransaction:
		idx := t.accountIdx(item.Normal.Sender, stateNextNonce)
		if item.Normal.Nonce < idx.nextNonce {
			return AddResult{Outcome: ObsoleteNonce}
		}
	case types.KindChainUpdate:
		idx := t.updateIdx(item.Update.UpdateType, stateNextSeq)
		if item.Update.SequenceNumber < idx.nextSeq {
			return AddResult{Outcome: ObsoleteNonce}
		}
	}

	verRes := verify.Verify(item)
	if !verRes.Usable() {
		return AddResult{Outcome: NotAdded, Verification: verRes}
	}

	entry := &Entry{
		Item:         item,
		Status:       StatusReceived,
		ReceivedAt:   recvTime,
		Slot:         receivedAsOfSlot,
		Verification: verRes,
		Blocks:       make(map[types.BlockHash]uint32),
	}
	t.entries[hash] = entry
	switch item.Kind {
	case types.KindNormalTransaction:
		idx := t.byAccount[item.Normal.Sender]
		set, ok := idx.byNonce[item.Normal.Nonce]
		if !ok {
			set = make(map[types.TransactionHash]struct{})
			idx.byNonce[item.Normal.Nonce] = set
		}
		set[hash] = struct{}{}
	case types.KindChainUpdate:
		idx := t.byUpdate[item.Update.UpdateType]
		set, ok := idx.bySeq[item.Update.SequenceNumber]
		if !ok {
			set = make(map[types.TransactionHash]struct{})
			idx.bySeq[item.Update.SequenceNumber] = set
		}
		set[hash] = struct{}{}
	}
	t.insertionsSincePurge++
	return AddResult{Outcome: Added, Entry: entry, Verification: verRes}
}

// CommitInBlock attaches a block outcome to the item and raises its status
// to committed.
func (t *Table) CommitInBlock(slot types.Slot, block types.BlockHash, hash types.TransactionHash, txIdx uint32) bool {
	entry, ok := t.entries[hash]
	if !ok || entry.Status == StatusFinalized {
		return false
	}
	entry.Blocks[block] = txIdx
	entry.Status = StatusCommitted
	if slot > entry.Slot {
		entry.Slot = slot
	}
	return true
}

// MarkDeadInBlock forgets one block association; an entry whose last
// association disappears drops back to received.
func (t *Table) MarkDeadInBlock(block types.BlockHash, hash types.TransactionHash) {
	entry, ok := t.entries[hash]
	if !ok || entry.Status == StatusFinalized {
		return
	}
	delete(entry.Blocks, block)
	if len(entry.Blocks) == 0 && entry.Status == StatusCommitted {
		entry.Status = StatusReceived
	}
}

// Finalize moves the item to finalized and evicts every competing item at
// the same sender nonce (or update sequence). The evicted hashes are
// returned so the caller can drop their block associations.
func (t *Table) Finalize(block types.BlockHash, slot types.Slot, hash types.TransactionHash) []types.TransactionHash {
	entry, ok := t.entries[hash]
	if !ok {
		return nil
	}
	entry.Status = StatusFinalized
	entry.FinalizedIn = block
	if slot > entry.Slot {
		entry.Slot = slot
	}

	var evicted []types.TransactionHash
	switch entry.Item.Kind {
	case types.KindNormalTransaction:
		sender := entry.Item.Normal.Sender
		nonce := entry.Item.Normal.Nonce
		idx := t.byAccount[sender]
		if idx == nil {
			break
		}
		for competing := range idx.byNonce[nonce] {
			if competing != hash {
				evicted = append(evicted, competing)
				delete(t.entries, competing)
			}
		}
		delete(idx.byNonce, nonce)
		if nonce >= idx.nextNonce {
			idx.nextNonce = nonce + 1
		}
	case types.KindChainUpdate:
		ut := entry.Item.Update.UpdateType
		seq := entry.Item.Update.SequenceNumber
		idx := t.byUpdate[ut]
		if idx == nil {
			break
		}
		for competing := range idx.bySeq[seq] {
			if competing != hash {
				evicted = append(evicted, competing)
				delete(t.entries, competing)
			}
		}
		delete(idx.bySeq, seq)
		if seq >= idx.nextSeq {
			idx.nextSeq = seq + 1
		}
	}
	sort.Slice(evicted, func(i, j int) bool { return lessHash(evicted[i], evicted[j]) })
	return evicted
}

// GetAccountNonFinalized returns the sender's non-finalized items at nonces
// >= from, ascending by nonce.
func (t *Table) GetAccountNonFinalized(addr types.AccountAddress, from types.Nonce) [][]types.TransactionHash {
	idx, ok := t.byAccount[addr]
	if !ok {
		return nil
	}
	nonces := make([]types.Nonce, 0, len(idx.byNonce))
	for n := range idx.byNonce {
		if n >= from {
			nonces = append(nonces, n)
		}
	}
	sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })
	out := make([][]types.TransactionHash, 0, len(nonces))
	for _, n := range nonces {
		out = append(out, sortedHashes(idx.byNonce[n]))
	}
	return out
}

// GetNonFinalizedChainUpdates returns the non-finalized updates of a type
// at sequence numbers >= from, ascending.
func (t *Table) GetNonFinalizedChainUpdates(ut types.UpdateType, from types.UpdateSequenceNumber) [][]types.TransactionHash {
	idx := t.byUpdate[ut]
	if idx == nil {
		return nil
	}
	seqs := make([]types.UpdateSequenceNumber, 0, len(idx.bySeq))
	for s := range idx.bySeq {
		if s >= from {
			seqs = append(seqs, s)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	out := make([][]types.TransactionHash, 0, len(seqs))
	for _, s := range seqs {
		out = append(out, sortedHashes(idx.bySeq[s]))
	}
	return out
}

// NonFinalizedNonces returns the sender's occupied nonce keys in ascending
// order; the invariant checker uses this to verify contiguity.
func (t *Table) NonFinalizedNonces(addr types.AccountAddress) (types.Nonce, []types.Nonce) {
	idx, ok := t.byAccount[addr]
	if !ok {
		return 0, nil
	}
	nonces := make([]types.Nonce, 0, len(idx.byNonce))
	for n := range idx.byNonce {
		nonces = append(nonces, n)
	}
	sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })
	return idx.nextNonce, nonces
}

// Purge drops items that can no longer make it into a live block: latest
// slot at or below the last-finalized slot, untouched past the keep-alive
// horizon, and not committed to any live block. Returns the dropped hashes.
func (t *Table) Purge(now time.Time, lastFinalizedSlot types.Slot, keepAlive time.Duration) []types.TransactionHash {
	horizon := now.Add(-keepAlive)
	var dropped []types.TransactionHash
	for hash, entry := range t.entries {
		if entry.Status == StatusFinalized {
			// Finalized entries are retained for queries until era archive.
			continue
		}
		if len(entry.Blocks) > 0 {
			continue
		}
		if entry.Slot > lastFinalizedSlot {
			continue
		}
		if entry.ReceivedAt.After(horizon) {
			continue
		}
		dropped = append(dropped, hash)
		t.removeEntry(hash, entry)
	}
	t.insertionsSincePurge = 0
	sort.Slice(dropped, func(i, j int) bool { return lessHash(dropped[i], dropped[j]) })
	return dropped
}

// removeEntry unlinks an entry from the table and its index.
func (t *Table) removeEntry(hash types.TransactionHash, entry *Entry) {
	delete(t.entries, hash)
	switch entry.Item.Kind {
	case types.KindNormalTransaction:
		if idx := t.byAccount[entry.Item.Normal.Sender]; idx != nil {
			set := idx.byNonce[entry.Item.Normal.Nonce]
			delete(set, hash)
			if len(set) == 0 {
				delete(idx.byNonce, entry.Item.Normal.Nonce)
			}
		}
	case types.KindChainUpdate:
		if idx := t.byUpdate[entry.Item.Update.UpdateType]; idx != nil {
			set := idx.bySeq[entry.Item.Update.SequenceNumber]
			delete(set, hash)
			if len(set) == 0 {
				delete(idx.bySeq, entry.Item.Update.SequenceNumber)
			}
		}
	}
}

func sortedHashes(set map[types.TransactionHash]struct{}) []types.TransactionHash {
	out := make([]types.TransactionHash, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return lessHash(out[i], out[j]) })
	return out
}

func lessHash(a, b types.TransactionHash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
