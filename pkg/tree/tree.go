// Copyright 2025 Certen Protocol
//
// The block tree (skov)
//
// A forest of candidate chains anchored at the last-finalized block: block
// statuses by hash, the alive blocks layered by height above the LFB, the
// finalization list, and the focus block the pending-transaction table is
// consistent with. Blocks live in an arena keyed by hash; parent links are
// pointers into the arena and strictly ancestor-directed, so the apparent
// cycles through "last finalized" never form one.

package tree

import (
	"errors"
	"sort"
	"time"

	"github.com/certen/permissioned-node/pkg/blockstate"
	"github.com/certen/permissioned-node/pkg/txtable"
	"github.com/certen/permissioned-node/pkg/types"
)

// StatusKind is a block's lifecycle position. Dead and finalized are
// terminal.
type StatusKind uint8

const (
	StatusUnknown   StatusKind = 0
	StatusPending   StatusKind = 1
	StatusAlive     StatusKind = 2
	StatusFinalized StatusKind = 3
	StatusDead      StatusKind = 4
)

func (k StatusKind) String() string {
	switch k {
	case StatusPending:
		return "pending"
	case StatusAlive:
		return "alive"
	case StatusFinalized:
		return "finalized"
	case StatusDead:
		return "dead"
	}
	return "unknown"
}

// ErrNotAlive is returned when an operation requires a live block.
var ErrNotAlive = errors.New("block is not alive")

// BlockPointer is one block in the arena with everything the tree needs to
// reason about it. Genesis pointers have a nil Block and carry the era's
// genesis data instead.
type BlockPointer struct {
	Hash    types.BlockHash
	Block   *types.BakedBlock
	Genesis *types.GenesisData
	Height  types.BlockHeight
	Parent  *BlockPointer
	State   *blockstate.State

	// LastFinalizedHash is the LFB the block declared (or, for genesis,
	// itself).
	LastFinalizedHash types.BlockHash

	ReceiveTime time.Time
	ArriveTime  time.Time

	// TransactionEnergy is the total energy charged executing the block.
	TransactionEnergy types.Energy
}

// Slot returns the block's slot; genesis blocks sit at slot 0.
func (bp *BlockPointer) Slot() types.Slot {
	if bp.Block == nil {
		return 0
	}
	return bp.Block.Slot
}

// Items returns the block's items; genesis blocks have none.
func (bp *BlockPointer) Items() []*types.BlockItem {
	if bp.Block == nil {
		return nil
	}
	return bp.Block.Items
}

// FinalizedEntry pairs a finalization record with the block it finalized.
type FinalizedEntry struct {
	Record *types.FinalizationRecord
	Block  *BlockPointer
}

// Tree is the consensus tree state for one era.
type Tree struct {
	genesis      *BlockPointer
	genesisData  *types.GenesisData
	genesisIndex types.GenesisIndex

	statuses map[types.BlockHash]StatusKind
	arena    map[types.BlockHash]*BlockPointer

	// branches[h] lists the alive blocks at height lfb.Height+1+h, ordered
	// by (slot, hash) so sibling order never depends on arrival order.
	branches [][]*BlockPointer

	finalizationList  []FinalizedEntry
	finalizedByHeight map[types.BlockHeight]*BlockPointer

	focus *BlockPointer

	// PendingTransactions is consistent with the focus block.
	PendingTransactions *txtable.PendingTable

	// Transactions is the transaction table.
	Transactions *txtable.Table

	// NextEraState stages the next era's initial block state during a
	// protocol update.
	NextEraState *blockstate.State
}

// NewTree builds a fresh tree for an era from its genesis record and frozen
// genesis state.
func NewTree(gi types.GenesisIndex, gd *types.GenesisData, genesisState *blockstate.State, genesisRecord *types.FinalizationRecord) *Tree {
	gp := &BlockPointer{
		Hash:              gd.Hash(),
		Genesis:           gd,
		Height:            gd.StartingHeight,
		State:             genesisState,
		LastFinalizedHash: gd.Hash(),
		ReceiveTime:       gd.Core.GenesisTime.Time(),
		ArriveTime:        gd.Core.GenesisTime.Time(),
	}
	t := &Tree{
		genesis:             gp,
		genesisData:         gd,
		genesisIndex:        gi,
		statuses:            map[types.BlockHash]StatusKind{gp.Hash: StatusFinalized},
		arena:               map[types.BlockHash]*BlockPointer{gp.Hash: gp},
		finalizedByHeight:   map[types.BlockHeight]*BlockPointer{gp.Height: gp},
		focus:               gp,
		PendingTransactions: txtable.NewPendingTable(),
		Transactions:        txtable.NewTable(),
	}
	t.finalizationList = append(t.finalizationList, FinalizedEntry{Record: genesisRecord, Block: gp})
	return t
}

// Genesis returns the era's genesis pointer.
func (t *Tree) Genesis() *BlockPointer { return t.genesis }

// GenesisData returns the era's genesis record.
func (t *Tree) GenesisData() *types.GenesisData { return t.genesisData }

// GenesisIndex returns the era index.
func (t *Tree) GenesisIndex() types.GenesisIndex { return t.genesisIndex }

// Status returns a block's status kind.
func (t *Tree) Status(hash types.BlockHash) StatusKind {
	return t.statuses[hash]
}

// MarkPending records a pending status for a queued block.
func (t *Tree) MarkPending(hash types.BlockHash) {
	if t.statuses[hash] == StatusUnknown {
		t.statuses[hash] = StatusPending
	}
}

// MarkDead moves a block to the terminal dead status and drops it from the
// arena.
func (t *Tree) MarkDead(hash types.BlockHash) {
	t.statuses[hash] = StatusDead
	delete(t.arena, hash)
}

// Pointer returns the live/finalized block pointer for a hash, or nil.
func (t *Tree) Pointer(hash types.BlockHash) *BlockPointer {
	return t.arena[hash]
}

// LastFinalized returns the newest finalization-list entry's block.
func (t *Tree) LastFinalized() *BlockPointer {
	return t.finalizationList[len(t.finalizationList)-1].Block
}

// LastFinalizedRecord returns the newest finalization record.
func (t *Tree) LastFinalizedRecord() *types.FinalizationRecord {
	return t.finalizationList[len(t.finalizationList)-1].Record
}

// NextFinalizationIndex returns the index the next record must carry.
func (t *Tree) NextFinalizationIndex() types.FinalizationIndex {
	rec := t.LastFinalizedRecord()
	if rec == nil {
		return types.FinalizationIndex(len(t.finalizationList))
	}
	return rec.Index + 1
}

// FinalizationList returns the full list, oldest first.
func (t *Tree) FinalizationList() []FinalizedEntry { return t.finalizationList }

// FinalizedAtHeight returns the finalized block at a height, or nil.
func (t *Tree) FinalizedAtHeight(h types.BlockHeight) *BlockPointer {
	return t.finalizedByHeight[h]
}

// Focus returns the focus block.
func (t *Tree) Focus() *BlockPointer { return t.focus }

// SetFocus repoints the focus block, replaying the pending-transaction
// delta along the tree path between old and new focus.
func (t *Tree) SetFocus(newFocus *BlockPointer) {
	old := t.focus
	if old == newFocus {
		return
	}
	// Walk both sides up to the common ancestor. Blocks left behind rewind
	// (their transactions become pending again); blocks gained forward.
	var rewind, forward []*BlockPointer
	a, b := old, newFocus
	for a.Height > b.Height {
		rewind = append(rewind, a)
		a = a.Parent
	}
	for b.Height > a.Height {
		forward = append(forward, b)
		b = b.Parent
	}
	for a != b {
		rewind = append(rewind, a)
		forward = append(forward, b)
		a = a.Parent
		b = b.Parent
	}
	for _, bp := range rewind {
		t.PendingTransactions.RewindBlock(bp.Items())
	}
	// Forward was collected new-focus-first; replay oldest first.
	for i := len(forward) - 1; i >= 0; i-- {
		t.PendingTransactions.ForwardBlock(forward[i].Items())
	}
	t.focus = newFocus
}

// Branches returns the alive layers above the LFB.
func (t *Tree) Branches() [][]*BlockPointer { return t.branches }

// BranchLayer returns one layer (empty slice when out of range).
func (t *Tree) BranchLayer(i int) []*BlockPointer {
	if i < 0 || i >= len(t.branches) {
		return nil
	}
	return t.branches[i]
}

// AddAlive inserts an executed block into the arena and its branch layer.
func (t *Tree) AddAlive(bp *BlockPointer) {
	t.statuses[bp.Hash] = StatusAlive
	t.arena[bp.Hash] = bp
	layer := int(bp.Height - t.LastFinalized().Height - 1)
	for len(t.branches) <= layer {
		t.branches = append(t.branches, nil)
	}
	blocks := append(t.branches[layer], bp)
	sort.SliceStable(blocks, func(i, j int) bool {
		if blocks[i].Slot() != blocks[j].Slot() {
			return blocks[i].Slot() < blocks[j].Slot()
		}
		return lessHash(blocks[i].Hash, blocks[j].Hash)
	})
	t.branches[layer] = blocks
}

// IsAncestorOf walks parent links to decide whether a is an ancestor of (or
// equal to) b.
func IsAncestorOf(a, b *BlockPointer) bool {
	for b != nil && b.Height > a.Height {
		b = b.Parent
	}
	return b == a
}

// ApplyFinalization restructures the tree for a new LFB. It returns the
// newly finalized chain (oldest first, excluding the old LFB) and every
// block to mark dead, in decreasing height so parents outlive children.
// The caller owns persistence, transaction finalization and archival.
func (t *Tree) ApplyFinalization(record *types.FinalizationRecord, newLFB *BlockPointer) (finalized, removed []*BlockPointer) {
	oldLFB := t.LastFinalized()
	pruneHeight := int(newLFB.Height - oldLFB.Height)

	// Collect the finalized chain down from the new LFB.
	chain := make([]*BlockPointer, 0, pruneHeight)
	for bp := newLFB; bp != oldLFB; bp = bp.Parent {
		chain = append(chain, bp)
	}
	// Reverse into increasing-height order.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	onChain := make(map[types.BlockHash]bool, len(chain))
	for _, bp := range chain {
		onChain[bp.Hash] = true
	}

	// Trunk layers: everything in the pruned layers that is not an
	// ancestor of the new LFB dies.
	for layer := 0; layer < pruneHeight && layer < len(t.branches); layer++ {
		for _, bp := range t.branches[layer] {
			if !onChain[bp.Hash] {
				removed = append(removed, bp)
			}
		}
	}

	// Mark the chain finalized and append to the finalization list.
	for _, bp := range chain {
		t.statuses[bp.Hash] = StatusFinalized
		t.finalizedByHeight[bp.Height] = bp
	}
	t.finalizationList = append(t.finalizationList, FinalizedEntry{Record: record, Block: newLFB})

	// Prune the remaining layers: keep only blocks whose parent survived
	// the previous layer.
	kept := map[types.BlockHash]bool{newLFB.Hash: true}
	newBranches := make([][]*BlockPointer, 0, len(t.branches))
	for layer := pruneHeight; layer < len(t.branches); layer++ {
		var survivors []*BlockPointer
		for _, bp := range t.branches[layer] {
			if kept[bp.Block.Parent] {
				survivors = append(survivors, bp)
			} else {
				removed = append(removed, bp)
			}
		}
		next := make(map[types.BlockHash]bool, len(survivors))
		for _, bp := range survivors {
			next[bp.Hash] = true
		}
		kept = next
		newBranches = append(newBranches, survivors)
	}
	// Trim trailing empty layers.
	for len(newBranches) > 0 && len(newBranches[len(newBranches)-1]) == 0 {
		newBranches = newBranches[:len(newBranches)-1]
	}
	t.branches = newBranches

	// Kill in decreasing height order.
	sort.SliceStable(removed, func(i, j int) bool { return removed[i].Height > removed[j].Height })
	for _, bp := range removed {
		t.MarkDead(bp.Hash)
	}
	return chain, removed
}

// RestoreFinalized re-attaches a finalized block during crash recovery:
// statuses, height index, finalization list and focus move forward without
// any pruning (the persisted list is already linear).
func (t *Tree) RestoreFinalized(record *types.FinalizationRecord, bp *BlockPointer) {
	t.statuses[bp.Hash] = StatusFinalized
	t.arena[bp.Hash] = bp
	t.finalizedByHeight[bp.Height] = bp
	t.finalizationList = append(t.finalizationList, FinalizedEntry{Record: record, Block: bp})
	t.focus = bp
}

// AliveCount returns the number of alive blocks.
func (t *Tree) AliveCount() int {
	n := 0
	for _, layer := range t.branches {
		n += len(layer)
	}
	return n
}

func lessHash(a, b types.BlockHash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
