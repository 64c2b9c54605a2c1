// Copyright 2025 Certen Protocol
//
// Pending-block table
//
// Blocks that arrive before their parent wait here, keyed by the unknown
// parent hash. A slot-ordered priority queue over (child, parent) pairs
// lets finalization drop every pending block whose slot can no longer enter
// the tree. Queue entries can go stale when the same block is resolved
// through another path; consumers skip those.

package pending

import (
	"container/heap"
	"time"

	"github.com/certen/permissioned-node/pkg/types"
)

// Block is one queued pending block.
type Block struct {
	Hash     types.BlockHash
	Block    *types.BakedBlock
	Received time.Time
}

// queueEntry is one (child, parent) pair in the slot queue.
type queueEntry struct {
	slot   types.Slot
	child  types.BlockHash
	parent types.BlockHash
}

// slotQueue is a min-heap on slot.
type slotQueue []queueEntry

func (q slotQueue) Len() int            { return len(q) }
func (q slotQueue) Less(i, j int) bool  { return q[i].slot < q[j].slot }
func (q slotQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *slotQueue) Push(x interface{}) { *q = append(*q, x.(queueEntry)) }
func (q *slotQueue) Pop() interface{} {
	old := *q
	n := len(old)
	entry := old[n-1]
	*q = old[:n-1]
	return entry
}

// Table is the pending-block table. Single-writer under the coordinator.
type Table struct {
	byParent map[types.BlockHash][]*Block
	known    map[types.BlockHash]*Block
	queue    slotQueue
}

// NewTable creates an empty pending table.
func NewTable() *Table {
	return &Table{
		byParent: make(map[types.BlockHash][]*Block),
		known:    make(map[types.BlockHash]*Block),
	}
}

// AddPending attaches a block under its (unknown or pending) parent and
// enqueues it by slot.
func (t *Table) AddPending(b *Block) {
	if _, dup := t.known[b.Hash]; dup {
		return
	}
	t.known[b.Hash] = b
	t.byParent[b.Block.Parent] = append(t.byParent[b.Block.Parent], b)
	heap.Push(&t.queue, queueEntry{slot: b.Block.Slot, child: b.Hash, parent: b.Block.Parent})
}

// Lookup returns a still-pending block by hash, or nil.
func (t *Table) Lookup(hash types.BlockHash) *Block {
	return t.known[hash]
}

// TakeChildrenOf atomically removes and returns all pending children of the
// parent.
func (t *Table) TakeChildrenOf(parent types.BlockHash) []*Block {
	children := t.byParent[parent]
	if len(children) == 0 {
		return nil
	}
	delete(t.byParent, parent)
	for _, c := range children {
		delete(t.known, c.Hash)
	}
	// Queue entries for these children go stale and are skipped on pop.
	return children
}

// TakeNextUntil pops the lowest-slot still-pending block with slot at or
// below the cap, skipping entries resolved through another path. Returns
// nil when no such block remains.
func (t *Table) TakeNextUntil(slotCap types.Slot) *Block {
	for t.queue.Len() > 0 {
		if t.queue[0].slot > slotCap {
			return nil
		}
		entry := heap.Pop(&t.queue).(queueEntry)
		b, ok := t.known[entry.child]
		if !ok {
			continue // stale
		}
		delete(t.known, entry.child)
		siblings := t.byParent[entry.parent]
		for i, s := range siblings {
			if s.Hash == entry.child {
				t.byParent[entry.parent] = append(siblings[:i], siblings[i+1:]...)
				break
			}
		}
		if len(t.byParent[entry.parent]) == 0 {
			delete(t.byParent, entry.parent)
		}
		return b
	}
	return nil
}

// Size returns the number of still-pending blocks.
func (t *Table) Size() int { return len(t.known) }
