// Copyright 2025 Certen Protocol
//
// The consensus coordinator
//
// A single logical serial writer owns the tree, the transaction table, the
// pending tables and the persistent store. Network ingress, the baker and
// queries go through the coordinator's lock; signature verification and
// other expensive read-only work happens outside it. Host integration is a
// small capability record handed in at construction; callbacks fire inside
// the critical section so observers never see a state without its
// announcement.

package consensus

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/certen/permissioned-node/pkg/blockstate"
	"github.com/certen/permissioned-node/pkg/pending"
	"github.com/certen/permissioned-node/pkg/scheduler"
	"github.com/certen/permissioned-node/pkg/store"
	"github.com/certen/permissioned-node/pkg/tree"
	"github.com/certen/permissioned-node/pkg/types"
)

// Callbacks is the host capability record. Nil members are skipped.
type Callbacks struct {
	// Broadcast relays a message to peers.
	Broadcast func(mt types.MessageType, gi types.GenesisIndex, body []byte)

	// OnBlockArrived fires when a block becomes alive.
	OnBlockArrived func(hash types.BlockHash, height types.BlockHeight)

	// OnPendingLive fires exactly once when a formerly pending block is
	// promoted to alive.
	OnPendingLive func(hash types.BlockHash)

	// OnFinalized fires after a finalization advance commits.
	OnFinalized func(rec *types.FinalizationRecord, lfb types.BlockHash)

	// OnRegenesis hands the host the next era's genesis hash.
	OnRegenesis func(genesis types.BlockHash)
}

// Options are the core runtime parameters (see pkg/config for sources).
type Options struct {
	MaxBlockSize          int
	EarlyBlockThreshold   time.Duration
	InsertionsBeforePurge int
	KeepAlive             time.Duration
	AccountsCacheSize     int
	ModulesCacheSize      int
}

// FinalizerInfo describes who produced a finalization proof; execution uses
// it for reward accounting.
type FinalizerInfo struct {
	Committee []types.BakerID
	Signers   []uint32
}

// RecordVerifier is the finalization oracle's validity interface: a black
// box that accepts or rejects a record against a state's committee.
type RecordVerifier interface {
	Verify(rec *types.FinalizationRecord, s *blockstate.State) (FinalizerInfo, bool)
}

// Consensus is one era's coordinator.
type Consensus struct {
	mu sync.Mutex

	tree    *tree.Tree
	store   *store.Store
	caches  *blockstate.Caches
	engine  scheduler.Engine
	oracle  RecordVerifier
	hooks   Callbacks
	opts    Options
	metrics *Metrics
	logger  *log.Logger

	// now is injectable for tests.
	now func() time.Time

	pendingBlocks  *pending.Table
	pendingRecords map[types.FinalizationIndex]*types.FinalizationRecord

	// shutdown latches once finalization reaches a pending protocol update's
	// effective time; receives return
	// ConsensusShutDown but finalization still runs.
	shutdown bool

	// Staged next era after the terminal block finalizes.
	nextGenesis *types.GenesisData
}

// New builds a coordinator for an era.
func New(gi types.GenesisIndex, gd *types.GenesisData, genesisState *blockstate.State, st *store.Store,
	engine scheduler.Engine, oracle RecordVerifier, hooks Callbacks, opts Options, reg prometheus.Registerer) (*Consensus, error) {

	if gd.Core.SlotDuration == 0 || gd.Core.EpochLength == 0 {
		return nil, fmt.Errorf("genesis core parameters unusable: slot duration and epoch length must be positive")
	}
	genesisState.Freeze()
	stateHash, _ := genesisState.Hash()
	if stateHash != gd.StateHash {
		return nil, fmt.Errorf("genesis state hash %s does not match genesis record %s", stateHash, gd.StateHash)
	}

	genesisRecord := &types.FinalizationRecord{Index: 0, BlockHash: gd.Hash()}
	c := &Consensus{
		tree:           tree.NewTree(gi, gd, genesisState, genesisRecord),
		store:          st,
		engine:         engine,
		oracle:         oracle,
		hooks:          hooks,
		opts:           opts,
		metrics:        NewMetrics(reg),
		logger:         log.New(log.Writer(), fmt.Sprintf("[consensus:%d] ", gi), log.LstdFlags),
		now:            time.Now,
		pendingBlocks:  pending.NewTable(),
		pendingRecords: make(map[types.FinalizationIndex]*types.FinalizationRecord),
	}
	c.caches = blockstate.NewCaches(opts.AccountsCacheSize, opts.ModulesCacheSize, c.loadModule)
	if st != nil {
		if err := c.persistGenesis(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// loadModule serves module-cache misses from the newest state that still
// carries the artifact, then from any loaded snapshot.
func (c *Consensus) loadModule(ref types.ModuleRef) (*blockstate.Module, error) {
	lfb := c.tree.LastFinalized()
	if lfb.State != nil {
		if m, err := lfb.State.GetModule(ref); err == nil && len(m.Artifact) > 0 {
			return m, nil
		}
	}
	for _, layer := range c.tree.Branches() {
		for _, bp := range layer {
			if m, err := bp.State.GetModule(ref); err == nil && len(m.Artifact) > 0 {
				return m, nil
			}
		}
	}
	return nil, blockstate.ErrNotFound
}

// persistGenesis writes the era's genesis artifacts.
func (c *Consensus) persistGenesis() error {
	gd := c.tree.GenesisData()
	genesisState := c.tree.Genesis().State
	snap, err := genesisState.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot genesis state: %w", err)
	}
	data, err := blockstate.MarshalSnapshot(snap)
	if err != nil {
		return err
	}
	if !c.store.HasStateSnapshot(snap.Hash) {
		if err := c.store.WriteStateSnapshot(snap.Hash, data); err != nil {
			return fmt.Errorf("persist genesis state: %w", err)
		}
	}
	commit := c.store.NewCommit()
	gdBytes, err := gd.Serialize()
	if err != nil {
		commit.Discard()
		return err
	}
	if err := commit.PutBlock(gd.Hash(), gd.StartingHeight, gdBytes); err != nil {
		commit.Discard()
		return err
	}
	if err := commit.PutFinalizationRecord(c.tree.LastFinalizedRecord()); err != nil {
		commit.Discard()
		return err
	}
	return commit.Write()
}

// Tree exposes the tree for queries; callers must treat it as read-only
// and take snapshots under Lock/Unlock for consistency.
func (c *Consensus) Tree() *tree.Tree { return c.tree }

// Metrics exposes the statistics block.
func (c *Consensus) Metrics() *Metrics { return c.metrics }

// SetClock injects a time source; tests drive this.
func (c *Consensus) SetClock(now func() time.Time) { c.now = now }

// IsShutDown reports whether a pending protocol update stopped reception.
func (c *Consensus) IsShutDown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdown
}

// NextEra returns the staged regenesis data and initial state once the
// terminal block has finalized.
func (c *Consensus) NextEra() (*types.GenesisData, *blockstate.State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nextGenesis == nil {
		return nil, nil, false
	}
	return c.nextGenesis, c.tree.NextEraState, true
}

// broadcast relays a message if the host wired the capability.
func (c *Consensus) broadcast(mt types.MessageType, body []byte) {
	if c.hooks.Broadcast != nil {
		c.hooks.Broadcast(mt, c.tree.GenesisIndex(), body)
	}
}

// slotTimeOf maps a slot to wall clock for this era.
func (c *Consensus) slotTimeOf(slot types.Slot) time.Time {
	return c.tree.GenesisData().Core.SlotTime(slot).Time()
}

// PurgeTransactions runs the table purge. Called on the configured cadence
// and after enough insertions.
func (c *Consensus) PurgeTransactions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.purgeTransactionsLocked()
}

func (c *Consensus) purgeTransactionsLocked() int {
	lfbSlot := c.tree.LastFinalized().Slot()
	dropped := c.tree.Transactions.Purge(c.now(), lfbSlot, c.opts.KeepAlive)
	if len(dropped) > 0 {
		c.metrics.TransactionsPurged.Add(float64(len(dropped)))
		c.logger.Printf("purged %d stale transactions", len(dropped))
	}
	return len(dropped)
}
