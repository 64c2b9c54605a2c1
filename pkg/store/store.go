// Copyright 2025 Certen Protocol
//
// Era-segmented persistent tree store
//
// Per era n the store keeps a treestate-<n>/ key-value environment (blocks,
// finalization records, transaction outcomes, snapshot offsets) and an
// append-only blockstate-<n>.dat segment of state snapshots. A finalization
// advance commits as one write batch; the segment file is appended before
// the batch so a crash leaves at worst unreferenced bytes.

package store

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/certen/permissioned-node/pkg/types"
)

// FormatVersion is the store's on-disk version tag.
const FormatVersion uint64 = 1

// segmentMagic heads newly created block-state segment files. Files
// migrated from the legacy layout may lack it; records are located through
// the offset index either way.
var segmentMagic = []byte("CPBS\x01")

// Key layout in the treestate environment.
var (
	keyVersion     = []byte("meta:version")
	keyLastFin     = []byte("meta:lastfin")
	keyBlockPrefix = []byte("block:")   // + hash -> block bytes
	keyHeightPre   = []byte("height:")  // + big-endian height -> hash
	keyFinPrefix   = []byte("finrec:")  // + big-endian index -> record bytes
	keyOutcomePre  = []byte("outcome:") // + tx hash -> block hash || u32 index
	keySnapPrefix  = []byte("snap:")    // + state hash -> u64 offset || u32 length
)

func blockKey(hash types.BlockHash) []byte     { return append(append([]byte{}, keyBlockPrefix...), hash[:]...) }
func heightKey(h types.BlockHeight) []byte     { return append(append([]byte{}, keyHeightPre...), types.EncodeUint64(uint64(h))...) }
func finKey(i types.FinalizationIndex) []byte  { return append(append([]byte{}, keyFinPrefix...), types.EncodeUint64(uint64(i))...) }
func outcomeKey(h types.TransactionHash) []byte { return append(append([]byte{}, keyOutcomePre...), h[:]...) }
func snapKey(h types.StateHash) []byte          { return append(append([]byte{}, keySnapPrefix...), h[:]...) }

// Store is one era's durable tree state.
type Store struct {
	rootDir string
	era     types.GenesisIndex
	db      dbm.DB
	segment *os.File
}

// Open opens (creating if needed) the era's store under rootDir, migrating
// a legacy unversioned layout first and stamping the version tag.
func Open(rootDir string, era types.GenesisIndex) (*Store, error) {
	if err := MigrateLegacyLayout(rootDir); err != nil {
		return nil, err
	}
	dir := filepath.Join(rootDir, fmt.Sprintf("treestate-%d", era))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create tree-state directory: %w", err)
	}
	db, err := dbm.NewDB("treestate", dbm.GoLevelDBBackend, dir)
	if err != nil {
		return nil, fmt.Errorf("open tree-state environment: %w", err)
	}
	return newStore(rootDir, era, db)
}

// NewWithDB wires a store over an externally provided environment; tests
// use this with an in-memory backend.
func NewWithDB(rootDir string, era types.GenesisIndex, db dbm.DB) (*Store, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return newStore(rootDir, era, db)
}

func newStore(rootDir string, era types.GenesisIndex, db dbm.DB) (*Store, error) {
	s := &Store{rootDir: rootDir, era: era, db: db}
	if err := s.stampVersion(); err != nil {
		db.Close()
		return nil, err
	}
	segPath := filepath.Join(rootDir, fmt.Sprintf("blockstate-%d.dat", era))
	fresh := false
	if _, err := os.Stat(segPath); os.IsNotExist(err) {
		fresh = true
	}
	seg, err := os.OpenFile(segPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open block-state segment: %w", err)
	}
	if fresh {
		if _, err := seg.Write(segmentMagic); err != nil {
			seg.Close()
			db.Close()
			return nil, fmt.Errorf("stamp block-state segment: %w", err)
		}
	}
	s.segment = seg
	return s, nil
}

func (s *Store) stampVersion() error {
	existing, err := s.db.Get(keyVersion)
	if err != nil {
		return fmt.Errorf("read version tag: %w", err)
	}
	if len(existing) == 0 {
		return s.db.SetSync(keyVersion, types.EncodeUint64(FormatVersion))
	}
	if binary.BigEndian.Uint64(existing) != FormatVersion {
		return fmt.Errorf("tree-state version %d, this build speaks %d", binary.BigEndian.Uint64(existing), FormatVersion)
	}
	return nil
}

// Era returns the era index this store serves.
func (s *Store) Era() types.GenesisIndex { return s.era }

// Close flushes and releases the store.
func (s *Store) Close() error {
	var first error
	if s.segment != nil {
		if err := s.segment.Sync(); err != nil && first == nil {
			first = err
		}
		if err := s.segment.Close(); err != nil && first == nil {
			first = err
		}
	}
	if err := s.db.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

// ====== Block-state segment ======

// WriteStateSnapshot appends a snapshot to the segment and indexes it by
// state hash. The index entry lands in the environment immediately; callers
// inside a finalization advance pass their commit batch instead.
func (s *Store) WriteStateSnapshot(hash types.StateHash, data []byte) error {
	offset, err := s.appendSnapshot(data)
	if err != nil {
		return err
	}
	return s.db.SetSync(snapKey(hash), encodeSnapRef(offset, uint32(len(data))))
}

func (s *Store) appendSnapshot(data []byte) (uint64, error) {
	offset, err := s.segment.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("seek block-state segment: %w", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := s.segment.Write(lenBuf[:]); err != nil {
		return 0, fmt.Errorf("append snapshot length: %w", err)
	}
	if _, err := s.segment.Write(data); err != nil {
		return 0, fmt.Errorf("append snapshot: %w", err)
	}
	if err := s.segment.Sync(); err != nil {
		return 0, fmt.Errorf("sync block-state segment: %w", err)
	}
	return uint64(offset), nil
}

// ReadStateSnapshot loads a snapshot by state hash.
func (s *Store) ReadStateSnapshot(hash types.StateHash) ([]byte, error) {
	ref, err := s.db.Get(snapKey(hash))
	if err != nil {
		return nil, fmt.Errorf("read snapshot index: %w", err)
	}
	if len(ref) != 12 {
		return nil, fmt.Errorf("no snapshot for state %s", hash)
	}
	offset, length := decodeSnapRef(ref)
	var lenBuf [4]byte
	if _, err := s.segment.ReadAt(lenBuf[:], int64(offset)); err != nil {
		return nil, fmt.Errorf("read snapshot header: %w", err)
	}
	if binary.BigEndian.Uint32(lenBuf[:]) != length {
		return nil, fmt.Errorf("snapshot length mismatch for state %s", hash)
	}
	data := make([]byte, length)
	if _, err := s.segment.ReadAt(data, int64(offset)+4); err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}

// HasStateSnapshot reports whether a snapshot is indexed.
func (s *Store) HasStateSnapshot(hash types.StateHash) bool {
	ref, err := s.db.Get(snapKey(hash))
	return err == nil && len(ref) == 12
}

func encodeSnapRef(offset uint64, length uint32) []byte {
	out := make([]byte, 12)
	binary.BigEndian.PutUint64(out[:8], offset)
	binary.BigEndian.PutUint32(out[8:], length)
	return out
}

func decodeSnapRef(ref []byte) (uint64, uint32) {
	return binary.BigEndian.Uint64(ref[:8]), binary.BigEndian.Uint32(ref[8:])
}

// ====== Finalization commit batches ======

// Commit batches one finalization advance; everything lands atomically in
// one synced write.
type Commit struct {
	store *Store
	batch dbm.Batch
}

// NewCommit opens a batch.
func (s *Store) NewCommit() *Commit {
	return &Commit{store: s, batch: s.db.NewBatch()}
}

// PutBlock records a block's canonical bytes and its height index entry.
func (c *Commit) PutBlock(hash types.BlockHash, height types.BlockHeight, data []byte) error {
	if err := c.batch.Set(blockKey(hash), data); err != nil {
		return err
	}
	return c.batch.Set(heightKey(height), hash[:])
}

// PutFinalizationRecord appends a record and advances the last-finalized
// marker.
func (c *Commit) PutFinalizationRecord(rec *types.FinalizationRecord) error {
	data, err := rec.Serialize()
	if err != nil {
		return err
	}
	if err := c.batch.Set(finKey(rec.Index), data); err != nil {
		return err
	}
	return c.batch.Set(keyLastFin, types.EncodeUint64(uint64(rec.Index)))
}

// PutTransactionOutcome records where a finalized transaction landed.
func (c *Commit) PutTransactionOutcome(tx types.TransactionHash, block types.BlockHash, index uint32) error {
	val := make([]byte, 36)
	copy(val[:32], block[:])
	binary.BigEndian.PutUint32(val[32:], index)
	return c.batch.Set(outcomeKey(tx), val)
}

// PutStateSnapshot appends the snapshot to the segment file and indexes it
// within the batch, keeping the reference atomic with the rest of the
// advance.
func (c *Commit) PutStateSnapshot(hash types.StateHash, data []byte) error {
	offset, err := c.store.appendSnapshot(data)
	if err != nil {
		return err
	}
	return c.batch.Set(snapKey(hash), encodeSnapRef(offset, uint32(len(data))))
}

// Write flushes the batch durably and closes it.
func (c *Commit) Write() error {
	if err := c.batch.WriteSync(); err != nil {
		return fmt.Errorf("commit finalization batch: %w", err)
	}
	return c.batch.Close()
}

// Discard abandons the batch.
func (c *Commit) Discard() {
	c.batch.Close()
}

// ====== Reads ======

// GetBlock returns a block's canonical bytes.
func (s *Store) GetBlock(hash types.BlockHash) ([]byte, error) {
	data, err := s.db.Get(blockKey(hash))
	if err != nil {
		return nil, fmt.Errorf("read block: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

// GetBlockHashAtHeight resolves the height index.
func (s *Store) GetBlockHashAtHeight(h types.BlockHeight) (types.BlockHash, bool, error) {
	data, err := s.db.Get(heightKey(h))
	if err != nil {
		return types.BlockHash{}, false, fmt.Errorf("read height index: %w", err)
	}
	if len(data) != 32 {
		return types.BlockHash{}, false, nil
	}
	var out types.BlockHash
	copy(out[:], data)
	return out, true, nil
}

// GetFinalizationRecord returns the record at an index, or nil.
func (s *Store) GetFinalizationRecord(i types.FinalizationIndex) (*types.FinalizationRecord, error) {
	data, err := s.db.Get(finKey(i))
	if err != nil {
		return nil, fmt.Errorf("read finalization record: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return types.DeserializeFinalizationRecord(data)
}

// LastFinalizationIndex returns the newest persisted record index.
func (s *Store) LastFinalizationIndex() (types.FinalizationIndex, bool, error) {
	data, err := s.db.Get(keyLastFin)
	if err != nil {
		return 0, false, fmt.Errorf("read last-finalization marker: %w", err)
	}
	if len(data) != 8 {
		return 0, false, nil
	}
	return types.FinalizationIndex(binary.BigEndian.Uint64(data)), true, nil
}

// GetTransactionOutcome resolves a finalized transaction's block and index.
func (s *Store) GetTransactionOutcome(tx types.TransactionHash) (types.BlockHash, uint32, bool, error) {
	data, err := s.db.Get(outcomeKey(tx))
	if err != nil {
		return types.BlockHash{}, 0, false, fmt.Errorf("read transaction outcome: %w", err)
	}
	if len(data) != 36 {
		return types.BlockHash{}, 0, false, nil
	}
	var block types.BlockHash
	copy(block[:], data[:32])
	return block, binary.BigEndian.Uint32(data[32:]), true, nil
}

// ====== Recovery ======

// RecoveredEra is what Recover hands back for tree reconstruction: the
// gap-free prefix of finalization records whose block bytes are present
// (the genesis entry at index 0 is kept without them). State snapshots are
// not checked.
type RecoveredEra struct {
	Records []*types.FinalizationRecord
	Blocks  [][]byte // canonical block bytes, aligned with Records; nil for genesis entries
}

// Recover walks the persisted finalization list from index 0 and truncates
// it to the latest consistent point: the first record after index 0 whose
// block bytes are missing ends the walk, and it and all later records are
// dropped. State snapshots are not checked here.
func (s *Store) Recover() (*RecoveredEra, error) {
	out := &RecoveredEra{}
	for i := types.FinalizationIndex(0); ; i++ {
		rec, err := s.GetFinalizationRecord(i)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			break
		}
		block, err := s.GetBlock(rec.BlockHash)
		if err != nil {
			return nil, err
		}
		if i > 0 && block == nil {
			// Tree state runs ahead of block data: truncate here.
			if err := s.truncateFrom(i); err != nil {
				return nil, err
			}
			break
		}
		out.Records = append(out.Records, rec)
		out.Blocks = append(out.Blocks, block)
	}
	return out, nil
}

func (s *Store) truncateFrom(start types.FinalizationIndex) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	for i := start; ; i++ {
		rec, err := s.GetFinalizationRecord(i)
		if err != nil {
			return err
		}
		if rec == nil {
			break
		}
		if err := batch.Delete(finKey(i)); err != nil {
			return err
		}
	}
	if start > 0 {
		if err := batch.Set(keyLastFin, types.EncodeUint64(uint64(start-1))); err != nil {
			return err
		}
	}
	return batch.WriteSync()
}
