// Copyright 2025 Certen Protocol
//
// Store tests

package store

import (
	"os"
	"path/filepath"
	"testing"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/certen/permissioned-node/pkg/types"
)

func memStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewWithDB(t.TempDir(), 0, dbm.NewMemDB())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord(i types.FinalizationIndex, hash byte) *types.FinalizationRecord {
	return &types.FinalizationRecord{Index: i, BlockHash: types.BlockHash{hash}}
}

func TestCommit_RoundTrip(t *testing.T) {
	s := memStore(t)

	c := s.NewCommit()
	blockHash := types.BlockHash{1}
	if err := c.PutBlock(blockHash, 5, []byte("block-bytes")); err != nil {
		t.Fatalf("put block: %v", err)
	}
	rec := testRecord(0, 1)
	if err := c.PutFinalizationRecord(rec); err != nil {
		t.Fatalf("put record: %v", err)
	}
	txHash := types.TransactionHash{7}
	if err := c.PutTransactionOutcome(txHash, blockHash, 3); err != nil {
		t.Fatalf("put outcome: %v", err)
	}
	if err := c.Write(); err != nil {
		t.Fatalf("write: %v", err)
	}

	data, err := s.GetBlock(blockHash)
	if err != nil || string(data) != "block-bytes" {
		t.Errorf("block round trip: %q, %v", data, err)
	}
	gotHash, ok, err := s.GetBlockHashAtHeight(5)
	if err != nil || !ok || gotHash != blockHash {
		t.Errorf("height index round trip: %v %v %v", gotHash, ok, err)
	}
	gotRec, err := s.GetFinalizationRecord(0)
	if err != nil || gotRec == nil || !gotRec.Equal(rec) {
		t.Errorf("record round trip: %v, %v", gotRec, err)
	}
	last, ok, err := s.LastFinalizationIndex()
	if err != nil || !ok || last != 0 {
		t.Errorf("last index: %d %v %v", last, ok, err)
	}
	block, idx, ok, err := s.GetTransactionOutcome(txHash)
	if err != nil || !ok || block != blockHash || idx != 3 {
		t.Errorf("outcome round trip: %v %d %v %v", block, idx, ok, err)
	}
}

func TestStateSnapshot_RoundTrip(t *testing.T) {
	s := memStore(t)
	hash := types.StateHash{9}
	payload := []byte(`{"fake":"snapshot"}`)
	if err := s.WriteStateSnapshot(hash, payload); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	got, err := s.ReadStateSnapshot(hash)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("snapshot round trip: %q", got)
	}
	if !s.HasStateSnapshot(hash) {
		t.Error("HasStateSnapshot false after write")
	}
	if s.HasStateSnapshot(types.StateHash{1}) {
		t.Error("HasStateSnapshot true for unknown hash")
	}
}

func TestRecover_TruncatesToConsistentPrefix(t *testing.T) {
	s := memStore(t)

	// Genesis entry has no block bytes.
	c := s.NewCommit()
	c.PutFinalizationRecord(testRecord(0, 1))
	c.PutBlock(types.BlockHash{2}, 1, []byte("b2"))
	c.PutFinalizationRecord(testRecord(1, 2))
	if err := c.Write(); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Record 2 references a block that was never persisted.
	c = s.NewCommit()
	c.PutFinalizationRecord(testRecord(2, 3))
	if err := c.Write(); err != nil {
		t.Fatalf("write: %v", err)
	}

	rec, err := s.Recover()
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if len(rec.Records) != 2 {
		t.Fatalf("recovered %d records, want 2", len(rec.Records))
	}
	if got, _ := s.GetFinalizationRecord(2); got != nil {
		t.Error("inconsistent record not truncated")
	}
	last, ok, _ := s.LastFinalizationIndex()
	if !ok || last != 1 {
		t.Errorf("last index after truncate = %d, want 1", last)
	}
}

func TestMigrateLegacyLayout(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "blockstate.dat"), []byte("legacy"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "treestate"), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := MigrateLegacyLayout(root); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "blockstate-0.dat")); err != nil {
		t.Error("segment not renamed")
	}
	if _, err := os.Stat(filepath.Join(root, "treestate-0")); err != nil {
		t.Error("tree directory not renamed")
	}
	if _, err := os.Stat(filepath.Join(root, "blockstate.dat")); !os.IsNotExist(err) {
		t.Error("legacy segment still present")
	}
	// Second run is a no-op.
	if err := MigrateLegacyLayout(root); err != nil {
		t.Errorf("second migrate: %v", err)
	}
}

func TestVersionTag_Stamped(t *testing.T) {
	db := dbm.NewMemDB()
	root := t.TempDir()
	s, err := NewWithDB(root, 0, db)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	tag, err := db.Get([]byte("meta:version"))
	if err != nil || len(tag) != 8 {
		t.Fatalf("version tag missing: %v %v", tag, err)
	}
}
