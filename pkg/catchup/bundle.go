// Copyright 2025 Certen Protocol
//
// Versioned block-bundle export format (v3)
//
// A bundle is a sequence of chunk files. Each chunk is a fixed header
// (magic, version, chunk index) followed by length-prefixed entries holding
// blocks and finalization records in causal order. An index file summarizes
// the height range per chunk so an importer can skip chunks whose blocks it
// already has.

package catchup

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/certen/permissioned-node/pkg/types"
)

// BundleVersion is the current export format version.
const BundleVersion uint8 = 3

var bundleMagic = [4]byte{'C', 'P', 'E', 'X'}

// ErrMissingImportFile is returned when a referenced chunk file is absent.
var ErrMissingImportFile = errors.New("missing import file")

// ErrBadBundle is returned for malformed chunk contents.
var ErrBadBundle = errors.New("malformed block bundle")

// EntryKind tags chunk entries.
type EntryKind uint8

const (
	EntryBlock              EntryKind = 0
	EntryFinalizationRecord EntryKind = 1
)

// Entry is one element of a chunk in causal order.
type Entry struct {
	Kind EntryKind
	Data []byte
}

// IndexFile lists the chunks of a bundle with their height coverage.
type IndexFile struct {
	Version uint8        `json:"version"`
	Chunks  []ChunkIndex `json:"chunks"`
}

// ChunkIndex is one chunk's summary.
type ChunkIndex struct {
	File        string            `json:"file"`
	ChunkIndex  uint32            `json:"chunkIndex"`
	FirstHeight types.BlockHeight `json:"firstHeight"`
	LastHeight  types.BlockHeight `json:"lastHeight"`
}

// WriteChunk writes one chunk file.
func WriteChunk(w io.Writer, chunkIndex uint32, entries []Entry) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(bundleMagic[:]); err != nil {
		return err
	}
	if err := bw.WriteByte(BundleVersion); err != nil {
		return err
	}
	var idxBuf [4]byte
	binary.BigEndian.PutUint32(idxBuf[:], chunkIndex)
	if _, err := bw.Write(idxBuf[:]); err != nil {
		return err
	}
	for _, e := range entries {
		if err := bw.WriteByte(byte(e.Kind)); err != nil {
			return err
		}
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(e.Data)))
		if _, err := bw.Write(lenBuf[:]); err != nil {
			return err
		}
		if _, err := bw.Write(e.Data); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadChunk parses one chunk file.
func ReadChunk(r io.Reader) (uint32, []Entry, error) {
	br := bufio.NewReader(r)
	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return 0, nil, fmt.Errorf("%w: short magic", ErrBadBundle)
	}
	if magic != bundleMagic {
		return 0, nil, fmt.Errorf("%w: bad magic", ErrBadBundle)
	}
	version, err := br.ReadByte()
	if err != nil {
		return 0, nil, fmt.Errorf("%w: short version", ErrBadBundle)
	}
	if version != BundleVersion {
		return 0, nil, fmt.Errorf("%w: version %d, want %d", ErrBadBundle, version, BundleVersion)
	}
	var idxBuf [4]byte
	if _, err := io.ReadFull(br, idxBuf[:]); err != nil {
		return 0, nil, fmt.Errorf("%w: short chunk index", ErrBadBundle)
	}
	chunkIndex := binary.BigEndian.Uint32(idxBuf[:])

	var entries []Entry
	for {
		kind, err := br.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, nil, fmt.Errorf("%w: %v", ErrBadBundle, err)
		}
		var lenBuf [4]byte
		if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
			return 0, nil, fmt.Errorf("%w: short entry length", ErrBadBundle)
		}
		data := make([]byte, binary.BigEndian.Uint32(lenBuf[:]))
		if _, err := io.ReadFull(br, data); err != nil {
			return 0, nil, fmt.Errorf("%w: short entry", ErrBadBundle)
		}
		entries = append(entries, Entry{Kind: EntryKind(kind), Data: data})
	}
	return chunkIndex, entries, nil
}

// WriteIndex writes the bundle index file.
func WriteIndex(dir string, idx *IndexFile) error {
	idx.Version = BundleVersion
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal bundle index: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "blocks.idx"), data, 0o644)
}

// ReadIndex loads the bundle index file.
func ReadIndex(dir string) (*IndexFile, error) {
	data, err := os.ReadFile(filepath.Join(dir, "blocks.idx"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrMissingImportFile
		}
		return nil, fmt.Errorf("read bundle index: %w", err)
	}
	var idx IndexFile
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parse bundle index: %w", err)
	}
	if idx.Version != BundleVersion {
		return nil, fmt.Errorf("%w: index version %d", ErrBadBundle, idx.Version)
	}
	return &idx, nil
}

// ImportFunc consumes one entry; returning an error aborts the import.
type ImportFunc func(Entry) error

// ImportBundle walks the indexed chunks in order, skipping chunks whose
// whole height range is at or below alreadyAt, and feeds the remaining
// entries to fn.
func ImportBundle(dir string, alreadyAt types.BlockHeight, fn ImportFunc) error {
	idx, err := ReadIndex(dir)
	if err != nil {
		return err
	}
	for _, chunk := range idx.Chunks {
		if chunk.LastHeight <= alreadyAt {
			continue
		}
		f, err := os.Open(filepath.Join(dir, chunk.File))
		if err != nil {
			if os.IsNotExist(err) {
				return ErrMissingImportFile
			}
			return fmt.Errorf("open chunk %s: %w", chunk.File, err)
		}
		gotIdx, entries, err := ReadChunk(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("chunk %s: %w", chunk.File, err)
		}
		if gotIdx != chunk.ChunkIndex {
			return fmt.Errorf("%w: chunk %s numbered %d, index says %d", ErrBadBundle, chunk.File, gotIdx, chunk.ChunkIndex)
		}
		for _, e := range entries {
			if err := fn(e); err != nil {
				return err
			}
		}
	}
	return nil
}
