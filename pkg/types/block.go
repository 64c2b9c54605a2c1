// Copyright 2025 Certen Protocol
//
// Blocks and finalization records: the canonical wire structures the tree
// operates on. A block is either era genesis data or a baked block; only
// baked blocks travel on the wire, genesis records are produced locally at
// era boundaries.

package types

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// FinalizationProof witnesses that a quorum of the finalization committee
// signed off on a block. Signer indices refer to the committee of the
// finalization session; the signature is a BLS aggregate.
type FinalizationProof struct {
	SignerIndices      []uint32
	AggregateSignature []byte
}

// FinalizationRecord states that the block with the given hash is the
// finalized block at the given index.
type FinalizationRecord struct {
	Index     FinalizationIndex
	BlockHash BlockHash
	Delay     uint64
	Proof     FinalizationProof
}

// SigningBytes is the message the committee members sign.
func (r *FinalizationRecord) SigningBytes() []byte {
	b, err := rlp.EncodeToBytes([]interface{}{r.Index, r.BlockHash, r.Delay})
	if err != nil {
		panic("types: finalization signing bytes: " + err.Error())
	}
	return b
}

// Serialize returns the record's canonical bytes.
func (r *FinalizationRecord) Serialize() ([]byte, error) {
	return rlp.EncodeToBytes(r)
}

// DeserializeFinalizationRecord parses a record from canonical bytes.
func DeserializeFinalizationRecord(b []byte) (*FinalizationRecord, error) {
	rec := new(FinalizationRecord)
	if err := rlp.DecodeBytes(b, rec); err != nil {
		return nil, fmt.Errorf("deserialize finalization record: %w", err)
	}
	return rec, nil
}

// BakedBlock is a block produced by a baker. Height is not serialized; it is
// derived from the parent on arrival and checked against the tree.
type BakedBlock struct {
	Slot          Slot
	Parent        BlockHash
	Baker         BakerID
	BakerKey      []byte // claimed signing key, checked against the parent state
	Proof         []byte // leadership-election proof
	BlockNonce    []byte // VRF output feeding the seed state
	LastFinalized BlockHash
	Finalization  *FinalizationRecord `rlp:"nil"`
	Items         []*BlockItem
	StateHash     StateHash
	OutcomesHash  [32]byte
	Signature     []byte
}

// SigningBytes returns the bytes the baker signs: the whole block minus the
// signature itself.
func (b *BakedBlock) SigningBytes() []byte {
	unsigned := *b
	unsigned.Signature = nil
	enc, err := rlp.EncodeToBytes(&unsigned)
	if err != nil {
		panic("types: block signing bytes: " + err.Error())
	}
	return enc
}

// Serialize returns the block's canonical bytes.
func (b *BakedBlock) Serialize() ([]byte, error) {
	return rlp.EncodeToBytes(b)
}

// DeserializeBakedBlock parses a baked block from canonical bytes.
func DeserializeBakedBlock(data []byte) (*BakedBlock, error) {
	b := new(BakedBlock)
	if err := rlp.DecodeBytes(data, b); err != nil {
		return nil, fmt.Errorf("deserialize block: %w", err)
	}
	return b, nil
}

// Hash computes the block's content hash.
func (b *BakedBlock) Hash() BlockHash {
	enc, err := b.Serialize()
	if err != nil {
		panic("types: unserializable block: " + err.Error())
	}
	return BlockHash(HashBytes(enc))
}

// GenesisCore carries the consensus parameters every era restates. A
// regenesis carries them forward from the prior era.
type GenesisCore struct {
	GenesisTime               Timestamp
	SlotDuration              Duration
	EpochLength               uint64
	MaxBlockEnergy            Energy
	FinalizationMinSkip       uint64
	FinalizationCommitteeSize uint32
}

// GenesisData is the era-initial record. For the initial era (index 0) the
// regenesis fields are zero; for later eras they link the era to its
// predecessors.
type GenesisData struct {
	Core            GenesisCore
	ProtocolVersion ProtocolVersion
	StateHash       StateHash

	// Regenesis linkage; zero for the initial genesis.
	FirstGenesis    BlockHash
	PreviousGenesis BlockHash
	TerminalBlock   BlockHash
	StartingHeight  BlockHeight
}

// IsRegenesis reports whether this record starts a non-initial era.
func (g *GenesisData) IsRegenesis() bool {
	return !g.TerminalBlock.IsZero()
}

// Serialize returns the record's canonical bytes.
func (g *GenesisData) Serialize() ([]byte, error) {
	return rlp.EncodeToBytes(g)
}

// DeserializeGenesisData parses a genesis record from canonical bytes.
func DeserializeGenesisData(b []byte) (*GenesisData, error) {
	g := new(GenesisData)
	if err := rlp.DecodeBytes(b, g); err != nil {
		return nil, fmt.Errorf("deserialize genesis data: %w", err)
	}
	return g, nil
}

// Hash computes the genesis record's content hash, which doubles as the
// era's genesis block hash.
func (g *GenesisData) Hash() BlockHash {
	enc, err := g.Serialize()
	if err != nil {
		panic("types: unserializable genesis data: " + err.Error())
	}
	return BlockHash(HashBytes(enc))
}

// SlotTime maps a slot to wall-clock time under these parameters.
func (g *GenesisCore) SlotTime(s Slot) Timestamp {
	return g.GenesisTime + Timestamp(uint64(g.SlotDuration)*uint64(s))
}

// SlotOfTime maps a wall-clock time to the slot containing it.
func (g *GenesisCore) SlotOfTime(ts Timestamp) Slot {
	if ts <= g.GenesisTime || g.SlotDuration == 0 {
		return 0
	}
	return Slot(uint64(ts-g.GenesisTime) / uint64(g.SlotDuration))
}

// EpochOfSlot maps a slot to its epoch.
func (g *GenesisCore) EpochOfSlot(s Slot) Epoch {
	if g.EpochLength == 0 {
		return 0
	}
	return Epoch(uint64(s) / g.EpochLength)
}

// Equal compares two finalization records field by field.
func (r *FinalizationRecord) Equal(o *FinalizationRecord) bool {
	if r == nil || o == nil {
		return r == o
	}
	if r.Index != o.Index || r.BlockHash != o.BlockHash || r.Delay != o.Delay {
		return false
	}
	if len(r.Proof.SignerIndices) != len(o.Proof.SignerIndices) {
		return false
	}
	for i, s := range r.Proof.SignerIndices {
		if o.Proof.SignerIndices[i] != s {
			return false
		}
	}
	return bytes.Equal(r.Proof.AggregateSignature, o.Proof.AggregateSignature)
}
