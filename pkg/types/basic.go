// Copyright 2025 Certen Protocol
//
// Basic chain quantities shared by every consensus component.

package types

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"
)

// Slot is the integer time index blocks are baked for.
type Slot uint64

// BlockHeight is the distance of a block from the initial genesis, in blocks.
type BlockHeight uint64

// Epoch numbers the seed-state rotation periods within an era.
type Epoch uint64

// Nonce is a per-account transaction sequence number. The first valid nonce
// for a fresh account is 1.
type Nonce uint64

// MinNonce is the nonce expected from an account that has never sent.
const MinNonce Nonce = 1

// UpdateSequenceNumber orders chain updates of a single update type.
type UpdateSequenceNumber uint64

// FinalizationIndex numbers finalization records, gap-free from 0.
type FinalizationIndex uint64

// GenesisIndex identifies the era a message belongs to; 0 is the initial
// genesis, each regenesis increments it.
type GenesisIndex uint32

// BakerID identifies a baker within the baker table of a block state.
type BakerID uint64

// Energy is the execution cost unit for transactions.
type Energy uint64

// Amount is a GTU amount in the smallest denomination.
type Amount uint64

// Timestamp is a moment in time, in milliseconds since the Unix epoch.
type Timestamp uint64

// Duration is a span of time in milliseconds.
type Duration uint64

// TimestampFromTime converts a time.Time to a chain timestamp.
func TimestampFromTime(t time.Time) Timestamp {
	return Timestamp(t.UnixMilli())
}

// Time converts the timestamp back to a time.Time.
func (ts Timestamp) Time() time.Time {
	return time.UnixMilli(int64(ts))
}

// AddDuration returns the timestamp shifted forward by d.
func (ts Timestamp) AddDuration(d Duration) Timestamp {
	return ts + Timestamp(d)
}

// AccountAddress identifies an account. Addresses are derived from the
// registration id of the account's first credential.
type AccountAddress [32]byte

// String returns the hex form of the address.
func (a AccountAddress) String() string {
	return hex.EncodeToString(a[:])
}

// ContractAddress identifies a smart contract instance.
type ContractAddress struct {
	Index    uint64
	Subindex uint64
}

func (c ContractAddress) String() string {
	return fmt.Sprintf("<%d,%d>", c.Index, c.Subindex)
}

// AccountIndex is the position of an account in the account table, assigned
// at creation and never reused.
type AccountIndex uint64

// ProtocolVersion tags the consensus rules an era runs under. Versioned
// dispatch happens at era boundaries only.
type ProtocolVersion uint32

const (
	ProtocolVersion1 ProtocolVersion = 1
	ProtocolVersion2 ProtocolVersion = 2
	ProtocolVersion3 ProtocolVersion = 3
)

// Supported reports whether this build knows the version's rules.
func (pv ProtocolVersion) Supported() bool {
	return pv >= ProtocolVersion1 && pv <= ProtocolVersion3
}

// EncodeUint64 is the canonical big-endian encoding used in store keys and
// content hashes.
func EncodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
