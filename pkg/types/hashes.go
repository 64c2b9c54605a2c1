// Copyright 2025 Certen Protocol
//
// Content-addressed identifiers. Every identifier is the SHA-256 of the
// canonical RLP serialization of the thing it names, so equal logical values
// hash equally across implementations.

package types

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/ethereum/go-ethereum/rlp"
)

// BlockHash is the content hash of a block's canonical serialization.
type BlockHash [32]byte

// TransactionHash is the content hash of a block item's canonical
// serialization.
type TransactionHash [32]byte

// StateHash is the structural hash of a frozen block state.
type StateHash [32]byte

// ModuleRef is the content hash of a deployed module artifact.
type ModuleRef [32]byte

// CredentialRegID is the registration id of an account credential. It is
// opaque to the core; uniqueness across history is enforced at deployment.
type CredentialRegID [48]byte

func (h BlockHash) String() string       { return hex.EncodeToString(h[:]) }
func (h TransactionHash) String() string { return hex.EncodeToString(h[:]) }
func (h StateHash) String() string       { return hex.EncodeToString(h[:]) }
func (h ModuleRef) String() string       { return hex.EncodeToString(h[:]) }
func (r CredentialRegID) String() string { return hex.EncodeToString(r[:]) }

// IsZero reports whether the hash is the all-zero placeholder.
func (h BlockHash) IsZero() bool { return h == BlockHash{} }

// HashBytes is the plain SHA-256 of raw bytes.
func HashBytes(b []byte) [32]byte {
	return sha256.Sum256(b)
}

// HashOf canonically serializes v with RLP and hashes the result.
// It panics on unserializable values; all core types are serializable by
// construction, so a failure here is a programming error.
func HashOf(v interface{}) [32]byte {
	b, err := rlp.EncodeToBytes(v)
	if err != nil {
		panic("types: unserializable value: " + err.Error())
	}
	return sha256.Sum256(b)
}
