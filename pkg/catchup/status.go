// Copyright 2025 Certen Protocol
//
// Catch-up status messages
// A node falling behind sends its tree summary; the peer answers with the
// blocks and finalization records the sender is missing, as a bounded burst
// of direct messages through a caller-supplied send capability.

package catchup

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/google/uuid"

	"github.com/certen/permissioned-node/pkg/types"
)

// MaxResponseMessages bounds the direct-send burst a single status message
// may trigger.
const MaxResponseMessages = 128

// Status is the catch-up status wire body.
type Status struct {
	// IsRequest distinguishes a solicitation from a response summary.
	IsRequest bool

	// LastFinalizedBlock / LastFinalizedHeight anchor the sender's chain.
	LastFinalizedBlock  types.BlockHash
	LastFinalizedHeight types.BlockHeight

	// BestBlocks are the leaves of the sender's branches.
	BestBlocks []types.BlockHash
}

// Serialize returns the canonical status bytes.
func (s *Status) Serialize() ([]byte, error) {
	return rlp.EncodeToBytes(s)
}

// DeserializeStatus parses a status body.
func DeserializeStatus(b []byte) (*Status, error) {
	s := new(Status)
	if err := rlp.DecodeBytes(b, s); err != nil {
		return nil, fmt.Errorf("deserialize catch-up status: %w", err)
	}
	return s, nil
}

// Sender is the capability the host supplies for direct replies to the
// peer that sent a status message.
type Sender func(data []byte)

// Session tracks one out-of-band catch-up download.
type Session struct {
	ID        string
	PeerHint  string
	ChunkSent int
}

// NewSession mints a session with a unique id.
func NewSession(peerHint string) *Session {
	return &Session{ID: uuid.NewString(), PeerHint: peerHint}
}
