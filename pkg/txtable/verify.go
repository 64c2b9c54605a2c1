// Copyright 2025 Certen Protocol
//
// Transaction verification results and their cache semantics
//
// Signature verification is expensive and runs outside the coordinator's
// critical section. The result is cached on the table entry together with a
// digest of the keys it was computed under; execution re-verifies only when
// the sender's keys changed between admission and execution.

package txtable

import (
	"github.com/certen/permissioned-node/pkg/types"
)

// VerificationResult is the cached outcome of verifying a block item.
type VerificationResult struct {
	// Outcome is ResultSuccess or the admission failure code.
	Outcome types.UpdateResult

	// MaybeLater marks failures that could become successes in a future
	// state (unknown sender, nonce ahead). Only such items are worth
	// re-verifying; definite failures are dropped.
	MaybeLater bool

	// KeysHash digests the verification keys used. A mismatch at execution
	// time forces re-verification.
	KeysHash [32]byte
}

// Ok reports a definite pass.
func (v *VerificationResult) Ok() bool {
	return v != nil && v.Outcome == types.ResultSuccess
}

// Usable reports whether the item may enter the table: a pass, or a failure
// that may heal in a future state.
func (v *VerificationResult) Usable() bool {
	return v != nil && (v.Outcome == types.ResultSuccess || v.MaybeLater)
}

// Verifier checks an item against a state. Implemented by the consensus
// layer over the last-finalized (admission) or parent (execution) state.
type Verifier interface {
	Verify(item *types.BlockItem) VerificationResult
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(item *types.BlockItem) VerificationResult

// Verify implements Verifier.
func (f VerifierFunc) Verify(item *types.BlockItem) VerificationResult { return f(item) }
