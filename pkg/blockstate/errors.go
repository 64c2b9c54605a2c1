// Copyright 2025 Certen Protocol
//
// Package blockstate provides sentinel errors for state operations.

package blockstate

import "errors"

// Sentinel errors for block-state operations
var (
	// ErrNotFound is returned when a lookup misses.
	ErrNotFound = errors.New("entity not found in block state")

	// ErrVersionMismatch is returned when a state is opened for the wrong
	// protocol version.
	ErrVersionMismatch = errors.New("block state protocol version mismatch")

	// ErrStorageError wraps backing-store I/O failures.
	ErrStorageError = errors.New("block state storage error")

	// ErrFrozen is returned when a mutation is attempted on a frozen state.
	ErrFrozen = errors.New("block state is frozen")

	// ErrArchived is returned when mutable capabilities are requested from
	// an archived state.
	ErrArchived = errors.New("block state is archived")

	// ErrDuplicateRegID is returned when a credential registration id has
	// already been used anywhere in history.
	ErrDuplicateRegID = errors.New("duplicate credential registration id")

	// ErrInsufficientBalance is returned when a debit exceeds the available
	// (unstaked, unlocked) balance.
	ErrInsufficientBalance = errors.New("insufficient account balance")
)
