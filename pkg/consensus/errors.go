// Copyright 2025 Certen Protocol
//
// Package consensus sentinel errors

package consensus

import "errors"

var (
	// ErrShutDown is returned once a pending protocol update has shut
	// consensus down.
	ErrShutDown = errors.New("consensus is shut down pending protocol update")

	// ErrFatalState marks unrecoverable store or invariant damage; the
	// host must stop the node.
	ErrFatalState = errors.New("fatal consensus state")

	// ErrContConsumed is returned when an execution continuation is used
	// twice.
	ErrContConsumed = errors.New("execution continuation already consumed")
)
