// Copyright 2025 Certen Protocol
//
// Smart-contract instances and deployed modules

package blockstate

import (
	"github.com/certen/permissioned-node/pkg/types"
)

// Module is a deployed artifact plus the metadata the scheduler needs to
// dispatch into it. The artifact may be dropped from archived states and is
// reloaded on demand through the module cache.
type Module struct {
	Ref         types.ModuleRef
	Artifact    []byte
	Size        uint64
	Entrypoints []string
}

// Clone deep-copies the module.
func (m *Module) Clone() *Module {
	c := *m
	c.Artifact = append([]byte(nil), m.Artifact...)
	c.Entrypoints = append([]string(nil), m.Entrypoints...)
	return &c
}

// HashLeaf returns the module's leaf in the modules table root. The leaf
// binds the artifact through its ref (the ref is the artifact's content
// hash), so dropping the artifact bytes does not change the state hash.
func (m *Module) HashLeaf() [32]byte {
	return types.HashOf([]interface{}{m.Ref, m.Size, m.Entrypoints})
}

// Instance is one smart-contract instance.
type Instance struct {
	Address    types.ContractAddress
	Module     types.ModuleRef
	InitName   string
	Params     []byte // immutable init parameters
	State      []byte // mutable contract state
	Balance    types.Amount
	Owner      types.AccountAddress
}

// Clone deep-copies the instance for copy-on-write mutation.
func (i *Instance) Clone() *Instance {
	c := *i
	c.Params = append([]byte(nil), i.Params...)
	c.State = append([]byte(nil), i.State...)
	return &c
}

// HashLeaf returns the instance's leaf in the instances table root.
func (i *Instance) HashLeaf() [32]byte {
	return types.HashOf([]interface{}{
		i.Address.Index, i.Address.Subindex, i.Module, i.InitName,
		i.Params, i.State, i.Balance, i.Owner,
	})
}
