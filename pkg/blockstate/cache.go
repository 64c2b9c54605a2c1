// Copyright 2025 Certen Protocol
//
// Bounded read-through caches for accounts and module metadata
// Backed by size-bounded LRUs; eviction happens under the cache's own
// mutex. Finalized states answer queries through these instead of holding
// every record hot.

package blockstate

import (
	"github.com/ethereum/go-ethereum/common/lru"

	"github.com/certen/permissioned-node/pkg/types"
)

// Default cache bounds, overridable through configuration.
const (
	DefaultAccountsCacheSize = 10000
	DefaultModulesCacheSize  = 1000
)

// ModuleLoader loads a module artifact from durable storage on a cache
// miss.
type ModuleLoader func(types.ModuleRef) (*Module, error)

// Caches holds the process-wide bounded caches shared by all loaded states.
type Caches struct {
	accounts *lru.Cache[types.AccountAddress, *Account]
	modules  *lru.Cache[types.ModuleRef, *Module]
	loader   ModuleLoader
}

// NewCaches builds caches with the given bounds; zero bounds take the
// defaults.
func NewCaches(accountsSize, modulesSize int, loader ModuleLoader) *Caches {
	if accountsSize <= 0 {
		accountsSize = DefaultAccountsCacheSize
	}
	if modulesSize <= 0 {
		modulesSize = DefaultModulesCacheSize
	}
	return &Caches{
		accounts: lru.NewCache[types.AccountAddress, *Account](accountsSize),
		modules:  lru.NewCache[types.ModuleRef, *Module](modulesSize),
		loader:   loader,
	}
}

// Account returns a cached account record, if present.
func (c *Caches) Account(addr types.AccountAddress) (*Account, bool) {
	return c.accounts.Get(addr)
}

// PutAccount inserts an account record.
func (c *Caches) PutAccount(a *Account) {
	c.accounts.Add(a.Address, a)
}

// Module returns the module with its artifact, loading on demand when the
// cached copy (or an archived state's copy) has dropped the artifact bytes.
func (c *Caches) Module(ref types.ModuleRef) (*Module, error) {
	if m, ok := c.modules.Get(ref); ok && len(m.Artifact) > 0 {
		return m, nil
	}
	if c.loader == nil {
		return nil, ErrNotFound
	}
	m, err := c.loader(ref)
	if err != nil {
		return nil, err
	}
	c.modules.Add(ref, m)
	return m, nil
}

// PutModule inserts a module record.
func (c *Caches) PutModule(m *Module) {
	c.modules.Add(m.Ref, m)
}

// ResolveModule returns a usable module for execution: the state's record
// when it still carries the artifact, otherwise the cache/loader path.
func (c *Caches) ResolveModule(s *State, ref types.ModuleRef) (*Module, error) {
	m, err := s.GetModule(ref)
	if err != nil {
		return nil, err
	}
	if len(m.Artifact) > 0 || m.Size == 0 {
		return m, nil
	}
	return c.Module(ref)
}
