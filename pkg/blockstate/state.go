// Copyright 2025 Certen Protocol
//
// Versioned per-block state
//
// A State is the full chain state as of one block: accounts, instances,
// modules, bakers, rewards, seed state, chain parameters, identity tables
// and update queues. States form a copy-on-write lineage: Thaw opens a
// mutable child sharing entity records with its parent, mutators clone a
// record the first time it is written, Freeze seals the child and computes
// its structural hash, Archive releases mutable capabilities on old states.

package blockstate

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/certen/permissioned-node/pkg/merkle"
	"github.com/certen/permissioned-node/pkg/types"
)

// State is one block's chain state. Not safe for concurrent mutation; the
// coordinator is the single writer.
type State struct {
	protocolVersion types.ProtocolVersion
	core            types.GenesisCore

	frozen   bool
	archived bool
	hash     *types.StateHash

	accounts       map[types.AccountAddress]*Account
	accountOrder   []types.AccountAddress // by account index
	accountsByCred map[types.CredentialRegID]types.AccountAddress
	regIDs         map[types.CredentialRegID]types.AccountAddress // all of history

	instances         map[types.ContractAddress]*Instance
	nextInstanceIndex uint64

	modules map[types.ModuleRef]*Module

	bakersByID map[types.BakerID]types.AccountAddress
	aggKeys    map[string]types.BakerID

	rewards        RewardAccounts
	totalEncrypted types.Amount
	totalGTU       types.Amount

	seed    SeedState
	params  ChainParameters
	updates *UpdateState

	idProviders  map[uint32]IdentityProvider
	revokers     map[uint32]AnonymityRevoker
	cryptoParams CryptographicParameters

	// Copy-on-write bookkeeping: records cloned since the last thaw.
	dirtyAccounts  map[types.AccountAddress]bool
	dirtyInstances map[types.ContractAddress]bool
}

// NewState creates an empty mutable state for the given version and era
// parameters.
func NewState(pv types.ProtocolVersion, core types.GenesisCore, genesisSeed [32]byte, keys UpdateKeyCollection) *State {
	return &State{
		protocolVersion: pv,
		core:            core,
		accounts:        make(map[types.AccountAddress]*Account),
		accountsByCred:  make(map[types.CredentialRegID]types.AccountAddress),
		regIDs:          make(map[types.CredentialRegID]types.AccountAddress),
		instances:       make(map[types.ContractAddress]*Instance),
		modules:         make(map[types.ModuleRef]*Module),
		bakersByID:      make(map[types.BakerID]types.AccountAddress),
		aggKeys:         make(map[string]types.BakerID),
		seed:            InitialSeedState(genesisSeed, core.EpochLength),
		updates:         NewUpdateState(keys),
		idProviders:     make(map[uint32]IdentityProvider),
		revokers:        make(map[uint32]AnonymityRevoker),
		dirtyAccounts:   make(map[types.AccountAddress]bool),
		dirtyInstances:  make(map[types.ContractAddress]bool),
	}
}

// ProtocolVersion returns the version the state was built for.
func (s *State) ProtocolVersion() types.ProtocolVersion { return s.protocolVersion }

// Core returns the era's consensus parameters.
func (s *State) Core() types.GenesisCore { return s.core }

// Frozen reports whether the state is sealed.
func (s *State) Frozen() bool { return s.frozen }

// Archived reports whether mutable capabilities have been released.
func (s *State) Archived() bool { return s.archived }

// SeedState returns the election beacon.
func (s *State) SeedState() SeedState { return s.seed }

// SetSeedState replaces the beacon on a mutable state.
func (s *State) SetSeedState(seed SeedState) error {
	if s.frozen {
		return ErrFrozen
	}
	s.seed = seed
	return nil
}

// Parameters returns the current chain parameters.
func (s *State) Parameters() ChainParameters { return s.params }

// SetParameters replaces the chain parameters on a mutable state.
func (s *State) SetParameters(p ChainParameters) error {
	if s.frozen {
		return ErrFrozen
	}
	s.params = p
	return nil
}

// Updates returns the update state for inspection.
func (s *State) Updates() *UpdateState { return s.updates }

// Rewards returns the reward accounts.
func (s *State) Rewards() RewardAccounts { return s.rewards }

// ModifyRewards mutates the reward accounts.
func (s *State) ModifyRewards(fn func(*RewardAccounts)) error {
	if s.frozen {
		return ErrFrozen
	}
	fn(&s.rewards)
	return nil
}

// TotalGTU returns the recorded total supply.
func (s *State) TotalGTU() types.Amount { return s.totalGTU }

// TotalEncrypted returns the recorded shielded total.
func (s *State) TotalEncrypted() types.Amount { return s.totalEncrypted }

// Mint creates supply into an account, adjusting the recorded total. Only
// genesis construction and payday minting use this.
func (s *State) Mint(addr types.AccountAddress, amount types.Amount) error {
	if err := s.ModifyAccount(addr, func(a *Account) error {
		a.Balance += amount
		return nil
	}); err != nil {
		return err
	}
	s.totalGTU += amount
	return nil
}

// MintToRewards creates supply into a reward account.
func (s *State) MintToRewards(fn func(*RewardAccounts), amount types.Amount) error {
	if err := s.ModifyRewards(fn); err != nil {
		return err
	}
	s.totalGTU += amount
	return nil
}

// ====== Thaw / Freeze / Archive ======

// Thaw opens a mutable child of a frozen state. Entity records are shared
// until first write.
func (s *State) Thaw() (*State, error) {
	if !s.frozen {
		return nil, fmt.Errorf("thaw of unfrozen state")
	}
	if s.archived {
		return nil, ErrArchived
	}
	child := &State{
		protocolVersion:   s.protocolVersion,
		core:              s.core,
		accounts:          make(map[types.AccountAddress]*Account, len(s.accounts)),
		accountOrder:      append([]types.AccountAddress(nil), s.accountOrder...),
		accountsByCred:    make(map[types.CredentialRegID]types.AccountAddress, len(s.accountsByCred)),
		regIDs:            make(map[types.CredentialRegID]types.AccountAddress, len(s.regIDs)),
		instances:         make(map[types.ContractAddress]*Instance, len(s.instances)),
		nextInstanceIndex: s.nextInstanceIndex,
		modules:           make(map[types.ModuleRef]*Module, len(s.modules)),
		bakersByID:        make(map[types.BakerID]types.AccountAddress, len(s.bakersByID)),
		aggKeys:           make(map[string]types.BakerID, len(s.aggKeys)),
		rewards:           s.rewards,
		totalEncrypted:    s.totalEncrypted,
		totalGTU:          s.totalGTU,
		seed:              s.seed,
		params:            s.params,
		updates:           s.updates.Clone(),
		idProviders:       s.idProviders,
		revokers:          s.revokers,
		cryptoParams:      s.cryptoParams,
		dirtyAccounts:     make(map[types.AccountAddress]bool),
		dirtyInstances:    make(map[types.ContractAddress]bool),
	}
	for k, v := range s.accounts {
		child.accounts[k] = v
	}
	for k, v := range s.accountsByCred {
		child.accountsByCred[k] = v
	}
	for k, v := range s.regIDs {
		child.regIDs[k] = v
	}
	for k, v := range s.instances {
		child.instances[k] = v
	}
	for k, v := range s.modules {
		child.modules[k] = v
	}
	for k, v := range s.bakersByID {
		child.bakersByID[k] = v
	}
	for k, v := range s.aggKeys {
		child.aggKeys[k] = v
	}
	return child, nil
}

// Freeze seals the state and computes its structural hash. Freezing an
// already-frozen state is a no-op returning the cached hash.
func (s *State) Freeze() types.StateHash {
	if s.frozen && s.hash != nil {
		return *s.hash
	}
	h := s.computeHash()
	s.frozen = true
	s.hash = &h
	s.dirtyAccounts = nil
	s.dirtyInstances = nil
	return h
}

// Hash returns the structural hash of a frozen state.
func (s *State) Hash() (types.StateHash, error) {
	if !s.frozen || s.hash == nil {
		return types.StateHash{}, fmt.Errorf("hash of unfrozen state")
	}
	return *s.hash, nil
}

// Archive releases mutable capabilities: the state can no longer be thawed,
// and module artifacts are dropped (reloaded on demand through the cache).
// Hash and read access remain.
func (s *State) Archive() {
	s.Freeze()
	if !s.archived {
		for ref, m := range s.modules {
			if len(m.Artifact) > 0 {
				trimmed := *m
				trimmed.Artifact = nil
				s.modules[ref] = &trimmed
			}
		}
		s.archived = true
	}
}

// computeHash is the Merkle composition over the entity tables.
func (s *State) computeHash() types.StateHash {
	accountLeaves := make([][32]byte, 0, len(s.accountOrder))
	for _, addr := range s.accountOrder {
		accountLeaves = append(accountLeaves, s.accounts[addr].HashLeaf())
	}

	instAddrs := make([]types.ContractAddress, 0, len(s.instances))
	for addr := range s.instances {
		instAddrs = append(instAddrs, addr)
	}
	sort.Slice(instAddrs, func(i, j int) bool {
		if instAddrs[i].Index != instAddrs[j].Index {
			return instAddrs[i].Index < instAddrs[j].Index
		}
		return instAddrs[i].Subindex < instAddrs[j].Subindex
	})
	instanceLeaves := make([][32]byte, 0, len(instAddrs))
	for _, addr := range instAddrs {
		instanceLeaves = append(instanceLeaves, s.instances[addr].HashLeaf())
	}

	moduleRefs := make([]types.ModuleRef, 0, len(s.modules))
	for ref := range s.modules {
		moduleRefs = append(moduleRefs, ref)
	}
	sort.Slice(moduleRefs, func(i, j int) bool { return lessBytes(moduleRefs[i][:], moduleRefs[j][:]) })
	moduleLeaves := make([][32]byte, 0, len(moduleRefs))
	for _, ref := range moduleRefs {
		moduleLeaves = append(moduleLeaves, s.modules[ref].HashLeaf())
	}

	totalsLeaf := types.HashOf([]interface{}{s.totalGTU, s.totalEncrypted})

	root := merkle.RootOfHashes([][32]byte{
		merkle.RootOfHashes(accountLeaves),
		merkle.RootOfHashes(instanceLeaves),
		merkle.RootOfHashes(moduleLeaves),
		s.rewards.HashLeaf(),
		s.seed.HashLeaf(),
		s.params.HashLeaf(),
		s.updates.HashLeaf(),
		totalsLeaf,
	})
	return types.StateHash(root)
}

// ====== Account operations ======

// GetAccount looks up an account by address. The returned record is shared;
// callers must not mutate it.
func (s *State) GetAccount(addr types.AccountAddress) (*Account, error) {
	a, ok := s.accounts[addr]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

// GetAccountByIndex looks up an account by table index.
func (s *State) GetAccountByIndex(idx types.AccountIndex) (*Account, error) {
	if uint64(idx) >= uint64(len(s.accountOrder)) {
		return nil, ErrNotFound
	}
	return s.accounts[s.accountOrder[idx]], nil
}

// GetAccountByCredID looks up the account holding a credential.
func (s *State) GetAccountByCredID(regID types.CredentialRegID) (*Account, error) {
	addr, ok := s.accountsByCred[regID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.accounts[addr], nil
}

// RegIDExists reports whether a registration id was ever used.
func (s *State) RegIDExists(regID types.CredentialRegID) bool {
	_, ok := s.regIDs[regID]
	return ok
}

// AccountCount returns the number of accounts.
func (s *State) AccountCount() int { return len(s.accountOrder) }

// ModifyAccount clones the account on first write since thaw and applies fn.
func (s *State) ModifyAccount(addr types.AccountAddress, fn func(*Account) error) error {
	if s.frozen {
		return ErrFrozen
	}
	a, ok := s.accounts[addr]
	if !ok {
		return ErrNotFound
	}
	if !s.dirtyAccounts[addr] {
		a = a.Clone()
		s.accounts[addr] = a
		s.dirtyAccounts[addr] = true
	}
	if err := fn(a); err != nil {
		return err
	}
	s.reindexBaker(a)
	return nil
}

// CreateAccount registers a new account from a credential. The registration
// id must be globally fresh.
func (s *State) CreateAccount(cred Credential, verifyKey []byte, balance types.Amount) (*Account, error) {
	if s.frozen {
		return nil, ErrFrozen
	}
	if s.RegIDExists(cred.RegID) {
		return nil, ErrDuplicateRegID
	}
	addr := types.AccountAddress(types.HashBytes(cred.RegID[:]))
	if _, exists := s.accounts[addr]; exists {
		return nil, ErrDuplicateRegID
	}
	a := &Account{
		Index:       types.AccountIndex(len(s.accountOrder)),
		Address:     addr,
		Balance:     balance,
		NextNonce:   types.MinNonce,
		VerifyKey:   append([]byte(nil), verifyKey...),
		Credentials: []Credential{cred},
	}
	s.accounts[addr] = a
	s.accountOrder = append(s.accountOrder, addr)
	s.accountsByCred[cred.RegID] = addr
	s.regIDs[cred.RegID] = addr
	s.dirtyAccounts[addr] = true
	return a, nil
}

// reindexBaker keeps the baker indices consistent with the account record.
func (s *State) reindexBaker(a *Account) {
	if a.Baker != nil {
		s.bakersByID[a.Baker.ID] = a.Address
		s.aggKeys[string(a.Baker.AggregationKey)] = a.Baker.ID
		return
	}
	for id, addr := range s.bakersByID {
		if addr == a.Address {
			delete(s.bakersByID, id)
		}
	}
	for key, id := range s.aggKeys {
		if addr, ok := s.bakersByID[id]; !ok || addr == a.Address {
			delete(s.aggKeys, key)
		}
	}
}

// ====== Instance / module operations ======

// GetInstance looks up a contract instance.
func (s *State) GetInstance(addr types.ContractAddress) (*Instance, error) {
	inst, ok := s.instances[addr]
	if !ok {
		return nil, ErrNotFound
	}
	return inst, nil
}

// ModifyInstance clones the instance on first write since thaw and applies fn.
func (s *State) ModifyInstance(addr types.ContractAddress, fn func(*Instance) error) error {
	if s.frozen {
		return ErrFrozen
	}
	inst, ok := s.instances[addr]
	if !ok {
		return ErrNotFound
	}
	if !s.dirtyInstances[addr] {
		inst = inst.Clone()
		s.instances[addr] = inst
		s.dirtyInstances[addr] = true
	}
	return fn(inst)
}

// CreateInstance allocates the next contract address and installs the
// instance there.
func (s *State) CreateInstance(owner types.AccountAddress, module types.ModuleRef, initName string, params []byte, balance types.Amount) (*Instance, error) {
	if s.frozen {
		return nil, ErrFrozen
	}
	if _, ok := s.modules[module]; !ok {
		return nil, ErrNotFound
	}
	addr := types.ContractAddress{Index: s.nextInstanceIndex}
	s.nextInstanceIndex++
	inst := &Instance{
		Address:  addr,
		Module:   module,
		InitName: initName,
		Params:   append([]byte(nil), params...),
		Balance:  balance,
		Owner:    owner,
	}
	s.instances[addr] = inst
	s.dirtyInstances[addr] = true
	return inst, nil
}

// GetModule looks up a deployed module.
func (s *State) GetModule(ref types.ModuleRef) (*Module, error) {
	m, ok := s.modules[ref]
	if !ok {
		return nil, ErrNotFound
	}
	return m, nil
}

// PutModule deploys a module. Duplicate refs are idempotent (the ref is the
// artifact hash).
func (s *State) PutModule(m *Module) error {
	if s.frozen {
		return ErrFrozen
	}
	if _, ok := s.modules[m.Ref]; ok {
		return nil
	}
	s.modules[m.Ref] = m
	return nil
}

// ====== Bakers ======

// BakerStake is one committee member's election weight.
type BakerStake struct {
	ID             types.BakerID
	Account        types.AccountAddress
	SignKey        []byte
	ElectionKey    []byte
	AggregationKey []byte
	Stake          types.Amount
}

// BakerCommittee is the slot-baker answer: the eligible bakers with their
// effective stakes (own stake plus delegated stake).
type BakerCommittee struct {
	Bakers     []BakerStake
	TotalStake types.Amount
}

// Lookup finds a member by id.
func (c *BakerCommittee) Lookup(id types.BakerID) (*BakerStake, bool) {
	for i := range c.Bakers {
		if c.Bakers[i].ID == id {
			return &c.Bakers[i], true
		}
	}
	return nil, false
}

// StakeShare returns the member's fraction of the total stake.
func (c *BakerCommittee) StakeShare(id types.BakerID) float64 {
	b, ok := c.Lookup(id)
	if !ok || c.TotalStake == 0 {
		return 0
	}
	return float64(b.Stake) / float64(c.TotalStake)
}

// GetSlotBakers returns the committee eligible to bake the given slot under
// this state. The committee is the epoch's active baker set; effective
// stake folds in delegations.
func (s *State) GetSlotBakers(types.Slot) BakerCommittee {
	delegated := make(map[types.BakerID]types.Amount)
	for _, addr := range s.accountOrder {
		a := s.accounts[addr]
		if a.Delegation != nil && !a.Delegation.Passive {
			delegated[a.Delegation.Target] += a.Delegation.Stake
		}
	}

	ids := make([]types.BakerID, 0, len(s.bakersByID))
	for id := range s.bakersByID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var committee BakerCommittee
	for _, id := range ids {
		a := s.accounts[s.bakersByID[id]]
		if a == nil || a.Baker == nil {
			continue
		}
		stake := a.Baker.Stake + delegated[id]
		committee.Bakers = append(committee.Bakers, BakerStake{
			ID:             id,
			Account:        a.Address,
			SignKey:        a.Baker.SignKey,
			ElectionKey:    a.Baker.ElectionKey,
			AggregationKey: a.Baker.AggregationKey,
			Stake:          stake,
		})
		committee.TotalStake += stake
	}
	return committee
}

// GetDefiniteSlotBakers returns the committee only when no still-unresolved
// protocol or election-difficulty update in the queue could change the
// answer before the slot's time.
func (s *State) GetDefiniteSlotBakers(slot types.Slot) (BakerCommittee, bool) {
	slotTime := s.core.SlotTime(slot)
	if s.updates.UnresolvedBefore(types.UpdateProtocol, slotTime) ||
		s.updates.UnresolvedBefore(types.UpdateElectionDifficulty, slotTime) {
		return BakerCommittee{}, false
	}
	return s.GetSlotBakers(slot), true
}

// GetElectionDifficultyAt returns the difficulty in force at the timestamp,
// folding in queued updates that become effective by then.
func (s *State) GetElectionDifficultyAt(ts types.Timestamp) float64 {
	ppht := s.params.ElectionDifficultyPPHT
	for _, q := range s.updates.Queues[types.UpdateElectionDifficulty] {
		if q.EffectiveTime <= ts && len(q.Payload) >= 4 {
			ppht = binary.BigEndian.Uint32(q.Payload[:4])
		}
	}
	p := ChainParameters{ElectionDifficultyPPHT: ppht}
	return p.ElectionDifficulty()
}

// NextUpdateSequenceNumber exposes the update counter for admission checks.
func (s *State) NextUpdateSequenceNumber(ut types.UpdateType) types.UpdateSequenceNumber {
	return s.updates.NextSequenceNumber(ut)
}

// ====== Identity tables ======

// GetIdentityProvider looks up a registered identity provider.
func (s *State) GetIdentityProvider(id uint32) (IdentityProvider, bool) {
	ip, ok := s.idProviders[id]
	return ip, ok
}

// GetAnonymityRevoker looks up a registered anonymity revoker.
func (s *State) GetAnonymityRevoker(id uint32) (AnonymityRevoker, bool) {
	ar, ok := s.revokers[id]
	return ar, ok
}

// SetIdentityTables installs the identity tables; genesis construction only.
func (s *State) SetIdentityTables(ips []IdentityProvider, ars []AnonymityRevoker, cp CryptographicParameters) error {
	if s.frozen {
		return ErrFrozen
	}
	s.idProviders = make(map[uint32]IdentityProvider, len(ips))
	for _, ip := range ips {
		s.idProviders[ip.ID] = ip
	}
	s.revokers = make(map[uint32]AnonymityRevoker, len(ars))
	for _, ar := range ars {
		s.revokers[ar.ID] = ar
	}
	s.cryptoParams = cp
	return nil
}

// ====== Invariant support ======

// TotalBalances sums every tracked pool. The sum must equal the recorded
// total supply on every finalized state.
func (s *State) TotalBalances() types.Amount {
	var sum types.Amount
	for _, addr := range s.accountOrder {
		sum += s.accounts[addr].Balance + s.accounts[addr].EncryptedBalance
	}
	for _, inst := range s.instances {
		sum += inst.Balance
	}
	sum += s.rewards.BakingReward + s.rewards.FinalizationReward + s.rewards.GASAccount
	return sum
}

// ActiveBakerIDs returns the active baker ids in ascending order.
func (s *State) ActiveBakerIDs() []types.BakerID {
	ids := make([]types.BakerID, 0, len(s.bakersByID))
	for id := range s.bakersByID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// HasAggregationKey reports whether a key is in the active set.
func (s *State) HasAggregationKey(key []byte) bool {
	_, ok := s.aggKeys[string(key)]
	return ok
}

// EachAccount iterates accounts in index order.
func (s *State) EachAccount(fn func(*Account) bool) {
	for _, addr := range s.accountOrder {
		if !fn(s.accounts[addr]) {
			return
		}
	}
}
