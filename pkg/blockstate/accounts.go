// Copyright 2025 Certen Protocol
//
// Account records: balances, credentials, stake, release schedules
// Accounts are shared between states by reference and copied on first write
// after a thaw, so a snapshot never observes a descendant's mutations.

package blockstate

import (
	"sort"

	"github.com/certen/permissioned-node/pkg/types"
)

// Credential is one registered credential on an account.
type Credential struct {
	RegID            types.CredentialRegID
	IdentityProvider uint32
	Expiry           types.Timestamp
}

// Release is one pending amount in an account's release schedule.
type Release struct {
	At     types.Timestamp
	Amount types.Amount
}

// StakePendingChangeKind tags a baker's pending stake change.
type StakePendingChangeKind uint8

const (
	StakeNoChange StakePendingChangeKind = 0
	StakeReduce   StakePendingChangeKind = 1
	StakeRemove   StakePendingChangeKind = 2
)

// BakerInfo is present on accounts registered as bakers.
type BakerInfo struct {
	ID             types.BakerID
	SignKey        []byte
	ElectionKey    []byte
	AggregationKey []byte
	Stake          types.Amount
	RestakeEarnings bool

	// Commission rates in parts per hundred thousand.
	BakingCommission       uint32
	FinalizationCommission uint32
	TransactionCommission  uint32

	// Pending cooldown-governed change, applied at the effective time.
	PendingChange       StakePendingChangeKind
	PendingChangeTarget types.Amount
	PendingChangeAt     types.Timestamp
}

// DelegatorInfo is present on accounts delegating stake. A zero Target with
// Passive set delegates to the passive pool.
type DelegatorInfo struct {
	Target  types.BakerID
	Passive bool
	Stake   types.Amount
}

// Account is the full account record.
type Account struct {
	Index       types.AccountIndex
	Address     types.AccountAddress
	Balance     types.Amount
	NextNonce   types.Nonce
	VerifyKey   []byte
	Credentials []Credential
	Releases    []Release
	Baker       *BakerInfo
	Delegation  *DelegatorInfo

	// Encrypted (shielded) balance, tracked only as a total here.
	EncryptedBalance types.Amount
}

// Clone deep-copies the account for copy-on-write mutation.
func (a *Account) Clone() *Account {
	c := *a
	c.VerifyKey = append([]byte(nil), a.VerifyKey...)
	c.Credentials = append([]Credential(nil), a.Credentials...)
	c.Releases = append([]Release(nil), a.Releases...)
	if a.Baker != nil {
		b := *a.Baker
		b.SignKey = append([]byte(nil), a.Baker.SignKey...)
		b.ElectionKey = append([]byte(nil), a.Baker.ElectionKey...)
		b.AggregationKey = append([]byte(nil), a.Baker.AggregationKey...)
		c.Baker = &b
	}
	if a.Delegation != nil {
		d := *a.Delegation
		c.Delegation = &d
	}
	return &c
}

// StakedAmount returns the amount locked by baking or delegation.
func (a *Account) StakedAmount() types.Amount {
	switch {
	case a.Baker != nil:
		return a.Baker.Stake
	case a.Delegation != nil:
		return a.Delegation.Stake
	}
	return 0
}

// LockedAmount returns the amount still held by the release schedule at the
// given time.
func (a *Account) LockedAmount(now types.Timestamp) types.Amount {
	var locked types.Amount
	for _, r := range a.Releases {
		if r.At > now {
			locked += r.Amount
		}
	}
	return locked
}

// AvailableAmount is what a transaction may spend: balance minus the larger
// of stake and schedule-locked funds (stake and locks may overlap).
func (a *Account) AvailableAmount(now types.Timestamp) types.Amount {
	reserved := a.StakedAmount()
	if locked := a.LockedAmount(now); locked > reserved {
		reserved = locked
	}
	if reserved > a.Balance {
		return 0
	}
	return a.Balance - reserved
}

// canonicalAccount is the hashing form: slices ordered, pointers flattened.
type canonicalAccount struct {
	Index            types.AccountIndex
	Address          types.AccountAddress
	Balance          types.Amount
	NextNonce        types.Nonce
	VerifyKey        []byte
	Credentials      []Credential
	Releases         []Release
	HasBaker         bool
	Baker            BakerInfo
	HasDelegation    bool
	Delegation       DelegatorInfo
	EncryptedBalance types.Amount
}

// HashLeaf returns the account's leaf in the accounts table root.
func (a *Account) HashLeaf() [32]byte {
	ca := canonicalAccount{
		Index:            a.Index,
		Address:          a.Address,
		Balance:          a.Balance,
		NextNonce:        a.NextNonce,
		VerifyKey:        a.VerifyKey,
		Credentials:      append([]Credential(nil), a.Credentials...),
		Releases:         append([]Release(nil), a.Releases...),
		EncryptedBalance: a.EncryptedBalance,
	}
	sort.Slice(ca.Credentials, func(i, j int) bool {
		return lessBytes(ca.Credentials[i].RegID[:], ca.Credentials[j].RegID[:])
	})
	sort.Slice(ca.Releases, func(i, j int) bool {
		if ca.Releases[i].At != ca.Releases[j].At {
			return ca.Releases[i].At < ca.Releases[j].At
		}
		return ca.Releases[i].Amount < ca.Releases[j].Amount
	})
	if a.Baker != nil {
		ca.HasBaker = true
		ca.Baker = *a.Baker
	}
	if a.Delegation != nil {
		ca.HasDelegation = true
		ca.Delegation = *a.Delegation
	}
	return types.HashOf(&ca)
}

func lessBytes(a, b []byte) bool {
	for i := range a {
		if i >= len(b) {
			return false
		}
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
