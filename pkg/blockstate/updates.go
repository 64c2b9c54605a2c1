// Copyright 2025 Certen Protocol
//
// Chain-update queues
// Each update type carries its own sequence counter and a time-ordered queue
// of enacted-but-not-yet-effective updates. Protocol updates additionally
// latch a pending-update marker that drives consensus shut-down.

package blockstate

import (
	"sort"

	"github.com/certen/permissioned-node/pkg/types"
)

// QueuedUpdate is one enacted update waiting for its effective time.
type QueuedUpdate struct {
	SequenceNumber types.UpdateSequenceNumber
	EffectiveTime  types.Timestamp
	Payload        []byte
}

// UpdateState holds the per-type sequence counters and queues plus the
// governance keys.
type UpdateState struct {
	NextSequence [types.NumUpdateTypes]types.UpdateSequenceNumber
	Queues       [types.NumUpdateTypes][]QueuedUpdate
	Keys         UpdateKeyCollection

	// PendingProtocolUpdate is set once a protocol update is enacted; it
	// stays set until regenesis clears it.
	PendingProtocolUpdate *QueuedUpdate
}

// NewUpdateState returns an empty update state with all sequence counters
// at their initial value.
func NewUpdateState(keys UpdateKeyCollection) *UpdateState {
	us := &UpdateState{Keys: keys}
	for i := range us.NextSequence {
		us.NextSequence[i] = 1
	}
	return us
}

// Clone deep-copies the update state.
func (u *UpdateState) Clone() *UpdateState {
	c := &UpdateState{NextSequence: u.NextSequence, Keys: u.Keys}
	for i, q := range u.Queues {
		c.Queues[i] = append([]QueuedUpdate(nil), q...)
	}
	if u.PendingProtocolUpdate != nil {
		p := *u.PendingProtocolUpdate
		c.PendingProtocolUpdate = &p
	}
	return c
}

// NextSequenceNumber returns the next admissible sequence number for a type.
func (u *UpdateState) NextSequenceNumber(ut types.UpdateType) types.UpdateSequenceNumber {
	if int(ut) >= types.NumUpdateTypes {
		return 0
	}
	return u.NextSequence[ut]
}

// Enqueue records an enacted update and advances the sequence counter. The
// queue stays sorted by effective time.
func (u *UpdateState) Enqueue(ut types.UpdateType, q QueuedUpdate) {
	u.NextSequence[ut] = q.SequenceNumber + 1
	queue := append(u.Queues[ut], q)
	sort.SliceStable(queue, func(i, j int) bool { return queue[i].EffectiveTime < queue[j].EffectiveTime })
	u.Queues[ut] = queue
	if ut == types.UpdateProtocol && u.PendingProtocolUpdate == nil {
		p := q
		u.PendingProtocolUpdate = &p
	}
}

// PopEffective removes and returns all updates of the type effective at or
// before the given time, in order.
func (u *UpdateState) PopEffective(ut types.UpdateType, now types.Timestamp) []QueuedUpdate {
	queue := u.Queues[ut]
	cut := 0
	for cut < len(queue) && queue[cut].EffectiveTime <= now {
		cut++
	}
	if cut == 0 {
		return nil
	}
	effective := append([]QueuedUpdate(nil), queue[:cut]...)
	u.Queues[ut] = append([]QueuedUpdate(nil), queue[cut:]...)
	return effective
}

// UnresolvedBefore reports whether any queued update of the type has an
// effective time at or before ts. Such updates make slot-baker answers
// indefinite.
func (u *UpdateState) UnresolvedBefore(ut types.UpdateType, ts types.Timestamp) bool {
	for _, q := range u.Queues[ut] {
		if q.EffectiveTime <= ts {
			return true
		}
	}
	return false
}

// HashLeaf returns the update table's contribution to the state hash.
func (u *UpdateState) HashLeaf() [32]byte {
	var canon []interface{}
	for i := range u.Queues {
		canon = append(canon, uint64(u.NextSequence[i]))
		for _, q := range u.Queues[i] {
			canon = append(canon, []interface{}{q.SequenceNumber, q.EffectiveTime, q.Payload})
		}
	}
	canon = append(canon, u.PendingProtocolUpdate != nil)
	return types.HashOf(canon)
}
