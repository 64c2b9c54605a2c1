// Copyright 2025 Certen Protocol
//
// Pending-transaction table
//
// Tracks, per sender, the nonce window [next, high] of transactions that
// the focus block has not yet committed. Moving the focus replays block
// deltas: forward along the new branch commits nonces out of the window,
// backward along the old branch returns them.

package txtable

import (
	"github.com/certen/permissioned-node/pkg/types"
)

// window is a half-open pending range: nonces n with next <= n <= high.
type window struct {
	next types.Nonce
	high types.Nonce
}

// updateWindow is the analogous range over update sequence numbers.
type updateWindow struct {
	next types.UpdateSequenceNumber
	high types.UpdateSequenceNumber
}

// PendingTable is the focus-block-relative view of admissible transactions.
type PendingTable struct {
	accounts map[types.AccountAddress]window
	updates  map[types.UpdateType]updateWindow
}

// NewPendingTable creates an empty pending table.
func NewPendingTable() *PendingTable {
	return &PendingTable{
		accounts: make(map[types.AccountAddress]window),
		updates:  make(map[types.UpdateType]updateWindow),
	}
}

// AddTransaction registers a newly admitted transaction whose sender's next
// nonce in the focus state is focusNext.
func (p *PendingTable) AddTransaction(sender types.AccountAddress, nonce, focusNext types.Nonce) {
	if nonce < focusNext {
		return // already committed by the focus chain
	}
	w, ok := p.accounts[sender]
	if !ok {
		p.accounts[sender] = window{next: focusNext, high: nonce}
		return
	}
	if nonce > w.high {
		w.high = nonce
	}
	if focusNext > w.next {
		w.next = focusNext
	}
	p.accounts[sender] = w
}

// AddUpdate registers a newly admitted chain update.
func (p *PendingTable) AddUpdate(ut types.UpdateType, seq, focusNext types.UpdateSequenceNumber) {
	if seq < focusNext {
		return
	}
	w, ok := p.updates[ut]
	if !ok {
		p.updates[ut] = updateWindow{next: focusNext, high: seq}
		return
	}
	if seq > w.high {
		w.high = seq
	}
	if focusNext > w.next {
		w.next = focusNext
	}
	p.updates[ut] = w
}

// ForwardBlock replays a block's items when the focus moves over it: the
// committed nonces leave the pending window.
func (p *PendingTable) ForwardBlock(items []*types.BlockItem) {
	for _, item := range items {
		switch item.Kind {
		case types.KindNormalTransaction:
			sender, nonce := item.Normal.Sender, item.Normal.Nonce
			w, ok := p.accounts[sender]
			if !ok {
				continue
			}
			if nonce >= w.next {
				w.next = nonce + 1
			}
			if w.next > w.high {
				delete(p.accounts, sender)
			} else {
				p.accounts[sender] = w
			}
		case types.KindChainUpdate:
			ut, seq := item.Update.UpdateType, item.Update.SequenceNumber
			w, ok := p.updates[ut]
			if !ok {
				continue
			}
			if seq >= w.next {
				w.next = seq + 1
			}
			if w.next > w.high {
				delete(p.updates, ut)
			} else {
				p.updates[ut] = w
			}
		}
	}
}

// RewindBlock replays a block's items when the focus moves off it: the
// block's nonces return to the pending window.
func (p *PendingTable) RewindBlock(items []*types.BlockItem) {
	for _, item := range items {
		switch item.Kind {
		case types.KindNormalTransaction:
			sender, nonce := item.Normal.Sender, item.Normal.Nonce
			w, ok := p.accounts[sender]
			if !ok {
				p.accounts[sender] = window{next: nonce, high: nonce}
				continue
			}
			if nonce < w.next {
				w.next = nonce
			}
			if nonce > w.high {
				w.high = nonce
			}
			p.accounts[sender] = w
		case types.KindChainUpdate:
			ut, seq := item.Update.UpdateType, item.Update.SequenceNumber
			w, ok := p.updates[ut]
			if !ok {
				p.updates[ut] = updateWindow{next: seq, high: seq}
				continue
			}
			if seq < w.next {
				w.next = seq
			}
			if seq > w.high {
				w.high = seq
			}
			p.updates[ut] = w
		}
	}
}

// FinalizeNonce drops the window below a finalized nonce.
func (p *PendingTable) FinalizeNonce(sender types.AccountAddress, nonce types.Nonce) {
	w, ok := p.accounts[sender]
	if !ok {
		return
	}
	if nonce+1 > w.next {
		w.next = nonce + 1
	}
	if w.next > w.high {
		delete(p.accounts, sender)
	} else {
		p.accounts[sender] = w
	}
}

// PendingWindow exposes a sender's window; ok is false when nothing is
// pending.
func (p *PendingTable) PendingWindow(sender types.AccountAddress) (next, high types.Nonce, ok bool) {
	w, found := p.accounts[sender]
	return w.next, w.high, found
}

// EachAccount iterates pending senders.
func (p *PendingTable) EachAccount(fn func(types.AccountAddress, types.Nonce, types.Nonce) bool) {
	for sender, w := range p.accounts {
		if !fn(sender, w.next, w.high) {
			return
		}
	}
}

// Size returns the number of senders with a pending window.
func (p *PendingTable) Size() int { return len(p.accounts) }
