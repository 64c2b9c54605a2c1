// Copyright 2025 Certen Protocol
//
// The transaction scheduler
//
// Two entry points. VerifyItem checks an item against a state without
// mutating it; the result is cached in the transaction table. ExecuteItems
// applies a block's items to a thawed state, producing the outcome list and
// outcomes hash the block claims. Precondition failures (bad nonce, unknown
// sender, unpayable deposit) invalidate the whole block; contract-level
// rejections become reject outcomes with energy still charged.

package scheduler

import (
	"crypto/sha256"
	"fmt"

	"github.com/certen/permissioned-node/pkg/blockstate"
	"github.com/certen/permissioned-node/pkg/crypto"
	"github.com/certen/permissioned-node/pkg/txtable"
	"github.com/certen/permissioned-node/pkg/types"
)

// MaxTimeToExpiry bounds how far in the future a transaction expiry may
// sit at admission.
const MaxTimeToExpiry = types.Duration(2 * 60 * 60 * 1000)

// BlockContext carries everything one block execution needs.
type BlockContext struct {
	State          *blockstate.State
	SlotTime       types.Timestamp
	MaxBlockEnergy types.Energy
	Caches         *blockstate.Caches
	Engine         Engine
}

// ExecutionResult is the output of executing a block's items.
type ExecutionResult struct {
	Outcomes     []*Outcome
	TotalEnergy  types.Energy
	OutcomesHash [32]byte
}

// ====== Admission verification ======

func definite(code types.UpdateResult) txtable.VerificationResult {
	return txtable.VerificationResult{Outcome: code}
}

func maybeLater(code types.UpdateResult) txtable.VerificationResult {
	return txtable.VerificationResult{Outcome: code, MaybeLater: true}
}

// VerifyItem checks an item against a (typically last-finalized) state.
// Failures marked maybe-later can heal in a future state and keep the item
// admissible; definite failures drop it.
func VerifyItem(s *blockstate.State, item *types.BlockItem, now types.Timestamp, maxBlockEnergy types.Energy) txtable.VerificationResult {
	switch item.Kind {
	case types.KindNormalTransaction:
		return verifyNormal(s, item.Normal, now, maxBlockEnergy)
	case types.KindCredentialDeployment:
		return verifyCredential(s, item.Credential, now)
	case types.KindChainUpdate:
		return verifyUpdate(s, item.Update, now)
	}
	return definite(types.ResultSerializationFail)
}

func verifyNormal(s *blockstate.State, tx *types.NormalTransaction, now types.Timestamp, maxBlockEnergy types.Energy) txtable.VerificationResult {
	if tx.Expiry < now {
		return definite(types.ResultVerificationFailed)
	}
	if tx.Expiry > now.AddDuration(MaxTimeToExpiry) {
		return definite(types.ResultExpiryTooLate)
	}
	kind, _, err := DecodePayload(tx.Payload)
	if err != nil {
		return definite(types.ResultSerializationFail)
	}
	base := baseCost(kind, len(tx.Payload))
	if tx.Energy < base {
		return definite(types.ResultTooLowEnergy)
	}
	if tx.Energy > maxBlockEnergy {
		return definite(types.ResultEnergyExceeded)
	}

	sender, err := s.GetAccount(tx.Sender)
	if err != nil {
		// The account may be created before the transaction executes.
		return maybeLater(types.ResultNonexistingSenderAccount)
	}
	if tx.Nonce < sender.NextNonce {
		return definite(types.ResultDuplicateNonce)
	}

	params := s.Parameters()
	deposit := energyToCost(tx.Energy, params.EuroPerEnergy, params.MicroGTUPerEuro)
	if sender.AvailableAmount(now) < deposit {
		return maybeLater(types.ResultInsufficientFunds)
	}

	if len(tx.Signatures) == 0 || !crypto.VerifySignature(sender.VerifyKey, tx.SigningBytes(), tx.Signatures[0].Signature) {
		return definite(types.ResultVerificationFailed)
	}
	return txtable.VerificationResult{
		Outcome:  types.ResultSuccess,
		KeysHash: sha256.Sum256(sender.VerifyKey),
	}
}

func verifyCredential(s *blockstate.State, cred *types.CredentialDeployment, now types.Timestamp) txtable.VerificationResult {
	if cred.Expiry < now {
		return definite(types.ResultCredentialDeploymentExpired)
	}
	if s.RegIDExists(cred.RegID) {
		return definite(types.ResultDuplicateAccountRegistrationID)
	}
	if _, ok := s.GetIdentityProvider(cred.IdentityProvider); !ok {
		return definite(types.ResultCredentialDeploymentInvalidIP)
	}
	for _, ar := range cred.AnonymityRevokers {
		if _, ok := s.GetAnonymityRevoker(ar); !ok {
			return definite(types.ResultCredentialDeploymentInvalidAR)
		}
	}
	if !crypto.VerifySignature(cred.VerifyKey, cred.RegID[:], cred.Proofs) {
		return definite(types.ResultCredentialDeploymentInvalidSignatures)
	}
	return txtable.VerificationResult{Outcome: types.ResultSuccess, KeysHash: sha256.Sum256(cred.VerifyKey)}
}

func verifyUpdate(s *blockstate.State, u *types.ChainUpdate, now types.Timestamp) txtable.VerificationResult {
	if int(u.UpdateType) >= types.NumUpdateTypes {
		return definite(types.ResultSerializationFail)
	}
	if u.SequenceNumber < s.NextUpdateSequenceNumber(u.UpdateType) {
		return definite(types.ResultChainUpdateSequenceNumberTooOld)
	}
	// The timeout must not have passed, and an explicit effective time must
	// sit strictly after the timeout.
	if u.Timeout < now {
		return definite(types.ResultChainUpdateInvalidEffectiveTime)
	}
	if u.EffectiveTime != 0 && u.EffectiveTime <= u.Timeout {
		return definite(types.ResultChainUpdateInvalidEffectiveTime)
	}
	keys := s.Updates().Keys
	threshold := keys.Level2Threshold
	if threshold == 0 {
		threshold = 1
	}
	msg := u.SigningBytes()
	valid := uint32(0)
	for _, sig := range u.Signatures {
		for _, key := range authorizedKeys(&keys, u.UpdateType) {
			if crypto.VerifySignature(key, msg, sig.Signature) {
				valid++
				break
			}
		}
	}
	if valid < threshold {
		return definite(types.ResultChainUpdateInvalidSignatures)
	}
	return txtable.VerificationResult{Outcome: types.ResultSuccess, KeysHash: updateKeysHash(&keys)}
}

func authorizedKeys(keys *blockstate.UpdateKeyCollection, ut types.UpdateType) [][]byte {
	switch ut {
	case types.UpdateRootKeys:
		return keys.RootKeys
	case types.UpdateLevel1Keys, types.UpdateLevel2Keys:
		return keys.Level1Keys
	default:
		return keys.Level2Keys
	}
}

func updateKeysHash(keys *blockstate.UpdateKeyCollection) [32]byte {
	h := sha256.New()
	for _, k := range keys.RootKeys {
		h.Write(k)
	}
	for _, k := range keys.Level1Keys {
		h.Write(k)
	}
	for _, k := range keys.Level2Keys {
		h.Write(k)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// KeysHashFor digests the keys that would verify the item now; execution
// compares it with the cached digest to decide whether to re-verify.
func KeysHashFor(s *blockstate.State, item *types.BlockItem) [32]byte {
	switch item.Kind {
	case types.KindNormalTransaction:
		if sender, err := s.GetAccount(item.Normal.Sender); err == nil {
			return sha256.Sum256(sender.VerifyKey)
		}
	case types.KindCredentialDeployment:
		return sha256.Sum256(item.Credential.VerifyKey)
	case types.KindChainUpdate:
		keys := s.Updates().Keys
		return updateKeysHash(&keys)
	}
	return [32]byte{}
}

// ====== Block execution ======

// ExecuteItems applies the items in order to ctx.State. An error means the
// block is invalid and the state must be discarded.
func ExecuteItems(ctx *BlockContext, items []*types.BlockItem) (*ExecutionResult, error) {
	res := &ExecutionResult{}
	for i, item := range items {
		outcome, err := executeItem(ctx, item, uint32(i))
		if err != nil {
			return nil, fmt.Errorf("item %d (%s): %w", i, item.Hash(), err)
		}
		res.TotalEnergy += outcome.EnergyUsed
		if res.TotalEnergy > ctx.MaxBlockEnergy {
			return nil, fmt.Errorf("item %d: block energy %d exceeds maximum %d", i, res.TotalEnergy, ctx.MaxBlockEnergy)
		}
		res.Outcomes = append(res.Outcomes, outcome)
	}
	res.OutcomesHash = OutcomesHash(ctx.State.ProtocolVersion(), res.Outcomes)
	return res, nil
}

func executeItem(ctx *BlockContext, item *types.BlockItem, index uint32) (*Outcome, error) {
	switch item.Kind {
	case types.KindNormalTransaction:
		return executeNormal(ctx, item, index)
	case types.KindCredentialDeployment:
		return executeCredential(ctx, item, index)
	case types.KindChainUpdate:
		return executeUpdate(ctx, item, index)
	}
	return nil, fmt.Errorf("unknown item kind %d", item.Kind)
}

func executeNormal(ctx *BlockContext, item *types.BlockItem, index uint32) (*Outcome, error) {
	tx := item.Normal
	sender, err := ctx.State.GetAccount(tx.Sender)
	if err != nil {
		return nil, fmt.Errorf("nonexisting sender %s", tx.Sender)
	}
	if tx.Nonce != sender.NextNonce {
		return nil, fmt.Errorf("nonce %d, account at %d", tx.Nonce, sender.NextNonce)
	}
	if tx.Expiry < ctx.SlotTime {
		return nil, fmt.Errorf("expired at %d, slot time %d", tx.Expiry, ctx.SlotTime)
	}
	kind, payload, err := DecodePayload(tx.Payload)
	if err != nil {
		return nil, fmt.Errorf("undecodable payload: %w", err)
	}
	base := baseCost(kind, len(tx.Payload))
	if tx.Energy < base {
		return nil, fmt.Errorf("declared energy %d below base cost %d", tx.Energy, base)
	}

	params := ctx.State.Parameters()
	deposit := energyToCost(tx.Energy, params.EuroPerEnergy, params.MicroGTUPerEuro)
	if sender.Balance < deposit {
		return nil, fmt.Errorf("deposit %d not coverable by balance %d", deposit, sender.Balance)
	}

	outcome := &Outcome{Hash: item.Hash(), Index: index, Sender: tx.Sender, Success: true}
	used := base
	events, extra, reject := applyPayload(ctx, tx, kind, payload)
	used += extra
	if used > tx.Energy {
		used = tx.Energy
		reject = types.ResultEnergyExceeded
		events = nil
	}
	if reject != types.ResultSuccess {
		outcome.Success = false
		outcome.Reject = reject
	} else {
		outcome.Events = events
	}
	outcome.EnergyUsed = used
	outcome.Cost = energyToCost(used, params.EuroPerEnergy, params.MicroGTUPerEuro)

	// Fee and nonce apply whether or not the payload succeeded.
	if err := ctx.State.ModifyAccount(tx.Sender, func(a *blockstate.Account) error {
		if outcome.Cost > a.Balance {
			outcome.Cost = a.Balance
		}
		a.Balance -= outcome.Cost
		a.NextNonce = tx.Nonce + 1
		return nil
	}); err != nil {
		return nil, fmt.Errorf("charge sender: %w", err)
	}
	if err := ctx.State.ModifyRewards(func(r *blockstate.RewardAccounts) {
		r.GASAccount += outcome.Cost
	}); err != nil {
		return nil, fmt.Errorf("credit gas account: %w", err)
	}
	return outcome, nil
}

// applyPayload runs the payload-specific effect. A non-success return code
// means the effect was rejected without mutating the state; the caller
// still charges energy.
func applyPayload(ctx *BlockContext, tx *types.NormalTransaction, kind PayloadKind, payload interface{}) ([]Event, types.Energy, types.UpdateResult) {
	switch kind {
	case PayloadTransfer:
		p := payload.(*Transfer)
		return applyTransfer(ctx, tx, p)
	case PayloadTransferWithSchedule:
		p := payload.(*TransferWithSchedule)
		return applyScheduledTransfer(ctx, tx, p)
	case PayloadDeployModule:
		p := payload.(*DeployModule)
		return applyDeployModule(ctx, p)
	case PayloadInitContract:
		p := payload.(*InitContract)
		return applyInitContract(ctx, tx, p)
	case PayloadUpdateContract:
		p := payload.(*UpdateContract)
		return applyUpdateContract(ctx, tx, p)
	case PayloadAddBaker:
		p := payload.(*AddBaker)
		return applyAddBaker(ctx, tx, p)
	case PayloadRemoveBaker:
		return applyRemoveBaker(ctx, tx)
	case PayloadUpdateStake:
		p := payload.(*UpdateStake)
		return applyUpdateStake(ctx, tx, p)
	case PayloadDelegate:
		p := payload.(*Delegate)
		return applyDelegate(ctx, tx, p)
	case PayloadUndelegate:
		return applyUndelegate(ctx, tx)
	}
	return nil, 0, types.ResultSerializationFail
}

func applyTransfer(ctx *BlockContext, tx *types.NormalTransaction, p *Transfer) ([]Event, types.Energy, types.UpdateResult) {
	sender, _ := ctx.State.GetAccount(tx.Sender)
	if sender.AvailableAmount(ctx.SlotTime) < p.Amount {
		return nil, 0, types.ResultInsufficientFunds
	}
	if _, err := ctx.State.GetAccount(p.To); err != nil {
		return nil, 0, types.ResultNonexistingSenderAccount
	}
	ctx.State.ModifyAccount(tx.Sender, func(a *blockstate.Account) error { a.Balance -= p.Amount; return nil })
	ctx.State.ModifyAccount(p.To, func(a *blockstate.Account) error { a.Balance += p.Amount; return nil })
	return []Event{{
		Kind:   EventTransferred,
		From:   AccountEventAddress(tx.Sender),
		To:     AccountEventAddress(p.To),
		Amount: p.Amount,
	}}, 0, types.ResultSuccess
}

func applyScheduledTransfer(ctx *BlockContext, tx *types.NormalTransaction, p *TransferWithSchedule) ([]Event, types.Energy, types.UpdateResult) {
	var total types.Amount
	for _, r := range p.Releases {
		total += r.Amount
	}
	sender, _ := ctx.State.GetAccount(tx.Sender)
	if sender.AvailableAmount(ctx.SlotTime) < total {
		return nil, 0, types.ResultInsufficientFunds
	}
	if _, err := ctx.State.GetAccount(p.To); err != nil {
		return nil, 0, types.ResultNonexistingSenderAccount
	}
	ctx.State.ModifyAccount(tx.Sender, func(a *blockstate.Account) error { a.Balance -= total; return nil })
	ctx.State.ModifyAccount(p.To, func(a *blockstate.Account) error {
		a.Balance += total
		for _, r := range p.Releases {
			a.Releases = append(a.Releases, blockstate.Release{At: r.At, Amount: r.Amount})
		}
		return nil
	})
	extra := types.Energy(len(p.Releases)) * CostScheduledPerRel
	return []Event{{
		Kind:   EventTransferred,
		From:   AccountEventAddress(tx.Sender),
		To:     AccountEventAddress(p.To),
		Amount: total,
	}}, extra, types.ResultSuccess
}

func applyDeployModule(ctx *BlockContext, p *DeployModule) ([]Event, types.Energy, types.UpdateResult) {
	ref := types.ModuleRef(types.HashBytes(p.Source))
	module := &blockstate.Module{
		Ref:         ref,
		Artifact:    p.Source,
		Size:        uint64(len(p.Source)),
		Entrypoints: p.Entrypoints,
	}
	if err := ctx.State.PutModule(module); err != nil {
		return nil, 0, types.ResultInvalid
	}
	if ctx.Caches != nil {
		ctx.Caches.PutModule(module)
	}
	return []Event{{Kind: EventModuleDeployed, Module: ref}}, 0, types.ResultSuccess
}

func applyInitContract(ctx *BlockContext, tx *types.NormalTransaction, p *InitContract) ([]Event, types.Energy, types.UpdateResult) {
	sender, _ := ctx.State.GetAccount(tx.Sender)
	if sender.AvailableAmount(ctx.SlotTime) < p.Amount {
		return nil, 0, types.ResultInsufficientFunds
	}
	var module *blockstate.Module
	var err error
	if ctx.Caches != nil {
		module, err = ctx.Caches.ResolveModule(ctx.State, p.Module)
	} else {
		module, err = ctx.State.GetModule(p.Module)
	}
	if err != nil {
		return nil, 0, types.ResultInvalid
	}
	initRes, err := ctx.Engine.Init(module, p.InitName, p.Param, p.Amount, tx.Sender)
	if err != nil {
		return nil, 0, types.ResultInvalid
	}
	inst, err := ctx.State.CreateInstance(tx.Sender, p.Module, p.InitName, p.Param, p.Amount)
	if err != nil {
		return nil, initRes.EnergyUsed, types.ResultInvalid
	}
	ctx.State.ModifyInstance(inst.Address, func(i *blockstate.Instance) error {
		i.State = initRes.State
		return nil
	})
	ctx.State.ModifyAccount(tx.Sender, func(a *blockstate.Account) error { a.Balance -= p.Amount; return nil })
	events := []Event{{
		Kind:   EventContractInitialized,
		To:     ContractEventAddress(inst.Address),
		Amount: p.Amount,
		Module: p.Module,
	}}
	events = append(events, initRes.Events...)
	return events, initRes.EnergyUsed, types.ResultSuccess
}

func applyUpdateContract(ctx *BlockContext, tx *types.NormalTransaction, p *UpdateContract) ([]Event, types.Energy, types.UpdateResult) {
	sender, _ := ctx.State.GetAccount(tx.Sender)
	if sender.AvailableAmount(ctx.SlotTime) < p.Amount {
		return nil, 0, types.ResultInsufficientFunds
	}
	inst, err := ctx.State.GetInstance(p.Address)
	if err != nil {
		return nil, 0, types.ResultInvalid
	}
	var module *blockstate.Module
	if ctx.Caches != nil {
		module, err = ctx.Caches.ResolveModule(ctx.State, inst.Module)
	} else {
		module, err = ctx.State.GetModule(inst.Module)
	}
	if err != nil {
		return nil, 0, types.ResultInvalid
	}
	recvRes, err := ctx.Engine.Receive(module, inst, p.ReceiveName, p.Param, p.Amount, tx.Sender)
	if err != nil {
		return nil, 0, types.ResultInvalid
	}

	// Outgoing transfers must be coverable by the instance balance after
	// the incoming amount; reject before mutating anything.
	var outgoing types.Amount
	for _, tr := range recvRes.Transfers {
		outgoing += tr.Amount
		if _, err := ctx.State.GetAccount(tr.To); err != nil {
			return nil, recvRes.EnergyUsed, types.ResultInvalid
		}
	}
	if inst.Balance+p.Amount < outgoing {
		return nil, recvRes.EnergyUsed, types.ResultInsufficientFunds
	}

	ctx.State.ModifyAccount(tx.Sender, func(a *blockstate.Account) error { a.Balance -= p.Amount; return nil })
	ctx.State.ModifyInstance(p.Address, func(i *blockstate.Instance) error {
		i.Balance += p.Amount
		i.Balance -= outgoing
		if recvRes.NewState != nil {
			i.State = recvRes.NewState
		}
		return nil
	})
	events := []Event{{
		Kind:   EventUpdated,
		From:   AccountEventAddress(tx.Sender),
		To:     ContractEventAddress(p.Address),
		Amount: p.Amount,
	}}
	for _, tr := range recvRes.Transfers {
		ctx.State.ModifyAccount(tr.To, func(a *blockstate.Account) error { a.Balance += tr.Amount; return nil })
		events = append(events, Event{
			Kind:   EventTransferred,
			From:   ContractEventAddress(p.Address),
			To:     AccountEventAddress(tr.To),
			Amount: tr.Amount,
		})
	}
	events = append(events, recvRes.Events...)
	return events, recvRes.EnergyUsed, types.ResultSuccess
}

func applyAddBaker(ctx *BlockContext, tx *types.NormalTransaction, p *AddBaker) ([]Event, types.Energy, types.UpdateResult) {
	sender, _ := ctx.State.GetAccount(tx.Sender)
	if sender.Baker != nil || sender.Delegation != nil {
		return nil, 0, types.ResultInvalid
	}
	if sender.Balance < p.Stake || p.Stake < ctx.State.Parameters().MinimumBakerStake {
		return nil, 0, types.ResultInsufficientFunds
	}
	ctx.State.ModifyAccount(tx.Sender, func(a *blockstate.Account) error {
		a.Baker = &blockstate.BakerInfo{
			ID:              p.ID,
			SignKey:         p.SignKey,
			ElectionKey:     p.ElectionKey,
			AggregationKey:  p.AggregationKey,
			Stake:           p.Stake,
			RestakeEarnings: p.RestakeEarnings,
		}
		return nil
	})
	return []Event{{Kind: EventBakerAdded, From: AccountEventAddress(tx.Sender), Amount: p.Stake}}, 0, types.ResultSuccess
}

func applyRemoveBaker(ctx *BlockContext, tx *types.NormalTransaction) ([]Event, types.Energy, types.UpdateResult) {
	sender, _ := ctx.State.GetAccount(tx.Sender)
	if sender.Baker == nil {
		return nil, 0, types.ResultInvalid
	}
	params := ctx.State.Parameters()
	core := ctx.State.Core()
	cooldown := types.Timestamp(params.BakerCooldownEpochs * core.EpochLength * uint64(core.SlotDuration))
	ctx.State.ModifyAccount(tx.Sender, func(a *blockstate.Account) error {
		a.Baker.PendingChange = blockstate.StakeRemove
		a.Baker.PendingChangeAt = ctx.SlotTime + cooldown
		return nil
	})
	return []Event{{Kind: EventBakerRemoved, From: AccountEventAddress(tx.Sender)}}, 0, types.ResultSuccess
}

func applyUpdateStake(ctx *BlockContext, tx *types.NormalTransaction, p *UpdateStake) ([]Event, types.Energy, types.UpdateResult) {
	sender, _ := ctx.State.GetAccount(tx.Sender)
	if sender.Baker == nil {
		return nil, 0, types.ResultInvalid
	}
	if p.Stake > sender.Balance {
		return nil, 0, types.ResultInsufficientFunds
	}
	ctx.State.ModifyAccount(tx.Sender, func(a *blockstate.Account) error {
		if p.Stake >= a.Baker.Stake {
			a.Baker.Stake = p.Stake
			a.Baker.PendingChange = blockstate.StakeNoChange
		} else {
			// Reductions wait out the cooldown.
			params := ctx.State.Parameters()
			core := ctx.State.Core()
			a.Baker.PendingChange = blockstate.StakeReduce
			a.Baker.PendingChangeTarget = p.Stake
			a.Baker.PendingChangeAt = ctx.SlotTime + types.Timestamp(params.BakerCooldownEpochs*core.EpochLength*uint64(core.SlotDuration))
		}
		return nil
	})
	return []Event{{Kind: EventStakeChanged, From: AccountEventAddress(tx.Sender), Amount: p.Stake}}, 0, types.ResultSuccess
}

func applyDelegate(ctx *BlockContext, tx *types.NormalTransaction, p *Delegate) ([]Event, types.Energy, types.UpdateResult) {
	sender, _ := ctx.State.GetAccount(tx.Sender)
	if sender.Baker != nil {
		return nil, 0, types.ResultInvalid
	}
	if p.Stake > sender.Balance {
		return nil, 0, types.ResultInsufficientFunds
	}
	ctx.State.ModifyAccount(tx.Sender, func(a *blockstate.Account) error {
		a.Delegation = &blockstate.DelegatorInfo{Target: p.Target, Passive: p.Passive, Stake: p.Stake}
		return nil
	})
	return []Event{{Kind: EventDelegationChanged, From: AccountEventAddress(tx.Sender), Amount: p.Stake}}, 0, types.ResultSuccess
}

func applyUndelegate(ctx *BlockContext, tx *types.NormalTransaction) ([]Event, types.Energy, types.UpdateResult) {
	sender, _ := ctx.State.GetAccount(tx.Sender)
	if sender.Delegation == nil {
		return nil, 0, types.ResultInvalid
	}
	ctx.State.ModifyAccount(tx.Sender, func(a *blockstate.Account) error {
		a.Delegation = nil
		return nil
	})
	return []Event{{Kind: EventDelegationChanged, From: AccountEventAddress(tx.Sender)}}, 0, types.ResultSuccess
}

func executeCredential(ctx *BlockContext, item *types.BlockItem, index uint32) (*Outcome, error) {
	cred := item.Credential
	if cred.Expiry < ctx.SlotTime {
		return nil, fmt.Errorf("credential expired")
	}
	account, err := ctx.State.CreateAccount(blockstate.Credential{
		RegID:            cred.RegID,
		IdentityProvider: cred.IdentityProvider,
		Expiry:           cred.Expiry,
	}, cred.VerifyKey, 0)
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	return &Outcome{
		Hash:    item.Hash(),
		Index:   index,
		Sender:  account.Address,
		Success: true,
		Events: []Event{{
			Kind: EventAccountCreated,
			To:   AccountEventAddress(account.Address),
		}},
	}, nil
}

func executeUpdate(ctx *BlockContext, item *types.BlockItem, index uint32) (*Outcome, error) {
	u := item.Update
	if int(u.UpdateType) >= types.NumUpdateTypes {
		return nil, fmt.Errorf("unknown update type %d", u.UpdateType)
	}
	if u.SequenceNumber != ctx.State.NextUpdateSequenceNumber(u.UpdateType) {
		return nil, fmt.Errorf("update sequence %d, state at %d", u.SequenceNumber, ctx.State.NextUpdateSequenceNumber(u.UpdateType))
	}
	ctx.State.Updates().Enqueue(u.UpdateType, blockstate.QueuedUpdate{
		SequenceNumber: u.SequenceNumber,
		EffectiveTime:  u.EffectiveTime,
		Payload:        u.Payload,
	})
	return &Outcome{
		Hash:    item.Hash(),
		Index:   index,
		Success: true,
		Events:  []Event{{Kind: EventUpdateEnqueued}},
	}, nil
}
