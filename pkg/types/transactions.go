// Copyright 2025 Certen Protocol
//
// Block items: normal transactions, credential deployments and chain
// updates, with their canonical serialization and content hashes.

package types

import (
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/rlp"
)

// BlockItemKind tags the members of the block-item union on the wire.
type BlockItemKind uint8

const (
	KindNormalTransaction    BlockItemKind = 0
	KindCredentialDeployment BlockItemKind = 1
	KindChainUpdate          BlockItemKind = 2
)

// AccountSignature is one signature under one of the sender's keys.
type AccountSignature struct {
	KeyIndex  uint8
	Signature []byte
}

// NormalTransaction is an account-sent transaction.
type NormalTransaction struct {
	Sender     AccountAddress
	Nonce      Nonce
	Energy     Energy
	Expiry     Timestamp
	Payload    []byte // RLP of a scheduler payload
	Signatures []AccountSignature
}

// SigningBytes returns the canonical bytes the sender signs: everything but
// the signatures.
func (t *NormalTransaction) SigningBytes() []byte {
	b, err := rlp.EncodeToBytes([]interface{}{t.Sender, t.Nonce, t.Energy, t.Expiry, t.Payload})
	if err != nil {
		panic("types: transaction signing bytes: " + err.Error())
	}
	return b
}

// CredentialDeployment creates a new account from an identity-provider
// issued credential.
type CredentialDeployment struct {
	RegID             CredentialRegID
	IdentityProvider  uint32
	AnonymityRevokers []uint32
	VerifyKey         []byte
	Expiry            Timestamp
	Proofs            []byte
}

// AccountAddress derives the address of the account the deployment creates.
// The address is the hash of the registration id, so it is stable across
// nodes.
func (c *CredentialDeployment) AccountAddress() AccountAddress {
	return AccountAddress(HashBytes(c.RegID[:]))
}

// UpdateType enumerates the chain parameters a ChainUpdate can target.
type UpdateType uint8

const (
	UpdateElectionDifficulty UpdateType = 0
	UpdateEuroPerEnergy      UpdateType = 1
	UpdateMicroGTUPerEuro    UpdateType = 2
	UpdateFoundationAccount  UpdateType = 3
	UpdateMintDistribution   UpdateType = 4
	UpdateGASRewards         UpdateType = 5
	UpdateProtocol           UpdateType = 6
	UpdateRootKeys           UpdateType = 7
	UpdateLevel1Keys         UpdateType = 8
	UpdateLevel2Keys         UpdateType = 9
	UpdatePoolParameters     UpdateType = 10
	UpdateCooldownParameters UpdateType = 11
	UpdateTimeParameters     UpdateType = 12

	// NumUpdateTypes bounds the sequence-number index tables.
	NumUpdateTypes = 13
)

// ChainUpdate is a governance-signed change to chain parameters. Protocol
// updates travel here too and eventually trigger a regenesis.
type ChainUpdate struct {
	UpdateType     UpdateType
	SequenceNumber UpdateSequenceNumber
	EffectiveTime  Timestamp // 0 means immediate
	Timeout        Timestamp // drop if not effective by this time
	Payload        []byte
	Signatures     []AccountSignature
}

// SigningBytes returns the canonical bytes the update keys sign.
func (u *ChainUpdate) SigningBytes() []byte {
	b, err := rlp.EncodeToBytes([]interface{}{u.UpdateType, u.SequenceNumber, u.EffectiveTime, u.Timeout, u.Payload})
	if err != nil {
		panic("types: update signing bytes: " + err.Error())
	}
	return b
}

// BlockItem is the tagged union of the three admissible item kinds. Exactly
// one of the pointers is non-nil, matching Kind.
type BlockItem struct {
	Kind       BlockItemKind
	Normal     *NormalTransaction
	Credential *CredentialDeployment
	Update     *ChainUpdate

	// hash memoizes the content hash after the first computation.
	hash *TransactionHash
}

// NewNormal wraps a normal transaction as a block item.
func NewNormal(t *NormalTransaction) *BlockItem {
	return &BlockItem{Kind: KindNormalTransaction, Normal: t}
}

// NewCredential wraps a credential deployment as a block item.
func NewCredential(c *CredentialDeployment) *BlockItem {
	return &BlockItem{Kind: KindCredentialDeployment, Credential: c}
}

// NewUpdate wraps a chain update as a block item.
func NewUpdate(u *ChainUpdate) *BlockItem {
	return &BlockItem{Kind: KindChainUpdate, Update: u}
}

// wireBlockItem is the canonical on-the-wire form: a kind tag plus the RLP of
// the concrete member. Interfaces cannot be RLP-encoded directly, and the
// indirection keeps the encoding deterministic.
type wireBlockItem struct {
	Kind BlockItemKind
	Body []byte
}

// EncodeRLP implements rlp.Encoder.
func (bi *BlockItem) EncodeRLP(w io.Writer) error {
	var body []byte
	var err error
	switch bi.Kind {
	case KindNormalTransaction:
		body, err = rlp.EncodeToBytes(bi.Normal)
	case KindCredentialDeployment:
		body, err = rlp.EncodeToBytes(bi.Credential)
	case KindChainUpdate:
		body, err = rlp.EncodeToBytes(bi.Update)
	default:
		return fmt.Errorf("unknown block item kind %d", bi.Kind)
	}
	if err != nil {
		return err
	}
	return rlp.Encode(w, &wireBlockItem{Kind: bi.Kind, Body: body})
}

// DecodeRLP implements rlp.Decoder.
func (bi *BlockItem) DecodeRLP(s *rlp.Stream) error {
	var wire wireBlockItem
	if err := s.Decode(&wire); err != nil {
		return err
	}
	bi.Kind = wire.Kind
	bi.hash = nil
	bi.Normal, bi.Credential, bi.Update = nil, nil, nil
	switch wire.Kind {
	case KindNormalTransaction:
		bi.Normal = new(NormalTransaction)
		return rlp.DecodeBytes(wire.Body, bi.Normal)
	case KindCredentialDeployment:
		bi.Credential = new(CredentialDeployment)
		return rlp.DecodeBytes(wire.Body, bi.Credential)
	case KindChainUpdate:
		bi.Update = new(ChainUpdate)
		return rlp.DecodeBytes(wire.Body, bi.Update)
	default:
		return fmt.Errorf("unknown block item kind %d", wire.Kind)
	}
}

// Serialize returns the canonical bytes of the item.
func (bi *BlockItem) Serialize() ([]byte, error) {
	return rlp.EncodeToBytes(bi)
}

// DeserializeBlockItem parses one block item from canonical bytes.
func DeserializeBlockItem(b []byte) (*BlockItem, error) {
	bi := new(BlockItem)
	if err := rlp.DecodeBytes(b, bi); err != nil {
		return nil, fmt.Errorf("deserialize block item: %w", err)
	}
	return bi, nil
}

// Hash returns the item's content hash, computing it on first use.
func (bi *BlockItem) Hash() TransactionHash {
	if bi.hash != nil {
		return *bi.hash
	}
	b, err := bi.Serialize()
	if err != nil {
		panic("types: unserializable block item: " + err.Error())
	}
	h := TransactionHash(HashBytes(b))
	bi.hash = &h
	return h
}

// Expiry returns the item's admission deadline. Chain updates use their
// timeout; items without a deadline return the zero timestamp.
func (bi *BlockItem) Expiry() Timestamp {
	switch bi.Kind {
	case KindNormalTransaction:
		return bi.Normal.Expiry
	case KindCredentialDeployment:
		return bi.Credential.Expiry
	case KindChainUpdate:
		return bi.Update.Timeout
	}
	return 0
}
