// Copyright 2025 Certen Protocol
//
// Canonical serialization tests

package types

import (
	"bytes"
	"testing"
)

func sampleTransaction() *BlockItem {
	return NewNormal(&NormalTransaction{
		Sender:     AccountAddress{1, 2, 3},
		Nonce:      7,
		Energy:     50_000,
		Expiry:     123456789,
		Payload:    []byte{0xc0, 0x01},
		Signatures: []AccountSignature{{KeyIndex: 0, Signature: []byte("sig-bytes")}},
	})
}

func sampleBlock() *BakedBlock {
	return &BakedBlock{
		Slot:          9,
		Parent:        BlockHash{0xaa},
		Baker:         3,
		BakerKey:      []byte("baker-key-32-bytes-of-material!!"),
		Proof:         []byte("leadership-proof"),
		BlockNonce:    []byte("block-nonce-proof"),
		LastFinalized: BlockHash{0xbb},
		Items:         []*BlockItem{sampleTransaction()},
		StateHash:     StateHash{0xcc},
		OutcomesHash:  [32]byte{0xdd},
		Signature:     []byte("block-signature"),
	}
}

// Round-trip: serialize -> parse -> serialize yields identical bytes.
func TestBlock_SerializeRoundTrip(t *testing.T) {
	block := sampleBlock()
	enc1, err := block.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	parsed, err := DeserializeBakedBlock(enc1)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	enc2, err := parsed.Serialize()
	if err != nil {
		t.Fatalf("re-serialize: %v", err)
	}
	if !bytes.Equal(enc1, enc2) {
		t.Error("round trip changed the canonical bytes")
	}
	if parsed.Hash() != block.Hash() {
		t.Error("round trip changed the content hash")
	}
}

func TestBlock_WithFinalizationRoundTrip(t *testing.T) {
	block := sampleBlock()
	block.Finalization = &FinalizationRecord{
		Index:     4,
		BlockHash: BlockHash{0xee},
		Delay:     2,
		Proof:     FinalizationProof{SignerIndices: []uint32{0, 2}, AggregateSignature: []byte("agg")},
	}
	enc, err := block.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	parsed, err := DeserializeBakedBlock(enc)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if !parsed.Finalization.Equal(block.Finalization) {
		t.Error("embedded finalization record changed over round trip")
	}
}

func TestBlockItem_RoundTripAllKinds(t *testing.T) {
	items := []*BlockItem{
		sampleTransaction(),
		NewCredential(&CredentialDeployment{
			RegID:             CredentialRegID{9},
			IdentityProvider:  2,
			AnonymityRevokers: []uint32{1, 3},
			VerifyKey:         []byte("vk"),
			Expiry:            42,
			Proofs:            []byte("proofs"),
		}),
		NewUpdate(&ChainUpdate{
			UpdateType:     UpdateElectionDifficulty,
			SequenceNumber: 5,
			EffectiveTime:  100,
			Timeout:        90,
			Payload:        []byte{0, 1, 2},
			Signatures:     []AccountSignature{{KeyIndex: 1, Signature: []byte("s")}},
		}),
	}
	for i, item := range items {
		enc, err := item.Serialize()
		if err != nil {
			t.Fatalf("item %d serialize: %v", i, err)
		}
		parsed, err := DeserializeBlockItem(enc)
		if err != nil {
			t.Fatalf("item %d deserialize: %v", i, err)
		}
		if parsed.Kind != item.Kind {
			t.Errorf("item %d kind changed", i)
		}
		if parsed.Hash() != item.Hash() {
			t.Errorf("item %d hash changed over round trip", i)
		}
	}
}

func TestEnvelope_RoundTripAndRejects(t *testing.T) {
	body := []byte("payload")
	raw := EncodeEnvelope(MessageFinalizationRecord, 3, body)
	env, err := ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if env.Type != MessageFinalizationRecord || env.GenesisIndex != 3 || !bytes.Equal(env.Body, body) {
		t.Error("envelope fields changed over round trip")
	}

	if _, err := ParseEnvelope([]byte{1, 2}); err != ErrEnvelopeTooShort {
		t.Errorf("short envelope: %v", err)
	}
	bad := EncodeEnvelope(MessageBlock, 0, nil)
	bad[0] = 0x7f
	if _, err := ParseEnvelope(bad); err != ErrUnknownMessageType {
		t.Errorf("unknown type: %v", err)
	}
	badVer := EncodeEnvelope(MessageBlock, 0, body)
	badVer[5] = 99
	if _, err := ParseEnvelope(badVer); err != ErrUnsupportedBodyVersion {
		t.Errorf("bad body version: %v", err)
	}
}

// The numeric code table is an external contract; pin every value.
func TestResultCodes_Pinned(t *testing.T) {
	pinned := map[UpdateResult]int32{
		ResultSuccess: 0, ResultSerializationFail: 1, ResultInvalid: 2,
		ResultPendingBlock: 3, ResultPendingFinalization: 4, ResultAsync: 5,
		ResultDuplicate: 6, ResultStale: 7, ResultIncorrectFinalizationSession: 8,
		ResultUnverifiable: 9, ResultContinueCatchUp: 10, ResultEarlyBlock: 11,
		ResultMissingImportFile: 12, ResultConsensusShutDown: 13,
		ResultExpiryTooLate: 14, ResultVerificationFailed: 15,
		ResultNonexistingSenderAccount: 16, ResultDuplicateNonce: 17,
		ResultNonceTooLarge: 18, ResultTooLowEnergy: 19,
		ResultInvalidGenesisIndex: 20, ResultDuplicateAccountRegistrationID: 21,
		ResultCredentialDeploymentInvalidSignatures: 22,
		ResultCredentialDeploymentInvalidIP:         23,
		ResultCredentialDeploymentInvalidAR:         24,
		ResultCredentialDeploymentExpired:           25,
		ResultChainUpdateInvalidEffectiveTime:       26,
		ResultChainUpdateSequenceNumberTooOld:       27,
		ResultChainUpdateInvalidSignatures:          28,
		ResultEnergyExceeded:                        29,
		ResultInsufficientFunds:                     30,
	}
	for code, want := range pinned {
		if int32(code) != want {
			t.Errorf("%s = %d, want %d", code, int32(code), want)
		}
	}
	// Forwardable semantics: success and dependency-deferred codes relay.
	for code, want := range map[UpdateResult]bool{
		ResultSuccess: true, ResultPendingBlock: true, ResultPendingFinalization: true,
		ResultDuplicate: false, ResultStale: false, ResultInvalid: false,
	} {
		if code.Forwardable() != want {
			t.Errorf("%s forwardable = %v, want %v", code, code.Forwardable(), want)
		}
	}
}

func TestGenesisData_RoundTripAndHash(t *testing.T) {
	gd := &GenesisData{
		Core: GenesisCore{
			GenesisTime:    1000,
			SlotDuration:   250,
			EpochLength:    900,
			MaxBlockEnergy: 3_000_000,
		},
		ProtocolVersion: ProtocolVersion2,
		StateHash:       StateHash{5},
	}
	enc, err := gd.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	parsed, err := DeserializeGenesisData(enc)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if parsed.Hash() != gd.Hash() {
		t.Error("genesis hash changed over round trip")
	}
	if parsed.IsRegenesis() {
		t.Error("initial genesis classified as regenesis")
	}
	parsed.TerminalBlock = BlockHash{1}
	if !parsed.IsRegenesis() {
		t.Error("regenesis not recognized")
	}
}

func TestSlotTimeMath(t *testing.T) {
	core := GenesisCore{GenesisTime: 10_000, SlotDuration: 500, EpochLength: 10}
	if got := core.SlotTime(4); got != 12_000 {
		t.Errorf("slot time = %d, want 12000", got)
	}
	if got := core.SlotOfTime(12_499); got != 4 {
		t.Errorf("slot of time = %d, want 4", got)
	}
	if got := core.EpochOfSlot(25); got != 2 {
		t.Errorf("epoch = %d, want 2", got)
	}
}
