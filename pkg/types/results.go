// Copyright 2025 Certen Protocol
//
// Reception result codes. The numeric values are part of the external
// contract (RPC replies carry them verbatim) and must never be renumbered.

package types

// UpdateResult is the outcome of a reception operation.
type UpdateResult int32

const (
	ResultSuccess                               UpdateResult = 0
	ResultSerializationFail                     UpdateResult = 1
	ResultInvalid                               UpdateResult = 2
	ResultPendingBlock                          UpdateResult = 3
	ResultPendingFinalization                   UpdateResult = 4
	ResultAsync                                 UpdateResult = 5
	ResultDuplicate                             UpdateResult = 6
	ResultStale                                 UpdateResult = 7
	ResultIncorrectFinalizationSession          UpdateResult = 8
	ResultUnverifiable                          UpdateResult = 9
	ResultContinueCatchUp                       UpdateResult = 10
	ResultEarlyBlock                            UpdateResult = 11
	ResultMissingImportFile                     UpdateResult = 12
	ResultConsensusShutDown                     UpdateResult = 13
	ResultExpiryTooLate                         UpdateResult = 14
	ResultVerificationFailed                    UpdateResult = 15
	ResultNonexistingSenderAccount              UpdateResult = 16
	ResultDuplicateNonce                        UpdateResult = 17
	ResultNonceTooLarge                         UpdateResult = 18
	ResultTooLowEnergy                          UpdateResult = 19
	ResultInvalidGenesisIndex                   UpdateResult = 20
	ResultDuplicateAccountRegistrationID        UpdateResult = 21
	ResultCredentialDeploymentInvalidSignatures UpdateResult = 22
	ResultCredentialDeploymentInvalidIP         UpdateResult = 23
	ResultCredentialDeploymentInvalidAR         UpdateResult = 24
	ResultCredentialDeploymentExpired           UpdateResult = 25
	ResultChainUpdateInvalidEffectiveTime       UpdateResult = 26
	ResultChainUpdateSequenceNumberTooOld       UpdateResult = 27
	ResultChainUpdateInvalidSignatures          UpdateResult = 28
	ResultEnergyExceeded                        UpdateResult = 29
	ResultInsufficientFunds                     UpdateResult = 30
)

// Forwardable reports whether a message that produced this result should be
// relayed to peers.
func (r UpdateResult) Forwardable() bool {
	switch r {
	case ResultSuccess, ResultPendingBlock, ResultPendingFinalization:
		return true
	default:
		return false
	}
}

var resultNames = map[UpdateResult]string{
	ResultSuccess:                               "Success",
	ResultSerializationFail:                     "SerializationFail",
	ResultInvalid:                               "Invalid",
	ResultPendingBlock:                          "PendingBlock",
	ResultPendingFinalization:                   "PendingFinalization",
	ResultAsync:                                 "Async",
	ResultDuplicate:                             "Duplicate",
	ResultStale:                                 "Stale",
	ResultIncorrectFinalizationSession:          "IncorrectFinalizationSession",
	ResultUnverifiable:                          "Unverifiable",
	ResultContinueCatchUp:                       "ContinueCatchUp",
	ResultEarlyBlock:                            "EarlyBlock",
	ResultMissingImportFile:                     "MissingImportFile",
	ResultConsensusShutDown:                     "ConsensusShutDown",
	ResultExpiryTooLate:                         "ExpiryTooLate",
	ResultVerificationFailed:                    "VerificationFailed",
	ResultNonexistingSenderAccount:              "NonexistingSenderAccount",
	ResultDuplicateNonce:                        "DuplicateNonce",
	ResultNonceTooLarge:                         "NonceTooLarge",
	ResultTooLowEnergy:                          "TooLowEnergy",
	ResultInvalidGenesisIndex:                   "InvalidGenesisIndex",
	ResultDuplicateAccountRegistrationID:        "DuplicateAccountRegistrationID",
	ResultCredentialDeploymentInvalidSignatures: "CredentialDeploymentInvalidSignatures",
	ResultCredentialDeploymentInvalidIP:         "CredentialDeploymentInvalidIP",
	ResultCredentialDeploymentInvalidAR:         "CredentialDeploymentInvalidAR",
	ResultCredentialDeploymentExpired:           "CredentialDeploymentExpired",
	ResultChainUpdateInvalidEffectiveTime:       "ChainUpdateInvalidEffectiveTime",
	ResultChainUpdateSequenceNumberTooOld:       "ChainUpdateSequenceNumberTooOld",
	ResultChainUpdateInvalidSignatures:          "ChainUpdateInvalidSignatures",
	ResultEnergyExceeded:                        "EnergyExceeded",
	ResultInsufficientFunds:                     "InsufficientFunds",
}

func (r UpdateResult) String() string {
	if s, ok := resultNames[r]; ok {
		return s
	}
	return "UnknownResult"
}
