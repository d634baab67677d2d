package tpm

import "github.com/google/go-tpm/tpm2"

// Persistent handle constants. These are part of the external contract: a
// volume sealed under one value cannot be unsealed by a build that changes
// it.
const (
	// PrimaryKeyHandle is the NV persistent address of the RSA primary key.
	PrimaryKeyHandle tpm2.TPMHandle = 0x817FFFFF

	// PassphraseHandle is the NV persistent address of the sealed
	// keyedhash object carrying the passphrase.
	PassphraseHandle tpm2.TPMHandle = 0x817FFFFE

	// PCRIndex is the platform-configuration register the seal/unseal
	// policy is bound to.
	PCRIndex = 7

	// MaxAuthLen is the maximum length, in bytes, of an authorization
	// value (TPMU_HA union size).
	MaxAuthLen = 64

	// SealedPayloadSize is the number of random bytes drawn from the TPM
	// when the caller supplies no passphrase bytes of their own.
	SealedPayloadSize = 64

	// MaxLockoutRetry bounds interactive lockout-auth prompts.
	MaxLockoutRetry = 3

	// PersistentHandleMin and PersistentHandleMax bound the NV persistent
	// handle range; used to validate configured handle overrides.
	PersistentHandleMin tpm2.TPMHandle = 0x81000000
	PersistentHandleMax tpm2.TPMHandle = 0x81FFFFFF
)

// defaultNameAlg is the object nameAlg used whenever there is no PCR bank to
// match: the primary key (which never carries a policy) and the passphrase
// object when pcr_bank_alg == NULL. This mirrors a compatibility decision
// carried over from the original sources: it is a named constant, not a
// magic fallback. See resolveNameAlg.
const defaultNameAlg = AlgSHA1
