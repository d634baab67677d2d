package tpm

import (
	"fmt"

	"github.com/google/go-tpm/tpm2"
)

// Alg is the closed enumeration of hash algorithm identifiers the library
// understands. AUTO is only a valid input to capability selection; it must
// never be marshaled onto the wire.
type Alg int

const (
	AlgUnspecified Alg = iota
	AlgSHA1
	AlgSHA256
	AlgSHA384
	AlgSHA512
	AlgSM3_256
	AlgNull
	// AlgAuto asks the capability probe to pick a supported algorithm. Its
	// numeric value, 0x4000, deliberately mirrors TPM_ALG_AUTO from the
	// original cryptfs-tpm2 sources: it overlaps reserved TCG structure-tag
	// space and must never be transmitted to a TPM (see tpmAlg below, which
	// panics on it).
	AlgAuto Alg = 0x4000
)

// algWeight breaks AUTO-selection ties in favor of stronger/rarer banks, per
// the capability probe's weight table (spec.md §4.3). Higher wins.
var algWeight = map[Alg]int{
	AlgSHA1:    1,
	AlgSHA256:  2,
	AlgSM3_256: 3,
	AlgSHA384:  7,
	AlgSHA512:  9,
}

// digestSizes is the authoritative algorithm -> digest-size mapping shared
// by every component that needs it (policy compiler scratch buffers, nonce
// lengths, truncation checks).
var digestSizes = map[Alg]int{
	AlgSHA1:    20,
	AlgSHA256:  32,
	AlgSHA384:  48,
	AlgSHA512:  64,
	AlgSM3_256: 32,
}

// DigestSize returns the fixed digest size, in bytes, of alg.
func DigestSize(alg Alg) (int, error) {
	size, ok := digestSizes[alg]
	if !ok {
		return 0, fmt.Errorf("tpm: %w: no digest size for algorithm %v", errUnsupportedAlgorithm, alg)
	}
	return size, nil
}

// tpmAlg maps an Alg to the wire-level tpm2.TPMAlgID. It panics on AlgAuto
// and AlgUnspecified: asking to marshal either is a programmer error, never
// a TPM error, since AlgAuto must be resolved by the capability probe first.
func tpmAlg(alg Alg) tpm2.TPMAlgID {
	switch alg {
	case AlgSHA1:
		return tpm2.TPMAlgSHA1
	case AlgSHA256:
		return tpm2.TPMAlgSHA256
	case AlgSHA384:
		return tpm2.TPMAlgSHA384
	case AlgSHA512:
		return tpm2.TPMAlgSHA512
	case AlgSM3_256:
		return tpm2.TPMAlgSM3256
	case AlgNull:
		return tpm2.TPMAlgNull
	default:
		panic(fmt.Sprintf("tpm: refusing to marshal algorithm %v onto the wire", alg))
	}
}

// resolveNameAlg picks the nameAlg a created object should carry: the bank
// itself when a real PCR policy binds the object, or defaultNameAlg when
// there is no policy to match (pcr_bank_alg == NULL, or never resolved to a
// bank at all).
func resolveNameAlg(alg Alg) Alg {
	if alg == AlgNull || alg == AlgUnspecified {
		return defaultNameAlg
	}
	return alg
}

// ParseAlg parses a CLI-facing algorithm name (as accepted by
// --pcr-bank-alg) into an Alg.
func ParseAlg(name string) (Alg, error) {
	switch name {
	case "sha1":
		return AlgSHA1, nil
	case "sha256":
		return AlgSHA256, nil
	case "sha384":
		return AlgSHA384, nil
	case "sha512":
		return AlgSHA512, nil
	case "sm3_256":
		return AlgSM3_256, nil
	case "auto":
		return AlgAuto, nil
	case "":
		return AlgNull, nil
	default:
		return AlgUnspecified, fmt.Errorf("tpm: %w: unknown algorithm %q", errInvalidArgument, name)
	}
}

func (a Alg) String() string {
	switch a {
	case AlgSHA1:
		return "sha1"
	case AlgSHA256:
		return "sha256"
	case AlgSHA384:
		return "sha384"
	case AlgSHA512:
		return "sha512"
	case AlgSM3_256:
		return "sm3_256"
	case AlgNull:
		return "null"
	case AlgAuto:
		return "auto"
	default:
		return "unspecified"
	}
}
