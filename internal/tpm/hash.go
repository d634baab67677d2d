package tpm

import (
	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"
)

// Hash submits data to the TPM's TPM2_Hash command under alg and returns
// the digest. This is the canonical hashing primitive every other
// component uses instead of a software hash library, so that "the TPM
// supports this algorithm" and "this algorithm produced this digest" stay
// a single source of truth.
func Hash(t transport.TPM, data []byte, alg Alg) ([]byte, error) {
	cmd := tpm2.Hash{
		Data:      tpm2.TPM2BMaxBuffer{Buffer: data},
		HashAlg:   tpmAlg(alg),
		Hierarchy: tpm2.TPMRHNull,
	}
	rsp, err := cmd.Execute(t)
	if err != nil {
		return nil, wrapTPMError("TPM2_Hash", err)
	}
	return rsp.OutHash.Buffer, nil
}

// GetRandom draws n random bytes from the TPM's internal RNG (used by the
// object factory when the caller supplies no passphrase bytes).
func GetRandom(t transport.TPM, n uint16) ([]byte, error) {
	cmd := tpm2.GetRandom{BytesRequested: n}
	rsp, err := cmd.Execute(t)
	if err != nil {
		return nil, wrapTPMError("TPM2_GetRandom", err)
	}
	return rsp.RandomBytes.Buffer, nil
}
