package tpm

import (
	"fmt"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"

	"cryptfs-tpm2/internal/tpmerr"
)

// LockoutState is the set of derived lockout facts a caller needs to decide
// whether (and how) to clear dictionary-attack lockout.
type LockoutState struct {
	InLockout             bool
	LockoutAuthRequired    bool
	OwnerAuthRequired      bool
	DADisabled             bool
	LockoutEnforced        bool
	LockoutCounter         uint32
	MaxTries               uint32
	LockoutRecoverySeconds uint32
}

// TPM_PT_PERMANENT bit positions (TPM 2.0 Part 2, table 22).
const (
	permanentOwnerAuthSet    = 1 << 0
	permanentLockoutAuthSet  = 1 << 2
	permanentInLockout       = 1 << 9
)

// tpmProperty reads a single TPM_PT_* property value via GetCapability.
func tpmProperty(t transport.TPM, prop tpm2.TPMPT) (uint32, error) {
	cmd := tpm2.GetCapability{
		Capability:    tpm2.TPMCapTPMProperties,
		Property:      uint32(prop),
		PropertyCount: 1,
	}
	rsp, err := cmd.Execute(t)
	if err != nil {
		return 0, wrapTPMError("TPM2_GetCapability", err)
	}
	props, err := rsp.CapabilityData.Data.TPMProperties()
	if err != nil {
		return 0, wrapTPMError("TPM2_GetCapability", err)
	}
	for _, p := range props.TPMProperty {
		if p.Property == prop {
			return p.Value, nil
		}
	}
	return 0, fmt.Errorf("tpm: property %v not reported by TPM", prop)
}

// QueryLockoutState reads the permanent attributes and DA counters needed
// to decide whether a reset is possible or required (spec.md §3, §4.3).
func QueryLockoutState(t transport.TPM) (LockoutState, error) {
	var st LockoutState

	permanent, err := tpmProperty(t, tpm2.TPMPTPermanent)
	if err != nil {
		return st, err
	}
	st.InLockout = permanent&permanentInLockout != 0
	st.OwnerAuthRequired = permanent&permanentOwnerAuthSet != 0
	st.LockoutAuthRequired = permanent&permanentLockoutAuthSet != 0

	maxTries, err := tpmProperty(t, tpm2.TPMPTMaxAuthFail)
	if err != nil {
		return st, err
	}
	st.MaxTries = maxTries
	st.LockoutEnforced = maxTries == 0

	counter, err := tpmProperty(t, tpm2.TPMPTLockoutCounter)
	if err != nil {
		return st, err
	}
	st.LockoutCounter = counter

	recovery, err := tpmProperty(t, tpm2.TPMPTLockoutRecovery)
	if err != nil {
		return st, err
	}
	st.LockoutRecoverySeconds = recovery

	st.DADisabled = recovery == 0 && maxTries == 0

	return st, nil
}

// pcrBankAllocated reports whether alg has an allocated PCR bank
// and whether PCRIndex within it is currently non-zero ("in use").
func pcrBankAllocated(t transport.TPM, alg Alg) (allocated bool, inUse bool, err error) {
	cmd := tpm2.GetCapability{
		Capability:    tpm2.TPMCapPCRs,
		Property:      0,
		PropertyCount: 1,
	}
	rsp, err := cmd.Execute(t)
	if err != nil {
		return false, false, wrapTPMError("TPM2_GetCapability", err)
	}
	assigned, err := rsp.CapabilityData.Data.AssignedPCR()
	if err != nil {
		return false, false, wrapTPMError("TPM2_GetCapability", err)
	}

	wireAlg := tpmAlg(alg)
	for _, sel := range assigned.PCRSelections {
		if sel.Hash != wireAlg {
			continue
		}
		if !pcrSelected(sel, PCRIndex) {
			return false, false, nil
		}
		allocated = true
		break
	}
	if !allocated {
		return false, false, nil
	}

	readCmd := tpm2.PCRRead{
		PCRSelectionIn: tpm2.TPMLPCRSelection{
			PCRSelections: []tpm2.TPMSPCRSelection{
				{Hash: wireAlg, PCRSelect: pcrSelectBitmap(PCRIndex)},
			},
		},
	}
	readRsp, err := readCmd.Execute(t)
	if err != nil {
		return true, false, wrapTPMError("TPM2_PCR_Read", err)
	}
	if len(readRsp.PCRValues.Digests) == 0 {
		return true, false, nil
	}
	for _, b := range readRsp.PCRValues.Digests[0].Buffer {
		if b != 0 {
			return true, true, nil
		}
	}
	return true, false, nil
}

// DigestAlgorithmSupported reports whether hash has a TPM hash
// implementation. Passing AlgAuto selects the highest-weighted supported
// algorithm instead of testing a single one.
func DigestAlgorithmSupported(t transport.TPM, hash Alg) (bool, error) {
	if hash == AlgAuto {
		_, err := SelectDigestAlgorithm(t)
		return err == nil, nil
	}
	_, err := testHashAlgorithm(t, hash)
	return err == nil, nil
}

// testHashAlgorithm submits a trivial TPM2_Hash to confirm the algorithm is
// implemented; GetCapability(TPM_CAP_ALGS) would also work, but the
// original sources exercise the algorithm directly, so this does too.
func testHashAlgorithm(t transport.TPM, hash Alg) ([]byte, error) {
	return Hash(t, []byte{0}, hash)
}

// SelectDigestAlgorithm picks the supported hash algorithm with the
// highest weight (spec.md §4.3's weight table), used to resolve AlgAuto
// for the Hash/digest component.
func SelectDigestAlgorithm(t transport.TPM) (Alg, error) {
	candidates := []Alg{AlgSHA1, AlgSHA256, AlgSM3_256, AlgSHA384, AlgSHA512}
	var best Alg
	bestWeight := -1
	for _, alg := range candidates {
		if _, err := testHashAlgorithm(t, alg); err != nil {
			continue
		}
		if w := algWeight[alg]; w > bestWeight {
			bestWeight = w
			best = alg
		}
	}
	if bestWeight < 0 {
		return AlgUnspecified, fmt.Errorf("%w: no supported hash algorithm", errUnsupportedAlgorithm)
	}
	return best, nil
}

// PCRBankSupported reports whether a PCR bank in hash is allocated.
// Passing AlgAuto selects the bank with the highest weight, where in-use
// banks (PCRIndex already non-zero) beat otherwise-equal-weight unused
// banks, per spec.md §4.3.
func PCRBankSupported(t transport.TPM, hash Alg) (bool, error) {
	if hash == AlgAuto {
		_, err := SelectPCRBank(t)
		return err == nil, nil
	}
	allocated, _, err := pcrBankAllocated(t, hash)
	return allocated, err
}

// SelectPCRBank resolves AlgAuto for PCR-bank selection.
func SelectPCRBank(t transport.TPM) (Alg, error) {
	candidates := []Alg{AlgSHA1, AlgSHA256, AlgSM3_256, AlgSHA384, AlgSHA512}
	var best Alg
	bestScore := -1
	for _, alg := range candidates {
		allocated, inUse, err := pcrBankAllocated(t, alg)
		if err != nil || !allocated {
			continue
		}
		score := algWeight[alg] * 10
		if inUse {
			score++
		}
		if score > bestScore {
			bestScore = score
			best = alg
		}
	}
	if bestScore < 0 {
		return AlgUnspecified, fmt.Errorf("%w: no allocated PCR bank", errUnsupportedPcr)
	}
	return best, nil
}

// ReadPublic returns the public area of the object at handle, or
// tpmerr.ErrNotFound. It follows the original capability.c's two-step form
// (enumerate persistent handles, then ReadPublic only if present) so that
// "genuinely absent" is distinguished from a transient TPM error, per
// spec.md §12 item 4.
func ReadPublic(t transport.TPM, handle tpm2.TPMHandle) (*tpm2.TPMTPublic, error) {
	present, err := persistentHandlePresent(t, handle)
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, tpmerr.ErrNotFound
	}

	cmd := tpm2.ReadPublic{ObjectHandle: handle}
	rsp, err := cmd.Execute(t)
	if err != nil {
		return nil, wrapTPMError("TPM2_ReadPublic", err)
	}
	pub, err := rsp.OutPublic.Contents()
	if err != nil {
		return nil, wrapTPMError("TPM2_ReadPublic", err)
	}
	return pub, nil
}

// persistentHandlePresent enumerates the NV persistent handle range via
// GetCapability(TPM_CAP_HANDLES) and reports whether handle appears in it.
func persistentHandlePresent(t transport.TPM, handle tpm2.TPMHandle) (bool, error) {
	cmd := tpm2.GetCapability{
		Capability:    tpm2.TPMCapHandles,
		Property:      uint32(PersistentHandleMin),
		PropertyCount: uint32(PersistentHandleMax - PersistentHandleMin + 1),
	}
	rsp, err := cmd.Execute(t)
	if err != nil {
		return false, wrapTPMError("TPM2_GetCapability", err)
	}
	handles, err := rsp.CapabilityData.Data.Handles()
	if err != nil {
		return false, wrapTPMError("TPM2_GetCapability", err)
	}
	if handles == nil {
		return false, nil
	}
	for _, h := range handles.Handle {
		if h == handle {
			return true, nil
		}
	}
	return false, nil
}

// pcrSelectBitmap builds the 3-byte PCR selection bitmap with bit
// (index mod 8) of byte (index div 8) set, per spec.md §4.6.
func pcrSelectBitmap(index int) []byte {
	b := make([]byte, 3)
	b[index/8] |= 1 << uint(index%8)
	return b
}

// pcrSelected reports whether index's bit is set in a PCR selection bitmap.
func pcrSelected(sel tpm2.TPMSPCRSelection, index int) bool {
	byteIdx := index / 8
	if byteIdx >= len(sel.PCRSelect) {
		return false
	}
	return sel.PCRSelect[byteIdx]&(1<<uint(index%8)) != 0
}
