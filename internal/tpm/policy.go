package tpm

import (
	"fmt"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"

	"cryptfs-tpm2/internal/tpmerr"
)

// policySelection builds the single-PCR TPML_PCR_SELECTION for PCRIndex in
// bank alg.
func policySelection(alg Alg) tpm2.TPMLPCRSelection {
	return tpm2.TPMLPCRSelection{
		PCRSelections: []tpm2.TPMSPCRSelection{
			{Hash: tpmAlg(alg), PCRSelect: pcrSelectBitmap(PCRIndex)},
		},
	}
}

// expectedPCRDigest reads the current value of the selected PCRs and
// reproduces the running-hash construction spec.md §4.6 requires before
// calling TPM2_PolicyPCR: a plain hash of the first PCR's value, then a
// hash of (running digest || next PCR value) for each subsequent one. With
// a single-PCR selection (the only shape this library ever builds) the
// loop degenerates to one iteration, but the general form is kept so the
// invariant is visible rather than hard-coded away.
func expectedPCRDigest(t transport.TPM, sel tpm2.TPMLPCRSelection, alg Alg) ([]byte, error) {
	readCmd := tpm2.PCRRead{PCRSelectionIn: sel}
	rsp, err := readCmd.Execute(t)
	if err != nil {
		return nil, wrapTPMError("TPM2_PCR_Read", err)
	}

	wantCount := 0
	for _, s := range sel.PCRSelections {
		for i := 0; i < len(s.PCRSelect)*8; i++ {
			if pcrSelected(s, i) {
				wantCount++
			}
		}
	}
	if len(rsp.PCRValues.Digests) != wantCount {
		return nil, fmt.Errorf("%w: requested %d pcrs, tpm reported %d", tpmerr.ErrUnsupportedPcr, wantCount, len(rsp.PCRValues.Digests))
	}

	var running []byte
	for i, d := range rsp.PCRValues.Digests {
		if i == 0 {
			h, err := Hash(t, d.Buffer, alg)
			if err != nil {
				return nil, err
			}
			running = h
			continue
		}
		h, err := Hash(t, append(append([]byte{}, running...), d.Buffer...), alg)
		if err != nil {
			return nil, err
		}
		running = h
	}
	return running, nil
}

// policyPCRThenPassword applies the fixed, observable construction order
// spec.md §4.6 mandates: TPM2_PolicyPCR over PCRIndex in bank alg, then
// TPM2_PolicyPassword. Applying both to the same session means the object
// may only be revealed when the platform PCR matches AND the caller
// supplies the object's authorization value.
func policyPCRThenPassword(t transport.TPM, session tpm2.TPMHandle, alg Alg) error {
	sel := policySelection(alg)

	digest, err := expectedPCRDigest(t, sel, alg)
	if err != nil {
		return err
	}

	pcrCmd := tpm2.PolicyPCR{
		PolicySession: session,
		PcrDigest:     tpm2.TPM2BDigest{Buffer: digest},
		Pcrs:          sel,
	}
	if _, err := pcrCmd.Execute(t); err != nil {
		return wrapTPMError("TPM2_PolicyPCR", err)
	}

	passCmd := tpm2.PolicyPassword{PolicySession: session}
	if _, err := passCmd.Execute(t); err != nil {
		return wrapTPMError("TPM2_PolicyPassword", err)
	}
	return nil
}

// BuildPCRPolicy computes the policy digest to embed in an object's
// authPolicy at creation time: a trial session replays PolicyPCR then
// PolicyPassword, and TPM2_PolicyGetDigest yields the final digest.
func BuildPCRPolicy(t transport.TPM, alg Alg) ([]byte, error) {
	session, err := NewPolicySession(t, Trial, alg)
	if err != nil {
		return nil, err
	}
	defer Destroy(t, session)

	if err := policyPCRThenPassword(t, session.Handle(), alg); err != nil {
		return nil, err
	}

	digestCmd := tpm2.PolicyGetDigest{PolicySession: session.Handle()}
	rsp, err := digestCmd.Execute(t)
	if err != nil {
		return nil, wrapTPMError("TPM2_PolicyGetDigest", err)
	}
	return rsp.PolicyDigest.Buffer, nil
}

// BindRealPolicySession starts a REAL policy session and replays the same
// PolicyPCR/PolicyPassword sequence against it, so the TPM will accept it
// as authorization for TPM2_Unseal if (and only if) the platform's PCR
// still matches what was recorded at seal time. Destroy must be called on
// both the success and failure path (spec.md §3's session-release
// invariant); callers get the session back regardless of error so they can
// do so.
func BindRealPolicySession(t transport.TPM, alg Alg) (AuthSession, error) {
	session, err := NewPolicySession(t, Real, alg)
	if err != nil {
		return AuthSession{}, err
	}
	if err := policyPCRThenPassword(t, session.Handle(), alg); err != nil {
		return session, err
	}
	return session, nil
}
