package tpm

import (
	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"
)

// primaryKeyTemplate builds the RSA 2048 restricted-decrypt storage key
// template the primary key is created under: AES-128-CFB symmetric, no
// asymmetric scheme (it is never used to sign or directly decrypt caller
// data, only to parent the sealed passphrase object). userAuth carries the
// caller-supplied primary-key secret; an empty secret is a valid, meaningful
// authorization. nameAlg must match the digest size of any authPolicy the
// object carries (here always empty, since the primary key is never
// PCR-policy-bound). noDA mirrors the --no-da flag onto the created
// object's attributes.
func primaryKeyTemplate(userAuth []byte, nameAlg Alg, noDA bool) tpm2.TPMTPublic {
	return tpm2.TPMTPublic{
		Type:    tpm2.TPMAlgRSA,
		NameAlg: tpmAlg(nameAlg),
		ObjectAttributes: tpm2.TPMAObject{
			FixedTPM:            true,
			FixedParent:         true,
			SensitiveDataOrigin: true,
			UserWithAuth:        true,
			Restricted:          true,
			Decrypt:             true,
			NoDA:                noDA,
		},
		Parameters: tpm2.NewTPMUPublicParms(
			tpm2.TPMAlgRSA,
			&tpm2.TPMSRSAParms{
				Symmetric: tpm2.TPMTSymDefObject{
					Algorithm: tpm2.TPMAlgAES,
					KeyBits: tpm2.NewTPMUSymKeyBits(
						tpm2.TPMAlgAES,
						tpm2.TPMKeyBits(128),
					),
					Mode: tpm2.NewTPMUSymMode(
						tpm2.TPMAlgAES,
						tpm2.TPMAlgCFB,
					),
				},
				Scheme:  tpm2.TPMTRSAScheme{Scheme: tpm2.TPMAlgNull},
				KeyBits: 2048,
			},
		),
	}
}

// passphraseTemplate builds the KEYEDHASH sealed-object template: no sign,
// no restrict, no decrypt, and sensitiveDataOrigin cleared because the
// sensitive data is caller- or TPM-RNG-supplied at Create time rather than
// generated by the object itself. authPolicy carries the PCR+password
// policy digest computed by the policy compiler (C6); it is empty when the
// caller asked for no PCR binding, in which case only password auth
// applies. nameAlg must be the bank the policy digest was computed in (the
// TPM rejects Create with TPM_RC_SIZE otherwise, since authPolicy's length
// is fixed to nameAlg's digest size); callers fall back to defaultNameAlg
// when there is no bank to match.
func passphraseTemplate(policyDigest []byte, nameAlg Alg, noDA bool) tpm2.TPMTPublic {
	return tpm2.TPMTPublic{
		Type:    tpm2.TPMAlgKeyedHash,
		NameAlg: tpmAlg(nameAlg),
		ObjectAttributes: tpm2.TPMAObject{
			FixedTPM:     true,
			FixedParent:  true,
			UserWithAuth: true,
			NoDA:         noDA,
		},
		AuthPolicy: tpm2.TPM2BDigest{Buffer: policyDigest},
	}
}

// retry runs op once, and if it fails with an action the retry policy can
// recover from, invokes the matching recovery hook and tries op exactly one
// more time (spec.md §4.7: at most a single retry per call). onLockout and
// onBadAuth may be nil, in which case that action degrades to a fatal
// failure.
func retry(op func() error, onLockout func() error, onBadAuth func() error) error {
	err := op()
	if err == nil {
		return nil
	}

	action, _ := classify(err)
	switch action {
	case actionResetLockout:
		if onLockout == nil {
			return err
		}
		if rerr := onLockout(); rerr != nil {
			return rerr
		}
	case actionPromptAuth:
		if onBadAuth == nil {
			return err
		}
		if rerr := onBadAuth(); rerr != nil {
			return rerr
		}
	default:
		return err
	}

	return op()
}

// CreatePrimaryKey runs TPM2_CreatePrimary under the owner hierarchy with
// primaryKeyTemplate and loads the resulting object so its handle is usable
// for a subsequent Create or EvictControl call. The caller must flush the
// returned handle (it is not persistent) once it is done with it — the
// persistence controller (C8) is what makes it durable.
func CreatePrimaryKey(t transport.TPM, ownerAuth, primaryAuth []byte, nameAlg Alg, noDA bool) (tpm2.TPMHandle, *tpm2.TPM2BName, error) {
	cmd := tpm2.CreatePrimary{
		PrimaryHandle: tpm2.AuthHandle{
			Handle: tpm2.TPMRHOwner,
			Auth:   tpm2.PasswordAuth(ownerAuth),
		},
		InSensitive: tpm2.TPM2BSensitiveCreate{
			Sensitive: &tpm2.TPMSSensitiveCreate{
				UserAuth: tpm2.TPM2BAuth{Buffer: primaryAuth},
			},
		},
		InPublic: tpm2.New2B(primaryKeyTemplate(primaryAuth, nameAlg, noDA)),
	}
	rsp, err := cmd.Execute(t)
	if err != nil {
		return 0, nil, wrapTPMError("TPM2_CreatePrimary", err)
	}
	return rsp.ObjectHandle, &rsp.Name, nil
}

// sealedPayload returns the bytes to seal: passphrase if non-empty,
// otherwise SealedPayloadSize bytes of TPM-generated randomness (spec.md
// §4.2's "supply your own or let the TPM draw one" contract).
func sealedPayload(t transport.TPM, passphrase []byte) ([]byte, error) {
	if len(passphrase) > 0 {
		return passphrase, nil
	}
	return GetRandom(t, SealedPayloadSize)
}

// CreatePassphrase seals passphrase (or, if empty, TPM-drawn randomness)
// under the loaded primary key handle, bound to policyDigest (which may be
// empty for password-only authorization) and passphraseAuth. It returns the
// public and private halves of the created object, still unloaded.
func CreatePassphrase(t transport.TPM, primaryHandle tpm2.TPMHandle, primaryName tpm2.TPM2BName, primaryAuth []byte, passphraseAuth []byte, policyDigest []byte, passphrase []byte, nameAlg Alg, noDA bool) (tpm2.TPM2BPublic, tpm2.TPM2BPrivate, error) {
	payload, err := sealedPayload(t, passphrase)
	if err != nil {
		return tpm2.TPM2BPublic{}, tpm2.TPM2BPrivate{}, err
	}

	cmd := tpm2.Create{
		ParentHandle: tpm2.AuthHandle{
			Handle: primaryHandle,
			Name:   primaryName,
			Auth:   tpm2.PasswordAuth(primaryAuth),
		},
		InSensitive: tpm2.TPM2BSensitiveCreate{
			Sensitive: &tpm2.TPMSSensitiveCreate{
				UserAuth: tpm2.TPM2BAuth{Buffer: passphraseAuth},
				Data:     tpm2.NewTPMUSensitiveCreate(&tpm2.TPM2BSensitiveData{Buffer: payload}),
			},
		},
		InPublic: tpm2.New2B(passphraseTemplate(policyDigest, nameAlg, noDA)),
	}
	rsp, err := cmd.Execute(t)
	if err != nil {
		return tpm2.TPM2BPublic{}, tpm2.TPM2BPrivate{}, wrapTPMError("TPM2_Create", err)
	}
	return rsp.OutPublic, rsp.OutPrivate, nil
}

// LoadObject loads a previously created public/private pair under parent,
// returning its transient handle and name. Used to load a just-created
// sealed object so that EvictControl can persist it.
func LoadObject(t transport.TPM, parent tpm2.TPMHandle, parentName tpm2.TPM2BName, parentAuth []byte, pub tpm2.TPM2BPublic, priv tpm2.TPM2BPrivate) (tpm2.TPMHandle, tpm2.TPM2BName, error) {
	cmd := tpm2.Load{
		ParentHandle: tpm2.AuthHandle{
			Handle: parent,
			Name:   parentName,
			Auth:   tpm2.PasswordAuth(parentAuth),
		},
		InPublic:  pub,
		InPrivate: priv,
	}
	rsp, err := cmd.Execute(t)
	if err != nil {
		return 0, tpm2.TPM2BName{}, wrapTPMError("TPM2_Load", err)
	}
	return rsp.ObjectHandle, rsp.Name, nil
}

// FlushHandle releases a transient handle. Errors are wrapped but otherwise
// non-fatal to callers that are already on an error or shutdown path; they
// decide whether to surface it.
func FlushHandle(t transport.TPM, handle tpm2.TPMHandle) error {
	if handle == 0 {
		return nil
	}
	cmd := tpm2.FlushContext{FlushHandle: handle}
	if _, err := cmd.Execute(t); err != nil {
		return wrapTPMError("TPM2_FlushContext", err)
	}
	return nil
}
