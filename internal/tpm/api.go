// Package tpm is the implementation home of C1 through C9 and C11: TCTI
// binding, the system-API session, the capability probe, the hash/digest
// helper, the session builder, the policy compiler, the object factory, the
// persistence controller, the DA controller, and the public API that
// sequences them into the four operations a caller actually wants (create
// primary key, create passphrase, unseal passphrase, evict).
package tpm

import (
	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"

	"cryptfs-tpm2/internal/tpmerr"
)

// Deps bundles the cross-cutting hooks api.go's operations need but does
// not own: the current DA-reset policy and how to prompt for a missing or
// rejected authorization value. A caller that never hits lockout or a
// bad-auth retry can leave Prompt/PromptAuth/WarnIgnoredAuth nil.
type Deps struct {
	OwnerAuth      []byte
	LockoutAuth    []byte
	LockoutAuthSet bool
	Interactive    bool
	Prompt         PromptLockoutAuth
	WarnIgnoredAuth func()

	// PromptAuth re-reads an authorization value for slot ("owner",
	// "primary-key", or "passphrase") after the TPM has rejected the one
	// on hand with RC_BAD_AUTH/RC_AUTH_FAIL. Nil means no interactive
	// fallback is available, so that retry degrades to a fatal error.
	PromptAuth func(slot string) ([]byte, error)
}

func (d Deps) resetLockout(t transport.TPM) error {
	return ResetLockout(t, d.LockoutAuth, d.LockoutAuthSet, d.Interactive, d.Prompt, d.WarnIgnoredAuth)
}

// promptAuth returns a retry onBadAuth hook that re-prompts for slot and
// writes the result back through cur, so the next attempt of op picks up
// the new value. Returns nil (degrading to fatal on bad auth) when the
// caller wired no PromptAuth hook.
func (d Deps) promptAuth(slot string, cur *[]byte) func() error {
	if d.PromptAuth == nil {
		return nil
	}
	return func() error {
		v, err := d.PromptAuth(slot)
		if err != nil {
			return err
		}
		*cur = v
		return nil
	}
}

// CreatePrimaryKeyOp is the public create_primary_key operation: build the
// RSA primary key template, run TPM2_CreatePrimary, and persist the result
// at PrimaryKeyHandle. A lockout during CreatePrimary triggers exactly one
// DA reset and retry, per the standard retry policy.
func CreatePrimaryKeyOp(t transport.TPM, d Deps, primaryAuth []byte, noDA bool) error {
	var handle tpm2.TPMHandle
	var name tpm2.TPM2BName
	ownerAuth := d.OwnerAuth

	err := retry(func() error {
		h, n, err := CreatePrimaryKey(t, ownerAuth, primaryAuth, defaultNameAlg, noDA)
		if err != nil {
			return err
		}
		handle, name = h, *n
		return nil
	}, func() error { return d.resetLockout(t) }, d.promptAuth("owner", &ownerAuth))
	if err != nil {
		return err
	}
	defer FlushHandle(t, handle)

	return Persist(t, ownerAuth, handle, name, PrimaryKeyHandle)
}

// CreatePassphraseOp is the public create_passphrase operation: load the
// persistent primary key, compile the PCR+password policy (or skip it for
// password-only auth when pcrBankAlg is AlgNull), seal passphrase (or
// TPM-drawn randomness) under it, and persist the sealed object at
// PassphraseHandle.
func CreatePassphraseOp(t transport.TPM, d Deps, primaryAuth, passphraseAuth, passphrase []byte, pcrBankAlg Alg, noDA bool) error {
	primaryHandle, primaryName, err := loadPersistent(t, PrimaryKeyHandle)
	if err != nil {
		return err
	}

	alg := pcrBankAlg
	if alg == AlgAuto {
		alg, err = SelectPCRBank(t)
		if err != nil {
			return err
		}
	}

	var policyDigest []byte
	if alg != AlgNull && alg != AlgUnspecified {
		policyDigest, err = BuildPCRPolicy(t, alg)
		if err != nil {
			return err
		}
	}
	nameAlg := resolveNameAlg(alg)

	var pub tpm2.TPM2BPublic
	var priv tpm2.TPM2BPrivate
	parentAuth := primaryAuth
	err = retry(func() error {
		p, pr, err := CreatePassphrase(t, primaryHandle, primaryName, parentAuth, passphraseAuth, policyDigest, passphrase, nameAlg, noDA)
		if err != nil {
			return err
		}
		pub, priv = p, pr
		return nil
	}, func() error { return d.resetLockout(t) }, d.promptAuth("primary-key", &parentAuth))
	if err != nil {
		return err
	}

	objHandle, objName, err := LoadObject(t, primaryHandle, primaryName, parentAuth, pub, priv)
	if err != nil {
		return err
	}
	defer FlushHandle(t, objHandle)

	return Persist(t, d.OwnerAuth, objHandle, objName, PassphraseHandle)
}

// UnsealPassphraseOp is the public unseal_passphrase operation. When
// pcrBankAlg names a real algorithm, authorization goes through a real
// policy session bound to PCR 7 plus PolicyPassword (so the TPM verifies
// platform state and the passphrase secret together); otherwise a plain
// password session authorizes the Unseal directly. The policy session is
// always flushed, on both the success and failure path.
func UnsealPassphraseOp(t transport.TPM, d Deps, passphraseAuth []byte, pcrBankAlg Alg) ([]byte, error) {
	handle, name, err := loadPersistent(t, PassphraseHandle)
	if err != nil {
		return nil, err
	}

	alg := pcrBankAlg
	if alg == AlgAuto {
		alg, err = SelectPCRBank(t)
		if err != nil {
			return nil, err
		}
	}

	if alg == AlgNull || alg == AlgUnspecified {
		auth := passphraseAuth
		var out []byte
		err := retry(func() error {
			data, err := unsealWithPassword(t, handle, name, auth)
			if err != nil {
				return err
			}
			out = data
			return nil
		}, func() error { return d.resetLockout(t) }, d.promptAuth("passphrase", &auth))
		return out, err
	}

	auth := passphraseAuth
	var out []byte
	err = retry(func() error {
		session, serr := BindRealPolicySession(t, alg)
		defer Destroy(t, session)
		if serr != nil {
			return serr
		}
		data, uerr := unsealWithSession(t, handle, name, session, auth)
		if uerr != nil {
			return uerr
		}
		out = data
		return nil
	}, func() error { return d.resetLockout(t) }, d.promptAuth("passphrase", &auth))
	return out, err
}

func unsealWithPassword(t transport.TPM, handle tpm2.TPMHandle, name tpm2.TPM2BName, auth []byte) ([]byte, error) {
	cmd := tpm2.Unseal{
		ItemHandle: tpm2.AuthHandle{
			Handle: handle,
			Name:   name,
			Auth:   tpm2.PasswordAuth(auth),
		},
	}
	rsp, err := cmd.Execute(t)
	if err != nil {
		return nil, wrapTPMError("TPM2_Unseal", err)
	}
	return rsp.OutData.Buffer, nil
}

func unsealWithSession(t transport.TPM, handle tpm2.TPMHandle, name tpm2.TPM2BName, session AuthSession, boundAuth []byte) ([]byte, error) {
	cmd := tpm2.Unseal{
		ItemHandle: tpm2.AuthHandle{
			Handle: handle,
			Name:   name,
			Auth:   session.Auth(boundAuth),
		},
	}
	rsp, err := cmd.Execute(t)
	if err != nil {
		return nil, wrapTPMError("TPM2_Unseal", err)
	}
	return rsp.OutData.Buffer, nil
}

// EvictPrimaryKeyOp and EvictPassphraseOp implement evict_primary_key and
// evict_passphrase. The object/key mapping here is the corrected one: the
// "key" subcommand evicts PrimaryKeyHandle and the "passphrase" subcommand
// evicts PassphraseHandle, with no cross-wiring between the two (spec.md
// §9's resolved open question).
func EvictPrimaryKeyOp(t transport.TPM, d Deps) error {
	return Evict(t, d.OwnerAuth, PrimaryKeyHandle)
}

func EvictPassphraseOp(t transport.TPM, d Deps) error {
	return Evict(t, d.OwnerAuth, PassphraseHandle)
}

// loadPersistent checks that a persistent object exists, reads its Name
// with ReadPublic, and returns the persistent handle itself with that Name.
// No transient copy is loaded: go-tpm commands accept a persistent handle
// as an AuthHandle/ItemHandle target directly. tpmerr.ErrNotFound is
// returned if handle is not currently persistent.
func loadPersistent(t transport.TPM, handle tpm2.TPMHandle) (tpm2.TPMHandle, tpm2.TPM2BName, error) {
	present, err := persistentHandlePresent(t, handle)
	if err != nil {
		return 0, tpm2.TPM2BName{}, err
	}
	if !present {
		return 0, tpm2.TPM2BName{}, tpmerr.ErrNotFound
	}

	cmd := tpm2.ReadPublic{ObjectHandle: handle}
	rsp, err := cmd.Execute(t)
	if err != nil {
		return 0, tpm2.TPM2BName{}, wrapTPMError("TPM2_ReadPublic", err)
	}
	return handle, rsp.Name, nil
}
