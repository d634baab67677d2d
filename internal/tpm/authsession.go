package tpm

import (
	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"
)

// SessionKind distinguishes a trial policy session (digest computation
// only, never usable to authorize a real command) from a real one (used to
// actually authorize TPM2_Unseal at unseal time).
type SessionKind int

const (
	// Trial sessions are built only to compute the digest that will be
	// stored in an object's authPolicy.
	Trial SessionKind = iota
	// Real sessions authorize an actual command.
	Real
)

// AuthSession is the sum type spec.md §3/§9 calls for: a password session
// carries its authorization bytes inline and needs no release; a policy
// session owns a TPM-allocated handle that must be explicitly flushed.
// Exactly one of the two branches is populated; Destroy is total over
// both.
type AuthSession struct {
	password bool
	secret   []byte

	handle tpm2.TPMHandle
	alg    Alg
	kind   SessionKind
}

// NewPasswordSession builds a password-authorization session carrying
// secret inline (possibly empty — empty is a valid, meaningful
// authorization).
func NewPasswordSession(secret []byte) AuthSession {
	return AuthSession{password: true, secret: secret}
}

// NewPolicySession calls TPM2_StartAuthSession with a null salt, null
// symmetric algorithm, a caller-side nonce of digest-size(hash) zero
// bytes, and a session type of TPM_SE_TRIAL for Trial or TPM_SE_POLICY for
// Real, per spec.md §4.5.
func NewPolicySession(t transport.TPM, kind SessionKind, hash Alg) (AuthSession, error) {
	size, err := DigestSize(hash)
	if err != nil {
		return AuthSession{}, err
	}

	sessionType := tpm2.TPMSEPolicy
	if kind == Trial {
		sessionType = tpm2.TPMSETrial
	}
	cmd := tpm2.StartAuthSession{
		TPMKey:      tpm2.TPMRHNull,
		Bind:        tpm2.TPMRHNull,
		NonceCaller: tpm2.TPM2BNonce{Buffer: make([]byte, size)},
		SessionType: sessionType,
		Symmetric:   tpm2.TPMTSymDef{Algorithm: tpm2.TPMAlgNull},
		AuthHash:    tpmAlg(hash),
	}
	rsp, err := cmd.Execute(t)
	if err != nil {
		return AuthSession{}, wrapTPMError("TPM2_StartAuthSession", err)
	}

	return AuthSession{
		handle: rsp.SessionHandle,
		alg:    hash,
		kind:   kind,
	}, nil
}

// IsPassword reports whether s is the password variant.
func (s AuthSession) IsPassword() bool { return s.password }

// Handle returns the policy session's TPM-allocated handle. Only valid for
// the policy variant.
func (s AuthSession) Handle() tpm2.TPMHandle { return s.handle }

// Auth builds the tpm2.Session value to place in an AuthHandle.Auth field
// for a command authorized by s. For a policy session bound to a
// PolicyPassword assertion, the command's authorization still carries the
// object's cleartext auth value alongside the session handle (spec.md
// §4.11): binding it here is what makes that work.
func (s AuthSession) Auth(boundSecret []byte) tpm2.Session {
	if s.password {
		return tpm2.PasswordAuth(s.secret)
	}
	if len(boundSecret) == 0 {
		return tpm2.Session{Handle: s.handle}
	}
	return tpm2.Session{Handle: s.handle, Auth: boundSecret}
}

// Destroy releases s. FlushContext on a policy session; a no-op on a
// password session. Safe to call on the zero value.
func Destroy(t transport.TPM, s AuthSession) {
	if s.password || s.handle == 0 || t == nil {
		return
	}
	tpm2.FlushContext{FlushHandle: s.handle}.Execute(t)
}
