package tpm

import (
	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"
)

// clearLockout runs TPM2_DictionaryAttackLockReset under the lockout
// hierarchy authorized by lockoutAuth (possibly empty).
func clearLockout(t transport.TPM, lockoutAuth []byte) error {
	cmd := tpm2.DictionaryAttackLockReset{
		LockHandle: tpm2.AuthHandle{
			Handle: tpm2.TPMRHLockout,
			Auth:   tpm2.PasswordAuth(lockoutAuth),
		},
	}
	if _, err := cmd.Execute(t); err != nil {
		return wrapTPMError("TPM2_DictionaryAttackLockReset", err)
	}
	return nil
}

// PromptLockoutAuth reads a lockout-authorization value interactively; the
// DA controller calls it at most MaxLockoutRetry times. Wired by the CLI to
// internal/prompt.ReadSecret.
type PromptLockoutAuth func() ([]byte, error)

// ResetLockout implements da_reset: it clears dictionary-attack lockout if
// (and only as aggressively as) spec.md §4.9 allows, trying, in order, a
// no-op, the configured lockout-auth, and finally interactive prompting.
// configuredAuth is the value from the option store's SlotLockout (possibly
// unset); prompt is called only when interactive is true, and may be nil.
func ResetLockout(t transport.TPM, configuredAuth []byte, configuredSet bool, interactive bool, prompt PromptLockoutAuth, warnIgnoredAuth func()) error {
	st, err := QueryLockoutState(t)
	if err != nil {
		return err
	}

	if st.LockoutCounter < st.MaxTries {
		return nil
	}
	if st.DADisabled {
		return nil
	}
	if st.LockoutEnforced {
		return errLockoutEnforced()
	}

	if !st.LockoutAuthRequired {
		if configuredSet && warnIgnoredAuth != nil {
			warnIgnoredAuth()
		}
		return clearLockout(t, nil)
	}

	if configuredSet {
		if err := clearLockout(t, configuredAuth); err == nil {
			return nil
		}
	}

	if !interactive || prompt == nil {
		return errAuthRequired("DA lockout")
	}

	var lastErr error
	for i := 0; i < MaxLockoutRetry; i++ {
		auth, err := prompt()
		if err != nil {
			lastErr = err
			break
		}
		if err := clearLockout(t, auth); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = errAuthRequired("DA lockout")
	}
	return lastErr
}

// CheckAndResetLockout implements da_check_and_reset: a no-op when the TPM
// is not currently in lockout, otherwise delegates to ResetLockout.
func CheckAndResetLockout(t transport.TPM, configuredAuth []byte, configuredSet bool, interactive bool, prompt PromptLockoutAuth, warnIgnoredAuth func()) error {
	st, err := QueryLockoutState(t)
	if err != nil {
		return err
	}
	if !st.InLockout {
		return nil
	}
	return ResetLockout(t, configuredAuth, configuredSet, interactive, prompt, warnIgnoredAuth)
}
