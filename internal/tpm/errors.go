package tpm

import (
	"errors"

	"github.com/google/go-tpm/tpm2"

	"cryptfs-tpm2/internal/tpmerr"
)

// Re-exported so this package's own helpers (alg.go, object.go) can build
// tpmerr values without importing tpmerr in every file.
var (
	errUnsupportedAlgorithm = tpmerr.ErrUnsupportedAlgorithm
	errUnsupportedPcr       = tpmerr.ErrUnsupportedPcr
	errInvalidArgument      = tpmerr.ErrInvalidArgument
	errNotFound             = tpmerr.ErrNotFound
)

// retryAction classifies what the C7/C9/C11 retry state machine should do
// in response to an error returned by a TPM command.
type retryAction int

const (
	actionFail retryAction = iota
	actionResetLockout
	actionPromptAuth
)

// classify inspects err (as returned by a go-tpm Execute call) and decides
// the retry action per the standard retry policy (spec.md §4.7): lockout
// triggers a DA reset and a single retry; a format-one bad-auth/auth-fail
// response triggers a re-prompt for the given slot and a retry; anything
// else is fatal.
func classify(err error) (retryAction, error) {
	if err == nil {
		return actionFail, nil
	}

	var tpmErr *tpm2.TPMError
	if errors.As(err, &tpmErr) {
		switch tpmErr.Code {
		case tpm2.TPMRCLockout:
			return actionResetLockout, nil
		case tpm2.TPMRCBadAuth, tpm2.TPMRCAuthFail:
			return actionPromptAuth, nil
		}
	}

	var sessionErr *tpm2.TPMSessionError
	if errors.As(err, &sessionErr) {
		switch sessionErr.Code {
		case tpm2.TPMRCBadAuth, tpm2.TPMRCAuthFail:
			return actionPromptAuth, nil
		case tpm2.TPMRCLockout:
			return actionResetLockout, nil
		}
	}

	var handleErr *tpm2.TPMHandleError
	if errors.As(err, &handleErr) {
		switch handleErr.Code {
		case tpm2.TPMRCBadAuth, tpm2.TPMRCAuthFail:
			return actionPromptAuth, nil
		case tpm2.TPMRCLockout:
			return actionResetLockout, nil
		}
	}

	return actionFail, err
}

// wrapTPMError is the single place that turns a raw go-tpm command error
// into the library's own TpmError kind, tagged with the command that
// produced it.
func wrapTPMError(layer string, err error) error {
	if err == nil {
		return nil
	}
	return tpmerr.NewTpmError(layer, err)
}

// errLockoutEnforced reports that max-tries is permanently zero: no
// DictionaryAttackLockReset will ever succeed.
func errLockoutEnforced() error {
	return tpmerr.ErrLockoutEnforced
}

// errAuthRequired reports that hierarchy's authorization value is needed
// but unavailable.
func errAuthRequired(hierarchy string) error {
	return &tpmerr.AuthRequired{Hierarchy: hierarchy}
}
