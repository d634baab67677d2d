// Package tpmerr defines the error taxonomy shared by internal/tpm and its
// callers: sentinel kinds for conditions that carry no extra data, and typed
// structs for the ones that do (TpmError, AuthRequired, BadAuth).
//
// Every exported error here implements Unwrap where it wraps another error,
// so callers can use errors.Is / errors.As instead of string matching.
package tpmerr

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions that carry no extra diagnostic data.
var (
	// ErrBackendUnavailable means the selected TCTI transport could not be
	// initialized (daemon not running, device node missing, simulator
	// unreachable).
	ErrBackendUnavailable = errors.New("tpmerr: tcti backend unavailable")

	// ErrLockout means the TPM is in DA lockout and da_reset could not
	// clear it (no auth available, or lockout is enforced with max-tries
	// at zero).
	ErrLockout = errors.New("tpmerr: tpm is in dictionary-attack lockout")

	// ErrLockoutEnforced means max-tries is permanently zero: the TPM
	// will never accept a DictionaryAttackLockReset.
	ErrLockoutEnforced = errors.New("tpmerr: lockout is permanently enforced")

	// ErrUnsupportedAlgorithm means the requested (or AUTO-selected) hash
	// algorithm has no supported TPM implementation.
	ErrUnsupportedAlgorithm = errors.New("tpmerr: unsupported hash algorithm")

	// ErrUnsupportedPcr means the requested PCR bank is not allocated, or
	// the TPM returned a different PCR count than was requested.
	ErrUnsupportedPcr = errors.New("tpmerr: unsupported pcr bank")

	// ErrObjectAlreadyPersistent means the target persistent handle is
	// already occupied; the caller must evict first.
	ErrObjectAlreadyPersistent = errors.New("tpmerr: persistent handle already occupied")

	// ErrNotFound means a persistent object does not exist at the
	// requested handle.
	ErrNotFound = errors.New("tpmerr: object not found")

	// ErrInvalidArgument covers malformed CLI/API input: a passphrase
	// longer than 64 bytes, an unknown algorithm name, and so on.
	ErrInvalidArgument = errors.New("tpmerr: invalid argument")
)

// TpmError wraps a non-success TPM response, retained verbatim for
// diagnostics. Layer distinguishes which abstraction surfaced it (e.g.
// "TPM2_Create", "TPM2_Unseal") since the raw response code alone doesn't
// say which command produced it.
type TpmError struct {
	Layer string
	Code  error
}

func (e *TpmError) Error() string {
	return fmt.Sprintf("tpmerr: %s: %v", e.Layer, e.Code)
}

func (e *TpmError) Unwrap() error { return e.Code }

// NewTpmError wraps err (normally the error returned by a go-tpm Execute
// call) with the name of the command that produced it.
func NewTpmError(layer string, err error) *TpmError {
	return &TpmError{Layer: layer, Code: err}
}

// AuthRequired means a hierarchy's authorization value is needed but
// unavailable (not in the option store, and interactive mode is off).
type AuthRequired struct {
	Hierarchy string
}

func (e *AuthRequired) Error() string {
	return fmt.Sprintf("tpmerr: %s authorization required", e.Hierarchy)
}

// BadAuth means the TPM rejected the authorization value supplied for the
// named slot. Slot is one of "owner", "lockout", "primary-key", "passphrase".
type BadAuth struct {
	Slot string
	Err  error
}

func (e *BadAuth) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tpmerr: bad authorization for %s: %v", e.Slot, e.Err)
	}
	return fmt.Sprintf("tpmerr: bad authorization for %s", e.Slot)
}

func (e *BadAuth) Unwrap() error { return e.Err }

// IoError wraps a file or terminal I/O failure (reading a passphrase file,
// writing the unsealed output, disabling terminal echo).
type IoError struct {
	Op  string
	Err error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("tpmerr: io: %s: %v", e.Op, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

// InvalidArgument reports a malformed caller input with a specific reason,
// wrapping ErrInvalidArgument so errors.Is(err, tpmerr.ErrInvalidArgument)
// still matches.
func InvalidArgument(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, reason)
}
