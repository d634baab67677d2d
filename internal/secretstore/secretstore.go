// Package secretstore is the Go home of C10: a process-wide holder for the
// four caller-supplied authorization values (owner, lockout, primary-key,
// passphrase) plus the interactive and no-DA flags. It is initialized
// empty at process start and never persisted.
package secretstore

import (
	"fmt"
	"sync"

	"cryptfs-tpm2/internal/security"
)

// Slot names an authorization slot. Used in truncation warnings and in
// Set's error text so a reader can tell which of the four values is meant.
type Slot string

const (
	SlotOwner      Slot = "owner hierarchy"
	SlotLockout    Slot = "DA lockout"
	SlotPrimaryKey Slot = "primary key"
	SlotPassphrase Slot = "passphrase"
)

// MaxAuthLen is the TPMU_HA union size: the longest authorization value a
// TPM will accept.
const MaxAuthLen = 64

// TruncationWarner receives a message when a Set call clamps its input to
// MaxAuthLen, naming the slot, e.g. "slot=primary key truncated_to=64". A
// nil warner silently drops the notice. Wired to internal/logging by the
// CLI.
type TruncationWarner func(slot Slot, truncatedTo int)

// Store is the process-wide option/secret store. The zero value is not
// usable; construct with New.
type Store struct {
	mu sync.Mutex

	values map[Slot]*security.SecureBytes
	warn   TruncationWarner

	interactive bool
	noDA        bool
}

// New returns a Store with all four slots unset (length zero, which is a
// valid, meaningful "empty authorization").
func New(warn TruncationWarner) *Store {
	return &Store{
		values: make(map[Slot]*security.SecureBytes),
		warn:   warn,
	}
}

// Set stores value under slot, clamping to MaxAuthLen and recording the
// effective length. A longer-than-max input is not an error: it is
// truncated and a warning is emitted, mirroring option.c's
// option_set_value behavior (spec.md §12 item 3).
func (s *Store) Set(slot Slot, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	truncated := value
	if len(value) > MaxAuthLen {
		truncated = value[:MaxAuthLen]
		if s.warn != nil {
			s.warn(slot, MaxAuthLen)
		}
	}

	sb, err := security.FromBytes(truncated)
	if err != nil {
		return fmt.Errorf("secretstore: storing %s: %w", slot, err)
	}
	if old, ok := s.values[slot]; ok {
		old.Destroy()
	}
	s.values[slot] = sb
	return nil
}

// Get returns a copy of slot's bytes and its length. A zero length with no
// error means "unset" (an empty authorization), not a fault.
func (s *Store) Get(slot Slot) ([]byte, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sb, ok := s.values[slot]
	if !ok {
		return nil, 0
	}
	b := sb.Copy()
	return b, len(b)
}

// IsSet reports whether slot has ever been written (including to an
// explicit empty value).
func (s *Store) IsSet(slot Slot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.values[slot]
	return ok
}

// SetInteractive sets the process-wide interactive flag: when true, DA
// lockout-auth and missing-secret prompts read from the terminal instead
// of failing immediately.
func (s *Store) SetInteractive(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interactive = v
}

// Interactive reports the interactive flag.
func (s *Store) Interactive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interactive
}

// SetNoDA sets the process-wide "create objects with noDA" flag.
func (s *Store) SetNoDA(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noDA = v
}

// NoDA reports the no-DA flag.
func (s *Store) NoDA() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.noDA
}

// Close wipes every stored slot. Call on process shutdown.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sb := range s.values {
		sb.Destroy()
	}
	s.values = make(map[Slot]*security.SecureBytes)
}
