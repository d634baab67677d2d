package main

import (
	"fmt"
	"os"

	"cryptfs-tpm2/internal/auditlog"
	"cryptfs-tpm2/internal/config"
	"cryptfs-tpm2/internal/logging"
	"cryptfs-tpm2/internal/prompt"
	"cryptfs-tpm2/internal/secretstore"
	"cryptfs-tpm2/internal/security"
	"cryptfs-tpm2/internal/tpm"
)

// app bundles the state every subcommand needs: a ready TPM session, the
// option/secret store, the audit trail, and the logger.
type app struct {
	logger *logging.Logger
	store  *secretstore.Store
	audit  *auditlog.Log
	tctx   *tpm.Context
	cfg    *config.Config
}

func (a *app) deps() tpm.Deps {
	ownerAuth, _ := a.store.Get(secretstore.SlotOwner)
	lockoutAuth, lockoutLen := a.store.Get(secretstore.SlotLockout)

	return tpm.Deps{
		OwnerAuth:      ownerAuth,
		LockoutAuth:    lockoutAuth,
		LockoutAuthSet: lockoutLen > 0 || a.store.IsSet(secretstore.SlotLockout),
		Interactive:    a.store.Interactive(),
		Prompt: func() ([]byte, error) {
			return prompt.ReadSecret("Lockout Authentication: ")
		},
		WarnIgnoredAuth: func() {
			a.logger.Warn("ignoring --lockout-auth: lockout authentication is not required")
		},
		PromptAuth: func(slot string) ([]byte, error) {
			if !a.store.Interactive() {
				return nil, fmt.Errorf("%s authentication rejected and not running interactively", slot)
			}
			return prompt.ReadSecret(fmt.Sprintf("%s Authentication: ", authSlotLabel(slot)))
		},
	}
}

// authSlotLabel maps a tpm.Deps.PromptAuth slot name to the prompt text a
// human types a secret in response to.
func authSlotLabel(slot string) string {
	switch slot {
	case "owner":
		return "Owner"
	case "primary-key":
		return "Primary Key"
	case "passphrase":
		return "Passphrase"
	default:
		return slot
	}
}

func (a *app) resolveAlg(override string) (tpm.Alg, error) {
	name := override
	if name == "" {
		name = a.cfg.PCRBankAlg
	}
	return tpm.ParseAlg(name)
}

func (a *app) cmdSeal(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: seal key|passphrase|all")
	}

	switch args[0] {
	case "key":
		return a.sealKey()
	case "passphrase":
		return a.sealPassphrase()
	case "all":
		if err := a.sealKey(); err != nil {
			return err
		}
		return a.sealPassphrase()
	default:
		return fmt.Errorf("seal: unknown target %q", args[0])
	}
}

func (a *app) sealKey() error {
	primaryAuth, _ := a.store.Get(secretstore.SlotPrimaryKey)
	err := tpm.CreatePrimaryKeyOp(a.tctx.Transport(), a.deps(), primaryAuth, a.store.NoDA())
	a.record("seal_key", err)
	if err != nil {
		return fmt.Errorf("seal key: %w", err)
	}
	a.logger.Info("primary key sealed", "handle", fmt.Sprintf("0x%08x", uint32(tpm.PrimaryKeyHandle)))
	return nil
}

func (a *app) sealPassphrase() error {
	alg, err := a.resolveAlg(*flagPCRBankAlg)
	if err != nil {
		return err
	}

	primaryAuth, _ := a.store.Get(secretstore.SlotPrimaryKey)
	passphraseAuth, _ := a.store.Get(secretstore.SlotPassphrase)

	err = tpm.CreatePassphraseOp(a.tctx.Transport(), a.deps(), primaryAuth, passphraseAuth, []byte(*flagPassphrase), alg, a.store.NoDA())
	a.record("seal_passphrase", err)
	if err != nil {
		return fmt.Errorf("seal passphrase: %w", err)
	}
	a.logger.Info("passphrase sealed", "handle", fmt.Sprintf("0x%08x", uint32(tpm.PassphraseHandle)), "pcr_bank_alg", alg)
	return nil
}

func (a *app) cmdUnseal(args []string) error {
	if len(args) < 1 || args[0] != "passphrase" {
		return fmt.Errorf("usage: unseal passphrase")
	}

	alg, err := a.resolveAlg(*flagPCRBankAlg)
	if err != nil {
		return err
	}

	passphraseAuth, _ := a.store.Get(secretstore.SlotPassphrase)
	data, err := tpm.UnsealPassphraseOp(a.tctx.Transport(), a.deps(), passphraseAuth, alg)
	a.record("unseal_passphrase", err)
	if err != nil {
		return fmt.Errorf("unseal passphrase: %w", err)
	}
	defer security.Wipe(data)

	if *flagOutput == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return security.WriteSecretFile(*flagOutput, data)
}

func (a *app) cmdEvict(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: evict key|passphrase|all")
	}

	switch args[0] {
	case "key":
		err := tpm.EvictPrimaryKeyOp(a.tctx.Transport(), a.deps())
		a.record("evict_key", err)
		if err != nil {
			return fmt.Errorf("evict key: %w", err)
		}
	case "passphrase":
		err := tpm.EvictPassphraseOp(a.tctx.Transport(), a.deps())
		a.record("evict_passphrase", err)
		if err != nil {
			return fmt.Errorf("evict passphrase: %w", err)
		}
	case "all":
		// Passphrase depends on the primary key; evict it first so a
		// partial failure never leaves the passphrase object orphaned
		// under an already-evicted parent.
		if err := tpm.EvictPassphraseOp(a.tctx.Transport(), a.deps()); err != nil {
			a.record("evict_passphrase", err)
			return fmt.Errorf("evict passphrase: %w", err)
		}
		a.record("evict_passphrase", nil)
		if err := tpm.EvictPrimaryKeyOp(a.tctx.Transport(), a.deps()); err != nil {
			a.record("evict_key", err)
			return fmt.Errorf("evict key: %w", err)
		}
		a.record("evict_key", nil)
	default:
		return fmt.Errorf("evict: unknown target %q", args[0])
	}
	return nil
}

func (a *app) record(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "fatal"
	}
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	if rerr := a.audit.Record(op, outcome, detail, nowNanos()); rerr != nil {
		a.logger.Warn("failed to write audit record", "operation", op, "error", rerr)
	}
}
