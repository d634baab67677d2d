// cryptfs-tpm2 binds a full-disk-encryption passphrase to a TPM 2.0
// hardware root of trust: seal it behind a persistent primary key and a
// PCR-7 policy, unseal it at boot, and manage dictionary-attack lockout.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"cryptfs-tpm2/internal/auditlog"
	"cryptfs-tpm2/internal/config"
	"cryptfs-tpm2/internal/logging"
	"cryptfs-tpm2/internal/secretstore"
	"cryptfs-tpm2/internal/tpm"
)

// Version is set via -ldflags at build time.
var Version = "dev"

var (
	flagHelp        = flag.Bool("help", false, "show usage")
	flagHelpShort   = flag.Bool("h", false, "show usage")
	flagVersion     = flag.Bool("V", false, "show version")
	flagVerbose     = flag.Bool("v", false, "raise log level to debug")
	flagQuiet       = flag.Bool("q", false, "suppress the startup banner")
	flagQuiteAlias  = flag.Bool("quite", false, "suppress the startup banner (kept verbatim from the original CLI's flag name)")
	flagInteractive = flag.Bool("interactive", false, "prompt on the terminal for missing authorization values")
	flagOwnerAuth   = flag.String("owner-auth", "", "owner hierarchy authorization value")
	flagLockoutAuth = flag.String("lockout-auth", "", "lockout hierarchy authorization value")
	flagKeySecret   = flag.String("key-secret", "", "primary key authorization value")
	flagPassSecret  = flag.String("passphrase-secret", "", "passphrase object authorization value")
	flagConfig      = flag.String("config", "", "path to config file")
	flagNoDA        = flag.Bool("no-da", false, "create objects with dictionary-attack protection disabled")
	flagPCRBankAlg  = flag.String("pcr-bank-alg", "", "PCR bank algorithm: sha1, sha256, sha384, sha512, sm3_256, auto, or empty for password-only")
	flagPassphrase  = flag.String("passphrase", "", "passphrase bytes to seal (random TPM bytes are drawn if empty)")
	flagOutput      = flag.String("output", "", "file to write the unsealed passphrase to (stdout if empty)")
)

func usage() {
	fmt.Fprint(os.Stderr, `cryptfs-tpm2 - bind a disk-encryption passphrase to a TPM 2.0 root of trust

Usage:
  cryptfs-tpm2 [global flags] seal key [--no-da]
  cryptfs-tpm2 [global flags] seal passphrase [--pcr-bank-alg=ALG] [--passphrase=VALUE] [--no-da]
  cryptfs-tpm2 [global flags] seal all [--pcr-bank-alg=ALG] [--passphrase=VALUE] [--no-da]
  cryptfs-tpm2 [global flags] unseal passphrase [--pcr-bank-alg=ALG] [--output=PATH]
  cryptfs-tpm2 [global flags] evict key
  cryptfs-tpm2 [global flags] evict passphrase
  cryptfs-tpm2 [global flags] evict all
  cryptfs-tpm2 help [subcommand]

Global flags:
`)
	flag.PrintDefaults()
}

func printBanner() {
	fmt.Fprintf(os.Stdout, "cryptfs-tpm2 %s - TPM-backed disk encryption passphrase sealing\n\n", Version)
}

func main() {
	defer logging.RecoverPanic()

	flag.Parse()

	if *flagHelp || *flagHelpShort {
		usage()
		os.Exit(0)
	}
	if *flagVersion {
		fmt.Println(Version)
		os.Exit(0)
	}

	// --verbose and --quite/-q are independent knobs: verbose only raises
	// the log level, quiet only suppresses the banner.
	quiet := *flagQuiet || *flagQuiteAlias

	if flag.NArg() < 1 {
		if !quiet {
			printBanner()
		}
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*flagConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cryptfs-tpm2: failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "cryptfs-tpm2: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cryptfs-tpm2: failed to initialize logging: %v\n", err)
		os.Exit(1)
	}

	cmd := flag.Arg(0)
	if !quiet && cmd != "help" {
		printBanner()
	}

	if cmd == "help" {
		if flag.NArg() >= 2 {
			printSubcommandHelp(flag.Arg(1))
		} else {
			usage()
		}
		return
	}

	store := secretstore.New(func(slot secretstore.Slot, truncatedTo int) {
		logger.Warn("authorization value truncated", "slot", slot, "truncated_to", truncatedTo)
	})
	defer store.Close()
	store.SetInteractive(*flagInteractive)
	store.SetNoDA(*flagNoDA)

	seedSecretStore(store)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	backend := tpm.ResolveBackend()
	sock := tpm.SocketConfig{
		CommandAddress:  cfg.SocketCommandAddress,
		PlatformAddress: cfg.SocketPlatformAddress,
	}
	tctx, err := tpm.Open(ctx, backend, sock)
	if err != nil {
		logger.Error("failed to open tpm", "backend", backend, "error", err)
		os.Exit(1)
	}
	defer tctx.Close()

	var audit *auditlog.Log
	if cfg.AuditLogPath != "" {
		ownerAuth, _ := store.Get(secretstore.SlotOwner)
		audit, err = auditlog.Open(cfg.AuditLogPath, ownerAuth)
		if err != nil {
			logger.Error("failed to open audit log", "error", err)
			os.Exit(1)
		}
	} else {
		audit = auditlog.Disabled()
	}
	defer audit.Close()

	app := &app{
		logger: logger,
		store:  store,
		audit:  audit,
		tctx:   tctx,
		cfg:    cfg,
	}

	args := flag.Args()[1:]
	var runErr error
	switch cmd {
	case "seal":
		runErr = app.cmdSeal(args)
	case "unseal":
		runErr = app.cmdUnseal(args)
	case "evict":
		runErr = app.cmdEvict(args)
	default:
		fmt.Fprintf(os.Stderr, "cryptfs-tpm2: unknown command %q\n", cmd)
		usage()
		os.Exit(1)
	}

	if runErr != nil {
		logger.Error("operation failed", "command", cmd, "error", runErr)
		os.Exit(1)
	}
}

// seedSecretStore copies the global auth flags into the process-wide
// store so every operation reads from one place (spec.md §4.10). Only
// flags the user actually passed on the command line are set, so
// secretstore.IsSet can still distinguish "explicitly empty" from "never
// supplied".
func seedSecretStore(store *secretstore.Store) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "owner-auth":
			store.Set(secretstore.SlotOwner, []byte(*flagOwnerAuth))
		case "lockout-auth":
			store.Set(secretstore.SlotLockout, []byte(*flagLockoutAuth))
		case "key-secret":
			store.Set(secretstore.SlotPrimaryKey, []byte(*flagKeySecret))
		case "passphrase-secret":
			store.Set(secretstore.SlotPassphrase, []byte(*flagPassSecret))
		}
	})
}

// newLogger builds the process logger from cfg.LogPath/cfg.LogLevel
// (CLI --verbose always wins over the configured level). cfg.LogPath of
// "stderr"/"stdout" selects a stream directly; any other value is treated
// as a file path and routed through the size/age-based rotator.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	logLevel := cfg.LogLevel
	if logLevel == "" {
		logLevel = "info"
	}
	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		return nil, err
	}
	if *flagVerbose {
		level = logging.LevelDebug
	}

	var output, filePath string
	switch cfg.LogPath {
	case "", "stderr":
		output = "stderr"
	case "stdout":
		output = "stdout"
	default:
		output = "file"
		filePath = cfg.LogPath
	}

	return logging.New(&logging.Config{
		Level:      level,
		Format:     logging.FormatText,
		Output:     output,
		FilePath:   filePath,
		MaxSize:    100,
		MaxAge:     30,
		MaxBackups: 5,
		Compress:   true,
		Component:  "cryptfs-tpm2",
	})
}

func printSubcommandHelp(name string) {
	switch name {
	case "seal":
		fmt.Fprintln(os.Stderr, "seal key|passphrase|all [--pcr-bank-alg=ALG] [--passphrase=VALUE] [--no-da]")
	case "unseal":
		fmt.Fprintln(os.Stderr, "unseal passphrase [--pcr-bank-alg=ALG] [--output=PATH]")
	case "evict":
		fmt.Fprintln(os.Stderr, "evict key|passphrase|all")
	default:
		fmt.Fprintf(os.Stderr, "cryptfs-tpm2: no help for %q\n", name)
	}
}
