// Package config handles configuration loading and validation for
// cryptfs-tpm2, mirroring the witnessd daemon's toml-plus-defaults layout.
package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"cryptfs-tpm2/internal/tpm"
)

// Config holds the process-wide settings a config file or CLI flag can set.
// CLI flags always win over a loaded file, which always wins over
// DefaultConfig.
type Config struct {
	// TCTIBackend names a transport: "tabrmd", "device", or "socket". It is
	// checked by Validate only; the CLI picks the transport from TSS2_TCTI
	// (tpm.ResolveBackend), not from this field.
	TCTIBackend string `toml:"tcti_backend"`

	// SocketCommandAddress and SocketPlatformAddress configure the socket
	// backend; ignored otherwise.
	SocketCommandAddress  string `toml:"socket_command_address"`
	SocketPlatformAddress string `toml:"socket_platform_address"`

	// PCRBankAlg names the default PCR bank algorithm ("sha1", "sha256",
	// "auto", or "" for no PCR policy at all).
	PCRBankAlg string `toml:"pcr_bank_alg"`

	// PrimaryKeyHandle and PassphraseHandle are persistent handles written
	// as a "0x81..." string. Validate range-checks them; they do not replace
	// the compiled-in tpm.PrimaryKeyHandle/tpm.PassphraseHandle constants,
	// which every operation uses.
	PrimaryKeyHandle string `toml:"primary_key_handle"`
	PassphraseHandle string `toml:"passphrase_handle"`

	// AuditLogPath is the sqlite database the audit trail is written to.
	// Empty disables the audit trail.
	AuditLogPath string `toml:"audit_log_path"`

	// LogPath is the structured log output destination ("stderr", "stdout",
	// or a file path).
	LogPath string `toml:"log_path"`

	// LogLevel is the slog level name: "debug", "info", "warn", "error".
	LogLevel string `toml:"log_level"`
}

// DefaultConfig returns the configuration used when no file and no CLI
// overrides are present.
func DefaultConfig() *Config {
	return &Config{
		TCTIBackend:           string(tpm.DefaultBackend),
		SocketCommandAddress:  "127.0.0.1:2321",
		SocketPlatformAddress: "127.0.0.1:2322",
		PCRBankAlg:            "",
		AuditLogPath:          "",
		LogPath:               "stderr",
		LogLevel:              "info",
	}
}

// DefaultConfigPath returns the default config file location under the
// invoking user's home directory.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cryptfs-tpm2", "config.toml")
}

// Load reads configuration from path, falling back to DefaultConfig values
// for anything the file doesn't set. A missing file is not an error: it
// means "use the defaults."
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for internal consistency. It does not
// contact the TPM: handle-range and algorithm-name checks only.
func (c *Config) Validate() error {
	switch c.TCTIBackend {
	case "tabrmd", "device", "socket", "":
	default:
		return errors.New("config: tcti_backend must be one of tabrmd, device, socket")
	}

	if _, err := tpm.ParseAlg(c.PCRBankAlg); err != nil {
		return err
	}

	if c.PrimaryKeyHandle != "" {
		if _, err := parseHandle(c.PrimaryKeyHandle); err != nil {
			return err
		}
	}
	if c.PassphraseHandle != "" {
		if _, err := parseHandle(c.PassphraseHandle); err != nil {
			return err
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error", "":
	default:
		return errors.New("config: log_level must be one of debug, info, warn, error")
	}

	return nil
}
