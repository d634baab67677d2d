package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadOverridesDefaultsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
tcti_backend = "socket"
pcr_bank_alg = "sha256"
audit_log_path = "/tmp/cryptfs-tpm2-audit.db"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "socket", cfg.TCTIBackend)
	assert.Equal(t, "sha256", cfg.PCRBankAlg)
	assert.Equal(t, "/tmp/cryptfs-tpm2-audit.db", cfg.AuditLogPath)
	// Fields the file didn't set keep the default.
	assert.Equal(t, "stderr", cfg.LogPath)
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TCTIBackend = "bogus"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownAlgorithm(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PCRBankAlg = "md5"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "trace"
	assert.Error(t, cfg.Validate())
}

func TestValidateHandleOverrides(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PrimaryKeyHandle = "0x81000001"
	cfg.PassphraseHandle = "0x81000002"
	assert.NoError(t, cfg.Validate())

	cfg.PrimaryKeyHandle = "0x40000001"
	assert.Error(t, cfg.Validate())
}
