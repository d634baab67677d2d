package auditlog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRecordRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	log, err := Open(path, []byte("secret-key"))
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	require.NoError(t, log.Record("seal_key", "ok", "", 1000))
	require.NoError(t, log.Record("unseal_passphrase", "fatal", "bad auth", 2000))

	entries, err := log.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "unseal_passphrase", entries[0].Operation)
	assert.Equal(t, "fatal", entries[0].Outcome)
	assert.Equal(t, "bad auth", entries[0].Detail)
	assert.Len(t, entries[0].CorrelationTag, 16)

	assert.Equal(t, "seal_key", entries[1].Operation)
}

func TestCorrelationTagStableForSameOperation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	log, err := Open(path, []byte("secret-key"))
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	tag1, err := log.correlationTag("seal_key", 42)
	require.NoError(t, err)
	tag2, err := log.correlationTag("seal_key", 42)
	require.NoError(t, err)
	assert.Equal(t, tag1, tag2)

	tag3, err := log.correlationTag("unseal_passphrase", 42)
	require.NoError(t, err)
	assert.NotEqual(t, tag1, tag3)
}

func TestDisabledLogIsNoOp(t *testing.T) {
	log := Disabled()

	assert.NoError(t, log.Record("seal_key", "ok", "", 1))
	_, err := log.Recent(5)
	assert.ErrorIs(t, err, errNotConfigured)
	assert.NoError(t, log.Close())
}

func TestOpenCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "audit.db")
	log, err := Open(path, []byte("k"))
	require.NoError(t, err)
	defer log.Close()

	require.NoError(t, log.Record("evict_key", "ok", "", 5))
	entries, err := log.Recent(1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
