// Package auditlog is a sqlite3-backed record of every seal/unseal/evict
// attempt, grounded on the teacher's internal/store sqlite usage. Each row
// carries an HKDF-derived correlation tag instead of the raw operation
// arguments, so the log can be shipped off-host without leaking
// authorization material.
package auditlog

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"cryptfs-tpm2/internal/security"
)

const schema = `
CREATE TABLE IF NOT EXISTS operations (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp_ns    INTEGER NOT NULL,
    operation       TEXT NOT NULL,
    outcome         TEXT NOT NULL,
    correlation_tag BLOB NOT NULL,
    detail          TEXT
);

CREATE INDEX IF NOT EXISTS idx_operations_tag ON operations(correlation_tag);
CREATE INDEX IF NOT EXISTS idx_operations_time ON operations(timestamp_ns);
`

// Log is the append-only audit trail. The zero value is not usable;
// construct with Open.
type Log struct {
	db        *sql.DB
	secretKey []byte
}

// Entry is one recorded attempt.
type Entry struct {
	ID             int64
	TimestampNs    int64
	Operation      string
	Outcome        string
	CorrelationTag []byte
	Detail         string
}

// Open opens or creates the sqlite database at path and runs the schema
// migration. secretKey seeds the HKDF correlation-tag derivation; the CLI
// passes the owner authorization value from the secret store (possibly
// empty).
func Open(path string, secretKey []byte) (*Log, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("auditlog: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("auditlog: open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("auditlog: apply schema: %w", err)
	}

	return &Log{db: db, secretKey: secretKey}, nil
}

// Close closes the underlying database connection. A no-op on a Disabled
// log.
func (l *Log) Close() error {
	if !l.enabled() {
		return nil
	}
	return l.db.Close()
}

// correlationTag derives a 16-byte HKDF-SHA256 tag from op and timestampNs,
// keyed by the log's secret key, without embedding any authorization value
// in the log. The same op, timestamp and key always give the same tag; rows
// of the same operation recorded at different times get different tags.
// l.secretKey (typically a raw authorization value) may be shorter than
// HKDF's minimum input-key size, so it is first domain-separated into a
// fixed 32-byte master key before derivation.
func (l *Log) correlationTag(op string, timestampNs int64) ([]byte, error) {
	master := security.HashDomainSeparated("cryptfs-tpm2:audit:master-key", l.secretKey)
	label := fmt.Sprintf("audit:%s:%d", op, timestampNs)
	tag, err := security.DeriveKeyWithLabel(master[:], label, 16)
	if err != nil {
		return nil, fmt.Errorf("auditlog: derive correlation tag: %w", err)
	}
	return tag, nil
}

// Record appends one entry: operation (e.g. "unseal_passphrase"), outcome
// ("ok", "bad_auth", "lockout", "fatal"), and an optional human-readable
// detail string (never a secret value).
func (l *Log) Record(operation, outcome, detail string, timestampNs int64) error {
	if !l.enabled() {
		return nil
	}

	tag, err := l.correlationTag(operation, timestampNs)
	if err != nil {
		return err
	}

	_, err = l.db.Exec(`
		INSERT INTO operations (timestamp_ns, operation, outcome, correlation_tag, detail)
		VALUES (?, ?, ?, ?, ?)`,
		timestampNs, operation, outcome, tag, detail,
	)
	if err != nil {
		return fmt.Errorf("auditlog: insert operation: %w", err)
	}
	return nil
}

// Recent returns the most recent n entries, newest first.
func (l *Log) Recent(n int) ([]Entry, error) {
	if !l.enabled() {
		return nil, errNotConfigured
	}

	rows, err := l.db.Query(`
		SELECT id, timestamp_ns, operation, outcome, correlation_tag, detail
		FROM operations
		ORDER BY timestamp_ns DESC
		LIMIT ?`, n,
	)
	if err != nil {
		return nil, fmt.Errorf("auditlog: query recent: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.TimestampNs, &e.Operation, &e.Outcome, &e.CorrelationTag, &e.Detail); err != nil {
			return nil, fmt.Errorf("auditlog: scan operation: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("auditlog: iterate operations: %w", err)
	}
	return entries, nil
}

// errNotConfigured is returned by a no-op Log when the caller disabled
// auditing by leaving AuditLogPath empty; kept as a sentinel rather than a
// nil-Log convention so callers can distinguish "disabled" from "bug".
var errNotConfigured = errors.New("auditlog: not configured")

// Disabled returns a Log whose methods are no-ops, for the AuditLogPath ==
// "" case.
func Disabled() *Log { return &Log{} }

func (l *Log) enabled() bool { return l.db != nil }
