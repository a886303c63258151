// Package settings persists warning toggles, per-kind hostname allow-lists,
// and the decision audit log in SQLite.
package settings

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"walletgate/internal/domain"
)

// SQLiteStore implements domain.Settings and domain.AuditLogger.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var (
	_ domain.Settings    = (*SQLiteStore)(nil)
	_ domain.AuditLogger = (*SQLiteStore)(nil)
)

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS settings (
		scope       TEXT NOT NULL,
		key         TEXT NOT NULL,
		value       INTEGER NOT NULL,
		updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (scope, key)
	);

	CREATE TABLE IF NOT EXISTS allowlist (
		kind        TEXT NOT NULL,
		hostname    TEXT NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (kind, hostname)
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		action      TEXT NOT NULL,
		kind        TEXT,
		request_id  TEXT,
		hostname    TEXT,
		result      TEXT,
		details     TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_audit_time ON audit_log(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Get returns the stored value for scope/key, or def when unset.
func (s *SQLiteStore) Get(ctx context.Context, scope, key string, def bool) (bool, error) {
	var v int
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE scope = ? AND key = ?`, scope, key,
	).Scan(&v)
	if err == sql.ErrNoRows {
		return def, nil
	}
	if err != nil {
		return def, err
	}
	return v != 0, nil
}

func (s *SQLiteStore) Set(ctx context.Context, scope, key string, value bool) error {
	v := 0
	if value {
		v = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (scope, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(scope, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		scope, key, v, time.Now(),
	)
	return err
}

// IsAllowlisted reports whether hostname is exempt from warnings of kind.
// Hostnames are stored and compared lowercase.
func (s *SQLiteStore) IsAllowlisted(ctx context.Context, kind domain.WarningKind, hostname string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM allowlist WHERE kind = ? AND hostname = ?`,
		string(kind), strings.ToLower(hostname),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check allowlist: %w", err)
	}
	return count > 0, nil
}

// Allowlist exempts hostname from warnings of kind. Idempotent.
func (s *SQLiteStore) Allowlist(ctx context.Context, kind domain.WarningKind, hostname string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO allowlist (kind, hostname) VALUES (?, ?)`,
		string(kind), strings.ToLower(hostname),
	)
	return err
}

// RemoveAllowlist removes a hostname exemption.
func (s *SQLiteStore) RemoveAllowlist(ctx context.Context, kind domain.WarningKind, hostname string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM allowlist WHERE kind = ? AND hostname = ?`,
		string(kind), strings.ToLower(hostname),
	)
	return err
}

// ListAllowlist returns all exempted hostnames for kind.
func (s *SQLiteStore) ListAllowlist(ctx context.Context, kind domain.WarningKind) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT hostname FROM allowlist WHERE kind = ? ORDER BY hostname`, string(kind),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hosts []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hosts = append(hosts, h)
	}
	return hosts, rows.Err()
}

func (s *SQLiteStore) LogAudit(ctx context.Context, entry domain.AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (action, kind, request_id, hostname, result, details)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Action, entry.Kind, entry.RequestID, entry.Hostname, entry.Result, entry.Details,
	)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
