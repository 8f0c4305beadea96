package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/trikhub/gateway/common/retry"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteProvider is the durable storage backend: a single append-and-update
// sqlite database with one (trik_id, key) row per entry and an expiry index,
// surviving gateway restarts.
type SQLiteProvider struct {
	db *sql.DB
}

// NewSQLiteProvider opens (creating if necessary) the database at dbPath and
// runs any pending migrations.
func NewSQLiteProvider(dbPath string) (*SQLiteProvider, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	// SQLite is single-writer; one shared connection lets database/sql
	// serialize callers instead of contending for the write lock itself.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("storage: set pragma %q: %w", p, err)
		}
	}

	s := &SQLiteProvider{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteProvider) Close() error { return s.db.Close() }

func (s *SQLiteProvider) runMigrations() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			description TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion); err != nil {
		return fmt.Errorf("read current schema version: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		parts := strings.SplitN(entry.Name(), "_", 2)
		if len(parts) < 2 {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(parts[0], "%d", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := migrationsFS.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("exec migration %d: %w", version, err)
		}
		description := strings.TrimSuffix(parts[1], ".sql")
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			version, time.Now(), description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", version, err)
		}
		slog.Info("storage: applied migration", "version", fmt.Sprintf("%04d", version), "description", description)
	}
	return nil
}

// sweepExpired performs a best-effort deletion of expired rows. It is run at
// the start of Get, Set, List and Usage (and so of GetMany and SetMany), but
// not of Delete, rather than on a background timer,
// so an expired entry is never visible even if the sweep has not fired yet —
// the read queries' own WHERE clauses exclude expired rows regardless.
func (s *SQLiteProvider) sweepExpired(ctx context.Context) {
	_, _ = s.db.ExecContext(ctx, `DELETE FROM storage_entries WHERE expires_at IS NOT NULL AND expires_at < ?`, time.Now())
}

func (s *SQLiteProvider) withRetry(fn func() error) error {
	return retry.Do(context.Background(), retry.Config{
		MaxAttempts:  3,
		InitialDelay: 25 * time.Millisecond,
		MaxDelay:     200 * time.Millisecond,
		ShouldRetry: func(err error) bool {
			return err != nil && strings.Contains(err.Error(), "locked")
		},
	}, fn)
}

func (s *SQLiteProvider) Get(ctx context.Context, trikID, key string) ([]byte, bool, error) {
	s.sweepExpired(ctx)
	var value string
	var expiresAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM storage_entries WHERE trik_id = ? AND key = ?`,
		trikID, key,
	).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: get: %w", err)
	}
	if expiresAt.Valid && !expiresAt.Time.After(time.Now()) {
		return nil, false, nil
	}
	return []byte(value), true, nil
}

func (s *SQLiteProvider) Set(ctx context.Context, trikID, key string, value []byte, ttl *time.Duration) error {
	s.sweepExpired(ctx)
	var expiresAt any
	if ttl != nil {
		expiresAt = time.Now().Add(*ttl)
	}
	return s.withRetry(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO storage_entries (trik_id, key, value, created_at, expires_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(trik_id, key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
		`, trikID, key, string(value), time.Now(), expiresAt)
		if err != nil {
			return fmt.Errorf("storage: set: %w", err)
		}
		return nil
	})
}

func (s *SQLiteProvider) Delete(ctx context.Context, trikID, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM storage_entries WHERE trik_id = ? AND key = ?`, trikID, key)
	if err != nil {
		return false, fmt.Errorf("storage: delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage: delete: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteProvider) List(ctx context.Context, trikID, prefix string) ([]string, error) {
	s.sweepExpired(ctx)
	pattern := escapeLikePattern(prefix) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT key FROM storage_entries
		WHERE trik_id = ? AND key LIKE ? ESCAPE '\'
		  AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY key
	`, trikID, pattern, time.Now())
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("storage: list scan: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLiteProvider) GetMany(ctx context.Context, trikID string, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		v, ok, err := s.Get(ctx, trikID, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = v
		}
	}
	return out, nil
}

func (s *SQLiteProvider) SetMany(ctx context.Context, trikID string, values map[string][]byte) error {
	for k, v := range values {
		if err := s.Set(ctx, trikID, k, v, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteProvider) Usage(ctx context.Context, trikID string) (int64, error) {
	s.sweepExpired(ctx)
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(LENGTH(CAST(value AS BLOB))) FROM storage_entries
		WHERE trik_id = ? AND (expires_at IS NULL OR expires_at > ?)
	`, trikID, time.Now()).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("storage: usage: %w", err)
	}
	return total.Int64, nil
}
