package content

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SQLiteContentStore persists passthrough receipts across a restart, for the
// rare case where content must survive between an action completing and its
// deliverContent call. It shares the caller's *sql.DB (typically the same
// connection the Storage Provider opened) rather than owning its own file.
type SQLiteContentStore struct {
	db *sql.DB
}

// NewSQLiteContentStore ensures its table exists on db and returns a ready
// store. db is not closed by Close — the owner of the connection does that.
func NewSQLiteContentStore(db *sql.DB) (*SQLiteContentStore, error) {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS content_receipts (
			ref TEXT PRIMARY KEY,
			content_type TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT,
			expires_at TIMESTAMP NOT NULL
		)
	`); err != nil {
		return nil, fmt.Errorf("content: create table: %w", err)
	}
	return &SQLiteContentStore{db: db}, nil
}

func (s *SQLiteContentStore) sweepExpired(ctx context.Context) {
	_, _ = s.db.ExecContext(ctx, `DELETE FROM content_receipts WHERE expires_at < ?`, time.Now())
}

func (s *SQLiteContentStore) Put(ctx context.Context, c PassthroughContent, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.sweepExpired(ctx)
	ref := uuid.NewString()
	var metadata []byte
	if c.Metadata != nil {
		var err error
		metadata, err = json.Marshal(c.Metadata)
		if err != nil {
			return "", fmt.Errorf("content: marshal metadata: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO content_receipts (ref, content_type, content, metadata, expires_at)
		VALUES (?, ?, ?, ?, ?)
	`, ref, c.ContentType, c.Content, nullableString(metadata), time.Now().Add(ttl))
	if err != nil {
		return "", fmt.Errorf("content: put: %w", err)
	}
	return ref, nil
}

func (s *SQLiteContentStore) Take(ctx context.Context, ref string) (*PassthroughContent, bool, error) {
	var contentType, contentBody string
	var metadata sql.NullString
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT content_type, content, metadata, expires_at FROM content_receipts WHERE ref = ?`, ref,
	).Scan(&contentType, &contentBody, &metadata, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("content: take: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM content_receipts WHERE ref = ?`, ref); err != nil {
		return nil, false, fmt.Errorf("content: take cleanup: %w", err)
	}
	if !expiresAt.After(time.Now()) {
		return nil, false, nil
	}

	c := PassthroughContent{ContentType: contentType, Content: contentBody}
	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &c.Metadata); err != nil {
			return nil, false, fmt.Errorf("content: decode metadata: %w", err)
		}
	}
	return &c, true, nil
}

func (s *SQLiteContentStore) Close() error { return nil }

func nullableString(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
