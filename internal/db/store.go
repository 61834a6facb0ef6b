package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/Joseda-hg/notegrid/internal/model"
)

// DefaultSyncLogLimit bounds how many sync log entries are retained.
const DefaultSyncLogLimit = 200

// Store is a sqlite-backed key-value store plus a bounded sync log.
type Store struct {
	DB       *sql.DB
	LogLimit int
	now      func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{DB: db, LogLimit: DefaultSyncLogLimit, now: time.Now}
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.DB.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.now().UnixMilli())
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.DB.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key)
	return err
}

func (s *Store) AppendSyncLog(ctx context.Context, kind, detail string) (model.SyncLogEntry, error) {
	createdAt := s.now()
	kind = normalizeKind(kind)

	result, err := s.DB.ExecContext(ctx,
		"INSERT INTO sync_log (kind, detail, created_at) VALUES (?, ?, ?)",
		kind, strings.TrimSpace(detail), createdAt.UnixMilli())
	if err != nil {
		return model.SyncLogEntry{}, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return model.SyncLogEntry{}, err
	}

	if s.LogLimit > 0 {
		if _, err := s.DB.ExecContext(ctx,
			"DELETE FROM sync_log WHERE id NOT IN (SELECT id FROM sync_log ORDER BY id DESC LIMIT ?)",
			s.LogLimit); err != nil {
			return model.SyncLogEntry{}, err
		}
	}

	return model.SyncLogEntry{
		ID:        id,
		Kind:      kind,
		Detail:    strings.TrimSpace(detail),
		CreatedAt: time.UnixMilli(createdAt.UnixMilli()),
	}, nil
}

// ListSyncLog returns up to limit entries, newest first.
func (s *Store) ListSyncLog(ctx context.Context, limit int) ([]model.SyncLogEntry, error) {
	if limit <= 0 {
		limit = DefaultSyncLogLimit
	}

	rows, err := s.DB.QueryContext(ctx,
		"SELECT id, kind, detail, created_at FROM sync_log ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]model.SyncLogEntry, 0, limit)
	for rows.Next() {
		var entry model.SyncLogEntry
		var createdAt int64
		if err := rows.Scan(&entry.ID, &entry.Kind, &entry.Detail, &createdAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = time.UnixMilli(createdAt)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) Close() error {
	return s.DB.Close()
}

func normalizeKind(kind string) string {
	value := strings.TrimSpace(strings.ToLower(kind))
	if value == "" {
		return "info"
	}
	return value
}
