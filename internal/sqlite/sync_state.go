package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SetSyncState stores a sync coordinator value.
func (s *Store) SetSyncState(ctx context.Context, key, value string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, toNanos(s.now()))
	if err != nil {
		return s.fail("set sync state", err)
	}
	s.recovered()
	return nil
}

// SyncState returns a stored value. ok is false when the key was never set.
func (s *Store) SyncState(ctx context.Context, key string) (value string, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.conn()
	if err != nil {
		return "", false, err
	}

	err = db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, s.fail("read sync state", err)
	}
	return value, true, nil
}

// SetSyncTime stores a timestamp value.
func (s *Store) SetSyncTime(ctx context.Context, key string, t time.Time) error {
	return s.SetSyncState(ctx, key, t.UTC().Format(time.RFC3339Nano))
}

// SyncTime returns a timestamp value, or the zero time when unset.
func (s *Store) SyncTime(ctx context.Context, key string) (time.Time, error) {
	v, ok, err := s.SyncState(ctx, key)
	if err != nil || !ok {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, v)
}
