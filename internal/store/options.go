package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

func (s *sqlStore) GetOption(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT value FROM settings WHERE key = ?`), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug(s.name+" GetOption not found", "key", key)
		return "", false, nil
	}
	if err != nil {
		slog.Error(s.name+" GetOption failed", "error", err, "key", key)
		return "", false, fmt.Errorf("failed to read option %s: %w", key, err)
	}
	return value, true, nil
}

func (s *sqlStore) SetOption(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`),
		key, value, time.Now().UTC())
	if err != nil {
		slog.Error(s.name+" SetOption failed", "error", err, "key", key)
		return fmt.Errorf("failed to write option %s: %w", key, err)
	}
	slog.Debug(s.name+" SetOption succeeded", "key", key)
	return nil
}
