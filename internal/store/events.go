package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/CartPipe/internal/models"
	"github.com/oklog/ulid/v2"
)

// AddEvent appends a tracking event. IDs are ULIDs so they sort by time.
func (s *sqlStore) AddEvent(ctx context.Context, e *models.TrackingEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.ID == "" {
		e.ID = ulid.MustNew(ulid.Timestamp(e.CreatedAt), ulid.DefaultEntropy()).String()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO tracking_events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?)`),
		e.ID, e.CartID, e.MessageIndex, string(e.Kind), nilIfEmpty(e.Payload), e.CreatedAt.UTC())
	if err != nil {
		slog.Error(s.name+" AddEvent failed", "error", err, "cartID", e.CartID, "kind", e.Kind)
		return fmt.Errorf("failed to insert %s event for cart %s: %w", e.Kind, e.CartID, err)
	}
	slog.Debug(s.name+" AddEvent succeeded", "cartID", e.CartID, "kind", e.Kind, "message", e.MessageIndex)
	return nil
}

func (s *sqlStore) ListEvents(ctx context.Context, cartID string) ([]models.TrackingEvent, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+eventColumns+` FROM tracking_events
		WHERE cart_id = ? ORDER BY created_at ASC, id ASC`), cartID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []models.TrackingEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate event rows: %w", err)
	}
	return events, nil
}

func (s *sqlStore) LastSentAtForPhone(ctx context.Context, phone string) (time.Time, bool, error) {
	var at time.Time
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT e.created_at FROM tracking_events e
		JOIN abandoned_carts c ON c.id = e.cart_id
		WHERE c.phone = ? AND e.kind = ?
		ORDER BY e.created_at DESC LIMIT 1`), phone, string(models.EventSent)).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		slog.Error(s.name+" LastSentAtForPhone failed", "error", err)
		return time.Time{}, false, fmt.Errorf("failed to get last send time: %w", err)
	}
	return at.UTC(), true, nil
}

func (s *sqlStore) CountEventsByKind(ctx context.Context) (map[models.EventKind]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM tracking_events GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.EventKind]int64)
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("failed to scan event count: %w", err)
		}
		counts[models.EventKind(kind)] = n
	}
	return counts, rows.Err()
}

func (s *sqlStore) CountSentBySlot(ctx context.Context) (map[int]int64, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT message_index, COUNT(*) FROM tracking_events
		WHERE kind = ? GROUP BY message_index`), string(models.EventSent))
	if err != nil {
		return nil, fmt.Errorf("failed to count sends by slot: %w", err)
	}
	defer rows.Close()

	counts := make(map[int]int64)
	for rows.Next() {
		var slot int
		var n int64
		if err := rows.Scan(&slot, &n); err != nil {
			return nil, fmt.Errorf("failed to scan slot count: %w", err)
		}
		counts[slot] = n
	}
	return counts, rows.Err()
}
