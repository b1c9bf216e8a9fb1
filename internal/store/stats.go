package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/CartPipe/internal/models"
)

func (s *sqlStore) Stats(ctx context.Context) (*models.Stats, error) {
	st := &models.Stats{}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*), COALESCE(SUM(total), 0) FROM abandoned_carts GROUP BY status`)
	if err != nil {
		slog.Error(s.name+" Stats cart query failed", "error", err)
		return nil, fmt.Errorf("failed to aggregate carts: %w", err)
	}
	for rows.Next() {
		var status string
		var n int64
		var sum float64
		if err := rows.Scan(&status, &n, &sum); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan cart aggregate: %w", err)
		}
		st.TotalCarts += n
		switch models.CartStatus(status) {
		case models.CartStatusActive:
			st.ActiveCarts = n
		case models.CartStatusRecovered:
			st.RecoveredCarts = n
			st.RecoveredRevenue = sum
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate cart aggregate: %w", err)
	}
	rows.Close()

	if st.TotalCarts > 0 {
		st.RecoveryRate = float64(st.RecoveredCarts) / float64(st.TotalCarts) * 100
	}

	byKind, err := s.CountEventsByKind(ctx)
	if err != nil {
		return nil, err
	}
	st.MessagesSent = byKind[models.EventSent]
	st.Clicks = byKind[models.EventClick]
	st.Conversions = byKind[models.EventConversion]

	if st.SentBySlot, err = s.CountSentBySlot(ctx); err != nil {
		return nil, err
	}

	var used int64
	err = s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*), COALESCE(SUM(CASE WHEN used = ? THEN 1 ELSE 0 END), 0)
		FROM generated_coupons`), true).Scan(&st.CouponsIssued, &used)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate coupons: %w", err)
	}
	st.CouponsUsed = used

	slog.Debug(s.name+" Stats succeeded", "carts", st.TotalCarts, "recovered", st.RecoveredCarts)
	return st, nil
}
