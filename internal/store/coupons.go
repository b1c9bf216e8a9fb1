package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/CartPipe/internal/models"
	"github.com/BTreeMap/CartPipe/internal/util"
)

func (s *sqlStore) CreateCoupon(ctx context.Context, c *models.GeneratedCoupon) error {
	if c.ID == "" {
		c.ID = util.GenerateCouponID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO generated_coupons (`+couponColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		c.ID, c.Code, c.CartID, nilIfEmpty(c.OrderID), string(c.DiscountType), c.Amount, c.UsageLimit,
		c.Used, c.RemoteID, c.ExpiresAt.UTC(), c.CreatedAt.UTC(),
	)
	if err != nil {
		slog.Error(s.name+" CreateCoupon failed", "error", err, "code", c.Code)
		return fmt.Errorf("failed to insert coupon %s: %w", c.Code, err)
	}
	slog.Debug(s.name+" CreateCoupon succeeded", "code", c.Code, "cartID", c.CartID)
	return nil
}

func (s *sqlStore) GetCouponByCode(ctx context.Context, code string) (*models.GeneratedCoupon, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+couponColumns+` FROM generated_coupons WHERE code = ?`), code)
	c, err := scanCoupon(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error(s.name+" GetCouponByCode failed", "error", err, "code", code)
		return nil, fmt.Errorf("failed to get coupon %s: %w", code, err)
	}
	return &c, nil
}

func (s *sqlStore) CouponCodeExists(ctx context.Context, code string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM generated_coupons WHERE code = ?`), code).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("coupon code check failed: %w", err)
	}
	return n > 0, nil
}

func (s *sqlStore) LatestUnusedCoupon(ctx context.Context, cartID string, now time.Time) (*models.GeneratedCoupon, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+couponColumns+` FROM generated_coupons
		WHERE cart_id = ? AND used = ? AND expires_at > ?
		ORDER BY created_at DESC LIMIT 1`), cartID, false, now.UTC())
	c, err := scanCoupon(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error(s.name+" LatestUnusedCoupon failed", "error", err, "cartID", cartID)
		return nil, fmt.Errorf("failed to get latest coupon of cart %s: %w", cartID, err)
	}
	return &c, nil
}

func (s *sqlStore) MarkCouponUsed(ctx context.Context, code, orderID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE generated_coupons SET used = ?, order_id = ?
		WHERE code = ? AND used = ?`), true, nilIfEmpty(orderID), code, false)
	if err != nil {
		slog.Error(s.name+" MarkCouponUsed failed", "error", err, "code", code)
		return false, fmt.Errorf("failed to mark coupon %s used: %w", code, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqlStore) ListExpiredCoupons(ctx context.Context, before time.Time) ([]models.GeneratedCoupon, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+couponColumns+` FROM generated_coupons
		WHERE expires_at < ? ORDER BY expires_at ASC`), before.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query expired coupons: %w", err)
	}
	defer rows.Close()

	var coupons []models.GeneratedCoupon
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan coupon row: %w", err)
		}
		coupons = append(coupons, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate coupon rows: %w", err)
	}
	slog.Debug(s.name+" ListExpiredCoupons succeeded", "before", before, "count", len(coupons))
	return coupons, nil
}

func (s *sqlStore) DeleteCoupon(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM generated_coupons WHERE id = ?`), id); err != nil {
		slog.Error(s.name+" DeleteCoupon failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete coupon %s: %w", id, err)
	}
	return nil
}
