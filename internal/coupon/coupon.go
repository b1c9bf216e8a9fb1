// Package coupon issues single-cart discount coupons and removes them after expiry.
package coupon

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/CartPipe/internal/models"
	"github.com/BTreeMap/CartPipe/internal/store"
	"github.com/BTreeMap/CartPipe/internal/util"
	"github.com/BTreeMap/CartPipe/internal/woocommerce"
)

const (
	// SuffixLength is the number of random characters appended to the prefix.
	SuffixLength = 6
	// MaxAttempts is how many random codes are tried before the timestamp fallback.
	MaxAttempts = 5
	// RetentionAfterExpiry is how long expired coupons are kept before Sweep deletes them.
	RetentionAfterExpiry = 7 * 24 * time.Hour
)

// Storefront is the WooCommerce coupon API used for mirroring.
type Storefront interface {
	CouponExists(ctx context.Context, code string) (bool, error)
	CreateCoupon(ctx context.Context, req woocommerce.CouponRequest) (*woocommerce.Coupon, error)
	DeleteCoupon(ctx context.Context, id int64) error
}

// Service generates and sweeps coupons.
type Service struct {
	repo       store.CouponRepo
	storefront Storefront
	suffix     func() string
}

// NewService creates a coupon Service. storefront may be nil, in which case
// coupons are only stored locally.
func NewService(repo store.CouponRepo, storefront Storefront) *Service {
	return &Service{
		repo:       repo,
		storefront: storefront,
		suffix:     func() string { return util.GenerateRandomUpperAlphaNumeric(SuffixLength) },
	}
}

func (s *Service) mirroring(cfg models.CouponSettings) bool {
	return cfg.MirrorToStore && s.storefront != nil
}

// Generate creates a coupon for cartID valid for cfg.ExpiryDays from now.
func (s *Service) Generate(ctx context.Context, cartID string, cfg models.CouponSettings, now time.Time) (*models.GeneratedCoupon, error) {
	if cfg.MirrorToStore && s.storefront == nil {
		slog.Warn("Coupon.Generate: mirroring enabled but no storefront client configured; coupon stays local", "cartID", cartID)
	}

	code, err := s.uniqueCode(ctx, cfg, now)
	if err != nil {
		return nil, err
	}

	expiryDays := cfg.ExpiryDays
	if expiryDays <= 0 {
		expiryDays = models.DefaultCouponExpiryDays
	}
	usageLimit := cfg.UsageLimit
	if usageLimit <= 0 {
		usageLimit = 1
	}
	c := &models.GeneratedCoupon{
		Code:         code,
		CartID:       cartID,
		DiscountType: cfg.DiscountType,
		Amount:       cfg.Amount,
		UsageLimit:   usageLimit,
		ExpiresAt:    now.Add(time.Duration(expiryDays) * 24 * time.Hour).UTC(),
		CreatedAt:    now.UTC(),
	}

	if s.mirroring(cfg) {
		req := woocommerce.NewCouponRequest(c.Code, string(c.DiscountType), c.Amount, c.UsageLimit, c.ExpiresAt, cartID)
		remote, err := s.storefront.CreateCoupon(ctx, req)
		if err != nil {
			slog.Error("Coupon.Generate: storefront create failed", "error", err, "code", code)
			return nil, fmt.Errorf("create coupon %s in store: %w", code, err)
		}
		c.RemoteID = remote.ID
	}

	if err := s.repo.CreateCoupon(ctx, c); err != nil {
		return nil, err
	}
	slog.Info("Coupon.Generate: coupon issued", "code", c.Code, "cartID", cartID, "expires_at", c.ExpiresAt)
	return c, nil
}

// uniqueCode tries MaxAttempts random codes, then falls back to a timestamp suffix.
func (s *Service) uniqueCode(ctx context.Context, cfg models.CouponSettings, now time.Time) (string, error) {
	prefix := strings.ToUpper(strings.TrimSpace(cfg.Prefix))
	if prefix == "" {
		prefix = models.DefaultCouponPrefix
	}
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		code := prefix + s.suffix()
		taken, err := s.codeTaken(ctx, cfg, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
		slog.Debug("Coupon.uniqueCode: collision", "code", code, "attempt", attempt)
	}
	code := prefix + strconv.FormatInt(now.Unix(), 10)
	slog.Warn("Coupon.uniqueCode: random codes exhausted, using timestamp code", "code", code)
	return code, nil
}

func (s *Service) codeTaken(ctx context.Context, cfg models.CouponSettings, code string) (bool, error) {
	exists, err := s.repo.CouponCodeExists(ctx, code)
	if err != nil {
		return false, err
	}
	if exists || !s.mirroring(cfg) {
		return exists, nil
	}
	exists, err = s.storefront.CouponExists(ctx, code)
	if err != nil {
		return false, fmt.Errorf("check coupon %s in store: %w", code, err)
	}
	return exists, nil
}

// Sweep deletes coupons that expired more than RetentionAfterExpiry before now.
// Storefront deletion is best effort. It returns the number of coupons removed.
func (s *Service) Sweep(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.repo.ListExpiredCoupons(ctx, now.Add(-RetentionAfterExpiry))
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, c := range expired {
		if c.RemoteID > 0 && s.storefront != nil {
			if err := s.storefront.DeleteCoupon(ctx, c.RemoteID); err != nil {
				slog.Warn("Coupon.Sweep: storefront delete failed", "error", err, "code", c.Code, "remote_id", c.RemoteID)
			}
		}
		if err := s.repo.DeleteCoupon(ctx, c.ID); err != nil {
			return deleted, err
		}
		deleted++
	}
	if deleted > 0 {
		slog.Info("Coupon.Sweep: expired coupons deleted", "count", deleted)
	}
	return deleted, nil
}
