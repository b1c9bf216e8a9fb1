// Package store provides storage backends for CartPipe.
//
// Carts, coupons, tracking events, settings, durable jobs and webhook
// deliveries live behind the Store interface, with SQLite and PostgreSQL
// implementations sharing one set of queries.
package store

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/BTreeMap/CartPipe/internal/models"
)

// CartRepo persists abandoned carts.
// Lookups return (nil, nil) when no row matches.
type CartRepo interface {
	CreateCart(ctx context.Context, cart *models.AbandonedCart) error
	UpdateCart(ctx context.Context, cart *models.AbandonedCart) error
	GetCart(ctx context.Context, id string) (*models.AbandonedCart, error)
	GetCartByToken(ctx context.Context, token string) (*models.AbandonedCart, error)

	// FindActiveCart returns the active cart matching phone, then email, then
	// sessionID. Empty arguments are skipped.
	FindActiveCart(ctx context.Context, phone, email, sessionID string) (*models.AbandonedCart, error)

	// ListCartsByStatus returns carts ordered by creation time, oldest first.
	// An empty status lists every cart; limit <= 0 means no limit.
	ListCartsByStatus(ctx context.Context, status models.CartStatus, limit int) ([]models.AbandonedCart, error)

	SetMessageSent(ctx context.Context, id string, flags models.SentFlags, at time.Time) error

	// MarkCartRecovered transitions an active cart to recovered. It reports
	// false when the cart was not active.
	MarkCartRecovered(ctx context.Context, id, orderID string, at time.Time) (bool, error)

	ActiveCartsByPhone(ctx context.Context, phone string) ([]models.AbandonedCart, error)
}

// CouponRepo persists generated coupons.
type CouponRepo interface {
	CreateCoupon(ctx context.Context, c *models.GeneratedCoupon) error
	GetCouponByCode(ctx context.Context, code string) (*models.GeneratedCoupon, error)
	CouponCodeExists(ctx context.Context, code string) (bool, error)

	// LatestUnusedCoupon returns the newest unused coupon of the cart that is
	// still valid at now.
	LatestUnusedCoupon(ctx context.Context, cartID string, now time.Time) (*models.GeneratedCoupon, error)

	// MarkCouponUsed flags the coupon as used by orderID. It reports false when
	// the code is unknown or already used.
	MarkCouponUsed(ctx context.Context, code, orderID string) (bool, error)

	ListExpiredCoupons(ctx context.Context, before time.Time) ([]models.GeneratedCoupon, error)
	DeleteCoupon(ctx context.Context, id string) error
}

// EventRepo persists the append-only tracking log.
type EventRepo interface {
	AddEvent(ctx context.Context, e *models.TrackingEvent) error
	ListEvents(ctx context.Context, cartID string) ([]models.TrackingEvent, error)

	// LastSentAtForPhone returns the time of the newest sent event across all
	// carts with this phone. ok is false when nothing was ever sent.
	LastSentAtForPhone(ctx context.Context, phone string) (at time.Time, ok bool, err error)

	CountEventsByKind(ctx context.Context) (map[models.EventKind]int64, error)
	CountSentBySlot(ctx context.Context) (map[int]int64, error)
}

// SettingsRepo is a key/value option table.
type SettingsRepo interface {
	// GetOption returns ok=false when the key was never set.
	GetOption(ctx context.Context, key string) (value string, ok bool, err error)
	SetOption(ctx context.Context, key, value string) error
}

// Store is the full persistence surface used by CartPipe.
type Store interface {
	CartRepo
	CouponRepo
	EventRepo
	SettingsRepo
	JobRepo
	DeliveryRepo
	io.Closer

	// Stats aggregates carts, events and coupons for the dashboard.
	Stats(ctx context.Context) (*models.Stats, error)
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string // Database connection string or file path
}

// Option defines a configuration option for store implementations.
type Option func(*Opts)

// WithPostgresDSN sets the DSN for connecting to Postgres.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the DSN (file path) for the SQLite database.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite3" for anything else.
func DetectDSNType(dsn string) string {
	switch {
	case strings.HasPrefix(dsn, "postgres://"),
		strings.HasPrefix(dsn, "postgresql://"),
		strings.Contains(dsn, "host="):
		return "postgres"
	default:
		return "sqlite3"
	}
}

// Open creates the backend selected by the DSN.
func Open(dsn string) (Store, error) {
	if DetectDSNType(dsn) == "postgres" {
		return NewPostgresStore(WithPostgresDSN(dsn))
	}
	return NewSQLiteStore(WithSQLiteDSN(dsn))
}
