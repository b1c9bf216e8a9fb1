// Package api provides the HTTP server for CartPipe.
//
// The storefront posts checkout data and receives recovery-link redirects on
// public routes, WooCommerce delivers order webhooks signed with the shared
// secret, and the admin routes require a Bearer API key.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/CartPipe/internal/carts"
	"github.com/BTreeMap/CartPipe/internal/models"
	"github.com/BTreeMap/CartPipe/internal/recovery"
	"github.com/BTreeMap/CartPipe/internal/store"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// Timeouts of the HTTP server.
const (
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	maxBodyBytes           = 1 << 20
)

// CartService is the cart lifecycle the handlers drive.
type CartService interface {
	Capture(ctx context.Context, req carts.CaptureRequest) (*carts.CaptureResult, error)
	Restore(ctx context.Context, token string, messageIndex int) (*carts.RestoreResult, error)
	HandleOrder(ctx context.Context, order *models.Order) (*carts.OrderResult, error)
}

// OrderNotifier queues order-status notifications.
type OrderNotifier interface {
	Enqueue(ctx context.Context, order *models.Order) (string, error)
}

// Sweeper runs one recovery sweep on demand.
type Sweeper interface {
	RunSweep(ctx context.Context, now time.Time) (recovery.SweepResult, error)
}

// TestSender delivers an ad-hoc admin test message.
type TestSender interface {
	SendTest(ctx context.Context, phone, message string) (string, error)
}

// SettingsManager loads and saves runtime settings.
type SettingsManager interface {
	Load(ctx context.Context) (models.Settings, error)
	Save(ctx context.Context, s models.Settings) error
}

// Repo is the read side used by the admin routes and webhook dedupe.
type Repo interface {
	store.CartRepo
	store.EventRepo
	store.DeliveryRepo
	Stats(ctx context.Context) (*models.Stats, error)
}

// Services bundles the collaborators of the Server.
type Services struct {
	Carts    CartService
	Notifier OrderNotifier
	Sweeper  Sweeper
	Sender   TestSender
	Settings SettingsManager
	Repo     Repo
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr          string // HTTP listen address
	APIKey        string // Bearer key for admin routes; admin routes are disabled when empty
	WebhookSecret string // WooCommerce webhook secret
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithAPIKey sets the Bearer key required by admin routes.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithWebhookSecret sets the secret used to verify WooCommerce webhooks.
func WithWebhookSecret(secret string) Option {
	return func(o *Opts) {
		o.WebhookSecret = secret
	}
}

// Server serves the CartPipe HTTP API.
type Server struct {
	svc  Services
	opts Opts
	now  func() time.Time
}

// NewServer creates a Server.
func NewServer(svc Services, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		slog.Warn("Server: no API key configured, admin routes are disabled")
	}
	if cfg.WebhookSecret == "" {
		slog.Warn("Server: no webhook secret configured, order webhooks will be rejected")
	}
	return &Server{svc: svc, opts: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// Handler returns the routed handler wrapped in logging and recovery middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.healthHandler)
	mux.HandleFunc("POST /api/carts/capture", s.captureHandler)
	// Without this, GET falls through to the admin "GET /api/carts/{id}" route.
	mux.HandleFunc("GET /api/carts/capture", methodNotAllowed(http.MethodPost))
	mux.HandleFunc("GET "+recovery.RecoverPath, s.recoverHandler)
	mux.HandleFunc("POST /webhooks/woocommerce/order", s.orderWebhookHandler)

	mux.Handle("GET /api/carts", s.requireAPIKey(s.listCartsHandler))
	mux.Handle("GET /api/carts/{id}", s.requireAPIKey(s.getCartHandler))
	mux.Handle("GET /api/stats", s.requireAPIKey(s.statsHandler))
	mux.Handle("GET /api/settings", s.requireAPIKey(s.getSettingsHandler))
	mux.Handle("PUT /api/settings", s.requireAPIKey(s.putSettingsHandler))
	mux.Handle("POST /api/sweep", s.requireAPIKey(s.sweepHandler))
	mux.Handle("POST /api/test-message", s.requireAPIKey(s.testMessageHandler))

	return recoverPanics(logRequests(mux))
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.ListenAndServe: listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Server.ListenAndServe: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server.ListenAndServe: shutdown failed", "error", err)
		return err
	}
	return nil
}
