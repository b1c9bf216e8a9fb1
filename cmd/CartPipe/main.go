package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/BTreeMap/CartPipe/internal/api"
	"github.com/BTreeMap/CartPipe/internal/carts"
	"github.com/BTreeMap/CartPipe/internal/coupon"
	"github.com/BTreeMap/CartPipe/internal/lockfile"
	"github.com/BTreeMap/CartPipe/internal/messaging"
	"github.com/BTreeMap/CartPipe/internal/notify"
	"github.com/BTreeMap/CartPipe/internal/recovery"
	"github.com/BTreeMap/CartPipe/internal/scheduler"
	"github.com/BTreeMap/CartPipe/internal/secrets"
	"github.com/BTreeMap/CartPipe/internal/settings"
	"github.com/BTreeMap/CartPipe/internal/store"
	"github.com/BTreeMap/CartPipe/internal/twiliomsg"
	"github.com/BTreeMap/CartPipe/internal/util"
	"github.com/BTreeMap/CartPipe/internal/vendorapi"
	"github.com/BTreeMap/CartPipe/internal/whatsapp"
	"github.com/BTreeMap/CartPipe/internal/woocommerce"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for CartPipe state data
	DefaultStateDir = "/var/lib/cartpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "cartpipe.db"
	// DefaultWhatsAppDBFileName is the whatsmeow session database filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultJobPollInterval is how often due notification jobs are claimed
	DefaultJobPollInterval = 10 * time.Second
	// CouponSweepSchedule removes long-expired coupons once a day
	CouponSweepSchedule = "@daily"
)

// Config holds the process configuration assembled from .env, the
// environment, command-line flags and, in production, Secret Manager.
type Config struct {
	Environment string
	LogLevel    string
	StateDir    string
	DatabaseURL string
	APIAddr     string
	PublicURL   string

	StoreURL          string
	WooConsumerKey    string
	WooConsumerSecret string
	ChromeTLS         bool

	APIKey        string
	WebhookSecret string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	TwilioChannel    string

	WhatsAppEnabled bool
	WhatsAppDSN     string
	QROutput        string
	NumericCode     bool

	RedisURL        string
	JobPollInterval time.Duration

	GCPProject string
	SecretName string
}

func main() {
	config := loadEnvironmentConfig()
	config, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		os.Exit(2)
	}
	slog.SetDefault(newLogger(os.Stdout, parseLogLevel(config.LogLevel), config.Environment))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if config.Environment == "production" && config.GCPProject != "" && config.SecretName != "" {
		if err := loadProductionSecrets(ctx, &config); err != nil {
			slog.Error("Failed to load secrets", "error", err)
			os.Exit(1)
		}
	}
	if err := validateConfig(config); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	lock, err := lockfile.Acquire(config.StateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	slog.Info("Bootstrapping CartPipe", "environment", config.Environment, "state_dir", config.StateDir,
		"api_addr", config.APIAddr, "store_url", config.StoreURL)
	if err := run(ctx, config); err != nil {
		slog.Error("CartPipe failed to run", "error", err)
		lock.Release()
		os.Exit(1)
	}
	slog.Info("CartPipe exited successfully")
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	config := Config{
		Environment:       util.StringEnv("ENVIRONMENT", "development"),
		LogLevel:          os.Getenv("LOG_LEVEL"),
		StateDir:          util.StringEnv("CARTPIPE_STATE_DIR", DefaultStateDir),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		APIAddr:           util.StringEnv("API_ADDR", api.DefaultAddr),
		PublicURL:         os.Getenv("PUBLIC_URL"),
		StoreURL:          os.Getenv("WOO_STORE_URL"),
		WooConsumerKey:    os.Getenv("WOO_CONSUMER_KEY"),
		WooConsumerSecret: os.Getenv("WOO_CONSUMER_SECRET"),
		ChromeTLS:         util.ParseBoolEnv("WOO_CHROME_TLS", false),
		APIKey:            os.Getenv("API_KEY"),
		WebhookSecret:     os.Getenv("WEBHOOK_SECRET"),
		TwilioAccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:        os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioChannel:     util.StringEnv("TWILIO_CHANNEL", string(twiliomsg.ChannelSMS)),
		WhatsAppEnabled:   util.ParseBoolEnv("WHATSAPP_ENABLED", false),
		WhatsAppDSN:       os.Getenv("WHATSAPP_DB_DSN"),
		RedisURL:          os.Getenv("REDIS_URL"),
		JobPollInterval:   util.ParseDurationEnv("JOB_POLL_INTERVAL", DefaultJobPollInterval),
		GCPProject:        os.Getenv("GCP_PROJECT"),
		SecretName:        os.Getenv("SECRET_NAME"),
	}

	slog.Debug("environment variables loaded",
		"ENVIRONMENT", config.Environment,
		"CARTPIPE_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"WOO_STORE_URL", config.StoreURL,
		"WOO_KEYS_SET", config.WooConsumerKey != "" && config.WooConsumerSecret != "",
		"API_KEY_SET", config.APIKey != "",
		"WEBHOOK_SECRET_SET", config.WebhookSecret != "",
		"TWILIO_SET", config.TwilioAccountSID != "",
		"WHATSAPP_ENABLED", config.WhatsAppEnabled,
		"REDIS_URL_SET", config.RedisURL != "")
	return config
}

// parseCommandLineFlags lets flags override the environment defaults.
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Config, error) {
	fs.StringVar(&config.StateDir, "state-dir", config.StateDir, "state directory for CartPipe data (overrides $CARTPIPE_STATE_DIR)")
	fs.StringVar(&config.DatabaseURL, "db-dsn", config.DatabaseURL, "database DSN; Postgres URL or SQLite path (overrides $DATABASE_URL)")
	fs.StringVar(&config.APIAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&config.PublicURL, "public-url", config.PublicURL, "externally reachable CartPipe URL for recovery links (overrides $PUBLIC_URL)")
	fs.StringVar(&config.StoreURL, "store-url", config.StoreURL, "WooCommerce store URL (overrides $WOO_STORE_URL)")
	fs.BoolVar(&config.ChromeTLS, "chrome-tls", config.ChromeTLS, "use a browser TLS fingerprint for storefront calls (overrides $WOO_CHROME_TLS)")
	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "debug, info, warn or error (overrides $LOG_LEVEL)")
	fs.StringVar(&config.TwilioChannel, "twilio-channel", config.TwilioChannel, "sms or whatsapp (overrides $TWILIO_CHANNEL)")
	fs.BoolVar(&config.WhatsAppEnabled, "whatsapp", config.WhatsAppEnabled, "enable the WhatsApp provider (overrides $WHATSAPP_ENABLED)")
	fs.StringVar(&config.WhatsAppDSN, "whatsapp-db-dsn", config.WhatsAppDSN, "whatsmeow session database DSN (overrides $WHATSAPP_DB_DSN)")
	fs.StringVar(&config.QROutput, "qr-output", "", "path to write the WhatsApp login QR code")
	fs.BoolVar(&config.NumericCode, "numeric-code", false, "print the WhatsApp pairing code instead of a QR code")
	fs.StringVar(&config.RedisURL, "redis-url", config.RedisURL, "Redis URL for the cooldown cache (overrides $REDIS_URL)")
	if err := fs.Parse(args); err != nil {
		return config, err
	}

	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = "file:" + filepath.Join(config.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}
	return config, nil
}

// loadProductionSecrets overrides credentials with the Secret Manager payload.
func loadProductionSecrets(ctx context.Context, config *Config) error {
	sm, err := secrets.NewSecretManager(ctx)
	if err != nil {
		return err
	}
	defer sm.Close()
	s, err := secrets.Load(ctx, sm, config.GCPProject, config.SecretName)
	if err != nil {
		return err
	}
	applySecrets(config, s)
	return nil
}

// applySecrets copies every non-empty secret over the config.
func applySecrets(config *Config, s *secrets.Secrets) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&config.WooConsumerKey, s.WooConsumerKey)
	set(&config.WooConsumerSecret, s.WooConsumerSecret)
	set(&config.TwilioAccountSID, s.TwilioAccountSID)
	set(&config.TwilioAuthToken, s.TwilioAuthToken)
	set(&config.APIKey, s.APIKey)
	set(&config.WebhookSecret, s.WebhookSecret)
	set(&config.DatabaseURL, s.DatabaseURL)
	set(&config.RedisURL, s.RedisURL)
}

func validateConfig(config Config) error {
	var errs []error
	if config.StoreURL == "" {
		errs = append(errs, errors.New("store URL is required (WOO_STORE_URL or -store-url)"))
	}
	if config.PublicURL == "" {
		errs = append(errs, errors.New("public URL is required (PUBLIC_URL or -public-url)"))
	}
	if config.JobPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("job poll interval must be positive, got %s", config.JobPollInterval))
	}
	return errors.Join(errs...)
}

// buildRouter registers the vendor service and whichever optional providers
// are configured.
func buildRouter(ctx context.Context, config Config, mgr *settings.Manager) (*messaging.Router, error) {
	router := messaging.NewRouter(messaging.NewVendorService(vendorapi.NewClient(), mgr))

	if config.TwilioAccountSID != "" && config.TwilioAuthToken != "" {
		tc, err := twiliomsg.NewClient(
			twiliomsg.WithAccountSID(config.TwilioAccountSID),
			twiliomsg.WithAuthToken(config.TwilioAuthToken),
			twiliomsg.WithFrom(config.TwilioFrom),
			twiliomsg.WithChannel(twiliomsg.Channel(config.TwilioChannel)),
		)
		if err != nil {
			return nil, fmt.Errorf("twilio: %w", err)
		}
		router.Register(messaging.NewTwilioService(tc))
	}

	if config.WhatsAppEnabled {
		waOpts := []whatsapp.Option{whatsapp.WithDBDSN(config.WhatsAppDSN)}
		if config.QROutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(config.QROutput))
		}
		if config.NumericCode {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		wc, err := whatsapp.NewClient(ctx, waOpts...)
		if err != nil {
			return nil, fmt.Errorf("whatsapp: %w", err)
		}
		router.Register(messaging.NewWhatsAppService(wc))
	}

	slog.Info("Messaging providers registered", "providers", router.Providers())
	return router, nil
}

// run wires every component and blocks until ctx is cancelled or a component fails.
func run(ctx context.Context, config Config) error {
	st, err := store.Open(config.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	mgr := settings.NewManager(st)
	current, err := mgr.Load(ctx)
	if err != nil {
		return err
	}

	wc, err := woocommerce.New(woocommerce.Config{
		StoreURL:       config.StoreURL,
		ConsumerKey:    config.WooConsumerKey,
		ConsumerSecret: config.WooConsumerSecret,
		ChromeTLS:      config.ChromeTLS,
	})
	if err != nil {
		return err
	}
	var couponStore coupon.Storefront
	if wc.HasRESTCredentials() {
		couponStore = wc
	} else {
		slog.Warn("WooCommerce REST keys not set, coupons will not be mirrored to the store")
	}

	router, err := buildRouter(ctx, config, mgr)
	if err != nil {
		return err
	}
	if err := router.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := router.Stop(); err != nil {
			slog.Warn("Messaging shutdown reported errors", "error", err)
		}
	}()

	var cache *recovery.CooldownCache
	if config.RedisURL != "" {
		if cache, err = recovery.NewRedisCooldownCache(config.RedisURL); err != nil {
			slog.Warn("Redis unavailable, cooldown uses the database only", "error", err)
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	coupons := coupon.NewService(st, couponStore)
	cooldown := recovery.NewCooldown(st, cache)
	sender := recovery.NewSender(st, coupons, router, mgr, cooldown, config.PublicURL)
	sweeper := recovery.NewSweeper(st, sender, cooldown, mgr)
	cartSvc := carts.NewService(st, wc, mgr)
	notifier := notify.NewNotifier(st, mgr, router)

	runner := store.NewJobRunner(st, config.JobPollInterval)
	notifier.Register(runner)
	if err := runner.RecoverStaleJobs(ctx); err != nil {
		slog.Warn("Failed to recover stale jobs", "error", err)
	}

	sched := scheduler.NewScheduler()
	interval := time.Duration(current.SweepInterval) * time.Minute
	if _, err := sched.AddJob("cart-sweep", scheduler.Every(interval), func(ctx context.Context) {
		res, err := sweeper.RunSweep(ctx, time.Now().UTC())
		if err != nil {
			slog.Error("Cart sweep failed", "error", err)
			return
		}
		slog.Info("Cart sweep finished", "scanned", res.Scanned, "sent", res.Sent, "failed", res.Failed, "cooldown", res.Cooldown)
	}); err != nil {
		return err
	}
	if _, err := sched.AddJob("coupon-sweep", CouponSweepSchedule, func(ctx context.Context) {
		if _, err := coupons.Sweep(ctx, time.Now().UTC()); err != nil {
			slog.Error("Coupon sweep failed", "error", err)
		}
	}); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	server := api.NewServer(api.Services{
		Carts:    cartSvc,
		Notifier: notifier,
		Sweeper:  sweeper,
		Sender:   sender,
		Settings: mgr,
		Repo:     st,
	}, api.WithAddr(config.APIAddr), api.WithAPIKey(config.APIKey), api.WithWebhookSecret(config.WebhookSecret))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx) })
	g.Go(func() error { return server.ListenAndServe(gctx) })
	return g.Wait()
}
