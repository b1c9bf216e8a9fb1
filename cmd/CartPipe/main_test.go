package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/BTreeMap/CartPipe/internal/secrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLogLevel(in), "input %q", in)
	}
}

func TestCleanSourcePath(t *testing.T) {
	assert.Equal(t, "internal/api/api.go", cleanSourcePath("/home/build/CartPipe/internal/api/api.go"))
	assert.Equal(t, "/usr/lib/go/src/net/http/server.go", cleanSourcePath("/usr/lib/go/src/net/http/server.go"))
}

func TestNewLoggerProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, slog.LevelInfo, "production")
	logger.Info("hello", "cart_id", "c1")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "c1", entry["cart_id"])
}

func TestNewLoggerHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, slog.LevelWarn, "production")
	logger.Info("dropped")
	assert.Empty(t, buf.String())
	logger.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestLoadEnvironmentConfigDefaults(t *testing.T) {
	for _, key := range []string{"ENVIRONMENT", "CARTPIPE_STATE_DIR", "API_ADDR", "TWILIO_CHANNEL", "WHATSAPP_ENABLED", "JOB_POLL_INTERVAL"} {
		t.Setenv(key, "")
	}
	config := loadEnvironmentConfig()
	assert.Equal(t, "development", config.Environment)
	assert.Equal(t, DefaultStateDir, config.StateDir)
	assert.Equal(t, ":8080", config.APIAddr)
	assert.Equal(t, "sms", config.TwilioChannel)
	assert.False(t, config.WhatsAppEnabled)
	assert.Equal(t, DefaultJobPollInterval, config.JobPollInterval)
}

func TestLoadEnvironmentConfigFromEnv(t *testing.T) {
	t.Setenv("CARTPIPE_STATE_DIR", "/tmp/cp")
	t.Setenv("WOO_STORE_URL", "https://shop.example")
	t.Setenv("WOO_CHROME_TLS", "true")
	t.Setenv("WHATSAPP_ENABLED", "1")
	t.Setenv("JOB_POLL_INTERVAL", "3")

	config := loadEnvironmentConfig()
	assert.Equal(t, "/tmp/cp", config.StateDir)
	assert.Equal(t, "https://shop.example", config.StoreURL)
	assert.True(t, config.ChromeTLS)
	assert.True(t, config.WhatsAppEnabled)
	assert.Equal(t, 3*time.Second, config.JobPollInterval)
}

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("cartpipe", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestParseCommandLineFlagsOverrides(t *testing.T) {
	base := Config{StateDir: "/env/state", APIAddr: ":8080", StoreURL: "https://env.example"}
	config, err := parseCommandLineFlags(newFlagSet(), []string{
		"-state-dir", "/flag/state",
		"-store-url", "https://flag.example",
		"-api-addr", ":9090",
		"-whatsapp",
	}, base)
	require.NoError(t, err)
	assert.Equal(t, "/flag/state", config.StateDir)
	assert.Equal(t, "https://flag.example", config.StoreURL)
	assert.Equal(t, ":9090", config.APIAddr)
	assert.True(t, config.WhatsAppEnabled)
	assert.Equal(t, filepath.Join("/flag/state", DefaultDBFileName), config.DatabaseURL)
	assert.Contains(t, config.WhatsAppDSN, filepath.Join("/flag/state", DefaultWhatsAppDBFileName))
}

func TestParseCommandLineFlagsKeepsExplicitDSN(t *testing.T) {
	base := Config{StateDir: "/state", DatabaseURL: "postgres://u:p@db/cartpipe"}
	config, err := parseCommandLineFlags(newFlagSet(), nil, base)
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@db/cartpipe", config.DatabaseURL)
}

func TestParseCommandLineFlagsRejectsUnknown(t *testing.T) {
	_, err := parseCommandLineFlags(newFlagSet(), []string{"-nope"}, Config{})
	assert.Error(t, err)
}

func TestApplySecretsOverridesOnlySetValues(t *testing.T) {
	config := Config{APIKey: "env-key", RedisURL: "redis://env", WebhookSecret: "env-secret"}
	applySecrets(&config, &secrets.Secrets{APIKey: "sm-key", TwilioAuthToken: "tok"})

	assert.Equal(t, "sm-key", config.APIKey)
	assert.Equal(t, "tok", config.TwilioAuthToken)
	assert.Equal(t, "redis://env", config.RedisURL)
	assert.Equal(t, "env-secret", config.WebhookSecret)
}

func TestValidateConfig(t *testing.T) {
	err := validateConfig(Config{JobPollInterval: time.Second})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store URL")
	assert.Contains(t, err.Error(), "public URL")

	assert.NoError(t, validateConfig(Config{
		StoreURL:        "https://shop.example",
		PublicURL:       "https://cartpipe.example",
		JobPollInterval: time.Second,
	}))
}
