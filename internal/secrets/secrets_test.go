package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	payloads map[string]string
	asked    []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, name string) ([]byte, error) {
	f.asked = append(f.asked, name)
	p, ok := f.payloads[name]
	if !ok {
		return nil, errors.New("not found")
	}
	return []byte(p), nil
}

func TestVersionName(t *testing.T) {
	assert.Equal(t, "projects/shop-prod/secrets/cartpipe/versions/latest", VersionName("shop-prod", "cartpipe"))
}

func TestLoad(t *testing.T) {
	f := &fakeFetcher{payloads: map[string]string{
		VersionName("shop-prod", "cartpipe"): `{"woo_consumer_key":"ck_1","woo_consumer_secret":"cs_1",
			"twilio_auth_token":"tok","api_key":"admin","webhook_secret":"hook","redis_url":"redis://cache:6379/0"}`,
	}}

	s, err := Load(context.Background(), f, "shop-prod", "cartpipe")
	require.NoError(t, err)
	assert.Equal(t, "ck_1", s.WooConsumerKey)
	assert.Equal(t, "cs_1", s.WooConsumerSecret)
	assert.Equal(t, "tok", s.TwilioAuthToken)
	assert.Equal(t, "admin", s.APIKey)
	assert.Equal(t, "hook", s.WebhookSecret)
	assert.Equal(t, "redis://cache:6379/0", s.RedisURL)
	assert.Empty(t, s.DatabaseURL)
}

func TestLoadErrors(t *testing.T) {
	f := &fakeFetcher{payloads: map[string]string{
		VersionName("p", "broken"): `{not json`,
	}}
	ctx := context.Background()

	_, err := Load(ctx, f, "", "cartpipe")
	assert.Error(t, err)
	assert.Empty(t, f.asked, "no fetch without a project")

	_, err = Load(ctx, f, "p", "missing")
	assert.ErrorContains(t, err, "accessing secret")

	_, err = Load(ctx, f, "p", "broken")
	assert.ErrorContains(t, err, "parsing secret JSON")
}
