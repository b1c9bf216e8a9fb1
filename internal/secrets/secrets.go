// Package secrets loads CartPipe credentials from Google Secret Manager in
// production. The secret payload is a JSON document with the fields of Secrets.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// Secrets are the credentials kept out of the environment in production.
type Secrets struct {
	WooConsumerKey    string `json:"woo_consumer_key"`
	WooConsumerSecret string `json:"woo_consumer_secret"`
	TwilioAccountSID  string `json:"twilio_account_sid"`
	TwilioAuthToken   string `json:"twilio_auth_token"`
	APIKey            string `json:"api_key"`
	WebhookSecret     string `json:"webhook_secret"`
	DatabaseURL       string `json:"database_url,omitempty"`
	RedisURL          string `json:"redis_url,omitempty"`
}

// Fetcher returns the payload of a secret version.
type Fetcher interface {
	Fetch(ctx context.Context, name string) ([]byte, error)
}

// VersionName builds the resource name of the latest version of a secret.
func VersionName(project, secret string) string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", project, secret)
}

// Parse decodes a secret payload.
func Parse(data []byte) (*Secrets, error) {
	var s Secrets
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing secret JSON: %w", err)
	}
	return &s, nil
}

// Load fetches and decodes the latest version of secret in project.
func Load(ctx context.Context, f Fetcher, project, secret string) (*Secrets, error) {
	if project == "" || secret == "" {
		return nil, fmt.Errorf("GCP project and secret name are required")
	}
	name := VersionName(project, secret)
	data, err := f.Fetch(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("accessing secret %s: %w", name, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, err
	}
	slog.Info("Secrets.Load: loaded secrets", "secret", name)
	return s, nil
}

// SecretManager is a Fetcher backed by Google Secret Manager.
type SecretManager struct {
	client *secretmanager.Client
}

// NewSecretManager creates a client with application default credentials.
func NewSecretManager(ctx context.Context) (*SecretManager, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating secret manager client: %w", err)
	}
	return &SecretManager{client: client}, nil
}

func (m *SecretManager) Fetch(ctx context.Context, name string) ([]byte, error) {
	res, err := m.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return nil, err
	}
	return res.GetPayload().GetData(), nil
}

// Close releases the client connection.
func (m *SecretManager) Close() error {
	return m.client.Close()
}
