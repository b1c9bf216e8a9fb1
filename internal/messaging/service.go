// Package messaging delivers outbound text messages through the configured provider.
package messaging

import (
	"context"
	"errors"
	"log/slog"

	"github.com/BTreeMap/CartPipe/internal/models"
	"github.com/BTreeMap/CartPipe/internal/util"
)

var (
	// ErrServiceStopped is returned by SendMessage after Stop.
	ErrServiceStopped = errors.New("messaging service is stopped")
	// ErrUnknownProvider is returned when no service is registered for a provider.
	ErrUnknownProvider = errors.New("no messaging service registered for provider")
)

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// Name returns the provider this service delivers through.
	Name() models.Provider

	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	// Returns the canonicalized recipient and an error if validation fails.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing.
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error
}

// SettingsLoader returns the current runtime settings.
type SettingsLoader interface {
	Load(ctx context.Context) (models.Settings, error)
}

// canonicalizePhone reduces a recipient to digits, logging when that changed it.
func canonicalizePhone(service, recipient string) (string, error) {
	canonical, err := util.CanonicalizePhone(recipient, "")
	if err != nil {
		return "", err
	}
	if canonical != recipient {
		slog.Debug(service+" canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}
