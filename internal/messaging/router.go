package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BTreeMap/CartPipe/internal/models"
)

// Router dispatches messages to the service registered for a provider.
type Router struct {
	mu       sync.RWMutex
	services map[models.Provider]Service
}

// NewRouter creates a Router with the given services registered under their names.
func NewRouter(services ...Service) *Router {
	r := &Router{services: make(map[models.Provider]Service)}
	for _, svc := range services {
		r.Register(svc)
	}
	return r
}

// Register adds or replaces the service for svc.Name().
func (r *Router) Register(svc Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[svc.Name()] = svc
	slog.Debug("Router.Register", "provider", svc.Name())
}

// Service returns the service registered for provider.
func (r *Router) Service(provider models.Provider) (Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	return svc, nil
}

// Providers lists the registered providers.
func (r *Router) Providers() []models.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Provider, 0, len(r.services))
	for p := range r.services {
		out = append(out, p)
	}
	return out
}

// Send canonicalizes the recipient with the provider's rules and sends body.
// It returns the canonical recipient.
func (r *Router) Send(ctx context.Context, provider models.Provider, to, body string) (string, error) {
	svc, err := r.Service(provider)
	if err != nil {
		return "", err
	}
	canonical, err := svc.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return "", err
	}
	if err := svc.SendMessage(ctx, canonical, body); err != nil {
		return canonical, err
	}
	return canonical, nil
}

// Start starts every registered service.
func (r *Router) Start(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for p, svc := range r.services {
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", p, err)
		}
	}
	return nil
}

// Stop stops every registered service and joins their errors.
func (r *Router) Stop() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var errs []error
	for p, svc := range r.services {
		if err := svc.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}
