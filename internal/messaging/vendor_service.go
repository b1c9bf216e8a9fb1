package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BTreeMap/CartPipe/internal/models"
	"github.com/BTreeMap/CartPipe/internal/vendorapi"
)

// VendorSender posts a message to the vendor endpoint.
type VendorSender interface {
	Send(ctx context.Context, creds models.VendorSettings, phone, message string) (*vendorapi.Result, error)
}

// VendorService implements Service on top of the fixed vendor API. Credentials
// and the API shape are read from settings on every send, so admin edits apply
// without a restart.
type VendorService struct {
	client   VendorSender
	settings SettingsLoader
	mu       sync.RWMutex
	stopped  bool
}

// NewVendorService creates a VendorService.
func NewVendorService(client VendorSender, settings SettingsLoader) *VendorService {
	return &VendorService{client: client, settings: settings}
}

func (s *VendorService) Name() models.Provider {
	return models.ProviderVendor
}

func (s *VendorService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone("VendorService", recipient)
}

// Start is a no-op; the vendor API is request/response only.
func (s *VendorService) Start(ctx context.Context) error {
	return nil
}

func (s *VendorService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

// SendMessage sends body to the recipient through the vendor API.
func (s *VendorService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("VendorService SendMessage validation error", "error", err, "to", to)
		return err
	}

	st, err := s.settings.Load(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	res, err := s.client.Send(ctx, st.Vendor, canonicalTo, body)
	if err != nil {
		return err
	}
	slog.Debug("VendorService message sent", "to", canonicalTo, "message_id", res.MessageID)
	return nil
}
