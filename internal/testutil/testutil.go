// Package testutil provides shared fixtures and fakes for CartPipe tests.
package testutil

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/BTreeMap/CartPipe/internal/models"
	"github.com/BTreeMap/CartPipe/internal/store"
	"github.com/brianvoe/gofakeit/v7"
)

// NewStore opens a migrated SQLite store in a temp directory, closed on cleanup.
func NewStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(store.WithSQLiteDSN(filepath.Join(t.TempDir(), "cartpipe.db")))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// Settings is a fixed SettingsLoader. Mutate S between calls to change what Load returns.
type Settings struct {
	mu sync.Mutex
	S  models.Settings
}

// NewSettings returns DefaultSettings with vendor credentials filled in.
func NewSettings() *Settings {
	s := models.DefaultSettings()
	s.Vendor = models.VendorSettings{
		BaseURL:     "https://vendor.example.com",
		InstanceID:  "instance-1",
		AccessToken: "token-1",
		APIVersion:  models.VendorAPIv1,
	}
	return &Settings{S: s}
}

func (s *Settings) Load(ctx context.Context) (models.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.S, nil
}

// Update applies fn to the held settings.
func (s *Settings) Update(fn func(*models.Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.S)
}

// Message is one delivery recorded by Messenger.
type Message struct {
	Provider models.Provider
	To       string
	Body     string
}

// Messenger records sends instead of delivering them. When Err is set every
// send fails with it.
type Messenger struct {
	mu   sync.Mutex
	sent []Message
	Err  error
}

func (m *Messenger) Send(ctx context.Context, provider models.Provider, to, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	m.sent = append(m.sent, Message{Provider: provider, To: to, Body: body})
	return to, nil
}

// SetErr changes the failure returned by later sends.
func (m *Messenger) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

// Sent returns a copy of the recorded messages.
func (m *Messenger) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}

// FakeCart returns an active cart with random contact data and one or two items.
// The phone is canonical (digits only).
func FakeCart() *models.AbandonedCart {
	items := []models.LineItem{{
		ProductID: int64(gofakeit.IntRange(1, 5000)),
		Name:      gofakeit.ProductName(),
		Quantity:  gofakeit.IntRange(1, 3),
		Price:     float64(gofakeit.IntRange(100, 9900)) / 100,
	}}
	if gofakeit.Bool() {
		items = append(items, models.LineItem{
			ProductID: int64(gofakeit.IntRange(5001, 9000)),
			Name:      gofakeit.ProductName(),
			Quantity:  1,
			Price:     float64(gofakeit.IntRange(100, 9900)) / 100,
		})
	}
	return &models.AbandonedCart{
		FirstName: gofakeit.FirstName(),
		LastName:  gofakeit.LastName(),
		Phone:     "1555" + gofakeit.Numerify("#######"),
		Email:     gofakeit.Email(),
		City:      gofakeit.City(),
		Country:   "US",
		Currency:  "USD",
		Items:     items,
		Total:     models.CartTotal(items),
		Status:    models.CartStatusActive,
	}
}

// DecodeResponse decodes an APIResponse envelope and checks its status field.
func DecodeResponse(t *testing.T, rr *httptest.ResponseRecorder, wantStatus models.APIStatus) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode JSON response %q: %v", rr.Body.String(), err)
	}
	if resp.Status != string(wantStatus) {
		t.Errorf("expected status %q, got %q (message %q)", wantStatus, resp.Status, resp.Message)
	}
	return resp
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}
