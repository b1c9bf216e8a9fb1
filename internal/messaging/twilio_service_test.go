package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/BTreeMap/CartPipe/internal/models"
	"github.com/BTreeMap/CartPipe/internal/twiliomsg"
)

func TestTwilioService_ImplementsService(t *testing.T) {
	var _ Service = (*TwilioService)(nil)
}

func TestTwilioService_ValidateAndCanonicalizeRecipient(t *testing.T) {
	svc := NewTwilioService(twiliomsg.NewMockClient())
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"plain digits", "15551234567", "15551234567", false},
		{"formatted", "+1 (555) 123-4567", "15551234567", false},
		{"double zero prefix", "0044 20 7946 0958", "442079460958", false},
		{"empty", "", "", true},
		{"no digits", "abc", "", true},
		{"too short", "12345", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.ValidateAndCanonicalizeRecipient(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTwilioService_SendMessage(t *testing.T) {
	mock := twiliomsg.NewMockClient()
	svc := NewTwilioService(mock)
	if svc.Name() != models.ProviderTwilio {
		t.Errorf("unexpected name %q", svc.Name())
	}
	if err := svc.SendMessage(context.Background(), "+15551234567", "hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if sent := mock.Sent(); len(sent) != 1 || sent[0].To != "15551234567" {
		t.Errorf("unexpected sent messages: %+v", sent)
	}

	mock.Err = errors.New("twilio down")
	if err := svc.SendMessage(context.Background(), "+15551234567", "hi"); err == nil {
		t.Error("expected client error to propagate")
	}

	svc.Stop()
	if err := svc.SendMessage(context.Background(), "+15551234567", "hi"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}
