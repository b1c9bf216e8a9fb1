package twiliomsg

import (
	"context"
	"errors"
	"testing"
)

func TestMockClient_SendMessage(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	err := mock.SendMessage(ctx, "12345", "Hello Test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sent := mock.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sent))
	}
	if sent[0].Body != "Hello Test" {
		t.Errorf("expected body %q, got %q", "Hello Test", sent[0].Body)
	}
}

func TestMockClient_Err(t *testing.T) {
	mock := NewMockClient()
	mock.Err = errors.New("boom")
	if err := mock.SendMessage(context.Background(), "12345", "x"); err == nil {
		t.Fatal("expected error")
	}
	if len(mock.Sent()) != 0 {
		t.Error("failed sends must not be recorded")
	}
}

func TestAddress(t *testing.T) {
	tests := []struct {
		channel Channel
		in      string
		want    string
	}{
		{ChannelSMS, "15551234567", "+15551234567"},
		{ChannelSMS, "+15551234567", "+15551234567"},
		{ChannelWhatsApp, "15551234567", "whatsapp:+15551234567"},
		{ChannelWhatsApp, "whatsapp:+15551234567", "whatsapp:+15551234567"},
	}
	for _, tt := range tests {
		if got := Address(tt.channel, tt.in); got != tt.want {
			t.Errorf("Address(%s, %q) = %q, want %q", tt.channel, tt.in, got, tt.want)
		}
	}
}

func TestNewClientValidation(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewClient(); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok")); err == nil {
		t.Error("expected error without from number")
	}
	if _, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok"), WithFrom("+1555"), WithChannel("fax")); err == nil {
		t.Error("expected error for unsupported channel")
	}
	c, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok"), WithFrom("+15550001111"), WithChannel(ChannelWhatsApp))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.from != "whatsapp:+15550001111" {
		t.Errorf("expected whatsapp from address, got %q", c.from)
	}
}
