// Package recovery runs the abandoned-cart message schedule.
//
// The Sweeper decides which cart is due for which of the three progressive
// messages. The Sender renders and delivers one message, attaching a coupon
// when the slot asks for one, and records the outcome.
package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/CartPipe/internal/models"
	"github.com/BTreeMap/CartPipe/internal/store"
	"github.com/BTreeMap/CartPipe/internal/template"
)

// ErrSendFailed is the generic failure returned for any unsuccessful send.
var ErrSendFailed = errors.New("message could not be sent")

// RecoverPath is the public path of recovery links.
const RecoverPath = "/recover"

// Query parameters of recovery links.
const (
	TokenParam   = "cart_recovery"
	MessageParam = "m"
)

// Messenger delivers a message through the named provider and returns the
// canonical recipient.
type Messenger interface {
	Send(ctx context.Context, provider models.Provider, to, body string) (string, error)
}

// CouponIssuer creates a new coupon for a cart.
type CouponIssuer interface {
	Generate(ctx context.Context, cartID string, cfg models.CouponSettings, now time.Time) (*models.GeneratedCoupon, error)
}

// SettingsLoader returns the current runtime settings.
type SettingsLoader interface {
	Load(ctx context.Context) (models.Settings, error)
}

// Repo is the persistence the Sender needs.
type Repo interface {
	store.CartRepo
	store.CouponRepo
	store.EventRepo
}

// RecoveryLink builds the tracked link for a cart's message slot.
func RecoveryLink(publicURL, token string, slot int) string {
	q := url.Values{}
	q.Set(TokenParam, token)
	if slot > 0 {
		q.Set(MessageParam, strconv.Itoa(slot))
	}
	return strings.TrimSuffix(publicURL, "/") + RecoverPath + "?" + q.Encode()
}

// Sender renders and delivers one recovery message.
type Sender struct {
	repo      Repo
	coupons   CouponIssuer
	messenger Messenger
	settings  SettingsLoader
	cooldown  *Cooldown
	publicURL string
}

// NewSender creates a Sender. publicURL is CartPipe's externally reachable
// base URL, used for recovery links.
func NewSender(repo Repo, coupons CouponIssuer, messenger Messenger, settings SettingsLoader, cooldown *Cooldown, publicURL string) *Sender {
	return &Sender{
		repo:      repo,
		coupons:   coupons,
		messenger: messenger,
		settings:  settings,
		cooldown:  cooldown,
		publicURL: publicURL,
	}
}

// Send delivers message slot (1..3) to the cart using the current settings.
func (s *Sender) Send(ctx context.Context, cart *models.AbandonedCart, slot int, now time.Time) error {
	st, err := s.settings.Load(ctx)
	if err != nil {
		slog.Error("Sender.Send: settings unavailable", "error", err)
		return ErrSendFailed
	}
	return s.send(ctx, st, cart, slot, now)
}

// sentPayload is the JSON payload of a sent tracking event.
type sentPayload struct {
	Provider models.Provider `json:"provider"`
	Phone    string          `json:"phone"`
	Coupon   string          `json:"coupon,omitempty"`
}

func (s *Sender) send(ctx context.Context, st models.Settings, cart *models.AbandonedCart, slot int, now time.Time) error {
	cfg, err := st.Slot(slot)
	if err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Template) == "" {
		slog.Error("Sender.send: message template is empty", "cartID", cart.ID, "slot", slot)
		return ErrSendFailed
	}
	if cart.Phone == "" {
		slog.Error("Sender.send: cart has no phone number", "cartID", cart.ID)
		return ErrSendFailed
	}
	if st.Provider == models.ProviderVendor && !st.Vendor.HasCredentials() {
		slog.Error("Sender.send: vendor API credentials missing; configure base_url, instance_id and access_token",
			"cartID", cart.ID, "slot", slot)
		return ErrSendFailed
	}

	var coupon *models.GeneratedCoupon
	if cfg.AttachCoupon {
		if coupon, err = s.couponFor(ctx, cart.ID, st.Coupon, now); err != nil {
			slog.Error("Sender.send: coupon unavailable", "error", err, "cartID", cart.ID)
			return fmt.Errorf("%w: %w", ErrSendFailed, err)
		}
	}

	body := template.Render(cfg.Template, template.Data{
		Settings:      st,
		Cart:          cart,
		Coupon:        coupon,
		RecoveryLink:  RecoveryLink(s.publicURL, cart.RecoveryToken, slot),
		MessageNumber: slot,
		Now:           now,
	})

	to, err := s.messenger.Send(ctx, st.Provider, cart.Phone, body)
	if err != nil {
		slog.Error("Sender.send: delivery failed", "error", err, "cartID", cart.ID, "slot", slot, "provider", st.Provider)
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	flags, err := cart.MessagesSent.With(slot)
	if err != nil {
		return err
	}
	if err := s.repo.SetMessageSent(ctx, cart.ID, flags, now); err != nil {
		// The message went out; a retry would duplicate it, so report the write failure only.
		slog.Error("Sender.send: message sent but flags not saved", "error", err, "cartID", cart.ID, "slot", slot)
		return err
	}
	cart.MessagesSent = flags

	payload := sentPayload{Provider: st.Provider, Phone: to}
	if coupon != nil {
		payload.Coupon = coupon.Code
	}
	if err := s.repo.AddEvent(ctx, newEvent(cart.ID, slot, models.EventSent, payload, now)); err != nil {
		slog.Error("Sender.send: sent event not recorded", "error", err, "cartID", cart.ID)
	}
	if s.cooldown != nil {
		s.cooldown.Record(ctx, cart.Phone, time.Duration(st.CooldownMinutes)*time.Minute)
	}

	slog.Info("Sender.send: recovery message sent", "cartID", cart.ID, "slot", slot, "provider", st.Provider)
	return nil
}

// couponFor reuses the newest unused, unexpired coupon of the cart or issues one.
func (s *Sender) couponFor(ctx context.Context, cartID string, cfg models.CouponSettings, now time.Time) (*models.GeneratedCoupon, error) {
	existing, err := s.repo.LatestUnusedCoupon(ctx, cartID, now)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	if s.coupons == nil {
		return nil, errors.New("no coupon issuer configured")
	}
	return s.coupons.Generate(ctx, cartID, cfg, now)
}

// SendTest delivers an ad-hoc message through the configured provider.
func (s *Sender) SendTest(ctx context.Context, phone, message string) (string, error) {
	st, err := s.settings.Load(ctx)
	if err != nil {
		return "", ErrSendFailed
	}
	if st.Provider == models.ProviderVendor && !st.Vendor.HasCredentials() {
		slog.Error("Sender.SendTest: vendor API credentials missing")
		return "", ErrSendFailed
	}
	canonical, err := s.messenger.Send(ctx, st.Provider, phone, message)
	if err != nil {
		slog.Error("Sender.SendTest: delivery failed", "error", err, "provider", st.Provider)
		return "", fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	return canonical, nil
}

func newEvent(cartID string, slot int, kind models.EventKind, payload interface{}, at time.Time) *models.TrackingEvent {
	e := &models.TrackingEvent{CartID: cartID, MessageIndex: slot, Kind: kind, CreatedAt: at}
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			e.Payload = string(b)
		}
	}
	return e
}
