// Package carts captures checkout data into abandoned carts and closes them out.
//
// Capture deduplicates repeated submissions from the same shopper. HandleOrder
// marks carts recovered when an order is placed. Restore turns a recovery link
// back into a filled storefront cart.
package carts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"slices"
	"strings"
	"time"

	"github.com/BTreeMap/CartPipe/internal/models"
	"github.com/BTreeMap/CartPipe/internal/store"
	"github.com/BTreeMap/CartPipe/internal/util"
	"github.com/BTreeMap/CartPipe/internal/woocommerce"
)

var (
	// ErrInvalidToken is returned when a recovery token matches no cart.
	ErrInvalidToken = errors.New("invalid recovery token")
	// ErrInvalidEmail is returned for a malformed email address.
	ErrInvalidEmail = errors.New("invalid email address")
)

// SettingsLoader returns the current runtime settings.
type SettingsLoader interface {
	Load(ctx context.Context) (models.Settings, error)
}

// Storefront rebuilds carts in the shop.
type Storefront interface {
	Product(ctx context.Context, id int64) (*woocommerce.Product, error)
	RestoreLink(items []woocommerce.LinkItem, coupon string, billing woocommerce.Billing) string
	StoreURL() string
}

// Repo is the persistence the cart service needs.
type Repo interface {
	store.CartRepo
	store.CouponRepo
	store.EventRepo
}

// Service implements the cart lifecycle.
type Service struct {
	repo       Repo
	storefront Storefront
	settings   SettingsLoader
	now        func() time.Time
}

// NewService creates a cart Service.
func NewService(repo Repo, storefront Storefront, settings SettingsLoader) *Service {
	return &Service{
		repo:       repo,
		storefront: storefront,
		settings:   settings,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CaptureRequest is the checkout data posted by the storefront.
type CaptureRequest struct {
	SessionID string            `json:"session_id"`
	UserID    string            `json:"user_id"`
	FirstName string            `json:"first_name"`
	LastName  string            `json:"last_name"`
	Phone     string            `json:"phone"`
	Email     string            `json:"email"`
	Address1  string            `json:"address_1"`
	Address2  string            `json:"address_2"`
	City      string            `json:"city"`
	State     string            `json:"state"`
	Postcode  string            `json:"postcode"`
	Country   string            `json:"country"`
	Currency  string            `json:"currency"`
	Items     []models.LineItem `json:"items"`
}

// CaptureResult reports what Capture did.
type CaptureResult struct {
	Cart    *models.AbandonedCart `json:"cart"`
	Created bool                  `json:"created"`
	Updated bool                  `json:"updated"`
}

func (r *CaptureRequest) normalize(countryCode string) error {
	for _, p := range []*string{&r.SessionID, &r.UserID, &r.FirstName, &r.LastName, &r.Address1, &r.Address2,
		&r.City, &r.State, &r.Postcode, &r.Country, &r.Currency} {
		*p = strings.TrimSpace(*p)
	}
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	if r.Email != "" {
		if _, err := mail.ParseAddress(r.Email); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidEmail, r.Email)
		}
	}
	if strings.TrimSpace(r.Phone) != "" {
		phone, err := util.CanonicalizePhone(r.Phone, countryCode)
		if err != nil {
			return err
		}
		r.Phone = phone
	} else {
		r.Phone = ""
	}
	if r.Phone == "" && r.Email == "" {
		return models.ErrEmptyContact
	}
	for i, li := range r.Items {
		if err := li.Validate(); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}
	return nil
}

// Capture stores the checkout data. An active cart matching the phone, email
// or session (in that order) is updated in place; otherwise a new cart is
// created. Resubmitting identical data writes nothing.
func (s *Service) Capture(ctx context.Context, req CaptureRequest) (*CaptureResult, error) {
	st, err := s.settings.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := req.normalize(st.DefaultCountryCode); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindActiveCart(ctx, req.Phone, req.Email, req.SessionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if existing == nil {
		cart := &models.AbandonedCart{CreatedAt: now, UpdatedAt: now}
		merge(cart, req)
		if err := s.repo.CreateCart(ctx, cart); err != nil {
			return nil, err
		}
		slog.Info("Carts.Capture: cart created", "cartID", cart.ID, "items", len(cart.Items))
		return &CaptureResult{Cart: cart, Created: true}, nil
	}

	updated := *existing
	updated.Items = slices.Clone(existing.Items)
	merge(&updated, req)
	if sameCart(existing, &updated) {
		slog.Debug("Carts.Capture: unchanged submission ignored", "cartID", existing.ID)
		return &CaptureResult{Cart: existing}, nil
	}
	updated.UpdatedAt = now
	if err := s.repo.UpdateCart(ctx, &updated); err != nil {
		return nil, err
	}
	slog.Debug("Carts.Capture: cart updated", "cartID", updated.ID)
	return &CaptureResult{Cart: &updated, Updated: true}, nil
}

// merge copies non-empty request fields onto the cart and recomputes the total.
func merge(c *models.AbandonedCart, r CaptureRequest) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.SessionID, r.SessionID)
	set(&c.UserID, r.UserID)
	set(&c.FirstName, r.FirstName)
	set(&c.LastName, r.LastName)
	set(&c.Phone, r.Phone)
	set(&c.Email, r.Email)
	set(&c.Address1, r.Address1)
	set(&c.Address2, r.Address2)
	set(&c.City, r.City)
	set(&c.State, r.State)
	set(&c.Postcode, r.Postcode)
	set(&c.Country, r.Country)
	set(&c.Currency, r.Currency)
	if len(r.Items) > 0 {
		c.Items = slices.Clone(r.Items)
	}
	if c.Items == nil {
		c.Items = []models.LineItem{}
	}
	c.Total = models.CartTotal(c.Items)
}

func sameCart(a, b *models.AbandonedCart) bool {
	return a.SessionID == b.SessionID && a.UserID == b.UserID &&
		a.FirstName == b.FirstName && a.LastName == b.LastName &&
		a.Phone == b.Phone && a.Email == b.Email &&
		a.Address1 == b.Address1 && a.Address2 == b.Address2 &&
		a.City == b.City && a.State == b.State && a.Postcode == b.Postcode && a.Country == b.Country &&
		a.Currency == b.Currency && slices.Equal(a.Items, b.Items)
}

// OrderResult reports the carts an order recovered.
type OrderResult struct {
	RecoveredCarts []string `json:"recovered_carts"`
	CouponsUsed    []string `json:"coupons_used"`
}

// HandleOrder marks every active cart matching the order's billing phone or
// cart token meta as recovered, and flags the order's generated coupons used.
// Orders that were not placed (failed, cancelled, refunded) are ignored.
func (s *Service) HandleOrder(ctx context.Context, order *models.Order) (*OrderResult, error) {
	res := &OrderResult{}
	if order == nil || !order.IsPlaced() {
		return res, nil
	}
	st, err := s.settings.Load(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()

	candidates, err := s.matchingCarts(ctx, order, st.DefaultCountryCode)
	if err != nil {
		return nil, err
	}
	for _, cart := range candidates {
		changed, err := s.repo.MarkCartRecovered(ctx, cart.ID, order.ID, now)
		if err != nil {
			return nil, err
		}
		if !changed {
			continue
		}
		res.RecoveredCarts = append(res.RecoveredCarts, cart.ID)
		s.addConversion(ctx, cart.ID, order, now)
	}

	for _, code := range order.CouponCodes {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code == "" {
			continue
		}
		used, err := s.repo.MarkCouponUsed(ctx, code, order.ID)
		if err != nil {
			return nil, err
		}
		if used {
			res.CouponsUsed = append(res.CouponsUsed, code)
		}
	}

	if len(res.RecoveredCarts) > 0 || len(res.CouponsUsed) > 0 {
		slog.Info("Carts.HandleOrder: order matched", "orderID", order.ID,
			"recovered", len(res.RecoveredCarts), "coupons_used", len(res.CouponsUsed))
	}
	return res, nil
}

func (s *Service) matchingCarts(ctx context.Context, order *models.Order, countryCode string) ([]models.AbandonedCart, error) {
	var carts []models.AbandonedCart
	if order.Phone != "" {
		if phone, err := util.CanonicalizePhone(order.Phone, countryCode); err == nil {
			byPhone, err := s.repo.ActiveCartsByPhone(ctx, phone)
			if err != nil {
				return nil, err
			}
			carts = append(carts, byPhone...)
		}
	}
	if order.CartToken != "" {
		cart, err := s.repo.GetCartByToken(ctx, order.CartToken)
		if err != nil {
			return nil, err
		}
		if cart != nil && cart.IsActive() && !slices.ContainsFunc(carts, func(c models.AbandonedCart) bool { return c.ID == cart.ID }) {
			carts = append(carts, *cart)
		}
	}
	return carts, nil
}

// addConversion records a conversion attributed to the last clicked message.
func (s *Service) addConversion(ctx context.Context, cartID string, order *models.Order, now time.Time) {
	slot := 0
	if events, err := s.repo.ListEvents(ctx, cartID); err == nil {
		for _, e := range events {
			if e.Kind == models.EventClick && e.MessageIndex > 0 {
				slot = e.MessageIndex
			}
		}
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"order_id": order.ID,
		"total":    order.Total,
		"currency": order.Currency,
	})
	err := s.repo.AddEvent(ctx, &models.TrackingEvent{
		CartID:       cartID,
		MessageIndex: slot,
		Kind:         models.EventConversion,
		Payload:      string(payload),
		CreatedAt:    now,
	})
	if err != nil {
		slog.Error("Carts.addConversion: event not recorded", "error", err, "cartID", cartID)
	}
}
