package carts

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/BTreeMap/CartPipe/internal/models"
	"github.com/BTreeMap/CartPipe/internal/woocommerce"
)

// NoticeParam is added to the storefront URL when a link was already used.
const NoticeParam = "cartpipe_notice"

// RestoreResult describes a processed recovery link.
type RestoreResult struct {
	CartID           string `json:"cart_id"`
	RedirectURL      string `json:"redirect_url"`
	AlreadyRecovered bool   `json:"already_recovered"`
	Restored         int    `json:"restored"`
	Skipped          int    `json:"skipped"`
	Coupon           string `json:"coupon,omitempty"`
}

// Restore handles a recovery link click for the cart owning token.
// messageIndex is the slot the link was sent in, 0 when unknown.
func (s *Service) Restore(ctx context.Context, token string, messageIndex int) (*RestoreResult, error) {
	cart, err := s.repo.GetCartByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, ErrInvalidToken
	}

	if !cart.IsActive() {
		slog.Info("Carts.Restore: cart already recovered", "cartID", cart.ID)
		return &RestoreResult{
			CartID:           cart.ID,
			AlreadyRecovered: true,
			RedirectURL:      s.storefront.StoreURL() + "/cart/?" + NoticeParam + "=already_recovered",
		}, nil
	}

	now := s.now()
	if messageIndex < 0 || messageIndex > models.MessageSlotCount {
		messageIndex = 0
	}
	payload, _ := json.Marshal(map[string]int{"items": len(cart.Items)})
	if err := s.repo.AddEvent(ctx, &models.TrackingEvent{
		CartID:       cart.ID,
		MessageIndex: messageIndex,
		Kind:         models.EventClick,
		Payload:      string(payload),
		CreatedAt:    now,
	}); err != nil {
		slog.Error("Carts.Restore: click not recorded", "error", err, "cartID", cart.ID)
	}

	res := &RestoreResult{CartID: cart.ID}
	items := make([]woocommerce.LinkItem, 0, len(cart.Items))
	for _, li := range cart.Items {
		id := li.ProductID
		if li.VariationID > 0 {
			id = li.VariationID
		}
		p, err := s.storefront.Product(ctx, id)
		if err != nil {
			// The checkout link validates items again, so keep the line.
			slog.Warn("Carts.Restore: product lookup failed", "error", err, "productID", id)
		} else if !p.Available() {
			slog.Debug("Carts.Restore: product missing or out of stock", "productID", id)
			res.Skipped++
			continue
		}
		items = append(items, woocommerce.LinkItem{ID: id, Quantity: li.Quantity})
		res.Restored++
	}

	coupon, err := s.repo.LatestUnusedCoupon(ctx, cart.ID, now)
	if err != nil {
		return nil, err
	}
	if coupon != nil {
		res.Coupon = coupon.Code
	}

	res.RedirectURL = s.storefront.RestoreLink(items, res.Coupon, woocommerce.Billing{
		FirstName: cart.FirstName,
		LastName:  cart.LastName,
		Phone:     cart.Phone,
		Email:     cart.Email,
		Address1:  cart.Address1,
		Address2:  cart.Address2,
		City:      cart.City,
		State:     cart.State,
		Postcode:  cart.Postcode,
		Country:   cart.Country,
	})
	slog.Info("Carts.Restore: cart restored", "cartID", cart.ID, "restored", res.Restored, "skipped", res.Skipped)
	return res, nil
}
