package models

import "time"

// DiscountType mirrors the WooCommerce coupon discount types CartPipe issues.
type DiscountType string

const (
	DiscountPercent   DiscountType = "percent"
	DiscountFixedCart DiscountType = "fixed_cart"
)

// IsValid reports whether the discount type is supported.
func (d DiscountType) IsValid() bool {
	return d == DiscountPercent || d == DiscountFixedCart
}

// GeneratedCoupon is a single-cart discount coupon created for a recovery message.
type GeneratedCoupon struct {
	ID           string       `json:"id"`
	Code         string       `json:"code"`
	CartID       string       `json:"cart_id"`
	OrderID      string       `json:"order_id,omitempty"`
	DiscountType DiscountType `json:"discount_type"`
	Amount       float64      `json:"amount"`
	UsageLimit   int          `json:"usage_limit"`
	Used         bool         `json:"used"`
	RemoteID     int64        `json:"remote_id,omitempty"`
	ExpiresAt    time.Time    `json:"expires_at"`
	CreatedAt    time.Time    `json:"created_at"`
}

// IsExpired reports whether the coupon can no longer be redeemed at now.
func (c *GeneratedCoupon) IsExpired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}
