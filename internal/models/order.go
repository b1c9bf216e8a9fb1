package models

import "strings"

// Order status values used by WooCommerce.
const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusOnHold     = "on-hold"
	OrderStatusCompleted  = "completed"
	OrderStatusCancelled  = "cancelled"
	OrderStatusRefunded   = "refunded"
	OrderStatusFailed     = "failed"
)

// OrderStatuses lists every status an order notification template can target.
var OrderStatuses = []string{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusOnHold,
	OrderStatusCompleted,
	OrderStatusCancelled,
	OrderStatusRefunded,
	OrderStatusFailed,
}

// Order is the part of a WooCommerce order CartPipe consumes.
type Order struct {
	ID          string   `json:"id"`
	Number      string   `json:"number,omitempty"`
	Status      string   `json:"status"`
	Total       float64  `json:"total"`
	Currency    string   `json:"currency,omitempty"`
	FirstName   string   `json:"first_name,omitempty"`
	LastName    string   `json:"last_name,omitempty"`
	Phone       string   `json:"phone,omitempty"`
	Email       string   `json:"email,omitempty"`
	CouponCodes []string `json:"coupon_codes,omitempty"`
	CartToken   string   `json:"cart_token,omitempty"`
}

// DisplayNumber returns the customer-facing order number.
func (o *Order) DisplayNumber() string {
	if o.Number != "" {
		return o.Number
	}
	return o.ID
}

// FullName joins first and last billing name.
func (o *Order) FullName() string {
	return strings.TrimSpace(o.FirstName + " " + o.LastName)
}

// IsPlaced reports whether the status means the customer completed checkout.
func (o *Order) IsPlaced() bool {
	switch o.Status {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusOnHold, OrderStatusCompleted:
		return true
	}
	return false
}
