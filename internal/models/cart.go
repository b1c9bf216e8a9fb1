package models

import (
	"fmt"
	"strings"
	"time"
)

// MessageSlotCount is the number of progressive recovery messages per cart.
const MessageSlotCount = 3

// CartStatus is the lifecycle state of an abandoned cart.
type CartStatus string

const (
	// CartStatusActive carts are eligible for recovery messages.
	CartStatusActive CartStatus = "active"
	// CartStatusRecovered carts were converted into an order.
	CartStatusRecovered CartStatus = "recovered"
)

// IsValid reports whether the status is one of the known lifecycle states.
func (s CartStatus) IsValid() bool {
	return s == CartStatusActive || s == CartStatusRecovered
}

// SentFlags records which of the three recovery messages were sent.
// Positions only ever flip from false to true.
type SentFlags [MessageSlotCount]bool

// ParseSentFlags parses the "0,1,0" storage form.
func ParseSentFlags(s string) (SentFlags, error) {
	var f SentFlags
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != MessageSlotCount {
		return f, fmt.Errorf("%w: %q", ErrInvalidSentFlags, s)
	}
	for i, p := range parts {
		switch strings.TrimSpace(p) {
		case "0":
		case "1":
			f[i] = true
		default:
			return SentFlags{}, fmt.Errorf("%w: %q", ErrInvalidSentFlags, s)
		}
	}
	return f, nil
}

// String renders the flags in their storage form.
func (f SentFlags) String() string {
	parts := make([]string, MessageSlotCount)
	for i, sent := range f {
		if sent {
			parts[i] = "1"
		} else {
			parts[i] = "0"
		}
	}
	return strings.Join(parts, ",")
}

// IsSent reports whether the 1-based slot has been sent.
func (f SentFlags) IsSent(slot int) bool {
	if slot < 1 || slot > MessageSlotCount {
		return false
	}
	return f[slot-1]
}

// With returns a copy with the 1-based slot marked as sent.
func (f SentFlags) With(slot int) (SentFlags, error) {
	if slot < 1 || slot > MessageSlotCount {
		return f, ErrInvalidSlot
	}
	f[slot-1] = true
	return f, nil
}

// MarshalText implements encoding.TextMarshaler so the flags travel as "1,0,0" in JSON.
func (f SentFlags) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *SentFlags) UnmarshalText(b []byte) error {
	parsed, err := ParseSentFlags(string(b))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// LineItem is one product line of a captured cart.
type LineItem struct {
	ProductID   int64   `json:"product_id"`
	VariationID int64   `json:"variation_id,omitempty"`
	Name        string  `json:"name"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
}

// Subtotal returns price times quantity.
func (li LineItem) Subtotal() float64 {
	return li.Price * float64(li.Quantity)
}

// Validate checks that the line item can be restored later.
func (li LineItem) Validate() error {
	if li.ProductID <= 0 {
		return ErrMissingProductID
	}
	if li.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	return nil
}

// CartTotal sums the line subtotals.
func CartTotal(items []LineItem) float64 {
	var total float64
	for _, li := range items {
		total += li.Subtotal()
	}
	return total
}

// AbandonedCart is an in-progress checkout captured from the storefront.
type AbandonedCart struct {
	ID            string     `json:"id"`
	SessionID     string     `json:"session_id,omitempty"`
	UserID        string     `json:"user_id,omitempty"`
	FirstName     string     `json:"first_name,omitempty"`
	LastName      string     `json:"last_name,omitempty"`
	Phone         string     `json:"phone,omitempty"`
	Email         string     `json:"email,omitempty"`
	Address1      string     `json:"address_1,omitempty"`
	Address2      string     `json:"address_2,omitempty"`
	City          string     `json:"city,omitempty"`
	State         string     `json:"state,omitempty"`
	Postcode      string     `json:"postcode,omitempty"`
	Country       string     `json:"country,omitempty"`
	Items         []LineItem `json:"items"`
	Total         float64    `json:"total"`
	Currency      string     `json:"currency,omitempty"`
	Status        CartStatus `json:"status"`
	MessagesSent  SentFlags  `json:"messages_sent"`
	RecoveryToken string     `json:"recovery_token"`
	OrderID       string     `json:"order_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	RecoveredAt   *time.Time `json:"recovered_at,omitempty"`
}

// FullName joins first and last name.
func (c *AbandonedCart) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// Address renders the postal address on one line, skipping empty parts.
func (c *AbandonedCart) Address() string {
	var parts []string
	for _, p := range []string{c.Address1, c.Address2, c.City, c.State, c.Postcode, c.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// ItemQuantity returns the number of units across all lines.
func (c *AbandonedCart) ItemQuantity() int {
	n := 0
	for _, li := range c.Items {
		n += li.Quantity
	}
	return n
}

// IsActive reports whether the cart can still receive messages and be restored.
func (c *AbandonedCart) IsActive() bool {
	return c.Status == CartStatusActive
}
