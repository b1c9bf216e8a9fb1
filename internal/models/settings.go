package models

import (
	"errors"
	"fmt"
)

// DelayUnit is the time unit of a message slot delay.
type DelayUnit string

const (
	DelayMinutes DelayUnit = "minutes"
	DelayHours   DelayUnit = "hours"
	DelayDays    DelayUnit = "days"
)

// Provider names the outbound messaging channel.
type Provider string

const (
	ProviderVendor   Provider = "vendor"
	ProviderTwilio   Provider = "twilio"
	ProviderWhatsApp Provider = "whatsapp"
)

// Vendor API shapes.
const (
	VendorAPIv1 = "v1"
	VendorAPIv2 = "v2"
)

// Default settings values
const (
	DefaultSweepIntervalMinutes = 5
	DefaultCooldownMinutes      = 120
	DefaultCouponPrefix         = "CART"
	DefaultCouponAmount         = 10
	DefaultCouponExpiryDays     = 7
)

var (
	ErrInvalidDelay        = errors.New("message delay cannot be negative")
	ErrInvalidDelayUnit    = errors.New("delay unit must be minutes, hours or days")
	ErrInvalidProvider     = errors.New("provider must be vendor, twilio or whatsapp")
	ErrInvalidAPIVersion   = errors.New("vendor api_version must be v1 or v2")
	ErrInvalidDiscountType = errors.New("coupon discount type must be percent or fixed_cart")
	ErrInvalidAmount       = errors.New("coupon amount is out of range")
	ErrInvalidInterval     = errors.New("sweep interval must be at least one minute")
	ErrInvalidCooldown     = errors.New("cooldown cannot be negative")
)

// MessageSlot configures one of the three progressive recovery messages.
type MessageSlot struct {
	Enabled      bool      `json:"enabled"`
	Template     string    `json:"template"`
	Delay        int       `json:"delay"`
	DelayUnit    DelayUnit `json:"delay_unit"`
	AttachCoupon bool      `json:"attach_coupon"`
}

// DelayMinutes normalizes the slot delay to minutes.
func (m MessageSlot) DelayMinutes() int {
	switch m.DelayUnit {
	case DelayHours:
		return m.Delay * 60
	case DelayDays:
		return m.Delay * 60 * 24
	default:
		return m.Delay
	}
}

// VendorSettings holds the credentials of the fixed vendor messaging endpoint.
type VendorSettings struct {
	BaseURL     string `json:"base_url"`
	InstanceID  string `json:"instance_id"`
	AccessToken string `json:"access_token"`
	APIVersion  string `json:"api_version"`
}

// HasCredentials reports whether every field needed to call the vendor is set.
func (v VendorSettings) HasCredentials() bool {
	return v.BaseURL != "" && v.InstanceID != "" && v.AccessToken != ""
}

// CouponSettings configures coupons attached to recovery messages.
type CouponSettings struct {
	Prefix        string       `json:"prefix"`
	DiscountType  DiscountType `json:"discount_type"`
	Amount        float64      `json:"amount"`
	ExpiryDays    int          `json:"expiry_days"`
	UsageLimit    int          `json:"usage_limit"`
	MirrorToStore bool         `json:"mirror_to_store"`
}

// OrderNotificationSettings configures transactional order-status messages.
type OrderNotificationSettings struct {
	Enabled   bool              `json:"enabled"`
	Templates map[string]string `json:"templates"`
}

// Template returns the template for status, or "" when none is configured.
func (o OrderNotificationSettings) Template(status string) string {
	if o.Templates == nil {
		return ""
	}
	return o.Templates[status]
}

// Settings are the runtime options editable through the admin API.
type Settings struct {
	Enabled            bool                          `json:"enabled"`
	StoreName          string                        `json:"store_name"`
	StoreURL           string                        `json:"store_url"`
	CurrencySymbol     string                        `json:"currency_symbol"`
	Provider           Provider                      `json:"provider"`
	Vendor             VendorSettings                `json:"vendor"`
	DefaultCountryCode string                        `json:"default_country_code"`
	Messages           [MessageSlotCount]MessageSlot `json:"messages"`
	Coupon             CouponSettings                `json:"coupon"`
	SweepInterval      int                           `json:"sweep_interval_minutes"`
	CooldownMinutes    int                           `json:"cooldown_minutes"`
	OrderNotifications OrderNotificationSettings     `json:"order_notifications"`
}

// DefaultSettings returns the settings used before an admin saves any.
func DefaultSettings() Settings {
	return Settings{
		Enabled:        true,
		StoreName:      "Our Store",
		CurrencySymbol: "$",
		Provider:       ProviderVendor,
		Vendor:         VendorSettings{APIVersion: VendorAPIv1},
		Messages: [MessageSlotCount]MessageSlot{
			{
				Enabled:   true,
				Template:  "Hi {customer_name}, you left {cart_items} in your cart at {store_name}. Complete your order here: {recovery_link}",
				Delay:     60,
				DelayUnit: DelayMinutes,
			},
			{
				Enabled:   true,
				Template:  "Hi {customer_name}, your cart worth {currency_symbol}{cart_total} is still waiting for you: {recovery_link}",
				Delay:     24,
				DelayUnit: DelayHours,
			},
			{
				Enabled:      true,
				Template:     "Last chance {customer_name}! Use code {coupon_code} for {coupon_discount} off before {coupon_expiry}: {recovery_link}",
				Delay:        3,
				DelayUnit:    DelayDays,
				AttachCoupon: true,
			},
		},
		Coupon: CouponSettings{
			Prefix:        DefaultCouponPrefix,
			DiscountType:  DiscountPercent,
			Amount:        DefaultCouponAmount,
			ExpiryDays:    DefaultCouponExpiryDays,
			UsageLimit:    1,
			MirrorToStore: true,
		},
		SweepInterval:   DefaultSweepIntervalMinutes,
		CooldownMinutes: DefaultCooldownMinutes,
		OrderNotifications: OrderNotificationSettings{
			Enabled: false,
			Templates: map[string]string{
				OrderStatusProcessing: "Hi {customer_name}, we received your order #{order_id} ({currency_symbol}{order_total}). We'll let you know when it ships.",
				OrderStatusCompleted:  "Hi {customer_name}, your order #{order_id} is complete. Thank you for shopping at {store_name}!",
			},
		},
	}
}

// Slot returns the 1-based message slot configuration.
func (s *Settings) Slot(n int) (MessageSlot, error) {
	if n < 1 || n > MessageSlotCount {
		return MessageSlot{}, ErrInvalidSlot
	}
	return s.Messages[n-1], nil
}

// Validate checks the settings for values the sweep and sender cannot handle.
func (s *Settings) Validate() error {
	switch s.Provider {
	case ProviderVendor, ProviderTwilio, ProviderWhatsApp:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidProvider, s.Provider)
	}
	switch s.Vendor.APIVersion {
	case VendorAPIv1, VendorAPIv2:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAPIVersion, s.Vendor.APIVersion)
	}
	for i, m := range s.Messages {
		if m.Delay < 0 {
			return fmt.Errorf("message %d: %w", i+1, ErrInvalidDelay)
		}
		switch m.DelayUnit {
		case DelayMinutes, DelayHours, DelayDays:
		default:
			return fmt.Errorf("message %d: %w", i+1, ErrInvalidDelayUnit)
		}
	}
	if !s.Coupon.DiscountType.IsValid() {
		return ErrInvalidDiscountType
	}
	if s.Coupon.Amount < 0 || (s.Coupon.DiscountType == DiscountPercent && s.Coupon.Amount > 100) {
		return ErrInvalidAmount
	}
	if s.SweepInterval < 1 {
		return ErrInvalidInterval
	}
	if s.CooldownMinutes < 0 {
		return ErrInvalidCooldown
	}
	return nil
}
