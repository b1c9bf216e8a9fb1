package models

import "time"

// EventKind classifies tracking events.
type EventKind string

const (
	EventSent       EventKind = "sent"
	EventClick      EventKind = "click"
	EventConversion EventKind = "conversion"
)

// TrackingEvent is an append-only audit record used for dashboard aggregation.
// MessageIndex is the 1-based slot, or 0 for events not tied to a message.
type TrackingEvent struct {
	ID           string    `json:"id"`
	CartID       string    `json:"cart_id"`
	MessageIndex int       `json:"message_index"`
	Kind         EventKind `json:"kind"`
	Payload      string    `json:"payload,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Stats is the dashboard aggregation.
type Stats struct {
	TotalCarts       int64         `json:"total_carts"`
	ActiveCarts      int64         `json:"active_carts"`
	RecoveredCarts   int64         `json:"recovered_carts"`
	RecoveryRate     float64       `json:"recovery_rate"`
	RecoveredRevenue float64       `json:"recovered_revenue"`
	MessagesSent     int64         `json:"messages_sent"`
	Clicks           int64         `json:"clicks"`
	Conversions      int64         `json:"conversions"`
	SentBySlot       map[int]int64 `json:"sent_by_slot"`
	CouponsIssued    int64         `json:"coupons_issued"`
	CouponsUsed      int64         `json:"coupons_used"`
}
