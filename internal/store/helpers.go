package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/CartPipe/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const cartColumns = `id, session_id, user_id, first_name, last_name, phone, email,
	address_1, address_2, city, state, postcode, country, items_json, total, currency,
	status, messages_sent, recovery_token, order_id, created_at, updated_at, recovered_at`

// scanCart scans a cart row selected with cartColumns.
func scanCart(sc rowScanner) (models.AbandonedCart, error) {
	var c models.AbandonedCart
	var sessionID, userID, phone, email, orderID sql.NullString
	var itemsJSON, status, sent string
	var recoveredAt sql.NullTime
	err := sc.Scan(
		&c.ID, &sessionID, &userID, &c.FirstName, &c.LastName, &phone, &email,
		&c.Address1, &c.Address2, &c.City, &c.State, &c.Postcode, &c.Country, &itemsJSON, &c.Total, &c.Currency,
		&status, &sent, &c.RecoveryToken, &orderID, &c.CreatedAt, &c.UpdatedAt, &recoveredAt,
	)
	if err != nil {
		return c, err
	}
	c.SessionID = sessionID.String
	c.UserID = userID.String
	c.Phone = phone.String
	c.Email = email.String
	c.OrderID = orderID.String
	c.Status = models.CartStatus(status)
	if recoveredAt.Valid {
		t := recoveredAt.Time.UTC()
		c.RecoveredAt = &t
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	if err := json.Unmarshal([]byte(itemsJSON), &c.Items); err != nil {
		return c, fmt.Errorf("decode items of cart %s: %w", c.ID, err)
	}
	flags, err := models.ParseSentFlags(sent)
	if err != nil {
		return c, fmt.Errorf("cart %s: %w", c.ID, err)
	}
	c.MessagesSent = flags
	return c, nil
}

const couponColumns = `id, code, cart_id, order_id, discount_type, amount, usage_limit, used, remote_id, expires_at, created_at`

// scanCoupon scans a coupon row selected with couponColumns.
func scanCoupon(sc rowScanner) (models.GeneratedCoupon, error) {
	var c models.GeneratedCoupon
	var orderID sql.NullString
	var discountType string
	err := sc.Scan(
		&c.ID, &c.Code, &c.CartID, &orderID, &discountType, &c.Amount, &c.UsageLimit,
		&c.Used, &c.RemoteID, &c.ExpiresAt, &c.CreatedAt,
	)
	if err != nil {
		return c, err
	}
	c.OrderID = orderID.String
	c.DiscountType = models.DiscountType(discountType)
	c.ExpiresAt = c.ExpiresAt.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

const eventColumns = `id, cart_id, message_index, kind, payload, created_at`

// scanEvent scans a tracking event row selected with eventColumns.
func scanEvent(sc rowScanner) (models.TrackingEvent, error) {
	var e models.TrackingEvent
	var kind string
	var payload sql.NullString
	if err := sc.Scan(&e.ID, &e.CartID, &e.MessageIndex, &kind, &payload, &e.CreatedAt); err != nil {
		return e, err
	}
	e.Kind = models.EventKind(kind)
	e.Payload = payload.String
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

const jobColumns = `id, kind, run_at, payload_json, status, attempt, max_attempts, last_error, locked_at, dedupe_key, created_at, updated_at`

// scanJob scans a job row selected with jobColumns.
func scanJob(sc rowScanner) (Job, error) {
	var j Job
	var payloadJSON, lastError, dedupeKey sql.NullString
	var lockedAt sql.NullTime
	err := sc.Scan(
		&j.ID, &j.Kind, &j.RunAt, &payloadJSON, &j.Status, &j.Attempt, &j.MaxAttempts,
		&lastError, &lockedAt, &dedupeKey, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return j, err
	}
	j.PayloadJSON = payloadJSON.String
	j.LastError = lastError.String
	j.DedupeKey = dedupeKey.String
	if lockedAt.Valid {
		j.LockedAt = &lockedAt.Time
	}
	return j, nil
}
