package woocommerce

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/BTreeMap/CartPipe/internal/models"
)

// Webhook request headers.
const (
	HeaderTopic      = "X-WC-Webhook-Topic"
	HeaderSignature  = "X-WC-Webhook-Signature"
	HeaderDeliveryID = "X-WC-Webhook-Delivery-ID"
)

// Order topics CartPipe subscribes to.
const (
	TopicOrderCreated = "order.created"
	TopicOrderUpdated = "order.updated"
)

// CartTokenMetaKey is the order meta key the storefront stores the recovery token under.
const CartTokenMetaKey = "_cartpipe_token"

// ErrInvalidSignature is returned when a webhook body does not match its signature.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Sign returns the base64 HMAC-SHA256 of body, as WooCommerce sends it.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the X-WC-Webhook-Signature value for body.
func VerifySignature(body []byte, secret, signature string) error {
	if secret == "" || signature == "" {
		return ErrInvalidSignature
	}
	if !hmac.Equal([]byte(Sign(body, secret)), []byte(strings.TrimSpace(signature))) {
		return ErrInvalidSignature
	}
	return nil
}

// IsPing reports whether body is the form-encoded ping WooCommerce sends when
// a webhook is saved.
func IsPing(body []byte) bool {
	return bytes.HasPrefix(bytes.TrimSpace(body), []byte("webhook_id="))
}

type webhookOrder struct {
	ID       json.Number `json:"id"`
	Number   string      `json:"number"`
	Status   string      `json:"status"`
	Total    json.Number `json:"total"`
	Currency string      `json:"currency"`
	Billing  struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Phone     string `json:"phone"`
		Email     string `json:"email"`
	} `json:"billing"`
	CouponLines []struct {
		Code string `json:"code"`
	} `json:"coupon_lines"`
	MetaData []struct {
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	} `json:"meta_data"`
}

// ParseOrder decodes a WooCommerce order webhook body.
func ParseOrder(body []byte) (*models.Order, error) {
	var wo webhookOrder
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&wo); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if wo.ID.String() == "" || wo.ID.String() == "0" {
		return nil, fmt.Errorf("%w: order id missing", ErrInvalidRequest)
	}

	o := &models.Order{
		ID:        wo.ID.String(),
		Number:    wo.Number,
		Status:    wo.Status,
		Currency:  wo.Currency,
		FirstName: wo.Billing.FirstName,
		LastName:  wo.Billing.LastName,
		Phone:     wo.Billing.Phone,
		Email:     strings.ToLower(strings.TrimSpace(wo.Billing.Email)),
	}
	if wo.Total != "" {
		total, err := strconv.ParseFloat(wo.Total.String(), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: total %q", ErrInvalidRequest, wo.Total)
		}
		o.Total = total
	}
	for _, cl := range wo.CouponLines {
		if cl.Code != "" {
			o.CouponCodes = append(o.CouponCodes, cl.Code)
		}
	}
	for _, m := range wo.MetaData {
		if m.Key != CartTokenMetaKey {
			continue
		}
		var token string
		if err := json.Unmarshal(m.Value, &token); err == nil {
			o.CartToken = token
		}
	}
	return o, nil
}
