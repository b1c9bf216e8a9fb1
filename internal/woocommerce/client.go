// Package woocommerce talks to the storefront CartPipe serves.
//
// Coupons are managed through the authenticated REST API v3 (consumer key and
// secret over Basic Auth). Product availability is read from the public Store
// API. Carts are rebuilt in the shopper's browser through WooCommerce's
// shareable checkout links, so no server-side session is needed.
package woocommerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/CartPipe/internal/transport"
)

const (
	// storeAPIPath is the base path for WooCommerce Store API endpoints.
	storeAPIPath = "/wp-json/wc/store/v1"
	// restAPIPath is the base path for the authenticated REST API.
	restAPIPath = "/wp-json/wc/v3"

	// userAgent identifies this client to the storefront. Some CDNs reject requests without one.
	userAgent = "CartPipe/1.0"

	// wooTimeLayout is the local-time format WooCommerce uses for date fields.
	wooTimeLayout = "2006-01-02T15:04:05"
)

var (
	ErrNotConfigured  = errors.New("woocommerce REST credentials are not configured")
	ErrNotFound       = errors.New("not found")
	ErrUnauthorized   = errors.New("woocommerce authentication failed")
	ErrInvalidRequest = errors.New("invalid request")
	ErrRateLimited    = errors.New("rate limited by woocommerce")
	ErrUpstream       = errors.New("woocommerce upstream error")
)

// Config holds the storefront connection settings.
type Config struct {
	StoreURL       string
	ConsumerKey    string
	ConsumerSecret string
	// ChromeTLS enables the browser-fingerprint transport.
	ChromeTLS  bool
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client is a WooCommerce REST and Store API client.
type Client struct {
	httpClient     *http.Client
	storeURL       string
	consumerKey    string
	consumerSecret string
}

// New creates a WooCommerce client with the given configuration.
func New(cfg Config) (*Client, error) {
	if cfg.StoreURL == "" {
		return nil, fmt.Errorf("store URL is required")
	}
	if _, err := url.Parse(cfg.StoreURL); err != nil {
		return nil, fmt.Errorf("invalid store URL: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = transport.NewHTTPClient(cfg.Timeout, cfg.ChromeTLS)
	}
	return &Client{
		httpClient:     httpClient,
		storeURL:       strings.TrimSuffix(cfg.StoreURL, "/"),
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,
	}, nil
}

// StoreURL returns the storefront base URL without a trailing slash.
func (c *Client) StoreURL() string {
	return c.storeURL
}

// HasRESTCredentials reports whether coupon management is available.
func (c *Client) HasRESTCredentials() bool {
	return c.consumerKey != "" && c.consumerSecret != ""
}

// CouponRequest is the body of a coupon creation call.
type CouponRequest struct {
	Code          string   `json:"code"`
	DiscountType  string   `json:"discount_type"`
	Amount        string   `json:"amount"`
	IndividualUse bool     `json:"individual_use"`
	UsageLimit    int      `json:"usage_limit,omitempty"`
	DateExpires   string   `json:"date_expires,omitempty"`
	Description   string   `json:"description,omitempty"`
	MetaData      []MetaKV `json:"meta_data,omitempty"`
}

// MetaKV is a WooCommerce meta_data entry.
type MetaKV struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Coupon is the part of a WooCommerce coupon CartPipe reads back.
type Coupon struct {
	ID           int64  `json:"id"`
	Code         string `json:"code"`
	DiscountType string `json:"discount_type"`
	Amount       string `json:"amount"`
	UsageCount   int    `json:"usage_count"`
}

// NewCouponRequest builds a coupon request. Amount is formatted with two decimals.
func NewCouponRequest(code, discountType string, amount float64, usageLimit int, expires time.Time, cartID string) CouponRequest {
	req := CouponRequest{
		Code:          code,
		DiscountType:  discountType,
		Amount:        strconv.FormatFloat(amount, 'f', 2, 64),
		IndividualUse: true,
		UsageLimit:    usageLimit,
		Description:   "Cart recovery coupon",
	}
	if !expires.IsZero() {
		req.DateExpires = expires.UTC().Format(wooTimeLayout)
	}
	if cartID != "" {
		req.MetaData = []MetaKV{{Key: "_cartpipe_cart_id", Value: cartID}}
	}
	return req
}

// CouponExists reports whether a coupon with code exists in the store.
func (c *Client) CouponExists(ctx context.Context, code string) (bool, error) {
	var coupons []Coupon
	q := url.Values{"code": {code}}
	if err := c.doREST(ctx, http.MethodGet, "/coupons?"+q.Encode(), nil, &coupons); err != nil {
		return false, err
	}
	for _, cp := range coupons {
		if strings.EqualFold(cp.Code, code) {
			return true, nil
		}
	}
	return false, nil
}

// CreateCoupon creates a coupon and returns the stored record.
func (c *Client) CreateCoupon(ctx context.Context, req CouponRequest) (*Coupon, error) {
	var created Coupon
	if err := c.doREST(ctx, http.MethodPost, "/coupons", req, &created); err != nil {
		return nil, err
	}
	slog.Debug("woocommerce.CreateCoupon succeeded", "code", created.Code, "id", created.ID)
	return &created, nil
}

// DeleteCoupon permanently deletes a coupon. A coupon that no longer exists is not an error.
func (c *Client) DeleteCoupon(ctx context.Context, id int64) error {
	err := c.doREST(ctx, http.MethodDelete, fmt.Sprintf("/coupons/%d?force=true", id), nil, nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// Product is the Store API view of a product.
type Product struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	IsPurchasable bool   `json:"is_purchasable"`
	IsInStock     bool   `json:"is_in_stock"`
}

// Available reports whether the product can be added to a cart.
func (p *Product) Available() bool {
	return p != nil && p.IsPurchasable && p.IsInStock
}

// Product fetches a product by ID from the Store API. It returns (nil, nil)
// when the product does not exist.
func (c *Client) Product(ctx context.Context, id int64) (*Product, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s%s/products/%d", c.storeURL, storeAPIPath, id), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	setStoreAPIHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode >= 400 {
		return nil, parseErrorResponse(resp.StatusCode, body)
	}

	var p Product
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("parsing product: %w", err)
	}
	return &p, nil
}

// doREST executes an authenticated REST v3 request and decodes the JSON answer into out.
func (c *Client) doREST(ctx context.Context, method, path string, body, out interface{}) error {
	if !c.HasRESTCredentials() {
		return ErrNotConfigured
	}

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.storeURL+restAPIPath+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.SetBasicAuth(c.consumerKey, c.consumerSecret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("woocommerce REST request failed", "method", method, "path", path, "error", err)
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, respBody)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// setStoreAPIHeaders sets headers for public Store API requests.
// Unlike REST API v3, Store API does not use Basic Auth.
func setStoreAPIHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
}

// errorResponse is the WooCommerce error body.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// parseErrorResponse maps a WooCommerce error status to a package error.
func parseErrorResponse(statusCode int, body []byte) error {
	var wcErr errorResponse
	json.Unmarshal(body, &wcErr) // Best effort parse

	switch statusCode {
	case 404:
		return ErrNotFound
	case 401, 403:
		return ErrUnauthorized
	case 400:
		msg := wcErr.Message
		if msg == "" {
			msg = "invalid request"
		}
		return fmt.Errorf("%w: %s", ErrInvalidRequest, msg)
	case 429:
		return ErrRateLimited
	default:
		return fmt.Errorf("%w: status %d: %s - %s", ErrUpstream, statusCode, wcErr.Code, wcErr.Message)
	}
}
