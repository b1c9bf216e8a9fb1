package woocommerce

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{StoreURL: srv.URL + "/", ConsumerKey: "ck_test", ConsumerSecret: "cs_test", HTTPClient: srv.Client()})
	require.NoError(t, err)
	return c
}

func TestNewRequiresStoreURL(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestCouponExists(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/wp-json/wc/v3/coupons", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "ck_test", user)
		assert.Equal(t, "cs_test", pass)
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		if r.URL.Query().Get("code") == "CARTTAKEN" {
			w.Write([]byte(`[{"id":7,"code":"carttaken"}]`))
			return
		}
		w.Write([]byte(`[]`))
	})

	exists, err := c.CouponExists(context.Background(), "CARTTAKEN")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = c.CouponExists(context.Background(), "CARTFREE1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCreateCoupon(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req CouponRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "CARTAB12CD", req.Code)
		assert.Equal(t, "percent", req.DiscountType)
		assert.Equal(t, "10.00", req.Amount)
		assert.Equal(t, 1, req.UsageLimit)
		assert.Equal(t, "2026-01-08T10:00:00", req.DateExpires)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":99,"code":"cartab12cd","discount_type":"percent","amount":"10.00"}`))
	})

	expires := time.Date(2026, 1, 8, 10, 0, 0, 0, time.UTC)
	created, err := c.CreateCoupon(context.Background(), NewCouponRequest("CARTAB12CD", "percent", 10, 1, expires, "c_1"))
	require.NoError(t, err)
	assert.Equal(t, int64(99), created.ID)
}

func TestDeleteCouponIgnoresNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "true", r.URL.Query().Get("force"))
		if strings.HasSuffix(r.URL.Path, "/coupons/5") {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"code":"woocommerce_rest_invalid_id","message":"Invalid ID."}`))
			return
		}
		w.Write([]byte(`{"id":6}`))
	})
	assert.NoError(t, c.DeleteCoupon(context.Background(), 5))
	assert.NoError(t, c.DeleteCoupon(context.Background(), 6))
}

func TestRESTWithoutCredentials(t *testing.T) {
	c, err := New(Config{StoreURL: "http://shop.invalid"})
	require.NoError(t, err)
	_, err = c.CouponExists(context.Background(), "X")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestProduct(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _, hasAuth := r.BasicAuth()
		assert.False(t, hasAuth, "Store API must not send Basic Auth")
		switch r.URL.Path {
		case "/wp-json/wc/store/v1/products/10":
			w.Write([]byte(`{"id":10,"name":"Mug","is_purchasable":true,"is_in_stock":true}`))
		case "/wp-json/wc/store/v1/products/11":
			w.Write([]byte(`{"id":11,"name":"Hat","is_purchasable":true,"is_in_stock":false}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	p, err := c.Product(context.Background(), 10)
	require.NoError(t, err)
	assert.True(t, p.Available())

	p, err = c.Product(context.Background(), 11)
	require.NoError(t, err)
	assert.False(t, p.Available())

	p, err = c.Product(context.Background(), 12)
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.False(t, p.Available())
}

func TestParseErrorResponse(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{404, ErrNotFound},
		{401, ErrUnauthorized},
		{403, ErrUnauthorized},
		{400, ErrInvalidRequest},
		{429, ErrRateLimited},
		{502, ErrUpstream},
	}
	for _, tt := range tests {
		err := parseErrorResponse(tt.status, []byte(`{"code":"x","message":"y"}`))
		assert.True(t, errors.Is(err, tt.want), "status %d: got %v", tt.status, err)
	}
}

func TestRestoreLink(t *testing.T) {
	c, err := New(Config{StoreURL: "https://shop.example.com/"})
	require.NoError(t, err)

	assert.Equal(t, "https://shop.example.com/checkout/", c.RestoreLink(nil, "", Billing{}))
	assert.Equal(t,
		"https://shop.example.com/checkout/?coupon=CART7&billing_first_name=Ada&billing_phone=15550100200",
		c.RestoreLink(nil, "CART7", Billing{FirstName: "Ada", Phone: "15550100200"}))

	link := c.RestoreLink(
		[]LinkItem{{ID: 10, Quantity: 2}, {ID: 31, Quantity: 1}},
		"CART ABC",
		Billing{FirstName: "Ada", Email: "ada@example.com"},
	)
	assert.Equal(t,
		"https://shop.example.com/checkout-link/?products=10:2,31:1&coupon=CART+ABC&billing_first_name=Ada&billing_email=ada%40example.com",
		link)
}
