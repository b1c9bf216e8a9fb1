package carts

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/CartPipe/internal/models"
	"github.com/BTreeMap/CartPipe/internal/store"
	"github.com/BTreeMap/CartPipe/internal/util"
	"github.com/BTreeMap/CartPipe/internal/woocommerce"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSettings struct{ s models.Settings }

func (s staticSettings) Load(ctx context.Context) (models.Settings, error) { return s.s, nil }

type fakeStorefront struct {
	products map[int64]*woocommerce.Product
	err      error
	client   *woocommerce.Client
}

func newFakeStorefront(t *testing.T) *fakeStorefront {
	t.Helper()
	c, err := woocommerce.New(woocommerce.Config{StoreURL: "https://shop.example.com"})
	require.NoError(t, err)
	return &fakeStorefront{products: map[int64]*woocommerce.Product{}, client: c}
}

func (f *fakeStorefront) Product(ctx context.Context, id int64) (*woocommerce.Product, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.products[id], nil
}

func (f *fakeStorefront) RestoreLink(items []woocommerce.LinkItem, coupon string, billing woocommerce.Billing) string {
	return f.client.RestoreLink(items, coupon, billing)
}

func (f *fakeStorefront) StoreURL() string { return f.client.StoreURL() }

func (f *fakeStorefront) stock(id int64, inStock bool) {
	f.products[id] = &woocommerce.Product{ID: id, IsPurchasable: true, IsInStock: inStock}
}

type fixture struct {
	store      *store.SQLiteStore
	storefront *fakeStorefront
	svc        *Service
	clock      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.NewSQLiteStore(store.WithSQLiteDSN(filepath.Join(t.TempDir(), "carts.db")))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	settings := models.DefaultSettings()
	settings.DefaultCountryCode = "44"
	f := &fixture{store: st, storefront: newFakeStorefront(t), clock: time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)}
	f.svc = NewService(st, f.storefront, staticSettings{s: settings})
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func captureReq() CaptureRequest {
	return CaptureRequest{
		SessionID: "sess-1",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Phone:     "07700 900123",
		Email:     " Ada@Example.com ",
		City:      "London",
		Currency:  "GBP",
		Items: []models.LineItem{
			{ProductID: 10, Name: "Green Tea", Quantity: 2, Price: 4.5},
			{ProductID: 20, VariationID: 21, Name: "Teapot - Blue", Quantity: 1, Price: 30},
		},
	}
}

func TestCaptureCreatesCart(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Capture(context.Background(), captureReq())
	require.NoError(t, err)
	assert.True(t, res.Created)

	c := res.Cart
	assert.Equal(t, "447700900123", c.Phone)
	assert.Equal(t, "ada@example.com", c.Email)
	assert.Equal(t, 39.0, c.Total)
	assert.Equal(t, models.CartStatusActive, c.Status)
	assert.Equal(t, "0,0,0", c.MessagesSent.String())
	assert.NotEmpty(t, c.RecoveryToken)
	assert.True(t, strings.HasPrefix(c.ID, "c_"))
}

func TestCaptureDeduplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.Capture(ctx, captureReq())
	require.NoError(t, err)

	// Identical resubmission does not write.
	f.clock = f.clock.Add(time.Minute)
	again, err := f.svc.Capture(ctx, captureReq())
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.False(t, again.Updated)
	stored, err := f.store.GetCart(ctx, first.Cart.ID)
	require.NoError(t, err)
	assert.True(t, first.Cart.UpdatedAt.Equal(stored.UpdatedAt))

	// Changed items update the same cart, keeping creation time and token.
	req := captureReq()
	req.Items = []models.LineItem{{ProductID: 10, Name: "Green Tea", Quantity: 5, Price: 4.5}}
	f.clock = f.clock.Add(time.Minute)
	upd, err := f.svc.Capture(ctx, req)
	require.NoError(t, err)
	assert.True(t, upd.Updated)
	assert.Equal(t, first.Cart.ID, upd.Cart.ID)

	stored, err = f.store.GetCart(ctx, first.Cart.ID)
	require.NoError(t, err)
	assert.Equal(t, 22.5, stored.Total)
	assert.Equal(t, first.Cart.RecoveryToken, stored.RecoveryToken)
	assert.True(t, stored.CreatedAt.Equal(first.Cart.CreatedAt))
	assert.True(t, stored.UpdatedAt.Equal(f.clock))

	// Matching by email when the phone is absent.
	byEmail := CaptureRequest{Email: "ada@example.com", LastName: "King"}
	res, err := f.svc.Capture(ctx, byEmail)
	require.NoError(t, err)
	assert.Equal(t, first.Cart.ID, res.Cart.ID)
	assert.Equal(t, "447700900123", res.Cart.Phone, "empty fields keep stored values")
	assert.Equal(t, "King", res.Cart.LastName)
}

func TestCaptureValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Capture(ctx, CaptureRequest{FirstName: "Nobody"})
	assert.ErrorIs(t, err, models.ErrEmptyContact)

	_, err = f.svc.Capture(ctx, CaptureRequest{Phone: "12"})
	assert.ErrorIs(t, err, util.ErrInvalidPhone)

	_, err = f.svc.Capture(ctx, CaptureRequest{Email: "not-an-email"})
	assert.ErrorIs(t, err, ErrInvalidEmail)

	_, err = f.svc.Capture(ctx, CaptureRequest{Email: "a@b.co", Items: []models.LineItem{{ProductID: 1, Quantity: 0}}})
	assert.ErrorIs(t, err, models.ErrInvalidQuantity)
}

func TestCaptureManyShoppers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		req := CaptureRequest{
			FirstName: gofakeit.FirstName(),
			Email:     fmt.Sprintf("shopper%d@example.com", i),
			Phone:     fmt.Sprintf("+1555%07d", i),
			Items:     []models.LineItem{{ProductID: int64(gofakeit.IntRange(1, 500)), Name: gofakeit.ProductName(), Quantity: 1, Price: 9.99}},
		}
		res, err := f.svc.Capture(ctx, req)
		require.NoError(t, err)
		assert.True(t, res.Created)
	}
	active, err := f.store.ListCartsByStatus(ctx, models.CartStatusActive, 0)
	require.NoError(t, err)
	assert.Len(t, active, 10)
}

func TestHandleOrderRecoversByPhoneAndToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	byPhone, err := f.svc.Capture(ctx, captureReq())
	require.NoError(t, err)
	byToken, err := f.svc.Capture(ctx, CaptureRequest{Email: "other@example.com", Phone: "+1 555 000 1111"})
	require.NoError(t, err)
	untouched, err := f.svc.Capture(ctx, CaptureRequest{Email: "third@example.com"})
	require.NoError(t, err)

	require.NoError(t, f.store.CreateCoupon(ctx, &models.GeneratedCoupon{Code: "CARTAB12CD", CartID: byPhone.Cart.ID,
		DiscountType: models.DiscountPercent, Amount: 10, ExpiresAt: f.clock.Add(24 * time.Hour)}))

	order := &models.Order{
		ID:          "1001",
		Status:      models.OrderStatusProcessing,
		Total:       39,
		Phone:       "+44 7700 900123",
		CartToken:   byToken.Cart.RecoveryToken,
		CouponCodes: []string{"cartab12cd"},
	}
	res, err := f.svc.HandleOrder(ctx, order)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{byPhone.Cart.ID, byToken.Cart.ID}, res.RecoveredCarts)
	assert.Equal(t, []string{"CARTAB12CD"}, res.CouponsUsed)

	for _, id := range []string{byPhone.Cart.ID, byToken.Cart.ID} {
		c, err := f.store.GetCart(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.CartStatusRecovered, c.Status)
		assert.Equal(t, "1001", c.OrderID)
		events, err := f.store.ListEvents(ctx, id)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, models.EventConversion, events[0].Kind)
	}
	c, err := f.store.GetCart(ctx, untouched.Cart.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CartStatusActive, c.Status)

	// Replaying the webhook recovers nothing new.
	res, err = f.svc.HandleOrder(ctx, order)
	require.NoError(t, err)
	assert.Empty(t, res.RecoveredCarts)
	assert.Empty(t, res.CouponsUsed)
}

func TestHandleOrderIgnoresUnplacedOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cart, err := f.svc.Capture(ctx, captureReq())
	require.NoError(t, err)

	res, err := f.svc.HandleOrder(ctx, &models.Order{ID: "9", Status: models.OrderStatusFailed, Phone: "07700900123"})
	require.NoError(t, err)
	assert.Empty(t, res.RecoveredCarts)

	c, err := f.store.GetCart(ctx, cart.Cart.ID)
	require.NoError(t, err)
	assert.True(t, c.IsActive())
}

func TestRestore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	captured, err := f.svc.Capture(ctx, captureReq())
	require.NoError(t, err)
	token := captured.Cart.RecoveryToken

	f.storefront.stock(10, true)
	f.storefront.stock(21, false)
	require.NoError(t, f.store.CreateCoupon(ctx, &models.GeneratedCoupon{Code: "CARTXYZ123", CartID: captured.Cart.ID,
		DiscountType: models.DiscountPercent, Amount: 10, ExpiresAt: f.clock.Add(48 * time.Hour)}))

	res, err := f.svc.Restore(ctx, token, 2)
	require.NoError(t, err)
	assert.False(t, res.AlreadyRecovered)
	assert.Equal(t, 1, res.Restored)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, "CARTXYZ123", res.Coupon)
	assert.True(t, strings.HasPrefix(res.RedirectURL, "https://shop.example.com/checkout-link/?products=10:2&coupon=CARTXYZ123"))
	assert.Contains(t, res.RedirectURL, "billing_phone=447700900123")

	events, err := f.store.ListEvents(ctx, captured.Cart.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventClick, events[0].Kind)
	assert.Equal(t, 2, events[0].MessageIndex)

	// The order placed through the link attributes the conversion to message 2.
	f.clock = f.clock.Add(10 * time.Minute)
	_, err = f.svc.HandleOrder(ctx, &models.Order{ID: "77", Status: models.OrderStatusProcessing, CartToken: token})
	require.NoError(t, err)
	events, err = f.store.ListEvents(ctx, captured.Cart.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventConversion, events[1].Kind)
	assert.Equal(t, 2, events[1].MessageIndex)

	// A second use of the link does not restore again.
	again, err := f.svc.Restore(ctx, token, 2)
	require.NoError(t, err)
	assert.True(t, again.AlreadyRecovered)
	assert.Zero(t, again.Restored)
	assert.Equal(t, "https://shop.example.com/cart/?cartpipe_notice=already_recovered", again.RedirectURL)
}

func TestRestoreUnknownToken(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Restore(context.Background(), "nope", 1)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = f.svc.Restore(context.Background(), "", 1)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRestoreKeepsItemsWhenLookupFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	captured, err := f.svc.Capture(ctx, captureReq())
	require.NoError(t, err)

	f.storefront.err = errors.New("store unreachable")
	res, err := f.svc.Restore(ctx, captured.Cart.RecoveryToken, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Restored)
	assert.Contains(t, res.RedirectURL, "products=10:2,21:1")
}

func TestRestoreAllItemsUnavailableKeepsCouponAndBilling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	captured, err := f.svc.Capture(ctx, captureReq())
	require.NoError(t, err)

	f.storefront.stock(10, false)
	f.storefront.stock(21, false)
	require.NoError(t, f.store.CreateCoupon(ctx, &models.GeneratedCoupon{Code: "CARTALL001", CartID: captured.Cart.ID,
		DiscountType: models.DiscountPercent, Amount: 10, ExpiresAt: f.clock.Add(48 * time.Hour)}))

	res, err := f.svc.Restore(ctx, captured.Cart.RecoveryToken, 3)
	require.NoError(t, err)
	assert.Zero(t, res.Restored)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, "CARTALL001", res.Coupon)
	assert.True(t, strings.HasPrefix(res.RedirectURL, "https://shop.example.com/checkout/?coupon=CARTALL001"), res.RedirectURL)
	assert.Contains(t, res.RedirectURL, "billing_first_name=Ada")
	assert.Contains(t, res.RedirectURL, "billing_phone=447700900123")
	assert.NotContains(t, res.RedirectURL, "products=")
}
