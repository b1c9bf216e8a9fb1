package woocommerce

import (
	"fmt"
	"net/url"
	"strings"
)

// LinkItem is one product line of a shareable checkout link.
type LinkItem struct {
	ID       int64
	Quantity int
}

// Billing prefills checkout fields on the restored cart.
type Billing struct {
	FirstName string
	LastName  string
	Phone     string
	Email     string
	Address1  string
	Address2  string
	City      string
	State     string
	Postcode  string
	Country   string
}

func (b Billing) params() [][2]string {
	return [][2]string{
		{"billing_first_name", b.FirstName},
		{"billing_last_name", b.LastName},
		{"billing_phone", b.Phone},
		{"billing_email", b.Email},
		{"billing_address_1", b.Address1},
		{"billing_address_2", b.Address2},
		{"billing_city", b.City},
		{"billing_state", b.State},
		{"billing_postcode", b.Postcode},
		{"billing_country", b.Country},
	}
}

// CheckoutURL returns the plain checkout page URL.
func (c *Client) CheckoutURL() string {
	return c.storeURL + "/checkout/"
}

// RestoreLink builds a shareable checkout URL.
// Format: /checkout-link/?products=ID:QTY,ID:QTY&coupon=CODE
// Opening it fills the shopper's cart, applies the coupon and redirects to checkout.
// With no items the plain checkout URL is returned, still carrying the coupon
// and billing prefill.
func (c *Client) RestoreLink(items []LinkItem, coupon string, billing Billing) string {
	var params []string
	if len(items) > 0 {
		products := make([]string, 0, len(items))
		for _, item := range items {
			products = append(products, fmt.Sprintf("%d:%d", item.ID, item.Quantity))
		}
		params = append(params, "products="+strings.Join(products, ","))
	}
	if coupon != "" {
		params = append(params, "coupon="+url.QueryEscape(coupon))
	}
	for _, kv := range billing.params() {
		if kv[1] != "" {
			params = append(params, kv[0]+"="+url.QueryEscape(kv[1]))
		}
	}

	base := c.storeURL + "/checkout-link/"
	if len(items) == 0 {
		base = c.CheckoutURL()
	}
	if len(params) == 0 {
		return base
	}
	return base + "?" + strings.Join(params, "&")
}
