// Package template renders message templates by literal {placeholder}
// substitution. Unknown placeholders are left untouched.
package template

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/CartPipe/internal/models"
)

// Date layouts used in rendered messages.
const (
	DateLayout     = "January 2, 2006"
	DateTimeLayout = "January 2, 2006 15:04"
)

// Placeholders lists every token Render understands, in documentation order.
var Placeholders = []string{
	"{customer_name}", "{first_name}", "{last_name}", "{customer_phone}", "{customer_email}",
	"{customer_address}", "{cart_items}", "{cart_items_list}", "{cart_items_detailed}",
	"{cart_item_count}", "{cart_quantity}", "{cart_total}", "{currency}", "{currency_symbol}",
	"{coupon_code}", "{coupon_amount}", "{coupon_discount}", "{coupon_type}", "{coupon_expiry}",
	"{coupon_expiry_days}", "{recovery_link}", "{store_name}", "{store_url}", "{message_number}",
	"{cart_date}", "{order_id}", "{order_status}", "{order_total}",
}

// Data is everything a template can reference. Cart, Coupon and Order are optional.
type Data struct {
	Settings      models.Settings
	Cart          *models.AbandonedCart
	Coupon        *models.GeneratedCoupon
	Order         *models.Order
	RecoveryLink  string
	MessageNumber int
	Now           time.Time
}

// Render substitutes every known placeholder in tmpl.
func Render(tmpl string, d Data) string {
	values := Values(d)
	pairs := make([]string, 0, len(values)*2)
	for _, key := range sortedKeys(values) {
		pairs = append(pairs, key, values[key])
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// Values returns the placeholder substitutions for d.
func Values(d Data) map[string]string {
	symbol := d.Settings.CurrencySymbol
	v := map[string]string{
		"{store_name}":      d.Settings.StoreName,
		"{store_url}":       d.Settings.StoreURL,
		"{currency_symbol}": symbol,
		"{recovery_link}":   d.RecoveryLink,
		"{message_number}":  "",
	}
	if d.MessageNumber > 0 {
		v["{message_number}"] = strconv.Itoa(d.MessageNumber)
	}
	for _, key := range Placeholders {
		if _, ok := v[key]; !ok {
			v[key] = ""
		}
	}

	if o := d.Order; o != nil {
		v["{customer_name}"] = o.FullName()
		v["{first_name}"] = o.FirstName
		v["{last_name}"] = o.LastName
		v["{customer_phone}"] = o.Phone
		v["{customer_email}"] = o.Email
		v["{currency}"] = o.Currency
		v["{order_id}"] = o.DisplayNumber()
		v["{order_status}"] = o.Status
		v["{order_total}"] = formatAmount(o.Total)
	}

	if c := d.Cart; c != nil {
		v["{customer_name}"] = c.FullName()
		v["{first_name}"] = c.FirstName
		v["{last_name}"] = c.LastName
		v["{customer_phone}"] = c.Phone
		v["{customer_email}"] = c.Email
		v["{customer_address}"] = c.Address()
		v["{cart_items}"] = itemNames(c.Items)
		v["{cart_items_list}"] = itemList(c.Items)
		v["{cart_items_detailed}"] = itemDetails(c.Items, symbol)
		v["{cart_item_count}"] = strconv.Itoa(len(c.Items))
		v["{cart_quantity}"] = strconv.Itoa(c.ItemQuantity())
		v["{cart_total}"] = formatAmount(c.Total)
		v["{currency}"] = c.Currency
		if !c.CreatedAt.IsZero() {
			v["{cart_date}"] = c.CreatedAt.Format(DateTimeLayout)
		}
	}

	if cp := d.Coupon; cp != nil {
		v["{coupon_code}"] = cp.Code
		v["{coupon_amount}"] = formatNumber(cp.Amount)
		v["{coupon_type}"] = string(cp.DiscountType)
		v["{coupon_discount}"] = Discount(cp.DiscountType, cp.Amount, symbol)
		v["{coupon_expiry}"] = cp.ExpiresAt.Format(DateLayout)
		v["{coupon_expiry_days}"] = strconv.Itoa(daysUntil(d.Now, cp.ExpiresAt))
	}
	return v
}

// Discount renders a human readable discount such as "10%" or "$5.00".
func Discount(t models.DiscountType, amount float64, symbol string) string {
	if t == models.DiscountPercent {
		return formatNumber(amount) + "%"
	}
	return symbol + formatAmount(amount)
}

func itemNames(items []models.LineItem) string {
	names := make([]string, 0, len(items))
	for _, li := range items {
		names = append(names, li.Name)
	}
	return strings.Join(names, ", ")
}

func itemList(items []models.LineItem) string {
	lines := make([]string, 0, len(items))
	for _, li := range items {
		lines = append(lines, fmt.Sprintf("- %s x %d", li.Name, li.Quantity))
	}
	return strings.Join(lines, "\n")
}

func itemDetails(items []models.LineItem, symbol string) string {
	lines := make([]string, 0, len(items))
	for _, li := range items {
		lines = append(lines, fmt.Sprintf("%s × %d – %s%s", li.Name, li.Quantity, symbol, formatAmount(li.Subtotal())))
	}
	return strings.Join(lines, "\n")
}

func formatAmount(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

// formatNumber drops a zero fraction: 10 → "10", 7.5 → "7.5".
func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func daysUntil(now, t time.Time) int {
	if now.IsZero() {
		now = time.Now()
	}
	d := t.Sub(now).Hours() / 24
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d))
}

// sortedKeys orders keys so the replacement list is deterministic.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
