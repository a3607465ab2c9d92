// Package notify sends the order-confirmation email exactly once per
// successful payment.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"text/template"
	"time"

	"github.com/oakline/storefront/internal/order"
)

// Dispatcher owns the exactly-once contract for customer notifications.
// The emailsSent log on the order is the proof of delivery: checked before
// sending, appended after a successful send. If the process crashes between
// send and append the next delivery re-sends — a duplicate confirmation is
// an acceptable cost, a silently missing one is not.
type Dispatcher struct {
	store   order.Store
	mailer  Mailer
	baseURL string // public site URL for the tracking link
	now     func() time.Time
}

func NewDispatcher(store order.Store, mailer Mailer, baseURL string) *Dispatcher {
	return &Dispatcher{
		store:   store,
		mailer:  mailer,
		baseURL: baseURL,
		now:     time.Now,
	}
}

// SendOrderConfirmation sends the confirmation for a paid order, unless one
// was already recorded.
func (d *Dispatcher) SendOrderConfirmation(ctx context.Context, ord *order.Order) error {
	if ord.Status != order.StatusPaid {
		return fmt.Errorf("notify: order %s is %s, not paid", ord.Code, ord.Status)
	}
	if ord.HasEmail(order.EmailTypeConfirmation) {
		slog.InfoContext(ctx, "notify: confirmation already sent", "order_code", ord.Code)
		return nil
	}

	body, err := renderConfirmation(ord, d.trackingLink(ord))
	if err != nil {
		return fmt.Errorf("notify: render confirmation for %s: %w", ord.Code, err)
	}

	msg := Message{
		To:      ord.Customer.Email,
		Subject: fmt.Sprintf("Order %s confirmed", ord.Code),
		Body:    body,
	}
	if err := d.mailer.Send(ctx, msg); err != nil {
		return err
	}

	// Append strictly after the send. The UNIQUE(order_id, email_type)
	// index in the store collapses a concurrent double-append.
	recorded, err := d.store.AppendEmailSent(ctx, ord.ID, order.EmailRecord{
		Type:      order.EmailTypeConfirmation,
		Recipient: ord.Customer.Email,
		SentAt:    d.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("notify: record confirmation for %s: %w", ord.Code, err)
	}
	if !recorded {
		slog.WarnContext(ctx, "notify: confirmation sent twice", "order_code", ord.Code)
	}

	slog.InfoContext(ctx, "notify: confirmation sent",
		"order_code", ord.Code, "recipient", ord.Customer.Email)
	return nil
}

// trackingLink builds the URL embedded in the email. Both tokens must match
// on lookup; the session id doubles as the correlation secret.
func (d *Dispatcher) trackingLink(ord *order.Order) string {
	q := url.Values{}
	q.Set("orderId", ord.Code)
	q.Set("checkoutId", ord.GatewaySessionID)
	return d.baseURL + "/track-order?" + q.Encode()
}

var confirmationTmpl = template.Must(template.New("confirmation").Funcs(template.FuncMap{
	"money": formatMoney,
}).Parse(`Hi {{.Order.Customer.Name}},

Thanks for your order! Here's what you picked up:

{{range .Order.Items}}  {{.Quantity}}x {{.Name}}{{if .Variant}} ({{.Variant}}){{end}} — {{money .Subtotal $.Order.Currency}}
{{end}}
  Subtotal: {{money .Order.Subtotal .Order.Currency}}
  Shipping: {{money .Order.ShippingCost .Order.Currency}}
  Tax:      {{money .Order.Tax .Order.Currency}}
  Total:    {{money .Order.Total .Order.Currency}}
{{if .ShipTo}}
Shipping to:
  {{.ShipTo}}
{{end}}
Track your order any time:
  {{.TrackingLink}}

Order number: {{.Order.Code}}
`))

func renderConfirmation(ord *order.Order, trackingLink string) (string, error) {
	var buf strings.Builder
	err := confirmationTmpl.Execute(&buf, struct {
		Order        *order.Order
		TrackingLink string
		ShipTo       string
	}{ord, trackingLink, formatAddress(ord.ShippingAddress)})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// formatMoney renders minor units as "53.60 USD". No currency symbol table:
// the ISO code is unambiguous and avoids locale formatting entirely.
func formatMoney(amount int64, currency string) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, amount/100, amount%100, currency)
}

func formatAddress(a order.Address) string {
	parts := make([]string, 0, 6)
	for _, s := range []string{a.Line1, a.Line2, a.City, a.Region, a.PostalCode, a.Country} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}
