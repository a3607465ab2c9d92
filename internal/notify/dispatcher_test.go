package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakline/storefront/internal/order"
)

type stubStore struct {
	order.Store
	appended  []order.EmailRecord
	appendErr error
	recorded  bool
}

func (s *stubStore) AppendEmailSent(_ context.Context, _ int64, rec order.EmailRecord) (bool, error) {
	if s.appendErr != nil {
		return false, s.appendErr
	}
	s.appended = append(s.appended, rec)
	return s.recorded, nil
}

type stubMailer struct {
	sent []Message
	err  error
}

func (m *stubMailer) Send(_ context.Context, msg Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func paidOrder() *order.Order {
	return &order.Order{
		ID:     7,
		Code:   "TESTCODE01",
		Status: order.StatusPaid,
		Customer: order.Customer{
			Name:  "Ada Lovelace",
			Email: "ada@example.com",
		},
		Items: []order.Item{
			{ProductID: "p1", Name: "Tour Tee", Variant: "M", UnitPrice: 1000, Quantity: 2},
			{ProductID: "p2", Name: "Vinyl LP", UnitPrice: 2500, Quantity: 1},
		},
		ShippingAddress:  order.Address{Line1: "1 Main St", City: "Lisbon", Country: "PT"},
		Subtotal:         4500,
		ShippingCost:     500,
		Tax:              360,
		Total:            5360,
		Currency:         "USD",
		GatewaySessionID: "cs_123",
	}
}

func TestSendOrderConfirmation(t *testing.T) {
	store := &stubStore{recorded: true}
	mailer := &stubMailer{}
	d := NewDispatcher(store, mailer, "https://shop.example.com")

	require.NoError(t, d.SendOrderConfirmation(context.Background(), paidOrder()))

	require.Len(t, mailer.sent, 1)
	msg := mailer.sent[0]
	assert.Equal(t, "ada@example.com", msg.To)
	assert.Equal(t, "Order TESTCODE01 confirmed", msg.Subject)

	assert.Contains(t, msg.Body, "2x Tour Tee (M) — 20.00 USD")
	assert.Contains(t, msg.Body, "1x Vinyl LP — 25.00 USD")
	assert.Contains(t, msg.Body, "Total:    53.60 USD")
	assert.Contains(t, msg.Body, "1 Main St, Lisbon, PT")
	assert.Contains(t, msg.Body, "https://shop.example.com/track-order?checkoutId=cs_123&orderId=TESTCODE01")
	assert.Contains(t, msg.Body, "Order number: TESTCODE01")

	require.Len(t, store.appended, 1)
	assert.Equal(t, order.EmailTypeConfirmation, store.appended[0].Type)
	assert.Equal(t, "ada@example.com", store.appended[0].Recipient)
}

func TestSendOrderConfirmationSkipsWhenAlreadySent(t *testing.T) {
	store := &stubStore{recorded: true}
	mailer := &stubMailer{}
	d := NewDispatcher(store, mailer, "https://shop.example.com")

	ord := paidOrder()
	ord.EmailsSent = []order.EmailRecord{{
		Type:      order.EmailTypeConfirmation,
		Recipient: ord.Customer.Email,
		SentAt:    time.Now(),
	}}

	require.NoError(t, d.SendOrderConfirmation(context.Background(), ord))
	assert.Empty(t, mailer.sent, "an already-recorded confirmation is never re-sent")
	assert.Empty(t, store.appended)
}

func TestSendOrderConfirmationRequiresPaidStatus(t *testing.T) {
	store := &stubStore{recorded: true}
	mailer := &stubMailer{}
	d := NewDispatcher(store, mailer, "https://shop.example.com")

	for _, status := range []order.Status{order.StatusPending, order.StatusFailed, order.StatusRefunded} {
		ord := paidOrder()
		ord.Status = status
		assert.Error(t, d.SendOrderConfirmation(context.Background(), ord), string(status))
	}
	assert.Empty(t, mailer.sent)
}

func TestSendOrderConfirmationMailerFailureLeavesLogUntouched(t *testing.T) {
	store := &stubStore{recorded: true}
	mailer := &stubMailer{err: context.DeadlineExceeded}
	d := NewDispatcher(store, mailer, "https://shop.example.com")

	err := d.SendOrderConfirmation(context.Background(), paidOrder())
	assert.Error(t, err)
	assert.Empty(t, store.appended, "the send log records deliveries, not attempts")
}

func TestSendOrderConfirmationAppendFailurePropagates(t *testing.T) {
	store := &stubStore{appendErr: context.DeadlineExceeded}
	mailer := &stubMailer{}
	d := NewDispatcher(store, mailer, "https://shop.example.com")

	err := d.SendOrderConfirmation(context.Background(), paidOrder())
	assert.Error(t, err)
	assert.Len(t, mailer.sent, 1, "the message went out before the append failed")
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "53.60 USD", formatMoney(5360, "USD"))
	assert.Equal(t, "0.05 EUR", formatMoney(5, "EUR"))
	assert.Equal(t, "-1.00 USD", formatMoney(-100, "USD"))
	assert.Equal(t, "0.00 USD", formatMoney(0, "USD"))
}
