package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakline/storefront/internal/order"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func sampleOrder() *order.Order {
	return &order.Order{
		Code:   "TESTCODE01",
		Status: order.StatusPending,
		Customer: order.Customer{
			Name:  "Ada Lovelace",
			Email: "ada@example.com",
		},
		BillingAddress: order.Address{City: "London", Country: "GB"},
		Items: []order.Item{
			{ProductID: "p1", Name: "Tour Tee", Variant: "M", UnitPrice: 1000, Quantity: 2},
			{ProductID: "p2", Name: "Vinyl LP", UnitPrice: 2500, Quantity: 1},
		},
		Subtotal:  4500,
		Total:     4500,
		Currency:  "USD",
		CreatedAt: time.Now().UTC(),
	}
}

func TestCreateAndGetByCode(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	o := sampleOrder()
	require.NoError(t, repo.Create(ctx, o))
	assert.NotZero(t, o.ID)

	got, err := repo.GetByCode(ctx, "TESTCODE01")
	require.NoError(t, err)

	assert.Equal(t, o.ID, got.ID)
	assert.Equal(t, order.StatusPending, got.Status)
	assert.Equal(t, "Ada Lovelace", got.Customer.Name)
	assert.Equal(t, order.Address{City: "London", Country: "GB"}, got.BillingAddress)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "Tour Tee", got.Items[0].Name)
	assert.Equal(t, int64(4500), got.Subtotal)
	assert.Empty(t, got.EmailsSent)
}

func TestGetByCodeNotFound(t *testing.T) {
	repo := openTestRepo(t)

	_, err := repo.GetByCode(context.Background(), "NOPE")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestLinkSessionAndGetBySessionID(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	o := sampleOrder()
	require.NoError(t, repo.Create(ctx, o))

	// An empty session id must never match the orders that have not been
	// linked yet.
	_, err := repo.GetBySessionID(ctx, "")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)

	require.NoError(t, repo.LinkSession(ctx, o.ID, "cs_123"))

	got, err := repo.GetBySessionID(ctx, "cs_123")
	require.NoError(t, err)
	assert.Equal(t, o.Code, got.Code)

	// Linking the same session again is a no-op; a different session is refused.
	assert.NoError(t, repo.LinkSession(ctx, o.ID, "cs_123"))
	assert.ErrorIs(t, repo.LinkSession(ctx, o.ID, "cs_other"), order.ErrInvalidTransition)
}

func TestMarkPaidCompareAndSet(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	o := sampleOrder()
	require.NoError(t, repo.Create(ctx, o))

	patch := order.PaidPatch{
		GatewayPaymentID: "pay_1",
		ShippingAddress:  order.Address{Line1: "1 Main St", City: "Lisbon", Country: "PT"},
		ShippingCost:     500,
		Tax:              360,
		Total:            5360,
		Currency:         "USD",
	}

	applied, err := repo.MarkPaid(ctx, o.ID, patch)
	require.NoError(t, err)
	assert.True(t, applied)

	// The losing duplicate observes false, not an error.
	applied, err = repo.MarkPaid(ctx, o.ID, patch)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, got.Status)
	assert.Equal(t, "pay_1", got.GatewayPaymentID)
	assert.Equal(t, int64(5360), got.Total)
	assert.Equal(t, got.Subtotal+got.ShippingCost+got.Tax, got.Total)
	assert.Equal(t, "Lisbon", got.ShippingAddress.City)
}

func TestMarkFailedNeverOverwritesPaid(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	o := sampleOrder()
	require.NoError(t, repo.Create(ctx, o))

	applied, err := repo.MarkPaid(ctx, o.ID, order.PaidPatch{GatewayPaymentID: "pay_1", Total: 4500, Currency: "USD"})
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = repo.MarkFailed(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, got.Status)
}

func TestMarkRefundedRequiresPaid(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	o := sampleOrder()
	require.NoError(t, repo.Create(ctx, o))

	applied, err := repo.MarkRefunded(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, applied, "pending order must not be refundable")

	_, err = repo.MarkPaid(ctx, o.ID, order.PaidPatch{GatewayPaymentID: "pay_1", Total: 4500, Currency: "USD"})
	require.NoError(t, err)

	applied, err = repo.MarkRefunded(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestAppendEmailSentIsAtMostOncePerType(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	o := sampleOrder()
	require.NoError(t, repo.Create(ctx, o))

	rec := order.EmailRecord{Type: order.EmailTypeConfirmation, Recipient: "ada@example.com", SentAt: time.Now().UTC()}

	inserted, err := repo.AppendEmailSent(ctx, o.ID, rec)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.AppendEmailSent(ctx, o.ID, rec)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, got.EmailsSent, 1)
	assert.Equal(t, order.EmailTypeConfirmation, got.EmailsSent[0].Type)
}

func TestAppendEvent(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	err := repo.AppendEvent(ctx, order.NewEventRecord(ctx, "TESTCODE01", "payment.succeeded", "pay_1", order.OutcomeApplied))
	assert.NoError(t, err)
}
