// Package order defines the Order aggregate: the durable record of a purchase
// attempt, from pending through paid, failed or refunded.
//
// The local store is the source of truth for fulfillment state; the payment
// gateway is the source of truth for money movement. Reconciling the two is
// the job of the webhook processor, which folds gateway events into the
// status machine defined here.
package order

import (
	"errors"
	"time"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidCart       = errors.New("cart is empty or contains invalid items")
	ErrInvalidTransition = errors.New("order status transition not allowed")
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending  Status = "pending"
	StatusPaid     Status = "paid"
	StatusFailed   Status = "failed"
	StatusRefunded Status = "refunded"
)

// CanTransitionTo reports whether the status machine allows moving from s to
// next. Transitions are monotonic: paid never regresses to pending, and
// failed/refunded are terminal.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusPaid || next == StatusFailed
	case StatusPaid:
		return next == StatusRefunded
	default:
		return false
	}
}

// Customer is the contact information captured at checkout.
// Email is required: it is the delivery target for the confirmation email.
type Customer struct {
	Name  string
	Email string
	Phone string
}

// Address holds structured postal fields. The shipping address is typically
// only fully known once the gateway has collected it.
type Address struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// IsZero reports whether no field of the address is set.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Item is a frozen snapshot of a purchased line. It is a receipt, not a live
// catalog reference: later catalog edits never alter historical orders.
type Item struct {
	ProductID string
	Name      string
	Variant   string
	UnitPrice int64 // minor units (cents)
	Quantity  int
	ImageURL  string
}

// Subtotal returns price times quantity in minor units.
func (i Item) Subtotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// EmailRecord is one entry of the append-only log of dispatched notifications.
// Its existence is what lets the dispatcher prove exactly-once delivery
// without an external message broker.
type EmailRecord struct {
	Type      string
	Recipient string
	SentAt    time.Time
}

// EmailTypeConfirmation is the email type recorded for the order
// confirmation message.
const EmailTypeConfirmation = "order_confirmation"

// Order is the aggregate root. Code and ID are assigned exactly once and
// never mutated; GatewayPaymentID, once set, is the idempotency key for
// reconciliation.
type Order struct {
	ID   int64  // store-assigned primary key
	Code string // short human-presentable correlation key, shown to the customer

	Status   Status
	Customer Customer

	BillingAddress  Address
	ShippingAddress Address

	Items []Item

	// Monetary snapshot in minor units. Total equals
	// Subtotal+ShippingCost+Tax once fully reconciled.
	Subtotal     int64
	ShippingCost int64
	Tax          int64
	Total        int64
	Currency     string

	GatewaySessionID string
	GatewayPaymentID string

	CreatedAt  time.Time
	EmailsSent []EmailRecord
}

// HasEmail reports whether an email of the given type was already recorded.
func (o *Order) HasEmail(emailType string) bool {
	for _, rec := range o.EmailsSent {
		if rec.Type == emailType {
			return true
		}
	}
	return false
}
