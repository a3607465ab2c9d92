package webhook

import "github.com/oakline/storefront/internal/order"

// Gateway event types consumed by the processor. Anything else is
// acknowledged and dropped.
const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
	EventPaymentRefunded  = "payment.refunded"

	// EventSessionCompleted is a softer, earlier signal than
	// payment.succeeded: the hosted page finished, the payment may or may
	// not have settled. It is folded into the payment.succeeded path after
	// resolving the payment id from the gateway.
	EventSessionCompleted = "checkout.session.completed"
)

// Event is the decoded webhook envelope. Decoding happens only after the
// signature over the raw body has been verified.
type Event struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Created int64     `json:"created"` // unix seconds, gateway clock
	Data    EventData `json:"data"`
}

// EventData is the event-specific payload. Which fields are populated
// depends on the event type; correlation uses SessionID first and the
// order code from metadata as fallback.
type EventData struct {
	SessionID     string `json:"session_id"`
	PaymentID     string `json:"payment_id"`
	FailureReason string `json:"failure_reason,omitempty"`

	AmountTotal  int64  `json:"amount_total"`
	AmountTax    int64  `json:"amount_tax"`
	ShippingCost int64  `json:"shipping_cost"`
	Currency     string `json:"currency"`

	Shipping struct {
		Address order.Address `json:"address"`
	} `json:"shipping"`

	Metadata struct {
		OrderCode string `json:"order_code"`
	} `json:"metadata"`
}

// settlement is the normalized "payment succeeded" information, whether it
// arrived inline on a payment.succeeded event or was fetched from the
// gateway for a checkout.session.completed event.
type settlement struct {
	PaymentID       string
	ShippingAddress order.Address
	ShippingCost    int64
	Tax             int64
	Total           int64
	Currency        string
}
