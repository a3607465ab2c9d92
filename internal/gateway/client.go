// Package gateway wraps the external payment processor's hosted-checkout API.
//
// The gateway is the source of truth for money movement. This package only
// defines how the engine calls it (session creation, session retrieval) and
// how its webhook signatures are verified; everything else about the
// processor is its own business.
package gateway

import (
	"context"
	"errors"

	"github.com/oakline/storefront/internal/order"
)

var (
	// ErrUnavailable marks transport-level failures (timeouts, 5xx). These
	// are retryable: for webhooks the gateway's redelivery repairs them, for
	// checkout the customer is asked to try again.
	ErrUnavailable = errors.New("payment gateway unavailable")

	// ErrRejected marks business rejections (4xx). Retrying the identical
	// request will not help.
	ErrRejected = errors.New("payment gateway rejected request")
)

// SessionItem is a line item submitted to the hosted checkout page.
type SessionItem struct {
	Name       string `json:"name"`
	UnitAmount int64  `json:"unit_amount"` // minor units
	Quantity   int    `json:"quantity"`
	ImageURL   string `json:"image_url,omitempty"`
}

// CreateSessionParams is the input for CreateSession. OrderCode travels as
// session metadata and inside the success URL so webhook events and the
// returning customer can both be correlated back to the local order.
type CreateSessionParams struct {
	OrderCode     string
	CustomerEmail string
	Currency      string
	Items         []SessionItem
	SuccessURL    string
	CancelURL     string
}

// Session is the result of a successful CreateSession call.
type Session struct {
	ID          string
	RedirectURL string
}

// SessionDetail is the authoritative session state as reported by the
// gateway, including the figures it computed (shipping, tax) and collected
// (shipping address) during checkout.
type SessionDetail struct {
	ID            string
	PaymentID     string
	PaymentStatus string // "paid", "unpaid"
	OrderCode     string

	ShippingAddress order.Address
	ShippingCost    int64
	Tax             int64
	Total           int64
	Currency        string
}

// Client is the port used by the checkout orchestrator and the webhook
// processor. Both operations are fallible network calls: callers must treat
// ErrUnavailable as retryable and ErrRejected as terminal.
type Client interface {
	CreateSession(ctx context.Context, params CreateSessionParams) (*Session, error)
	RetrieveSession(ctx context.Context, sessionID string) (*SessionDetail, error)
}
