package order

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// PaidPatch carries the authoritative figures the gateway reports with a
// successful payment. Applied together with the pending→paid transition so a
// paid order is never observable without its final totals.
type PaidPatch struct {
	GatewayPaymentID string
	ShippingAddress  Address
	ShippingCost     int64
	Tax              int64
	Total            int64
	Currency         string
}

// Store is the port for order persistence. The services depend on this
// abstraction, not on SQLite directly, so the implementation can be swapped
// for Postgres or an in-memory fake in tests.
//
// The Mark* methods are atomic compare-and-set transitions: they succeed only
// when the order is still in the expected source status and report false
// (without error) when a concurrent delivery already moved it. That single
// conditional write is what makes duplicate webhook delivery safe without a
// distributed lock.
type Store interface {
	// Create persists a new order and its item snapshot, assigning o.ID.
	Create(ctx context.Context, o *Order) error

	GetByID(ctx context.Context, id int64) (*Order, error)
	GetByCode(ctx context.Context, code string) (*Order, error)
	GetBySessionID(ctx context.Context, sessionID string) (*Order, error)

	// LinkSession records the gateway checkout session id on the order.
	LinkSession(ctx context.Context, id int64, sessionID string) error

	// MarkPaid transitions pending→paid and applies the patch in one write.
	MarkPaid(ctx context.Context, id int64, patch PaidPatch) (bool, error)

	// MarkFailed transitions pending→failed.
	MarkFailed(ctx context.Context, id int64) (bool, error)

	// MarkRefunded transitions paid→refunded.
	MarkRefunded(ctx context.Context, id int64) (bool, error)

	// AppendEmailSent appends to the order's email log. Returns false when an
	// entry of the same type already exists (at-most-once per type).
	AppendEmailSent(ctx context.Context, id int64, rec EmailRecord) (bool, error)

	// AppendEvent appends a row to the reconciliation audit trail.
	AppendEvent(ctx context.Context, entry *EventRecord) error
}

// EventOutcome classifies what the reconciliation processor did with an
// inbound gateway event.
type EventOutcome string

const (
	OutcomeApplied   EventOutcome = "applied"
	OutcomeDuplicate EventOutcome = "duplicate"
	OutcomeIgnored   EventOutcome = "ignored"
	OutcomeUnmatched EventOutcome = "unmatched"
)

// EventRecord is one row of the append-only reconciliation audit trail. It
// exists for observability and dispute handling: every webhook delivery
// leaves a trace of what it was and what happened to it, correlated with the
// active span via TraceID/SpanID.
type EventRecord struct {
	OrderCode string // empty for unmatched events
	EventType string
	Outcome   EventOutcome
	PaymentID string
	TraceID   string
	SpanID    string
	CreatedAt time.Time
}

// NewEventRecord builds an audit entry with trace identifiers extracted from
// the active OpenTelemetry span in ctx, if any.
func NewEventRecord(ctx context.Context, orderCode, eventType, paymentID string, outcome EventOutcome) *EventRecord {
	rec := &EventRecord{
		OrderCode: orderCode,
		EventType: eventType,
		Outcome:   outcome,
		PaymentID: paymentID,
		CreatedAt: time.Now().UTC(),
	}

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		rec.TraceID = sc.TraceID().String()
		rec.SpanID = sc.SpanID().String()
	}

	return rec
}
