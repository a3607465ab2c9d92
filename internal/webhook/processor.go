// Package webhook reconciles the payment gateway's asynchronous, at-least-once
// event deliveries into durable order state.
//
// The contract with the transport: a nil return acknowledges the delivery
// (the gateway stops retrying), any error return is a non-success
// acknowledgement (the gateway redelivers). Idempotent compare-and-set
// transitions in the order store make redelivery safe, so every internal
// failure is surfaced as retryable rather than swallowed.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oakline/storefront/internal/gateway"
	"github.com/oakline/storefront/internal/order"
)

var (
	// ErrUnmatched marks an event whose correlation keys matched no order
	// while the event was still fresh. Surfaced as retryable: the usual
	// cause is a webhook racing the orchestrator's own session-linkage
	// write, and gateway redelivery resolves it once the linkage commits.
	ErrUnmatched = errors.New("webhook event matches no order")

	// ErrInvalidPayload marks a correctly signed but undecodable body.
	ErrInvalidPayload = errors.New("webhook payload is not valid JSON")
)

// Notifier schedules the confirmation email for a freshly paid order.
type Notifier interface {
	SendOrderConfirmation(ctx context.Context, ord *order.Order) error
}

// ProjectionInvalidator drops a cached tracking projection after a status
// transition so the read path reflects reconciled state.
type ProjectionInvalidator interface {
	Invalidate(ctx context.Context, orderCode string)
}

// Processor applies gateway events to the order store.
type Processor struct {
	store       order.Store
	gateway     gateway.Client
	notifier    Notifier              // nil-safe: email skipped if nil
	projections ProjectionInvalidator // nil-safe: no cache to invalidate
	secret      []byte
	tolerance   time.Duration
	grace       time.Duration
	now         func() time.Time
}

// Option configures a Processor.
type Option func(*Processor)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// WithUnmatchedGrace sets how long an unmatched event stays retryable before
// it is acknowledged and dropped.
func WithUnmatchedGrace(d time.Duration) Option {
	return func(p *Processor) { p.grace = d }
}

func NewProcessor(store order.Store, gw gateway.Client, notifier Notifier, projections ProjectionInvalidator, secret []byte, opts ...Option) *Processor {
	p := &Processor{
		store:       store,
		gateway:     gw,
		notifier:    notifier,
		projections: projections,
		secret:      secret,
		tolerance:   gateway.DefaultTolerance,
		grace:       5 * time.Minute,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process verifies, correlates and applies one webhook delivery.
// payload must be the raw request body exactly as received: the signature is
// computed over those bytes, so any re-encoding breaks verification.
func (p *Processor) Process(ctx context.Context, payload []byte, signatureHeader string) error {
	// Authenticity gate. Nothing below runs on an unverified body.
	if err := gateway.VerifySignature(p.secret, signatureHeader, payload, p.now(), p.tolerance); err != nil {
		return err
	}

	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("webhook: decode event: %w", ErrInvalidPayload)
	}

	switch ev.Type {
	case EventPaymentSucceeded:
		return p.handleSucceeded(ctx, ev, settlement{
			PaymentID:       ev.Data.PaymentID,
			ShippingAddress: ev.Data.Shipping.Address,
			ShippingCost:    ev.Data.ShippingCost,
			Tax:             ev.Data.AmountTax,
			Total:           ev.Data.AmountTotal,
			Currency:        ev.Data.Currency,
		})
	case EventSessionCompleted:
		return p.handleSessionCompleted(ctx, ev)
	case EventPaymentFailed:
		return p.handleFailed(ctx, ev)
	case EventPaymentRefunded:
		return p.handleRefunded(ctx, ev)
	default:
		slog.InfoContext(ctx, "webhook: ignoring event type", "event_id", ev.ID, "type", ev.Type)
		return nil
	}
}

// handleSessionCompleted resolves the underlying payment and re-dispatches
// through the payment-succeeded path. One transition path, not two.
func (p *Processor) handleSessionCompleted(ctx context.Context, ev Event) error {
	detail, err := p.gateway.RetrieveSession(ctx, ev.Data.SessionID)
	if err != nil {
		return fmt.Errorf("webhook: resolve session %s: %w", ev.Data.SessionID, err)
	}

	if detail.PaymentStatus != "paid" {
		// The payment has not settled; the definitive payment.succeeded
		// event will arrive on its own.
		slog.InfoContext(ctx, "webhook: session completed but payment not settled",
			"event_id", ev.ID, "session_id", ev.Data.SessionID, "payment_status", detail.PaymentStatus)
		return nil
	}

	return p.handleSucceeded(ctx, ev, settlement{
		PaymentID:       detail.PaymentID,
		ShippingAddress: detail.ShippingAddress,
		ShippingCost:    detail.ShippingCost,
		Tax:             detail.Tax,
		Total:           detail.Total,
		Currency:        detail.Currency,
	})
}

func (p *Processor) handleSucceeded(ctx context.Context, ev Event, st settlement) error {
	ord, err := p.resolveOrder(ctx, ev)
	if err != nil || ord == nil {
		return err
	}

	// Idempotency: this payment already produced its transition.
	if ord.GatewayPaymentID == st.PaymentID && ord.Status == order.StatusPaid {
		p.audit(ctx, ord.Code, ev.Type, st.PaymentID, order.OutcomeDuplicate)
		return nil
	}

	if ord.Status != order.StatusPending {
		slog.WarnContext(ctx, "webhook: payment succeeded for non-pending order",
			"order_code", ord.Code, "status", string(ord.Status), "payment_id", st.PaymentID)
		p.audit(ctx, ord.Code, ev.Type, st.PaymentID, order.OutcomeIgnored)
		return nil
	}

	if st.Total == 0 {
		st.Total = ord.Subtotal + st.ShippingCost + st.Tax
	}
	if st.Currency == "" {
		st.Currency = ord.Currency
	}

	applied, err := p.store.MarkPaid(ctx, ord.ID, order.PaidPatch{
		GatewayPaymentID: st.PaymentID,
		ShippingAddress:  st.ShippingAddress,
		ShippingCost:     st.ShippingCost,
		Tax:              st.Tax,
		Total:            st.Total,
		Currency:         st.Currency,
	})
	if err != nil {
		// Do not acknowledge: redelivery plus the CAS above is the
		// recovery mechanism for store failures.
		return fmt.Errorf("webhook: mark %s paid: %w", ord.Code, err)
	}
	if !applied {
		// A concurrent delivery won the CAS. Re-read to classify.
		fresh, err := p.store.GetByID(ctx, ord.ID)
		if err != nil {
			return fmt.Errorf("webhook: reload %s after lost transition: %w", ord.Code, err)
		}
		outcome := order.OutcomeIgnored
		if fresh.Status == order.StatusPaid && fresh.GatewayPaymentID == st.PaymentID {
			outcome = order.OutcomeDuplicate
		}
		p.audit(ctx, ord.Code, ev.Type, st.PaymentID, outcome)
		return nil
	}

	slog.InfoContext(ctx, "webhook: order paid",
		"order_code", ord.Code, "payment_id", st.PaymentID, "total", st.Total)
	p.audit(ctx, ord.Code, ev.Type, st.PaymentID, order.OutcomeApplied)
	p.invalidate(ctx, ord.Code)

	// Email is scheduled only on the actual pending→paid transition, and
	// strictly after it committed. A send failure never unwinds the paid
	// status: payment confirmation is not contingent on email infrastructure.
	if p.notifier != nil {
		fresh, err := p.store.GetByID(ctx, ord.ID)
		if err != nil {
			slog.ErrorContext(ctx, "webhook: reload order for confirmation email",
				"order_code", ord.Code, "error", err)
			return nil
		}
		if err := p.notifier.SendOrderConfirmation(ctx, fresh); err != nil {
			slog.ErrorContext(ctx, "webhook: confirmation email failed",
				"order_code", ord.Code, "error", err)
		}
	}
	return nil
}

func (p *Processor) handleFailed(ctx context.Context, ev Event) error {
	ord, err := p.resolveOrder(ctx, ev)
	if err != nil || ord == nil {
		return err
	}

	// A failure notification must never overwrite a confirmed payment.
	if ord.Status != order.StatusPending {
		p.audit(ctx, ord.Code, ev.Type, ev.Data.PaymentID, order.OutcomeIgnored)
		return nil
	}

	applied, err := p.store.MarkFailed(ctx, ord.ID)
	if err != nil {
		return fmt.Errorf("webhook: mark %s failed: %w", ord.Code, err)
	}

	outcome := order.OutcomeIgnored
	if applied {
		outcome = order.OutcomeApplied
		slog.InfoContext(ctx, "webhook: order failed",
			"order_code", ord.Code, "reason", ev.Data.FailureReason)
		p.invalidate(ctx, ord.Code)
	}
	p.audit(ctx, ord.Code, ev.Type, ev.Data.PaymentID, outcome)
	return nil
}

func (p *Processor) handleRefunded(ctx context.Context, ev Event) error {
	ord, err := p.resolveOrder(ctx, ev)
	if err != nil || ord == nil {
		return err
	}

	if ord.Status == order.StatusRefunded {
		p.audit(ctx, ord.Code, ev.Type, ev.Data.PaymentID, order.OutcomeDuplicate)
		return nil
	}
	if ord.Status != order.StatusPaid {
		p.audit(ctx, ord.Code, ev.Type, ev.Data.PaymentID, order.OutcomeIgnored)
		return nil
	}

	applied, err := p.store.MarkRefunded(ctx, ord.ID)
	if err != nil {
		return fmt.Errorf("webhook: mark %s refunded: %w", ord.Code, err)
	}
	outcome := order.OutcomeIgnored
	if applied {
		outcome = order.OutcomeApplied
		slog.InfoContext(ctx, "webhook: order refunded", "order_code", ord.Code)
		p.invalidate(ctx, ord.Code)
	}
	p.audit(ctx, ord.Code, ev.Type, ev.Data.PaymentID, outcome)
	return nil
}

// resolveOrder correlates the event to an order: session id first, order
// code from metadata as fallback.
//
// A nil, nil return means "acknowledge without touching anything": the event
// is unmatched and stale, so it either references an order outside this
// store or its order will never appear. Fresh unmatched events instead
// return ErrUnmatched so gateway redelivery can outwait the orchestrator's
// session-linkage write.
func (p *Processor) resolveOrder(ctx context.Context, ev Event) (*order.Order, error) {
	ord, err := p.store.GetBySessionID(ctx, ev.Data.SessionID)
	if err == nil {
		return ord, nil
	}
	if !errors.Is(err, order.ErrOrderNotFound) {
		return nil, fmt.Errorf("webhook: lookup session %s: %w", ev.Data.SessionID, err)
	}

	if code := ev.Data.Metadata.OrderCode; code != "" {
		ord, err = p.store.GetByCode(ctx, code)
		if err == nil {
			return ord, nil
		}
		if !errors.Is(err, order.ErrOrderNotFound) {
			return nil, fmt.Errorf("webhook: lookup order %s: %w", code, err)
		}
	}

	if p.isFresh(ev) {
		return nil, fmt.Errorf("webhook: event %s (session %s): %w", ev.ID, ev.Data.SessionID, ErrUnmatched)
	}

	slog.WarnContext(ctx, "webhook: dropping stale unmatched event",
		"event_id", ev.ID, "type", ev.Type, "session_id", ev.Data.SessionID)
	p.audit(ctx, ev.Data.Metadata.OrderCode, ev.Type, ev.Data.PaymentID, order.OutcomeUnmatched)
	return nil, nil
}

// isFresh reports whether the event is young enough that its order may still
// be in the middle of being linked. Events without a timestamp are treated
// as stale: retrying them could never terminate.
func (p *Processor) isFresh(ev Event) bool {
	if ev.Created == 0 {
		return false
	}
	return p.now().Sub(time.Unix(ev.Created, 0)) <= p.grace
}

// audit appends to the reconciliation trail. Audit failures are logged, not
// propagated: the transition already committed and redelivering the event to
// fix the audit row would be a worse outcome.
func (p *Processor) audit(ctx context.Context, code, eventType, paymentID string, outcome order.EventOutcome) {
	rec := order.NewEventRecord(ctx, code, eventType, paymentID, outcome)
	if err := p.store.AppendEvent(ctx, rec); err != nil {
		slog.ErrorContext(ctx, "webhook: append audit event",
			"order_code", code, "type", eventType, "error", err)
	}
}

func (p *Processor) invalidate(ctx context.Context, code string) {
	if p.projections != nil {
		p.projections.Invalidate(ctx, code)
	}
}
