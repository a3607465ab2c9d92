package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/oakline/storefront/internal/checkout"
	"github.com/oakline/storefront/internal/gateway"
	"github.com/oakline/storefront/internal/lookup"
	"github.com/oakline/storefront/internal/order"
	"github.com/oakline/storefront/internal/webhook"
)

// maxWebhookBody bounds how much of a webhook delivery is read. Gateway
// events are small; anything larger is hostile.
const maxWebhookBody = 1 << 20

// The handler depends on these narrow interfaces rather than the concrete
// services so tests can substitute fakes.
type (
	CheckoutService interface {
		Checkout(ctx context.Context, cart checkout.Cart) (*checkout.Result, error)
	}

	WebhookProcessor interface {
		Process(ctx context.Context, payload []byte, signatureHeader string) error
	}

	TrackingService interface {
		Track(ctx context.Context, orderCode, checkoutID string) (*lookup.Projection, error)
	}
)

// Handler handles the engine's three HTTP entry points: checkout submission,
// gateway webhooks and order tracking.
type Handler struct {
	checkout CheckoutService
	webhooks WebhookProcessor
	tracking TrackingService
}

func NewHandler(cs CheckoutService, wp WebhookProcessor, ts TrackingService) *Handler {
	return &Handler{checkout: cs, webhooks: wp, tracking: ts}
}

// SubmitCheckout validates the cart submission and returns the gateway
// redirect. Gateway failures surface as a generic retryable error: internal
// detail never reaches the customer.
func (h *Handler) SubmitCheckout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	result, err := h.checkout.Checkout(r.Context(), mapCheckoutRequest(req))
	switch {
	case errors.Is(err, order.ErrInvalidCart):
		writeError(w, http.StatusBadRequest, "invalid_cart", "cart is empty or contains invalid items")
		return
	case errors.Is(err, gateway.ErrUnavailable), errors.Is(err, gateway.ErrRejected):
		slog.ErrorContext(r.Context(), "checkout gateway failure", "error", err)
		writeError(w, http.StatusBadGateway, "gateway_unavailable", "payment service is temporarily unavailable, please try again")
		return
	case err != nil:
		slog.ErrorContext(r.Context(), "checkout failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	writeJSON(w, http.StatusCreated, CheckoutResponse{
		RedirectURL: result.RedirectURL,
		OrderCode:   result.OrderCode,
	})
}

// ReceiveWebhook hands the raw body to the reconciliation processor. The
// status code is the acknowledgement protocol: 2xx stops gateway retries,
// anything else triggers redelivery. The body must reach the processor
// unmodified — the signature covers the exact wire bytes.
func (h *Handler) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable_body", "")
		return
	}

	err = h.webhooks.Process(r.Context(), payload, r.Header.Get(gateway.SignatureHeader))
	switch {
	case errors.Is(err, gateway.ErrInvalidSignature):
		writeError(w, http.StatusBadRequest, "invalid_signature", "")
		return
	case errors.Is(err, webhook.ErrInvalidPayload):
		writeError(w, http.StatusBadRequest, "invalid_payload", "")
		return
	case errors.Is(err, webhook.ErrUnmatched):
		// Non-success on purpose: the order's session linkage may not have
		// committed yet, and redelivery will find it.
		writeError(w, http.StatusConflict, "order_not_linked_yet", "")
		return
	case err != nil:
		slog.ErrorContext(r.Context(), "webhook processing failed", "error", err)
		writeError(w, http.StatusBadGateway, "processing_failed", "")
		return
	}

	writeJSON(w, http.StatusOK, WebhookResponse{Received: true})
}

// TrackOrder serves the tracking page's data. A missing order and a wrong
// correlation token produce byte-identical responses.
func (h *Handler) TrackOrder(w http.ResponseWriter, r *http.Request) {
	orderCode := r.URL.Query().Get("orderId")
	checkoutID := r.URL.Query().Get("checkoutId")

	proj, err := h.tracking.Track(r.Context(), orderCode, checkoutID)
	switch {
	case errors.Is(err, order.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order_not_found", "no order matches the given details")
		return
	case err != nil:
		slog.ErrorContext(r.Context(), "tracking lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	writeJSON(w, http.StatusOK, proj)
}

func mapCheckoutRequest(req CheckoutRequest) checkout.Cart {
	items := make([]checkout.CartItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = checkout.CartItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			Variant:   it.Variant,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
			ImageURL:  it.ImageURL,
		}
	}

	cart := checkout.Cart{
		Items: items,
		Customer: order.Customer{
			Name:  req.Customer.Name,
			Email: req.Customer.Email,
			Phone: req.Customer.Phone,
		},
	}
	if req.Billing != nil {
		cart.BillingAddress = order.Address{
			Line1:      req.Billing.Line1,
			Line2:      req.Billing.Line2,
			City:       req.Billing.City,
			Region:     req.Billing.Region,
			PostalCode: req.Billing.PostalCode,
			Country:    req.Billing.Country,
		}
	}
	return cart
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: msg,
	})
}
