package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakline/storefront/internal/checkout"
	"github.com/oakline/storefront/internal/gateway"
	"github.com/oakline/storefront/internal/lookup"
	"github.com/oakline/storefront/internal/order"
	"github.com/oakline/storefront/internal/webhook"
)

type fakeCheckout struct {
	gotCart checkout.Cart
	result  *checkout.Result
	err     error
}

func (f *fakeCheckout) Checkout(_ context.Context, cart checkout.Cart) (*checkout.Result, error) {
	f.gotCart = cart
	return f.result, f.err
}

type fakeProcessor struct {
	gotPayload   []byte
	gotSignature string
	err          error
}

func (f *fakeProcessor) Process(_ context.Context, payload []byte, signatureHeader string) error {
	f.gotPayload = payload
	f.gotSignature = signatureHeader
	return f.err
}

type fakeTracking struct {
	proj *lookup.Projection
	err  error
}

func (f *fakeTracking) Track(context.Context, string, string) (*lookup.Projection, error) {
	return f.proj, f.err
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

const checkoutBody = `{
	"items": [{"product_id": "p1", "name": "Tour Tee", "unit_price": 1000, "quantity": 2}],
	"customer": {"name": "Ada Lovelace", "email": "ada@example.com"},
	"billing_address": {"city": "Lisbon", "country": "PT"}
}`

func TestSubmitCheckout(t *testing.T) {
	cs := &fakeCheckout{result: &checkout.Result{
		RedirectURL: "https://pay.example.com/cs_123",
		OrderCode:   "TESTCODE01",
	}}
	h := NewHandler(cs, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/checkout", strings.NewReader(checkoutBody))
	rec := httptest.NewRecorder()
	h.SubmitCheckout(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp CheckoutResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "https://pay.example.com/cs_123", resp.RedirectURL)
	assert.Equal(t, "TESTCODE01", resp.OrderCode)

	require.Len(t, cs.gotCart.Items, 1)
	assert.Equal(t, int64(1000), cs.gotCart.Items[0].UnitPrice)
	assert.Equal(t, "ada@example.com", cs.gotCart.Customer.Email)
	assert.Equal(t, "Lisbon", cs.gotCart.BillingAddress.City)
}

func TestSubmitCheckoutErrors(t *testing.T) {
	cases := []struct {
		name       string
		body       string
		serviceErr error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "malformed json",
			body:       `{"items": [`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_json",
		},
		{
			name:       "invalid cart",
			body:       checkoutBody,
			serviceErr: order.ErrInvalidCart,
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_cart",
		},
		{
			name:       "gateway unavailable",
			body:       checkoutBody,
			serviceErr: gateway.ErrUnavailable,
			wantStatus: http.StatusBadGateway,
			wantCode:   "gateway_unavailable",
		},
		{
			name:       "gateway rejected",
			body:       checkoutBody,
			serviceErr: gateway.ErrRejected,
			wantStatus: http.StatusBadGateway,
			wantCode:   "gateway_unavailable",
		},
		{
			name:       "store failure",
			body:       checkoutBody,
			serviceErr: errors.New("disk full"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal_error",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(&fakeCheckout{err: tc.serviceErr}, nil, nil)

			req := httptest.NewRequest(http.MethodPost, "/api/checkout", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h.SubmitCheckout(rec, req)

			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.Equal(t, tc.wantCode, decodeError(t, rec).Error)
		})
	}
}

func TestReceiveWebhook(t *testing.T) {
	p := &fakeProcessor{}
	h := NewHandler(nil, p, nil)

	body := `{"id":"evt_1","type":"payment.succeeded"}`
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/payment", strings.NewReader(body))
	req.Header.Set(gateway.SignatureHeader, "t=1,v1=ab")
	rec := httptest.NewRecorder()
	h.ReceiveWebhook(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received": true}`, rec.Body.String())

	// The processor must see the exact wire bytes and the raw header.
	assert.Equal(t, body, string(p.gotPayload))
	assert.Equal(t, "t=1,v1=ab", p.gotSignature)
}

func TestReceiveWebhookErrors(t *testing.T) {
	cases := []struct {
		name         string
		processorErr error
		wantStatus   int
		wantCode     string
	}{
		{
			name:         "invalid signature",
			processorErr: gateway.ErrInvalidSignature,
			wantStatus:   http.StatusBadRequest,
			wantCode:     "invalid_signature",
		},
		{
			name:         "invalid payload",
			processorErr: webhook.ErrInvalidPayload,
			wantStatus:   http.StatusBadRequest,
			wantCode:     "invalid_payload",
		},
		{
			name:         "unmatched order is retryable",
			processorErr: webhook.ErrUnmatched,
			wantStatus:   http.StatusConflict,
			wantCode:     "order_not_linked_yet",
		},
		{
			name:         "store failure is retryable",
			processorErr: errors.New("database locked"),
			wantStatus:   http.StatusBadGateway,
			wantCode:     "processing_failed",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(nil, &fakeProcessor{err: tc.processorErr}, nil)

			req := httptest.NewRequest(http.MethodPost, "/api/webhooks/payment", strings.NewReader("{}"))
			rec := httptest.NewRecorder()
			h.ReceiveWebhook(rec, req)

			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.Equal(t, tc.wantCode, decodeError(t, rec).Error)
		})
	}
}

func TestTrackOrder(t *testing.T) {
	ts := &fakeTracking{proj: &lookup.Projection{
		OrderCode: "TESTCODE01",
		Status:    "paid",
		Total:     5360,
		Currency:  "USD",
	}}
	h := NewHandler(nil, nil, ts)

	req := httptest.NewRequest(http.MethodGet, "/api/track-order?orderId=TESTCODE01&checkoutId=cs_123", nil)
	rec := httptest.NewRecorder()
	h.TrackOrder(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp TrackResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "TESTCODE01", resp.OrderCode)
	assert.Equal(t, "paid", resp.Status)
	assert.Equal(t, int64(5360), resp.Total)
}

func TestTrackOrderErrors(t *testing.T) {
	cases := []struct {
		name       string
		serviceErr error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "not found",
			serviceErr: order.ErrOrderNotFound,
			wantStatus: http.StatusNotFound,
			wantCode:   "order_not_found",
		},
		{
			name:       "store failure",
			serviceErr: errors.New("database locked"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal_error",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(nil, nil, &fakeTracking{err: tc.serviceErr})

			req := httptest.NewRequest(http.MethodGet, "/api/track-order?orderId=X&checkoutId=Y", nil)
			rec := httptest.NewRecorder()
			h.TrackOrder(rec, req)

			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.Equal(t, tc.wantCode, decodeError(t, rec).Error)
		})
	}
}
