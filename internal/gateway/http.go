package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/oakline/storefront/internal/order"
)

// HTTPClient talks to the processor's JSON API over HTTPS.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient builds a client for the processor API at baseURL. The request
// timeout must be finite and short: a hanging gateway call during webhook
// processing would otherwise eat the processor's own request capacity.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type createSessionRequest struct {
	Items         []SessionItem `json:"items"`
	Currency      string        `json:"currency"`
	CustomerEmail string        `json:"customer_email,omitempty"`
	SuccessURL    string        `json:"success_url"`
	CancelURL     string        `json:"cancel_url"`
	Metadata      struct {
		OrderCode string `json:"order_code"`
	} `json:"metadata"`
}

type sessionResponse struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	PaymentID     string `json:"payment_id"`
	PaymentStatus string `json:"payment_status"`
	AmountTotal   int64  `json:"amount_total"`
	AmountTax     int64  `json:"amount_tax"`
	ShippingCost  int64  `json:"shipping_cost"`
	Currency      string `json:"currency"`
	Shipping      struct {
		Address order.Address `json:"address"`
	} `json:"shipping"`
	Metadata struct {
		OrderCode string `json:"order_code"`
	} `json:"metadata"`
}

// CreateSession opens a hosted checkout session. An idempotency key is sent
// with every attempt so a retried call after an ambiguous failure cannot
// open a second session for the same attempt.
func (c *HTTPClient) CreateSession(ctx context.Context, params CreateSessionParams) (*Session, error) {
	body := createSessionRequest{
		Items:         params.Items,
		Currency:      params.Currency,
		CustomerEmail: params.CustomerEmail,
		SuccessURL:    params.SuccessURL,
		CancelURL:     params.CancelURL,
	}
	body.Metadata.OrderCode = params.OrderCode

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("gateway: marshal session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/checkout/sessions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("gateway: build session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Idempotency-Key", uuid.NewString())

	var res sessionResponse
	if err := c.do(req, &res); err != nil {
		return nil, err
	}

	return &Session{ID: res.ID, RedirectURL: res.URL}, nil
}

// RetrieveSession fetches the authoritative session state, used by the
// reconciliation processor to resolve payment ids and final totals.
func (c *HTTPClient) RetrieveSession(ctx context.Context, sessionID string) (*SessionDetail, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/checkout/sessions/"+sessionID, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: build retrieve request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var res sessionResponse
	if err := c.do(req, &res); err != nil {
		return nil, err
	}

	return &SessionDetail{
		ID:              res.ID,
		PaymentID:       res.PaymentID,
		PaymentStatus:   res.PaymentStatus,
		OrderCode:       res.Metadata.OrderCode,
		ShippingAddress: res.Shipping.Address,
		ShippingCost:    res.ShippingCost,
		Tax:             res.AmountTax,
		Total:           res.AmountTotal,
		Currency:        res.Currency,
	}, nil
}

// do executes the request and classifies failures: transport errors and 5xx
// are ErrUnavailable (retryable), 4xx is ErrRejected (terminal).
func (c *HTTPClient) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: %s %s: %w: %w", req.Method, req.URL.Path, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("gateway: %s %s: status %d: %w", req.Method, req.URL.Path, resp.StatusCode, ErrUnavailable)
	case resp.StatusCode >= 400:
		return fmt.Errorf("gateway: %s %s: status %d: %w", req.Method, req.URL.Path, resp.StatusCode, ErrRejected)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("gateway: decode response: %w: %w", ErrUnavailable, err)
	}
	return nil
}
