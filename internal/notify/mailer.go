package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer is the port for the email delivery provider.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// HTTPMailer delivers through a transactional-email HTTP API.
type HTTPMailer struct {
	apiURL string
	token  string
	from   string
	client *http.Client
}

var _ Mailer = (*HTTPMailer)(nil)

// NewHTTPMailer builds a mailer posting to apiURL. The timeout bounds how
// long a webhook delivery can stall on the email provider.
func NewHTTPMailer(apiURL, token, from string, timeout time.Duration) *HTTPMailer {
	return &HTTPMailer{
		apiURL: apiURL,
		token:  token,
		from:   from,
		client: &http.Client{Timeout: timeout},
	}
}

func (m *HTTPMailer) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(map[string]string{
		"from":    m.from,
		"to":      msg.To,
		"subject": msg.Subject,
		"text":    msg.Body,
	})
	if err != nil {
		return fmt.Errorf("notify: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notify: build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.token)

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send to %s: %w", msg.To, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: send to %s: provider status %d", msg.To, resp.StatusCode)
	}
	return nil
}

// LogMailer writes messages to the log instead of sending them. Intended for
// local development only.
type LogMailer struct{}

var _ Mailer = (*LogMailer)(nil)

func (LogMailer) Send(ctx context.Context, msg Message) error {
	slog.InfoContext(ctx, "notify: would send email", "to", msg.To, "subject", msg.Subject)
	return nil
}
