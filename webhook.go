package x402shop

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WebhookEventType enumerates the emitted shop webhook events.
type WebhookEventType string

const (
	WebhookEventTypeOrderCreated WebhookEventType = "order_created"
)

// DefaultWebhookHeader carries the payload signature on webhook deliveries.
const DefaultWebhookHeader = "PEAC-Webhook-Signature"

type webhookEvent struct {
	Type WebhookEventType `json:"type"`
	Data webhookOrder     `json:"data"`
}

type webhookOrder struct {
	Type       string    `json:"type"`
	OrderID    string    `json:"order_id"`
	CreatedAt  time.Time `json:"created_at"`
	GrandTotal Amount    `json:"grand_total"`
	Payer      string    `json:"payer"`
}

// WebhookOption customizes webhook delivery.
type WebhookOption func(*Webhook)

// WithWebhookClient swaps the HTTP client used for deliveries.
func WithWebhookClient(client *http.Client) WebhookOption {
	return func(w *Webhook) {
		w.client = client
	}
}

// WithWebhookHeader overrides the signature header name.
func WithWebhookHeader(header string) WebhookOption {
	return func(w *Webhook) {
		w.header = header
	}
}

// Webhook posts HMAC-signed order events to a merchant-configured endpoint.
type Webhook struct {
	endpoint string
	secret   []byte
	header   string
	client   *http.Client
}

// NewWebhook builds a webhook sender for the given endpoint and shared secret.
func NewWebhook(endpoint string, secret []byte, opts ...WebhookOption) *Webhook {
	if endpoint == "" {
		panic("webhook: endpoint is required")
	}
	if len(secret) == 0 {
		panic("webhook: secret is required")
	}
	w := &Webhook{
		endpoint: endpoint,
		secret:   secret,
		header:   DefaultWebhookHeader,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(w)
	}
	return w
}

// SendOrderCreated posts an order_created event for the stored order.
func (w *Webhook) SendOrderCreated(ctx context.Context, order *StoredOrder) error {
	if order == nil {
		return errors.New("webhook: order is required")
	}
	body, err := json.Marshal(webhookEvent{
		Type: WebhookEventTypeOrderCreated,
		Data: webhookOrder{
			Type:       "order",
			OrderID:    order.OrderID,
			CreatedAt:  order.CreatedAt,
			GrandTotal: order.Totals.GrandTotal,
			Payer:      order.Payment.Payer,
		},
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(w.header, signWebhookPayload(w.secret, body))

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("webhook: endpoint %s returned %s: %s", w.endpoint, resp.Status, strings.TrimSpace(string(snippet)))
	}
	return nil
}

func signWebhookPayload(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(payload)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
