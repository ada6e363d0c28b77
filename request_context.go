package x402shop

import (
	"context"
	"net/http"
	"strings"
)

// PaymentContext carries the per-request payment evidence and correlation
// headers the checkout state machine keys on.
type PaymentContext struct {
	// Opaque proof produced by the payment rail.
	//
	// Example: demo-pay-ok-123
	Proof string
	// Session issued by a prior 402 challenge.
	//
	// Example: 6f1c9c7e-8e9b-4f3e-9a51-30b8f3f0a2c1
	SessionID string
	// Key used to ensure checkout submissions are idempotent.
	//
	// Example: idempotency_key_123
	IdempotencyKey string
	// Unique key for each request for tracing purposes.
	//
	// Example: request_id_123
	RequestID string
	// API key used to call guarded routes.
	//
	// Example: Bearer merchant_key_123
	Authorization string
}

func paymentContextFromRequest(r *http.Request) *PaymentContext {
	sessionID := strings.TrimSpace(r.Header.Get("X-402-Session"))
	if sessionID == "" {
		sessionID = strings.TrimSpace(r.URL.Query().Get("session_id"))
	}
	return &PaymentContext{
		Proof:          strings.TrimSpace(r.Header.Get("X-402-Proof")),
		SessionID:      sessionID,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
		RequestID:      strings.TrimSpace(r.Header.Get("Request-Id")),
		Authorization:  strings.TrimSpace(r.Header.Get("Authorization")),
	}
}

type paymentContextKey struct{}

func contextWithPaymentContext(ctx context.Context, pctx *PaymentContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if pctx == nil {
		return ctx
	}
	return context.WithValue(ctx, paymentContextKey{}, pctx)
}

// PaymentContextFromContext extracts the payment evidence previously stored in the context.
func PaymentContextFromContext(ctx context.Context) *PaymentContext {
	if ctx == nil {
		return nil
	}
	if pctx, ok := ctx.Value(paymentContextKey{}).(*PaymentContext); ok {
		return pctx
	}
	return nil
}
