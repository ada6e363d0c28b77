package x402shop

import (
	"context"
	"net/http/httptest"
	"testing"
)

func TestPaymentContextFromRequest(t *testing.T) {
	t.Parallel()

	t.Run("headers", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest("POST", "/shop/checkout", nil)
		req.Header.Set("X-402-Proof", " demo-pay-ok-123 ")
		req.Header.Set("X-402-Session", "sess-1")
		req.Header.Set("Idempotency-Key", "idem-1")
		req.Header.Set("Request-Id", "req-1")
		req.Header.Set("Authorization", "Bearer key-1")

		pctx := paymentContextFromRequest(req)
		if pctx.Proof != "demo-pay-ok-123" {
			t.Fatalf("unexpected proof %q", pctx.Proof)
		}
		if pctx.SessionID != "sess-1" || pctx.IdempotencyKey != "idem-1" {
			t.Fatalf("unexpected context %+v", pctx)
		}
		if pctx.RequestID != "req-1" || pctx.Authorization != "Bearer key-1" {
			t.Fatalf("unexpected context %+v", pctx)
		}
	})

	t.Run("session id falls back to query", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest("POST", "/shop/checkout?session_id=sess-q", nil)
		pctx := paymentContextFromRequest(req)
		if pctx.SessionID != "sess-q" {
			t.Fatalf("unexpected session id %q", pctx.SessionID)
		}
	})

	t.Run("header wins over query", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest("POST", "/shop/checkout?session_id=sess-q", nil)
		req.Header.Set("X-402-Session", "sess-h")
		pctx := paymentContextFromRequest(req)
		if pctx.SessionID != "sess-h" {
			t.Fatalf("unexpected session id %q", pctx.SessionID)
		}
	})
}

func TestPaymentContextRoundTrip(t *testing.T) {
	t.Parallel()

	pctx := &PaymentContext{Proof: "p", SessionID: "s"}
	ctx := contextWithPaymentContext(context.Background(), pctx)
	if got := PaymentContextFromContext(ctx); got != pctx {
		t.Fatalf("unexpected context value %+v", got)
	}
	if got := PaymentContextFromContext(context.Background()); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}
