package x402shop

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/peacprotocol/x402shop/receipt"
)

func TestSnippet(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		in   string
		want string
	}{
		"plain":              {in: "the sky is blue", want: "the sky is blue"},
		"collapses runs":     {in: "the\t\tsky  is\n\nblue", want: "the sky is blue"},
		"leading whitespace": {in: "\n  ready", want: " ready"},
		"truncates to bound": {in: strings.Repeat("x", 450), want: strings.Repeat("x", 400)},
		"empty":              {in: "", want: ""},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if got := snippet(tt.in); got != tt.want {
				t.Fatalf("snippet(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	t.Run("truncates on rune boundaries", func(t *testing.T) {
		t.Parallel()
		got := snippet(strings.Repeat("é", 450))
		if utf8.RuneCountInString(got) != 400 {
			t.Fatalf("expected 400 runes, got %d", utf8.RuneCountInString(got))
		}
		if !utf8.ValidString(got) {
			t.Fatal("truncation split a rune")
		}
	})
}

func TestHTTPFactChecker(t *testing.T) {
	t.Parallel()

	t.Run("fetches and hashes the page", func(t *testing.T) {
		t.Parallel()
		const page = "Claim:   water\nis wet."
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(page))
		}))
		t.Cleanup(upstream.Close)

		got, err := NewHTTPFactChecker().Check(context.Background(), upstream.URL)
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if !got.OK {
			t.Fatal("expected ok result")
		}
		if got.Snippet != "Claim: water is wet." {
			t.Fatalf("unexpected snippet %q", got.Snippet)
		}
		// The hash covers the raw fetched bytes, not the collapsed excerpt.
		if got.PageHash != receipt.ContentHash([]byte(page)) {
			t.Fatalf("unexpected page hash %s", got.PageHash)
		}
	})

	t.Run("non-2xx is an error", func(t *testing.T) {
		t.Parallel()
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		t.Cleanup(upstream.Close)

		if _, err := NewHTTPFactChecker().Check(context.Background(), upstream.URL); err == nil {
			t.Fatal("expected error for 503 upstream")
		}
	})

	t.Run("times out slow upstreams", func(t *testing.T) {
		t.Parallel()
		upstream := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		}))
		t.Cleanup(upstream.Close)

		checker := NewHTTPFactChecker(WithFactCheckTimeout(50 * time.Millisecond))
		if _, err := checker.Check(context.Background(), upstream.URL); err == nil {
			t.Fatal("expected timeout error")
		}
	})
}

func TestFactCheckEndpoint(t *testing.T) {
	t.Parallel()

	const page = "Independent   sources\nconfirm the claim."
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(page))
	}))
	t.Cleanup(upstream.Close)

	ts := newTestShop(t)
	target := upstream.URL + "/article"
	path := "/factcheck?url=" + url.QueryEscape(target)

	t.Run("missing url", func(t *testing.T) {
		rec := ts.do(t, "GET", "/factcheck", "", nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
		}
		errBody := decodeBody[Error](t, rec)
		if errBody.Code != MissingURL {
			t.Fatalf("expected code %q, got %q", MissingURL, errBody.Code)
		}
	})

	t.Run("non-http url", func(t *testing.T) {
		for _, bad := range []string{"/relative/path", "ftp://example.com/x", "not a url"} {
			rec := ts.do(t, "GET", "/factcheck?url="+url.QueryEscape(bad), "", nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("url %q: expected 400, got %d: %s", bad, rec.Code, rec.Body.String())
			}
		}
	})

	rec := ts.do(t, "GET", path, "", nil)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", rec.Code, rec.Body.String())
	}
	challenge := decodeBody[PaymentChallenge](t, rec)
	if challenge.X402.SessionID == "" {
		t.Fatal("challenge carries no session id")
	}
	if !challenge.X402.AmountUSD.Equal(MustAmount("0.01")) {
		t.Fatalf("expected flat price 0.01, got %s", challenge.X402.AmountUSD)
	}
	if challenge.X402.PayEndpointHint != "https://shop.example/factcheck" {
		t.Fatalf("unexpected pay endpoint hint %q", challenge.X402.PayEndpointHint)
	}

	headers := map[string]string{
		"X-402-Session": challenge.X402.SessionID,
		"X-402-Proof":   DemoToken,
	}
	paid := ts.do(t, "GET", path, "", headers)
	if paid.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", paid.Code, paid.Body.String())
	}
	token := paid.Header().Get("PEAC-Receipt")
	if token == "" {
		t.Fatal("missing PEAC-Receipt header")
	}

	body := decodeBody[struct {
		URL    string          `json:"url"`
		Result FactCheckResult `json:"result"`
	}](t, paid)
	if body.URL != target {
		t.Fatalf("response echoes wrong url %q", body.URL)
	}
	if !body.Result.OK {
		t.Fatal("expected ok result")
	}
	if body.Result.Snippet != "Independent sources confirm the claim." {
		t.Fatalf("unexpected snippet %q", body.Result.Snippet)
	}
	if body.Result.PageHash != receipt.ContentHash([]byte(page)) {
		t.Fatalf("unexpected page hash %s", body.Result.PageHash)
	}

	result := receipt.Verify(token, ts.keys)
	if !result.Valid {
		t.Fatalf("receipt invalid: %s %s", result.Code, result.Reason)
	}
	if result.Payload.Subject != "factcheck" {
		t.Fatalf("unexpected subject %q", result.Payload.Subject)
	}
	if result.Payload.Request.Method != "GET" || result.Payload.Request.Path != "/factcheck" {
		t.Fatalf("unexpected request descriptor %+v", result.Payload.Request)
	}
	if result.Payload.Request.Query != "url="+url.QueryEscape(target) {
		t.Fatalf("unexpected request query %q", result.Payload.Request.Query)
	}
	if got, want := result.Payload.Response.BodySHA256, receipt.ContentHash(paid.Body.Bytes()); got != want {
		t.Fatalf("content hash mismatch: receipt %s, body %s", got, want)
	}
	if result.Payload.Payment.SessionID != challenge.X402.SessionID {
		t.Fatalf("receipt bound to wrong session %q", result.Payload.Payment.SessionID)
	}
	if result.Payload.Payment.Amount.String() != "0.01" {
		t.Fatalf("unexpected receipt amount %s", result.Payload.Payment.Amount)
	}

	// The paying proof replays the identical evidence; any other proof is
	// rejected without a body or receipt.
	again := ts.do(t, "GET", path, "", headers)
	if again.Code != http.StatusOK {
		t.Fatalf("replay: expected 200, got %d: %s", again.Code, again.Body.String())
	}
	if again.Body.String() != paid.Body.String() {
		t.Fatal("replay returned different evidence")
	}
	forged := ts.do(t, "GET", path, "", map[string]string{
		"X-402-Session": challenge.X402.SessionID,
		"X-402-Proof":   "totally-bogus",
	})
	if forged.Code != http.StatusPaymentRequired {
		t.Fatalf("forged replay: expected 402, got %d: %s", forged.Code, forged.Body.String())
	}
	if forged.Header().Get("PEAC-Receipt") != "" {
		t.Fatal("forged replay leaked a receipt")
	}
}

func TestFactCheckUnknownSession(t *testing.T) {
	t.Parallel()

	ts := newTestShop(t)
	rec := ts.do(t, "GET", "/factcheck?url="+url.QueryEscape("https://example.com/a"), "", map[string]string{
		"X-402-Session": "never-issued",
		"X-402-Proof":   DemoToken,
	})
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", rec.Code, rec.Body.String())
	}
	challenge := decodeBody[PaymentChallenge](t, rec)
	if challenge.X402.SessionID == "" || challenge.X402.SessionID == "never-issued" {
		t.Fatalf("expected a fresh session, got %q", challenge.X402.SessionID)
	}
}

func TestFactCheckUpstreamFailure(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(upstream.Close)

	ts := newTestShop(t)
	path := "/factcheck?url=" + url.QueryEscape(upstream.URL)

	challenge := decodeBody[PaymentChallenge](t, ts.do(t, "GET", path, "", nil))
	rec := ts.do(t, "GET", path, "", map[string]string{
		"X-402-Session": challenge.X402.SessionID,
		"X-402-Proof":   DemoToken,
	})
	// Payment settled; the fetch failure is the upstream's fault, not the
	// payer's, so the response is a 502 rather than another challenge.
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
	errBody := decodeBody[Error](t, rec)
	if errBody.Type != UpstreamFailure {
		t.Fatalf("expected type %q, got %q", UpstreamFailure, errBody.Type)
	}
	if errBody.Code != FactcheckFailed {
		t.Fatalf("expected code %q, got %q", FactcheckFailed, errBody.Code)
	}
}
