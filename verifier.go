package x402shop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Verification is the confirmation a payment rail produced for one proof.
type Verification struct {
	Valid    bool   `json:"valid"`
	Amount   Amount `json:"amount,omitempty"`
	Currency string `json:"currency,omitempty"`
	Chain    string `json:"chain,omitempty"`
	Payer    string `json:"payer,omitempty"`
	Rail     string `json:"rail,omitempty"`
}

// PaymentVerifier turns (session, proof) into a payment confirmation. An
// ambiguous outcome is always reported as Valid:false, never as an error
// the caller might mistake for success.
type PaymentVerifier interface {
	Verify(ctx context.Context, sessionID, proofID string) (Verification, error)
}

// DemoToken is the sentinel proof the demo verifier accepts.
const DemoToken = "demo-pay-ok-123"

// DemoVerifier accepts exactly one configured sentinel proof and returns
// canned payment attributes. Non-production only.
type DemoVerifier struct {
	Token    string
	Amount   Amount
	Currency string
	Chain    string
}

// Verify implements [PaymentVerifier] without any outbound call.
func (v DemoVerifier) Verify(_ context.Context, _ string, proofID string) (Verification, error) {
	token := v.Token
	if token == "" {
		token = DemoToken
	}
	if proofID != token {
		return Verification{}, nil
	}
	return Verification{
		Valid:    true,
		Amount:   v.Amount,
		Currency: v.Currency,
		Chain:    v.Chain,
		Payer:    "demo-payer",
		Rail:     "x402",
	}, nil
}

// FacilitatorOption customizes the facilitator verifier.
type FacilitatorOption func(*FacilitatorVerifier)

// WithFacilitatorTimeout bounds each verification call. Default 8s.
func WithFacilitatorTimeout(d time.Duration) FacilitatorOption {
	if d <= 0 {
		panic("verifier: facilitator timeout must be positive")
	}
	return func(v *FacilitatorVerifier) {
		v.timeout = d
	}
}

// WithFacilitatorClient swaps the HTTP client, e.g. for tests.
func WithFacilitatorClient(client *http.Client) FacilitatorOption {
	return func(v *FacilitatorVerifier) {
		v.client = client
	}
}

// FacilitatorVerifier asks an external verification authority to confirm a
// proof. Every failure mode of the outbound call — timeout, transport error,
// non-2xx status, malformed or incomplete body, open circuit — collapses to
// an invalid verification.
type FacilitatorVerifier struct {
	url     string
	apiKey  string
	client  *http.Client
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[Verification]
}

// NewFacilitatorVerifier builds a fail-closed facilitator client.
func NewFacilitatorVerifier(url, apiKey string, opts ...FacilitatorOption) *FacilitatorVerifier {
	v := &FacilitatorVerifier{
		url:     url,
		apiKey:  apiKey,
		client:  &http.Client{},
		timeout: 8 * time.Second,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(v)
	}
	v.breaker = gobreaker.NewCircuitBreaker[Verification](gobreaker.Settings{
		Name:    "facilitator-verify",
		Timeout: 30 * time.Second,
	})
	return v
}

type facilitatorRequest struct {
	SessionID string `json:"session_id"`
	ProofID   string `json:"proof_id"`
}

// facilitatorResponse keeps Valid a pointer so a body missing the field is
// distinguishable from an explicit false.
type facilitatorResponse struct {
	Valid    *bool       `json:"valid"`
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
	Chain    string      `json:"chain"`
	Payer    string      `json:"payer"`
	Rail     string      `json:"rail"`
}

// Verify implements [PaymentVerifier] against the remote facilitator.
func (v *FacilitatorVerifier) Verify(ctx context.Context, sessionID, proofID string) (Verification, error) {
	if v.url == "" || v.apiKey == "" {
		return Verification{}, nil
	}
	result, err := v.breaker.Execute(func() (Verification, error) {
		return v.call(ctx, sessionID, proofID)
	})
	if err != nil {
		// Fail closed: a session is never left indeterminate.
		return Verification{}, nil
	}
	return result, nil
}

func (v *FacilitatorVerifier) call(ctx context.Context, sessionID, proofID string) (Verification, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	body, err := json.Marshal(facilitatorRequest{SessionID: sessionID, ProofID: proofID})
	if err != nil {
		return Verification{}, fmt.Errorf("verifier: marshal facilitator request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(body))
	if err != nil {
		return Verification{}, fmt.Errorf("verifier: build facilitator request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+v.apiKey)

	resp, err := v.client.Do(req)
	if err != nil {
		return Verification{}, fmt.Errorf("verifier: facilitator call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return Verification{}, fmt.Errorf("verifier: facilitator returned %s", resp.Status)
	}

	var wire facilitatorResponse
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&wire); err != nil {
		return Verification{}, fmt.Errorf("verifier: decode facilitator response: %w", err)
	}
	if wire.Valid == nil {
		return Verification{}, fmt.Errorf("verifier: facilitator response missing valid field")
	}
	if !*wire.Valid {
		return Verification{}, nil
	}
	amount := zeroAmount()
	if wire.Amount != "" {
		amount, err = NewAmount(wire.Amount.String())
		if err != nil {
			return Verification{}, fmt.Errorf("verifier: facilitator amount: %w", err)
		}
	}
	return Verification{
		Valid:    true,
		Amount:   amount,
		Currency: wire.Currency,
		Chain:    wire.Chain,
		Payer:    wire.Payer,
		Rail:     wire.Rail,
	}, nil
}
