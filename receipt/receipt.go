// Package receipt issues and verifies `peac-receipt+jws` tokens: EdDSA-signed,
// self-contained proofs of what was purchased, for how much, under which
// policy, and that the delivered response body matches what was paid for.
// Verification needs only the public key set and works fully offline.
package receipt

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	canonicaljson "github.com/gibson042/canonicaljson-go"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// Version is the receipt schema version embedded in every payload.
	Version = "0.9.11"
	// TokenType is the JWS typ header distinguishing receipts from generic
	// bearer tokens.
	TokenType = "peac-receipt+jws"
	// Algorithm is the only signature algorithm receipts are issued or
	// accepted with.
	Algorithm = "EdDSA"
)

// RequestDescriptor identifies the request the receipt covers.
type RequestDescriptor struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	Query  string `json:"query"`
}

// ResponseDescriptor binds the receipt to the exact response content.
type ResponseDescriptor struct {
	Status int `json:"status"`
	// BodySHA256 is the lowercase hex SHA-256 of the exact serialized
	// response body, computed once at issuance.
	BodySHA256 string `json:"body_sha256"`
}

// PaymentDescriptor records the settled payment.
type PaymentDescriptor struct {
	Rail      string      `json:"rail"`
	Amount    json.Number `json:"amount"`
	Currency  string      `json:"currency"`
	Chain     string      `json:"chain"`
	ProofID   string      `json:"proof_id"`
	SessionID string      `json:"session_id"`
	Payer     string      `json:"payer"`
}

// Policy embeds a full copy of the usage policy in force at issuance, not a
// reference, so the receipt stays self-verifying if the policy later changes.
type Policy struct {
	AiprefURL      string          `json:"aipref_url"`
	AiprefSnapshot json.RawMessage `json:"aipref_snapshot"`
}

// Provenance is a placeholder for content-provenance attestations.
type Provenance struct {
	C2PA json.RawMessage `json:"c2pa"`
}

// Payload is the signed receipt body. It is a pure function of its inputs.
type Payload struct {
	ReceiptVersion string             `json:"receipt_version"`
	IssuedAt       time.Time          `json:"issued_at"`
	Subject        string             `json:"subject"`
	Request        RequestDescriptor  `json:"request"`
	Response       ResponseDescriptor `json:"response"`
	Payment        PaymentDescriptor  `json:"payment"`
	Order          json.RawMessage    `json:"order,omitempty"`
	Policy         Policy             `json:"policy"`
	Provenance     Provenance         `json:"provenance"`
	VerifyURL      string             `json:"verify_url"`
}

// payloadClaims adapts Payload to the jwt.Claims interface. Receipts carry
// no registered expiry or audience claims.
type payloadClaims struct {
	Payload
}

func (c payloadClaims) GetExpirationTime() (*jwt.NumericDate, error) { return nil, nil }
func (c payloadClaims) GetIssuedAt() (*jwt.NumericDate, error)       { return nil, nil }
func (c payloadClaims) GetNotBefore() (*jwt.NumericDate, error)      { return nil, nil }
func (c payloadClaims) GetIssuer() (string, error)                   { return "", nil }
func (c payloadClaims) GetSubject() (string, error)                  { return c.Subject, nil }
func (c payloadClaims) GetAudience() (jwt.ClaimStrings, error)       { return nil, nil }

// ContentHash returns the lowercase hex SHA-256 of body.
func ContentHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// CanonicalizePolicy normalizes an arbitrary JSON policy document into
// canonical form before it is embedded, so snapshot bytes do not depend on
// the formatting of the source file.
func CanonicalizePolicy(raw []byte) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("null"), nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("receipt: decode policy document: %w", err)
	}
	if dec.More() {
		return nil, errors.New("receipt: multiple JSON documents in policy")
	}
	canonical, err := canonicaljson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("receipt: canonicalize policy document: %w", err)
	}
	return canonical, nil
}

// Issuer signs receipt payloads with a named Ed25519 key. It holds no other
// state; issuance is the payload transform plus one signature computation.
type Issuer struct {
	key   ed25519.PrivateKey
	kid   string
	clock func() time.Time
}

// IssuerOption customizes an [Issuer].
type IssuerOption func(*Issuer)

// WithClock provides deterministic issuance time in tests.
func WithClock(fn func() time.Time) IssuerOption {
	return func(i *Issuer) {
		i.clock = fn
	}
}

// NewIssuer builds an issuer for the given signing key and key id.
func NewIssuer(key ed25519.PrivateKey, kid string, opts ...IssuerOption) (*Issuer, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("receipt: signing key must be %d bytes", ed25519.PrivateKeySize)
	}
	if kid == "" {
		return nil, errors.New("receipt: key id is required")
	}
	issuer := &Issuer{key: key, kid: kid, clock: time.Now}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(issuer)
	}
	return issuer, nil
}

// KID returns the key id issued receipts name in their header.
func (i *Issuer) KID() string {
	return i.kid
}

// Issue fills the schema version and issuance time, then signs the payload.
// The envelope header states algorithm, key id, and the receipt type tag.
func (i *Issuer) Issue(p Payload) (string, error) {
	if p.ReceiptVersion == "" {
		p.ReceiptVersion = Version
	}
	if p.IssuedAt.IsZero() {
		p.IssuedAt = i.clock().UTC().Truncate(time.Second)
	}
	if p.Provenance.C2PA == nil {
		p.Provenance.C2PA = json.RawMessage("null")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, payloadClaims{p})
	token.Header["kid"] = i.kid
	token.Header["typ"] = TokenType
	signed, err := token.SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("receipt: sign payload: %w", err)
	}
	return signed, nil
}
