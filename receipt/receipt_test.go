package receipt

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func testKeyPair(t *testing.T, seed byte) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	raw := bytes.Repeat([]byte{seed}, ed25519.SeedSize)
	priv := ed25519.NewKeyFromSeed(raw)
	return priv.Public().(ed25519.PublicKey), priv
}

func testPayload() Payload {
	return Payload{
		Subject:  "order",
		Request:  RequestDescriptor{Method: "POST", Path: "/shop/checkout"},
		Response: ResponseDescriptor{Status: 200, BodySHA256: ContentHash([]byte(`{"order_id":"ord_1"}`))},
		Payment: PaymentDescriptor{
			Rail:      "x402",
			Amount:    json.Number("0.04"),
			Currency:  "USDC",
			Chain:     "base",
			ProofID:   "proof-1",
			SessionID: "sess-1",
			Payer:     "payer-1",
		},
		Policy: Policy{
			AiprefURL:      "https://shop.example/aipref.json",
			AiprefSnapshot: json.RawMessage(`{"train":false,"usage":"paid"}`),
		},
		VerifyURL: "https://shop.example/verify",
	}
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	t.Parallel()

	pub, priv := testKeyPair(t, 1)
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer, err := NewIssuer(priv, "key-1", WithClock(func() time.Time { return issued }))
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}

	token, err := issuer.Issue(testPayload())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	keys := KeySet{}
	keys.Add("key-1", pub)
	result := Verify(token, keys)
	if !result.Valid {
		t.Fatalf("expected valid, got %q: %s", result.Code, result.Reason)
	}
	if result.Header["alg"] != Algorithm {
		t.Fatalf("unexpected alg %v", result.Header["alg"])
	}
	if result.Header["kid"] != "key-1" {
		t.Fatalf("unexpected kid %v", result.Header["kid"])
	}
	if result.Header["typ"] != TokenType {
		t.Fatalf("unexpected typ %v", result.Header["typ"])
	}

	payload := result.Payload
	if payload.ReceiptVersion != Version {
		t.Fatalf("unexpected receipt version %q", payload.ReceiptVersion)
	}
	if !payload.IssuedAt.Equal(issued) {
		t.Fatalf("unexpected issued_at %v", payload.IssuedAt)
	}
	want := testPayload()
	if payload.Subject != want.Subject {
		t.Fatalf("unexpected subject %q", payload.Subject)
	}
	if payload.Response != want.Response {
		t.Fatalf("response descriptor changed: %+v", payload.Response)
	}
	if payload.Payment != want.Payment {
		t.Fatalf("payment descriptor changed: %+v", payload.Payment)
	}
	if !bytes.Equal(payload.Policy.AiprefSnapshot, want.Policy.AiprefSnapshot) {
		t.Fatalf("policy snapshot changed: %s", payload.Policy.AiprefSnapshot)
	}
}

func TestVerifyRejections(t *testing.T) {
	t.Parallel()

	pub, priv := testKeyPair(t, 2)
	otherPub, _ := testKeyPair(t, 3)
	issuer, err := NewIssuer(priv, "key-1")
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	token, err := issuer.Issue(testPayload())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	keyed := func(kid string, key ed25519.PublicKey) KeySet {
		ks := KeySet{}
		ks.Add(kid, key)
		return ks
	}

	t.Run("wrong key", func(t *testing.T) {
		result := Verify(token, keyed("key-1", otherPub))
		if result.Valid || result.Code != "verify_failed" {
			t.Fatalf("expected verify_failed, got %+v", result)
		}
	})

	t.Run("unknown key id", func(t *testing.T) {
		result := Verify(token, keyed("other-key", pub))
		if result.Valid || result.Code != "unknown_key" {
			t.Fatalf("expected unknown_key, got %+v", result)
		}
	})

	t.Run("tampered payload", func(t *testing.T) {
		parts := strings.Split(token, ".")
		decoded, err := base64.RawURLEncoding.DecodeString(parts[1])
		if err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		tampered := bytes.Replace(decoded, []byte(`"payer-1"`), []byte(`"payer-2"`), 1)
		parts[1] = base64.RawURLEncoding.EncodeToString(tampered)
		result := Verify(strings.Join(parts, "."), keyed("key-1", pub))
		if result.Valid {
			t.Fatal("tampered token verified")
		}
	})

	t.Run("algorithm none", func(t *testing.T) {
		header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","kid":"key-1","typ":"peac-receipt+jws"}`))
		payload := base64.RawURLEncoding.EncodeToString([]byte(`{"subject":"order"}`))
		result := Verify(header+"."+payload+".", keyed("key-1", pub))
		if result.Valid {
			t.Fatal("unsigned token verified")
		}
	})

	t.Run("truncated token", func(t *testing.T) {
		result := Verify(token[:len(token)/2], keyed("key-1", pub))
		if result.Valid || result.Reason == "" {
			t.Fatalf("expected failure with reason, got %+v", result)
		}
	})

	t.Run("generic bearer token type", func(t *testing.T) {
		plain := jwtWithTyp(t, priv, "JWT")
		result := Verify(plain, keyed("key-1", pub))
		if result.Valid || result.Code != "verify_failed" {
			t.Fatalf("expected typ rejection, got %+v", result)
		}
	})
}

// jwtWithTyp signs a payload with a foreign typ header to check the
// content-type tag is enforced.
func jwtWithTyp(t *testing.T, priv ed25519.PrivateKey, typ string) string {
	t.Helper()
	issuer, err := NewIssuer(priv, "key-1")
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	token, err := issuer.Issue(testPayload())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	parts := strings.Split(token, ".")
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"EdDSA","kid":"key-1","typ":"` + typ + `"}`))
	signingInput := header + "." + parts[1]
	sig := ed25519.Sign(priv, []byte(signingInput))
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig)
}

func TestContentHash(t *testing.T) {
	t.Parallel()

	// Known SHA-256 of the empty string.
	if got := ContentHash(nil); got != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Fatalf("unexpected empty hash %s", got)
	}
	if ContentHash([]byte("a")) == ContentHash([]byte("b")) {
		t.Fatal("distinct bodies hashed identically")
	}
}

func TestCanonicalizePolicy(t *testing.T) {
	t.Parallel()

	canonical, err := CanonicalizePolicy([]byte("{\n  \"b\": true,\n  \"a\": \"x\"\n}"))
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if string(canonical) != `{"a":"x","b":true}` {
		t.Fatalf("unexpected canonical form %s", canonical)
	}

	if _, err := CanonicalizePolicy([]byte(`{"a":1}{"b":2}`)); err == nil {
		t.Fatal("multiple documents accepted")
	}
	if _, err := CanonicalizePolicy([]byte(`not json`)); err == nil {
		t.Fatal("invalid JSON accepted")
	}
	empty, err := CanonicalizePolicy(nil)
	if err != nil || string(empty) != "null" {
		t.Fatalf("empty policy: %s err=%v", empty, err)
	}
}

func TestJWKRoundTrip(t *testing.T) {
	t.Parallel()

	pub, priv := testKeyPair(t, 4)

	privJWK := PrivateJWK("key-4", priv)
	raw, err := json.Marshal(privJWK)
	if err != nil {
		t.Fatalf("marshal jwk: %v", err)
	}
	parsed, err := ParseJWK(raw)
	if err != nil {
		t.Fatalf("parse jwk: %v", err)
	}
	gotPriv, err := parsed.PrivateKey()
	if err != nil {
		t.Fatalf("private key: %v", err)
	}
	if !priv.Equal(gotPriv) {
		t.Fatal("private key round trip mismatch")
	}

	pubJWK := PublicJWK("key-4", pub)
	gotPub, err := pubJWK.PublicKey()
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	if !pub.Equal(gotPub) {
		t.Fatal("public key round trip mismatch")
	}
	if _, err := pubJWK.PrivateKey(); err == nil {
		t.Fatal("public jwk yielded a private key")
	}

	if _, err := ParseJWK([]byte(`{"kty":"RSA"}`)); err == nil {
		t.Fatal("non-Ed25519 jwk accepted")
	}
}
