package receipt

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnknownKey reports a receipt naming a key id absent from the key set.
var ErrUnknownKey = errors.New("unknown key id")

// KeySet maps key ids to Ed25519 public keys. It is built once and shared
// read-only.
type KeySet map[string]ed25519.PublicKey

// Add registers a public key under kid.
func (ks KeySet) Add(kid string, key ed25519.PublicKey) {
	ks[kid] = key
}

// Get returns the key for kid, or false when absent.
func (ks KeySet) Get(kid string) (ed25519.PublicKey, bool) {
	key, ok := ks[kid]
	return key, ok
}

// Result is the outcome of verifying one receipt token.
type Result struct {
	Valid bool
	// Header and Payload are returned unchanged on success.
	Header  map[string]any
	Payload *Payload
	// Code is "unknown_key" or "verify_failed" when Valid is false.
	Code string
	// Reason is a human-readable diagnostic. It never contains key material.
	Reason string
}

// Verify checks a receipt token against the key set. It is pure, stateless,
// and performs no network access: any holder of the public keys can run it
// offline. Only EdDSA envelopes are accepted; unsigned ("none") and
// foreign-algorithm tokens are rejected before the key is consulted.
func Verify(token string, keys KeySet) Result {
	claims := &payloadClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, ok := t.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("%w: header has no kid", ErrUnknownKey)
		}
		key, ok := keys.Get(kid)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKey, kid)
		}
		return key, nil
	}, jwt.WithValidMethods([]string{Algorithm}))
	if err != nil {
		code := "verify_failed"
		if errors.Is(err, ErrUnknownKey) {
			code = "unknown_key"
		}
		return Result{Code: code, Reason: err.Error()}
	}
	if typ, _ := parsed.Header["typ"].(string); typ != TokenType {
		return Result{Code: "verify_failed", Reason: fmt.Sprintf("unexpected token type %q", parsed.Header["typ"])}
	}
	return Result{
		Valid:   true,
		Header:  parsed.Header,
		Payload: &claims.Payload,
	}
}
