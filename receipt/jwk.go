package receipt

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// JWK is the subset of RFC 7517 needed for Ed25519 signing keys, matching
// the key files the keygen tool writes.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	D   string `json:"d,omitempty"`
	KID string `json:"kid,omitempty"`
	Alg string `json:"alg,omitempty"`
	Use string `json:"use,omitempty"`
}

// PublicJWK encodes an Ed25519 public key.
func PublicJWK(kid string, key ed25519.PublicKey) JWK {
	return JWK{
		Kty: "OKP",
		Crv: "Ed25519",
		X:   base64.RawURLEncoding.EncodeToString(key),
		KID: kid,
		Alg: Algorithm,
		Use: "sig",
	}
}

// PrivateJWK encodes an Ed25519 private key, seed in d and public point in x.
func PrivateJWK(kid string, key ed25519.PrivateKey) JWK {
	return JWK{
		Kty: "OKP",
		Crv: "Ed25519",
		X:   base64.RawURLEncoding.EncodeToString(key.Public().(ed25519.PublicKey)),
		D:   base64.RawURLEncoding.EncodeToString(key.Seed()),
		KID: kid,
		Alg: Algorithm,
		Use: "sig",
	}
}

// ParseJWK decodes a JWK document and checks it describes an Ed25519 key.
func ParseJWK(data []byte) (JWK, error) {
	var jwk JWK
	if err := json.Unmarshal(data, &jwk); err != nil {
		return JWK{}, fmt.Errorf("receipt: decode jwk: %w", err)
	}
	if jwk.Kty != "OKP" || jwk.Crv != "Ed25519" {
		return JWK{}, fmt.Errorf("receipt: unsupported key type %s/%s", jwk.Kty, jwk.Crv)
	}
	return jwk, nil
}

// PublicKey extracts the Ed25519 public key.
func (j JWK) PublicKey() (ed25519.PublicKey, error) {
	x, err := base64.RawURLEncoding.DecodeString(j.X)
	if err != nil {
		return nil, fmt.Errorf("receipt: decode x: %w", err)
	}
	if len(x) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("receipt: public key must be %d bytes", ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(x), nil
}

// PrivateKey derives the Ed25519 private key from the seed.
func (j JWK) PrivateKey() (ed25519.PrivateKey, error) {
	if j.D == "" {
		return nil, errors.New("receipt: jwk has no private component")
	}
	seed, err := base64.RawURLEncoding.DecodeString(j.D)
	if err != nil {
		return nil, fmt.Errorf("receipt: decode d: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("receipt: seed must be %d bytes", ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}
