// Command keygen writes an Ed25519 signing key pair as JWK files for the
// receipt issuer and its verifiers.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/peacprotocol/x402shop/receipt"
)

func main() {
	kid := flag.String("kid", "peac-demo-key-1", "key id embedded in issued receipts")
	dir := flag.String("dir", "keys", "output directory")
	flag.Parse()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		log.Fatalf("generate key: %v", err)
	}

	if err := os.MkdirAll(*dir, 0o755); err != nil {
		log.Fatalf("create %s: %v", *dir, err)
	}

	privPath := filepath.Join(*dir, "peac-ed25519.private.jwk.json")
	pubPath := filepath.Join(*dir, "peac-ed25519.public.jwk.json")

	if err := writeJWK(privPath, receipt.PrivateJWK(*kid, priv), 0o600); err != nil {
		log.Fatalf("write private jwk: %v", err)
	}
	if err := writeJWK(pubPath, receipt.PublicJWK(*kid, pub), 0o644); err != nil {
		log.Fatalf("write public jwk: %v", err)
	}
	fmt.Printf("wrote %s and %s with kid=%s\n", privPath, pubPath, *kid)
}

func writeJWK(path string, jwk receipt.JWK, mode os.FileMode) error {
	data, err := json.MarshalIndent(jwk, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), mode)
}
