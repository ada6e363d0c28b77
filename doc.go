// Package x402shop implements a payment-gated shop behind the x402
// challenge/response flow, with every fulfillment bound to a signed,
// self-contained PEAC receipt that third parties can verify offline.
//
// # Checkout
//
// Use [NewHandler] with a [Service] to expose the shop contract over
// `net/http`. A checkout request without payment evidence receives a 402
// challenge carrying a session id and the quoted amount; retrying with the
// session and a payment proof dispatches to the configured
// [PaymentVerifier] and, on success, fulfills exactly one order and attaches
// the receipt in the `PEAC-Receipt` response header.
//
// # Receipts
//
// The [github.com/peacprotocol/x402shop/receipt] package issues and verifies
// the `peac-receipt+jws` envelope: an EdDSA-signed payload embedding the
// request/response descriptors, a SHA-256 content hash of the exact order
// body, the payment metadata, and a full snapshot of the usage policy in
// force at issuance time. Verification needs only the public key set.
//
// # Stores
//
// Sessions, carts, and orders live behind narrow store interfaces. In-memory
// implementations ship in this package; a SQLite-backed order store lives in
// [github.com/peacprotocol/x402shop/storage/sqlite].
package x402shop
