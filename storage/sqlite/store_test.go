package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/peacprotocol/x402shop"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "orders.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func storedOrder(id string, total string) *x402shop.StoredOrder {
	return &x402shop.StoredOrder{
		Order: x402shop.Order{
			OrderID: id,
			Items: []x402shop.LineItem{
				{SKU: "sku_tea", Qty: 1, UnitPriceUSD: x402shop.MustAmount(total)},
			},
			Totals: x402shop.Totals{
				Subtotal:   x402shop.MustAmount(total),
				Tax:        x402shop.MustAmount("0"),
				Fees:       x402shop.MustAmount("0"),
				GrandTotal: x402shop.MustAmount(total),
			},
			CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		Receipt: "token-" + id,
		Payment: x402shop.PaymentMeta{
			SessionID:  "sess-" + id,
			ProofID:    "proof-" + id,
			Payer:      "payer-1",
			VerifiedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, storedOrder("ord_1", "0.01")); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := store.Get(ctx, "ord_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Receipt != "token-ord_1" || got.Payment.Payer != "payer-1" {
		t.Fatalf("unexpected order %+v", got)
	}
	if !got.Totals.GrandTotal.Equal(x402shop.MustAmount("0.01")) {
		t.Fatalf("unexpected total %s", got.Totals.GrandTotal)
	}
	if !got.CreatedAt.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected created_at %v", got.CreatedAt)
	}
	if len(got.Items) != 1 || got.Items[0].SKU != "sku_tea" {
		t.Fatalf("unexpected items %+v", got.Items)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, x402shop.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestStoreList(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"ord_a", "ord_b", "ord_c"} {
		if err := store.Put(ctx, storedOrder(id, "0.02")); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}
	orders, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(orders) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(orders))
	}
	for i, want := range []string{"ord_a", "ord_b", "ord_c"} {
		if orders[i].OrderID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, orders[i].OrderID)
		}
	}

	// Replacing an id must not duplicate it in the listing.
	if err := store.Put(ctx, storedOrder("ord_b", "0.02")); err != nil {
		t.Fatalf("re-put: %v", err)
	}
	orders, err = store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(orders) != 3 {
		t.Fatalf("expected 3 orders after replace, got %d", len(orders))
	}
}

func TestStorePutValidation(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, nil); err == nil {
		t.Fatal("expected error for nil order")
	}
	if err := store.Put(ctx, &x402shop.StoredOrder{}); err == nil {
		t.Fatal("expected error for missing order id")
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(" "); err == nil {
		t.Fatal("expected error for empty path")
	}
}
