package x402shop

import "context"

// CartStore owns cart records. AddItem must serialize mutations per cart so
// two concurrent adds never lose an update.
type CartStore interface {
	Create(ctx context.Context) (*Cart, error)
	// Get returns the cart or ErrCartNotFound.
	Get(ctx context.Context, id string) (*Cart, error)
	// AddItem accumulates qty onto an existing sku entry, or appends one.
	AddItem(ctx context.Context, id, sku string, qty int) (*Cart, error)
}

// OrderStore owns fulfilled orders. Orders are immutable and never deleted.
type OrderStore interface {
	Put(ctx context.Context, order *StoredOrder) error
	// Get returns the order or ErrOrderNotFound.
	Get(ctx context.Context, id string) (*StoredOrder, error)
	// List returns every stored order in insertion order.
	List(ctx context.Context) ([]*StoredOrder, error)
}
