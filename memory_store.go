package x402shop

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type memoryCartStore struct {
	mu    sync.Mutex
	carts map[string]*Cart
}

// NewMemoryCartStore builds a mutex-guarded in-process [CartStore].
func NewMemoryCartStore() CartStore {
	return &memoryCartStore{carts: make(map[string]*Cart)}
}

func (s *memoryCartStore) Create(ctx context.Context) (*Cart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cart := &Cart{ID: uuid.NewString(), Items: []CartItem{}}
	s.mu.Lock()
	s.carts[cart.ID] = cart
	s.mu.Unlock()
	return snapshotCart(cart), nil
}

func (s *memoryCartStore) Get(ctx context.Context, id string) (*Cart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cart, ok := s.carts[id]
	if !ok {
		return nil, ErrCartNotFound
	}
	return snapshotCart(cart), nil
}

func (s *memoryCartStore) AddItem(ctx context.Context, id, sku string, qty int) (*Cart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cart, ok := s.carts[id]
	if !ok {
		return nil, ErrCartNotFound
	}
	for i := range cart.Items {
		if cart.Items[i].SKU == sku {
			cart.Items[i].Qty += qty
			return snapshotCart(cart), nil
		}
	}
	cart.Items = append(cart.Items, CartItem{SKU: sku, Qty: qty})
	return snapshotCart(cart), nil
}

// snapshotCart copies the record so callers never share the stored slice.
func snapshotCart(cart *Cart) *Cart {
	items := make([]CartItem, len(cart.Items))
	copy(items, cart.Items)
	return &Cart{ID: cart.ID, Items: items}
}

type memoryOrderStore struct {
	mu     sync.Mutex
	byID   map[string]*StoredOrder
	sorted []string
}

// NewMemoryOrderStore builds a mutex-guarded in-process [OrderStore].
func NewMemoryOrderStore() OrderStore {
	return &memoryOrderStore{byID: make(map[string]*StoredOrder)}
}

func (s *memoryOrderStore) Put(ctx context.Context, order *StoredOrder) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[order.OrderID]; !exists {
		s.sorted = append(s.sorted, order.OrderID)
	}
	copied := *order
	s.byID[order.OrderID] = &copied
	return nil
}

func (s *memoryOrderStore) Get(ctx context.Context, id string) (*StoredOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.byID[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	copied := *order
	return &copied, nil
}

func (s *memoryOrderStore) List(ctx context.Context) ([]*StoredOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	orders := make([]*StoredOrder, 0, len(s.sorted))
	for _, id := range s.sorted {
		copied := *s.byID[id]
		orders = append(orders, &copied)
	}
	return orders, nil
}
