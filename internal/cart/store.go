// Package cart keeps the per-owner shopping cart and serves the cart HTTP API.
package cart

import (
	"context"
	"sync"
	"time"

	"github.com/joao-fontenele/storeflow/internal/domain"
)

// Store holds carts keyed by owner. Snapshot is a read; it never clears.
type Store interface {
	Add(ctx context.Context, ownerID string, item domain.CartItem) ([]domain.CartItem, error)
	Snapshot(ctx context.Context, ownerID string) (domain.CartSnapshot, error)
	Clear(ctx context.Context, ownerID string) error
	// Remove takes the quantities captured in snapshot out of the owner's
	// cart. Anything added after the snapshot stays.
	Remove(ctx context.Context, snapshot domain.CartSnapshot) error
}

// merge adds item to items, summing quantities for a product already present.
// A provided unit price replaces the stored one.
func merge(items []domain.CartItem, item domain.CartItem) []domain.CartItem {
	for i := range items {
		if items[i].ProductID == item.ProductID {
			items[i].Qty += item.Qty
			if item.UnitPrice != nil {
				items[i].UnitPrice = item.UnitPrice
			}
			return items
		}
	}
	return append(items, item)
}

// subtract removes the snapshotted quantity of each product from items.
func subtract(items, taken []domain.CartItem) []domain.CartItem {
	owed := make(map[string]int, len(taken))
	for _, item := range taken {
		owed[item.ProductID] += item.Qty
	}

	out := make([]domain.CartItem, 0, len(items))
	for _, item := range items {
		if q := owed[item.ProductID]; q > 0 {
			if item.Qty <= q {
				owed[item.ProductID] = q - item.Qty
				continue
			}
			item.Qty -= q
			owed[item.ProductID] = 0
		}
		out = append(out, item)
	}
	return out
}

type MemoryStore struct {
	mu    sync.Mutex
	carts map[string][]domain.CartItem
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		carts: make(map[string][]domain.CartItem),
		now:   time.Now,
	}
}

func (s *MemoryStore) Add(_ context.Context, ownerID string, item domain.CartItem) ([]domain.CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.carts[ownerID] = merge(s.carts[ownerID], item)
	return copyItems(s.carts[ownerID]), nil
}

func (s *MemoryStore) Snapshot(_ context.Context, ownerID string) (domain.CartSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return domain.CartSnapshot{
		OwnerID:    ownerID,
		Items:      copyItems(s.carts[ownerID]),
		CapturedAt: s.now().UTC(),
	}, nil
}

func (s *MemoryStore) Clear(_ context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.carts, ownerID)
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, snapshot domain.CartSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	remaining := subtract(s.carts[snapshot.OwnerID], snapshot.Items)
	if len(remaining) == 0 {
		delete(s.carts, snapshot.OwnerID)
		return nil
	}
	s.carts[snapshot.OwnerID] = remaining
	return nil
}

func copyItems(items []domain.CartItem) []domain.CartItem {
	out := make([]domain.CartItem, len(items))
	copy(out, items)
	return out
}
