package orders

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storeflow/internal/domain"
)

// MemoryRepository is an in-process Repository for tests and local runs.
type MemoryRepository struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
	byKey  map[string]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders: make(map[string]*domain.Order),
		byKey:  make(map[string]string),
	}
}

func (r *MemoryRepository) Create(_ context.Context, order *domain.Order) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byKey[order.IdempotencyKey]; ok {
		*order = cloneOrder(r.orders[id])
		return false, nil
	}

	stored := cloneOrder(order)
	r.orders[order.ID] = &stored
	r.byKey[order.IdempotencyKey] = order.ID
	return true, nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneOrder(order)
	return &out, nil
}

func (r *MemoryRepository) List(_ context.Context) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Order, 0, len(r.orders))
	for _, order := range r.orders {
		out = append(out, cloneOrder(order))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) SetStatus(_ context.Context, id string, status domain.OrderStatus) (*domain.Order, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, false, ErrNotFound
	}

	changed := order.Status != status
	if changed {
		if !order.Status.CanTransition(status) {
			return nil, false, fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, order.Status, status)
		}
		order.Status = status
		order.UpdatedAt = time.Now().UTC()
	}

	out := cloneOrder(order)
	return &out, changed, nil
}

func (r *MemoryRepository) Revenue(_ context.Context) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := decimal.Zero
	for _, order := range r.orders {
		total = total.Add(order.Total)
	}
	return total, nil
}

func cloneOrder(order *domain.Order) domain.Order {
	out := *order
	out.Items = make([]domain.OrderItem, len(order.Items))
	copy(out.Items, order.Items)
	return out
}
