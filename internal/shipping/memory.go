package shipping

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/storeflow/internal/domain"
)

type MemoryRepository struct {
	mu        sync.Mutex
	shipments map[string]*domain.Shipment
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{shipments: make(map[string]*domain.Shipment)}
}

func (r *MemoryRepository) FindByOrderID(_ context.Context, orderID string) (*domain.Shipment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.shipments[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneShipment(s)
	return &out, nil
}

func (r *MemoryRepository) Create(_ context.Context, shipment *domain.Shipment) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.shipments[shipment.OrderID]; ok {
		return false, nil
	}
	if shipment.ID == "" {
		shipment.ID = uuid.New().String()
	}
	stored := cloneShipment(shipment)
	r.shipments[shipment.OrderID] = &stored
	return true, nil
}

func (r *MemoryRepository) List(_ context.Context) ([]domain.Shipment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Shipment, 0, len(r.shipments))
	for _, s := range r.shipments {
		out = append(out, cloneShipment(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) SetStatus(_ context.Context, orderID string, status domain.ShipmentStatus) (*domain.Shipment, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.shipments[orderID]
	if !ok {
		return nil, false, ErrNotFound
	}

	changed := s.Status != status
	if changed {
		if !s.Status.CanTransition(status) {
			return nil, false, fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, s.Status, status)
		}
		s.Status = status
		s.UpdatedAt = time.Now().UTC()
	}

	out := cloneShipment(s)
	return &out, changed, nil
}

func cloneShipment(s *domain.Shipment) domain.Shipment {
	out := *s
	out.Items = make([]domain.OrderItem, len(s.Items))
	copy(out.Items, s.Items)
	return out
}
