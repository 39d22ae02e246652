// Package orders persists order events arriving over the broker or the
// synchronous webhook, and serves the order read and status API.
package orders

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joao-fontenele/storeflow/internal/domain"
	"github.com/joao-fontenele/storeflow/internal/metrics"
)

type Service struct {
	repo   Repository
	sink   metrics.Sink
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo Repository, sink metrics.Sink, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
}

// Receive computes the order total and persists the record with status
// received. A replayed event returns the stored record. An error means
// nothing was persisted and the event must be delivered again.
func (s *Service) Receive(ctx context.Context, event domain.OrderEvent, source string) (*domain.Order, error) {
	start := s.now()
	s.sink.Increment("orders_received_total", metrics.L("source", source))

	order := domain.NewOrder(event, start)

	created, err := s.repo.Create(ctx, order)
	s.sink.Observe("order_processing_duration_seconds", s.now().Sub(start).Seconds())
	if err != nil {
		reason := "storage"
		if domain.IsValidation(err) {
			reason = "invalid"
		}
		s.sink.Increment("orders_failed_total", metrics.L("reason", reason))
		s.logger.Error("failed to persist order",
			"error", err,
			"order_id", order.ID,
			"owner_id", order.OwnerID,
			"source", source,
		)
		return nil, fmt.Errorf("persist order %s: %w", order.ID, err)
	}

	if !created {
		s.sink.Increment("orders_duplicate_total")
		s.logger.Info("duplicate order event ignored",
			"order_id", order.ID,
			"idempotency_key", order.IdempotencyKey,
			"source", source,
		)
		return order, nil
	}

	s.sink.Increment("orders_total")
	s.sink.Set("orders_last_created_timestamp", float64(s.now().Unix()))
	s.refreshRevenue(ctx)

	s.logger.Info("order received",
		"order_id", order.ID,
		"owner_id", order.OwnerID,
		"total", order.Total.StringFixed(2),
		"items", len(order.Items),
		"source", source,
	)
	return order, nil
}

func (s *Service) refreshRevenue(ctx context.Context) {
	revenue, err := s.repo.Revenue(ctx)
	if err != nil {
		s.logger.Warn("failed to compute revenue", "error", err)
		return
	}
	s.sink.Set("orders_revenue_total", revenue.InexactFloat64())
}

// SetStatus moves an order forward. Unknown statuses are validation errors;
// regressions wrap domain.ErrInvalidTransition.
func (s *Service) SetStatus(ctx context.Context, id string, status domain.OrderStatus) (*domain.Order, error) {
	if !status.Valid() {
		return nil, &domain.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", status)}
	}

	order, changed, err := s.repo.SetStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}

	if changed {
		if status == domain.OrderStatusCompleted {
			s.sink.Increment("orders_completed_total")
		}
		s.logger.Info("order status updated", "order_id", id, "status", status)
	}
	return order, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Order, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]domain.Order, error) {
	return s.repo.List(ctx)
}
