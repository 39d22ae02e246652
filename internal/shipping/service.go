// Package shipping creates one shipment per order event and serves the
// shipment API.
package shipping

import (
	"context"
	"errors"
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

// Process creates the shipment for an order event. Delivering the same event
// again returns the existing shipment and false. It does not require the
// order record to exist.
func (s *Service) Process(ctx context.Context, event domain.OrderEvent) (*domain.Shipment, bool, error) {
	start := s.now()
	s.sink.Increment("orders_processed_total")
	defer func() {
		s.sink.Observe("shipment_processing_duration_seconds", s.now().Sub(start).Seconds())
	}()

	orderID := event.OrderID()

	existing, err := s.repo.FindByOrderID(ctx, orderID)
	switch {
	case err == nil:
		s.sink.Increment("shipments_duplicate_total")
		s.logger.Info("shipment already exists", "order_id", orderID, "shipment_id", existing.ID)
		return existing, false, nil
	case !errors.Is(err, ErrNotFound):
		s.sink.Increment("shipments_failed_total", metrics.L("reason", "storage"))
		return nil, false, fmt.Errorf("look up shipment for order %s: %w", orderID, err)
	}

	shipment := domain.NewShipment(event, start)
	created, err := s.repo.Create(ctx, shipment)
	if err != nil {
		reason := "storage"
		if domain.IsValidation(err) {
			reason = "invalid"
		}
		s.sink.Increment("shipments_failed_total", metrics.L("reason", reason))
		s.logger.Error("failed to create shipment", "error", err, "order_id", orderID)
		return nil, false, fmt.Errorf("create shipment for order %s: %w", orderID, err)
	}

	if !created {
		// Lost a race with a concurrent delivery of the same event.
		s.sink.Increment("shipments_duplicate_total")
		stored, err := s.repo.FindByOrderID(ctx, orderID)
		if err != nil {
			return nil, false, fmt.Errorf("load shipment for order %s: %w", orderID, err)
		}
		return stored, false, nil
	}

	s.sink.Increment("shipments_processed_total")
	s.logger.Info("shipment created",
		"order_id", orderID,
		"shipment_id", shipment.ID,
		"owner_id", shipment.OwnerID,
		"total_amount", shipment.TotalAmount.StringFixed(2),
	)
	return shipment, true, nil
}

func (s *Service) SetStatus(ctx context.Context, orderID string, status domain.ShipmentStatus) (*domain.Shipment, error) {
	if !status.Valid() {
		return nil, &domain.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", status)}
	}

	shipment, changed, err := s.repo.SetStatus(ctx, orderID, status)
	if err != nil {
		return nil, err
	}
	if changed {
		s.logger.Info("shipment status updated", "order_id", orderID, "status", status)
	}
	return shipment, nil
}

func (s *Service) Get(ctx context.Context, orderID string) (*domain.Shipment, error) {
	return s.repo.FindByOrderID(ctx, orderID)
}

func (s *Service) List(ctx context.Context) ([]domain.Shipment, error) {
	return s.repo.List(ctx)
}
