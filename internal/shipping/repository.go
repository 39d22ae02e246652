package shipping

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/joao-fontenele/storeflow/internal/domain"
)

var ErrNotFound = errors.New("shipment not found")

// Repository holds at most one shipment per order.
type Repository interface {
	FindByOrderID(ctx context.Context, orderID string) (*domain.Shipment, error)
	Create(ctx context.Context, shipment *domain.Shipment) (bool, error)
	List(ctx context.Context) ([]domain.Shipment, error)
	SetStatus(ctx context.Context, orderID string, status domain.ShipmentStatus) (*domain.Shipment, bool, error)
}

type ShipmentRepository struct {
	db *sql.DB
}

func NewShipmentRepository(db *sql.DB) *ShipmentRepository {
	return &ShipmentRepository{db: db}
}

const shipmentColumns = `id, order_id, owner_id, items, total_amount, status, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanShipment(row scanner) (*domain.Shipment, error) {
	var s domain.Shipment
	var items []byte
	if err := row.Scan(&s.ID, &s.OrderID, &s.OwnerID, &items, &s.TotalAmount, &s.Status, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &s.Items); err != nil {
		return nil, fmt.Errorf("decode shipment items: %w", err)
	}
	if s.Items == nil {
		s.Items = []domain.OrderItem{}
	}
	return &s, nil
}

func (r *ShipmentRepository) FindByOrderID(ctx context.Context, orderID string) (*domain.Shipment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+shipmentColumns+`
		FROM shipping.shipments
		WHERE order_id = $1
	`, orderID)

	shipment, err := scanShipment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return shipment, nil
}

// Create inserts the shipment unless one already exists for the order, in
// which case it reports false and leaves the stored row untouched.
func (r *ShipmentRepository) Create(ctx context.Context, shipment *domain.Shipment) (bool, error) {
	if shipment.ID == "" {
		shipment.ID = uuid.New().String()
	}

	items, err := json.Marshal(shipment.Items)
	if err != nil {
		return false, fmt.Errorf("encode shipment items: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO shipping.shipments (`+shipmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (order_id) DO NOTHING
	`, shipment.ID, shipment.OrderID, shipment.OwnerID, items, shipment.TotalAmount, shipment.Status, shipment.CreatedAt, shipment.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("insert shipment: %w", asDataError(err))
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return inserted == 1, nil
}

func (r *ShipmentRepository) List(ctx context.Context) ([]domain.Shipment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+shipmentColumns+`
		FROM shipping.shipments
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	shipments := []domain.Shipment{}
	for rows.Next() {
		shipment, err := scanShipment(rows)
		if err != nil {
			return nil, err
		}
		shipments = append(shipments, *shipment)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return shipments, nil
}

func (r *ShipmentRepository) SetStatus(ctx context.Context, orderID string, status domain.ShipmentStatus) (*domain.Shipment, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	var current domain.ShipmentStatus
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM shipping.shipments WHERE order_id = $1 FOR UPDATE
	`, orderID).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, ErrNotFound
		}
		return nil, false, err
	}

	changed := current != status
	if changed {
		if !current.CanTransition(status) {
			return nil, false, fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, current, status)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE shipping.shipments SET status = $1, updated_at = NOW()
			WHERE order_id = $2
		`, status, orderID); err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	shipment, err := r.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, false, err
	}
	return shipment, changed, nil
}

// asDataError turns a Postgres data exception (class 22) into a
// ValidationError. Such a row cannot be stored however often it is retried.
func asDataError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "22" {
		return &domain.ValidationError{Message: pqErr.Message}
	}
	return err
}
