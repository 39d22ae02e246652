package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storeflow/internal/domain"
)

var ErrNotFound = errors.New("order not found")

// Repository persists order records. Create is idempotent on the order's
// idempotency key: a second insert returns the stored record and false.
type Repository interface {
	Create(ctx context.Context, order *domain.Order) (bool, error)
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	List(ctx context.Context) ([]domain.Order, error)
	SetStatus(ctx context.Context, id string, status domain.OrderStatus) (*domain.Order, bool, error)
	Revenue(ctx context.Context) (decimal.Decimal, error)
}

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO orders.orders (id, owner_id, idempotency_key, status, total, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, order.ID, order.OwnerID, order.IdempotencyKey, order.Status, order.Total, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("insert order: %w", asDataError(err))
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	if inserted == 0 {
		_ = tx.Rollback()
		existing, err := r.getByKey(ctx, order.IdempotencyKey)
		if err != nil {
			return false, fmt.Errorf("load duplicate order: %w", err)
		}
		*order = *existing
		return false, nil
	}

	for i, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO orders.order_items (order_id, position, product_id, qty, unit_price)
			VALUES ($1, $2, $3, $4, $5)
		`, order.ID, i, item.ProductID, item.Qty, nullDecimal(item.UnitPrice))
		if err != nil {
			return false, fmt.Errorf("insert order item: %w", asDataError(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.getOne(ctx, "id", id)
}

func (r *OrderRepository) getByKey(ctx context.Context, key string) (*domain.Order, error) {
	return r.getOne(ctx, "idempotency_key", key)
}

func (r *OrderRepository) getOne(ctx context.Context, column, value string) (*domain.Order, error) {
	order := &domain.Order{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, owner_id, idempotency_key, status, total, created_at, updated_at
		FROM orders.orders
		WHERE `+column+` = $1
	`, value).Scan(&order.ID, &order.OwnerID, &order.IdempotencyKey, &order.Status, &order.Total, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, qty, unit_price
		FROM orders.order_items
		WHERE order_id = $1
		ORDER BY position
	`, order.ID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	order.Items = []domain.OrderItem{}
	for rows.Next() {
		var item domain.OrderItem
		var price decimal.NullDecimal
		if err := rows.Scan(&item.ProductID, &item.Qty, &price); err != nil {
			return nil, err
		}
		item.UnitPrice = decimalPtr(price)
		order.Items = append(order.Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return order, nil
}

// SetStatus locks the row, checks the transition and applies it. Setting the
// current status again is a no-op and reports false.
func (r *OrderRepository) SetStatus(ctx context.Context, id string, status domain.OrderStatus) (*domain.Order, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	var current domain.OrderStatus
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM orders.orders WHERE id = $1 FOR UPDATE
	`, id).Scan(&current)
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
			UPDATE orders.orders SET status = $1, updated_at = NOW()
			WHERE id = $2
		`, status, id); err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	order, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return order, changed, nil
}

func (r *OrderRepository) List(ctx context.Context) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_id, idempotency_key, status, total, created_at, updated_at
		FROM orders.orders
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		var order domain.Order
		if err := rows.Scan(&order.ID, &order.OwnerID, &order.IdempotencyKey, &order.Status, &order.Total, &order.CreatedAt, &order.UpdatedAt); err != nil {
			return nil, err
		}
		order.Items = []domain.OrderItem{}
		orderMap[order.ID] = &order
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	itemRows, err := r.db.QueryContext(ctx, `
		SELECT order_id, product_id, qty, unit_price
		FROM orders.order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var orderID string
		var item domain.OrderItem
		var price decimal.NullDecimal
		if err := itemRows.Scan(&orderID, &item.ProductID, &item.Qty, &price); err != nil {
			return nil, err
		}
		item.UnitPrice = decimalPtr(price)
		order := orderMap[orderID]
		order.Items = append(order.Items, item)
	}

	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, nil
}

func (r *OrderRepository) Revenue(ctx context.Context) (decimal.Decimal, error) {
	var revenue decimal.Decimal
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total), 0) FROM orders.orders
	`).Scan(&revenue)
	return revenue, err
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func decimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
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
