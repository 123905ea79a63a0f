package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillm/trade-engine/internal/domain"
)

// OrderRepository управляет ордерами и их журналом переходов
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository создает новый репозиторий
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Save сохраняет новый ордер
func (r *OrderRepository) Save(ctx context.Context, order *domain.Order) error {
	now := time.Now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	query := `
		INSERT INTO orders (id, account_id, symbol, side, type, quantity, notional_amount,
			limit_price, stop_price, status, provider, venue_order_id,
			filled_quantity, filled_avg_price, reason, submitted_at, filled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`
	_, err := r.db.ExecContext(ctx, query,
		order.ID, order.AccountID, order.Symbol, order.Side, order.Type,
		order.Quantity, order.NotionalAmount, order.LimitPrice, order.StopPrice,
		order.Status, order.Provider, order.VenueOrderID,
		order.FilledQuantity, order.FilledAvgPrice, order.Reason,
		nullTime(order.SubmittedAt), nullTime(order.FilledAt), order.CreatedAt, order.UpdatedAt,
	)
	return err
}

// Update обновляет существующий ордер
func (r *OrderRepository) Update(ctx context.Context, order *domain.Order) error {
	order.UpdatedAt = time.Now()

	query := `
		UPDATE orders
		SET status = $1, provider = $2, venue_order_id = $3,
			filled_quantity = $4, filled_avg_price = $5, reason = $6,
			submitted_at = $7, filled_at = $8, updated_at = $9
		WHERE id = $10
	`
	result, err := r.db.ExecContext(ctx, query,
		order.Status, order.Provider, order.VenueOrderID,
		order.FilledQuantity, order.FilledAvgPrice, order.Reason,
		nullTime(order.SubmittedAt), nullTime(order.FilledAt), order.UpdatedAt, order.ID,
	)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("order %s: %w", order.ID, domain.ErrNotFound)
	}
	return nil
}

const orderColumns = `id, account_id, symbol, side, type, quantity, notional_amount,
	limit_price, stop_price, status, provider, venue_order_id,
	filled_quantity, filled_avg_price, reason, submitted_at, filled_at, created_at, updated_at`

// Get возвращает ордер по ID
func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	order, err := scanOrder(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	return order, err
}

// GetActive возвращает ордера в нетерминальных статусах
func (r *OrderRepository) GetActive(ctx context.Context) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE status IN ($1, $2, $3)
		ORDER BY created_at`
	return r.queryOrders(ctx, query,
		domain.StatusCreated, domain.StatusSubmitted, domain.StatusPartiallyFilled)
}

// GetRecent возвращает последние ордера аккаунта
func (r *OrderRepository) GetRecent(ctx context.Context, accountID string, limit int) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	return r.queryOrders(ctx, query, accountID, limit)
}

// CountToday возвращает количество исполняемых сегодня ордеров аккаунта
func (r *OrderRepository) CountToday(ctx context.Context, accountID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM orders
		WHERE account_id = $1
		  AND created_at >= date_trunc('day', NOW())
		  AND status NOT IN ($2, $3)
	`
	var count int
	err := r.db.QueryRowContext(ctx, query, accountID,
		domain.StatusRejected, domain.StatusCanceled).Scan(&count)
	return count, err
}

// AppendEvent добавляет запись в журнал переходов
func (r *OrderRepository) AppendEvent(ctx context.Context, event *domain.OrderEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO order_events (order_id, from_status, to_status, note, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	return r.db.QueryRowContext(ctx, query,
		event.OrderID, event.FromStatus, event.ToStatus, event.Note, event.CreatedAt,
	).Scan(&event.ID)
}

// GetEvents возвращает журнал переходов ордера в хронологическом порядке
func (r *OrderRepository) GetEvents(ctx context.Context, orderID string) ([]domain.OrderEvent, error) {
	query := `
		SELECT id, order_id, from_status, to_status, note, created_at
		FROM order_events
		WHERE order_id = $1
		ORDER BY created_at, id
	`
	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.OrderEvent
	for rows.Next() {
		var e domain.OrderEvent
		if err := rows.Scan(&e.ID, &e.OrderID, &e.FromStatus, &e.ToStatus, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *OrderRepository) queryOrders(ctx context.Context, query string, args ...interface{}) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	var submittedAt, filledAt sql.NullTime
	err := row.Scan(
		&o.ID, &o.AccountID, &o.Symbol, &o.Side, &o.Type,
		&o.Quantity, &o.NotionalAmount, &o.LimitPrice, &o.StopPrice,
		&o.Status, &o.Provider, &o.VenueOrderID,
		&o.FilledQuantity, &o.FilledAvgPrice, &o.Reason,
		&submittedAt, &filledAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if submittedAt.Valid {
		o.SubmittedAt = submittedAt.Time
	}
	if filledAt.Valid {
		o.FilledAt = filledAt.Time
	}
	return &o, nil
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
