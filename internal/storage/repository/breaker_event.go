package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/kirillm/trade-engine/internal/domain"
)

// BreakerEventRepository хранит события circuit breaker
type BreakerEventRepository struct {
	db *sql.DB
}

// NewBreakerEventRepository создает новый репозиторий
func NewBreakerEventRepository(db *sql.DB) *BreakerEventRepository {
	return &BreakerEventRepository{db: db}
}

// SaveEvent сохраняет событие срабатывания или сброса
func (r *BreakerEventRepository) SaveEvent(ctx context.Context, event *domain.BreakerEvent) error {
	if event.TriggeredAt.IsZero() {
		event.TriggeredAt = time.Now()
	}
	query := `
		INSERT INTO circuit_breaker_events (breaker_type, scope, reason, triggered_at, resumed_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	return r.db.QueryRowContext(ctx, query,
		event.BreakerType, event.Scope, event.Reason,
		event.TriggeredAt, nullTime(event.ResumedAt),
	).Scan(&event.ID)
}

// GetRecent возвращает последние события
func (r *BreakerEventRepository) GetRecent(ctx context.Context, limit int) ([]domain.BreakerEvent, error) {
	query := `
		SELECT id, breaker_type, scope, reason, triggered_at, resumed_at
		FROM circuit_breaker_events
		ORDER BY triggered_at DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.BreakerEvent
	for rows.Next() {
		var e domain.BreakerEvent
		var resumedAt sql.NullTime
		if err := rows.Scan(&e.ID, &e.BreakerType, &e.Scope, &e.Reason, &e.TriggeredAt, &resumedAt); err != nil {
			return nil, err
		}
		if resumedAt.Valid {
			e.ResumedAt = resumedAt.Time
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
