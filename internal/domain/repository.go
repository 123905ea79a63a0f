package domain

import (
	"context"
	"time"
)

// OrderRepository определяет интерфейс для работы с ордерами
type OrderRepository interface {
	Save(ctx context.Context, order *Order) error
	Update(ctx context.Context, order *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	GetActive(ctx context.Context) ([]Order, error)
	GetRecent(ctx context.Context, accountID string, limit int) ([]Order, error)
	CountToday(ctx context.Context, accountID string) (int, error)
	AppendEvent(ctx context.Context, event *OrderEvent) error
	GetEvents(ctx context.Context, orderID string) ([]OrderEvent, error)
}

// PortfolioRepository определяет интерфейс чтения портфеля и применения филлов
type PortfolioRepository interface {
	GetSnapshot(ctx context.Context, accountID string) (*PortfolioSnapshot, error)
	ApplyFill(ctx context.Context, order *Order) error
}

// BreakerEventRepository хранит события circuit breaker
type BreakerEventRepository interface {
	SaveEvent(ctx context.Context, event *BreakerEvent) error
	GetRecent(ctx context.Context, limit int) ([]BreakerEvent, error)
}

// ViolationRepository хранит нарушения риск-лимитов
type ViolationRepository interface {
	Save(ctx context.Context, violation *RiskViolation) error
	GetRecent(ctx context.Context, accountID string, since time.Time) ([]RiskViolation, error)
}

// PnLRepository хранит снапшоты PnL
type PnLRepository interface {
	SaveSnapshot(ctx context.Context, snapshot *PnLSnapshot) error
}
