package venue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kirillm/trade-engine/internal/domain"
)

// ExecutionResult результат приема ордера venue
type ExecutionResult struct {
	Provider     string
	VenueOrderID string
	Status       string
	SubmittedAt  time.Time
}

// StatusResult текущее состояние ордера на venue
type StatusResult struct {
	Provider       string
	Status         string
	FilledQuantity float64
	FilledAvgPrice float64
	FilledAt       time.Time
}

// AccountInfo сводка торгового счета
type AccountInfo struct {
	Provider    string
	CashBalance float64
	Equity      float64
	BuyingPower float64
}

// Position позиция на venue
type Position struct {
	Symbol        string
	Quantity      float64
	AvgEntryPrice float64
	MarketValue   float64
}

// Quote котировка
type Quote struct {
	Symbol string
	Bid    float64
	Ask    float64
	Last   float64
	At     time.Time
}

// ExecutionVenue контракт внешней площадки исполнения. Реализации
// регистрируются в Gateway в порядке предпочтения.
type ExecutionVenue interface {
	Name() string
	ExecuteOrder(ctx context.Context, order *domain.Order) (*ExecutionResult, error)
	OrderStatus(ctx context.Context, venueOrderID string) (*StatusResult, error)
	CancelOrder(ctx context.Context, venueOrderID string) (bool, error)
	AccountInfo(ctx context.Context) (*AccountInfo, error)
	Positions(ctx context.Context) ([]Position, error)
	Quote(ctx context.Context, symbol string) (*Quote, error)
}

// ProviderError различимая ошибка venue. Transient означает сетевые
// сбои/таймауты/5xx, которые имеет смысл ретраить; остальное — постоянные
// отказы (reject, недостаток средств).
type ProviderError struct {
	Provider  string
	Code      string
	Message   string
	Transient bool
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("provider %s: %s error %s: %s", e.Provider, kind, e.Code, e.Message)
}

// NewTransientError сетевой/временный сбой venue
func NewTransientError(provider, code, message string) *ProviderError {
	return &ProviderError{Provider: provider, Code: code, Message: message, Transient: true}
}

// NewPermanentError отказ venue, который не ретраится
func NewPermanentError(provider, code, message string) *ProviderError {
	return &ProviderError{Provider: provider, Code: code, Message: message, Transient: false}
}

// IsTransient сообщает, является ли ошибка временной ошибкой провайдера.
// ErrAllProvidersExhausted тоже считается временной: состав venue мог
// восстановиться к следующей попытке.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return errors.Is(err, domain.ErrAllProvidersExhausted)
}

// IsPermanent сообщает, является ли ошибка постоянным отказом провайдера
func IsPermanent(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return !pe.Transient
	}
	return false
}
