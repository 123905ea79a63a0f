package strategy

import (
	"context"
	"fmt"

	"github.com/kirillm/trade-engine/internal/domain"
	"github.com/kirillm/trade-engine/internal/marketdata"
)

// Strategy источник торговых сигналов для планировщика
type Strategy interface {
	Name() string
	GenerateSignal(ctx context.Context, snapshot *marketdata.Snapshot) (*domain.StrategySignal, error)
	ValidateSignal(signal *domain.StrategySignal) error
}

// ValidateSignal базовая проверка сигнала, общая для всех стратегий
func ValidateSignal(signal *domain.StrategySignal) error {
	if signal == nil {
		return fmt.Errorf("%w: nil signal", domain.ErrInvalidInput)
	}
	switch signal.Action {
	case domain.SignalBuy, domain.SignalSell, domain.SignalHold:
	default:
		return fmt.Errorf("%w: unknown signal action %q", domain.ErrInvalidInput, signal.Action)
	}
	if signal.Symbol == "" {
		return fmt.Errorf("%w: signal without symbol", domain.ErrInvalidInput)
	}
	if signal.Actionable() && signal.Quantity <= 0 && signal.NotionalAmount <= 0 {
		return fmt.Errorf("%w: actionable signal without size", domain.ErrInvalidInput)
	}
	return nil
}
