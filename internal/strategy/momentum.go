package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/markcheno/go-talib"

	"github.com/kirillm/trade-engine/internal/domain"
	"github.com/kirillm/trade-engine/internal/marketdata"
)

// MomentumConfig параметры референсной momentum-стратегии
type MomentumConfig struct {
	FastPeriod     int
	SlowPeriod     int
	NotionalAmount float64
}

func DefaultMomentumConfig() MomentumConfig {
	return MomentumConfig{
		FastPeriod:     10,
		SlowPeriod:     30,
		NotionalAmount: 100,
	}
}

// Momentum пересечение быстрой и медленной SMA.
// Быстрая выше медленной — BUY, ниже — SELL, иначе HOLD.
type Momentum struct {
	cfg MomentumConfig
}

func NewMomentum(cfg MomentumConfig) (*Momentum, error) {
	if cfg.FastPeriod <= 0 || cfg.SlowPeriod <= cfg.FastPeriod {
		return nil, fmt.Errorf("%w: momentum periods %d/%d", domain.ErrInvalidInput, cfg.FastPeriod, cfg.SlowPeriod)
	}
	if cfg.NotionalAmount <= 0 {
		return nil, fmt.Errorf("%w: momentum notional must be positive", domain.ErrInvalidInput)
	}
	return &Momentum{cfg: cfg}, nil
}

func (m *Momentum) Name() string {
	return "sma_momentum"
}

func (m *Momentum) GenerateSignal(ctx context.Context, snapshot *marketdata.Snapshot) (*domain.StrategySignal, error) {
	if snapshot == nil {
		return nil, fmt.Errorf("%w: nil market snapshot", domain.ErrInvalidInput)
	}

	signal := &domain.StrategySignal{
		Symbol:      snapshot.Symbol,
		Action:      domain.SignalHold,
		GeneratedAt: time.Now(),
	}
	if len(snapshot.Closes) < m.cfg.SlowPeriod {
		return signal, nil
	}

	fast := talib.Sma(snapshot.Closes, m.cfg.FastPeriod)
	slow := talib.Sma(snapshot.Closes, m.cfg.SlowPeriod)
	lastFast := fast[len(fast)-1]
	lastSlow := slow[len(slow)-1]
	if lastSlow <= 0 {
		return signal, nil
	}

	spread := (lastFast - lastSlow) / lastSlow
	switch {
	case spread > 0:
		signal.Action = domain.SignalBuy
	case spread < 0:
		signal.Action = domain.SignalSell
	}
	if signal.Action != domain.SignalHold {
		signal.NotionalAmount = m.cfg.NotionalAmount
		signal.Confidence = clamp01(abs(spread) * 100)
	}
	return signal, nil
}

func (m *Momentum) ValidateSignal(signal *domain.StrategySignal) error {
	return ValidateSignal(signal)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
