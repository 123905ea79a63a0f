package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillm/trade-engine/internal/domain"
	"github.com/kirillm/trade-engine/internal/marketdata"
)

func trendingCloses(start, step float64, n int) []float64 {
	closes := make([]float64, n)
	price := start
	for i := range closes {
		closes[i] = price
		price += step
	}
	return closes
}

func snapshotOf(closes []float64) *marketdata.Snapshot {
	return &marketdata.Snapshot{Symbol: "BTCUSDT", Price: closes[len(closes)-1], Closes: closes}
}

func TestNewMomentum(t *testing.T) {
	tests := []struct {
		name    string
		cfg     MomentumConfig
		wantErr bool
	}{
		{"default config", DefaultMomentumConfig(), false},
		{"zero fast period", MomentumConfig{FastPeriod: 0, SlowPeriod: 30, NotionalAmount: 100}, true},
		{"slow not greater than fast", MomentumConfig{FastPeriod: 30, SlowPeriod: 30, NotionalAmount: 100}, true},
		{"zero notional", MomentumConfig{FastPeriod: 10, SlowPeriod: 30}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMomentum(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewMomentum() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestMomentum_GenerateSignal(t *testing.T) {
	momentum, err := NewMomentum(MomentumConfig{FastPeriod: 3, SlowPeriod: 10, NotionalAmount: 100})
	if err != nil {
		t.Fatalf("NewMomentum() error = %v", err)
	}
	ctx := context.Background()

	t.Run("uptrend buys", func(t *testing.T) {
		signal, err := momentum.GenerateSignal(ctx, snapshotOf(trendingCloses(100, 1, 20)))
		if err != nil {
			t.Fatalf("GenerateSignal() error = %v", err)
		}
		if signal.Action != domain.SignalBuy {
			t.Errorf("Action = %s, want BUY", signal.Action)
		}
		if signal.NotionalAmount != 100 {
			t.Errorf("NotionalAmount = %.0f, want 100", signal.NotionalAmount)
		}
		if signal.Confidence <= 0 || signal.Confidence > 1 {
			t.Errorf("Confidence = %.4f, want (0, 1]", signal.Confidence)
		}
	})

	t.Run("downtrend sells", func(t *testing.T) {
		signal, err := momentum.GenerateSignal(ctx, snapshotOf(trendingCloses(200, -1, 20)))
		if err != nil {
			t.Fatalf("GenerateSignal() error = %v", err)
		}
		if signal.Action != domain.SignalSell {
			t.Errorf("Action = %s, want SELL", signal.Action)
		}
	})

	t.Run("short history holds", func(t *testing.T) {
		signal, err := momentum.GenerateSignal(ctx, snapshotOf(trendingCloses(100, 1, 5)))
		if err != nil {
			t.Fatalf("GenerateSignal() error = %v", err)
		}
		if signal.Action != domain.SignalHold {
			t.Errorf("Action = %s, want HOLD with insufficient history", signal.Action)
		}
		if signal.NotionalAmount != 0 {
			t.Errorf("HOLD must not carry size, got %.0f", signal.NotionalAmount)
		}
	})

	t.Run("nil snapshot", func(t *testing.T) {
		if _, err := momentum.GenerateSignal(ctx, nil); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("error = %v, want ErrInvalidInput", err)
		}
	})
}

func TestValidateSignal(t *testing.T) {
	tests := []struct {
		name    string
		signal  *domain.StrategySignal
		wantErr bool
	}{
		{"nil signal", nil, true},
		{"hold without size", &domain.StrategySignal{Symbol: "BTCUSDT", Action: domain.SignalHold}, false},
		{"buy with quantity", &domain.StrategySignal{Symbol: "BTCUSDT", Action: domain.SignalBuy, Quantity: 1}, false},
		{"buy with notional", &domain.StrategySignal{Symbol: "BTCUSDT", Action: domain.SignalBuy, NotionalAmount: 50}, false},
		{"buy without size", &domain.StrategySignal{Symbol: "BTCUSDT", Action: domain.SignalBuy}, true},
		{"missing symbol", &domain.StrategySignal{Action: domain.SignalBuy, Quantity: 1}, true},
		{"unknown action", &domain.StrategySignal{Symbol: "BTCUSDT", Action: "SHORT", Quantity: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSignal(tt.signal)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSignal() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
