package risk

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/kirillm/trade-engine/internal/domain"
	"github.com/kirillm/trade-engine/pkg/utils"
)

type stubPortfolio struct {
	snapshot *domain.PortfolioSnapshot
	err      error
}

func (s *stubPortfolio) GetSnapshot(ctx context.Context, accountID string) (*domain.PortfolioSnapshot, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.snapshot, nil
}

func (s *stubPortfolio) ApplyFill(ctx context.Context, order *domain.Order) error {
	return nil
}

type stubPrices struct {
	price float64
	err   error
}

func (s *stubPrices) GetPrice(ctx context.Context, symbol string) (float64, error) {
	return s.price, s.err
}

type stubBreaker struct {
	allowed    bool
	reason     string
	lossCalls  int
	lastDaily  float64
	lastWeekly float64
	multiplier float64
}

func (s *stubBreaker) Check(accountID string) (bool, string) { return s.allowed, s.reason }
func (s *stubBreaker) RecordLoss(scope string, dailyLossPct, weeklyLossPct float64) {
	s.lossCalls++
	s.lastDaily = dailyLossPct
	s.lastWeekly = weeklyLossPct
}
func (s *stubBreaker) PositionSizingMultiplier(accountID string) float64 { return s.multiplier }
func (s *stubBreaker) VolatilityRegime() string                         { return domain.RegimeNormal }

func testPortfolio() *domain.PortfolioSnapshot {
	return &domain.PortfolioSnapshot{
		AccountID:   "acc1",
		CashBalance: 9500,
		TotalValue:  10000,
		Positions: []domain.Position{
			{Symbol: "MSFT", Quantity: 2, AvgEntryPrice: 250, MarketValue: 500, Sector: "tech"},
		},
		DailyTradeCount: 3,
	}
}

func newTestService(portfolio *stubPortfolio, prices *stubPrices) *Service {
	limits := DefaultLimits()
	return NewService(NewLimitStore(limits), portfolio, prices,
		&stubBreaker{allowed: true, multiplier: 1.0}, nil, utils.NewLogger("error"))
}

func TestAssessTradeRisk_Allow(t *testing.T) {
	svc := newTestService(&stubPortfolio{snapshot: testPortfolio()}, &stubPrices{price: 150})

	a, err := svc.AssessTradeRisk(context.Background(), "acc1", "AAPL", domain.SideBuy, 2, 0, 150)
	if err != nil {
		t.Fatalf("AssessTradeRisk() error = %v", err)
	}
	if a.Action != domain.ActionAllow {
		t.Errorf("Action = %s, want ALLOW (violations: %v, warnings: %v)", a.Action, a.Violations, a.Warnings)
	}
	if a.Level != domain.RiskLevelLow {
		t.Errorf("Level = %s, want LOW", a.Level)
	}
}

func TestAssessTradeRisk_PositionSizeReduce(t *testing.T) {
	// Портфель 10000, лимит позиции 10%: покупка 10 x 150 = 1500 превышает 1000
	svc := newTestService(&stubPortfolio{snapshot: testPortfolio()}, &stubPrices{price: 150})

	a, err := svc.AssessTradeRisk(context.Background(), "acc1", "AAPL", domain.SideBuy, 10, 0, 150)
	if err != nil {
		t.Fatalf("AssessTradeRisk() error = %v", err)
	}
	if a.Action != domain.ActionReduce {
		t.Fatalf("Action = %s, want REDUCE", a.Action)
	}
	want := 1000.0 / 150.0 // 6.67
	if math.Abs(a.MaxAllowedQuantity-want) > 0.01 {
		t.Errorf("MaxAllowedQuantity = %.4f, want %.4f", a.MaxAllowedQuantity, want)
	}
	if a.Blocked() {
		t.Error("REDUCE assessment must not be blocked")
	}
}

func TestAssessTradeRisk_DailyLossBlocks(t *testing.T) {
	portfolio := testPortfolio()
	portfolio.DailyDrawdownPct = 5.0 // лимит по умолчанию 5%
	svc := newTestService(&stubPortfolio{snapshot: portfolio}, &stubPrices{price: 150})

	a, err := svc.AssessTradeRisk(context.Background(), "acc1", "AAPL", domain.SideBuy, 1, 0, 150)
	if err != nil {
		t.Fatalf("AssessTradeRisk() error = %v", err)
	}
	if a.Action != domain.ActionBlock {
		t.Fatalf("Action = %s, want BLOCK", a.Action)
	}
	if !a.Blocked() {
		t.Error("Blocked() must be true for BLOCK action")
	}
	if len(a.Violations) == 0 || a.Violations[0].Type != "daily_loss" {
		t.Errorf("expected daily_loss critical violation, got %+v", a.Violations)
	}
}

func TestAssessTradeRisk_LeverageBlocks(t *testing.T) {
	portfolio := testPortfolio()
	portfolio.CashBalance = 100
	portfolio.TotalValue = 600
	portfolio.Positions = []domain.Position{
		{Symbol: "MSFT", MarketValue: 500, Sector: "tech"},
	}
	svc := newTestService(&stubPortfolio{snapshot: portfolio}, &stubPrices{price: 150})

	// Итоговая экспозиция (500 + 300) / 600 = 1.33x при лимите 1.0x
	a, err := svc.AssessTradeRisk(context.Background(), "acc1", "AAPL", domain.SideBuy, 2, 0, 150)
	if err != nil {
		t.Fatalf("AssessTradeRisk() error = %v", err)
	}
	if a.Action != domain.ActionBlock {
		t.Fatalf("Action = %s, want BLOCK", a.Action)
	}
	found := false
	for _, v := range a.Violations {
		if v.Type == "leverage" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected leverage violation, got %+v", a.Violations)
	}
}

func TestAssessTradeRisk_NotionalOrder(t *testing.T) {
	svc := newTestService(&stubPortfolio{snapshot: testPortfolio()}, &stubPrices{price: 200})

	a, err := svc.AssessTradeRisk(context.Background(), "acc1", "AAPL", domain.SideBuy, 0, 500, 0)
	if err != nil {
		t.Fatalf("AssessTradeRisk() error = %v", err)
	}
	if a.Action != domain.ActionAllow {
		t.Errorf("Action = %s, want ALLOW", a.Action)
	}
	if math.Abs(a.Quantity-2.5) > 1e-9 {
		t.Errorf("derived quantity = %.4f, want 2.5", a.Quantity)
	}
	if a.TradeValue != 500 {
		t.Errorf("TradeValue = %.2f, want 500", a.TradeValue)
	}
}

func TestAssessTradeRisk_InvalidInput(t *testing.T) {
	svc := newTestService(&stubPortfolio{snapshot: testPortfolio()}, &stubPrices{price: 150})

	tests := []struct {
		name     string
		account  string
		symbol   string
		side     string
		quantity float64
		notional float64
	}{
		{"empty symbol", "acc1", "", domain.SideBuy, 1, 0},
		{"bad side", "acc1", "AAPL", "LONG", 1, 0},
		{"no size", "acc1", "AAPL", domain.SideBuy, 0, 0},
		{"both sizes", "acc1", "AAPL", domain.SideBuy, 1, 100},
		{"negative quantity", "acc1", "AAPL", domain.SideBuy, -1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AssessTradeRisk(context.Background(), tt.account, tt.symbol, tt.side, tt.quantity, tt.notional, 150)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestAssessTradeRisk_DataUnavailable(t *testing.T) {
	t.Run("no price", func(t *testing.T) {
		svc := newTestService(&stubPortfolio{snapshot: testPortfolio()},
			&stubPrices{err: errors.New("all sources down")})
		_, err := svc.AssessTradeRisk(context.Background(), "acc1", "AAPL", domain.SideBuy, 1, 0, 0)
		if !errors.Is(err, domain.ErrDataUnavailable) {
			t.Errorf("error = %v, want ErrDataUnavailable", err)
		}
	})

	t.Run("no portfolio", func(t *testing.T) {
		svc := newTestService(&stubPortfolio{err: errors.New("db down")}, &stubPrices{price: 150})
		_, err := svc.AssessTradeRisk(context.Background(), "acc1", "AAPL", domain.SideBuy, 1, 0, 150)
		if !errors.Is(err, domain.ErrDataUnavailable) {
			t.Errorf("error = %v, want ErrDataUnavailable", err)
		}
	})
}

func TestCheckCircuitBreakers_FeedsLosses(t *testing.T) {
	portfolio := testPortfolio()
	portfolio.DailyDrawdownPct = 3.2
	breaker := &stubBreaker{allowed: true, multiplier: 1.0}
	limits := DefaultLimits()
	svc := NewService(NewLimitStore(limits), &stubPortfolio{snapshot: portfolio},
		&stubPrices{price: 150}, breaker, nil, utils.NewLogger("error"))

	allowed, _ := svc.CheckCircuitBreakers(context.Background(), "acc1")
	if !allowed {
		t.Fatal("expected trading to be allowed")
	}
	if breaker.lossCalls != 1 {
		t.Errorf("RecordLoss calls = %d, want 1", breaker.lossCalls)
	}
}

func TestAssessTradeRisk_FeedsLossesToBreaker(t *testing.T) {
	portfolio := testPortfolio()
	portfolio.DailyDrawdownPct = 2.4
	portfolio.WeeklyDrawdownPct = 6.1
	breaker := &stubBreaker{allowed: true, multiplier: 1.0}
	limits := DefaultLimits()
	svc := NewService(NewLimitStore(limits), &stubPortfolio{snapshot: portfolio},
		&stubPrices{price: 150}, breaker, nil, utils.NewLogger("error"))

	if _, err := svc.AssessTradeRisk(context.Background(), "acc1", "AAPL", domain.SideBuy, 1, 0, 150); err != nil {
		t.Fatalf("AssessTradeRisk() error = %v", err)
	}
	if breaker.lossCalls != 1 {
		t.Fatalf("RecordLoss calls = %d, want 1", breaker.lossCalls)
	}
	if breaker.lastDaily != 2.4 || breaker.lastWeekly != 6.1 {
		t.Errorf("RecordLoss(%.1f, %.1f), want (2.4, 6.1)", breaker.lastDaily, breaker.lastWeekly)
	}

	// Повторная оценка снова кормит предохранитель
	if _, err := svc.AssessTradeRisk(context.Background(), "acc1", "AAPL", domain.SideBuy, 1, 0, 150); err != nil {
		t.Fatalf("AssessTradeRisk() error = %v", err)
	}
	if breaker.lossCalls != 2 {
		t.Errorf("RecordLoss calls = %d, want 2", breaker.lossCalls)
	}
}

func TestPositionSizingMultiplier_Proxy(t *testing.T) {
	breaker := &stubBreaker{allowed: true, multiplier: 0.5}
	limits := DefaultLimits()
	svc := NewService(NewLimitStore(limits), &stubPortfolio{snapshot: testPortfolio()},
		&stubPrices{price: 150}, breaker, nil, utils.NewLogger("error"))

	if got := svc.PositionSizingMultiplier("acc1"); got != 0.5 {
		t.Errorf("PositionSizingMultiplier() = %.2f, want 0.5", got)
	}
}

func TestScoreLevel(t *testing.T) {
	cfg := DefaultLimits().Score

	tests := []struct {
		score float64
		want  string
	}{
		{0.05, domain.RiskLevelLow},
		{0.25, domain.RiskLevelMedium},
		{0.45, domain.RiskLevelHigh},
		{0.75, domain.RiskLevelCritical},
	}
	for _, tt := range tests {
		if got := scoreLevel(cfg, tt.score); got != tt.want {
			t.Errorf("scoreLevel(%.2f) = %s, want %s", tt.score, got, tt.want)
		}
	}
}
