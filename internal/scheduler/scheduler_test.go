package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/kirillm/trade-engine/internal/domain"
	"github.com/kirillm/trade-engine/internal/marketdata"
	"github.com/kirillm/trade-engine/internal/strategy"
	"github.com/kirillm/trade-engine/pkg/utils"
)

// chanSubmitter отдает принятые ордера в канал
type chanSubmitter struct {
	orders chan *domain.Order
}

func newChanSubmitter() *chanSubmitter {
	return &chanSubmitter{orders: make(chan *domain.Order, 16)}
}

func (s *chanSubmitter) Submit(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	order.Status = domain.StatusSubmitted
	s.orders <- order
	return order, nil
}

type stubGate struct {
	mu         sync.Mutex
	allowed    bool
	reason     string
	multiplier float64
	checks     int
}

func (g *stubGate) CheckCircuitBreakers(ctx context.Context, accountID string) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checks++
	return g.allowed, g.reason
}

func (g *stubGate) PositionSizingMultiplier(accountID string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.multiplier
}

func (g *stubGate) checkCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.checks
}

type stubMarket struct {
	snapshot *marketdata.Snapshot
	err      error
}

func (m *stubMarket) Snapshot(ctx context.Context, symbol string) (*marketdata.Snapshot, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.snapshot, nil
}

// stubStrategy отдает фиксированный сигнал
type stubStrategy struct {
	name   string
	signal *domain.StrategySignal
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) GenerateSignal(ctx context.Context, snapshot *marketdata.Snapshot) (*domain.StrategySignal, error) {
	return s.signal, nil
}

func (s *stubStrategy) ValidateSignal(signal *domain.StrategySignal) error {
	return strategy.ValidateSignal(signal)
}

func buySignal(quantity float64) *domain.StrategySignal {
	return &domain.StrategySignal{
		Symbol:      "AAPL",
		Action:      domain.SignalBuy,
		Quantity:    quantity,
		Confidence:  0.8,
		GeneratedAt: time.Now(),
	}
}

func testConfig() Config {
	return Config{
		Interval:   time.Hour, // только первая итерация попадает в тест
		PausedWait: time.Hour,
		Symbols:    []string{"AAPL"},
		Hours:      MarketHours{AlwaysOpen: true},
	}
}

func newTestRegistry(cfg Config, gate *stubGate, market *stubMarket) (*Registry, *chanSubmitter) {
	submitter := newChanSubmitter()
	registry := NewRegistry(cfg, submitter, gate, market, utils.NewLogger("error"))
	return registry, submitter
}

func waitOrder(t *testing.T, submitter *chanSubmitter) *domain.Order {
	t.Helper()
	select {
	case order := <-submitter.orders:
		return order
	case <-time.After(2 * time.Second):
		t.Fatal("no order submitted within 2s")
		return nil
	}
}

func assertNoOrder(t *testing.T, submitter *chanSubmitter) {
	t.Helper()
	select {
	case order := <-submitter.orders:
		t.Fatalf("unexpected order submitted: %+v", order)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRegistry_StartStop(t *testing.T) {
	registry, _ := newTestRegistry(testConfig(), &stubGate{allowed: true, multiplier: 1},
		&stubMarket{snapshot: &marketdata.Snapshot{Symbol: "AAPL", Price: 150}})

	if _, err := registry.Start("acc1"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := registry.Start("acc1"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("duplicate Start() error = %v, want ErrInvalidInput", err)
	}
	if _, err := registry.Start(""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("empty account Start() error = %v, want ErrInvalidInput", err)
	}

	running := registry.Running()
	if len(running) != 1 || running[0] != "acc1" {
		t.Errorf("Running() = %v, want [acc1]", running)
	}

	if err := registry.Stop("acc1"); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := registry.Stop("acc1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second Stop() error = %v, want ErrNotFound", err)
	}
	if len(registry.Running()) != 0 {
		t.Errorf("Running() after stop = %v, want empty", registry.Running())
	}
}

func TestLoop_SubmitsScaledOrder(t *testing.T) {
	registry, submitter := newTestRegistry(testConfig(),
		&stubGate{allowed: true, multiplier: 0.5},
		&stubMarket{snapshot: &marketdata.Snapshot{Symbol: "AAPL", Price: 150}})
	defer registry.StopAll()

	if _, err := registry.Start("acc1", &stubStrategy{name: "stub", signal: buySignal(2)}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	order := waitOrder(t, submitter)
	if order.AccountID != "acc1" || order.Symbol != "AAPL" {
		t.Errorf("unexpected order: %+v", order)
	}
	if order.Side != domain.SideBuy || order.Type != domain.OrderTypeMarket {
		t.Errorf("Side/Type = %s/%s, want BUY/MARKET", order.Side, order.Type)
	}
	if order.Quantity != 1 {
		t.Errorf("Quantity = %.2f, want 1 (sizing multiplier applied)", order.Quantity)
	}
	if order.Reason != "strategy:stub" {
		t.Errorf("Reason = %q, want strategy:stub", order.Reason)
	}
	if order.ID == "" {
		t.Error("order must get a generated id")
	}
}

func TestLoop_NotionalSignalScaled(t *testing.T) {
	signal := &domain.StrategySignal{
		Symbol:         "AAPL",
		Action:         domain.SignalSell,
		NotionalAmount: 200,
		GeneratedAt:    time.Now(),
	}
	registry, submitter := newTestRegistry(testConfig(),
		&stubGate{allowed: true, multiplier: 0.5},
		&stubMarket{snapshot: &marketdata.Snapshot{Symbol: "AAPL", Price: 150}})
	defer registry.StopAll()

	registry.Start("acc1", &stubStrategy{name: "stub", signal: signal})

	order := waitOrder(t, submitter)
	if order.NotionalAmount != 100 {
		t.Errorf("NotionalAmount = %.0f, want 100", order.NotionalAmount)
	}
	if order.Quantity != 0 {
		t.Errorf("Quantity = %.2f, want 0 for notional order", order.Quantity)
	}
}

func TestLoop_SkipsWhenBreakerOpen(t *testing.T) {
	gate := &stubGate{allowed: false, reason: "daily_loss breaker open", multiplier: 1}
	registry, submitter := newTestRegistry(testConfig(), gate,
		&stubMarket{snapshot: &marketdata.Snapshot{Symbol: "AAPL", Price: 150}})
	defer registry.StopAll()

	registry.Start("acc1", &stubStrategy{name: "stub", signal: buySignal(2)})
	assertNoOrder(t, submitter)
	if gate.checkCount() == 0 {
		t.Error("loop must consult the risk gate on every iteration")
	}
}

func TestLoop_SkipsOnZeroMultiplier(t *testing.T) {
	registry, submitter := newTestRegistry(testConfig(),
		&stubGate{allowed: true, multiplier: 0},
		&stubMarket{snapshot: &marketdata.Snapshot{Symbol: "AAPL", Price: 150}})
	defer registry.StopAll()

	registry.Start("acc1", &stubStrategy{name: "stub", signal: buySignal(2)})
	assertNoOrder(t, submitter)
}

func TestLoop_SkipsHoldSignal(t *testing.T) {
	hold := &domain.StrategySignal{Symbol: "AAPL", Action: domain.SignalHold, GeneratedAt: time.Now()}
	registry, submitter := newTestRegistry(testConfig(),
		&stubGate{allowed: true, multiplier: 1},
		&stubMarket{snapshot: &marketdata.Snapshot{Symbol: "AAPL", Price: 150}})
	defer registry.StopAll()

	registry.Start("acc1", &stubStrategy{name: "stub", signal: hold})
	assertNoOrder(t, submitter)
}

func TestLoop_SkipsWhenMarketClosed(t *testing.T) {
	cfg := testConfig()
	cfg.Hours = MarketHours{Open: "00:00", Close: "00:00"} // окно нулевой ширины

	registry, submitter := newTestRegistry(cfg,
		&stubGate{allowed: true, multiplier: 1},
		&stubMarket{snapshot: &marketdata.Snapshot{Symbol: "AAPL", Price: 150}})
	defer registry.StopAll()

	registry.Start("acc1", &stubStrategy{name: "stub", signal: buySignal(2)})
	assertNoOrder(t, submitter)
}

func TestLoop_StrategyManagement(t *testing.T) {
	registry, _ := newTestRegistry(testConfig(),
		&stubGate{allowed: true, multiplier: 1},
		&stubMarket{err: errors.New("no data")}) // evaluate всегда отваливается на снапшоте
	defer registry.StopAll()

	loop, err := registry.Start("acc1", &stubStrategy{name: "alpha", signal: buySignal(1)})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	loop.AddStrategy(&stubStrategy{name: "beta", signal: buySignal(1)})
	names := loop.Strategies()
	sort.Strings(names)
	if len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("Strategies() = %v, want [alpha beta]", names)
	}

	if !loop.RemoveStrategy("alpha") {
		t.Error("RemoveStrategy(alpha) = false, want true")
	}
	if loop.RemoveStrategy("alpha") {
		t.Error("second RemoveStrategy(alpha) = true, want false")
	}

	got, ok := registry.Loop("acc1")
	if !ok || got != loop {
		t.Error("Loop(acc1) must return the running loop")
	}
}
