package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillm/trade-engine/internal/domain"
	"github.com/kirillm/trade-engine/internal/marketdata"
	"github.com/kirillm/trade-engine/internal/strategy"
	"github.com/kirillm/trade-engine/pkg/utils"
)

// Submitter принимает заявки на исполнение
type Submitter interface {
	Submit(ctx context.Context, order *domain.Order) (*domain.Order, error)
}

// RiskGate статус предохранителей и множитель размера позиции. Проверка идет
// через риск-сервис: каждый вызов кормит предохранитель свежими убытками.
type RiskGate interface {
	CheckCircuitBreakers(ctx context.Context, accountID string) (bool, string)
	PositionSizingMultiplier(accountID string) float64
}

// SnapshotSource поставляет рыночные срезы стратегиям
type SnapshotSource interface {
	Snapshot(ctx context.Context, symbol string) (*marketdata.Snapshot, error)
}

// Config параметры цикла автоторговли
type Config struct {
	Interval   time.Duration
	PausedWait time.Duration
	Symbols    []string
	Hours      MarketHours
}

func DefaultConfig() Config {
	return Config{
		Interval:   15 * time.Minute,
		PausedWait: time.Hour,
		Hours:      MarketHours{AlwaysOpen: true},
	}
}

// Registry управляет циклами автоторговли по аккаунтам
type Registry struct {
	cfg      Config
	executor Submitter
	gate     RiskGate
	market   SnapshotSource
	logger   *utils.Logger

	mu    sync.Mutex
	loops map[string]*Loop
}

func NewRegistry(cfg Config, executor Submitter, gate RiskGate, market SnapshotSource, logger *utils.Logger) *Registry {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.PausedWait <= 0 {
		cfg.PausedWait = time.Hour
	}
	return &Registry{
		cfg:      cfg,
		executor: executor,
		gate:     gate,
		market:   market,
		logger:   logger.WithPrefix("scheduler"),
		loops:    make(map[string]*Loop),
	}
}

// Start запускает цикл для аккаунта. Повторный запуск — ошибка.
func (r *Registry) Start(accountID string, strategies ...strategy.Strategy) (*Loop, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: empty account id", domain.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.loops[accountID]; exists {
		return nil, fmt.Errorf("%w: auto-trading already running for account %s", domain.ErrInvalidInput, accountID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	loop := &Loop{
		accountID:  accountID,
		cfg:        r.cfg,
		executor:   r.executor,
		gate:       r.gate,
		market:     r.market,
		logger:     r.logger.WithPrefix(accountID),
		cancel:     cancel,
		strategies: make(map[string]strategy.Strategy),
	}
	for _, s := range strategies {
		loop.strategies[s.Name()] = s
	}
	r.loops[accountID] = loop

	loop.wg.Add(1)
	go loop.run(ctx)
	r.logger.Info("auto-trading started for account %s (%d strategies)", accountID, len(strategies))
	return loop, nil
}

// Stop останавливает цикл аккаунта и ждёт завершения итерации
func (r *Registry) Stop(accountID string) error {
	r.mu.Lock()
	loop, ok := r.loops[accountID]
	if ok {
		delete(r.loops, accountID)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: no auto-trading loop for account %s", domain.ErrNotFound, accountID)
	}
	loop.stop()
	r.logger.Info("auto-trading stopped for account %s", accountID)
	return nil
}

// StopAll останавливает все циклы
func (r *Registry) StopAll() {
	r.mu.Lock()
	loops := make([]*Loop, 0, len(r.loops))
	for _, l := range r.loops {
		loops = append(loops, l)
	}
	r.loops = make(map[string]*Loop)
	r.mu.Unlock()

	for _, l := range loops {
		l.stop()
	}
}

// Loop возвращает активный цикл аккаунта
func (r *Registry) Loop(accountID string) (*Loop, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.loops[accountID]
	return l, ok
}

// Running список аккаунтов с активной автоторговлей
func (r *Registry) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.loops))
	for id := range r.loops {
		out = append(out, id)
	}
	return out
}

// Loop цикл автоторговли одного аккаунта
type Loop struct {
	accountID string
	cfg       Config
	executor  Submitter
	gate      RiskGate
	market    SnapshotSource
	logger    *utils.Logger
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu         sync.Mutex
	strategies map[string]strategy.Strategy
}

func (l *Loop) stop() {
	l.cancel()
	l.wg.Wait()
}

// AddStrategy подключает стратегию на лету
func (l *Loop) AddStrategy(s strategy.Strategy) {
	l.mu.Lock()
	l.strategies[s.Name()] = s
	l.mu.Unlock()
	l.logger.Info("strategy %s attached", s.Name())
}

// RemoveStrategy отключает стратегию на лету
func (l *Loop) RemoveStrategy(name string) bool {
	l.mu.Lock()
	_, ok := l.strategies[name]
	delete(l.strategies, name)
	l.mu.Unlock()
	if ok {
		l.logger.Info("strategy %s detached", name)
	}
	return ok
}

// Strategies имена подключённых стратегий
func (l *Loop) Strategies() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]string, 0, len(l.strategies))
	for name := range l.strategies {
		out = append(out, name)
	}
	return out
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	l.iterate(ctx)
	for {
		wait := l.cfg.Interval
		if allowed, reason := l.gate.CheckCircuitBreakers(ctx, l.accountID); !allowed {
			l.logger.Warn("trading paused: %s", reason)
			if l.cfg.PausedWait > wait {
				wait = l.cfg.PausedWait
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		l.iterate(ctx)
	}
}

func (l *Loop) iterate(ctx context.Context) {
	if !l.cfg.Hours.IsOpen(time.Now()) {
		l.logger.Debug("market closed, skipping iteration")
		return
	}
	if allowed, reason := l.gate.CheckCircuitBreakers(ctx, l.accountID); !allowed {
		l.logger.Warn("circuit breaker open, skipping iteration: %s", reason)
		return
	}

	l.mu.Lock()
	active := make([]strategy.Strategy, 0, len(l.strategies))
	for _, s := range l.strategies {
		active = append(active, s)
	}
	l.mu.Unlock()

	for _, strat := range active {
		for _, symbol := range l.cfg.Symbols {
			if ctx.Err() != nil {
				return
			}
			l.evaluate(ctx, strat, symbol)
		}
	}
}

func (l *Loop) evaluate(ctx context.Context, strat strategy.Strategy, symbol string) {
	snapshot, err := l.market.Snapshot(ctx, symbol)
	if err != nil {
		l.logger.Warn("market snapshot for %s failed: %v", symbol, err)
		return
	}

	signal, err := strat.GenerateSignal(ctx, snapshot)
	if err != nil {
		l.logger.Error("strategy %s failed on %s: %v", strat.Name(), symbol, err)
		return
	}
	if !signal.Actionable() {
		return
	}
	if err := strat.ValidateSignal(signal); err != nil {
		l.logger.Error("strategy %s produced invalid signal: %v", strat.Name(), err)
		return
	}

	multiplier := l.gate.PositionSizingMultiplier(l.accountID)
	if multiplier <= 0 {
		l.logger.Warn("position sizing multiplier is zero, skipping %s signal", symbol)
		return
	}

	order := &domain.Order{
		ID:        uuid.New().String(),
		AccountID: l.accountID,
		Symbol:    signal.Symbol,
		Side:      signal.Action,
		Type:      domain.OrderTypeMarket,
		Reason:    fmt.Sprintf("strategy:%s", strat.Name()),
	}
	if signal.Quantity > 0 {
		order.Quantity = signal.Quantity * multiplier
	} else {
		order.NotionalAmount = signal.NotionalAmount * multiplier
	}

	submitted, err := l.executor.Submit(ctx, order)
	if err != nil {
		l.logger.Warn("order %s for %s not accepted: %v", order.ID, symbol, err)
		return
	}
	l.logger.Info("order %s submitted: %s %s (status %s, sizing x%.2f)",
		submitted.ID, submitted.Side, submitted.Symbol, submitted.Status, multiplier)
}
