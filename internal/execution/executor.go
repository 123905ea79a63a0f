package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kirillm/trade-engine/internal/domain"
	"github.com/kirillm/trade-engine/internal/risk"
	"github.com/kirillm/trade-engine/internal/venue"
	"github.com/kirillm/trade-engine/pkg/utils"
)

var (
	ErrRiskBlocked     = errors.New("order blocked by risk assessment")
	ErrRiskReduce      = errors.New("order exceeds risk limits, reduce quantity")
	ErrSlippageTooHigh = errors.New("slippage exceeds threshold")
)

// RiskAssessor интерфейс pre-trade оценки риска
type RiskAssessor interface {
	AssessTradeRisk(ctx context.Context, accountID, symbol, side string, quantity, notional, price float64) (*risk.Assessment, error)
}

// Breaker интерфейс торгового предохранителя
type Breaker interface {
	Check(accountID string) (bool, string)
	RecordOutcome(scope string, success bool, detail string)
}

// Gateway интерфейс шлюза исполнения
type Gateway interface {
	ExecuteOrder(ctx context.Context, order *domain.Order) (*venue.ExecutionResult, error)
	OrderStatus(ctx context.Context, provider, venueOrderID string) (*venue.StatusResult, error)
	CancelOrder(ctx context.Context, provider, venueOrderID string) (bool, error)
}

// FillHandler downstream-обработка филла (обновление портфеля)
type FillHandler interface {
	HandleFill(ctx context.Context, order *domain.Order) error
}

// Notifier уведомления и алерты, fire-and-forget
type Notifier interface {
	Notify(accountID, eventType string, payload map[string]interface{})
	Alert(message string)
}

// Config параметры ретраев и опроса статусов
type Config struct {
	MaxRetries     int
	RetryBaseDelay time.Duration
	PollDelays     []time.Duration // нарастающие задержки первых проверок
	PollInterval   time.Duration   // дальнейший интервал опроса
	PollHorizon    time.Duration   // максимальный горизонт опроса
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		RetryBaseDelay: 2 * time.Second,
		PollDelays:     []time.Duration{5 * time.Second, 30 * time.Second, 2 * time.Minute, 10 * time.Minute},
		PollInterval:   10 * time.Minute,
		PollHorizon:    24 * time.Hour,
	}
}

// statusRank монотонность переходов: откат на меньший ранг запрещен
var statusRank = map[string]int{
	domain.StatusCreated:         0,
	domain.StatusSubmitted:       1,
	domain.StatusPartiallyFilled: 2,
	domain.StatusFilled:          3,
	domain.StatusRejected:        3,
	domain.StatusCanceled:        3,
	domain.StatusExpired:         3,
}

// Executor оркестрирует жизненный цикл одного ордера: проверки, отправка,
// опрос статуса, обработка филлов и ретраи.
type Executor struct {
	cfg      Config
	gateway  Gateway
	risk     RiskAssessor
	breaker  Breaker
	orders   domain.OrderRepository
	fills    FillHandler // опционально
	notifier Notifier    // опционально
	slippage *SlippageGuard
	logger   *utils.Logger

	// per-order блокировки: конкурентные submit и checkStatus одного
	// ордера не гоняются за состояние
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	ctx context.Context // время жизни фоновых опросов
	wg  sync.WaitGroup
}

func NewExecutor(
	cfg Config,
	gateway Gateway,
	riskSvc RiskAssessor,
	breaker Breaker,
	orders domain.OrderRepository,
	fills FillHandler,
	notifier Notifier,
	slippage *SlippageGuard,
	logger *utils.Logger,
) *Executor {
	return &Executor{
		cfg:      cfg,
		gateway:  gateway,
		risk:     riskSvc,
		breaker:  breaker,
		orders:   orders,
		fills:    fills,
		notifier: notifier,
		slippage: slippage,
		logger:   logger.WithPrefix("executor"),
		locks:    make(map[string]*sync.Mutex),
		ctx:      context.Background(),
	}
}

// Start привязывает фоновые опросы статусов к времени жизни приложения
// и возобновляет опрос ордеров, оставшихся активными после рестарта.
func (e *Executor) Start(ctx context.Context) {
	e.ctx = ctx

	active, err := e.orders.GetActive(ctx)
	if err != nil {
		e.logger.Warn("failed to load active orders: %v", err)
		return
	}
	for _, order := range active {
		if order.Status == domain.StatusSubmitted || order.Status == domain.StatusPartiallyFilled {
			e.ScheduleStatusChecks(order.ID)
		}
	}
}

// Wait дожидается завершения фоновых опросов
func (e *Executor) Wait() {
	e.wg.Wait()
}

func (e *Executor) orderLock(orderID string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	lock, ok := e.locks[orderID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[orderID] = lock
	}
	return lock
}

// dropLock удаляет блокировку завершенного ордера из карты; терминальные
// состояния неизменяемы, дальнейшие операции их только читают
func (e *Executor) dropLock(orderID string) {
	e.locksMu.Lock()
	delete(e.locks, orderID)
	e.locksMu.Unlock()
}

// Submit проводит ордер через риск-оценку, предохранитель и шлюз.
// Идемпотентен по id ордера: повторный вызов для ордера не в состоянии
// CREATED не переотправляет его, а возвращает текущее состояние.
func (e *Executor) Submit(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	if order == nil || order.ID == "" {
		return nil, fmt.Errorf("%w: order id is required", domain.ErrInvalidInput)
	}

	lock := e.orderLock(order.ID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := e.orders.Get(ctx, order.ID)
	switch {
	case err == nil && existing.Status != domain.StatusCreated:
		// уже отправлен или завершен: no-op
		if existing.Terminal() {
			e.dropLock(order.ID)
		}
		return existing, nil
	case err == nil:
		order = existing
	case errors.Is(err, domain.ErrNotFound):
		if err := validateOrder(order); err != nil {
			return nil, err
		}
		order.Status = domain.StatusCreated
		if order.CreatedAt.IsZero() {
			order.CreatedAt = time.Now()
		}
		if err := e.orders.Save(ctx, order); err != nil {
			return nil, fmt.Errorf("failed to save order: %w", err)
		}
		e.appendEvent(ctx, order.ID, "", domain.StatusCreated, "order accepted")
	default:
		return nil, fmt.Errorf("failed to load order: %w", err)
	}

	assessment, err := e.risk.AssessTradeRisk(ctx, order.AccountID, order.Symbol, order.Side,
		order.Quantity, order.NotionalAmount, order.LimitPrice)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			e.reject(ctx, order, "validation failed: "+err.Error())
			return order, err
		}
		// DataUnavailable и прочее: ордер остается CREATED, можно повторить позже
		return order, err
	}

	switch assessment.Action {
	case domain.ActionBlock:
		reason := violationSummary(assessment.Violations)
		e.reject(ctx, order, "risk blocked: "+reason)
		return order, fmt.Errorf("%w: %s", ErrRiskBlocked, reason)
	case domain.ActionReduce:
		reason := fmt.Sprintf("%s; max_allowed_quantity=%.4f",
			violationSummary(assessment.Warnings), assessment.MaxAllowedQuantity)
		e.reject(ctx, order, "risk reduce required: "+reason)
		return order, fmt.Errorf("%w: %s", ErrRiskReduce, reason)
	}

	if allowed, status := e.breaker.Check(order.AccountID); !allowed {
		// новые отправки запрещены, venue не трогаем; ордер остается CREATED
		return order, fmt.Errorf("%w: %s", domain.ErrCircuitBreakerOpen, status)
	}

	result, submitErr := e.submitWithRetry(ctx, order)
	if submitErr != nil {
		e.breaker.RecordOutcome(order.AccountID, false, submitErr.Error())

		if errors.Is(submitErr, domain.ErrAllProvidersExhausted) {
			// ордер остается в последнем известном состоянии для ручного вмешательства
			e.appendEvent(ctx, order.ID, order.Status, order.Status, "all providers exhausted")
			e.alert(fmt.Sprintf("order %s: all providers exhausted", order.ID))
			return order, submitErr
		}

		e.alert(fmt.Sprintf("order %s rejected after %d attempts: %v", order.ID, e.cfg.MaxRetries+1, submitErr))
		e.reject(ctx, order, "submission failed: "+submitErr.Error())
		return order, submitErr
	}

	e.breaker.RecordOutcome(order.AccountID, true, "")

	order.Provider = result.Provider
	order.VenueOrderID = result.VenueOrderID
	order.SubmittedAt = result.SubmittedAt
	if err := e.transition(ctx, order, result.Status, "accepted by "+result.Provider); err != nil {
		return order, err
	}

	if order.Status == domain.StatusSubmitted {
		e.ScheduleStatusChecks(order.ID)
	}
	return order, nil
}

// submitWithRetry отправляет ордер с экспоненциальным backoff. Постоянные
// отказы провайдера не ретраятся.
func (e *Executor) submitWithRetry(ctx context.Context, order *domain.Order) (*venue.ExecutionResult, error) {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := e.cfg.RetryBaseDelay << (attempt - 1)
			e.logger.Warn("retrying order %s in %v (attempt %d/%d): %v",
				order.ID, delay, attempt, e.cfg.MaxRetries, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := e.gateway.ExecuteOrder(ctx, order)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if venue.IsPermanent(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// ScheduleStatusChecks запускает фоновый опрос статуса с нарастающими
// задержками до терминального состояния или истечения горизонта. Опрос
// привязан к времени жизни executor, а не вызывающего цикла: остановка
// планировщика не прерывает отслеживание уже отправленных ордеров.
func (e *Executor) ScheduleStatusChecks(orderID string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		deadline := time.Now().Add(e.cfg.PollHorizon)

		for i := 0; ; i++ {
			delay := e.cfg.PollInterval
			if i < len(e.cfg.PollDelays) {
				delay = e.cfg.PollDelays[i]
			}

			select {
			case <-e.ctx.Done():
				return
			case <-time.After(delay):
			}

			order, err := e.CheckStatus(e.ctx, orderID)
			if err != nil {
				e.logger.Warn("status check for %s failed: %v", orderID, err)
				continue
			}
			if order.Terminal() {
				return
			}
			if time.Now().After(deadline) {
				e.logger.Warn("polling horizon expired for order %s in state %s", orderID, order.Status)
				e.alert(fmt.Sprintf("order %s stuck in %s, polling horizon expired", orderID, order.Status))
				return
			}
		}
	}()
}

// CheckStatus сверяет состояние ордера с venue и применяет переход.
// Неожиданные ошибки опроса логируются, проверка повторится на следующем
// интервале.
func (e *Executor) CheckStatus(ctx context.Context, orderID string) (*domain.Order, error) {
	lock := e.orderLock(orderID)
	lock.Lock()
	defer lock.Unlock()

	order, err := e.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Terminal() {
		e.dropLock(orderID)
		return order, nil
	}
	if order.VenueOrderID == "" {
		return order, nil
	}

	status, err := e.gateway.OrderStatus(ctx, order.Provider, order.VenueOrderID)
	if err != nil {
		e.logger.Warn("venue status query failed for %s: %v", orderID, err)
		return order, nil
	}

	if status.Status == order.Status && status.FilledQuantity == order.FilledQuantity {
		return order, nil
	}

	order.FilledQuantity = status.FilledQuantity
	order.FilledAvgPrice = status.FilledAvgPrice

	note := fmt.Sprintf("venue reported %s (filled %.8f @ %.8f)",
		status.Status, status.FilledQuantity, status.FilledAvgPrice)

	if status.Status == domain.StatusFilled {
		order.FilledAt = status.FilledAt
		if order.FilledAt.IsZero() {
			order.FilledAt = time.Now()
		}
		if e.slippage != nil && order.LimitPrice > 0 && status.FilledAvgPrice > 0 {
			if err := e.slippage.Check(status.FilledAvgPrice, order.LimitPrice); err != nil {
				note += "; " + err.Error()
				e.logger.Warn("order %s: %v", order.ID, err)
			}
		}
	}

	if err := e.transition(ctx, order, status.Status, note); err != nil {
		return order, err
	}

	if order.Status == domain.StatusFilled {
		e.processFill(ctx, order)
	}
	return order, nil
}

// Cancel запрашивает отмену ордера на venue
func (e *Executor) Cancel(ctx context.Context, orderID string) (*domain.Order, error) {
	lock := e.orderLock(orderID)
	lock.Lock()
	defer lock.Unlock()

	order, err := e.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Terminal() {
		return order, fmt.Errorf("%w: %s", domain.ErrTerminalState, order.Status)
	}
	if order.VenueOrderID == "" {
		if err := e.transition(ctx, order, domain.StatusCanceled, "canceled before submission"); err != nil {
			return order, err
		}
		return order, nil
	}

	ok, err := e.gateway.CancelOrder(ctx, order.Provider, order.VenueOrderID)
	if err != nil {
		return order, err
	}
	if ok {
		if err := e.transition(ctx, order, domain.StatusCanceled, "canceled on venue"); err != nil {
			return order, err
		}
	}
	return order, nil
}

// transition применяет переход состояния: терминальные состояния не
// перезаписываются, откат на меньший ранг игнорируется.
func (e *Executor) transition(ctx context.Context, order *domain.Order, newStatus, note string) error {
	if order.Status == newStatus {
		order.UpdatedAt = time.Now()
		return e.orders.Update(ctx, order)
	}
	if order.Terminal() {
		return fmt.Errorf("%w: %s -> %s refused", domain.ErrTerminalState, order.Status, newStatus)
	}
	if statusRank[newStatus] < statusRank[order.Status] {
		e.logger.Warn("ignoring status regression for %s: %s -> %s", order.ID, order.Status, newStatus)
		return nil
	}

	from := order.Status
	order.Status = newStatus
	order.UpdatedAt = time.Now()
	if err := e.orders.Update(ctx, order); err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	e.appendEvent(ctx, order.ID, from, newStatus, note)
	e.logger.Info("order %s: %s -> %s", order.ID, from, newStatus)
	if order.Terminal() {
		e.dropLock(order.ID)
	}
	return nil
}

// processFill запускает downstream-эффекты филла
func (e *Executor) processFill(ctx context.Context, order *domain.Order) {
	if e.fills != nil {
		if err := e.fills.HandleFill(ctx, order); err != nil {
			e.logger.Error("fill processing for %s failed: %v", order.ID, err)
		}
	}
	if e.notifier != nil {
		e.notifier.Notify(order.AccountID, domain.EventOrderFilled, map[string]interface{}{
			"order_id":  order.ID,
			"symbol":    order.Symbol,
			"side":      order.Side,
			"quantity":  order.FilledQuantity,
			"avg_price": order.FilledAvgPrice,
		})
	}
}

// reject переводит ордер в REJECTED со структурированной причиной
func (e *Executor) reject(ctx context.Context, order *domain.Order, reason string) {
	order.Reason = reason
	if err := e.transition(ctx, order, domain.StatusRejected, reason); err != nil {
		e.logger.Error("failed to reject order %s: %v", order.ID, err)
		return
	}
	if e.notifier != nil {
		e.notifier.Notify(order.AccountID, domain.EventOrderRejected, map[string]interface{}{
			"order_id": order.ID,
			"symbol":   order.Symbol,
			"reason":   reason,
		})
	}
}

func (e *Executor) appendEvent(ctx context.Context, orderID, from, to, note string) {
	err := e.orders.AppendEvent(ctx, &domain.OrderEvent{
		OrderID:    orderID,
		FromStatus: from,
		ToStatus:   to,
		Note:       note,
		CreatedAt:  time.Now(),
	})
	if err != nil {
		e.logger.Warn("failed to append order event for %s: %v", orderID, err)
	}
}

func (e *Executor) alert(message string) {
	if e.notifier != nil {
		e.notifier.Alert(message)
	}
}

func validateOrder(order *domain.Order) error {
	if order.AccountID == "" || order.Symbol == "" {
		return fmt.Errorf("%w: account and symbol are required", domain.ErrInvalidInput)
	}
	if order.Side != domain.SideBuy && order.Side != domain.SideSell {
		return fmt.Errorf("%w: side %q", domain.ErrInvalidInput, order.Side)
	}
	switch order.Type {
	case domain.OrderTypeMarket, domain.OrderTypeLimit, domain.OrderTypeStop, domain.OrderTypeStopLimit:
	default:
		return fmt.Errorf("%w: order type %q", domain.ErrInvalidInput, order.Type)
	}
	if (order.Quantity <= 0) == (order.NotionalAmount <= 0) {
		return fmt.Errorf("%w: exactly one of quantity or notional must be positive", domain.ErrInvalidInput)
	}
	if (order.Type == domain.OrderTypeLimit || order.Type == domain.OrderTypeStopLimit) && order.LimitPrice <= 0 {
		return fmt.Errorf("%w: limit price required for %s order", domain.ErrInvalidInput, order.Type)
	}
	if (order.Type == domain.OrderTypeStop || order.Type == domain.OrderTypeStopLimit) && order.StopPrice <= 0 {
		return fmt.Errorf("%w: stop price required for %s order", domain.ErrInvalidInput, order.Type)
	}
	return nil
}

func violationSummary(violations []risk.Violation) string {
	if len(violations) == 0 {
		return "no details"
	}
	parts := make([]string, 0, len(violations))
	for _, v := range violations {
		parts = append(parts, v.Message)
	}
	return strings.Join(parts, "; ")
}
