package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kirillm/trade-engine/internal/domain"
	"github.com/kirillm/trade-engine/internal/risk"
	"github.com/kirillm/trade-engine/pkg/utils"
)

// EventSink сохраняет события предохранителя для аудита
type EventSink interface {
	SaveEvent(ctx context.Context, event *domain.BreakerEvent) error
}

// Notifier уведомляет о срабатываниях, fire-and-forget
type Notifier interface {
	Notify(accountID, eventType string, payload map[string]interface{})
}

// state состояние одного предохранителя (тип + scope)
type state struct {
	open      bool
	trippedAt time.Time
	reason    string
}

// failureTrack счетчик подряд идущих ошибок в скользящем окне
type failureTrack struct {
	count   int
	firstAt time.Time
}

// lossTrack последние зарегистрированные убытки по scope
type lossTrack struct {
	dailyPct  float64
	weeklyPct float64
}

// CircuitBreaker process-wide предохранитель торговли. Единственный общий
// экземпляр, внедряется через composition root; все мутации под мьютексом.
type CircuitBreaker struct {
	mu       sync.Mutex
	limits   *risk.LimitStore
	states   map[string]*state       // key = type + "/" + scope
	failures map[string]*failureTrack // key = scope
	losses   map[string]*lossTrack    // key = scope
	regime   string

	sink     EventSink // опционально
	notifier Notifier  // опционально
	logger   *utils.Logger
	now      func() time.Time
}

func New(limits *risk.LimitStore, sink EventSink, notifier Notifier, logger *utils.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		limits:   limits,
		states:   make(map[string]*state),
		failures: make(map[string]*failureTrack),
		losses:   make(map[string]*lossTrack),
		regime:   domain.RegimeNormal,
		sink:     sink,
		notifier: notifier,
		logger:   logger.WithPrefix("breaker"),
		now:      time.Now,
	}
}

func key(breakerType, scope string) string {
	return breakerType + "/" + scope
}

// Check сообщает, разрешена ли торговля для аккаунта. Проверяются глобальный
// scope и scope аккаунта; открытый предохранитель с истекшим кулдауном
// автоматически закрывается.
func (cb *CircuitBreaker) Check(accountID string) (bool, string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	limits := cb.limits.Snapshot()
	for k, st := range cb.states {
		if !st.open {
			continue
		}
		breakerType, scope := splitKey(k)
		if scope != domain.ScopeGlobal && scope != accountID {
			continue
		}
		if cb.now().After(st.trippedAt.Add(limits.Cooldown(breakerType))) {
			cb.closeLocked(breakerType, scope, "cooldown elapsed")
			continue
		}
		return false, fmt.Sprintf("%s breaker open (%s): %s", breakerType, scope, st.reason)
	}
	return true, "ok"
}

// RecordOutcome регистрирует исход исполнения. Успех обнуляет счетчик
// подряд идущих ошибок; N ошибок в окне открывают предохранитель.
func (cb *CircuitBreaker) RecordOutcome(scope string, success bool, detail string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if success {
		delete(cb.failures, scope)
		return
	}

	limits := cb.limits.Snapshot()
	now := cb.now()
	track := cb.failures[scope]
	if track == nil || now.Sub(track.firstAt) > limits.FailureWindow() {
		track = &failureTrack{firstAt: now}
		cb.failures[scope] = track
	}
	track.count++

	if track.count >= limits.ConsecutiveFailureThreshold {
		cb.tripLocked(domain.BreakerConsecutiveFailures, scope,
			fmt.Sprintf("%d consecutive failures (last: %s)", track.count, detail))
	}
}

// ConsecutiveFailures текущий счетчик для scope
func (cb *CircuitBreaker) ConsecutiveFailures(scope string) int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if track := cb.failures[scope]; track != nil {
		return track.count
	}
	return 0
}

// RecordLoss регистрирует дневной и недельный убыток в % от портфеля
func (cb *CircuitBreaker) RecordLoss(scope string, dailyLossPct, weeklyLossPct float64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.losses[scope] = &lossTrack{dailyPct: dailyLossPct, weeklyPct: weeklyLossPct}

	limits := cb.limits.Snapshot()
	if limits.MaxDailyLossPct > 0 && dailyLossPct >= limits.MaxDailyLossPct {
		cb.tripLocked(domain.BreakerDailyLoss, scope,
			fmt.Sprintf("daily loss %.2f%% >= %.2f%%", dailyLossPct, limits.MaxDailyLossPct))
	}
	if limits.MaxWeeklyLossPct > 0 && weeklyLossPct >= limits.MaxWeeklyLossPct {
		cb.tripLocked(domain.BreakerWeeklyLoss, scope,
			fmt.Sprintf("weekly loss %.2f%% >= %.2f%%", weeklyLossPct, limits.MaxWeeklyLossPct))
	}
}

// SetVolatilityRegime обновляет режим волатильности. EXTREME открывает
// volatility-предохранитель; HIGH только ужимает sizing multiplier.
func (cb *CircuitBreaker) SetVolatilityRegime(regime string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.regime = regime
	if regime == domain.RegimeExtreme {
		cb.tripLocked(domain.BreakerVolatility, domain.ScopeGlobal,
			"extreme volatility regime detected")
	}
}

// VolatilityRegime текущий режим
func (cb *CircuitBreaker) VolatilityRegime() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.regime
}

// PositionSizingMultiplier возвращает множитель размера позиции в [0,1].
// Меньше 1.0 уже в warning band убытков и при повышенной волатильности,
// до полного срабатывания предохранителей.
func (cb *CircuitBreaker) PositionSizingMultiplier(accountID string) float64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	limits := cb.limits.Snapshot()
	m := 1.0

	switch cb.regime {
	case domain.RegimeHigh:
		m *= limits.Volatility.HighMultiplier
	case domain.RegimeExtreme:
		m *= limits.Volatility.ExtremeMultiplier
	}

	for _, scope := range []string{domain.ScopeGlobal, accountID} {
		track := cb.losses[scope]
		if track == nil || limits.MaxDailyLossPct <= 0 {
			continue
		}
		bandStart := limits.MaxDailyLossPct * limits.WarningBand
		if track.dailyPct >= limits.MaxDailyLossPct {
			return 0
		}
		if track.dailyPct >= bandStart {
			// Линейное ужатие от 1.0 в начале warning band до 0.1 у лимита
			frac := (limits.MaxDailyLossPct - track.dailyPct) / (limits.MaxDailyLossPct - bandStart)
			scaled := 0.1 + 0.9*frac
			if scaled < m {
				m = scaled
			}
		}
	}

	for k, st := range cb.states {
		if !st.open {
			continue
		}
		if _, scope := splitKey(k); scope == domain.ScopeGlobal || scope == accountID {
			return 0
		}
	}

	if m < 0 {
		m = 0
	}
	return m
}

// Reset вручную закрывает предохранитель указанного типа и scope
func (cb *CircuitBreaker) Reset(breakerType, scope string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if scope == "" {
		scope = domain.ScopeGlobal
	}
	st, ok := cb.states[key(breakerType, scope)]
	if !ok || !st.open {
		return false
	}
	cb.closeLocked(breakerType, scope, "manual reset")
	return true
}

// StateView проекция состояния для административного интерфейса
type StateView struct {
	Type      string    `json:"type"`
	Scope     string    `json:"scope"`
	Open      bool      `json:"open"`
	Reason    string    `json:"reason,omitempty"`
	TrippedAt time.Time `json:"tripped_at,omitempty"`
}

// Status возвращает состояние всех известных предохранителей
func (cb *CircuitBreaker) Status() []StateView {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	views := make([]StateView, 0, len(cb.states))
	for k, st := range cb.states {
		breakerType, scope := splitKey(k)
		views = append(views, StateView{
			Type:      breakerType,
			Scope:     scope,
			Open:      st.open,
			Reason:    st.reason,
			TrippedAt: st.trippedAt,
		})
	}
	return views
}

// RolloverDaily сбрасывает дневные окна убытков; вызывается cron-задачей в полночь
func (cb *CircuitBreaker) RolloverDaily() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	for _, track := range cb.losses {
		track.dailyPct = 0
	}
	for k, st := range cb.states {
		if breakerType, scope := splitKey(k); breakerType == domain.BreakerDailyLoss && st.open {
			cb.closeLocked(breakerType, scope, "daily window rollover")
		}
	}
}

// RolloverWeekly сбрасывает недельные окна убытков
func (cb *CircuitBreaker) RolloverWeekly() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	for _, track := range cb.losses {
		track.weeklyPct = 0
	}
	for k, st := range cb.states {
		if breakerType, scope := splitKey(k); breakerType == domain.BreakerWeeklyLoss && st.open {
			cb.closeLocked(breakerType, scope, "weekly window rollover")
		}
	}
}

// tripLocked открывает предохранитель; вызывается под мьютексом
func (cb *CircuitBreaker) tripLocked(breakerType, scope, reason string) {
	k := key(breakerType, scope)
	st := cb.states[k]
	if st != nil && st.open {
		return
	}
	cb.states[k] = &state{open: true, trippedAt: cb.now(), reason: reason}
	cb.logger.Error("breaker tripped: type=%s scope=%s reason=%s", breakerType, scope, reason)

	if cb.sink != nil {
		event := &domain.BreakerEvent{
			BreakerType: breakerType,
			Scope:       scope,
			Reason:      reason,
			TriggeredAt: cb.now(),
		}
		if err := cb.sink.SaveEvent(context.Background(), event); err != nil {
			cb.logger.Warn("failed to save breaker event: %v", err)
		}
	}
	if cb.notifier != nil {
		cb.notifier.Notify(scope, domain.EventBreakerTripped, map[string]interface{}{
			"type":   breakerType,
			"reason": reason,
		})
	}
}

// closeLocked закрывает предохранитель; вызывается под мьютексом
func (cb *CircuitBreaker) closeLocked(breakerType, scope, why string) {
	k := key(breakerType, scope)
	st := cb.states[k]
	if st == nil || !st.open {
		return
	}
	st.open = false
	st.reason = ""
	if breakerType == domain.BreakerConsecutiveFailures {
		delete(cb.failures, scope)
	}
	cb.logger.Info("breaker closed: type=%s scope=%s (%s)", breakerType, scope, why)

	if cb.notifier != nil {
		cb.notifier.Notify(scope, domain.EventBreakerReset, map[string]interface{}{
			"type":   breakerType,
			"reason": why,
		})
	}
}

func splitKey(k string) (breakerType, scope string) {
	for i := 0; i < len(k); i++ {
		if k[i] == '/' {
			return k[:i], k[i+1:]
		}
	}
	return k, domain.ScopeGlobal
}
