package breaker

import (
	"context"
	"testing"
	"time"

	"github.com/kirillm/trade-engine/internal/domain"
	"github.com/kirillm/trade-engine/internal/risk"
	"github.com/kirillm/trade-engine/pkg/utils"
)

type recordingSink struct {
	events []*domain.BreakerEvent
}

func (s *recordingSink) SaveEvent(ctx context.Context, event *domain.BreakerEvent) error {
	s.events = append(s.events, event)
	return nil
}

func newTestBreaker(limits *risk.Limits) (*CircuitBreaker, *recordingSink) {
	sink := &recordingSink{}
	cb := New(risk.NewLimitStore(limits), sink, nil, utils.NewLogger("error"))
	return cb, sink
}

func TestRecordOutcome_TripsAfterThreshold(t *testing.T) {
	limits := risk.DefaultLimits()
	limits.ConsecutiveFailureThreshold = 3
	cb, sink := newTestBreaker(limits)

	cb.RecordOutcome("acc1", false, "timeout")
	cb.RecordOutcome("acc1", false, "timeout")
	if allowed, _ := cb.Check("acc1"); !allowed {
		t.Fatal("breaker must stay closed below threshold")
	}

	cb.RecordOutcome("acc1", false, "timeout")
	allowed, reason := cb.Check("acc1")
	if allowed {
		t.Fatal("breaker must open after 3 consecutive failures")
	}
	if reason == "" {
		t.Error("open breaker must report a reason")
	}
	if len(sink.events) != 1 {
		t.Errorf("expected 1 persisted event, got %d", len(sink.events))
	}
	if sink.events[0].BreakerType != domain.BreakerConsecutiveFailures {
		t.Errorf("unexpected breaker type %s", sink.events[0].BreakerType)
	}
}

func TestRecordOutcome_SuccessResetsCounter(t *testing.T) {
	limits := risk.DefaultLimits()
	limits.ConsecutiveFailureThreshold = 3
	cb, _ := newTestBreaker(limits)

	cb.RecordOutcome("acc1", false, "timeout")
	cb.RecordOutcome("acc1", false, "timeout")
	cb.RecordOutcome("acc1", true, "")
	cb.RecordOutcome("acc1", false, "timeout")
	cb.RecordOutcome("acc1", false, "timeout")

	if allowed, _ := cb.Check("acc1"); !allowed {
		t.Fatal("success must reset the failure counter")
	}
	if got := cb.ConsecutiveFailures("acc1"); got != 2 {
		t.Errorf("ConsecutiveFailures() = %d, want 2", got)
	}
}

func TestRecordOutcome_WindowExpiry(t *testing.T) {
	limits := risk.DefaultLimits()
	limits.ConsecutiveFailureThreshold = 3
	limits.FailureWindowMinutes = 10
	cb, _ := newTestBreaker(limits)

	current := time.Now()
	cb.now = func() time.Time { return current }

	cb.RecordOutcome("acc1", false, "timeout")
	cb.RecordOutcome("acc1", false, "timeout")

	// Окно истекло, счетчик начинается заново
	current = current.Add(11 * time.Minute)
	cb.RecordOutcome("acc1", false, "timeout")

	if allowed, _ := cb.Check("acc1"); !allowed {
		t.Fatal("failures outside of the window must not accumulate")
	}
	if got := cb.ConsecutiveFailures("acc1"); got != 1 {
		t.Errorf("ConsecutiveFailures() = %d, want 1", got)
	}
}

func TestRecordLoss_DailyLimitTrips(t *testing.T) {
	limits := risk.DefaultLimits()
	limits.MaxDailyLossPct = 5
	cb, _ := newTestBreaker(limits)

	cb.RecordLoss("acc1", 4.0, 0)
	if allowed, _ := cb.Check("acc1"); !allowed {
		t.Fatal("loss below limit must not trip")
	}

	cb.RecordLoss("acc1", 5.0, 0)
	if allowed, _ := cb.Check("acc1"); allowed {
		t.Fatal("daily loss at limit must trip the breaker")
	}
	// Другой аккаунт не затронут
	if allowed, _ := cb.Check("acc2"); !allowed {
		t.Fatal("per-account breaker must not affect other accounts")
	}
}

func TestCheck_CooldownAutoClose(t *testing.T) {
	limits := risk.DefaultLimits()
	limits.ConsecutiveFailureThreshold = 1
	limits.CooldownMinutes = map[string]int{domain.BreakerConsecutiveFailures: 30}
	cb, _ := newTestBreaker(limits)

	current := time.Now()
	cb.now = func() time.Time { return current }

	cb.RecordOutcome("acc1", false, "timeout")
	if allowed, _ := cb.Check("acc1"); allowed {
		t.Fatal("breaker must be open")
	}

	current = current.Add(31 * time.Minute)
	if allowed, _ := cb.Check("acc1"); !allowed {
		t.Fatal("breaker must auto-close after cooldown")
	}
}

func TestPositionSizingMultiplier(t *testing.T) {
	limits := risk.DefaultLimits()
	limits.MaxDailyLossPct = 5
	limits.WarningBand = 0.8

	tests := []struct {
		name     string
		dailyPct float64
		wantMin  float64
		wantMax  float64
	}{
		{"below band", 3.0, 1.0, 1.0},
		{"band start", 4.0, 0.99, 1.0},
		{"mid band", 4.5, 0.5, 0.6},
		{"at limit", 5.0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, _ := newTestBreaker(limits)
			cb.RecordLoss("acc1", tt.dailyPct, 0)
			// Срабатывание при dailyPct >= limit дает multiplier 0 и так
			got := cb.PositionSizingMultiplier("acc1")
			if got < tt.wantMin || got > tt.wantMax {
				t.Errorf("PositionSizingMultiplier() = %.3f, want in [%.2f, %.2f]", got, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestPositionSizingMultiplier_Volatility(t *testing.T) {
	limits := risk.DefaultLimits()
	limits.Volatility.HighMultiplier = 0.5
	cb, _ := newTestBreaker(limits)

	cb.SetVolatilityRegime(domain.RegimeHigh)
	if got := cb.PositionSizingMultiplier("acc1"); got != 0.5 {
		t.Errorf("multiplier in HIGH regime = %.2f, want 0.5", got)
	}

	cb.SetVolatilityRegime(domain.RegimeExtreme)
	// EXTREME открывает volatility-предохранитель: торговли нет
	if got := cb.PositionSizingMultiplier("acc1"); got != 0 {
		t.Errorf("multiplier in EXTREME regime = %.2f, want 0", got)
	}
}

func TestReset(t *testing.T) {
	limits := risk.DefaultLimits()
	limits.ConsecutiveFailureThreshold = 1
	cb, _ := newTestBreaker(limits)

	cb.RecordOutcome("acc1", false, "timeout")
	if !cb.Reset(domain.BreakerConsecutiveFailures, "acc1") {
		t.Fatal("Reset must close an open breaker")
	}
	if allowed, _ := cb.Check("acc1"); !allowed {
		t.Fatal("breaker must allow trading after reset")
	}
	if cb.Reset(domain.BreakerConsecutiveFailures, "acc1") {
		t.Error("Reset on a closed breaker must return false")
	}
}

func TestRolloverDaily(t *testing.T) {
	limits := risk.DefaultLimits()
	limits.MaxDailyLossPct = 5
	cb, _ := newTestBreaker(limits)

	cb.RecordLoss("acc1", 6.0, 1.0)
	if allowed, _ := cb.Check("acc1"); allowed {
		t.Fatal("breaker must be open before rollover")
	}

	cb.RolloverDaily()
	if allowed, _ := cb.Check("acc1"); !allowed {
		t.Fatal("daily rollover must close the daily loss breaker")
	}
	if got := cb.PositionSizingMultiplier("acc1"); got != 1.0 {
		t.Errorf("multiplier after rollover = %.2f, want 1.0", got)
	}
}
