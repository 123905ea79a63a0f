package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/kirillm/trade-engine/internal/domain"
	"github.com/kirillm/trade-engine/pkg/utils"
)

// PriceSource интерфейс источника текущих цен
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

// Breaker интерфейс торгового предохранителя
type Breaker interface {
	Check(accountID string) (bool, string)
	RecordLoss(scope string, dailyLossPct, weeklyLossPct float64)
	PositionSizingMultiplier(accountID string) float64
	VolatilityRegime() string
}

// Service вычисляет риск-метрики портфеля и pre-trade оценки
type Service struct {
	limits     *LimitStore
	portfolio  domain.PortfolioRepository
	prices     PriceSource
	breaker    Breaker
	violations domain.ViolationRepository // опционально, nil допустим
	logger     *utils.Logger
}

func NewService(
	limits *LimitStore,
	portfolio domain.PortfolioRepository,
	prices PriceSource,
	breaker Breaker,
	violations domain.ViolationRepository,
	logger *utils.Logger,
) *Service {
	return &Service{
		limits:     limits,
		portfolio:  portfolio,
		prices:     prices,
		breaker:    breaker,
		violations: violations,
		logger:     logger.WithPrefix("risk"),
	}
}

// AssessTradeRisk оценивает предложенный ордер против активного профиля лимитов.
// quantity и notional взаимоисключающие; price <= 0 означает "возьми рыночную".
// Отсутствующие опциональные данные деградируют, не роняя оценку.
func (s *Service) AssessTradeRisk(ctx context.Context, accountID, symbol, side string, quantity, notional, price float64) (*Assessment, error) {
	if symbol == "" || accountID == "" {
		return nil, fmt.Errorf("%w: symbol and account are required", domain.ErrInvalidInput)
	}
	if side != domain.SideBuy && side != domain.SideSell {
		return nil, fmt.Errorf("%w: side %q", domain.ErrInvalidInput, side)
	}
	if (quantity <= 0) == (notional <= 0) {
		return nil, fmt.Errorf("%w: exactly one of quantity or notional must be positive", domain.ErrInvalidInput)
	}

	limits := s.limits.Snapshot()

	if price <= 0 {
		resolved, err := s.prices.GetPrice(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("%w: no price for %s: %v", domain.ErrDataUnavailable, symbol, err)
		}
		price = resolved
	}

	snapshot, err := s.portfolio.GetSnapshot(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: portfolio for %s: %v", domain.ErrDataUnavailable, accountID, err)
	}
	if snapshot.TotalValue <= 0 {
		return nil, fmt.Errorf("%w: portfolio %s has no value", domain.ErrDataUnavailable, accountID)
	}

	// Каждая оценка обновляет состояние предохранителя свежими убытками
	if s.breaker != nil {
		s.breaker.RecordLoss(accountID, snapshot.DailyDrawdownPct, snapshot.WeeklyDrawdownPct)
	}

	tradeValue := quantity * price
	if notional > 0 {
		tradeValue = notional
		quantity = notional / price
	}

	a := &Assessment{
		AccountID:      accountID,
		Symbol:         symbol,
		Side:           side,
		Quantity:       quantity,
		NotionalAmount: notional,
		Price:          price,
		TradeValue:     tradeValue,
		CheckedAt:      time.Now(),
	}

	sign := 1.0
	if side == domain.SideSell {
		sign = -1.0
	}

	existingValue := 0.0
	sector := "unknown"
	if pos := snapshot.PositionFor(symbol); pos != nil {
		existingValue = pos.MarketValue
		if pos.Sector != "" {
			sector = pos.Sector
		}
	}

	// 1. Результирующая позиция как % портфеля
	resultingValue := existingValue + sign*tradeValue
	if resultingValue < 0 {
		resultingValue = 0
	}
	positionPct := resultingValue / snapshot.TotalValue * 100
	if positionPct > limits.MaxPositionSizePct {
		maxValue := limits.MaxPositionSizePct / 100 * snapshot.TotalValue
		maxQty := (maxValue - existingValue) / price
		if maxQty < 0 {
			maxQty = 0
		}
		a.MaxAllowedQuantity = maxQty
		a.Warnings = append(a.Warnings, Violation{
			Type:           "position_size",
			LimitName:      "max_position_size_pct",
			LimitValue:     limits.MaxPositionSizePct,
			AttemptedValue: positionPct,
			Severity:       domain.SeverityWarning,
			Message:        fmt.Sprintf("position would be %.2f%% of portfolio (limit %.2f%%)", positionPct, limits.MaxPositionSizePct),
		})
	}

	// 2. Концентрация по сектору символа
	sectorValue := sign * tradeValue
	for _, pos := range snapshot.Positions {
		posSector := pos.Sector
		if posSector == "" {
			posSector = "unknown"
		}
		if posSector == sector {
			sectorValue += pos.MarketValue
		}
	}
	concentrationPct := sectorValue / snapshot.TotalValue * 100
	if limits.MaxSymbolConcentrationPct > 0 && concentrationPct > limits.MaxSymbolConcentrationPct {
		a.Warnings = append(a.Warnings, Violation{
			Type:           "concentration",
			LimitName:      "max_symbol_concentration_pct",
			LimitValue:     limits.MaxSymbolConcentrationPct,
			AttemptedValue: concentrationPct,
			Severity:       domain.SeverityWarning,
			Message:        fmt.Sprintf("sector %q concentration %.2f%% exceeds %.2f%%", sector, concentrationPct, limits.MaxSymbolConcentrationPct),
		})
	}

	// 3. Дневной убыток: достигнутый лимит блокирует, warning band предупреждает
	if snapshot.DailyDrawdownPct >= limits.MaxDailyLossPct {
		a.Violations = append(a.Violations, Violation{
			Type:           "daily_loss",
			LimitName:      "max_daily_loss_pct",
			LimitValue:     limits.MaxDailyLossPct,
			AttemptedValue: snapshot.DailyDrawdownPct,
			Severity:       domain.SeverityCritical,
			Message:        fmt.Sprintf("daily loss %.2f%% at or above limit %.2f%%", snapshot.DailyDrawdownPct, limits.MaxDailyLossPct),
		})
	} else if snapshot.DailyDrawdownPct >= limits.MaxDailyLossPct*limits.WarningBand {
		a.Warnings = append(a.Warnings, Violation{
			Type:           "daily_loss",
			LimitName:      "max_daily_loss_pct",
			LimitValue:     limits.MaxDailyLossPct,
			AttemptedValue: snapshot.DailyDrawdownPct,
			Severity:       domain.SeverityWarning,
			Message:        fmt.Sprintf("daily loss %.2f%% in warning band of %.2f%% limit", snapshot.DailyDrawdownPct, limits.MaxDailyLossPct),
		})
	}

	// 4. Результирующее плечо
	exposure := 0.0
	for _, pos := range snapshot.Positions {
		exposure += pos.MarketValue
	}
	resultingLeverage := (exposure + sign*tradeValue) / snapshot.TotalValue
	if limits.MaxPortfolioLeverage > 0 && resultingLeverage > limits.MaxPortfolioLeverage {
		a.Violations = append(a.Violations, Violation{
			Type:           "leverage",
			LimitName:      "max_portfolio_leverage",
			LimitValue:     limits.MaxPortfolioLeverage,
			AttemptedValue: resultingLeverage,
			Severity:       domain.SeverityCritical,
			Message:        fmt.Sprintf("resulting leverage %.2fx exceeds %.2fx", resultingLeverage, limits.MaxPortfolioLeverage),
		})
	}

	// 5. Частота сделок
	if limits.MaxDailyTrades > 0 && snapshot.DailyTradeCount >= limits.MaxDailyTrades {
		a.Warnings = append(a.Warnings, Violation{
			Type:           "trade_frequency",
			LimitName:      "max_daily_trades",
			LimitValue:     float64(limits.MaxDailyTrades),
			AttemptedValue: float64(snapshot.DailyTradeCount + 1),
			Severity:       domain.SeverityWarning,
			Message:        "daily trade limit reached",
		})
	}

	a.Score = s.calculateScore(limits, positionPct, concentrationPct, snapshot.DailyDrawdownPct, resultingLeverage)
	a.Level = scoreLevel(limits.Score, a.Score)

	switch {
	case len(a.Violations) > 0:
		a.Action = domain.ActionBlock
	case len(a.Warnings) > 0:
		a.Action = domain.ActionReduce
	default:
		a.Action = domain.ActionAllow
	}

	s.recordViolations(ctx, a)

	return a, nil
}

// calculateScore взвешенная сумма утилизаций лимитов, ограниченная [0,1]
func (s *Service) calculateScore(limits *Limits, positionPct, concentrationPct, dailyLossPct, leverage float64) float64 {
	score := 0.0
	if limits.MaxPositionSizePct > 0 {
		score += clamp01(positionPct/limits.MaxPositionSizePct) * limits.Score.PositionWeight
	}
	if limits.MaxSymbolConcentrationPct > 0 {
		score += clamp01(concentrationPct/limits.MaxSymbolConcentrationPct) * limits.Score.ConcentrationWeight
	}
	if limits.MaxDailyLossPct > 0 {
		score += clamp01(dailyLossPct/limits.MaxDailyLossPct) * limits.Score.LossWeight
	}
	if limits.MaxPortfolioLeverage > 0 {
		score += clamp01(leverage/limits.MaxPortfolioLeverage) * limits.Score.LeverageWeight
	}
	return clamp01(score)
}

func scoreLevel(cfg ScoreConfig, score float64) string {
	switch {
	case score < cfg.MediumAt:
		return domain.RiskLevelLow
	case score < cfg.HighAt:
		return domain.RiskLevelMedium
	case score < cfg.CriticalAt:
		return domain.RiskLevelHigh
	default:
		return domain.RiskLevelCritical
	}
}

// recordViolations сохраняет нарушения для аудита, best effort
func (s *Service) recordViolations(ctx context.Context, a *Assessment) {
	if s.violations == nil {
		return
	}
	all := append(append([]Violation{}, a.Violations...), a.Warnings...)
	for _, v := range all {
		err := s.violations.Save(ctx, &domain.RiskViolation{
			AccountID:      a.AccountID,
			ViolationType:  v.Type,
			LimitName:      v.LimitName,
			LimitValue:     v.LimitValue,
			AttemptedValue: v.AttemptedValue,
			Severity:       v.Severity,
		})
		if err != nil {
			s.logger.Warn("failed to save risk violation: %v", err)
		}
	}
}

// PortfolioRiskMetrics считает текущие метрики риска портфеля
func (s *Service) PortfolioRiskMetrics(ctx context.Context, accountID string) (*Metrics, error) {
	snapshot, err := s.portfolio.GetSnapshot(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: portfolio for %s: %v", domain.ErrDataUnavailable, accountID, err)
	}

	exposure := 0.0
	largest := 0.0
	for _, pos := range snapshot.Positions {
		exposure += pos.MarketValue
		if pos.MarketValue > largest {
			largest = pos.MarketValue
		}
	}

	m := &Metrics{
		AccountID:       accountID,
		TotalExposure:   exposure,
		CashBalance:     snapshot.CashBalance,
		PortfolioValue:  snapshot.TotalValue,
		DailyLossPct:    snapshot.DailyDrawdownPct,
		WeeklyLossPct:   snapshot.WeeklyDrawdownPct,
		DailyTradeCount: snapshot.DailyTradeCount,
		LastUpdated:     time.Now(),
	}
	if snapshot.TotalValue > 0 {
		m.Leverage = exposure / snapshot.TotalValue
		m.LargestPositionPct = largest / snapshot.TotalValue * 100
	}
	if s.breaker != nil {
		m.VolatilityRegime = s.breaker.VolatilityRegime()
	}
	return m, nil
}

// PositionSizingMultiplier текущий множитель размера позиции предохранителя
func (s *Service) PositionSizingMultiplier(accountID string) float64 {
	if s.breaker == nil {
		return 1.0
	}
	return s.breaker.PositionSizingMultiplier(accountID)
}

// CheckCircuitBreakers скармливает предохранителю свежие убытки и возвращает статус
func (s *Service) CheckCircuitBreakers(ctx context.Context, accountID string) (bool, string) {
	if s.breaker == nil {
		return true, "no breaker configured"
	}
	snapshot, err := s.portfolio.GetSnapshot(ctx, accountID)
	if err != nil {
		// Нет данных портфеля — статус предохранителя все равно отвечаем
		s.logger.Warn("portfolio unavailable for breaker check: %v", err)
	} else {
		s.breaker.RecordLoss(accountID, snapshot.DailyDrawdownPct, snapshot.WeeklyDrawdownPct)
	}
	return s.breaker.Check(accountID)
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
