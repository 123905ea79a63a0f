package domain

// Order sides
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Order types
const (
	OrderTypeMarket    = "MARKET"
	OrderTypeLimit     = "LIMIT"
	OrderTypeStop      = "STOP"
	OrderTypeStopLimit = "STOP_LIMIT"
)

// Order statuses
const (
	StatusCreated         = "CREATED"
	StatusSubmitted       = "SUBMITTED"
	StatusPartiallyFilled = "PARTIALLY_FILLED"
	StatusFilled          = "FILLED"
	StatusRejected        = "REJECTED"
	StatusCanceled        = "CANCELED"
	StatusExpired         = "EXPIRED"
)

// IsTerminalStatus сообщает, является ли статус конечным.
// Из конечного статуса переходы запрещены.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusFilled, StatusRejected, StatusCanceled, StatusExpired:
		return true
	}
	return false
}

// Signal actions
const (
	SignalBuy  = "BUY"
	SignalSell = "SELL"
	SignalHold = "HOLD"
)

// Circuit breaker types
const (
	BreakerDailyLoss           = "daily_loss"
	BreakerWeeklyLoss          = "weekly_loss"
	BreakerConsecutiveFailures = "consecutive_failures"
	BreakerVolatility          = "volatility"
)

// Breaker scope: глобальный или per-account (scope = account id)
const ScopeGlobal = "GLOBAL"

// Risk levels
const (
	RiskLevelLow      = "LOW"
	RiskLevelMedium   = "MEDIUM"
	RiskLevelHigh     = "HIGH"
	RiskLevelCritical = "CRITICAL"
)

// Risk assessment actions
const (
	ActionAllow  = "ALLOW"
	ActionReduce = "REDUCE"
	ActionBlock  = "BLOCK"
)

// Violation severities
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Volatility regimes
const (
	RegimeLow     = "LOW"
	RegimeNormal  = "NORMAL"
	RegimeHigh    = "HIGH"
	RegimeExtreme = "EXTREME"
)

// Notification event types
const (
	EventOrderFilled    = "order_filled"
	EventOrderRejected  = "order_rejected"
	EventBreakerTripped = "breaker_tripped"
	EventBreakerReset   = "breaker_reset"
	EventProvidersDown  = "providers_exhausted"
)

// Snapshot types for PnL history
const (
	SnapshotHourly = "HOURLY"
	SnapshotDaily  = "DAILY"
	SnapshotWeekly = "WEEKLY"
)
