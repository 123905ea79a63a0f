package risk

import "time"

// Assessment результат pre-trade оценки риска. Эфемерный: считается заново
// для каждого предложенного ордера, не персистится как сущность.
type Assessment struct {
	AccountID          string
	Symbol             string
	Side               string
	Quantity           float64
	NotionalAmount     float64
	Price              float64
	TradeValue         float64
	Score              float64 // 0.0 = безопасно, 1.0 = максимум
	Level              string  // LOW / MEDIUM / HIGH / CRITICAL
	Violations         []Violation
	Warnings           []Violation
	MaxAllowedQuantity float64
	Action             string // ALLOW / REDUCE / BLOCK
	CheckedAt          time.Time
}

// Blocked сообщает, есть ли жесткие нарушения
func (a *Assessment) Blocked() bool {
	return a.Action == "BLOCK"
}

// Violation описывает нарушение или предупреждение по лимиту
type Violation struct {
	Type           string // position_size, concentration, daily_loss, leverage, trade_frequency
	LimitName      string
	LimitValue     float64
	AttemptedValue float64
	Severity       string // "warning", "critical"
	Message        string
}

// Metrics текущие риск-метрики портфеля
type Metrics struct {
	AccountID          string
	TotalExposure      float64
	CashBalance        float64
	PortfolioValue     float64
	Leverage           float64
	DailyLossPct       float64
	WeeklyLossPct      float64
	DailyTradeCount    int
	LargestPositionPct float64
	VolatilityRegime   string
	LastUpdated        time.Time
}
