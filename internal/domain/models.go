package domain

import "time"

// Order представляет торговый ордер на протяжении всего жизненного цикла
type Order struct {
	ID             string    `db:"id"` // UUID, стабильный между ретраями
	AccountID      string    `db:"account_id"`
	Symbol         string    `db:"symbol"`
	Side           string    `db:"side"` // "BUY" or "SELL"
	Type           string    `db:"type"` // "MARKET", "LIMIT", "STOP", "STOP_LIMIT"
	Quantity       float64   `db:"quantity"`
	NotionalAmount float64   `db:"notional_amount"` // для фракционных ордеров вместо Quantity
	LimitPrice     float64   `db:"limit_price"`
	StopPrice      float64   `db:"stop_price"`
	Status         string    `db:"status"`
	Provider       string    `db:"provider"` // venue, через который исполнен
	VenueOrderID   string    `db:"venue_order_id"`
	FilledQuantity float64   `db:"filled_quantity"`
	FilledAvgPrice float64   `db:"filled_avg_price"`
	Reason         string    `db:"reason"` // причина отказа / структурированное пояснение
	SubmittedAt    time.Time `db:"submitted_at"`
	FilledAt       time.Time `db:"filled_at"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// Fractional сообщает, задан ли ордер суммой, а не количеством
func (o *Order) Fractional() bool {
	return o.NotionalAmount > 0 && o.Quantity == 0
}

// Terminal сообщает, достиг ли ордер конечного состояния
func (o *Order) Terminal() bool {
	return IsTerminalStatus(o.Status)
}

// OrderEvent запись аудита перехода состояния (append-only)
type OrderEvent struct {
	ID         int64     `db:"id"`
	OrderID    string    `db:"order_id"`
	FromStatus string    `db:"from_status"`
	ToStatus   string    `db:"to_status"`
	Note       string    `db:"note"`
	CreatedAt  time.Time `db:"created_at"`
}

// Position позиция в портфеле
type Position struct {
	Symbol        string  `db:"symbol"`
	Quantity      float64 `db:"quantity"`
	AvgEntryPrice float64 `db:"avg_entry_price"`
	MarketValue   float64 `db:"market_value"`
	Sector        string  `db:"sector"` // пустая строка => "unknown"
}

// PortfolioSnapshot read-mostly представление портфеля для риск-оценки
type PortfolioSnapshot struct {
	AccountID         string
	CashBalance       float64
	TotalValue        float64
	Positions         []Position
	DailyTradeCount   int
	DailyDrawdownPct  float64 // реализованный+нереализованный убыток за день, % от стоимости
	WeeklyDrawdownPct float64
	TakenAt           time.Time
}

// PositionFor возвращает позицию по символу (nil если нет)
func (p *PortfolioSnapshot) PositionFor(symbol string) *Position {
	for i := range p.Positions {
		if p.Positions[i].Symbol == symbol {
			return &p.Positions[i]
		}
	}
	return nil
}

// StrategySignal сигнал стратегии; движок трактует его как непрозрачный вход
type StrategySignal struct {
	Symbol         string
	Action         string // "BUY", "SELL", "HOLD"
	Confidence     float64
	Quantity       float64
	NotionalAmount float64
	GeneratedAt    time.Time
}

// Actionable сообщает, требует ли сигнал исполнения
func (s *StrategySignal) Actionable() bool {
	if s == nil || s.Action == SignalHold {
		return false
	}
	return s.Quantity > 0 || s.NotionalAmount > 0
}

// BreakerEvent событие срабатывания circuit breaker
type BreakerEvent struct {
	ID          int64     `db:"id"`
	BreakerType string    `db:"breaker_type"`
	Scope       string    `db:"scope"`
	Reason      string    `db:"reason"`
	TriggeredAt time.Time `db:"triggered_at"`
	ResumedAt   time.Time `db:"resumed_at"`
}

// RiskViolation нарушение риск-лимита, сохраняемое для аудита
type RiskViolation struct {
	ID             int64     `db:"id"`
	AccountID      string    `db:"account_id"`
	ViolationType  string    `db:"violation_type"`
	LimitName      string    `db:"limit_name"`
	LimitValue     float64   `db:"limit_value"`
	AttemptedValue float64   `db:"attempted_value"`
	Severity       string    `db:"severity"` // "warning", "critical"
	CreatedAt      time.Time `db:"created_at"`
}

// PnLSnapshot снапшот PnL для аналитики
type PnLSnapshot struct {
	ID           int64     `db:"id"`
	AccountID    string    `db:"account_id"`
	TotalValue   float64   `db:"total_value"`
	CashBalance  float64   `db:"cash_balance"`
	DrawdownPct  float64   `db:"drawdown_pct"`
	SnapshotType string    `db:"snapshot_type"` // "HOURLY", "DAILY", "WEEKLY"
	CreatedAt    time.Time `db:"created_at"`
}
