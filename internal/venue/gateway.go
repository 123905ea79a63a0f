package venue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillm/trade-engine/internal/domain"
	"github.com/kirillm/trade-engine/pkg/utils"
)

// Alerter получает алерты о деградации шлюза
type Alerter interface {
	Alert(message string)
}

// venueHealth здоровье одного venue, независимое от торгового предохранителя
type venueHealth struct {
	consecutiveFailures int
	open                bool
	openedAt            time.Time
	lastChecked         time.Time
}

// GatewayConfig параметры failover и rate limiting
type GatewayConfig struct {
	FailureThreshold int           // после скольких подряд ошибок venue помечается нездоровым
	Cooldown         time.Duration // через сколько нездоровый venue получает probe-попытку
	RatePerSecond    float64       // лимит запросов к одному venue
	Burst            int
}

// DefaultGatewayConfig значения по умолчанию
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		FailureThreshold: 3,
		Cooldown:         2 * time.Minute,
		RatePerSecond:    10,
		Burst:            5,
	}
}

// Gateway оборачивает несколько venue за одним контрактом с failover.
// Venue перебираются в настроенном порядке предпочтения, нездоровые
// пропускаются до истечения кулдауна.
type Gateway struct {
	mu       sync.Mutex
	venues   []ExecutionVenue
	health   map[string]*venueHealth
	limiters map[string]*rate.Limiter
	cfg      GatewayConfig
	alerter  Alerter // опционально
	logger   *utils.Logger
	now      func() time.Time
}

func NewGateway(cfg GatewayConfig, alerter Alerter, logger *utils.Logger, venues ...ExecutionVenue) *Gateway {
	g := &Gateway{
		venues:   venues,
		health:   make(map[string]*venueHealth),
		limiters: make(map[string]*rate.Limiter),
		cfg:      cfg,
		alerter:  alerter,
		logger:   logger.WithPrefix("gateway"),
		now:      time.Now,
	}
	for _, v := range venues {
		g.health[v.Name()] = &venueHealth{}
		if cfg.RatePerSecond > 0 {
			g.limiters[v.Name()] = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst)
		}
	}
	return g
}

// do выполняет операцию с failover по venue. Постоянный отказ провайдера
// не лечится перебором и возвращается сразу.
func (g *Gateway) do(ctx context.Context, op string, fn func(v ExecutionVenue) error) (string, error) {
	var lastErr error
	tried := 0

	for _, v := range g.venues {
		name := v.Name()
		if !g.acquire(name) {
			continue
		}
		tried++

		if lim := g.limiters[name]; lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return "", err
			}
		}

		err := fn(v)
		if err == nil {
			g.recordSuccess(name)
			return name, nil
		}

		g.recordFailure(name, err)
		lastErr = err

		if IsPermanent(err) {
			return name, err
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		g.logger.Warn("%s failed on %s, trying next venue: %v", op, name, err)
	}

	msg := fmt.Sprintf("%s: %d venue(s) tried, last error: %v", op, tried, lastErr)
	g.logger.Error("all providers exhausted: %s", msg)
	if g.alerter != nil {
		g.alerter.Alert("execution gateway: " + msg)
	}
	return "", fmt.Errorf("%w: %s", domain.ErrAllProvidersExhausted, msg)
}

// acquire решает, можно ли обращаться к venue. Нездоровый venue после
// кулдауна получает оптимистичный probe: флаг снимается, но счетчик ошибок
// остается на пороге, чтобы повторный сбой немедленно вернул venue в карантин.
func (g *Gateway) acquire(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	h := g.health[name]
	if h == nil {
		return false
	}
	if !h.open {
		return true
	}
	if g.now().Sub(h.openedAt) >= g.cfg.Cooldown {
		h.open = false
		h.consecutiveFailures = g.cfg.FailureThreshold - 1
		g.logger.Info("venue %s cooldown elapsed, probing", name)
		return true
	}
	return false
}

func (g *Gateway) recordSuccess(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	h := g.health[name]
	h.consecutiveFailures = 0
	h.open = false
	h.lastChecked = g.now()
}

func (g *Gateway) recordFailure(name string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	h := g.health[name]
	h.consecutiveFailures++
	h.lastChecked = g.now()
	if h.consecutiveFailures >= g.cfg.FailureThreshold && !h.open {
		h.open = true
		h.openedAt = g.now()
		g.logger.Warn("venue %s marked unhealthy after %d failures: %v", name, h.consecutiveFailures, err)
	}
}

// byName возвращает venue по имени провайдера
func (g *Gateway) byName(provider string) (ExecutionVenue, error) {
	for _, v := range g.venues {
		if v.Name() == provider {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: unknown provider %q", domain.ErrInvalidInput, provider)
}

// ExecuteOrder отправляет ордер на первый здоровый venue
func (g *Gateway) ExecuteOrder(ctx context.Context, order *domain.Order) (*ExecutionResult, error) {
	var result *ExecutionResult
	provider, err := g.do(ctx, "execute_order", func(v ExecutionVenue) error {
		r, err := v.ExecuteOrder(ctx, order)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Provider = provider
	return result, nil
}

// OrderStatus запрашивает состояние ордера на конкретном venue. Без failover:
// ордер существует только на площадке, принявшей его.
func (g *Gateway) OrderStatus(ctx context.Context, provider, venueOrderID string) (*StatusResult, error) {
	v, err := g.byName(provider)
	if err != nil {
		return nil, err
	}
	if lim := g.limiters[provider]; lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, err
		}
	}
	result, err := v.OrderStatus(ctx, venueOrderID)
	if err != nil {
		g.recordFailure(provider, err)
		return nil, err
	}
	g.recordSuccess(provider)
	result.Provider = provider
	return result, nil
}

// CancelOrder отменяет ордер на конкретном venue
func (g *Gateway) CancelOrder(ctx context.Context, provider, venueOrderID string) (bool, error) {
	v, err := g.byName(provider)
	if err != nil {
		return false, err
	}
	ok, err := v.CancelOrder(ctx, venueOrderID)
	if err != nil {
		g.recordFailure(provider, err)
		return false, err
	}
	g.recordSuccess(provider)
	return ok, nil
}

// AccountInfo с failover
func (g *Gateway) AccountInfo(ctx context.Context) (*AccountInfo, error) {
	var info *AccountInfo
	provider, err := g.do(ctx, "account_info", func(v ExecutionVenue) error {
		i, err := v.AccountInfo(ctx)
		if err != nil {
			return err
		}
		info = i
		return nil
	})
	if err != nil {
		return nil, err
	}
	info.Provider = provider
	return info, nil
}

// Positions с failover
func (g *Gateway) Positions(ctx context.Context) ([]Position, error) {
	var positions []Position
	_, err := g.do(ctx, "positions", func(v ExecutionVenue) error {
		p, err := v.Positions(ctx)
		if err != nil {
			return err
		}
		positions = p
		return nil
	})
	return positions, err
}

// Quote с failover
func (g *Gateway) Quote(ctx context.Context, symbol string) (*Quote, error) {
	var quote *Quote
	_, err := g.do(ctx, "quote", func(v ExecutionVenue) error {
		q, err := v.Quote(ctx, symbol)
		if err != nil {
			return err
		}
		quote = q
		return nil
	})
	return quote, err
}

// GetPrice реализует risk.PriceSource поверх Quote
func (g *Gateway) GetPrice(ctx context.Context, symbol string) (float64, error) {
	q, err := g.Quote(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return q.Last, nil
}

// HealthView проекция здоровья venue для админки и тестов
type HealthView struct {
	Provider            string    `json:"provider"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Open                bool      `json:"open"`
	LastChecked         time.Time `json:"last_checked"`
}

// Health возвращает здоровье всех venue
func (g *Gateway) Health() []HealthView {
	g.mu.Lock()
	defer g.mu.Unlock()

	views := make([]HealthView, 0, len(g.venues))
	for _, v := range g.venues {
		h := g.health[v.Name()]
		views = append(views, HealthView{
			Provider:            v.Name(),
			ConsecutiveFailures: h.consecutiveFailures,
			Open:                h.open,
			LastChecked:         h.lastChecked,
		})
	}
	return views
}
