package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kirillm/trade-engine/internal/domain"
	"github.com/kirillm/trade-engine/pkg/utils"
)

// PriceGetter источник текущей цены символа
type PriceGetter interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

type cachedPrice struct {
	price float64
	at    time.Time
}

// Failover каскад источников цен: стрим, затем REST-запасные,
// в крайнем случае кеш последней удачной цены в пределах TTL.
type Failover struct {
	primary   PriceGetter
	fallbacks []PriceGetter
	ttl       time.Duration
	logger    *utils.Logger

	mu    sync.RWMutex
	cache map[string]cachedPrice
}

func NewFailover(primary PriceGetter, fallbacks []PriceGetter, logger *utils.Logger) *Failover {
	return &Failover{
		primary:   primary,
		fallbacks: fallbacks,
		ttl:       5 * time.Minute,
		logger:    logger.WithPrefix("prices"),
		cache:     make(map[string]cachedPrice),
	}
}

func (p *Failover) GetPrice(ctx context.Context, symbol string) (float64, error) {
	sources := make([]PriceGetter, 0, len(p.fallbacks)+1)
	if p.primary != nil {
		sources = append(sources, p.primary)
	}
	sources = append(sources, p.fallbacks...)

	var lastErr error
	for i, src := range sources {
		price, err := src.GetPrice(ctx, symbol)
		if err == nil && price > 0 {
			if i > 0 {
				p.logger.Debug("price for %s resolved by fallback source #%d", symbol, i)
			}
			p.store(symbol, price)
			return price, nil
		}
		lastErr = err
	}

	if price, ok := p.fromCache(symbol); ok {
		p.logger.Warn("all price sources failed for %s, serving cached price %.4f", symbol, price)
		return price, nil
	}
	return 0, fmt.Errorf("price for %s: %w: %v", symbol, domain.ErrDataUnavailable, lastErr)
}

func (p *Failover) store(symbol string, price float64) {
	p.mu.Lock()
	p.cache[symbol] = cachedPrice{price: price, at: time.Now()}
	p.mu.Unlock()
}

func (p *Failover) fromCache(symbol string) (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	c, ok := p.cache[symbol]
	if !ok || time.Since(c.at) > p.ttl {
		return 0, false
	}
	return c.price, true
}

// Snapshot моментальный срез рынка по символу для стратегий
type Snapshot struct {
	Symbol string
	Price  float64
	Closes []float64
	At     time.Time
}

// SnapshotSource собирает Snapshot из каскада цен и истории стрима
type SnapshotSource struct {
	prices *Failover
	feed   *Feed
}

func NewSnapshotSource(prices *Failover, feed *Feed) *SnapshotSource {
	return &SnapshotSource{prices: prices, feed: feed}
}

func (s *SnapshotSource) Snapshot(ctx context.Context, symbol string) (*Snapshot, error) {
	price, err := s.prices.GetPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}

	var closes []float64
	if s.feed != nil {
		closes = s.feed.History(symbol)
	}
	return &Snapshot{
		Symbol: symbol,
		Price:  price,
		Closes: closes,
		At:     time.Now(),
	}, nil
}
