package venue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillm/trade-engine/internal/domain"
)

// PaperVenue симулированная площадка для dev-режима. Market-ордера
// исполняются по последней известной цене при первом опросе статуса,
// limit-ордера — когда цена пересекает лимит.
type PaperVenue struct {
	mu     sync.Mutex
	name   string
	cash   float64
	prices map[string]float64
	orders map[string]*paperOrder
}

type paperOrder struct {
	order       domain.Order
	status      string
	filledQty   float64
	filledPrice float64
	filledAt    time.Time
}

func NewPaperVenue(name string, startingCash float64) *PaperVenue {
	if name == "" {
		name = "paper"
	}
	return &PaperVenue{
		name:   name,
		cash:   startingCash,
		prices: make(map[string]float64),
		orders: make(map[string]*paperOrder),
	}
}

func (p *PaperVenue) Name() string { return p.name }

// SetPrice задает текущую цену символа
func (p *PaperVenue) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

func (p *PaperVenue) ExecuteOrder(ctx context.Context, order *domain.Order) (*ExecutionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.prices[order.Symbol]
	if !ok {
		return nil, NewPermanentError(p.name, "unknown_symbol", fmt.Sprintf("no market for %s", order.Symbol))
	}

	cost := order.NotionalAmount
	if cost == 0 {
		cost = order.Quantity * price
	}
	if order.Side == domain.SideBuy && cost > p.cash {
		return nil, NewPermanentError(p.name, "insufficient_funds",
			fmt.Sprintf("order cost %.2f exceeds cash %.2f", cost, p.cash))
	}

	venueOrderID := uuid.NewString()
	p.orders[venueOrderID] = &paperOrder{order: *order, status: domain.StatusSubmitted}

	return &ExecutionResult{
		Provider:     p.name,
		VenueOrderID: venueOrderID,
		Status:       domain.StatusSubmitted,
		SubmittedAt:  time.Now(),
	}, nil
}

func (p *PaperVenue) OrderStatus(ctx context.Context, venueOrderID string) (*StatusResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	po, ok := p.orders[venueOrderID]
	if !ok {
		return nil, NewPermanentError(p.name, "not_found", fmt.Sprintf("order %s not found", venueOrderID))
	}

	if po.status == domain.StatusSubmitted {
		price := p.prices[po.order.Symbol]
		if p.fillable(po, price) {
			qty := po.order.Quantity
			if po.order.Fractional() {
				qty = po.order.NotionalAmount / price
			}
			po.status = domain.StatusFilled
			po.filledQty = qty
			po.filledPrice = price
			po.filledAt = time.Now()
			if po.order.Side == domain.SideBuy {
				p.cash -= qty * price
			} else {
				p.cash += qty * price
			}
		}
	}

	return &StatusResult{
		Provider:       p.name,
		Status:         po.status,
		FilledQuantity: po.filledQty,
		FilledAvgPrice: po.filledPrice,
		FilledAt:       po.filledAt,
	}, nil
}

func (p *PaperVenue) fillable(po *paperOrder, price float64) bool {
	if price <= 0 {
		return false
	}
	switch po.order.Type {
	case domain.OrderTypeLimit:
		if po.order.Side == domain.SideBuy {
			return price <= po.order.LimitPrice
		}
		return price >= po.order.LimitPrice
	case domain.OrderTypeStop:
		if po.order.Side == domain.SideBuy {
			return price >= po.order.StopPrice
		}
		return price <= po.order.StopPrice
	default:
		return true
	}
}

func (p *PaperVenue) CancelOrder(ctx context.Context, venueOrderID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	po, ok := p.orders[venueOrderID]
	if !ok {
		return false, NewPermanentError(p.name, "not_found", fmt.Sprintf("order %s not found", venueOrderID))
	}
	if domain.IsTerminalStatus(po.status) {
		return false, nil
	}
	po.status = domain.StatusCanceled
	return true, nil
}

func (p *PaperVenue) AccountInfo(ctx context.Context) (*AccountInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &AccountInfo{
		Provider:    p.name,
		CashBalance: p.cash,
		Equity:      p.cash,
		BuyingPower: p.cash,
	}, nil
}

func (p *PaperVenue) Positions(ctx context.Context) ([]Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	held := make(map[string]float64)
	for _, po := range p.orders {
		if po.status != domain.StatusFilled {
			continue
		}
		if po.order.Side == domain.SideBuy {
			held[po.order.Symbol] += po.filledQty
		} else {
			held[po.order.Symbol] -= po.filledQty
		}
	}

	var positions []Position
	for symbol, qty := range held {
		if qty <= 0 {
			continue
		}
		positions = append(positions, Position{
			Symbol:      symbol,
			Quantity:    qty,
			MarketValue: qty * p.prices[symbol],
		})
	}
	return positions, nil
}

func (p *PaperVenue) Quote(ctx context.Context, symbol string) (*Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.prices[symbol]
	if !ok || price <= 0 {
		return nil, NewPermanentError(p.name, "no_data", fmt.Sprintf("no price data for symbol %s", symbol))
	}
	return &Quote{Symbol: symbol, Bid: price, Ask: price, Last: price, At: time.Now()}, nil
}
