package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kirillm/trade-engine/pkg/utils"
)

const historyDepth = 500

// Feed потоковый кеш котировок поверх публичного websocket.
// Держит последнюю цену и историю по каждому символу, переподключается
// с backoff при разрыве.
type Feed struct {
	url     string
	symbols []string
	logger  *utils.Logger

	mu      sync.RWMutex
	last    map[string]tick
	history map[string][]float64

	readTimeout  time.Duration
	pingInterval time.Duration
}

type tick struct {
	price float64
	at    time.Time
}

func NewFeed(url string, symbols []string, logger *utils.Logger) *Feed {
	return &Feed{
		url:          url,
		symbols:      symbols,
		logger:       logger.WithPrefix("feed"),
		last:         make(map[string]tick),
		history:      make(map[string][]float64),
		readTimeout:  60 * time.Second,
		pingInterval: 20 * time.Second,
	}
}

// Run держит соединение открытым до отмены контекста
func (f *Feed) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if err := f.connectAndRead(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			f.logger.Warn("stream disconnected: %v, reconnecting in %v", err, backoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

type wsTickerMessage struct {
	Topic string `json:"topic"`
	Data  struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
	} `json:"data"`
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.url, err)
	}
	defer conn.Close()
	f.logger.Info("connected to %s", f.url)

	args := make([]string, 0, len(f.symbols))
	for _, symbol := range f.symbols {
		args = append(args, "tickers."+symbol)
	}
	sub := map[string]interface{}{"op": "subscribe", "args": args}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(f.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			}
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(f.readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg wsTickerMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Data.LastPrice == "" {
			continue
		}
		price, err := strconv.ParseFloat(msg.Data.LastPrice, 64)
		if err != nil || price <= 0 {
			continue
		}
		f.record(msg.Data.Symbol, price)
	}
}

func (f *Feed) record(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.last[symbol] = tick{price: price, at: time.Now()}
	h := append(f.history[symbol], price)
	if len(h) > historyDepth {
		h = h[len(h)-historyDepth:]
	}
	f.history[symbol] = h
}

// GetPrice реализует источник цен. Цена старше минуты считается протухшей.
func (f *Feed) GetPrice(ctx context.Context, symbol string) (float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	t, ok := f.last[symbol]
	if !ok {
		return 0, fmt.Errorf("no stream data for %s", symbol)
	}
	if time.Since(t.at) > time.Minute {
		return 0, fmt.Errorf("stream data for %s is stale (%v)", symbol, time.Since(t.at))
	}
	return t.price, nil
}

// History копия накопленного ряда цен символа
func (f *Feed) History(symbol string) []float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	h := f.history[symbol]
	out := make([]float64, len(h))
	copy(out, h)
	return out
}
