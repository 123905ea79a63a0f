package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/kirillm/trade-engine/pkg/utils"
)

func TestFeed_GetPrice(t *testing.T) {
	feed := NewFeed("wss://example.invalid/ws", []string{"BTCUSDT"}, utils.NewLogger("error"))
	ctx := context.Background()

	if _, err := feed.GetPrice(ctx, "BTCUSDT"); err == nil {
		t.Error("expected error before any tick arrived")
	}

	feed.record("BTCUSDT", 65000.5)
	price, err := feed.GetPrice(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("GetPrice() error = %v", err)
	}
	if price != 65000.5 {
		t.Errorf("price = %.2f, want 65000.5", price)
	}

	if _, err := feed.GetPrice(ctx, "ETHUSDT"); err == nil {
		t.Error("expected error for symbol without ticks")
	}
}

func TestFeed_StalePriceRejected(t *testing.T) {
	feed := NewFeed("wss://example.invalid/ws", []string{"BTCUSDT"}, utils.NewLogger("error"))
	feed.record("BTCUSDT", 65000)
	feed.mu.Lock()
	feed.last["BTCUSDT"] = tick{price: 65000, at: time.Now().Add(-2 * time.Minute)}
	feed.mu.Unlock()

	if _, err := feed.GetPrice(context.Background(), "BTCUSDT"); err == nil {
		t.Error("price older than a minute must be rejected")
	}
}

func TestFeed_History(t *testing.T) {
	feed := NewFeed("wss://example.invalid/ws", []string{"BTCUSDT"}, utils.NewLogger("error"))

	if got := feed.History("BTCUSDT"); len(got) != 0 {
		t.Errorf("empty history expected, got %v", got)
	}

	feed.record("BTCUSDT", 100)
	feed.record("BTCUSDT", 101)
	feed.record("BTCUSDT", 102)

	history := feed.History("BTCUSDT")
	if len(history) != 3 || history[2] != 102 {
		t.Errorf("history = %v, want [100 101 102]", history)
	}

	// История отдается копией
	history[0] = -1
	if feed.History("BTCUSDT")[0] != 100 {
		t.Error("History() must return a copy, not the internal slice")
	}
}

func TestFeed_HistoryCapped(t *testing.T) {
	feed := NewFeed("wss://example.invalid/ws", []string{"BTCUSDT"}, utils.NewLogger("error"))
	for i := 0; i < historyDepth+50; i++ {
		feed.record("BTCUSDT", float64(i))
	}

	history := feed.History("BTCUSDT")
	if len(history) != historyDepth {
		t.Errorf("history length = %d, want %d", len(history), historyDepth)
	}
	if history[len(history)-1] != float64(historyDepth+49) {
		t.Errorf("last price = %.0f, want most recent tick", history[len(history)-1])
	}
}
