package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kirillm/trade-engine/internal/domain"
	"github.com/kirillm/trade-engine/pkg/utils"
)

// stubSource источник цен с фиксированным ответом и счетчиком вызовов
type stubSource struct {
	price float64
	err   error
	calls int
}

func (s *stubSource) GetPrice(ctx context.Context, symbol string) (float64, error) {
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	return s.price, nil
}

func TestFailover_PrimaryWins(t *testing.T) {
	primary := &stubSource{price: 100}
	fallback := &stubSource{price: 99}
	prices := NewFailover(primary, []PriceGetter{fallback}, utils.NewLogger("error"))

	price, err := prices.GetPrice(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetPrice() error = %v", err)
	}
	if price != 100 {
		t.Errorf("price = %.2f, want 100 from primary", price)
	}
	if fallback.calls != 0 {
		t.Error("fallback must not be queried while primary works")
	}
}

func TestFailover_CascadesToFallback(t *testing.T) {
	primary := &stubSource{err: errors.New("stream stale")}
	fallback := &stubSource{price: 99}
	prices := NewFailover(primary, []PriceGetter{fallback}, utils.NewLogger("error"))

	price, err := prices.GetPrice(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetPrice() error = %v", err)
	}
	if price != 99 {
		t.Errorf("price = %.2f, want 99 from fallback", price)
	}
}

func TestFailover_ZeroPriceTreatedAsFailure(t *testing.T) {
	primary := &stubSource{price: 0}
	fallback := &stubSource{price: 99}
	prices := NewFailover(primary, []PriceGetter{fallback}, utils.NewLogger("error"))

	price, err := prices.GetPrice(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetPrice() error = %v", err)
	}
	if price != 99 {
		t.Errorf("price = %.2f, want 99 (zero price is not usable)", price)
	}
}

func TestFailover_ServesCacheWhenAllFail(t *testing.T) {
	primary := &stubSource{price: 100}
	prices := NewFailover(primary, nil, utils.NewLogger("error"))
	ctx := context.Background()

	if _, err := prices.GetPrice(ctx, "BTCUSDT"); err != nil {
		t.Fatalf("warmup GetPrice() error = %v", err)
	}

	primary.err = errors.New("stream stale")
	price, err := prices.GetPrice(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("GetPrice() error = %v, want cached price", err)
	}
	if price != 100 {
		t.Errorf("price = %.2f, want cached 100", price)
	}
}

func TestFailover_CacheExpires(t *testing.T) {
	primary := &stubSource{price: 100}
	prices := NewFailover(primary, nil, utils.NewLogger("error"))
	prices.ttl = 10 * time.Millisecond
	ctx := context.Background()

	prices.GetPrice(ctx, "BTCUSDT")
	primary.err = errors.New("stream stale")
	time.Sleep(20 * time.Millisecond)

	_, err := prices.GetPrice(ctx, "BTCUSDT")
	if !errors.Is(err, domain.ErrDataUnavailable) {
		t.Errorf("error = %v, want ErrDataUnavailable after cache expiry", err)
	}
}

func TestFailover_CachePerSymbol(t *testing.T) {
	primary := &stubSource{price: 100}
	prices := NewFailover(primary, nil, utils.NewLogger("error"))
	ctx := context.Background()

	prices.GetPrice(ctx, "BTCUSDT")
	primary.err = errors.New("stream stale")

	if _, err := prices.GetPrice(ctx, "ETHUSDT"); !errors.Is(err, domain.ErrDataUnavailable) {
		t.Errorf("error = %v, cache for BTCUSDT must not serve ETHUSDT", err)
	}
}

func TestSnapshotSource(t *testing.T) {
	primary := &stubSource{price: 100}
	prices := NewFailover(primary, nil, utils.NewLogger("error"))
	source := NewSnapshotSource(prices, nil)

	snapshot, err := source.Snapshot(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snapshot.Symbol != "BTCUSDT" || snapshot.Price != 100 {
		t.Errorf("unexpected snapshot: %+v", snapshot)
	}
	if snapshot.At.IsZero() {
		t.Error("snapshot must carry a timestamp")
	}

	primary.err = errors.New("stream stale")
	prices.cache = map[string]cachedPrice{}
	if _, err := source.Snapshot(context.Background(), "BTCUSDT"); err == nil {
		t.Error("Snapshot() must propagate price errors")
	}
}
