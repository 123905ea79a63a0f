package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillm/trade-engine/internal/api"
	"github.com/kirillm/trade-engine/internal/breaker"
	"github.com/kirillm/trade-engine/internal/config"
	"github.com/kirillm/trade-engine/internal/domain"
	"github.com/kirillm/trade-engine/internal/execution"
	"github.com/kirillm/trade-engine/internal/jobs"
	"github.com/kirillm/trade-engine/internal/marketdata"
	"github.com/kirillm/trade-engine/internal/notify"
	"github.com/kirillm/trade-engine/internal/risk"
	"github.com/kirillm/trade-engine/internal/scheduler"
	"github.com/kirillm/trade-engine/internal/storage"
	"github.com/kirillm/trade-engine/internal/strategy"
	"github.com/kirillm/trade-engine/internal/venue"
	"github.com/kirillm/trade-engine/pkg/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := utils.NewLogger(cfg.LogLevel)
	logger.Info("starting trade engine (account %s)", cfg.Engine.AccountID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Уведомления
	var notifier notify.Notifier = notify.NoopNotifier{}
	if cfg.Telegram.BotToken != "" {
		tg, err := notify.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger)
		if err != nil {
			logger.Warn("telegram disabled: %v", err)
		} else {
			notifier = tg
		}
	}

	// Хранилище
	store, err := storage.NewPostgresStorage(
		cfg.Database.Host, cfg.Database.Port,
		cfg.Database.User, cfg.Database.Password, cfg.Database.DBName, cfg.Database.SSLMode,
		cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime,
	)
	if err != nil {
		log.Fatalf("failed to init storage: %v", err)
	}
	defer store.Close()

	// Риск-профиль
	limits, err := risk.LoadLimitStore(cfg.Engine.RiskProfilePath, cfg.Engine.RiskProfile)
	if err != nil {
		logger.Warn("risk profile load failed (%v), using defaults", err)
		limits = risk.NewLimitStore(risk.DefaultLimits())
	}

	// Circuit breaker
	cb := breaker.New(limits, store.Breakers, notifier, logger)

	// Торговые площадки
	venues := make([]venue.ExecutionVenue, 0, 2)
	if cfg.Engine.PaperTrading {
		venues = append(venues, venue.NewPaperVenue("paper", 10000))
	} else {
		venues = append(venues, venue.NewBybitVenue(cfg.Bybit.APIKey, cfg.Bybit.APISecret, cfg.Bybit.BaseURL))
	}
	gateway := venue.NewGateway(venue.DefaultGatewayConfig(), notifier, logger, venues...)

	// Поток котировок и каскад источников цен
	feed := marketdata.NewFeed(cfg.Bybit.WSURL, cfg.Market.Symbols, logger)
	go feed.Run(ctx)
	prices := marketdata.NewFailover(feed, []marketdata.PriceGetter{gateway}, logger)
	market := marketdata.NewSnapshotSource(prices, feed)

	// Риск-сервис
	riskSvc := risk.NewService(limits, store.Portfolio, prices, cb, store.Violations, logger)

	// Детектор волатильности кормит предохранитель
	go runRegimeDetector(ctx, limits, feed, cb, cfg.Market.Symbols[0], logger)

	// Исполнитель
	execCfg := execution.DefaultConfig()
	execCfg.MaxRetries = cfg.Engine.MaxRetries
	execCfg.RetryBaseDelay = cfg.Engine.RetryBaseDelay
	slippage := execution.NewSlippageGuard(limits.Snapshot().SlippageThresholdPct)
	executor := execution.NewExecutor(execCfg, gateway, riskSvc, cb,
		store.Orders, &portfolioFills{repo: store.Portfolio}, notifier, slippage, logger)
	executor.Start(ctx)

	// Планировщик автоторговли
	schedCfg := scheduler.Config{
		Interval: cfg.Engine.TradeInterval,
		Symbols:  cfg.Market.Symbols,
		Hours:    scheduler.MarketHours{AlwaysOpen: cfg.Market.AlwaysOpen},
	}
	if !cfg.Market.AlwaysOpen {
		schedCfg.Hours = scheduler.USEquityHours()
	}
	registry := scheduler.NewRegistry(schedCfg, executor, riskSvc, market, logger)

	// Фоновые задачи: роловеры и снапшоты PnL
	runner := jobs.NewRunner(cb, store.Portfolio, store.PnL, []string{cfg.Engine.AccountID}, logger)
	runner.Start()
	defer runner.Stop()

	// HTTP API
	server := api.NewServer(logger, store, executor, riskSvc, limits, cb, gateway, registry,
		defaultStrategies(logger), cfg.API.Port)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("http server stopped: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	registry.StopAll()
	cancel()
	executor.Wait()
}

// portfolioFills применяет исполненные ордера к портфелю
type portfolioFills struct {
	repo domain.PortfolioRepository
}

func (f *portfolioFills) HandleFill(ctx context.Context, order *domain.Order) error {
	return f.repo.ApplyFill(ctx, order)
}

// defaultStrategies набор стратегий для новых циклов автоторговли
func defaultStrategies(logger *utils.Logger) api.StrategyFactory {
	return func() []strategy.Strategy {
		momentum, err := strategy.NewMomentum(strategy.DefaultMomentumConfig())
		if err != nil {
			logger.Error("momentum strategy init failed: %v", err)
			return nil
		}
		return []strategy.Strategy{momentum}
	}
}

// runRegimeDetector периодически пересчитывает режим волатильности
func runRegimeDetector(ctx context.Context, limits *risk.LimitStore, feed *marketdata.Feed, cb *breaker.CircuitBreaker, symbol string, logger *utils.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			detector := risk.NewRegimeDetector(limits.Snapshot().Volatility)
			regime := detector.Detect(feed.History(symbol))
			if regime != cb.VolatilityRegime() {
				logger.Info("volatility regime changed: %s -> %s", cb.VolatilityRegime(), regime)
			}
			cb.SetVolatilityRegime(regime)
		}
	}
}
