package jobs

import (
	"context"
	"time"

	"github.com/jasonlvhit/gocron"

	"github.com/kirillm/trade-engine/internal/domain"
	"github.com/kirillm/trade-engine/pkg/utils"
)

// BreakerRollover суточный/недельный сброс счётчиков предохранителей
type BreakerRollover interface {
	RolloverDaily()
	RolloverWeekly()
}

// Runner запускает фоновые периодические задачи движка:
// роловеры circuit breaker и часовые снапшоты PnL как baseline просадок.
type Runner struct {
	breaker   BreakerRollover
	portfolio domain.PortfolioRepository
	pnl       domain.PnLRepository
	accounts  []string
	logger    *utils.Logger

	scheduler *gocron.Scheduler
	stop      chan bool
}

func NewRunner(breaker BreakerRollover, portfolio domain.PortfolioRepository, pnl domain.PnLRepository, accounts []string, logger *utils.Logger) *Runner {
	return &Runner{
		breaker:   breaker,
		portfolio: portfolio,
		pnl:       pnl,
		accounts:  accounts,
		logger:    logger.WithPrefix("jobs"),
		scheduler: gocron.NewScheduler(),
	}
}

// Start регистрирует задачи и запускает планировщик в фоне
func (r *Runner) Start() {
	r.scheduler.Every(1).Day().At("00:00:00").Do(r.dailyRollover)
	r.scheduler.Every(1).Monday().At("00:00:00").Do(r.weeklyRollover)
	r.scheduler.Every(1).Hour().Do(r.hourlySnapshot)

	r.stop = r.scheduler.Start()
	r.logger.Info("background jobs scheduled")
}

// Stop останавливает планировщик
func (r *Runner) Stop() {
	r.scheduler.Clear()
	if r.stop != nil {
		r.stop <- true
	}
}

func (r *Runner) dailyRollover() {
	r.logger.Info("running daily rollover")
	r.snapshotAll(domain.SnapshotDaily)
	r.breaker.RolloverDaily()
}

func (r *Runner) weeklyRollover() {
	r.logger.Info("running weekly rollover")
	r.snapshotAll(domain.SnapshotWeekly)
	r.breaker.RolloverWeekly()
}

func (r *Runner) hourlySnapshot() {
	r.snapshotAll(domain.SnapshotHourly)
}

func (r *Runner) snapshotAll(snapshotType string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, accountID := range r.accounts {
		portfolio, err := r.portfolio.GetSnapshot(ctx, accountID)
		if err != nil {
			r.logger.Warn("snapshot for account %s failed: %v", accountID, err)
			continue
		}
		drawdown := portfolio.DailyDrawdownPct
		if snapshotType == domain.SnapshotWeekly {
			drawdown = portfolio.WeeklyDrawdownPct
		}
		err = r.pnl.SaveSnapshot(ctx, &domain.PnLSnapshot{
			AccountID:    accountID,
			TotalValue:   portfolio.TotalValue,
			CashBalance:  portfolio.CashBalance,
			DrawdownPct:  drawdown,
			SnapshotType: snapshotType,
		})
		if err != nil {
			r.logger.Warn("saving %s pnl snapshot for %s failed: %v", snapshotType, accountID, err)
		}
	}
}
