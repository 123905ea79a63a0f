package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillm/trade-engine/internal/domain"
)

// PortfolioRepository читает портфель и применяет исполненные ордера
type PortfolioRepository struct {
	db *sql.DB
}

// NewPortfolioRepository создает новый репозиторий
func NewPortfolioRepository(db *sql.DB) *PortfolioRepository {
	return &PortfolioRepository{db: db}
}

// GetSnapshot собирает срез портфеля аккаунта.
// Дневная/недельная просадка считается от последнего baseline-снапшота PnL.
func (r *PortfolioRepository) GetSnapshot(ctx context.Context, accountID string) (*domain.PortfolioSnapshot, error) {
	snapshot := &domain.PortfolioSnapshot{
		AccountID: accountID,
		TakenAt:   time.Now(),
	}

	err := r.db.QueryRowContext(ctx,
		`SELECT cash_balance FROM accounts WHERE account_id = $1`, accountID,
	).Scan(&snapshot.CashBalance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", accountID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT symbol, quantity, avg_entry_price, market_value, sector
		FROM positions
		WHERE account_id = $1 AND quantity > 0
		ORDER BY symbol
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snapshot.TotalValue = snapshot.CashBalance
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(&p.Symbol, &p.Quantity, &p.AvgEntryPrice, &p.MarketValue, &p.Sector); err != nil {
			return nil, err
		}
		snapshot.TotalValue += p.MarketValue
		snapshot.Positions = append(snapshot.Positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM orders
		WHERE account_id = $1
		  AND created_at >= date_trunc('day', NOW())
		  AND status NOT IN ($2, $3)
	`, accountID, domain.StatusRejected, domain.StatusCanceled).Scan(&snapshot.DailyTradeCount)
	if err != nil {
		return nil, err
	}

	snapshot.DailyDrawdownPct = r.drawdownSince(ctx, accountID, domain.SnapshotDaily, snapshot.TotalValue)
	snapshot.WeeklyDrawdownPct = r.drawdownSince(ctx, accountID, domain.SnapshotWeekly, snapshot.TotalValue)
	return snapshot, nil
}

// drawdownSince просадка относительно последнего baseline-снапшота данного типа.
// Нет baseline — просадка нулевая.
func (r *PortfolioRepository) drawdownSince(ctx context.Context, accountID, snapshotType string, currentValue float64) float64 {
	var baseline float64
	err := r.db.QueryRowContext(ctx, `
		SELECT total_value
		FROM pnl_snapshots
		WHERE account_id = $1 AND snapshot_type = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, accountID, snapshotType).Scan(&baseline)
	if err != nil || baseline <= 0 {
		return 0
	}
	if currentValue >= baseline {
		return 0
	}
	return (baseline - currentValue) / baseline * 100
}

// ApplyFill применяет исполнение ордера к кешу и позициям в одной транзакции
func (r *PortfolioRepository) ApplyFill(ctx context.Context, order *domain.Order) error {
	if order.FilledQuantity <= 0 || order.FilledAvgPrice <= 0 {
		return fmt.Errorf("%w: fill without quantity or price", domain.ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	amount := order.FilledQuantity * order.FilledAvgPrice
	cashDelta := -amount
	if order.Side == domain.SideSell {
		cashDelta = amount
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO accounts (account_id, cash_balance, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (account_id)
		DO UPDATE SET cash_balance = accounts.cash_balance + $2, updated_at = NOW()
	`, order.AccountID, cashDelta)
	if err != nil {
		return fmt.Errorf("update cash: %w", err)
	}

	if order.Side == domain.SideBuy {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO positions (account_id, symbol, quantity, avg_entry_price, market_value, updated_at)
			VALUES ($1, $2, $3, $4, $3 * $4, NOW())
			ON CONFLICT (account_id, symbol)
			DO UPDATE SET
				avg_entry_price = (positions.quantity * positions.avg_entry_price + $3 * $4) / (positions.quantity + $3),
				quantity = positions.quantity + $3,
				market_value = (positions.quantity + $3) * $4,
				updated_at = NOW()
		`, order.AccountID, order.Symbol, order.FilledQuantity, order.FilledAvgPrice)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE positions
			SET quantity = GREATEST(positions.quantity - $3, 0),
				market_value = GREATEST(positions.quantity - $3, 0) * $4,
				updated_at = NOW()
			WHERE account_id = $1 AND symbol = $2
		`, order.AccountID, order.Symbol, order.FilledQuantity, order.FilledAvgPrice)
	}
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}

	return tx.Commit()
}
