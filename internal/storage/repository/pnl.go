package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/kirillm/trade-engine/internal/domain"
)

// PnLRepository хранит снапшоты PnL для аналитики и baseline просадок
type PnLRepository struct {
	db *sql.DB
}

// NewPnLRepository создает новый репозиторий
func NewPnLRepository(db *sql.DB) *PnLRepository {
	return &PnLRepository{db: db}
}

// SaveSnapshot сохраняет снапшот
func (r *PnLRepository) SaveSnapshot(ctx context.Context, snapshot *domain.PnLSnapshot) error {
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO pnl_snapshots (account_id, total_value, cash_balance, drawdown_pct, snapshot_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	return r.db.QueryRowContext(ctx, query,
		snapshot.AccountID, snapshot.TotalValue, snapshot.CashBalance,
		snapshot.DrawdownPct, snapshot.SnapshotType, snapshot.CreatedAt,
	).Scan(&snapshot.ID)
}

// GetHistory возвращает историю снапшотов типа за период
func (r *PnLRepository) GetHistory(ctx context.Context, accountID, snapshotType string, since time.Time) ([]domain.PnLSnapshot, error) {
	query := `
		SELECT id, account_id, total_value, cash_balance, drawdown_pct, snapshot_type, created_at
		FROM pnl_snapshots
		WHERE account_id = $1 AND snapshot_type = $2 AND created_at >= $3
		ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query, accountID, snapshotType, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []domain.PnLSnapshot
	for rows.Next() {
		var s domain.PnLSnapshot
		if err := rows.Scan(&s.ID, &s.AccountID, &s.TotalValue, &s.CashBalance,
			&s.DrawdownPct, &s.SnapshotType, &s.CreatedAt); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}
