package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/kirillm/trade-engine/internal/domain"
)

// ViolationRepository хранит нарушения риск-лимитов
type ViolationRepository struct {
	db *sql.DB
}

// NewViolationRepository создает новый репозиторий
func NewViolationRepository(db *sql.DB) *ViolationRepository {
	return &ViolationRepository{db: db}
}

// Save сохраняет нарушение
func (r *ViolationRepository) Save(ctx context.Context, violation *domain.RiskViolation) error {
	if violation.CreatedAt.IsZero() {
		violation.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO risk_violations (account_id, violation_type, limit_name, limit_value, attempted_value, severity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	return r.db.QueryRowContext(ctx, query,
		violation.AccountID, violation.ViolationType, violation.LimitName,
		violation.LimitValue, violation.AttemptedValue, violation.Severity, violation.CreatedAt,
	).Scan(&violation.ID)
}

// GetRecent возвращает нарушения аккаунта начиная с момента since
func (r *ViolationRepository) GetRecent(ctx context.Context, accountID string, since time.Time) ([]domain.RiskViolation, error) {
	query := `
		SELECT id, account_id, violation_type, limit_name, limit_value, attempted_value, severity, created_at
		FROM risk_violations
		WHERE account_id = $1 AND created_at >= $2
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, accountID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var violations []domain.RiskViolation
	for rows.Next() {
		var v domain.RiskViolation
		if err := rows.Scan(&v.ID, &v.AccountID, &v.ViolationType, &v.LimitName,
			&v.LimitValue, &v.AttemptedValue, &v.Severity, &v.CreatedAt); err != nil {
			return nil, err
		}
		violations = append(violations, v)
	}
	return violations, rows.Err()
}
