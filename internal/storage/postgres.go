package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/kirillm/trade-engine/internal/storage/repository"
)

// PostgresStorage является фасадом для работы с PostgreSQL через репозитории
type PostgresStorage struct {
	db         *sql.DB
	Orders     *repository.OrderRepository
	Portfolio  *repository.PortfolioRepository
	Breakers   *repository.BreakerEventRepository
	Violations *repository.ViolationRepository
	PnL        *repository.PnLRepository
}

func NewPostgresStorage(host string, port int, user, password, dbname, sslmode string, maxOpenConns, maxIdleConns int, connMaxLifetime time.Duration) (*PostgresStorage, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	storage := &PostgresStorage{
		db:         db,
		Orders:     repository.NewOrderRepository(db),
		Portfolio:  repository.NewPortfolioRepository(db),
		Breakers:   repository.NewBreakerEventRepository(db),
		Violations: repository.NewViolationRepository(db),
		PnL:        repository.NewPnLRepository(db),
	}

	if err := storage.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return storage, nil
}

func (s *PostgresStorage) migrate() error {
	migrations := []string{
		// Ордера: id задаётся движком (UUID), не базой
		`CREATE TABLE IF NOT EXISTS orders (
			id VARCHAR(64) PRIMARY KEY,
			account_id VARCHAR(64) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(10) NOT NULL,
			type VARCHAR(20) NOT NULL,
			quantity DECIMAL(20, 8) NOT NULL DEFAULT 0,
			notional_amount DECIMAL(20, 8) NOT NULL DEFAULT 0,
			limit_price DECIMAL(20, 8) NOT NULL DEFAULT 0,
			stop_price DECIMAL(20, 8) NOT NULL DEFAULT 0,
			status VARCHAR(20) NOT NULL,
			provider VARCHAR(40) NOT NULL DEFAULT '',
			venue_order_id VARCHAR(100) NOT NULL DEFAULT '',
			filled_quantity DECIMAL(20, 8) NOT NULL DEFAULT 0,
			filled_avg_price DECIMAL(20, 8) NOT NULL DEFAULT 0,
			reason TEXT NOT NULL DEFAULT '',
			submitted_at TIMESTAMP,
			filled_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_account ON orders(account_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
		// Журнал переходов статусов (append-only)
		`CREATE TABLE IF NOT EXISTS order_events (
			id SERIAL PRIMARY KEY,
			order_id VARCHAR(64) NOT NULL,
			from_status VARCHAR(20) NOT NULL,
			to_status VARCHAR(20) NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_order_events_order ON order_events(order_id, created_at)`,
		// Счета и позиции
		`CREATE TABLE IF NOT EXISTS accounts (
			account_id VARCHAR(64) PRIMARY KEY,
			cash_balance DECIMAL(20, 8) NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS positions (
			account_id VARCHAR(64) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			quantity DECIMAL(20, 8) NOT NULL DEFAULT 0,
			avg_entry_price DECIMAL(20, 8) NOT NULL DEFAULT 0,
			market_value DECIMAL(20, 8) NOT NULL DEFAULT 0,
			sector VARCHAR(40) NOT NULL DEFAULT '',
			updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
			PRIMARY KEY (account_id, symbol)
		)`,
		// События circuit breaker
		`CREATE TABLE IF NOT EXISTS circuit_breaker_events (
			id SERIAL PRIMARY KEY,
			breaker_type VARCHAR(40) NOT NULL,
			scope VARCHAR(64) NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			triggered_at TIMESTAMP NOT NULL DEFAULT NOW(),
			resumed_at TIMESTAMP
		)`,
		// Нарушения риск-лимитов
		`CREATE TABLE IF NOT EXISTS risk_violations (
			id SERIAL PRIMARY KEY,
			account_id VARCHAR(64) NOT NULL,
			violation_type VARCHAR(40) NOT NULL,
			limit_name VARCHAR(60) NOT NULL,
			limit_value DECIMAL(20, 8) NOT NULL DEFAULT 0,
			attempted_value DECIMAL(20, 8) NOT NULL DEFAULT 0,
			severity VARCHAR(20) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_violations_account ON risk_violations(account_id, created_at DESC)`,
		// Снапшоты PnL
		`CREATE TABLE IF NOT EXISTS pnl_snapshots (
			id SERIAL PRIMARY KEY,
			account_id VARCHAR(64) NOT NULL,
			total_value DECIMAL(20, 8) NOT NULL DEFAULT 0,
			cash_balance DECIMAL(20, 8) NOT NULL DEFAULT 0,
			drawdown_pct DECIMAL(10, 4) NOT NULL DEFAULT 0,
			snapshot_type VARCHAR(20) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pnl_account ON pnl_snapshots(account_id, snapshot_type, created_at DESC)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// DB низкоуровневый доступ для health-check
func (s *PostgresStorage) DB() *sql.DB {
	return s.db
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
