package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config содержит все настройки приложения
type Config struct {
	Telegram TelegramConfig
	Bybit    BybitConfig
	Database DatabaseConfig
	Engine   EngineConfig
	Market   MarketConfig
	API      APIConfig
	LogLevel string
}

type TelegramConfig struct {
	BotToken string
	ChatID   int64
}

type BybitConfig struct {
	APIKey    string
	APISecret string
	BaseURL   string
	WSURL     string
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type EngineConfig struct {
	AccountID       string
	RiskProfilePath string
	RiskProfile     string
	MaxRetries      int
	RetryBaseDelay  time.Duration
	TradeInterval   time.Duration
	PaperTrading    bool
}

type MarketConfig struct {
	Symbols    []string
	AlwaysOpen bool
}

type APIConfig struct {
	Port int
}

// Load загружает конфигурацию из .env файла
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found, using environment variables")
	}

	chatID, err := strconv.ParseInt(getEnv("TELEGRAM_CHAT_ID", "0"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
	}

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	maxOpenConns, err := strconv.Atoi(getEnv("DB_MAX_OPEN_CONNS", "25"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_OPEN_CONNS: %w", err)
	}

	maxIdleConns, err := strconv.Atoi(getEnv("DB_MAX_IDLE_CONNS", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_IDLE_CONNS: %w", err)
	}

	connMaxLifetime, err := time.ParseDuration(getEnv("DB_CONN_MAX_LIFETIME", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME: %w", err)
	}

	maxRetries, err := strconv.Atoi(getEnv("EXEC_MAX_RETRIES", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid EXEC_MAX_RETRIES: %w", err)
	}

	retryBaseDelay, err := time.ParseDuration(getEnv("EXEC_RETRY_BASE_DELAY", "2s"))
	if err != nil {
		return nil, fmt.Errorf("invalid EXEC_RETRY_BASE_DELAY: %w", err)
	}

	tradeInterval, err := time.ParseDuration(getEnv("TRADE_INTERVAL", "15m"))
	if err != nil {
		return nil, fmt.Errorf("invalid TRADE_INTERVAL: %w", err)
	}

	paperTrading, err := strconv.ParseBool(getEnv("PAPER_TRADING", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid PAPER_TRADING: %w", err)
	}

	marketAlwaysOpen, err := strconv.ParseBool(getEnv("MARKET_ALWAYS_OPEN", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid MARKET_ALWAYS_OPEN: %w", err)
	}

	apiPort, err := strconv.Atoi(getEnv("API_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid API_PORT: %w", err)
	}

	config := &Config{
		Telegram: TelegramConfig{
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatID:   chatID,
		},
		Bybit: BybitConfig{
			APIKey:    getEnv("BYBIT_API_KEY", ""),
			APISecret: getEnv("BYBIT_API_SECRET", ""),
			BaseURL:   getEnv("BYBIT_BASE_URL", "https://api.bybit.com"),
			WSURL:     getEnv("BYBIT_WS_URL", "wss://stream.bybit.com/v5/public/spot"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            dbPort,
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			DBName:          getEnv("DB_NAME", "trade_engine"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    maxOpenConns,
			MaxIdleConns:    maxIdleConns,
			ConnMaxLifetime: connMaxLifetime,
		},
		Engine: EngineConfig{
			AccountID:       getEnv("ACCOUNT_ID", "default"),
			RiskProfilePath: getEnv("RISK_PROFILE_PATH", "configs/risk_profiles.yaml"),
			RiskProfile:     getEnv("RISK_PROFILE", "moderate"),
			MaxRetries:      maxRetries,
			RetryBaseDelay:  retryBaseDelay,
			TradeInterval:   tradeInterval,
			PaperTrading:    paperTrading,
		},
		Market: MarketConfig{
			Symbols:    splitList(getEnv("TRADING_SYMBOLS", "BTCUSDT")),
			AlwaysOpen: marketAlwaysOpen,
		},
		API: APIConfig{
			Port: apiPort,
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate проверяет обязательные поля конфигурации
func (c *Config) Validate() error {
	if !c.Engine.PaperTrading {
		if c.Bybit.APIKey == "" {
			return fmt.Errorf("BYBIT_API_KEY is required")
		}
		if c.Bybit.APISecret == "" {
			return fmt.Errorf("BYBIT_API_SECRET is required")
		}
	}
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if len(c.Market.Symbols) == 0 {
		return fmt.Errorf("TRADING_SYMBOLS is required")
	}
	if c.Engine.MaxRetries < 0 {
		return fmt.Errorf("EXEC_MAX_RETRIES must not be negative")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
