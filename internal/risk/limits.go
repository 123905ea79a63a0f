package risk

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kirillm/trade-engine/internal/domain"
)

// Limits профиль риск-лимитов. Значения score и breakpoints — настроечные
// константы деплоймента, не нормативная формула.
type Limits struct {
	ProfileName                 string  `yaml:"-"`
	MaxPositionSizePct          float64 `yaml:"max_position_size_pct"`
	MaxSymbolConcentrationPct   float64 `yaml:"max_symbol_concentration_pct"`
	MaxDailyLossPct             float64 `yaml:"max_daily_loss_pct"`
	MaxWeeklyLossPct            float64 `yaml:"max_weekly_loss_pct"`
	MaxPortfolioLeverage        float64 `yaml:"max_portfolio_leverage"`
	MaxDailyTrades              int     `yaml:"max_daily_trades"`
	ConsecutiveFailureThreshold int     `yaml:"consecutive_failure_threshold"`
	FailureWindowMinutes        int     `yaml:"failure_window_minutes"`
	SlippageThresholdPct        float64 `yaml:"slippage_threshold_pct"`

	// Доля лимита, с которой начинается warning band (например 0.8)
	WarningBand float64 `yaml:"warning_band"`

	Score      ScoreConfig      `yaml:"score"`
	Volatility VolatilityConfig `yaml:"volatility"`

	// Кулдауны автоматического сброса предохранителей, в минутах, по типу
	CooldownMinutes map[string]int `yaml:"cooldown_minutes"`
}

// ScoreConfig веса и breakpoints агрегированного риск-скора
type ScoreConfig struct {
	PositionWeight      float64 `yaml:"position_weight"`
	ConcentrationWeight float64 `yaml:"concentration_weight"`
	LossWeight          float64 `yaml:"loss_weight"`
	LeverageWeight      float64 `yaml:"leverage_weight"`
	MediumAt            float64 `yaml:"medium_at"`
	HighAt              float64 `yaml:"high_at"`
	CriticalAt          float64 `yaml:"critical_at"`
}

// VolatilityConfig параметры детектора волатильности
type VolatilityConfig struct {
	Period            int     `yaml:"period"`
	HighPct           float64 `yaml:"high_pct"`
	ExtremePct        float64 `yaml:"extreme_pct"`
	HighMultiplier    float64 `yaml:"high_multiplier"`
	ExtremeMultiplier float64 `yaml:"extreme_multiplier"`
}

// DefaultLimits умеренный профиль по умолчанию
func DefaultLimits() *Limits {
	return &Limits{
		ProfileName:                 "moderate",
		MaxPositionSizePct:          10,
		MaxSymbolConcentrationPct:   20,
		MaxDailyLossPct:             5,
		MaxWeeklyLossPct:            10,
		MaxPortfolioLeverage:        1.0,
		MaxDailyTrades:              48,
		ConsecutiveFailureThreshold: 5,
		FailureWindowMinutes:        30,
		SlippageThresholdPct:        1.0,
		WarningBand:                 0.8,
		Score: ScoreConfig{
			PositionWeight:      0.35,
			ConcentrationWeight: 0.15,
			LossWeight:          0.3,
			LeverageWeight:      0.2,
			MediumAt:            0.2,
			HighAt:              0.4,
			CriticalAt:          0.6,
		},
		Volatility: VolatilityConfig{
			Period:            14,
			HighPct:           4,
			ExtremePct:        8,
			HighMultiplier:    0.5,
			ExtremeMultiplier: 0.25,
		},
		CooldownMinutes: map[string]int{
			domain.BreakerDailyLoss:           24 * 60,
			domain.BreakerWeeklyLoss:          7 * 24 * 60,
			domain.BreakerConsecutiveFailures: 30,
			domain.BreakerVolatility:          60,
		},
	}
}

// Cooldown возвращает длительность кулдауна для типа предохранителя
func (l *Limits) Cooldown(breakerType string) time.Duration {
	if minutes, ok := l.CooldownMinutes[breakerType]; ok && minutes > 0 {
		return time.Duration(minutes) * time.Minute
	}
	return 30 * time.Minute
}

// FailureWindow окно подсчета подряд идущих ошибок
func (l *Limits) FailureWindow() time.Duration {
	if l.FailureWindowMinutes > 0 {
		return time.Duration(l.FailureWindowMinutes) * time.Minute
	}
	return 30 * time.Minute
}

// LimitStore hot-swappable хранилище активного профиля.
// Читатели получают консистентный снапшот на время одной оценки.
type LimitStore struct {
	mu       sync.RWMutex
	active   *Limits
	profiles map[string]*Limits
}

// NewLimitStore создает хранилище с единственным профилем
func NewLimitStore(limits *Limits) *LimitStore {
	return &LimitStore{
		active:   limits,
		profiles: map[string]*Limits{limits.ProfileName: limits},
	}
}

// LoadLimitStore загружает профили из YAML и активирует указанный
func LoadLimitStore(path, profile string) (*LimitStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read risk profiles: %w", err)
	}

	var config struct {
		RiskProfiles map[string]*Limits `yaml:"risk_profiles"`
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse risk profiles: %w", err)
	}

	if len(config.RiskProfiles) == 0 {
		return nil, fmt.Errorf("no risk profiles defined in %s", path)
	}

	for name, limits := range config.RiskProfiles {
		limits.ProfileName = name
	}

	active, ok := config.RiskProfiles[profile]
	if !ok {
		return nil, fmt.Errorf("risk profile %q not found in %s", profile, path)
	}

	return &LimitStore{active: active, profiles: config.RiskProfiles}, nil
}

// Snapshot возвращает активный профиль. Возвращаемое значение не мутируется,
// при смене профиля подменяется целиком.
func (s *LimitStore) Snapshot() *Limits {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Swap подменяет активный профиль; текущие оценки дорабатывают на старом снапшоте
func (s *LimitStore) Swap(limits *Limits) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[limits.ProfileName] = limits
	s.active = limits
}

// SwitchProfile активирует один из загруженных профилей
func (s *LimitStore) SwitchProfile(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	limits, ok := s.profiles[name]
	if !ok {
		return fmt.Errorf("risk profile %q not loaded", name)
	}
	s.active = limits
	return nil
}

// Profiles возвращает имена загруженных профилей
func (s *LimitStore) Profiles() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.profiles))
	for name := range s.profiles {
		names = append(names, name)
	}
	return names
}
