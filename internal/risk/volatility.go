package risk

import (
	"github.com/markcheno/go-talib"

	"github.com/kirillm/trade-engine/internal/domain"
)

// RegimeDetector классифицирует режим волатильности по ряду цен закрытия
type RegimeDetector struct {
	cfg VolatilityConfig
}

func NewRegimeDetector(cfg VolatilityConfig) *RegimeDetector {
	if cfg.Period <= 0 {
		cfg.Period = 14
	}
	return &RegimeDetector{cfg: cfg}
}

// Detect возвращает режим по стандартному отклонению процентных изменений
// за период. Недостаточно данных => NORMAL (деградация, не ошибка).
func (d *RegimeDetector) Detect(closes []float64) string {
	if len(closes) < d.cfg.Period+2 {
		return domain.RegimeNormal
	}

	returns := talib.Roc(closes, 1)
	stdev := talib.StdDev(returns, d.cfg.Period, 1.0)

	volPct := stdev[len(stdev)-1]
	switch {
	case volPct >= d.cfg.ExtremePct:
		return domain.RegimeExtreme
	case volPct >= d.cfg.HighPct:
		return domain.RegimeHigh
	case volPct < d.cfg.HighPct/4:
		return domain.RegimeLow
	default:
		return domain.RegimeNormal
	}
}
