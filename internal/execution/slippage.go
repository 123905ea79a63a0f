package execution

import (
	"fmt"
	"math"
)

// SlippageGuard защита от чрезмерного проскальзывания исполнения
type SlippageGuard struct {
	thresholdPercent float64
}

func NewSlippageGuard(thresholdPercent float64) *SlippageGuard {
	return &SlippageGuard{thresholdPercent: thresholdPercent}
}

// Check проверяет приемлемость проскальзывания фактической цены против ожидаемой
func (sg *SlippageGuard) Check(actualPrice, expectedPrice float64) error {
	if expectedPrice <= 0 {
		return fmt.Errorf("invalid expected price: %.2f", expectedPrice)
	}

	slippage := sg.Calculate(actualPrice, expectedPrice)
	if slippage > sg.thresholdPercent {
		return fmt.Errorf("%w: %.2f%% (threshold: %.2f%%)", ErrSlippageTooHigh, slippage, sg.thresholdPercent)
	}
	return nil
}

// Calculate вычисляет процент проскальзывания
func (sg *SlippageGuard) Calculate(actualPrice, expectedPrice float64) float64 {
	if expectedPrice <= 0 {
		return 0.0
	}
	return math.Abs((actualPrice - expectedPrice) / expectedPrice * 100.0)
}

// SetThreshold устанавливает новый порог
func (sg *SlippageGuard) SetThreshold(thresholdPercent float64) {
	sg.thresholdPercent = thresholdPercent
}
