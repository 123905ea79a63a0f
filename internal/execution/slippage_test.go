package execution

import (
	"errors"
	"math"
	"testing"
)

func TestSlippageGuard_Check(t *testing.T) {
	guard := NewSlippageGuard(1.0)

	tests := []struct {
		name     string
		actual   float64
		expected float64
		wantErr  bool
	}{
		{"no slippage", 100, 100, false},
		{"within threshold", 100.9, 100, false},
		{"at threshold", 101, 100, false},
		{"above threshold", 101.5, 100, true},
		{"negative slippage above threshold", 98.5, 100, true},
		{"invalid expected price", 100, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guard.Check(tt.actual, tt.expected)
			if (err != nil) != tt.wantErr {
				t.Errorf("Check(%.2f, %.2f) error = %v, wantErr %v", tt.actual, tt.expected, err, tt.wantErr)
			}
		})
	}
}

func TestSlippageGuard_CheckErrorIsSentinel(t *testing.T) {
	guard := NewSlippageGuard(0.5)
	err := guard.Check(102, 100)
	if !errors.Is(err, ErrSlippageTooHigh) {
		t.Errorf("error = %v, want ErrSlippageTooHigh", err)
	}
}

func TestSlippageGuard_Calculate(t *testing.T) {
	guard := NewSlippageGuard(1.0)

	if got := guard.Calculate(102, 100); math.Abs(got-2.0) > 1e-9 {
		t.Errorf("Calculate(102, 100) = %.4f, want 2.0", got)
	}
	if got := guard.Calculate(98, 100); math.Abs(got-2.0) > 1e-9 {
		t.Errorf("Calculate(98, 100) = %.4f, want 2.0 (absolute value)", got)
	}
	if got := guard.Calculate(100, 0); got != 0 {
		t.Errorf("Calculate with zero expected = %.4f, want 0", got)
	}
}

func TestSlippageGuard_SetThreshold(t *testing.T) {
	guard := NewSlippageGuard(1.0)
	if err := guard.Check(103, 100); err == nil {
		t.Fatal("3% slippage must exceed 1% threshold")
	}
	guard.SetThreshold(5.0)
	if err := guard.Check(103, 100); err != nil {
		t.Errorf("after raising threshold Check() error = %v", err)
	}
}
