package trailing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

func trailingPosition(entry, pct, step float64) domain.Position {
	tp, peak := InitialTakeProfit(domain.TakeProfitTrailing, entry, pct)
	return domain.Position{
		EntryPrice:        entry,
		Notional:          1000,
		Quantity:          1000 / entry,
		TakeProfitMode:    domain.TakeProfitTrailing,
		TakeProfitPercent: pct,
		StepPercent:       step,
		PeakPrice:         peak,
		TakeProfitPrice:   tp,
		Status:            domain.PositionActive,
	}
}

// apply commits an evaluation the way the engine persists it.
func apply(p domain.Position, price float64) (domain.Position, Evaluation) {
	ev := Evaluate(p, price)
	p.PeakPrice = ev.Peak
	p.TakeProfitPrice = ev.TakeProfit
	p.UnrealizedPnL = ev.UnrealizedPnL
	p.LastPrice = price
	return p, ev
}

func TestInitialTakeProfit(t *testing.T) {
	tp, peak := InitialTakeProfit(domain.TakeProfitTrailing, 100, 0.05)
	assert.Equal(t, 95.0, tp)
	require.NotNil(t, peak)
	assert.Equal(t, 100.0, *peak)

	tp, peak = InitialTakeProfit(domain.TakeProfitFixed, 100, 0.05)
	assert.Equal(t, 105.0, tp)
	assert.Nil(t, peak)
}

func TestTrailingScenario(t *testing.T) {
	p := trailingPosition(100, 0.05, 0.01)

	p, ev := apply(p, 100)
	assert.False(t, ev.Moved, "95 does not clear 95*1.01")
	assert.False(t, ev.Triggered)
	assert.Equal(t, 95.0, p.TakeProfitPrice)

	p, ev = apply(p, 110)
	assert.True(t, ev.Moved)
	assert.Equal(t, 110.0, *p.PeakPrice)
	assert.Equal(t, 104.5, p.TakeProfitPrice)
	assert.False(t, ev.Triggered)

	p, ev = apply(p, 108)
	assert.False(t, ev.Moved)
	assert.False(t, ev.Triggered)
	assert.Equal(t, 110.0, *p.PeakPrice, "peak never decreases")
	assert.Equal(t, 104.5, p.TakeProfitPrice)

	p, ev = apply(p, 104.4)
	assert.True(t, ev.Triggered)
	assert.InDelta(t, 44.0, ev.UnrealizedPnL, 1e-9)
	assert.Equal(t, 104.5, p.TakeProfitPrice)
}

func TestHysteresisBelowStepDoesNotMove(t *testing.T) {
	p := trailingPosition(100, 0.05, 0.01)
	// Threshold for a move is 95*1.01 = 95.95, i.e. a peak of 101.
	for _, price := range []float64{100.5, 100.2, 100.9, 100.1, 100.99} {
		var ev Evaluation
		p, ev = apply(p, price)
		assert.False(t, ev.Moved, "price %v", price)
		assert.Equal(t, 95.0, p.TakeProfitPrice)
	}
	assert.Equal(t, 100.99, *p.PeakPrice)

	moves := 0
	for _, price := range []float64{101.5, 101.6, 101.7} {
		var ev Evaluation
		p, ev = apply(p, price)
		if ev.Moved {
			moves++
		}
	}
	assert.Equal(t, 1, moves)
	assert.InDelta(t, 96.425, p.TakeProfitPrice, 1e-9)
}

func TestExactStepBoundaryMoves(t *testing.T) {
	p := trailingPosition(100, 0.05, 0.01)
	// candidate 101*0.95 = 95.95 == 95*1.01
	_, ev := apply(p, 101)
	assert.True(t, ev.Moved)
	assert.Equal(t, 95.95, ev.TakeProfit)
}

func TestDefaultStep(t *testing.T) {
	assert.Equal(t, DefaultStepPercent, StepOrDefault(0))
	assert.Equal(t, 0.02, StepOrDefault(0.02))

	p := trailingPosition(100, 0.05, 0)
	// 95*1.005 = 95.475 needs a peak of 100.5.
	_, ev := apply(p, 100.4)
	assert.False(t, ev.Moved)
	_, ev = apply(p, 100.5)
	assert.True(t, ev.Moved)
}

func TestTriggerBoundaryIsInclusive(t *testing.T) {
	require.True(t, TriggerInclusive)
	assert.True(t, Triggered(domain.TakeProfitTrailing, 104.5, 104.5))
	assert.True(t, Triggered(domain.TakeProfitTrailing, 104.49, 104.5))
	assert.False(t, Triggered(domain.TakeProfitTrailing, 104.51, 104.5))
}

func TestFixedMode(t *testing.T) {
	tp, _ := InitialTakeProfit(domain.TakeProfitFixed, 100, 0.05)
	p := domain.Position{
		EntryPrice:        100,
		Notional:          1000,
		TakeProfitMode:    domain.TakeProfitFixed,
		TakeProfitPercent: 0.05,
		TakeProfitPrice:   tp,
	}

	p, ev := apply(p, 120)
	assert.Nil(t, ev.Peak)
	assert.False(t, ev.Moved)
	assert.Equal(t, 105.0, p.TakeProfitPrice, "fixed take-profit is never revised")
	assert.True(t, ev.Triggered)

	_, ev = apply(p, 104.99)
	assert.False(t, ev.Triggered)
}

func TestPnL(t *testing.T) {
	assert.Equal(t, 50.0, PnL(100, 105, 1000))
	assert.Equal(t, -20.0, PnL(100, 98, 1000))
	assert.Equal(t, 0.0, PnL(0, 98, 1000))
	assert.InDelta(t, 48.95, RealizedPnL(100, 105, 1000, 1.05), 1e-9)
}
