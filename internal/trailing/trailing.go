// Package trailing holds the take-profit math for watched positions. All
// arithmetic runs on decimals so thresholds compare exactly.
package trailing

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

// TriggerInclusive makes a TRAILING position close when the price equals the
// take-profit exactly (price <= take-profit). Set to false for a strict <.
const TriggerInclusive = true

// DefaultStepPercent is the hysteresis used when a TRAILING position has no
// step configured.
const DefaultStepPercent = 0.005

var one = decimal.NewFromInt(1)

// Evaluation is the outcome of evaluating one position against one price.
type Evaluation struct {
	Peak          *float64
	TakeProfit    float64
	Moved         bool
	UnrealizedPnL float64
	Triggered     bool
}

// InitialTakeProfit returns the take-profit and peak for a freshly opened
// position. FIXED positions get entry*(1+pct) and no peak; TRAILING positions
// start with peak = entry and take-profit = entry*(1-pct).
func InitialTakeProfit(mode domain.TakeProfitMode, entry, pct float64) (float64, *float64) {
	e := decimal.NewFromFloat(entry)
	p := decimal.NewFromFloat(pct)
	if mode == domain.TakeProfitFixed {
		tp, _ := e.Mul(one.Add(p)).Float64()
		return tp, nil
	}
	tp, _ := e.Mul(one.Sub(p)).Float64()
	peak := entry
	return tp, &peak
}

// StepOrDefault returns step, or DefaultStepPercent when step is not positive.
func StepOrDefault(step float64) float64 {
	if step <= 0 {
		return DefaultStepPercent
	}
	return step
}

// Evaluate applies one price observation to p. It never mutates p.
func Evaluate(p domain.Position, price float64) Evaluation {
	ev := Evaluation{
		Peak:          p.PeakPrice,
		TakeProfit:    p.TakeProfitPrice,
		UnrealizedPnL: PnL(p.EntryPrice, price, p.Notional),
	}

	if p.TakeProfitMode == domain.TakeProfitTrailing {
		peak := price
		if p.PeakPrice != nil && *p.PeakPrice > peak {
			peak = *p.PeakPrice
		}
		ev.Peak = &peak

		candidate := decimal.NewFromFloat(peak).Mul(one.Sub(decimal.NewFromFloat(p.TakeProfitPercent)))
		threshold := decimal.NewFromFloat(p.TakeProfitPrice).
			Mul(one.Add(decimal.NewFromFloat(StepOrDefault(p.StepPercent))))
		if candidate.GreaterThanOrEqual(threshold) {
			ev.TakeProfit, _ = candidate.Float64()
			ev.Moved = true
		}
	}

	ev.Triggered = Triggered(p.TakeProfitMode, price, ev.TakeProfit)
	return ev
}

// Triggered reports whether price crosses the take-profit. TRAILING closes
// when the price falls back to the take-profit; FIXED closes when the price
// reaches its target above entry.
func Triggered(mode domain.TakeProfitMode, price, takeProfit float64) bool {
	if takeProfit <= 0 {
		return false
	}
	pr := decimal.NewFromFloat(price)
	tp := decimal.NewFromFloat(takeProfit)
	if mode == domain.TakeProfitFixed {
		return pr.GreaterThanOrEqual(tp)
	}
	if TriggerInclusive {
		return pr.LessThanOrEqual(tp)
	}
	return pr.LessThan(tp)
}

// PnL returns ((price-entry)/entry)*notional.
func PnL(entry, price, notional float64) float64 {
	if entry <= 0 {
		return 0
	}
	e := decimal.NewFromFloat(entry)
	v, _ := decimal.NewFromFloat(price).Sub(e).Div(e).Mul(decimal.NewFromFloat(notional)).Float64()
	return v
}

// RealizedPnL returns the close P&L net of the close fee.
func RealizedPnL(entry, fill, notional, fee float64) float64 {
	gross := decimal.NewFromFloat(PnL(entry, fill, notional))
	v, _ := gross.Sub(decimal.NewFromFloat(fee)).Float64()
	return v
}
