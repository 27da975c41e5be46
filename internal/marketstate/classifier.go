// Package marketstate turns price windows into directional split states and
// reduces the states of the tracked universe into one market direction.
package marketstate

import (
	"github.com/rewired-gh/marketpulse/internal/models"
	"github.com/rewired-gh/marketpulse/internal/tracker"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Thresholds are the positive percentage changes that separate the states.
type Thresholds struct {
	Requirement       decimal.Decimal
	StrongRequirement decimal.Decimal
}

func NewThresholds(requirement, strongRequirement float64) Thresholds {
	return Thresholds{
		Requirement:       decimal.NewFromFloat(requirement),
		StrongRequirement: decimal.NewFromFloat(strongRequirement),
	}
}

// PercentChange returns (to - from) / from * 100, or zero when from is zero.
func PercentChange(from, to decimal.Decimal) decimal.Decimal {
	if from.IsZero() {
		return decimal.Zero
	}
	return to.Sub(from).Div(from).Mul(hundred)
}

// Classify maps a percentage change onto a directional state.
func Classify(changePct decimal.Decimal, th Thresholds) models.DirectionalState {
	switch {
	case changePct.GreaterThanOrEqual(th.StrongRequirement):
		return models.StrongUp
	case changePct.GreaterThanOrEqual(th.Requirement):
		return models.Up
	case changePct.LessThanOrEqual(th.StrongRequirement.Neg()):
		return models.StrongDown
	case changePct.LessThanOrEqual(th.Requirement.Neg()):
		return models.Down
	default:
		return models.Neutral
	}
}

// SubWindowSize is the number of trailing points a split covers:
// ceil(capacity * percent / 100), at least two and at most capacity.
func SubWindowSize(capacity, percent int) int {
	n := (capacity*percent + 99) / 100
	if n < 2 {
		n = 2
	}
	if n > capacity {
		n = capacity
	}
	return n
}

// ComputeSplits classifies every split of points. It never modifies points.
func ComputeSplits(points []models.PricePoint, capacity int, th Thresholds) models.SplitStateSet {
	set := make(models.SplitStateSet, len(models.Splits))
	for _, sp := range models.Splits {
		n := SubWindowSize(capacity, sp.Percent)
		if n > len(points) {
			n = len(points)
		}
		if n < 2 {
			set[sp.ID] = models.SplitState{State: models.Neutral, ChangePct: decimal.Zero}
			continue
		}
		sub := points[len(points)-n:]
		change := PercentChange(sub[0].Price, sub[len(sub)-1].Price)
		set[sp.ID] = models.SplitState{State: Classify(change, th), ChangePct: change}
	}
	return set
}

// Evaluate computes the instrument state of a window. It reports false while
// the window has not yet reached full capacity.
func Evaluate(w *tracker.Window, th Thresholds) (models.InstrumentState, bool) {
	if !w.Full() {
		return models.InstrumentState{}, false
	}
	points := w.Points()
	splits := ComputeSplits(points, w.Cap(), th)
	return models.InstrumentState{
		Overall: splits[models.Split100].State,
		Splits:  splits,
		Window:  points,
	}, true
}
