// Package scoring converts volume, order-book liquidity and instrument states
// into bounded score contributions. Every function returns a value in [0, weight].
package scoring

import (
	"github.com/rewired-gh/marketpulse/internal/models"
)

// Volume maps a volume-intensity level onto a fraction of weight.
func Volume(intensity int, weight float64) float64 {
	switch intensity {
	case 3:
		return weight
	case 2:
		return 0.85 * weight
	case 1:
		return 0.6 * weight
	default:
		return 0
	}
}

// Liquidity scores the bid liquidity power (0..100). Support sessions want
// bids to dominate, resistance sessions want asks to dominate.
func Liquidity(bidLiquidityPower float64, kind models.ReversalKind, weight float64) float64 {
	blp := clamp(bidLiquidityPower, 0, 100)
	switch kind {
	case models.KindSupport:
		return weight * blp / 100
	case models.KindResistance:
		return weight * (100 - blp) / 100
	default:
		return 0
	}
}

// statePoints scores a split state from the support perspective: strong up is
// worth a full point, strong down nothing.
func statePoints(state models.DirectionalState, kind models.ReversalKind) float64 {
	s := clamp(float64(state), -2, 2)
	if kind == models.KindResistance {
		s = -s
	}
	return (s + 2) / 4
}

// Instruments scores how well the short-horizon splits of every instrument
// line up with the reversal. The BTC-denominated variant uses the same
// function with BTC split sets and its own weight.
func Instruments(instruments map[string]models.SplitStateSet, kind models.ReversalKind, weight float64) float64 {
	if len(instruments) == 0 || kind == models.KindNone {
		return 0
	}
	var points float64
	for _, splits := range instruments {
		for _, id := range models.ShortSplits {
			points += statePoints(splits[id].State, kind)
		}
	}
	possible := float64(len(instruments) * len(models.ShortSplits))
	return points / possible * weight
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
