package reversal

import (
	"math/rand"
	"sort"

	"github.com/rewired-gh/marketpulse/internal/models"
)

// compliantSymbols returns the instruments whose short-horizon state sum moved
// in the reversal's direction since the session opened, sorted by name.
// Instruments absent from the initial snapshot are skipped.
func compliantSymbols(initial, current map[string]models.CompressedInstrumentState, kind models.ReversalKind) []string {
	out := []string{}
	for symbol, now := range current {
		start, ok := initial[symbol]
		if !ok {
			continue
		}
		delta := now.ShortStateSum() - start.ShortStateSum()
		if (kind == models.KindSupport && delta > 0) || (kind == models.KindResistance && delta < 0) {
			out = append(out, symbol)
		}
	}
	sort.Strings(out)
	return out
}

// orderSymbols applies the configured ordering. CHANGE_SUM sorts by the short
// change sum at session start, descending for support and ascending for resistance.
func orderSymbols(symbols []string, initial map[string]models.CompressedInstrumentState, kind models.ReversalKind, fn models.SortFunction, rng *rand.Rand) []string {
	out := append([]string(nil), symbols...)
	switch fn {
	case models.SortShuffle:
		rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	default:
		sort.SliceStable(out, func(i, j int) bool {
			a := initial[out[i]].ShortChangeSum()
			b := initial[out[j]].ShortChangeSum()
			if kind == models.KindResistance {
				return a < b
			}
			return a > b
		})
	}
	return out
}
