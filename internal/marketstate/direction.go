package marketstate

import (
	"math"

	"github.com/rewired-gh/marketpulse/internal/models"
)

// Aggregate averages the states and rounds to the nearest valid state.
// An empty input is neutral.
func Aggregate(states []models.DirectionalState) models.DirectionalState {
	if len(states) == 0 {
		return models.Neutral
	}
	var sum float64
	for _, s := range states {
		sum += float64(s)
	}
	avg := math.Round(sum / float64(len(states)))
	return models.DirectionalState(math.Max(-2, math.Min(2, avg)))
}
