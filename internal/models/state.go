// Package models defines the core domain entities: directional states, split states,
// instrument states and reversal sessions.
package models

import (
	"github.com/shopspring/decimal"
)

// DirectionalState is the discrete direction of a price move, from strong-down (-2) to strong-up (2).
type DirectionalState int8

const (
	StrongDown DirectionalState = -2
	Down       DirectionalState = -1
	Neutral    DirectionalState = 0
	Up         DirectionalState = 1
	StrongUp   DirectionalState = 2
)

func (s DirectionalState) String() string {
	switch s {
	case StrongDown:
		return "strong-down"
	case Down:
		return "down"
	case Neutral:
		return "neutral"
	case Up:
		return "up"
	case StrongUp:
		return "strong-up"
	default:
		return "invalid"
	}
}

// PricePoint is a single sample of a price window. Immutable once appended.
type PricePoint struct {
	Timestamp int64           `json:"t"`
	Price     decimal.Decimal `json:"p"`
}

// SplitID names a fraction of the full price window.
type SplitID string

const (
	Split100 SplitID = "s100"
	Split75  SplitID = "s75"
	Split50  SplitID = "s50"
	Split25  SplitID = "s25"
	Split15  SplitID = "s15"
	Split10  SplitID = "s10"
	Split5   SplitID = "s5"
	Split2   SplitID = "s2"
)

// Split pairs a split id with the percentage of the window it covers.
type Split struct {
	ID      SplitID
	Percent int
}

// Splits lists every evaluated fraction, longest horizon first.
var Splits = []Split{
	{Split100, 100},
	{Split75, 75},
	{Split50, 50},
	{Split25, 25},
	{Split15, 15},
	{Split10, 10},
	{Split5, 5},
	{Split2, 2},
}

// ShortSplits are the four shortest horizons used by the instrument-states score.
var ShortSplits = []SplitID{Split15, Split10, Split5, Split2}

// SplitState is the classification of one window fraction.
type SplitState struct {
	State     DirectionalState `json:"state"`
	ChangePct decimal.Decimal  `json:"change_pct"`
}

// SplitStateSet maps each split id to its state.
type SplitStateSet map[SplitID]SplitState

// NeutralSplitStateSet returns a set with every split neutral and unchanged.
func NeutralSplitStateSet() SplitStateSet {
	set := make(SplitStateSet, len(Splits))
	for _, sp := range Splits {
		set[sp.ID] = SplitState{State: Neutral, ChangePct: decimal.Zero}
	}
	return set
}

// InstrumentState is the directional view of one instrument.
type InstrumentState struct {
	Overall DirectionalState `json:"overall"`
	Splits  SplitStateSet    `json:"splits"`
	Window  []PricePoint     `json:"window,omitempty"`
}

// NewInstrumentState returns the neutral default used when an instrument is installed.
func NewInstrumentState() InstrumentState {
	return InstrumentState{
		Overall: Neutral,
		Splits:  NeutralSplitStateSet(),
	}
}

// CompressedInstrumentState is the persisted form of an instrument's split states.
type CompressedInstrumentState struct {
	Overall DirectionalState             `json:"o"`
	States  map[SplitID]DirectionalState `json:"s"`
	Changes map[SplitID]float64          `json:"c"`
}

// Compress reduces a split set to plain states and float changes.
func Compress(splits SplitStateSet) CompressedInstrumentState {
	c := CompressedInstrumentState{
		Overall: splits[Split100].State,
		States:  make(map[SplitID]DirectionalState, len(splits)),
		Changes: make(map[SplitID]float64, len(splits)),
	}
	for id, st := range splits {
		c.States[id] = st.State
		c.Changes[id] = st.ChangePct.InexactFloat64()
	}
	return c
}

// CompressAll compresses a whole universe of instruments.
func CompressAll(instruments map[string]SplitStateSet) map[string]CompressedInstrumentState {
	out := make(map[string]CompressedInstrumentState, len(instruments))
	for symbol, splits := range instruments {
		out[symbol] = Compress(splits)
	}
	return out
}

// ShortStateSum adds up the states of the short-horizon splits.
func (c CompressedInstrumentState) ShortStateSum() int {
	sum := 0
	for _, id := range ShortSplits {
		sum += int(c.States[id])
	}
	return sum
}

// ShortChangeSum adds up the percentage changes of the short-horizon splits.
func (c CompressedInstrumentState) ShortChangeSum() float64 {
	var sum float64
	for _, id := range ShortSplits {
		sum += c.Changes[id]
	}
	return sum
}
