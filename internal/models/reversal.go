package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidConfiguration is wrapped by every reversal configuration validation failure.
var ErrInvalidConfiguration = errors.New("invalid reversal configuration")

// ReversalKind tells which side of a KeyZone a session is scoring.
type ReversalKind int8

const (
	KindResistance ReversalKind = -1
	KindNone       ReversalKind = 0
	KindSupport    ReversalKind = 1
)

func (k ReversalKind) String() string {
	switch k {
	case KindSupport:
		return "support"
	case KindResistance:
		return "resistance"
	default:
		return "none"
	}
}

// ParseReversalKind converts "support", "resistance" or "none".
func ParseReversalKind(s string) (ReversalKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "support":
		return KindSupport, nil
	case "resistance":
		return KindResistance, nil
	case "none", "":
		return KindNone, nil
	default:
		return KindNone, fmt.Errorf("unknown reversal kind: %q", s)
	}
}

func (k ReversalKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *ReversalKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("reversal kind must be a string: %w", err)
	}
	parsed, err := ParseReversalKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// SortFunction selects how compliant symbols are ordered in a reversal event.
type SortFunction string

const (
	SortChangeSum SortFunction = "CHANGE_SUM"
	SortShuffle   SortFunction = "SHUFFLE"
)

// Valid reports whether s is a recognized sort strategy.
func (s SortFunction) Valid() bool {
	return s == SortChangeSum || s == SortShuffle
}

// ScoreWeights are the maximum contributions of each signal. They must sum to 100.
type ScoreWeights struct {
	Volume    float64 `json:"volume" mapstructure:"volume"`
	Liquidity float64 `json:"liquidity" mapstructure:"liquidity"`
	Coins     float64 `json:"coins" mapstructure:"coins"`
	CoinsBTC  float64 `json:"coins_btc" mapstructure:"coins_btc"`
}

// Sum returns the total of all weights.
func (w ScoreWeights) Sum() float64 {
	return w.Volume + w.Liquidity + w.Coins + w.CoinsBTC
}

// ReversalConfiguration drives the reversal state machine.
type ReversalConfiguration struct {
	SupportScoreRequirement    float64      `json:"support_score_requirement" mapstructure:"support_score_requirement"`
	ResistanceScoreRequirement float64      `json:"resistance_score_requirement" mapstructure:"resistance_score_requirement"`
	EventSortFunction          SortFunction `json:"event_sort_function" mapstructure:"event_sort_function"`
	ScoreWeights               ScoreWeights `json:"score_weights" mapstructure:"score_weights"`
}

// DefaultReversalConfiguration is used when nothing has been persisted yet.
func DefaultReversalConfiguration() ReversalConfiguration {
	return ReversalConfiguration{
		SupportScoreRequirement:    75,
		ResistanceScoreRequirement: 75,
		EventSortFunction:          SortChangeSum,
		ScoreWeights: ScoreWeights{
			Volume:    5,
			Liquidity: 30,
			Coins:     35,
			CoinsBTC:  30,
		},
	}
}

// Validate checks the configuration. Values are never clamped.
func (c *ReversalConfiguration) Validate() error {
	if c.SupportScoreRequirement < 10 || c.SupportScoreRequirement > 100 {
		return fmt.Errorf("%w: support_score_requirement must be between 10 and 100", ErrInvalidConfiguration)
	}
	if c.ResistanceScoreRequirement < 10 || c.ResistanceScoreRequirement > 100 {
		return fmt.Errorf("%w: resistance_score_requirement must be between 10 and 100", ErrInvalidConfiguration)
	}
	if !c.EventSortFunction.Valid() {
		return fmt.Errorf("%w: event_sort_function %q is not one of %s, %s",
			ErrInvalidConfiguration, c.EventSortFunction, SortChangeSum, SortShuffle)
	}
	w := c.ScoreWeights
	if w.Volume < 0 || w.Liquidity < 0 || w.Coins < 0 || w.CoinsBTC < 0 {
		return fmt.Errorf("%w: score weights must not be negative", ErrInvalidConfiguration)
	}
	if math.Abs(w.Sum()-100) > 1e-9 {
		return fmt.Errorf("%w: score weights must sum to 100, got %g", ErrInvalidConfiguration, w.Sum())
	}
	return nil
}

// Requirement returns the score a session of the given kind must reach.
func (c *ReversalConfiguration) Requirement(kind ReversalKind) float64 {
	if kind == KindSupport {
		return c.SupportScoreRequirement
	}
	return c.ResistanceScoreRequirement
}

// ScoreHistory holds one entry per market tick of an active session.
type ScoreHistory struct {
	Global    []float64 `json:"global"`
	Volume    []float64 `json:"volume"`
	Liquidity []float64 `json:"liquidity"`
	Coins     []float64 `json:"coins"`
	CoinsBTC  []float64 `json:"coins_btc"`
}

// NewScoreHistory returns an empty history.
func NewScoreHistory() ScoreHistory {
	return ScoreHistory{
		Global:    []float64{},
		Volume:    []float64{},
		Liquidity: []float64{},
		Coins:     []float64{},
		CoinsBTC:  []float64{},
	}
}

// Len is the number of recorded ticks.
func (h ScoreHistory) Len() int {
	return len(h.Global)
}

// ReversalEvent is frozen the first time a session's score crosses its requirement.
type ReversalEvent struct {
	IssuedAt         int64    `json:"issued_at"`
	CompliantSymbols []string `json:"compliant_symbols"`
}

// ReversalState is an active or historical scoring session. ID 0 means no session.
type ReversalState struct {
	ID      int64          `json:"id"`
	Kind    ReversalKind   `json:"kind"`
	KeyZone KeyZoneContact `json:"keyzone"`
	Scores  ScoreHistory   `json:"scores"`
	Event   *ReversalEvent `json:"event"`
	EndedAt *int64         `json:"ended_at"`
}

// IdleReversalState is the value reported while no session is active.
func IdleReversalState() ReversalState {
	return ReversalState{Scores: NewScoreHistory()}
}

// ReversalCoinsStates bundles the instrument snapshots of a session.
type ReversalCoinsStates struct {
	ID      int64                                `json:"id"`
	Initial map[string]CompressedInstrumentState `json:"initial"`
	Event   map[string]CompressedInstrumentState `json:"event"`
	Final   map[string]CompressedInstrumentState `json:"final"`
}

// ReversalNotification is sent to alerting collaborators when an event is issued.
type ReversalNotification struct {
	SessionID        int64        `json:"session_id"`
	Kind             ReversalKind `json:"kind"`
	Score            float64      `json:"score"`
	CompliantSymbols []string     `json:"compliant_symbols"`
	IssuedAt         int64        `json:"issued_at"`
}
