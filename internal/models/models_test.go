package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestReversalConfigurationValidate(t *testing.T) {
	valid := func() ReversalConfiguration {
		return ReversalConfiguration{
			SupportScoreRequirement:    78,
			ResistanceScoreRequirement: 70,
			EventSortFunction:          SortChangeSum,
			ScoreWeights:               ScoreWeights{Volume: 5, Liquidity: 30, Coins: 35, CoinsBTC: 30},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *ReversalConfiguration)
		wantErr bool
	}{
		{name: "valid configuration", mutate: func(c *ReversalConfiguration) {}},
		{name: "shuffle sort", mutate: func(c *ReversalConfiguration) { c.EventSortFunction = SortShuffle }},
		{name: "requirement bounds inclusive", mutate: func(c *ReversalConfiguration) {
			c.SupportScoreRequirement = 10
			c.ResistanceScoreRequirement = 100
		}},
		{name: "weights sum to 99", mutate: func(c *ReversalConfiguration) { c.ScoreWeights.Volume = 4 }, wantErr: true},
		{name: "weights sum to 101", mutate: func(c *ReversalConfiguration) { c.ScoreWeights.Coins = 36 }, wantErr: true},
		{name: "negative weight", mutate: func(c *ReversalConfiguration) {
			c.ScoreWeights.Volume = -5
			c.ScoreWeights.Coins = 45
		}, wantErr: true},
		{name: "support requirement too low", mutate: func(c *ReversalConfiguration) { c.SupportScoreRequirement = 9.99 }, wantErr: true},
		{name: "resistance requirement too high", mutate: func(c *ReversalConfiguration) { c.ResistanceScoreRequirement = 101 }, wantErr: true},
		{name: "unknown sort function", mutate: func(c *ReversalConfiguration) { c.EventSortFunction = "RANDOM" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfiguration) {
				t.Errorf("error %v does not wrap ErrInvalidConfiguration", err)
			}
		})
	}
}

func TestDefaultReversalConfigurationIsValid(t *testing.T) {
	cfg := DefaultReversalConfiguration()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default configuration invalid: %v", err)
	}
}

func TestRequirementByKind(t *testing.T) {
	cfg := ReversalConfiguration{SupportScoreRequirement: 78, ResistanceScoreRequirement: 70}
	if got := cfg.Requirement(KindSupport); got != 78 {
		t.Errorf("support requirement = %v, want 78", got)
	}
	if got := cfg.Requirement(KindResistance); got != 70 {
		t.Errorf("resistance requirement = %v, want 70", got)
	}
}

func TestReversalKindJSON(t *testing.T) {
	var contact KeyZoneContact
	if err := json.Unmarshal([]byte(`{"active":true,"event_id":1000,"kind":"support"}`), &contact); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !contact.Active || contact.EventID != 1000 || contact.Kind != KindSupport {
		t.Errorf("unexpected contact: %+v", contact)
	}

	if err := json.Unmarshal([]byte(`{"kind":"sideways"}`), &contact); err == nil {
		t.Error("expected error for unknown kind")
	}

	data, err := json.Marshal(KindResistance)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `"resistance"` {
		t.Errorf("Marshal(KindResistance) = %s", data)
	}
}

func TestCompressAndShortSums(t *testing.T) {
	splits := NeutralSplitStateSet()
	splits[Split100] = SplitState{State: Up, ChangePct: decimal.NewFromFloat(0.8)}
	splits[Split15] = SplitState{State: StrongUp, ChangePct: decimal.NewFromFloat(1.5)}
	splits[Split10] = SplitState{State: Up, ChangePct: decimal.NewFromFloat(0.5)}
	splits[Split5] = SplitState{State: Down, ChangePct: decimal.NewFromFloat(-0.25)}

	c := Compress(splits)
	if c.Overall != Up {
		t.Errorf("Overall = %v, want up", c.Overall)
	}
	if got := c.ShortStateSum(); got != 2 {
		t.Errorf("ShortStateSum = %d, want 2", got)
	}
	if got := c.ShortChangeSum(); got != 1.75 {
		t.Errorf("ShortChangeSum = %v, want 1.75", got)
	}
}

func TestIdleReversalState(t *testing.T) {
	st := IdleReversalState()
	if st.ID != 0 || st.Event != nil || st.EndedAt != nil {
		t.Errorf("idle state not empty: %+v", st)
	}
	if st.Scores.Len() != 0 || st.Scores.Global == nil {
		t.Errorf("idle score history should be empty and non-nil: %+v", st.Scores)
	}
}
