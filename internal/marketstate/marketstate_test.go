package marketstate

import (
	"testing"

	"github.com/rewired-gh/marketpulse/internal/models"
	"github.com/rewired-gh/marketpulse/internal/tracker"
	"github.com/shopspring/decimal"
)

var testThresholds = NewThresholds(0.5, 1.5)

func TestClassify(t *testing.T) {
	tests := []struct {
		change float64
		want   models.DirectionalState
	}{
		{3, models.StrongUp},
		{1.5, models.StrongUp},
		{1.49, models.Up},
		{0.5, models.Up},
		{0.49, models.Neutral},
		{0, models.Neutral},
		{-0.49, models.Neutral},
		{-0.5, models.Down},
		{-1.49, models.Down},
		{-1.5, models.StrongDown},
		{-7, models.StrongDown},
	}
	for _, tt := range tests {
		got := Classify(decimal.NewFromFloat(tt.change), testThresholds)
		if got != tt.want {
			t.Errorf("Classify(%v) = %v, want %v", tt.change, got, tt.want)
		}
	}
}

func TestClassify_MonotonicAndSymmetric(t *testing.T) {
	prev := models.StrongDown
	for i := -400; i <= 400; i++ {
		x := decimal.New(int64(i), -2) // -4.00 .. 4.00
		got := Classify(x, testThresholds)
		if got < prev {
			t.Fatalf("Classify not monotonic at %s: %v after %v", x, got, prev)
		}
		prev = got
		if mirrored := Classify(x.Neg(), testThresholds); mirrored != -got {
			t.Fatalf("Classify(%s) = %v but Classify(%s) = %v", x, got, x.Neg(), mirrored)
		}
	}
}

func TestPercentChange(t *testing.T) {
	got := PercentChange(decimal.NewFromInt(200), decimal.NewFromInt(203))
	if !got.Equal(decimal.NewFromFloat(1.5)) {
		t.Errorf("PercentChange(200, 203) = %s, want 1.5", got)
	}
	if got := PercentChange(decimal.Zero, decimal.NewFromInt(5)); !got.IsZero() {
		t.Errorf("PercentChange from zero = %s, want 0", got)
	}
}

func TestSubWindowSize(t *testing.T) {
	tests := []struct {
		capacity, percent, want int
	}{
		{100, 100, 100},
		{100, 15, 15},
		{100, 2, 2},
		{50, 15, 8},
		{10, 5, 2},
		{1, 50, 1},
	}
	for _, tt := range tests {
		if got := SubWindowSize(tt.capacity, tt.percent); got != tt.want {
			t.Errorf("SubWindowSize(%d, %d) = %d, want %d", tt.capacity, tt.percent, got, tt.want)
		}
	}
}

func TestComputeSplits(t *testing.T) {
	// 100 points: flat at 100 for the first 90, then +1 per point up to 110.
	points := make([]models.PricePoint, 100)
	for i := range points {
		price := int64(100)
		if i >= 90 {
			price = int64(100 + i - 89)
		}
		points[i] = models.PricePoint{Timestamp: int64(i) * 1000, Price: decimal.NewFromInt(price)}
	}
	before := append([]models.PricePoint(nil), points...)

	splits := ComputeSplits(points, 100, testThresholds)

	if len(splits) != len(models.Splits) {
		t.Fatalf("got %d splits, want %d", len(splits), len(models.Splits))
	}
	// full window: 100 -> 110 = +10%
	if s := splits[models.Split100]; s.State != models.StrongUp || !s.ChangePct.Equal(decimal.NewFromInt(10)) {
		t.Errorf("s100 = %+v", s)
	}
	// s2: last two points 109 -> 110, ~0.917%
	if s := splits[models.Split2]; s.State != models.Up {
		t.Errorf("s2 state = %v, want up (change %s)", s.State, s.ChangePct)
	}
	for i := range points {
		if points[i] != before[i] {
			t.Fatal("ComputeSplits mutated its input")
		}
	}
}

func TestEvaluate_RequiresFullWindow(t *testing.T) {
	w := tracker.NewWindow(4)
	for i := 0; i < 3; i++ {
		w.Record(int64(i)*1000, decimal.NewFromInt(100), 1000)
	}
	if _, ok := Evaluate(w, testThresholds); ok {
		t.Fatal("Evaluate succeeded on a partial window")
	}

	w.Record(3000, decimal.NewFromInt(90), 1000)
	st, ok := Evaluate(w, testThresholds)
	if !ok {
		t.Fatal("Evaluate failed on a full window")
	}
	if st.Overall != models.StrongDown {
		t.Errorf("Overall = %v, want strong-down", st.Overall)
	}
	if len(st.Window) != 4 {
		t.Errorf("window len = %d, want 4", len(st.Window))
	}
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name   string
		states []models.DirectionalState
		want   models.DirectionalState
	}{
		{"empty", nil, models.Neutral},
		{"all strong up", []models.DirectionalState{2, 2, 2}, models.StrongUp},
		{"opposites cancel", []models.DirectionalState{2, -2}, models.Neutral},
		{"rounds to nearest", []models.DirectionalState{2, 1, 1}, models.Up},
		{"rounds half away from zero", []models.DirectionalState{-1, -2}, models.StrongDown},
		{"mostly neutral", []models.DirectionalState{0, 0, 1}, models.Neutral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Aggregate(tt.states); got != tt.want {
				t.Errorf("Aggregate(%v) = %v, want %v", tt.states, got, tt.want)
			}
		})
	}
}
