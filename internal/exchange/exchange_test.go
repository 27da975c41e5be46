package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"
)

type fakeSource struct {
	mu          sync.Mutex
	instruments []Instrument
	stats       []Stat
	failures    int // remaining failing Instruments calls
	calls       int
}

func (f *fakeSource) Instruments(context.Context) ([]Instrument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("503 service unavailable")
	}
	return f.instruments, nil
}

func (f *fakeSource) Stats24h(context.Context) ([]Stat, error) {
	return f.stats, nil
}

var now = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func perp(symbol string, ageDays int) Instrument {
	return Instrument{
		Symbol:       symbol,
		Status:       "TRADING",
		ContractType: "PERPETUAL",
		QuoteAsset:   "USDT",
		OnboardDate:  now.Add(-time.Duration(ageDays) * 24 * time.Hour),
	}
}

func TestEligible(t *testing.T) {
	tests := []struct {
		name string
		in   Instrument
		want bool
	}{
		{"perpetual", perp("ETHUSDT", 100), true},
		{"exactly min age", perp("ETHUSDT", 30), true},
		{"too young", perp("NEWUSDT", 29), false},
		{"wrong quote", func() Instrument { i := perp("ETHBUSD", 100); i.QuoteAsset = "BUSD"; return i }(), false},
		{"quarterly", func() Instrument { i := perp("BTCUSDT_240628", 100); i.ContractType = "CURRENT_QUARTER"; return i }(), false},
		{"settling", func() Instrument { i := perp("LUNAUSDT", 100); i.Status = "SETTLING"; return i }(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Eligible(tt.in, "USDT", 30, now); got != tt.want {
				t.Errorf("Eligible() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScore(t *testing.T) {
	stats := []Stat{
		{Symbol: "BTCUSDT", QuoteVolume: 9e9},
		{Symbol: "ETHUSDT", QuoteVolume: 5e9},
		{Symbol: "SOLUSDT", QuoteVolume: 1e9},
	}
	got := Score([]string{"SOLUSDT", "ETHUSDT", "BTCUSDT", "XYZUSDT"}, stats)
	want := []Supported{
		{Symbol: "BTCUSDT", Score: 100},
		{Symbol: "ETHUSDT", Score: 75},
		{Symbol: "SOLUSDT", Score: 50},
		{Symbol: "XYZUSDT", Score: 25},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Score() = %+v, want %+v", got, want)
	}
	if got := Score(nil, stats); len(got) != 0 {
		t.Errorf("expected no scores for no eligible symbols, got %+v", got)
	}
}

func TestSelect(t *testing.T) {
	supported := []Supported{{"ETHUSDT", 100}, {"SOLUSDT", 66}, {"XRPUSDT", 33}}
	got := Select(supported, 2, []string{"BTCUSDT", "ETHUSDT"})
	if want := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Select() = %v, want %v", got, want)
	}
}

func TestRefresher_RefreshRetries(t *testing.T) {
	src := &fakeSource{
		instruments: []Instrument{perp("BTCUSDT", 1000), perp("ETHUSDT", 900), perp("NEWUSDT", 2)},
		stats:       []Stat{{"BTCUSDT", 10}, {"ETHUSDT", 5}},
		failures:    2,
	}
	r := NewRefresher(src, Config{
		QuoteAsset:     "USDT",
		MinAgeDays:     30,
		MaxInstruments: 1,
		AlwaysInclude:  []string{"BTCUSDT"},
		MaxRetries:     3,
		RetryDelayBase: time.Millisecond,
	})
	r.now = func() time.Time { return now }

	installed, err := r.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if want := []string{"BTCUSDT"}; !reflect.DeepEqual(installed, want) {
		t.Errorf("installed = %v, want %v", installed, want)
	}
	if src.calls != 3 {
		t.Errorf("expected 3 calls, got %d", src.calls)
	}
	if sup := r.Supported(); len(sup) != 2 || sup[0].Symbol != "BTCUSDT" {
		t.Errorf("unexpected supported set %+v", sup)
	}
}

func TestRefresher_GivesUp(t *testing.T) {
	src := &fakeSource{failures: 10}
	r := NewRefresher(src, Config{QuoteAsset: "USDT", MaxInstruments: 5, MaxRetries: 2, RetryDelayBase: time.Millisecond})
	if _, err := r.Refresh(context.Background()); err == nil {
		t.Fatal("expected error after retries")
	}
	if src.calls != 2 {
		t.Errorf("expected 2 attempts, got %d", src.calls)
	}
}

func TestRefresher_RunSendsSet(t *testing.T) {
	src := &fakeSource{
		instruments: []Instrument{perp("ETHUSDT", 900)},
		stats:       []Stat{{"ETHUSDT", 5}},
	}
	r := NewRefresher(src, Config{QuoteAsset: "USDT", MaxInstruments: 5, AlwaysInclude: []string{"BTCUSDT"}, RefreshInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan []string, 1)
	go r.Run(ctx, out)

	select {
	case set := <-out:
		if want := []string{"BTCUSDT", "ETHUSDT"}; !reflect.DeepEqual(set, want) {
			t.Errorf("set = %v, want %v", set, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for installed set")
	}
}

func TestBinanceSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/fapi/v1/exchangeInfo":
			_, _ = w.Write([]byte(`{"timezone":"UTC","serverTime":1717200000000,"symbols":[
				{"symbol":"BTCUSDT","pair":"BTCUSDT","contractType":"PERPETUAL","status":"TRADING","quoteAsset":"USDT","onboardDate":1569398400000},
				{"symbol":"ETHUSDT_240628","pair":"ETHUSDT","contractType":"CURRENT_QUARTER","status":"TRADING","quoteAsset":"USDT","onboardDate":1711699200000}
			]}`))
		case "/fapi/v1/ticker/24hr":
			_, _ = w.Write([]byte(`[{"symbol":"BTCUSDT","quoteVolume":"12345678.9"},{"symbol":"ETHUSDT","quoteVolume":"oops"}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	src := NewBinanceSource(srv.URL, 5*time.Second)
	instruments, err := src.Instruments(context.Background())
	if err != nil {
		t.Fatalf("Instruments: %v", err)
	}
	if len(instruments) != 2 {
		t.Fatalf("expected 2 instruments, got %d", len(instruments))
	}
	btc := instruments[0]
	if btc.Symbol != "BTCUSDT" || btc.ContractType != "PERPETUAL" || btc.Status != "TRADING" || btc.QuoteAsset != "USDT" {
		t.Errorf("unexpected instrument %+v", btc)
	}
	if btc.OnboardDate.UnixMilli() != 1569398400000 {
		t.Errorf("onboard date = %v", btc.OnboardDate)
	}

	stats, err := src.Stats24h(context.Background())
	if err != nil {
		t.Fatalf("Stats24h: %v", err)
	}
	if len(stats) != 1 || stats[0].QuoteVolume != 12345678.9 {
		t.Errorf("unexpected stats %+v", stats)
	}
}
