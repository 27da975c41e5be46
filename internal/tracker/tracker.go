// Package tracker keeps one sliding price window per installed instrument.
//
// A Tracker is owned by a single goroutine: the ingestion loop is its only
// writer and downstream readers run on the same loop between batches.
package tracker

import (
	"sort"
	"time"

	"github.com/rewired-gh/marketpulse/internal/models"
	"github.com/shopspring/decimal"
)

// DefaultBaseSymbol is the instrument used to denominate the BTC windows.
const DefaultBaseSymbol = "BTCUSDT"

type Config struct {
	WindowSize     int
	SampleInterval time.Duration
	BaseSymbol     string
}

// Tracker maintains USD windows for every installed instrument and
// BTC-denominated windows for every installed instrument except the base.
type Tracker struct {
	config     Config
	interval   int64
	windows    map[string]*Window
	btcWindows map[string]*Window
}

func New(config Config) *Tracker {
	if config.BaseSymbol == "" {
		config.BaseSymbol = DefaultBaseSymbol
	}
	return &Tracker{
		config:     config,
		interval:   config.SampleInterval.Milliseconds(),
		windows:    make(map[string]*Window),
		btcWindows: make(map[string]*Window),
	}
}

// Install starts tracking symbol. Installing a tracked symbol is a no-op.
func (t *Tracker) Install(symbol string) {
	if _, ok := t.windows[symbol]; ok {
		return
	}
	t.windows[symbol] = NewWindow(t.config.WindowSize)
	if symbol != t.config.BaseSymbol {
		t.btcWindows[symbol] = NewWindow(t.config.WindowSize)
	}
}

// Uninstall stops tracking symbol and discards its windows.
func (t *Tracker) Uninstall(symbol string) {
	delete(t.windows, symbol)
	delete(t.btcWindows, symbol)
}

// Tracked reports whether symbol is installed.
func (t *Tracker) Tracked(symbol string) bool {
	_, ok := t.windows[symbol]
	return ok
}

// Installed returns the tracked symbols in lexical order.
func (t *Tracker) Installed() []string {
	symbols := make([]string, 0, len(t.windows))
	for s := range t.windows {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// Sync installs every symbol in want and uninstalls every tracked symbol not in it.
func (t *Tracker) Sync(want []string) (installed, uninstalled []string) {
	keep := make(map[string]bool, len(want))
	for _, s := range want {
		keep[s] = true
		if !t.Tracked(s) {
			t.Install(s)
			installed = append(installed, s)
		}
	}
	for _, s := range t.Installed() {
		if !keep[s] {
			t.Uninstall(s)
			uninstalled = append(uninstalled, s)
		}
	}
	return installed, uninstalled
}

// OnTick applies a single price sample. Untracked symbols are ignored.
func (t *Tracker) OnTick(symbol string, price decimal.Decimal, eventTime int64) {
	w, ok := t.windows[symbol]
	if !ok {
		return
	}
	w.Record(eventTime, price, t.interval)
}

// OnBatch applies a batch of samples, then derives the BTC-denominated samples
// from the newest base price.
func (t *Tracker) OnBatch(ticks []models.PriceTick) {
	for _, tick := range ticks {
		t.OnTick(tick.Symbol, tick.Price, tick.EventTime)
	}

	base, ok := t.basePrice()
	if !ok {
		return
	}
	for _, tick := range ticks {
		w, ok := t.btcWindows[tick.Symbol]
		if !ok {
			continue
		}
		w.Record(tick.EventTime, tick.Price.Div(base), t.interval)
	}
}

func (t *Tracker) basePrice() (decimal.Decimal, bool) {
	w, ok := t.windows[t.config.BaseSymbol]
	if !ok {
		return decimal.Zero, false
	}
	last, ok := w.Last()
	if !ok || last.Price.IsZero() {
		return decimal.Zero, false
	}
	return last.Price, true
}

// Window returns the USD window of symbol.
func (t *Tracker) Window(symbol string) (*Window, bool) {
	w, ok := t.windows[symbol]
	return w, ok
}

// BTCWindow returns the BTC-denominated window of symbol.
func (t *Tracker) BTCWindow(symbol string) (*Window, bool) {
	w, ok := t.btcWindows[symbol]
	return w, ok
}

// BaseSymbol is the instrument the BTC windows are denominated in.
func (t *Tracker) BaseSymbol() string {
	return t.config.BaseSymbol
}
