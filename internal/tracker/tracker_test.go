package tracker

import (
	"testing"
	"time"

	"github.com/rewired-gh/marketpulse/internal/models"
	"github.com/shopspring/decimal"
)

func newTestTracker(t *testing.T, size int) *Tracker {
	t.Helper()
	return New(Config{WindowSize: size, SampleInterval: 3 * time.Second})
}

func TestWindow_SlidesOnceFull(t *testing.T) {
	w := NewWindow(5)
	for i := 0; i < 12; i++ {
		w.Record(int64(i)*3000, decimal.NewFromInt(int64(100+i)), 3000)
	}
	if w.Len() != 5 || !w.Full() {
		t.Fatalf("len = %d, full = %v, want 5 and full", w.Len(), w.Full())
	}
	points := w.Points()
	for i, p := range points {
		wantTs := int64(7+i) * 3000
		if p.Timestamp != wantTs {
			t.Errorf("points[%d].Timestamp = %d, want %d", i, p.Timestamp, wantTs)
		}
		if !p.Price.Equal(decimal.NewFromInt(int64(107 + i))) {
			t.Errorf("points[%d].Price = %s, want %d", i, p.Price, 107+i)
		}
	}
}

func TestWindow_OverwritesWithinInterval(t *testing.T) {
	w := NewWindow(5)
	w.Record(1000, decimal.NewFromInt(10), 3000)
	if appended := w.Record(2500, decimal.NewFromInt(11), 3000); appended {
		t.Error("tick inside the interval should not append")
	}
	if w.Len() != 1 {
		t.Fatalf("len = %d, want 1", w.Len())
	}
	last, _ := w.Last()
	if last.Timestamp != 1000 || !last.Price.Equal(decimal.NewFromInt(11)) {
		t.Errorf("last = %+v, want ts 1000 price 11", last)
	}

	if appended := w.Record(4000, decimal.NewFromInt(12), 3000); !appended {
		t.Error("tick after the interval should append")
	}
	if w.Len() != 2 {
		t.Errorf("len = %d, want 2", w.Len())
	}
}

func TestWindow_IgnoresOlderSamples(t *testing.T) {
	w := NewWindow(3)
	w.Record(10_000, decimal.NewFromInt(10), 3000)
	w.Record(5_000, decimal.NewFromInt(99), 3000)
	last, _ := w.Last()
	if !last.Price.Equal(decimal.NewFromInt(10)) {
		t.Errorf("older sample overwrote price: %s", last.Price)
	}
}

func TestWindow_OverwriteAfterWrap(t *testing.T) {
	w := NewWindow(3)
	for i := 0; i < 4; i++ {
		w.Record(int64(i)*3000, decimal.NewFromInt(int64(i)), 3000)
	}
	w.Record(9000+100, decimal.NewFromInt(42), 3000)
	points := w.Points()
	if got := points[len(points)-1].Price; !got.Equal(decimal.NewFromInt(42)) {
		t.Errorf("newest price = %s, want 42", got)
	}
	if points[0].Timestamp != 3000 {
		t.Errorf("oldest ts = %d, want 3000", points[0].Timestamp)
	}
}

func TestTracker_IgnoresUntrackedSymbols(t *testing.T) {
	tr := newTestTracker(t, 10)
	tr.OnTick("ETHUSDT", decimal.NewFromInt(2000), 1000)
	if tr.Tracked("ETHUSDT") {
		t.Fatal("tick must not install a symbol")
	}
	if _, ok := tr.Window("ETHUSDT"); ok {
		t.Error("untracked symbol should have no window")
	}
}

func TestTracker_InstallUninstall(t *testing.T) {
	tr := newTestTracker(t, 10)
	tr.Install("BTCUSDT")
	tr.Install("ETHUSDT")
	tr.OnTick("ETHUSDT", decimal.NewFromInt(2000), 1000)

	w, _ := tr.Window("ETHUSDT")
	if w.Len() != 1 {
		t.Fatalf("len = %d, want 1", w.Len())
	}

	// reinstalling keeps the window
	tr.Install("ETHUSDT")
	w, _ = tr.Window("ETHUSDT")
	if w.Len() != 1 {
		t.Errorf("reinstall reset the window")
	}

	if _, ok := tr.BTCWindow("BTCUSDT"); ok {
		t.Error("base symbol must not have a BTC window")
	}

	tr.Uninstall("ETHUSDT")
	if tr.Tracked("ETHUSDT") {
		t.Error("ETHUSDT still tracked after uninstall")
	}
	if _, ok := tr.BTCWindow("ETHUSDT"); ok {
		t.Error("BTC window survived uninstall")
	}
}

func TestTracker_Sync(t *testing.T) {
	tr := newTestTracker(t, 10)
	tr.Install("BTCUSDT")
	tr.Install("XRPUSDT")

	installed, uninstalled := tr.Sync([]string{"BTCUSDT", "ETHUSDT"})
	if len(installed) != 1 || installed[0] != "ETHUSDT" {
		t.Errorf("installed = %v, want [ETHUSDT]", installed)
	}
	if len(uninstalled) != 1 || uninstalled[0] != "XRPUSDT" {
		t.Errorf("uninstalled = %v, want [XRPUSDT]", uninstalled)
	}
	got := tr.Installed()
	if len(got) != 2 || got[0] != "BTCUSDT" || got[1] != "ETHUSDT" {
		t.Errorf("Installed() = %v", got)
	}
}

func TestTracker_BTCDenominatedWindows(t *testing.T) {
	tr := newTestTracker(t, 10)
	tr.Install("BTCUSDT")
	tr.Install("ETHUSDT")

	tr.OnBatch([]models.PriceTick{
		{Symbol: "BTCUSDT", Price: decimal.NewFromInt(50000), EventTime: 1000},
		{Symbol: "ETHUSDT", Price: decimal.NewFromInt(2500), EventTime: 1000},
		{Symbol: "DOGEUSDT", Price: decimal.NewFromFloat(0.1), EventTime: 1000},
	})

	w, ok := tr.BTCWindow("ETHUSDT")
	if !ok {
		t.Fatal("missing BTC window for ETHUSDT")
	}
	last, ok := w.Last()
	if !ok {
		t.Fatal("BTC window empty")
	}
	if !last.Price.Equal(decimal.NewFromFloat(0.05)) {
		t.Errorf("ETH/BTC = %s, want 0.05", last.Price)
	}
}

func TestTracker_BTCWindowsWaitForBasePrice(t *testing.T) {
	tr := newTestTracker(t, 10)
	tr.Install("BTCUSDT")
	tr.Install("ETHUSDT")

	tr.OnBatch([]models.PriceTick{{Symbol: "ETHUSDT", Price: decimal.NewFromInt(2500), EventTime: 1000}})

	w, _ := tr.BTCWindow("ETHUSDT")
	if w.Len() != 0 {
		t.Errorf("BTC window recorded without a base price")
	}
}
