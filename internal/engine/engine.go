// Package engine runs the single loop that owns the price windows: it applies
// stream batches and instrument-set updates, and on every market tick
// classifies the windows, aggregates the market direction and drives the
// reversal state machine.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rewired-gh/marketpulse/internal/logger"
	"github.com/rewired-gh/marketpulse/internal/marketstate"
	"github.com/rewired-gh/marketpulse/internal/metrics"
	"github.com/rewired-gh/marketpulse/internal/models"
	"github.com/rewired-gh/marketpulse/internal/reversal"
	"github.com/rewired-gh/marketpulse/internal/tracker"
)

type Config struct {
	WindowSize        int
	SampleInterval    time.Duration
	TickInterval      time.Duration
	Requirement       float64
	StrongRequirement float64
	BaseSymbol        string
}

// Inputs supplies the KeyZone contact and market signals for a tick.
type Inputs interface {
	Snapshot() (models.KeyZoneContact, models.MarketSignals)
}

// Machine is the reversal state machine as seen by the engine.
type Machine interface {
	OnMarketTick(tick reversal.Tick) reversal.Outcome
}

// Snapshot is the market state published after each tick. It is never
// mutated once published.
type Snapshot struct {
	Time           int64                             `json:"time"`
	Direction      models.DirectionalState           `json:"direction"`
	Installed      int                               `json:"installed"`
	Ready          int                               `json:"ready"`
	Instruments    map[string]models.InstrumentState `json:"instruments"`
	BTCInstruments map[string]models.SplitStateSet   `json:"btc_instruments"`
}

type Engine struct {
	config     Config
	thresholds marketstate.Thresholds
	tracker    *tracker.Tracker
	machine    Machine
	inputs     Inputs
	now        func() time.Time

	mu       sync.RWMutex
	snapshot Snapshot
}

func New(config Config, machine Machine, inputs Inputs) *Engine {
	return &Engine{
		config:     config,
		thresholds: marketstate.NewThresholds(config.Requirement, config.StrongRequirement),
		tracker: tracker.New(tracker.Config{
			WindowSize:     config.WindowSize,
			SampleInterval: config.SampleInterval,
			BaseSymbol:     config.BaseSymbol,
		}),
		machine: machine,
		inputs:  inputs,
		now:     time.Now,
		snapshot: Snapshot{
			Instruments:    map[string]models.InstrumentState{},
			BTCInstruments: map[string]models.SplitStateSet{},
		},
	}
}

// Run processes inputs until ctx is cancelled. It is the only goroutine that
// touches the tracker.
func (e *Engine) Run(ctx context.Context, batches <-chan []models.PriceTick, instruments <-chan []string) error {
	ticker := time.NewTicker(e.config.TickInterval)
	defer ticker.Stop()

	logger.Info("Engine started (window %d x %v, tick %v)",
		e.config.WindowSize, e.config.SampleInterval, e.config.TickInterval)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Engine stopped")
			return ctx.Err()
		case batch := <-batches:
			e.tracker.OnBatch(batch)
		case set := <-instruments:
			e.applyInstruments(set)
		case <-ticker.C:
			e.Tick()
		}
	}
}

func (e *Engine) applyInstruments(set []string) {
	installed, uninstalled := e.tracker.Sync(set)
	metrics.InstalledInstruments.Set(float64(len(e.tracker.Installed())))
	if len(installed) > 0 || len(uninstalled) > 0 {
		logger.Info("Instrument set updated: %d installed, %d uninstalled", len(installed), len(uninstalled))
		logger.Debug("Installed %v, uninstalled %v", installed, uninstalled)
	}
}

// Tick runs one market tick. It must be called from the goroutine that owns the tracker.
func (e *Engine) Tick() reversal.Outcome {
	installed := e.tracker.Installed()
	states := make(map[string]models.InstrumentState, len(installed))
	splits := make(map[string]models.SplitStateSet, len(installed))
	btcSplits := make(map[string]models.SplitStateSet, len(installed))
	overall := make([]models.DirectionalState, 0, len(installed))

	for _, symbol := range installed {
		st := models.NewInstrumentState()
		if w, ok := e.tracker.Window(symbol); ok {
			if evaluated, ready := marketstate.Evaluate(w, e.thresholds); ready {
				st = evaluated
				st.Window = nil
				splits[symbol] = st.Splits
				overall = append(overall, st.Overall)
			}
		}
		states[symbol] = st

		if w, ok := e.tracker.BTCWindow(symbol); ok {
			if evaluated, ready := marketstate.Evaluate(w, e.thresholds); ready {
				btcSplits[symbol] = evaluated.Splits
			}
		}
	}
	direction := marketstate.Aggregate(overall)

	var out reversal.Outcome
	if e.machine != nil {
		keyZone, signals := e.inputs.Snapshot()
		out = e.machine.OnMarketTick(reversal.Tick{
			KeyZone:        keyZone,
			Signals:        signals,
			Instruments:    splits,
			BTCInstruments: btcSplits,
		})
	}

	metrics.MarketDirection.Set(float64(direction))
	if out.Opened != 0 {
		metrics.ReversalSessionsTotal.Inc()
	}
	if out.Scored {
		metrics.ReversalScore.Set(out.Score)
	} else if out.Closed != 0 && out.Opened == 0 {
		metrics.ReversalScore.Set(0)
	}
	if out.Event != nil {
		metrics.ReversalEventsTotal.WithLabelValues(out.Event.Kind.String()).Inc()
	}

	e.mu.Lock()
	e.snapshot = Snapshot{
		Time:           e.now().UnixMilli(),
		Direction:      direction,
		Installed:      len(installed),
		Ready:          len(splits),
		Instruments:    states,
		BTCInstruments: btcSplits,
	}
	e.mu.Unlock()

	logger.Debug("Market tick: direction %s, %d/%d instruments ready", direction, len(splits), len(installed))
	return out
}

// Snapshot returns the latest published market state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshot
}
