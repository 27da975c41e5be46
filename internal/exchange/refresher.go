// Package exchange maintains the set of supported instruments and decides
// which of them are installed in the tracker.
package exchange

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rewired-gh/marketpulse/internal/logger"
)

const (
	statusTrading      = "TRADING"
	contractPerpetual  = "PERPETUAL"
	defaultMaxRetries  = 3
	defaultRetryDelay  = 2 * time.Second
	defaultRefreshRate = 6 * time.Hour
)

// Config controls eligibility and selection.
type Config struct {
	QuoteAsset      string
	MinAgeDays      int
	MaxInstruments  int
	AlwaysInclude   []string
	RefreshInterval time.Duration
	MaxRetries      int
	RetryDelayBase  time.Duration
}

// Supported is an eligible instrument and its score in [0,100].
type Supported struct {
	Symbol string  `json:"symbol"`
	Score  float64 `json:"score"`
}

// Refresher periodically recomputes the supported and installed sets. It never
// touches price windows; the installed set is handed to the engine loop.
type Refresher struct {
	source Source
	cfg    Config
	now    func() time.Time

	mu        sync.RWMutex
	supported []Supported
}

func NewRefresher(source Source, cfg Config) *Refresher {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = defaultRetryDelay
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaultRefreshRate
	}
	return &Refresher{source: source, cfg: cfg, now: time.Now}
}

// Run refreshes immediately and then on every interval, sending each new
// installed set to out. Failed refreshes keep the previous set.
func (r *Refresher) Run(ctx context.Context, out chan<- []string) {
	ticker := time.NewTicker(r.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		installed, err := r.Refresh(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("Instrument refresh failed, keeping previous set: %v", err)
		} else {
			select {
			case out <- installed:
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Refresh fetches reference data with bounded retries and returns the installed set.
func (r *Refresher) Refresh(ctx context.Context) ([]string, error) {
	var instruments []Instrument
	if err := r.retry(ctx, "exchange info", func() (err error) {
		instruments, err = r.source.Instruments(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	var stats []Stat
	if err := r.retry(ctx, "24h stats", func() (err error) {
		stats, err = r.source.Stats24h(ctx)
		return err
	}); err != nil {
		return nil, err
	}

	eligible := make([]string, 0, len(instruments))
	for _, in := range instruments {
		if Eligible(in, r.cfg.QuoteAsset, r.cfg.MinAgeDays, r.now()) {
			eligible = append(eligible, in.Symbol)
		}
	}
	supported := Score(eligible, stats)
	installed := Select(supported, r.cfg.MaxInstruments, r.cfg.AlwaysInclude)

	r.mu.Lock()
	r.supported = supported
	r.mu.Unlock()

	logger.Info("Instrument refresh: %d listed, %d supported, %d installed",
		len(instruments), len(supported), len(installed))
	return installed, nil
}

func (r *Refresher) retry(ctx context.Context, what string, fn func() error) error {
	var lastErr error
	for i := 0; i < r.cfg.MaxRetries; i++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		logger.Warn("Failed to fetch %s (attempt %d/%d): %v", what, i+1, r.cfg.MaxRetries, lastErr)
		if i == r.cfg.MaxRetries-1 {
			break
		}
		select {
		case <-time.After(r.cfg.RetryDelayBase * time.Duration(i+1)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("max retries exceeded for %s: %w", what, lastErr)
}

// Supported returns the latest supported instruments, best score first.
func (r *Refresher) Supported() []Supported {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Supported(nil), r.supported...)
}

// Eligible reports whether an instrument can be supported.
func Eligible(in Instrument, quoteAsset string, minAgeDays int, now time.Time) bool {
	if in.Status != statusTrading || in.ContractType != contractPerpetual {
		return false
	}
	if in.QuoteAsset != quoteAsset {
		return false
	}
	age := now.Sub(in.OnboardDate)
	return age >= time.Duration(minAgeDays)*24*time.Hour
}

// Score ranks eligible symbols by 24h quote volume. The most traded symbol
// scores 100 and the score falls linearly with rank. Symbols without stats
// rank last.
func Score(eligible []string, stats []Stat) []Supported {
	volume := make(map[string]float64, len(stats))
	for _, s := range stats {
		volume[s.Symbol] = s.QuoteVolume
	}
	ranked := append([]string(nil), eligible...)
	sort.SliceStable(ranked, func(i, j int) bool {
		vi, vj := volume[ranked[i]], volume[ranked[j]]
		if vi != vj {
			return vi > vj
		}
		return ranked[i] < ranked[j]
	})

	n := float64(len(ranked))
	out := make([]Supported, len(ranked))
	for i, symbol := range ranked {
		out[i] = Supported{Symbol: symbol, Score: 100 * (n - float64(i)) / n}
	}
	return out
}

// Select returns the top limit supported symbols plus always, sorted by name.
func Select(supported []Supported, limit int, always []string) []string {
	set := make(map[string]struct{}, limit+len(always))
	for i, s := range supported {
		if i >= limit {
			break
		}
		set[s.Symbol] = struct{}{}
	}
	for _, s := range always {
		set[s] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
