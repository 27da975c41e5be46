// Package reversal implements the reversal event state machine. A session is
// opened by an active KeyZone contact, scored once per market tick and closed,
// persisted and reset when the contact ends.
package reversal

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rewired-gh/marketpulse/internal/logger"
	"github.com/rewired-gh/marketpulse/internal/models"
	"github.com/rewired-gh/marketpulse/internal/scoring"
	"github.com/rewired-gh/marketpulse/internal/storage"
)

// Store is the persistence collaborator.
type Store interface {
	SaveConfiguration(cfg *models.ReversalConfiguration) error
	LoadConfiguration() (*models.ReversalConfiguration, error)
	SaveSession(state *models.ReversalState, coins *models.ReversalCoinsStates) error
	GetSessionByID(id int64) (*models.ReversalState, *models.ReversalCoinsStates, error)
}

// Tick is the input of one market tick.
type Tick struct {
	KeyZone        models.KeyZoneContact
	Signals        models.MarketSignals
	Instruments    map[string]models.SplitStateSet
	BTCInstruments map[string]models.SplitStateSet
}

// Outcome reports what a tick did to the session.
type Outcome struct {
	Opened int64 // id of a session opened by this tick
	Closed int64 // id of a session closed by this tick
	Scored bool
	Score  float64
	Event  *models.ReversalNotification
}

// Options tune a Machine. Zero values select defaults.
type Options struct {
	Now            func() time.Time
	Rand           *rand.Rand
	Initial        models.ReversalConfiguration
	PersistRetries int
	RetryDelayBase time.Duration
}

// session holds everything that exists only while a session is active.
type session struct {
	state       models.ReversalState
	coins       models.ReversalCoinsStates
	requirement float64
}

// Machine is safe for concurrent use. OnMarketTick is expected to be called
// from a single loop; reads may come from any goroutine.
type Machine struct {
	mu       sync.Mutex
	store    Store
	notifier Notifier
	cfg      models.ReversalConfiguration
	active   *session

	now            func() time.Time
	rng            *rand.Rand
	persistRetries int
	retryDelayBase time.Duration
	wg             sync.WaitGroup
}

// New loads the persisted configuration, falling back to opts.Initial (or the
// built-in defaults) and persisting it when none exists yet.
func New(store Store, notifier Notifier, opts Options) (*Machine, error) {
	m := &Machine{
		store:          store,
		notifier:       notifier,
		now:            opts.Now,
		rng:            opts.Rand,
		persistRetries: opts.PersistRetries,
		retryDelayBase: opts.RetryDelayBase,
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.rng == nil {
		m.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if m.persistRetries <= 0 {
		m.persistRetries = 3
	}
	if m.retryDelayBase <= 0 {
		m.retryDelayBase = time.Second
	}

	cfg, err := store.LoadConfiguration()
	switch {
	case err == nil:
		m.cfg = *cfg
	case errors.Is(err, storage.ErrNotFound):
		initial := opts.Initial
		if initial == (models.ReversalConfiguration{}) {
			initial = models.DefaultReversalConfiguration()
		}
		if err := store.SaveConfiguration(&initial); err != nil {
			return nil, fmt.Errorf("failed to save initial configuration: %w", err)
		}
		m.cfg = initial
	default:
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := m.cfg.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// OnMarketTick advances the state machine by one tick.
func (m *Machine) OnMarketTick(tick Tick) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out Outcome
	zone := tick.KeyZone
	if m.active != nil {
		if zone.Active && zone.EventID == m.active.state.ID {
			m.update(tick, &out)
			return out
		}
		out.Closed = m.close(tick)
	}
	if zone.Active && zone.EventID != 0 {
		m.open(tick)
		out.Opened = zone.EventID
	}
	return out
}

func (m *Machine) open(tick Tick) {
	kind := models.KindResistance
	if tick.KeyZone.Kind == models.KindSupport {
		kind = models.KindSupport
	}
	state := models.IdleReversalState()
	state.ID = tick.KeyZone.EventID
	state.Kind = kind
	state.KeyZone = tick.KeyZone

	m.active = &session{
		state: state,
		coins: models.ReversalCoinsStates{
			ID:      state.ID,
			Initial: models.CompressAll(tick.Instruments),
		},
		requirement: m.cfg.Requirement(kind),
	}
	logger.Info("Reversal session %d opened (%s, requirement %.1f)", state.ID, kind, m.active.requirement)
}

func (m *Machine) update(tick Tick, out *Outcome) {
	s := m.active
	kind := s.state.Kind
	w := m.cfg.ScoreWeights

	volume := scoring.Volume(tick.Signals.VolumeIntensity, w.Volume)
	liquidity := scoring.Liquidity(tick.Signals.BidLiquidityPower, kind, w.Liquidity)
	coins := scoring.Instruments(tick.Instruments, kind, w.Coins)
	coinsBTC := scoring.Instruments(tick.BTCInstruments, kind, w.CoinsBTC)
	global := volume + liquidity + coins + coinsBTC

	h := &s.state.Scores
	h.Global = append(h.Global, global)
	h.Volume = append(h.Volume, volume)
	h.Liquidity = append(h.Liquidity, liquidity)
	h.Coins = append(h.Coins, coins)
	h.CoinsBTC = append(h.CoinsBTC, coinsBTC)
	out.Scored = true
	out.Score = global

	logger.Debug("Reversal session %d score %.2f (volume %.2f, liquidity %.2f, coins %.2f, coins btc %.2f)",
		s.state.ID, global, volume, liquidity, coins, coinsBTC)

	if s.state.Event != nil || global < s.requirement {
		return
	}

	current := models.CompressAll(tick.Instruments)
	compliant := compliantSymbols(s.coins.Initial, current, kind)
	if len(compliant) == 0 {
		logger.Debug("Reversal session %d reached %.2f but no instrument is compliant", s.state.ID, global)
		return
	}
	compliant = orderSymbols(compliant, s.coins.Initial, kind, m.cfg.EventSortFunction, m.rng)

	issuedAt := m.now().UnixMilli()
	s.state.Event = &models.ReversalEvent{IssuedAt: issuedAt, CompliantSymbols: compliant}
	s.coins.Event = current

	n := models.ReversalNotification{
		SessionID:        s.state.ID,
		Kind:             kind,
		Score:            global,
		CompliantSymbols: append([]string(nil), compliant...),
		IssuedAt:         issuedAt,
	}
	out.Event = &n
	logger.Info("Reversal event issued for session %d: %s score %.2f, %d compliant symbols",
		s.state.ID, kind, global, len(compliant))

	if m.notifier != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if err := m.notifier.NotifyReversal(n); err != nil {
				logger.Error("Failed to deliver reversal notification for session %d: %v", n.SessionID, err)
			}
		}()
	}
}

// close finalizes the active session and resets to idle. Persistence runs in
// the background and never blocks the reset.
func (m *Machine) close(tick Tick) int64 {
	s := m.active
	m.active = nil

	endedAt := m.now().UnixMilli()
	s.state.EndedAt = &endedAt
	s.coins.Final = models.CompressAll(tick.Instruments)

	logger.Info("Reversal session %d closed after %d ticks (event issued: %t)",
		s.state.ID, s.state.Scores.Len(), s.state.Event != nil)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.persist(&s.state, &s.coins)
	}()
	return s.state.ID
}

func (m *Machine) persist(state *models.ReversalState, coins *models.ReversalCoinsStates) {
	var err error
	for attempt := 0; attempt < m.persistRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(m.retryDelayBase * time.Duration(attempt))
		}
		if err = m.store.SaveSession(state, coins); err == nil {
			return
		}
		logger.Warn("Failed to persist reversal session %d (attempt %d/%d): %v",
			state.ID, attempt+1, m.persistRetries, err)
	}
	logger.Error("Giving up on reversal session %d: %v", state.ID, err)
}

// Wait blocks until background persistence and notification calls finish.
func (m *Machine) Wait() {
	m.wg.Wait()
}

// State returns a copy of the active session, or the idle state.
func (m *Machine) State() models.ReversalState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return models.IdleReversalState()
	}
	return cloneState(m.active.state)
}

// Configuration returns the current configuration.
func (m *Machine) Configuration() models.ReversalConfiguration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// UpdateConfiguration validates, persists and applies cfg. An active session
// keeps the requirement selected when it opened.
func (m *Machine) UpdateConfiguration(cfg models.ReversalConfiguration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.SaveConfiguration(&cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	m.cfg = cfg
	logger.Info("Reversal configuration updated: support %.1f, resistance %.1f, sort %s",
		cfg.SupportScoreRequirement, cfg.ResistanceScoreRequirement, cfg.EventSortFunction)
	return nil
}

// GetSession returns a session by id, from memory when it is the active one.
func (m *Machine) GetSession(id int64) (*models.ReversalState, *models.ReversalCoinsStates, error) {
	if id == 0 {
		return nil, nil, fmt.Errorf("session 0: %w", storage.ErrNotFound)
	}
	m.mu.Lock()
	if m.active != nil && m.active.state.ID == id {
		state := cloneState(m.active.state)
		coins := cloneCoins(m.active.coins)
		m.mu.Unlock()
		return &state, &coins, nil
	}
	m.mu.Unlock()
	return m.store.GetSessionByID(id)
}

func cloneState(s models.ReversalState) models.ReversalState {
	out := s
	out.Scores = models.ScoreHistory{
		Global:    append([]float64{}, s.Scores.Global...),
		Volume:    append([]float64{}, s.Scores.Volume...),
		Liquidity: append([]float64{}, s.Scores.Liquidity...),
		Coins:     append([]float64{}, s.Scores.Coins...),
		CoinsBTC:  append([]float64{}, s.Scores.CoinsBTC...),
	}
	if s.Event != nil {
		ev := *s.Event
		ev.CompliantSymbols = append([]string{}, s.Event.CompliantSymbols...)
		out.Event = &ev
	}
	if s.EndedAt != nil {
		ended := *s.EndedAt
		out.EndedAt = &ended
	}
	return out
}

// cloneCoins copies the outer maps; snapshot values are never mutated after capture.
func cloneCoins(c models.ReversalCoinsStates) models.ReversalCoinsStates {
	cp := func(in map[string]models.CompressedInstrumentState) map[string]models.CompressedInstrumentState {
		if in == nil {
			return nil
		}
		out := make(map[string]models.CompressedInstrumentState, len(in))
		for k, v := range in {
			out[k] = v
		}
		return out
	}
	return models.ReversalCoinsStates{ID: c.ID, Initial: cp(c.Initial), Event: cp(c.Event), Final: cp(c.Final)}
}
