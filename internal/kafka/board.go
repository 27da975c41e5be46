package kafka

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rewired-gh/marketpulse/internal/models"
)

// keyZoneMessage is the wire form of a KeyZone contact update.
type keyZoneMessage struct {
	Active   bool    `json:"active"`
	EventID  int64   `json:"event_id"`
	Kind     string  `json:"kind"`
	ZoneID   int64   `json:"zone_id"`
	PriceMin float64 `json:"price_min"`
	PriceMax float64 `json:"price_max"`
}

// Board holds the latest KeyZone contact and market signals, read once per market tick.
type Board struct {
	mu        sync.RWMutex
	keyZone   models.KeyZoneContact
	signals   models.MarketSignals
	updatedAt time.Time
}

func NewBoard() *Board {
	return &Board{}
}

// Snapshot returns the current inputs.
func (b *Board) Snapshot() (models.KeyZoneContact, models.MarketSignals) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.keyZone, b.signals
}

// UpdatedAt is the time of the last accepted message.
func (b *Board) UpdatedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updatedAt
}

func (b *Board) SetKeyZone(kz models.KeyZoneContact) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keyZone = kz
	b.updatedAt = time.Now()
}

func (b *Board) SetSignals(s models.MarketSignals) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.signals = s
	b.updatedAt = time.Now()
}

// HandleKeyZone decodes and applies a KeyZone message.
func (b *Board) HandleKeyZone(value []byte) error {
	var msg keyZoneMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal keyzone message: %w", err)
	}
	kz := models.KeyZoneContact{Active: msg.Active}
	if msg.Active {
		if msg.EventID <= 0 {
			return fmt.Errorf("active keyzone message without event_id")
		}
		kind, err := models.ParseReversalKind(msg.Kind)
		if err != nil || kind == models.KindNone {
			return fmt.Errorf("active keyzone message with invalid kind %q", msg.Kind)
		}
		kz.EventID = msg.EventID
		kz.Kind = kind
		kz.ZoneID = msg.ZoneID
		kz.PriceMin = msg.PriceMin
		kz.PriceMax = msg.PriceMax
	}
	b.SetKeyZone(kz)
	return nil
}

// HandleSignals decodes and applies a volume/liquidity message.
func (b *Board) HandleSignals(value []byte) error {
	var s models.MarketSignals
	if err := json.Unmarshal(value, &s); err != nil {
		return fmt.Errorf("failed to unmarshal signals message: %w", err)
	}
	if s.VolumeIntensity < 0 || s.VolumeIntensity > 3 {
		return fmt.Errorf("volume_intensity %d out of range", s.VolumeIntensity)
	}
	if s.BidLiquidityPower < 0 || s.BidLiquidityPower > 100 {
		return fmt.Errorf("bid_liquidity_power %v out of range", s.BidLiquidityPower)
	}
	b.SetSignals(s)
	return nil
}
