package models

import "github.com/shopspring/decimal"

// KeyZoneContact is the KeyZone subsystem's view of the current price, evaluated once per market tick.
type KeyZoneContact struct {
	Active   bool         `json:"active"`
	EventID  int64        `json:"event_id"`
	Kind     ReversalKind `json:"kind"`
	ZoneID   int64        `json:"zone_id,omitempty"`
	PriceMin float64      `json:"price_min,omitempty"`
	PriceMax float64      `json:"price_max,omitempty"`
}

// MarketSignals are the volume and order-book readings supplied per tick.
type MarketSignals struct {
	// VolumeIntensity is 0 (none) to 3 (very high).
	VolumeIntensity int `json:"volume_intensity"`
	// BidLiquidityPower is the buy-side share of order-book liquidity, 0..100.
	BidLiquidityPower float64 `json:"bid_liquidity_power"`
}

// PriceTick is one entry of an inbound mark-price batch.
type PriceTick struct {
	Symbol    string
	Price     decimal.Decimal
	EventTime int64 // unix milliseconds
}
