package exchange

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
)

// Instrument is the subset of exchange info the refresher consumes.
type Instrument struct {
	Symbol       string
	Status       string
	ContractType string
	QuoteAsset   string
	OnboardDate  time.Time
}

// Stat is a 24h rolling statistic for one symbol.
type Stat struct {
	Symbol      string
	QuoteVolume float64
}

// Source provides reference data.
type Source interface {
	Instruments(ctx context.Context) ([]Instrument, error)
	Stats24h(ctx context.Context) ([]Stat, error)
}

// BinanceSource reads USDⓈ-M futures reference data. Only public endpoints are used.
type BinanceSource struct {
	client *futures.Client
}

// NewBinanceSource creates a source. An empty baseURL keeps the library default.
func NewBinanceSource(baseURL string, timeout time.Duration) *BinanceSource {
	client := futures.NewClient("", "")
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &BinanceSource{client: client}
}

func (b *BinanceSource) Instruments(ctx context.Context) ([]Instrument, error) {
	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch exchange info: %w", err)
	}
	out := make([]Instrument, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		out = append(out, Instrument{
			Symbol:       s.Symbol,
			Status:       s.Status,
			ContractType: string(s.ContractType),
			QuoteAsset:   s.QuoteAsset,
			OnboardDate:  time.UnixMilli(s.OnboardDate),
		})
	}
	return out, nil
}

func (b *BinanceSource) Stats24h(ctx context.Context) ([]Stat, error) {
	stats, err := b.client.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch 24h stats: %w", err)
	}
	out := make([]Stat, 0, len(stats))
	for _, s := range stats {
		qv, err := strconv.ParseFloat(s.QuoteVolume, 64)
		if err != nil {
			continue
		}
		out = append(out, Stat{Symbol: s.Symbol, QuoteVolume: qv})
	}
	return out, nil
}
