// Package metrics exposes Prometheus collectors for the engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	StreamMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "marketpulse_stream_messages_total", Help: "Mark price batches received"},
	)
	StreamReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "marketpulse_stream_reconnects_total", Help: "Stream reconnect attempts"},
	)
	MarketDirection = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "marketpulse_market_direction", Help: "Consensus directional state, -2..2"},
	)
	InstalledInstruments = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "marketpulse_installed_instruments", Help: "Instruments currently tracked"},
	)
	ReversalScore = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "marketpulse_reversal_score", Help: "Latest global score of the active session"},
	)
	ReversalEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "marketpulse_reversal_events_total", Help: "Reversal events issued"},
		[]string{"kind"},
	)
	ReversalSessionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "marketpulse_reversal_sessions_total", Help: "Reversal sessions opened"},
	)
)

func init() {
	prometheus.MustRegister(
		StreamMessagesTotal,
		StreamReconnectsTotal,
		MarketDirection,
		InstalledInstruments,
		ReversalScore,
		ReversalEventsTotal,
		ReversalSessionsTotal,
	)
}

// Serve starts the /metrics listener in the background.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
