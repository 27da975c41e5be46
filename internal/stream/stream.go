// Package stream consumes the Binance futures all-market mark price stream.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rewired-gh/marketpulse/internal/logger"
	"github.com/rewired-gh/marketpulse/internal/metrics"
	"github.com/rewired-gh/marketpulse/internal/models"
	"github.com/shopspring/decimal"
)

const (
	DefaultURL       = "wss://fstream.binance.com/ws/!markPrice@arr@1s"
	handshakeTimeout = 10 * time.Second
	closeGrace       = time.Second
)

// ErrStale is returned when no message arrived within the staleness limit.
var ErrStale = errors.New("stream is stale")

// Alerter is notified about sustained connection failures and recovery.
type Alerter interface {
	SendError(err error) error
	SendRecovery(failures int) error
}

// Config tunes the supervisor.
type Config struct {
	URL               string
	WatchdogInterval  time.Duration
	StaleAfter        time.Duration
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	FailureAlertAfter int
}

// markPriceEvent is one element of the !markPrice@arr payload.
// Example: {"e":"markPriceUpdate","E":1562305380000,"s":"BTCUSDT","p":"11794.15000000","i":"11784.62659091","r":"0.00038167","T":1562306400000}
type markPriceEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	MarkPrice string `json:"p"`
}

// Client reconnects forever until its context is cancelled.
type Client struct {
	cfg         Config
	alerter     Alerter
	dialer      websocket.Dialer
	lastMessage atomic.Int64 // unix nanoseconds
	failures    int
}

// New creates a client. alerter may be nil.
func New(cfg Config, alerter Alerter) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.WatchdogInterval <= 0 {
		cfg.WatchdogInterval = 30 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 60 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.FailureAlertAfter <= 0 {
		cfg.FailureAlertAfter = 1
	}
	return &Client{
		cfg:     cfg,
		alerter: alerter,
		dialer:  websocket.Dialer{HandshakeTimeout: handshakeTimeout},
	}
}

// Run delivers parsed batches to out until ctx is cancelled.
func (c *Client) Run(ctx context.Context, out chan<- []models.PriceTick) error {
	backoff := c.cfg.InitialBackoff
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		received, err := c.session(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if received {
			backoff = c.cfg.InitialBackoff
		}
		if err != nil {
			c.failed(err)
		}

		metrics.StreamReconnectsTotal.Inc()
		logger.Warn("Mark price stream disconnected (%v), reconnecting in %v", err, backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
}

func (c *Client) failed(err error) {
	c.failures++
	if c.failures == c.cfg.FailureAlertAfter && c.alerter != nil {
		if sendErr := c.alerter.SendError(fmt.Errorf("mark price stream: %w", err)); sendErr != nil {
			logger.Warn("Failed to send stream error alert: %v", sendErr)
		}
	}
}

func (c *Client) recovered() {
	if c.failures >= c.cfg.FailureAlertAfter && c.alerter != nil {
		if sendErr := c.alerter.SendRecovery(c.failures); sendErr != nil {
			logger.Warn("Failed to send stream recovery alert: %v", sendErr)
		}
	}
	c.failures = 0
}

// session runs one connection. It reports whether any message was received.
// The connection is closed and its reader has exited when session returns.
func (c *Client) session(ctx context.Context, out chan<- []models.PriceTick) (bool, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to dial: %w", err)
	}
	logger.Info("Connected to mark price stream %s", c.cfg.URL)
	c.touch()
	conn.SetReadLimit(4 << 20)

	first := make(chan struct{})
	readErr := make(chan error, 1)
	go func() {
		readErr <- c.read(ctx, conn, out, first)
	}()

	ticker := time.NewTicker(c.cfg.WatchdogInterval)
	defer ticker.Stop()

	received := false
	done := func(err error) (bool, error) {
		if !received {
			select {
			case <-first:
				received = true
				c.recovered()
			default:
			}
		}
		return received, err
	}

	for {
		select {
		case <-first:
			first = nil
			received = true
			c.recovered()
		case err := <-readErr:
			_ = conn.Close()
			return done(err)
		case <-ctx.Done():
			shutdown(conn)
			<-readErr
			return done(nil)
		case <-ticker.C:
			if idle := c.SinceLastMessage(); idle > c.cfg.StaleAfter {
				logger.Warn("No stream message for %v, tearing down connection", idle.Truncate(time.Second))
				shutdown(conn)
				<-readErr
				return done(ErrStale)
			}
		}
	}
}

// shutdown sends a close frame and closes the socket, unblocking the reader.
func shutdown(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
	_ = conn.Close()
}

// read closes first after the first message.
func (c *Client) read(ctx context.Context, conn *websocket.Conn, out chan<- []models.PriceTick, first chan struct{}) error {
	signalled := false
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.touch()
		if !signalled {
			close(first)
			signalled = true
		}
		metrics.StreamMessagesTotal.Inc()

		batch := ParseBatch(message)
		if len(batch) == 0 {
			continue
		}
		select {
		case out <- batch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) touch() {
	c.lastMessage.Store(time.Now().UnixNano())
}

// SinceLastMessage reports how long ago the last message arrived.
func (c *Client) SinceLastMessage() time.Duration {
	return time.Since(time.Unix(0, c.lastMessage.Load()))
}

// ParseBatch decodes a mark price payload. It accepts an array or a single
// event; malformed entries are dropped.
func ParseBatch(message []byte) []models.PriceTick {
	var raw []json.RawMessage
	if err := json.Unmarshal(message, &raw); err != nil {
		raw = []json.RawMessage{message}
	}

	ticks := make([]models.PriceTick, 0, len(raw))
	for _, item := range raw {
		var ev markPriceEvent
		if err := json.Unmarshal(item, &ev); err != nil {
			continue
		}
		if ev.Symbol == "" || ev.EventTime <= 0 {
			continue
		}
		price, err := decimal.NewFromString(ev.MarkPrice)
		if err != nil || !price.IsPositive() {
			continue
		}
		ticks = append(ticks, models.PriceTick{Symbol: ev.Symbol, Price: price, EventTime: ev.EventTime})
	}
	return ticks
}
