package tracker

import (
	"github.com/rewired-gh/marketpulse/internal/models"
	"github.com/shopspring/decimal"
)

// Window is a fixed-capacity circular buffer of price points in time order.
// Once full, every append evicts the oldest point.
type Window struct {
	data     []models.PricePoint
	capacity int
	head     int // index of the next write
	size     int
}

// NewWindow creates an empty window holding at most capacity points.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{
		data:     make([]models.PricePoint, capacity),
		capacity: capacity,
	}
}

func (w *Window) Len() int { return w.size }
func (w *Window) Cap() int { return w.capacity }
func (w *Window) Full() bool { return w.size == w.capacity }

// Last returns the newest point.
func (w *Window) Last() (models.PricePoint, bool) {
	if w.size == 0 {
		return models.PricePoint{}, false
	}
	return w.data[w.lastIndex()], true
}

// Record applies a sample. A sample inside the current interval replaces the
// newest point's price; a later one is appended. Samples older than the newest
// point are ignored. It reports whether a new point was appended.
func (w *Window) Record(timestamp int64, price decimal.Decimal, intervalMillis int64) bool {
	last, ok := w.Last()
	if !ok {
		w.append(models.PricePoint{Timestamp: timestamp, Price: price})
		return true
	}
	if timestamp < last.Timestamp {
		return false
	}
	if timestamp < last.Timestamp+intervalMillis {
		w.data[w.lastIndex()].Price = price
		return false
	}
	w.append(models.PricePoint{Timestamp: timestamp, Price: price})
	return true
}

// Points returns a copy of the window, oldest first.
func (w *Window) Points() []models.PricePoint {
	out := make([]models.PricePoint, 0, w.size)
	if w.size < w.capacity {
		return append(out, w.data[:w.size]...)
	}
	out = append(out, w.data[w.head:]...)
	return append(out, w.data[:w.head]...)
}

func (w *Window) append(p models.PricePoint) {
	w.data[w.head] = p
	w.head = (w.head + 1) % w.capacity
	if w.size < w.capacity {
		w.size++
	}
}

func (w *Window) lastIndex() int {
	return (w.head - 1 + w.capacity) % w.capacity
}
