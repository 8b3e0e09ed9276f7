// Package structure tracks fractal swing breaks for an open trade.
package structure

import (
	"time"

	"zone-backtester/internal/analysis"
	"zone-backtester/internal/market"
)

// DefaultFractalBars is the number of bars required on each side of a swing
const DefaultFractalBars = 2

// Direction is the prevailing structure direction
type Direction string

const (
	DirectionUnset   Direction = "unset"
	DirectionBullish Direction = "bullish"
	DirectionBearish Direction = "bearish"
)

// EventType distinguishes reversals from continuation breaks
type EventType string

const (
	EventCHoCH EventType = "CHOCH"
	EventBOS   EventType = "BOS"
)

// Event is a close through a pending swing level
type Event struct {
	Type      EventType `json:"type"`
	Direction Direction `json:"direction"`
	Level     float64   `json:"level"`
	Time      time.Time `json:"time"`
}

// IsReversal reports whether the event is a change of character
func (e Event) IsReversal() bool {
	return e.Type == EventCHoCH
}

type pendingLevel struct {
	price   float64
	set     bool
	crossed bool
}

// Tracker holds per-trade swing state. Create a fresh one per position.
type Tracker struct {
	n         int
	window    []market.Bar
	direction Direction
	high      pendingLevel
	low       pendingLevel
}

// NewTracker creates a tracker needing n bars on each side of a fractal
func NewTracker(n int) *Tracker {
	if n <= 0 {
		n = DefaultFractalBars
	}
	return &Tracker{
		n:         n,
		window:    make([]market.Bar, 0, 2*n+1),
		direction: DirectionUnset,
	}
}

// Direction returns the current structure direction
func (t *Tracker) Direction() Direction {
	return t.direction
}

// Warm feeds bars preceding the entry and discards their events
func (t *Tracker) Warm(bars []market.Bar) {
	for _, b := range bars {
		t.Update(b)
	}
}

// Update processes one bar and returns any breaks it produced
func (t *Tracker) Update(bar market.Bar) []Event {
	if !bar.Valid() {
		return nil
	}

	if len(t.window) == cap(t.window) {
		copy(t.window, t.window[1:])
		t.window = t.window[:len(t.window)-1]
	}
	t.window = append(t.window, bar)

	// the fractal candidate is confirmed once n bars follow it
	if len(t.window) == 2*t.n+1 {
		if analysis.IsFractalHigh(t.window, t.n, t.n) {
			t.high = pendingLevel{price: t.window[t.n].High, set: true}
		}
		if analysis.IsFractalLow(t.window, t.n, t.n) {
			t.low = pendingLevel{price: t.window[t.n].Low, set: true}
		}
	}

	var events []Event
	if t.high.set && !t.high.crossed && bar.Close > t.high.price {
		t.high.crossed = true
		events = append(events, t.breakEvent(DirectionBullish, t.high.price, bar.Timestamp))
		t.direction = DirectionBullish
	}
	if t.low.set && !t.low.crossed && bar.Close < t.low.price {
		t.low.crossed = true
		events = append(events, t.breakEvent(DirectionBearish, t.low.price, bar.Timestamp))
		t.direction = DirectionBearish
	}
	return events
}

func (t *Tracker) breakEvent(dir Direction, level float64, at time.Time) Event {
	typ := EventBOS
	if t.direction != DirectionUnset && t.direction != dir {
		typ = EventCHoCH
	}
	return Event{Type: typ, Direction: dir, Level: level, Time: at}
}
