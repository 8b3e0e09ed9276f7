// Package entry detects zone continuation and rejection entries bar by bar.
package entry

import (
	"time"

	"github.com/rs/zerolog"

	"zone-backtester/internal/confluence"
	"zone-backtester/internal/market"
)

// Direction is the side of a trade
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Sign returns +1 for long and -1 for short
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

// ZoneClass says which selected zone a signal came from
type ZoneClass string

const (
	ZonePrimary   ZoneClass = "primary"
	ZoneSecondary ZoneClass = "secondary"
)

// Family is the entry pattern
type Family string

const (
	Continuation Family = "continuation"
	Rejection    Family = "rejection"
)

// ModelID numbers the four family and zone class combinations
type ModelID int

const (
	ModelPrimaryContinuation   ModelID = 1
	ModelPrimaryRejection      ModelID = 2
	ModelSecondaryContinuation ModelID = 3
	ModelSecondaryRejection    ModelID = 4
)

// ModelFor returns the model id for a family on a zone class
func ModelFor(family Family, class ZoneClass) ModelID {
	id := ModelPrimaryContinuation
	if family == Rejection {
		id++
	}
	if class == ZoneSecondary {
		id += 2
	}
	return id
}

// Family returns the pattern family of the model
func (m ModelID) Family() Family {
	if m%2 == 0 {
		return Rejection
	}
	return Continuation
}

// EntrySignal is an immutable entry trigger
type EntrySignal struct {
	ModelID    ModelID   `json:"model_id"`
	ZoneClass  ZoneClass `json:"zone_class"`
	ZoneID     string    `json:"zone_id"`
	Direction  Direction `json:"direction"`
	EntryPrice float64   `json:"entry_price"`
	EntryTime  time.Time `json:"entry_time"`
	BarIndex   int       `json:"bar_index"`
	ZoneHigh   float64   `json:"zone_high"`
	ZoneLow    float64   `json:"zone_low"`
}

// origin is the side of the zone price last closed on
type origin int

const (
	originNone origin = iota
	originAbove
	originBelow
)

// Detector evaluates entry models against the selected zones.
// It is not safe for concurrent use; each ticker-day owns one.
type Detector struct {
	window   market.Window
	history  *barHistory
	barIndex int
	logger   zerolog.Logger
}

// NewDetector creates a detector with the given window and history capacity
func NewDetector(window market.Window, capacity int, logger zerolog.Logger) *Detector {
	return &Detector{
		window:  window,
		history: newBarHistory(capacity),
		logger:  logger.With().Str("component", "EntryDetector").Logger(),
	}
}

// CheckEntries must be called once per bar in chronological order. Signals are
// only produced inside the window, but every bar is recorded for price-origin lookback.
func (d *Detector) CheckEntries(bar market.Bar, primary, secondary *confluence.FilteredZone) []EntrySignal {
	var signals []EntrySignal

	if bar.Valid() && d.window.Contains(bar.Timestamp) {
		signals = append(signals, d.evaluateZone(bar, primary, ZonePrimary)...)
		signals = append(signals, d.evaluateZone(bar, secondary, ZoneSecondary)...)
	}

	d.history.push(bar)
	d.barIndex++

	for _, s := range signals {
		d.logger.Debug().
			Int("model", int(s.ModelID)).
			Str("direction", string(s.Direction)).
			Float64("price", s.EntryPrice).
			Time("time", s.EntryTime).
			Msg("Entry signal")
	}
	return signals
}

func (d *Detector) evaluateZone(bar market.Bar, zone *confluence.FilteredZone, class ZoneClass) []EntrySignal {
	if zone == nil || !(zone.ZoneHigh > zone.ZoneLow) {
		return nil
	}

	var signals []EntrySignal
	emit := func(family Family, dir Direction) {
		signals = append(signals, EntrySignal{
			ModelID:    ModelFor(family, class),
			ZoneClass:  class,
			ZoneID:     zone.ZoneID,
			Direction:  dir,
			EntryPrice: bar.Close,
			EntryTime:  bar.Timestamp,
			BarIndex:   d.barIndex,
			ZoneHigh:   zone.ZoneHigh,
			ZoneLow:    zone.ZoneLow,
		})
	}

	// origin is only needed when the bar opens inside the zone
	o := originNone
	if bar.Open >= zone.ZoneLow && bar.Open <= zone.ZoneHigh {
		o = d.priceOrigin(zone.ZoneLow, zone.ZoneHigh)
	}

	if dir, ok := continuation(bar, zone.ZoneLow, zone.ZoneHigh, o); ok {
		emit(Continuation, dir)
	}
	if dir, ok := rejection(bar, zone.ZoneLow, zone.ZoneHigh, o); ok {
		emit(Rejection, dir)
	}
	return signals
}

// priceOrigin scans previous bars newest first for a close strictly outside the zone
func (d *Detector) priceOrigin(low, high float64) origin {
	for i := d.history.len() - 1; i >= 0; i-- {
		c := d.history.at(i).Close
		switch {
		case c > high:
			return originAbove
		case c < low:
			return originBelow
		}
	}
	return originNone
}

func continuation(bar market.Bar, low, high float64, o origin) (Direction, bool) {
	inside := bar.Open >= low && bar.Open <= high

	if bar.Close > high && (bar.Open < low || (inside && o == originBelow)) {
		return Long, true
	}
	if bar.Close < low && (bar.Open > high || (inside && o == originAbove)) {
		return Short, true
	}
	return "", false
}

func rejection(bar market.Bar, low, high float64, o origin) (Direction, bool) {
	inside := bar.Open >= low && bar.Open <= high

	if (bar.Open > high && bar.Low <= high && bar.Close > high) ||
		(inside && o == originAbove && bar.Close > high) {
		return Long, true
	}
	if (bar.Open < low && bar.High >= low && bar.Close < low) ||
		(inside && o == originBelow && bar.Close < low) {
		return Short, true
	}
	return "", false
}
