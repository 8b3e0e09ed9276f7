package risk

import (
	"fmt"
	"math"
	"sort"

	"zone-backtester/internal/analysis"
	"zone-backtester/internal/entry"
	"zone-backtester/internal/market"
)

// StopType names a stop placement strategy
type StopType string

const (
	StopZoneBuffer StopType = "zone_buffer"
	StopPriorBar   StopType = "prior_bar"
	StopSwing      StopType = "swing"
	StopATR        StopType = "atr"
)

// DefaultZoneBufferPct is the zone-width fraction placed beyond the zone edge
const DefaultZoneBufferPct = 0.05

// StopFunc places a stop for signal given the entry-stream bars up to and
// including the signal bar. It must not modify bars.
type StopFunc func(bars []market.Bar, signal entry.EntrySignal) float64

// StopTable maps stop types to placement functions
type StopTable map[StopType]StopFunc

// DefaultStopTable returns every built-in strategy
func DefaultStopTable() StopTable {
	return StopTable{
		StopZoneBuffer: ZoneBufferStop(DefaultZoneBufferPct),
		StopPriorBar:   PriorBarStop,
		StopSwing:      SwingStop(2, ZoneBufferStop(DefaultZoneBufferPct)),
		StopATR:        ATRStop(analysis.DefaultATRPeriod, 1.0),
	}
}

// Types returns the table keys in a stable order
func (t StopTable) Types() []StopType {
	types := make([]StopType, 0, len(t))
	for k := range t {
		types = append(types, k)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Get returns the strategy for typ
func (t StopTable) Get(typ StopType) (StopFunc, error) {
	fn, ok := t[typ]
	if !ok {
		return nil, fmt.Errorf("unknown stop type %q", typ)
	}
	return fn, nil
}

// ZoneBufferStop places the stop beyond the far zone edge by pct of the zone width
func ZoneBufferStop(pct float64) StopFunc {
	return func(_ []market.Bar, s entry.EntrySignal) float64 {
		buffer := (s.ZoneHigh - s.ZoneLow) * pct
		if s.Direction == entry.Short {
			return s.ZoneHigh + buffer
		}
		return s.ZoneLow - buffer
	}
}

// PriorBarStop uses the signal bar's extreme
func PriorBarStop(bars []market.Bar, s entry.EntrySignal) float64 {
	bar, ok := signalBar(bars, s)
	if !ok {
		return math.NaN()
	}
	if s.Direction == entry.Short {
		return bar.High
	}
	return bar.Low
}

// SwingStop uses the most recent confirmed n-bar fractal beyond the entry,
// or fallback when none exists
func SwingStop(n int, fallback StopFunc) StopFunc {
	return func(bars []market.Bar, s entry.EntrySignal) float64 {
		end := len(bars)
		if s.BarIndex >= 0 && s.BarIndex < end {
			end = s.BarIndex + 1
		}
		window := bars[:end]

		for i := len(window) - 1 - n; i >= n; i-- {
			if s.Direction == entry.Short {
				if analysis.IsFractalHigh(window, i, n) && window[i].High > s.EntryPrice {
					return window[i].High
				}
				continue
			}
			if analysis.IsFractalLow(window, i, n) && window[i].Low < s.EntryPrice {
				return window[i].Low
			}
		}
		return fallback(bars, s)
	}
}

// ATRStop places the stop mult ATRs from entry using the entry-stream ATR
func ATRStop(period int, mult float64) StopFunc {
	return func(bars []market.Bar, s entry.EntrySignal) float64 {
		end := len(bars)
		if s.BarIndex >= 0 && s.BarIndex < end {
			end = s.BarIndex + 1
		}
		atr := analysis.AverageTrueRange(bars[:end], period)
		if !(atr > 0) {
			return math.NaN()
		}
		if s.Direction == entry.Short {
			return s.EntryPrice + mult*atr
		}
		return s.EntryPrice - mult*atr
	}
}

func signalBar(bars []market.Bar, s entry.EntrySignal) (market.Bar, bool) {
	if s.BarIndex >= 0 && s.BarIndex < len(bars) && bars[s.BarIndex].Timestamp.Equal(s.EntryTime) {
		return bars[s.BarIndex], true
	}
	for i := len(bars) - 1; i >= 0; i-- {
		if bars[i].Timestamp.Equal(s.EntryTime) {
			return bars[i], true
		}
	}
	return market.Bar{}, false
}
