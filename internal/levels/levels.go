// Package levels derives the reference price levels that zones are scored against.
package levels

import (
	"fmt"
	"time"

	"zone-backtester/internal/analysis"
	"zone-backtester/internal/confluence"
	"zone-backtester/internal/market"
)

// Snapshot is the set of reference levels and ATRs in force for one session
type Snapshot struct {
	Ticker string                       `json:"ticker"`
	Date   time.Time                    `json:"date"`
	Levels []confluence.TechnicalLevel  `json:"levels"`
	ATR    map[market.Timeframe]float64 `json:"atr"`
}

// ATRFor returns the ATR for tf, or the daily ATR when tf is missing
func (s Snapshot) ATRFor(tf market.Timeframe) float64 {
	if v, ok := s.ATR[tf]; ok && v > 0 {
		return v
	}
	return s.ATR[market.Timeframe1d]
}

// PivotPoints holds floor pivot levels
type PivotPoints struct {
	PP float64
	R1 float64
	R2 float64
	R3 float64
	S1 float64
	S2 float64
	S3 float64
}

// StandardPivots calculates floor pivots from one completed session
func StandardPivots(prior market.Bar) PivotPoints {
	high, low, close := prior.High, prior.Low, prior.Close
	pp := (high + low + close) / 3

	return PivotPoints{
		PP: pp,
		R1: 2*pp - low,
		S1: 2*pp - high,
		R2: pp + (high - low),
		S2: pp - (high - low),
		R3: high + 2*(pp-low),
		S3: low - 2*(high-pp),
	}
}

// SMA returns the simple average of the last period closes, or 0 with too few bars
func SMA(bars []market.Bar, period int) float64 {
	if period <= 0 || len(bars) < period {
		return 0
	}
	sum := 0.0
	for _, b := range bars[len(bars)-period:] {
		sum += b.Close
	}
	return sum / float64(period)
}

// VWAP returns the volume-weighted typical price of bars, or 0 without volume
func VWAP(bars []market.Bar) float64 {
	cumulativeTPV := 0.0
	cumulativeVol := 0.0
	for _, b := range bars {
		if !b.Valid() || b.Volume <= 0 {
			continue
		}
		cumulativeTPV += b.TypicalPrice() * b.Volume
		cumulativeVol += b.Volume
	}
	if cumulativeVol == 0 {
		return 0
	}
	return cumulativeTPV / cumulativeVol
}

// periodBar aggregates the daily bars for which key returns want
func periodBar(daily []market.Bar, want string, key func(time.Time) string) (market.Bar, bool) {
	var agg market.Bar
	found := false
	for _, b := range daily {
		if key(b.Timestamp) != want {
			continue
		}
		if !found {
			agg = b
			found = true
			continue
		}
		if b.High > agg.High {
			agg.High = b.High
		}
		if b.Low < agg.Low {
			agg.Low = b.Low
		}
		agg.Close = b.Close
		agg.Volume += b.Volume
	}
	return agg, found
}

func weekKey(t time.Time) string {
	y, w := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", y, w)
}

func monthKey(t time.Time) string {
	return t.Format("2006-01")
}

// Compute builds the level list for the session on date from completed daily
// bars (any bars dated on or after date are ignored) and the prior session's
// intraday bars for VWAP. Levels that cannot be derived are omitted.
func Compute(daily []market.Bar, priorIntraday []market.Bar, date time.Time, loc *time.Location, swingLookback int) []confluence.TechnicalLevel {
	if loc == nil {
		loc = time.UTC
	}
	session := market.SessionDate(date, loc)
	history := make([]market.Bar, 0, len(daily))
	for _, b := range daily {
		if b.Valid() && market.SessionDate(b.Timestamp, loc).Before(session) {
			history = append(history, b)
		}
	}
	if len(history) == 0 {
		return nil
	}

	out := make([]confluence.TechnicalLevel, 0, 24)
	add := func(name string, typ confluence.LevelType, price float64) {
		if price > 0 {
			out = append(out, confluence.TechnicalLevel{Name: name, Type: typ, Price: price})
		}
	}

	prior := history[len(history)-1]
	p := StandardPivots(prior)
	add("PP", confluence.LevelPivot, p.PP)
	add("R1", confluence.LevelR1, p.R1)
	add("R2", confluence.LevelR2, p.R2)
	add("R3", confluence.LevelR3, p.R3)
	add("S1", confluence.LevelS1, p.S1)
	add("S2", confluence.LevelS2, p.S2)
	add("S3", confluence.LevelS3, p.S3)

	add("PDH", confluence.LevelPriorDayHigh, prior.High)
	add("PDL", confluence.LevelPriorDayLow, prior.Low)
	add("PDC", confluence.LevelPriorDayClose, prior.Close)
	add("PDO", confluence.LevelPriorDayOpen, prior.Open)

	local := func(t time.Time) time.Time { return t.In(loc) }
	lastWeek := session.AddDate(0, 0, -7)
	if wk, ok := periodBar(history, weekKey(local(lastWeek)), func(t time.Time) string { return weekKey(local(t)) }); ok {
		add("PWH", confluence.LevelPriorWeekHigh, wk.High)
		add("PWL", confluence.LevelPriorWeekLow, wk.Low)
		add("PWC", confluence.LevelPriorWeekClose, wk.Close)
	}

	lastMonth := time.Date(session.Year(), session.Month(), 1, 0, 0, 0, 0, loc).AddDate(0, -1, 0)
	if mo, ok := periodBar(history, monthKey(lastMonth), func(t time.Time) string { return monthKey(local(t)) }); ok {
		add("PMH", confluence.LevelPriorMonthHigh, mo.High)
		add("PML", confluence.LevelPriorMonthLow, mo.Low)
	}

	add("SMA20", confluence.LevelSMA20, SMA(history, 20))
	add("SMA50", confluence.LevelSMA50, SMA(history, 50))
	add("SMA200", confluence.LevelSMA200, SMA(history, 200))

	add("VWAP", confluence.LevelVWAP, VWAP(priorIntraday))

	if structure := analysis.NewTrendAnalyzer(swingLookback).AnalyzeStructure(history); structure != nil {
		add("Strong", confluence.LevelStructureStrong, structure.StrongLevel)
		add("Weak", confluence.LevelStructureWeak, structure.WeakLevel)
	}

	return out
}
