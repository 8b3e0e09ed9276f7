// Package market holds the bar model shared by every stage of the zone pipeline.
package market

import (
	"math"
	"sort"
	"time"
)

// Timeframe identifies a bar granularity
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe1d  Timeframe = "1d"
)

// Duration returns the wall-clock span of one bar
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe1d:
		return 24 * time.Hour
	default:
		return 0
	}
}

// IsValid reports whether tf is one of the supported granularities
func (tf Timeframe) IsValid() bool {
	return tf.Duration() > 0
}

// Bar represents one OHLCV interval. Timestamp is the bar open time.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Valid reports whether all OHLCV fields are finite and high >= low
func (b Bar) Valid() bool {
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close, b.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.High >= b.Low
}

// Range returns high - low
func (b Bar) Range() float64 {
	return b.High - b.Low
}

// TypicalPrice returns (high + low + close) / 3
func (b Bar) TypicalPrice() float64 {
	return (b.High + b.Low + b.Close) / 3
}

// SortBars orders bars by timestamp in place
func SortBars(bars []Bar) {
	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
}

// IsChronological reports whether bars are strictly ordered by timestamp
func IsChronological(bars []Bar) bool {
	for i := 1; i < len(bars); i++ {
		if !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			return false
		}
	}
	return true
}

// SessionDate truncates t to midnight in loc
func SessionDate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// ResampleDaily aggregates bars into one bar per calendar day in loc.
// Invalid bars are skipped. Input must be chronological.
func ResampleDaily(bars []Bar, loc *time.Location) []Bar {
	var daily []Bar
	var current *Bar

	for _, b := range bars {
		if !b.Valid() {
			continue
		}
		day := SessionDate(b.Timestamp, loc)

		if current == nil || !current.Timestamp.Equal(day) {
			if current != nil {
				daily = append(daily, *current)
			}
			current = &Bar{
				Timestamp: day,
				Open:      b.Open,
				High:      b.High,
				Low:       b.Low,
				Close:     b.Close,
				Volume:    b.Volume,
			}
			continue
		}

		current.High = math.Max(current.High, b.High)
		current.Low = math.Min(current.Low, b.Low)
		current.Close = b.Close
		current.Volume += b.Volume
	}

	if current != nil {
		daily = append(daily, *current)
	}
	return daily
}

// Between returns the sub-slice of chronological bars with start <= timestamp < end
func Between(bars []Bar, start, end time.Time) []Bar {
	lo := sort.Search(len(bars), func(i int) bool {
		return !bars[i].Timestamp.Before(start)
	})
	hi := sort.Search(len(bars), func(i int) bool {
		return !bars[i].Timestamp.Before(end)
	})
	if lo >= hi {
		return nil
	}
	return bars[lo:hi]
}
