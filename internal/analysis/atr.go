package analysis

import (
	"math"
	"time"

	"zone-backtester/internal/market"
)

const (
	// DefaultATRPeriod is the number of true ranges averaged
	DefaultATRPeriod = 14
	// DefaultFallbackATR is used when too few daily bars exist
	DefaultFallbackATR = 2.0
)

// TrueRange returns max(high-low, |high-prevClose|, |low-prevClose|)
func TrueRange(bar market.Bar, prevClose float64) float64 {
	return math.Max(
		bar.High-bar.Low,
		math.Max(
			math.Abs(bar.High-prevClose),
			math.Abs(bar.Low-prevClose),
		),
	)
}

// AverageTrueRange is the simple average of the last period true ranges.
// With fewer than period+1 bars all available true ranges are averaged.
// Invalid bars are skipped. Returns 0 with fewer than two usable bars.
func AverageTrueRange(bars []market.Bar, period int) float64 {
	if period <= 0 {
		period = DefaultATRPeriod
	}

	usable := make([]market.Bar, 0, len(bars))
	for _, b := range bars {
		if b.Valid() {
			usable = append(usable, b)
		}
	}
	if len(usable) < 2 {
		return 0
	}

	startIdx := len(usable) - period
	if startIdx < 1 {
		startIdx = 1
	}

	trSum := 0.0
	for i := startIdx; i < len(usable); i++ {
		trSum += TrueRange(usable[i], usable[i-1].Close)
	}

	return trSum / float64(len(usable)-startIdx)
}

// DailyATR resamples bars to daily and averages true range, falling back to
// fallback when fewer than two days exist or the result is not positive.
func DailyATR(bars []market.Bar, loc *time.Location, period int, fallback float64) float64 {
	daily := market.ResampleDaily(bars, loc)
	if len(daily) < 2 {
		return fallback
	}
	atr := AverageTrueRange(daily, period)
	if !(atr > 0) {
		return fallback
	}
	return atr
}
