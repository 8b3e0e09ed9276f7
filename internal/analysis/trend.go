package analysis

import (
	"zone-backtester/internal/market"
)

// TrendDirection represents market trend
type TrendDirection string

const (
	TrendBullish  TrendDirection = "bullish"
	TrendBearish  TrendDirection = "bearish"
	TrendSideways TrendDirection = "sideways"
)

// SwingPoint represents a confirmed fractal extreme
type SwingPoint struct {
	Price    float64
	BarIndex int
	Type     string // "high" or "low"
}

// MarketStructure summarizes swing structure over a bar series
type MarketStructure struct {
	Trend      TrendDirection
	SwingHighs []SwingPoint
	SwingLows  []SwingPoint
	// StrongLevel is the swing the current trend must hold; WeakLevel is the one it targets
	StrongLevel float64
	WeakLevel   float64
}

// TrendAnalyzer finds swing points using a symmetric fractal window
type TrendAnalyzer struct {
	swingLookback int
}

// NewTrendAnalyzer creates a new trend analyzer
func NewTrendAnalyzer(swingLookback int) *TrendAnalyzer {
	if swingLookback <= 0 {
		swingLookback = 2
	}
	return &TrendAnalyzer{
		swingLookback: swingLookback,
	}
}

// AnalyzeStructure returns nil when there are too few bars for a single fractal
func (ta *TrendAnalyzer) AnalyzeStructure(bars []market.Bar) *MarketStructure {
	if len(bars) < ta.swingLookback*2+1 {
		return nil
	}

	structure := &MarketStructure{
		SwingHighs: ta.FindSwingHighs(bars),
		SwingLows:  ta.FindSwingLows(bars),
	}
	structure.Trend = ta.DetermineTrend(structure)

	lastHigh, hasHigh := lastSwing(structure.SwingHighs)
	lastLow, hasLow := lastSwing(structure.SwingLows)

	switch structure.Trend {
	case TrendBullish:
		structure.StrongLevel = lastLow.Price
		structure.WeakLevel = lastHigh.Price
	case TrendBearish:
		structure.StrongLevel = lastHigh.Price
		structure.WeakLevel = lastLow.Price
	default:
		if hasHigh {
			structure.WeakLevel = lastHigh.Price
		}
		if hasLow && !hasHigh {
			structure.WeakLevel = lastLow.Price
		}
	}

	return structure
}

// FindSwingHighs returns bars whose high is strictly above the lookback bars on both sides
func (ta *TrendAnalyzer) FindSwingHighs(bars []market.Bar) []SwingPoint {
	var swingHighs []SwingPoint

	for i := ta.swingLookback; i < len(bars)-ta.swingLookback; i++ {
		if IsFractalHigh(bars, i, ta.swingLookback) {
			swingHighs = append(swingHighs, SwingPoint{
				Price:    bars[i].High,
				BarIndex: i,
				Type:     "high",
			})
		}
	}

	return swingHighs
}

// FindSwingLows returns bars whose low is strictly below the lookback bars on both sides
func (ta *TrendAnalyzer) FindSwingLows(bars []market.Bar) []SwingPoint {
	var swingLows []SwingPoint

	for i := ta.swingLookback; i < len(bars)-ta.swingLookback; i++ {
		if IsFractalLow(bars, i, ta.swingLookback) {
			swingLows = append(swingLows, SwingPoint{
				Price:    bars[i].Low,
				BarIndex: i,
				Type:     "low",
			})
		}
	}

	return swingLows
}

// IsFractalHigh reports whether bars[i] is a swing high with n bars on each side
func IsFractalHigh(bars []market.Bar, i, n int) bool {
	if i-n < 0 || i+n >= len(bars) {
		return false
	}
	for j := i - n; j <= i+n; j++ {
		if j != i && bars[j].High >= bars[i].High {
			return false
		}
	}
	return true
}

// IsFractalLow reports whether bars[i] is a swing low with n bars on each side
func IsFractalLow(bars []market.Bar, i, n int) bool {
	if i-n < 0 || i+n >= len(bars) {
		return false
	}
	for j := i - n; j <= i+n; j++ {
		if j != i && bars[j].Low <= bars[i].Low {
			return false
		}
	}
	return true
}

// DetermineTrend compares the last two swing highs and lows
func (ta *TrendAnalyzer) DetermineTrend(structure *MarketStructure) TrendDirection {
	if len(structure.SwingHighs) < 2 || len(structure.SwingLows) < 2 {
		return TrendSideways
	}

	h := structure.SwingHighs
	l := structure.SwingLows
	higherHigh := h[len(h)-1].Price > h[len(h)-2].Price
	higherLow := l[len(l)-1].Price > l[len(l)-2].Price
	lowerHigh := h[len(h)-1].Price < h[len(h)-2].Price
	lowerLow := l[len(l)-1].Price < l[len(l)-2].Price

	if higherHigh && higherLow {
		return TrendBullish
	}
	if lowerHigh && lowerLow {
		return TrendBearish
	}
	return TrendSideways
}

func lastSwing(points []SwingPoint) (SwingPoint, bool) {
	if len(points) == 0 {
		return SwingPoint{}, false
	}
	return points[len(points)-1], true
}
