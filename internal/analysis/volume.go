package analysis

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"zone-backtester/internal/market"
)

// ErrInvalidConfig is returned for unusable profile or POC parameters
var ErrInvalidConfig = errors.New("invalid analysis config")

// maxLevelsPerBar bounds the histogram work for a single bar
const maxLevelsPerBar = 1_000_000

// PriceLevel is one histogram bucket
type PriceLevel struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

// POC is a point of control: a high-volume price level. Rank 1 holds the most volume.
type POC struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
	Rank   int     `json:"rank"`
}

// VolumeProfile accumulates volume per price level at a fixed granularity.
// Levels are keyed by integer tick so that float rounding never splits a level.
type VolumeProfile struct {
	granularity decimal.Decimal
	levels      map[int64]float64
	skipped     int
}

// NewVolumeProfile creates an empty profile
func NewVolumeProfile(granularity float64) (*VolumeProfile, error) {
	if !(granularity > 0) || math.IsInf(granularity, 0) {
		return nil, fmt.Errorf("%w: granularity must be positive, got %v", ErrInvalidConfig, granularity)
	}
	return &VolumeProfile{
		granularity: decimal.NewFromFloat(granularity),
		levels:      make(map[int64]float64),
	}, nil
}

// Add spreads the bar's volume evenly over every level its range touches.
// Bars with non-finite fields, zero range or non-positive volume are skipped.
func (vp *VolumeProfile) Add(bar market.Bar) bool {
	if !bar.Valid() || bar.High <= bar.Low || bar.Volume <= 0 {
		vp.skipped++
		return false
	}

	lowTick := decimal.NewFromFloat(bar.Low).Div(vp.granularity).Floor().IntPart()
	highTick := decimal.NewFromFloat(bar.High).Div(vp.granularity).Ceil().IntPart()
	count := highTick - lowTick + 1
	if count <= 0 || count > maxLevelsPerBar {
		vp.skipped++
		return false
	}

	share := bar.Volume / float64(count)
	for tick := lowTick; tick <= highTick; tick++ {
		vp.levels[tick] += share
	}
	return true
}

// Skipped returns how many bars were rejected
func (vp *VolumeProfile) Skipped() int {
	return vp.skipped
}

// Len returns the number of populated levels
func (vp *VolumeProfile) Len() int {
	return len(vp.levels)
}

func (vp *VolumeProfile) tickPrice(tick int64) float64 {
	return decimal.NewFromInt(tick).Mul(vp.granularity).InexactFloat64()
}

// VolumeAt returns the accumulated volume at the level containing price
func (vp *VolumeProfile) VolumeAt(price float64) float64 {
	tick := decimal.NewFromFloat(price).Div(vp.granularity).Round(0).IntPart()
	return vp.levels[tick]
}

// Levels returns all levels ordered by price ascending
func (vp *VolumeProfile) Levels() []PriceLevel {
	ticks := make([]int64, 0, len(vp.levels))
	for tick := range vp.levels {
		ticks = append(ticks, tick)
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i] < ticks[j] })

	out := make([]PriceLevel, 0, len(ticks))
	for _, tick := range ticks {
		out = append(out, PriceLevel{Price: vp.tickPrice(tick), Volume: vp.levels[tick]})
	}
	return out
}

// ByVolume returns all levels ordered by volume descending, lower price first on ties
func (vp *VolumeProfile) ByVolume() []PriceLevel {
	levels := vp.Levels()
	sort.SliceStable(levels, func(i, j int) bool {
		return levels[i].Volume > levels[j].Volume
	})
	return levels
}

// BuildVolumeProfile accumulates every usable bar into a new profile
func BuildVolumeProfile(bars []market.Bar, granularity float64) (*VolumeProfile, error) {
	vp, err := NewVolumeProfile(granularity)
	if err != nil {
		return nil, err
	}
	for _, bar := range bars {
		vp.Add(bar)
	}
	return vp, nil
}

// IdentifyPOCs selects up to pocCount volume peaks that are at least
// atr/overlapATRDivisor apart. An empty profile yields an empty list.
func IdentifyPOCs(bars []market.Bar, granularity float64, pocCount int, overlapATRDivisor, atr float64) ([]POC, error) {
	if pocCount <= 0 {
		return nil, fmt.Errorf("%w: poc count must be positive, got %d", ErrInvalidConfig, pocCount)
	}
	if !(overlapATRDivisor > 0) {
		return nil, fmt.Errorf("%w: overlap divisor must be positive, got %v", ErrInvalidConfig, overlapATRDivisor)
	}
	if math.IsNaN(atr) || math.IsInf(atr, 0) || atr < 0 {
		return nil, fmt.Errorf("%w: atr must be finite and non-negative, got %v", ErrInvalidConfig, atr)
	}

	vp, err := BuildVolumeProfile(bars, granularity)
	if err != nil {
		return nil, err
	}
	return SelectPOCs(vp, pocCount, atr/overlapATRDivisor), nil
}

// SelectPOCs walks levels by volume and keeps those at least minDistance from every kept level
func SelectPOCs(vp *VolumeProfile, pocCount int, minDistance float64) []POC {
	pocs := make([]POC, 0, pocCount)

	for _, level := range vp.ByVolume() {
		if len(pocs) >= pocCount {
			break
		}
		if tooClose(level.Price, pocs, minDistance) {
			continue
		}
		pocs = append(pocs, POC{
			Price:  level.Price,
			Volume: level.Volume,
			Rank:   len(pocs) + 1,
		})
	}

	return pocs
}

func tooClose(price float64, accepted []POC, minDistance float64) bool {
	for _, p := range accepted {
		if math.Abs(price-p.Price) < minDistance {
			return true
		}
	}
	return false
}

// POCIdentifier bundles the profile parameters with the ATR derivation rules
type POCIdentifier struct {
	Granularity       float64
	Count             int
	OverlapATRDivisor float64
	ATRPeriod         int
	FallbackATR       float64
	Location          *time.Location
}

// NewPOCIdentifier creates an identifier with default ATR settings
func NewPOCIdentifier(granularity float64, count int, overlapATRDivisor float64) *POCIdentifier {
	return &POCIdentifier{
		Granularity:       granularity,
		Count:             count,
		OverlapATRDivisor: overlapATRDivisor,
		ATRPeriod:         DefaultATRPeriod,
		FallbackATR:       DefaultFallbackATR,
		Location:          time.UTC,
	}
}

// Identify runs IdentifyPOCs. When atr <= 0 the ATR is derived from daily-resampled bars.
func (pi *POCIdentifier) Identify(bars []market.Bar, atr float64) ([]POC, float64, error) {
	if !(atr > 0) {
		atr = DailyATR(bars, pi.Location, pi.ATRPeriod, pi.FallbackATR)
	}
	pocs, err := IdentifyPOCs(bars, pi.Granularity, pi.Count, pi.OverlapATRDivisor, atr)
	return pocs, atr, err
}
