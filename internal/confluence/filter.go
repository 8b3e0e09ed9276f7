package confluence

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
)

// Tier is the ordinal strength class of a zone, T5 strongest
type Tier string

const (
	TierT1 Tier = "T1"
	TierT2 Tier = "T2"
	TierT3 Tier = "T3"
	TierT4 Tier = "T4"
	TierT5 Tier = "T5"
)

// FilteredZone is a kept zone annotated with its position relative to price
type FilteredZone struct {
	ConfluenceZone
	ATRDistance    float64 `json:"atr_distance"`
	ProximityGroup int     `json:"proximity_group"`
	Tier           Tier    `json:"tier"`
	IsBullAnchor   bool    `json:"is_bull_anchor"`
	IsBearAnchor   bool    `json:"is_bear_anchor"`
}

// FilterConfig holds the tier thresholds (T5, T4, T3, T2 minimum scores)
// and the upper ATR-distance bound of each proximity group
type FilterConfig struct {
	TierThresholds  [4]float64
	ProximityBounds []float64
}

// DefaultFilterConfig returns tiers 12/9/6/3 and groups at 1 and 2 ATR
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		TierThresholds:  [4]float64{12, 9, 6, 3},
		ProximityBounds: []float64{1, 2},
	}
}

// Validate checks that thresholds descend and bounds ascend
func (c FilterConfig) Validate() error {
	for i := 1; i < len(c.TierThresholds); i++ {
		if c.TierThresholds[i] > c.TierThresholds[i-1] {
			return fmt.Errorf("%w: tier thresholds must be descending: %v", ErrInvalidConfig, c.TierThresholds)
		}
	}
	if len(c.ProximityBounds) == 0 {
		return fmt.Errorf("%w: at least one proximity bound required", ErrInvalidConfig)
	}
	prev := 0.0
	for _, b := range c.ProximityBounds {
		if !(b > prev) || math.IsInf(b, 0) {
			return fmt.Errorf("%w: proximity bounds must be positive and ascending: %v", ErrInvalidConfig, c.ProximityBounds)
		}
		prev = b
	}
	return nil
}

// Filter ranks, de-overlaps and tiers confluence zones
type Filter struct {
	cfg    FilterConfig
	logger zerolog.Logger
}

// NewFilter creates a filter
func NewFilter(cfg FilterConfig, logger zerolog.Logger) (*Filter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Filter{
		cfg:    cfg,
		logger: logger.With().Str("component", "ZoneFilter").Logger(),
	}, nil
}

// TierFor maps a score to a tier
func (f *Filter) TierFor(score float64) Tier {
	t := f.cfg.TierThresholds
	switch {
	case score >= t[0]:
		return TierT5
	case score >= t[1]:
		return TierT4
	case score >= t[2]:
		return TierT3
	case score >= t[3]:
		return TierT2
	default:
		return TierT1
	}
}

// proximityGroup returns 0 when distance is beyond the outer bound
func (f *Filter) proximityGroup(distance float64) int {
	for i, bound := range f.cfg.ProximityBounds {
		if distance <= bound {
			return i + 1
		}
	}
	return 0
}

// Apply returns at most maxZones mutually non-overlapping zones near price
func (f *Filter) Apply(zones []ConfluenceZone, price, priceATR float64, maxZones int) ([]FilteredZone, error) {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return nil, fmt.Errorf("%w: price must be finite, got %v", ErrInvalidConfig, price)
	}
	if !(priceATR > 0) || math.IsInf(priceATR, 0) {
		return nil, fmt.Errorf("%w: price ATR must be positive, got %v", ErrInvalidConfig, priceATR)
	}
	if maxZones <= 0 {
		return nil, fmt.Errorf("%w: max zones must be positive, got %d", ErrInvalidConfig, maxZones)
	}

	candidates := make([]FilteredZone, 0, len(zones))
	for _, z := range zones {
		distance := math.Abs(price-z.Mid()) / priceATR
		group := f.proximityGroup(distance)
		if group == 0 {
			continue
		}
		candidates = append(candidates, FilteredZone{
			ConfluenceZone: z,
			ATRDistance:    distance,
			ProximityGroup: group,
			Tier:           f.TierFor(z.Score),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.ProximityGroup != b.ProximityGroup {
			return a.ProximityGroup < b.ProximityGroup
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.ATRDistance != b.ATRDistance {
			return a.ATRDistance < b.ATRDistance
		}
		return a.POCPrice < b.POCPrice
	})

	kept := make([]FilteredZone, 0, maxZones)
	for _, c := range candidates {
		if len(kept) >= maxZones {
			break
		}
		if overlapsAny(c, kept) {
			continue
		}
		kept = append(kept, c)
	}

	markAnchors(kept, price)

	f.logger.Debug().
		Int("input", len(zones)).
		Int("in_range", len(candidates)).
		Int("kept", len(kept)).
		Float64("price", price).
		Msg("Filtered zones")

	return kept, nil
}

func overlapsAny(z FilteredZone, kept []FilteredZone) bool {
	for _, k := range kept {
		if z.Overlaps(k.ConfluenceZone) {
			return true
		}
	}
	return false
}

// markAnchors flags the nearest kept zone on each side of price.
// When only one side has zones, its nearest zone anchors both.
func markAnchors(kept []FilteredZone, price float64) {
	bull, bear := -1, -1
	for i, z := range kept {
		if z.POCPrice > price && (bull < 0 || z.POCPrice < kept[bull].POCPrice) {
			bull = i
		}
		if z.POCPrice < price && (bear < 0 || z.POCPrice > kept[bear].POCPrice) {
			bear = i
		}
	}

	switch {
	case bull >= 0 && bear >= 0:
		kept[bull].IsBullAnchor = true
		kept[bear].IsBearAnchor = true
	case bull >= 0:
		kept[bull].IsBullAnchor = true
		kept[bull].IsBearAnchor = true
	case bear >= 0:
		kept[bear].IsBullAnchor = true
		kept[bear].IsBearAnchor = true
	}
}

// SelectZones picks the primary zone (first kept) and a secondary zone: the
// anchor on the other side of price from the primary, when it is a different zone.
// A primary that contains price has no side, so the next kept zone is secondary.
func SelectZones(filtered []FilteredZone, price float64) (primary, secondary *FilteredZone) {
	if len(filtered) == 0 {
		return nil, nil
	}
	p := filtered[0]
	primary = &p

	if primary.Contains(price) {
		if len(filtered) > 1 {
			z := filtered[1]
			secondary = &z
		}
		return primary, secondary
	}

	wantBull := primary.POCPrice <= price
	for i := 1; i < len(filtered); i++ {
		z := filtered[i]
		if (wantBull && z.IsBullAnchor) || (!wantBull && z.IsBearAnchor) {
			secondary = &z
			break
		}
	}
	return primary, secondary
}
