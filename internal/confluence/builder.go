package confluence

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"zone-backtester/internal/analysis"
)

// ErrInvalidConfig is returned for unusable builder or filter parameters
var ErrInvalidConfig = errors.New("invalid confluence config")

// DefaultMaxConfluenceNames caps the recorded overlap names
const DefaultMaxConfluenceNames = 5

// TechnicalLevel is one reference price
type TechnicalLevel struct {
	Name  string    `json:"name"`
	Type  LevelType `json:"type"`
	Price float64   `json:"price"`
}

// ConfluenceZone is a POC band scored against reference levels
type ConfluenceZone struct {
	ZoneID       string   `json:"zone_id"`
	POCPrice     float64  `json:"poc_price"`
	POCVolume    float64  `json:"poc_volume"`
	POCRank      int      `json:"poc_rank"`
	ZoneHigh     float64  `json:"zone_high"`
	ZoneLow      float64  `json:"zone_low"`
	OverlapCount int      `json:"overlap_count"`
	Score        float64  `json:"score"`
	Confluences  []string `json:"confluences"`
}

// Mid returns the zone midpoint
func (z ConfluenceZone) Mid() float64 {
	return (z.ZoneHigh + z.ZoneLow) / 2
}

// Width returns zone_high - zone_low
func (z ConfluenceZone) Width() float64 {
	return z.ZoneHigh - z.ZoneLow
}

// Overlaps reports whether two zones share any price, edges included
func (z ConfluenceZone) Overlaps(other ConfluenceZone) bool {
	return bandsOverlap(z.ZoneLow, z.ZoneHigh, other.ZoneLow, other.ZoneHigh)
}

// Contains reports whether price lies inside [ZoneLow, ZoneHigh]
func (z ConfluenceZone) Contains(price float64) bool {
	return price >= z.ZoneLow && price <= z.ZoneHigh
}

func bandsOverlap(lowA, highA, lowB, highB float64) bool {
	return lowA <= highB && lowB <= highA
}

// Builder scores POC bands against a level catalog
type Builder struct {
	catalog  Catalog
	maxNames int
	logger   zerolog.Logger
}

// NewBuilder creates a builder. A nil catalog uses DefaultCatalog.
func NewBuilder(catalog Catalog, logger zerolog.Logger) *Builder {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Builder{
		catalog:  catalog,
		maxNames: DefaultMaxConfluenceNames,
		logger:   logger.With().Str("component", "ConfluenceBuilder").Logger(),
	}
}

// Build produces one zone per POC, in POC order
func (b *Builder) Build(pocs []analysis.POC, levels []TechnicalLevel, referenceATR float64) ([]ConfluenceZone, error) {
	if !(referenceATR > 0) || math.IsInf(referenceATR, 0) {
		return nil, fmt.Errorf("%w: reference ATR must be positive, got %v", ErrInvalidConfig, referenceATR)
	}

	bands := b.levelBands(levels, referenceATR)
	halfWidth := referenceATR / 2
	zones := make([]ConfluenceZone, 0, len(pocs))

	for _, poc := range pocs {
		zone := ConfluenceZone{
			ZoneID:    fmt.Sprintf("poc-%d", poc.Rank),
			POCPrice:  poc.Price,
			POCVolume: poc.Volume,
			POCRank:   poc.Rank,
			ZoneHigh:  poc.Price + halfWidth,
			ZoneLow:   poc.Price - halfWidth,
		}

		bucketMax := make(map[Bucket]float64)
		names := make([]string, 0)
		for _, band := range bands {
			if !bandsOverlap(zone.ZoneLow, zone.ZoneHigh, band.low, band.high) {
				continue
			}
			names = append(names, band.level.Name)
			if band.def.Weight > bucketMax[band.def.Bucket] {
				bucketMax[band.def.Bucket] = band.def.Weight
			}
		}

		zone.OverlapCount = len(names)
		zone.Confluences = capNames(names, b.maxNames)
		zone.Score = RankBaseWeight(poc.Rank) + sumBuckets(bucketMax)
		zones = append(zones, zone)
	}

	b.logger.Debug().
		Int("pocs", len(pocs)).
		Int("levels", len(bands)).
		Float64("reference_atr", referenceATR).
		Msg("Built confluence zones")

	return zones, nil
}

type levelBand struct {
	level TechnicalLevel
	def   LevelSpec
	low   float64
	high  float64
}

func (b *Builder) levelBands(levels []TechnicalLevel, referenceATR float64) []levelBand {
	bands := make([]levelBand, 0, len(levels))
	for _, level := range levels {
		def, ok := b.catalog[level.Type]
		if !ok {
			b.logger.Debug().Str("type", string(level.Type)).Str("name", level.Name).Msg("Skipping unknown level type")
			continue
		}
		if math.IsNaN(level.Price) || math.IsInf(level.Price, 0) || level.Price <= 0 {
			continue
		}
		half := def.BandATR * referenceATR
		bands = append(bands, levelBand{
			level: level,
			def:   def,
			low:   level.Price - half,
			high:  level.Price + half,
		})
	}
	return bands
}

// sumBuckets adds bucket maxima in key order so the float sum is reproducible
func sumBuckets(bucketMax map[Bucket]float64) float64 {
	keys := make([]string, 0, len(bucketMax))
	for k := range bucketMax {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	total := 0.0
	for _, k := range keys {
		total += bucketMax[Bucket(k)]
	}
	return total
}

func capNames(names []string, max int) []string {
	if len(names) <= max {
		return names
	}
	out := make([]string, 0, max+1)
	out = append(out, names[:max]...)
	return append(out, fmt.Sprintf("+%d more", len(names)-max))
}
