package confluence

// LevelType identifies a kind of reference level
type LevelType string

const (
	LevelPivot LevelType = "pivot_pp"
	LevelR1    LevelType = "pivot_r1"
	LevelR2    LevelType = "pivot_r2"
	LevelR3    LevelType = "pivot_r3"
	LevelS1    LevelType = "pivot_s1"
	LevelS2    LevelType = "pivot_s2"
	LevelS3    LevelType = "pivot_s3"

	LevelPriorDayHigh  LevelType = "prior_day_high"
	LevelPriorDayLow   LevelType = "prior_day_low"
	LevelPriorDayClose LevelType = "prior_day_close"
	LevelPriorDayOpen  LevelType = "prior_day_open"

	LevelPriorWeekHigh  LevelType = "prior_week_high"
	LevelPriorWeekLow   LevelType = "prior_week_low"
	LevelPriorWeekClose LevelType = "prior_week_close"

	LevelPriorMonthHigh LevelType = "prior_month_high"
	LevelPriorMonthLow  LevelType = "prior_month_low"

	LevelSMA20  LevelType = "sma_20"
	LevelSMA50  LevelType = "sma_50"
	LevelSMA200 LevelType = "sma_200"

	LevelVWAP LevelType = "vwap"

	LevelStructureStrong LevelType = "structure_strong"
	LevelStructureWeak   LevelType = "structure_weak"
)

// Bucket groups level types that must not stack
type Bucket string

const (
	BucketPivot         Bucket = "pivot"
	BucketPriorDay      Bucket = "prior_day"
	BucketPriorWeek     Bucket = "prior_week"
	BucketPriorMonth    Bucket = "prior_month"
	BucketMovingAverage Bucket = "moving_average"
	BucketVWAP          Bucket = "vwap"
	BucketStructure     Bucket = "structure"
)

// LevelSpec is the scoring entry for one level type.
// BandATR is the band half-width as a fraction of the reference ATR.
type LevelSpec struct {
	Weight  float64 `json:"weight" yaml:"weight"`
	Bucket  Bucket  `json:"bucket" yaml:"bucket"`
	BandATR float64 `json:"band_atr" yaml:"band_atr"`
}

// Catalog maps level types to their scoring entries
type Catalog map[LevelType]LevelSpec

// DefaultCatalog returns the stock weights
func DefaultCatalog() Catalog {
	return Catalog{
		LevelPivot: {Weight: 3.0, Bucket: BucketPivot, BandATR: 0.15},
		LevelR1:    {Weight: 2.5, Bucket: BucketPivot, BandATR: 0.10},
		LevelS1:    {Weight: 2.5, Bucket: BucketPivot, BandATR: 0.10},
		LevelR2:    {Weight: 2.0, Bucket: BucketPivot, BandATR: 0.10},
		LevelS2:    {Weight: 2.0, Bucket: BucketPivot, BandATR: 0.10},
		LevelR3:    {Weight: 1.5, Bucket: BucketPivot, BandATR: 0.10},
		LevelS3:    {Weight: 1.5, Bucket: BucketPivot, BandATR: 0.10},

		LevelPriorDayHigh:  {Weight: 3.0, Bucket: BucketPriorDay, BandATR: 0.15},
		LevelPriorDayLow:   {Weight: 3.0, Bucket: BucketPriorDay, BandATR: 0.15},
		LevelPriorDayClose: {Weight: 2.5, Bucket: BucketPriorDay, BandATR: 0.15},
		LevelPriorDayOpen:  {Weight: 1.5, Bucket: BucketPriorDay, BandATR: 0.10},

		LevelPriorWeekHigh:  {Weight: 3.5, Bucket: BucketPriorWeek, BandATR: 0.20},
		LevelPriorWeekLow:   {Weight: 3.5, Bucket: BucketPriorWeek, BandATR: 0.20},
		LevelPriorWeekClose: {Weight: 2.5, Bucket: BucketPriorWeek, BandATR: 0.15},

		LevelPriorMonthHigh: {Weight: 4.0, Bucket: BucketPriorMonth, BandATR: 0.25},
		LevelPriorMonthLow:  {Weight: 4.0, Bucket: BucketPriorMonth, BandATR: 0.25},

		LevelSMA20:  {Weight: 1.5, Bucket: BucketMovingAverage, BandATR: 0.10},
		LevelSMA50:  {Weight: 2.0, Bucket: BucketMovingAverage, BandATR: 0.10},
		LevelSMA200: {Weight: 3.0, Bucket: BucketMovingAverage, BandATR: 0.15},

		LevelVWAP: {Weight: 2.0, Bucket: BucketVWAP, BandATR: 0.10},

		LevelStructureStrong: {Weight: 4.0, Bucket: BucketStructure, BandATR: 0.20},
		LevelStructureWeak:   {Weight: 2.0, Bucket: BucketStructure, BandATR: 0.15},
	}
}

// RankBaseWeight is the score a POC starts with before confluence
func RankBaseWeight(rank int) float64 {
	switch {
	case rank == 1:
		return 3.0
	case rank == 2:
		return 2.5
	case rank == 3:
		return 2.0
	case rank == 4 || rank == 5:
		return 1.5
	default:
		return 1.0
	}
}
