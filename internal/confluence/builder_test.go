package confluence

import (
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"zone-backtester/internal/analysis"
)

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func testCatalog() Catalog {
	return Catalog{
		"weak_ma":   {Weight: 3, Bucket: BucketMovingAverage, BandATR: 0.1},
		"strong_ma": {Weight: 5, Bucket: BucketMovingAverage, BandATR: 0.1},
		"pivot":     {Weight: 2, Bucket: BucketPivot, BandATR: 0.1},
	}
}

func TestBuild_NoStackingWithinBucket(t *testing.T) {
	b := NewBuilder(testCatalog(), zerolog.Nop())
	pocs := []analysis.POC{{Price: 100, Volume: 1000, Rank: 1}}

	both, err := b.Build(pocs, []TechnicalLevel{
		{Name: "MA A", Type: "weak_ma", Price: 100.2},
		{Name: "MA B", Type: "strong_ma", Price: 99.8},
	}, 2.0)
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}

	alone, _ := b.Build(pocs, []TechnicalLevel{
		{Name: "MA B", Type: "strong_ma", Price: 99.8},
	}, 2.0)

	want := RankBaseWeight(1) + 5
	if !floatEquals(both[0].Score, want) {
		t.Errorf("Expected score %v with both levels, got %v", want, both[0].Score)
	}
	if !floatEquals(both[0].Score, alone[0].Score) {
		t.Errorf("Expected stacked score %v to equal single-level score %v", both[0].Score, alone[0].Score)
	}
	if both[0].OverlapCount != 2 {
		t.Errorf("Expected overlap count 2, got %d", both[0].OverlapCount)
	}
}

func TestBuild_BucketsAdd(t *testing.T) {
	b := NewBuilder(testCatalog(), zerolog.Nop())
	zones, err := b.Build([]analysis.POC{{Price: 50, Rank: 2}}, []TechnicalLevel{
		{Name: "MA", Type: "strong_ma", Price: 50.5},
		{Name: "PP", Type: "pivot", Price: 49.6},
	}, 1.0)
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}

	z := zones[0]
	if !floatEquals(z.Score, 2.5+5+2) {
		t.Errorf("Expected score 9.5, got %v", z.Score)
	}
	if z.ZoneID != "poc-2" {
		t.Errorf("Expected zone id poc-2, got %s", z.ZoneID)
	}
	if !floatEquals(z.ZoneHigh, 50.5) || !floatEquals(z.ZoneLow, 49.5) {
		t.Errorf("Expected band [49.5, 50.5], got [%v, %v]", z.ZoneLow, z.ZoneHigh)
	}
}

func TestBuild_OverlapNotContainment(t *testing.T) {
	b := NewBuilder(testCatalog(), zerolog.Nop())

	// Zone [49, 51]; pivot bands are +/-0.2. "edge" spans [50.9, 51.3], which
	// overlaps without being contained. "far" spans [51.1, 51.5].
	zones, _ := b.Build([]analysis.POC{{Price: 50, Rank: 1}}, []TechnicalLevel{
		{Name: "far", Type: "pivot", Price: 51.3},
		{Name: "edge", Type: "pivot", Price: 51.1},
	}, 2.0)

	z := zones[0]
	if z.OverlapCount != 1 || z.Confluences[0] != "edge" {
		t.Errorf("Expected only the edge level to overlap, got %v", z.Confluences)
	}
}

func TestBuild_SkipsUnknownAndBadLevels(t *testing.T) {
	b := NewBuilder(testCatalog(), zerolog.Nop())
	zones, err := b.Build([]analysis.POC{{Price: 10, Rank: 1}}, []TechnicalLevel{
		{Name: "mystery", Type: "unknown", Price: 10},
		{Name: "nan", Type: "pivot", Price: math.NaN()},
	}, 1.0)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if zones[0].OverlapCount != 0 {
		t.Errorf("Expected no overlaps, got %d", zones[0].OverlapCount)
	}
	if !floatEquals(zones[0].Score, RankBaseWeight(1)) {
		t.Errorf("Expected base weight only, got %v", zones[0].Score)
	}
}

func TestBuild_CapsConfluenceNames(t *testing.T) {
	b := NewBuilder(testCatalog(), zerolog.Nop())
	levels := make([]TechnicalLevel, 0, 7)
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		levels = append(levels, TechnicalLevel{Name: name, Type: "pivot", Price: 10})
	}

	zones, _ := b.Build([]analysis.POC{{Price: 10, Rank: 1}}, levels, 1.0)
	z := zones[0]
	if z.OverlapCount != 7 {
		t.Errorf("Expected overlap count 7, got %d", z.OverlapCount)
	}
	if len(z.Confluences) != 6 || z.Confluences[5] != "+2 more" {
		t.Errorf("Expected 5 names plus suffix, got %v", z.Confluences)
	}
}

func TestBuild_InvalidATR(t *testing.T) {
	b := NewBuilder(nil, zerolog.Nop())
	for _, atr := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if _, err := b.Build(nil, nil, atr); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("ATR %v: expected ErrInvalidConfig, got %v", atr, err)
		}
	}
}

func TestRankBaseWeight(t *testing.T) {
	tests := []struct {
		rank int
		want float64
	}{
		{1, 3.0}, {2, 2.5}, {3, 2.0}, {4, 1.5}, {5, 1.5}, {6, 1.0}, {20, 1.0},
	}
	for _, tt := range tests {
		if got := RankBaseWeight(tt.rank); got != tt.want {
			t.Errorf("Rank %d: expected %v, got %v", tt.rank, tt.want, got)
		}
	}
}
