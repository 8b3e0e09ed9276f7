package analysis

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"zone-backtester/internal/market"
)

const floatDelta = 1e-9

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < floatDelta
}

func minuteBar(i int, low, high, volume float64) market.Bar {
	return market.Bar{
		Timestamp: time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC).Add(time.Duration(i) * time.Minute),
		Open:      low,
		High:      high,
		Low:       low,
		Close:     high,
		Volume:    volume,
	}
}

func TestVolumeProfile_SpreadsVolumeEvenly(t *testing.T) {
	vp, err := BuildVolumeProfile([]market.Bar{minuteBar(0, 10.00, 10.03, 300)}, 0.01)
	if err != nil {
		t.Fatalf("BuildVolumeProfile returned error: %v", err)
	}

	levels := vp.Levels()
	if len(levels) != 4 {
		t.Fatalf("Expected 4 levels, got %d", len(levels))
	}

	expectedPrices := []float64{10.00, 10.01, 10.02, 10.03}
	for i, level := range levels {
		if !floatEquals(level.Price, expectedPrices[i]) {
			t.Errorf("Level %d: expected price %.2f, got %v", i, expectedPrices[i], level.Price)
		}
		if !floatEquals(level.Volume, 75) {
			t.Errorf("Level %d: expected volume 75, got %v", i, level.Volume)
		}
	}
}

func TestVolumeProfile_RoundsOutward(t *testing.T) {
	vp, _ := NewVolumeProfile(0.05)
	if !vp.Add(minuteBar(0, 10.02, 10.08, 60)) {
		t.Fatal("Expected bar to be accumulated")
	}

	// [10.02, 10.08] rounds out to [10.00, 10.10]: three levels
	if vp.Len() != 3 {
		t.Fatalf("Expected 3 levels, got %d", vp.Len())
	}
	if !floatEquals(vp.VolumeAt(10.00), 20) || !floatEquals(vp.VolumeAt(10.10), 20) {
		t.Errorf("Unexpected edge volumes: %v / %v", vp.VolumeAt(10.00), vp.VolumeAt(10.10))
	}
}

func TestVolumeProfile_SkipsBadBars(t *testing.T) {
	bars := []market.Bar{
		minuteBar(0, 10, 10, 100),        // zero range
		minuteBar(1, 10, 11, 0),          // no volume
		minuteBar(2, 10, 11, -5),         // negative volume
		minuteBar(3, math.NaN(), 11, 10), // NaN
	}

	vp, err := BuildVolumeProfile(bars, 0.01)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if vp.Len() != 0 {
		t.Errorf("Expected empty profile, got %d levels", vp.Len())
	}
	if vp.Skipped() != 4 {
		t.Errorf("Expected 4 skipped bars, got %d", vp.Skipped())
	}

	pocs, err := IdentifyPOCs(bars, 0.01, 5, 2, 1.0)
	if err != nil {
		t.Fatalf("Expected no error for empty profile, got %v", err)
	}
	if len(pocs) != 0 {
		t.Errorf("Expected no POCs, got %d", len(pocs))
	}
}

func TestIdentifyPOCs_InvalidConfig(t *testing.T) {
	bars := []market.Bar{minuteBar(0, 10, 11, 100)}

	tests := []struct {
		name        string
		granularity float64
		count       int
		divisor     float64
		atr         float64
	}{
		{"zero granularity", 0, 5, 2, 1},
		{"negative granularity", -0.01, 5, 2, 1},
		{"zero count", 0.01, 0, 2, 1},
		{"zero divisor", 0.01, 5, 0, 1},
		{"nan atr", 0.01, 5, 2, math.NaN()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := IdentifyPOCs(bars, tt.granularity, tt.count, tt.divisor, tt.atr)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestIdentifyPOCs_RankAndSpacing(t *testing.T) {
	bars := []market.Bar{
		minuteBar(0, 10.00, 10.01, 1000), // 500 at 10.00 and 10.01
		minuteBar(1, 10.50, 10.50, 0),
		minuteBar(2, 12.00, 12.01, 600), // 300 each
		minuteBar(3, 11.00, 11.01, 200), // 100 each
	}

	pocs, err := IdentifyPOCs(bars, 0.01, 3, 2, 1.0)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(pocs) != 3 {
		t.Fatalf("Expected 3 POCs, got %d: %+v", len(pocs), pocs)
	}

	// 10.01 ties with 10.00 but is within 0.5 of it
	want := []float64{10.00, 12.00, 11.00}
	for i, p := range pocs {
		if p.Rank != i+1 {
			t.Errorf("POC %d: expected rank %d, got %d", i, i+1, p.Rank)
		}
		if !floatEquals(p.Price, want[i]) {
			t.Errorf("POC %d: expected price %.2f, got %v", i, want[i], p.Price)
		}
	}
}

func TestIdentifyPOCs_MinimumDistanceProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 25; trial++ {
		bars := make([]market.Bar, 0, 200)
		price := 50.0
		for i := 0; i < 200; i++ {
			price += rng.Float64() - 0.5
			low := price - rng.Float64()
			high := price + rng.Float64()
			bars = append(bars, minuteBar(i, low, high, float64(100+rng.Intn(900))))
		}

		atr := 0.5 + rng.Float64()*2
		divisor := 1 + rng.Float64()*3
		pocs, err := IdentifyPOCs(bars, 0.01, 8, divisor, atr)
		if err != nil {
			t.Fatalf("Trial %d: unexpected error %v", trial, err)
		}

		minDist := atr / divisor
		for i := 0; i < len(pocs); i++ {
			for j := i + 1; j < len(pocs); j++ {
				if math.Abs(pocs[i].Price-pocs[j].Price) < minDist {
					t.Fatalf("Trial %d: POCs %v and %v closer than %v", trial, pocs[i].Price, pocs[j].Price, minDist)
				}
			}
		}
	}
}

func TestIdentifyPOCs_Deterministic(t *testing.T) {
	bars := []market.Bar{
		minuteBar(0, 20.00, 20.04, 500),
		minuteBar(1, 20.02, 20.06, 500),
		minuteBar(2, 21.00, 21.04, 500),
	}

	first, _ := IdentifyPOCs(bars, 0.01, 4, 4, 0.2)
	for i := 0; i < 10; i++ {
		again, _ := IdentifyPOCs(bars, 0.01, 4, 4, 0.2)
		if len(again) != len(first) {
			t.Fatalf("Run %d: length changed", i)
		}
		for j := range first {
			if first[j] != again[j] {
				t.Fatalf("Run %d: POC %d changed from %+v to %+v", i, j, first[j], again[j])
			}
		}
	}
}

func TestPOCIdentifier_DerivesATR(t *testing.T) {
	pi := NewPOCIdentifier(0.01, 3, 2)

	// Single day: fallback ATR
	_, atr, err := pi.Identify([]market.Bar{minuteBar(0, 10, 10.5, 100)}, 0)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if atr != DefaultFallbackATR {
		t.Errorf("Expected fallback ATR %v, got %v", DefaultFallbackATR, atr)
	}

	// Supplied ATR wins
	_, atr, _ = pi.Identify([]market.Bar{minuteBar(0, 10, 10.5, 100)}, 0.75)
	if atr != 0.75 {
		t.Errorf("Expected supplied ATR 0.75, got %v", atr)
	}
}
