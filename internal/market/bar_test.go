package market

import (
	"context"
	"math"
	"testing"
	"time"
)

func at(hour, min int) time.Time {
	return time.Date(2024, 3, 4, hour, min, 0, 0, time.UTC)
}

func TestBarValid(t *testing.T) {
	tests := []struct {
		name string
		bar  Bar
		want bool
	}{
		{"normal", Bar{Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100}, true},
		{"zero range", Bar{Open: 10, High: 10, Low: 10, Close: 10, Volume: 100}, true},
		{"inverted", Bar{Open: 10, High: 9, Low: 11, Close: 10, Volume: 100}, false},
		{"nan close", Bar{Open: 10, High: 11, Low: 9, Close: math.NaN(), Volume: 100}, false},
		{"inf volume", Bar{Open: 10, High: 11, Low: 9, Close: 10, Volume: math.Inf(1)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.bar.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResampleDaily(t *testing.T) {
	day2 := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	bars := []Bar{
		{Timestamp: at(9, 30), Open: 10, High: 11, Low: 9.5, Close: 10.5, Volume: 100},
		{Timestamp: at(9, 31), Open: 10.5, High: 12, Low: 10, Close: 11.5, Volume: 50},
		{Timestamp: at(9, 32), Open: 11.5, High: 11.6, Low: math.NaN(), Close: 11, Volume: 10},
		{Timestamp: day2, Open: 11, High: 11.2, Low: 10.8, Close: 11.1, Volume: 70},
	}

	daily := ResampleDaily(bars, time.UTC)
	if len(daily) != 2 {
		t.Fatalf("Expected 2 daily bars, got %d", len(daily))
	}

	d := daily[0]
	if d.Open != 10 || d.High != 12 || d.Low != 9.5 || d.Close != 11.5 || d.Volume != 150 {
		t.Errorf("Unexpected first daily bar: %+v", d)
	}
	if !d.Timestamp.Equal(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected midnight timestamp, got %v", d.Timestamp)
	}
}

func TestMemoryBarProvider_GetBars(t *testing.T) {
	p := NewMemoryBarProvider()
	p.Load("SPY", Timeframe1m, []Bar{
		{Timestamp: at(9, 32), Close: 3},
		{Timestamp: at(9, 30), Close: 1},
		{Timestamp: at(9, 31), Close: 2},
	})

	bars, err := p.GetBars(context.Background(), "SPY", at(9, 31), at(9, 33), Timeframe1m)
	if err != nil {
		t.Fatalf("GetBars returned error: %v", err)
	}
	if len(bars) != 2 || bars[0].Close != 2 || bars[1].Close != 3 {
		t.Errorf("Unexpected window: %+v", bars)
	}

	missing, err := p.GetBars(context.Background(), "QQQ", at(9, 0), at(16, 0), Timeframe1m)
	if err != nil || len(missing) != 0 {
		t.Errorf("Expected empty result for unknown ticker, got %v, %v", missing, err)
	}

	p.Invalidate("SPY")
	bars, _ = p.GetBars(context.Background(), "SPY", at(9, 0), at(16, 0), Timeframe1m)
	if len(bars) != 0 {
		t.Errorf("Expected invalidated series to be empty, got %d bars", len(bars))
	}
}

func TestIsChronological(t *testing.T) {
	if !IsChronological([]Bar{{Timestamp: at(9, 30)}, {Timestamp: at(9, 31)}}) {
		t.Error("Expected ordered bars to be chronological")
	}
	if IsChronological([]Bar{{Timestamp: at(9, 31)}, {Timestamp: at(9, 30)}}) {
		t.Error("Expected reversed bars to not be chronological")
	}
}
