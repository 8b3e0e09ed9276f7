package backtest

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"zone-backtester/internal/confluence"
	"zone-backtester/internal/entry"
	"zone-backtester/internal/market"
	"zone-backtester/internal/risk"
)

const fixedStop risk.StopType = "fixed_2"

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func minuteBar(min int, o, h, l, c float64) market.Bar {
	return market.Bar{
		Timestamp: time.Date(2024, 3, 4, 9, 30+min, 0, 0, time.UTC),
		Open:      o,
		High:      h,
		Low:       l,
		Close:     c,
		Volume:    1000,
	}
}

func testZone() *confluence.FilteredZone {
	return &confluence.FilteredZone{
		ConfluenceZone: confluence.ConfluenceZone{
			ZoneID:   "SPY-100.00",
			POCPrice: 101,
			ZoneHigh: 102,
			ZoneLow:  100,
			Score:    8,
		},
		ProximityGroup: 1,
		Tier:           confluence.TierT3,
	}
}

func testSimulator(t *testing.T, mutate func(*SimConfig)) *Simulator {
	t.Helper()
	window, err := market.NewWindow("09:30", "16:00", time.UTC)
	if err != nil {
		t.Fatalf("NewWindow returned error: %v", err)
	}
	cfg := SimConfig{
		Window:    window,
		StopType:  fixedStop,
		RMultiple: 2,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	stops := risk.StopTable{
		fixedStop: func(_ []market.Bar, s entry.EntrySignal) float64 {
			return s.EntryPrice - 2*s.Direction.Sign()
		},
	}
	return NewSimulator(cfg, stops, zerolog.Nop())
}

func dayInput(bars []market.Bar) DayInput {
	zone := testZone()
	return DayInput{
		Ticker:    "SPY",
		Date:      time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		EntryBars: bars,
		Zones:     []confluence.FilteredZone{*zone},
		Primary:   zone,
	}
}

// breakout above the zone, one bar higher, then a close below the stop
func stoppedOutBars() []market.Bar {
	return []market.Bar{
		minuteBar(0, 99, 103.5, 98.8, 103),
		minuteBar(1, 103, 104, 102.5, 104),
		minuteBar(2, 104, 104, 100, 100.5),
	}
}

func TestSimulator_StopScenario(t *testing.T) {
	sim := testSimulator(t, nil)

	trades, err := sim.Run(dayInput(stoppedOutBars()))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("Expected 1 trade, got %d", len(trades))
	}

	tr := trades[0]
	if tr.Entry.ModelID != entry.ModelPrimaryContinuation || tr.Entry.Direction != entry.Long {
		t.Errorf("Expected model 1 LONG, got model %d %s", tr.Entry.ModelID, tr.Entry.Direction)
	}
	if tr.Entry.EntryPrice != 103 || tr.StopPrice != 101 || tr.TargetPrice != 107 {
		t.Errorf("Expected entry 103 stop 101 target 107, got %v %v %v", tr.Entry.EntryPrice, tr.StopPrice, tr.TargetPrice)
	}
	if tr.Exit.Reason != risk.ExitStop {
		t.Errorf("Expected STOP exit, got %s", tr.Exit.Reason)
	}
	if tr.Exit.BarIndex != 2 || tr.Exit.ExitPrice != 100.5 {
		t.Errorf("Expected exit at bar 2 price 100.5, got bar %d price %v", tr.Exit.BarIndex, tr.Exit.ExitPrice)
	}
	if !floatEquals(tr.Exit.PnL, -2.5) || !floatEquals(tr.Exit.PnLR, -1.25) || tr.Exit.IsWin {
		t.Errorf("Expected -2.5 / -1.25R loss, got %v / %vR win=%v", tr.Exit.PnL, tr.Exit.PnLR, tr.Exit.IsWin)
	}
	if !floatEquals(tr.MFER, 0.5) || !floatEquals(tr.MAER, 1.5) {
		t.Errorf("Expected MFE 0.5R MAE 1.5R, got %v %v", tr.MFER, tr.MAER)
	}
	if tr.TradeID == "" || tr.StopType != fixedStop {
		t.Errorf("Expected trade id and stop type to be set, got %q %q", tr.TradeID, tr.StopType)
	}
}

func TestSimulator_EndOfData(t *testing.T) {
	sim := testSimulator(t, nil)

	trades, err := sim.Run(dayInput(stoppedOutBars()[:2]))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("Expected 1 trade, got %d", len(trades))
	}
	exit := trades[0].Exit
	if exit.Reason != risk.ExitEndOfData {
		t.Errorf("Expected END_OF_DATA, got %s", exit.Reason)
	}
	if exit.ExitPrice != 104 || !floatEquals(exit.PnLR, 0.5) || !exit.IsWin {
		t.Errorf("Expected win at 104 for 0.5R, got %v %vR win=%v", exit.ExitPrice, exit.PnLR, exit.IsWin)
	}
}

func TestSimulator_OutsideWindow(t *testing.T) {
	sim := testSimulator(t, nil)

	bars := stoppedOutBars()
	for i := range bars {
		bars[i].Timestamp = bars[i].Timestamp.Add(-2 * time.Hour)
	}

	trades, err := sim.Run(dayInput(bars))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(trades) != 0 {
		t.Errorf("Expected no trades outside the window, got %d", len(trades))
	}
}

func TestSimulator_Reentry(t *testing.T) {
	bars := append(stoppedOutBars(),
		minuteBar(3, 99, 103.5, 98.8, 103),
		minuteBar(4, 103, 103.5, 102.5, 103.5),
	)

	tests := []struct {
		name     string
		allow    bool
		maxTrade int
		expected int
	}{
		{"reentry disabled", false, 0, 1},
		{"reentry unlimited", true, 0, 2},
		{"reentry capped", true, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := testSimulator(t, func(c *SimConfig) {
				c.AllowReentry = tt.allow
				c.MaxTradesPerDay = tt.maxTrade
			})
			trades, err := sim.Run(dayInput(bars))
			if err != nil {
				t.Fatalf("Run returned error: %v", err)
			}
			if len(trades) != tt.expected {
				t.Fatalf("Expected %d trades, got %d", tt.expected, len(trades))
			}
			if tt.expected == 2 {
				second := trades[1]
				if second.Entry.BarIndex != 3 || second.Exit.Reason != risk.ExitEndOfData {
					t.Errorf("Expected second entry at bar 3 closed at end of data, got bar %d %s",
						second.Entry.BarIndex, second.Exit.Reason)
				}
				if second.TradeID == trades[0].TradeID {
					t.Error("Expected distinct trade ids")
				}
			}
		})
	}
}

func TestSimulator_CoarseExitStream(t *testing.T) {
	sim := testSimulator(t, nil)

	in := dayInput(stoppedOutBars())
	// one coarse bar covering the whole move, opening after the entry bar
	in.ExitBars = []market.Bar{
		{
			Timestamp: time.Date(2024, 3, 4, 9, 31, 0, 0, time.UTC),
			Open:      103,
			High:      104,
			Low:       100,
			Close:     100.5,
			Volume:    2000,
		},
	}

	trades, err := sim.Run(in)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(trades) != 1 || trades[0].Exit.Reason != risk.ExitStop {
		t.Fatalf("Expected one STOP trade on the coarse stream, got %+v", trades)
	}
	if trades[0].Exit.BarIndex != 0 {
		t.Errorf("Expected exit index 0 in the exit stream, got %d", trades[0].Exit.BarIndex)
	}
}

func TestSimulator_UnorderedBars(t *testing.T) {
	sim := testSimulator(t, nil)

	bars := stoppedOutBars()
	bars[0], bars[1] = bars[1], bars[0]

	_, err := sim.Run(dayInput(bars))
	if !errors.Is(err, ErrUnorderedBars) {
		t.Errorf("Expected ErrUnorderedBars, got %v", err)
	}
}

func TestSimulator_Deterministic(t *testing.T) {
	sim := testSimulator(t, func(c *SimConfig) { c.AllowReentry = true })
	bars := append(stoppedOutBars(), minuteBar(3, 99, 103.5, 98.8, 103))

	first, err := sim.Run(dayInput(bars))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	second, err := sim.Run(dayInput(bars))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Expected identical trades on identical input:\n%+v\n%+v", first, second)
	}

	for _, tr := range first {
		if (tr.Exit.PnLR > 0) != tr.Exit.IsWin {
			t.Errorf("R multiple %v disagrees with win flag %v", tr.Exit.PnLR, tr.Exit.IsWin)
		}
	}
}

func TestSimulator_CompareStops(t *testing.T) {
	window, _ := market.NewWindow("09:30", "16:00", time.UTC)
	sim := NewSimulator(SimConfig{Window: window}, nil, zerolog.Nop())

	byStop, err := sim.CompareStops(dayInput(stoppedOutBars()))
	if err != nil {
		t.Fatalf("CompareStops returned error: %v", err)
	}
	if len(byStop) != len(risk.DefaultStopTable()) {
		t.Fatalf("Expected a result per stop type, got %d", len(byStop))
	}

	zb := byStop[risk.StopZoneBuffer]
	if len(zb) != 1 {
		t.Fatalf("Expected 1 zone buffer trade, got %d", len(zb))
	}
	if !floatEquals(zb[0].StopPrice, 99.9) {
		t.Errorf("Expected zone buffer stop 99.9, got %v", zb[0].StopPrice)
	}

	pb := byStop[risk.StopPriorBar]
	if len(pb) != 1 || pb[0].StopPrice != 98.8 {
		t.Errorf("Expected prior bar stop at 98.8, got %+v", pb)
	}

	// one bar of history has no ATR, so the signal is skipped
	if len(byStop[risk.StopATR]) != 0 {
		t.Errorf("Expected no ATR-stop trades, got %d", len(byStop[risk.StopATR]))
	}

	for typ, trades := range byStop {
		for _, tr := range trades {
			if tr.StopType != typ {
				t.Errorf("Expected stop type %s, got %s", typ, tr.StopType)
			}
		}
	}
}

func TestSimulator_UnknownStopType(t *testing.T) {
	sim := testSimulator(t, func(c *SimConfig) { c.StopType = "nope" })

	if _, err := sim.Run(dayInput(stoppedOutBars())); err == nil {
		t.Error("Expected error for unknown stop type")
	}
}

func TestSimulator_EndOfDataSkipsInvalidBars(t *testing.T) {
	entryBar := minuteBar(0, 99, 103.5, 98.8, 103)

	tests := []struct {
		name      string
		bars      []market.Bar
		wantIndex int
		wantPrice float64
		wantR     float64
	}{
		{
			"last valid bar after entry",
			[]market.Bar{entryBar, minuteBar(1, 103, 104, 102.5, 104), minuteBar(2, 104, 104.2, 103.8, math.NaN())},
			1, 104, 0.5,
		},
		{
			"only the entry bar is valid",
			[]market.Bar{entryBar, minuteBar(1, 103, 104, 102.5, math.NaN())},
			0, 103, 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trades, err := testSimulator(t, nil).Run(dayInput(tt.bars))
			if err != nil {
				t.Fatalf("Run returned error: %v", err)
			}
			if len(trades) != 1 {
				t.Fatalf("Expected 1 trade, got %d", len(trades))
			}

			exit := trades[0].Exit
			if exit.Reason != risk.ExitEndOfData {
				t.Errorf("Expected END_OF_DATA, got %s", exit.Reason)
			}
			if exit.BarIndex != tt.wantIndex || exit.ExitPrice != tt.wantPrice || !floatEquals(exit.PnLR, tt.wantR) {
				t.Errorf("Expected exit at bar %d price %v for %vR, got bar %d price %v for %vR",
					tt.wantIndex, tt.wantPrice, tt.wantR, exit.BarIndex, exit.ExitPrice, exit.PnLR)
			}
			if (exit.PnLR > 0) != exit.IsWin {
				t.Errorf("R multiple %v disagrees with win flag %v", exit.PnLR, exit.IsWin)
			}

			s := Summarize(trades)
			if math.IsNaN(s.TotalR) || math.IsNaN(s.MaxDrawdownR) {
				t.Errorf("Expected finite summary, got total %v drawdown %v", s.TotalR, s.MaxDrawdownR)
			}
		})
	}
}

func TestSimulator_CoarseExitBarWaitsForItsClose(t *testing.T) {
	sim := testSimulator(t, func(c *SimConfig) { c.AllowReentry = true })

	flat := func(min int) market.Bar { return minuteBar(min, 99, 99.5, 98.5, 99) }
	breakout := func(min int) market.Bar { return minuteBar(min, 99, 103.5, 98.8, 103) }
	held := func(min int) market.Bar { return minuteBar(min, 103, 103.5, 102.5, 103) }

	bars := []market.Bar{
		flat(0), flat(1), flat(2), flat(3), flat(4), flat(5),
		breakout(6),
		held(7), held(8), held(9), held(10),
		// the 09:40 five-minute bar has not closed yet, so this cannot enter
		breakout(11),
		flat(12), flat(13), flat(14), flat(15),
		breakout(16),
	}

	fiveMinute := func(min int, o, h, l, c float64) market.Bar {
		b := minuteBar(min, o, h, l, c)
		b.Volume = 5000
		return b
	}

	in := dayInput(bars)
	in.EntryTF = market.Timeframe1m
	in.ExitTF = market.Timeframe5m
	in.ExitBars = []market.Bar{
		fiveMinute(0, 99, 99.5, 98.5, 99),
		fiveMinute(5, 99, 103.5, 98.5, 103),
		fiveMinute(10, 103, 104, 100, 100.5),
		fiveMinute(15, 99, 103.5, 98.5, 103),
	}

	trades, err := sim.Run(in)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("Expected 2 trades, got %d", len(trades))
	}

	first, second := trades[0], trades[1]
	if first.Exit.Reason != risk.ExitStop || first.Exit.ExitPrice != 100.5 {
		t.Errorf("Expected first trade stopped at 100.5, got %s at %v", first.Exit.Reason, first.Exit.ExitPrice)
	}
	if !first.Exit.ExitTime.Equal(time.Date(2024, 3, 4, 9, 40, 0, 0, time.UTC)) {
		t.Errorf("Expected first exit on the 09:40 bar, got %s", first.Exit.ExitTime)
	}

	exitBarClose := first.Exit.ExitTime.Add(market.Timeframe5m.Duration())
	if second.Entry.EntryTime.Before(exitBarClose) {
		t.Errorf("Expected re-entry after the exit bar closed at %s, got %s", exitBarClose, second.Entry.EntryTime)
	}
	if !second.Entry.EntryTime.Equal(time.Date(2024, 3, 4, 9, 46, 0, 0, time.UTC)) {
		t.Errorf("Expected second entry at 09:46, got %s", second.Entry.EntryTime)
	}
}

// swingThenReversal rises through a swing high before the entry bar, then prints
// a higher swing low after entry and closes below it above the stop
func swingThenReversal() []market.Bar {
	return []market.Bar{
		minuteBar(0, 96.8, 97, 96, 96.5),
		minuteBar(1, 96.5, 98, 96.5, 97.5),
		minuteBar(2, 97.5, 99, 97, 98),
		minuteBar(3, 98, 98.5, 97, 97.5),
		minuteBar(4, 97.5, 98, 96.8, 97),
		minuteBar(5, 97.5, 99.5, 97.5, 99.3),
		minuteBar(6, 99, 103.5, 98.8, 103),
		minuteBar(7, 103, 104, 103, 103.8),
		minuteBar(8, 103.8, 104.5, 103.2, 104.2),
		minuteBar(9, 104.2, 104.6, 102.5, 103.5),
		minuteBar(10, 103.5, 105, 103.4, 104.8),
		minuteBar(11, 104.8, 105.5, 104, 105.2),
		minuteBar(12, 105.2, 105.3, 101.8, 102.2),
	}
}

func TestSimulator_StructureExit(t *testing.T) {
	tests := []struct {
		name       string
		warmup     int
		wantReason risk.ExitReason
	}{
		// warm-up sees the break of the 99 swing high, so the later break is a CHoCH
		{"warmed bullish", 6, risk.ExitStructure},
		// without warm-up the same break is only a BOS
		{"no warm-up", 0, risk.ExitEndOfData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := testSimulator(t, func(c *SimConfig) {
				c.Exit = risk.ExitConfig{StructureExit: true}
				c.StructureWarmup = tt.warmup
			})

			trades, err := sim.Run(dayInput(swingThenReversal()))
			if err != nil {
				t.Fatalf("Run returned error: %v", err)
			}
			if len(trades) != 1 {
				t.Fatalf("Expected 1 trade, got %d", len(trades))
			}

			tr := trades[0]
			if tr.Entry.Direction != entry.Long || tr.Entry.EntryPrice != 103 {
				t.Errorf("Expected LONG at 103, got %s at %v", tr.Entry.Direction, tr.Entry.EntryPrice)
			}
			if tr.Exit.Reason != tt.wantReason {
				t.Fatalf("Expected %s exit, got %s", tt.wantReason, tr.Exit.Reason)
			}
			if tr.Exit.BarIndex != 12 || tr.Exit.ExitPrice != 102.2 {
				t.Errorf("Expected exit at bar 12 price 102.2, got bar %d price %v", tr.Exit.BarIndex, tr.Exit.ExitPrice)
			}
			if !floatEquals(tr.Exit.PnLR, -0.4) || tr.Exit.IsWin {
				t.Errorf("Expected -0.4R loss, got %vR win=%v", tr.Exit.PnLR, tr.Exit.IsWin)
			}
		})
	}
}
