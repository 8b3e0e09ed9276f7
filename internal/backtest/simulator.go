package backtest

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"zone-backtester/internal/confluence"
	"zone-backtester/internal/entry"
	"zone-backtester/internal/market"
	"zone-backtester/internal/risk"
	"zone-backtester/internal/structure"
)

var (
	// ErrUnorderedBars is returned when a bar stream is not strictly chronological
	ErrUnorderedBars = errors.New("bars are not in chronological order")
	// ErrNoBars is returned when a ticker-day has no entry bars to simulate
	ErrNoBars = errors.New("no bars")
)

// tradeNamespace scopes deterministic trade ids
var tradeNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("zone-backtester/trade"))

// SimConfig holds the per ticker-day simulation parameters
type SimConfig struct {
	Window          market.Window
	HistoryCapacity int
	Exit            risk.ExitConfig
	StopType        risk.StopType
	RMultiple       float64
	FractalBars     int
	// StructureWarmup is how many exit-stream bars before entry seed the tracker
	StructureWarmup int
	AllowReentry    bool
	// MaxTradesPerDay caps trades per ticker-day; zero means no cap
	MaxTradesPerDay int
}

// CompletedTrade is an immutable trade record
type CompletedTrade struct {
	TradeID     string            `json:"trade_id"`
	Ticker      string            `json:"ticker"`
	Date        time.Time         `json:"date"`
	Entry       entry.EntrySignal `json:"entry"`
	Exit        risk.ExitSignal   `json:"exit"`
	StopType    risk.StopType     `json:"stop_type"`
	StopPrice   float64           `json:"stop_price"`
	TargetPrice float64           `json:"target_price"`
	TargetKind  risk.TargetKind   `json:"target_kind"`
	Risk        float64           `json:"risk"`
	MFER        float64           `json:"mfe_r"`
	MAER        float64           `json:"mae_r"`
}

// DayInput is everything one ticker-day simulation reads
type DayInput struct {
	Ticker    string
	Date      time.Time
	EntryBars []market.Bar
	// ExitBars may be coarser than EntryBars; empty means EntryBars are reused
	ExitBars  []market.Bar
	// EntryTF and ExitTF give each stream's bar close time. An exit bar reaches
	// the exit manager only after it has closed. Empty means bars close at their
	// timestamp.
	EntryTF   market.Timeframe
	ExitTF    market.Timeframe
	Zones     []confluence.FilteredZone
	Primary   *confluence.FilteredZone
	Secondary *confluence.FilteredZone
}

// Simulator runs the entry/exit state machine over one ticker-day
type Simulator struct {
	cfg    SimConfig
	stops  risk.StopTable
	logger zerolog.Logger
}

// NewSimulator creates a simulator. A nil table uses risk.DefaultStopTable.
func NewSimulator(cfg SimConfig, stops risk.StopTable, logger zerolog.Logger) *Simulator {
	if stops == nil {
		stops = risk.DefaultStopTable()
	}
	if cfg.StopType == "" {
		cfg.StopType = risk.StopZoneBuffer
	}
	if cfg.FractalBars <= 0 {
		cfg.FractalBars = structure.DefaultFractalBars
	}
	return &Simulator{
		cfg:    cfg,
		stops:  stops,
		logger: logger.With().Str("component", "Simulator").Logger(),
	}
}

// Run simulates the configured stop type
func (s *Simulator) Run(in DayInput) ([]CompletedTrade, error) {
	return s.run(in, s.cfg.StopType)
}

// CompareStops runs the same day once per stop type in the table
func (s *Simulator) CompareStops(in DayInput) (map[risk.StopType][]CompletedTrade, error) {
	out := make(map[risk.StopType][]CompletedTrade, len(s.stops))
	for _, typ := range s.stops.Types() {
		trades, err := s.run(in, typ)
		if err != nil {
			return nil, fmt.Errorf("stop type %s: %w", typ, err)
		}
		out[typ] = trades
	}
	return out, nil
}

// daySession holds the mutable state of one run
type daySession struct {
	sim      *Simulator
	in       DayInput
	stopType risk.StopType
	exits    *risk.ExitManager

	pos     *risk.Position
	tracker *structure.Tracker
	trades  []CompletedTrade
}

func (s *Simulator) run(in DayInput, stopType risk.StopType) ([]CompletedTrade, error) {
	stopFn, err := s.stops.Get(stopType)
	if err != nil {
		return nil, err
	}
	if !market.IsChronological(in.EntryBars) {
		return nil, fmt.Errorf("entry stream: %w", ErrUnorderedBars)
	}
	exitBars, exitTF := in.ExitBars, in.ExitTF
	if len(exitBars) == 0 {
		exitBars, exitTF = in.EntryBars, in.EntryTF
	} else if !market.IsChronological(exitBars) {
		return nil, fmt.Errorf("exit stream: %w", ErrUnorderedBars)
	}
	entrySpan, exitSpan := in.EntryTF.Duration(), exitTF.Duration()

	ds := &daySession{
		sim:      s,
		in:       in,
		stopType: stopType,
		exits:    risk.NewExitManager(s.cfg.Exit, s.logger),
	}
	detector := entry.NewDetector(s.cfg.Window, s.cfg.HistoryCapacity, s.logger)

	ei := 0
	for i, bar := range in.EntryBars {
		closesAt := bar.Timestamp.Add(entrySpan)
		for ei < len(exitBars) && exitBars[ei].Timestamp.Add(exitSpan).Before(closesAt) {
			ds.onExitBar(exitBars[ei], ei)
			ei++
		}

		// every bar feeds the detector so price origin sees the full history
		signals := detector.CheckEntries(bar, in.Primary, in.Secondary)
		if ds.pos != nil || len(signals) == 0 || !ds.canEnter() {
			continue
		}

		sig := firstByModel(signals)
		stop := stopFn(in.EntryBars[:i+1], sig)
		ds.open(sig, stop, exitBars[max(0, ei-s.cfg.StructureWarmup):ei])
	}

	for ; ei < len(exitBars); ei++ {
		ds.onExitBar(exitBars[ei], ei)
	}

	if ds.pos != nil {
		ds.closeEndOfData(exitBars)
	}

	return ds.trades, nil
}

// closeEndOfData closes the open position at the last valid exit bar after entry.
// A coarse stream may end before the entry, so the entry stream is the fallback;
// its search stops at the entry bar, which is always valid.
func (ds *daySession) closeEndOfData(exitBars []market.Bar) {
	entryTime := ds.pos.Signal.EntryTime
	for i := len(exitBars) - 1; i >= 0 && exitBars[i].Timestamp.After(entryTime); i-- {
		if exitBars[i].Valid() {
			ds.record(risk.Close(ds.pos, exitBars[i], i, risk.ExitEndOfData))
			return
		}
	}
	bars := ds.in.EntryBars
	for i := len(bars) - 1; i >= 0 && !bars[i].Timestamp.Before(entryTime); i-- {
		if bars[i].Valid() {
			ds.record(risk.Close(ds.pos, bars[i], i, risk.ExitEndOfData))
			return
		}
	}
}

func (ds *daySession) canEnter() bool {
	if len(ds.trades) > 0 && !ds.sim.cfg.AllowReentry {
		return false
	}
	return ds.sim.cfg.MaxTradesPerDay <= 0 || len(ds.trades) < ds.sim.cfg.MaxTradesPerDay
}

func (ds *daySession) open(sig entry.EntrySignal, stop float64, warmup []market.Bar) {
	riskPerShare := (sig.EntryPrice - stop) * sig.Direction.Sign()
	target, kind := risk.CalculateTarget(sig.Direction, sig.EntryPrice, riskPerShare, ds.sim.cfg.RMultiple, ds.in.Zones)

	pos, err := risk.NewPosition(sig, ds.stopType, stop, target, kind)
	if err != nil {
		ds.sim.logger.Debug().
			Err(err).
			Str("ticker", ds.in.Ticker).
			Int("model", int(sig.ModelID)).
			Msg("Skipping signal with invalid stop")
		return
	}

	ds.pos = pos
	ds.tracker = structure.NewTracker(ds.sim.cfg.FractalBars)
	ds.tracker.Warm(warmup)
}

func (ds *daySession) onExitBar(bar market.Bar, index int) {
	if ds.pos == nil || !bar.Valid() {
		return
	}

	events := ds.tracker.Update(bar)
	if !bar.Timestamp.After(ds.pos.Signal.EntryTime) {
		return
	}

	ds.pos.UpdateExcursion(bar)
	if exit := ds.exits.CheckExit(bar, index, ds.pos, events); exit != nil {
		ds.record(*exit)
	}
}

func (ds *daySession) record(exit risk.ExitSignal) {
	pos := ds.pos
	ds.trades = append(ds.trades, CompletedTrade{
		TradeID:     tradeID(ds.in.Ticker, ds.in.Date, ds.stopType, pos.Signal),
		Ticker:      ds.in.Ticker,
		Date:        ds.in.Date,
		Entry:       pos.Signal,
		Exit:        exit,
		StopType:    ds.stopType,
		StopPrice:   pos.Stop,
		TargetPrice: pos.Target,
		TargetKind:  pos.TargetKind,
		Risk:        pos.Risk,
		MFER:        pos.MFER(),
		MAER:        pos.MAER(),
	})
	ds.pos = nil
	ds.tracker = nil
}

// firstByModel returns the signal with the lowest model id
func firstByModel(signals []entry.EntrySignal) entry.EntrySignal {
	best := signals[0]
	for _, s := range signals[1:] {
		if s.ModelID < best.ModelID {
			best = s
		}
	}
	return best
}

func tradeID(ticker string, date time.Time, stopType risk.StopType, sig entry.EntrySignal) string {
	name := fmt.Sprintf("%s|%s|%s|%d|%s|%d",
		ticker, date.Format("2006-01-02"), stopType, sig.ModelID, sig.EntryTime.UTC().Format(time.RFC3339Nano), sig.BarIndex)
	return uuid.NewSHA1(tradeNamespace, []byte(name)).String()
}
