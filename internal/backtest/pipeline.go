package backtest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"zone-backtester/internal/analysis"
	"zone-backtester/internal/confluence"
	"zone-backtester/internal/events"
	"zone-backtester/internal/levels"
	"zone-backtester/internal/market"
)

// BarProvider returns chronological bars with start <= timestamp < end.
// Missing days are simply absent from the result.
type BarProvider interface {
	GetBars(ctx context.Context, ticker string, start, end time.Time, tf market.Timeframe) ([]market.Bar, error)
}

// LevelProvider returns the reference levels and per-timeframe ATR in force for a session
type LevelProvider interface {
	GetLevels(ctx context.Context, ticker string, date time.Time) (*levels.Snapshot, error)
}

// ZoneSource returns pre-computed zones. found is false on a miss.
type ZoneSource interface {
	GetZones(ctx context.Context, ticker string, date time.Time) (zones []confluence.FilteredZone, found bool, err error)
}

// ZoneSink stores computed zones
type ZoneSink interface {
	SaveZones(ctx context.Context, ticker string, date time.Time, zones []confluence.FilteredZone) error
}

// TradeSink receives completed trades
type TradeSink interface {
	SaveTrades(ctx context.Context, trades []CompletedTrade) error
}

// Metrics receives pipeline and batch measurements
type Metrics interface {
	RecordTickerDay(status string, seconds float64)
	RecordTrade(reason, model, stopType string, pnlR float64)
	RecordZones(kept int)
	RecordBatchJob(result string)
}

type noopMetrics struct{}

func (noopMetrics) RecordTickerDay(string, float64)             {}
func (noopMetrics) RecordTrade(string, string, string, float64) {}
func (noopMetrics) RecordZones(int)                             {}
func (noopMetrics) RecordBatchJob(string)                       {}

// PipelineConfig holds the zone and data parameters of a ticker-day run
type PipelineConfig struct {
	EntryTimeframe market.Timeframe
	// ExitTimeframe empty means the entry stream is reused for exits
	ExitTimeframe       market.Timeframe
	ProfileTimeframe    market.Timeframe
	ProfileLookbackDays int
	Granularity         float64
	POCCount            int
	OverlapATRDivisor   float64
	MaxZones            int
	// ZoneATRTimeframe selects the snapshot ATR used for zone width and POC spacing
	ZoneATRTimeframe market.Timeframe
	// PriceATRTimeframe selects the snapshot ATR used for proximity distance
	PriceATRTimeframe market.Timeframe
	Location          *time.Location
	// CompareStops also simulates every stop type in the table
	CompareStops bool
	Filter       confluence.FilterConfig
	Catalog      confluence.Catalog
	Sim          SimConfig
}

// DefaultPipelineConfig returns the defaults used by the binaries
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		EntryTimeframe:      market.Timeframe1m,
		ExitTimeframe:       market.Timeframe5m,
		ProfileTimeframe:    market.Timeframe5m,
		ProfileLookbackDays: 10,
		Granularity:         0.01,
		POCCount:            10,
		OverlapATRDivisor:   4,
		MaxZones:            5,
		ZoneATRTimeframe:    market.Timeframe1d,
		PriceATRTimeframe:   market.Timeframe1d,
		Location:            time.UTC,
		Filter:              confluence.DefaultFilterConfig(),
		Catalog:             confluence.DefaultCatalog(),
	}
}

// DayResult is the outcome of one ticker-day
type DayResult struct {
	Ticker      string                      `json:"ticker"`
	Date        time.Time                   `json:"date"`
	Price       float64                     `json:"price"`
	ZonesCached bool                        `json:"zones_cached"`
	Zones       []confluence.FilteredZone   `json:"zones"`
	Primary     *confluence.FilteredZone    `json:"primary,omitempty"`
	Secondary   *confluence.FilteredZone    `json:"secondary,omitempty"`
	Trades      []CompletedTrade            `json:"trades"`
	ByStopType  map[string][]CompletedTrade `json:"by_stop_type,omitempty"`
	Summary     TradeSummary                `json:"summary"`
}

// Pipeline fetches data, builds zones and simulates one ticker-day at a time.
// It holds no per-day state and is safe for concurrent use.
type Pipeline struct {
	cfg       PipelineConfig
	bars      BarProvider
	levels    LevelProvider
	zones     ZoneSource
	zoneSinks []ZoneSink
	sinks     []TradeSink
	metrics   Metrics
	eventBus  *events.EventBus

	identifier *analysis.POCIdentifier
	builder    *confluence.Builder
	filter     *confluence.Filter
	simulator  *Simulator
	logger     zerolog.Logger
}

// NewPipeline validates cfg and creates a pipeline
func NewPipeline(cfg PipelineConfig, bars BarProvider, lp LevelProvider, logger zerolog.Logger) (*Pipeline, error) {
	if bars == nil || lp == nil {
		return nil, errors.New("bar and level providers are required")
	}
	if !cfg.EntryTimeframe.IsValid() || !cfg.ProfileTimeframe.IsValid() {
		return nil, fmt.Errorf("%w: entry %q and profile %q timeframes must be valid",
			analysis.ErrInvalidConfig, cfg.EntryTimeframe, cfg.ProfileTimeframe)
	}
	if cfg.ExitTimeframe != "" && !cfg.ExitTimeframe.IsValid() {
		return nil, fmt.Errorf("%w: exit timeframe %q", analysis.ErrInvalidConfig, cfg.ExitTimeframe)
	}
	if cfg.ProfileLookbackDays <= 0 {
		return nil, fmt.Errorf("%w: profile lookback days must be positive, got %d",
			analysis.ErrInvalidConfig, cfg.ProfileLookbackDays)
	}
	if cfg.ZoneATRTimeframe == "" {
		cfg.ZoneATRTimeframe = market.Timeframe1d
	}
	if cfg.PriceATRTimeframe == "" {
		cfg.PriceATRTimeframe = cfg.ZoneATRTimeframe
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Catalog == nil {
		cfg.Catalog = confluence.DefaultCatalog()
	}

	filter, err := confluence.NewFilter(cfg.Filter, logger)
	if err != nil {
		return nil, err
	}

	identifier := analysis.NewPOCIdentifier(cfg.Granularity, cfg.POCCount, cfg.OverlapATRDivisor)
	identifier.Location = cfg.Location

	return &Pipeline{
		cfg:        cfg,
		bars:       bars,
		levels:     lp,
		metrics:    noopMetrics{},
		identifier: identifier,
		builder:    confluence.NewBuilder(cfg.Catalog, logger),
		filter:     filter,
		simulator:  NewSimulator(cfg.Sim, nil, logger),
		logger:     logger.With().Str("component", "Pipeline").Logger(),
	}, nil
}

// WithZoneSource consults src before computing zones
func (p *Pipeline) WithZoneSource(src ZoneSource) *Pipeline {
	p.zones = src
	return p
}

// WithZoneSink writes freshly computed zones to sink
func (p *Pipeline) WithZoneSink(sink ZoneSink) *Pipeline {
	p.zoneSinks = append(p.zoneSinks, sink)
	return p
}

// WithTradeSink forwards completed trades to sink
func (p *Pipeline) WithTradeSink(sink TradeSink) *Pipeline {
	p.sinks = append(p.sinks, sink)
	return p
}

// WithMetrics sets the metrics recorder
func (p *Pipeline) WithMetrics(m Metrics) *Pipeline {
	if m != nil {
		p.metrics = m
	}
	return p
}

// WithEventBus publishes zone and trade events to bus
func (p *Pipeline) WithEventBus(bus *events.EventBus) *Pipeline {
	p.eventBus = bus
	return p
}

// Metrics returns the recorder in use
func (p *Pipeline) Metrics() Metrics {
	return p.metrics
}

// EventBus returns the configured bus, or nil
func (p *Pipeline) EventBus() *events.EventBus {
	return p.eventBus
}

// Location returns the session time zone
func (p *Pipeline) Location() *time.Location {
	return p.cfg.Location
}

// ComputeZones builds and filters zones for the session of date, relative to price.
// Returns ErrNoBars when there is no profile history.
func (p *Pipeline) ComputeZones(ctx context.Context, ticker string, date time.Time, price float64) ([]confluence.FilteredZone, error) {
	session := market.SessionDate(date, p.cfg.Location)

	snapshot, err := p.levels.GetLevels(ctx, ticker, session)
	if err != nil {
		return nil, fmt.Errorf("failed to get levels for %s: %w", ticker, err)
	}

	start := session.AddDate(0, 0, -p.cfg.ProfileLookbackDays)
	profileBars, err := p.bars.GetBars(ctx, ticker, start, session, p.cfg.ProfileTimeframe)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s profile bars for %s: %w", p.cfg.ProfileTimeframe, ticker, err)
	}
	if len(profileBars) == 0 {
		return nil, fmt.Errorf("%w: no %s profile bars for %s before %s",
			ErrNoBars, p.cfg.ProfileTimeframe, ticker, session.Format("2006-01-02"))
	}

	zoneATR := snapshot.ATRFor(p.cfg.ZoneATRTimeframe)
	pocs, zoneATR, err := p.identifier.Identify(profileBars, zoneATR)
	if err != nil {
		return nil, err
	}

	zones, err := p.builder.Build(pocs, snapshot.Levels, zoneATR)
	if err != nil {
		return nil, err
	}

	priceATR := snapshot.ATRFor(p.cfg.PriceATRTimeframe)
	if !(priceATR > 0) {
		priceATR = zoneATR
	}
	filtered, err := p.filter.Apply(zones, price, priceATR, p.cfg.MaxZones)
	if err != nil {
		return nil, err
	}

	p.logger.Debug().
		Str("ticker", ticker).
		Str("date", session.Format("2006-01-02")).
		Int("pocs", len(pocs)).
		Int("zones", len(zones)).
		Int("kept", len(filtered)).
		Float64("zone_atr", zoneATR).
		Msg("Computed zones")

	return filtered, nil
}

// RunTickerDay runs the full pipeline for one ticker-day. The session price is the
// open of the first entry bar inside the entry window. A day without in-window entry
// bars or profile history yields an empty result, not an error. Sink failures are
// logged and never fail the day.
func (p *Pipeline) RunTickerDay(ctx context.Context, ticker string, date time.Time) (*DayResult, error) {
	started := time.Now()
	result, err := p.runTickerDay(ctx, ticker, date)

	status := "ok"
	if err != nil {
		status = "failed"
	}
	p.metrics.RecordTickerDay(status, time.Since(started).Seconds())
	return result, err
}

func (p *Pipeline) runTickerDay(ctx context.Context, ticker string, date time.Time) (*DayResult, error) {
	session := market.SessionDate(date, p.cfg.Location)
	result := &DayResult{Ticker: ticker, Date: session}

	next := session.AddDate(0, 0, 1)
	entryBars, err := p.bars.GetBars(ctx, ticker, session, next, p.cfg.EntryTimeframe)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s entry bars for %s: %w", p.cfg.EntryTimeframe, ticker, err)
	}
	if len(entryBars) == 0 {
		p.logger.Debug().Str("ticker", ticker).Str("date", session.Format("2006-01-02")).Msg("No entry bars")
		result.Summary = Summarize(nil)
		return result, nil
	}

	var exitBars []market.Bar
	if p.cfg.ExitTimeframe != "" && p.cfg.ExitTimeframe != p.cfg.EntryTimeframe {
		exitBars, err = p.bars.GetBars(ctx, ticker, session, next, p.cfg.ExitTimeframe)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s exit bars for %s: %w", p.cfg.ExitTimeframe, ticker, err)
		}
	}

	open, ok := sessionOpen(entryBars, p.cfg.Sim.Window)
	if !ok {
		p.logger.Debug().Str("ticker", ticker).Str("date", session.Format("2006-01-02")).Msg("No entry bars inside the window")
		result.Summary = Summarize(nil)
		return result, nil
	}
	result.Price = open

	zones, cached, err := p.zonesFor(ctx, ticker, session, result.Price)
	if errors.Is(err, ErrNoBars) {
		result.Summary = Summarize(nil)
		return result, nil
	}
	if err != nil {
		return nil, err
	}
	result.Zones = zones
	result.ZonesCached = cached
	result.Primary, result.Secondary = confluence.SelectZones(zones, result.Price)
	p.metrics.RecordZones(len(zones))
	if p.eventBus != nil {
		p.eventBus.PublishZonesComputed(ticker, session, len(zones), cached)
	}

	in := DayInput{
		Ticker:    ticker,
		Date:      session,
		EntryBars: entryBars,
		ExitBars:  exitBars,
		EntryTF:   p.cfg.EntryTimeframe,
		ExitTF:    p.cfg.ExitTimeframe,
		Zones:     zones,
		Primary:   result.Primary,
		Secondary: result.Secondary,
	}

	trades, err := p.simulator.Run(in)
	if err != nil {
		return nil, err
	}
	result.Trades = trades
	result.Summary = Summarize(trades)

	if p.cfg.CompareStops {
		byStop, err := p.simulator.CompareStops(in)
		if err != nil {
			return nil, err
		}
		result.ByStopType = make(map[string][]CompletedTrade, len(byStop))
		for typ, t := range byStop {
			result.ByStopType[string(typ)] = t
		}
	}

	for _, t := range trades {
		p.metrics.RecordTrade(string(t.Exit.Reason), strconv.Itoa(int(t.Entry.ModelID)), string(t.StopType), t.Exit.PnLR)
		if p.eventBus != nil {
			p.eventBus.PublishTradeClosed(t.TradeID, t.Ticker, string(t.Entry.Direction), string(t.Exit.Reason),
				t.Entry.EntryPrice, t.Exit.ExitPrice, t.Exit.PnLR)
		}
	}

	if len(trades) > 0 {
		for _, sink := range p.sinks {
			if err := sink.SaveTrades(ctx, trades); err != nil {
				p.logger.Error().Err(err).Str("ticker", ticker).Int("trades", len(trades)).Msg("Failed to save trades")
			}
		}
	}

	p.logger.Debug().
		Str("ticker", ticker).
		Str("date", session.Format("2006-01-02")).
		Int("zones", len(zones)).
		Int("trades", len(trades)).
		Float64("total_r", result.Summary.TotalR).
		Msg("Ticker-day complete")

	return result, nil
}

func (p *Pipeline) zonesFor(ctx context.Context, ticker string, session time.Time, price float64) ([]confluence.FilteredZone, bool, error) {
	if p.zones != nil {
		zones, found, err := p.zones.GetZones(ctx, ticker, session)
		if err != nil {
			// a broken cache never blocks the run
			p.logger.Warn().Err(err).Str("ticker", ticker).Msg("Zone source lookup failed")
		} else if found {
			return zones, true, nil
		}
	}

	zones, err := p.ComputeZones(ctx, ticker, session, price)
	if err != nil {
		return nil, false, err
	}

	for _, sink := range p.zoneSinks {
		if err := sink.SaveZones(ctx, ticker, session, zones); err != nil {
			p.logger.Error().Err(err).Str("ticker", ticker).Msg("Failed to save zones")
		}
	}
	return zones, false, nil
}

// sessionOpen returns the open of the first valid bar inside w
func sessionOpen(bars []market.Bar, w market.Window) (float64, bool) {
	for _, b := range bars {
		if b.Valid() && w.Contains(b.Timestamp) {
			return b.Open, true
		}
	}
	return 0, false
}
