package levels

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"zone-backtester/internal/analysis"
	"zone-backtester/internal/market"
)

// BarSource returns chronological bars with start <= timestamp < end
type BarSource interface {
	GetBars(ctx context.Context, ticker string, start, end time.Time, tf market.Timeframe) ([]market.Bar, error)
}

// Calculator derives a Snapshot for a ticker and session from a bar source
type Calculator struct {
	bars          BarSource
	loc           *time.Location
	lookbackDays  int
	atrPeriod     int
	fallbackATR   float64
	swingLookback int
	timeframes    []market.Timeframe
	logger        zerolog.Logger
}

// NewCalculator creates a calculator with a 400 day lookback and daily ATR only
func NewCalculator(bars BarSource, loc *time.Location, logger zerolog.Logger) *Calculator {
	if loc == nil {
		loc = time.UTC
	}
	return &Calculator{
		bars:          bars,
		loc:           loc,
		lookbackDays:  400,
		atrPeriod:     analysis.DefaultATRPeriod,
		fallbackATR:   analysis.DefaultFallbackATR,
		swingLookback: 2,
		logger:        logger.With().Str("component", "LevelCalculator").Logger(),
	}
}

// WithIntradayATR also computes ATR for the given intraday timeframes
func (c *Calculator) WithIntradayATR(tfs ...market.Timeframe) *Calculator {
	c.timeframes = append(c.timeframes, tfs...)
	return c
}

// WithFallbackATR overrides the daily ATR used when history is too short
func (c *Calculator) WithFallbackATR(atr float64) *Calculator {
	if atr > 0 {
		c.fallbackATR = atr
	}
	return c
}

// GetLevels builds the snapshot in force at the open of date
func (c *Calculator) GetLevels(ctx context.Context, ticker string, date time.Time) (*Snapshot, error) {
	session := market.SessionDate(date, c.loc)
	start := session.AddDate(0, 0, -c.lookbackDays)

	daily, err := c.bars.GetBars(ctx, ticker, start, session, market.Timeframe1d)
	if err != nil {
		return nil, fmt.Errorf("failed to load daily bars for %s: %w", ticker, err)
	}

	var priorIntraday []market.Bar
	if len(daily) > 0 {
		priorDay := market.SessionDate(daily[len(daily)-1].Timestamp, c.loc)
		priorIntraday, err = c.bars.GetBars(ctx, ticker, priorDay, priorDay.AddDate(0, 0, 1), market.Timeframe1m)
		if err != nil {
			return nil, fmt.Errorf("failed to load prior session bars for %s: %w", ticker, err)
		}
	}

	snapshot := &Snapshot{
		Ticker: ticker,
		Date:   session,
		Levels: Compute(daily, priorIntraday, session, c.loc, c.swingLookback),
		ATR:    make(map[market.Timeframe]float64),
	}

	dailyATR := analysis.AverageTrueRange(daily, c.atrPeriod)
	if len(daily) < 2 || !(dailyATR > 0) {
		c.logger.Debug().Str("ticker", ticker).Int("daily_bars", len(daily)).Msg("Using fallback daily ATR")
		dailyATR = c.fallbackATR
	}
	snapshot.ATR[market.Timeframe1d] = dailyATR

	for _, tf := range c.timeframes {
		bars, err := c.bars.GetBars(ctx, ticker, session.AddDate(0, 0, -5), session, tf)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s bars for %s: %w", tf, ticker, err)
		}
		if atr := analysis.AverageTrueRange(bars, c.atrPeriod); atr > 0 {
			snapshot.ATR[tf] = atr
		}
	}

	c.logger.Debug().
		Str("ticker", ticker).
		Time("date", session).
		Int("levels", len(snapshot.Levels)).
		Float64("daily_atr", dailyATR).
		Msg("Calculated reference levels")

	return snapshot, nil
}
