// Package app wires configuration into a ready pipeline and its optional
// storage, cache and publishing backends. Both binaries share it.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"zone-backtester/config"
	"zone-backtester/internal/backtest"
	"zone-backtester/internal/cache"
	"zone-backtester/internal/database"
	"zone-backtester/internal/events"
	"zone-backtester/internal/levels"
	"zone-backtester/internal/market"
	"zone-backtester/internal/metrics"
	"zone-backtester/internal/publish"
)

// App holds the wired components. Optional backends are nil when disabled.
type App struct {
	Config   *config.Config
	Pipeline *backtest.Pipeline
	Registry *prometheus.Registry
	Metrics  *metrics.Recorder
	EventBus *events.EventBus

	DB    *database.DB
	Repo  *database.Repository
	Cache *cache.CacheService
	Kafka *publish.KafkaSink

	logger zerolog.Logger
}

// New connects the configured backends and builds the pipeline. Bars come from
// Postgres when the database is enabled, otherwise from CSV files in the
// batch data directory.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	engine, err := cfg.Engine()
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:   cfg,
		Registry: prometheus.NewRegistry(),
		EventBus: events.NewEventBus(),
		logger:   logger.With().Str("component", "app").Logger(),
	}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)

	var bars backtest.BarProvider
	if cfg.DatabaseConfig.Enabled {
		db, err := database.NewDB(ctx, cfg.DatabaseConfig, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.DB = db
		if cfg.DatabaseConfig.RunMigrations {
			if err := db.RunMigrations(ctx); err != nil {
				a.Close()
				return nil, err
			}
		}
		a.Repo = database.NewRepository(db)
		bars = a.Repo
	} else {
		memory := market.NewMemoryBarProvider()
		if dir := cfg.BatchConfig.DataDir; dir != "" {
			tickers, err := market.LoadCSVDir(memory, dir, engine.Location)
			if err != nil {
				return nil, fmt.Errorf("failed to load bars from %s: %w", dir, err)
			}
			a.logger.Info().Str("dir", dir).Strs("tickers", tickers).Msg("Loaded CSV bars")
		} else {
			a.logger.Warn().Msg("Database disabled and no data_dir set: no bars available")
		}
		bars = memory
	}

	calc := levels.NewCalculator(bars, engine.Location, logger)
	var intraday []market.Timeframe
	for _, tf := range []market.Timeframe{engine.ZoneATRTimeframe, engine.PriceATRTimeframe} {
		if tf != market.Timeframe1d {
			intraday = append(intraday, tf)
		}
	}
	if len(intraday) > 0 {
		calc.WithIntradayATR(intraday...)
	}
	pipeline, err := backtest.NewPipeline(engine, bars, calc, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	pipeline.WithMetrics(a.Metrics).WithEventBus(a.EventBus)

	if cfg.RedisConfig.Enabled {
		cs, err := cache.NewCacheService(cfg.RedisConfig, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Cache = cs
		zc := cache.NewZoneCache(cs, cfg.RedisConfig.ZoneTTL, logger)
		pipeline.WithZoneSource(zc).WithZoneSink(zc)
	}

	if a.Repo != nil {
		pipeline.WithZoneSink(a.Repo).WithTradeSink(a.Repo)
	}

	if cfg.KafkaConfig.Enabled {
		sink, err := publish.NewKafkaSink(cfg.KafkaConfig, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Kafka = sink
		pipeline.WithZoneSink(sink).WithTradeSink(sink)
	}

	a.Pipeline = pipeline
	a.subscribeEvents()
	return a, nil
}

// subscribeEvents mirrors failures and batch boundaries into the log
func (a *App) subscribeEvents() {
	a.EventBus.Subscribe(events.EventTickerDayFailed, func(e events.Event) {
		a.logger.Warn().Interface("data", e.Data).Msg("Ticker-day failed")
	})
	a.EventBus.Subscribe(events.EventBatchCompleted, func(e events.Event) {
		a.logger.Info().Interface("data", e.Data).Msg("Batch completed")
	})
}

// Close releases every connected backend
func (a *App) Close() {
	if a.Kafka != nil {
		if err := a.Kafka.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close Kafka writer")
		}
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close Redis client")
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
