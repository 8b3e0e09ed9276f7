package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // session time zones without a system zoneinfo

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"zone-backtester/internal/backtest"
	"zone-backtester/internal/confluence"
	"zone-backtester/internal/logging"
	"zone-backtester/internal/market"
	"zone-backtester/internal/risk"
)

// DefaultConfigFile is read when Load is given no path
const DefaultConfigFile = "config.json"

type Config struct {
	ZonesConfig      ZonesConfig      `json:"zones" yaml:"zones"`
	EntryConfig      EntryConfig      `json:"entry" yaml:"entry"`
	ExitConfig       ExitConfig       `json:"exit" yaml:"exit"`
	SimulationConfig SimulationConfig `json:"simulation" yaml:"simulation"`
	BatchConfig      BatchConfig      `json:"batch" yaml:"batch"`
	LoggingConfig    LoggingConfig    `json:"logging" yaml:"logging"`
	ServerConfig     ServerConfig     `json:"server" yaml:"server"`
	DatabaseConfig   DatabaseConfig   `json:"database" yaml:"database"`
	RedisConfig      RedisConfig      `json:"redis" yaml:"redis"`
	KafkaConfig      KafkaConfig      `json:"kafka" yaml:"kafka"`
	MetricsConfig    MetricsConfig    `json:"metrics" yaml:"metrics"`
}

// ZonesConfig holds volume profile, confluence and filter parameters
type ZonesConfig struct {
	ProfileTimeframe    string    `json:"profile_timeframe" yaml:"profile_timeframe" default:"5m" validate:"oneof=1m 5m 15m 1h 1d"`
	ProfileLookbackDays int       `json:"profile_lookback_days" yaml:"profile_lookback_days" default:"10" validate:"gte=1,lte=365"`
	Granularity         float64   `json:"granularity" yaml:"granularity" default:"0.01" validate:"gt=0"`
	POCCount            int       `json:"poc_count" yaml:"poc_count" default:"10" validate:"gte=1,lte=50"`
	OverlapATRDivisor   float64   `json:"overlap_atr_divisor" yaml:"overlap_atr_divisor" default:"4" validate:"gt=0"`
	MaxZones            int       `json:"max_zones" yaml:"max_zones" default:"5" validate:"gte=1"`
	ZoneATRTimeframe    string    `json:"zone_atr_timeframe" yaml:"zone_atr_timeframe" default:"1d" validate:"oneof=1m 5m 15m 1h 1d"`
	PriceATRTimeframe   string    `json:"price_atr_timeframe" yaml:"price_atr_timeframe" default:"1d" validate:"oneof=1m 5m 15m 1h 1d"`
	TierThresholds      []float64 `json:"tier_thresholds" yaml:"tier_thresholds" default:"[12,9,6,3]" validate:"len=4"`        // T5, T4, T3, T2 minimum scores
	ProximityBounds     []float64 `json:"proximity_bounds" yaml:"proximity_bounds" default:"[1,2]" validate:"min=1,dive,gt=0"` // ATR distances
}

// EntryConfig holds entry detection parameters
type EntryConfig struct {
	Timeframe       string `json:"timeframe" yaml:"timeframe" default:"1m" validate:"oneof=1m 5m 15m 1h"`
	WindowStart     string `json:"window_start" yaml:"window_start" default:"09:35" validate:"required"`
	WindowEnd       string `json:"window_end" yaml:"window_end" default:"15:30" validate:"required"`
	HistoryCapacity int    `json:"history_capacity" yaml:"history_capacity" default:"1000" validate:"gte=1"`
}

// ExitConfig holds stop, target and exit parameters
type ExitConfig struct {
	Timeframe       string  `json:"timeframe" yaml:"timeframe" default:"5m" validate:"omitempty,oneof=1m 5m 15m 1h"`
	StopType        string  `json:"stop_type" yaml:"stop_type" default:"zone_buffer" validate:"oneof=zone_buffer prior_bar swing atr"`
	RMultiple       float64 `json:"r_multiple" yaml:"r_multiple" default:"2" validate:"gt=0"`
	StructureExit   bool    `json:"structure_exit" yaml:"structure_exit" default:"true"`
	FractalBars     int     `json:"fractal_bars" yaml:"fractal_bars" default:"2" validate:"gte=1"`
	StructureWarmup int     `json:"structure_warmup" yaml:"structure_warmup" default:"20" validate:"gte=0"`
	ForceExit       string  `json:"force_exit" yaml:"force_exit" default:"15:50"` // empty disables the EOD exit
}

// SimulationConfig holds per ticker-day simulation rules
type SimulationConfig struct {
	Timezone        string `json:"timezone" yaml:"timezone" default:"America/New_York" validate:"required"`
	AllowReentry    bool   `json:"allow_reentry" yaml:"allow_reentry" default:"true"`
	MaxTradesPerDay int    `json:"max_trades_per_day" yaml:"max_trades_per_day" default:"3" validate:"gte=0"`
	CompareStops    bool   `json:"compare_stops" yaml:"compare_stops"`
}

// BatchConfig holds batch runner settings
type BatchConfig struct {
	WorkerCount int      `json:"worker_count" yaml:"worker_count" default:"4" validate:"gte=1,lte=256"`
	Tickers     []string `json:"tickers" yaml:"tickers"`
	DataDir     string   `json:"data_dir" yaml:"data_dir"` // CSV bars, used when the database is disabled
}

type LoggingConfig struct {
	Level       string `json:"level" yaml:"level" default:"info"`
	Output      string `json:"output" yaml:"output" default:"stdout"`
	JSONFormat  bool   `json:"json_format" yaml:"json_format"`
	IncludeFile bool   `json:"include_file" yaml:"include_file"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int    `json:"port" yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
	Host            string `json:"host" yaml:"host" default:"0.0.0.0"`
	AllowedOrigins  string `json:"allowed_origins" yaml:"allowed_origins" default:"*"`    // CORS allowed origins, comma separated
	ReadTimeout     int    `json:"read_timeout" yaml:"read_timeout" default:"30"`         // Seconds
	WriteTimeout    int    `json:"write_timeout" yaml:"write_timeout" default:"300"`      // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout" yaml:"shutdown_timeout" default:"15"` // Seconds
}

// DatabaseConfig holds PostgreSQL configuration for bars, zones and trades
type DatabaseConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	URL           string `json:"url" yaml:"url" validate:"required_if=Enabled true"`
	MaxConns      int32  `json:"max_conns" yaml:"max_conns" default:"10" validate:"gte=1"`
	RunMigrations bool   `json:"run_migrations" yaml:"run_migrations" default:"true"`
}

// RedisConfig holds Redis configuration for the zone cache
type RedisConfig struct {
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	Address  string        `json:"address" yaml:"address" default:"localhost:6379"`
	Password string        `json:"password" yaml:"password"`
	DB       int           `json:"db" yaml:"db"`
	PoolSize int           `json:"pool_size" yaml:"pool_size" default:"10"`
	ZoneTTL  time.Duration `json:"zone_ttl" yaml:"zone_ttl" default:"168h"`
}

// KafkaConfig holds trade publication settings
type KafkaConfig struct {
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	Brokers     []string `json:"brokers" yaml:"brokers" validate:"required_if=Enabled true"`
	TradesTopic string   `json:"trades_topic" yaml:"trades_topic" default:"zone-backtester.trades"`
	ZonesTopic  string   `json:"zones_topic" yaml:"zones_topic" default:"zone-backtester.zones"`
}

// MetricsConfig holds Prometheus exposition settings
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" default:"true"`
	Path    string `json:"path" yaml:"path" default:"/metrics"`
}

// Load reads path (JSON, or YAML by extension), fills defaults, applies
// environment overrides and validates. A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFile
	}

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("error applying config defaults: %w", err)
	}

	if err := loadFromFile(path, cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	// Environment variables take precedence
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints and the parsed clock and time zone fields
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := market.NewWindow(c.EntryConfig.WindowStart, c.EntryConfig.WindowEnd, time.UTC); err != nil {
		return fmt.Errorf("invalid entry window: %w", err)
	}
	if c.ExitConfig.ForceExit != "" {
		if _, err := market.ParseClock(c.ExitConfig.ForceExit); err != nil {
			return fmt.Errorf("invalid force exit: %w", err)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)
	cfg.LoggingConfig.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.LoggingConfig.JSONFormat)

	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("SERVER_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)

	// Database config
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.DatabaseConfig.URL = url
		cfg.DatabaseConfig.Enabled = true
	}

	// Redis config
	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.ZoneTTL = getEnvDurationOrDefault("REDIS_ZONE_TTL", cfg.RedisConfig.ZoneTTL)

	// Kafka config
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaConfig.Brokers = strings.Split(brokers, ",")
		cfg.KafkaConfig.Enabled = true
	}

	// Simulation and batch config
	cfg.SimulationConfig.Timezone = getEnvOrDefault("SESSION_TIMEZONE", cfg.SimulationConfig.Timezone)
	cfg.BatchConfig.WorkerCount = getEnvIntOrDefault("BATCH_WORKERS", cfg.BatchConfig.WorkerCount)
	cfg.BatchConfig.DataDir = getEnvOrDefault("BARS_DIR", cfg.BatchConfig.DataDir)
	cfg.ZonesConfig.Granularity = getEnvFloatOrDefault("ZONES_GRANULARITY", cfg.ZonesConfig.Granularity)
}

func loadFromFile(filename string, cfg *Config) error {
	file, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(file, cfg)
	default:
		err = json.Unmarshal(file, cfg)
	}
	if err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Location returns the session time zone
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.SimulationConfig.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.SimulationConfig.Timezone, err)
	}
	return loc, nil
}

// Logging converts LoggingConfig to the format expected by the logging package
func (c *Config) Logging(component string) *logging.Config {
	return &logging.Config{
		Level:       c.LoggingConfig.Level,
		Output:      c.LoggingConfig.Output,
		Component:   component,
		IncludeFile: c.LoggingConfig.IncludeFile,
		JSONFormat:  c.LoggingConfig.JSONFormat,
	}
}

// Engine converts the zone, entry, exit and simulation sections into pipeline parameters
func (c *Config) Engine() (backtest.PipelineConfig, error) {
	loc, err := c.Location()
	if err != nil {
		return backtest.PipelineConfig{}, err
	}
	window, err := market.NewWindow(c.EntryConfig.WindowStart, c.EntryConfig.WindowEnd, loc)
	if err != nil {
		return backtest.PipelineConfig{}, fmt.Errorf("invalid entry window: %w", err)
	}

	var forceExit time.Duration
	if c.ExitConfig.ForceExit != "" {
		if forceExit, err = market.ParseClock(c.ExitConfig.ForceExit); err != nil {
			return backtest.PipelineConfig{}, fmt.Errorf("invalid force exit: %w", err)
		}
	}

	filter := confluence.FilterConfig{ProximityBounds: c.ZonesConfig.ProximityBounds}
	copy(filter.TierThresholds[:], c.ZonesConfig.TierThresholds)
	if err := filter.Validate(); err != nil {
		return backtest.PipelineConfig{}, err
	}

	z := c.ZonesConfig
	return backtest.PipelineConfig{
		EntryTimeframe:      market.Timeframe(c.EntryConfig.Timeframe),
		ExitTimeframe:       market.Timeframe(c.ExitConfig.Timeframe),
		ProfileTimeframe:    market.Timeframe(z.ProfileTimeframe),
		ProfileLookbackDays: z.ProfileLookbackDays,
		Granularity:         z.Granularity,
		POCCount:            z.POCCount,
		OverlapATRDivisor:   z.OverlapATRDivisor,
		MaxZones:            z.MaxZones,
		ZoneATRTimeframe:    market.Timeframe(z.ZoneATRTimeframe),
		PriceATRTimeframe:   market.Timeframe(z.PriceATRTimeframe),
		Location:            loc,
		CompareStops:        c.SimulationConfig.CompareStops,
		Filter:              filter,
		Catalog:             confluence.DefaultCatalog(),
		Sim: backtest.SimConfig{
			Window:          window,
			HistoryCapacity: c.EntryConfig.HistoryCapacity,
			Exit: risk.ExitConfig{
				StructureExit: c.ExitConfig.StructureExit,
				ForceExit:     forceExit,
				Location:      loc,
			},
			StopType:        risk.StopType(c.ExitConfig.StopType),
			RMultiple:       c.ExitConfig.RMultiple,
			FractalBars:     c.ExitConfig.FractalBars,
			StructureWarmup: c.ExitConfig.StructureWarmup,
			AllowReentry:    c.SimulationConfig.AllowReentry,
			MaxTradesPerDay: c.SimulationConfig.MaxTradesPerDay,
		},
	}, nil
}

// GenerateSampleConfig writes the default configuration to filename
func GenerateSampleConfig(filename string) error {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return err
	}
	cfg.BatchConfig.Tickers = []string{"SPY", "QQQ"}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
