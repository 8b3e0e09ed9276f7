package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"zone-backtester/internal/market"
	"zone-backtester/internal/risk"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile returned error: %v", err)
	}
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.ZonesConfig.Granularity != 0.01 || cfg.ZonesConfig.POCCount != 10 {
		t.Errorf("Expected default granularity 0.01 and 10 POCs, got %v and %d",
			cfg.ZonesConfig.Granularity, cfg.ZonesConfig.POCCount)
	}
	if len(cfg.ZonesConfig.TierThresholds) != 4 || cfg.ZonesConfig.TierThresholds[0] != 12 {
		t.Errorf("Expected default tier thresholds, got %v", cfg.ZonesConfig.TierThresholds)
	}
	if cfg.RedisConfig.ZoneTTL != 168*time.Hour {
		t.Errorf("Expected 168h zone ttl, got %s", cfg.RedisConfig.ZoneTTL)
	}
	if !cfg.ExitConfig.StructureExit || cfg.ServerConfig.Port != 8080 {
		t.Errorf("Expected structure exit on and port 8080, got %v %d", cfg.ExitConfig.StructureExit, cfg.ServerConfig.Port)
	}
}

func TestLoad_YAMLAndEnv(t *testing.T) {
	path := writeFile(t, "config.yaml", `
zones:
  granularity: 0.05
  max_zones: 3
exit:
  stop_type: swing
  structure_exit: false
simulation:
  timezone: UTC
`)
	t.Setenv("BATCH_WORKERS", "8")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.ZonesConfig.Granularity != 0.05 || cfg.ZonesConfig.MaxZones != 3 {
		t.Errorf("Expected file values, got %v %d", cfg.ZonesConfig.Granularity, cfg.ZonesConfig.MaxZones)
	}
	if cfg.ZonesConfig.POCCount != 10 {
		t.Errorf("Expected untouched default POC count, got %d", cfg.ZonesConfig.POCCount)
	}
	if cfg.ExitConfig.StructureExit {
		t.Error("Expected explicit false to survive defaults")
	}
	if cfg.BatchConfig.WorkerCount != 8 {
		t.Errorf("Expected env worker count 8, got %d", cfg.BatchConfig.WorkerCount)
	}
	if !cfg.KafkaConfig.Enabled || len(cfg.KafkaConfig.Brokers) != 2 {
		t.Errorf("Expected kafka enabled with 2 brokers, got %v %v", cfg.KafkaConfig.Enabled, cfg.KafkaConfig.Brokers)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"bad stop type", "c.json", `{"exit": {"stop_type": "magic"}}`},
		{"bad window", "c.json", `{"entry": {"window_start": "16:00", "window_end": "09:30"}}`},
		{"bad timezone", "c.json", `{"simulation": {"timezone": "Mars/Olympus"}}`},
		{"database without url", "c.json", `{"database": {"enabled": true}}`},
		{"three tiers", "c.yml", "zones:\n  tier_thresholds: [9, 6, 3]\n"},
		{"malformed", "c.json", `{"zones": `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeFile(t, tt.file, tt.content)); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestEngine(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"entry": {"timeframe": "1m", "window_start": "09:30", "window_end": "11:00"},
		"exit": {"timeframe": "5m", "stop_type": "prior_bar", "force_exit": "15:55"},
		"simulation": {"timezone": "America/New_York", "max_trades_per_day": 2}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	engine, err := cfg.Engine()
	if err != nil {
		t.Fatalf("Engine returned error: %v", err)
	}

	if engine.EntryTimeframe != market.Timeframe1m || engine.ExitTimeframe != market.Timeframe5m {
		t.Errorf("Expected 1m/5m streams, got %s/%s", engine.EntryTimeframe, engine.ExitTimeframe)
	}
	if engine.Sim.StopType != risk.StopPriorBar || engine.Sim.MaxTradesPerDay != 2 {
		t.Errorf("Expected prior_bar stop and 2 trades, got %s %d", engine.Sim.StopType, engine.Sim.MaxTradesPerDay)
	}
	if engine.Sim.Exit.ForceExit != 15*time.Hour+55*time.Minute {
		t.Errorf("Expected force exit 15:55, got %s", engine.Sim.Exit.ForceExit)
	}
	if engine.Filter.TierThresholds != [4]float64{12, 9, 6, 3} {
		t.Errorf("Expected default thresholds, got %v", engine.Filter.TierThresholds)
	}

	// 09:30 New York is 14:30 UTC in winter
	inside := time.Date(2024, 1, 8, 14, 30, 0, 0, time.UTC)
	if !engine.Sim.Window.Contains(inside) || engine.Sim.Window.Contains(inside.Add(-time.Minute)) {
		t.Error("Expected the entry window to be evaluated in the session time zone")
	}
}

func TestGenerateSampleConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.yaml")
	if err := GenerateSampleConfig(path); err != nil {
		t.Fatalf("GenerateSampleConfig returned error: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load of sample returned error: %v", err)
	}
	if len(cfg.BatchConfig.Tickers) != 2 {
		t.Errorf("Expected sample tickers, got %v", cfg.BatchConfig.Tickers)
	}
}
