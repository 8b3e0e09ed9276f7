package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"zone-backtester/config"
	"zone-backtester/internal/api"
	"zone-backtester/internal/app"
	"zone-backtester/internal/logging"
)

func main() {
	configPath := flag.String("config", config.DefaultConfigFile, "path to a JSON or YAML config file")
	sample := flag.String("generate-config", "", "write a sample config to this path and exit")
	flag.Parse()

	if *sample != "" {
		if err := config.GenerateSampleConfig(*sample); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write sample config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Sample config written to %s\n", *sample)
		return
	}

	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger, err := logging.New(cfg.Logging("main"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize logging")
	}
	logging.SetDefault(logger)

	ctx := context.Background()
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize backtester")
	}
	defer application.Close()

	gin.SetMode(gin.ReleaseMode)

	var trades api.TradeStore
	if application.Repo != nil {
		trades = application.Repo
	}
	server := api.NewServer(cfg.ServerConfig, application.Pipeline, trades, logger).
		WithBatchWorkers(cfg.BatchConfig.WorkerCount)
	if application.Repo != nil {
		server.AddHealthCheck("database", application.Repo.HealthCheck)
	}
	if application.Cache != nil {
		server.AddHealthCheck("redis", application.Cache.Ping)
		server.AddHealthDetail("redis", func() interface{} { return application.Cache.GetStats() })
	}
	if cfg.MetricsConfig.Enabled {
		server.MountMetrics(cfg.MetricsConfig.Path, application.Registry)
	}

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Failed to start web server")
		}
	}()

	logger.Info().
		Str("timezone", cfg.SimulationConfig.Timezone).
		Bool("database", application.Repo != nil).
		Bool("redis", application.Cache != nil).
		Bool("kafka", application.Kafka != nil).
		Msg("Zone backtester started")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error shutting down web server")
	}

	logger.Info().Msg("Shutdown complete")
}
