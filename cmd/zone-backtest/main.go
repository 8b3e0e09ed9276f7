package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"zone-backtester/config"
	"zone-backtester/internal/app"
	"zone-backtester/internal/backtest"
	"zone-backtester/internal/entry"
	"zone-backtester/internal/logging"
	"zone-backtester/internal/market"
	"zone-backtester/internal/risk"
)

func main() {
	configPath := flag.String("config", config.DefaultConfigFile, "path to a JSON or YAML config file")
	tickersFlag := flag.String("tickers", "", "comma separated tickers (default: batch.tickers from config)")
	fromFlag := flag.String("from", "", "first session date, YYYY-MM-DD")
	toFlag := flag.String("to", "", "last session date, YYYY-MM-DD (default: from)")
	workers := flag.Int("workers", 0, "worker count (default: batch.worker_count from config)")
	jsonOut := flag.Bool("json", false, "print the full batch result as JSON")
	importFile := flag.String("import", "", "CSV file of bars to load into the database, then exit")
	importTicker := flag.String("ticker", "", "ticker of the imported CSV file")
	importTF := flag.String("timeframe", "1m", "timeframe of the imported CSV file")
	flag.Parse()

	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger, err := logging.New(cfg.Logging("zone-backtest"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize logging")
	}
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize backtester")
	}
	defer application.Close()

	if *importFile != "" {
		if err := importBars(ctx, application, *importFile, *importTicker, market.Timeframe(*importTF)); err != nil {
			logger.Error().Err(err).Msg("Import failed")
			os.Exit(1)
		}
		return
	}

	tickers := cfg.BatchConfig.Tickers
	if *tickersFlag != "" {
		tickers = strings.Split(*tickersFlag, ",")
	}
	for i := range tickers {
		tickers[i] = strings.ToUpper(strings.TrimSpace(tickers[i]))
	}
	if len(tickers) == 0 || *fromFlag == "" {
		fmt.Fprintln(os.Stderr, "usage: zone-backtest -tickers SPY,QQQ -from 2024-03-01 [-to 2024-03-31]")
		os.Exit(2)
	}

	loc := application.Pipeline.Location()
	from, err := time.ParseInLocation("2006-01-02", *fromFlag, loc)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid -from date")
	}
	to := from
	if *toFlag != "" {
		if to, err = time.ParseInLocation("2006-01-02", *toFlag, loc); err != nil {
			logger.Fatal().Err(err).Msg("Invalid -to date")
		}
	}

	n := cfg.BatchConfig.WorkerCount
	if *workers > 0 {
		n = *workers
	}

	runner := backtest.NewBatchRunner(application.Pipeline, n, logger).
		WithMetrics(application.Metrics).
		WithEventBus(application.EventBus)
	result := runner.Run(ctx, backtest.Jobs(tickers, from, to))

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			logger.Fatal().Err(err).Msg("Failed to encode result")
		}
	} else {
		printSummary(result)
	}

	if len(result.Errors) > 0 {
		os.Exit(1)
	}
}

func importBars(ctx context.Context, a *app.App, path, ticker string, tf market.Timeframe) error {
	if a.Repo == nil {
		return fmt.Errorf("import needs the database to be enabled")
	}
	if ticker == "" || !tf.IsValid() {
		return fmt.Errorf("import needs -ticker and a valid -timeframe")
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	bars, err := market.ReadCSV(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := a.Repo.UpsertBars(ctx, strings.ToUpper(ticker), tf, bars); err != nil {
		return err
	}
	fmt.Printf("Imported %d %s bars for %s\n", len(bars), tf, strings.ToUpper(ticker))
	return nil
}

func printSummary(result *backtest.BatchResult) {
	s := result.Summary

	fmt.Println(strings.Repeat("=", 72))
	fmt.Printf("ZONE BACKTEST  run %s  %d ticker-days in %s\n", result.RunID, result.Jobs, result.Duration.Round(time.Millisecond))
	fmt.Println(strings.Repeat("=", 72))

	fmt.Printf("Trades: %d  Wins: %d  Losses: %d  Win rate: %.1f%%\n", s.Trades, s.Wins, s.Losses, s.WinRate)
	fmt.Printf("Total R: %+.2f  Avg R: %+.3f  Expectancy: %+.3f  Profit factor: %.2f\n",
		s.TotalR, s.AvgR, s.Expectancy, s.ProfitFactor)
	fmt.Printf("Avg win: %.2fR  Avg loss: %.2fR  Max drawdown: %.2fR  MFE/MAE: %.2f/%.2fR\n",
		s.AvgWinR, s.AvgLossR, s.MaxDrawdownR, s.AvgMFER, s.AvgMAER)

	if len(s.ByModel) > 0 {
		fmt.Println("\nBy model:")
		models := make([]int, 0, len(s.ByModel))
		for m := range s.ByModel {
			models = append(models, int(m))
		}
		sort.Ints(models)
		for _, m := range models {
			printGroup(fmt.Sprintf("model %d", m), s.ByModel[entry.ModelID(m)])
		}
	}

	if len(s.ByExitReason) > 0 {
		fmt.Println("\nBy exit reason:")
		reasons := make([]string, 0, len(s.ByExitReason))
		for r := range s.ByExitReason {
			reasons = append(reasons, string(r))
		}
		sort.Strings(reasons)
		for _, r := range reasons {
			printGroup(r, s.ByExitReason[risk.ExitReason(r)])
		}
	}

	if len(s.ByStopType) > 0 {
		fmt.Println("\nBy stop type:")
		stops := make([]string, 0, len(s.ByStopType))
		for st := range s.ByStopType {
			stops = append(stops, string(st))
		}
		sort.Strings(stops)
		for _, st := range stops {
			printGroup(st, s.ByStopType[risk.StopType(st)])
		}
	}

	if len(result.Errors) > 0 {
		fmt.Printf("\n%d ticker-days failed:\n", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Printf("  %s\n", e.Error())
		}
	}
}

func printGroup(label string, g *backtest.GroupStats) {
	fmt.Printf("  %-14s %5d trades  %5.1f%% win  %+8.2fR total  %+6.3fR avg\n",
		label, g.Trades, g.WinRate, g.TotalR, g.AvgR)
}
