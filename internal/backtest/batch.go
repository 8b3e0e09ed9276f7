package backtest

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"zone-backtester/internal/events"
)

// DayRunner runs one ticker-day. *Pipeline implements it.
type DayRunner interface {
	RunTickerDay(ctx context.Context, ticker string, date time.Time) (*DayResult, error)
}

// Job identifies one ticker-day
type Job struct {
	Ticker string    `json:"ticker"`
	Date   time.Time `json:"date"`
}

// ItemError records a failed ticker-day
type ItemError struct {
	Ticker string    `json:"ticker"`
	Date   time.Time `json:"date"`
	Err    error     `json:"-"`
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Ticker, e.Date.Format("2006-01-02"), e.Err)
}

func (e ItemError) Unwrap() error {
	return e.Err
}

// BatchResult aggregates a batch run
type BatchResult struct {
	RunID     string           `json:"run_id"`
	StartTime time.Time        `json:"start_time"`
	EndTime   time.Time        `json:"end_time"`
	Duration  time.Duration    `json:"duration"`
	Jobs      int              `json:"jobs"`
	Results   []*DayResult     `json:"results"`
	Trades    []CompletedTrade `json:"-"`
	Errors    []ItemError      `json:"-"`
	Summary   TradeSummary     `json:"summary"`
}

// BatchRunner processes independent ticker-days on a fixed worker pool
type BatchRunner struct {
	runner   DayRunner
	workers  int
	metrics  Metrics
	eventBus *events.EventBus
	logger   zerolog.Logger
}

// NewBatchRunner creates a runner. workers <= 0 means one worker.
func NewBatchRunner(runner DayRunner, workers int, logger zerolog.Logger) *BatchRunner {
	if workers <= 0 {
		workers = 1
	}
	return &BatchRunner{
		runner:  runner,
		workers: workers,
		metrics: noopMetrics{},
		logger:  logger.With().Str("component", "BatchRunner").Logger(),
	}
}

// WithMetrics sets the metrics recorder
func (br *BatchRunner) WithMetrics(m Metrics) *BatchRunner {
	if m != nil {
		br.metrics = m
	}
	return br
}

// WithEventBus publishes batch and ticker-day events to bus
func (br *BatchRunner) WithEventBus(bus *events.EventBus) *BatchRunner {
	br.eventBus = bus
	return br
}

// Jobs expands tickers over every weekday in [from, to]
func Jobs(tickers []string, from, to time.Time) []Job {
	var jobs []Job
	for _, ticker := range tickers {
		for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
			if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
				continue
			}
			jobs = append(jobs, Job{Ticker: ticker, Date: d})
		}
	}
	return jobs
}

type jobOutcome struct {
	index  int
	result *DayResult
	err    *ItemError
}

// Run processes jobs concurrently. A failing or panicking job becomes an ItemError
// and never stops the others. Cancelling ctx stops scheduling; jobs already running
// finish. Results keep job order.
func (br *BatchRunner) Run(ctx context.Context, jobs []Job) *BatchResult {
	start := time.Now()
	runID := uuid.New().String()

	br.logger.Info().
		Str("run_id", runID).
		Int("jobs", len(jobs)).
		Int("workers", br.workers).
		Msg("Starting batch")
	if br.eventBus != nil {
		br.eventBus.PublishBatch(events.EventBatchStarted, runID, len(jobs), 0)
	}

	jobChan := make(chan int)
	outChan := make(chan jobOutcome, len(jobs))
	var wg sync.WaitGroup

	for i := 0; i < br.workers; i++ {
		wg.Add(1)
		go br.worker(ctx, jobs, jobChan, outChan, &wg)
	}

	scheduled := 0
	go func() {
		defer close(jobChan)
		for i := range jobs {
			select {
			case jobChan <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outChan)
	}()

	outcomes := make([]*jobOutcome, len(jobs))
	for o := range outChan {
		outcomes[o.index] = &o
		scheduled++
	}

	result := &BatchResult{
		RunID:     runID,
		StartTime: start,
		Jobs:      len(jobs),
	}
	for i, o := range outcomes {
		if o == nil {
			br.metrics.RecordBatchJob("cancelled")
			result.Errors = append(result.Errors, ItemError{Ticker: jobs[i].Ticker, Date: jobs[i].Date, Err: ctx.Err()})
			continue
		}
		if o.err != nil {
			result.Errors = append(result.Errors, *o.err)
			continue
		}
		result.Results = append(result.Results, o.result)
		result.Trades = append(result.Trades, o.result.Trades...)
	}

	sort.SliceStable(result.Trades, func(i, j int) bool {
		return result.Trades[i].Entry.EntryTime.Before(result.Trades[j].Entry.EntryTime)
	})
	result.Summary = Summarize(result.Trades)
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(start)

	br.logger.Info().
		Str("run_id", runID).
		Int("completed", scheduled).
		Int("failed", len(result.Errors)).
		Int("trades", result.Summary.Trades).
		Float64("total_r", result.Summary.TotalR).
		Dur("duration", result.Duration).
		Msg("Batch completed")
	if br.eventBus != nil {
		br.eventBus.PublishBatch(events.EventBatchCompleted, runID, len(jobs), len(result.Errors))
	}

	return result
}

// worker processes job indexes from the channel
func (br *BatchRunner) worker(
	ctx context.Context,
	jobs []Job,
	jobChan <-chan int,
	outChan chan<- jobOutcome,
	wg *sync.WaitGroup,
) {
	defer wg.Done()

	for i := range jobChan {
		outChan <- br.runJob(ctx, i, jobs[i])
	}
}

func (br *BatchRunner) runJob(ctx context.Context, index int, job Job) (out jobOutcome) {
	out.index = index

	defer func() {
		if r := recover(); r != nil {
			br.logger.Error().
				Str("ticker", job.Ticker).
				Str("date", job.Date.Format("2006-01-02")).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Ticker-day panicked")
			err := fmt.Errorf("panic: %v", r)
			out.result = nil
			out.err = &ItemError{Ticker: job.Ticker, Date: job.Date, Err: err}
			br.metrics.RecordBatchJob("panic")
			if br.eventBus != nil {
				br.eventBus.PublishTickerDayFailed(job.Ticker, job.Date, err)
			}
		}
	}()

	result, err := br.runner.RunTickerDay(ctx, job.Ticker, job.Date)
	if err != nil {
		br.logger.Warn().
			Err(err).
			Str("ticker", job.Ticker).
			Str("date", job.Date.Format("2006-01-02")).
			Msg("Ticker-day failed")
		out.err = &ItemError{Ticker: job.Ticker, Date: job.Date, Err: err}
		br.metrics.RecordBatchJob("failed")
		if br.eventBus != nil {
			br.eventBus.PublishTickerDayFailed(job.Ticker, job.Date, err)
		}
		return out
	}

	if result == nil {
		result = &DayResult{Ticker: job.Ticker, Date: job.Date}
	}
	out.result = result
	br.metrics.RecordBatchJob("ok")
	if br.eventBus != nil {
		br.eventBus.PublishTickerDayCompleted(job.Ticker, job.Date, len(result.Zones), len(result.Trades), result.Summary.TotalR)
	}
	return out
}
