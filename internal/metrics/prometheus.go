package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements backtest.Metrics using Prometheus.
type Recorder struct {
	tickerDays  *prometheus.CounterVec
	trades      *prometheus.CounterVec
	tradeR      *prometheus.HistogramVec
	zonesKept   prometheus.Histogram
	dayDuration prometheus.Histogram
	batchJobs   *prometheus.CounterVec
}

// New creates a recorder registered on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Recorder{
		tickerDays: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zonebt_ticker_days_total",
				Help: "Ticker-days processed, by outcome",
			},
			[]string{"status"},
		),
		trades: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zonebt_trades_total",
				Help: "Completed simulated trades, by exit reason and model",
			},
			[]string{"reason", "model"},
		),
		tradeR: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zonebt_trade_r_multiple",
				Help:    "Distribution of trade outcomes in R",
				Buckets: []float64{-3, -2, -1.5, -1, -0.5, 0, 0.5, 1, 1.5, 2, 3, 5},
			},
			[]string{"stop_type"},
		),
		zonesKept: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "zonebt_zones_kept",
				Help:    "Zones kept after filtering per ticker-day",
				Buckets: prometheus.LinearBuckets(0, 1, 11),
			},
		),
		dayDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "zonebt_ticker_day_duration_seconds",
				Help:    "Duration of a ticker-day pipeline run in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		batchJobs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zonebt_batch_jobs_total",
				Help: "Batch jobs scheduled, by result",
			},
			[]string{"result"},
		),
	}
}

// RecordTickerDay records one pipeline run and its duration.
func (r *Recorder) RecordTickerDay(status string, seconds float64) {
	r.tickerDays.WithLabelValues(status).Inc()
	r.dayDuration.Observe(seconds)
}

// RecordTrade records a completed trade.
func (r *Recorder) RecordTrade(reason, model, stopType string, pnlR float64) {
	r.trades.WithLabelValues(reason, model).Inc()
	r.tradeR.WithLabelValues(stopType).Observe(pnlR)
}

// RecordZones records the kept zone count for a ticker-day.
func (r *Recorder) RecordZones(kept int) {
	r.zonesKept.Observe(float64(kept))
}

// RecordBatchJob records a batch job result ("ok", "failed", "panic", "cancelled").
func (r *Recorder) RecordBatchJob(result string) {
	r.batchJobs.WithLabelValues(result).Inc()
}
