package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"zone-backtester/internal/backtest"
	"zone-backtester/internal/confluence"
	"zone-backtester/internal/database"
	"zone-backtester/internal/entry"
	"zone-backtester/internal/logging"
	"zone-backtester/internal/risk"
)

const dateLayout = "2006-01-02"

// statusFor maps engine errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, backtest.ErrNoBars):
		return http.StatusNotFound
	case errors.Is(err, backtest.ErrUnorderedBars):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) parseDate(value string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, value, s.pipeline.Location())
}

// handleComputeZones builds the filtered zone set of a ticker-day around a price
// POST /api/zones
// Body: {"ticker": "SPY", "date": "2024-03-04", "price": 512.3}
func (s *Server) handleComputeZones(c *gin.Context) {
	var req struct {
		Ticker string  `json:"ticker" binding:"required"`
		Date   string  `json:"date" binding:"required"`
		Price  float64 `json:"price" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	date, err := s.parseDate(req.Date)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)")
		return
	}
	ticker := strings.ToUpper(req.Ticker)

	zones, err := s.pipeline.ComputeZones(c.Request.Context(), ticker, date, req.Price)
	if err != nil {
		logger := logging.FromContext(c.Request.Context())
		logger.Warn().Err(err).Str("ticker", ticker).Msg("Zone computation failed")
		errorResponse(c, statusFor(err), err.Error())
		return
	}
	if zones == nil {
		zones = []confluence.FilteredZone{}
	}

	primary, secondary := confluence.SelectZones(zones, req.Price)
	successResponse(c, gin.H{
		"ticker":    ticker,
		"date":      date.Format(dateLayout),
		"price":     req.Price,
		"zones":     zones,
		"primary":   primary,
		"secondary": secondary,
	})
}

// handleRunBacktest simulates one ticker-day
// POST /api/backtest
// Body: {"ticker": "SPY", "date": "2024-03-04"}
func (s *Server) handleRunBacktest(c *gin.Context) {
	var req struct {
		Ticker string `json:"ticker" binding:"required"`
		Date   string `json:"date" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	date, err := s.parseDate(req.Date)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)")
		return
	}

	result, err := s.pipeline.RunTickerDay(c.Request.Context(), strings.ToUpper(req.Ticker), date)
	if err != nil {
		logger := logging.FromContext(c.Request.Context())
		logger.Error().Err(err).Str("ticker", req.Ticker).Msg("Backtest failed")
		errorResponse(c, statusFor(err), err.Error())
		return
	}

	successResponse(c, result)
}

// handleRunBatch simulates tickers over a date range on the worker pool
// POST /api/backtest/batch
// Body: {"tickers": ["SPY", "QQQ"], "from": "2024-03-01", "to": "2024-03-31"}
func (s *Server) handleRunBatch(c *gin.Context) {
	var req struct {
		Tickers []string `json:"tickers" binding:"required,min=1,dive,required"`
		From    string   `json:"from" binding:"required"`
		To      string   `json:"to" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	from, err := s.parseDate(req.From)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid from format (use YYYY-MM-DD)")
		return
	}
	to, err := s.parseDate(req.To)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid to format (use YYYY-MM-DD)")
		return
	}
	if to.Before(from) {
		errorResponse(c, http.StatusBadRequest, "to must not be before from")
		return
	}

	tickers := make([]string, len(req.Tickers))
	for i, t := range req.Tickers {
		tickers[i] = strings.ToUpper(t)
	}
	jobs := backtest.Jobs(tickers, from, to)
	if len(jobs) > s.maxBatchJobs {
		errorResponse(c, http.StatusBadRequest, "too many ticker-days in one batch, max "+strconv.Itoa(s.maxBatchJobs))
		return
	}

	runner := backtest.NewBatchRunner(s.pipeline, s.batchWorkers, logging.FromContext(c.Request.Context())).
		WithMetrics(s.pipeline.Metrics()).
		WithEventBus(s.pipeline.EventBus())
	result := runner.Run(c.Request.Context(), jobs)

	failures := make([]gin.H, 0, len(result.Errors))
	for _, e := range result.Errors {
		failures = append(failures, gin.H{
			"ticker": e.Ticker,
			"date":   e.Date.Format(dateLayout),
			"error":  e.Err.Error(),
		})
	}

	successResponse(c, gin.H{
		"run_id":   result.RunID,
		"jobs":     result.Jobs,
		"duration": result.Duration.String(),
		"results":  result.Results,
		"errors":   failures,
		"summary":  result.Summary,
	})
}

// handleGetTrades lists stored trades
// GET /api/trades?ticker=SPY&from=2024-03-01&to=2024-03-31&stop_type=atr&exit_reason=STOP&model=1&limit=100&offset=0
func (s *Server) handleGetTrades(c *gin.Context) {
	if s.trades == nil {
		errorResponse(c, http.StatusServiceUnavailable, "trade storage is not configured")
		return
	}

	f := database.TradeFilter{
		Ticker:     c.Query("ticker"),
		StopType:   risk.StopType(c.Query("stop_type")),
		ExitReason: risk.ExitReason(strings.ToUpper(c.Query("exit_reason"))),
	}

	var err error
	if v := c.Query("from"); v != "" {
		if f.From, err = s.parseDate(v); err != nil {
			errorResponse(c, http.StatusBadRequest, "Invalid from format (use YYYY-MM-DD)")
			return
		}
	}
	if v := c.Query("to"); v != "" {
		if f.To, err = s.parseDate(v); err != nil {
			errorResponse(c, http.StatusBadRequest, "Invalid to format (use YYYY-MM-DD)")
			return
		}
	}
	if v := c.Query("model"); v != "" {
		model, err := strconv.Atoi(v)
		if err != nil || model < 1 || model > 4 {
			errorResponse(c, http.StatusBadRequest, "model must be between 1 and 4")
			return
		}
		f.ModelID = entry.ModelID(model)
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 1 || limit > 1000 {
		errorResponse(c, http.StatusBadRequest, "limit must be between 1 and 1000")
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		errorResponse(c, http.StatusBadRequest, "offset must not be negative")
		return
	}
	f.Limit, f.Offset = limit, offset

	trades, err := s.trades.GetTrades(c.Request.Context(), f)
	if err != nil {
		logger := logging.FromContext(c.Request.Context())
		logger.Error().Err(err).Msg("Failed to load trades")
		errorResponse(c, http.StatusInternalServerError, "Failed to load trades")
		return
	}

	successResponse(c, gin.H{
		"trades":  trades,
		"count":   len(trades),
		"summary": backtest.Summarize(trades),
	})
}
