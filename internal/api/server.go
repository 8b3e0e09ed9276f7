package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"zone-backtester/config"
	"zone-backtester/internal/backtest"
	"zone-backtester/internal/database"
	"zone-backtester/internal/logging"
)

// TradeStore serves stored trades to GET /api/trades
type TradeStore interface {
	GetTrades(ctx context.Context, f database.TradeFilter) ([]backtest.CompletedTrade, error)
}

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

// HealthDetail returns extra state shown for a dependency, e.g. pool statistics
type HealthDetail func() interface{}

// Server represents the HTTP API server
type Server struct {
	router       *gin.Engine
	httpServer   *http.Server
	pipeline     *backtest.Pipeline
	trades       TradeStore
	config       config.ServerConfig
	batchWorkers int
	maxBatchJobs int
	logger       zerolog.Logger
	startedAt    time.Time

	mu      sync.RWMutex
	checks  map[string]HealthCheck
	details map[string]HealthDetail
}

// NewServer creates a new API server. trades may be nil, in which case
// GET /api/trades reports 503.
func NewServer(
	cfg config.ServerConfig,
	pipeline *backtest.Pipeline,
	trades TradeStore,
	logger zerolog.Logger,
) *Server {
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	origins := splitOrigins(cfg.AllowedOrigins)
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-Trace-ID"}
	corsConfig.ExposeHeaders = []string{"Content-Length", "X-Trace-ID"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:       router,
		pipeline:     pipeline,
		trades:       trades,
		config:       cfg,
		batchWorkers: 4,
		maxBatchJobs: 5000,
		logger:       logger.With().Str("component", "api").Logger(),
		startedAt:    time.Now(),
		checks:       make(map[string]HealthCheck),
		details:      make(map[string]HealthDetail),
	}

	router.Use(s.requestLogger())
	s.setupRoutes()

	return s
}

// WithBatchWorkers sets the worker count used by POST /api/backtest/batch
func (s *Server) WithBatchWorkers(n int) *Server {
	if n > 0 {
		s.batchWorkers = n
	}
	return s
}

// AddHealthCheck registers a dependency reported by GET /api/health
func (s *Server) AddHealthCheck(name string, check HealthCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// AddHealthDetail attaches extra state for name to GET /api/health
func (s *Server) AddHealthDetail(name string, detail HealthDetail) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.details[name] = detail
}

// Router exposes the gin engine for tests and embedding
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.POST("/zones", s.handleComputeZones)
		api.POST("/backtest", s.handleRunBacktest)
		api.POST("/backtest/batch", s.handleRunBatch)
		api.GET("/trades", s.handleGetTrades)
	}
}

// MountMetrics exposes gatherer in the Prometheus text format at path
func (s *Server) MountMetrics(path string, gatherer prometheus.Gatherer) {
	s.router.GET(path, gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

// requestLogger logs each request with a trace id carried on the request context
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		ctx := logging.NewContext(c.Request.Context(), s.logger)
		ctx, reqLogger := logging.WithTraceContext(ctx, c.GetHeader("X-Trace-ID"))
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Trace-ID", logging.TraceID(ctx))

		c.Next()

		status := c.Writer.Status()
		event := reqLogger.Info()
		if status >= http.StatusInternalServerError {
			event = reqLogger.Error()
		} else if status >= http.StatusBadRequest {
			event = reqLogger.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("HTTP request")
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	s.mu.RLock()
	checks := make(map[string]HealthCheck, len(s.checks))
	for name, check := range s.checks {
		checks[name] = check
	}
	details := make(gin.H, len(s.details))
	for name, detail := range s.details {
		details[name] = detail()
	}
	s.mu.RUnlock()

	healthy := true
	deps := gin.H{}
	for name, check := range checks {
		if err := check(ctx); err != nil {
			healthy = false
			deps[name] = "unhealthy"
			continue
		}
		deps[name] = "healthy"
	}

	status := http.StatusOK
	label := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		label = "unhealthy"
	}

	response := gin.H{
		"status":       label,
		"dependencies": deps,
		"uptime":       time.Since(s.startedAt).Round(time.Second).String(),
	}
	if len(details) > 0 {
		response["details"] = details
	}
	c.JSON(status, response)
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
