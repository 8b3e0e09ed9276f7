package logging

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const traceIDKey contextKey = "trace_id"

// GenerateTraceID generates a new trace ID
func GenerateTraceID() string {
	return uuid.NewString()
}

// FromContext retrieves the logger from context, or the default logger
func FromContext(ctx context.Context) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return *l
	}
	return Default()
}

// NewContext creates a new context with the logger
func NewContext(ctx context.Context, l zerolog.Logger) context.Context {
	return l.WithContext(ctx)
}

// TraceID returns the trace id stored by WithTraceContext, if any
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

// WithTraceContext adds a trace ID to the context and returns a logger with it.
// An existing trace id is kept.
func WithTraceContext(ctx context.Context, traceID string) (context.Context, zerolog.Logger) {
	if traceID == "" {
		traceID = GenerateTraceID()
	}
	l := FromContext(ctx).With().Str("trace_id", traceID).Logger()
	newCtx := context.WithValue(ctx, traceIDKey, traceID)
	return NewContext(newCtx, l), l
}

// TickerDayContext creates a logger for one ticker-day run
func TickerDayContext(base zerolog.Logger, ticker string, date time.Time) zerolog.Logger {
	return base.With().
		Str("ticker", ticker).
		Str("date", date.Format("2006-01-02")).
		Logger()
}

// BatchContext creates a logger for a batch run
func BatchContext(base zerolog.Logger, runID string, tickers []string, from, to time.Time) zerolog.Logger {
	return base.With().
		Str("run_id", runID).
		Strs("tickers", tickers).
		Str("from", from.Format("2006-01-02")).
		Str("to", to.Format("2006-01-02")).
		Logger()
}

// DatabaseContext creates a logger for database operations
func DatabaseContext(base zerolog.Logger, operation, table string) zerolog.Logger {
	return base.With().
		Str("component", "database").
		Str("operation", operation).
		Str("table", table).
		Logger()
}
