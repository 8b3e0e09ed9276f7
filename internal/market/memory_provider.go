package market

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryBarProvider serves bars from caller-owned in-memory series.
// It is safe for concurrent readers once loaded.
type MemoryBarProvider struct {
	mu     sync.RWMutex
	series map[string][]Bar
}

// NewMemoryBarProvider creates an empty provider
func NewMemoryBarProvider() *MemoryBarProvider {
	return &MemoryBarProvider{
		series: make(map[string][]Bar),
	}
}

func seriesKey(ticker string, tf Timeframe) string {
	return fmt.Sprintf("%s:%s", ticker, tf)
}

// Load replaces the series for ticker/timeframe. Bars are copied and sorted.
func (p *MemoryBarProvider) Load(ticker string, tf Timeframe, bars []Bar) {
	cp := make([]Bar, len(bars))
	copy(cp, bars)
	SortBars(cp)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.series[seriesKey(ticker, tf)] = cp
}

// Invalidate drops every cached series for ticker
func (p *MemoryBarProvider) Invalidate(ticker string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, tf := range []Timeframe{Timeframe1m, Timeframe5m, Timeframe15m, Timeframe1h, Timeframe1d} {
		delete(p.series, seriesKey(ticker, tf))
	}
}

// GetBars returns bars with start <= timestamp < end. Missing series yield an empty slice.
func (p *MemoryBarProvider) GetBars(ctx context.Context, ticker string, start, end time.Time, tf Timeframe) ([]Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !tf.IsValid() {
		return nil, fmt.Errorf("unsupported timeframe %q", tf)
	}

	p.mu.RLock()
	bars := p.series[seriesKey(ticker, tf)]
	p.mu.RUnlock()

	window := Between(bars, start, end)
	out := make([]Bar, len(window))
	copy(out, window)
	return out, nil
}
