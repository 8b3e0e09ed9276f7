package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"zone-backtester/internal/confluence"
)

// PrefixZones keys a filtered zone set by ticker and session date
const PrefixZones = "zones:%s:%s"

// DefaultZoneTTL is used when no TTL is configured
const DefaultZoneTTL = 7 * 24 * time.Hour

// Store is the subset of CacheService the zone cache needs
type Store interface {
	IsHealthy() bool
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeletePattern(ctx context.Context, pattern string) (int, error)
}

// ZoneCache stores filtered zones per ticker-day. It is a ZoneSource and a ZoneSink.
type ZoneCache struct {
	store  Store
	ttl    time.Duration
	logger zerolog.Logger
}

type cachedZones struct {
	Ticker   string                    `json:"ticker"`
	Date     string                    `json:"date"`
	Zones    []confluence.FilteredZone `json:"zones"`
	CachedAt time.Time                 `json:"cached_at"`
}

// NewZoneCache creates a zone cache. ttl <= 0 uses DefaultZoneTTL.
func NewZoneCache(store Store, ttl time.Duration, logger zerolog.Logger) *ZoneCache {
	if ttl <= 0 {
		ttl = DefaultZoneTTL
	}
	return &ZoneCache{
		store:  store,
		ttl:    ttl,
		logger: logger.With().Str("component", "ZoneCache").Logger(),
	}
}

// ZonesKey generates a cache key for a ticker-day
func ZonesKey(ticker string, date time.Time) string {
	return fmt.Sprintf(PrefixZones, ticker, date.Format("2006-01-02"))
}

// GetZones returns cached zones. A miss or an unhealthy store reports found=false
// without an error so callers recompute.
func (zc *ZoneCache) GetZones(ctx context.Context, ticker string, date time.Time) ([]confluence.FilteredZone, bool, error) {
	if !zc.store.IsHealthy() {
		return nil, false, nil
	}

	var cached cachedZones
	err := zc.store.GetJSON(ctx, ZonesKey(ticker, date), &cached)
	switch {
	case err == nil:
		return cached.Zones, true, nil
	case errors.Is(err, ErrMiss), errors.Is(err, ErrUnavailable):
		return nil, false, nil
	default:
		return nil, false, err
	}
}

// SaveZones caches zones for a ticker-day
func (zc *ZoneCache) SaveZones(ctx context.Context, ticker string, date time.Time, zones []confluence.FilteredZone) error {
	if !zc.store.IsHealthy() {
		return nil
	}

	if zones == nil {
		zones = []confluence.FilteredZone{}
	}
	value := cachedZones{
		Ticker:   ticker,
		Date:     date.Format("2006-01-02"),
		Zones:    zones,
		CachedAt: time.Now().UTC(),
	}
	if err := zc.store.SetJSON(ctx, ZonesKey(ticker, date), value, zc.ttl); err != nil {
		return fmt.Errorf("failed to cache zones for %s: %w", ticker, err)
	}

	zc.logger.Debug().Str("ticker", ticker).Str("date", value.Date).Int("zones", len(zones)).Msg("Cached zones")
	return nil
}

// InvalidateTicker drops every cached day for ticker
func (zc *ZoneCache) InvalidateTicker(ctx context.Context, ticker string) (int, error) {
	return zc.store.DeletePattern(ctx, fmt.Sprintf(PrefixZones, ticker, "*"))
}
