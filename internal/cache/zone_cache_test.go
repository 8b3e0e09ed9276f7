package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"zone-backtester/config"
	"zone-backtester/internal/confluence"
)

// MockStore is an in-memory Store
type MockStore struct {
	healthy bool
	data    map[string]string
	ttls    map[string]time.Duration
	getErr  error
}

func NewMockStore() *MockStore {
	return &MockStore{
		healthy: true,
		data:    make(map[string]string),
		ttls:    make(map[string]time.Duration),
	}
}

func (m *MockStore) IsHealthy() bool { return m.healthy }

func (m *MockStore) GetJSON(ctx context.Context, key string, dest interface{}) error {
	if m.getErr != nil {
		return m.getErr
	}
	raw, ok := m.data[key]
	if !ok {
		return ErrMiss
	}
	return json.Unmarshal([]byte(raw), dest)
}

func (m *MockStore) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.data[key] = string(raw)
	m.ttls[key] = ttl
	return nil
}

func (m *MockStore) DeletePattern(ctx context.Context, pattern string) (int, error) {
	prefix := strings.TrimSuffix(pattern, "*")
	deleted := 0
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			delete(m.data, key)
			deleted++
		}
	}
	return deleted, nil
}

var testDate = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func testZones() []confluence.FilteredZone {
	return []confluence.FilteredZone{
		{
			ConfluenceZone: confluence.ConfluenceZone{
				ZoneID:      "poc-1",
				POCPrice:    101,
				POCRank:     1,
				ZoneHigh:    102,
				ZoneLow:     100,
				Score:       9.5,
				Confluences: []string{"pivot_pp"},
			},
			Tier:         confluence.TierT2,
			IsBullAnchor: true,
		},
	}
}

func TestZonesKey(t *testing.T) {
	if got := ZonesKey("SPY", testDate); got != "zones:SPY:2024-03-04" {
		t.Errorf("Expected zones:SPY:2024-03-04, got %s", got)
	}
}

func TestZoneCache_RoundTrip(t *testing.T) {
	store := NewMockStore()
	zc := NewZoneCache(store, 0, zerolog.Nop())
	ctx := context.Background()

	if _, found, err := zc.GetZones(ctx, "SPY", testDate); err != nil || found {
		t.Fatalf("Expected miss without error, got found=%v err=%v", found, err)
	}

	if err := zc.SaveZones(ctx, "SPY", testDate, testZones()); err != nil {
		t.Fatalf("SaveZones returned error: %v", err)
	}
	if store.ttls[ZonesKey("SPY", testDate)] != DefaultZoneTTL {
		t.Errorf("Expected default ttl, got %s", store.ttls[ZonesKey("SPY", testDate)])
	}

	zones, found, err := zc.GetZones(ctx, "SPY", testDate)
	if err != nil || !found {
		t.Fatalf("Expected hit, got found=%v err=%v", found, err)
	}
	if len(zones) != 1 || zones[0].ZoneID != "poc-1" || zones[0].Tier != confluence.TierT2 || !zones[0].IsBullAnchor {
		t.Errorf("Expected cached zone to survive, got %+v", zones)
	}
}

func TestZoneCache_EmptySetIsAHit(t *testing.T) {
	zc := NewZoneCache(NewMockStore(), time.Hour, zerolog.Nop())
	ctx := context.Background()

	if err := zc.SaveZones(ctx, "QQQ", testDate, nil); err != nil {
		t.Fatalf("SaveZones returned error: %v", err)
	}
	zones, found, err := zc.GetZones(ctx, "QQQ", testDate)
	if err != nil || !found || len(zones) != 0 {
		t.Errorf("Expected cached empty set, got %v found=%v err=%v", zones, found, err)
	}
}

func TestZoneCache_Degraded(t *testing.T) {
	tests := []struct {
		name    string
		healthy bool
		getErr  error
		wantErr bool
	}{
		{"unhealthy store", false, nil, false},
		{"breaker opened mid-call", true, ErrUnavailable, false},
		{"corrupt payload", true, errors.New("failed to unmarshal cached value"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMockStore()
			store.healthy = tt.healthy
			store.getErr = tt.getErr
			zc := NewZoneCache(store, time.Hour, zerolog.Nop())

			_, found, err := zc.GetZones(context.Background(), "SPY", testDate)
			if found {
				t.Error("Expected no hit")
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestZoneCache_InvalidateTicker(t *testing.T) {
	store := NewMockStore()
	zc := NewZoneCache(store, time.Hour, zerolog.Nop())
	ctx := context.Background()

	_ = zc.SaveZones(ctx, "SPY", testDate, testZones())
	_ = zc.SaveZones(ctx, "SPY", testDate.AddDate(0, 0, 1), testZones())
	_ = zc.SaveZones(ctx, "QQQ", testDate, testZones())

	deleted, err := zc.InvalidateTicker(ctx, "SPY")
	if err != nil {
		t.Fatalf("InvalidateTicker returned error: %v", err)
	}
	if deleted != 2 {
		t.Errorf("Expected 2 deleted keys, got %d", deleted)
	}
	if _, found, _ := zc.GetZones(ctx, "QQQ", testDate); !found {
		t.Error("Expected other tickers to stay cached")
	}
}

func TestNewCacheService(t *testing.T) {
	if _, err := NewCacheService(config.RedisConfig{Enabled: false}, zerolog.Nop()); err == nil {
		t.Error("Expected error when redis is disabled")
	}

	cs, err := NewCacheService(config.RedisConfig{Enabled: true, Address: "127.0.0.1:1", PoolSize: 1}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Expected degraded service, got error: %v", err)
	}
	defer cs.Close()

	if cs.IsHealthy() {
		t.Error("Expected unreachable redis to start unhealthy")
	}
	if _, err := cs.Get(context.Background(), "k"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}

	// the zone cache degrades to misses on top of it
	zc := NewZoneCache(cs, time.Hour, zerolog.Nop())
	if _, found, err := zc.GetZones(context.Background(), "SPY", testDate); found || err != nil {
		t.Errorf("Expected silent miss, got found=%v err=%v", found, err)
	}
	if stats := cs.GetStats(); stats.Healthy || stats.Address != "127.0.0.1:1" {
		t.Errorf("Expected unhealthy stats for 127.0.0.1:1, got %+v", stats)
	}
}
