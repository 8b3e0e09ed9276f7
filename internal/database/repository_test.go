package database

import (
	"strings"
	"testing"
	"time"

	"zone-backtester/internal/risk"
)

func TestBuildTradeQuery(t *testing.T) {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		filter    TradeFilter
		wantWhere string
		wantArgs  int
		wantLimit interface{}
	}{
		{
			name:      "no filter",
			filter:    TradeFilter{},
			wantWhere: "",
			wantArgs:  1,
			wantLimit: 1000,
		},
		{
			name:      "ticker and date",
			filter:    TradeFilter{Ticker: "spy", From: from, Limit: 50},
			wantWhere: "WHERE ticker = $1 AND session_date >= $2",
			wantArgs:  3,
			wantLimit: 50,
		},
		{
			name:      "stop type reason and offset",
			filter:    TradeFilter{StopType: risk.StopATR, ExitReason: risk.ExitStop, Limit: 5000, Offset: 10},
			wantWhere: "WHERE stop_type = $1 AND exit_reason = $2",
			wantArgs:  4,
			wantLimit: 1000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildTradeQuery(tt.filter)

			if len(args) != tt.wantArgs {
				t.Fatalf("Expected %d args, got %d: %v", tt.wantArgs, len(args), args)
			}
			if tt.wantWhere == "" && strings.Contains(query, "WHERE") {
				t.Errorf("Expected no WHERE clause, got %s", query)
			}
			if tt.wantWhere != "" && !strings.Contains(query, tt.wantWhere) {
				t.Errorf("Expected %q in %s", tt.wantWhere, query)
			}

			limitIdx := len(args) - 1
			if tt.filter.Offset > 0 {
				limitIdx--
			}
			if args[limitIdx] != tt.wantLimit {
				t.Errorf("Expected limit %v, got %v", tt.wantLimit, args[limitIdx])
			}
		})
	}
}

func TestBuildTradeQuery_UppercasesTicker(t *testing.T) {
	_, args := buildTradeQuery(TradeFilter{Ticker: "qqq"})
	if args[0] != "QQQ" {
		t.Errorf("Expected QQQ, got %v", args[0])
	}
}

func TestMigrations(t *testing.T) {
	want := []string{"bars", "zones", "backtest_trades"}
	for _, table := range want {
		found := false
		for _, m := range migrations {
			if strings.Contains(m, "CREATE TABLE IF NOT EXISTS "+table+" (") {
				found = true
			}
		}
		if !found {
			t.Errorf("Expected a migration creating %s", table)
		}
	}
}
