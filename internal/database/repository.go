package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"zone-backtester/internal/backtest"
	"zone-backtester/internal/confluence"
	"zone-backtester/internal/entry"
	"zone-backtester/internal/market"
	"zone-backtester/internal/risk"
)

// Repository provides data access methods
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// BARS
// ============================================================================

// GetBars returns chronological bars with start <= ts < end
func (r *Repository) GetBars(ctx context.Context, ticker string, start, end time.Time, tf market.Timeframe) ([]market.Bar, error) {
	query := `
		SELECT ts, open, high, low, close, volume
		FROM bars
		WHERE ticker = $1 AND timeframe = $2 AND ts >= $3 AND ts < $4
		ORDER BY ts ASC
	`
	rows, err := r.db.Pool.Query(ctx, query, ticker, string(tf), start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	defer rows.Close()

	var bars []market.Bar
	for rows.Next() {
		var b market.Bar
		if err := rows.Scan(&b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// UpsertBars inserts bars, replacing rows with the same timestamp
func (r *Repository) UpsertBars(ctx context.Context, ticker string, tf market.Timeframe, bars []market.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	query := `
		INSERT INTO bars (ticker, timeframe, ts, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (ticker, timeframe, ts)
		DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume
	`
	batch := &pgx.Batch{}
	for _, b := range bars {
		batch.Queue(query, ticker, string(tf), b.Timestamp, b.Open, b.High, b.Low, b.Close, b.Volume)
	}
	if err := r.db.Pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to upsert %d bars for %s: %w", len(bars), ticker, err)
	}
	return nil
}

// ============================================================================
// ZONES
// ============================================================================

// SaveZones replaces the stored zone set of a ticker-day
func (r *Repository) SaveZones(ctx context.Context, ticker string, date time.Time, zones []confluence.FilteredZone) error {
	return pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM zones WHERE ticker = $1 AND session_date = $2`, ticker, date); err != nil {
			return fmt.Errorf("failed to clear zones: %w", err)
		}
		query := `
			INSERT INTO zones (ticker, session_date, zone_id, poc_price, poc_volume, poc_rank, zone_high, zone_low,
			                   overlap_count, score, confluences, atr_distance, proximity_group, tier,
			                   is_bull_anchor, is_bear_anchor)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		`
		for _, z := range zones {
			if _, err := tx.Exec(ctx, query,
				ticker, date, z.ZoneID, z.POCPrice, z.POCVolume, z.POCRank, z.ZoneHigh, z.ZoneLow,
				z.OverlapCount, z.Score, z.Confluences, z.ATRDistance, z.ProximityGroup, string(z.Tier),
				z.IsBullAnchor, z.IsBearAnchor,
			); err != nil {
				return fmt.Errorf("failed to insert zone %s: %w", z.ZoneID, err)
			}
		}
		return nil
	})
}

// GetZones returns the stored zone set of a ticker-day in rank order
func (r *Repository) GetZones(ctx context.Context, ticker string, date time.Time) ([]confluence.FilteredZone, bool, error) {
	query := `
		SELECT zone_id, poc_price, poc_volume, poc_rank, zone_high, zone_low, overlap_count, score,
		       COALESCE(confluences, '{}'), COALESCE(atr_distance, 0), COALESCE(proximity_group, 0),
		       tier, is_bull_anchor, is_bear_anchor
		FROM zones
		WHERE ticker = $1 AND session_date = $2
		ORDER BY score DESC, poc_rank ASC
	`
	rows, err := r.db.Pool.Query(ctx, query, ticker, date)
	if err != nil {
		return nil, false, fmt.Errorf("failed to query zones: %w", err)
	}
	defer rows.Close()

	var zones []confluence.FilteredZone
	for rows.Next() {
		var z confluence.FilteredZone
		var tier string
		if err := rows.Scan(
			&z.ZoneID, &z.POCPrice, &z.POCVolume, &z.POCRank, &z.ZoneHigh, &z.ZoneLow, &z.OverlapCount, &z.Score,
			&z.Confluences, &z.ATRDistance, &z.ProximityGroup, &tier, &z.IsBullAnchor, &z.IsBearAnchor,
		); err != nil {
			return nil, false, fmt.Errorf("failed to scan zone: %w", err)
		}
		z.Tier = confluence.Tier(tier)
		zones = append(zones, z)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return zones, len(zones) > 0, nil
}

// ============================================================================
// TRADES
// ============================================================================

// SaveTrades upserts completed trades by trade id
func (r *Repository) SaveTrades(ctx context.Context, trades []backtest.CompletedTrade) error {
	if len(trades) == 0 {
		return nil
	}
	query := `
		INSERT INTO backtest_trades (trade_id, ticker, session_date, model_id, zone_class, zone_id, direction,
		                             entry_time, entry_price, exit_time, exit_price, exit_reason,
		                             stop_type, stop_price, target_price, target_kind, risk,
		                             pnl, pnl_r, is_win, mfe_r, mae_r)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		ON CONFLICT (trade_id)
		DO UPDATE SET
			exit_time = EXCLUDED.exit_time,
			exit_price = EXCLUDED.exit_price,
			exit_reason = EXCLUDED.exit_reason,
			pnl = EXCLUDED.pnl,
			pnl_r = EXCLUDED.pnl_r,
			is_win = EXCLUDED.is_win,
			mfe_r = EXCLUDED.mfe_r,
			mae_r = EXCLUDED.mae_r
	`
	batch := &pgx.Batch{}
	for _, t := range trades {
		batch.Queue(query,
			t.TradeID, t.Ticker, t.Date, int(t.Entry.ModelID), string(t.Entry.ZoneClass), t.Entry.ZoneID,
			string(t.Entry.Direction), t.Entry.EntryTime, t.Entry.EntryPrice,
			t.Exit.ExitTime, t.Exit.ExitPrice, string(t.Exit.Reason),
			string(t.StopType), t.StopPrice, t.TargetPrice, string(t.TargetKind), t.Risk,
			t.Exit.PnL, t.Exit.PnLR, t.Exit.IsWin, t.MFER, t.MAER,
		)
	}
	if err := r.db.Pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to save %d trades: %w", len(trades), err)
	}
	return nil
}

// TradeFilter narrows GetTrades. Zero fields match everything.
type TradeFilter struct {
	Ticker     string
	From       time.Time
	To         time.Time
	StopType   risk.StopType
	ExitReason risk.ExitReason
	ModelID    entry.ModelID
	Limit      int
	Offset     int
}

const tradeColumns = `trade_id, ticker, session_date, model_id, zone_class, zone_id, direction,
		       entry_time, entry_price, exit_time, exit_price, exit_reason,
		       stop_type, stop_price, target_price, target_kind, risk,
		       pnl, pnl_r, is_win, mfe_r, mae_r`

// buildTradeQuery renders the filter into SQL with positional args
func buildTradeQuery(f TradeFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Ticker != "" {
		add("ticker = $%d", strings.ToUpper(f.Ticker))
	}
	if !f.From.IsZero() {
		add("session_date >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("session_date <= $%d", f.To)
	}
	if f.StopType != "" {
		add("stop_type = $%d", string(f.StopType))
	}
	if f.ExitReason != "" {
		add("exit_reason = $%d", string(f.ExitReason))
	}
	if f.ModelID != 0 {
		add("model_id = $%d", int(f.ModelID))
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + tradeColumns + "\n\t\tFROM backtest_trades")
	if len(conds) > 0 {
		sb.WriteString("\n\t\tWHERE " + strings.Join(conds, " AND "))
	}
	sb.WriteString("\n\t\tORDER BY entry_time ASC, trade_id ASC")

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	args = append(args, limit)
	sb.WriteString(fmt.Sprintf("\n\t\tLIMIT $%d", len(args)))
	if f.Offset > 0 {
		args = append(args, f.Offset)
		sb.WriteString(fmt.Sprintf(" OFFSET $%d", len(args)))
	}
	return sb.String(), args
}

// GetTrades returns stored trades matching the filter in entry order
func (r *Repository) GetTrades(ctx context.Context, f TradeFilter) ([]backtest.CompletedTrade, error) {
	query, args := buildTradeQuery(f)
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	trades := []backtest.CompletedTrade{}
	for rows.Next() {
		var (
			t                                                  backtest.CompletedTrade
			modelID                                            int
			zoneClass, direction, reason, stopType, targetKind string
		)
		if err := rows.Scan(
			&t.TradeID, &t.Ticker, &t.Date, &modelID, &zoneClass, &t.Entry.ZoneID, &direction,
			&t.Entry.EntryTime, &t.Entry.EntryPrice, &t.Exit.ExitTime, &t.Exit.ExitPrice, &reason,
			&stopType, &t.StopPrice, &t.TargetPrice, &targetKind, &t.Risk,
			&t.Exit.PnL, &t.Exit.PnLR, &t.Exit.IsWin, &t.MFER, &t.MAER,
		); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Entry.ModelID = entry.ModelID(modelID)
		t.Entry.ZoneClass = entry.ZoneClass(zoneClass)
		t.Entry.Direction = entry.Direction(direction)
		t.Exit.Reason = risk.ExitReason(reason)
		t.StopType = risk.StopType(stopType)
		t.TargetKind = risk.TargetKind(targetKind)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
