package backtest

import (
	"math"

	"zone-backtester/internal/entry"
	"zone-backtester/internal/risk"
)

// GroupStats tracks performance for a subset of trades
type GroupStats struct {
	Trades  int     `json:"trades"`
	Wins    int     `json:"wins"`
	Losses  int     `json:"losses"`
	WinRate float64 `json:"win_rate"`
	TotalR  float64 `json:"total_r"`
	AvgR    float64 `json:"avg_r"`
}

func (g *GroupStats) add(t CompletedTrade) {
	g.Trades++
	if t.Exit.IsWin {
		g.Wins++
	} else {
		g.Losses++
	}
	g.TotalR += t.Exit.PnLR
	g.WinRate = float64(g.Wins) / float64(g.Trades) * 100
	g.AvgR = g.TotalR / float64(g.Trades)
}

// TradeSummary contains aggregate performance in R
type TradeSummary struct {
	GroupStats
	AvgWinR      float64                         `json:"avg_win_r"`
	AvgLossR     float64                         `json:"avg_loss_r"`
	Expectancy   float64                         `json:"expectancy_r"`
	ProfitFactor float64                         `json:"profit_factor"`
	MaxDrawdownR float64                         `json:"max_drawdown_r"`
	AvgMFER      float64                         `json:"avg_mfe_r"`
	AvgMAER      float64                         `json:"avg_mae_r"`
	ByModel      map[entry.ModelID]*GroupStats   `json:"by_model"`
	ByExitReason map[risk.ExitReason]*GroupStats `json:"by_exit_reason"`
	ByStopType   map[risk.StopType]*GroupStats   `json:"by_stop_type"`
}

// Summarize calculates aggregate statistics. Trades are taken in the given order
// for the drawdown curve.
func Summarize(trades []CompletedTrade) TradeSummary {
	s := TradeSummary{
		ByModel:      make(map[entry.ModelID]*GroupStats),
		ByExitReason: make(map[risk.ExitReason]*GroupStats),
		ByStopType:   make(map[risk.StopType]*GroupStats),
	}

	grossWin, grossLoss := 0.0, 0.0
	sumMFE, sumMAE := 0.0, 0.0
	equity, peak := 0.0, 0.0

	for _, t := range trades {
		s.GroupStats.add(t)
		groupFor(s.ByModel, t.Entry.ModelID).add(t)
		groupFor(s.ByExitReason, t.Exit.Reason).add(t)
		groupFor(s.ByStopType, t.StopType).add(t)

		if t.Exit.IsWin {
			grossWin += t.Exit.PnLR
		} else {
			grossLoss += math.Abs(t.Exit.PnLR)
		}
		sumMFE += t.MFER
		sumMAE += t.MAER

		equity += t.Exit.PnLR
		if equity > peak {
			peak = equity
		}
		if dd := peak - equity; dd > s.MaxDrawdownR {
			s.MaxDrawdownR = dd
		}
	}

	if s.Wins > 0 {
		s.AvgWinR = grossWin / float64(s.Wins)
	}
	if s.Losses > 0 {
		s.AvgLossR = grossLoss / float64(s.Losses)
	}
	if s.Trades > 0 {
		winRate := float64(s.Wins) / float64(s.Trades)
		s.Expectancy = winRate*s.AvgWinR - (1-winRate)*s.AvgLossR
		s.AvgMFER = sumMFE / float64(s.Trades)
		s.AvgMAER = sumMAE / float64(s.Trades)
	}
	if grossLoss > 0 {
		s.ProfitFactor = grossWin / grossLoss
	}

	return s
}

func groupFor[K comparable](m map[K]*GroupStats, key K) *GroupStats {
	g, ok := m[key]
	if !ok {
		g = &GroupStats{}
		m[key] = g
	}
	return g
}
