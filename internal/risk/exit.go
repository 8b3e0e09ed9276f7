package risk

import (
	"time"

	"github.com/rs/zerolog"

	"zone-backtester/internal/entry"
	"zone-backtester/internal/market"
	"zone-backtester/internal/structure"
)

// ExitReason says why a position closed
type ExitReason string

const (
	ExitStop      ExitReason = "STOP"
	ExitTarget    ExitReason = "TARGET"
	ExitStructure ExitReason = "STRUCTURE"
	ExitEOD       ExitReason = "EOD"
	ExitEndOfData ExitReason = "END_OF_DATA"
)

// ExitSignal is the terminal record of a closed position
type ExitSignal struct {
	Reason    ExitReason `json:"reason"`
	ExitPrice float64    `json:"exit_price"`
	// ExitTime is the exit bar's open timestamp; the fill is that bar's close
	ExitTime  time.Time  `json:"exit_time"`
	BarIndex  int        `json:"bar_index"`
	PnL       float64    `json:"pnl"`
	PnLR      float64    `json:"pnl_r"`
	IsWin     bool       `json:"is_win"`
}

// ExitConfig controls the optional exit conditions
type ExitConfig struct {
	StructureExit bool
	// ForceExit is the time of day at or after which positions close; zero disables it
	ForceExit time.Duration
	Location  *time.Location
}

// ExitManager evaluates exits in fixed priority: stop, target, structure, end of day
type ExitManager struct {
	cfg    ExitConfig
	logger zerolog.Logger
}

// NewExitManager creates an exit manager
func NewExitManager(cfg ExitConfig, logger zerolog.Logger) *ExitManager {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &ExitManager{
		cfg:    cfg,
		logger: logger.With().Str("component", "ExitManager").Logger(),
	}
}

// CheckExit returns the first exit condition the bar satisfies, or nil.
// events are the structure events produced by the same bar.
func (em *ExitManager) CheckExit(bar market.Bar, barIndex int, pos *Position, events []structure.Event) *ExitSignal {
	long := pos.Direction() == entry.Long

	var reason ExitReason
	switch {
	case long && bar.Close < pos.Stop, !long && bar.Close > pos.Stop:
		reason = ExitStop
	case long && bar.Close >= pos.Target, !long && bar.Close <= pos.Target:
		reason = ExitTarget
	case em.cfg.StructureExit && opposingReversal(pos.Direction(), events):
		reason = ExitStructure
	case em.cfg.ForceExit > 0 && market.TimeOfDay(bar.Timestamp, em.cfg.Location) >= em.cfg.ForceExit:
		reason = ExitEOD
	default:
		return nil
	}

	sig := Close(pos, bar, barIndex, reason)
	em.logger.Debug().
		Str("reason", string(reason)).
		Float64("exit_price", sig.ExitPrice).
		Float64("pnl_r", sig.PnLR).
		Msg("Exit signal")
	return &sig
}

// Close exits pos at the bar close
func Close(pos *Position, bar market.Bar, barIndex int, reason ExitReason) ExitSignal {
	pnl := (bar.Close - pos.Signal.EntryPrice) * pos.Direction().Sign()
	return ExitSignal{
		Reason:    reason,
		ExitPrice: bar.Close,
		ExitTime:  bar.Timestamp,
		BarIndex:  barIndex,
		PnL:       pnl,
		PnLR:      pnl / pos.Risk,
		IsWin:     pnl > 0,
	}
}

func opposingReversal(dir entry.Direction, events []structure.Event) bool {
	against := structure.DirectionBearish
	if dir == entry.Short {
		against = structure.DirectionBullish
	}
	for _, e := range events {
		if e.IsReversal() && e.Direction == against {
			return true
		}
	}
	return false
}
