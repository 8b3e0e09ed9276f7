package risk

import (
	"errors"
	"fmt"
	"math"

	"zone-backtester/internal/entry"
	"zone-backtester/internal/market"
)

// ErrInvalidStop is returned when a stop leaves no positive risk
var ErrInvalidStop = errors.New("invalid stop")

// TargetKind says which candidate set the target
type TargetKind string

const (
	TargetRMultiple  TargetKind = "r_multiple"
	TargetStructural TargetKind = "structural"
)

// Position is an open trade. Stop and target are fixed at entry; only the
// water marks move.
type Position struct {
	Signal     entry.EntrySignal
	StopType   StopType
	Stop       float64
	Target     float64
	TargetKind TargetKind
	Risk       float64

	HighWaterMark float64
	LowWaterMark  float64
}

// NewPosition validates the stop against the entry and fixes the risk
func NewPosition(signal entry.EntrySignal, stopType StopType, stop, target float64, kind TargetKind) (*Position, error) {
	if math.IsNaN(stop) || math.IsInf(stop, 0) {
		return nil, fmt.Errorf("%w: non-finite stop %v", ErrInvalidStop, stop)
	}
	risk := (signal.EntryPrice - stop) * signal.Direction.Sign()
	if !(risk > 0) {
		return nil, fmt.Errorf("%w: stop %.4f on wrong side of %s entry %.4f", ErrInvalidStop, stop, signal.Direction, signal.EntryPrice)
	}

	return &Position{
		Signal:        signal,
		StopType:      stopType,
		Stop:          stop,
		Target:        target,
		TargetKind:    kind,
		Risk:          risk,
		HighWaterMark: signal.EntryPrice,
		LowWaterMark:  signal.EntryPrice,
	}, nil
}

// Direction returns the trade side
func (p *Position) Direction() entry.Direction {
	return p.Signal.Direction
}

// UpdateExcursion extends the water marks with the bar's range
func (p *Position) UpdateExcursion(bar market.Bar) {
	if bar.High > p.HighWaterMark {
		p.HighWaterMark = bar.High
	}
	if bar.Low < p.LowWaterMark {
		p.LowWaterMark = bar.Low
	}
}

// MFER is the maximum favorable excursion in R
func (p *Position) MFER() float64 {
	if p.Direction() == entry.Short {
		return (p.Signal.EntryPrice - p.LowWaterMark) / p.Risk
	}
	return (p.HighWaterMark - p.Signal.EntryPrice) / p.Risk
}

// MAER is the maximum adverse excursion in R, reported as a non-negative number
func (p *Position) MAER() float64 {
	if p.Direction() == entry.Short {
		return (p.HighWaterMark - p.Signal.EntryPrice) / p.Risk
	}
	return (p.Signal.EntryPrice - p.LowWaterMark) / p.Risk
}
