package risk

import (
	"zone-backtester/internal/confluence"
	"zone-backtester/internal/entry"
)

// DefaultRMultiple is the fixed reward-to-risk target
const DefaultRMultiple = 2.0

// StructuralTarget returns the nearest kept-zone edge beyond entry in the trade
// direction: the zone_low of the nearest zone above a long, the zone_high of
// the nearest zone below a short.
func StructuralTarget(dir entry.Direction, entryPrice float64, zones []confluence.FilteredZone) (float64, bool) {
	best, found := 0.0, false
	for _, z := range zones {
		if dir == entry.Short {
			if z.ZoneHigh < entryPrice && (!found || z.ZoneHigh > best) {
				best, found = z.ZoneHigh, true
			}
			continue
		}
		if z.ZoneLow > entryPrice && (!found || z.ZoneLow < best) {
			best, found = z.ZoneLow, true
		}
	}
	return best, found
}

// CalculateTarget picks the more favorable of the R-multiple and structural targets
func CalculateTarget(dir entry.Direction, entryPrice, risk, rMultiple float64, zones []confluence.FilteredZone) (float64, TargetKind) {
	if rMultiple <= 0 {
		rMultiple = DefaultRMultiple
	}
	target := entryPrice + dir.Sign()*rMultiple*risk
	kind := TargetRMultiple

	structural, ok := StructuralTarget(dir, entryPrice, zones)
	if !ok {
		return target, kind
	}
	if (dir == entry.Long && structural > target) || (dir == entry.Short && structural < target) {
		return structural, TargetStructural
	}
	return target, kind
}
