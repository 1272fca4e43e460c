package treasury

import "github.com/holiman/uint256"

// UtilizationBps returns borrowed / (borrowed + liquid) in basis points,
// rounded down. An empty pool reports zero.
func UtilizationBps(borrowed, liquid uint64) uint64 {
	total := new(uint256.Int).Add(u256(borrowed), u256(liquid))
	if total.IsZero() {
		return 0
	}
	scaled := new(uint256.Int).Mul(u256(borrowed), basisPointsWord)
	return scaled.Div(scaled, total).Uint64()
}

// CurveMultiplierBps maps utilisation to a rate multiplier. The multiplier
// rises linearly from 1x to the midpoint at the target utilisation, then
// linearly to the maximum at full utilisation, and is clamped there.
func CurveMultiplierBps(p Params, utilizationBps uint64) uint64 {
	if utilizationBps > basisPoints {
		utilizationBps = basisPoints
	}
	target := p.TargetUtilizationBps
	mid := p.MidpointMultiplierBps
	if target == 0 || target >= basisPoints || mid < basisPoints || p.MaxMultiplierBps < mid {
		return basisPoints
	}
	if utilizationBps <= target {
		return basisPoints + (mid-basisPoints)*utilizationBps/target
	}
	multiplier := mid + (p.MaxMultiplierBps-mid)*(utilizationBps-target)/(basisPoints-target)
	if multiplier > p.MaxMultiplierBps {
		multiplier = p.MaxMultiplierBps
	}
	return multiplier
}

// APYQuote is the informational rate for the current pool state.
type APYQuote struct {
	UtilizationBps uint64
	MultiplierBps  uint64
	APYBps         uint64
}

// QuoteAPY evaluates the utilisation curve. It never transfers value.
func QuoteAPY(p Params, borrowed, liquid uint64) APYQuote {
	utilization := UtilizationBps(borrowed, liquid)
	multiplier := CurveMultiplierBps(p, utilization)
	return APYQuote{
		UtilizationBps: utilization,
		MultiplierBps:  multiplier,
		APYBps:         p.BaseAPYBps * multiplier / basisPoints,
	}
}
