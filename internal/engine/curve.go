package engine

import "math"

// TaskReward computes the XP for completing the task at the given 1-based
// position among total direct tasks of its project. The curve has three
// stages: the final position pays out the completion multiplier plus a
// bonus (and wins when total is 1), the opening positions pay the
// initiation multiplier, everything in between is a flat execution amount.
func (c Config) TaskReward(position, total int) int {
	if total <= 0 || position < 1 || position > total {
		return 0
	}
	if position == total {
		return int(math.Round(float64(c.BaseTaskXP)*c.CompletionMultiplier)) + c.CompletionBonus
	}
	initiationEnd := 3
	if total < initiationEnd {
		initiationEnd = total
	}
	if position < initiationEnd {
		return int(math.Round(float64(c.BaseTaskXP) * c.InitiationMultiplier))
	}
	return c.ExecutionXP
}

// Interpolate evaluates a piecewise-linear curve at fraction. Fractions
// outside the covered range clamp to the nearest control point.
func Interpolate(fraction float64, points []CurvePoint) float64 {
	if len(points) == 0 {
		return 0
	}
	if fraction <= points[0].Fraction {
		return points[0].Value
	}
	last := points[len(points)-1]
	if fraction >= last.Fraction {
		return last.Value
	}
	for i := 1; i < len(points); i++ {
		if fraction > points[i].Fraction {
			continue
		}
		lo, hi := points[i-1], points[i]
		width := hi.Fraction - lo.Fraction
		if width <= 0 {
			return hi.Value
		}
		t := (fraction - lo.Fraction) / width
		return lo.Value + t*(hi.Value-lo.Value)
	}
	return last.Value
}

// Threshold is the XP required to reach level on this curve.
func (lc LevelCurve) Threshold(level int) int {
	if level <= 0 {
		return 0
	}
	return int(math.Ceil(lc.Base * math.Pow(float64(level), lc.Exponent)))
}

// LevelForXP returns the smallest level >= 1 such that xp has not yet
// reached the threshold of the next level. Recomputed on every call so the
// result can never drift from xp.
func LevelForXP(xp int, curve LevelCurve) int {
	if xp < 0 {
		xp = 0
	}
	low, high := 1, 2
	for curve.Threshold(high) <= xp {
		low = high
		high *= 2
		if high > 1<<20 {
			break
		}
	}
	for low+1 < high {
		mid := low + (high-low)/2
		if curve.Threshold(mid) <= xp {
			low = mid
		} else {
			high = mid
		}
	}
	return low
}

func (c Config) HorizonMultiplier(span Span) float64 {
	if factor, ok := c.HorizonMultipliers[span]; ok && factor > 0 {
		return factor
	}
	return 1.0
}

// AgeDecayFactor discounts rewards for old objectives with a half-life
// curve, never dropping below the configured floor.
func (c Config) AgeDecayFactor(daysOld int) float64 {
	if daysOld <= 0 {
		return 1.0
	}
	factor := math.Exp2(-float64(daysOld) / c.AgeDecayHalfLifeDays)
	if factor < c.AgeDecayFloor {
		return c.AgeDecayFloor
	}
	return factor
}
