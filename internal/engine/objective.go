package engine

import (
	"math"
	"time"
)

// Objective is recomputed from the objectives document on every scan; only
// its key-result tasks persist, through the tracker.
type Objective struct {
	Title        string   `json:"title"`
	Span         Span     `json:"span"`
	AreaPaths    []string `json:"area_paths,omitempty"`
	CompletedKRs int      `json:"completed_krs"`
	TotalKRs     int      `json:"total_krs"`
	CreatedAt    string   `json:"created_at,omitempty"`
}

// ObjectiveReward is the full one-shot award: base XP scaled by the time
// horizon and discounted by age.
func (c Config) ObjectiveReward(span Span, daysOld int) int {
	return int(math.Round(float64(c.ObjectiveBaseXP) * c.HorizonMultiplier(span) * c.AgeDecayFactor(daysOld)))
}

// ObjectiveCumulative maps a completion fraction onto the shaping curve
// and scales it by the full reward, rounded once.
func (c Config) ObjectiveCumulative(span Span, daysOld int, fraction float64) int {
	full := float64(c.ObjectiveBaseXP) * c.HorizonMultiplier(span) * c.AgeDecayFactor(daysOld)
	return int(math.Round(full * Interpolate(fraction, c.ObjectiveCurve)))
}

// ObjectiveStepReward is the incremental award for moving the completed
// fraction from prev to next. Differencing the rounded cumulative values
// makes sequential steps telescope to exactly the full reward.
func (c Config) ObjectiveStepReward(span Span, daysOld int, prev, next float64) int {
	return c.ObjectiveCumulative(span, daysOld, next) - c.ObjectiveCumulative(span, daysOld, prev)
}

// splitEvenly divides an award across n recipients, remainder to the last,
// symmetric for negative amounts.
func splitEvenly(amount, n int) []int {
	if n <= 0 {
		return nil
	}
	shares := make([]int, n)
	base := amount / n
	for i := range shares {
		shares[i] = base
	}
	shares[n-1] += amount - base*n
	return shares
}

// parseFlexDate accepts the two stamp forms the vault uses: date-only
// and RFC3339.
func parseFlexDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if len(s) == len("2006-01-02") {
		t, err := time.Parse("2006-01-02", s)
		return t, err == nil
	}
	t, err := time.Parse(time.RFC3339, s)
	return t, err == nil
}

// daysOld converts a stored creation stamp to whole days before now.
// Unparsable input counts as brand new.
func daysOld(createdAt string, now time.Time) int {
	created, ok := parseFlexDate(createdAt)
	if !ok {
		return 0
	}
	days := int(now.UTC().Sub(created.UTC()).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
