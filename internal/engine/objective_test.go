package engine

import (
	"testing"
	"time"
)

func TestObjectivePartialCreditSumsToFullReward(t *testing.T) {
	cfg := DefaultConfig().normalized()
	for _, span := range []Span{SpanDaily, SpanWeekly, SpanQuarterly, SpanFiveYear} {
		for _, krs := range []int{1, 2, 3, 4, 7, 10} {
			full := cfg.ObjectiveReward(span, 30)
			sum := 0
			for k := 1; k <= krs; k++ {
				prev := float64(k-1) / float64(krs)
				next := float64(k) / float64(krs)
				sum += cfg.ObjectiveStepReward(span, 30, prev, next)
			}
			if sum != full {
				t.Fatalf("span %s with %d key results: step sum %d != full reward %d", span, krs, sum, full)
			}
		}
	}
}

func TestObjectiveStepRewardReversesExactly(t *testing.T) {
	cfg := DefaultConfig().normalized()
	forward := cfg.ObjectiveStepReward(SpanMonthly, 10, 0.25, 0.5)
	backward := cfg.ObjectiveStepReward(SpanMonthly, 10, 0.5, 0.25)
	if forward+backward != 0 {
		t.Fatalf("forward %d and backward %d steps should cancel", forward, backward)
	}
}

func TestObjectiveRewardScalesWithHorizonAndAge(t *testing.T) {
	cfg := DefaultConfig().normalized()
	fresh := cfg.ObjectiveReward(SpanYearly, 0)
	aged := cfg.ObjectiveReward(SpanYearly, 365)
	if aged >= fresh {
		t.Fatalf("aged objective should pay less: fresh %d aged %d", fresh, aged)
	}
	if cfg.ObjectiveReward(SpanDaily, 0) >= cfg.ObjectiveReward(SpanYearly, 0) {
		t.Fatalf("longer horizon should pay more")
	}
	if aged <= 0 {
		t.Fatalf("decay floor should keep rewards positive, got %d", aged)
	}
}

func TestSplitEvenly(t *testing.T) {
	shares := splitEvenly(100, 3)
	if len(shares) != 3 || shares[0] != 33 || shares[1] != 33 || shares[2] != 34 {
		t.Fatalf("unexpected shares: %v", shares)
	}
	total := 0
	for _, share := range shares {
		total += share
	}
	if total != 100 {
		t.Fatalf("shares should sum to the award, got %d", total)
	}

	negative := splitEvenly(-100, 3)
	if negative[0] != -33 || negative[2] != -34 {
		t.Fatalf("negative split should mirror positive: %v", negative)
	}
	if out := splitEvenly(50, 0); out != nil {
		t.Fatalf("zero recipients should yield nil, got %v", out)
	}
}

func TestDaysOld(t *testing.T) {
	now := time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)
	if got := daysOld("2026-03-04", now); got != 10 {
		t.Fatalf("expected 10 days, got %d", got)
	}
	if got := daysOld("2026-03-20", now); got != 0 {
		t.Fatalf("future dates should clamp to 0, got %d", got)
	}
	if got := daysOld("", now); got != 0 {
		t.Fatalf("missing stamp should count as new, got %d", got)
	}
	if got := daysOld("not-a-date", now); got != 0 {
		t.Fatalf("garbage stamp should count as new, got %d", got)
	}
	if got := daysOld("2026-03-04T06:00:00Z", now); got != 10 {
		t.Fatalf("rfc3339 stamp should parse, got %d", got)
	}
}
