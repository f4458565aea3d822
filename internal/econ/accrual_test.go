package econ

import (
	"testing"
	"time"
)

func TestPendingYield(t *testing.T) {
	base := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)
	cases := []struct {
		name       string
		elapsed    time.Duration
		rate       int64
		capHours   int64
		wantHours  int64
		wantAmount int64
	}{
		{"nothing yet", 30 * time.Minute, 450 * CentsPerCoin, 8, 0, 0},
		{"one hour", time.Hour, 450 * CentsPerCoin, 8, 1, 450 * CentsPerCoin},
		{"sub-hour remainder discarded", 3*time.Hour + 59*time.Minute, 450 * CentsPerCoin, 8, 3, 1_350 * CentsPerCoin},
		{"capped by storage", 30 * time.Hour, 450 * CentsPerCoin, 8, 8, 3_600 * CentsPerCoin},
		{"exactly at cap", 8 * time.Hour, 450 * CentsPerCoin, 8, 8, 3_600 * CentsPerCoin},
	}
	for _, tc := range cases {
		hours, amount := pendingYield(base, base.Add(tc.elapsed), tc.rate, tc.capHours)
		if hours != tc.wantHours || amount != tc.wantAmount {
			t.Fatalf("%s: pendingYield = %d h, %d cents; want %d h, %d cents",
				tc.name, hours, amount, tc.wantHours, tc.wantAmount)
		}
	}
}

func TestAccruedHoursClockSkew(t *testing.T) {
	now := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)
	if got := accruedHours(now.Add(time.Hour), now); got != 0 {
		t.Fatalf("future last_collected accrued %d hours", got)
	}
}

// A second collect immediately after the first must yield zero, not
// double-pay.
func TestPendingYieldIdempotentAfterReset(t *testing.T) {
	base := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)
	now := base.Add(5 * time.Hour)
	_, first := pendingYield(base, now, 1_000, 8)
	if first != 5_000 {
		t.Fatalf("first collect = %d, want 5000", first)
	}
	_, second := pendingYield(now, now, 1_000, 8)
	if second != 0 {
		t.Fatalf("second collect = %d, want 0", second)
	}
}

func TestBusinessCatalog(t *testing.T) {
	for _, kind := range []string{"foodtruck", "carwash", "nightclub", "casino"} {
		spec, ok := businessByKind(kind)
		if !ok {
			t.Fatalf("missing catalog entry %q", kind)
		}
		if spec.PriceCents <= 0 || spec.RatePerHour <= 0 || spec.StorageHours <= 0 {
			t.Fatalf("catalog entry %q has non-positive fields: %+v", kind, spec)
		}
	}
	if _, ok := businessByKind("mine"); ok {
		t.Fatalf("unknown kind resolved")
	}
}

func TestLabRates(t *testing.T) {
	if got := labRatePerHour(0); got != 600*CentsPerCoin {
		t.Fatalf("base rate = %d", got)
	}
	if got := labRatePerHour(10); got != 3_600*CentsPerCoin {
		t.Fatalf("state 10 rate = %d", got)
	}
	if got := labUpgradeCost(0); got != 20_000*CentsPerCoin {
		t.Fatalf("first upgrade = %d", got)
	}
	if got := labUpgradeCost(49); got != (20_000+49*6_000)*CentsPerCoin {
		t.Fatalf("last upgrade = %d", got)
	}
}

func TestLabStarRequirement(t *testing.T) {
	cases := []struct {
		state int64
		stars int
		gated bool
	}{
		{0, 0, false},
		{15, 0, false},
		{16, 2, true},
		{19, 2, true},
		{20, 0, false}, // the gap: state 20 has no gate at all
		{21, 3, true},
		{30, 3, true},
		{31, 4, true},
		{40, 4, true},
		{41, 5, true},
		{50, 5, true},
	}
	for _, tc := range cases {
		stars, gated := labStarRequirement(tc.state)
		if gated != tc.gated {
			t.Fatalf("state %d: gated = %v, want %v", tc.state, gated, tc.gated)
		}
		if gated && stars != tc.stars {
			t.Fatalf("state %d: stars = %d, want %d", tc.state, stars, tc.stars)
		}
	}
}
