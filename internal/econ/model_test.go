package econ

import (
	"testing"
	"time"
)

func TestTaxSplit(t *testing.T) {
	cases := []struct {
		amount int64
		credit int64
		tax    int64
	}{
		{100 * CentsPerCoin, 75 * CentsPerCoin, 25 * CentsPerCoin},
		{1, 0, 1},
		{4, 3, 1},
		{1_000_000 * CentsPerCoin, 750_000 * CentsPerCoin, 250_000 * CentsPerCoin},
	}
	for _, tc := range cases {
		debit, credit, tax := taxSplit(tc.amount)
		if debit != tc.amount {
			t.Fatalf("taxSplit(%d): debit = %d, want %d", tc.amount, debit, tc.amount)
		}
		if credit != tc.credit || tax != tc.tax {
			t.Fatalf("taxSplit(%d) = credit %d tax %d, want %d %d", tc.amount, credit, tax, tc.credit, tc.tax)
		}
		if credit+tax != debit {
			t.Fatalf("taxSplit(%d) does not conserve: %d + %d != %d", tc.amount, credit, tax, debit)
		}
	}
}

func TestClampDeposit(t *testing.T) {
	cases := []struct {
		name   string
		card   int64
		limit  int64
		amount int64
		want   int64
	}{
		{"fits", 0, 10_000 * CentsPerCoin, 500 * CentsPerCoin, 500 * CentsPerCoin},
		{"clamped to headroom", 9_900 * CentsPerCoin, 10_000 * CentsPerCoin, 1_000 * CentsPerCoin, 100 * CentsPerCoin},
		{"bank full", 10_000 * CentsPerCoin, 10_000 * CentsPerCoin, 1, 0},
		{"over full", 11_000 * CentsPerCoin, 10_000 * CentsPerCoin, 1, 0},
		{"exact headroom", 9_000 * CentsPerCoin, 10_000 * CentsPerCoin, 1_000 * CentsPerCoin, 1_000 * CentsPerCoin},
	}
	for _, tc := range cases {
		if got := clampDeposit(tc.card, tc.limit, tc.amount); got != tc.want {
			t.Fatalf("%s: clampDeposit = %d, want %d", tc.name, got, tc.want)
		}
	}
}

// The overflow gate uses the gross amount: a transfer whose taxed credit
// would fit but whose full amount would not is rejected.
func TestTransferFits(t *testing.T) {
	cases := []struct {
		card, limit, amount int64
		want                bool
	}{
		{9_000, 10_000, 1_000, true},
		{9_000, 10_000, 1_001, false},
		// credit would be 975 and fit, but the gross 1_300 does not
		{9_000, 10_000, 1_300, false},
		{10_000, 10_000, 1, false},
		{0, 10_000, 10_000, true},
	}
	for _, tc := range cases {
		if got := transferFits(tc.card, tc.limit, tc.amount); got != tc.want {
			t.Fatalf("transferFits(%d, %d, %d) = %v, want %v",
				tc.card, tc.limit, tc.amount, got, tc.want)
		}
	}
}

func TestClampLimit(t *testing.T) {
	cases := []struct {
		n, fallback, max int
		want             int
	}{
		{0, 25, 200, 25},
		{-5, 25, 200, 25},
		{50, 25, 200, 50},
		{200, 25, 200, 200},
		{201, 25, 200, 200},
	}
	for _, tc := range cases {
		if got := clampLimit(tc.n, tc.fallback, tc.max); got != tc.want {
			t.Fatalf("clampLimit(%d, %d, %d) = %d, want %d",
				tc.n, tc.fallback, tc.max, got, tc.want)
		}
	}
}

func TestNextStreak(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name   string
		last   time.Time
		streak int
		want   int
	}{
		{"first claim", time.Time{}, 0, 1},
		{"next day extends", now.Add(-25 * time.Hour), 4, 5},
		{"exactly at reset window", now.Add(-StreakResetAfter), 9, 10},
		{"three days late resets", now.Add(-72 * time.Hour), 12, 1},
	}
	for _, tc := range cases {
		if got := nextStreak(tc.last, now, tc.streak); got != tc.want {
			t.Fatalf("%s: nextStreak = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestStreakBonusBps(t *testing.T) {
	cases := []struct {
		streak int
		donor  bool
		want   int64
	}{
		{0, false, 0},
		{2, false, 0},
		{3, false, 300},
		{7, false, 500},
		{14, false, 1_000},
		{30, false, 1_500},
		{59, false, 1_500},
		{60, false, 5_000},
		{200, false, 5_000},
		{0, true, DonorBonusBps},
		{60, true, 5_000 + DonorBonusBps},
	}
	for _, tc := range cases {
		if got := streakBonusBps(tc.streak, tc.donor); got != tc.want {
			t.Fatalf("streakBonusBps(%d, %v) = %d, want %d", tc.streak, tc.donor, got, tc.want)
		}
	}
}

func TestRobChanceBps(t *testing.T) {
	cases := []struct {
		storage int64
		want    int64
	}{
		{0, 10_000},
		{5, 9_500},
		{95, 500},
		{100, 0},
		{150, 0},
		{-3, 10_000},
	}
	for _, tc := range cases {
		if got := robChanceBps(tc.storage); got != tc.want {
			t.Fatalf("robChanceBps(%d) = %d, want %d", tc.storage, got, tc.want)
		}
	}
}

// The thief's gain is capped but the victim's loss is not; the excess is
// destroyed rather than transferred.
func TestRobAmountsAsymmetry(t *testing.T) {
	gain, loss := robAmounts(20_000_000 * CentsPerCoin)
	if loss != 2_000_000*CentsPerCoin {
		t.Fatalf("loss = %d, want %d", loss, 2_000_000*CentsPerCoin)
	}
	if gain != RobGainCapCents {
		t.Fatalf("gain = %d, want cap %d", gain, RobGainCapCents)
	}
	if gain >= loss {
		t.Fatalf("expected destroyed excess, gain %d >= loss %d", gain, loss)
	}

	gain, loss = robAmounts(1_000 * CentsPerCoin)
	if gain != loss || gain != 100*CentsPerCoin {
		t.Fatalf("below cap, gain %d and loss %d should both be 10%%", gain, loss)
	}
}

// The eligibility floor is inclusive: exactly the minimum card balance
// may rob, one cent under may not.
func TestRobEligibleBoundary(t *testing.T) {
	if !robEligible(RobMinCardCents) {
		t.Fatalf("card at the minimum should be eligible")
	}
	if robEligible(RobMinCardCents - 1) {
		t.Fatalf("card one cent under the minimum should not be eligible")
	}
	if robEligible(0) {
		t.Fatalf("empty card should not be eligible")
	}
}

func TestRobPenalty(t *testing.T) {
	if got := robPenalty(50_000 * CentsPerCoin); got != 2_500*CentsPerCoin {
		t.Fatalf("robPenalty = %d, want %d", got, 2_500*CentsPerCoin)
	}
}

func TestCooldownState(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	if cooldownState(now.Add(time.Second), now) != CooldownActive {
		t.Fatalf("future eligibility should be Active")
	}
	if cooldownState(now, now) != CooldownAvailable {
		t.Fatalf("eligibility now should be Available")
	}
	if cooldownState(time.Time{}, now) != CooldownAvailable {
		t.Fatalf("zero eligibility should be Available")
	}
}

func TestRankOrdering(t *testing.T) {
	if !RankCEO.canActOn(RankManager) || !RankManager.canActOn(RankEmployee) {
		t.Fatalf("higher ranks must act on lower ranks")
	}
	if RankManager.canActOn(RankManager) {
		t.Fatalf("equal ranks must not act on each other")
	}
	if RankSenior.canActOn(RankManager) {
		t.Fatalf("lower ranks must not act on higher ranks")
	}
	for _, name := range []string{"employee", "senior", "manager", "ceo"} {
		r, ok := ParseRank(name)
		if !ok || r.String() != name {
			t.Fatalf("rank %q did not round-trip", name)
		}
	}
	if _, ok := ParseRank("intern"); ok {
		t.Fatalf("unknown rank parsed")
	}
}

func TestCompanyCaps(t *testing.T) {
	cases := []struct {
		level    int64
		members  int64
		managers int64
	}{
		{1, 10, 2},
		{2, 15, 3},
		{5, 30, 6},
	}
	for _, tc := range cases {
		if got := memberCap(tc.level); got != tc.members {
			t.Fatalf("memberCap(%d) = %d, want %d", tc.level, got, tc.members)
		}
		if got := managerCap(tc.level); got != tc.managers {
			t.Fatalf("managerCap(%d) = %d, want %d", tc.level, got, tc.managers)
		}
	}
}

func TestProjectShare(t *testing.T) {
	cost := int64(1_000 * CentsPerCoin)
	earnings := int64(1_500 * CentsPerCoin)
	if got := projectShare(earnings, 600*CentsPerCoin, cost); got != 900*CentsPerCoin {
		t.Fatalf("600 contribution share = %d, want %d", got, 900*CentsPerCoin)
	}
	if got := projectShare(earnings, 400*CentsPerCoin, cost); got != 600*CentsPerCoin {
		t.Fatalf("400 contribution share = %d, want %d", got, 600*CentsPerCoin)
	}
	if got := projectShare(earnings, 0, cost); got != 0 {
		t.Fatalf("zero contribution pays %d", got)
	}
	// Over-funding pays out more than the earnings pool on purpose; the
	// denominator is the project cost.
	if got := projectShare(earnings, 2_000*CentsPerCoin, cost); got != 3_000*CentsPerCoin {
		t.Fatalf("over-funded share = %d, want %d", got, 3_000*CentsPerCoin)
	}
}

func TestApplyBpsLargeAmount(t *testing.T) {
	// The intermediate product overflows int64; big.Int keeps it exact.
	const amount = int64(2_000_000_000_000_000_00)
	if got := applyBps(amount, 7_500); got != 1_500_000_000_000_000_00 {
		t.Fatalf("applyBps = %d", got)
	}
}

func TestAmpoulePrice(t *testing.T) {
	// 600 coins/h * 12 * 0.20 / 100 = 14.40 coins per ampoule.
	if got := ampoulePriceCents(600 * CentsPerCoin); got != 1_440 {
		t.Fatalf("ampoulePriceCents = %d, want 1440", got)
	}
}

func TestUTCDay(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	late := time.Date(2025, 6, 11, 2, 30, 0, 0, loc) // still June 10 in UTC
	if got := utcDay(late); got != "2025-06-10" {
		t.Fatalf("utcDay = %q, want 2025-06-10", got)
	}
}
