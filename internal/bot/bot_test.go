package bot

import "testing"

func TestParseCoins(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"100", 10_000, false},
		{"0.5", 50, false},
		{"12.34", 1_234, false},
		{"12.345", 1_234, false},
		{" 7 ", 700, false},
		{"", 0, true},
		{"-5", 0, true},
		{"abc", 0, true},
	}
	for _, tc := range cases {
		got, err := parseCoins(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("parseCoins(%q) accepted", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseCoins(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("parseCoins(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

// Without escrow the win payout is the stake itself, so a win and a loss
// move the balance by the same magnitude in opposite directions.
func TestCoinflipSettlement(t *testing.T) {
	outcome, payout := coinflipSettlement(1_000, true)
	if outcome != "win" || payout != 1_000 {
		t.Fatalf("win settlement = (%q, %d), want (win, 1000)", outcome, payout)
	}
	outcome, payout = coinflipSettlement(1_000, false)
	if outcome != "loss" || payout != 0 {
		t.Fatalf("loss settlement = (%q, %d), want (loss, 0)", outcome, payout)
	}
}

func TestCoins(t *testing.T) {
	cases := []struct {
		cents int64
		want  string
	}{
		{10_000, "100"},
		{50, "0.50"},
		{1_234, "12.34"},
		{-250, "-2.50"},
		{0, "0"},
	}
	for _, tc := range cases {
		if got := coins(tc.cents); got != tc.want {
			t.Fatalf("coins(%d) = %q, want %q", tc.cents, got, tc.want)
		}
	}
}
