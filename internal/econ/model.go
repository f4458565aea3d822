package econ

import (
	"errors"
	"math/big"
	"time"
)

const (
	CentsPerCoin = int64(100)

	DefaultBankLimitCents = int64(25_000) * CentsPerCoin
	BankLimitStepCents    = int64(10_000) * CentsPerCoin
	BankLimitStepPrice    = int64(2_500) * CentsPerCoin

	TransferTaxBps = int64(2_500)

	MinStakeCents = int64(10) * CentsPerCoin

	RobMinCardCents    = int64(50_000) * CentsPerCoin
	RobMinTargetCents  = int64(10) * CentsPerCoin
	RobShareBps        = int64(1_000)
	RobGainCapCents    = int64(1_000_000) * CentsPerCoin
	RobFailPenaltyBps  = int64(500)
	RobCooldown        = 3 * time.Hour

	DailyCooldown = 24 * time.Hour
	WorkCooldown  = 1 * time.Hour
	BegCooldown   = 10 * time.Minute
	BonusCooldown = 12 * time.Hour
	SlutCooldown  = 2 * time.Hour

	DailyBaseCents = int64(2_500) * CentsPerCoin
	WorkMinCents   = int64(500) * CentsPerCoin
	WorkMaxCents   = int64(1_500) * CentsPerCoin
	BegMinCents    = int64(50) * CentsPerCoin
	BegMaxCents    = int64(500) * CentsPerCoin
	BonusCents     = int64(1_000) * CentsPerCoin
	SlutMinCents   = int64(1_000) * CentsPerCoin
	SlutMaxCents   = int64(2_500) * CentsPerCoin
	SlutFineCents  = int64(500) * CentsPerCoin
	SlutFailBps    = int64(4_000)

	StreakResetAfter = 48 * time.Hour
	DonorBonusBps    = int64(2_000)

	AmpoulesPerHour = int64(5)
	AmpouleCap      = int64(100)
	LabMaxState     = int64(50)

	CompanyCreateCostCents = int64(200_000) * CentsPerCoin
	ManagerDailyDrawCents  = int64(50_000) * CentsPerCoin
	VaultLimitStepCents    = int64(100_000) * CentsPerCoin
	VaultLimitStepPrice    = int64(25_000) * CentsPerCoin
	BaseVaultLimitCents    = int64(500_000) * CentsPerCoin
)

var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrBankLimitExceeded    = errors.New("bank limit exceeded")
	ErrInvalidBet           = errors.New("stake below minimum")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrSlotOccupied         = errors.New("a card is already active in this slot")
	ErrSlotEmpty            = errors.New("no active card in this slot")
	ErrInsufficientRank     = errors.New("insufficient company rank")
	ErrNoActiveEntity       = errors.New("no such entity for this user")
	ErrAlreadyExists        = errors.New("entity already exists")
	ErrCapacityExceeded     = errors.New("capacity limit reached")
	ErrCardNotFound         = errors.New("card not found")
	ErrEntityNotFound       = errors.New("entity not found")
	ErrCooldown             = errors.New("action is on cooldown")
	ErrSelfTarget           = errors.New("cannot target yourself")
	ErrConfirmExpired       = errors.New("confirmation expired")
	ErrConfirmNotFound      = errors.New("confirmation not found")
	ErrDuplicateIdempotency = errors.New("duplicate idempotency key")
	ErrTxConflict           = errors.New("transaction conflict, try again")
	ErrLabNeedsCard         = errors.New("laboratory requires a stronger equipped card")
	ErrAmpoulesDepleted     = errors.New("not enough ampoules and no cash to restock")
	ErrNotMember            = errors.New("not a member of this company")
	ErrAlreadyMember        = errors.New("already in a company")
	ErrCompanyClosed        = errors.New("company does not accept new members")
	ErrProjectActive        = errors.New("company already runs a project")
	ErrProjectNotReady      = errors.New("project goals not met")
	ErrAlreadyVoted         = errors.New("already voted on this project")
)

// applyBps multiplies an amount by a basis-point factor without float
// arithmetic. 10_000 bps = 1.0.
func applyBps(amountCents, bps int64) int64 {
	v := new(big.Int).Mul(big.NewInt(amountCents), big.NewInt(bps))
	v.Div(v, big.NewInt(10_000))
	return v.Int64()
}

// taxSplit breaks a card-to-card transfer into the sender debit, the
// receiver credit and the destroyed tax portion. debit == credit + tax.
func taxSplit(amountCents int64) (debit, credit, tax int64) {
	credit = applyBps(amountCents, 10_000-TransferTaxBps)
	return amountCents, credit, amountCents - credit
}

// headroom is the remaining bank capacity of an account.
func headroom(cardCents, bankLimitCents int64) int64 {
	if cardCents >= bankLimitCents {
		return 0
	}
	return bankLimitCents - cardCents
}

// clampDeposit bounds a cash-to-card move by the available bank headroom.
// Deposits are clamped, not rejected.
func clampDeposit(cardCents, bankLimitCents, amountCents int64) int64 {
	if h := headroom(cardCents, bankLimitCents); amountCents > h {
		return h
	}
	return amountCents
}

// transferFits reports whether the full pre-tax amount stays inside the
// receiver's bank limit. The gate uses the gross amount even though only
// 75% lands after tax.
func transferFits(recvCardCents, recvLimitCents, amountCents int64) bool {
	return amountCents <= headroom(recvCardCents, recvLimitCents)
}

// clampLimit bounds a caller-supplied page size.
func clampLimit(n, fallback, max int) int {
	if n <= 0 {
		return fallback
	}
	if n > max {
		return max
	}
	return n
}

// nextStreak advances the daily streak: claims within StreakResetAfter of
// the previous one extend it, anything later starts over at 1.
func nextStreak(lastClaim, now time.Time, streak int) int {
	if lastClaim.IsZero() || now.Sub(lastClaim) > StreakResetAfter {
		return 1
	}
	return streak + 1
}

var streakTiers = []struct {
	MinStreak int
	BonusBps  int64
}{
	{60, 5_000},
	{30, 1_500},
	{14, 1_000},
	{7, 500},
	{3, 300},
	{0, 0},
}

// streakBonusBps maps a streak length to its daily bonus, plus the flat
// donor bonus when the account is flagged.
func streakBonusBps(streak int, donor bool) int64 {
	var bps int64
	for _, tier := range streakTiers {
		if streak >= tier.MinStreak {
			bps = tier.BonusBps
			break
		}
	}
	if donor {
		bps += DonorBonusBps
	}
	return bps
}

// robEligible gates the thief: the card balance must reach the minimum
// before an attempt is allowed. Exactly the minimum qualifies.
func robEligible(thiefCardCents int64) bool {
	return thiefCardCents >= RobMinCardCents
}

// robChanceBps converts the defender's equipped personal-card storage into
// the attacker's success chance. No card means a guaranteed hit.
func robChanceBps(defenderStorage int64) int64 {
	if defenderStorage < 0 {
		defenderStorage = 0
	}
	if defenderStorage > 100 {
		defenderStorage = 100
	}
	return (100 - defenderStorage) * 100
}

// robAmounts returns what the thief gains and what the victim loses on a
// successful rob. The gain is capped, the loss is not; the difference is
// destroyed. Intentional asymmetry, do not symmetrize.
func robAmounts(targetCashCents int64) (gain, loss int64) {
	loss = applyBps(targetCashCents, RobShareBps)
	gain = loss
	if gain > RobGainCapCents {
		gain = RobGainCapCents
	}
	return gain, loss
}

// robPenalty is the card cut a thief pays for a failed attempt.
func robPenalty(cardCents int64) int64 {
	return applyBps(cardCents, RobFailPenaltyBps)
}

// CooldownState is the explicit two-state machine behind every timed
// action. There is no transition event back to Available; it is derived
// from the clock.
type CooldownState int

const (
	CooldownAvailable CooldownState = iota
	CooldownActive
)

func cooldownState(nextEligible, now time.Time) CooldownState {
	if nextEligible.After(now) {
		return CooldownActive
	}
	return CooldownAvailable
}

// Rank is a company member's authorization tier.
type Rank int

const (
	RankEmployee Rank = iota + 1
	RankSenior
	RankManager
	RankCEO
)

func (r Rank) String() string {
	switch r {
	case RankEmployee:
		return "employee"
	case RankSenior:
		return "senior"
	case RankManager:
		return "manager"
	case RankCEO:
		return "ceo"
	}
	return "unknown"
}

func ParseRank(s string) (Rank, bool) {
	switch s {
	case "employee":
		return RankEmployee, true
	case "senior":
		return RankSenior, true
	case "manager":
		return RankManager, true
	case "ceo":
		return RankCEO, true
	}
	return 0, false
}

// canActOn enforces the strict rank ordering for uprank/downrank: equals
// cannot act on equals.
func (r Rank) canActOn(target Rank) bool {
	return r > target
}

// memberCap and managerCap derive the company size ceilings from its level.
func memberCap(level int64) int64 {
	return 5*level + 5
}

func managerCap(level int64) int64 {
	return level + 1
}

// projectShare pro-rates a completed project's earnings by contribution
// against the project cost, not against the contributed total.
func projectShare(earningsCents, contributionCents, costCents int64) int64 {
	if costCents <= 0 || contributionCents <= 0 {
		return 0
	}
	v := new(big.Int).Mul(big.NewInt(earningsCents), big.NewInt(contributionCents))
	v.Div(v, big.NewInt(costCents))
	return v.Int64()
}

// ampoulePriceCents is the restock price of a single ampoule, derived from
// the lab's hourly earnings: rate * 12 * 0.20 / 100.
func ampoulePriceCents(ratePerHourCents int64) int64 {
	v := new(big.Int).Mul(big.NewInt(ratePerHourCents), big.NewInt(12*20))
	v.Div(v, big.NewInt(10_000))
	return v.Int64()
}

// utcDay buckets a timestamp into its UTC calendar day, the unit the
// Manager vault-draw cap resets on.
func utcDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
