package econ

import "time"

type AccountView struct {
	UserID         string    `json:"user_id"`
	CashCents      int64     `json:"cash_cents"`
	CardCents      int64     `json:"card_cents"`
	BankLimitCents int64     `json:"bank_limit_cents"`
	Donor          bool      `json:"donor"`
	DailyStreak    int       `json:"daily_streak"`
	CreatedAt      time.Time `json:"created_at"`
}

type MoveInput struct {
	UserID         string
	AmountCents    int64
	All            bool
	IdempotencyKey string
}

type MoveResult struct {
	MovedCents int64 `json:"moved_cents"`
	CashCents  int64 `json:"cash_cents"`
	CardCents  int64 `json:"card_cents"`
}

type TransferOfferInput struct {
	SenderID       string
	ReceiverID     string
	AmountCents    int64
	All            bool
	IdempotencyKey string
}

type TransferOffer struct {
	ConfirmationID string    `json:"confirmation_id"`
	DebitCents     int64     `json:"debit_cents"`
	CreditCents    int64     `json:"credit_cents"`
	TaxCents       int64     `json:"tax_cents"`
	ExpiresAt      time.Time `json:"expires_at"`
}

type ClaimResult struct {
	AmountCents int64 `json:"amount_cents"`
	Streak      int   `json:"streak,omitempty"`
	BonusBps    int64 `json:"bonus_bps,omitempty"`
	CashCents   int64 `json:"cash_cents"`
	Won         bool  `json:"won"`
}

type GambleInput struct {
	UserID         string
	Game           string
	StakeCents     int64
	Outcome        string // win, loss, tie
	PayoutCents    int64  // credited on win, ignored otherwise
	IdempotencyKey string
}

type GambleResult struct {
	DeltaCents int64 `json:"delta_cents"`
	CashCents  int64 `json:"cash_cents"`
}

type RobResult struct {
	Success    bool  `json:"success"`
	GainCents  int64 `json:"gain_cents"`
	LossCents  int64 `json:"loss_cents"`
	ChanceBps  int64 `json:"chance_bps"`
	CashCents  int64 `json:"cash_cents"`
}

type EntityView struct {
	Kind          string    `json:"kind"`
	PriceCents    int64     `json:"price_cents,omitempty"`
	UpgradeState  int64     `json:"upgrade_state,omitempty"`
	Ampoules      int64     `json:"ampoules,omitempty"`
	RatePerHour   int64     `json:"rate_per_hour_cents"`
	StorageHours  int64     `json:"storage_hours"`
	PendingCents  int64     `json:"pending_cents"`
	PendingHours  int64     `json:"pending_hours"`
	LastCollected time.Time `json:"last_collected"`
}

type CollectResult struct {
	Hours          int64 `json:"hours"`
	AmountCents    int64 `json:"amount_cents"`
	AmpoulesBurned int64 `json:"ampoules_burned,omitempty"`
	AmpoulesBought int64 `json:"ampoules_bought,omitempty"`
	RestockCents   int64 `json:"restock_cents,omitempty"`
	CashCents      int64 `json:"cash_cents"`
}

type CardView struct {
	CardID        string `json:"card_id"`
	OwnerID       string `json:"owner_id"`
	Slot          string `json:"slot"`
	Stars         int    `json:"stars"`
	Background    string `json:"background"`
	MultiplierBps int64  `json:"multiplier_bps"`
	Storage       int64  `json:"storage"`
	InUse         bool   `json:"in_use"`
	ImageURL      string `json:"image_url,omitempty"`
}

type OpenCaseInput struct {
	UserID         string
	CaseType       string
	Slot           string
	IdempotencyKey string
}

type CardSaleInput struct {
	SellerID       string
	BuyerID        string
	CardID         string
	PriceCents     int64
	IdempotencyKey string
}

type CompanyView struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	CEOUserID       string `json:"ceo_user_id"`
	Level           int64  `json:"level"`
	VaultCents      int64  `json:"vault_cents"`
	VaultLimitCents int64  `json:"vault_limit_cents"`
	Reputation      int64  `json:"reputation"`
	Privacy         string `json:"privacy"`
	MemberCount     int64  `json:"member_count"`
}

type MemberView struct {
	UserID string `json:"user_id"`
	Rank   string `json:"rank"`
}

type VaultMoveInput struct {
	ActorID        string
	CompanyID      int64
	AmountCents    int64
	TargetID       string // bonus recipient, empty for withdraw
	IdempotencyKey string
}

type ProjectView struct {
	ID            int64  `json:"id"`
	SpecKey       string `json:"spec_key"`
	CostCents     int64  `json:"cost_cents"`
	EarningsCents int64  `json:"earnings_cents"`
	MoneyCents    int64  `json:"money_cents"`
	Votes         int64  `json:"votes"`
	VotesRequired int64  `json:"votes_required"`
	Ready         bool   `json:"ready"`
}

type StatRow struct {
	Game     string `json:"game"`
	Wins     int64  `json:"wins"`
	Losses   int64  `json:"losses"`
	Ties     int64  `json:"ties"`
	NetCents int64  `json:"net_cents"`
}

type LedgerRow struct {
	TxGroupID    string    `json:"tx_group_id"`
	Account      string    `json:"account"`
	Action       string    `json:"action"`
	DeltaCents   int64     `json:"delta_cents"`
	Counterparty string    `json:"counterparty,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
