package econ

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"moneta/internal/keylock"
)

type Service struct {
	db         *pgxpool.Pool
	log        *slog.Logger
	guard      *keylock.Guard
	confirmTTL time.Duration

	mu   sync.Mutex
	rand *mathrand.Rand
	now  func() time.Time
}

func NewService(db *pgxpool.Pool, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:         db,
		log:        logger,
		guard:      keylock.New(),
		confirmTTL: 2 * time.Minute,
		rand:       mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
		now:        time.Now,
	}
}

// SetConfirmTTL overrides how long a pending confirmation stays valid.
func (s *Service) SetConfirmTTL(d time.Duration) {
	if d > 0 {
		s.confirmTTL = d
	}
}

func (s *Service) nextFloat() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rand.Float64()
}

func (s *Service) randRange(lo, hi int64) int64 {
	if hi <= lo {
		return lo
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo + s.rand.Int63n(hi-lo+1)
}

// runTx executes fn inside a Serializable transaction, retrying on
// serialization conflicts with backoff.
func (s *Service) runTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	const maxAttempts = 8
	retryDelay := 75 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return err
		}
		err = func() error {
			defer tx.Rollback(ctx)
			if err := fn(tx); err != nil {
				return err
			}
			return tx.Commit(ctx)
		}()
		if err == nil {
			return nil
		}
		if !isSerializationError(err) {
			return err
		}
		if attempt == maxAttempts-1 {
			return ErrTxConflict
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}
	return ErrTxConflict
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func claimIdempotency(ctx context.Context, tx pgx.Tx, userID, key, action string) error {
	if key == "" {
		key = uuid.NewString()
	}
	cmd, err := tx.Exec(ctx, `
		INSERT INTO econ.idempotency_keys (user_id, key, action, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, key) DO NOTHING
	`, userID, key, action)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrDuplicateIdempotency
	}
	return nil
}

// appendLedger records one balance movement. counterparty may be another
// user id or a context tag (game name, company id, entity kind).
func appendLedger(ctx context.Context, tx pgx.Tx, txGroupID, userID, account string, deltaCents int64, action, counterparty string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO econ.ledger_entries (tx_group_id, user_id, account, delta_cents, action, counterparty)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, txGroupID, userID, account, deltaCents, action, counterparty)
	return err
}

// EnsureAccount lazily creates the zeroed account record. Safe to call on
// every command; creation happens at most once.
func (s *Service) EnsureAccount(ctx context.Context, userID string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO econ.accounts (user_id, cash_cents, card_cents, bank_limit_cents)
		VALUES ($1, 0, 0, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, DefaultBankLimitCents)
	if err != nil {
		return fmt.Errorf("ensure account: %w", err)
	}
	return nil
}

func (s *Service) Account(ctx context.Context, userID string) (AccountView, error) {
	var out AccountView
	err := s.db.QueryRow(ctx, `
		SELECT user_id, cash_cents, card_cents, bank_limit_cents, donor, daily_streak, created_at
		FROM econ.accounts
		WHERE user_id = $1
	`, userID).Scan(&out.UserID, &out.CashCents, &out.CardCents, &out.BankLimitCents, &out.Donor, &out.DailyStreak, &out.CreatedAt)
	if err == pgx.ErrNoRows {
		return out, ErrEntityNotFound
	}
	return out, err
}

func lockAccount(ctx context.Context, tx pgx.Tx, userID string) (cash, card, limit int64, err error) {
	err = tx.QueryRow(ctx, `
		SELECT cash_cents, card_cents, bank_limit_cents
		FROM econ.accounts
		WHERE user_id = $1
		FOR UPDATE
	`, userID).Scan(&cash, &card, &limit)
	if err == pgx.ErrNoRows {
		err = ErrEntityNotFound
	}
	return cash, card, limit, err
}

func setBalances(ctx context.Context, tx pgx.Tx, userID string, cash, card int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE econ.accounts
		SET cash_cents = $1, card_cents = $2, updated_at = now()
		WHERE user_id = $3
	`, cash, card, userID)
	return err
}

// Deposit moves cash into the bank, clamped to the remaining headroom.
func (s *Service) Deposit(ctx context.Context, in MoveInput) (MoveResult, error) {
	var out MoveResult
	if !in.All && in.AmountCents <= 0 {
		return out, ErrInvalidAmount
	}
	err := s.runTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, in.UserID, in.IdempotencyKey, "deposit"); err != nil {
			return err
		}
		cash, card, limit, err := lockAccount(ctx, tx, in.UserID)
		if err != nil {
			return err
		}
		amount := in.AmountCents
		if in.All {
			amount = cash
		}
		if amount > cash {
			return ErrInsufficientFunds
		}
		amount = clampDeposit(card, limit, amount)
		if amount <= 0 {
			return ErrBankLimitExceeded
		}
		out.MovedCents = amount
		out.CashCents = cash - amount
		out.CardCents = card + amount
		if err := setBalances(ctx, tx, in.UserID, out.CashCents, out.CardCents); err != nil {
			return err
		}
		gid := uuid.NewString()
		if err := appendLedger(ctx, tx, gid, in.UserID, "cash", -amount, "deposit", ""); err != nil {
			return err
		}
		return appendLedger(ctx, tx, gid, in.UserID, "card", amount, "deposit", "")
	})
	if err != nil {
		return MoveResult{}, err
	}
	s.log.Info("deposit", "user", in.UserID, "amount_cents", out.MovedCents)
	return out, nil
}

// Withdraw moves bank funds back to cash. No clamping: the full amount
// must be on the card.
func (s *Service) Withdraw(ctx context.Context, in MoveInput) (MoveResult, error) {
	var out MoveResult
	if !in.All && in.AmountCents <= 0 {
		return out, ErrInvalidAmount
	}
	err := s.runTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, in.UserID, in.IdempotencyKey, "withdraw"); err != nil {
			return err
		}
		cash, card, _, err := lockAccount(ctx, tx, in.UserID)
		if err != nil {
			return err
		}
		amount := in.AmountCents
		if in.All {
			amount = card
		}
		if amount <= 0 {
			return ErrInvalidAmount
		}
		if amount > card {
			return ErrInsufficientFunds
		}
		out.MovedCents = amount
		out.CashCents = cash + amount
		out.CardCents = card - amount
		if err := setBalances(ctx, tx, in.UserID, out.CashCents, out.CardCents); err != nil {
			return err
		}
		gid := uuid.NewString()
		if err := appendLedger(ctx, tx, gid, in.UserID, "card", -amount, "withdraw", ""); err != nil {
			return err
		}
		return appendLedger(ctx, tx, gid, in.UserID, "cash", amount, "withdraw", "")
	})
	if err != nil {
		return MoveResult{}, err
	}
	s.log.Info("withdraw", "user", in.UserID, "amount_cents", out.MovedCents)
	return out, nil
}

// BuyBankLimit purchases one step of extra card capacity from cash.
func (s *Service) BuyBankLimit(ctx context.Context, userID, idem string) (AccountView, error) {
	err := s.runTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, userID, idem, "buy_bank_limit"); err != nil {
			return err
		}
		cash, _, limit, err := lockAccount(ctx, tx, userID)
		if err != nil {
			return err
		}
		if cash < BankLimitStepPrice {
			return ErrInsufficientFunds
		}
		_, err = tx.Exec(ctx, `
			UPDATE econ.accounts
			SET cash_cents = $1, bank_limit_cents = $2, updated_at = now()
			WHERE user_id = $3
		`, cash-BankLimitStepPrice, limit+BankLimitStepCents, userID)
		if err != nil {
			return err
		}
		return appendLedger(ctx, tx, uuid.NewString(), userID, "cash", -BankLimitStepPrice, "buy_bank_limit", "")
	})
	if err != nil {
		return AccountView{}, err
	}
	return s.Account(ctx, userID)
}

// OfferTransfer validates a card-to-card transfer and parks it as a
// pending confirmation. Nothing is debited until the offer is accepted.
func (s *Service) OfferTransfer(ctx context.Context, in TransferOfferInput) (TransferOffer, error) {
	var out TransferOffer
	if in.SenderID == in.ReceiverID {
		return out, ErrSelfTarget
	}
	if !in.All && in.AmountCents <= 0 {
		return out, ErrInvalidAmount
	}
	err := s.runTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, in.SenderID, in.IdempotencyKey, "offer_transfer"); err != nil {
			return err
		}
		_, senderCard, _, err := lockAccount(ctx, tx, in.SenderID)
		if err != nil {
			return err
		}
		_, recvCard, recvLimit, err := lockAccount(ctx, tx, in.ReceiverID)
		if err != nil {
			return err
		}
		amount := in.AmountCents
		if in.All {
			amount = senderCard
			if h := headroom(recvCard, recvLimit); amount > h {
				amount = h
			}
			if amount <= 0 {
				return ErrBankLimitExceeded
			}
		}
		if amount > senderCard {
			return ErrInsufficientFunds
		}
		// Transfers fail outright over the receiver limit; only "all"
		// clamps. The gross amount must fit, not just the taxed credit.
		if !transferFits(recvCard, recvLimit, amount) {
			return ErrBankLimitExceeded
		}
		debit, credit, tax := taxSplit(amount)
		out.DebitCents = debit
		out.CreditCents = credit
		out.TaxCents = tax
		out.ConfirmationID = uuid.NewString()
		out.ExpiresAt = s.now().Add(s.confirmTTL)
		_, err = tx.Exec(ctx, `
			INSERT INTO econ.confirmations (id, kind, actor_id, counterparty_id, amount_cents, payload, expires_at)
			VALUES ($1, 'transfer', $2, $3, $4, '', $5)
		`, out.ConfirmationID, in.SenderID, in.ReceiverID, debit, out.ExpiresAt)
		return err
	})
	if err != nil {
		return TransferOffer{}, err
	}
	return out, nil
}

// AcceptTransfer settles a pending transfer. Balances are re-validated
// here against current state, never against what was true at offer time.
func (s *Service) AcceptTransfer(ctx context.Context, confirmationID, actorID string) (TransferOffer, error) {
	var out TransferOffer
	var sender, receiver string
	if err := s.db.QueryRow(ctx, `
		SELECT actor_id, counterparty_id FROM econ.confirmations WHERE id = $1 AND kind = 'transfer'
	`, confirmationID).Scan(&sender, &receiver); err != nil {
		if err == pgx.ErrNoRows {
			return out, ErrConfirmNotFound
		}
		return out, err
	}
	release := s.guard.Acquire(sender, receiver)
	defer release()

	err := s.runTx(ctx, func(tx pgx.Tx) error {
		var amount int64
		var expiresAt time.Time
		err := tx.QueryRow(ctx, `
			SELECT amount_cents, expires_at
			FROM econ.confirmations
			WHERE id = $1 AND kind = 'transfer' AND actor_id = $2
			FOR UPDATE
		`, confirmationID, sender).Scan(&amount, &expiresAt)
		if err == pgx.ErrNoRows {
			return ErrConfirmNotFound
		}
		if err != nil {
			return err
		}
		if actorID != sender {
			return ErrConfirmNotFound
		}
		if s.now().After(expiresAt) {
			return ErrConfirmExpired
		}
		if _, err := tx.Exec(ctx, `DELETE FROM econ.confirmations WHERE id = $1`, confirmationID); err != nil {
			return err
		}

		senderCash, senderCard, _, err := lockAccount(ctx, tx, sender)
		if err != nil {
			return err
		}
		recvCash, recvCard, recvLimit, err := lockAccount(ctx, tx, receiver)
		if err != nil {
			return err
		}
		debit, credit, tax := taxSplit(amount)
		if debit > senderCard {
			return ErrInsufficientFunds
		}
		if !transferFits(recvCard, recvLimit, debit) {
			return ErrBankLimitExceeded
		}
		if err := setBalances(ctx, tx, sender, senderCash, senderCard-debit); err != nil {
			return err
		}
		if err := setBalances(ctx, tx, receiver, recvCash, recvCard+credit); err != nil {
			return err
		}
		gid := uuid.NewString()
		if err := appendLedger(ctx, tx, gid, sender, "card", -debit, "transfer", receiver); err != nil {
			return err
		}
		if err := appendLedger(ctx, tx, gid, receiver, "card", credit, "transfer", sender); err != nil {
			return err
		}
		out = TransferOffer{ConfirmationID: confirmationID, DebitCents: debit, CreditCents: credit, TaxCents: tax}
		return nil
	})
	if err != nil {
		return TransferOffer{}, err
	}
	s.log.Info("transfer settled", "from", sender, "to", receiver, "debit_cents", out.DebitCents, "tax_cents", out.TaxCents)
	return out, nil
}

// RejectConfirmation drops a pending confirmation of any kind. Pure no-op
// on balances.
func (s *Service) RejectConfirmation(ctx context.Context, confirmationID, actorID string) error {
	cmd, err := s.db.Exec(ctx, `
		DELETE FROM econ.confirmations
		WHERE id = $1 AND (actor_id = $2 OR counterparty_id = $2)
	`, confirmationID, actorID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrConfirmNotFound
	}
	return nil
}

// PurgeExpiredConfirmations is run by the worker.
func (s *Service) PurgeExpiredConfirmations(ctx context.Context) (int64, error) {
	cmd, err := s.db.Exec(ctx, `DELETE FROM econ.confirmations WHERE expires_at < now()`)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// SettleGamble applies an externally decided game outcome to the account.
// The engine does not know game rules, only stakes, payouts and stats.
func (s *Service) SettleGamble(ctx context.Context, in GambleInput) (GambleResult, error) {
	var out GambleResult
	if in.StakeCents < MinStakeCents {
		return out, ErrInvalidBet
	}
	if in.Game == "" {
		return out, fmt.Errorf("game name is required")
	}
	switch in.Outcome {
	case "win", "loss", "tie":
	default:
		return out, fmt.Errorf("outcome must be win, loss or tie")
	}
	err := s.runTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, in.UserID, in.IdempotencyKey, "gamble"); err != nil {
			return err
		}
		cash, card, _, err := lockAccount(ctx, tx, in.UserID)
		if err != nil {
			return err
		}
		var delta int64
		var wins, losses, ties int64
		switch in.Outcome {
		case "win":
			delta = in.PayoutCents
			wins = 1
		case "loss":
			if cash < in.StakeCents {
				return ErrInsufficientFunds
			}
			delta = -in.StakeCents
			losses = 1
		case "tie":
			ties = 1
		}
		out.DeltaCents = delta
		out.CashCents = cash + delta
		if delta != 0 {
			if err := setBalances(ctx, tx, in.UserID, out.CashCents, card); err != nil {
				return err
			}
			if err := appendLedger(ctx, tx, uuid.NewString(), in.UserID, "cash", delta, "gamble", in.Game); err != nil {
				return err
			}
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO econ.game_stats (user_id, game, wins, losses, ties, net_cents)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (user_id, game) DO UPDATE
			SET wins = econ.game_stats.wins + $3,
			    losses = econ.game_stats.losses + $4,
			    ties = econ.game_stats.ties + $5,
			    net_cents = econ.game_stats.net_cents + $6
		`, in.UserID, in.Game, wins, losses, ties, out.DeltaCents)
		return err
	})
	if err != nil {
		return GambleResult{}, err
	}
	return out, nil
}

// Rob attempts to steal from the target's cash. The thief's gain is
// capped; the victim's loss is not. Both outcomes arm the 3h cooldown.
func (s *Service) Rob(ctx context.Context, thiefID, targetID, idem string) (RobResult, error) {
	var out RobResult
	if thiefID == targetID {
		return out, ErrSelfTarget
	}
	release := s.guard.Acquire(thiefID, targetID)
	defer release()

	roll := s.nextFloat()
	err := s.runTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, thiefID, idem, "rob"); err != nil {
			return err
		}
		var nextRob time.Time
		if err := tx.QueryRow(ctx, `
			SELECT next_rob FROM econ.accounts WHERE user_id = $1 FOR UPDATE
		`, thiefID).Scan(&nextRob); err != nil {
			if err == pgx.ErrNoRows {
				return ErrEntityNotFound
			}
			return err
		}
		now := s.now()
		if cooldownState(nextRob, now) == CooldownActive {
			return ErrCooldown
		}
		thiefCash, thiefCard, _, err := lockAccount(ctx, tx, thiefID)
		if err != nil {
			return err
		}
		targetCash, targetCard, _, err := lockAccount(ctx, tx, targetID)
		if err != nil {
			return err
		}
		if !robEligible(thiefCard) {
			return ErrInsufficientFunds
		}
		if targetCash < RobMinTargetCents {
			return ErrNoActiveEntity
		}

		var defense int64
		err = tx.QueryRow(ctx, `
			SELECT storage FROM econ.cards
			WHERE owner_id = $1 AND slot = 'personal' AND in_use
		`, targetID).Scan(&defense)
		if err != nil && err != pgx.ErrNoRows {
			return err
		}
		out.ChanceBps = robChanceBps(defense)
		out.Success = roll*10_000 < float64(out.ChanceBps)

		gid := uuid.NewString()
		if out.Success {
			gain, loss := robAmounts(targetCash)
			out.GainCents = gain
			out.LossCents = loss
			if err := setBalances(ctx, tx, thiefID, thiefCash+gain, thiefCard); err != nil {
				return err
			}
			if err := setBalances(ctx, tx, targetID, targetCash-loss, targetCard); err != nil {
				return err
			}
			if err := appendLedger(ctx, tx, gid, thiefID, "cash", gain, "rob", targetID); err != nil {
				return err
			}
			if err := appendLedger(ctx, tx, gid, targetID, "cash", -loss, "rob", thiefID); err != nil {
				return err
			}
			out.CashCents = thiefCash + gain
		} else {
			penalty := robPenalty(thiefCard)
			out.LossCents = penalty
			if err := setBalances(ctx, tx, thiefID, thiefCash, thiefCard-penalty); err != nil {
				return err
			}
			if err := appendLedger(ctx, tx, gid, thiefID, "card", -penalty, "rob_failed", targetID); err != nil {
				return err
			}
			out.CashCents = thiefCash
		}
		_, err = tx.Exec(ctx, `
			UPDATE econ.accounts SET next_rob = $1, updated_at = now() WHERE user_id = $2
		`, now.Add(RobCooldown), thiefID)
		return err
	})
	if err != nil {
		return RobResult{}, err
	}
	s.log.Info("rob", "thief", thiefID, "target", targetID, "success", out.Success, "gain_cents", out.GainCents)
	return out, nil
}

// claimTimed is the shared body of the cooldown-gated income commands.
func (s *Service) claimTimed(ctx context.Context, userID, idem, action, column string, cooldown time.Duration, amount func() (int64, bool)) (ClaimResult, error) {
	var out ClaimResult
	err := s.runTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, userID, idem, action); err != nil {
			return err
		}
		var next time.Time
		query := fmt.Sprintf(`SELECT %s FROM econ.accounts WHERE user_id = $1 FOR UPDATE`, column)
		if err := tx.QueryRow(ctx, query, userID).Scan(&next); err != nil {
			if err == pgx.ErrNoRows {
				return ErrEntityNotFound
			}
			return err
		}
		now := s.now()
		if cooldownState(next, now) == CooldownActive {
			return ErrCooldown
		}
		cash, card, _, err := lockAccount(ctx, tx, userID)
		if err != nil {
			return err
		}
		delta, won := amount()
		out.Won = won
		out.AmountCents = delta
		if !won && delta > cash {
			delta = cash // fines never drive cash negative
			out.AmountCents = delta
		}
		if !won {
			delta = -delta
		}
		out.CashCents = cash + delta
		if delta != 0 {
			if err := setBalances(ctx, tx, userID, out.CashCents, card); err != nil {
				return err
			}
			if err := appendLedger(ctx, tx, uuid.NewString(), userID, "cash", delta, action, ""); err != nil {
				return err
			}
		}
		update := fmt.Sprintf(`UPDATE econ.accounts SET %s = $1, updated_at = now() WHERE user_id = $2`, column)
		_, err = tx.Exec(ctx, update, now.Add(cooldown), userID)
		return err
	})
	if err != nil {
		return ClaimResult{}, err
	}
	return out, nil
}

func (s *Service) Work(ctx context.Context, userID, idem string) (ClaimResult, error) {
	return s.claimTimed(ctx, userID, idem, "work", "next_work", WorkCooldown, func() (int64, bool) {
		return s.randRange(WorkMinCents, WorkMaxCents), true
	})
}

func (s *Service) Beg(ctx context.Context, userID, idem string) (ClaimResult, error) {
	return s.claimTimed(ctx, userID, idem, "beg", "next_beg", BegCooldown, func() (int64, bool) {
		return s.randRange(BegMinCents, BegMaxCents), true
	})
}

func (s *Service) Bonus(ctx context.Context, userID, idem string) (ClaimResult, error) {
	return s.claimTimed(ctx, userID, idem, "bonus", "next_bonus", BonusCooldown, func() (int64, bool) {
		return BonusCents, true
	})
}

// Slut is the high-risk timed claim: most attempts pay out, the rest cost
// a fine from cash.
func (s *Service) Slut(ctx context.Context, userID, idem string) (ClaimResult, error) {
	roll := s.nextFloat()
	return s.claimTimed(ctx, userID, idem, "slut", "next_slut", SlutCooldown, func() (int64, bool) {
		if roll*10_000 < float64(SlutFailBps) {
			return SlutFineCents, false
		}
		return s.randRange(SlutMinCents, SlutMaxCents), true
	})
}

// Daily pays the streak-scaled daily reward.
func (s *Service) Daily(ctx context.Context, userID, idem string) (ClaimResult, error) {
	var out ClaimResult
	err := s.runTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, userID, idem, "daily"); err != nil {
			return err
		}
		var next, last time.Time
		var streak int
		var donor bool
		err := tx.QueryRow(ctx, `
			SELECT next_daily, last_daily, daily_streak, donor
			FROM econ.accounts
			WHERE user_id = $1
			FOR UPDATE
		`, userID).Scan(&next, &last, &streak, &donor)
		if err == pgx.ErrNoRows {
			return ErrEntityNotFound
		}
		if err != nil {
			return err
		}
		now := s.now()
		if cooldownState(next, now) == CooldownActive {
			return ErrCooldown
		}
		cash, card, _, err := lockAccount(ctx, tx, userID)
		if err != nil {
			return err
		}
		out.Streak = nextStreak(last, now, streak)
		out.BonusBps = streakBonusBps(out.Streak, donor)
		out.AmountCents = DailyBaseCents + applyBps(DailyBaseCents, out.BonusBps)
		out.CashCents = cash + out.AmountCents
		out.Won = true
		if err := setBalances(ctx, tx, userID, out.CashCents, card); err != nil {
			return err
		}
		if err := appendLedger(ctx, tx, uuid.NewString(), userID, "cash", out.AmountCents, "daily", ""); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE econ.accounts
			SET next_daily = $1, last_daily = $2, daily_streak = $3, updated_at = now()
			WHERE user_id = $4
		`, now.Add(DailyCooldown), now, out.Streak, userID)
		return err
	})
	if err != nil {
		return ClaimResult{}, err
	}
	s.log.Info("daily claimed", "user", userID, "streak", out.Streak, "amount_cents", out.AmountCents)
	return out, nil
}

// Grant credits cash from nowhere. Operator tooling only.
func (s *Service) Grant(ctx context.Context, userID string, amountCents int64, reason, idem string) error {
	if amountCents == 0 {
		return ErrInvalidAmount
	}
	return s.runTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, userID, idem, "grant"); err != nil {
			return err
		}
		cash, card, _, err := lockAccount(ctx, tx, userID)
		if err != nil {
			return err
		}
		if cash+amountCents < 0 {
			return ErrInsufficientFunds
		}
		if err := setBalances(ctx, tx, userID, cash+amountCents, card); err != nil {
			return err
		}
		return appendLedger(ctx, tx, uuid.NewString(), userID, "cash", amountCents, "grant", reason)
	})
}

func (s *Service) GameStats(ctx context.Context, userID string) ([]StatRow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT game, wins, losses, ties, net_cents
		FROM econ.game_stats
		WHERE user_id = $1
		ORDER BY game
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StatRow
	for rows.Next() {
		var r StatRow
		if err := rows.Scan(&r.Game, &r.Wins, &r.Losses, &r.Ties, &r.NetCents); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Service) History(ctx context.Context, userID string, limit int) ([]LedgerRow, error) {
	limit = clampLimit(limit, 25, 200)
	rows, err := s.db.Query(ctx, `
		SELECT tx_group_id, account, action, delta_cents, counterparty, created_at
		FROM econ.ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LedgerRow
	for rows.Next() {
		var r LedgerRow
		if err := rows.Scan(&r.TxGroupID, &r.Account, &r.Action, &r.DeltaCents, &r.Counterparty, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Service) Leaderboard(ctx context.Context, limit int) ([]AccountView, error) {
	limit = clampLimit(limit, 10, 100)
	rows, err := s.db.Query(ctx, `
		SELECT user_id, cash_cents, card_cents, bank_limit_cents, donor, daily_streak, created_at
		FROM econ.accounts
		ORDER BY cash_cents + card_cents DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AccountView
	for rows.Next() {
		var a AccountView
		if err := rows.Scan(&a.UserID, &a.CashCents, &a.CardCents, &a.BankLimitCents, &a.Donor, &a.DailyStreak, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// TotalCents is used by conservation checks in tooling: the sum of all
// cash and card balances plus company vaults.
func (s *Service) TotalCents(ctx context.Context) (*big.Int, error) {
	var accounts, vaults int64
	if err := s.db.QueryRow(ctx, `SELECT COALESCE(SUM(cash_cents + card_cents), 0) FROM econ.accounts`).Scan(&accounts); err != nil {
		return nil, err
	}
	if err := s.db.QueryRow(ctx, `SELECT COALESCE(SUM(vault_cents), 0) FROM econ.companies`).Scan(&vaults); err != nil {
		return nil, err
	}
	return new(big.Int).Add(big.NewInt(accounts), big.NewInt(vaults)), nil
}
