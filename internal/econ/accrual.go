package econ

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// accruedHours is the number of whole hours of yield sitting uncollected.
func accruedHours(lastCollected, now time.Time) int64 {
	if !now.After(lastCollected) {
		return 0
	}
	return int64(now.Sub(lastCollected) / time.Hour)
}

// pendingYield computes accrued income capped by the storage window.
// Collection resets last_collected to now, so the sub-hour remainder is
// discarded rather than carried forward.
func pendingYield(lastCollected, now time.Time, ratePerHourCents, capHours int64) (hours, amountCents int64) {
	hours = accruedHours(lastCollected, now)
	if hours > capHours {
		hours = capHours
	}
	return hours, ratePerHourCents * hours
}

type businessSpec struct {
	Kind         string
	DisplayName  string
	PriceCents   int64
	RatePerHour  int64
	StorageHours int64
}

var businessCatalog = []businessSpec{
	{Kind: "foodtruck", DisplayName: "Food Truck", PriceCents: 50_000 * CentsPerCoin, RatePerHour: 450 * CentsPerCoin, StorageHours: 8},
	{Kind: "carwash", DisplayName: "Car Wash", PriceCents: 140_000 * CentsPerCoin, RatePerHour: 1_100 * CentsPerCoin, StorageHours: 10},
	{Kind: "nightclub", DisplayName: "Nightclub", PriceCents: 420_000 * CentsPerCoin, RatePerHour: 3_000 * CentsPerCoin, StorageHours: 12},
	{Kind: "casino", DisplayName: "Casino", PriceCents: 1_200_000 * CentsPerCoin, RatePerHour: 7_500 * CentsPerCoin, StorageHours: 12},
}

func businessByKind(kind string) (businessSpec, bool) {
	for _, spec := range businessCatalog {
		if spec.Kind == kind {
			return spec, true
		}
	}
	return businessSpec{}, false
}

const (
	labBasePriceCents  = int64(80_000) * 100
	labBaseRateCents   = int64(600) * 100
	labRateStepCents   = int64(300) * 100
	labStorageHours    = int64(10)
	labUpgradeBase     = int64(20_000) * 100
	labUpgradeStep     = int64(6_000) * 100
)

// labRatePerHour grows linearly with the upgrade state.
func labRatePerHour(state int64) int64 {
	return labBaseRateCents + state*labRateStepCents
}

func labUpgradeCost(state int64) int64 {
	return labUpgradeBase + state*labUpgradeStep
}

type starGate struct {
	Lo, Hi int64 // state range [Lo, Hi)
	Stars  int
}

// labStarGates are half-open state ranges. State 20 falls in no range;
// that hole is intentional and pinned by test.
var labStarGates = []starGate{
	{16, 20, 2},
	{21, 31, 3},
	{31, 41, 4},
	{41, 51, 5},
}

// labStarRequirement returns the minimum equipped-card stars needed to
// collect at the given upgrade state, and whether any gate applies.
func labStarRequirement(state int64) (stars int, gated bool) {
	for _, g := range labStarGates {
		if state >= g.Lo && state < g.Hi {
			return g.Stars, true
		}
	}
	return 0, false
}

// cardBoost looks up the in-use card for a slot and returns its rate
// multiplier and storage extension. Absent card means neutral values.
func cardBoost(ctx context.Context, tx pgx.Tx, userID, slot string) (multiplierBps, extraHours int64, stars int, err error) {
	err = tx.QueryRow(ctx, `
		SELECT multiplier_bps, storage, stars
		FROM econ.cards
		WHERE owner_id = $1 AND slot = $2 AND in_use
	`, userID, slot).Scan(&multiplierBps, &extraHours, &stars)
	if err == pgx.ErrNoRows {
		return 10_000, 0, 0, nil
	}
	return multiplierBps, extraHours, stars, err
}

// BuyBusiness debits the purchase price and creates the user's single
// business. A second purchase fails with ErrAlreadyExists.
func (s *Service) BuyBusiness(ctx context.Context, userID, kind, idem string) error {
	spec, ok := businessByKind(kind)
	if !ok {
		return ErrEntityNotFound
	}
	return s.runTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, userID, idem, "buy_business"); err != nil {
			return err
		}
		cash, card, _, err := lockAccount(ctx, tx, userID)
		if err != nil {
			return err
		}
		if cash < spec.PriceCents {
			return ErrInsufficientFunds
		}
		cmd, err := tx.Exec(ctx, `
			INSERT INTO econ.businesses (user_id, kind, last_collected)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id) DO NOTHING
		`, userID, kind, s.now())
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return ErrAlreadyExists
		}
		if err := setBalances(ctx, tx, userID, cash-spec.PriceCents, card); err != nil {
			return err
		}
		return appendLedger(ctx, tx, uuid.NewString(), userID, "cash", -spec.PriceCents, "buy_business", kind)
	})
}

// SellBusiness refunds half the purchase price and removes the entity.
func (s *Service) SellBusiness(ctx context.Context, userID, idem string) error {
	return s.runTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, userID, idem, "sell_business"); err != nil {
			return err
		}
		var kind string
		err := tx.QueryRow(ctx, `
			SELECT kind FROM econ.businesses WHERE user_id = $1 FOR UPDATE
		`, userID).Scan(&kind)
		if err == pgx.ErrNoRows {
			return ErrNoActiveEntity
		}
		if err != nil {
			return err
		}
		spec, ok := businessByKind(kind)
		if !ok {
			return ErrEntityNotFound
		}
		refund := spec.PriceCents / 2
		if _, err := tx.Exec(ctx, `DELETE FROM econ.businesses WHERE user_id = $1`, userID); err != nil {
			return err
		}
		cash, card, _, err := lockAccount(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := setBalances(ctx, tx, userID, cash+refund, card); err != nil {
			return err
		}
		return appendLedger(ctx, tx, uuid.NewString(), userID, "cash", refund, "sell_business", kind)
	})
}

// Business reports the entity with its pending yield at this instant.
func (s *Service) Business(ctx context.Context, userID string) (EntityView, error) {
	var out EntityView
	var kind string
	var last time.Time
	err := s.db.QueryRow(ctx, `
		SELECT kind, last_collected FROM econ.businesses WHERE user_id = $1
	`, userID).Scan(&kind, &last)
	if err == pgx.ErrNoRows {
		return out, ErrNoActiveEntity
	}
	if err != nil {
		return out, err
	}
	spec, _ := businessByKind(kind)
	out.Kind = kind
	out.RatePerHour = spec.RatePerHour
	out.StorageHours = spec.StorageHours
	out.LastCollected = last
	out.PendingHours, out.PendingCents = pendingYield(last, s.now(), spec.RatePerHour, spec.StorageHours)
	return out, nil
}

// CollectBusiness pays out the pending yield. The equipped manager card
// scales the rate and extends the storage window.
func (s *Service) CollectBusiness(ctx context.Context, userID, idem string) (CollectResult, error) {
	var out CollectResult
	err := s.runTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, userID, idem, "collect_business"); err != nil {
			return err
		}
		var kind string
		var last time.Time
		err := tx.QueryRow(ctx, `
			SELECT kind, last_collected FROM econ.businesses WHERE user_id = $1 FOR UPDATE
		`, userID).Scan(&kind, &last)
		if err == pgx.ErrNoRows {
			return ErrNoActiveEntity
		}
		if err != nil {
			return err
		}
		spec, ok := businessByKind(kind)
		if !ok {
			return ErrEntityNotFound
		}
		boostBps, extraHours, _, err := cardBoost(ctx, tx, userID, "business")
		if err != nil {
			return err
		}
		now := s.now()
		rate := applyBps(spec.RatePerHour, boostBps)
		hours, amount := pendingYield(last, now, rate, spec.StorageHours+extraHours)
		if hours < 1 {
			return ErrCooldown
		}
		out.Hours = hours
		out.AmountCents = amount
		cash, card, _, err := lockAccount(ctx, tx, userID)
		if err != nil {
			return err
		}
		out.CashCents = cash + amount
		if err := setBalances(ctx, tx, userID, out.CashCents, card); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE econ.businesses SET last_collected = $1 WHERE user_id = $2
		`, now, userID); err != nil {
			return err
		}
		return appendLedger(ctx, tx, uuid.NewString(), userID, "cash", amount, "collect_business", kind)
	})
	if err != nil {
		return CollectResult{}, err
	}
	s.log.Info("business collected", "user", userID, "hours", out.Hours, "amount_cents", out.AmountCents)
	return out, nil
}

// BuyLab creates the user's laboratory at upgrade state 0 with a full
// ampoule rack.
func (s *Service) BuyLab(ctx context.Context, userID, idem string) error {
	return s.runTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, userID, idem, "buy_lab"); err != nil {
			return err
		}
		cash, card, _, err := lockAccount(ctx, tx, userID)
		if err != nil {
			return err
		}
		if cash < labBasePriceCents {
			return ErrInsufficientFunds
		}
		cmd, err := tx.Exec(ctx, `
			INSERT INTO econ.labs (user_id, upgrade_state, ampoules, last_collected)
			VALUES ($1, 0, $2, $3)
			ON CONFLICT (user_id) DO NOTHING
		`, userID, AmpouleCap, s.now())
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return ErrAlreadyExists
		}
		if err := setBalances(ctx, tx, userID, cash-labBasePriceCents, card); err != nil {
			return err
		}
		return appendLedger(ctx, tx, uuid.NewString(), userID, "cash", -labBasePriceCents, "buy_lab", "")
	})
}

// UpgradeLab advances the upgrade state by one, at escalating cost.
func (s *Service) UpgradeLab(ctx context.Context, userID, idem string) (int64, error) {
	var newState int64
	err := s.runTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, userID, idem, "upgrade_lab"); err != nil {
			return err
		}
		var state int64
		err := tx.QueryRow(ctx, `
			SELECT upgrade_state FROM econ.labs WHERE user_id = $1 FOR UPDATE
		`, userID).Scan(&state)
		if err == pgx.ErrNoRows {
			return ErrNoActiveEntity
		}
		if err != nil {
			return err
		}
		if state >= LabMaxState {
			return ErrCapacityExceeded
		}
		cost := labUpgradeCost(state)
		cash, card, _, err := lockAccount(ctx, tx, userID)
		if err != nil {
			return err
		}
		if cash < cost {
			return ErrInsufficientFunds
		}
		newState = state + 1
		if _, err := tx.Exec(ctx, `
			UPDATE econ.labs SET upgrade_state = $1 WHERE user_id = $2
		`, newState, userID); err != nil {
			return err
		}
		if err := setBalances(ctx, tx, userID, cash-cost, card); err != nil {
			return err
		}
		return appendLedger(ctx, tx, uuid.NewString(), userID, "cash", -cost, "upgrade_lab", "")
	})
	return newState, err
}

// SellLab refunds half the base price and removes the laboratory.
// Upgrades are sunk cost; they do not raise the refund.
func (s *Service) SellLab(ctx context.Context, userID, idem string) error {
	return s.runTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, userID, idem, "sell_lab"); err != nil {
			return err
		}
		cmd, err := tx.Exec(ctx, `DELETE FROM econ.labs WHERE user_id = $1`, userID)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return ErrNoActiveEntity
		}
		refund := labBasePriceCents / 2
		cash, card, _, err := lockAccount(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := setBalances(ctx, tx, userID, cash+refund, card); err != nil {
			return err
		}
		return appendLedger(ctx, tx, uuid.NewString(), userID, "cash", refund, "sell_lab", "")
	})
}

// RefuelLab buys ampoules from cash up to the rack cap.
func (s *Service) RefuelLab(ctx context.Context, userID string, count int64, idem string) error {
	if count <= 0 {
		return ErrInvalidAmount
	}
	return s.runTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, userID, idem, "refuel_lab"); err != nil {
			return err
		}
		var state, ampoules int64
		err := tx.QueryRow(ctx, `
			SELECT upgrade_state, ampoules FROM econ.labs WHERE user_id = $1 FOR UPDATE
		`, userID).Scan(&state, &ampoules)
		if err == pgx.ErrNoRows {
			return ErrNoActiveEntity
		}
		if err != nil {
			return err
		}
		if ampoules+count > AmpouleCap {
			count = AmpouleCap - ampoules
		}
		if count <= 0 {
			return ErrCapacityExceeded
		}
		price := ampoulePriceCents(labRatePerHour(state)) * count
		cash, card, _, err := lockAccount(ctx, tx, userID)
		if err != nil {
			return err
		}
		if cash < price {
			return ErrInsufficientFunds
		}
		if _, err := tx.Exec(ctx, `
			UPDATE econ.labs SET ampoules = ampoules + $1 WHERE user_id = $2
		`, count, userID); err != nil {
			return err
		}
		if err := setBalances(ctx, tx, userID, cash-price, card); err != nil {
			return err
		}
		return appendLedger(ctx, tx, uuid.NewString(), userID, "cash", -price, "refuel_lab", "")
	})
}

// Lab reports the laboratory with its pending yield.
func (s *Service) Lab(ctx context.Context, userID string) (EntityView, error) {
	var out EntityView
	var state, ampoules int64
	var last time.Time
	err := s.db.QueryRow(ctx, `
		SELECT upgrade_state, ampoules, last_collected FROM econ.labs WHERE user_id = $1
	`, userID).Scan(&state, &ampoules, &last)
	if err == pgx.ErrNoRows {
		return out, ErrNoActiveEntity
	}
	if err != nil {
		return out, err
	}
	out.Kind = "lab"
	out.UpgradeState = state
	out.Ampoules = ampoules
	out.RatePerHour = labRatePerHour(state)
	out.StorageHours = labStorageHours
	out.LastCollected = last
	out.PendingHours, out.PendingCents = pendingYield(last, s.now(), out.RatePerHour, labStorageHours)
	return out, nil
}

// CollectLab pays out lab yield. Each collected hour burns 5 ampoules; a
// shortfall is auto-purchased from cash or the collection is refused.
// From upgrade state 16 on, an equipped scientist card of sufficient
// stars is required.
func (s *Service) CollectLab(ctx context.Context, userID, idem string) (CollectResult, error) {
	var out CollectResult
	err := s.runTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, userID, idem, "collect_lab"); err != nil {
			return err
		}
		var state, ampoules int64
		var last time.Time
		err := tx.QueryRow(ctx, `
			SELECT upgrade_state, ampoules, last_collected
			FROM econ.labs
			WHERE user_id = $1
			FOR UPDATE
		`, userID).Scan(&state, &ampoules, &last)
		if err == pgx.ErrNoRows {
			return ErrNoActiveEntity
		}
		if err != nil {
			return err
		}
		boostBps, extraHours, cardStars, err := cardBoost(ctx, tx, userID, "lab")
		if err != nil {
			return err
		}
		if required, gated := labStarRequirement(state); gated && cardStars < required {
			return ErrLabNeedsCard
		}
		now := s.now()
		rate := applyBps(labRatePerHour(state), boostBps)
		hours, amount := pendingYield(last, now, rate, labStorageHours+extraHours)
		if hours < 1 {
			return ErrCooldown
		}

		cash, card, _, err := lockAccount(ctx, tx, userID)
		if err != nil {
			return err
		}
		needed := hours * AmpoulesPerHour
		var bought, restock int64
		if ampoules < needed {
			bought = needed - ampoules
			restock = ampoulePriceCents(labRatePerHour(state)) * bought
			if cash < restock {
				return ErrAmpoulesDepleted
			}
			cash -= restock
			ampoules = needed
		}
		out.Hours = hours
		out.AmountCents = amount
		out.AmpoulesBurned = needed
		out.AmpoulesBought = bought
		out.RestockCents = restock
		out.CashCents = cash + amount
		if _, err := tx.Exec(ctx, `
			UPDATE econ.labs SET ampoules = $1, last_collected = $2 WHERE user_id = $3
		`, ampoules-needed, now, userID); err != nil {
			return err
		}
		if err := setBalances(ctx, tx, userID, out.CashCents, card); err != nil {
			return err
		}
		gid := uuid.NewString()
		if restock > 0 {
			if err := appendLedger(ctx, tx, gid, userID, "cash", -restock, "lab_restock", ""); err != nil {
				return err
			}
		}
		return appendLedger(ctx, tx, gid, userID, "cash", amount, "collect_lab", "")
	})
	if err != nil {
		return CollectResult{}, err
	}
	s.log.Info("lab collected", "user", userID, "hours", out.Hours, "amount_cents", out.AmountCents, "restock_cents", out.RestockCents)
	return out, nil
}

// BusinessCatalog exposes the purchasable business kinds.
func BusinessCatalog() []EntityView {
	out := make([]EntityView, 0, len(businessCatalog))
	for _, spec := range businessCatalog {
		out = append(out, EntityView{
			Kind:         spec.Kind,
			PriceCents:   spec.PriceCents,
			RatePerHour:  spec.RatePerHour,
			StorageHours: spec.StorageHours,
		})
	}
	return out
}
