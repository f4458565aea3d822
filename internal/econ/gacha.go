package econ

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// tierCut is one row of a cumulative drop table: a roll in [0,10_000)
// below Cut lands on Stars. Rows are ordered rarest first; the final row
// has Cut 10_000 and catches everything else.
type tierCut struct {
	Cut   int64
	Stars int
}

var caseTables = map[string][]tierCut{
	"standard": {
		{25, 5},
		{100, 4},
		{525, 3},
		{2_025, 2},
		{10_000, 1},
	},
	"premium": {
		{75, 5},
		{300, 4},
		{1_300, 3},
		{4_300, 2},
		{10_000, 1},
	},
	"elite": {
		{250, 5},
		{1_000, 4},
		{3_500, 3},
		{8_000, 2},
		{10_000, 1},
	},
}

var casePriceCents = map[string]int64{
	"standard": 15_000 * CentsPerCoin,
	"premium":  60_000 * CentsPerCoin,
	"elite":    200_000 * CentsPerCoin,
}

// drawStars resolves a roll in [0,10_000) against a cumulative table.
func drawStars(table []tierCut, roll int64) int {
	for _, t := range table {
		if roll < t.Cut {
			return t.Stars
		}
	}
	return table[len(table)-1].Stars
}

// attrRange bounds the random card attributes for a (stars, slot) pair.
// Manager and scientist cards measure storage in extra accrual hours;
// security cards measure it as a rob-defense percentage.
type attrRange struct {
	MultLoBps, MultHiBps int64
	StorageLo, StorageHi int64
}

var cardAttrs = map[string][5]attrRange{
	"business": {
		{10_200, 10_500, 1, 2},
		{10_500, 11_000, 2, 4},
		{11_000, 12_000, 4, 8},
		{12_000, 13_500, 8, 14},
		{13_500, 16_000, 14, 24},
	},
	"lab": {
		{10_200, 10_500, 1, 2},
		{10_500, 11_000, 2, 4},
		{11_000, 12_000, 4, 8},
		{12_000, 13_500, 8, 14},
		{13_500, 16_000, 14, 24},
	},
	"personal": {
		{10_000, 10_000, 5, 15},
		{10_000, 10_000, 15, 30},
		{10_000, 10_000, 30, 50},
		{10_000, 10_000, 50, 75},
		{10_000, 10_000, 75, 95},
	},
}

// backgroundCuts weight the cosmetic background, rarest last.
var backgroundCuts = []struct {
	Cut  int64
	Name string
}{
	{8_400, "standard"},
	{9_400, "pink"},
	{9_900, "blackice"},
	{10_000, "gold"},
}

func drawBackground(roll int64) string {
	for _, b := range backgroundCuts {
		if roll < b.Cut {
			return b.Name
		}
	}
	return "standard"
}

// shredPriceCents is the deterministic {background: {stars: price}} table.
var shredPriceCents = map[string][5]int64{
	"standard": {500 * 100, 2_000 * 100, 8_000 * 100, 30_000 * 100, 120_000 * 100},
	"pink":     {1_000 * 100, 4_000 * 100, 16_000 * 100, 60_000 * 100, 240_000 * 100},
	"blackice": {2_500 * 100, 10_000 * 100, 40_000 * 100, 150_000 * 100, 600_000 * 100},
	"gold":     {5_000 * 100, 20_000 * 100, 80_000 * 100, 300_000 * 100, 1_200_000 * 100},
}

func shredPrice(background string, stars int) (int64, error) {
	prices, ok := shredPriceCents[background]
	if !ok || stars < 1 || stars > 5 {
		return 0, ErrCardNotFound
	}
	return prices[stars-1], nil
}

func validSlot(slot string) bool {
	switch slot {
	case "business", "lab", "personal":
		return true
	}
	return false
}

// newCardID generates a 6-digit id. Collisions are resolved by the
// caller retrying against the store.
func newCardID() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	n := uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
	return fmt.Sprintf("%06d", n%900_000+100_000), nil
}

// BuyCase debits cash for sealed cases.
func (s *Service) BuyCase(ctx context.Context, userID, caseType string, qty int64, idem string) error {
	price, ok := casePriceCents[caseType]
	if !ok {
		return ErrEntityNotFound
	}
	if qty <= 0 {
		return ErrInvalidAmount
	}
	total := price * qty
	return s.runTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, userID, idem, "buy_case"); err != nil {
			return err
		}
		cash, card, _, err := lockAccount(ctx, tx, userID)
		if err != nil {
			return err
		}
		if cash < total {
			return ErrInsufficientFunds
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO econ.case_inventory (user_id, case_type, qty)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, case_type) DO UPDATE SET qty = econ.case_inventory.qty + $3
		`, userID, caseType, qty); err != nil {
			return err
		}
		if err := setBalances(ctx, tx, userID, cash-total, card); err != nil {
			return err
		}
		return appendLedger(ctx, tx, uuid.NewString(), userID, "cash", -total, "buy_case", caseType)
	})
}

// OpenCase consumes one sealed case and mints a card for the requested
// slot, rolled against the case's cumulative rarity table.
func (s *Service) OpenCase(ctx context.Context, in OpenCaseInput) (CardView, error) {
	var out CardView
	table, ok := caseTables[in.CaseType]
	if !ok {
		return out, ErrEntityNotFound
	}
	if !validSlot(in.Slot) {
		return out, fmt.Errorf("slot must be business, lab or personal")
	}
	stars := drawStars(table, int64(s.nextFloat()*10_000))
	background := drawBackground(int64(s.nextFloat() * 10_000))
	attrs := cardAttrs[in.Slot][stars-1]
	mult := s.randRange(attrs.MultLoBps, attrs.MultHiBps)
	storage := s.randRange(attrs.StorageLo, attrs.StorageHi)

	err := s.runTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, in.UserID, in.IdempotencyKey, "open_case"); err != nil {
			return err
		}
		cmd, err := tx.Exec(ctx, `
			UPDATE econ.case_inventory
			SET qty = qty - 1
			WHERE user_id = $1 AND case_type = $2 AND qty > 0
		`, in.UserID, in.CaseType)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return ErrNoActiveEntity
		}
		// 6-digit ids collide eventually; retry a few times.
		for attempt := 0; attempt < 10; attempt++ {
			id, err := newCardID()
			if err != nil {
				return err
			}
			ins, err := tx.Exec(ctx, `
				INSERT INTO econ.cards (card_id, owner_id, slot, stars, background, multiplier_bps, storage, in_use)
				VALUES ($1, $2, $3, $4, $5, $6, $7, false)
				ON CONFLICT (card_id) DO NOTHING
			`, id, in.UserID, in.Slot, stars, background, mult, storage)
			if err != nil {
				return err
			}
			if ins.RowsAffected() == 1 {
				out = CardView{
					CardID:        id,
					OwnerID:       in.UserID,
					Slot:          in.Slot,
					Stars:         stars,
					Background:    background,
					MultiplierBps: mult,
					Storage:       storage,
				}
				return nil
			}
		}
		return fmt.Errorf("card id space exhausted")
	})
	if err != nil {
		return CardView{}, err
	}
	s.log.Info("case opened", "user", in.UserID, "case", in.CaseType, "stars", stars, "card", out.CardID)
	return out, nil
}

// Cards lists the user's collection.
func (s *Service) Cards(ctx context.Context, userID string) ([]CardView, error) {
	rows, err := s.db.Query(ctx, `
		SELECT card_id, owner_id, slot, stars, background, multiplier_bps, storage, in_use, COALESCE(image_url, '')
		FROM econ.cards
		WHERE owner_id = $1
		ORDER BY stars DESC, card_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CardView
	for rows.Next() {
		var c CardView
		if err := rows.Scan(&c.CardID, &c.OwnerID, &c.Slot, &c.Stars, &c.Background, &c.MultiplierBps, &c.Storage, &c.InUse, &c.ImageURL); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// EquipCard toggles a card active. One active card per slot per user.
func (s *Service) EquipCard(ctx context.Context, userID, cardID string) error {
	return s.runTx(ctx, func(tx pgx.Tx) error {
		var slot string
		var inUse bool
		err := tx.QueryRow(ctx, `
			SELECT slot, in_use FROM econ.cards
			WHERE card_id = $1 AND owner_id = $2
			FOR UPDATE
		`, cardID, userID).Scan(&slot, &inUse)
		if err == pgx.ErrNoRows {
			return ErrCardNotFound
		}
		if err != nil {
			return err
		}
		if inUse {
			return ErrSlotOccupied
		}
		var occupied bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS(SELECT 1 FROM econ.cards WHERE owner_id = $1 AND slot = $2 AND in_use)
		`, userID, slot).Scan(&occupied); err != nil {
			return err
		}
		if occupied {
			return ErrSlotOccupied
		}
		_, err = tx.Exec(ctx, `UPDATE econ.cards SET in_use = true WHERE card_id = $1`, cardID)
		return err
	})
}

// UnequipCard frees the card's slot.
func (s *Service) UnequipCard(ctx context.Context, userID, cardID string) error {
	cmd, err := s.db.Exec(ctx, `
		UPDATE econ.cards SET in_use = false
		WHERE card_id = $1 AND owner_id = $2 AND in_use
	`, cardID, userID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrSlotEmpty
	}
	return nil
}

// ShredCard destroys a card for its deterministic table price.
func (s *Service) ShredCard(ctx context.Context, userID, cardID, idem string) (int64, error) {
	var payout int64
	err := s.runTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, userID, idem, "shred_card"); err != nil {
			return err
		}
		var stars int
		var background string
		err := tx.QueryRow(ctx, `
			SELECT stars, background FROM econ.cards
			WHERE card_id = $1 AND owner_id = $2
			FOR UPDATE
		`, cardID, userID).Scan(&stars, &background)
		if err == pgx.ErrNoRows {
			return ErrCardNotFound
		}
		if err != nil {
			return err
		}
		payout, err = shredPrice(background, stars)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM econ.cards WHERE card_id = $1`, cardID); err != nil {
			return err
		}
		cash, card, _, err := lockAccount(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := setBalances(ctx, tx, userID, cash+payout, card); err != nil {
			return err
		}
		return appendLedger(ctx, tx, uuid.NewString(), userID, "cash", payout, "shred_card", cardID)
	})
	if err != nil {
		return 0, err
	}
	return payout, nil
}

// OfferCardSale parks a card sale pending the buyer's acceptance.
func (s *Service) OfferCardSale(ctx context.Context, in CardSaleInput) (TransferOffer, error) {
	var out TransferOffer
	if in.SellerID == in.BuyerID {
		return out, ErrSelfTarget
	}
	if in.PriceCents <= 0 {
		return out, ErrInvalidAmount
	}
	err := s.runTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, in.SellerID, in.IdempotencyKey, "offer_card_sale"); err != nil {
			return err
		}
		var exists bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS(SELECT 1 FROM econ.cards WHERE card_id = $1 AND owner_id = $2)
		`, in.CardID, in.SellerID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrCardNotFound
		}
		out.ConfirmationID = uuid.NewString()
		out.DebitCents = in.PriceCents
		out.CreditCents = in.PriceCents
		out.ExpiresAt = s.now().Add(s.confirmTTL)
		_, err := tx.Exec(ctx, `
			INSERT INTO econ.confirmations (id, kind, actor_id, counterparty_id, amount_cents, payload, expires_at)
			VALUES ($1, 'card_sale', $2, $3, $4, $5, $6)
		`, out.ConfirmationID, in.SellerID, in.BuyerID, in.PriceCents, in.CardID, out.ExpiresAt)
		return err
	})
	if err != nil {
		return TransferOffer{}, err
	}
	return out, nil
}

// AcceptCardSale settles a pending card sale: the buyer pays cash, the
// card changes owner and comes out of any active slot.
func (s *Service) AcceptCardSale(ctx context.Context, confirmationID, actorID string) error {
	var seller, buyer string
	if err := s.db.QueryRow(ctx, `
		SELECT actor_id, counterparty_id FROM econ.confirmations WHERE id = $1 AND kind = 'card_sale'
	`, confirmationID).Scan(&seller, &buyer); err != nil {
		if err == pgx.ErrNoRows {
			return ErrConfirmNotFound
		}
		return err
	}
	release := s.guard.Acquire(seller, buyer)
	defer release()

	err := s.runTx(ctx, func(tx pgx.Tx) error {
		var price int64
		var cardID string
		var expiresAt time.Time
		err := tx.QueryRow(ctx, `
			SELECT amount_cents, payload, expires_at
			FROM econ.confirmations
			WHERE id = $1 AND kind = 'card_sale' AND counterparty_id = $2
			FOR UPDATE
		`, confirmationID, actorID).Scan(&price, &cardID, &expiresAt)
		if err == pgx.ErrNoRows {
			return ErrConfirmNotFound
		}
		if err != nil {
			return err
		}
		if s.now().After(expiresAt) {
			return ErrConfirmExpired
		}
		if _, err := tx.Exec(ctx, `DELETE FROM econ.confirmations WHERE id = $1`, confirmationID); err != nil {
			return err
		}

		var owner string
		if err := tx.QueryRow(ctx, `
			SELECT owner_id FROM econ.cards WHERE card_id = $1 FOR UPDATE
		`, cardID).Scan(&owner); err != nil {
			if err == pgx.ErrNoRows {
				return ErrCardNotFound
			}
			return err
		}
		if owner != seller {
			return ErrCardNotFound
		}
		buyerCash, buyerCard, _, err := lockAccount(ctx, tx, buyer)
		if err != nil {
			return err
		}
		if buyerCash < price {
			return ErrInsufficientFunds
		}
		sellerCash, sellerCard, _, err := lockAccount(ctx, tx, seller)
		if err != nil {
			return err
		}
		if err := setBalances(ctx, tx, buyer, buyerCash-price, buyerCard); err != nil {
			return err
		}
		if err := setBalances(ctx, tx, seller, sellerCash+price, sellerCard); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE econ.cards SET owner_id = $1, in_use = false WHERE card_id = $2
		`, buyer, cardID); err != nil {
			return err
		}
		gid := uuid.NewString()
		if err := appendLedger(ctx, tx, gid, buyer, "cash", -price, "card_sale", cardID); err != nil {
			return err
		}
		return appendLedger(ctx, tx, gid, seller, "cash", price, "card_sale", cardID)
	})
	if err != nil {
		return err
	}
	s.log.Info("card sold", "seller", seller, "buyer", buyer)
	return nil
}
