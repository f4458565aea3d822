package econ

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type projectSpec struct {
	Key           string
	DisplayName   string
	MinLevel      int64
	CostCents     int64
	EarningsCents int64
	VotesRequired int64
}

var projectCatalog = []projectSpec{
	{Key: "warehouse", DisplayName: "Warehouse District", MinLevel: 1, CostCents: 250_000 * CentsPerCoin, EarningsCents: 400_000 * CentsPerCoin, VotesRequired: 3},
	{Key: "logistics", DisplayName: "Logistics Fleet", MinLevel: 2, CostCents: 600_000 * CentsPerCoin, EarningsCents: 1_000_000 * CentsPerCoin, VotesRequired: 5},
	{Key: "tower", DisplayName: "Headquarters Tower", MinLevel: 4, CostCents: 2_000_000 * CentsPerCoin, EarningsCents: 3_500_000 * CentsPerCoin, VotesRequired: 8},
}

func projectByKey(key string) (projectSpec, bool) {
	for _, spec := range projectCatalog {
		if spec.Key == key {
			return spec, true
		}
	}
	return projectSpec{}, false
}

// memberRank resolves the caller's rank inside a transaction. Missing
// membership is ErrNotMember.
func memberRank(ctx context.Context, tx pgx.Tx, companyID int64, userID string) (Rank, error) {
	var raw string
	err := tx.QueryRow(ctx, `
		SELECT rank FROM econ.company_members
		WHERE company_id = $1 AND user_id = $2
	`, companyID, userID).Scan(&raw)
	if err == pgx.ErrNoRows {
		return 0, ErrNotMember
	}
	if err != nil {
		return 0, err
	}
	rank, ok := ParseRank(raw)
	if !ok {
		return 0, fmt.Errorf("corrupt rank %q", raw)
	}
	return rank, nil
}

func requireRank(ctx context.Context, tx pgx.Tx, companyID int64, userID string, min Rank) (Rank, error) {
	rank, err := memberRank(ctx, tx, companyID, userID)
	if err != nil {
		return 0, err
	}
	if rank < min {
		return rank, ErrInsufficientRank
	}
	return rank, nil
}

// CreateCompany debits the creation cost from the founder's cash and
// seats them as CEO.
func (s *Service) CreateCompany(ctx context.Context, founderID, name, privacy, idem string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 48 {
		return 0, fmt.Errorf("company name must be 1-48 characters")
	}
	switch privacy {
	case "public", "request", "closed":
	default:
		return 0, fmt.Errorf("privacy must be public, request or closed")
	}
	var companyID int64
	err := s.runTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, founderID, idem, "create_company"); err != nil {
			return err
		}
		var member bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS(SELECT 1 FROM econ.company_members WHERE user_id = $1)
		`, founderID).Scan(&member); err != nil {
			return err
		}
		if member {
			return ErrAlreadyMember
		}
		cash, card, _, err := lockAccount(ctx, tx, founderID)
		if err != nil {
			return err
		}
		if cash < CompanyCreateCostCents {
			return ErrInsufficientFunds
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO econ.companies (name, ceo_user_id, level, vault_cents, vault_limit_cents, privacy)
			VALUES ($1, $2, 1, 0, $3, $4)
			RETURNING id
		`, name, founderID, BaseVaultLimitCents, privacy).Scan(&companyID)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyExists
			}
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO econ.company_members (company_id, user_id, rank)
			VALUES ($1, $2, 'ceo')
		`, companyID, founderID); err != nil {
			return err
		}
		if err := setBalances(ctx, tx, founderID, cash-CompanyCreateCostCents, card); err != nil {
			return err
		}
		return appendLedger(ctx, tx, uuid.NewString(), founderID, "cash", -CompanyCreateCostCents, "create_company", name)
	})
	if err != nil {
		return 0, err
	}
	s.log.Info("company created", "company_id", companyID, "ceo", founderID)
	return companyID, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *Service) Company(ctx context.Context, companyID int64) (CompanyView, error) {
	var out CompanyView
	err := s.db.QueryRow(ctx, `
		SELECT c.id, c.name, c.ceo_user_id, c.level, c.vault_cents, c.vault_limit_cents,
		       c.reputation, c.privacy,
		       (SELECT COUNT(1) FROM econ.company_members m WHERE m.company_id = c.id)
		FROM econ.companies c
		WHERE c.id = $1
	`, companyID).Scan(&out.ID, &out.Name, &out.CEOUserID, &out.Level, &out.VaultCents,
		&out.VaultLimitCents, &out.Reputation, &out.Privacy, &out.MemberCount)
	if err == pgx.ErrNoRows {
		return out, ErrEntityNotFound
	}
	return out, err
}

func (s *Service) CompanyMembers(ctx context.Context, companyID int64) ([]MemberView, error) {
	rows, err := s.db.Query(ctx, `
		SELECT user_id, rank FROM econ.company_members
		WHERE company_id = $1
		ORDER BY CASE rank WHEN 'ceo' THEN 4 WHEN 'manager' THEN 3 WHEN 'senior' THEN 2 ELSE 1 END DESC, user_id
	`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MemberView
	for rows.Next() {
		var m MemberView
		if err := rows.Scan(&m.UserID, &m.Rank); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// addMember seats a user as Employee, enforcing the level-derived cap and
// single-company membership.
func addMember(ctx context.Context, tx pgx.Tx, companyID int64, userID string) error {
	var anywhere bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM econ.company_members WHERE user_id = $1)
	`, userID).Scan(&anywhere); err != nil {
		return err
	}
	if anywhere {
		return ErrAlreadyMember
	}
	var level, count int64
	if err := tx.QueryRow(ctx, `
		SELECT c.level, (SELECT COUNT(1) FROM econ.company_members m WHERE m.company_id = c.id)
		FROM econ.companies c
		WHERE c.id = $1
		FOR UPDATE
	`, companyID).Scan(&level, &count); err != nil {
		if err == pgx.ErrNoRows {
			return ErrEntityNotFound
		}
		return err
	}
	if count >= memberCap(level) {
		return ErrCapacityExceeded
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO econ.company_members (company_id, user_id, rank)
		VALUES ($1, $2, 'employee')
	`, companyID, userID)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		DELETE FROM econ.company_requests WHERE user_id = $1
	`, userID)
	return err
}

// joinOutcome decides the entry path for a (privacy, invited) pair.
// Closed companies admit nobody, standing invitation or not; the invite
// only takes effect once privacy is relaxed.
func joinOutcome(privacy string, invited bool) (member, requested bool, err error) {
	switch privacy {
	case "public":
		return true, false, nil
	case "request":
		if invited {
			return true, false, nil
		}
		return false, true, nil
	default:
		return false, false, ErrCompanyClosed
	}
}

// JoinCompany is the entry path: public companies admit directly, request
// companies record a pending request (or admit an invitee), closed
// companies admit nobody.
func (s *Service) JoinCompany(ctx context.Context, userID string, companyID int64) (joined bool, err error) {
	err = s.runTx(ctx, func(tx pgx.Tx) error {
		var privacy string
		if err := tx.QueryRow(ctx, `
			SELECT privacy FROM econ.companies WHERE id = $1
		`, companyID).Scan(&privacy); err != nil {
			if err == pgx.ErrNoRows {
				return ErrEntityNotFound
			}
			return err
		}
		var invited bool
		if privacy == "request" {
			if err := tx.QueryRow(ctx, `
				SELECT EXISTS(SELECT 1 FROM econ.company_requests
				              WHERE company_id = $1 AND user_id = $2 AND kind = 'invited')
			`, companyID, userID).Scan(&invited); err != nil {
				return err
			}
		}
		member, requested, err := joinOutcome(privacy, invited)
		if err != nil {
			return err
		}
		if member {
			joined = true
			return addMember(ctx, tx, companyID, userID)
		}
		if requested {
			_, err := tx.Exec(ctx, `
				INSERT INTO econ.company_requests (company_id, user_id, kind)
				VALUES ($1, $2, 'requested')
				ON CONFLICT (company_id, user_id) DO NOTHING
			`, companyID, userID)
			return err
		}
		return nil
	})
	return joined, err
}

// InviteMember (Manager+) records an invitation the target can accept by
// joining.
func (s *Service) InviteMember(ctx context.Context, actorID string, companyID int64, targetID string) error {
	return s.runTx(ctx, func(tx pgx.Tx) error {
		if _, err := requireRank(ctx, tx, companyID, actorID, RankManager); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO econ.company_requests (company_id, user_id, kind)
			VALUES ($1, $2, 'invited')
			ON CONFLICT (company_id, user_id) DO UPDATE SET kind = 'invited'
		`, companyID, targetID)
		return err
	})
}

// ApproveRequest (Manager+) converts a pending join request into
// membership.
func (s *Service) ApproveRequest(ctx context.Context, actorID string, companyID int64, targetID string) error {
	return s.runTx(ctx, func(tx pgx.Tx) error {
		if _, err := requireRank(ctx, tx, companyID, actorID, RankManager); err != nil {
			return err
		}
		var exists bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS(SELECT 1 FROM econ.company_requests
			              WHERE company_id = $1 AND user_id = $2 AND kind = 'requested')
		`, companyID, targetID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrEntityNotFound
		}
		return addMember(ctx, tx, companyID, targetID)
	})
}

// LeaveCompany removes the caller. The CEO cannot leave; the company must
// be deleted or the seat handed over first.
func (s *Service) LeaveCompany(ctx context.Context, userID string, companyID int64) error {
	return s.runTx(ctx, func(tx pgx.Tx) error {
		rank, err := memberRank(ctx, tx, companyID, userID)
		if err != nil {
			return err
		}
		if rank == RankCEO {
			return ErrInsufficientRank
		}
		_, err = tx.Exec(ctx, `
			DELETE FROM econ.company_members WHERE company_id = $1 AND user_id = $2
		`, companyID, userID)
		return err
	})
}

// KickMember expels a lower-ranked member. Strictly lower: equals cannot
// kick equals.
func (s *Service) KickMember(ctx context.Context, actorID string, companyID int64, targetID string) error {
	return s.runTx(ctx, func(tx pgx.Tx) error {
		actor, err := requireRank(ctx, tx, companyID, actorID, RankManager)
		if err != nil {
			return err
		}
		target, err := memberRank(ctx, tx, companyID, targetID)
		if err != nil {
			return err
		}
		if !actor.canActOn(target) {
			return ErrInsufficientRank
		}
		_, err = tx.Exec(ctx, `
			DELETE FROM econ.company_members WHERE company_id = $1 AND user_id = $2
		`, companyID, targetID)
		return err
	})
}

// SetRank promotes or demotes a member. The caller must strictly outrank
// both the target's current and requested rank; the Manager bench is
// capped by company level, and the CEO seat is not assignable here.
func (s *Service) SetRank(ctx context.Context, actorID string, companyID int64, targetID, rankName string) error {
	newRank, ok := ParseRank(rankName)
	if !ok || newRank == RankCEO {
		return fmt.Errorf("rank must be employee, senior or manager")
	}
	return s.runTx(ctx, func(tx pgx.Tx) error {
		actor, err := memberRank(ctx, tx, companyID, actorID)
		if err != nil {
			return err
		}
		target, err := memberRank(ctx, tx, companyID, targetID)
		if err != nil {
			return err
		}
		if !actor.canActOn(target) || newRank >= actor {
			return ErrInsufficientRank
		}
		if newRank == RankManager {
			var level, managers int64
			if err := tx.QueryRow(ctx, `
				SELECT c.level,
				       (SELECT COUNT(1) FROM econ.company_members m
				        WHERE m.company_id = c.id AND m.rank = 'manager')
				FROM econ.companies c
				WHERE c.id = $1
				FOR UPDATE
			`, companyID).Scan(&level, &managers); err != nil {
				return err
			}
			if managers >= managerCap(level) {
				return ErrCapacityExceeded
			}
		}
		_, err = tx.Exec(ctx, `
			UPDATE econ.company_members SET rank = $1
			WHERE company_id = $2 AND user_id = $3
		`, newRank.String(), companyID, targetID)
		return err
	})
}

// TransferCEO hands the singleton CEO seat to another member, demoting
// the caller to Manager.
func (s *Service) TransferCEO(ctx context.Context, actorID string, companyID int64, targetID string) error {
	return s.runTx(ctx, func(tx pgx.Tx) error {
		if _, err := requireRank(ctx, tx, companyID, actorID, RankCEO); err != nil {
			return err
		}
		if _, err := memberRank(ctx, tx, companyID, targetID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE econ.company_members SET rank = 'manager'
			WHERE company_id = $1 AND user_id = $2
		`, companyID, actorID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE econ.company_members SET rank = 'ceo'
			WHERE company_id = $1 AND user_id = $2
		`, companyID, targetID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			UPDATE econ.companies SET ceo_user_id = $1, updated_at = now() WHERE id = $2
		`, targetID, companyID)
		return err
	})
}

// DeleteCompany (CEO only) removes the company and all memberships. The
// vault is destroyed with it.
func (s *Service) DeleteCompany(ctx context.Context, actorID string, companyID int64) error {
	return s.runTx(ctx, func(tx pgx.Tx) error {
		if _, err := requireRank(ctx, tx, companyID, actorID, RankCEO); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM econ.company_members WHERE company_id = $1`, companyID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM econ.company_requests WHERE company_id = $1`, companyID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM econ.companies WHERE id = $1`, companyID)
		return err
	})
}

// VaultDeposit moves member cash into the shared vault. No rank gate, but
// the vault limit is a hard stop, mirroring transfer semantics.
func (s *Service) VaultDeposit(ctx context.Context, in VaultMoveInput) error {
	if in.AmountCents <= 0 {
		return ErrInvalidAmount
	}
	return s.runTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, in.ActorID, in.IdempotencyKey, "vault_deposit"); err != nil {
			return err
		}
		if _, err := requireRank(ctx, tx, in.CompanyID, in.ActorID, RankEmployee); err != nil {
			return err
		}
		var vault, limit int64
		if err := tx.QueryRow(ctx, `
			SELECT vault_cents, vault_limit_cents FROM econ.companies WHERE id = $1 FOR UPDATE
		`, in.CompanyID).Scan(&vault, &limit); err != nil {
			return err
		}
		if vault+in.AmountCents > limit {
			return ErrBankLimitExceeded
		}
		cash, card, _, err := lockAccount(ctx, tx, in.ActorID)
		if err != nil {
			return err
		}
		if cash < in.AmountCents {
			return ErrInsufficientFunds
		}
		if err := setBalances(ctx, tx, in.ActorID, cash-in.AmountCents, card); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE econ.companies SET vault_cents = vault_cents + $1, updated_at = now() WHERE id = $2
		`, in.AmountCents, in.CompanyID); err != nil {
			return err
		}
		return appendLedger(ctx, tx, uuid.NewString(), in.ActorID, "cash", -in.AmountCents, "vault_deposit", fmt.Sprintf("company:%d", in.CompanyID))
	})
}

// chargeDailyDraw enforces the per-UTC-day Manager withdrawal cap. The
// CEO is exempt.
func (s *Service) chargeDailyDraw(ctx context.Context, tx pgx.Tx, companyID int64, userID string, rank Rank, amount int64) error {
	if rank == RankCEO {
		return nil
	}
	day := utcDay(s.now())
	var drawn int64
	err := tx.QueryRow(ctx, `
		SELECT drawn_cents FROM econ.vault_draws
		WHERE company_id = $1 AND user_id = $2 AND day = $3
		FOR UPDATE
	`, companyID, userID, day).Scan(&drawn)
	if err != nil && err != pgx.ErrNoRows {
		return err
	}
	if drawn+amount > ManagerDailyDrawCents {
		return ErrCapacityExceeded
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO econ.vault_draws (company_id, user_id, day, drawn_cents)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (company_id, user_id, day) DO UPDATE
		SET drawn_cents = econ.vault_draws.drawn_cents + $4
	`, companyID, userID, day, amount)
	return err
}

// vaultDraw is the shared body of withdraw and bonus: CEO unlimited,
// Manager capped per day, everyone else denied.
func (s *Service) vaultDraw(ctx context.Context, in VaultMoveInput, action, recipient string) error {
	if in.AmountCents <= 0 {
		return ErrInvalidAmount
	}
	return s.runTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, in.ActorID, in.IdempotencyKey, action); err != nil {
			return err
		}
		rank, err := requireRank(ctx, tx, in.CompanyID, in.ActorID, RankManager)
		if err != nil {
			return err
		}
		if recipient != in.ActorID {
			if _, err := memberRank(ctx, tx, in.CompanyID, recipient); err != nil {
				return err
			}
		}
		var vault int64
		if err := tx.QueryRow(ctx, `
			SELECT vault_cents FROM econ.companies WHERE id = $1 FOR UPDATE
		`, in.CompanyID).Scan(&vault); err != nil {
			return err
		}
		if vault < in.AmountCents {
			return ErrInsufficientFunds
		}
		if err := s.chargeDailyDraw(ctx, tx, in.CompanyID, in.ActorID, rank, in.AmountCents); err != nil {
			return err
		}
		cash, card, _, err := lockAccount(ctx, tx, recipient)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE econ.companies SET vault_cents = vault_cents - $1, updated_at = now() WHERE id = $2
		`, in.AmountCents, in.CompanyID); err != nil {
			return err
		}
		if err := setBalances(ctx, tx, recipient, cash+in.AmountCents, card); err != nil {
			return err
		}
		return appendLedger(ctx, tx, uuid.NewString(), recipient, "cash", in.AmountCents, action, fmt.Sprintf("company:%d", in.CompanyID))
	})
}

func (s *Service) VaultWithdraw(ctx context.Context, in VaultMoveInput) error {
	return s.vaultDraw(ctx, in, "vault_withdraw", in.ActorID)
}

// VaultBonus pays another member out of the vault, under the same gates
// as a withdrawal.
func (s *Service) VaultBonus(ctx context.Context, in VaultMoveInput) error {
	if in.TargetID == "" {
		return ErrEntityNotFound
	}
	return s.vaultDraw(ctx, in, "vault_bonus", in.TargetID)
}

// BuyVaultLimit (CEO only) buys one capacity step, paid from the vault.
func (s *Service) BuyVaultLimit(ctx context.Context, actorID string, companyID int64, idem string) error {
	return s.runTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, actorID, idem, "buy_vault_limit"); err != nil {
			return err
		}
		if _, err := requireRank(ctx, tx, companyID, actorID, RankCEO); err != nil {
			return err
		}
		var vault int64
		if err := tx.QueryRow(ctx, `
			SELECT vault_cents FROM econ.companies WHERE id = $1 FOR UPDATE
		`, companyID).Scan(&vault); err != nil {
			return err
		}
		if vault < VaultLimitStepPrice {
			return ErrInsufficientFunds
		}
		_, err := tx.Exec(ctx, `
			UPDATE econ.companies
			SET vault_cents = vault_cents - $1,
			    vault_limit_cents = vault_limit_cents + $2,
			    updated_at = now()
			WHERE id = $3
		`, VaultLimitStepPrice, VaultLimitStepCents, companyID)
		return err
	})
}

// SetPrivacy (CEO only) switches the join policy.
func (s *Service) SetPrivacy(ctx context.Context, actorID string, companyID int64, privacy string) error {
	switch privacy {
	case "public", "request", "closed":
	default:
		return fmt.Errorf("privacy must be public, request or closed")
	}
	return s.runTx(ctx, func(tx pgx.Tx) error {
		if _, err := requireRank(ctx, tx, companyID, actorID, RankCEO); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			UPDATE econ.companies SET privacy = $1, updated_at = now() WHERE id = $2
		`, privacy, companyID)
		return err
	})
}

// StartProject (Manager+) activates a catalog project. One active project
// per company.
func (s *Service) StartProject(ctx context.Context, actorID string, companyID int64, specKey, idem string) (int64, error) {
	spec, ok := projectByKey(specKey)
	if !ok {
		return 0, ErrEntityNotFound
	}
	var projectID int64
	err := s.runTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, actorID, idem, "start_project"); err != nil {
			return err
		}
		if _, err := requireRank(ctx, tx, companyID, actorID, RankManager); err != nil {
			return err
		}
		var level int64
		if err := tx.QueryRow(ctx, `
			SELECT level FROM econ.companies WHERE id = $1 FOR UPDATE
		`, companyID).Scan(&level); err != nil {
			return err
		}
		if level < spec.MinLevel {
			return ErrInsufficientRank
		}
		var active bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS(SELECT 1 FROM econ.company_projects WHERE company_id = $1)
		`, companyID).Scan(&active); err != nil {
			return err
		}
		if active {
			return ErrProjectActive
		}
		return tx.QueryRow(ctx, `
			INSERT INTO econ.company_projects (company_id, spec_key, money_cents, votes)
			VALUES ($1, $2, 0, 0)
			RETURNING id
		`, companyID, spec.Key).Scan(&projectID)
	})
	return projectID, err
}

func (s *Service) Project(ctx context.Context, companyID int64) (ProjectView, error) {
	var out ProjectView
	err := s.db.QueryRow(ctx, `
		SELECT id, spec_key, money_cents, votes FROM econ.company_projects WHERE company_id = $1
	`, companyID).Scan(&out.ID, &out.SpecKey, &out.MoneyCents, &out.Votes)
	if err == pgx.ErrNoRows {
		return out, ErrNoActiveEntity
	}
	if err != nil {
		return out, err
	}
	spec, ok := projectByKey(out.SpecKey)
	if !ok {
		return out, fmt.Errorf("corrupt project spec %q", out.SpecKey)
	}
	out.CostCents = spec.CostCents
	out.EarningsCents = spec.EarningsCents
	out.VotesRequired = spec.VotesRequired
	out.Ready = out.MoneyCents >= spec.CostCents && out.Votes >= spec.VotesRequired
	return out, nil
}

// ContributeProject moves member cash into the project pool and records
// the contribution for the pro-rata payout.
func (s *Service) ContributeProject(ctx context.Context, actorID string, companyID, amountCents int64, idem string) error {
	if amountCents <= 0 {
		return ErrInvalidAmount
	}
	return s.runTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, actorID, idem, "contribute_project"); err != nil {
			return err
		}
		if _, err := requireRank(ctx, tx, companyID, actorID, RankEmployee); err != nil {
			return err
		}
		var projectID int64
		err := tx.QueryRow(ctx, `
			SELECT id FROM econ.company_projects WHERE company_id = $1 FOR UPDATE
		`, companyID).Scan(&projectID)
		if err == pgx.ErrNoRows {
			return ErrNoActiveEntity
		}
		if err != nil {
			return err
		}
		cash, card, _, err := lockAccount(ctx, tx, actorID)
		if err != nil {
			return err
		}
		if cash < amountCents {
			return ErrInsufficientFunds
		}
		if err := setBalances(ctx, tx, actorID, cash-amountCents, card); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE econ.company_projects SET money_cents = money_cents + $1 WHERE id = $2
		`, amountCents, projectID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO econ.project_contributions (project_id, user_id, amount_cents)
			VALUES ($1, $2, $3)
			ON CONFLICT (project_id, user_id) DO UPDATE
			SET amount_cents = econ.project_contributions.amount_cents + $3
		`, projectID, actorID, amountCents); err != nil {
			return err
		}
		return appendLedger(ctx, tx, uuid.NewString(), actorID, "cash", -amountCents, "project_contribution", fmt.Sprintf("company:%d", companyID))
	})
}

// VoteProject casts the member's single vote for the active project.
func (s *Service) VoteProject(ctx context.Context, actorID string, companyID int64) error {
	return s.runTx(ctx, func(tx pgx.Tx) error {
		if _, err := requireRank(ctx, tx, companyID, actorID, RankEmployee); err != nil {
			return err
		}
		var projectID int64
		err := tx.QueryRow(ctx, `
			SELECT id FROM econ.company_projects WHERE company_id = $1 FOR UPDATE
		`, companyID).Scan(&projectID)
		if err == pgx.ErrNoRows {
			return ErrNoActiveEntity
		}
		if err != nil {
			return err
		}
		cmd, err := tx.Exec(ctx, `
			INSERT INTO econ.project_votes (project_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT (project_id, user_id) DO NOTHING
		`, projectID, actorID)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return ErrAlreadyVoted
		}
		_, err = tx.Exec(ctx, `
			UPDATE econ.company_projects SET votes = votes + 1 WHERE id = $1
		`, projectID)
		return err
	})
}

// CompleteProject (Manager+) settles a funded and voted project: earnings
// are split pro-rata by contribution against the project cost into each
// participant's collectible payout balance, the company levels up, and
// the project slot frees.
func (s *Service) CompleteProject(ctx context.Context, actorID string, companyID int64, idem string) error {
	return s.runTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, actorID, idem, "complete_project"); err != nil {
			return err
		}
		if _, err := requireRank(ctx, tx, companyID, actorID, RankManager); err != nil {
			return err
		}
		var projectID, money, votes int64
		var specKey string
		err := tx.QueryRow(ctx, `
			SELECT id, spec_key, money_cents, votes
			FROM econ.company_projects
			WHERE company_id = $1
			FOR UPDATE
		`, companyID).Scan(&projectID, &specKey, &money, &votes)
		if err == pgx.ErrNoRows {
			return ErrNoActiveEntity
		}
		if err != nil {
			return err
		}
		spec, ok := projectByKey(specKey)
		if !ok {
			return fmt.Errorf("corrupt project spec %q", specKey)
		}
		if money < spec.CostCents || votes < spec.VotesRequired {
			return ErrProjectNotReady
		}

		rows, err := tx.Query(ctx, `
			SELECT user_id, amount_cents FROM econ.project_contributions WHERE project_id = $1
		`, projectID)
		if err != nil {
			return err
		}
		type contribution struct {
			userID string
			amount int64
		}
		var contributions []contribution
		for rows.Next() {
			var c contribution
			if err := rows.Scan(&c.userID, &c.amount); err != nil {
				rows.Close()
				return err
			}
			contributions = append(contributions, c)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, c := range contributions {
			share := projectShare(spec.EarningsCents, c.amount, spec.CostCents)
			if share <= 0 {
				continue
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO econ.project_payouts (user_id, amount_cents)
				VALUES ($1, $2)
				ON CONFLICT (user_id) DO UPDATE
				SET amount_cents = econ.project_payouts.amount_cents + $2
			`, c.userID, share); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, `DELETE FROM econ.project_votes WHERE project_id = $1`, projectID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM econ.project_contributions WHERE project_id = $1`, projectID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM econ.company_projects WHERE id = $1`, projectID); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE econ.companies
			SET level = level + 1, reputation = reputation + 10, updated_at = now()
			WHERE id = $1
		`, companyID)
		return err
	})
}

// CancelProject (Manager+) discards the active project. Contributions are
// NOT refunded; that is the observed policy, not an oversight.
func (s *Service) CancelProject(ctx context.Context, actorID string, companyID int64, idem string) error {
	return s.runTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, actorID, idem, "cancel_project"); err != nil {
			return err
		}
		if _, err := requireRank(ctx, tx, companyID, actorID, RankManager); err != nil {
			return err
		}
		var projectID int64
		err := tx.QueryRow(ctx, `
			SELECT id FROM econ.company_projects WHERE company_id = $1 FOR UPDATE
		`, companyID).Scan(&projectID)
		if err == pgx.ErrNoRows {
			return ErrNoActiveEntity
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM econ.project_votes WHERE project_id = $1`, projectID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM econ.project_contributions WHERE project_id = $1`, projectID); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `DELETE FROM econ.company_projects WHERE id = $1`, projectID)
		return err
	})
}

// CollectPayout moves the caller's accumulated project earnings to cash.
func (s *Service) CollectPayout(ctx context.Context, userID, idem string) (int64, error) {
	var amount int64
	err := s.runTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, userID, idem, "collect_payout"); err != nil {
			return err
		}
		err := tx.QueryRow(ctx, `
			SELECT amount_cents FROM econ.project_payouts WHERE user_id = $1 FOR UPDATE
		`, userID).Scan(&amount)
		if err == pgx.ErrNoRows {
			return ErrNoActiveEntity
		}
		if err != nil {
			return err
		}
		if amount <= 0 {
			return ErrNoActiveEntity
		}
		if _, err := tx.Exec(ctx, `DELETE FROM econ.project_payouts WHERE user_id = $1`, userID); err != nil {
			return err
		}
		cash, card, _, err := lockAccount(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := setBalances(ctx, tx, userID, cash+amount, card); err != nil {
			return err
		}
		return appendLedger(ctx, tx, uuid.NewString(), userID, "cash", amount, "project_payout", "")
	})
	if err != nil {
		return 0, err
	}
	return amount, nil
}

// SweepVaultDraws drops day buckets older than today; run by the worker
// after UTC midnight.
func (s *Service) SweepVaultDraws(ctx context.Context) (int64, error) {
	cmd, err := s.db.Exec(ctx, `DELETE FROM econ.vault_draws WHERE day < $1`, utcDay(s.now()))
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// SweepStaleRequests expires join requests and invitations older than a
// week.
func (s *Service) SweepStaleRequests(ctx context.Context) (int64, error) {
	cmd, err := s.db.Exec(ctx, `DELETE FROM econ.company_requests WHERE created_at < now() - interval '7 days'`)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
