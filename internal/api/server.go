package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"moneta/internal/config"
	"moneta/internal/econ"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// Server is the private backend surface the bot and the operator CLI
// talk to. Callers authenticate with the shared service token and pass
// the acting end user explicitly; there is no per-user auth here.
type Server struct {
	cfg  config.APIConfig
	log  *slog.Logger
	econ *econ.Service
	mux  *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, econSvc *econ.Service) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:  cfg,
		log:  logger,
		econ: econSvc,
		mux:  chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/accounts/{user_id}/ensure", s.handleEnsureAccount)
		r.Get("/accounts/{user_id}", s.handleAccount)
		r.Get("/accounts/{user_id}/history", s.handleHistory)
		r.Get("/accounts/{user_id}/stats", s.handleStats)
		r.Post("/accounts/{user_id}/deposit", s.handleDeposit)
		r.Post("/accounts/{user_id}/withdraw", s.handleWithdraw)
		r.Post("/accounts/{user_id}/bank-limit", s.handleBuyBankLimit)
		r.Post("/accounts/{user_id}/claims/{kind}", s.handleClaim)
		r.Post("/accounts/{user_id}/gambles", s.handleGamble)
		r.Post("/accounts/{user_id}/rob", s.handleRob)
		r.Post("/accounts/{user_id}/payouts/collect", s.handleCollectPayout)

		r.Post("/transfers", s.handleOfferTransfer)
		r.Post("/transfers/{id}/accept", s.handleAcceptTransfer)
		r.Post("/card-sales", s.handleOfferCardSale)
		r.Post("/card-sales/{id}/accept", s.handleAcceptCardSale)
		r.Post("/confirmations/{id}/reject", s.handleRejectConfirmation)

		r.Get("/catalog/businesses", s.handleBusinessCatalog)
		r.Get("/accounts/{user_id}/business", s.handleBusiness)
		r.Post("/accounts/{user_id}/business", s.handleBuyBusiness)
		r.Post("/accounts/{user_id}/business/collect", s.handleCollectBusiness)
		r.Post("/accounts/{user_id}/business/sell", s.handleSellBusiness)

		r.Get("/accounts/{user_id}/lab", s.handleLab)
		r.Post("/accounts/{user_id}/lab", s.handleBuyLab)
		r.Post("/accounts/{user_id}/lab/collect", s.handleCollectLab)
		r.Post("/accounts/{user_id}/lab/upgrade", s.handleUpgradeLab)
		r.Post("/accounts/{user_id}/lab/refuel", s.handleRefuelLab)
		r.Post("/accounts/{user_id}/lab/sell", s.handleSellLab)

		r.Post("/accounts/{user_id}/cases/buy", s.handleBuyCase)
		r.Post("/accounts/{user_id}/cases/open", s.handleOpenCase)
		r.Get("/accounts/{user_id}/cards", s.handleCards)
		r.Post("/accounts/{user_id}/cards/{card_id}/equip", s.handleEquipCard)
		r.Post("/accounts/{user_id}/cards/{card_id}/unequip", s.handleUnequipCard)
		r.Post("/accounts/{user_id}/cards/{card_id}/shred", s.handleShredCard)

		r.Post("/companies", s.handleCreateCompany)
		r.Get("/companies/{id}", s.handleCompany)
		r.Get("/companies/{id}/members", s.handleCompanyMembers)
		r.Post("/companies/{id}/join", s.handleJoinCompany)
		r.Post("/companies/{id}/leave", s.handleLeaveCompany)
		r.Post("/companies/{id}/invite", s.handleInviteMember)
		r.Post("/companies/{id}/approve", s.handleApproveRequest)
		r.Post("/companies/{id}/kick", s.handleKickMember)
		r.Post("/companies/{id}/rank", s.handleSetRank)
		r.Post("/companies/{id}/ceo", s.handleTransferCEO)
		r.Post("/companies/{id}/privacy", s.handleSetPrivacy)
		r.Delete("/companies/{id}", s.handleDeleteCompany)
		r.Post("/companies/{id}/vault/deposit", s.handleVaultDeposit)
		r.Post("/companies/{id}/vault/withdraw", s.handleVaultWithdraw)
		r.Post("/companies/{id}/vault/bonus", s.handleVaultBonus)
		r.Post("/companies/{id}/vault/limit", s.handleBuyVaultLimit)
		r.Get("/companies/{id}/project", s.handleProject)
		r.Post("/companies/{id}/project", s.handleStartProject)
		r.Post("/companies/{id}/project/contribute", s.handleContributeProject)
		r.Post("/companies/{id}/project/vote", s.handleVoteProject)
		r.Post("/companies/{id}/project/complete", s.handleCompleteProject)
		r.Post("/companies/{id}/project/cancel", s.handleCancelProject)

		r.Get("/leaderboard", s.handleLeaderboard)
		r.Get("/audit/total", s.handleAuditTotal)
		r.Post("/grants", s.handleGrant)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.ServiceToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid service token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "user_id"))
}

func companyParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (s *Server) handleEnsureAccount(w http.ResponseWriter, r *http.Request) {
	userID := userParam(r)
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing user id")
		return
	}
	if err := s.econ.EnsureAccount(r.Context(), userID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	out, err := s.econ.Account(r.Context(), userParam(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 25
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	out, err := s.econ.History(r.Context(), userParam(r), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	out, err := s.econ.GameStats(r.Context(), userParam(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": out})
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request,
	move func(econ.MoveInput) (econ.MoveResult, error)) {
	var in struct {
		AmountCents int64 `json:"amount_cents"`
		All         bool  `json:"all"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := move(econ.MoveInput{
		UserID:         userParam(r),
		AmountCents:    in.AmountCents,
		All:            in.All,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleMove(w, r, func(in econ.MoveInput) (econ.MoveResult, error) {
		return s.econ.Deposit(r.Context(), in)
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleMove(w, r, func(in econ.MoveInput) (econ.MoveResult, error) {
		return s.econ.Withdraw(r.Context(), in)
	})
}

func (s *Server) handleBuyBankLimit(w http.ResponseWriter, r *http.Request) {
	out, err := s.econ.BuyBankLimit(r.Context(), userParam(r), idempotencyKey(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	userID := userParam(r)
	idem := idempotencyKey(r)
	var (
		out econ.ClaimResult
		err error
	)
	switch kind := chi.URLParam(r, "kind"); kind {
	case "daily":
		out, err = s.econ.Daily(r.Context(), userID, idem)
	case "work":
		out, err = s.econ.Work(r.Context(), userID, idem)
	case "beg":
		out, err = s.econ.Beg(r.Context(), userID, idem)
	case "bonus":
		out, err = s.econ.Bonus(r.Context(), userID, idem)
	case "slut":
		out, err = s.econ.Slut(r.Context(), userID, idem)
	default:
		writeError(w, http.StatusNotFound, "unknown claim kind")
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGamble(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Game        string `json:"game"`
		StakeCents  int64  `json:"stake_cents"`
		Outcome     string `json:"outcome"`
		PayoutCents int64  `json:"payout_cents"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.econ.SettleGamble(r.Context(), econ.GambleInput{
		UserID:         userParam(r),
		Game:           in.Game,
		StakeCents:     in.StakeCents,
		Outcome:        in.Outcome,
		PayoutCents:    in.PayoutCents,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRob(w http.ResponseWriter, r *http.Request) {
	var in struct {
		TargetID string `json:"target_id"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.econ.Rob(r.Context(), userParam(r), in.TargetID, idempotencyKey(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCollectPayout(w http.ResponseWriter, r *http.Request) {
	amount, err := s.econ.CollectPayout(r.Context(), userParam(r), idempotencyKey(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"amount_cents": amount})
}

func (s *Server) handleOfferTransfer(w http.ResponseWriter, r *http.Request) {
	var in struct {
		SenderID    string `json:"sender_id"`
		ReceiverID  string `json:"receiver_id"`
		AmountCents int64  `json:"amount_cents"`
		All         bool   `json:"all"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.econ.OfferTransfer(r.Context(), econ.TransferOfferInput{
		SenderID:       in.SenderID,
		ReceiverID:     in.ReceiverID,
		AmountCents:    in.AmountCents,
		All:            in.All,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleAcceptTransfer(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ActorID string `json:"actor_id"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.econ.AcceptTransfer(r.Context(), chi.URLParam(r, "id"), in.ActorID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleOfferCardSale(w http.ResponseWriter, r *http.Request) {
	var in struct {
		SellerID   string `json:"seller_id"`
		BuyerID    string `json:"buyer_id"`
		CardID     string `json:"card_id"`
		PriceCents int64  `json:"price_cents"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.econ.OfferCardSale(r.Context(), econ.CardSaleInput{
		SellerID:       in.SellerID,
		BuyerID:        in.BuyerID,
		CardID:         in.CardID,
		PriceCents:     in.PriceCents,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleAcceptCardSale(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ActorID string `json:"actor_id"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.econ.AcceptCardSale(r.Context(), chi.URLParam(r, "id"), in.ActorID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleRejectConfirmation(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ActorID string `json:"actor_id"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.econ.RejectConfirmation(r.Context(), chi.URLParam(r, "id"), in.ActorID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleBusinessCatalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"businesses": econ.BusinessCatalog()})
}

func (s *Server) handleBusiness(w http.ResponseWriter, r *http.Request) {
	out, err := s.econ.Business(r.Context(), userParam(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBuyBusiness(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Kind string `json:"kind"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.econ.BuyBusiness(r.Context(), userParam(r), in.Kind, idempotencyKey(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true})
}

func (s *Server) handleCollectBusiness(w http.ResponseWriter, r *http.Request) {
	out, err := s.econ.CollectBusiness(r.Context(), userParam(r), idempotencyKey(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSellBusiness(w http.ResponseWriter, r *http.Request) {
	if err := s.econ.SellBusiness(r.Context(), userParam(r), idempotencyKey(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSellLab(w http.ResponseWriter, r *http.Request) {
	if err := s.econ.SellLab(r.Context(), userParam(r), idempotencyKey(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleLab(w http.ResponseWriter, r *http.Request) {
	out, err := s.econ.Lab(r.Context(), userParam(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBuyLab(w http.ResponseWriter, r *http.Request) {
	if err := s.econ.BuyLab(r.Context(), userParam(r), idempotencyKey(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true})
}

func (s *Server) handleCollectLab(w http.ResponseWriter, r *http.Request) {
	out, err := s.econ.CollectLab(r.Context(), userParam(r), idempotencyKey(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpgradeLab(w http.ResponseWriter, r *http.Request) {
	state, err := s.econ.UpgradeLab(r.Context(), userParam(r), idempotencyKey(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"upgrade_state": state})
}

func (s *Server) handleRefuelLab(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Count int64 `json:"count"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.econ.RefuelLab(r.Context(), userParam(r), in.Count, idempotencyKey(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleBuyCase(w http.ResponseWriter, r *http.Request) {
	var in struct {
		CaseType string `json:"case_type"`
		Qty      int64  `json:"qty"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.econ.BuyCase(r.Context(), userParam(r), in.CaseType, in.Qty, idempotencyKey(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleOpenCase(w http.ResponseWriter, r *http.Request) {
	var in struct {
		CaseType string `json:"case_type"`
		Slot     string `json:"slot"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.econ.OpenCase(r.Context(), econ.OpenCaseInput{
		UserID:         userParam(r),
		CaseType:       in.CaseType,
		Slot:           in.Slot,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCards(w http.ResponseWriter, r *http.Request) {
	out, err := s.econ.Cards(r.Context(), userParam(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cards": out})
}

func (s *Server) handleEquipCard(w http.ResponseWriter, r *http.Request) {
	if err := s.econ.EquipCard(r.Context(), userParam(r), chi.URLParam(r, "card_id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleUnequipCard(w http.ResponseWriter, r *http.Request) {
	if err := s.econ.UnequipCard(r.Context(), userParam(r), chi.URLParam(r, "card_id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleShredCard(w http.ResponseWriter, r *http.Request) {
	amount, err := s.econ.ShredCard(r.Context(), userParam(r), chi.URLParam(r, "card_id"), idempotencyKey(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"amount_cents": amount})
}

func (s *Server) handleCreateCompany(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ActorID string `json:"actor_id"`
		Name    string `json:"name"`
		Privacy string `json:"privacy"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.econ.CreateCompany(r.Context(), in.ActorID, in.Name, in.Privacy, idempotencyKey(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) handleCompany(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid company id")
		return
	}
	out, err := s.econ.Company(r.Context(), companyID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCompanyMembers(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid company id")
		return
	}
	out, err := s.econ.CompanyMembers(r.Context(), companyID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": out})
}

// companyAction is the shared body of the membership endpoints: decode
// the actor (and optional target), parse the company id, dispatch.
func (s *Server) companyAction(w http.ResponseWriter, r *http.Request,
	action func(companyID int64, actorID, targetID string) error) {
	companyID, err := companyParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid company id")
		return
	}
	var in struct {
		ActorID  string `json:"actor_id"`
		TargetID string `json:"target_id"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := action(companyID, in.ActorID, in.TargetID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleJoinCompany(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid company id")
		return
	}
	var in struct {
		ActorID string `json:"actor_id"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	joined, err := s.econ.JoinCompany(r.Context(), in.ActorID, companyID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"joined": joined})
}

func (s *Server) handleLeaveCompany(w http.ResponseWriter, r *http.Request) {
	s.companyAction(w, r, func(companyID int64, actorID, _ string) error {
		return s.econ.LeaveCompany(r.Context(), actorID, companyID)
	})
}

func (s *Server) handleInviteMember(w http.ResponseWriter, r *http.Request) {
	s.companyAction(w, r, func(companyID int64, actorID, targetID string) error {
		return s.econ.InviteMember(r.Context(), actorID, companyID, targetID)
	})
}

func (s *Server) handleApproveRequest(w http.ResponseWriter, r *http.Request) {
	s.companyAction(w, r, func(companyID int64, actorID, targetID string) error {
		return s.econ.ApproveRequest(r.Context(), actorID, companyID, targetID)
	})
}

func (s *Server) handleKickMember(w http.ResponseWriter, r *http.Request) {
	s.companyAction(w, r, func(companyID int64, actorID, targetID string) error {
		return s.econ.KickMember(r.Context(), actorID, companyID, targetID)
	})
}

func (s *Server) handleSetRank(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid company id")
		return
	}
	var in struct {
		ActorID  string `json:"actor_id"`
		TargetID string `json:"target_id"`
		Rank     string `json:"rank"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.econ.SetRank(r.Context(), in.ActorID, companyID, in.TargetID, in.Rank); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleTransferCEO(w http.ResponseWriter, r *http.Request) {
	s.companyAction(w, r, func(companyID int64, actorID, targetID string) error {
		return s.econ.TransferCEO(r.Context(), actorID, companyID, targetID)
	})
}

func (s *Server) handleSetPrivacy(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid company id")
		return
	}
	var in struct {
		ActorID string `json:"actor_id"`
		Privacy string `json:"privacy"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.econ.SetPrivacy(r.Context(), in.ActorID, companyID, in.Privacy); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleDeleteCompany(w http.ResponseWriter, r *http.Request) {
	s.companyAction(w, r, func(companyID int64, actorID, _ string) error {
		return s.econ.DeleteCompany(r.Context(), actorID, companyID)
	})
}

func (s *Server) handleVaultMove(w http.ResponseWriter, r *http.Request,
	move func(econ.VaultMoveInput) error) {
	companyID, err := companyParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid company id")
		return
	}
	var in struct {
		ActorID     string `json:"actor_id"`
		TargetID    string `json:"target_id"`
		AmountCents int64  `json:"amount_cents"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := move(econ.VaultMoveInput{
		ActorID:        in.ActorID,
		CompanyID:      companyID,
		AmountCents:    in.AmountCents,
		TargetID:       in.TargetID,
		IdempotencyKey: idempotencyKey(r),
	}); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleVaultDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleVaultMove(w, r, func(in econ.VaultMoveInput) error {
		return s.econ.VaultDeposit(r.Context(), in)
	})
}

func (s *Server) handleVaultWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleVaultMove(w, r, func(in econ.VaultMoveInput) error {
		return s.econ.VaultWithdraw(r.Context(), in)
	})
}

func (s *Server) handleVaultBonus(w http.ResponseWriter, r *http.Request) {
	s.handleVaultMove(w, r, func(in econ.VaultMoveInput) error {
		return s.econ.VaultBonus(r.Context(), in)
	})
}

func (s *Server) handleBuyVaultLimit(w http.ResponseWriter, r *http.Request) {
	s.companyAction(w, r, func(companyID int64, actorID, _ string) error {
		return s.econ.BuyVaultLimit(r.Context(), actorID, companyID, idempotencyKey(r))
	})
}

func (s *Server) handleProject(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid company id")
		return
	}
	out, err := s.econ.Project(r.Context(), companyID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStartProject(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid company id")
		return
	}
	var in struct {
		ActorID string `json:"actor_id"`
		Project string `json:"project"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.econ.StartProject(r.Context(), in.ActorID, companyID, in.Project, idempotencyKey(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) handleContributeProject(w http.ResponseWriter, r *http.Request) {
	companyID, err := companyParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid company id")
		return
	}
	var in struct {
		ActorID     string `json:"actor_id"`
		AmountCents int64  `json:"amount_cents"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.econ.ContributeProject(r.Context(), in.ActorID, companyID, in.AmountCents, idempotencyKey(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleVoteProject(w http.ResponseWriter, r *http.Request) {
	s.companyAction(w, r, func(companyID int64, actorID, _ string) error {
		return s.econ.VoteProject(r.Context(), actorID, companyID)
	})
}

func (s *Server) handleCompleteProject(w http.ResponseWriter, r *http.Request) {
	s.companyAction(w, r, func(companyID int64, actorID, _ string) error {
		return s.econ.CompleteProject(r.Context(), actorID, companyID, idempotencyKey(r))
	})
}

func (s *Server) handleCancelProject(w http.ResponseWriter, r *http.Request) {
	s.companyAction(w, r, func(companyID int64, actorID, _ string) error {
		return s.econ.CancelProject(r.Context(), actorID, companyID, idempotencyKey(r))
	})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	out, err := s.econ.Leaderboard(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": out})
}

// handleAuditTotal reports the economy-wide money supply (accounts plus
// company vaults) as a decimal string; the sum can exceed int64.
func (s *Server) handleAuditTotal(w http.ResponseWriter, r *http.Request) {
	total, err := s.econ.TotalCents(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"total_cents": total.String()})
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID      string `json:"user_id"`
		AmountCents int64  `json:"amount_cents"`
		Reason      string `json:"reason"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.econ.Grant(r.Context(), in.UserID, in.AmountCents, in.Reason, idempotencyKey(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, econ.ErrDuplicateIdempotency), errors.Is(err, econ.ErrTxConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, econ.ErrAlreadyExists), errors.Is(err, econ.ErrAlreadyMember),
		errors.Is(err, econ.ErrSlotOccupied), errors.Is(err, econ.ErrProjectActive),
		errors.Is(err, econ.ErrAlreadyVoted):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, econ.ErrInsufficientRank), errors.Is(err, econ.ErrCompanyClosed):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, econ.ErrEntityNotFound), errors.Is(err, econ.ErrCardNotFound),
		errors.Is(err, econ.ErrConfirmNotFound), errors.Is(err, econ.ErrNoActiveEntity),
		errors.Is(err, econ.ErrNotMember):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, econ.ErrConfirmExpired):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, econ.ErrCooldown):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, econ.ErrInsufficientFunds), errors.Is(err, econ.ErrBankLimitExceeded),
		errors.Is(err, econ.ErrInvalidBet), errors.Is(err, econ.ErrInvalidAmount),
		errors.Is(err, econ.ErrSelfTarget), errors.Is(err, econ.ErrSlotEmpty),
		errors.Is(err, econ.ErrLabNeedsCard), errors.Is(err, econ.ErrAmpoulesDepleted),
		errors.Is(err, econ.ErrCapacityExceeded), errors.Is(err, econ.ErrProjectNotReady):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func idempotencyKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		return key
	}
	return uuid.NewString()
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
