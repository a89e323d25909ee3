package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/suspectuso/zeruva-rewards/internal/apperr"
	"github.com/suspectuso/zeruva-rewards/internal/expedition"
	"github.com/suspectuso/zeruva-rewards/internal/slots"
	"github.com/suspectuso/zeruva-rewards/internal/storage"
)

const defaultIntentLimit = 20

// --- Requests ---

type assignRequest struct {
	SlotIndex *int  `json:"slotIndex"`
	AlienDBID int64 `json:"alienDbId"`
}

type unassignRequest struct {
	AlienDBID int64 `json:"alienDbId"`
}

type upgradeRequest struct {
	NewLevel int `json:"newLevel"`
}

type startExpeditionRequest struct {
	Planet string `json:"planet"`
}

type createIntentRequest struct {
	ExpectedEarnings *decimal.Decimal `json:"expected_earnings"`
}

type confirmRequest struct {
	IntentID string `json:"intentId"`
}

type grantAlienRequest struct {
	Wallet  string          `json:"wallet"`
	AlienID int             `json:"alien_id"`
	Tier    string          `json:"tier"`
	Image   string          `json:"image"`
	ROI     decimal.Decimal `json:"roi"`
}

type walletRequest struct {
	Wallet string `json:"wallet"`
}

// --- Responses ---

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type expeditionResponse struct {
	Active           bool       `json:"active"`
	Planet           string     `json:"planet,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	EndsAt           *time.Time `json:"ends_at,omitempty"`
	RemainingSeconds int64      `json:"remaining_seconds"`
}

type rewardsResponse struct {
	Wallet          string             `json:"wallet"`
	PendingEarnings decimal.Decimal    `json:"pending_earnings"`
	TotalROIPerDay  decimal.Decimal    `json:"total_roi_per_day"`
	FleetROIPerDay  decimal.Decimal    `json:"fleet_roi_per_day"`
	TotalClaimed    decimal.Decimal    `json:"total_claimed"`
	LifetimeAccrued decimal.Decimal    `json:"lifetime_accrued"`
	LastAccrualAt   time.Time          `json:"last_accrual_at"`
	LastClaimAt     *time.Time         `json:"last_claim_at"`
	ShipLevel       int                `json:"ship_level"`
	Expedition      expeditionResponse `json:"expedition"`
}

type alienResponse struct {
	ID        int64           `json:"id"`
	AlienID   int             `json:"alien_id"`
	Image     string          `json:"image"`
	Tier      string          `json:"tier"`
	ROI       decimal.Decimal `json:"roi"`
	SlotIndex *int            `json:"slot_index,omitempty"`
}

type slotResponse struct {
	SlotIndex int            `json:"slot_index"`
	Alien     *alienResponse `json:"alien"`
}

type shipResponse struct {
	Level          int             `json:"level"`
	MaxSlots       int             `json:"maxSlots"`
	Slots          []slotResponse  `json:"slots"`
	FleetROIPerDay decimal.Decimal `json:"fleet_roi_per_day"`
}

type intentResponse struct {
	OK           bool             `json:"ok"`
	IntentID     *string          `json:"intentId"`
	EarningsUSD  decimal.Decimal  `json:"earningsUsd"`
	Lamports     uint64           `json:"lamports"`
	AmountSOL    decimal.Decimal  `json:"amountSol"`
	SolUSD       *decimal.Decimal `json:"solUsd,omitempty"`
	SolUSDSource string           `json:"solUsdSource,omitempty"`
	Status       string           `json:"status,omitempty"`
	ExpiresAt    *time.Time       `json:"expiresAt,omitempty"`
	Signature    string           `json:"signature,omitempty"`
	PaidAt       *time.Time       `json:"paidAt,omitempty"`
	To           string           `json:"to"`
	From         string           `json:"from,omitempty"`
}

type receiptResponse struct {
	OK          bool            `json:"ok"`
	IntentID    string          `json:"intentId"`
	Signature   string          `json:"signature"`
	EarningsUSD decimal.Decimal `json:"earningsUsd"`
	Lamports    uint64          `json:"lamports"`
	AmountSOL   decimal.Decimal `json:"amountSol"`
	PaidAt      time.Time       `json:"paidAt"`
}

type statsResponse struct {
	Accounts          int             `json:"accounts"`
	ActiveExpeditions int             `json:"active_expeditions"`
	PendingIntents    int             `json:"pending_intents"`
	PaidIntents       int             `json:"paid_intents"`
	TotalPending      decimal.Decimal `json:"total_pending"`
	TotalClaimed      decimal.Decimal `json:"total_claimed"`
}

// --- Handlers ---

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	acc, err := s.svc.Register(r.Context(), walletFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"ok":         true,
		"wallet":     acc.WalletID,
		"ship_level": acc.ShipLevel,
	})
}

func (s *Server) handleRewards(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.GetStatus(r.Context(), walletFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, rewardsResponse{
		Wallet:          st.WalletID,
		PendingEarnings: st.PendingEarnings,
		TotalROIPerDay:  st.ROIPerDay,
		FleetROIPerDay:  st.FleetROI,
		TotalClaimed:    st.TotalClaimed,
		LifetimeAccrued: st.LifetimeAccrued,
		LastAccrualAt:   st.LastAccrualAt,
		LastClaimAt:     st.LastClaimAt,
		ShipLevel:       st.ShipLevel,
		Expedition:      toExpedition(&st.Expedition, st.LastAccrualAt),
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req createIntentRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.ExpectedEarnings == nil {
		s.writeError(w, r, apperr.Wrapf(apperr.ErrValidation, "expected_earnings is required"))
		return
	}

	live, err := s.svc.VerifyEarnings(r.Context(), walletFrom(r), *req.ExpectedEarnings)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "pending_earnings": live})
}

func (s *Server) handleShip(w http.ResponseWriter, r *http.Request) {
	listing, err := s.svc.Ship(r.Context(), walletFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toShip(listing))
}

func (s *Server) handleAliens(w http.ResponseWriter, r *http.Request) {
	views, err := s.svc.Aliens(r.Context(), walletFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make([]alienResponse, 0, len(views))
	for i := range views {
		a := toAlien(&views[i].Alien)
		a.SlotIndex = views[i].Slot
		out = append(out, *a)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if !s.decode(w, r, &req) {
		return
	}

	var (
		listing *slots.Listing
		err     error
	)
	if req.SlotIndex == nil {
		listing, err = s.svc.AssignFirstFree(r.Context(), walletFrom(r), req.AlienDBID)
	} else {
		listing, err = s.svc.Assign(r.Context(), walletFrom(r), *req.SlotIndex, req.AlienDBID)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toShip(listing))
}

func (s *Server) handleUnassign(w http.ResponseWriter, r *http.Request) {
	var req unassignRequest
	if !s.decode(w, r, &req) {
		return
	}

	listing, err := s.svc.Unassign(r.Context(), walletFrom(r), req.AlienDBID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toShip(listing))
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	var req upgradeRequest
	if !s.decode(w, r, &req) {
		return
	}

	listing, err := s.svc.UpgradeShip(r.Context(), walletFrom(r), req.NewLevel)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toShip(listing))
}

func (s *Server) handleExpedition(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Expedition(r.Context(), walletFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toExpedition(st, s.svc.Now()))
}

func (s *Server) handleStartExpedition(w http.ResponseWriter, r *http.Request) {
	var req startExpeditionRequest
	if !s.decode(w, r, &req) {
		return
	}

	st, err := s.svc.StartExpedition(r.Context(), walletFrom(r), req.Planet)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toExpedition(st, st.StartedAt))
}

func (s *Server) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	var req createIntentRequest
	if !s.decodeBody(w, r, &req, true) {
		return
	}

	wallet := walletFrom(r)
	offer, err := s.svc.CreateClaimIntent(r.Context(), wallet, req.ExpectedEarnings)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if offer.Intent == nil {
		writeJSON(w, http.StatusOK, intentResponse{
			OK:          true,
			EarningsUSD: offer.EarningsUSD,
			AmountSOL:   decimal.Zero,
			To:          wallet,
			From:        s.opts.Treasury,
		})
		return
	}
	writeJSON(w, http.StatusOK, s.toIntent(offer.Intent))
}

func (s *Server) handleGetIntent(w http.ResponseWriter, r *http.Request) {
	in, err := s.svc.ClaimIntent(r.Context(), walletFrom(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toIntent(in))
}

func (s *Server) handleListIntents(w http.ResponseWriter, r *http.Request) {
	limit := defaultIntentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, r, apperr.Wrapf(apperr.ErrValidation, "bad limit %q", v))
			return
		}
		limit = n
	}

	intents, err := s.svc.Intents(r.Context(), walletFrom(r), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make([]intentResponse, 0, len(intents))
	for i := range intents {
		out = append(out, s.toIntent(&intents[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.IntentID == "" {
		s.writeError(w, r, apperr.Wrapf(apperr.ErrValidation, "intentId is required"))
		return
	}

	rc, err := s.svc.ConfirmClaim(r.Context(), walletFrom(r), req.IntentID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, receiptResponse{
		OK:          true,
		IntentID:    rc.IntentID,
		Signature:   rc.Signature,
		EarningsUSD: rc.EarningsUSD,
		Lamports:    rc.Lamports,
		AmountSOL:   rc.AmountSOL,
		PaidAt:      rc.PaidAt,
	})
}

func (s *Server) handleGrantAlien(w http.ResponseWriter, r *http.Request) {
	var req grantAlienRequest
	if !s.decode(w, r, &req) {
		return
	}

	alien, err := s.svc.GrantAlien(r.Context(), req.Wallet, req.AlienID, req.Tier, req.Image, req.ROI)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAlien(alien))
}

func (s *Server) handleEndExpedition(w http.ResponseWriter, r *http.Request) {
	var req walletRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.svc.EndExpedition(r.Context(), req.Wallet); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		Accounts:          st.Accounts,
		ActiveExpeditions: st.ActiveExpeditions,
		PendingIntents:    st.PendingIntents,
		PaidIntents:       st.PaidIntents,
		TotalPending:      st.TotalPending,
		TotalClaimed:      st.TotalClaimed,
	})
}

// --- Helpers ---

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	return s.decodeBody(w, r, dst, false)
}

// decodeBody reads a JSON body into dst. An empty body is accepted when optional is set.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}

	s.log.Debug("invalid request body", "path", r.URL.Path, "error", err)

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
		return false
	}
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Code: string(apperr.KindValidation)})
	return false
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)

	status := http.StatusInternalServerError
	switch kind {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindMismatch:
		status = http.StatusUnprocessableEntity
	case apperr.KindExternal:
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "path", r.URL.Path, "wallet", walletFrom(r), "error", err)
		writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}

	writeJSON(w, status, errorResponse{Error: err.Error(), Code: string(kind)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) toIntent(in *storage.ClaimIntent) intentResponse {
	id := in.ID
	rate := in.SolUSDRate
	expires := in.ExpiresAt
	return intentResponse{
		OK:           true,
		IntentID:     &id,
		EarningsUSD:  in.EarningsUSD,
		Lamports:     in.Lamports,
		AmountSOL:    in.AmountSOL,
		SolUSD:       &rate,
		SolUSDSource: in.RateSource,
		Status:       string(in.Status),
		ExpiresAt:    &expires,
		Signature:    in.PayoutSignature,
		PaidAt:       in.PaidAt,
		To:           in.WalletID,
		From:         s.opts.Treasury,
	}
}

func toAlien(a *storage.Alien) *alienResponse {
	return &alienResponse{
		ID:      a.ID,
		AlienID: a.AlienType,
		Image:   a.Image,
		Tier:    a.Tier,
		ROI:     a.ROIPerDay,
	}
}

func toShip(l *slots.Listing) shipResponse {
	out := shipResponse{
		Level:          l.Level,
		MaxSlots:       l.MaxSlots,
		Slots:          make([]slotResponse, 0, len(l.Slots)),
		FleetROIPerDay: l.FleetROI,
	}
	for _, sv := range l.Slots {
		slot := slotResponse{SlotIndex: sv.Index}
		if sv.Alien != nil {
			slot.Alien = toAlien(sv.Alien)
		}
		out.Slots = append(out.Slots, slot)
	}
	return out
}

func toExpedition(st *expedition.Status, now time.Time) expeditionResponse {
	if !st.Active {
		return expeditionResponse{}
	}

	started, ends := st.StartedAt, st.EndsAt
	remaining := int64(ends.Sub(now).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	return expeditionResponse{
		Active:           true,
		Planet:           st.Planet,
		StartedAt:        &started,
		EndsAt:           &ends,
		RemainingSeconds: remaining,
	}
}
