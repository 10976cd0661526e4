// Package api binds the core operations to HTTP. Handlers decode a JSON
// body into the typed arguments each operation expects and serialize the
// typed result back; all business rules live in the core packages.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/grouphub/backend/internal/adminauth"
	"github.com/grouphub/backend/internal/coins"
	"github.com/grouphub/backend/internal/groups"
	"github.com/grouphub/backend/internal/store"
	"github.com/grouphub/backend/internal/vipcode"
)

type Handler struct {
	Coins        *coins.Ledger
	Codes        *vipcode.Registry
	Groups       *groups.Service
	Admin        adminauth.Service
	ExchangeCost int
	Log          *slog.Logger
}

func NewHandler(ledger *coins.Ledger, codes *vipcode.Registry, grps *groups.Service, admin adminauth.Service, exchangeCost int, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		Coins:        ledger,
		Codes:        codes,
		Groups:       grps,
		Admin:        admin,
		ExchangeCost: exchangeCost,
		Log:          log,
	}
}

type resultResponse struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeFailure(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, resultResponse{Success: false, Reason: reason})
}

// EarnCoin handles POST /api/v1/coins/earn.
type earnCoinRequest struct {
	AccountID string `json:"accountId"`
}

type earnCoinResponse struct {
	Success    bool   `json:"success"`
	NewBalance int    `json:"newBalance,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

func (h *Handler) EarnCoin(w http.ResponseWriter, r *http.Request) {
	var req earnCoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccountID == "" {
		writeFailure(w, http.StatusBadRequest, "ValidationError")
		return
	}
	balance, err := h.Coins.Credit(r.Context(), req.AccountID)
	switch {
	case errors.Is(err, coins.ErrLimitReached):
		// The cap is a business outcome, not a transport failure; the
		// original frontend depends on a 200 here.
		writeJSON(w, http.StatusOK, earnCoinResponse{Success: false, Reason: "LimitReached"})
	case err != nil:
		h.fail(w, "earn coin", err)
	default:
		writeJSON(w, http.StatusOK, earnCoinResponse{Success: true, NewBalance: balance})
	}
}

// AccountStatus handles GET /api/v1/accounts/{id}.
func (h *Handler) AccountStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeFailure(w, http.StatusBadRequest, "ValidationError")
		return
	}
	balance, err := h.Coins.Balance(r.Context(), id)
	if err != nil {
		h.fail(w, "account status", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"balance": balance})
}

// ExchangeCoins handles POST /api/v1/coins/exchange.
type exchangeRequest struct {
	AccountID string `json:"accountId"`
	TTLHours  int    `json:"ttlHours"`
}

type exchangeResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func (h *Handler) ExchangeCoins(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccountID == "" {
		writeFailure(w, http.StatusBadRequest, "ValidationError")
		return
	}
	if req.TTLHours <= 0 {
		req.TTLHours = 24
	}
	code, err := h.Codes.Exchange(r.Context(), h.Coins, req.AccountID, h.ExchangeCost, req.TTLHours)
	switch {
	case errors.Is(err, coins.ErrInsufficientBalance):
		writeJSON(w, http.StatusConflict, exchangeResponse{Success: false, Reason: "InsufficientBalance"})
	case err != nil:
		h.fail(w, "exchange coins", err)
	default:
		writeJSON(w, http.StatusOK, exchangeResponse{Success: true, Code: code})
	}
}

// AdminLogin handles POST /api/v1/admin/login.
type adminLoginRequest struct {
	Secret string `json:"secret"`
}

func (h *Handler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Secret == "" {
		writeFailure(w, http.StatusBadRequest, "ValidationError")
		return
	}
	token, err := h.Admin.Login(req.Secret)
	if errors.Is(err, adminauth.ErrInvalidCredentials) {
		writeFailure(w, http.StatusForbidden, "NotAuthorized")
		return
	}
	if err != nil {
		h.fail(w, "admin login", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// IssueCode handles POST /api/v1/admin/codes (admin-gated upstream).
type issueCodeRequest struct {
	TTLHours int `json:"ttlHours"`
}

func (h *Handler) IssueCode(w http.ResponseWriter, r *http.Request) {
	var req issueCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "ValidationError")
		return
	}
	if req.TTLHours <= 0 {
		req.TTLHours = 24
	}
	code, err := h.Codes.Issue(r.Context(), req.TTLHours)
	if err != nil {
		h.fail(w, "issue code", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"code": code})
}

// ValidateCode handles GET /api/v1/codes/{code}.
func (h *Handler) ValidateCode(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	valid, ttlHours, err := h.Codes.Validate(r.Context(), code)
	if err != nil {
		h.fail(w, "validate code", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": valid, "ttlHours": ttlHours})
}

// CreateGroup handles POST /api/v1/groups.
type groupRequest struct {
	Owner       string `json:"owner"`
	Name        string `json:"name"`
	Link        string `json:"link"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Photo       string `json:"photo"`
	VIPCode     string `json:"vipCode"`
}

func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Owner == "" || req.Name == "" || req.Link == "" {
		writeFailure(w, http.StatusBadRequest, "ValidationError")
		return
	}
	id, err := h.Groups.Create(r.Context(), groups.Group{
		Owner:       req.Owner,
		Name:        req.Name,
		Link:        req.Link,
		Category:    req.Category,
		Description: req.Description,
		Photo:       req.Photo,
	})
	if err != nil {
		h.fail(w, "create group", err)
		return
	}
	// A code supplied with the submission is redeemed as a follow-up step.
	if req.VIPCode != "" {
		if err := h.Groups.Redeem(r.Context(), id, req.VIPCode, req.Owner); err != nil {
			h.Log.Warn("create group: code redemption failed", "group", id, "error", err)
		}
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// GetGroup handles GET /api/v1/groups/{id}.
func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	g, err := h.Groups.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.groupError(w, "get group", err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// EditGroup handles PUT /api/v1/groups/{id}.
type editGroupRequest struct {
	OwnerToken  string  `json:"ownerToken"`
	Name        *string `json:"name"`
	Link        *string `json:"link"`
	Category    *string `json:"category"`
	Description *string `json:"description"`
	Photo       *string `json:"photo"`
	VIPCode     string  `json:"vipCode"`
}

func (h *Handler) EditGroup(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req editGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OwnerToken == "" {
		writeFailure(w, http.StatusBadRequest, "ValidationError")
		return
	}
	err := h.Groups.Edit(r.Context(), id, req.OwnerToken, groups.EditFields{
		Name:        req.Name,
		Link:        req.Link,
		Category:    req.Category,
		Description: req.Description,
		Photo:       req.Photo,
	})
	if err != nil {
		h.groupError(w, "edit group", err)
		return
	}
	if req.VIPCode != "" {
		if err := h.Groups.Redeem(r.Context(), id, req.VIPCode, req.OwnerToken); err != nil {
			h.groupError(w, "edit group redeem", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, resultResponse{Success: true})
}

// DeleteGroup handles DELETE /api/v1/groups/{id}.
type ownerTokenRequest struct {
	OwnerToken string `json:"ownerToken"`
}

func (h *Handler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	var req ownerTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OwnerToken == "" {
		writeFailure(w, http.StatusBadRequest, "ValidationError")
		return
	}
	if err := h.Groups.Delete(r.Context(), r.PathValue("id"), req.OwnerToken); err != nil {
		h.groupError(w, "delete group", err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{Success: true})
}

// RedeemCode handles POST /api/v1/groups/{id}/redeem.
type redeemRequest struct {
	Code       string `json:"code"`
	OwnerToken string `json:"ownerToken"`
}

func (h *Handler) RedeemCode(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" || req.OwnerToken == "" {
		writeFailure(w, http.StatusBadRequest, "ValidationError")
		return
	}
	if err := h.Groups.Redeem(r.Context(), r.PathValue("id"), req.Code, req.OwnerToken); err != nil {
		h.groupError(w, "redeem code", err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{Success: true})
}

// BoostGroup handles POST /api/v1/groups/{id}/boost.
func (h *Handler) BoostGroup(w http.ResponseWriter, r *http.Request) {
	var req ownerTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OwnerToken == "" {
		writeFailure(w, http.StatusBadRequest, "ValidationError")
		return
	}
	if err := h.Groups.Boost(r.Context(), r.PathValue("id"), req.OwnerToken); err != nil {
		h.groupError(w, "boost group", err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{Success: true})
}

// ClickGroup handles POST /api/v1/groups/{id}/click.
func (h *Handler) ClickGroup(w http.ResponseWriter, r *http.Request) {
	if err := h.Groups.Click(r.Context(), r.PathValue("id")); err != nil {
		h.groupError(w, "click group", err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{Success: true})
}

// groupError maps group-level sentinels onto the wire taxonomy.
func (h *Handler) groupError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, groups.ErrNotFound):
		writeFailure(w, http.StatusNotFound, "NotFound")
	case errors.Is(err, groups.ErrNotAuthorized):
		writeFailure(w, http.StatusForbidden, "NotAuthorized")
	case errors.Is(err, groups.ErrTooSoon):
		writeFailure(w, http.StatusConflict, "TooSoon")
	case errors.Is(err, groups.ErrCodeInvalid):
		writeFailure(w, http.StatusConflict, "CodeInvalid")
	default:
		h.fail(w, op, err)
	}
}

// fail maps infrastructure errors: store outages and exhausted retry
// budgets are reported distinctly from unexpected internals.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.Log.Error(op+" failed", "error", err)
	switch {
	case errors.Is(err, store.ErrUnavailable):
		writeFailure(w, http.StatusServiceUnavailable, "Unavailable")
	case errors.Is(err, store.ErrConflict):
		writeFailure(w, http.StatusConflict, "Conflict")
	default:
		writeFailure(w, http.StatusInternalServerError, "Internal")
	}
}
