package api

import "net/http"

// NewRouter mounts every endpoint under /api/v1 with method-qualified
// patterns. Code issuance is the only admin-gated route.
func NewRouter(h *Handler) http.Handler {
	mux := http.NewServeMux()
	admin := AdminAuth(h.Admin)

	mux.HandleFunc("POST /api/v1/coins/earn", h.EarnCoin)
	mux.HandleFunc("POST /api/v1/coins/exchange", h.ExchangeCoins)
	mux.HandleFunc("GET /api/v1/accounts/{id}", h.AccountStatus)

	mux.HandleFunc("POST /api/v1/admin/login", h.AdminLogin)
	mux.Handle("POST /api/v1/admin/codes", admin(http.HandlerFunc(h.IssueCode)))
	mux.HandleFunc("GET /api/v1/codes/{code}", h.ValidateCode)

	mux.HandleFunc("POST /api/v1/groups", h.CreateGroup)
	mux.HandleFunc("GET /api/v1/groups/{id}", h.GetGroup)
	mux.HandleFunc("PUT /api/v1/groups/{id}", h.EditGroup)
	mux.HandleFunc("DELETE /api/v1/groups/{id}", h.DeleteGroup)
	mux.HandleFunc("POST /api/v1/groups/{id}/redeem", h.RedeemCode)
	mux.HandleFunc("POST /api/v1/groups/{id}/boost", h.BoostGroup)
	mux.HandleFunc("POST /api/v1/groups/{id}/click", h.ClickGroup)

	return mux
}
