package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/escrowdesk/platform/internal/auth"
	"github.com/escrowdesk/platform/internal/domain"
	"github.com/escrowdesk/platform/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

const adminListLimit = 50

// AdminHandler exposes the operator API.
type AdminHandler struct {
	login       *service.AdminAuthService
	admin       *service.AdminService
	deals       *service.DealService
	withdrawals *service.WithdrawalService
	payments    *service.PaymentService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(
	login *service.AdminAuthService,
	admin *service.AdminService,
	deals *service.DealService,
	withdrawals *service.WithdrawalService,
	payments *service.PaymentService,
) *AdminHandler {
	return &AdminHandler{login: login, admin: admin, deals: deals, withdrawals: withdrawals, payments: payments}
}

// Routes returns the /admin sub-router. Login is public, reads need any admin
// role and mutations need a write role.
func (h *AdminHandler) Routes(jwtMgr *auth.JWTManager) chi.Router {
	r := chi.NewRouter()
	r.Post("/login", h.Login)

	r.Group(func(r chi.Router) {
		r.Use(auth.AuthenticateAdmin(jwtMgr))
		r.Use(auth.RequireRole(auth.AllAdminRoles()...))

		r.Get("/stats", h.Stats)
		r.Get("/health", h.SystemHealth)
		r.Get("/users/{id}", h.UserDetail)
		r.Get("/withdrawals/pending", h.PendingWithdrawals)
		r.Get("/deals/disputed", h.DisputedDeals)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.WriteRoles()...))
			r.Post("/cleanup", h.Cleanup)
			r.Post("/users/{id}/adjust", h.AdjustBalance)
			r.Post("/withdrawals/{id}/approve", h.ApproveWithdrawal)
			r.Post("/withdrawals/{id}/reject", h.RejectWithdrawal)
			r.Post("/deals/{id}/dispute", h.DisputeDeal)
			r.Post("/deals/{id}/resolve", h.ResolveDeal)
			r.Post("/payments/{id}/check", h.CheckPayment)
		})
	})
	return r
}

// Login handles POST /admin/login.
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	var input service.LoginInput
	if err := DecodeJSON(r, &input); err != nil {
		RespondError(w, err)
		return
	}
	res, err := h.login.Login(r.Context(), ClientKey(r), input)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, res)
}

// Stats handles GET /admin/stats.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.admin.Stats(r.Context())
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, st)
}

// SystemHealth handles GET /admin/health.
func (h *AdminHandler) SystemHealth(w http.ResponseWriter, r *http.Request) {
	health, err := h.admin.SystemHealth(r.Context())
	if err != nil {
		RespondError(w, err)
		return
	}
	status := http.StatusOK
	if health.Database != "ok" {
		status = http.StatusServiceUnavailable
	}
	RespondJSON(w, status, health)
}

// Cleanup handles POST /admin/cleanup.
func (h *AdminHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	report, err := h.admin.Cleanup(r.Context())
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, report)
}

// UserDetail handles GET /admin/users/{id}.
func (h *AdminHandler) UserDetail(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	detail, err := h.admin.UserDetail(r.Context(), id)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, detail)
}

type adjustRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason" validate:"required,max=200"`
}

// AdjustBalance handles POST /admin/users/{id}/adjust.
func (h *AdminHandler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	var req adjustRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, err)
		return
	}
	res, err := h.admin.AdjustBalance(r.Context(), auth.SubjectFromContext(r.Context()), id, req.Amount, req.Reason)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, res.Entry)
}

// PendingWithdrawals handles GET /admin/withdrawals/pending.
func (h *AdminHandler) PendingWithdrawals(w http.ResponseWriter, r *http.Request) {
	list, err := h.withdrawals.ListPending(r.Context(), adminListLimit)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, nonNil(list))
}

type notesRequest struct {
	Notes string `json:"notes" validate:"max=500"`
}

// ApproveWithdrawal handles POST /admin/withdrawals/{id}/approve.
func (h *AdminHandler) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.processWithdrawal(w, r, h.withdrawals.Approve)
}

// RejectWithdrawal handles POST /admin/withdrawals/{id}/reject.
func (h *AdminHandler) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.processWithdrawal(w, r, h.withdrawals.Reject)
}

func (h *AdminHandler) processWithdrawal(w http.ResponseWriter, r *http.Request,
	action func(ctx context.Context, id int64, notes string) (*domain.Withdrawal, error)) {
	id, err := int64Param(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	var req notesRequest
	if err := decodeOptional(r, &req); err != nil {
		RespondError(w, err)
		return
	}
	wd, err := action(r.Context(), id, req.Notes)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, wd)
}

// DisputedDeals handles GET /admin/deals/disputed.
func (h *AdminHandler) DisputedDeals(w http.ResponseWriter, r *http.Request) {
	list, err := h.deals.ListDisputed(r.Context(), adminListLimit)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, nonNil(list))
}

type disputeRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// DisputeDeal handles POST /admin/deals/{id}/dispute.
func (h *AdminHandler) DisputeDeal(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	var req disputeRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, err)
		return
	}
	d, err := h.deals.Dispute(r.Context(), id, req.Reason)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, d)
}

type resolveRequest struct {
	Resolution string `json:"resolution" validate:"required,oneof=refund_buyer pay_seller"`
	Notes      string `json:"notes" validate:"max=500"`
}

// ResolveDeal handles POST /admin/deals/{id}/resolve.
func (h *AdminHandler) ResolveDeal(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	var req resolveRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, err)
		return
	}
	d, err := h.deals.Resolve(r.Context(), id, domain.Resolution(req.Resolution), req.Notes)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, d)
}

// CheckPayment handles POST /admin/payments/{id}/check.
func (h *AdminHandler) CheckPayment(w http.ResponseWriter, r *http.Request) {
	res, err := h.payments.ForceCheck(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, res)
}

func int64Param(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ErrValidation("invalid " + name + ": " + raw)
	}
	return id, nil
}

// decodeOptional decodes a body only when one was sent.
func decodeOptional(r *http.Request, dst interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return DecodeJSON(r, dst)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
