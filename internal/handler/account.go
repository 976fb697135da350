package handler

import (
	"context"
	"net/http"

	"github.com/escrowdesk/platform/internal/auth"
	"github.com/escrowdesk/platform/internal/domain"
	"github.com/escrowdesk/platform/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

const userListLimit = 20

// BalanceFunc reads a user's current balance.
type BalanceFunc func(ctx context.Context, userID int64) (*domain.User, error)

// AccountHandler serves the front-end that talks to end users. It trusts the
// user id in the path; the front-end authenticates the user.
type AccountHandler struct {
	balance     BalanceFunc
	payments    *service.PaymentService
	deals       *service.DealService
	withdrawals *service.WithdrawalService
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(balance BalanceFunc, payments *service.PaymentService,
	deals *service.DealService, withdrawals *service.WithdrawalService) *AccountHandler {
	return &AccountHandler{balance: balance, payments: payments, deals: deals, withdrawals: withdrawals}
}

// Routes returns the /v1 sub-router guarded by the service key.
func (h *AccountHandler) Routes(serviceKey string) chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireServiceKey(serviceKey))

	r.Get("/payments/{paymentID}", h.PaymentStatus)
	r.Route("/users/{id}", func(r chi.Router) {
		r.Get("/balance", h.Balance)
		r.Post("/deposits", h.CreateDeposit)
		r.Get("/payments", h.PaymentHistory)
		r.Post("/withdrawals", h.RequestWithdrawal)
		r.Get("/withdrawals", h.Withdrawals)
		r.Post("/deals", h.CreateDeal)
		r.Get("/deals", h.Deals)
		r.Post("/deals/{dealID}/complete", h.CompleteDeal)
		r.Post("/deals/{dealID}/cancel", h.CancelDeal)
		r.Post("/deals/{dealID}/dispute", h.DisputeDeal)
	})
	r.Post("/deals/{dealID}/activate", h.ActivateDeal)
	return r
}

// Balance handles GET /v1/users/{id}/balance.
func (h *AccountHandler) Balance(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	u, err := h.balance(r.Context(), id)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":         u.ID,
		"balance":         u.Balance,
		"deals_completed": u.DealsCompleted,
	})
}

type depositRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	PayCurrency string          `json:"pay_currency" validate:"required,max=16"`
}

// CreateDeposit handles POST /v1/users/{id}/deposits.
func (h *AccountHandler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	var req depositRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, err)
		return
	}
	dep, err := h.payments.CreateDeposit(r.Context(), id, req.Amount, req.PayCurrency)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusCreated, dep)
}

// PaymentHistory handles GET /v1/users/{id}/payments.
func (h *AccountHandler) PaymentHistory(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	list, err := h.payments.History(r.Context(), id, userListLimit)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, nonNil(list))
}

// PaymentStatus handles GET /v1/payments/{paymentID}.
func (h *AccountHandler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	p, err := h.payments.Status(r.Context(), chi.URLParam(r, "paymentID"))
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, p)
}

type withdrawalRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// RequestWithdrawal handles POST /v1/users/{id}/withdrawals.
func (h *AccountHandler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	var req withdrawalRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, err)
		return
	}
	wd, err := h.withdrawals.Request(r.Context(), id, req.Amount)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusCreated, wd)
}

// Withdrawals handles GET /v1/users/{id}/withdrawals.
func (h *AccountHandler) Withdrawals(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	list, err := h.withdrawals.ListByUser(r.Context(), id, userListLimit)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, nonNil(list))
}

type createDealRequest struct {
	SellerHandle string          `json:"seller_handle" validate:"required,max=33"`
	Description  string          `json:"description" validate:"required"`
	Amount       decimal.Decimal `json:"amount"`
}

// CreateDeal handles POST /v1/users/{id}/deals.
func (h *AccountHandler) CreateDeal(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	var req createDealRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, err)
		return
	}
	d, err := h.deals.Create(r.Context(), service.CreateDealInput{
		BuyerID:      id,
		SellerHandle: req.SellerHandle,
		Description:  req.Description,
		Amount:       req.Amount,
	})
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusCreated, d)
}

// Deals handles GET /v1/users/{id}/deals.
func (h *AccountHandler) Deals(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	list, err := h.deals.ListByBuyer(r.Context(), id, userListLimit)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, nonNil(list))
}

// ActivateDeal handles POST /v1/deals/{dealID}/activate, sent when the seller
// acknowledges the deal.
func (h *AccountHandler) ActivateDeal(w http.ResponseWriter, r *http.Request) {
	dealID, err := int64Param(r, "dealID")
	if err != nil {
		RespondError(w, err)
		return
	}
	d, err := h.deals.Activate(r.Context(), dealID)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, d)
}

// CompleteDeal handles POST /v1/users/{id}/deals/{dealID}/complete.
func (h *AccountHandler) CompleteDeal(w http.ResponseWriter, r *http.Request) {
	h.buyerAction(w, r, h.deals.Complete)
}

// CancelDeal handles POST /v1/users/{id}/deals/{dealID}/cancel.
func (h *AccountHandler) CancelDeal(w http.ResponseWriter, r *http.Request) {
	h.buyerAction(w, r, h.deals.Cancel)
}

func (h *AccountHandler) buyerAction(w http.ResponseWriter, r *http.Request,
	action func(ctx context.Context, dealID, buyerID int64) (*domain.Deal, error)) {
	buyerID, err := int64Param(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	dealID, err := int64Param(r, "dealID")
	if err != nil {
		RespondError(w, err)
		return
	}
	d, err := action(r.Context(), dealID, buyerID)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, d)
}

// DisputeDeal handles POST /v1/users/{id}/deals/{dealID}/dispute.
func (h *AccountHandler) DisputeDeal(w http.ResponseWriter, r *http.Request) {
	buyerID, err := int64Param(r, "id")
	if err != nil {
		RespondError(w, err)
		return
	}
	dealID, err := int64Param(r, "dealID")
	if err != nil {
		RespondError(w, err)
		return
	}
	var req disputeRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, err)
		return
	}

	d, err := h.deals.Get(r.Context(), dealID)
	if err != nil {
		RespondError(w, err)
		return
	}
	if d.BuyerID != buyerID {
		RespondError(w, domain.ErrForbidden("deal belongs to another user"))
		return
	}
	d, err = h.deals.Dispute(r.Context(), dealID, req.Reason)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, d)
}
