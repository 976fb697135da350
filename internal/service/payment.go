package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/escrowdesk/platform/internal/domain"
	"github.com/escrowdesk/platform/internal/guard"
	"github.com/escrowdesk/platform/internal/infra"
	"github.com/escrowdesk/platform/internal/provider"
	"github.com/shopspring/decimal"
)

// paymentProcessor is the processor client used for deposits and force checks.
type paymentProcessor interface {
	paymentFetcher
	CreateInvoice(ctx context.Context, req provider.InvoiceRequest) (*provider.Invoice, error)
}

// PaymentService orchestrates deposits.
type PaymentService struct {
	store      *PaymentStore
	processor  paymentProcessor
	reconciler *Reconciler
	limits     infra.Limits
	settings   infra.PaymentsConfig
	np         infra.NowPaymentsConfig
	inflight   *guard.InFlight
	logger     *slog.Logger
	now        func() time.Time
}

// NewPaymentService creates a PaymentService.
func NewPaymentService(
	store *PaymentStore,
	processor paymentProcessor,
	reconciler *Reconciler,
	limits infra.Limits,
	settings infra.PaymentsConfig,
	np infra.NowPaymentsConfig,
	logger *slog.Logger,
) *PaymentService {
	return &PaymentService{
		store:      store,
		processor:  processor,
		reconciler: reconciler,
		limits:     limits,
		settings:   settings,
		np:         np,
		inflight:   guard.NewInFlight(),
		logger:     logger,
		now:        time.Now,
	}
}

// Deposit is returned to the user after an invoice is created.
type Deposit struct {
	PaymentID  string          `json:"payment_id"`
	InvoiceURL string          `json:"invoice_url"`
	Amount     decimal.Decimal `json:"amount"`
	Fee        decimal.Decimal `json:"fee"`
	Total      decimal.Decimal `json:"total"`
	Currency   string          `json:"currency"`
}

// CreateDeposit creates a processor invoice for amount plus the deposit fee and
// records a pending payment. The ledger is credited with amount once the
// payment is confirmed.
func (s *PaymentService) CreateDeposit(ctx context.Context, userID int64, amount decimal.Decimal, payCurrency string) (*Deposit, error) {
	payCurrency = strings.ToLower(strings.TrimSpace(payCurrency))
	if err := domain.ValidateAmountRange(amount, s.limits.MinDeposit, s.limits.MaxDeposit); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	if err := domain.ValidatePayCurrency(payCurrency, s.settings.SupportedCurrencies); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}

	release, res := s.inflight.Acquire(fmt.Sprintf("deposit:%d", userID))
	if !res.Allowed {
		return nil, domain.ErrConflict("a deposit request is already in progress")
	}
	defer release()

	fee := domain.CalculateFee(amount, s.limits.DepositFeePercent)
	total := amount.Add(fee)
	orderID := fmt.Sprintf("user_%d_%d", userID, s.now().Unix())

	invoice, err := s.processor.CreateInvoice(ctx, provider.InvoiceRequest{
		PriceAmount:      total,
		PriceCurrency:    s.settings.PriceCurrency,
		PayCurrency:      payCurrency,
		OrderID:          orderID,
		OrderDescription: fmt.Sprintf("Escrow deposit for user %d", userID),
		SuccessURL:       s.np.SuccessURL,
		CancelURL:        s.np.CancelURL,
		IsFixedRate:      true,
		IsFeePaidByUser:  false,
	})
	if err != nil {
		s.logger.Error("create invoice failed", "user_id", userID, "amount", amount.String(), "error", err)
		return nil, err
	}

	payment := &domain.Payment{
		PaymentID:  invoice.PaymentID,
		UserID:     userID,
		Amount:     amount,
		Fee:        fee,
		Currency:   payCurrency,
		InvoiceURL: invoice.InvoiceURL,
		OrderID:    orderID,
		Status:     domain.PaymentStatusPending,
	}
	if _, err := s.store.Create(ctx, payment); err != nil {
		s.logger.Error("invoice created but payment not recorded",
			"user_id", userID, "payment_id", invoice.PaymentID, "error", err)
		return nil, err
	}

	s.logger.Info("deposit invoice created",
		"user_id", userID, "payment_id", invoice.PaymentID, "amount", amount.String(), "fee", fee.String())

	return &Deposit{
		PaymentID:  invoice.PaymentID,
		InvoiceURL: invoice.InvoiceURL,
		Amount:     amount,
		Fee:        fee,
		Total:      total,
		Currency:   payCurrency,
	}, nil
}

// ForceCheck polls the processor for one payment and reconciles the result.
func (s *PaymentService) ForceCheck(ctx context.Context, paymentID string) (*ReconcileResult, error) {
	p, err := s.store.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domain.ErrUnknownPayment(paymentID)
	}
	if p.Status.IsTerminal() {
		return &ReconcileResult{PaymentID: paymentID, Previous: p.Status, Status: p.Status, Outcome: domain.TransitionUnchanged}, nil
	}

	info, err := s.processor.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return s.reconciler.Apply(ctx, paymentID, info.Status, SourceAdmin)
}

// Status returns a stored payment.
func (s *PaymentService) Status(ctx context.Context, paymentID string) (*domain.Payment, error) {
	p, err := s.store.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domain.ErrUnknownPayment(paymentID)
	}
	return p, nil
}

// History returns a user's payments, newest first.
func (s *PaymentService) History(ctx context.Context, userID int64, limit int) ([]domain.Payment, error) {
	return s.store.ListByUser(ctx, userID, limit)
}
