package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/escrowdesk/platform/internal/domain"
	"github.com/escrowdesk/platform/internal/metrics"
)

// Reconciliation sources, used in logs and metrics.
const (
	SourceWebhook = "webhook"
	SourcePoller  = "poller"
	SourceAdmin   = "admin"
)

// creditTimeout bounds the deposit credit once confirmed has been recorded.
const creditTimeout = 30 * time.Second

// balanceLedger is the subset of ledger.Engine the reconciler needs.
type balanceLedger interface {
	Adjust(ctx context.Context, params domain.AdjustParams) (*domain.AdjustResult, error)
}

// ReconcileResult reports what Apply did.
type ReconcileResult struct {
	PaymentID string                   `json:"payment_id"`
	Previous  domain.PaymentStatus     `json:"previous"`
	Status    domain.PaymentStatus     `json:"status"`
	Outcome   domain.TransitionOutcome `json:"-"`
	Credited  bool                     `json:"credited"`
}

// Reconciler applies observed processor statuses to stored payments and
// credits the ledger exactly once per confirmed payment.
//
// The webhook, the poller and admin force-checks all call Apply, possibly
// concurrently for the same payment. Only the caller whose transition into
// confirmed is Applied performs the credit.
type Reconciler struct {
	store   *PaymentStore
	ledger  balanceLedger
	metrics *metrics.Settlement
	logger  *slog.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(store *PaymentStore, ledger balanceLedger, m *metrics.Settlement, logger *slog.Logger) *Reconciler {
	return &Reconciler{store: store, ledger: ledger, metrics: m, logger: logger}
}

// Apply reconciles payment paymentID against candidate.
//
// Unknown payments fail with UnknownPayment. Duplicate and stale notifications,
// including any for an already-terminal payment, succeed without effect.
// A failed credit is returned as a retryable Unavailable error; the payment
// stays confirmed and needs an admin correction. Once confirmed is recorded the
// credit ignores cancellation of ctx, since no later delivery would retry it.
func (r *Reconciler) Apply(ctx context.Context, paymentID string, candidate domain.PaymentStatus, source string) (*ReconcileResult, error) {
	log := r.logger.With("payment_id", paymentID, "candidate", candidate, "source", source)

	p, err := r.store.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		r.metrics.Reconciled(source, "unknown_payment")
		log.Warn("reconcile: unknown payment")
		return nil, domain.ErrUnknownPayment(paymentID)
	}

	result := &ReconcileResult{PaymentID: paymentID, Previous: p.Status, Status: p.Status}
	if p.Status == candidate {
		result.Outcome = domain.TransitionUnchanged
		r.metrics.Reconciled(source, domain.TransitionUnchanged.String())
		log.Debug("reconcile: status unchanged")
		return result, nil
	}

	tr, err := r.store.Transition(ctx, paymentID, candidate)
	if err != nil {
		r.metrics.Reconciled(source, "error")
		return nil, err
	}
	result.Previous = tr.Previous
	result.Status = tr.Payment.Status
	result.Outcome = tr.Outcome
	r.metrics.Reconciled(source, tr.Outcome.String())

	switch tr.Outcome {
	case domain.TransitionUnchanged:
		return result, nil
	case domain.TransitionRejected:
		if tr.Previous.IsTerminal() {
			log.Info("reconcile: payment already settled, ignoring", "stored", tr.Previous)
		} else {
			log.Info("reconcile: stale status ignored", "stored", tr.Previous)
		}
		return result, nil
	}

	log.Info("payment status updated", "from", tr.Previous, "to", candidate, "user_id", p.UserID)
	if candidate != domain.PaymentStatusConfirmed {
		return result, nil
	}

	creditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), creditTimeout)
	defer cancel()
	adj, err := r.ledger.Adjust(creditCtx, domain.AdjustParams{
		UserID:    p.UserID,
		Delta:     p.Amount,
		Reason:    domain.ReasonDeposit,
		Reference: p.PaymentID,
	})
	if err != nil {
		r.metrics.Credit(false)
		log.Error("deposit credit failed after confirmation; manual correction required",
			"user_id", p.UserID, "amount", p.Amount.String(), "error", err)
		return result, domain.ErrUnavailable("deposit credit", err)
	}

	r.metrics.Credit(true)
	result.Credited = true
	log.Info("deposit credited", "user_id", p.UserID, "amount", p.Amount.String(), "balance", adj.Balance.String())
	return result, nil
}
