package service

import (
	"context"
	"log/slog"

	"github.com/escrowdesk/platform/internal/domain"
	"github.com/escrowdesk/platform/internal/repository"
	"github.com/jackc/pgx/v5"
)

// maxTransitionRounds bounds the compare-and-set loop. Status only moves
// forward, so a payment can be overtaken at most twice.
const maxTransitionRounds = 4

// PaymentStore is the single source of truth for payment state.
type PaymentStore struct {
	db       repository.DBTX
	tx       repository.Transactor
	payments repository.PaymentRepository
	outbox   repository.OutboxRepository
	logger   *slog.Logger
}

// NewPaymentStore creates a PaymentStore.
func NewPaymentStore(
	db repository.DBTX,
	tx repository.Transactor,
	payments repository.PaymentRepository,
	outbox repository.OutboxRepository,
	logger *slog.Logger,
) *PaymentStore {
	return &PaymentStore{db: db, tx: tx, payments: payments, outbox: outbox, logger: logger}
}

// TransitionResult describes the outcome of a Transition call.
type TransitionResult struct {
	Outcome  domain.TransitionOutcome
	Previous domain.PaymentStatus
	Payment  *domain.Payment
}

// Create records a new pending payment. A duplicate payment id is success and
// leaves the stored record untouched; created reports which case applied.
func (s *PaymentStore) Create(ctx context.Context, p *domain.Payment) (created bool, err error) {
	if p.PaymentID == "" {
		return false, domain.ErrValidation("payment id is required")
	}
	if p.Status == "" {
		p.Status = domain.PaymentStatusPending
	}
	created, err = s.payments.Create(ctx, s.db, p)
	if err != nil {
		return false, internal("record payment", err)
	}
	if !created {
		s.logger.Info("payment already recorded", "payment_id", p.PaymentID, "user_id", p.UserID)
	}
	return created, nil
}

// Get returns a payment, or nil if unknown.
func (s *PaymentStore) Get(ctx context.Context, paymentID string) (*domain.Payment, error) {
	p, err := s.payments.FindByID(ctx, s.db, paymentID)
	if err != nil {
		return nil, internal("find payment", err)
	}
	return p, nil
}

// ListOpen returns one page of non-terminal payments, oldest first, starting
// after the cursor.
func (s *PaymentStore) ListOpen(ctx context.Context, after repository.PaymentCursor, limit int) ([]domain.Payment, error) {
	payments, err := s.payments.ListNonTerminal(ctx, s.db, after, limit)
	if err != nil {
		return nil, internal("list open payments", err)
	}
	return payments, nil
}

// ListByUser returns a user's payments, newest first.
func (s *PaymentStore) ListByUser(ctx context.Context, userID int64, limit int) ([]domain.Payment, error) {
	payments, err := s.payments.ListByUser(ctx, s.db, userID, limit)
	if err != nil {
		return nil, internal("list user payments", err)
	}
	return payments, nil
}

// Transition moves a payment to next.
//
// Equal status yields Unchanged. A terminal or otherwise illegal edge yields
// Rejected without mutation. The update is conditional on the status that was
// read, so of two callers racing from the same status exactly one is Applied.
func (s *PaymentStore) Transition(ctx context.Context, paymentID string, next domain.PaymentStatus) (*TransitionResult, error) {
	if !next.Valid() {
		return nil, domain.ErrValidation("invalid payment status: " + string(next))
	}

	var result *TransitionResult
	err := s.tx.InTx(ctx, func(tx pgx.Tx) error {
		for round := 0; round < maxTransitionRounds; round++ {
			p, err := s.payments.FindByID(ctx, tx, paymentID)
			if err != nil {
				return internal("find payment", err)
			}
			if p == nil {
				return domain.ErrUnknownPayment(paymentID)
			}

			current := p.Status
			switch {
			case current == next:
				result = &TransitionResult{Outcome: domain.TransitionUnchanged, Previous: current, Payment: p}
				return nil
			case !current.CanTransitionTo(next):
				result = &TransitionResult{Outcome: domain.TransitionRejected, Previous: current, Payment: p}
				return nil
			}

			ok, err := s.payments.CompareAndSetStatus(ctx, tx, paymentID, current, next)
			if err != nil {
				return internal("update payment status", err)
			}
			if !ok {
				s.logger.Debug("payment status moved underneath transition, re-reading",
					"payment_id", paymentID, "observed", current, "next", next)
				continue
			}

			p.Status = next
			if err := s.outbox.Insert(ctx, tx, domain.NewPaymentTransitionedEvent(p, current, next)); err != nil {
				return internal("record payment event", err)
			}
			result = &TransitionResult{Outcome: domain.TransitionApplied, Previous: current, Payment: p}
			return nil
		}
		return domain.ErrConflict("payment " + paymentID + " kept changing during transition")
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
