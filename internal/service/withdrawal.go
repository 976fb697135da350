package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/escrowdesk/platform/internal/domain"
	"github.com/escrowdesk/platform/internal/infra"
	"github.com/escrowdesk/platform/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// WithdrawalService handles withdrawal requests. Funds leave the balance when
// the request is made and come back only if an admin rejects it.
type WithdrawalService struct {
	db          repository.DBTX
	tx          repository.Transactor
	withdrawals repository.WithdrawalRepository
	outbox      repository.OutboxRepository
	ledger      txLedger
	limits      infra.Limits
	logger      *slog.Logger
}

// NewWithdrawalService creates a WithdrawalService.
func NewWithdrawalService(
	db repository.DBTX,
	tx repository.Transactor,
	withdrawals repository.WithdrawalRepository,
	outbox repository.OutboxRepository,
	ledger txLedger,
	limits infra.Limits,
	logger *slog.Logger,
) *WithdrawalService {
	return &WithdrawalService{
		db:          db,
		tx:          tx,
		withdrawals: withdrawals,
		outbox:      outbox,
		ledger:      ledger,
		limits:      limits,
		logger:      logger,
	}
}

// Request debits amount and records a pending withdrawal in one transaction.
// Insufficient funds leave no record.
func (s *WithdrawalService) Request(ctx context.Context, userID int64, amount decimal.Decimal) (*domain.Withdrawal, error) {
	if err := domain.ValidateAmountRange(amount, s.limits.MinWithdrawal, decimal.Zero); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}

	w := &domain.Withdrawal{UserID: userID, Amount: amount, Status: domain.WithdrawalStatusPending}
	err := s.tx.InTx(ctx, func(tx pgx.Tx) error {
		if err := s.ledger.RequireFunds(ctx, tx, userID, amount); err != nil {
			return err
		}
		if err := s.withdrawals.Create(ctx, tx, w); err != nil {
			return internal("create withdrawal", err)
		}
		if _, err := s.ledger.AdjustTx(ctx, tx, domain.AdjustParams{
			UserID:    userID,
			Delta:     amount.Neg(),
			Reason:    domain.ReasonWithdrawal,
			Reference: withdrawalRef(w.ID),
		}); err != nil {
			return err
		}
		if err := s.outbox.Insert(ctx, tx, domain.NewWithdrawalStatusChangedEvent(w)); err != nil {
			return internal("record withdrawal event", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("withdrawal requested", "withdrawal_id", w.ID, "user_id", userID, "amount", amount.String())
	return w, nil
}

// Approve marks a pending withdrawal as paid out. No ledger movement.
func (s *WithdrawalService) Approve(ctx context.Context, id int64, notes string) (*domain.Withdrawal, error) {
	return s.process(ctx, id, domain.WithdrawalStatusApproved, notes)
}

// Reject returns the amount to the user's balance.
func (s *WithdrawalService) Reject(ctx context.Context, id int64, notes string) (*domain.Withdrawal, error) {
	return s.process(ctx, id, domain.WithdrawalStatusRejected, notes)
}

func (s *WithdrawalService) process(ctx context.Context, id int64, to domain.WithdrawalStatus, notes string) (*domain.Withdrawal, error) {
	var notesPtr *string
	if n := strings.TrimSpace(notes); n != "" {
		notesPtr = &n
	}

	var updated *domain.Withdrawal
	err := s.tx.InTx(ctx, func(tx pgx.Tx) error {
		w, err := s.withdrawals.LockForUpdate(ctx, tx, id)
		if err != nil {
			return internal("lock withdrawal", err)
		}
		if w == nil {
			return domain.ErrNotFound("withdrawal", fmt.Sprint(id))
		}
		if w.Status != domain.WithdrawalStatusPending {
			return domain.ErrInvalidState("withdrawal", fmt.Sprint(id), string(w.Status))
		}

		updated, err = s.withdrawals.UpdateStatus(ctx, tx, id, to, notesPtr)
		if err != nil {
			return internal("update withdrawal", err)
		}

		if to == domain.WithdrawalStatusRejected {
			if _, err := s.ledger.AdjustTx(ctx, tx, domain.AdjustParams{
				UserID:    w.UserID,
				Delta:     w.Amount,
				Reason:    domain.ReasonWithdrawalRefund,
				Reference: withdrawalRef(w.ID),
			}); err != nil {
				return err
			}
		}

		if err := s.outbox.Insert(ctx, tx, domain.NewWithdrawalStatusChangedEvent(updated)); err != nil {
			return internal("record withdrawal event", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("withdrawal processed", "withdrawal_id", id, "user_id", updated.UserID,
		"status", updated.Status, "amount", updated.Amount.String())
	return updated, nil
}

// ListPending returns pending withdrawals, oldest first.
func (s *WithdrawalService) ListPending(ctx context.Context, limit int) ([]domain.Withdrawal, error) {
	out, err := s.withdrawals.ListPending(ctx, s.db, limit)
	if err != nil {
		return nil, internal("list pending withdrawals", err)
	}
	return out, nil
}

// ListByUser returns a user's withdrawals, newest first.
func (s *WithdrawalService) ListByUser(ctx context.Context, userID int64, limit int) ([]domain.Withdrawal, error) {
	out, err := s.withdrawals.ListByUser(ctx, s.db, userID, limit)
	if err != nil {
		return nil, internal("list withdrawals", err)
	}
	return out, nil
}

func withdrawalRef(id int64) string { return fmt.Sprintf("withdrawal:%d", id) }
