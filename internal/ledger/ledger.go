package ledger

import (
	"context"
	"fmt"

	"github.com/escrowdesk/platform/internal/domain"
	"github.com/escrowdesk/platform/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Engine owns every mutation of a user's balance.
//
// Each adjustment runs under a row lock on the user, so concurrent adjustments
// for one user are totally ordered and a balance never goes below zero.
type Engine struct {
	tx      repository.Transactor
	users   repository.UserRepository
	entries repository.LedgerEntryRepository
	outbox  repository.OutboxRepository
}

// NewEngine creates a ledger engine with the given repositories.
func NewEngine(
	tx repository.Transactor,
	users repository.UserRepository,
	entries repository.LedgerEntryRepository,
	outbox repository.OutboxRepository,
) *Engine {
	return &Engine{
		tx:      tx,
		users:   users,
		entries: entries,
		outbox:  outbox,
	}
}

// Adjust applies params in its own transaction.
func (e *Engine) Adjust(ctx context.Context, params domain.AdjustParams) (*domain.AdjustResult, error) {
	var result *domain.AdjustResult
	err := e.tx.InTx(ctx, func(tx pgx.Tx) error {
		var err error
		result, err = e.AdjustTx(ctx, tx, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AdjustTx applies params inside the caller's transaction.
// A credit creates the user on first use; a debit of an unknown user is
// reported as insufficient funds.
func (e *Engine) AdjustTx(ctx context.Context, tx pgx.Tx, params domain.AdjustParams) (*domain.AdjustResult, error) {
	if params.Delta.IsZero() {
		return nil, domain.ErrValidation("adjustment delta must not be zero")
	}
	if params.Reason == "" {
		return nil, domain.ErrValidation("adjustment reason is required")
	}

	if params.Delta.IsPositive() {
		if err := e.users.EnsureExists(ctx, tx, params.UserID); err != nil {
			return nil, fmt.Errorf("adjust: %w", err)
		}
	}

	user, err := e.users.LockForUpdate(ctx, tx, params.UserID)
	if err != nil {
		return nil, fmt.Errorf("lock user: %w", err)
	}
	if user == nil {
		return nil, domain.ErrInsufficientFunds()
	}
	if user.Balance.Add(params.Delta).IsNegative() {
		return nil, domain.ErrInsufficientFunds()
	}

	updated, err := e.users.AddBalance(ctx, tx, params.UserID, params.Delta)
	if err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}

	entry := &domain.LedgerEntry{
		UserID:       params.UserID,
		Delta:        params.Delta,
		BalanceAfter: updated.Balance,
		Reason:       params.Reason,
		Reference:    params.Reference,
	}
	if err := e.entries.Insert(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := e.outbox.Insert(ctx, tx, domain.NewBalanceAdjustedEvent(entry)); err != nil {
		return nil, err
	}

	return &domain.AdjustResult{Balance: updated.Balance, Entry: entry}, nil
}

// RequireFunds locks the user's row for the rest of tx and fails with
// InsufficientFunds unless the user exists and holds at least amount.
// Callers run it before inserting rows that reference the user.
func (e *Engine) RequireFunds(ctx context.Context, tx pgx.Tx, userID int64, amount decimal.Decimal) error {
	user, err := e.users.LockForUpdate(ctx, tx, userID)
	if err != nil {
		return fmt.Errorf("lock user: %w", err)
	}
	if user == nil || user.Balance.LessThan(amount) {
		return domain.ErrInsufficientFunds()
	}
	return nil
}

// Balance returns the user's balance. Unknown users have a zero balance.
func (e *Engine) Balance(ctx context.Context, db repository.DBTX, userID int64) (*domain.User, error) {
	user, err := e.users.FindByID(ctx, db, userID)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return &domain.User{ID: userID}, nil
	}
	return user, nil
}
