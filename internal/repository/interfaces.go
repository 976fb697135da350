package repository

import (
	"context"
	"time"

	"github.com/escrowdesk/platform/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// DBTX abstracts pgx.Tx and pgxpool.Pool so repositories work with both.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Transactor runs fn inside a single database transaction.
// Implemented by infra.TxRunner.
type Transactor interface {
	InTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// PaymentCursor is a keyset position in the (created_at, payment_id) order.
// The zero value sorts before every payment.
type PaymentCursor struct {
	CreatedAt time.Time
	PaymentID string
}

// After returns the cursor positioned at p.
func After(p domain.Payment) PaymentCursor {
	return PaymentCursor{CreatedAt: p.CreatedAt, PaymentID: p.PaymentID}
}

// UserRepository provides access to users.
type UserRepository interface {
	// FindByID returns a user by ID, or nil if absent.
	FindByID(ctx context.Context, db DBTX, id int64) (*domain.User, error)

	// EnsureExists inserts a zero-balance user if none exists.
	EnsureExists(ctx context.Context, db DBTX, id int64) error

	// LockForUpdate acquires a row-level lock (SELECT FOR UPDATE) and returns the user,
	// or nil if absent.
	LockForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*domain.User, error)

	// AddBalance applies delta using server-side arithmetic and returns the updated row.
	AddBalance(ctx context.Context, tx pgx.Tx, id int64, delta decimal.Decimal) (*domain.User, error)

	// IncrementDealsCompleted bumps the completed-deals counter.
	IncrementDealsCompleted(ctx context.Context, db DBTX, id int64) error

	// Summary returns the number of users and the sum of balances.
	Summary(ctx context.Context, db DBTX) (int64, decimal.Decimal, error)
}

// LedgerEntryRepository provides access to the append-only ledger_entries table.
type LedgerEntryRepository interface {
	Insert(ctx context.Context, db DBTX, entry *domain.LedgerEntry) error
	ListByUser(ctx context.Context, db DBTX, userID int64, limit int) ([]domain.LedgerEntry, error)

	// SumByUser returns the entry count and the sum of deltas for a user.
	SumByUser(ctx context.Context, db DBTX, userID int64) (int64, decimal.Decimal, error)
}

// PaymentRepository provides access to the payments table.
type PaymentRepository interface {
	// Create inserts a payment. Returns false without error if the id already exists.
	Create(ctx context.Context, db DBTX, payment *domain.Payment) (bool, error)

	// FindByID returns a payment, or nil if absent.
	FindByID(ctx context.Context, db DBTX, paymentID string) (*domain.Payment, error)

	// CompareAndSetStatus moves the payment from expected to next.
	// Returns false if the stored status no longer equals expected.
	CompareAndSetStatus(ctx context.Context, db DBTX, paymentID string, expected, next domain.PaymentStatus) (bool, error)

	// ListNonTerminal returns up to limit open payments that sort after the
	// cursor, ordered by (created_at, payment_id).
	ListNonTerminal(ctx context.Context, db DBTX, after PaymentCursor, limit int) ([]domain.Payment, error)

	ListByUser(ctx context.Context, db DBTX, userID int64, limit int) ([]domain.Payment, error)
	CountByStatus(ctx context.Context, db DBTX) (map[domain.PaymentStatus]int64, error)
	CountPendingBefore(ctx context.Context, db DBTX, cutoff time.Time) (int64, error)

	// ArchiveTerminalBefore stamps archived_at on terminal payments last updated before cutoff.
	ArchiveTerminalBefore(ctx context.Context, db DBTX, cutoff time.Time) (int64, error)
}

// WithdrawalRepository provides access to the withdrawals table.
type WithdrawalRepository interface {
	// Create inserts a withdrawal and fills in ID and CreatedAt.
	Create(ctx context.Context, db DBTX, w *domain.Withdrawal) error
	FindByID(ctx context.Context, db DBTX, id int64) (*domain.Withdrawal, error)
	LockForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*domain.Withdrawal, error)
	UpdateStatus(ctx context.Context, db DBTX, id int64, status domain.WithdrawalStatus, notes *string) (*domain.Withdrawal, error)
	ListPending(ctx context.Context, db DBTX, limit int) ([]domain.Withdrawal, error)
	ListByUser(ctx context.Context, db DBTX, userID int64, limit int) ([]domain.Withdrawal, error)

	// PendingSummary returns the count and total amount of pending withdrawals.
	PendingSummary(ctx context.Context, db DBTX) (int64, decimal.Decimal, error)
}

// DealRepository provides access to the deals table.
type DealRepository interface {
	// Create inserts a deal and fills in ID and timestamps.
	Create(ctx context.Context, db DBTX, d *domain.Deal) error
	FindByID(ctx context.Context, db DBTX, id int64) (*domain.Deal, error)
	LockForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*domain.Deal, error)
	Update(ctx context.Context, db DBTX, id int64, upd domain.DealUpdate) (*domain.Deal, error)
	ListByBuyer(ctx context.Context, db DBTX, buyerID int64, limit int) ([]domain.Deal, error)
	ListByStatus(ctx context.Context, db DBTX, status domain.DealStatus, limit int) ([]domain.Deal, error)
	CountByStatus(ctx context.Context, db DBTX) (map[domain.DealStatus]int64, error)

	// ListStuck returns waiting/active deals not updated since cutoff.
	ListStuck(ctx context.Context, db DBTX, cutoff time.Time, limit int) ([]domain.Deal, error)

	// ArchiveFinishedBefore archives completed/cancelled deals last updated before cutoff.
	ArchiveFinishedBefore(ctx context.Context, db DBTX, cutoff time.Time) (int64, error)
}

// OutboxRepository provides access to the event_outbox table.
type OutboxRepository interface {
	// Insert writes an outbox event (within the same transaction as the state change).
	Insert(ctx context.Context, db DBTX, draft domain.OutboxDraft) error

	// FetchUnpublished returns pending events in insertion order.
	FetchUnpublished(ctx context.Context, db DBTX, limit int) ([]domain.OutboxDraft, error)

	// MarkPublished deletes relayed events.
	MarkPublished(ctx context.Context, db DBTX, ids []int64) error
}
