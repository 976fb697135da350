package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/escrowdesk/platform/internal/domain"
	"github.com/escrowdesk/platform/internal/infra"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const paymentColumns = `payment_id, user_id, amount, fee, currency, invoice_url, order_id,
	status, created_at, updated_at, archived_at`

type paymentRepo struct{}

// NewPaymentRepository returns a pgx-backed PaymentRepository.
func NewPaymentRepository() PaymentRepository {
	return &paymentRepo{}
}

func (r *paymentRepo) Create(ctx context.Context, db DBTX, p *domain.Payment) (bool, error) {
	if p.Status == "" {
		p.Status = domain.PaymentStatusPending
	}
	tag, err := db.Exec(ctx, `
		INSERT INTO payments (payment_id, user_id, amount, fee, currency, invoice_url, order_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (payment_id) DO NOTHING`,
		p.PaymentID, p.UserID,
		infra.DecimalToNumeric(p.Amount), infra.DecimalToNumeric(p.Fee),
		p.Currency, p.InvoiceURL, p.OrderID, string(p.Status),
	)
	if err != nil {
		return false, fmt.Errorf("insert payment: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *paymentRepo) FindByID(ctx context.Context, db DBTX, paymentID string) (*domain.Payment, error) {
	row := db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE payment_id = $1`, paymentID)
	p, err := scanPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// CompareAndSetStatus is the guarded update: it only matches while the row
// still carries the status the caller observed.
func (r *paymentRepo) CompareAndSetStatus(ctx context.Context, db DBTX, paymentID string, expected, next domain.PaymentStatus) (bool, error) {
	tag, err := db.Exec(ctx, `
		UPDATE payments SET status = $3, updated_at = now()
		WHERE payment_id = $1 AND status = $2`,
		paymentID, string(expected), string(next))
	if err != nil {
		return false, fmt.Errorf("update payment status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *paymentRepo) ListNonTerminal(ctx context.Context, db DBTX, after PaymentCursor, limit int) ([]domain.Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.list(ctx, db, `
		SELECT `+paymentColumns+` FROM payments
		WHERE status IN ('pending', 'confirming')
		  AND (created_at, payment_id) > ($1, $2)
		ORDER BY created_at ASC, payment_id ASC LIMIT $3`, after.CreatedAt, after.PaymentID, limit)
}

func (r *paymentRepo) ListByUser(ctx context.Context, db DBTX, userID int64, limit int) ([]domain.Payment, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return r.list(ctx, db, `
		SELECT `+paymentColumns+` FROM payments
		WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2`, userID, limit)
}

func (r *paymentRepo) CountByStatus(ctx context.Context, db DBTX) (map[domain.PaymentStatus]int64, error) {
	rows, err := db.Query(ctx, `SELECT status, count(*) FROM payments GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count payments: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.PaymentStatus]int64)
	for rows.Next() {
		var status domain.PaymentStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan payment count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *paymentRepo) CountPendingBefore(ctx context.Context, db DBTX, cutoff time.Time) (int64, error) {
	var n int64
	err := db.QueryRow(ctx, `
		SELECT count(*) FROM payments
		WHERE status = 'pending' AND created_at < $1`, cutoff).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count stale payments: %w", err)
	}
	return n, nil
}

func (r *paymentRepo) ArchiveTerminalBefore(ctx context.Context, db DBTX, cutoff time.Time) (int64, error) {
	tag, err := db.Exec(ctx, `
		UPDATE payments SET archived_at = now()
		WHERE archived_at IS NULL
		  AND status IN ('confirmed', 'failed', 'cancelled', 'expired')
		  AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("archive payments: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *paymentRepo) list(ctx context.Context, db DBTX, sql string, args ...interface{}) ([]domain.Payment, error) {
	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

// scanPayment returns pgx.ErrNoRows unwrapped so callers can map it to nil.
func scanPayment(row rowScanner) (*domain.Payment, error) {
	var p domain.Payment
	var amountNum, feeNum pgtype.Numeric
	err := row.Scan(
		&p.PaymentID, &p.UserID, &amountNum, &feeNum, &p.Currency, &p.InvoiceURL, &p.OrderID,
		&p.Status, &p.CreatedAt, &p.UpdatedAt, &p.ArchivedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	if p.Amount, err = infra.NumericToDecimal(amountNum); err != nil {
		return nil, fmt.Errorf("convert payment amount: %w", err)
	}
	if p.Fee, err = infra.NumericToDecimal(feeNum); err != nil {
		return nil, fmt.Errorf("convert payment fee: %w", err)
	}
	return &p, nil
}
