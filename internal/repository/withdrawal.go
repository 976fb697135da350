package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/escrowdesk/platform/internal/domain"
	"github.com/escrowdesk/platform/internal/infra"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const withdrawalColumns = `id, user_id, amount, status, admin_notes, created_at, processed_at`

type withdrawalRepo struct{}

// NewWithdrawalRepository returns a pgx-backed WithdrawalRepository.
func NewWithdrawalRepository() WithdrawalRepository {
	return &withdrawalRepo{}
}

func (r *withdrawalRepo) Create(ctx context.Context, db DBTX, w *domain.Withdrawal) error {
	if w.Status == "" {
		w.Status = domain.WithdrawalStatusPending
	}
	err := db.QueryRow(ctx, `
		INSERT INTO withdrawals (user_id, amount, status)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		w.UserID, infra.DecimalToNumeric(w.Amount), string(w.Status),
	).Scan(&w.ID, &w.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert withdrawal: %w", err)
	}
	return nil
}

func (r *withdrawalRepo) FindByID(ctx context.Context, db DBTX, id int64) (*domain.Withdrawal, error) {
	row := db.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`, id)
	return scanWithdrawalRow(row)
}

func (r *withdrawalRepo) LockForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*domain.Withdrawal, error) {
	row := tx.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1 FOR UPDATE`, id)
	return scanWithdrawalRow(row)
}

func (r *withdrawalRepo) UpdateStatus(ctx context.Context, db DBTX, id int64, status domain.WithdrawalStatus, notes *string) (*domain.Withdrawal, error) {
	row := db.QueryRow(ctx, `
		UPDATE withdrawals
		SET status = $2, admin_notes = COALESCE($3, admin_notes), processed_at = now()
		WHERE id = $1
		RETURNING `+withdrawalColumns, id, string(status), notes)
	w, err := scanWithdrawalRow(row)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, fmt.Errorf("update withdrawal %d: not found", id)
	}
	return w, nil
}

func (r *withdrawalRepo) ListPending(ctx context.Context, db DBTX, limit int) ([]domain.Withdrawal, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return r.list(ctx, db, `
		SELECT `+withdrawalColumns+` FROM withdrawals
		WHERE status = 'pending'
		ORDER BY created_at ASC LIMIT $1`, limit)
}

func (r *withdrawalRepo) ListByUser(ctx context.Context, db DBTX, userID int64, limit int) ([]domain.Withdrawal, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return r.list(ctx, db, `
		SELECT `+withdrawalColumns+` FROM withdrawals
		WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2`, userID, limit)
}

func (r *withdrawalRepo) PendingSummary(ctx context.Context, db DBTX) (int64, decimal.Decimal, error) {
	var count int64
	var total pgtype.Numeric
	err := db.QueryRow(ctx, `
		SELECT count(*), COALESCE(sum(amount), 0)
		FROM withdrawals WHERE status = 'pending'`).Scan(&count, &total)
	if err != nil {
		return 0, decimal.Zero, fmt.Errorf("pending withdrawal summary: %w", err)
	}
	sum, err := infra.NumericToDecimal(total)
	if err != nil {
		return 0, decimal.Zero, fmt.Errorf("convert withdrawal sum: %w", err)
	}
	return count, sum, nil
}

func (r *withdrawalRepo) list(ctx context.Context, db DBTX, sql string, args ...interface{}) ([]domain.Withdrawal, error) {
	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query withdrawals: %w", err)
	}
	defer rows.Close()

	var out []domain.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

func scanWithdrawalRow(row pgx.Row) (*domain.Withdrawal, error) {
	w, err := scanWithdrawal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return w, err
}

func scanWithdrawal(row rowScanner) (*domain.Withdrawal, error) {
	var w domain.Withdrawal
	var amountNum pgtype.Numeric
	err := row.Scan(&w.ID, &w.UserID, &amountNum, &w.Status, &w.AdminNotes, &w.CreatedAt, &w.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan withdrawal: %w", err)
	}
	if w.Amount, err = infra.NumericToDecimal(amountNum); err != nil {
		return nil, fmt.Errorf("convert withdrawal amount: %w", err)
	}
	return &w, nil
}
