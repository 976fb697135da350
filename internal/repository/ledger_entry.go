package repository

import (
	"context"
	"fmt"

	"github.com/escrowdesk/platform/internal/domain"
	"github.com/escrowdesk/platform/internal/infra"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

type ledgerEntryRepo struct{}

// NewLedgerEntryRepository returns a pgx-backed LedgerEntryRepository.
func NewLedgerEntryRepository() LedgerEntryRepository {
	return &ledgerEntryRepo{}
}

func (r *ledgerEntryRepo) Insert(ctx context.Context, db DBTX, e *domain.LedgerEntry) error {
	err := db.QueryRow(ctx, `
		INSERT INTO ledger_entries (user_id, delta, balance_after, reason, reference)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		e.UserID, infra.DecimalToNumeric(e.Delta), infra.DecimalToNumeric(e.BalanceAfter),
		string(e.Reason), e.Reference,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func (r *ledgerEntryRepo) ListByUser(ctx context.Context, db DBTX, userID int64, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := db.Query(ctx, `
		SELECT id, user_id, delta, balance_after, reason, reference, created_at
		FROM ledger_entries WHERE user_id = $1
		ORDER BY id DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var delta, after pgtype.Numeric
		if err := rows.Scan(&e.ID, &e.UserID, &delta, &after, &e.Reason, &e.Reference, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		if e.Delta, err = infra.NumericToDecimal(delta); err != nil {
			return nil, fmt.Errorf("convert delta: %w", err)
		}
		if e.BalanceAfter, err = infra.NumericToDecimal(after); err != nil {
			return nil, fmt.Errorf("convert balance_after: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *ledgerEntryRepo) SumByUser(ctx context.Context, db DBTX, userID int64) (int64, decimal.Decimal, error) {
	var count int64
	var total pgtype.Numeric
	err := db.QueryRow(ctx, `
		SELECT count(*), COALESCE(sum(delta), 0)
		FROM ledger_entries WHERE user_id = $1`, userID).Scan(&count, &total)
	if err != nil {
		return 0, decimal.Zero, fmt.Errorf("sum ledger entries: %w", err)
	}
	sum, err := infra.NumericToDecimal(total)
	if err != nil {
		return 0, decimal.Zero, fmt.Errorf("convert ledger sum: %w", err)
	}
	return count, sum, nil
}
