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

const dealColumns = `id, buyer_id, seller_handle, description, amount, fee, status,
	dispute_reason, admin_notes, created_at, updated_at, completed_at`

type dealRepo struct{}

// NewDealRepository returns a pgx-backed DealRepository.
func NewDealRepository() DealRepository {
	return &dealRepo{}
}

func (r *dealRepo) Create(ctx context.Context, db DBTX, d *domain.Deal) error {
	if d.Status == "" {
		d.Status = domain.DealStatusWaiting
	}
	err := db.QueryRow(ctx, `
		INSERT INTO deals (buyer_id, seller_handle, description, amount, fee, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		d.BuyerID, d.SellerHandle, d.Description,
		infra.DecimalToNumeric(d.Amount), infra.DecimalToNumeric(d.Fee), string(d.Status),
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert deal: %w", err)
	}
	return nil
}

func (r *dealRepo) FindByID(ctx context.Context, db DBTX, id int64) (*domain.Deal, error) {
	row := db.QueryRow(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = $1`, id)
	return scanDealRow(row)
}

func (r *dealRepo) LockForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*domain.Deal, error) {
	row := tx.QueryRow(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = $1 FOR UPDATE`, id)
	return scanDealRow(row)
}

// Update sets the new status and any non-nil optional columns.
func (r *dealRepo) Update(ctx context.Context, db DBTX, id int64, upd domain.DealUpdate) (*domain.Deal, error) {
	row := db.QueryRow(ctx, `
		UPDATE deals SET
			status = $2,
			dispute_reason = COALESCE($3, dispute_reason),
			admin_notes = COALESCE($4, admin_notes),
			completed_at = COALESCE($5, completed_at),
			updated_at = now()
		WHERE id = $1
		RETURNING `+dealColumns,
		id, string(upd.Status), upd.DisputeReason, upd.AdminNotes, upd.CompletedAt)
	d, err := scanDealRow(row)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("update deal %d: not found", id)
	}
	return d, nil
}

func (r *dealRepo) ListByBuyer(ctx context.Context, db DBTX, buyerID int64, limit int) ([]domain.Deal, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return r.list(ctx, db, `
		SELECT `+dealColumns+` FROM deals
		WHERE buyer_id = $1 AND status <> 'archived'
		ORDER BY created_at DESC LIMIT $2`, buyerID, limit)
}

func (r *dealRepo) ListByStatus(ctx context.Context, db DBTX, status domain.DealStatus, limit int) ([]domain.Deal, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return r.list(ctx, db, `
		SELECT `+dealColumns+` FROM deals
		WHERE status = $1
		ORDER BY updated_at ASC LIMIT $2`, string(status), limit)
}

func (r *dealRepo) CountByStatus(ctx context.Context, db DBTX) (map[domain.DealStatus]int64, error) {
	rows, err := db.Query(ctx, `SELECT status, count(*) FROM deals GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count deals: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.DealStatus]int64)
	for rows.Next() {
		var status domain.DealStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan deal count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *dealRepo) ListStuck(ctx context.Context, db DBTX, cutoff time.Time, limit int) ([]domain.Deal, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return r.list(ctx, db, `
		SELECT `+dealColumns+` FROM deals
		WHERE status IN ('waiting', 'active') AND updated_at < $1
		ORDER BY updated_at ASC LIMIT $2`, cutoff, limit)
}

func (r *dealRepo) ArchiveFinishedBefore(ctx context.Context, db DBTX, cutoff time.Time) (int64, error) {
	tag, err := db.Exec(ctx, `
		UPDATE deals SET status = 'archived', updated_at = now()
		WHERE status IN ('completed', 'cancelled') AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("archive deals: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *dealRepo) list(ctx context.Context, db DBTX, sql string, args ...interface{}) ([]domain.Deal, error) {
	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query deals: %w", err)
	}
	defer rows.Close()

	var deals []domain.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		deals = append(deals, *d)
	}
	return deals, rows.Err()
}

func scanDealRow(row pgx.Row) (*domain.Deal, error) {
	d, err := scanDeal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

func scanDeal(row rowScanner) (*domain.Deal, error) {
	var d domain.Deal
	var amountNum, feeNum pgtype.Numeric
	err := row.Scan(
		&d.ID, &d.BuyerID, &d.SellerHandle, &d.Description, &amountNum, &feeNum, &d.Status,
		&d.DisputeReason, &d.AdminNotes, &d.CreatedAt, &d.UpdatedAt, &d.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan deal: %w", err)
	}
	if d.Amount, err = infra.NumericToDecimal(amountNum); err != nil {
		return nil, fmt.Errorf("convert deal amount: %w", err)
	}
	if d.Fee, err = infra.NumericToDecimal(feeNum); err != nil {
		return nil, fmt.Errorf("convert deal fee: %w", err)
	}
	return &d, nil
}
