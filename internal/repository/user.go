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

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const userColumns = `id, balance, deals_completed, created_at, updated_at`

type userRepo struct{}

// NewUserRepository returns a pgx-backed UserRepository.
func NewUserRepository() UserRepository {
	return &userRepo{}
}

func (r *userRepo) FindByID(ctx context.Context, db DBTX, id int64) (*domain.User, error) {
	row := db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (r *userRepo) EnsureExists(ctx context.Context, db DBTX, id int64) error {
	_, err := db.Exec(ctx, `INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, id)
	if err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	return nil
}

func (r *userRepo) LockForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*domain.User, error) {
	row := tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id)
	return scanUser(row)
}

// AddBalance uses server-side arithmetic; the CHECK constraint rejects a negative result.
func (r *userRepo) AddBalance(ctx context.Context, tx pgx.Tx, id int64, delta decimal.Decimal) (*domain.User, error) {
	row := tx.QueryRow(ctx, `
		UPDATE users SET balance = balance + $2, updated_at = now()
		WHERE id = $1
		RETURNING `+userColumns, id, infra.DecimalToNumeric(delta))
	u, err := scanUser(row)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("update balance: user %d vanished", id)
	}
	return u, nil
}

func (r *userRepo) IncrementDealsCompleted(ctx context.Context, db DBTX, id int64) error {
	_, err := db.Exec(ctx, `
		UPDATE users SET deals_completed = deals_completed + 1, updated_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment deals_completed: %w", err)
	}
	return nil
}

func (r *userRepo) Summary(ctx context.Context, db DBTX) (int64, decimal.Decimal, error) {
	var count int64
	var total pgtype.Numeric
	err := db.QueryRow(ctx, `SELECT count(*), COALESCE(sum(balance), 0) FROM users`).Scan(&count, &total)
	if err != nil {
		return 0, decimal.Zero, fmt.Errorf("user summary: %w", err)
	}
	sum, err := infra.NumericToDecimal(total)
	if err != nil {
		return 0, decimal.Zero, fmt.Errorf("convert balance sum: %w", err)
	}
	return count, sum, nil
}

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	var balNum pgtype.Numeric
	err := row.Scan(&u.ID, &balNum, &u.DealsCompleted, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if u.Balance, err = infra.NumericToDecimal(balNum); err != nil {
		return nil, fmt.Errorf("convert balance: %w", err)
	}
	return &u, nil
}
