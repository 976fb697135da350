package ledger

import (
	"context"
	"fmt"

	"github.com/escrowdesk/platform/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// AuditReport is the outcome of checking one user's balance against the ledger.
type AuditReport struct {
	UserID     int64           `json:"user_id"`
	Balance    decimal.Decimal `json:"balance"`
	EntryCount int64           `json:"entry_count"`
	Checks     []AuditCheck    `json:"checks"`
	AllPassed  bool            `json:"all_passed"`
}

// AuditCheck records a single invariant validation.
type AuditCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// Audit validates, under the user's row lock:
//  1. the balance is non-negative
//  2. the balance equals the sum of all ledger deltas
//  3. the latest entry's balance_after matches the user row
func (e *Engine) Audit(ctx context.Context, userID int64) (*AuditReport, error) {
	report := &AuditReport{UserID: userID}

	err := e.tx.InTx(ctx, func(tx pgx.Tx) error {
		user, err := e.users.LockForUpdate(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("lock user: %w", err)
		}
		if user == nil {
			return domain.ErrNotFound("user", fmt.Sprint(userID))
		}
		report.Balance = user.Balance

		count, sum, err := e.entries.SumByUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		report.EntryCount = count

		latest, err := e.entries.ListByUser(ctx, tx, userID, 1)
		if err != nil {
			return err
		}

		report.Checks = auditChecks(user, sum, latest)
		return nil
	})
	if err != nil {
		return nil, err
	}

	report.AllPassed = true
	for _, c := range report.Checks {
		if !c.Passed {
			report.AllPassed = false
		}
	}
	return report, nil
}

func auditChecks(user *domain.User, sum decimal.Decimal, latest []domain.LedgerEntry) []AuditCheck {
	checks := make([]AuditCheck, 0, 3)

	checks = append(checks, AuditCheck{
		Name:   "balance_non_negative",
		Passed: !user.Balance.IsNegative(),
		Detail: fmt.Sprintf("balance=%s", user.Balance),
	})

	checks = append(checks, AuditCheck{
		Name:   "ledger_sum",
		Passed: sum.Equal(user.Balance),
		Detail: fmt.Sprintf("balance=%s sum(delta)=%s", user.Balance, sum),
	})

	if len(latest) == 0 {
		checks = append(checks, AuditCheck{
			Name:   "snapshot_parity",
			Passed: user.Balance.IsZero(),
			Detail: "no ledger entries",
		})
		return checks
	}
	checks = append(checks, AuditCheck{
		Name:   "snapshot_parity",
		Passed: latest[0].BalanceAfter.Equal(user.Balance),
		Detail: fmt.Sprintf("balance=%s last_entry=%s", user.Balance, latest[0].BalanceAfter),
	})
	return checks
}
