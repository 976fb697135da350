package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/escrowdesk/platform/internal/domain"
	"github.com/escrowdesk/platform/internal/infra"
	"github.com/escrowdesk/platform/internal/ledger"
	"github.com/escrowdesk/platform/internal/projection"
	"github.com/escrowdesk/platform/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

const (
	stuckDealSampleSize = 20
	recentEntryCount    = 20
)

// adminLedger is the subset of ledger.Engine used for corrections and audits.
type adminLedger interface {
	balanceLedger
	Audit(ctx context.Context, userID int64) (*ledger.AuditReport, error)
}

// AdminService backs the operator surface: statistics, health, housekeeping
// and manual balance corrections.
type AdminService struct {
	db          repository.DBTX
	users       repository.UserRepository
	entries     repository.LedgerEntryRepository
	payments    repository.PaymentRepository
	withdrawals repository.WithdrawalRepository
	deals       repository.DealRepository
	ledger      adminLedger
	projections projection.Store
	ping        func(ctx context.Context) error
	monitor     infra.MonitorConfig
	logger      *slog.Logger
	now         func() time.Time
}

// NewAdminService creates an AdminService. projections and ping may be nil.
func NewAdminService(
	db repository.DBTX,
	users repository.UserRepository,
	entries repository.LedgerEntryRepository,
	payments repository.PaymentRepository,
	withdrawals repository.WithdrawalRepository,
	deals repository.DealRepository,
	ledger adminLedger,
	projections projection.Store,
	ping func(ctx context.Context) error,
	monitor infra.MonitorConfig,
	logger *slog.Logger,
) *AdminService {
	return &AdminService{
		db:          db,
		users:       users,
		entries:     entries,
		payments:    payments,
		withdrawals: withdrawals,
		deals:       deals,
		ledger:      ledger,
		projections: projections,
		ping:        ping,
		monitor:     monitor,
		logger:      logger,
		now:         time.Now,
	}
}

// Stats is the platform overview shown to operators.
type Stats struct {
	Users              int64                          `json:"users"`
	TotalBalance       decimal.Decimal                `json:"total_balance"`
	Deals              map[domain.DealStatus]int64    `json:"deals"`
	Payments           map[domain.PaymentStatus]int64 `json:"payments"`
	PendingWithdrawals int64                          `json:"pending_withdrawals"`
	PendingAmount      decimal.Decimal                `json:"pending_withdrawal_amount"`
}

// Stats collects counts and sums across users, deals, payments and withdrawals.
func (s *AdminService) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	var err error

	if st.Users, st.TotalBalance, err = s.users.Summary(ctx, s.db); err != nil {
		return nil, internal("user summary", err)
	}
	if st.Deals, err = s.deals.CountByStatus(ctx, s.db); err != nil {
		return nil, internal("count deals", err)
	}
	if st.Payments, err = s.payments.CountByStatus(ctx, s.db); err != nil {
		return nil, internal("count payments", err)
	}
	if st.PendingWithdrawals, st.PendingAmount, err = s.withdrawals.PendingSummary(ctx, s.db); err != nil {
		return nil, internal("withdrawal summary", err)
	}
	return &st, nil
}

// SystemHealth reports conditions that need operator attention.
type SystemHealth struct {
	Healthy         bool          `json:"healthy"`
	Database        string        `json:"database"`
	StuckDeals      []domain.Deal `json:"stuck_deals"`
	StalePayments   int64         `json:"stale_pending_payments"`
	Issues          []string      `json:"issues"`
	CheckedAt       time.Time     `json:"checked_at"`
	StuckDealCutoff time.Time     `json:"stuck_deal_cutoff"`
}

// SystemHealth checks database reachability, deals stuck in waiting or active
// and payments pending beyond the maximum age.
func (s *AdminService) SystemHealth(ctx context.Context) (*SystemHealth, error) {
	now := s.now()
	h := &SystemHealth{
		Healthy:         true,
		Database:        "ok",
		CheckedAt:       now,
		StuckDealCutoff: now.Add(-s.monitor.StuckDealAge),
		Issues:          []string{},
	}

	if s.ping != nil {
		if err := s.ping(ctx); err != nil {
			s.logger.Error("admin health: database unreachable", "error", err)
			h.Healthy = false
			h.Database = "unreachable"
			h.Issues = append(h.Issues, "database unreachable")
			return h, nil
		}
	}

	stuck, err := s.deals.ListStuck(ctx, s.db, h.StuckDealCutoff, stuckDealSampleSize)
	if err != nil {
		return nil, internal("list stuck deals", err)
	}
	h.StuckDeals = stuck
	if len(stuck) > 0 {
		h.Healthy = false
		h.Issues = append(h.Issues, fmt.Sprintf("%d deals without progress for over %s", len(stuck), s.monitor.StuckDealAge))
	}

	stale, err := s.payments.CountPendingBefore(ctx, s.db, now.Add(-s.monitor.MaxPendingAge))
	if err != nil {
		return nil, internal("count stale payments", err)
	}
	h.StalePayments = stale
	if stale > 0 {
		h.Healthy = false
		h.Issues = append(h.Issues, fmt.Sprintf("%d payments pending for over %s", stale, s.monitor.MaxPendingAge))
	}

	return h, nil
}

// CleanupReport counts the rows archived by Cleanup.
type CleanupReport struct {
	DealsArchived    int64     `json:"deals_archived"`
	PaymentsArchived int64     `json:"payments_archived"`
	Cutoff           time.Time `json:"cutoff"`
}

// Cleanup archives finished deals and terminal payments older than the
// retention window. Both steps run even if one fails.
func (s *AdminService) Cleanup(ctx context.Context) (*CleanupReport, error) {
	report := &CleanupReport{Cutoff: s.now().Add(-s.monitor.RetentionWindow)}

	var errs error
	n, err := s.deals.ArchiveFinishedBefore(ctx, s.db, report.Cutoff)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("archive deals: %w", err))
	}
	report.DealsArchived = n

	n, err = s.payments.ArchiveTerminalBefore(ctx, s.db, report.Cutoff)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("archive payments: %w", err))
	}
	report.PaymentsArchived = n

	s.logger.Info("cleanup complete",
		"deals_archived", report.DealsArchived, "payments_archived", report.PaymentsArchived,
		"cutoff", report.Cutoff, "errors", len(multierr.Errors(errs)))
	if errs != nil {
		return report, domain.ErrInternal("cleanup", errs)
	}
	return report, nil
}

// AdjustBalance applies a manual correction. A reason is mandatory and is
// stored as the ledger entry reference together with the operator.
func (s *AdminService) AdjustBalance(ctx context.Context, operator string, userID int64, delta decimal.Decimal, reason string) (*domain.AdjustResult, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.ErrValidation("a reason is required for balance corrections")
	}
	if delta.IsZero() {
		return nil, domain.ErrValidation("correction amount must not be zero")
	}
	if !delta.Equal(delta.Round(2)) {
		return nil, domain.ErrValidation("correction amount has more than 2 decimal places")
	}

	res, err := s.ledger.Adjust(ctx, domain.AdjustParams{
		UserID:    userID,
		Delta:     delta,
		Reason:    domain.ReasonAdminCorrection,
		Reference: fmt.Sprintf("%s: %s", operator, reason),
	})
	if err != nil {
		s.logger.Warn("admin correction failed", "operator", operator, "user_id", userID, "delta", delta.String(), "error", err)
		return nil, err
	}

	s.logger.Info("admin balance correction",
		"operator", operator, "user_id", userID, "delta", delta.String(),
		"balance", res.Balance.String(), "reason", reason)
	return res, nil
}

// UserDetail is the operator view of a single user.
type UserDetail struct {
	User      *domain.User                  `json:"user"`
	Entries   []domain.LedgerEntry          `json:"recent_entries"`
	Audit     *ledger.AuditReport           `json:"audit"`
	Projected *projection.BalanceProjection `json:"projected_balance,omitempty"`
}

// UserDetail returns a user with recent ledger entries, an audit of the
// balance and the cached projection when one exists.
func (s *AdminService) UserDetail(ctx context.Context, userID int64) (*UserDetail, error) {
	user, err := s.users.FindByID(ctx, s.db, userID)
	if err != nil {
		return nil, internal("find user", err)
	}
	if user == nil {
		return nil, domain.ErrNotFound("user", fmt.Sprint(userID))
	}

	entries, err := s.entries.ListByUser(ctx, s.db, userID, recentEntryCount)
	if err != nil {
		return nil, internal("list ledger entries", err)
	}

	report, err := s.ledger.Audit(ctx, userID)
	if err != nil {
		return nil, internal("audit user", err)
	}

	detail := &UserDetail{User: user, Entries: entries, Audit: report}
	if s.projections != nil {
		p, err := projection.GetBalance(ctx, s.projections, userID)
		switch {
		case err == nil:
			detail.Projected = p
		case !errors.Is(err, projection.ErrNotFound):
			s.logger.Warn("balance projection unavailable", "user_id", userID, "error", err)
		}
	}
	return detail, nil
}
