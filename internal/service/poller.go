package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/escrowdesk/platform/internal/domain"
	"github.com/escrowdesk/platform/internal/infra"
	"github.com/escrowdesk/platform/internal/metrics"
	"github.com/escrowdesk/platform/internal/provider"
	"github.com/escrowdesk/platform/internal/repository"
	"go.uber.org/multierr"
)

// paymentFetcher is the read side of the processor client.
type paymentFetcher interface {
	GetPayment(ctx context.Context, paymentID string) (*provider.PaymentInfo, error)
}

// CycleReport summarizes one poller cycle.
type CycleReport struct {
	Checked   int           `json:"checked"`
	Expired   int           `json:"expired"`
	Updated   int           `json:"updated"`
	Unchanged int           `json:"unchanged"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
	Err       error         `json:"-"`
}

// ReconciliationPoller periodically re-checks open payments with the processor,
// covering lost or delayed webhooks. Payments pending longer than maxPendingAge
// are expired locally without a remote call.
type ReconciliationPoller struct {
	store         *PaymentStore
	processor     paymentFetcher
	reconciler    *Reconciler
	interval      time.Duration
	maxPendingAge time.Duration
	batchSize     int
	callTimeout   time.Duration
	metrics       *metrics.Settlement
	logger        *slog.Logger
	now           func() time.Time
}

// NewReconciliationPoller creates a poller from the MONITOR_* settings.
func NewReconciliationPoller(
	store *PaymentStore,
	processor paymentFetcher,
	reconciler *Reconciler,
	cfg infra.MonitorConfig,
	m *metrics.Settlement,
	logger *slog.Logger,
) *ReconciliationPoller {
	return &ReconciliationPoller{
		store:         store,
		processor:     processor,
		reconciler:    reconciler,
		interval:      cfg.Interval,
		maxPendingAge: cfg.MaxPendingAge,
		batchSize:     cfg.BatchSize,
		callTimeout:   cfg.CallTimeout,
		metrics:       m,
		logger:        logger.With("component", "reconciliation_poller"),
		now:           time.Now,
	}
}

// Run blocks, running one cycle immediately and then one per interval, until
// ctx is cancelled. An in-progress cycle stops between payments.
func (p *ReconciliationPoller) Run(ctx context.Context) error {
	p.logger.Info("reconciliation poller started", "interval", p.interval, "max_pending_age", p.maxPendingAge)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		report := p.RunOnce(ctx)
		if report.Err != nil {
			p.logger.Warn("poller cycle finished with errors",
				"checked", report.Checked, "failed", report.Failed, "error", report.Err)
		}

		select {
		case <-ctx.Done():
			p.logger.Info("reconciliation poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce runs a single cycle over every open payment, fetched in pages of
// batchSize. Per-payment failures are logged and collected in the report;
// they never abort the rest of the cycle.
func (p *ReconciliationPoller) RunOnce(ctx context.Context) (report CycleReport) {
	start := p.now()
	defer p.finish(&report, start)

	limit := p.batchSize
	if limit <= 0 {
		limit = 50
	}

	var after repository.PaymentCursor
	for {
		payments, err := p.store.ListOpen(ctx, after, limit)
		if err != nil {
			report.Err = multierr.Append(report.Err, fmt.Errorf("list open payments: %w", err))
			return report
		}

		for i := range payments {
			if ctx.Err() != nil {
				p.logger.Info("poller cycle interrupted", "checked", report.Checked)
				return report
			}
			p.check(ctx, &payments[i], &report)
		}

		if len(payments) < limit {
			return report
		}
		after = repository.After(payments[len(payments)-1])
	}
}

func (p *ReconciliationPoller) check(ctx context.Context, payment *domain.Payment, report *CycleReport) {
	report.Checked++

	action, err := p.checkPayment(ctx, payment)
	p.metrics.PollerPayment(action)
	switch action {
	case "expired":
		report.Expired++
	case "updated":
		report.Updated++
	case "unchanged":
		report.Unchanged++
	}
	if err != nil {
		report.Failed++
		report.Err = multierr.Append(report.Err, fmt.Errorf("payment %s: %w", payment.PaymentID, err))
		p.logger.Error("poller: payment check failed",
			"payment_id", payment.PaymentID, "user_id", payment.UserID, "error", err)
	}
}

func (p *ReconciliationPoller) finish(report *CycleReport, start time.Time) {
	end := p.now()
	report.Duration = end.Sub(start)
	p.metrics.PollerCycle(report.Err == nil, report.Duration, end)
	p.logger.Info("poller cycle complete",
		"checked", report.Checked, "expired", report.Expired, "updated", report.Updated,
		"unchanged", report.Unchanged, "failed", report.Failed, "duration", report.Duration)
}

// checkPayment returns the action taken: expired, updated, unchanged or failed.
func (p *ReconciliationPoller) checkPayment(ctx context.Context, payment *domain.Payment) (action string, err error) {
	defer func() {
		if r := recover(); r != nil {
			action, err = "failed", fmt.Errorf("panic: %v", r)
		}
	}()

	if payment.Status == domain.PaymentStatusPending && payment.Age(p.now()) > p.maxPendingAge {
		res, err := p.reconciler.Apply(ctx, payment.PaymentID, domain.PaymentStatusExpired, SourcePoller)
		if err != nil {
			return "failed", err
		}
		if res.Outcome == domain.TransitionApplied {
			p.logger.Info("payment expired", "payment_id", payment.PaymentID, "age", payment.Age(p.now()))
			return "expired", nil
		}
		return "unchanged", nil
	}

	callCtx := ctx
	if p.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.callTimeout)
		defer cancel()
	}

	info, err := p.processor.GetPayment(callCtx, payment.PaymentID)
	if err != nil {
		return "failed", err
	}

	res, err := p.reconciler.Apply(ctx, payment.PaymentID, info.Status, SourcePoller)
	if err != nil {
		return "failed", err
	}
	if res.Outcome == domain.TransitionApplied {
		return "updated", nil
	}
	return "unchanged", nil
}
