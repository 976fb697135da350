package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/escrowdesk/platform/internal/domain"
	"github.com/escrowdesk/platform/internal/infra"
	"github.com/escrowdesk/platform/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// txLedger adjusts balances inside a caller's transaction.
type txLedger interface {
	RequireFunds(ctx context.Context, tx pgx.Tx, userID int64, amount decimal.Decimal) error
	AdjustTx(ctx context.Context, tx pgx.Tx, params domain.AdjustParams) (*domain.AdjustResult, error)
}

// DealService runs the escrow deal lifecycle. Creating a deal holds the amount
// from the buyer's balance; only a refund moves it back.
type DealService struct {
	db     repository.DBTX
	tx     repository.Transactor
	deals  repository.DealRepository
	users  repository.UserRepository
	outbox repository.OutboxRepository
	ledger txLedger
	limits infra.Limits
	logger *slog.Logger
	now    func() time.Time
}

// NewDealService creates a DealService.
func NewDealService(
	db repository.DBTX,
	tx repository.Transactor,
	deals repository.DealRepository,
	users repository.UserRepository,
	outbox repository.OutboxRepository,
	ledger txLedger,
	limits infra.Limits,
	logger *slog.Logger,
) *DealService {
	return &DealService{
		db:     db,
		tx:     tx,
		deals:  deals,
		users:  users,
		outbox: outbox,
		ledger: ledger,
		limits: limits,
		logger: logger,
		now:    time.Now,
	}
}

// CreateDealInput holds the buyer's request.
type CreateDealInput struct {
	BuyerID      int64
	SellerHandle string
	Description  string
	Amount       decimal.Decimal
}

// Create debits the buyer and records a waiting deal in one transaction.
// Insufficient funds leave nothing behind.
func (s *DealService) Create(ctx context.Context, in CreateDealInput) (*domain.Deal, error) {
	if err := domain.ValidatePositiveAmount(in.Amount); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	if err := domain.ValidateSellerHandle(in.SellerHandle); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	if err := domain.ValidateDescription(in.Description); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}

	deal := &domain.Deal{
		BuyerID:      in.BuyerID,
		SellerHandle: normalizeHandle(in.SellerHandle),
		Description:  strings.TrimSpace(in.Description),
		Amount:       in.Amount,
		Fee:          domain.CalculateFee(in.Amount, s.limits.EscrowFeePercent),
		Status:       domain.DealStatusWaiting,
	}

	err := s.tx.InTx(ctx, func(tx pgx.Tx) error {
		// deals.buyer_id references users, so an unknown buyer must fail here
		if err := s.ledger.RequireFunds(ctx, tx, in.BuyerID, in.Amount); err != nil {
			return err
		}
		if err := s.deals.Create(ctx, tx, deal); err != nil {
			return internal("create deal", err)
		}
		if _, err := s.ledger.AdjustTx(ctx, tx, domain.AdjustParams{
			UserID:    in.BuyerID,
			Delta:     in.Amount.Neg(),
			Reason:    domain.ReasonEscrowHold,
			Reference: dealRef(deal.ID),
		}); err != nil {
			return err
		}
		if err := s.outbox.Insert(ctx, tx, domain.NewDealStatusChangedEvent(deal, "")); err != nil {
			return internal("record deal event", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("deal created", "deal_id", deal.ID, "buyer_id", deal.BuyerID,
		"seller", deal.SellerHandle, "amount", deal.Amount.String())
	return deal, nil
}

// Activate marks a waiting deal as acknowledged by the seller.
func (s *DealService) Activate(ctx context.Context, dealID int64) (*domain.Deal, error) {
	return s.changeStatus(ctx, dealID, dealChange{
		from:   []domain.DealStatus{domain.DealStatusWaiting},
		update: domain.DealUpdate{Status: domain.DealStatusActive},
	})
}

// Dispute flags a waiting or active deal for admin review.
func (s *DealService) Dispute(ctx context.Context, dealID int64, reason string) (*domain.Deal, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.ErrValidation("dispute reason is required")
	}
	if len([]rune(reason)) > domain.MaxDescriptionLength {
		return nil, domain.ErrValidation(fmt.Sprintf("dispute reason exceeds %d characters", domain.MaxDescriptionLength))
	}
	return s.changeStatus(ctx, dealID, dealChange{
		from:   []domain.DealStatus{domain.DealStatusWaiting, domain.DealStatusActive},
		update: domain.DealUpdate{Status: domain.DealStatusDisputed, DisputeReason: &reason},
	})
}

// Resolve settles a disputed deal. refund_buyer returns the held amount to the
// buyer and cancels the deal; pay_seller completes it with no ledger movement,
// the payout to the seller happening outside the system.
func (s *DealService) Resolve(ctx context.Context, dealID int64, resolution domain.Resolution, notes string) (*domain.Deal, error) {
	var notesPtr *string
	if n := strings.TrimSpace(notes); n != "" {
		notesPtr = &n
	}
	from := []domain.DealStatus{domain.DealStatusDisputed}

	switch resolution {
	case domain.ResolutionRefundBuyer:
		return s.changeStatus(ctx, dealID, dealChange{
			from:   from,
			update: domain.DealUpdate{Status: domain.DealStatusCancelled, AdminNotes: notesPtr},
			effect: s.refundBuyer,
		})
	case domain.ResolutionPaySeller:
		now := s.now()
		return s.changeStatus(ctx, dealID, dealChange{
			from:   from,
			update: domain.DealUpdate{Status: domain.DealStatusCompleted, AdminNotes: notesPtr, CompletedAt: &now},
			effect: s.countCompletion,
		})
	}
	return nil, domain.ErrValidation(fmt.Sprintf("unknown resolution %q", resolution))
}

// Complete is the buyer releasing the deal. No ledger movement.
func (s *DealService) Complete(ctx context.Context, dealID, buyerID int64) (*domain.Deal, error) {
	now := s.now()
	return s.changeStatus(ctx, dealID, dealChange{
		actor:  &buyerID,
		from:   []domain.DealStatus{domain.DealStatusWaiting, domain.DealStatusActive},
		update: domain.DealUpdate{Status: domain.DealStatusCompleted, CompletedAt: &now},
		effect: s.countCompletion,
	})
}

// Cancel withdraws a deal the seller has not yet acknowledged and refunds the buyer.
func (s *DealService) Cancel(ctx context.Context, dealID, buyerID int64) (*domain.Deal, error) {
	return s.changeStatus(ctx, dealID, dealChange{
		actor:  &buyerID,
		from:   []domain.DealStatus{domain.DealStatusWaiting},
		update: domain.DealUpdate{Status: domain.DealStatusCancelled},
		effect: s.refundBuyer,
	})
}

// Get returns a deal.
func (s *DealService) Get(ctx context.Context, dealID int64) (*domain.Deal, error) {
	d, err := s.deals.FindByID(ctx, s.db, dealID)
	if err != nil {
		return nil, internal("find deal", err)
	}
	if d == nil {
		return nil, domain.ErrNotFound("deal", fmt.Sprint(dealID))
	}
	return d, nil
}

// ListByBuyer returns a buyer's deals, newest first.
func (s *DealService) ListByBuyer(ctx context.Context, buyerID int64, limit int) ([]domain.Deal, error) {
	deals, err := s.deals.ListByBuyer(ctx, s.db, buyerID, limit)
	if err != nil {
		return nil, internal("list deals", err)
	}
	return deals, nil
}

// ListDisputed returns disputed deals, longest waiting first.
func (s *DealService) ListDisputed(ctx context.Context, limit int) ([]domain.Deal, error) {
	deals, err := s.deals.ListByStatus(ctx, s.db, domain.DealStatusDisputed, limit)
	if err != nil {
		return nil, internal("list disputed deals", err)
	}
	return deals, nil
}

type dealChange struct {
	actor  *int64
	from   []domain.DealStatus
	update domain.DealUpdate
	effect func(ctx context.Context, tx pgx.Tx, d *domain.Deal) error
}

// changeStatus locks the deal, checks the source status, applies the update and
// its side effect, and records the event, all in one transaction.
func (s *DealService) changeStatus(ctx context.Context, dealID int64, ch dealChange) (*domain.Deal, error) {
	var updated *domain.Deal
	var previous domain.DealStatus

	err := s.tx.InTx(ctx, func(tx pgx.Tx) error {
		d, err := s.deals.LockForUpdate(ctx, tx, dealID)
		if err != nil {
			return internal("lock deal", err)
		}
		if d == nil {
			return domain.ErrNotFound("deal", fmt.Sprint(dealID))
		}
		if ch.actor != nil && *ch.actor != d.BuyerID {
			return domain.ErrForbidden("only the buyer can change this deal")
		}
		if !statusIn(d.Status, ch.from) || !d.Status.CanTransitionTo(ch.update.Status) {
			return domain.ErrInvalidState("deal", fmt.Sprint(dealID), string(d.Status))
		}
		previous = d.Status

		updated, err = s.deals.Update(ctx, tx, dealID, ch.update)
		if err != nil {
			return internal("update deal", err)
		}
		if ch.effect != nil {
			if err := ch.effect(ctx, tx, updated); err != nil {
				return err
			}
		}
		if err := s.outbox.Insert(ctx, tx, domain.NewDealStatusChangedEvent(updated, previous)); err != nil {
			return internal("record deal event", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("deal status changed", "deal_id", dealID, "from", previous, "to", updated.Status)
	return updated, nil
}

func (s *DealService) refundBuyer(ctx context.Context, tx pgx.Tx, d *domain.Deal) error {
	_, err := s.ledger.AdjustTx(ctx, tx, domain.AdjustParams{
		UserID:    d.BuyerID,
		Delta:     d.Amount,
		Reason:    domain.ReasonEscrowRefund,
		Reference: dealRef(d.ID),
	})
	return err
}

func (s *DealService) countCompletion(ctx context.Context, tx pgx.Tx, d *domain.Deal) error {
	if err := s.users.IncrementDealsCompleted(ctx, tx, d.BuyerID); err != nil {
		return internal("count completed deal", err)
	}
	return nil
}

func statusIn(s domain.DealStatus, set []domain.DealStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func normalizeHandle(h string) string {
	h = strings.TrimSpace(h)
	if !strings.HasPrefix(h, "@") {
		h = "@" + h
	}
	return h
}

func dealRef(id int64) string { return fmt.Sprintf("deal:%d", id) }
