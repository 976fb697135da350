package domain

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates all domain event types.
type EventType string

const (
	EventBalanceAdjusted         EventType = "escrow.balance.adjusted"
	EventPaymentTransitioned     EventType = "escrow.payment.transitioned"
	EventDealStatusChanged       EventType = "escrow.deal.status_changed"
	EventWithdrawalStatusChanged EventType = "escrow.withdrawal.status_changed"
)

// AggregateType enumerates the aggregate root types for outbox events.
type AggregateType string

const (
	AggregateUser       AggregateType = "user"
	AggregatePayment    AggregateType = "payment"
	AggregateDeal       AggregateType = "deal"
	AggregateWithdrawal AggregateType = "withdrawal"
)

// OutboxDraft is the payload written to the event_outbox table.
type OutboxDraft struct {
	SeqID         int64           `json:"-"`
	EventID       uuid.UUID       `json:"event_id"`
	AggregateType AggregateType   `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     EventType       `json:"event_type"`
	PartitionKey  string          `json:"partition_key"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

func newDraft(agg AggregateType, aggID, partition string, evt EventType, v interface{}) OutboxDraft {
	payload, _ := json.Marshal(v)
	return OutboxDraft{
		EventID:       uuid.New(),
		AggregateType: agg,
		AggregateID:   aggID,
		EventType:     evt,
		PartitionKey:  partition,
		Payload:       payload,
		OccurredAt:    time.Now(),
	}
}

// NewBalanceAdjustedEvent creates the ledger event for a posted entry.
func NewBalanceAdjustedEvent(entry *LedgerEntry) OutboxDraft {
	uid := strconv.FormatInt(entry.UserID, 10)
	return newDraft(AggregateUser, uid, uid, EventBalanceAdjusted, entry)
}

// PaymentTransition is the payload of EventPaymentTransitioned.
type PaymentTransition struct {
	PaymentID string        `json:"payment_id"`
	UserID    int64         `json:"user_id"`
	From      PaymentStatus `json:"from"`
	To        PaymentStatus `json:"to"`
}

// NewPaymentTransitionedEvent records a payment status change.
func NewPaymentTransitionedEvent(p *Payment, from, to PaymentStatus) OutboxDraft {
	return newDraft(AggregatePayment, p.PaymentID, strconv.FormatInt(p.UserID, 10), EventPaymentTransitioned,
		PaymentTransition{PaymentID: p.PaymentID, UserID: p.UserID, From: from, To: to})
}

// NewDealStatusChangedEvent records a deal status change.
func NewDealStatusChangedEvent(d *Deal, from DealStatus) OutboxDraft {
	return newDraft(AggregateDeal, strconv.FormatInt(d.ID, 10), strconv.FormatInt(d.BuyerID, 10), EventDealStatusChanged,
		map[string]interface{}{
			"deal_id":  d.ID,
			"buyer_id": d.BuyerID,
			"from":     from,
			"to":       d.Status,
			"amount":   d.Amount,
		})
}

// NewWithdrawalStatusChangedEvent records a withdrawal status change.
func NewWithdrawalStatusChangedEvent(w *Withdrawal) OutboxDraft {
	return newDraft(AggregateWithdrawal, strconv.FormatInt(w.ID, 10), strconv.FormatInt(w.UserID, 10), EventWithdrawalStatusChanged,
		map[string]interface{}{
			"withdrawal_id": w.ID,
			"user_id":       w.UserID,
			"status":        w.Status,
			"amount":        w.Amount,
		})
}
