package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus tracks the payment lifecycle.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusConfirming PaymentStatus = "confirming"
	PaymentStatusConfirmed  PaymentStatus = "confirmed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
	PaymentStatusExpired    PaymentStatus = "expired"
)

// TerminalPaymentStatuses lists statuses from which no transition is allowed.
var TerminalPaymentStatuses = []PaymentStatus{
	PaymentStatusConfirmed,
	PaymentStatusFailed,
	PaymentStatusCancelled,
	PaymentStatusExpired,
}

// Valid reports whether s is one of the known statuses.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusConfirming, PaymentStatusConfirmed,
		PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusExpired:
		return true
	}
	return false
}

// IsTerminal reports whether s is final.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusConfirmed, PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusExpired:
		return true
	}
	return false
}

// CanTransitionTo reports whether s -> next is a legal edge.
// Transitions only move forward: pending -> confirming -> terminal.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	if !next.Valid() || s == next || s.IsTerminal() {
		return false
	}
	switch s {
	case PaymentStatusPending:
		return true
	case PaymentStatusConfirming:
		return next.IsTerminal()
	}
	return false
}

// processorStatuses maps NOWPayments status strings onto internal statuses.
var processorStatuses = map[string]PaymentStatus{
	"waiting":        PaymentStatusPending,
	"pending":        PaymentStatusPending,
	"confirming":     PaymentStatusConfirming,
	"sending":        PaymentStatusConfirming,
	"partially_paid": PaymentStatusConfirming,
	"confirmed":      PaymentStatusConfirmed,
	"finished":       PaymentStatusConfirmed,
	"failed":         PaymentStatusFailed,
	"refunded":       PaymentStatusFailed,
	"cancelled":      PaymentStatusCancelled,
	"expired":        PaymentStatusExpired,
}

// ParseProcessorStatus normalizes a status reported by the processor.
func ParseProcessorStatus(raw string) (PaymentStatus, bool) {
	s, ok := processorStatuses[raw]
	return s, ok
}

// TransitionOutcome is the result of a guarded status transition.
type TransitionOutcome int

const (
	// TransitionApplied means this caller performed the update.
	TransitionApplied TransitionOutcome = iota
	// TransitionUnchanged means the stored status already equalled the target.
	TransitionUnchanged
	// TransitionRejected means the stored status is terminal or the edge is illegal.
	TransitionRejected
)

func (o TransitionOutcome) String() string {
	switch o {
	case TransitionApplied:
		return "applied"
	case TransitionUnchanged:
		return "unchanged"
	case TransitionRejected:
		return "rejected"
	}
	return "unknown"
}

// Payment represents a payments table row.
type Payment struct {
	PaymentID  string          `json:"payment_id"`
	UserID     int64           `json:"user_id"`
	Amount     decimal.Decimal `json:"amount"`
	Fee        decimal.Decimal `json:"fee"`
	Currency   string          `json:"currency"`
	InvoiceURL string          `json:"invoice_url"`
	OrderID    string          `json:"order_id"`
	Status     PaymentStatus   `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	ArchivedAt *time.Time      `json:"archived_at,omitempty"`
}

// Age returns how long ago the payment was created.
func (p *Payment) Age(now time.Time) time.Duration {
	return now.Sub(p.CreatedAt)
}

// PaymentNotification is the normalized form of a processor status report,
// whichever source (webhook push or status poll) produced it.
type PaymentNotification struct {
	PaymentID string        `json:"payment_id"`
	Status    PaymentStatus `json:"status"`
	RawStatus string        `json:"raw_status"`
}
