package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryReason classifies a ledger entry.
type EntryReason string

const (
	ReasonDeposit          EntryReason = "deposit"
	ReasonWithdrawal       EntryReason = "withdrawal"
	ReasonWithdrawalRefund EntryReason = "withdrawal_refund"
	ReasonEscrowHold       EntryReason = "escrow_hold"
	ReasonEscrowRefund     EntryReason = "escrow_refund"
	ReasonAdminCorrection  EntryReason = "admin_correction"
)

// AdjustParams describes a single balance mutation.
type AdjustParams struct {
	UserID    int64
	Delta     decimal.Decimal
	Reason    EntryReason
	Reference string
}

// LedgerEntry is an append-only record of a successful adjustment.
type LedgerEntry struct {
	ID           int64           `json:"id"`
	UserID       int64           `json:"user_id"`
	Delta        decimal.Decimal `json:"delta"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Reason       EntryReason     `json:"reason"`
	Reference    string          `json:"reference"`
	CreatedAt    time.Time       `json:"created_at"`
}

// AdjustResult is returned by the ledger after a successful adjustment.
type AdjustResult struct {
	Balance decimal.Decimal
	Entry   *LedgerEntry
}
