package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DealStatus tracks the escrow deal lifecycle.
type DealStatus string

const (
	DealStatusWaiting   DealStatus = "waiting"
	DealStatusActive    DealStatus = "active"
	DealStatusCompleted DealStatus = "completed"
	DealStatusCancelled DealStatus = "cancelled"
	DealStatusDisputed  DealStatus = "disputed"
	DealStatusArchived  DealStatus = "archived"
)

var dealTransitions = map[DealStatus][]DealStatus{
	DealStatusWaiting:   {DealStatusActive, DealStatusDisputed, DealStatusCompleted, DealStatusCancelled},
	DealStatusActive:    {DealStatusDisputed, DealStatusCompleted},
	DealStatusDisputed:  {DealStatusCompleted, DealStatusCancelled},
	DealStatusCompleted: {DealStatusArchived},
	DealStatusCancelled: {DealStatusArchived},
}

// IsTerminal reports whether no user-driven transition leaves s.
// Completed and cancelled deals may still be archived by housekeeping.
func (s DealStatus) IsTerminal() bool {
	switch s {
	case DealStatusCompleted, DealStatusCancelled, DealStatusArchived:
		return true
	}
	return false
}

// CanTransitionTo reports whether s -> next is a legal edge.
func (s DealStatus) CanTransitionTo(next DealStatus) bool {
	for _, allowed := range dealTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Resolution is an admin's verdict on a disputed deal.
type Resolution string

const (
	ResolutionRefundBuyer Resolution = "refund_buyer"
	ResolutionPaySeller   Resolution = "pay_seller"
)

// ParseResolution validates a resolution value.
func ParseResolution(s string) (Resolution, error) {
	switch r := Resolution(s); r {
	case ResolutionRefundBuyer, ResolutionPaySeller:
		return r, nil
	}
	return "", fmt.Errorf("unknown resolution %q", s)
}

// Deal represents an escrow deal between a managed buyer and an external seller.
type Deal struct {
	ID            int64           `json:"id"`
	BuyerID       int64           `json:"buyer_id"`
	SellerHandle  string          `json:"seller_handle"`
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
	Fee           decimal.Decimal `json:"fee"`
	Status        DealStatus      `json:"status"`
	DisputeReason *string         `json:"dispute_reason,omitempty"`
	AdminNotes    *string         `json:"admin_notes,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// DealUpdate carries the columns changed by a deal status transition.
type DealUpdate struct {
	Status        DealStatus
	DisputeReason *string
	AdminNotes    *string
	CompletedAt   *time.Time
}
