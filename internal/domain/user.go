package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is a balance holder, keyed by the messenger-assigned user id.
type User struct {
	ID             int64           `json:"id"`
	Balance        decimal.Decimal `json:"balance"`
	DealsCompleted int             `json:"deals_completed"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
