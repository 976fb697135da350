package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/escrowdesk/platform/internal/domain"
	"github.com/shopspring/decimal"
)

// BalanceProjection is a read-optimized copy of a user's balance.
type BalanceProjection struct {
	UserID      int64           `json:"user_id"`
	Balance     decimal.Decimal `json:"balance"`
	LastEntryID int64           `json:"last_entry_id"`
	UpdatedAt   string          `json:"updated_at"`
}

const balanceTTL = 24 * time.Hour

func balanceKey(userID int64) string {
	return "projection:balance:" + strconv.FormatInt(userID, 10)
}

// UpdateBalance caches a user's balance projection.
func UpdateBalance(ctx context.Context, store Store, p BalanceProjection) error {
	p.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return SetJSON(ctx, store, balanceKey(p.UserID), p, balanceTTL)
}

// GetBalance retrieves a cached balance projection.
func GetBalance(ctx context.Context, store Store, userID int64) (*BalanceProjection, error) {
	var p BalanceProjection
	if err := GetJSON(ctx, store, balanceKey(userID), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// InvalidateBalance removes a user's cached balance.
func InvalidateBalance(ctx context.Context, store Store, userID int64) error {
	return store.Delete(ctx, balanceKey(userID))
}

// ApplyBalanceEvent folds a balance.adjusted event into the projection.
// Events older than the stored entry are ignored, so redelivery is harmless.
// It reports whether the projection changed; other event types are skipped.
func ApplyBalanceEvent(ctx context.Context, store Store, evt domain.OutboxDraft) (bool, error) {
	if evt.EventType != domain.EventBalanceAdjusted {
		return false, nil
	}

	var entry domain.LedgerEntry
	if err := json.Unmarshal(evt.Payload, &entry); err != nil {
		return false, fmt.Errorf("decode balance event %s: %w", evt.EventID, err)
	}

	current, err := GetBalance(ctx, store, entry.UserID)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return false, err
	case current.LastEntryID >= entry.ID:
		return false, nil
	}

	err = UpdateBalance(ctx, store, BalanceProjection{
		UserID:      entry.UserID,
		Balance:     entry.BalanceAfter,
		LastEntryID: entry.ID,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
