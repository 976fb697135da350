package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/escrowdesk/platform/internal/domain"
	"github.com/escrowdesk/platform/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentStore_CreateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedPayment(t, "p-1", 7, "100", domain.PaymentStatusPending)

	created, err := f.payments.Create(ctx, &domain.Payment{PaymentID: "p-1", UserID: 99, Amount: dec("1")})
	require.NoError(t, err)
	assert.False(t, created)

	p := f.payment(t, "p-1")
	assert.Equal(t, int64(7), p.UserID, "duplicate create must not overwrite")
	assert.True(t, dec("100").Equal(p.Amount))
	assert.Equal(t, 1, f.store.PaymentCount())
}

func TestPaymentStore_CreateRequiresID(t *testing.T) {
	f := newFixture(t)
	_, err := f.payments.Create(context.Background(), &domain.Payment{UserID: 1})
	assert.True(t, domain.HasCode(err, domain.CodeValidation))
}

func TestPaymentStore_Transition(t *testing.T) {
	tests := []struct {
		name     string
		from     domain.PaymentStatus
		to       domain.PaymentStatus
		outcome  domain.TransitionOutcome
		stored   domain.PaymentStatus
		wantEvts int
	}{
		{"pending to confirming", domain.PaymentStatusPending, domain.PaymentStatusConfirming, domain.TransitionApplied, domain.PaymentStatusConfirming, 1},
		{"pending to confirmed", domain.PaymentStatusPending, domain.PaymentStatusConfirmed, domain.TransitionApplied, domain.PaymentStatusConfirmed, 1},
		{"confirming to expired", domain.PaymentStatusConfirming, domain.PaymentStatusExpired, domain.TransitionApplied, domain.PaymentStatusExpired, 1},
		{"same status", domain.PaymentStatusConfirming, domain.PaymentStatusConfirming, domain.TransitionUnchanged, domain.PaymentStatusConfirming, 0},
		{"backwards", domain.PaymentStatusConfirming, domain.PaymentStatusPending, domain.TransitionRejected, domain.PaymentStatusConfirming, 0},
		{"out of terminal", domain.PaymentStatusConfirmed, domain.PaymentStatusFailed, domain.TransitionRejected, domain.PaymentStatusConfirmed, 0},
		{"expired stays expired", domain.PaymentStatusExpired, domain.PaymentStatusConfirmed, domain.TransitionRejected, domain.PaymentStatusExpired, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seedPayment(t, "p-1", 1, "50", tt.from)

			res, err := f.payments.Transition(context.Background(), "p-1", tt.to)
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, res.Outcome)
			assert.Equal(t, tt.from, res.Previous)
			assert.Equal(t, tt.stored, f.payment(t, "p-1").Status)
			assert.Len(t, f.store.Events(), tt.wantEvts)
		})
	}
}

func TestPaymentStore_TransitionErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.payments.Transition(ctx, "missing", domain.PaymentStatusConfirmed)
	assert.True(t, domain.HasCode(err, domain.CodeUnknownPayment))

	f.seedPayment(t, "p-1", 1, "50", domain.PaymentStatusPending)
	_, err = f.payments.Transition(ctx, "p-1", domain.PaymentStatus("paid"))
	assert.True(t, domain.HasCode(err, domain.CodeValidation))
}

func TestPaymentStore_TransitionRereadsAfterLostRace(t *testing.T) {
	tests := []struct {
		name     string
		sneak    domain.PaymentStatus
		outcome  domain.TransitionOutcome
		previous domain.PaymentStatus
	}{
		{"overtaken by confirming", domain.PaymentStatusConfirming, domain.TransitionApplied, domain.PaymentStatusConfirming},
		{"overtaken by confirmed", domain.PaymentStatusConfirmed, domain.TransitionUnchanged, domain.PaymentStatusConfirmed},
		{"overtaken by expired", domain.PaymentStatusExpired, domain.TransitionRejected, domain.PaymentStatusExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seedPayment(t, "p-1", 1, "50", domain.PaymentStatusPending)

			var once sync.Once
			f.store.BeforeCAS = func(id string) {
				once.Do(func() {
					p := *f.payment(t, id)
					p.Status = tt.sneak
					f.store.PutPayment(p)
				})
			}

			res, err := f.payments.Transition(context.Background(), "p-1", domain.PaymentStatusConfirmed)
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, res.Outcome)
			assert.Equal(t, tt.previous, res.Previous)
		})
	}
}

func TestPaymentStore_TransitionGivesUpWhenStatusKeepsMoving(t *testing.T) {
	f := newFixture(t)
	f.seedPayment(t, "p-1", 1, "50", domain.PaymentStatusPending)

	var flips atomic.Int32
	f.store.BeforeCAS = func(id string) {
		p := *f.payment(t, id)
		if flips.Add(1)%2 == 1 {
			p.Status = domain.PaymentStatusConfirming
		} else {
			p.Status = domain.PaymentStatusPending
		}
		f.store.PutPayment(p)
	}

	_, err := f.payments.Transition(context.Background(), "p-1", domain.PaymentStatusExpired)
	assert.True(t, domain.HasCode(err, domain.CodeConflict))
	assert.Equal(t, int32(maxTransitionRounds), flips.Load())
	assert.Empty(t, f.store.Events())
}

func TestPaymentStore_ConcurrentTransitionsApplyOnce(t *testing.T) {
	f := newFixture(t)
	f.seedPayment(t, "p-1", 1, "50", domain.PaymentStatusPending)

	var applied atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.payments.Transition(context.Background(), "p-1", domain.PaymentStatusConfirmed)
			if err == nil && res.Outcome == domain.TransitionApplied {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), applied.Load())
	assert.Len(t, f.store.Events(), 1)
}

func TestPaymentStore_ListOpen(t *testing.T) {
	f := newFixture(t)
	for i, s := range []domain.PaymentStatus{
		domain.PaymentStatusPending, domain.PaymentStatusConfirming,
		domain.PaymentStatusConfirmed, domain.PaymentStatusExpired,
	} {
		f.seedPayment(t, fmt.Sprintf("p-%d", i), 1, "10", s)
	}

	open, err := f.payments.ListOpen(context.Background(), repository.PaymentCursor{}, 10)
	require.NoError(t, err)
	assert.Len(t, open, 2)
	for _, p := range open {
		assert.False(t, p.Status.IsTerminal())
	}
}

func TestPaymentStore_ListOpenPages(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.seedPayment(t, fmt.Sprintf("p-%d", i), 1, "10", domain.PaymentStatusPending)
	}

	var seen []string
	var after repository.PaymentCursor
	for {
		page, err := f.payments.ListOpen(context.Background(), after, 2)
		require.NoError(t, err)
		for _, p := range page {
			seen = append(seen, p.PaymentID)
		}
		if len(page) < 2 {
			break
		}
		after = repository.After(page[len(page)-1])
	}

	assert.Equal(t, []string{"p-0", "p-1", "p-2", "p-3", "p-4"}, seen, "equal timestamps fall back to payment id")
}
