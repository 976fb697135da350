package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/escrowdesk/platform/internal/domain"
	"github.com/escrowdesk/platform/internal/repository/memrepo"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestEngine() (*Engine, *memrepo.Store) {
	store := memrepo.New()
	return NewEngine(store, store.Users(), store.Entries(), store.Outbox()), store
}

func TestAdjust_CreditCreatesUser(t *testing.T) {
	engine, store := newTestEngine()

	res, err := engine.Adjust(context.Background(), domain.AdjustParams{
		UserID: 42, Delta: dec("50"), Reason: domain.ReasonDeposit, Reference: "5077125051",
	})
	require.NoError(t, err)
	assert.True(t, dec("50").Equal(res.Balance))
	assert.True(t, dec("50").Equal(store.Balance(42)))

	entries := store.LedgerEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ReasonDeposit, entries[0].Reason)
	assert.Equal(t, "5077125051", entries[0].Reference)
	assert.True(t, dec("50").Equal(entries[0].BalanceAfter))

	events := store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventBalanceAdjusted, events[0].EventType)
}

func TestAdjust_Validation(t *testing.T) {
	engine, store := newTestEngine()

	_, err := engine.Adjust(context.Background(), domain.AdjustParams{UserID: 1, Delta: decimal.Zero, Reason: domain.ReasonDeposit})
	assert.True(t, domain.HasCode(err, domain.CodeValidation))

	_, err = engine.Adjust(context.Background(), domain.AdjustParams{UserID: 1, Delta: dec("1")})
	assert.True(t, domain.HasCode(err, domain.CodeValidation))

	assert.Empty(t, store.LedgerEntries())
}

func TestAdjust_Debit(t *testing.T) {
	tests := []struct {
		name        string
		seed        string
		delta       string
		wantBalance string
		wantErr     string
	}{
		{"exact balance", "100", "-100", "0", ""},
		{"partial", "100", "-40.5", "59.5", ""},
		{"overdraw", "100", "-100.01", "100", domain.CodeInsufficientFunds},
		{"empty account", "0", "-1", "0", domain.CodeInsufficientFunds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, store := newTestEngine()
			store.SetBalance(7, dec(tt.seed))

			_, err := engine.Adjust(context.Background(), domain.AdjustParams{
				UserID: 7, Delta: dec(tt.delta), Reason: domain.ReasonWithdrawal,
			})
			if tt.wantErr != "" {
				assert.True(t, domain.HasCode(err, tt.wantErr), "got %v", err)
				assert.Empty(t, store.LedgerEntries())
				assert.Empty(t, store.Events())
			} else {
				require.NoError(t, err)
			}
			assert.True(t, dec(tt.wantBalance).Equal(store.Balance(7)), "balance %s", store.Balance(7))
		})
	}
}

func TestAdjust_DebitUnknownUser(t *testing.T) {
	engine, store := newTestEngine()

	_, err := engine.Adjust(context.Background(), domain.AdjustParams{
		UserID: 99, Delta: dec("-5"), Reason: domain.ReasonWithdrawal,
	})
	assert.True(t, domain.HasCode(err, domain.CodeInsufficientFunds))

	user, err := engine.Balance(context.Background(), nil, 99)
	require.NoError(t, err)
	assert.True(t, user.Balance.IsZero())

	stored, err := store.Users().FindByID(context.Background(), nil, 99)
	require.NoError(t, err)
	assert.Nil(t, stored, "a failed debit must not create the user")
}

func TestRequireFunds(t *testing.T) {
	engine, store := newTestEngine()
	store.SetBalance(7, dec("20"))

	tests := []struct {
		name    string
		userID  int64
		amount  string
		wantErr bool
	}{
		{"covered", 7, "15", false},
		{"exact balance", 7, "20", false},
		{"short", 7, "20.01", true},
		{"unknown user", 404, "1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.InTx(context.Background(), func(tx pgx.Tx) error {
				return engine.RequireFunds(context.Background(), tx, tt.userID, dec(tt.amount))
			})
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.True(t, domain.HasCode(err, domain.CodeInsufficientFunds), "got %v", err)
		})
	}

	assert.True(t, dec("20").Equal(store.Balance(7)), "the check never moves money")
	assert.Empty(t, store.LedgerEntries())
}

func TestAdjust_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	engine, store := newTestEngine()
	store.SetBalance(1, dec("100"))

	const workers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Adjust(context.Background(), domain.AdjustParams{
				UserID: 1, Delta: dec("-10"), Reason: domain.ReasonEscrowHold,
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.True(t, domain.HasCode(err, domain.CodeInsufficientFunds))
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.True(t, store.Balance(1).IsZero())
	assert.Len(t, store.LedgerEntries(), 10)
}

func TestAdjust_ConcurrentMixedSumsExactly(t *testing.T) {
	engine, store := newTestEngine()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := engine.Adjust(context.Background(), domain.AdjustParams{UserID: 3, Delta: dec("2.5"), Reason: domain.ReasonDeposit})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, _ = engine.Adjust(context.Background(), domain.AdjustParams{UserID: 3, Delta: dec("-1"), Reason: domain.ReasonWithdrawal})
		}()
	}
	wg.Wait()

	sum := decimal.Zero
	for _, e := range store.LedgerEntries() {
		sum = sum.Add(e.Delta)
	}
	assert.True(t, sum.Equal(store.Balance(3)))
	assert.False(t, store.Balance(3).IsNegative())
}

func TestAudit(t *testing.T) {
	engine, store := newTestEngine()
	ctx := context.Background()

	_, err := engine.Audit(ctx, 5)
	assert.True(t, domain.HasCode(err, domain.CodeNotFound))

	_, err = engine.Adjust(ctx, domain.AdjustParams{UserID: 5, Delta: dec("30"), Reason: domain.ReasonDeposit})
	require.NoError(t, err)
	_, err = engine.Adjust(ctx, domain.AdjustParams{UserID: 5, Delta: dec("-12.5"), Reason: domain.ReasonEscrowHold})
	require.NoError(t, err)

	report, err := engine.Audit(ctx, 5)
	require.NoError(t, err)
	assert.True(t, report.AllPassed)
	assert.Equal(t, int64(2), report.EntryCount)
	assert.True(t, dec("17.5").Equal(report.Balance))

	// Drift the row away from the ledger.
	store.SetBalance(5, dec("20"))
	report, err = engine.Audit(ctx, 5)
	require.NoError(t, err)
	assert.False(t, report.AllPassed)
}
