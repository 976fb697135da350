package ledger

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/escrowdesk/platform/internal/domain"
	"github.com/escrowdesk/platform/internal/infra"
	"github.com/escrowdesk/platform/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newPostgresEngine connects to TEST_DATABASE_URL, applies migrations and
// returns an engine backed by the real repositories.
func newPostgresEngine(t *testing.T) (*Engine, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	require.NoError(t, infra.RunMigrations(dsn, "", logger))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cfg := &infra.Config{DatabaseURL: dsn, LockTimeout: 2 * time.Second, TxMaxRetries: 5, TxRetryBaseWait: 10 * time.Millisecond}
	pool, err := infra.NewPostgresPool(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	engine := NewEngine(
		infra.NewTxRunner(pool, cfg, logger),
		repository.NewUserRepository(),
		repository.NewLedgerEntryRepository(),
		repository.NewOutboxRepository(),
	)
	return engine, pool
}

func TestPostgres_ConcurrentAdjustments(t *testing.T) {
	engine, pool := newPostgresEngine(t)
	ctx := context.Background()
	userID := rand.Int63n(1<<40) + 1<<41

	_, err := engine.Adjust(ctx, domain.AdjustParams{UserID: userID, Delta: dec("100"), Reason: domain.ReasonDeposit})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Adjust(ctx, domain.AdjustParams{UserID: userID, Delta: dec("-7"), Reason: domain.ReasonEscrowHold})
			if err != nil {
				assert.True(t, domain.HasCode(err, domain.CodeInsufficientFunds), "unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	user, err := engine.Balance(ctx, pool, userID)
	require.NoError(t, err)
	assert.True(t, dec("2").Equal(user.Balance), "balance %s", user.Balance)

	report, err := engine.Audit(ctx, userID)
	require.NoError(t, err)
	assert.True(t, report.AllPassed, "%+v", report.Checks)
	assert.Equal(t, int64(15), report.EntryCount)
}
