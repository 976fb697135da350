package service

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/escrowdesk/platform/internal/domain"
	"github.com/escrowdesk/platform/internal/infra"
	"github.com/escrowdesk/platform/internal/ledger"
	"github.com/escrowdesk/platform/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type postgresEnv struct {
	pool        *pgxpool.Pool
	deals       *DealService
	withdrawals *WithdrawalService
}

// newPostgresEnv connects to TEST_DATABASE_URL, applies migrations and wires
// the deal and withdrawal services to the real repositories.
func newPostgresEnv(t *testing.T) *postgresEnv {
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

	tx := infra.NewTxRunner(pool, cfg, logger)
	users := repository.NewUserRepository()
	outbox := repository.NewOutboxRepository()
	engine := ledger.NewEngine(tx, users, repository.NewLedgerEntryRepository(), outbox)

	return &postgresEnv{
		pool:        pool,
		deals:       NewDealService(pool, tx, repository.NewDealRepository(), users, outbox, engine, testLimits(), logger),
		withdrawals: NewWithdrawalService(pool, tx, repository.NewWithdrawalRepository(), outbox, engine, testLimits(), logger),
	}
}

func TestPostgres_UnknownUserIsInsufficientFunds(t *testing.T) {
	env := newPostgresEnv(t)
	ctx := context.Background()
	userID := rand.Int63n(1<<40) + 1<<41

	_, err := env.withdrawals.Request(ctx, userID, dec("10"))
	assert.True(t, domain.HasCode(err, domain.CodeInsufficientFunds), "withdrawal: %v", err)

	_, err = env.deals.Create(ctx, CreateDealInput{
		BuyerID: userID, SellerHandle: "@seller_one", Description: "x", Amount: dec("10"),
	})
	assert.True(t, domain.HasCode(err, domain.CodeInsufficientFunds), "deal: %v", err)

	var n int
	require.NoError(t, env.pool.QueryRow(ctx,
		`SELECT (SELECT count(*) FROM withdrawals WHERE user_id = $1) + (SELECT count(*) FROM deals WHERE buyer_id = $1)`,
		userID).Scan(&n))
	assert.Zero(t, n)
}
