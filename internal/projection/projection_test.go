package projection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/escrowdesk/platform/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStore_SetAndGet(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	err := store.Set(ctx, "k1", []byte("hello"), 0)
	require.NoError(t, err)

	val, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), val)
}

func TestInMemoryStore_KeyNotFound(t *testing.T) {
	store := NewInMemoryStore()

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryStore_Delete(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	_ = store.Set(ctx, "k1", []byte("data"), 0)
	_ = store.Delete(ctx, "k1")

	_, err := store.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryStore_TTLExpiry(t *testing.T) {
	store := NewInMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	_ = store.Set(ctx, "k1", []byte("data"), time.Minute)
	now = now.Add(2 * time.Minute)

	_, err := store.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func balanceEvent(t *testing.T, id, userID int64, after string) domain.OutboxDraft {
	t.Helper()
	return domain.NewBalanceAdjustedEvent(&domain.LedgerEntry{
		ID: id, UserID: userID, Delta: decimal.NewFromInt(1),
		BalanceAfter: decimal.RequireFromString(after), Reason: domain.ReasonDeposit,
	})
}

func TestApplyBalanceEvent(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	changed, err := ApplyBalanceEvent(ctx, store, balanceEvent(t, 5, 42, "50"))
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = ApplyBalanceEvent(ctx, store, balanceEvent(t, 4, 42, "10"))
	require.NoError(t, err)
	assert.False(t, changed, "older entry must not overwrite")

	changed, err = ApplyBalanceEvent(ctx, store, balanceEvent(t, 9, 42, "75.25"))
	require.NoError(t, err)
	assert.True(t, changed)

	p, err := GetBalance(ctx, store, 42)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("75.25").Equal(p.Balance))
	assert.Equal(t, int64(9), p.LastEntryID)

	require.NoError(t, InvalidateBalance(ctx, store, 42))
	_, err = GetBalance(ctx, store, 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyBalanceEvent_IgnoresOtherEvents(t *testing.T) {
	store := NewInMemoryStore()
	p := &domain.Payment{PaymentID: "1", UserID: 2}
	changed, err := ApplyBalanceEvent(context.Background(), store,
		domain.NewPaymentTransitionedEvent(p, domain.PaymentStatusPending, domain.PaymentStatusConfirmed))
	require.NoError(t, err)
	assert.False(t, changed)
}

type fakeRedis struct {
	data map[string]string
	err  error
}

func (f *fakeRedis) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", f.err)
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.data[key] = string(value.([]byte))
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, k := range keys {
		delete(f.data, k)
	}
	return redis.NewIntResult(int64(len(keys)), f.err)
}

func TestRedisStore(t *testing.T) {
	fake := &fakeRedis{data: map[string]string{}}
	store := &RedisStore{cmd: fake}
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	assert.Equal(t, "v", fake.data["escrow:k"])

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, store.Delete(ctx, "k"))
	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.Close())

	fake.err = errors.New("connection reset")
	_, err = store.Get(ctx, "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
