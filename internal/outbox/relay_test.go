package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/escrowdesk/platform/internal/domain"
	"github.com/escrowdesk/platform/internal/ledger"
	"github.com/escrowdesk/platform/internal/projection"
	"github.com/escrowdesk/platform/internal/repository/memrepo"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakePublisher struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, msgs ...kafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func (p *fakePublisher) published() []kafka.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]kafka.Message(nil), p.msgs...)
}

type relayFixture struct {
	store  *memrepo.Store
	ledger *ledger.Engine
	pub    *fakePublisher
	proj   *projection.InMemoryStore
	relay  *Relay
}

func newRelayFixture(batch int) *relayFixture {
	store := memrepo.New()
	pub := &fakePublisher{}
	proj := projection.NewInMemoryStore()
	return &relayFixture{
		store:  store,
		ledger: ledger.NewEngine(store, store.Users(), store.Entries(), store.Outbox()),
		pub:    pub,
		proj:   proj,
		relay: NewRelay(nil, store.Outbox(), pub, proj,
			Config{Interval: 5 * time.Millisecond, BatchSize: batch, TopicPrefix: "escrow"}, testLogger()),
	}
}

func (f *relayFixture) credit(t *testing.T, userID int64, amount string) {
	t.Helper()
	_, err := f.ledger.Adjust(context.Background(), domain.AdjustParams{
		UserID: userID, Delta: dec(amount), Reason: domain.ReasonDeposit, Reference: "p-" + amount,
	})
	require.NoError(t, err)
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestRelayOnce_PublishesAndDrains(t *testing.T) {
	f := newRelayFixture(10)
	f.credit(t, 42, "50")
	f.credit(t, 42, "25")

	n, err := f.relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, f.store.Events(), "relayed rows are removed")

	msgs := f.pub.published()
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.Equal(t, "escrow.user", m.Topic)
		assert.Equal(t, "42", string(m.Key))
		assert.Equal(t, string(domain.EventBalanceAdjusted), header(m, "event_type"))
	}

	var evt domain.OutboxDraft
	require.NoError(t, json.Unmarshal(msgs[1].Value, &evt))
	var entry domain.LedgerEntry
	require.NoError(t, json.Unmarshal(evt.Payload, &entry))
	assert.True(t, dec("75").Equal(entry.BalanceAfter))

	p, err := projection.GetBalance(context.Background(), f.proj, 42)
	require.NoError(t, err)
	assert.True(t, dec("75").Equal(p.Balance))

	n, err = f.relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelayOnce_PublishFailureKeepsRows(t *testing.T) {
	f := newRelayFixture(10)
	f.credit(t, 42, "50")
	f.pub.err = errors.New("leader not available")

	_, err := f.relay.RelayOnce(context.Background())
	require.Error(t, err)
	assert.Len(t, f.store.Events(), 1)

	_, err = projection.GetBalance(context.Background(), f.proj, 42)
	assert.ErrorIs(t, err, projection.ErrNotFound, "projection follows the broker, not the table")

	f.pub.err = nil
	n, err := f.relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, f.store.Events())
}

func TestRelayOnce_BatchLimit(t *testing.T) {
	f := newRelayFixture(2)
	for _, amt := range []string{"1", "2", "3"} {
		f.credit(t, 7, amt)
	}

	n, err := f.relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, f.store.Events(), 1)
}

func TestRelayOnce_NilProjection(t *testing.T) {
	f := newRelayFixture(10)
	f.relay.projections = nil
	f.credit(t, 42, "50")

	n, err := f.relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRun_DrainsUntilCancelled(t *testing.T) {
	f := newRelayFixture(2)
	for _, amt := range []string{"1", "2", "3", "4", "5"} {
		f.credit(t, 7, amt)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.relay.Run(ctx) }()

	require.Eventually(t, func() bool { return len(f.pub.published()) == 5 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}

	p, err := projection.GetBalance(context.Background(), f.proj, 7)
	require.NoError(t, err)
	assert.True(t, dec("15").Equal(p.Balance))
}

func TestTopic(t *testing.T) {
	r := NewRelay(nil, nil, nil, nil, Config{}, testLogger())
	assert.Equal(t, "escrow.payment", r.Topic(domain.AggregatePayment))
	assert.Equal(t, 100, r.cfg.BatchSize)
}
