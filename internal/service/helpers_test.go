package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/escrowdesk/platform/internal/domain"
	"github.com/escrowdesk/platform/internal/infra"
	"github.com/escrowdesk/platform/internal/ledger"
	"github.com/escrowdesk/platform/internal/provider"
	"github.com/escrowdesk/platform/internal/repository/memrepo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var testBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLimits() infra.Limits {
	return infra.Limits{
		MinDeposit:        dec("10"),
		MaxDeposit:        dec("10000"),
		MinWithdrawal:     dec("5"),
		DepositFeePercent: dec("3"),
		EscrowFeePercent:  dec("2"),
	}
}

// fixture wires the real services over an in-memory store.
type fixture struct {
	store      *memrepo.Store
	ledger     *ledger.Engine
	payments   *PaymentStore
	reconciler *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memrepo.New()
	store.Now = func() time.Time { return testBase }
	engine := ledger.NewEngine(store, store.Users(), store.Entries(), store.Outbox())
	ps := NewPaymentStore(nil, store, store.Payments(), store.Outbox(), testLogger())
	return &fixture{
		store:      store,
		ledger:     engine,
		payments:   ps,
		reconciler: NewReconciler(ps, engine, nil, testLogger()),
	}
}

func (f *fixture) seedPayment(t *testing.T, id string, userID int64, amount string, status domain.PaymentStatus) {
	t.Helper()
	created, err := f.payments.Create(context.Background(), &domain.Payment{
		PaymentID: id,
		UserID:    userID,
		Amount:    dec(amount),
		Currency:  "usdttrc20",
		Status:    status,
	})
	require.NoError(t, err)
	require.True(t, created)
}

func (f *fixture) payment(t *testing.T, id string) *domain.Payment {
	t.Helper()
	p, err := f.payments.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p
}

func (f *fixture) entriesFor(userID int64, reason domain.EntryReason) []domain.LedgerEntry {
	var out []domain.LedgerEntry
	for _, e := range f.store.LedgerEntries() {
		if e.UserID == userID && e.Reason == reason {
			out = append(out, e)
		}
	}
	return out
}

// fakeProcessor stands in for the NOWPayments client.
type fakeProcessor struct {
	mu       sync.Mutex
	statuses map[string]domain.PaymentStatus
	errs     map[string]error
	panics   map[string]bool
	getCalls map[string]int

	invoiceID  string
	invoiceErr error
	invoices   []provider.InvoiceRequest
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		statuses:  map[string]domain.PaymentStatus{},
		errs:      map[string]error{},
		panics:    map[string]bool{},
		getCalls:  map[string]int{},
		invoiceID: "5077125051",
	}
}

func (f *fakeProcessor) GetPayment(ctx context.Context, paymentID string) (*provider.PaymentInfo, error) {
	f.mu.Lock()
	f.getCalls[paymentID]++
	status, err, boom := f.statuses[paymentID], f.errs[paymentID], f.panics[paymentID]
	f.mu.Unlock()

	if boom {
		panic("processor exploded")
	}
	if err != nil {
		return nil, err
	}
	if status == "" {
		return nil, domain.ErrProviderRejected("get payment", 404)
	}
	return &provider.PaymentInfo{PaymentID: paymentID, Status: status, RawStatus: string(status)}, nil
}

func (f *fakeProcessor) CreateInvoice(ctx context.Context, req provider.InvoiceRequest) (*provider.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoices = append(f.invoices, req)
	if f.invoiceErr != nil {
		return nil, f.invoiceErr
	}
	return &provider.Invoice{PaymentID: f.invoiceID, InvoiceURL: "https://nowpayments.io/payment/?iid=" + f.invoiceID}, nil
}

func (f *fakeProcessor) calls(paymentID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls[paymentID]
}

// failingLedger rejects every adjustment.
type failingLedger struct{}

func (failingLedger) Adjust(context.Context, domain.AdjustParams) (*domain.AdjustResult, error) {
	return nil, errors.New("connection reset by peer")
}
