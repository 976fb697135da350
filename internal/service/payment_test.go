package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/escrowdesk/platform/internal/domain"
	"github.com/escrowdesk/platform/internal/infra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPaymentService(f *fixture, proc *fakeProcessor) *PaymentService {
	svc := NewPaymentService(f.payments, proc, f.reconciler, testLimits(),
		infra.PaymentsConfig{PriceCurrency: "usd", SupportedCurrencies: []string{"usdttrc20", "btc"}},
		infra.NowPaymentsConfig{SuccessURL: "https://escrow.test/webhook/success", CancelURL: "https://escrow.test/webhook/cancel"},
		testLogger())
	svc.now = func() time.Time { return testBase }
	return svc
}

func TestCreateDeposit(t *testing.T) {
	f := newFixture(t)
	proc := newFakeProcessor()
	svc := newTestPaymentService(f, proc)

	dep, err := svc.CreateDeposit(context.Background(), 42, dec("100"), " BTC ")
	require.NoError(t, err)

	assert.Equal(t, "5077125051", dep.PaymentID)
	assert.True(t, dec("3").Equal(dep.Fee))
	assert.True(t, dec("103").Equal(dep.Total))
	assert.Equal(t, "btc", dep.Currency)

	require.Len(t, proc.invoices, 1)
	req := proc.invoices[0]
	assert.True(t, dec("103").Equal(req.PriceAmount))
	assert.Equal(t, "usd", req.PriceCurrency)
	assert.Equal(t, fmt.Sprintf("user_42_%d", testBase.Unix()), req.OrderID)
	assert.True(t, req.IsFixedRate)
	assert.False(t, req.IsFeePaidByUser)
	assert.Equal(t, "https://escrow.test/webhook/success", req.SuccessURL)

	p := f.payment(t, "5077125051")
	assert.Equal(t, domain.PaymentStatusPending, p.Status)
	assert.True(t, dec("100").Equal(p.Amount), "ledger credit is the requested amount")
	assert.True(t, dec("3").Equal(p.Fee))
	assert.Equal(t, req.OrderID, p.OrderID)
	assert.True(t, f.store.Balance(42).IsZero())
}

func TestCreateDeposit_Validation(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		currency string
		want     string
	}{
		{"below minimum", "9.99", "btc", "minimum amount"},
		{"above maximum", "10000.01", "btc", "maximum amount"},
		{"sub-cent", "10.005", "btc", "decimal places"},
		{"unsupported currency", "50", "doge", "unsupported currency"},
		{"garbage currency", "50", "b-t-c", "invalid currency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			proc := newFakeProcessor()
			_, err := newTestPaymentService(f, proc).CreateDeposit(context.Background(), 1, dec(tt.amount), tt.currency)
			require.Error(t, err)
			assert.True(t, domain.HasCode(err, domain.CodeValidation))
			assert.Contains(t, err.Error(), tt.want)
			assert.Empty(t, proc.invoices)
		})
	}
}

func TestCreateDeposit_ProcessorFailureRecordsNothing(t *testing.T) {
	f := newFixture(t)
	proc := newFakeProcessor()
	proc.invoiceErr = domain.ErrRateLimited("create invoice")

	_, err := newTestPaymentService(f, proc).CreateDeposit(context.Background(), 1, dec("50"), "btc")
	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.CodeRateLimited))
	assert.Contains(t, domain.UserMessage(err), "try again later")
	assert.Equal(t, 0, f.store.PaymentCount())
}

func TestCreateDeposit_DuplicateInvoiceIDIsTolerated(t *testing.T) {
	f := newFixture(t)
	proc := newFakeProcessor()
	svc := newTestPaymentService(f, proc)
	ctx := context.Background()

	_, err := svc.CreateDeposit(ctx, 1, dec("50"), "btc")
	require.NoError(t, err)
	_, err = svc.CreateDeposit(ctx, 1, dec("50"), "btc")
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.PaymentCount())
}

func TestForceCheck(t *testing.T) {
	f := newFixture(t)
	proc := newFakeProcessor()
	svc := newTestPaymentService(f, proc)
	ctx := context.Background()

	_, err := svc.ForceCheck(ctx, "missing")
	assert.True(t, domain.HasCode(err, domain.CodeUnknownPayment))

	f.seedPayment(t, "done", 1, "10", domain.PaymentStatusExpired)
	res, err := svc.ForceCheck(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, domain.TransitionUnchanged, res.Outcome)
	assert.Equal(t, 0, proc.calls("done"))

	f.seedPayment(t, "open", 2, "75", domain.PaymentStatusPending)
	proc.statuses["open"] = domain.PaymentStatusConfirmed
	res, err = svc.ForceCheck(ctx, "open")
	require.NoError(t, err)
	assert.True(t, res.Credited)
	assert.True(t, dec("75").Equal(f.store.Balance(2)))

	proc.errs["open2"] = domain.ErrUnavailable("get payment", nil)
	f.seedPayment(t, "open2", 3, "10", domain.PaymentStatusPending)
	_, err = svc.ForceCheck(ctx, "open2")
	assert.True(t, domain.IsRetryable(err))
}

func TestPaymentStatusAndHistory(t *testing.T) {
	f := newFixture(t)
	svc := newTestPaymentService(f, newFakeProcessor())
	ctx := context.Background()

	_, err := svc.Status(ctx, "nope")
	assert.True(t, domain.HasCode(err, domain.CodeUnknownPayment))

	f.seedPayment(t, "a", 9, "10", domain.PaymentStatusPending)
	f.seedPayment(t, "b", 9, "20", domain.PaymentStatusConfirmed)
	f.seedPayment(t, "c", 8, "30", domain.PaymentStatusPending)

	p, err := svc.Status(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusConfirmed, p.Status)

	history, err := svc.History(ctx, 9, 10)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}
