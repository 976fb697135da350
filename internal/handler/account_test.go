package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/escrowdesk/platform/internal/auth"
	"github.com/escrowdesk/platform/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *adminEnv) call(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	r.Header.Set(auth.ServiceKeyHeader, testServiceKey)
	w := httptest.NewRecorder()
	e.account.ServeHTTP(w, r)
	return w
}

func TestAccount_RequiresServiceKey(t *testing.T) {
	e := newAdminEnv(t)
	w := httptest.NewRecorder()
	e.account.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users/1/balance", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAccount_Balance(t *testing.T) {
	e := newAdminEnv(t)

	w := e.call(t, http.MethodGet, "/users/5/balance", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", decodeBody(t, w)["balance"], "unknown users read as zero")

	e.store.SetBalance(5, dec("12.5"))
	w = e.call(t, http.MethodGet, "/users/5/balance", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "12.5", decodeBody(t, w)["balance"])
}

func TestAccount_Deposit(t *testing.T) {
	e := newAdminEnv(t)
	e.processor.invoiceID = "5077125051"

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"created", `{"amount":"100","pay_currency":"btc"}`, http.StatusCreated},
		{"below minimum", `{"amount":"5","pay_currency":"btc"}`, http.StatusBadRequest},
		{"unsupported currency", `{"amount":"100","pay_currency":"doge"}`, http.StatusBadRequest},
		{"missing currency", `{"amount":"100"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.call(t, http.MethodPost, "/users/42/deposits", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}

	w := e.call(t, http.MethodGet, "/payments/5077125051", "")
	require.Equal(t, http.StatusOK, w.Code)
	var p domain.Payment
	require.NoError(t, json.NewDecoder(w.Body).Decode(&p))
	assert.Equal(t, domain.PaymentStatusPending, p.Status)
	assert.True(t, dec("100").Equal(p.Amount))

	w = e.call(t, http.MethodGet, "/users/42/payments", "")
	require.Equal(t, http.StatusOK, w.Code)
	var history []domain.Payment
	require.NoError(t, json.NewDecoder(w.Body).Decode(&history))
	assert.Len(t, history, 1)

	w = e.call(t, http.MethodGet, "/payments/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAccount_DealLifecycle(t *testing.T) {
	e := newAdminEnv(t)
	e.store.SetBalance(1001, dec("100"))

	w := e.call(t, http.MethodPost, "/users/1001/deals", `{"seller_handle":"@seller_one","description":"logo design","amount":"60"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var d domain.Deal
	require.NoError(t, json.NewDecoder(w.Body).Decode(&d))
	assert.True(t, dec("40").Equal(e.store.Balance(1001)))

	w = e.call(t, http.MethodPost, "/users/1001/deals", `{"seller_handle":"@seller_one","description":"more","amount":"60"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "insufficient funds")

	w = e.call(t, http.MethodPost, fmt.Sprintf("/deals/%d/activate", d.ID), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(domain.DealStatusActive), decodeBody(t, w)["status"])

	w = e.call(t, http.MethodPost, fmt.Sprintf("/users/2002/deals/%d/complete", d.ID), "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.call(t, http.MethodPost, fmt.Sprintf("/users/1001/deals/%d/cancel", d.ID), "")
	assert.Equal(t, http.StatusConflict, w.Code, "active deals cannot be cancelled")

	w = e.call(t, http.MethodPost, fmt.Sprintf("/users/1001/deals/%d/complete", d.ID), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(domain.DealStatusCompleted), decodeBody(t, w)["status"])
	assert.True(t, dec("40").Equal(e.store.Balance(1001)), "completion moves no balance")

	w = e.call(t, http.MethodGet, "/users/1001/deals", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []domain.Deal
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	assert.Len(t, list, 1)
}

func TestAccount_CancelRefunds(t *testing.T) {
	e := newAdminEnv(t)
	e.store.SetBalance(1001, dec("100"))
	w := e.call(t, http.MethodPost, "/users/1001/deals", `{"seller_handle":"@seller_one","description":"logo design","amount":"60"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var d domain.Deal
	require.NoError(t, json.NewDecoder(w.Body).Decode(&d))

	w = e.call(t, http.MethodPost, fmt.Sprintf("/users/1001/deals/%d/cancel", d.ID), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, dec("100").Equal(e.store.Balance(1001)))
}

func TestAccount_DisputeOwnDealOnly(t *testing.T) {
	e := newAdminEnv(t)
	e.store.SetBalance(1001, dec("100"))
	w := e.call(t, http.MethodPost, "/users/1001/deals", `{"seller_handle":"@seller_one","description":"logo design","amount":"60"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var d domain.Deal
	require.NoError(t, json.NewDecoder(w.Body).Decode(&d))

	w = e.call(t, http.MethodPost, fmt.Sprintf("/users/2002/deals/%d/dispute", d.ID), `{"reason":"no delivery"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.call(t, http.MethodPost, fmt.Sprintf("/users/1001/deals/%d/dispute", d.ID), `{"reason":"no delivery"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(domain.DealStatusDisputed), decodeBody(t, w)["status"])
}

func TestAccount_Withdrawals(t *testing.T) {
	e := newAdminEnv(t)
	e.store.SetBalance(7, dec("50"))

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"below minimum", `{"amount":"1"}`, http.StatusBadRequest},
		{"overdraw", `{"amount":"80"}`, http.StatusUnprocessableEntity},
		{"requested", `{"amount":"20"}`, http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.call(t, http.MethodPost, "/users/7/withdrawals", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}

	assert.True(t, dec("30").Equal(e.store.Balance(7)))
	w := e.call(t, http.MethodGet, "/users/7/withdrawals", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []domain.Withdrawal
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, domain.WithdrawalStatusPending, list[0].Status)
}
