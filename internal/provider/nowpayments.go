package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/escrowdesk/platform/internal/domain"
	"github.com/escrowdesk/platform/internal/guard"
	"github.com/escrowdesk/platform/internal/infra"
	"github.com/escrowdesk/platform/internal/metrics"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
)

const (
	opCreateInvoice = "create_invoice"
	opGetPayment    = "get_payment"

	maxResponseBytes = 1 << 20
	logBodyLimit     = 2048
)

// NowPaymentsClient calls the NOWPayments REST API.
//
// Every call carries a per-attempt deadline and is retried with exponential
// backoff only for timeouts, connection failures, 429 and 5xx responses.
// Calls pass through a circuit breaker keyed by operation.
type NowPaymentsClient struct {
	apiKey      string
	baseURL     string
	client      *http.Client
	timeout     time.Duration
	maxAttempts uint64
	baseDelay   time.Duration
	breaker     *guard.CircuitBreaker
	metrics     *metrics.Settlement
	logger      *slog.Logger
}

// NewNowPaymentsClient creates a client from the NOWPAYMENTS_* settings.
func NewNowPaymentsClient(cfg infra.NowPaymentsConfig, m *metrics.Settlement, logger *slog.Logger) *NowPaymentsClient {
	attempts := cfg.MaxRetries
	if attempts == 0 {
		attempts = 1
	}
	delay := cfg.RetryBaseDelay
	if delay <= 0 {
		delay = time.Millisecond
	}
	return &NowPaymentsClient{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		client:      &http.Client{},
		timeout:     cfg.Timeout,
		maxAttempts: attempts,
		baseDelay:   delay,
		breaker:     guard.NewCircuitBreaker(cfg.BreakerFails, cfg.BreakerReset),
		metrics:     m,
		logger:      logger,
	}
}

// InvoiceRequest is the body of POST /invoice.
type InvoiceRequest struct {
	PriceAmount      decimal.Decimal
	PriceCurrency    string
	PayCurrency      string
	OrderID          string
	OrderDescription string
	SuccessURL       string
	CancelURL        string
	IsFixedRate      bool
	IsFeePaidByUser  bool
}

// MarshalJSON renders the price as a JSON number, as the API expects.
func (r InvoiceRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		PriceAmount      json.Number `json:"price_amount"`
		PriceCurrency    string      `json:"price_currency"`
		PayCurrency      string      `json:"pay_currency"`
		OrderID          string      `json:"order_id"`
		OrderDescription string      `json:"order_description"`
		SuccessURL       string      `json:"success_url,omitempty"`
		CancelURL        string      `json:"cancel_url,omitempty"`
		IsFixedRate      bool        `json:"is_fixed_rate"`
		IsFeePaidByUser  bool        `json:"is_fee_paid_by_user"`
	}{
		PriceAmount:      json.Number(r.PriceAmount.String()),
		PriceCurrency:    r.PriceCurrency,
		PayCurrency:      r.PayCurrency,
		OrderID:          r.OrderID,
		OrderDescription: r.OrderDescription,
		SuccessURL:       r.SuccessURL,
		CancelURL:        r.CancelURL,
		IsFixedRate:      r.IsFixedRate,
		IsFeePaidByUser:  r.IsFeePaidByUser,
	})
}

// Invoice is the normalized result of CreateInvoice.
type Invoice struct {
	PaymentID  string
	InvoiceURL string
}

// PaymentInfo is the normalized result of GetPayment.
type PaymentInfo struct {
	PaymentID string
	Status    domain.PaymentStatus
	RawStatus string
}

// CreateInvoice issues POST /invoice.
func (c *NowPaymentsClient) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode invoice request: %w", err)
	}

	fields, err := c.call(ctx, opCreateInvoice, http.MethodPost, "/invoice", body)
	if err != nil {
		return nil, err
	}

	id, ok := extractID(fields, "payment_id", "id")
	if !ok {
		return nil, c.malformed(opCreateInvoice, "missing payment id in invoice response", fields)
	}
	invoiceURL, _ := extractString(fields, "invoice_url")
	if invoiceURL == "" {
		return nil, c.malformed(opCreateInvoice, "missing invoice url in invoice response", fields)
	}
	return &Invoice{PaymentID: id, InvoiceURL: invoiceURL}, nil
}

// GetPayment issues GET /payment/{id}.
func (c *NowPaymentsClient) GetPayment(ctx context.Context, paymentID string) (*PaymentInfo, error) {
	if paymentID == "" {
		return nil, domain.ErrValidation("payment id is required")
	}

	fields, err := c.call(ctx, opGetPayment, http.MethodGet, "/payment/"+url.PathEscape(paymentID), nil)
	if err != nil {
		return nil, err
	}

	n, err := notificationFromFields(fields)
	if err != nil {
		c.logger.Error("malformed processor response", "op", opGetPayment, "payment_id", paymentID,
			"error", err, "body", truncate(fieldsString(fields)))
		return nil, err
	}
	return &PaymentInfo{PaymentID: n.PaymentID, Status: n.Status, RawStatus: n.RawStatus}, nil
}

// call runs one logical request with retries and returns the decoded JSON object.
func (c *NowPaymentsClient) call(ctx context.Context, op, method, path string, body []byte) (map[string]json.RawMessage, error) {
	backoff := retry.WithMaxRetries(c.maxAttempts-1, retry.NewExponential(c.baseDelay))

	var fields map[string]json.RawMessage
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := c.breaker.Execute(ctx, op, domain.IsRetryable, func(ctx context.Context) error {
			var err error
			fields, err = c.once(ctx, op, method, path, body)
			return err
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, guard.ErrCircuitOpen) || !domain.IsRetryable(err) {
			return err
		}
		if uint64(attempt) < c.maxAttempts {
			c.logger.Warn("processor call failed, retrying", "op", op, "attempt", attempt, "error", err)
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		var appErr *domain.AppError
		if !errors.As(err, &appErr) && ctx.Err() != nil {
			return nil, domain.ErrTimeout(op, err)
		}
		return nil, err
	}
	return fields, nil
}

// once performs a single HTTP attempt and classifies the outcome.
func (c *NowPaymentsClient) once(ctx context.Context, op, method, path string, body []byte) (map[string]json.RawMessage, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.ProcessorCall(op, false, time.Since(start))
		return nil, classifyTransportError(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.metrics.ProcessorCall(op, err == nil && resp.StatusCode < 300, time.Since(start))
	if err != nil {
		return nil, classifyTransportError(op, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, domain.ErrRateLimited(op)
	case resp.StatusCode >= 500:
		return nil, domain.ErrUnavailable(op, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 300:
		c.logger.Error("processor rejected request", "op", op, "status", resp.StatusCode, "body", truncate(string(raw)))
		return nil, domain.ErrProviderRejected(op, resp.StatusCode)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		c.logger.Error("malformed processor response", "op", op, "body", truncate(string(raw)))
		return nil, domain.ErrMalformedResponse(op + ": response is not a JSON object")
	}
	return fields, nil
}

func classifyTransportError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrTimeout(op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.ErrTimeout(op, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return domain.ErrUnavailable(op, err)
}

func (c *NowPaymentsClient) malformed(op, msg string, fields map[string]json.RawMessage) error {
	c.logger.Error("malformed processor response", "op", op, "reason", msg, "body", truncate(fieldsString(fields)))
	return domain.ErrMalformedResponse(msg)
}

func fieldsString(fields map[string]json.RawMessage) string {
	b, _ := json.Marshal(fields)
	return string(b)
}

func truncate(s string) string {
	if len(s) > logBodyLimit {
		return s[:logBodyLimit] + "..."
	}
	return s
}
