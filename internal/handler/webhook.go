package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/escrowdesk/platform/internal/domain"
	"github.com/escrowdesk/platform/internal/metrics"
	"github.com/escrowdesk/platform/internal/provider"
	"github.com/escrowdesk/platform/internal/service"
)

// WebhookHandler handles NOWPayments IPN callbacks.
type WebhookHandler struct {
	reconciler *service.Reconciler
	secret     string
	metrics    *metrics.Settlement
	logger     *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler. An empty secret disables
// signature verification; every request is then logged as insecure.
func NewWebhookHandler(reconciler *service.Reconciler, secret string, m *metrics.Settlement, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler, secret: secret, metrics: m, logger: logger.With("component", "webhook")}
}

// HandleNowPayments handles POST /webhook/nowpayments.
// The signature covers the raw body, so it is read before any parsing.
func (h *WebhookHandler) HandleNowPayments(w http.ResponseWriter, r *http.Request) {
	log := h.logger.With("request_id", GetRequestID(r.Context()), "remote", ClientKey(r))

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		log.Error("read webhook body", "error", err)
		h.reject(w, "read_error", domain.ErrValidation("unreadable body"))
		return
	}
	if len(body) == 0 {
		log.Warn("empty webhook payload")
		h.reject(w, "malformed", domain.ErrValidation("empty payload"))
		return
	}

	sig := r.Header.Get(provider.SignatureHeader)
	if h.secret == "" {
		log.Warn("webhook signature verification disabled: NOWPAYMENTS_IPN_SECRET is not set",
			"event", "security", "signature_present", sig != "")
	} else if !provider.VerifySignature(h.secret, body, sig) {
		log.Warn("webhook signature rejected",
			"event", "security", "signature_present", sig != "", "body_bytes", len(body))
		h.reject(w, "bad_signature", domain.ErrAuthenticationFailure("invalid signature"))
		return
	}

	n, err := provider.ParseNotification(body)
	if err != nil {
		log.Error("malformed webhook payload", "error", err, "raw", truncateBody(body))
		h.reject(w, "malformed", err)
		return
	}
	log = log.With("payment_id", n.PaymentID, "raw_status", n.RawStatus)

	res, err := h.reconciler.Apply(r.Context(), n.PaymentID, n.Status, service.SourceWebhook)
	switch {
	case domain.HasCode(err, domain.CodeUnknownPayment):
		log.Warn("webhook for unknown payment")
		h.reject(w, "unknown_payment", err)
		return
	case err != nil:
		log.Error("webhook reconcile failed", "error", err)
		h.metrics.Webhook("error")
		RespondJSON(w, http.StatusInternalServerError, map[string]string{"error": "processing error"})
		return
	}

	log.Info("webhook processed", "status", res.Status, "outcome", res.Outcome.String(), "credited", res.Credited)
	h.metrics.Webhook("ok")
	RespondJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// HandleSuccess handles GET /webhook/success, the buyer's post-payment redirect.
func (h *WebhookHandler) HandleSuccess(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("payment success redirect", "query", r.URL.RawQuery)
	RespondJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Payment completed successfully",
	})
}

// HandleCancel handles GET /webhook/cancel.
func (h *WebhookHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("payment cancel redirect", "query", r.URL.RawQuery)
	RespondJSON(w, http.StatusOK, map[string]string{
		"status":  "cancelled",
		"message": "Payment was cancelled",
	})
}

func (h *WebhookHandler) reject(w http.ResponseWriter, result string, err error) {
	h.metrics.Webhook(result)
	msg := "bad request"
	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}
	RespondJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func truncateBody(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
