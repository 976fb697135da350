package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "escrow"

// Settlement records reconciliation, webhook, poller and processor activity.
// A nil *Settlement is valid and records nothing.
type Settlement struct {
	reconcile       *prometheus.CounterVec
	credits         *prometheus.CounterVec
	webhooks        *prometheus.CounterVec
	pollerCycles    *prometheus.CounterVec
	pollerPayments  *prometheus.CounterVec
	pollerDuration  prometheus.Histogram
	pollerLastRun   prometheus.Gauge
	processorCalls  *prometheus.CounterVec
	processorTiming *prometheus.HistogramVec
}

// NewSettlement registers the settlement metrics on the provided registerer.
func NewSettlement(reg prometheus.Registerer) *Settlement {
	if reg == nil {
		return nil
	}
	s := &Settlement{
		reconcile: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_total",
			Help:      "Reconciler decisions by notification source and outcome.",
		}, []string{"source", "outcome"}),
		credits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposit_credits_total",
			Help:      "Ledger credits for confirmed payments by result.",
		}, []string{"result"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_requests_total",
			Help:      "Processor webhook deliveries by result.",
		}, []string{"result"}),
		pollerCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poller_cycles_total",
			Help:      "Reconciliation poller cycles by result.",
		}, []string{"result"}),
		pollerPayments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poller_payments_total",
			Help:      "Payments handled by the reconciliation poller by action.",
		}, []string{"action"}),
		pollerDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poller_cycle_duration_seconds",
			Help:      "Duration of reconciliation poller cycles.",
			Buckets:   prometheus.DefBuckets,
		}),
		pollerLastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "poller_last_cycle_timestamp_seconds",
			Help:      "Unix time of the last completed poller cycle.",
		}),
		processorCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processor_requests_total",
			Help:      "Payment processor API calls by operation and result.",
		}, []string{"op", "result"}),
		processorTiming: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "processor_request_duration_seconds",
			Help:      "Payment processor API latency including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
	reg.MustRegister(
		s.reconcile, s.credits, s.webhooks,
		s.pollerCycles, s.pollerPayments, s.pollerDuration, s.pollerLastRun,
		s.processorCalls, s.processorTiming,
	)
	return s
}

// Reconciled counts a reconciler decision.
func (s *Settlement) Reconciled(source, outcome string) {
	if s == nil {
		return
	}
	s.reconcile.WithLabelValues(normalizeLabel(source), normalizeLabel(outcome)).Inc()
}

// Credit counts a deposit credit attempt.
func (s *Settlement) Credit(ok bool) {
	if s == nil {
		return
	}
	s.credits.WithLabelValues(resultLabel(ok)).Inc()
}

// Webhook counts a webhook delivery.
func (s *Settlement) Webhook(result string) {
	if s == nil {
		return
	}
	s.webhooks.WithLabelValues(normalizeLabel(result)).Inc()
}

// PollerCycle records a finished poller cycle.
func (s *Settlement) PollerCycle(ok bool, duration time.Duration, finishedAt time.Time) {
	if s == nil {
		return
	}
	s.pollerCycles.WithLabelValues(resultLabel(ok)).Inc()
	s.pollerDuration.Observe(duration.Seconds())
	s.pollerLastRun.Set(float64(finishedAt.Unix()))
}

// PollerPayment counts a per-payment poller action.
func (s *Settlement) PollerPayment(action string) {
	if s == nil {
		return
	}
	s.pollerPayments.WithLabelValues(normalizeLabel(action)).Inc()
}

// ProcessorCall records a processor API call.
func (s *Settlement) ProcessorCall(op string, ok bool, duration time.Duration) {
	if s == nil {
		return
	}
	s.processorCalls.WithLabelValues(normalizeLabel(op), resultLabel(ok)).Inc()
	s.processorTiming.WithLabelValues(normalizeLabel(op)).Observe(duration.Seconds())
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
