package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/escrowdesk/platform/internal/auth"
	"github.com/escrowdesk/platform/internal/domain"
	"github.com/escrowdesk/platform/internal/guard"
	"github.com/escrowdesk/platform/internal/handler"
	"github.com/escrowdesk/platform/internal/infra"
	"github.com/escrowdesk/platform/internal/ledger"
	"github.com/escrowdesk/platform/internal/metrics"
	"github.com/escrowdesk/platform/internal/projection"
	"github.com/escrowdesk/platform/internal/provider"
	"github.com/escrowdesk/platform/internal/repository"
	"github.com/escrowdesk/platform/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps holds the process-level resources the API is assembled from.
type Deps struct {
	Config *infra.Config
	Logger *slog.Logger

	// DB serves reads outside transactions; Tx runs the write transactions.
	DB repository.DBTX
	Tx repository.Transactor

	// Ping reports database reachability for /health.
	Ping handler.Pinger

	// Projections is the cached balance store, nil when Redis is disabled.
	Projections projection.Store

	// Registry receives the settlement metrics and backs /metrics.
	Registry *prometheus.Registry

	// Processor overrides the NOWPayments client, for tests.
	Processor Processor

	// Repositories overrides the pgx repositories, for tests.
	Repositories *Repositories
}

// Processor is the payment processor API used by deposits and the poller.
type Processor interface {
	GetPayment(ctx context.Context, paymentID string) (*provider.PaymentInfo, error)
	CreateInvoice(ctx context.Context, req provider.InvoiceRequest) (*provider.Invoice, error)
}

// Repositories groups the storage implementations.
type Repositories struct {
	Users       repository.UserRepository
	Entries     repository.LedgerEntryRepository
	Payments    repository.PaymentRepository
	Withdrawals repository.WithdrawalRepository
	Deals       repository.DealRepository
	Outbox      repository.OutboxRepository
}

// PostgresRepositories returns the pgx-backed repositories.
func PostgresRepositories() *Repositories {
	return &Repositories{
		Users:       repository.NewUserRepository(),
		Entries:     repository.NewLedgerEntryRepository(),
		Payments:    repository.NewPaymentRepository(),
		Withdrawals: repository.NewWithdrawalRepository(),
		Deals:       repository.NewDealRepository(),
		Outbox:      repository.NewOutboxRepository(),
	}
}

// API is the assembled HTTP surface plus the background poller.
type API struct {
	Router chi.Router
	Poller *service.ReconciliationPoller
}

// NewAPI wires repositories, services and handlers into a router.
func NewAPI(deps Deps) (*API, error) {
	cfg := deps.Config
	logger := deps.Logger

	limits, err := cfg.Payments.Limits()
	if err != nil {
		return nil, err
	}

	repos := deps.Repositories
	if repos == nil {
		repos = PostgresRepositories()
	}
	m := metrics.NewSettlement(deps.Registry)

	processor := deps.Processor
	if processor == nil {
		processor = provider.NewNowPaymentsClient(cfg.NowPayments, m, logger)
	}

	// Ledger engine
	ledgerEngine := ledger.NewEngine(deps.Tx, repos.Users, repos.Entries, repos.Outbox)

	// Services
	paymentStore := service.NewPaymentStore(deps.DB, deps.Tx, repos.Payments, repos.Outbox, logger)
	reconciler := service.NewReconciler(paymentStore, ledgerEngine, m, logger)
	paymentSvc := service.NewPaymentService(paymentStore, processor, reconciler, limits, cfg.Payments, cfg.NowPayments, logger)
	dealSvc := service.NewDealService(deps.DB, deps.Tx, repos.Deals, repos.Users, repos.Outbox, ledgerEngine, limits, logger)
	withdrawalSvc := service.NewWithdrawalService(deps.DB, deps.Tx, repos.Withdrawals, repos.Outbox, ledgerEngine, limits, logger)
	adminSvc := service.NewAdminService(deps.DB, repos.Users, repos.Entries, repos.Payments, repos.Withdrawals, repos.Deals,
		ledgerEngine, deps.Projections, deps.Ping, cfg.Monitor, logger)

	jwtMgr := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTAdminExpiry)
	loginSvc := service.NewAdminAuthService(
		service.AdminCredentials{Username: cfg.AdminUsername, PasswordHash: cfg.AdminPasswordHash},
		jwtMgr, guard.NewRateLimiter(cfg.AdminLoginLimit, cfg.AdminLoginWindow), logger)

	var poller *service.ReconciliationPoller
	if cfg.Monitor.Enabled {
		poller = service.NewReconciliationPoller(paymentStore, processor, reconciler, cfg.Monitor, m, logger)
	}

	// Handlers
	webhookHandler := handler.NewWebhookHandler(reconciler, cfg.NowPayments.IPNSecret, m, logger)
	adminHandler := handler.NewAdminHandler(loginSvc, adminSvc, dealSvc, withdrawalSvc, paymentSvc)
	balance := func(ctx context.Context, userID int64) (*domain.User, error) {
		return ledgerEngine.Balance(ctx, deps.DB, userID)
	}
	accountHandler := handler.NewAccountHandler(balance, paymentSvc, dealSvc, withdrawalSvc)

	// Router
	r := chi.NewRouter()

	// Global middleware (order matters)
	r.Use(handler.Recovery(logger))
	r.Use(handler.RequestID)
	r.Use(handler.RequestLogger(logger))
	r.Use(handler.CORS(cfg.CORSAllowedOrigins))

	r.Get("/", handler.ServiceInfo)
	r.Get("/health", handler.HealthHandler(deps.Ping))
	if deps.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{Timeout: 5 * time.Second}))
	}

	// Webhooks: no auth, raw body required for signature verification
	r.Route("/webhook", func(r chi.Router) {
		r.Post("/nowpayments", webhookHandler.HandleNowPayments)
		r.Get("/success", webhookHandler.HandleSuccess)
		r.Get("/cancel", webhookHandler.HandleCancel)
	})

	r.Mount("/admin", adminHandler.Routes(jwtMgr))

	if cfg.FrontendAPIKey != "" {
		r.Mount("/v1", accountHandler.Routes(cfg.FrontendAPIKey))
	} else {
		logger.Warn("FRONTEND_API_KEY is not set; /v1 routes are disabled")
	}

	return &API{Router: r, Poller: poller}, nil
}
