package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/harvestbill/harvestbill/internal/app"
	"github.com/harvestbill/harvestbill/internal/billing"
	"github.com/harvestbill/harvestbill/internal/billing/allocation"
	"github.com/harvestbill/harvestbill/internal/document"
	"github.com/harvestbill/harvestbill/internal/members"
	"github.com/harvestbill/harvestbill/internal/observability"
	"github.com/harvestbill/harvestbill/internal/payments"
	"github.com/harvestbill/harvestbill/internal/platform/cache"
	"github.com/harvestbill/harvestbill/internal/platform/db"
	"github.com/harvestbill/harvestbill/internal/sepa"
	"github.com/harvestbill/harvestbill/internal/shared"
	"github.com/harvestbill/harvestbill/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	// The settlement lock degrades to a no-op without Redis; the job
	// queue client keeps its own connection.
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, settlement locks disabled", slog.Any("error", err))
		redisClient = nil
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(dbpool)
	membersRepo := members.NewRepository(dbpool)
	invoiceRepo := billing.NewRepository(dbpool)

	allocator := allocation.New(
		logger,
		allocation.NewRepository(dbpool),
		allocation.NewPayerLock(redisClient),
	)

	renderer := document.NewGotenberg(cfg.GotenbergURL)
	documents := document.NewService(
		logger,
		renderer,
		document.NewStore(dbpool),
		invoiceRepo,
		membersRepo,
		document.Config{
			Tenant:       cfg.Tenant,
			Organisation: cfg.Organisation,
			Currency:     cfg.Currency,
		},
	)

	metrics := observability.NewMetrics()

	billingService := billing.NewService(
		logger,
		invoiceRepo,
		membersRepo,
		allocator,
		documents,
		jobsClient,
		sepa.NewClient(cfg.SEPABankURL),
		jobsClient,
		auditLogger,
		metrics,
		billing.ServiceConfig{
			Tenant:           cfg.Tenant,
			Currency:         cfg.Currency,
			SendAfterProcess: cfg.SendAfterProcess,
			FiscalYears:      shared.NewFiscalYears(cfg.FiscalYearStartMonth),
			SharePrice:       cfg.SharePriceAmount(),
			ActivityPrice:    cfg.ActivityPriceAmount(),
			VATRateFor: func(kind billing.EntityKind) *decimal.Decimal {
				return cfg.VATRateFor(string(kind))
			},
			Creditor: sepa.Creditor{
				Name: cfg.SEPACreditorName,
				IBAN: cfg.SEPACreditorIBAN,
				ID:   cfg.SEPACreditorID,
			},
		},
	)
	billingHandler := billing.NewHandler(logger, billingService, auditLogger)

	paymentsService := payments.NewService(logger, payments.NewRepository(dbpool), membersRepo, jobsClient)
	paymentsHandler := payments.NewHandler(logger, paymentsService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		BillingHandler:  billingHandler,
		PaymentsHandler: paymentsHandler,
		JobHandler:      jobHandler,
		Pool:            dbpool,
		Redis:           redisClient,
		Renderer:        renderer,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
