package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/harvestbill/harvestbill/internal/app"
	"github.com/harvestbill/harvestbill/internal/billing"
	"github.com/harvestbill/harvestbill/internal/billing/allocation"
	"github.com/harvestbill/harvestbill/internal/document"
	"github.com/harvestbill/harvestbill/internal/mailer"
	"github.com/harvestbill/harvestbill/internal/members"
	"github.com/harvestbill/harvestbill/internal/observability"
	"github.com/harvestbill/harvestbill/internal/platform/cache"
	"github.com/harvestbill/harvestbill/internal/platform/db"
	"github.com/harvestbill/harvestbill/internal/sepa"
	"github.com/harvestbill/harvestbill/internal/shared"
	"github.com/harvestbill/harvestbill/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

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

	auditLogger := shared.NewAuditLogger(pool)
	membersRepo := members.NewRepository(pool)
	invoiceRepo := billing.NewRepository(pool)

	allocator := allocation.New(
		logger,
		allocation.NewRepository(pool),
		allocation.NewPayerLock(redisClient),
	)

	documents := document.NewService(
		logger,
		document.NewGotenberg(cfg.GotenbergURL),
		document.NewStore(pool),
		invoiceRepo,
		membersRepo,
		document.Config{
			Tenant:       cfg.Tenant,
			Organisation: cfg.Organisation,
			Currency:     cfg.Currency,
		},
	)

	// The worker delivers mail itself; queued mail:send tasks and
	// overdue notices both end up on the SMTP relay.
	mail := mailer.New(logger, mailer.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})

	metrics := observability.NewMetrics()

	billingService := billing.NewService(
		logger,
		invoiceRepo,
		membersRepo,
		allocator,
		documents,
		mail,
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

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeInvoiceProcess, Handler: jobs.NewInvoiceProcessHandler(billingService, logger)},
			{Type: jobs.TaskTypeSettle, Handler: jobs.NewSettleHandler(billingService, logger)},
			{Type: jobs.TaskTypeSendEmail, Handler: jobs.NewSendEmailHandler(mail, logger)},
			{Type: jobs.TaskTypeOverdueNotices, Handler: jobs.NewOverdueNoticesHandler(billingService, cfg.OverdueNoticeDelay, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 6 * * *", Task: jobs.NewOverdueNoticesTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
