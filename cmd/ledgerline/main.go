package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/ledgerline-erp/ledgerline/internal/app"
	"github.com/ledgerline-erp/ledgerline/internal/audit"
	"github.com/ledgerline-erp/ledgerline/internal/clients"
	"github.com/ledgerline-erp/ledgerline/internal/documents"
	"github.com/ledgerline-erp/ledgerline/internal/observability"
	"github.com/ledgerline-erp/ledgerline/internal/payments"
	"github.com/ledgerline-erp/ledgerline/internal/platform/cache"
	"github.com/ledgerline-erp/ledgerline/internal/platform/db"
	"github.com/ledgerline-erp/ledgerline/internal/sequence"
	"github.com/ledgerline-erp/ledgerline/internal/shared"
	"github.com/ledgerline-erp/ledgerline/jobs"
)

func main() {
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
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	jobsClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	recorder := audit.NewRecorder(logger)
	locker := shared.NewLocker(redisClient)
	idempotency := shared.NewIdempotencyStore(pool)

	sequenceRepo := sequence.NewRepository(pool)
	sequenceService := sequence.NewService(sequenceRepo, metrics, func(ctx context.Context, gap sequence.Gap) {
		logger.WarnContext(ctx, "sequence gap observed",
			slog.String("kind", gap.Kind), slog.Int("period", gap.Period),
			slog.Int64("previous", gap.Previous), slog.Int64("issued", gap.Issued))
		err := recorder.Record(shared.ContextWithActor(ctx, shared.System), pool, audit.Event{
			Action:      audit.ActionSequenceGap,
			Category:    audit.CategorySystem,
			Severity:    audit.SeverityWarning,
			EntityType:  "sequence",
			Description: fmt.Sprintf("Numbering gap for %s: %d follows %d", gap.Kind, gap.Issued, gap.Previous),
			Metadata:    map[string]any{"kind": gap.Kind, "period": gap.Period, "previous": gap.Previous, "issued": gap.Issued},
		})
		if err != nil {
			logger.ErrorContext(ctx, "sequence gap audit", slog.Any("error", err))
		}
	})

	documentsRepo := documents.NewRepository(pool)
	documentsService := documents.NewService(logger, documentsRepo, sequenceService, recorder, metrics, documents.PoolTx(pool))
	documentsHandler := documents.NewHandler(logger, documentsService, sequenceService)

	paymentsRepo := payments.NewRepository(pool)
	paymentsService := payments.NewService(logger, paymentsRepo, sequenceService, recorder, metrics, locker, payments.PoolTx(pool))
	paymentsHandler := payments.NewHandler(logger, paymentsService, idempotency)

	clientsRepo := clients.NewRepository(pool)
	clientsService := clients.NewService(logger, clientsRepo, sequenceService, recorder, clients.PoolTx(pool))
	clientsHandler := clients.NewHandler(logger, clientsService)

	auditRepo := audit.NewRepository(pool)
	auditHandler := audit.NewHandler(logger, auditRepo)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Pool:             pool,
		Metrics:          metrics,
		Jobs:             jobsClient,
		DocumentsHandler: documentsHandler,
		PaymentsHandler:  paymentsHandler,
		ClientsHandler:   clientsHandler,
		AuditHandler:     auditHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("http server", slog.Any("error", err))
		os.Exit(1)
	}
}
