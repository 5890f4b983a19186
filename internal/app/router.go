package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerline-erp/ledgerline/internal/audit"
	"github.com/ledgerline-erp/ledgerline/internal/clients"
	"github.com/ledgerline-erp/ledgerline/internal/documents"
	"github.com/ledgerline-erp/ledgerline/internal/observability"
	"github.com/ledgerline-erp/ledgerline/internal/payments"
	"github.com/ledgerline-erp/ledgerline/internal/platform/httpx"
	"github.com/ledgerline-erp/ledgerline/internal/shared"
	"github.com/ledgerline-erp/ledgerline/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	Pool             *pgxpool.Pool
	Metrics          *observability.Metrics
	Jobs             *jobs.Client
	DocumentsHandler *documents.Handler
	PaymentsHandler  *payments.Handler
	ClientsHandler   *clients.Handler
	AuditHandler     *audit.Handler
}

// NewRouter constructs the chi.Router.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := params.Pool.Ping(req.Context()); err != nil {
			httpx.Problem(w, http.StatusServiceUnavailable, "unhealthy", "Service Unavailable", "database unreachable")
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RequireActor)
		r.Route("/documents", params.DocumentsHandler.MountRoutes)
		r.Route("/payments", params.PaymentsHandler.MountRoutes)
		r.Route("/clients", params.ClientsHandler.MountRoutes)
		r.Route("/audit", params.AuditHandler.MountRoutes)
		if params.Jobs != nil {
			r.Route("/admin/jobs", func(r chi.Router) {
				r.Post("/overdue-scan", triggerOverdueScan(params.Logger, params.Jobs))
				r.Post("/reconcile", triggerReconcile(params.Logger, params.Jobs))
			})
		}
	})

	return r
}

func triggerOverdueScan(logger *slog.Logger, client *jobs.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := jobs.OverdueScanPayload{}
		if actor, ok := shared.ActorFromContext(r.Context()); ok {
			payload.RequestedBy = actor.Name
		}
		info, err := client.EnqueueOverdueScan(r.Context(), payload)
		if err != nil {
			logger.ErrorContext(r.Context(), "enqueue overdue scan", slog.Any("error", err))
			httpx.Problem(w, http.StatusServiceUnavailable, "queue_unavailable", "Service Unavailable", "could not enqueue job")
			return
		}
		httpx.JSON(w, http.StatusAccepted, map[string]string{"taskId": info.ID, "queue": info.Queue})
	}
}

func triggerReconcile(logger *slog.Logger, client *jobs.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload jobs.ReconcilePayload
		if r.ContentLength > 0 {
			if err := httpx.DecodeJSON(r, &payload); err != nil {
				httpx.Problem(w, http.StatusBadRequest, "invalid_body", "Bad Request", err.Error())
				return
			}
		}
		info, err := client.EnqueueReconcile(r.Context(), payload)
		if err != nil {
			logger.ErrorContext(r.Context(), "enqueue reconcile", slog.Any("error", err))
			httpx.Problem(w, http.StatusServiceUnavailable, "queue_unavailable", "Service Unavailable", "could not enqueue job")
			return
		}
		httpx.JSON(w, http.StatusAccepted, map[string]string{"taskId": info.ID, "queue": info.Queue})
	}
}
