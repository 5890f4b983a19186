package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ledgerline-erp/ledgerline/internal/platform/httpx"
)

// Handler exposes the audit trail over HTTP. Read-only: events are written by
// the owning services, never through this surface.
type Handler struct {
	logger *slog.Logger
	repo   *Repository
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, repo *Repository) *Handler {
	return &Handler{logger: logger, repo: repo}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.search)
	r.Get("/financial-trail", h.financialTrail)
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := SearchFilter{
		Action:         q.Get("action"),
		Category:       q.Get("category"),
		Severity:       q.Get("severity"),
		EntityType:     q.Get("entity_type"),
		DocumentNumber: q.Get("document_number"),
		Query:          q.Get("q"),
	}
	filter.EntityID, _ = strconv.ParseInt(q.Get("entity_id"), 10, 64)
	filter.ActorID, _ = strconv.ParseInt(q.Get("actor_id"), 10, 64)
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	if from, ok := parseDate(q.Get("from")); ok {
		filter.From = &from
	}
	if to, ok := parseDate(q.Get("to")); ok {
		end := to.Add(24*time.Hour - time.Nanosecond)
		filter.To = &end
	}

	result, err := h.repo.Search(r.Context(), filter)
	if err != nil {
		h.logger.Error("audit search", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "internal", "Internal Server Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) financialTrail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, ok := parseDate(q.Get("from"))
	if !ok {
		from = time.Now().UTC().AddDate(0, -1, 0)
	}
	to, ok := parseDate(q.Get("to"))
	if !ok {
		to = time.Now().UTC()
	} else {
		to = to.Add(24*time.Hour - time.Nanosecond)
	}
	entityID, _ := strconv.ParseInt(q.Get("client_id"), 10, 64)

	trail, err := h.repo.FinancialTrail(r.Context(), from, to, entityID)
	if err != nil {
		h.logger.Error("audit financial trail", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "internal", "Internal Server Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, trail)
}

func parseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	t, err := time.Parse("2006-01-02", s)
	return t, err == nil
}
