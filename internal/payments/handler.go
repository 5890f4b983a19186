package payments

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ledgerline-erp/ledgerline/internal/platform/httpx"
	"github.com/ledgerline-erp/ledgerline/internal/shared"
)

// Handler manages payment endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	idem    *shared.IdempotencyStore
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, idem *shared.IdempotencyStore) *Handler {
	return &Handler{logger: logger, service: service, idem: idem}
}

// MountRoutes registers payment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.apply)
	r.Get("/totals-by-method", h.totalsByMethod)
	r.Get("/document/{documentID}", h.listByDocument)
}

func (h *Handler) apply(w http.ResponseWriter, r *http.Request) {
	var req ApplyPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "bad_request", "Bad Request", "malformed JSON body")
		return
	}

	// A retried request with the same Idempotency-Key must not settle twice.
	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey != "" && h.idem != nil {
		if err := h.idem.CheckAndInsert(r.Context(), idemKey, "payments"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.Problem(w, http.StatusConflict, "duplicate_request", "Conflict", "payment with this idempotency key was already processed")
				return
			}
			h.logger.Error("idempotency check", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "internal", "Internal Server Error", "")
			return
		}
	}

	result, err := h.service.Apply(r.Context(), req)
	if err != nil {
		if idemKey != "" && h.idem != nil {
			if derr := h.idem.Delete(r.Context(), idemKey); derr != nil {
				h.logger.Error("idempotency rollback", slog.Any("error", derr))
			}
		}
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

type listResponse struct {
	Payments []Payment `json:"payments"`
	Total    int       `json:"total"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Method: q.Get("method")}
	filter.DocumentID, _ = strconv.ParseInt(q.Get("document_id"), 10, 64)
	filter.ClientID, _ = strconv.ParseInt(q.Get("client_id"), 10, 64)
	if from, ok := parseDate(q.Get("from")); ok {
		filter.From = &from
	}
	if to, ok := parseDate(q.Get("to")); ok {
		end := to.Add(24*time.Hour - time.Nanosecond)
		filter.To = &end
	}
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))

	list, total, err := h.service.List(r.Context(), filter, shared.NewPageRequest(page, size))
	if err != nil {
		h.logger.Error("list payments", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "internal", "Internal Server Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse{Payments: list, Total: total})
}

func (h *Handler) listByDocument(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "documentID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "bad_request", "Bad Request", "invalid document id")
		return
	}

	list, err := h.service.ListByDocument(r.Context(), id)
	if err != nil {
		h.logger.Error("list payments by document", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "internal", "Internal Server Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) totalsByMethod(w http.ResponseWriter, r *http.Request) {
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

	totals, err := h.service.TotalsByMethod(r.Context(), from, to)
	if err != nil {
		h.logger.Error("payment totals", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "internal", "Internal Server Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, totals)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var invalid validator.ValidationErrors
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "not_found", "Not Found", err.Error())
	case errors.Is(err, ErrInvalidAmount):
		httpx.Problem(w, http.StatusUnprocessableEntity, "invalid_amount", "Unprocessable Entity", err.Error())
	case errors.Is(err, ErrOverpaymentRejected):
		httpx.Problem(w, http.StatusConflict, "overpayment_rejected", "Conflict", err.Error())
	case errors.Is(err, ErrNotPayable):
		httpx.Problem(w, http.StatusConflict, "not_payable", "Conflict", err.Error())
	case errors.Is(err, ErrConcurrentApplication):
		httpx.Problem(w, http.StatusConflict, "concurrent_payment", "Conflict", err.Error())
	case errors.As(err, &invalid):
		httpx.Problem(w, http.StatusUnprocessableEntity, "validation", "Unprocessable Entity", invalid.Error())
	default:
		h.logger.Error("payment request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "internal", "Internal Server Error", "")
	}
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
