package documents

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ledgerline-erp/ledgerline/internal/platform/httpx"
	"github.com/ledgerline-erp/ledgerline/internal/sequence"
	"github.com/ledgerline-erp/ledgerline/internal/shared"
)

// Handler manages document endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	sequences *sequence.Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sequences *sequence.Service) *Handler {
	return &Handler{logger: logger, service: service, sequences: sequences}
}

// MountRoutes registers document routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/next-number", h.peekNumber)
	r.Post("/bulk/status", h.bulkStatus)
	r.Post("/bulk/delete", h.bulkDelete)
	r.Get("/{id}", h.get)
	r.Patch("/{id}", h.update)
	r.Delete("/{id}", h.delete)
	r.Post("/{id}/transition", h.transition)
	r.Post("/{id}/convert", h.convert)
}

type listResponse struct {
	Documents []Document `json:"documents"`
	Total     int        `json:"total"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		Type:   q.Get("type"),
		Status: q.Get("status"),
	}
	filter.ClientID, _ = strconv.ParseInt(q.Get("client_id"), 10, 64)
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))

	docs, total, err := h.service.List(r.Context(), filter, shared.NewPageRequest(page, size))
	if err != nil {
		h.logger.Error("list documents", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "internal", "Internal Server Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse{Documents: docs, Total: total})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateDocumentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "bad_request", "Bad Request", "malformed JSON body")
		return
	}

	doc, err := h.service.Create(r.Context(), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

// peekNumber previews the next number for a type without claiming it.
func (h *Handler) peekNumber(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("type")
	year, _ := strconv.Atoi(r.URL.Query().Get("year"))

	number, err := h.sequences.Peek(r.Context(), kind, year)
	if err != nil {
		if errors.Is(err, sequence.ErrUnknownKind) {
			httpx.Problem(w, http.StatusBadRequest, "bad_request", "Bad Request", err.Error())
			return
		}
		h.logger.Error("peek number", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "internal", "Internal Server Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"nextNumber": number})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "bad_request", "Bad Request", "invalid document id")
		return
	}

	doc, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "bad_request", "Bad Request", "invalid document id")
		return
	}

	var req UpdateDocumentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "bad_request", "Bad Request", "malformed JSON body")
		return
	}

	doc, err := h.service.Update(r.Context(), id, req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "bad_request", "Bad Request", "invalid document id")
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "bad_request", "Bad Request", "invalid document id")
		return
	}

	var req TransitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "bad_request", "Bad Request", "malformed JSON body")
		return
	}

	doc, err := h.service.Transition(r.Context(), id, req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) convert(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "bad_request", "Bad Request", "invalid document id")
		return
	}

	var req ConvertRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "bad_request", "Bad Request", "malformed JSON body")
		return
	}

	doc, err := h.service.Convert(r.Context(), id, req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

type bulkResponse struct {
	Affected int `json:"affected"`
}

func (h *Handler) bulkStatus(w http.ResponseWriter, r *http.Request) {
	var req BulkStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "bad_request", "Bad Request", "malformed JSON body")
		return
	}

	affected, err := h.service.BulkSetStatus(r.Context(), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bulkResponse{Affected: affected})
}

func (h *Handler) bulkDelete(w http.ResponseWriter, r *http.Request) {
	var req BulkDeleteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "bad_request", "Bad Request", "malformed JSON body")
		return
	}

	affected, err := h.service.BulkDelete(r.Context(), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bulkResponse{Affected: affected})
}

// bulkRejectionBody extends the problem shape with the blocking numbers so
// clients read them as data instead of parsing the detail sentence.
type bulkRejectionBody struct {
	httpx.ProblemDetail
	Rejected []string `json:"rejected"`
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var invalid validator.ValidationErrors
	var rejection *BulkRejectionError
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "not_found", "Not Found", err.Error())
	case errors.As(err, &rejection):
		httpx.JSON(w, http.StatusConflict, bulkRejectionBody{
			ProblemDetail: httpx.ProblemDetail{
				Code:   "immutable_document",
				Title:  "Conflict",
				Status: http.StatusConflict,
				Detail: rejection.Error(),
			},
			Rejected: rejection.Numbers,
		})
	case errors.Is(err, ErrIllegalTransition):
		httpx.Problem(w, http.StatusConflict, "illegal_transition", "Conflict", err.Error())
	case errors.Is(err, ErrImmutableDocument):
		httpx.Problem(w, http.StatusConflict, "immutable_document", "Conflict", err.Error())
	case errors.Is(err, ErrAlreadyConverted):
		httpx.Problem(w, http.StatusConflict, "already_converted", "Conflict", err.Error())
	case errors.Is(err, ErrInvalidConversionPath):
		httpx.Problem(w, http.StatusUnprocessableEntity, "invalid_conversion_path", "Unprocessable Entity", err.Error())
	case errors.Is(err, ErrCancellationReason):
		httpx.Problem(w, http.StatusUnprocessableEntity, "cancellation_reason_required", "Unprocessable Entity", err.Error())
	case errors.Is(err, sequence.ErrContention):
		httpx.Problem(w, http.StatusServiceUnavailable, "sequence_contention", "Service Unavailable", err.Error())
	case errors.As(err, &invalid):
		httpx.Problem(w, http.StatusUnprocessableEntity, "validation", "Unprocessable Entity", invalid.Error())
	default:
		h.logger.Error("document request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "internal", "Internal Server Error", "")
	}
}
