package audit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gsmlg-dev/secrethub/internal/httpserver"
	"github.com/gsmlg-dev/secrethub/internal/store"
)

// Handler exposes the audit chain over HTTP: search, verify, and export.
type Handler struct {
	writer *Writer
}

// NewHandler creates an audit Handler over writer.
func NewHandler(writer *Writer) *Handler {
	return &Handler{writer: writer}
}

// Routes returns a chi.Router with the audit endpoints mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleSearch)
	r.Get("/verify", h.handleVerify)
	r.Get("/export", h.handleExport)
	return r
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	params, err := parseSearchParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	events, err := h.writer.Search(r.Context(), params)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to search audit log")
		return
	}
	httpserver.Respond(w, http.StatusOK, events)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	result, err := h.writer.VerifyChain(r.Context())
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to verify audit chain")
		return
	}
	httpserver.Respond(w, http.StatusOK, result)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	var fromSeq int64
	if v := r.URL.Query().Get("from_seq"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "from_seq must be an integer")
			return
		}
		fromSeq = n
	}

	csvBytes, err := h.writer.Export(r.Context(), fromSeq)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to export audit log")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-export.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(csvBytes)
}

func parseSearchParams(r *http.Request) (store.AuditSearchParams, error) {
	q := r.URL.Query()
	p := store.AuditSearchParams{
		ActorType: q.Get("actor_type"),
		ActorID:   q.Get("actor_id"),
		Action:    q.Get("action"),
		Limit:     100,
	}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return store.AuditSearchParams{}, err
		}
		p.Since = &t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return store.AuditSearchParams{}, err
		}
		p.Until = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return store.AuditSearchParams{}, err
		}
		p.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return store.AuditSearchParams{}, err
		}
		p.Offset = n
	}
	return p, nil
}
