package secrets

import (
	"encoding/json"
	"net"
	"net/http"
	"net/netip"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gsmlg-dev/secrethub/internal/apperror"
	"github.com/gsmlg-dev/secrethub/internal/httpserver"
)

// Handler exposes the secrets manager over HTTP: create, read,
// policy-gated read, update, rollback, pruning, version comparison,
// listing, and stats, mirroring the audit/policy packages' thin-handler
// style.
type Handler struct {
	manager *Manager
}

// NewHandler builds a secrets Handler over manager.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// Routes returns a chi.Router with every secret endpoint mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/stats", h.handleStats)
	r.Get("/{id}", h.handleGet)
	r.Put("/{id}", h.handleUpdate)
	r.Delete("/{id}", h.handleDelete)
	r.Post("/{id}/rollback", h.handleRollback)
	r.Post("/{id}/prune", h.handlePrune)
	r.Get("/{id}/versions", h.handleListVersions)
	r.Get("/{id}/compare", h.handleCompareVersions)
	r.Post("/read", h.handleReadForEntity)
	return r
}

type createSecretRequest struct {
	Path        string          `json:"path" validate:"required"`
	Data        json.RawMessage `json:"data" validate:"required"`
	Metadata    json.RawMessage `json:"metadata"`
	Author      string          `json:"author"`
	Description string          `json:"description"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createSecretRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	s, err := h.manager.Create(r.Context(), CreateAttrs{
		Path: req.Path, Data: req.Data, Metadata: req.Metadata,
		Author: req.Author, Description: req.Description,
	})
	if err != nil {
		respondManagerError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusCreated, s)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := parseSecretID(w, r)
	if !ok {
		return
	}
	s, err := h.manager.Get(r.Context(), id)
	if err != nil {
		respondManagerError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, s)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	items, err := h.manager.List(r.Context(), params.PageSize, params.Offset)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list secrets")
		return
	}
	total, err := h.manager.StatsOf(r.Context())
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to count secrets")
		return
	}
	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(items, params, int(total.TotalSecrets)))
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.manager.StatsOf(r.Context())
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to compute stats")
		return
	}
	httpserver.Respond(w, http.StatusOK, stats)
}

type updateSecretRequest struct {
	Data        json.RawMessage `json:"data" validate:"required"`
	Metadata    json.RawMessage `json:"metadata"`
	Author      string          `json:"author"`
	Description string          `json:"description"`
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseSecretID(w, r)
	if !ok {
		return
	}
	var req updateSecretRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	s, err := h.manager.Update(r.Context(), id, UpdateAttrs{
		Data: req.Data, Metadata: req.Metadata, Author: req.Author, Description: req.Description,
	})
	if err != nil {
		respondManagerError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, s)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseSecretID(w, r)
	if !ok {
		return
	}
	if err := h.manager.Delete(r.Context(), id); err != nil {
		respondManagerError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}

type rollbackRequest struct {
	TargetVersion int `json:"target_version" validate:"required,min=1"`
}

func (h *Handler) handleRollback(w http.ResponseWriter, r *http.Request) {
	id, ok := parseSecretID(w, r)
	if !ok {
		return
	}
	var req rollbackRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	s, err := h.manager.Rollback(r.Context(), id, req.TargetVersion)
	if err != nil {
		respondManagerError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, s)
}

type pruneRequest struct {
	Keep     int `json:"keep" validate:"min=0"`
	KeepDays int `json:"keep_days" validate:"min=0"`
}

func (h *Handler) handlePrune(w http.ResponseWriter, r *http.Request) {
	id, ok := parseSecretID(w, r)
	if !ok {
		return
	}
	var req pruneRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	n, err := h.manager.PruneVersions(r.Context(), id, req.Keep, req.KeepDays)
	if err != nil {
		respondManagerError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]int64{"pruned": n})
}

func (h *Handler) handleListVersions(w http.ResponseWriter, r *http.Request) {
	id, ok := parseSecretID(w, r)
	if !ok {
		return
	}
	versions, err := h.manager.ListVersions(r.Context(), id)
	if err != nil {
		respondManagerError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, versions)
}

func (h *Handler) handleCompareVersions(w http.ResponseWriter, r *http.Request) {
	id, ok := parseSecretID(w, r)
	if !ok {
		return
	}
	a, err := strconv.Atoi(r.URL.Query().Get("a"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "query param 'a' must be an integer version")
		return
	}
	b, err := strconv.Atoi(r.URL.Query().Get("b"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "query param 'b' must be an integer version")
		return
	}
	diff, err := h.manager.CompareVersions(r.Context(), id, a, b)
	if err != nil {
		respondManagerError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, diff)
}

type readForEntityRequest struct {
	EntityType string `json:"entity_type" validate:"required"`
	EntityID   string `json:"entity_id" validate:"required"`
	Path       string `json:"path" validate:"required"`
}

func (h *Handler) handleReadForEntity(w http.ResponseWriter, r *http.Request) {
	var req readForEntityRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	reqIP, _ := netip.ParseAddr(clientHost(r))
	data, s, err := h.manager.ReadForEntity(r.Context(), req.EntityType, req.EntityID, req.Path, reqIP)
	if err != nil {
		respondManagerError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"data":    data,
		"version": s.CurrentVersion,
	})
}

func parseSecretID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid secret id")
		return uuid.UUID{}, false
	}
	return id, true
}

func clientHost(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func respondManagerError(w http.ResponseWriter, err error) {
	if kind, ok := apperror.KindOf(err); ok {
		httpserver.RespondAppError(w, string(kind), err.Error())
		return
	}
	httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", err.Error())
}
